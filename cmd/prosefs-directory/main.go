package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"os"
	"os/signal"
	"strconv"
	"syscall"

	"github.com/prosefs/prosefs/internal/logger"
	"github.com/prosefs/prosefs/pkg/config"
	"github.com/prosefs/prosefs/pkg/directory"
)

func usage() {
	fmt.Fprintf(os.Stderr, "Usage: %s [flags] <ip> <port>\n", os.Args[0])
	flag.PrintDefaults()
	os.Exit(2)
}

func main() {
	configPath := flag.String("config", "", "Path to config file (default: ~/.config/prosefs/config.yaml)")
	logLevel := flag.String("log-level", "", "Log level (DEBUG, INFO, WARN, ERROR); overrides config")
	enableExec := flag.Bool("enable-exec", false, "Enable the EXEC operation (runs file content as local commands)")
	flag.Usage = usage
	flag.Parse()

	if flag.NArg() != 2 {
		usage()
	}
	ip := flag.Arg(0)
	port, err := strconv.Atoi(flag.Arg(1))
	if err != nil {
		log.Fatalf("Invalid port %q: %v", flag.Arg(1), err)
	}
	if err := config.ValidatePort(port); err != nil {
		log.Fatalf("Invalid port: %v", err)
	}

	cfg, err := config.Load(*configPath)
	if err != nil {
		log.Fatalf("Failed to load config: %v", err)
	}

	level := cfg.Logging.Level
	if *logLevel != "" {
		level = *logLevel
	}
	logger.SetLevel(level)
	setLogOutput(cfg.Logging.Output)

	execCfg, err := cfg.ExecRunner()
	if err != nil {
		log.Fatalf("Invalid exec config: %v", err)
	}

	fmt.Println("ProseFS Directory")
	logger.Info("Log level set to: %s", level)

	srvCfg := directory.Config{
		Port:             port,
		CacheCapacity:    cfg.Directory.CacheCapacity,
		RegistryCapacity: cfg.Directory.RegistryCapacity,
		EnableExec:       execCfg.Enabled || *enableExec,
		ExecTimeout:      execCfg.Timeout(),
	}
	if srvCfg.EnableExec {
		logger.Warn("Remote execution is ENABLED; file content can run as local commands")
	}

	srv := directory.New(srvCfg)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	serverDone := make(chan error, 1)
	go func() {
		serverDone <- srv.Serve(ctx)
	}()

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)

	logger.Info("Directory is running on %s:%d. Press Ctrl+C to stop.", ip, port)

	select {
	case <-sigChan:
		logger.Info("Shutdown signal received, initiating graceful shutdown...")
		cancel()
		if err := <-serverDone; err != nil {
			logger.Error("Server shutdown error: %v", err)
			os.Exit(1)
		}
		logger.Info("Directory stopped gracefully")

	case err := <-serverDone:
		if err != nil {
			logger.Error("Server error: %v", err)
			os.Exit(1)
		}
		logger.Info("Directory stopped")
	}
}

// setLogOutput routes logs per the config: stdout (default), stderr, or a
// file path opened in append mode.
func setLogOutput(output string) {
	switch output {
	case "", "stdout":
	case "stderr":
		logger.SetOutput(os.Stderr)
	default:
		f, err := os.OpenFile(output, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
		if err != nil {
			log.Fatalf("Failed to open log output %s: %v", output, err)
		}
		logger.SetOutput(f)
	}
}
