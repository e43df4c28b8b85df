package main

import (
	"context"
	"flag"
	"fmt"
	"io"
	"log"
	"net"
	"os"
	"os/signal"
	"path/filepath"
	"strconv"
	"syscall"

	"github.com/prosefs/prosefs/internal/logger"
	"github.com/prosefs/prosefs/pkg/config"
	"github.com/prosefs/prosefs/pkg/node"
	"github.com/prosefs/prosefs/pkg/node/store"
	"github.com/prosefs/prosefs/pkg/wire"
)

func usage() {
	fmt.Fprintf(os.Stderr, "Usage: %s [flags] <node_ip> <node_port> <dir_ip> <dir_port>\n", os.Args[0])
	flag.PrintDefaults()
	os.Exit(2)
}

func parsePort(arg string) int {
	port, err := strconv.Atoi(arg)
	if err != nil {
		log.Fatalf("Invalid port %q: %v", arg, err)
	}
	if err := config.ValidatePort(port); err != nil {
		log.Fatalf("Invalid port: %v", err)
	}
	return port
}

func main() {
	configPath := flag.String("config", "", "Path to config file (default: ~/.config/prosefs/config.yaml)")
	logLevel := flag.String("log-level", "", "Log level (DEBUG, INFO, WARN, ERROR); overrides config")
	dataDir := flag.String("data-dir", "", "Root directory for node storage; overrides config")
	flag.Usage = usage
	flag.Parse()

	if flag.NArg() != 4 {
		usage()
	}
	nodeIP := flag.Arg(0)
	nodePort := parsePort(flag.Arg(1))
	dirAddr := net.JoinHostPort(flag.Arg(2), flag.Arg(3))
	parsePort(flag.Arg(3))

	cfg, err := config.Load(*configPath)
	if err != nil {
		log.Fatalf("Failed to load config: %v", err)
	}

	level := cfg.Logging.Level
	if *logLevel != "" {
		level = *logLevel
	}
	logger.SetLevel(level)

	root := cfg.Node.DataDir
	if *dataDir != "" {
		root = *dataDir
	}

	st, err := store.Open(root, nodePort)
	if err != nil {
		log.Fatalf("Failed to open store: %v", err)
	}

	// Tee logs into the node's own log directory alongside stdout.
	logFile, err := os.OpenFile(filepath.Join(st.LogDir(), "node.log"),
		os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
	if err != nil {
		log.Fatalf("Failed to open log file: %v", err)
	}
	defer logFile.Close()
	logger.SetOutput(io.MultiWriter(os.Stdout, logFile))

	fmt.Println("ProseFS Storage Node")
	logger.Info("Log level set to: %s", level)
	logger.Info("Storage directory: %s", st.BaseDir())

	n := node.New(node.Config{
		Addr:        wire.NodeAddr{IP: nodeIP, Port: int32(nodePort)},
		StreamDelay: cfg.Node.StreamDelay,
		DialTimeout: cfg.Node.DialTimeout,
	}, st)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	serverDone := make(chan error, 1)
	go func() {
		serverDone <- n.Serve(ctx)
	}()

	if err := n.RegisterWithDirectory(ctx, dirAddr); err != nil {
		logger.Error("Registration with directory %s failed: %v", dirAddr, err)
		os.Exit(1)
	}
	logger.Info("Registered with directory at %s", dirAddr)

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)

	logger.Info("Node is running on %s:%d. Press Ctrl+C to stop.", nodeIP, nodePort)

	select {
	case <-sigChan:
		logger.Info("Shutdown signal received, initiating graceful shutdown...")
		cancel()
		if err := <-serverDone; err != nil {
			logger.Error("Server shutdown error: %v", err)
			os.Exit(1)
		}
		logger.Info("Node stopped gracefully")

	case err := <-serverDone:
		if err != nil {
			logger.Error("Server error: %v", err)
			os.Exit(1)
		}
		logger.Info("Node stopped")
	}
}
