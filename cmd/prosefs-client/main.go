package main

import (
	"bufio"
	"flag"
	"fmt"
	"log"
	"net"
	"os"
	"strconv"
	"strings"

	"github.com/prosefs/prosefs/internal/logger"
	"github.com/prosefs/prosefs/pkg/client"
	"github.com/prosefs/prosefs/pkg/config"
)

func usage() {
	fmt.Fprintf(os.Stderr, "Usage: %s [flags] <dir_ip> <dir_port>\n", os.Args[0])
	flag.PrintDefaults()
	os.Exit(2)
}

func main() {
	configPath := flag.String("config", "", "Path to config file (default: ~/.config/prosefs/config.yaml)")
	logLevel := flag.String("log-level", "WARN", "Log level (DEBUG, INFO, WARN, ERROR)")
	identity := flag.String("identity", "", "User identity (prompted for if empty)")
	flag.Usage = usage
	flag.Parse()

	if flag.NArg() != 2 {
		usage()
	}
	dirIP := flag.Arg(0)
	dirPort, err := strconv.Atoi(flag.Arg(1))
	if err != nil {
		log.Fatalf("Invalid port %q: %v", flag.Arg(1), err)
	}
	if err := config.ValidatePort(dirPort); err != nil {
		log.Fatalf("Invalid port: %v", err)
	}

	cfg, err := config.Load(*configPath)
	if err != nil {
		log.Fatalf("Failed to load config: %v", err)
	}

	// The interactive prompt shares stdout with the logger; keep logging
	// quiet unless asked otherwise.
	logger.SetLevel(*logLevel)

	// Read the identity before the client takes over stdin.
	stdin := bufio.NewReader(os.Stdin)
	who := *identity
	for who == "" {
		fmt.Print("Identity: ")
		line, err := stdin.ReadString('\n')
		if err != nil {
			log.Fatalf("Failed to read identity: %v", err)
		}
		who = strings.TrimSpace(line)
	}

	c := client.New(client.Config{
		DirectoryAddr: net.JoinHostPort(dirIP, flag.Arg(1)),
		Identity:      who,
		DialTimeout:   cfg.Client.DialTimeout,
	}, stdin, os.Stdout)

	if err := c.Connect(); err != nil {
		log.Fatalf("Failed to connect: %v", err)
	}
	defer c.Close()

	fmt.Printf("Connected to ProseFS directory at %s:%d as '%s'.\n", dirIP, dirPort, who)
	fmt.Println("Type HELP for a command list, EXIT to quit.")

	if err := c.Run(); err != nil {
		logger.Error("Session error: %v", err)
		os.Exit(1)
	}
}
