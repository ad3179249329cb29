// Package main is the entry point for the globalfifo CLI.
//
// Usage:
//
//	globalfifo [flags] <command> [args]
//
// Commands:
//
//	serve      - Run the daemon
//	read       - Read from a device
//	write      - Write to a device
//	clear      - Discard a device's contents
//	stat       - Show device counters
//	poll       - Wait for readiness on one or more devices
//	watch      - Receive async notifications
//	script     - Run a scripted sequence of device operations
//	config     - Configuration management (contexts, services)
//	version    - Show version information
package main

import (
	"os"

	"github.com/haivivi/globalfifo/cmd/globalfifo/commands"
	"github.com/haivivi/globalfifo/pkg/cli"
)

func main() {
	if err := commands.Execute(); err != nil {
		cli.PrintError("%v", err)
		os.Exit(1)
	}
}
