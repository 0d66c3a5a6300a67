// Package main is the entry point for the voxwire server CLI.
//
// Usage:
//
//	voxwire [flags] <command>
//
// Commands:
//
//	serve      - Run the voice conversation server
//	check      - Validate configuration and probe dependencies
//	version    - Show version information
package main

import (
	"fmt"
	"os"

	"github.com/voxwire/voxwire/cmd/voxwire/commands"
)

func main() {
	if err := commands.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}
