package main

import (
	"fmt"
	"io"
	"os"
)

// Version is set at build time via -ldflags.
// Example: go build -ldflags="-X main.Version=v0.3.0" ./cmd/pulsehub
var Version = "dev"

const usage = `pulsehub - relay hub between a sensor device and browser dashboards

Usage:
  pulsehub <command> [options]

Commands:
  serve          Start the hub (device ingest, dashboards, liveness)
  status         Show status of a running hub (local only)
  hash-password  Print a bcrypt hash for password_hash
  init           Write a default config file
  version        Print the version

Run 'pulsehub <command> --help' for more information on a command.
`

func main() {
	os.Exit(run(os.Args, os.Stdout, os.Stderr))
}

func run(args []string, stdout, stderr io.Writer) int {
	if len(args) < 2 {
		fmt.Fprint(stdout, usage)
		return 0
	}

	switch args[1] {
	case "serve":
		return runServe(args[2:], stdout, stderr)
	case "status":
		return runStatus(args[2:], stdout, stderr)
	case "hash-password":
		return runHashPassword(args[2:], os.Stdin, stdout, stderr)
	case "init":
		return runInit(args[2:], stdout, stderr)
	case "--help", "-h", "help":
		fmt.Fprint(stdout, usage)
		return 0
	case "--version", "-v", "version":
		fmt.Fprintf(stdout, "pulsehub %s\n", Version)
		return 0
	default:
		fmt.Fprintf(stdout, "Unknown command: %s\n", args[1])
		fmt.Fprint(stdout, usage)
		return 1
	}
}
