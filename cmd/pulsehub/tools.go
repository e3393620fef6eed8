package main

import (
	"bufio"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/spf13/pflag"

	"github.com/pulsehub/hub/internal/auth"
	"github.com/pulsehub/hub/internal/config"
)

// runHashPassword implements "pulsehub hash-password [secret]". Without an
// argument the secret is read from the first line of stdin, which keeps it
// out of shell history.
func runHashPassword(args []string, stdin io.Reader, stdout, stderr io.Writer) int {
	fs := pflag.NewFlagSet("hash-password", pflag.ContinueOnError)
	fs.SetOutput(stderr)
	fs.Usage = func() {
		fmt.Fprintf(stderr, "Usage: pulsehub hash-password [secret]\n\nPrints a bcrypt hash for the password_hash config key.\nReads the secret from stdin when no argument is given.\n")
	}
	if err := fs.Parse(args); err != nil {
		if err == pflag.ErrHelp {
			return 0
		}
		return 1
	}

	var secret string
	if fs.NArg() > 0 {
		secret = fs.Arg(0)
	} else {
		line, err := bufio.NewReader(stdin).ReadString('\n')
		if err != nil && err != io.EOF {
			fmt.Fprintf(stderr, "Error: failed to read secret: %v\n", err)
			return 1
		}
		secret = strings.TrimRight(line, "\r\n")
	}
	if secret == "" {
		fmt.Fprintln(stderr, "Error: secret must not be empty")
		return 1
	}

	hash, err := auth.HashSecret(secret)
	if err != nil {
		fmt.Fprintf(stderr, "Error: %v\n", err)
		return 1
	}
	fmt.Fprintln(stdout, hash)
	return 0
}

// runInit implements "pulsehub init": write the default config if missing.
func runInit(args []string, stdout, stderr io.Writer) int {
	fs := pflag.NewFlagSet("init", pflag.ContinueOnError)
	fs.SetOutput(stderr)
	path := fs.StringP("config", "c", "", "Where to write the config (default: ~/.pulsehub/config.toml)")
	fs.Usage = func() {
		fmt.Fprintf(stderr, "Usage: pulsehub init [options]\n\nOptions:\n")
		fs.PrintDefaults()
	}
	if err := fs.Parse(args); err != nil {
		if err == pflag.ErrHelp {
			return 0
		}
		return 1
	}

	target := *path
	if target == "" {
		var err error
		target, err = config.DefaultConfigPath()
		if err != nil {
			fmt.Fprintf(stderr, "Error: failed to determine config path: %v\n", err)
			return 1
		}
	}

	if _, err := os.Stat(target); err == nil {
		fmt.Fprintf(stdout, "Config already exists: %s\n", target)
		return 0
	}
	if err := config.WriteDefault(target); err != nil {
		fmt.Fprintf(stderr, "Error: %v\n", err)
		return 1
	}
	fmt.Fprintf(stdout, "Created config: %s\n", target)
	return 0
}
