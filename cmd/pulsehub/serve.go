package main

import (
	"fmt"
	"io"
	"log"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"

	"github.com/spf13/pflag"

	"github.com/pulsehub/hub/internal/config"
	apperrors "github.com/pulsehub/hub/internal/errors"
)

// serveFlags holds the raw command-line values for "pulsehub serve".
// Only flags the user actually set override the file and environment.
type serveFlags struct {
	config         string
	addr           string
	port           int
	password       string
	commandMode    string
	mergePolicy    string
	channels       []string
	historyLines   int
	staticDir      string
	allowedOrigins []string
	tlsCert        string
	tlsKey         string
	tlsSelfSigned  bool
	metricsDB      string
	natsURL        string
	mdns           bool
	qr             bool
	logFile        string
}

func newServeFlagSet(stderr io.Writer) (*pflag.FlagSet, *serveFlags) {
	fs := pflag.NewFlagSet("serve", pflag.ContinueOnError)
	fs.SetOutput(stderr)

	f := &serveFlags{}
	fs.StringVarP(&f.config, "config", "c", "", "Path to config file (default: $HUB_CONFIG or ~/.pulsehub/config.toml)")
	fs.StringVar(&f.addr, "addr", "", "Interface to listen on (default: all)")
	fs.IntVarP(&f.port, "port", "p", 0, "Port to listen on (default: $PORT or 3000)")
	fs.StringVar(&f.password, "password", "", "Shared secret for dashboard control actions (default: $HUB_PASSWORD)")
	fs.StringVar(&f.commandMode, "command-mode", "", "Device response shape: pulse or relay (default: pulse)")
	fs.StringVar(&f.mergePolicy, "merge-policy", "", "Check-in merge policy: replace or merge (default: replace)")
	fs.StringSliceVar(&f.channels, "channels", nil, "Sensor channels known at startup (default: temperature,humidity)")
	fs.IntVar(&f.historyLines, "history-lines", 0, "Device log lines replayed to new dashboards (default: 50, negative disables)")
	fs.StringVar(&f.staticDir, "static-dir", "", "Directory of dashboard assets served at /")
	fs.StringSliceVar(&f.allowedOrigins, "allowed-origin", nil, "Allowed dashboard Origin (repeatable; default: any)")
	fs.StringVar(&f.tlsCert, "tls-cert", "", "TLS certificate file")
	fs.StringVar(&f.tlsKey, "tls-key", "", "TLS key file")
	fs.BoolVar(&f.tlsSelfSigned, "tls-self-signed", false, "Serve HTTPS with a generated self-signed certificate")
	fs.StringVar(&f.metricsDB, "metrics-db", "", "SQLite metrics path, or \"off\" (default: :memory:)")
	fs.StringVar(&f.natsURL, "nats-url", "", "Mirror device events to this NATS server (default: $HUB_NATS_URL)")
	fs.BoolVar(&f.mdns, "mdns", false, "Advertise the hub via mDNS/Bonjour")
	fs.BoolVar(&f.qr, "qr", false, "Print the dashboard URL as a QR code")
	fs.StringVar(&f.logFile, "log-file", "", "Write logs to this file instead of stderr")

	fs.Usage = func() {
		fmt.Fprintf(stderr, "Usage: pulsehub serve [options]\n\nOptions:\n")
		fs.PrintDefaults()
	}
	return fs, f
}

// resolveConfig merges built-in defaults, the config file, the environment
// and explicitly set flags, in increasing precedence.
func resolveConfig(fs *pflag.FlagSet, f *serveFlags, lookup func(string) (string, bool)) (*config.Config, error) {
	path := f.config
	if path == "" {
		if v, ok := lookup(config.EnvConfig); ok {
			path = v
		}
	}

	cfg, err := config.Load(path)
	if err != nil {
		return nil, err
	}
	if err := cfg.ApplyEnv(lookup); err != nil {
		return nil, err
	}

	if fs.Changed("addr") {
		cfg.Addr = f.addr
	}
	if fs.Changed("port") {
		cfg.Port = f.port
	}
	if fs.Changed("password") {
		cfg.Password = f.password
		// An explicit password replaces any hash from the file or env.
		cfg.PasswordHash = ""
	}
	if fs.Changed("command-mode") {
		cfg.CommandMode = f.commandMode
	}
	if fs.Changed("merge-policy") {
		cfg.MergePolicy = f.mergePolicy
	}
	if fs.Changed("channels") {
		cfg.Channels = f.channels
	}
	if fs.Changed("history-lines") {
		cfg.LogHistoryLines = f.historyLines
	}
	if fs.Changed("static-dir") {
		cfg.StaticDir = f.staticDir
	}
	if fs.Changed("allowed-origin") {
		cfg.AllowedOrigins = f.allowedOrigins
	}
	if fs.Changed("tls-cert") {
		cfg.TLSCert = f.tlsCert
	}
	if fs.Changed("tls-key") {
		cfg.TLSKey = f.tlsKey
	}
	if fs.Changed("tls-self-signed") {
		cfg.TLSSelfSigned = f.tlsSelfSigned
	}
	if fs.Changed("metrics-db") {
		cfg.MetricsDB = f.metricsDB
	}
	if fs.Changed("nats-url") {
		cfg.NATSURL = f.natsURL
	}
	if fs.Changed("mdns") {
		cfg.MdnsEnabled = f.mdns
	}
	if fs.Changed("log-file") {
		cfg.LogFile = f.logFile
	}

	cfg.ApplyDefaults()
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// runServe implements "pulsehub serve".
func runServe(args []string, stdout, stderr io.Writer) int {
	fs, f := newServeFlagSet(stderr)
	if err := fs.Parse(args); err != nil {
		if err == pflag.ErrHelp {
			return 0
		}
		return 1
	}

	cfg, err := resolveConfig(fs, f, os.LookupEnv)
	if err != nil {
		reportServeError(stderr, err)
		return 1
	}

	if cfg.LogFile != "" {
		logFile, err := openLogFile(cfg.LogFile)
		if err != nil {
			fmt.Fprintf(stderr, "Error: %v\n", err)
			return 1
		}
		defer logFile.Close()
		log.SetOutput(logFile)
		defer log.SetOutput(os.Stderr)
	}

	h, err := newHub(cfg, Version)
	if err != nil {
		reportServeError(stderr, err)
		return 1
	}
	if err := h.start(); err != nil {
		h.stop()
		reportServeError(stderr, err)
		return 1
	}

	writeBanner(stdout, cfg, h.server.Addr(), h.fingerprint)
	if f.qr {
		printDashboardQR(stdout, dashboardURL(cfg, h.server.Addr()))
	}

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	sig := <-sigCh
	fmt.Fprintf(stdout, "\nReceived signal %v, stopping...\n", sig)

	h.stop()
	return 0
}

// reportServeError prints err and, for failures an operator can fix, what to
// try next.
func reportServeError(w io.Writer, err error) {
	fmt.Fprintf(w, "Error: %v\n", err)
	if hint := serveErrorHint(err); hint != "" {
		fmt.Fprintf(w, "Hint: %s\n", hint)
	}
}

func serveErrorHint(err error) string {
	switch apperrors.GetCode(err) {
	case apperrors.CodeConfigNotFound:
		return "run 'pulsehub init' to create a config file, or drop --config"
	case apperrors.CodeConfigParse, apperrors.CodeConfigInvalid:
		return "fix the config file or the flag named above"
	case apperrors.CodeServerListenFailed:
		return "is another hub already running? pick a different --port"
	case apperrors.CodeStorageOpenFailed:
		return "check metrics_db, or pass --metrics-db off"
	case apperrors.CodeMirrorConnect:
		return "check --nats-url, or unset HUB_NATS_URL to run without the mirror"
	}
	return ""
}

// writeBanner prints where devices and dashboards should connect.
func writeBanner(w io.Writer, cfg *config.Config, addr, fingerprint string) {
	scheme := "http"
	if cfg.TLSEnabled() {
		scheme = "https"
	}
	auth := "disabled"
	if cfg.AccessControlEnabled() {
		auth = "required for control actions"
	}

	fmt.Fprintln(w, "")
	fmt.Fprintln(w, "===========================================")
	fmt.Fprintln(w, "  pulsehub")
	fmt.Fprintln(w, "===========================================")
	fmt.Fprintf(w, "  Listening:  %s\n", addr)
	fmt.Fprintf(w, "  Device:     POST %s://%s/data\n", scheme, addr)
	fmt.Fprintf(w, "  Dashboard:  %s\n", dashboardURL(cfg, addr))
	fmt.Fprintf(w, "  Mode:       %s\n", cfg.CommandMode)
	fmt.Fprintf(w, "  Login:      %s\n", auth)
	if fingerprint != "" {
		fmt.Fprintf(w, "  Cert SHA256: %s\n", fingerprint)
	}
	fmt.Fprintln(w, "===========================================")
	fmt.Fprintln(w, "")
}

// openLogFile opens path for appending, creating its directory.
func openLogFile(path string) (*os.File, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return nil, fmt.Errorf("failed to create log directory: %w", err)
	}
	f, err := os.OpenFile(path, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0644)
	if err != nil {
		return nil, fmt.Errorf("failed to open log file: %w", err)
	}
	return f, nil
}
