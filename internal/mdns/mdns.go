// Package mdns advertises the hub on the local network so devices and
// dashboards can find it without a fixed IP.
//
// The advertisement uses service type _pulsehub._tcp with TXT records for
// the protocol version, the hub name, the device ingest path and the
// command mode. Advertisement is opt-in.
package mdns

import (
	"context"
	"fmt"
	"log"
	"os"
	"strings"
	"sync"

	"github.com/grandcat/zeroconf"
)

// ServiceType is the DNS-SD service type for hubs.
const ServiceType = "_pulsehub._tcp"

// ProtocolVersion identifies the device protocol for compatibility checks.
const ProtocolVersion = "1"

// DefaultPath is the device ingest path advertised when Config.Path is empty.
const DefaultPath = "/data"

const fallbackName = "pulsehub"

// Config holds configuration for mDNS advertisement.
type Config struct {
	// Port is the hub HTTP port (e.g., 3000).
	Port int

	// Name is the instance name. Defaults to the system hostname.
	Name string

	// Path is the device check-in path. Defaults to DefaultPath.
	Path string

	// CommandMode is "pulse" or "relay"; omitted from TXT when empty.
	CommandMode string

	// TLS reports whether devices must post over HTTPS.
	TLS bool
}

// Advertiser manages the DNS-SD registration.
type Advertiser struct {
	config Config
	server *zeroconf.Server
	mu     sync.Mutex
}

// NewAdvertiser creates a new mDNS advertiser with the given configuration.
func NewAdvertiser(cfg Config) *Advertiser {
	if cfg.Path == "" {
		cfg.Path = DefaultPath
	}
	return &Advertiser{config: cfg}
}

// instanceName returns the configured name or the hostname.
func (a *Advertiser) instanceName() string {
	if a.config.Name != "" {
		return a.config.Name
	}
	hostname, err := os.Hostname()
	if err != nil || hostname == "" {
		return fallbackName
	}
	return hostname
}

// TXTRecords returns the records published with the service.
// DNS TXT strings are limited to 255 bytes; all of these are short.
func (a *Advertiser) TXTRecords() []string {
	records := []string{
		"version=" + ProtocolVersion,
		"name=" + a.instanceName(),
		"path=" + a.config.Path,
	}
	if a.config.CommandMode != "" {
		records = append(records, "mode="+a.config.CommandMode)
	}
	if a.config.TLS {
		records = append(records, "tls=1")
	}
	return records
}

// Start registers the service. Calling Start on a running advertiser is a
// no-op.
func (a *Advertiser) Start() error {
	a.mu.Lock()
	defer a.mu.Unlock()

	if a.server != nil {
		return nil
	}

	name := a.instanceName()
	server, err := zeroconf.Register(
		name,
		ServiceType,
		"local.",
		a.config.Port,
		a.TXTRecords(),
		nil, // all interfaces
	)
	if err != nil {
		return fmt.Errorf("mdns register: %w", err)
	}

	a.server = server
	log.Printf("mdns: advertising %s as %q on port %d", ServiceType, name, a.config.Port)
	return nil
}

// Stop unregisters the service. Safe to call more than once or before Start.
func (a *Advertiser) Stop() {
	a.mu.Lock()
	defer a.mu.Unlock()

	if a.server != nil {
		a.server.Shutdown()
		a.server = nil
	}
}

// IsRunning returns true if the advertiser is currently running.
func (a *Advertiser) IsRunning() bool {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.server != nil
}

// DiscoveredHub is a hub found by Discover.
type DiscoveredHub struct {
	Name        string
	Host        string
	Port        int
	Version     string
	Path        string
	CommandMode string
	TLS         bool
}

// URL returns the device check-in URL of the hub.
func (h DiscoveredHub) URL() string {
	scheme := "http"
	if h.TLS {
		scheme = "https"
	}
	host := h.Host
	if strings.Contains(host, ":") {
		host = "[" + host + "]"
	}
	path := h.Path
	if path == "" {
		path = DefaultPath
	}
	return fmt.Sprintf("%s://%s:%d%s", scheme, host, h.Port, path)
}

// hubFromEntry converts a resolved entry, preferring IPv4.
func hubFromEntry(entry *zeroconf.ServiceEntry) DiscoveredHub {
	hub := DiscoveredHub{
		Name: entry.Instance,
		Port: entry.Port,
	}
	if len(entry.AddrIPv4) > 0 {
		hub.Host = entry.AddrIPv4[0].String()
	} else if len(entry.AddrIPv6) > 0 {
		hub.Host = entry.AddrIPv6[0].String()
	}

	for _, txt := range entry.Text {
		key, value, ok := strings.Cut(txt, "=")
		if !ok {
			continue
		}
		switch key {
		case "version":
			hub.Version = value
		case "name":
			hub.Name = value
		case "path":
			hub.Path = value
		case "mode":
			hub.CommandMode = value
		case "tls":
			hub.TLS = value == "1"
		}
	}
	return hub
}

// Discover browses for hubs until ctx is done.
func Discover(ctx context.Context) ([]DiscoveredHub, error) {
	resolver, err := zeroconf.NewResolver(nil)
	if err != nil {
		return nil, fmt.Errorf("mdns resolver: %w", err)
	}

	var (
		hubs []DiscoveredHub
		wg   sync.WaitGroup
	)

	entries := make(chan *zeroconf.ServiceEntry)

	wg.Add(1)
	go func() {
		defer wg.Done()
		for entry := range entries {
			hubs = append(hubs, hubFromEntry(entry))
		}
	}()

	if err := resolver.Browse(ctx, ServiceType, "local.", entries); err != nil {
		return nil, fmt.Errorf("mdns browse: %w", err)
	}

	<-ctx.Done()

	// zeroconf closes entries once ctx is done.
	wg.Wait()

	return hubs, nil
}
