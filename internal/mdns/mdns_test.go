package mdns

import (
	"net"
	"os"
	"reflect"
	"testing"

	"github.com/grandcat/zeroconf"
)

func TestNewAdvertiserDefaultsPath(t *testing.T) {
	a := NewAdvertiser(Config{Port: 3000, Name: "greenhouse"})
	if a.config.Path != DefaultPath {
		t.Errorf("path = %q, want %q", a.config.Path, DefaultPath)
	}
}

func TestTXTRecords(t *testing.T) {
	a := NewAdvertiser(Config{Port: 3000, Name: "greenhouse", CommandMode: "relay", TLS: true})

	want := []string{"version=1", "name=greenhouse", "path=/data", "mode=relay", "tls=1"}
	if got := a.TXTRecords(); !reflect.DeepEqual(got, want) {
		t.Errorf("TXTRecords() = %v, want %v", got, want)
	}
}

func TestTXTRecordsMinimal(t *testing.T) {
	a := NewAdvertiser(Config{Port: 3000, Name: "hub", Path: "/ingest"})

	want := []string{"version=1", "name=hub", "path=/ingest"}
	if got := a.TXTRecords(); !reflect.DeepEqual(got, want) {
		t.Errorf("TXTRecords() = %v, want %v", got, want)
	}
}

func TestInstanceNameFallsBackToHostname(t *testing.T) {
	a := NewAdvertiser(Config{Port: 3000})

	want, err := os.Hostname()
	if err != nil || want == "" {
		want = fallbackName
	}
	if got := a.instanceName(); got != want {
		t.Errorf("instanceName() = %q, want %q", got, want)
	}
}

func TestAdvertiserStopBeforeStart(t *testing.T) {
	a := NewAdvertiser(Config{Port: 3000})

	a.Stop()
	a.Stop()

	if a.IsRunning() {
		t.Error("advertiser should not be running after Stop()")
	}
}

func TestHubFromEntry(t *testing.T) {
	entry := zeroconf.NewServiceEntry("box-1", ServiceType, "local.")
	entry.Port = 3000
	entry.AddrIPv4 = []net.IP{net.ParseIP("192.168.1.40")}
	entry.AddrIPv6 = []net.IP{net.ParseIP("fe80::1")}
	entry.Text = []string{"version=1", "name=greenhouse", "path=/data", "mode=pulse", "junk"}

	hub := hubFromEntry(entry)

	if hub.Name != "greenhouse" || hub.Host != "192.168.1.40" || hub.Port != 3000 {
		t.Errorf("hub = %+v", hub)
	}
	if hub.Version != "1" || hub.CommandMode != "pulse" || hub.TLS {
		t.Errorf("hub TXT fields = %+v", hub)
	}
	if got := hub.URL(); got != "http://192.168.1.40:3000/data" {
		t.Errorf("URL() = %q", got)
	}
}

func TestDiscoveredHubURL_IPv6TLS(t *testing.T) {
	hub := DiscoveredHub{Host: "fe80::1", Port: 8443, TLS: true}
	if got := hub.URL(); got != "https://[fe80::1]:8443/data" {
		t.Errorf("URL() = %q", got)
	}
}

// TestAdvertiserStartStop registers on the real network. Multicast is often
// unavailable in CI, so it only runs when PULSEHUB_MDNS_TEST is set.
func TestAdvertiserStartStop(t *testing.T) {
	if os.Getenv("PULSEHUB_MDNS_TEST") == "" {
		t.Skip("set PULSEHUB_MDNS_TEST to run the multicast test")
	}

	a := NewAdvertiser(Config{Port: 3000, Name: "pulsehub-test"})
	if err := a.Start(); err != nil {
		t.Fatalf("Start() failed: %v", err)
	}
	if !a.IsRunning() {
		t.Error("advertiser should be running after Start()")
	}
	if err := a.Start(); err != nil {
		t.Errorf("second Start() failed: %v", err)
	}
	a.Stop()
	if a.IsRunning() {
		t.Error("advertiser should not be running after Stop()")
	}
}
