package main

import (
	"fmt"
	"io"
	"net"

	"github.com/skip2/go-qrcode"

	"github.com/pulsehub/hub/internal/config"
)

// dashboardURL returns the URL a phone on the LAN should open. Wildcard
// listen addresses are replaced with the preferred outbound IP.
func dashboardURL(cfg *config.Config, addr string) string {
	scheme := "http"
	if cfg.TLSEnabled() {
		scheme = "https"
	}

	host, port, err := net.SplitHostPort(addr)
	if err != nil {
		return fmt.Sprintf("%s://%s/", scheme, addr)
	}
	if ip := net.ParseIP(host); host == "" || (ip != nil && ip.IsUnspecified()) {
		host = "127.0.0.1"
		if lan := preferredOutboundIP(); lan != "" {
			host = lan
		}
	}
	return fmt.Sprintf("%s://%s/", scheme, net.JoinHostPort(host, port))
}

// preferredOutboundIP returns the machine's preferred outbound IPv4 address.
// Dialing UDP sends no packets; it only asks the routing table which local
// address would be used. Returns "" if detection fails.
func preferredOutboundIP() string {
	conn, err := net.Dial("udp4", "8.8.8.8:80")
	if err != nil {
		return ""
	}
	defer conn.Close()

	localAddr, ok := conn.LocalAddr().(*net.UDPAddr)
	if !ok {
		return ""
	}
	return localAddr.IP.String()
}

// printDashboardQR shows url as a QR code with a plain-text fallback.
func printDashboardQR(w io.Writer, url string) {
	qr, err := qrcode.New(url, qrcode.Medium)
	if err != nil {
		fmt.Fprintf(w, "Error generating QR code: %v\n", err)
		fmt.Fprintf(w, "Dashboard: %s\n", url)
		return
	}

	fmt.Fprintln(w, "===========================================")
	fmt.Fprintln(w, "       SCAN TO OPEN DASHBOARD")
	fmt.Fprintln(w, "===========================================")
	fmt.Fprint(w, qr.ToSmallString(false))
	fmt.Fprintf(w, "  %s\n", url)
	fmt.Fprintln(w, "===========================================")
	fmt.Fprintln(w, "")
}
