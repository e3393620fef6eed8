package server

import (
	"crypto/tls"
	"log"
	"net"
	"net/http"
	"time"

	apperrors "github.com/pulsehub/hub/internal/errors"
)

// TLSConfig holds the TLS configuration for the server.
type TLSConfig struct {
	// CertPath is the path to the TLS certificate file.
	CertPath string
	// KeyPath is the path to the TLS private key file.
	KeyPath string
}

// readHeaderTimeout bounds slow clients during the request line and headers.
// WebSocket sessions are long-lived, so there is no overall read timeout.
const readHeaderTimeout = 10 * time.Second

func (s *Server) newHTTPServer() *http.Server {
	return &http.Server{
		Handler:           s.createMux(),
		ReadHeaderTimeout: readHeaderTimeout,
	}
}

// Start begins listening for connections.
// This method blocks, so call it in a goroutine if you need to do other work.
// For non-blocking startup with error handling, use StartAsync() instead.
func (s *Server) Start() error {
	s.httpServer = s.newHTTPServer()
	s.httpServer.Addr = s.addr

	go s.runBroadcaster()

	log.Printf("server: listening on %s", s.addr)

	// ListenAndServe returns http.ErrServerClosed on graceful shutdown.
	return s.httpServer.ListenAndServe()
}

// StartAsync starts the server in a goroutine and returns any startup errors.
//
// The returned channel receives nil if startup succeeded, or an error if
// the listener could not be created (e.g., port already in use).
// After receiving from the channel, the server is either running or failed.
func (s *Server) StartAsync() <-chan error {
	return s.startAsync(nil)
}

// StartAsyncTLS starts the server with TLS in a goroutine and returns any
// startup errors. When TLS is configured, the server only accepts HTTPS/WSS
// connections; devices must then post over HTTPS too.
func (s *Server) StartAsyncTLS(tlsCfg TLSConfig) <-chan error {
	return s.startAsync(&tlsCfg)
}

func (s *Server) startAsync(tlsCfg *TLSConfig) <-chan error {
	errCh := make(chan error, 1)

	// Create the listener first to detect port conflicts immediately.
	ln, err := net.Listen("tcp", s.addr)
	if err != nil {
		errCh <- apperrors.Wrap(apperrors.CodeServerListenFailed, "listen on "+s.addr, err)
		close(errCh)
		return errCh
	}

	if tlsCfg != nil {
		cert, err := tls.LoadX509KeyPair(tlsCfg.CertPath, tlsCfg.KeyPath)
		if err != nil {
			ln.Close()
			errCh <- apperrors.Wrap(apperrors.CodeServerListenFailed, "load TLS certificate", err)
			close(errCh)
			return errCh
		}

		// MinVersion TLS 1.2 is widely supported, including by ESP32 mbedTLS.
		ln = tls.NewListener(ln, &tls.Config{
			Certificates: []tls.Certificate{cert},
			MinVersion:   tls.VersionTLS12,
		})

		s.mu.Lock()
		s.tlsEnabled = true
		s.mu.Unlock()
	}

	// Use the bound address so ":0" reports the real port.
	s.addr = ln.Addr().String()
	s.httpServer = s.newHTTPServer()

	go s.runBroadcaster()

	go func() {
		if tlsCfg != nil {
			log.Printf("server: listening on %s (TLS enabled)", s.addr)
		} else {
			log.Printf("server: listening on %s", s.addr)
		}
		errCh <- nil
		close(errCh)

		if err := s.httpServer.Serve(ln); err != nil && err != http.ErrServerClosed {
			log.Printf("server: serve error: %v", err)
		}
	}()

	return errCh
}

// Stop shuts the server down.
// It signals every session to send a close frame, closes device sockets,
// stops accepting new connections and lets runBroadcaster exit.
func (s *Server) Stop() error {
	s.mu.Lock()

	if s.stopped {
		s.mu.Unlock()
		return nil
	}
	s.stopped = true

	// writePump sends the close frame and closes the connection.
	for client := range s.clients {
		client.closeSend()
	}
	s.clients = make(map[*Client]bool)

	// Must happen after stopped=true so no enqueue races the close.
	close(s.broadcast)

	deviceSocket := s.deviceSocket
	s.mu.Unlock()

	// Hijacked connections are not closed by http.Server.Close.
	if closer, ok := deviceSocket.(interface{ Close() }); ok {
		closer.Close()
	}

	if s.httpServer != nil {
		return s.httpServer.Close()
	}
	return nil
}
