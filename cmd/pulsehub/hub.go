package main

import (
	"context"
	"log"
	"net"
	"strconv"
	"sync"
	"time"

	"github.com/pulsehub/hub/internal/auth"
	"github.com/pulsehub/hub/internal/certs"
	"github.com/pulsehub/hub/internal/config"
	"github.com/pulsehub/hub/internal/ingest"
	"github.com/pulsehub/hub/internal/liveness"
	"github.com/pulsehub/hub/internal/mdns"
	"github.com/pulsehub/hub/internal/mirror"
	"github.com/pulsehub/hub/internal/server"
	"github.com/pulsehub/hub/internal/state"
	"github.com/pulsehub/hub/internal/storage"
)

// Metrics retention. Rows older than metricsRetention are pruned every
// metricsCleanupInterval.
const (
	metricsRetention       = 7 * 24 * time.Hour
	metricsCleanupInterval = time.Hour
)

// hub owns every long-lived component of a running "pulsehub serve".
type hub struct {
	cfg *config.Config

	store     *state.Store
	guard     *auth.Guard
	monitor   *liveness.Monitor
	server    *server.Server
	processor *ingest.Processor
	socket    *ingest.SocketHandler

	// Optional components; nil when disabled.
	metrics    *storage.SQLiteMetricsStore
	mirror     *mirror.Mirror
	advertiser *mdns.Advertiser

	// fingerprint is the SHA-256 of the serving certificate, when TLS is on.
	fingerprint string

	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// newHub builds and wires the components. Nothing listens until start.
func newHub(cfg *config.Config, version string) (*hub, error) {
	h := &hub{cfg: cfg}

	if cfg.MetricsEnabled() {
		metrics, err := storage.NewSQLiteMetricsStore(cfg.MetricsDB)
		if err != nil {
			return nil, err
		}
		h.metrics = metrics
	}

	if cfg.NATSURL != "" {
		m, err := mirror.Connect(cfg.NATSURL, cfg.NATSSubject, "pulsehub "+version)
		if err != nil {
			h.closeStores()
			return nil, err
		}
		h.mirror = m
	}

	h.store = state.NewStore(state.Config{
		Channels:     cfg.Channels,
		MergePolicy:  state.MergePolicy(cfg.MergePolicy),
		HistoryLines: cfg.LogHistoryLines,
	})

	guardCfg := auth.GuardConfig{
		Secret:          cfg.Password,
		SecretHash:      cfg.PasswordHash,
		MaxFailures:     cfg.MaxLoginFailures,
		LockoutDuration: cfg.LockoutDuration(),
	}
	if h.metrics != nil {
		metrics := h.metrics
		guardCfg.Recorder = func(outcome auth.Outcome) {
			if err := metrics.RecordLogin(outcome.String()); err != nil {
				log.Printf("pulsehub: failed to record login: %v", err)
			}
		}
	}
	h.guard = auth.NewGuard(guardCfg)

	h.server = server.NewServer(server.Config{
		Addr:           cfg.ListenAddr(),
		Store:          h.store,
		Guard:          h.guard,
		AllowedOrigins: cfg.AllowedOrigins,
		StaticDir:      cfg.StaticDir,
		CommandMode:    cfg.CommandMode,
	})
	h.store.SetListener(h.server)

	h.monitor = liveness.New(liveness.Config{
		Interval: cfg.LivenessInterval(),
		Timeout:  cfg.LivenessTimeout(),
	}, h.store, h.server)
	h.server.SetLivenessSource(h.monitor)

	// Typed nil pointers must not leak into the interfaces.
	opts := ingest.Options{Mode: ingest.Mode(cfg.CommandMode)}
	if h.metrics != nil {
		opts.Recorder = h.metrics
	}
	if h.mirror != nil {
		opts.Sink = h.mirror
	}
	h.processor = ingest.NewProcessor(h.store, opts)
	h.socket = ingest.NewSocketHandler(h.processor)
	h.server.SetDeviceHandlers(ingest.NewHandler(h.processor), h.socket)

	h.server.SetCommandObserver(commandFanout{metrics: h.metrics, mirror: h.mirror})

	var summarizer server.MetricsSummarizer
	if h.metrics != nil {
		summarizer = h.metrics
	}
	h.server.SetStatusHandler(server.NewStatusHandler(h.server, version, summarizer, h.socket))

	return h, nil
}

// start begins listening and launches the background loops.
func (h *hub) start() error {
	var errCh <-chan error
	if h.cfg.TLSEnabled() {
		tlsCfg, err := h.tlsConfig()
		if err != nil {
			return err
		}
		errCh = h.server.StartAsyncTLS(tlsCfg)
	} else {
		errCh = h.server.StartAsync()
	}
	if err := <-errCh; err != nil {
		return err
	}

	ctx, cancel := context.WithCancel(context.Background())
	h.cancel = cancel

	h.wg.Add(1)
	go func() {
		defer h.wg.Done()
		h.monitor.Run(ctx)
	}()

	if h.metrics != nil {
		h.wg.Add(1)
		go func() {
			defer h.wg.Done()
			h.metrics.RunRetention(ctx, metricsCleanupInterval, metricsRetention)
		}()
	}

	if h.cfg.MdnsEnabled {
		advertiser := mdns.NewAdvertiser(mdns.Config{
			Port:        listenPort(h.server.Addr()),
			Path:        "/data",
			CommandMode: h.cfg.CommandMode,
			TLS:         h.cfg.TLSEnabled(),
		})
		// Discovery is a convenience; the hub runs without it.
		if err := advertiser.Start(); err != nil {
			log.Printf("pulsehub: mDNS advertisement failed: %v", err)
		} else {
			h.advertiser = advertiser
		}
	}

	return nil
}

// tlsConfig resolves the certificate to serve, generating a self-signed
// one when configured.
func (h *hub) tlsConfig() (server.TLSConfig, error) {
	if !h.cfg.TLSSelfSigned {
		if info, err := certs.Load(h.cfg.TLSCert, h.cfg.TLSKey); err == nil {
			h.fingerprint = info.Fingerprint
		}
		return server.TLSConfig{CertPath: h.cfg.TLSCert, KeyPath: h.cfg.TLSKey}, nil
	}

	hosts := []string{"localhost", "127.0.0.1"}
	if h.cfg.Addr != "" && h.cfg.Addr != "0.0.0.0" {
		hosts = append(hosts, h.cfg.Addr)
	}
	if lan := preferredOutboundIP(); lan != "" {
		hosts = append(hosts, lan)
	}

	info, err := certs.Ensure(certs.Config{
		CertPath: h.cfg.TLSCert,
		KeyPath:  h.cfg.TLSKey,
		Hosts:    hosts,
	})
	if err != nil {
		return server.TLSConfig{}, err
	}
	if info.Generated {
		log.Printf("pulsehub: generated self-signed certificate %s", info.CertPath)
	}
	h.fingerprint = info.Fingerprint
	return server.TLSConfig{CertPath: info.CertPath, KeyPath: info.KeyPath}, nil
}

// stop shuts everything down in reverse order of creation.
func (h *hub) stop() {
	if h.advertiser != nil {
		h.advertiser.Stop()
	}
	if h.cancel != nil {
		h.cancel()
	}
	h.wg.Wait()
	if err := h.server.Stop(); err != nil {
		log.Printf("pulsehub: server stop: %v", err)
	}
	h.closeStores()
}

func (h *hub) closeStores() {
	if h.mirror != nil {
		if err := h.mirror.Close(); err != nil {
			log.Printf("pulsehub: mirror close: %v", err)
		}
	}
	if h.metrics != nil {
		if err := h.metrics.Close(); err != nil {
			log.Printf("pulsehub: metrics close: %v", err)
		}
	}
}

// commandFanout records accepted dashboard commands and mirrors them.
type commandFanout struct {
	metrics *storage.SQLiteMetricsStore
	mirror  *mirror.Mirror
}

func (f commandFanout) CommandIssued(kind string, relayState bool) {
	if f.metrics != nil {
		if err := f.metrics.RecordCommand(kind); err != nil {
			log.Printf("pulsehub: failed to record command: %v", err)
		}
	}
	if f.mirror != nil {
		if err := f.mirror.PublishCommand(kind, relayState); err != nil {
			log.Printf("pulsehub: failed to mirror command: %v", err)
		}
	}
}

// listenPort extracts the port from a host:port address, or 0.
func listenPort(addr string) int {
	_, portStr, err := net.SplitHostPort(addr)
	if err != nil {
		return 0
	}
	port, err := strconv.Atoi(portStr)
	if err != nil {
		return 0
	}
	return port
}
