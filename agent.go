package main

import (
	cryptotls "crypto/tls"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"strconv"
	"sync"

	"github.com/dotside-studios/davi-nfc-session/buildinfo"
	"github.com/dotside-studios/davi-nfc-session/config"
	"github.com/dotside-studios/davi-nfc-session/logging"
	"github.com/dotside-studios/davi-nfc-session/nfc"
	"github.com/dotside-studios/davi-nfc-session/nfc/libnfc"
	"github.com/dotside-studios/davi-nfc-session/nfc/phonenfc"
	"github.com/dotside-studios/davi-nfc-session/server"
	"github.com/dotside-studios/davi-nfc-session/store"
	"github.com/dotside-studios/davi-nfc-session/tls"
)

var errNotRunning = errors.New("agent is not running")

// Agent wires the platform, session, history store and server together.
type Agent struct {
	cfg    config.Config
	base   *slog.Logger
	logger *slog.Logger

	mu        sync.Mutex
	running   bool
	bridge    *phonenfc.Bridge
	reader    *libnfc.Reader
	session   *nfc.Session
	history   *store.Store
	server    *server.Server
	bootstrap *tls.BootstrapServer
}

// NewAgent creates a stopped agent.
func NewAgent(cfg config.Config, logger *slog.Logger) *Agent {
	if logger == nil {
		logger = slog.Default()
	}
	return &Agent{
		cfg:    cfg,
		base:   logger,
		logger: logging.Component(logger, "agent"),
	}
}

// Start brings every component up. Calling it on a running agent is a no-op.
func (a *Agent) Start() error {
	a.mu.Lock()
	defer a.mu.Unlock()

	if a.running {
		return nil
	}

	history, err := store.Open(a.cfg.Store.Path)
	if err != nil {
		return fmt.Errorf("open history: %w", err)
	}

	tlsConfig, certs, err := a.tlsConfig()
	if err != nil {
		history.Close()
		return err
	}

	platform, handlers, err := a.openPlatform()
	if err != nil {
		history.Close()
		return err
	}

	session := nfc.NewSession(platform,
		nfc.WithLogger(a.base),
		nfc.WithDeliveryFiltering(a.cfg.Session.DeliveryFiltering),
	)
	session.Start()

	srv := server.New(server.Config{
		Session:      session,
		History:      history,
		Port:         a.cfg.Server.Port,
		Secret:       a.cfg.Server.Secret,
		MDNS:         a.cfg.Server.MDNS,
		TLS:          tlsConfig,
		PlatformName: a.cfg.Platform.Kind,
		Handlers:     handlers,
		Logger:       a.base,
	})
	if err := srv.Start(); err != nil {
		session.Stop()
		a.closePlatform()
		history.Close()
		return err
	}

	if certs != nil && a.cfg.TLS.BootstrapPort > 0 {
		a.bootstrap = tls.NewBootstrapServer(certs, a.cfg.TLS.BootstrapPort, a.base)
		if err := a.bootstrap.Start(); err != nil {
			a.logger.Warn("CA bootstrap server unavailable", "error", err)
			a.bootstrap = nil
		}
	}

	a.session = session
	a.history = history
	a.server = srv
	a.running = true
	a.logger.Info("agent started", "version", buildinfo.FullVersion(), "platform", a.cfg.Platform.Kind)
	return nil
}

func (a *Agent) tlsConfig() (*cryptotls.Config, *tls.Manager, error) {
	if !a.cfg.TLS.Enabled {
		return nil, nil, nil
	}
	certs := tls.NewManager(a.cfg.TLS.Dir, a.base)
	tlsConfig, err := certs.ServerConfig()
	if err != nil {
		return nil, nil, fmt.Errorf("prepare TLS: %w", err)
	}
	return tlsConfig, certs, nil
}

// openPlatform creates the configured NFC platform. A phone bridge also
// returns itself as a server handler so phones connect on the same port.
func (a *Agent) openPlatform() (nfc.Platform, []server.ServerHandler, error) {
	switch a.cfg.Platform.Kind {
	case config.PlatformLibNFC:
		reader := libnfc.New(libnfc.Config{
			Device:       a.cfg.Platform.Device,
			PollInterval: a.cfg.Platform.PollInterval,
			Logger:       a.base,
		})
		if err := reader.Open(); err != nil {
			return nil, nil, fmt.Errorf("open NFC reader: %w", err)
		}
		a.reader = reader
		return reader, nil, nil
	default:
		bridge := phonenfc.NewBridge(phonenfc.Config{
			Logger:        a.base,
			ServerVersion: buildinfo.Version,
		})
		bridge.OnPhoneChange(func(info phonenfc.PhoneInfo, connected bool) {
			a.logger.Info("phone changed", "device", info.DeviceName, "connected", connected)
		})
		a.bridge = bridge
		return bridge, []server.ServerHandler{bridge}, nil
	}
}

func (a *Agent) closePlatform() {
	if a.reader != nil {
		if err := a.reader.Close(); err != nil {
			a.logger.Warn("close NFC reader", "error", err)
		}
		a.reader = nil
	}
	if a.bridge != nil {
		a.bridge.Close()
		a.bridge = nil
	}
}

// Stop shuts every component down. Calling it on a stopped agent is a no-op.
func (a *Agent) Stop() {
	a.mu.Lock()
	defer a.mu.Unlock()

	if !a.running {
		return
	}

	if a.bootstrap != nil {
		a.bootstrap.Stop()
		a.bootstrap = nil
	}
	a.server.Stop()
	a.session.Stop()
	a.closePlatform()
	if err := a.history.Close(); err != nil {
		a.logger.Warn("close history", "error", err)
	}

	a.server = nil
	a.session = nil
	a.history = nil
	a.running = false
	a.logger.Info("agent stopped")
}

// Running reports whether the agent is started.
func (a *Agent) Running() bool {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.running
}

// Session returns the running session.
func (a *Agent) Session() (*nfc.Session, error) {
	a.mu.Lock()
	defer a.mu.Unlock()
	if !a.running {
		return nil, errNotRunning
	}
	return a.session, nil
}

// Server returns the running server.
func (a *Agent) Server() (*server.Server, error) {
	a.mu.Lock()
	defer a.mu.Unlock()
	if !a.running {
		return nil, errNotRunning
	}
	return a.server, nil
}

// Phone returns the connected phone, if the phone platform is in use.
func (a *Agent) Phone() (phonenfc.PhoneInfo, bool) {
	a.mu.Lock()
	bridge := a.bridge
	a.mu.Unlock()
	if bridge == nil {
		return phonenfc.PhoneInfo{}, false
	}
	return bridge.Phone()
}

// WebSocketURL returns the URL clients and phones connect to.
func (a *Agent) WebSocketURL() string {
	a.mu.Lock()
	defer a.mu.Unlock()

	port := a.cfg.Server.Port
	if a.server != nil {
		if addr := a.server.Addr(); addr != nil {
			port = portOf(addr.String(), port)
		}
	}
	scheme := "ws"
	if a.cfg.TLS.Enabled {
		scheme = "wss"
	}
	return fmt.Sprintf("%s://%s:%d/ws", scheme, tls.PreferredHost(), port)
}

// BootstrapURL returns the CA download URL, or "" when it is not served.
func (a *Agent) BootstrapURL() string {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.bootstrap == nil {
		return ""
	}
	return a.bootstrap.URL()
}

func portOf(addr string, fallback int) int {
	_, p, err := net.SplitHostPort(addr)
	if err != nil {
		return fallback
	}
	port, err := strconv.Atoi(p)
	if err != nil {
		return fallback
	}
	return port
}
