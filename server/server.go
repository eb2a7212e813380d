// Package server exposes an NFC session to WebSocket and HTTP clients.
//
// The server is the session's listener: it attaches itself when the first
// client subscribes and detaches when the last one leaves. Discovered tags
// are recorded to the history store and broadcast to subscribers.
package server

import (
	"context"
	"crypto/tls"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"slices"
	"strconv"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/grandcat/zeroconf"

	"github.com/dotside-studios/davi-nfc-session/buildinfo"
	"github.com/dotside-studios/davi-nfc-session/nfc"
	"github.com/dotside-studios/davi-nfc-session/protocol"
)

// HistoryStore records tag events and lists recent ones.
type HistoryStore interface {
	RecordEvent(ctx context.Context, event nfc.TagEvent) error
	Recent(ctx context.Context, limit int) ([]protocol.HistoryEntry, error)
}

// Config holds the server configuration.
type Config struct {
	Session *nfc.Session
	History HistoryStore // optional

	// Port 0 picks a free port
	Port int

	// Secret, when set, must be passed as ?secret= or a bearer token
	Secret string
	MDNS   bool

	// TLS serves HTTPS and WSS when non-nil
	TLS *tls.Config

	// PlatformName is reported in status, e.g. "phone" or "libnfc"
	PlatformName string
	Handlers     []ServerHandler
	Logger       *slog.Logger
}

// Server manages the HTTP and WebSocket endpoints.
type Server struct {
	cfg      Config
	logger   *slog.Logger
	registry *HandlerRegistry
	upgrader websocket.Upgrader
	tags     *tagIndex

	lifecycleMu sync.Mutex
	httpServer  *http.Server
	listener    net.Listener
	mdnsServer  *zeroconf.Server
	cancel      context.CancelFunc

	clientsMu sync.RWMutex
	clients   map[string]*Client

	// subMu serializes subscriber changes and the SetListener calls they trigger
	subMu       sync.Mutex
	subscribers int

	eventMu   sync.RWMutex
	lastEvent *nfc.TagEvent
	onEvent   []func(nfc.TagEvent)
}

var _ nfc.Listener = (*Server)(nil)

// New creates a server. Session must be non-nil.
func New(cfg Config) *Server {
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	s := &Server{
		cfg:      cfg,
		logger:   logger.With("component", "server"),
		registry: NewHandlerRegistry(),
		tags:     newTagIndex(recentTagCapacity),
		clients:  make(map[string]*Client),
		upgrader: websocket.Upgrader{
			CheckOrigin: func(r *http.Request) bool {
				return true // Allow all origins
			},
		},
	}

	s.registry.Handle(protocol.WSTypeSubscribe, s.handleSubscribe)
	s.registry.Handle(protocol.WSTypeUnsubscribe, s.handleUnsubscribe)
	s.registry.Handle(protocol.WSTypeGetStatus, s.handleGetStatus)

	NewSessionHandler(cfg.Session, cfg.History, s.tags.lookup).Register(s)
	for _, h := range cfg.Handlers {
		h.Register(s)
	}
	return s
}

// Handle implements HandlerServer.
func (s *Server) Handle(messageType string, handler HandlerFunc) error {
	return s.registry.Handle(messageType, handler)
}

// HandleWebSocket implements HandlerServer.
func (s *Server) HandleWebSocket(matcher func(r *http.Request) bool, handler WebSocketHandlerFunc) {
	s.registry.HandleWebSocket(matcher, handler)
}

// StartLifecycle implements HandlerServer.
func (s *Server) StartLifecycle(start func(ctx context.Context)) {
	s.registry.RegisterLifecycle(start)
}

// OnEvent registers fn to run after each delivered event.
func (s *Server) OnEvent(fn func(nfc.TagEvent)) {
	s.eventMu.Lock()
	defer s.eventMu.Unlock()
	s.onEvent = append(s.onEvent, fn)
}

// LastEvent returns the most recently delivered event.
func (s *Server) LastEvent() (nfc.TagEvent, bool) {
	s.eventMu.RLock()
	defer s.eventMu.RUnlock()
	if s.lastEvent == nil {
		return nfc.TagEvent{}, false
	}
	return *s.lastEvent, true
}

// HandleEvent implements nfc.Listener.
func (s *Server) HandleEvent(e nfc.TagEvent) {
	s.tags.remember(e)

	if s.cfg.History != nil {
		ctx, cancel := context.WithTimeout(context.Background(), storeTimeout)
		if err := s.cfg.History.RecordEvent(ctx, e); err != nil {
			s.logger.Warn("failed to record tag event", "tag", e.TagIDHex(), "error", err)
		}
		cancel()
	}

	payload := EventPayload(e)
	s.logger.Info("tag discovered",
		"tag", payload.TagID,
		"technology", payload.PrimaryTechnology,
		"records", len(payload.Records))
	s.broadcast(protocol.WSTypeTagDiscovered, payload)

	s.eventMu.Lock()
	s.lastEvent = &e
	callbacks := slices.Clone(s.onEvent)
	s.eventMu.Unlock()

	for _, fn := range callbacks {
		fn(e)
	}
}

// broadcast sends to every subscribed client, dropping those that fail.
func (s *Server) broadcast(msgType string, payload any) {
	s.clientsMu.RLock()
	targets := make([]*Client, 0, len(s.clients))
	for _, c := range s.clients {
		if c.Subscribed() {
			targets = append(targets, c)
		}
	}
	s.clientsMu.RUnlock()

	for _, c := range targets {
		if err := c.Send(msgType, payload); err != nil {
			s.logger.Warn("websocket write failed", "client", c.id, "error", err)
			c.close()
		}
	}
}

// Status reports the session and client state.
func (s *Server) Status() protocol.StatusPayload {
	st := s.cfg.Session.Status()

	s.clientsMu.RLock()
	clients := len(s.clients)
	s.clientsMu.RUnlock()

	s.subMu.Lock()
	subscribers := s.subscribers
	s.subMu.Unlock()

	return protocol.StatusPayload{
		Started:       st.Started,
		Available:     st.Available,
		PushAvailable: st.PushAvailable,
		Listening:     st.Listening,
		Shared:        st.Shared,
		Filters:       FilterPayloads(st.Filters),
		Clients:       clients,
		Subscribers:   subscribers,
		Platform:      s.cfg.PlatformName,
	}
}

// Subscribe starts event delivery to c. The first subscriber attaches the
// server to the session.
func (s *Server) Subscribe(c *Client) error {
	s.subMu.Lock()
	defer s.subMu.Unlock()

	if !c.setSubscribed(true) {
		return nil
	}
	s.subscribers++
	if s.subscribers == 1 {
		if err := s.cfg.Session.SetListener(s); err != nil {
			s.subscribers--
			c.setSubscribed(false)
			return err
		}
		s.logger.Debug("attached to session")
	}
	return nil
}

// Unsubscribe stops event delivery to c. The last subscriber detaches the
// server from the session.
func (s *Server) Unsubscribe(c *Client) {
	s.subMu.Lock()
	defer s.subMu.Unlock()

	if !c.setSubscribed(false) {
		return
	}
	s.subscribers--
	if s.subscribers == 0 {
		s.cfg.Session.SetListener(nil)
		s.logger.Debug("detached from session")
	}
}

// SubscribeLocal subscribes an in-process consumer that only sees events
// through OnEvent. The returned func unsubscribes it.
func (s *Server) SubscribeLocal() (func(), error) {
	c := newClient(uuid.NewString(), "local", nil)
	if err := s.Subscribe(c); err != nil {
		return nil, err
	}
	return func() { s.Unsubscribe(c) }, nil
}

func (s *Server) handleSubscribe(ctx context.Context, c *Client, req protocol.WebSocketRequest) error {
	if err := s.Subscribe(c); err != nil {
		c.Fail(req, errorCode(err), errorMessage(err))
		return err
	}
	return c.Reply(req, s.Status())
}

func (s *Server) handleUnsubscribe(ctx context.Context, c *Client, req protocol.WebSocketRequest) error {
	s.Unsubscribe(c)
	return c.Reply(req, nil)
}

func (s *Server) handleGetStatus(ctx context.Context, c *Client, req protocol.WebSocketRequest) error {
	return c.Reply(req, s.Status())
}

// Handler returns the HTTP routes.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()

	mux.HandleFunc(apiV1+"/health", enableCORS(getOnly(s.handleHealthCheck)))
	mux.HandleFunc(apiV1+"/status", enableCORS(getOnly(s.requireSecret(s.handleStatus))))
	mux.HandleFunc(apiV1+"/history", enableCORS(getOnly(s.requireSecret(s.handleHistory))))
	mux.HandleFunc("/ws", s.handleWebSocket)
	mux.HandleFunc("/", enableCORS(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/" {
			http.NotFound(w, r)
			return
		}
		w.Write([]byte(buildinfo.DisplayName + " running"))
	}))
	return mux
}

// Start listens on the configured port and serves in the background.
func (s *Server) Start() error {
	s.lifecycleMu.Lock()
	defer s.lifecycleMu.Unlock()

	if s.httpServer != nil {
		return nil
	}

	ln, err := net.Listen("tcp", fmt.Sprintf(":%d", s.cfg.Port))
	if err != nil {
		return fmt.Errorf("listen on port %d: %w", s.cfg.Port, err)
	}
	if s.cfg.TLS != nil {
		ln = tls.NewListener(ln, s.cfg.TLS)
	}

	ctx, cancel := context.WithCancel(context.Background())
	s.cancel = cancel
	s.listener = ln
	s.httpServer = &http.Server{
		Handler:           s.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	httpServer := s.httpServer
	go func() {
		if err := httpServer.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			s.logger.Error("http server stopped", "error", err)
		}
	}()

	s.logger.Info("server listening", "addr", ln.Addr().String(), "tls", s.cfg.TLS != nil)

	if s.cfg.MDNS {
		if err := s.startMDNS(s.port()); err != nil {
			s.logger.Warn("mDNS unavailable; auto-discovery disabled", "error", err)
		}
	}

	s.registry.StartLifecycleHandlers(ctx)
	return nil
}

// Addr returns the listening address, or nil before Start.
func (s *Server) Addr() net.Addr {
	s.lifecycleMu.Lock()
	defer s.lifecycleMu.Unlock()
	if s.listener == nil {
		return nil
	}
	return s.listener.Addr()
}

func (s *Server) port() int {
	if tcp, ok := s.listener.Addr().(*net.TCPAddr); ok {
		return tcp.Port
	}
	return s.cfg.Port
}

// Stop closes client connections, detaches from the session and shuts down.
func (s *Server) Stop() {
	s.lifecycleMu.Lock()
	defer s.lifecycleMu.Unlock()

	if s.httpServer == nil {
		return
	}

	if s.mdnsServer != nil {
		s.mdnsServer.Shutdown()
		s.mdnsServer = nil
	}
	s.cancel()

	s.clientsMu.Lock()
	clients := make([]*Client, 0, len(s.clients))
	for _, c := range s.clients {
		clients = append(clients, c)
	}
	s.clientsMu.Unlock()
	for _, c := range clients {
		s.Unsubscribe(c)
		c.close()
	}

	ctx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	if err := s.httpServer.Shutdown(ctx); err != nil {
		s.logger.Warn("server shutdown error", "error", err)
	}
	s.httpServer = nil
	s.listener = nil
	s.logger.Info("server stopped")
}

// startMDNS advertises the server so phones and clients can find it.
func (s *Server) startMDNS(port int) error {
	txtRecords := []string{
		"version=" + buildinfo.Version,
		"protocol=websocket",
		"path=/ws",
		"device_mode=?mode=device",
		"tls=" + strconv.FormatBool(s.cfg.TLS != nil),
	}

	server, err := zeroconf.Register(MDNSServiceName, MDNSServiceType, MDNSDomain, port, txtRecords, nil)
	if err != nil {
		return fmt.Errorf("failed to register mDNS service: %w", err)
	}
	s.mdnsServer = server
	s.logger.Info("mDNS service registered", "name", MDNSServiceName, "type", MDNSServiceType, "port", port)
	return nil
}

// handleWebSocket hands device connections to their takeover handlers and
// serves everything else as a session client.
func (s *Server) handleWebSocket(w http.ResponseWriter, r *http.Request) {
	if s.registry.TryCustomWebSocketHandler(w, r) {
		return
	}

	if !s.authorized(r) {
		s.logger.Warn("websocket connection rejected: invalid secret", "remote", r.RemoteAddr)
		http.Error(w, "Unauthorized: Invalid API secret", http.StatusUnauthorized)
		return
	}

	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.logger.Error("websocket upgrade failed", "error", err)
		return
	}

	c := newClient(uuid.NewString(), r.RemoteAddr, conn)
	s.clientsMu.Lock()
	s.clients[c.id] = c
	s.clientsMu.Unlock()
	s.logger.Info("client connected", "client", c.id, "remote", c.remote)

	defer func() {
		s.clientsMu.Lock()
		delete(s.clients, c.id)
		s.clientsMu.Unlock()
		s.Unsubscribe(c)
		c.close()
		s.logger.Info("client disconnected", "client", c.id)
	}()

	c.Send(protocol.WSTypeStatus, s.Status())

	for {
		messageType, message, err := conn.ReadMessage()
		if err != nil {
			return
		}
		if messageType != websocket.TextMessage {
			continue
		}

		var req protocol.WebSocketRequest
		if err := json.Unmarshal(message, &req); err != nil {
			c.writeJSON(protocol.WebSocketResponse{
				Type:  protocol.WSTypeError,
				Error: "Invalid message format",
				Code:  protocol.ErrCodeInvalidRequest,
			})
			continue
		}

		handler, ok := s.registry.Get(req.Type)
		if !ok {
			c.Fail(req, protocol.ErrCodeUnknownType, fmt.Sprintf("Unknown message type: %s", req.Type))
			continue
		}
		if err := handler(r.Context(), c, req); err != nil {
			s.logger.Debug("handler failed", "type", req.Type, "client", c.id, "error", err)
		}
	}
}

func (s *Server) authorized(r *http.Request) bool {
	if s.cfg.Secret == "" {
		return true
	}
	if r.URL.Query().Get("secret") == s.cfg.Secret {
		return true
	}
	return r.Header.Get("Authorization") == "Bearer "+s.cfg.Secret
}

func (s *Server) requireSecret(next http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if !s.authorized(r) {
			http.Error(w, "Unauthorized", http.StatusUnauthorized)
			return
		}
		next(w, r)
	}
}

// handleHealthCheck serves GET /api/v1/health.
func (s *Server) handleHealthCheck(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{
		"status":    "ok",
		"version":   buildinfo.FullVersion(),
		"timestamp": time.Now().Format(time.RFC3339),
	})
}

// handleStatus serves GET /api/v1/status.
func (s *Server) handleStatus(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, s.Status())
}

// handleHistory serves GET /api/v1/history?limit=N.
func (s *Server) handleHistory(w http.ResponseWriter, r *http.Request) {
	if s.cfg.History == nil {
		http.Error(w, "history is disabled", http.StatusServiceUnavailable)
		return
	}

	limit := DefaultHistoryLimit
	if v := r.URL.Query().Get("limit"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n <= 0 {
			http.Error(w, "invalid limit", http.StatusBadRequest)
			return
		}
		limit = clampLimit(n)
	}

	entries, err := s.cfg.History.Recent(r.Context(), limit)
	if err != nil {
		s.logger.Error("history query failed", "error", err)
		http.Error(w, "history query failed", http.StatusInternalServerError)
		return
	}
	if entries == nil {
		entries = []protocol.HistoryEntry{}
	}
	writeJSON(w, http.StatusOK, entries)
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

func getOnly(next http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodGet {
			http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
			return
		}
		next(w, r)
	}
}

// enableCORS adds CORS headers and answers preflight requests.
func enableCORS(next http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Access-Control-Allow-Origin", CORSAllowOrigin)
		w.Header().Set("Access-Control-Allow-Methods", CORSAllowMethods)
		w.Header().Set("Access-Control-Allow-Headers", CORSAllowHeaders)

		if r.Method == http.MethodOptions {
			w.WriteHeader(http.StatusOK)
			return
		}
		next(w, r)
	}
}

func clampLimit(n int) int {
	if n <= 0 {
		return DefaultHistoryLimit
	}
	if n > MaxHistoryLimit {
		return MaxHistoryLimit
	}
	return n
}
