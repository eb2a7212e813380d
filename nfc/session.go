package nfc

import (
	"log/slog"
	"sync"
	"time"
)

// SessionOption configures a Session.
type SessionOption func(*Session)

// WithLogger sets the session logger.
func WithLogger(logger *slog.Logger) SessionOption {
	return func(s *Session) {
		if logger != nil {
			s.logger = logger
		}
	}
}

// WithDeliveryFiltering drops events whose message does not match the
// registered filters. By default every discovered tag is delivered and
// filters only reach the platform.
func WithDeliveryFiltering(enabled bool) SessionOption {
	return func(s *Session) {
		s.deliveryFiltering = enabled
	}
}

// WithClock overrides the time source stamped on events.
func WithClock(now func() time.Time) SessionOption {
	return func(s *Session) {
		if now != nil {
			s.now = now
		}
	}
}

// SessionStatus is a point-in-time view of a session.
type SessionStatus struct {
	Started       bool            `json:"started"`
	Available     bool            `json:"available"`
	PushAvailable bool            `json:"pushAvailable"`
	Listening     bool            `json:"listening"`
	Filters       []ContentFilter `json:"filters"`
	Shared        bool            `json:"shared"`
}

// Session owns one NFC adapter: the discovery listener, the content filters
// and the shared outgoing tag.
//
// All state is guarded by mu. Calls into the platform run outside mu and are
// serialized by platformMu so the platform observes state changes in order.
// deliverMu fences listener swaps against in-flight deliveries: once
// SetListener or Stop returns, the previous listener receives nothing more.
// Listeners must not call SetListener or Stop from HandleEvent.
type Session struct {
	platform          Platform
	logger            *slog.Logger
	now               func() time.Time
	deliveryFiltering bool

	platformMu sync.Mutex
	deliverMu  sync.RWMutex

	mu         sync.Mutex
	started    bool
	adapter    Adapter
	listener   Listener
	generation uint64
	registered bool
	filters    *FilterRegistry
	shared     *NDEFMessage
}

// NewSession creates a session bound to platform. Call Start before use.
func NewSession(platform Platform, opts ...SessionOption) *Session {
	s := &Session{
		platform: platform,
		logger:   slog.Default(),
		now:      time.Now,
		filters:  NewFilterRegistry(),
	}
	for _, opt := range opts {
		opt(s)
	}
	s.logger = s.logger.With("component", "session")
	return s
}

// Start resolves the platform adapter. Calling it again re-resolves the adapter.
// Availability is checked per operation, so Start never fails.
func (s *Session) Start() {
	var adapter Adapter
	if s.platform != nil {
		adapter = s.platform.DefaultAdapter()
	}

	s.mu.Lock()
	s.adapter = adapter
	s.started = true
	available := s.availableLocked()
	s.mu.Unlock()

	s.logger.Info("session started", "adapter", adapter != nil, "available", available)
}

// Stop detaches the listener, unregisters from discovery and clears the
// filters and shared tag.
func (s *Session) Stop() {
	s.platformMu.Lock()
	defer s.platformMu.Unlock()

	s.deliverMu.Lock()
	s.mu.Lock()
	wasRegistered := s.registered
	hadFilters := s.filters.Len() > 0
	hadShared := s.shared != nil
	s.listener = nil
	s.generation++
	s.registered = false
	s.filters.Clear()
	s.shared = nil
	s.adapter = nil
	s.started = false
	s.mu.Unlock()
	s.deliverMu.Unlock()

	if s.platform == nil {
		return
	}
	if wasRegistered {
		s.platform.UnregisterForDiscovery()
	}
	if hadFilters {
		s.pushFilters(nil)
	}
	if hadShared {
		s.publish(nil)
	}
	s.logger.Info("session stopped")
}

// SetListener attaches l, replacing any current listener and re-registering
// with the discovery source. A nil listener detaches and unregisters.
func (s *Session) SetListener(l Listener) error {
	s.platformMu.Lock()
	defer s.platformMu.Unlock()

	if l == nil {
		wasRegistered := s.detach()
		if wasRegistered && s.platform != nil {
			s.platform.UnregisterForDiscovery()
		}
		s.logger.Debug("listener detached")
		return nil
	}

	if s.platform == nil {
		return NewRegistrationError("SetListener", nil)
	}

	if err := s.platform.RegisterForDiscovery(s.OnDiscovered); err != nil {
		if s.detach() {
			s.platform.UnregisterForDiscovery()
		}
		s.logger.Warn("discovery registration failed", "error", err)
		return NewRegistrationError("SetListener", err)
	}

	s.deliverMu.Lock()
	s.mu.Lock()
	s.listener = l
	s.generation++
	s.registered = true
	s.mu.Unlock()
	s.deliverMu.Unlock()

	s.logger.Debug("listener attached")
	return nil
}

// detach clears the listener and reports whether the session was registered.
func (s *Session) detach() bool {
	s.deliverMu.Lock()
	defer s.deliverMu.Unlock()
	s.mu.Lock()
	defer s.mu.Unlock()

	wasRegistered := s.registered
	s.listener = nil
	s.generation++
	s.registered = false
	return wasRegistered
}

// HasListener reports whether a listener is attached.
func (s *Session) HasListener() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.listener != nil
}

// OnDiscovered is the discovery handler installed on the platform.
// Without a listener it does nothing. Otherwise the tag is translated and the
// event delivered, provided the same listener is still attached at delivery.
func (s *Session) OnDiscovered(tag DiscoveredTag) {
	s.mu.Lock()
	l := s.listener
	gen := s.generation
	s.mu.Unlock()

	if l == nil {
		return
	}

	event := Translate(tag, s.now())

	if s.deliveryFiltering && !s.filters.Match(event.Message) {
		s.logger.Debug("event filtered", "tag", event.TagIDHex())
		return
	}

	s.deliverMu.RLock()
	defer s.deliverMu.RUnlock()

	s.mu.Lock()
	current := s.listener != nil && s.generation == gen
	s.mu.Unlock()
	if !current {
		s.logger.Debug("dropping event for detached listener", "tag", event.TagIDHex())
		return
	}

	l.HandleEvent(event)
}

// IsNFCAvailable reports whether the adapter exists and is enabled.
func (s *Session) IsNFCAvailable() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.availableLocked()
}

// IsNFCPushAvailable reports whether a tag can be shared with a peer.
// It equals IsNFCAvailable unless the platform reports push capability itself.
func (s *Session) IsNFCPushAvailable() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.pushAvailableLocked()
}

func (s *Session) availableLocked() bool {
	return s.adapter != nil && s.adapter.IsPresent() && s.adapter.IsEnabled()
}

func (s *Session) pushAvailableLocked() bool {
	if !s.availableLocked() {
		return false
	}
	if pc, ok := s.platform.(PushCapability); ok {
		return pc.SupportsPush()
	}
	return true
}

func (s *Session) AddTextTypeFilter() error {
	return s.updateFilter("AddTextTypeFilter", TextFilter(), true)
}

func (s *Session) RemoveTextTypeFilter() error {
	return s.updateFilter("RemoveTextTypeFilter", TextFilter(), false)
}

func (s *Session) AddURITypeFilter(scheme string) error {
	return s.updateFilter("AddURITypeFilter", URISchemeFilter(scheme), true)
}

func (s *Session) RemoveURITypeFilter(scheme string) error {
	return s.updateFilter("RemoveURITypeFilter", URISchemeFilter(scheme), false)
}

func (s *Session) AddMIMETypeFilter(mimeType string) error {
	return s.updateFilter("AddMIMETypeFilter", MIMETypeFilter(mimeType), true)
}

func (s *Session) RemoveMIMETypeFilter(mimeType string) error {
	return s.updateFilter("RemoveMIMETypeFilter", MIMETypeFilter(mimeType), false)
}

// updateFilter checks availability before touching the registry.
func (s *Session) updateFilter(op string, f ContentFilter, add bool) error {
	s.platformMu.Lock()
	defer s.platformMu.Unlock()

	s.mu.Lock()
	if !s.availableLocked() {
		s.mu.Unlock()
		return NewNotSupportedError(op, ReasonNFCUnsupported)
	}
	var changed bool
	if add {
		changed = s.filters.Add(f)
	} else {
		changed = s.filters.Remove(f)
	}
	snapshot := s.filters.Filters()
	s.mu.Unlock()

	if changed {
		s.logger.Debug("filters updated", "op", op, "filter", f.String(), "count", len(snapshot))
		s.pushFilters(snapshot)
	}
	return nil
}

// Filters returns the registered filters in insertion order.
func (s *Session) Filters() []ContentFilter {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.filters.Filters()
}

// ShareTag replaces the shared outgoing tag with a message built from records.
func (s *Session) ShareTag(records []NDEFRecord) error {
	s.platformMu.Lock()
	defer s.platformMu.Unlock()

	s.mu.Lock()
	if !s.pushAvailableLocked() {
		s.mu.Unlock()
		return NewNotSupportedError("ShareTag", ReasonPushUnsupported)
	}
	s.shared = NewNDEFMessage(records...)
	snapshot := s.shared.Clone()
	s.mu.Unlock()

	s.logger.Debug("tag shared", "records", len(records))
	s.publish(snapshot)
	return nil
}

// UnshareTag clears the shared outgoing tag.
func (s *Session) UnshareTag() error {
	s.platformMu.Lock()
	defer s.platformMu.Unlock()

	s.mu.Lock()
	if !s.pushAvailableLocked() {
		s.mu.Unlock()
		return NewNotSupportedError("UnshareTag", ReasonPushUnsupported)
	}
	s.shared = nil
	s.mu.Unlock()

	s.logger.Debug("tag unshared")
	s.publish(nil)
	return nil
}

// SharedTag returns a copy of the shared outgoing tag, or nil.
func (s *Session) SharedTag() *NDEFMessage {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.shared.Clone()
}

// LaunchScanningActivity asks the platform to show its foreground scanning UI.
func (s *Session) LaunchScanningActivity(autoDismiss bool) error {
	launcher, ok := s.platform.(ScanLauncher)
	if !ok {
		return NewNotSupportedError("LaunchScanningActivity", "scanning activity is not available on this platform")
	}
	return launcher.LaunchScan(autoDismiss)
}

// Status returns a snapshot of the session state.
func (s *Session) Status() SessionStatus {
	s.mu.Lock()
	defer s.mu.Unlock()
	return SessionStatus{
		Started:       s.started,
		Available:     s.availableLocked(),
		PushAvailable: s.pushAvailableLocked(),
		Listening:     s.listener != nil,
		Filters:       s.filters.Filters(),
		Shared:        s.shared != nil,
	}
}

func (s *Session) pushFilters(filters []ContentFilter) {
	sink, ok := s.platform.(FilterSink)
	if !ok {
		return
	}
	if err := sink.ApplyFilters(filters); err != nil {
		s.logger.Warn("failed to apply filters on platform", "error", err)
	}
}

func (s *Session) publish(msg *NDEFMessage) {
	pub, ok := s.platform.(SharePublisher)
	if !ok {
		return
	}
	if err := pub.PublishSharedTag(msg); err != nil {
		s.logger.Warn("failed to publish shared tag", "error", err)
	}
}
