package nfc

import (
	"context"
	"fmt"
	"sync"
)

// MockAdapter is a test Adapter with settable state.
type MockAdapter struct {
	mu      sync.Mutex
	present bool
	enabled bool
}

// NewMockAdapter creates an adapter with the given state.
func NewMockAdapter(present, enabled bool) *MockAdapter {
	return &MockAdapter{present: present, enabled: enabled}
}

func (a *MockAdapter) IsPresent() bool {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.present
}

func (a *MockAdapter) IsEnabled() bool {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.enabled
}

// SetEnabled simulates the user switching NFC on or off.
func (a *MockAdapter) SetEnabled(enabled bool) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.enabled = enabled
}

// MockPlatform is a test implementation of Platform that records calls and
// lets tests fire discovery callbacks.
//
// Example:
//
//	platform := NewMockPlatform(NewMockAdapter(true, true))
//	session := NewSession(platform)
//	session.Start()
//	_ = session.SetListener(ListenerFunc(func(e TagEvent) {}))
//	platform.Discover(DiscoveredTag{ID: []byte{0x01}, Techs: []string{TechNDEF}})
type MockPlatform struct {
	// Adapter is returned by DefaultAdapter; a nil *MockAdapter means no hardware
	Adapter *MockAdapter

	// RegisterError, if set, will be returned by RegisterForDiscovery()
	RegisterError error

	// ApplyFiltersError, if set, will be returned by ApplyFilters()
	ApplyFiltersError error

	// Push is returned by SupportsPush()
	Push bool

	// AppliedFilters is the last filter set pushed by the session
	AppliedFilters []ContentFilter

	// Published is the last shared tag pushed by the session
	Published *NDEFMessage

	// Launches records the autoDismiss argument of each LaunchScan call
	Launches []bool

	// CallLog tracks all method calls for verification in tests
	CallLog []string

	handler DiscoveryHandler
	mu      sync.Mutex
}

// NewMockPlatform creates a platform with push support and the given adapter.
func NewMockPlatform(adapter *MockAdapter) *MockPlatform {
	return &MockPlatform{
		Adapter: adapter,
		Push:    true,
		CallLog: make([]string, 0),
	}
}

func (p *MockPlatform) DefaultAdapter() Adapter {
	p.mu.Lock()
	defer p.mu.Unlock()

	p.CallLog = append(p.CallLog, "DefaultAdapter")
	if p.Adapter == nil {
		return nil
	}
	return p.Adapter
}

func (p *MockPlatform) RegisterForDiscovery(handler DiscoveryHandler) error {
	p.mu.Lock()
	defer p.mu.Unlock()

	p.CallLog = append(p.CallLog, "RegisterForDiscovery")
	if p.RegisterError != nil {
		return p.RegisterError
	}
	p.handler = handler
	return nil
}

func (p *MockPlatform) UnregisterForDiscovery() {
	p.mu.Lock()
	defer p.mu.Unlock()

	p.CallLog = append(p.CallLog, "UnregisterForDiscovery")
	p.handler = nil
}

func (p *MockPlatform) ApplyFilters(filters []ContentFilter) error {
	p.mu.Lock()
	defer p.mu.Unlock()

	p.CallLog = append(p.CallLog, fmt.Sprintf("ApplyFilters(%d)", len(filters)))
	if p.ApplyFiltersError != nil {
		return p.ApplyFiltersError
	}
	p.AppliedFilters = append([]ContentFilter(nil), filters...)
	return nil
}

func (p *MockPlatform) PublishSharedTag(msg *NDEFMessage) error {
	p.mu.Lock()
	defer p.mu.Unlock()

	p.CallLog = append(p.CallLog, "PublishSharedTag")
	p.Published = msg.Clone()
	return nil
}

func (p *MockPlatform) LaunchScan(autoDismiss bool) error {
	p.mu.Lock()
	defer p.mu.Unlock()

	p.CallLog = append(p.CallLog, fmt.Sprintf("LaunchScan(%t)", autoDismiss))
	p.Launches = append(p.Launches, autoDismiss)
	return nil
}

func (p *MockPlatform) SupportsPush() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.Push
}

// Registered reports whether a discovery handler is installed.
func (p *MockPlatform) Registered() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.handler != nil
}

// Discover invokes the installed discovery handler, if any.
// It returns false when no handler is installed.
func (p *MockPlatform) Discover(tag DiscoveredTag) bool {
	p.mu.Lock()
	h := p.handler
	p.mu.Unlock()

	if h == nil {
		return false
	}
	h(tag)
	return true
}

// Calls returns a copy of the call log.
func (p *MockPlatform) Calls() []string {
	p.mu.Lock()
	defer p.mu.Unlock()
	return append([]string(nil), p.CallLog...)
}

// MockNDEFHandle is an in-memory NDEFHandle.
type MockNDEFHandle struct {
	// Message is what ReadNDEF returns and WriteNDEF replaces
	Message *NDEFMessage

	// ReadError, if set, will be returned by ReadNDEF()
	ReadError error

	// WriteError, if set, will be returned by WriteNDEF()
	WriteError error

	mu sync.Mutex
}

func (h *MockNDEFHandle) ReadNDEF(ctx context.Context) (*NDEFMessage, error) {
	h.mu.Lock()
	defer h.mu.Unlock()

	if h.ReadError != nil {
		return nil, h.ReadError
	}
	return h.Message.Clone(), nil
}

func (h *MockNDEFHandle) WriteNDEF(ctx context.Context, msg *NDEFMessage) error {
	h.mu.Lock()
	defer h.mu.Unlock()

	if h.WriteError != nil {
		return h.WriteError
	}
	h.Message = msg.Clone()
	return nil
}
