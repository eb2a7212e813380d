// Package phonenfc turns a companion Android phone connected over WebSocket
// into a session platform. The phone owns the NFC adapter, dispatch filters,
// peer push and the scanning activity; the bridge relays session state to it
// and discovered tags back.
package phonenfc

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"slices"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"

	"github.com/dotside-studios/davi-nfc-session/nfc"
)

// Config configures a Bridge.
type Config struct {
	HeartbeatTimeout time.Duration
	CommandTimeout   time.Duration
	Logger           *slog.Logger

	// ServerVersion is reported to the phone at registration
	ServerVersion string
}

// Bridge relays a session to at most one phone. The first phone to register
// holds the bridge until it disconnects.
type Bridge struct {
	cfg      Config
	logger   *slog.Logger
	upgrader websocket.Upgrader

	mu        sync.Mutex
	phone     *phone
	handler   nfc.DiscoveryHandler
	filters   []nfc.ContentFilter
	shared    []byte // encoded shared tag; nil when unshared
	pending   map[string]chan CommandResult
	listeners []func(PhoneInfo, bool)
}

var (
	_ nfc.Platform       = (*Bridge)(nil)
	_ nfc.FilterSink     = (*Bridge)(nil)
	_ nfc.SharePublisher = (*Bridge)(nil)
	_ nfc.ScanLauncher   = (*Bridge)(nil)
	_ nfc.PushCapability = (*Bridge)(nil)
)

// NewBridge creates a bridge with no phone attached.
func NewBridge(cfg Config) *Bridge {
	if cfg.HeartbeatTimeout <= 0 {
		cfg.HeartbeatTimeout = HeartbeatTimeout
	}
	if cfg.CommandTimeout <= 0 {
		cfg.CommandTimeout = CommandTimeout
	}
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &Bridge{
		cfg:     cfg,
		logger:  logger.With("component", "phonenfc"),
		pending: make(map[string]chan CommandResult),
		upgrader: websocket.Upgrader{
			CheckOrigin: func(r *http.Request) bool {
				return true // Allow all origins
			},
		},
	}
}

// OnPhoneChange registers a callback invoked when a phone connects (true)
// or disconnects (false).
func (b *Bridge) OnPhoneChange(fn func(info PhoneInfo, connected bool)) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.listeners = append(b.listeners, fn)
}

// Phone returns the connected phone, if any.
func (b *Bridge) Phone() (PhoneInfo, bool) {
	b.mu.Lock()
	p := b.phone
	b.mu.Unlock()
	if p == nil {
		return PhoneInfo{}, false
	}
	return p.info(), true
}

// Close drops the connected phone, if any. The bridge stays usable.
func (b *Bridge) Close() error {
	b.mu.Lock()
	p := b.phone
	b.mu.Unlock()
	if p == nil {
		return nil
	}
	return p.conn.Close()
}

// DefaultAdapter always returns the bridge adapter. It reports absent
// hardware while no phone is connected.
func (b *Bridge) DefaultAdapter() nfc.Adapter {
	return bridgeAdapter{b}
}

func (b *Bridge) currentState() (NFCState, bool) {
	b.mu.Lock()
	p := b.phone
	b.mu.Unlock()
	if p == nil {
		return NFCState{}, false
	}
	return p.nfcState(), true
}

// SupportsPush reports whether the connected phone can push to peers.
func (b *Bridge) SupportsPush() bool {
	state, ok := b.currentState()
	return ok && state.PushSupported
}

// RegisterForDiscovery installs the handler and enables dispatch on the phone.
// It succeeds without a phone; dispatch is enabled when one registers.
func (b *Bridge) RegisterForDiscovery(handler nfc.DiscoveryHandler) error {
	b.mu.Lock()
	b.handler = handler
	p := b.phone
	b.mu.Unlock()

	if p == nil {
		return nil
	}
	return p.send(MessageTypeSetDiscovery, "", SetDiscoveryCommand{Enabled: true})
}

// UnregisterForDiscovery removes the handler and disables dispatch on the phone.
func (b *Bridge) UnregisterForDiscovery() {
	b.mu.Lock()
	b.handler = nil
	p := b.phone
	b.mu.Unlock()

	if p == nil {
		return
	}
	if err := p.send(MessageTypeSetDiscovery, "", SetDiscoveryCommand{Enabled: false}); err != nil {
		b.logger.Warn("failed to disable discovery on phone", "error", err)
	}
}

// ApplyFilters remembers the filters and forwards them to the phone.
func (b *Bridge) ApplyFilters(filters []nfc.ContentFilter) error {
	b.mu.Lock()
	b.filters = append([]nfc.ContentFilter(nil), filters...)
	p := b.phone
	b.mu.Unlock()

	if p == nil {
		return nil
	}
	return p.send(MessageTypeSetFilters, "", SetFiltersCommand{Filters: filters})
}

// PublishSharedTag remembers the shared tag and forwards it to the phone.
func (b *Bridge) PublishSharedTag(msg *nfc.NDEFMessage) error {
	var encoded []byte
	if msg != nil {
		data, err := msg.Encode()
		if err != nil {
			return err
		}
		encoded = data
	}

	b.mu.Lock()
	b.shared = encoded
	p := b.phone
	b.mu.Unlock()

	if p == nil {
		return nil
	}
	if encoded == nil {
		return p.send(MessageTypeUnshareTag, "", nil)
	}
	return p.send(MessageTypeShareTag, "", ShareTagCommand{NDEF: encoded})
}

// LaunchScan opens the scanning activity on the phone.
func (b *Bridge) LaunchScan(autoDismiss bool) error {
	b.mu.Lock()
	p := b.phone
	b.mu.Unlock()

	if p == nil {
		return nfc.NewNotSupportedError("LaunchScan", "no phone connected")
	}
	return p.send(MessageTypeLaunchScanning, "", LaunchScanningCommand{AutoDismiss: autoDismiss})
}

// attach claims the bridge for p. It fails if another phone holds it.
func (b *Bridge) attach(p *phone) error {
	b.mu.Lock()
	if b.phone != nil {
		holder := b.phone.name
		b.mu.Unlock()
		return fmt.Errorf("bridge is held by %q", holder)
	}
	b.phone = p
	listeners := slices.Clone(b.listeners)
	b.mu.Unlock()

	for _, fn := range listeners {
		fn(p.info(), true)
	}
	return nil
}

// replay sends the session state the phone missed while disconnected.
func (b *Bridge) replay(p *phone) error {
	b.mu.Lock()
	discovering := b.handler != nil
	filters := append([]nfc.ContentFilter(nil), b.filters...)
	shared := b.shared
	b.mu.Unlock()

	if err := p.send(MessageTypeSetDiscovery, "", SetDiscoveryCommand{Enabled: discovering}); err != nil {
		return err
	}
	if err := p.send(MessageTypeSetFilters, "", SetFiltersCommand{Filters: filters}); err != nil {
		return err
	}
	if shared != nil {
		return p.send(MessageTypeShareTag, "", ShareTagCommand{NDEF: shared})
	}
	return nil
}

// detach releases the bridge and fails outstanding commands.
func (b *Bridge) detach(p *phone) {
	b.mu.Lock()
	if b.phone != p {
		b.mu.Unlock()
		return
	}
	b.phone = nil
	pending := b.pending
	b.pending = make(map[string]chan CommandResult)
	listeners := slices.Clone(b.listeners)
	b.mu.Unlock()

	for _, ch := range pending {
		ch <- CommandResult{Success: false, Error: "phone disconnected"}
	}
	for _, fn := range listeners {
		fn(p.info(), false)
	}
}

// dispatch hands a discovered tag to the installed handler.
func (b *Bridge) dispatch(p *phone, data TagDiscoveredData) error {
	tag, err := toDiscoveredTag(data)
	if err != nil {
		return err
	}
	tag.Handle = &phoneNDEFHandle{bridge: b, deviceID: p.id, tagID: data.TagID}

	b.mu.Lock()
	handler := b.handler
	b.mu.Unlock()

	if handler == nil {
		b.logger.Debug("tag discovered with no handler installed", "tag", data.TagID)
		return nil
	}
	handler(tag)
	return nil
}

// resolve completes a pending command. Unknown IDs return false.
func (b *Bridge) resolve(requestID string, result CommandResult) bool {
	b.mu.Lock()
	ch, ok := b.pending[requestID]
	delete(b.pending, requestID)
	b.mu.Unlock()

	if !ok {
		return false
	}
	ch <- result
	return true
}

// request sends a command to the phone identified by deviceID and waits for
// its commandResult.
func (b *Bridge) request(ctx context.Context, deviceID, msgType string, payload any) (CommandResult, error) {
	requestID := uuid.NewString()
	ch := make(chan CommandResult, 1)

	b.mu.Lock()
	p := b.phone
	if p == nil || p.id != deviceID {
		b.mu.Unlock()
		return CommandResult{}, fmt.Errorf("phone %s is not connected", deviceID)
	}
	b.pending[requestID] = ch
	b.mu.Unlock()

	defer func() {
		b.mu.Lock()
		delete(b.pending, requestID)
		b.mu.Unlock()
	}()

	if err := p.send(msgType, requestID, payload); err != nil {
		return CommandResult{}, fmt.Errorf("send %s: %w", msgType, err)
	}

	if _, ok := ctx.Deadline(); !ok {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, b.cfg.CommandTimeout)
		defer cancel()
	}

	select {
	case res := <-ch:
		if !res.Success {
			return res, fmt.Errorf("%s failed on phone: %s", msgType, res.Error)
		}
		return res, nil
	case <-ctx.Done():
		return CommandResult{}, ctx.Err()
	}
}

// bridgeAdapter reports the connected phone's NFC state.
type bridgeAdapter struct {
	b *Bridge
}

func (a bridgeAdapter) IsPresent() bool {
	state, ok := a.b.currentState()
	return ok && state.Present
}

func (a bridgeAdapter) IsEnabled() bool {
	state, ok := a.b.currentState()
	return ok && state.Enabled
}

// phoneNDEFHandle reads and writes a tag through the phone that discovered it.
type phoneNDEFHandle struct {
	bridge   *Bridge
	deviceID string
	tagID    string
}

func (h *phoneNDEFHandle) ReadNDEF(ctx context.Context) (*nfc.NDEFMessage, error) {
	res, err := h.bridge.request(ctx, h.deviceID, MessageTypeReadNDEF, TagCommand{TagID: h.tagID})
	if err != nil {
		return nil, err
	}
	if len(res.NDEF) == 0 {
		return &nfc.NDEFMessage{}, nil
	}
	return nfc.DecodeMessage(res.NDEF)
}

func (h *phoneNDEFHandle) WriteNDEF(ctx context.Context, msg *nfc.NDEFMessage) error {
	data, err := msg.Encode()
	if err != nil {
		return err
	}
	_, err = h.bridge.request(ctx, h.deviceID, MessageTypeWriteNDEF, TagCommand{TagID: h.tagID, NDEF: data})
	return err
}
