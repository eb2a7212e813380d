// Package libnfc drives a USB NFC reader through libnfc and libfreefare and
// exposes it as a session platform.
package libnfc

import (
	"context"
	"encoding/hex"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/clausecker/freefare"
	gonfc "github.com/clausecker/nfc/v2"

	"github.com/dotside-studios/davi-nfc-session/nfc"
)

const (
	DefaultPollInterval  = 250 * time.Millisecond
	DefaultRemoveAfter   = 4
	deviceEnumRetries    = 3
	maxPollErrors        = 5
	discoveryReadTimeout = 2 * time.Second
)

// errNotFormatted marks a tag that carries no NDEF structure at all.
var errNotFormatted = errors.New("tag is not NDEF formatted")

// Config configures a Reader.
type Config struct {
	// Device is the libnfc connection string; empty selects the first reader
	Device       string
	PollInterval time.Duration

	// RemoveAfter is the number of empty polls before a tag counts as gone
	RemoveAfter int
	Logger      *slog.Logger
}

// scannedTag is one tag found during a poll.
type scannedTag struct {
	uid    string
	family string
	handle nfc.NDEFHandle
}

// scanner lists the tags currently in the reader's field.
type scanner interface {
	scan() ([]scannedTag, error)
	close() error
}

// Reader is a session platform backed by a libnfc reader.
// It has no peer-to-peer mode, so push is never available.
type Reader struct {
	cfg      Config
	logger   *slog.Logger
	presence *presenceCache

	devMu sync.Mutex // serializes device access between polling and tag I/O

	mu        sync.Mutex
	scanner   scanner
	opened    bool
	healthy   bool
	errCount  int
	handler   nfc.DiscoveryHandler
	cancel    context.CancelFunc
	done      chan struct{} // closed when the poll loop has exited
	connected string
}

var (
	_ nfc.Platform       = (*Reader)(nil)
	_ nfc.PushCapability = (*Reader)(nil)
)

// New creates a Reader. Call Open to attach the hardware.
func New(cfg Config) *Reader {
	if cfg.PollInterval <= 0 {
		cfg.PollInterval = DefaultPollInterval
	}
	if cfg.RemoveAfter <= 0 {
		cfg.RemoveAfter = DefaultRemoveAfter
	}
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &Reader{
		cfg:      cfg,
		logger:   logger.With("component", "libnfc"),
		presence: newPresenceCache(cfg.RemoveAfter),
	}
}

// ListDevices returns the connection strings of attached readers.
func ListDevices() ([]string, error) {
	var devices []string
	var err error
	for i := 0; i < deviceEnumRetries; i++ {
		devices, err = gonfc.ListDevices()
		if err == nil {
			return devices, nil
		}
		time.Sleep(100 * time.Millisecond)
	}
	return nil, fmt.Errorf("failed to list NFC devices after %d retries: %w", deviceEnumRetries, err)
}

// Open connects to the configured reader and puts it in initiator mode.
func (r *Reader) Open() error {
	dev, err := gonfc.Open(r.cfg.Device)
	if err != nil {
		return fmt.Errorf("open nfc device %q: %w", r.cfg.Device, err)
	}
	if err := dev.InitiatorInit(); err != nil {
		dev.Close()
		return fmt.Errorf("init nfc device %q: %w", r.cfg.Device, err)
	}

	r.attach(&deviceScanner{dev: dev, mu: &r.devMu, logger: r.logger}, dev.Connection())
	r.logger.Info("reader opened", "device", dev.String(), "connection", dev.Connection())
	return nil
}

func (r *Reader) attach(sc scanner, connection string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.scanner = sc
	r.opened = true
	r.healthy = true
	r.errCount = 0
	r.connected = connection
}

// Connection returns the connection string of the opened reader.
func (r *Reader) Connection() string {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.connected
}

// Close stops polling and releases the device.
func (r *Reader) Close() error {
	r.UnregisterForDiscovery()

	r.mu.Lock()
	sc := r.scanner
	r.scanner = nil
	r.opened = false
	r.healthy = false
	r.mu.Unlock()

	r.presence.Clear()
	if sc == nil {
		return nil
	}
	return sc.close()
}

// DefaultAdapter returns nil until the reader is opened.
func (r *Reader) DefaultAdapter() nfc.Adapter {
	r.mu.Lock()
	defer r.mu.Unlock()
	if !r.opened {
		return nil
	}
	return readerAdapter{r}
}

// SupportsPush is always false for a USB reader.
func (r *Reader) SupportsPush() bool {
	return false
}

// RegisterForDiscovery installs the handler and starts polling.
func (r *Reader) RegisterForDiscovery(handler nfc.DiscoveryHandler) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.handler = handler
	if r.cancel != nil {
		return nil
	}
	if !r.opened {
		r.logger.Warn("no reader opened; discovery will stay idle")
		return nil
	}

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	r.cancel = cancel
	r.done = done
	go r.run(ctx, done)
	return nil
}

// UnregisterForDiscovery removes the handler and stops polling. It returns
// once the poll loop has exited and the presence cache is cleared, so a
// later RegisterForDiscovery starts from a clean state.
// It must not be called from inside a discovery handler.
func (r *Reader) UnregisterForDiscovery() {
	r.mu.Lock()
	r.handler = nil
	cancel, done := r.cancel, r.done
	r.cancel, r.done = nil, nil
	r.mu.Unlock()

	if cancel == nil {
		return
	}
	cancel()
	<-done
}

func (r *Reader) run(ctx context.Context, done chan<- struct{}) {
	defer close(done)

	ticker := time.NewTicker(r.cfg.PollInterval)
	defer ticker.Stop()

	r.logger.Debug("polling started", "interval", r.cfg.PollInterval)
	for {
		select {
		case <-ctx.Done():
			r.presence.Clear()
			r.logger.Debug("polling stopped")
			return
		case <-ticker.C:
			r.poll(ctx)
		}
	}
}

// poll scans once and reports newly arrived tags.
func (r *Reader) poll(ctx context.Context) {
	r.mu.Lock()
	sc := r.scanner
	r.mu.Unlock()
	if sc == nil {
		return
	}

	found, err := sc.scan()
	if !r.recordScanResult(err) {
		return
	}

	byUID := make(map[string]scannedTag, len(found))
	uids := make([]string, 0, len(found))
	for _, t := range found {
		byUID[t.uid] = t
		uids = append(uids, t.uid)
	}

	for _, uid := range r.presence.Observe(uids) {
		if ctx.Err() != nil {
			return
		}
		tag, err := r.discovered(ctx, byUID[uid])
		if err != nil {
			r.logger.Warn("skipping tag", "uid", uid, "error", err)
			continue
		}

		r.mu.Lock()
		handler := r.handler
		r.mu.Unlock()
		if handler == nil {
			return
		}
		handler(tag)
	}
}

// recordScanResult tracks consecutive failures and reports whether to continue.
func (r *Reader) recordScanResult(err error) bool {
	r.mu.Lock()
	defer r.mu.Unlock()

	if err == nil {
		if !r.healthy {
			r.logger.Info("reader recovered")
		}
		r.errCount = 0
		r.healthy = true
		return true
	}

	r.errCount++
	r.logger.Debug("poll failed", "error", err, "consecutive", r.errCount)
	if r.errCount >= maxPollErrors && r.healthy {
		r.healthy = false
		r.logger.Error("reader unresponsive", "error", err)
	}
	return false
}

func (r *Reader) discovered(ctx context.Context, t scannedTag) (nfc.DiscoveredTag, error) {
	id, err := hex.DecodeString(t.uid)
	if err != nil {
		return nfc.DiscoveredTag{}, fmt.Errorf("bad uid %q: %w", t.uid, err)
	}

	tag := nfc.DiscoveredTag{
		ID:    id,
		Techs: techList(t.family),
	}

	handle := t.handle
	if handle != nil {
		readCtx, cancel := context.WithTimeout(ctx, discoveryReadTimeout)
		msg, err := handle.ReadNDEF(readCtx)
		cancel()
		switch {
		case errors.Is(err, errNotFormatted):
			r.logger.Debug("tag has no ndef structure", "uid", t.uid, "error", err)
			handle = nil
		case err != nil:
			r.logger.Debug("ndef read at discovery failed", "uid", t.uid, "error", err)
		default:
			tag.Message = msg
		}
	}
	if handle != nil {
		tag.Techs = append(tag.Techs, nfc.TechNDEF)
		tag.Handle = handle
	}
	return tag, nil
}

// readerAdapter reports the reader state to the session.
type readerAdapter struct {
	r *Reader
}

func (a readerAdapter) IsPresent() bool {
	a.r.mu.Lock()
	defer a.r.mu.Unlock()
	return a.r.opened
}

func (a readerAdapter) IsEnabled() bool {
	a.r.mu.Lock()
	defer a.r.mu.Unlock()
	return a.r.opened && a.r.healthy
}

// deviceScanner finds tags with freefare, then picks up ISO14443-4 targets
// freefare does not know about.
type deviceScanner struct {
	dev    gonfc.Device
	mu     *sync.Mutex
	logger *slog.Logger
}

func (s *deviceScanner) scan() ([]scannedTag, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var found []scannedTag
	seen := make(map[string]bool)

	ffTags, ffErr := freefare.GetTags(s.dev)
	if ffErr == nil {
		for _, ffTag := range ffTags {
			uid := strings.ToLower(ffTag.UID())
			if seen[uid] {
				continue
			}
			seen[uid] = true

			switch t := ffTag.(type) {
			case freefare.UltralightTag:
				found = append(found, scannedTag{uid: uid, family: familyUltralight, handle: newUltralightHandle(t, s.mu)})
			case freefare.ClassicTag:
				found = append(found, scannedTag{uid: uid, family: familyClassic, handle: newClassicHandle(uid, madCard{t}, s.mu)})
			case freefare.DESFireTag:
				found = append(found, scannedTag{uid: uid, family: familyDESFire, handle: newDESFireHandle(uid, t, s.mu)})
			default:
				found = append(found, scannedTag{uid: uid})
			}
		}
	}

	modulation := gonfc.Modulation{Type: gonfc.ISO14443a, BaudRate: gonfc.Nbr106}
	targets, listErr := s.dev.InitiatorListPassiveTargets(modulation)
	if listErr != nil {
		if ffErr != nil {
			return nil, fmt.Errorf("freefare: %v; passive targets: %w", ffErr, listErr)
		}
		return found, nil
	}

	for _, target := range targets {
		isoA, ok := target.(*gonfc.ISO14443aTarget)
		if !ok || isoA.UIDLen == 0 || int(isoA.UIDLen) > len(isoA.UID) {
			continue
		}
		uidBytes := append([]byte(nil), isoA.UID[:isoA.UIDLen]...)
		uid := hex.EncodeToString(uidBytes)
		if seen[uid] {
			continue
		}
		seen[uid] = true
		if isoA.Sak&0x20 != 0 {
			link := &targetLink{dev: s.dev, uid: uidBytes}
			found = append(found, scannedTag{uid: uid, family: familyType4, handle: newType4Handle(uid, link, s.mu)})
		} else {
			found = append(found, scannedTag{uid: uid})
		}
	}
	return found, nil
}

func (s *deviceScanner) close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.dev.Close()
}
