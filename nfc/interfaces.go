package nfc

import "context"

// Adapter reports the state of the NFC hardware behind a platform.
type Adapter interface {
	// IsPresent returns true if the hardware exists
	IsPresent() bool

	// IsEnabled returns true if the hardware is switched on
	IsEnabled() bool
}

// DiscoveryHandler receives tags from a platform's discovery source.
type DiscoveryHandler func(tag DiscoveredTag)

// Platform is the hardware side of a session.
//
// Platforms may additionally implement FilterSink, SharePublisher,
// ScanLauncher and PushCapability. The session detects these with
// type assertions and falls back to defaults when absent.
type Platform interface {
	// DefaultAdapter returns the current adapter, or nil when there is no hardware.
	DefaultAdapter() Adapter

	// RegisterForDiscovery installs the handler, replacing any previous one.
	// The handler may be invoked from any goroutine.
	RegisterForDiscovery(handler DiscoveryHandler) error

	// UnregisterForDiscovery removes the handler. It is safe to call when none is installed.
	UnregisterForDiscovery()
}

// FilterSink is implemented by platforms that scan for content filters in hardware.
type FilterSink interface {
	ApplyFilters(filters []ContentFilter) error
}

// SharePublisher is implemented by platforms that can push a message to a peer.
// A nil message clears the published tag.
type SharePublisher interface {
	PublishSharedTag(msg *NDEFMessage) error
}

// ScanLauncher is implemented by platforms with a foreground scanning UI.
type ScanLauncher interface {
	LaunchScan(autoDismiss bool) error
}

// PushCapability is implemented by platforms that know whether peer push works
// independently of general availability.
type PushCapability interface {
	SupportsPush() bool
}

// NDEFHandle is the hardware binding used by NDEFTechnology.
type NDEFHandle interface {
	ReadNDEF(ctx context.Context) (*NDEFMessage, error)
	WriteNDEF(ctx context.Context, msg *NDEFMessage) error
}

// Listener receives tag events from a session.
type Listener interface {
	HandleEvent(event TagEvent)
}

// ListenerFunc adapts a function to the Listener interface.
type ListenerFunc func(event TagEvent)

// HandleEvent calls f(event).
func (f ListenerFunc) HandleEvent(event TagEvent) {
	f(event)
}
