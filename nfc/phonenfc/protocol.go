package phonenfc

import (
	"fmt"

	"github.com/dotside-studios/davi-nfc-session/nfc"
	"github.com/dotside-studios/davi-nfc-session/protocol"
)

// NFCState is the phone's report of its NFC hardware.
type NFCState struct {
	Present       bool `json:"present"`
	Enabled       bool `json:"enabled"`
	PushSupported bool `json:"pushSupported"`
}

// DeviceRegistrationRequest is sent by the phone app to claim the bridge.
type DeviceRegistrationRequest struct {
	DeviceName string   `json:"deviceName"` // e.g., "Pixel 8"
	Platform   string   `json:"platform"`   // "android"
	AppVersion string   `json:"appVersion"` // e.g., "1.0.0"
	NFC        NFCState `json:"nfc"`
}

// DeviceRegistrationResponse is sent after a successful registration.
type DeviceRegistrationResponse struct {
	DeviceID      string `json:"deviceId"`
	ServerVersion string `json:"serverVersion"`

	// HeartbeatIntervalMs tells the phone how often to send deviceHeartbeat
	HeartbeatIntervalMs int64 `json:"heartbeatIntervalMs"`
}

// TagDiscoveredData is sent by the phone when its discovery dispatch fires.
type TagDiscoveredData struct {
	TagID    string   `json:"tagId"`    // hex
	TechList []string `json:"techList"` // e.g., ["android.nfc.tech.NfcA", "android.nfc.tech.Ndef"]
	NDEF     []byte   `json:"ndef"`     // cached NDEF message, base64 in JSON
}

// CommandResult is the phone's answer to a command carrying a request ID.
type CommandResult struct {
	Success bool   `json:"success"`
	Error   string `json:"error,omitempty"`
	NDEF    []byte `json:"ndef,omitempty"`
}

// SetDiscoveryCommand turns the phone's foreground dispatch on or off.
type SetDiscoveryCommand struct {
	Enabled bool `json:"enabled"`
}

// SetFiltersCommand replaces the phone's dispatch filters.
type SetFiltersCommand struct {
	Filters []nfc.ContentFilter `json:"filters"`
}

// ShareTagCommand sets the message pushed to peers on touch.
type ShareTagCommand struct {
	NDEF []byte `json:"ndef"`
}

// LaunchScanningCommand opens the phone's scanning activity.
type LaunchScanningCommand struct {
	AutoDismiss bool `json:"autoDismiss"`
}

// TagCommand addresses a tag currently held by the phone.
type TagCommand struct {
	TagID string `json:"tagId"`
	NDEF  []byte `json:"ndef,omitempty"`
}

// toDiscoveredTag converts the wire form into a session tag.
// A malformed NDEF blob is dropped rather than rejecting the tag.
func toDiscoveredTag(data TagDiscoveredData) (nfc.DiscoveredTag, error) {
	id, err := protocol.ParseUID(data.TagID)
	if err != nil {
		return nfc.DiscoveredTag{}, fmt.Errorf("invalid tag id: %w", err)
	}

	tag := nfc.DiscoveredTag{
		ID:    id,
		Techs: data.TechList,
	}
	if len(data.NDEF) > 0 {
		if msg, err := nfc.DecodeMessage(data.NDEF); err == nil {
			tag.Message = msg
		}
	}
	return tag, nil
}
