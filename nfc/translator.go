package nfc

import (
	"encoding/hex"
	"time"
)

// DiscoveredTag is a tag as reported by a platform's discovery source.
type DiscoveredTag struct {
	ID    []byte
	Techs []string

	// Handle is the NDEF binding for the tag, if the platform has one.
	Handle NDEFHandle

	// Message is the NDEF message read during discovery, if any.
	Message *NDEFMessage
}

// TagEvent is what a session delivers to its listener.
type TagEvent struct {
	TagID []byte
	Techs []string

	// Technology is the primary technology, nil when the tag exposes none.
	Technology   TagTechnology
	Message      *NDEFMessage
	DiscoveredAt time.Time
}

// TagIDHex returns the tag ID as lower-case hex.
func (e TagEvent) TagIDHex() string {
	return hex.EncodeToString(e.TagID)
}

// NDEF returns the primary technology as NDEF, if it is one.
func (e TagEvent) NDEF() (*NDEFTechnology, bool) {
	t, ok := e.Technology.(*NDEFTechnology)
	return t, ok
}

// Translate converts a discovered tag into an event.
//
// The first NDEF entry in the tech list becomes the primary technology and
// scanning stops there. Tags without one still produce an event.
func Translate(tag DiscoveredTag, now time.Time) TagEvent {
	event := TagEvent{
		TagID:        append([]byte(nil), tag.ID...),
		Techs:        append([]string(nil), tag.Techs...),
		Message:      tag.Message,
		DiscoveredAt: now,
	}

	for _, tech := range tag.Techs {
		if tech == TechNDEF {
			event.Technology = NewNDEFTechnology(tag.ID, tag.Handle)
			break
		}
	}
	return event
}
