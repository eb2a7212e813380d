package server

import (
	"sync"

	"github.com/dotside-studios/davi-nfc-session/nfc"
	"github.com/dotside-studios/davi-nfc-session/protocol"
)

// tagIndex keeps the most recent event per tag so clients can address a
// tag by ID after it was discovered. The oldest tag is evicted first.
type tagIndex struct {
	mu       sync.Mutex
	capacity int
	order    []string
	events   map[string]nfc.TagEvent
}

func newTagIndex(capacity int) *tagIndex {
	if capacity < 1 {
		capacity = 1
	}
	return &tagIndex{
		capacity: capacity,
		events:   make(map[string]nfc.TagEvent),
	}
}

func (t *tagIndex) remember(e nfc.TagEvent) {
	key := protocol.FormatUID(e.TagID)

	t.mu.Lock()
	defer t.mu.Unlock()

	if _, ok := t.events[key]; ok {
		t.drop(key)
	}
	t.events[key] = e
	t.order = append(t.order, key)

	for len(t.order) > t.capacity {
		oldest := t.order[0]
		t.order = t.order[1:]
		delete(t.events, oldest)
	}
}

func (t *tagIndex) drop(key string) {
	for i, k := range t.order {
		if k == key {
			t.order = append(t.order[:i], t.order[i+1:]...)
			return
		}
	}
}

// lookup finds a tag by ID in any of the forms ParseUID accepts.
func (t *tagIndex) lookup(tagID string) (nfc.TagEvent, bool) {
	id, err := protocol.ParseUID(tagID)
	if err != nil {
		return nfc.TagEvent{}, false
	}

	t.mu.Lock()
	defer t.mu.Unlock()
	e, ok := t.events[protocol.FormatUID(id)]
	return e, ok
}
