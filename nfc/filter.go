package nfc

import (
	"strings"
	"sync"
)

// FilterKind identifies the kind of content a filter selects.
type FilterKind string

const (
	FilterText      FilterKind = "text"
	FilterURIScheme FilterKind = "uri"
	FilterMIMEType  FilterKind = "mime"
)

// ContentFilter narrows which discovered messages should surface.
// Value is the URI scheme or MIME type; it is empty for text filters.
type ContentFilter struct {
	Kind  FilterKind `json:"kind"`
	Value string     `json:"value,omitempty"`
}

// TextFilter returns the filter matching any text record.
func TextFilter() ContentFilter {
	return ContentFilter{Kind: FilterText}
}

// URISchemeFilter returns a filter matching URI records with the given scheme.
// The scheme is stored lower-cased without a trailing colon, so filters that
// match the same records compare equal.
func URISchemeFilter(scheme string) ContentFilter {
	return ContentFilter{Kind: FilterURIScheme, Value: normalizeScheme(scheme)}
}

// MIMETypeFilter returns a filter matching media records of the given type.
// The type is stored lower-cased with parameters dropped.
func MIMETypeFilter(mimeType string) ContentFilter {
	return ContentFilter{Kind: FilterMIMEType, Value: normalizeMIME(mimeType)}
}

func (f ContentFilter) String() string {
	if f.Value == "" {
		return string(f.Kind)
	}
	return string(f.Kind) + ":" + f.Value
}

// Matches reports whether a single record satisfies the filter.
func (f ContentFilter) Matches(r NDEFRecord) bool {
	switch f.Kind {
	case FilterText:
		return r.IsText()
	case FilterURIScheme:
		scheme, ok := r.URIScheme()
		return ok && scheme == normalizeScheme(f.Value)
	case FilterMIMEType:
		mt, ok := r.MIMEType()
		return ok && normalizeMIME(mt) == normalizeMIME(f.Value)
	}
	return false
}

func normalizeScheme(s string) string {
	return strings.ToLower(strings.TrimSuffix(strings.TrimSpace(s), ":"))
}

func normalizeMIME(s string) string {
	mt, _, _ := strings.Cut(s, ";")
	return strings.ToLower(strings.TrimSpace(mt))
}

// FilterRegistry is an ordered set of content filters.
// Insertion order is kept so that listings and removals are deterministic.
type FilterRegistry struct {
	filters []ContentFilter
	mu      sync.RWMutex
}

// NewFilterRegistry creates an empty registry.
func NewFilterRegistry() *FilterRegistry {
	return &FilterRegistry{}
}

// Add inserts the filter if absent. Returns true if it was inserted.
func (r *FilterRegistry) Add(f ContentFilter) bool {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.indexOf(f) >= 0 {
		return false
	}
	r.filters = append(r.filters, f)
	return true
}

// Remove deletes the filter if present. Returns true if it was removed.
func (r *FilterRegistry) Remove(f ContentFilter) bool {
	r.mu.Lock()
	defer r.mu.Unlock()

	i := r.indexOf(f)
	if i < 0 {
		return false
	}
	r.filters = append(r.filters[:i], r.filters[i+1:]...)
	return true
}

// Contains reports whether the filter is registered.
func (r *FilterRegistry) Contains(f ContentFilter) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.indexOf(f) >= 0
}

// Filters returns a copy of the registered filters in insertion order.
func (r *FilterRegistry) Filters() []ContentFilter {
	r.mu.RLock()
	defer r.mu.RUnlock()

	out := make([]ContentFilter, len(r.filters))
	copy(out, r.filters)
	return out
}

// Len returns the number of registered filters.
func (r *FilterRegistry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.filters)
}

// Clear removes every filter.
func (r *FilterRegistry) Clear() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.filters = nil
}

// Match reports whether any filter matches any record of msg.
// An empty registry matches everything, including a nil message.
func (r *FilterRegistry) Match(msg *NDEFMessage) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()

	if len(r.filters) == 0 {
		return true
	}
	if msg == nil {
		return false
	}
	for _, f := range r.filters {
		for _, rec := range msg.Records {
			if f.Matches(rec) {
				return true
			}
		}
	}
	return false
}

func (r *FilterRegistry) indexOf(f ContentFilter) int {
	for i, existing := range r.filters {
		if existing == f {
			return i
		}
	}
	return -1
}
