package protocol

import "time"

// FilterRequest is the payload for the URI and MIME filter requests.
type FilterRequest struct {
	Value string `json:"value"`
}

// ShareTagRequest is the payload for shareTag.
type ShareTagRequest struct {
	Records []NDEFRecordInput `json:"records"`
}

// LaunchScanRequest is the payload for launchScanningActivity.
type LaunchScanRequest struct {
	AutoDismiss bool `json:"autoDismiss"`
}

// WriteTagRequest is the payload for writeTag.
type WriteTagRequest struct {
	TagID   string            `json:"tagId"`
	Records []NDEFRecordInput `json:"records"`
}

// HistoryRequest is the payload for getHistory.
type HistoryRequest struct {
	Limit int `json:"limit,omitempty"`
}

// AvailabilityPayload answers isNfcAvailable and isNfcPushAvailable.
type AvailabilityPayload struct {
	Available bool `json:"available"`
}

// FilterPayload describes one registered content filter.
type FilterPayload struct {
	Kind  string `json:"kind"`
	Value string `json:"value,omitempty"`
}

// TagEventPayload is broadcast to subscribed clients when a tag is discovered.
type TagEventPayload struct {
	TagID             string              `json:"tagId"`
	Techs             []string            `json:"techs"`
	PrimaryTechnology string              `json:"primaryTechnology,omitempty"`
	Records           []NDEFRecordPayload `json:"records,omitempty"`
	DiscoveredAt      time.Time           `json:"discoveredAt"`
}

// StatusPayload is returned by getStatus and GET /api/v1/status.
type StatusPayload struct {
	Started       bool            `json:"started"`
	Available     bool            `json:"available"`
	PushAvailable bool            `json:"pushAvailable"`
	Listening     bool            `json:"listening"`
	Shared        bool            `json:"shared"`
	Filters       []FilterPayload `json:"filters"`
	Clients       int             `json:"clients"`
	Subscribers   int             `json:"subscribers"`
	Platform      string          `json:"platform"`
}

// HistoryEntry is one recorded tag event.
type HistoryEntry struct {
	ID                string    `json:"id"`
	TagID             string    `json:"tagId"`
	Techs             []string  `json:"techs"`
	PrimaryTechnology string    `json:"primaryTechnology,omitempty"`
	Texts             []string  `json:"texts,omitempty"`
	NDEF              []byte    `json:"ndef,omitempty"`
	DiscoveredAt      time.Time `json:"discoveredAt"`
}
