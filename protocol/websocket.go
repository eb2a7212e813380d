package protocol

import (
	"encoding/json"
	"fmt"
)

// Session API request types sent by WebSocket clients.
const (
	WSTypeSubscribe              = "subscribe"
	WSTypeUnsubscribe            = "unsubscribe"
	WSTypeAddTextTypeFilter      = "addTextTypeFilter"
	WSTypeRemoveTextTypeFilter   = "removeTextTypeFilter"
	WSTypeAddURITypeFilter       = "addUriTypeFilter"
	WSTypeRemoveURITypeFilter    = "removeUriTypeFilter"
	WSTypeAddMIMETypeFilter      = "addMimeTypeFilter"
	WSTypeRemoveMIMETypeFilter   = "removeMimeTypeFilter"
	WSTypeShareTag               = "shareTag"
	WSTypeUnshareTag             = "unshareTag"
	WSTypeIsNFCAvailable         = "isNfcAvailable"
	WSTypeIsNFCPushAvailable     = "isNfcPushAvailable"
	WSTypeLaunchScanningActivity = "launchScanningActivity"
	WSTypeWriteTag               = "writeTag"
	WSTypeGetHistory             = "getHistory"
	WSTypeGetStatus              = "getStatus"
)

// Server-initiated message types.
const (
	WSTypeTagDiscovered = "tagDiscovered"
	WSTypeStatus        = "status"
	WSTypeError         = "error"
)

// WebSocketMessage is the generic message envelope for server-initiated messages.
type WebSocketMessage struct {
	ID      string `json:"id,omitempty"`
	Type    string `json:"type"`
	Payload any    `json:"payload"`
}

// WebSocketRequest is for incoming requests from WebSocket clients.
type WebSocketRequest struct {
	ID      string          `json:"id,omitempty"`
	Type    string          `json:"type"`
	Payload json.RawMessage `json:"payload,omitempty"`
}

// DecodePayload unmarshals the request payload into v.
// A missing payload leaves v untouched.
func (r WebSocketRequest) DecodePayload(v any) error {
	if len(r.Payload) == 0 || string(r.Payload) == "null" {
		return nil
	}
	if err := json.Unmarshal(r.Payload, v); err != nil {
		return fmt.Errorf("invalid %s payload: %w", r.Type, err)
	}
	return nil
}

// WebSocketResponse is for responses to WebSocket requests.
type WebSocketResponse struct {
	ID      string `json:"id,omitempty"`
	Type    string `json:"type"`
	Success bool   `json:"success"`
	Payload any    `json:"payload,omitempty"`
	Error   string `json:"error,omitempty"`
	Code    string `json:"code,omitempty"`
}

// Error codes carried in WebSocketResponse.Code.
const (
	ErrCodeNotSupported   = "NOT_SUPPORTED"
	ErrCodeInvalidRequest = "INVALID_REQUEST"
	ErrCodeUnknownType    = "UNKNOWN_TYPE"
	ErrCodeTagNotFound    = "TAG_NOT_FOUND"
	ErrCodeInternalError  = "INTERNAL_ERROR"
)
