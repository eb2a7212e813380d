package server

import (
	"context"
	"errors"

	"github.com/dotside-studios/davi-nfc-session/nfc"
	"github.com/dotside-studios/davi-nfc-session/protocol"
)

// TagLookup finds the latest event for a tag ID.
type TagLookup func(tagID string) (nfc.TagEvent, bool)

// SessionHandler maps session operations onto WebSocket messages.
type SessionHandler struct {
	session *nfc.Session
	history HistoryStore
	lookup  TagLookup
}

func NewSessionHandler(session *nfc.Session, history HistoryStore, lookup TagLookup) *SessionHandler {
	return &SessionHandler{session: session, history: history, lookup: lookup}
}

// Register implements ServerHandler.
func (h *SessionHandler) Register(server HandlerServer) {
	server.Handle(protocol.WSTypeAddTextTypeFilter, h.handleAddTextFilter)
	server.Handle(protocol.WSTypeRemoveTextTypeFilter, h.handleRemoveTextFilter)
	server.Handle(protocol.WSTypeAddURITypeFilter, h.filterHandler(h.session.AddURITypeFilter))
	server.Handle(protocol.WSTypeRemoveURITypeFilter, h.filterHandler(h.session.RemoveURITypeFilter))
	server.Handle(protocol.WSTypeAddMIMETypeFilter, h.filterHandler(h.session.AddMIMETypeFilter))
	server.Handle(protocol.WSTypeRemoveMIMETypeFilter, h.filterHandler(h.session.RemoveMIMETypeFilter))
	server.Handle(protocol.WSTypeShareTag, h.handleShareTag)
	server.Handle(protocol.WSTypeUnshareTag, h.handleUnshareTag)
	server.Handle(protocol.WSTypeIsNFCAvailable, h.handleIsAvailable)
	server.Handle(protocol.WSTypeIsNFCPushAvailable, h.handleIsPushAvailable)
	server.Handle(protocol.WSTypeLaunchScanningActivity, h.handleLaunchScanning)
	server.Handle(protocol.WSTypeWriteTag, h.handleWriteTag)
	server.Handle(protocol.WSTypeGetHistory, h.handleGetHistory)
}

func (h *SessionHandler) handleAddTextFilter(ctx context.Context, c *Client, req protocol.WebSocketRequest) error {
	return h.respondFilters(c, req, h.session.AddTextTypeFilter())
}

func (h *SessionHandler) handleRemoveTextFilter(ctx context.Context, c *Client, req protocol.WebSocketRequest) error {
	return h.respondFilters(c, req, h.session.RemoveTextTypeFilter())
}

// filterHandler adapts a valued filter operation. The value is required.
func (h *SessionHandler) filterHandler(op func(string) error) HandlerFunc {
	return func(ctx context.Context, c *Client, req protocol.WebSocketRequest) error {
		var body protocol.FilterRequest
		if err := req.DecodePayload(&body); err != nil {
			c.Fail(req, protocol.ErrCodeInvalidRequest, err.Error())
			return err
		}
		if body.Value == "" {
			err := errors.New("value is required")
			c.Fail(req, protocol.ErrCodeInvalidRequest, err.Error())
			return err
		}
		return h.respondFilters(c, req, op(body.Value))
	}
}

func (h *SessionHandler) respondFilters(c *Client, req protocol.WebSocketRequest, err error) error {
	if err != nil {
		return fail(c, req, err)
	}
	return c.Reply(req, FilterPayloads(h.session.Filters()))
}

func (h *SessionHandler) handleShareTag(ctx context.Context, c *Client, req protocol.WebSocketRequest) error {
	var body protocol.ShareTagRequest
	if err := req.DecodePayload(&body); err != nil {
		c.Fail(req, protocol.ErrCodeInvalidRequest, err.Error())
		return err
	}
	records, err := RecordsFromInput(body.Records)
	if err != nil {
		c.Fail(req, protocol.ErrCodeInvalidRequest, err.Error())
		return err
	}
	if err := h.session.ShareTag(records); err != nil {
		return fail(c, req, err)
	}
	return c.Reply(req, nil)
}

func (h *SessionHandler) handleUnshareTag(ctx context.Context, c *Client, req protocol.WebSocketRequest) error {
	if err := h.session.UnshareTag(); err != nil {
		return fail(c, req, err)
	}
	return c.Reply(req, nil)
}

func (h *SessionHandler) handleIsAvailable(ctx context.Context, c *Client, req protocol.WebSocketRequest) error {
	return c.Reply(req, protocol.AvailabilityPayload{Available: h.session.IsNFCAvailable()})
}

func (h *SessionHandler) handleIsPushAvailable(ctx context.Context, c *Client, req protocol.WebSocketRequest) error {
	return c.Reply(req, protocol.AvailabilityPayload{Available: h.session.IsNFCPushAvailable()})
}

func (h *SessionHandler) handleLaunchScanning(ctx context.Context, c *Client, req protocol.WebSocketRequest) error {
	var body protocol.LaunchScanRequest
	if err := req.DecodePayload(&body); err != nil {
		c.Fail(req, protocol.ErrCodeInvalidRequest, err.Error())
		return err
	}
	if err := h.session.LaunchScanningActivity(body.AutoDismiss); err != nil {
		return fail(c, req, err)
	}
	return c.Reply(req, nil)
}

// handleWriteTag overwrites the NDEF message of a recently discovered tag.
func (h *SessionHandler) handleWriteTag(ctx context.Context, c *Client, req protocol.WebSocketRequest) error {
	var body protocol.WriteTagRequest
	if err := req.DecodePayload(&body); err != nil {
		c.Fail(req, protocol.ErrCodeInvalidRequest, err.Error())
		return err
	}
	records, err := RecordsFromInput(body.Records)
	if err != nil {
		c.Fail(req, protocol.ErrCodeInvalidRequest, err.Error())
		return err
	}
	if len(records) == 0 {
		err := errors.New("at least one record is required")
		c.Fail(req, protocol.ErrCodeInvalidRequest, err.Error())
		return err
	}

	event, ok := h.lookup(body.TagID)
	if !ok {
		err := errors.New("tag not found: " + body.TagID)
		c.Fail(req, protocol.ErrCodeTagNotFound, err.Error())
		return err
	}
	tech, ok := event.NDEF()
	if !ok {
		return fail(c, req, nfc.NewNotSupportedError("WriteTag", "tag has no NDEF technology"))
	}

	ctx, cancel := context.WithTimeout(ctx, writeTagTimeout)
	defer cancel()
	if err := tech.Write(ctx, nfc.NewNDEFMessage(records...)); err != nil {
		return fail(c, req, err)
	}
	return c.Reply(req, nil)
}

func (h *SessionHandler) handleGetHistory(ctx context.Context, c *Client, req protocol.WebSocketRequest) error {
	if h.history == nil {
		return fail(c, req, nfc.NewNotSupportedError("GetHistory", "history is disabled"))
	}
	var body protocol.HistoryRequest
	if err := req.DecodePayload(&body); err != nil {
		c.Fail(req, protocol.ErrCodeInvalidRequest, err.Error())
		return err
	}
	entries, err := h.history.Recent(ctx, clampLimit(body.Limit))
	if err != nil {
		return fail(c, req, err)
	}
	if entries == nil {
		entries = []protocol.HistoryEntry{}
	}
	return c.Reply(req, entries)
}

// fail reports err to the client and returns it.
func fail(c *Client, req protocol.WebSocketRequest, err error) error {
	c.Fail(req, errorCode(err), errorMessage(err))
	return err
}

func errorCode(err error) string {
	var nfcErr *nfc.NFCError
	if !errors.As(err, &nfcErr) {
		return protocol.ErrCodeInternalError
	}
	switch nfcErr.Code {
	case nfc.ErrCodeNotSupported:
		return protocol.ErrCodeNotSupported
	case nfc.ErrCodeInvalidData:
		return protocol.ErrCodeInvalidRequest
	case nfc.ErrCodeTagRemoved:
		return protocol.ErrCodeTagNotFound
	default:
		return protocol.ErrCodeInternalError
	}
}

// errorMessage keeps the bare reason of not-supported errors.
func errorMessage(err error) string {
	var nfcErr *nfc.NFCError
	if errors.As(err, &nfcErr) && nfcErr.Code == nfc.ErrCodeNotSupported {
		return nfcErr.Message
	}
	return err.Error()
}
