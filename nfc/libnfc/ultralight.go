package libnfc

import (
	"context"
	"sync"

	"github.com/clausecker/freefare"

	"github.com/dotside-studios/davi-nfc-session/nfc"
)

const (
	ultralightStartPage = 4
	ultralightEndPage   = 16 // exclusive; 64 bytes total
	ultralightCEndPage  = 40 // exclusive; pages 40+ hold lock bits, config and keys
)

// ultralightHandle reads and writes NDEF on a MIFARE Ultralight tag.
// mu is the reader's device lock, shared with the poll loop.
type ultralightHandle struct {
	tag freefare.UltralightTag
	uid string
	mu  *sync.Mutex
}

func newUltralightHandle(tag freefare.UltralightTag, mu *sync.Mutex) *ultralightHandle {
	return &ultralightHandle{tag: tag, uid: tag.UID(), mu: mu}
}

func (h *ultralightHandle) endPage() byte {
	if h.tag.Type() == freefare.UltralightC {
		return ultralightCEndPage
	}
	return ultralightEndPage
}

func (h *ultralightHandle) ReadNDEF(ctx context.Context) (*nfc.NDEFMessage, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	h.mu.Lock()
	defer h.mu.Unlock()

	if err := h.tag.Connect(); err != nil {
		return nil, nfc.NewTagRemovedError("ReadNDEF", h.uid, err)
	}
	defer h.tag.Disconnect()

	var data []byte
	for page := byte(ultralightStartPage); page < h.endPage(); page++ {
		p, err := h.tag.ReadPage(page)
		if err != nil {
			if len(data) == 0 {
				return nil, nfc.NewReadError("ReadNDEF", h.uid, err)
			}
			break
		}
		data = append(data, p[:]...)
	}

	raw, found, err := findNDEF(data)
	if err != nil {
		return nil, nfc.WrapError(nfc.ErrCodeInvalidData, "ReadNDEF", "malformed tlv block", err)
	}
	if !found || len(raw) == 0 {
		return &nfc.NDEFMessage{}, nil
	}
	return nfc.DecodeMessage(raw)
}

func (h *ultralightHandle) WriteNDEF(ctx context.Context, msg *nfc.NDEFMessage) error {
	raw, err := msg.Encode()
	if err != nil {
		return err
	}
	tlv, err := encodeNDEF(raw)
	if err != nil {
		return nfc.WrapError(nfc.ErrCodeInvalidData, "WriteNDEF", "cannot encode tlv", err)
	}

	out := pages(tlv)
	capacity := int(h.endPage()) - ultralightStartPage
	if len(out) > capacity {
		return nfc.Errorf(nfc.ErrCodeWriteFailed, "WriteNDEF",
			"message needs %d pages, tag has %d", len(out), capacity)
	}

	h.mu.Lock()
	defer h.mu.Unlock()

	if err := h.tag.Connect(); err != nil {
		return nfc.NewTagRemovedError("WriteNDEF", h.uid, err)
	}
	defer h.tag.Disconnect()

	for i, p := range out {
		if err := ctx.Err(); err != nil {
			return err
		}
		if err := h.tag.WritePage(byte(ultralightStartPage+i), p); err != nil {
			return nfc.NewWriteError("WriteNDEF", h.uid, err)
		}
	}
	return nil
}
