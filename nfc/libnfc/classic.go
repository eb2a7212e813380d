package libnfc

import (
	"context"
	"fmt"
	"sync"

	"github.com/clausecker/freefare"

	"github.com/dotside-studios/davi-nfc-session/nfc"
)

const classicBlockSize = 16

// nfcForumKeyA is the public key A of NFC Forum sectors on MIFARE Classic.
var nfcForumKeyA = [6]byte{0xD3, 0xF7, 0xD3, 0xF7, 0xD3, 0xF7}

// classicCard exposes the NFC Forum application area of a MIFARE Classic tag.
type classicCard interface {
	Connect() error
	Disconnect() error
	readNDEFArea() ([]byte, error)
	writeNDEFArea(data []byte) error
}

// madCard locates the NFC Forum sectors through the tag's MAD.
type madCard struct {
	freefare.ClassicTag
}

func (c madCard) application() (*freefare.Mad, int, error) {
	mad, err := c.ReadMad()
	if err != nil {
		return nil, 0, fmt.Errorf("%w: read mad: %v", errNotFormatted, err)
	}
	sectors := mad.FindApplication(freefare.MadNFCForumAid)
	if len(sectors) == 0 {
		return nil, 0, fmt.Errorf("%w: no NFC Forum application in mad", errNotFormatted)
	}
	size := 0
	for _, s := range sectors {
		size += (freefare.ClassicSectorBlockCount(s) - 1) * classicBlockSize
	}
	return mad, size, nil
}

func (c madCard) readNDEFArea() ([]byte, error) {
	mad, size, err := c.application()
	if err != nil {
		return nil, err
	}
	buf := make([]byte, size)
	if _, err := c.ReadApplication(mad, freefare.MadNFCForumAid, buf, nfcForumKeyA, freefare.KeyA); err != nil {
		return nil, err
	}
	return buf, nil
}

func (c madCard) writeNDEFArea(data []byte) error {
	mad, size, err := c.application()
	if err != nil {
		return err
	}
	if len(data) > size {
		return fmt.Errorf("area holds %d bytes, need %d", size, len(data))
	}
	buf := make([]byte, size)
	copy(buf, data)
	_, err = c.WriteApplication(mad, freefare.MadNFCForumAid, buf, nfcForumKeyA, freefare.KeyA)
	return err
}

// classicHandle reads and writes NDEF on a MIFARE Classic tag.
// mu is the reader's device lock, shared with the poll loop.
type classicHandle struct {
	card classicCard
	uid  string
	mu   *sync.Mutex
}

func newClassicHandle(uid string, card classicCard, mu *sync.Mutex) *classicHandle {
	return &classicHandle{card: card, uid: uid, mu: mu}
}

func (h *classicHandle) ReadNDEF(ctx context.Context) (*nfc.NDEFMessage, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	h.mu.Lock()
	defer h.mu.Unlock()

	if err := h.card.Connect(); err != nil {
		return nil, nfc.NewTagRemovedError("ReadNDEF", h.uid, err)
	}
	defer h.card.Disconnect()

	data, err := h.card.readNDEFArea()
	if err != nil {
		return nil, nfc.NewReadError("ReadNDEF", h.uid, err)
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

func (h *classicHandle) WriteNDEF(ctx context.Context, msg *nfc.NDEFMessage) error {
	raw, err := msg.Encode()
	if err != nil {
		return err
	}
	tlv, err := encodeNDEF(raw)
	if err != nil {
		return nfc.WrapError(nfc.ErrCodeInvalidData, "WriteNDEF", "cannot encode tlv", err)
	}
	if err := ctx.Err(); err != nil {
		return err
	}

	h.mu.Lock()
	defer h.mu.Unlock()

	if err := h.card.Connect(); err != nil {
		return nfc.NewTagRemovedError("WriteNDEF", h.uid, err)
	}
	defer h.card.Disconnect()

	if err := h.card.writeNDEFArea(tlv); err != nil {
		return nfc.NewWriteError("WriteNDEF", h.uid, err)
	}
	return nil
}
