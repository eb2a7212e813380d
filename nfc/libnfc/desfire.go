package libnfc

import (
	"context"
	"encoding/binary"
	"fmt"
	"sync"

	"github.com/clausecker/freefare"

	"github.com/dotside-studios/davi-nfc-session/nfc"
)

// NFC Forum layout of a DESFire tag: CC in file 1, NDEF in file 2.
const (
	desfireNDEFApp  = 0x000001
	desfireCCFile   = 0x01
	desfireNDEFFile = 0x02
)

// desfireCard is the part of freefare.DESFireTag the handle needs.
type desfireCard interface {
	Connect() error
	Disconnect() error
	SelectApplication(aid freefare.DESFireAid) error
	ReadData(fileNo byte, offset int64, buf []byte) (int, error)
	WriteData(fileNo byte, offset int64, buf []byte) (int, error)
}

var _ desfireCard = freefare.DESFireTag{}

// desfireHandle reads and writes NDEF on a MIFARE DESFire tag.
// mu is the reader's device lock, shared with the poll loop.
type desfireHandle struct {
	card desfireCard
	uid  string
	mu   *sync.Mutex
}

func newDESFireHandle(uid string, card desfireCard, mu *sync.Mutex) *desfireHandle {
	return &desfireHandle{card: card, uid: uid, mu: mu}
}

func (h *desfireHandle) readFull(file byte, offset int64, buf []byte) error {
	n, err := h.card.ReadData(file, offset, buf)
	if err != nil {
		return err
	}
	if n != len(buf) {
		return fmt.Errorf("file %d: short read %d of %d bytes", file, n, len(buf))
	}
	return nil
}

func (h *desfireHandle) writeFull(file byte, offset int64, buf []byte) error {
	n, err := h.card.WriteData(file, offset, buf)
	if err != nil {
		return err
	}
	if n != len(buf) {
		return fmt.Errorf("file %d: short write %d of %d bytes", file, n, len(buf))
	}
	return nil
}

// open selects the NDEF application and parses its capability container.
func (h *desfireHandle) open() (capabilityContainer, error) {
	if err := h.card.SelectApplication(freefare.NewDESFireAid(desfireNDEFApp)); err != nil {
		return capabilityContainer{}, fmt.Errorf("%w: select application: %v", errNotFormatted, err)
	}
	raw := make([]byte, ccFileLength)
	if err := h.readFull(desfireCCFile, 0, raw); err != nil {
		return capabilityContainer{}, fmt.Errorf("read capability container: %w", err)
	}
	cc, err := parseCC(raw)
	if err != nil {
		return capabilityContainer{}, fmt.Errorf("%w: %v", errNotFormatted, err)
	}
	return cc, nil
}

func (h *desfireHandle) ReadNDEF(ctx context.Context) (*nfc.NDEFMessage, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	h.mu.Lock()
	defer h.mu.Unlock()

	if err := h.card.Connect(); err != nil {
		return nil, nfc.NewTagRemovedError("ReadNDEF", h.uid, err)
	}
	defer h.card.Disconnect()

	cc, err := h.open()
	if err != nil {
		return nil, nfc.NewReadError("ReadNDEF", h.uid, err)
	}

	nlen := make([]byte, nlenSize)
	if err := h.readFull(desfireNDEFFile, 0, nlen); err != nil {
		return nil, nfc.NewReadError("ReadNDEF", h.uid, err)
	}
	size := int(binary.BigEndian.Uint16(nlen))
	if size == 0 {
		return &nfc.NDEFMessage{}, nil
	}
	if cc.maxFileSize > 0 && size > cc.maxFileSize-nlenSize {
		return nil, nfc.Errorf(nfc.ErrCodeInvalidData, "ReadNDEF",
			"nlen %d exceeds file size %d", size, cc.maxFileSize)
	}

	data := make([]byte, size)
	if err := h.readFull(desfireNDEFFile, nlenSize, data); err != nil {
		return nil, nfc.NewReadError("ReadNDEF", h.uid, err)
	}
	return nfc.DecodeMessage(data)
}

func (h *desfireHandle) WriteNDEF(ctx context.Context, msg *nfc.NDEFMessage) error {
	raw, err := msg.Encode()
	if err != nil {
		return err
	}
	if len(raw) > 0xFFFF-nlenSize {
		return nfc.Errorf(nfc.ErrCodeWriteFailed, "WriteNDEF", "message of %d bytes is too large", len(raw))
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

	cc, err := h.open()
	if err != nil {
		return nfc.NewWriteError("WriteNDEF", h.uid, err)
	}
	if !cc.writable {
		return nfc.Errorf(nfc.ErrCodeWriteFailed, "WriteNDEF", "tag is read-only")
	}
	if cc.maxFileSize > 0 && len(raw)+nlenSize > cc.maxFileSize {
		return nfc.Errorf(nfc.ErrCodeWriteFailed, "WriteNDEF",
			"message needs %d bytes, tag has %d", len(raw)+nlenSize, cc.maxFileSize)
	}

	if err := h.writeFull(desfireNDEFFile, 0, []byte{0, 0}); err != nil {
		return nfc.NewWriteError("WriteNDEF", h.uid, err)
	}
	if len(raw) > 0 {
		if err := h.writeFull(desfireNDEFFile, nlenSize, raw); err != nil {
			return nfc.NewWriteError("WriteNDEF", h.uid, err)
		}
	}
	nlen := make([]byte, nlenSize)
	binary.BigEndian.PutUint16(nlen, uint16(len(raw)))
	if err := h.writeFull(desfireNDEFFile, 0, nlen); err != nil {
		return nfc.NewWriteError("WriteNDEF", h.uid, err)
	}
	return nil
}
