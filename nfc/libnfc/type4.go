package libnfc

import (
	"context"
	"encoding/binary"
	"errors"
	"fmt"
	"sync"

	gonfc "github.com/clausecker/nfc/v2"

	"github.com/dotside-studios/davi-nfc-session/nfc"
)

// ISO 7816-4 instructions used by the NFC Forum Type 4 mapping.
const (
	insSelectFile   = 0xA4
	insReadBinary   = 0xB0
	insUpdateBinary = 0xD6
)

const (
	p1SelectByID     = 0x00
	p1SelectByName   = 0x04
	p2SelectNoData   = 0x0C
	p2SelectFirst    = 0x00
	swSuccess        = 0x9000
	ccFileLength     = 15
	tlvFileControl   = 0x04
	maxShortAPDUData = 0xFD
	nlenSize         = 2
	maxAPDUResponse  = 262
)

var (
	ndefApplicationName = []byte{0xD2, 0x76, 0x00, 0x00, 0x85, 0x01, 0x01}
	ccFileID            = []byte{0xE1, 0x03}
)

// isoDepLink carries APDUs to one ISO14443-4 target.
type isoDepLink interface {
	connect() error
	disconnect() error
	transceive(apdu []byte) ([]byte, error)
}

// statusError is a response whose status word is not 9000.
type statusError uint16

func (e statusError) Error() string {
	return fmt.Sprintf("status word %04X", uint16(e))
}

// capabilityContainer is the parsed CC file of a Type 4 tag.
type capabilityContainer struct {
	maxRead     int
	maxWrite    int
	fileID      []byte
	maxFileSize int
	writable    bool
}

// parseCC reads the mapping version, APDU limits and the NDEF file control TLV.
func parseCC(b []byte) (capabilityContainer, error) {
	if len(b) < ccFileLength {
		return capabilityContainer{}, fmt.Errorf("capability container too short: %d bytes", len(b))
	}
	if b[2]>>4 < 2 {
		return capabilityContainer{}, fmt.Errorf("unsupported mapping version %d.%d", b[2]>>4, b[2]&0x0F)
	}

	cc := capabilityContainer{
		maxRead:  apduLimit(binary.BigEndian.Uint16(b[3:5])),
		maxWrite: apduLimit(binary.BigEndian.Uint16(b[5:7])),
	}
	for i := 7; i+1 < len(b); {
		t, l := b[i], int(b[i+1])
		if i+2+l > len(b) {
			return capabilityContainer{}, fmt.Errorf("capability container tlv 0x%02X truncated", t)
		}
		if t == tlvFileControl && l >= 6 {
			v := b[i+2 : i+2+l]
			cc.fileID = []byte{v[0], v[1]}
			cc.maxFileSize = int(binary.BigEndian.Uint16(v[2:4]))
			cc.writable = v[5] == 0x00
			return cc, nil
		}
		i += 2 + l
	}
	return capabilityContainer{}, errors.New("capability container has no NDEF file control tlv")
}

func apduLimit(v uint16) int {
	if v == 0 || int(v) > maxShortAPDUData {
		return maxShortAPDUData
	}
	return int(v)
}

func commandAPDU(ins, p1, p2 byte, data []byte, le int) []byte {
	cmd := []byte{0x00, ins, p1, p2}
	if len(data) > 0 {
		cmd = append(cmd, byte(len(data)))
		cmd = append(cmd, data...)
	}
	if le >= 0 {
		cmd = append(cmd, byte(le))
	}
	return cmd
}

// type4Handle reads and writes NDEF on an NFC Forum Type 4 tag.
// mu is the reader's device lock, shared with the poll loop.
type type4Handle struct {
	uid  string
	link isoDepLink
	mu   *sync.Mutex
}

func newType4Handle(uid string, link isoDepLink, mu *sync.Mutex) *type4Handle {
	return &type4Handle{uid: uid, link: link, mu: mu}
}

func (h *type4Handle) exchange(cmd []byte) ([]byte, error) {
	resp, err := h.link.transceive(cmd)
	if err != nil {
		return nil, err
	}
	if len(resp) < 2 {
		return nil, fmt.Errorf("response too short: % X", resp)
	}
	if sw := binary.BigEndian.Uint16(resp[len(resp)-2:]); sw != swSuccess {
		return nil, statusError(sw)
	}
	return resp[:len(resp)-2], nil
}

// open selects the NDEF application, reads the CC and selects the NDEF file.
func (h *type4Handle) open() (capabilityContainer, error) {
	if _, err := h.exchange(commandAPDU(insSelectFile, p1SelectByName, p2SelectFirst, ndefApplicationName, 0)); err != nil {
		var sw statusError
		if errors.As(err, &sw) {
			return capabilityContainer{}, fmt.Errorf("%w: select application: %v", errNotFormatted, err)
		}
		return capabilityContainer{}, err
	}
	if _, err := h.exchange(commandAPDU(insSelectFile, p1SelectByID, p2SelectNoData, ccFileID, -1)); err != nil {
		return capabilityContainer{}, fmt.Errorf("select capability container: %w", err)
	}
	raw, err := h.exchange(commandAPDU(insReadBinary, 0, 0, nil, ccFileLength))
	if err != nil {
		return capabilityContainer{}, fmt.Errorf("read capability container: %w", err)
	}
	cc, err := parseCC(raw)
	if err != nil {
		return capabilityContainer{}, fmt.Errorf("%w: %v", errNotFormatted, err)
	}
	if _, err := h.exchange(commandAPDU(insSelectFile, p1SelectByID, p2SelectNoData, cc.fileID, -1)); err != nil {
		return capabilityContainer{}, fmt.Errorf("select ndef file %X: %w", cc.fileID, err)
	}
	return cc, nil
}

func (h *type4Handle) readBinary(offset, n int) ([]byte, error) {
	return h.exchange(commandAPDU(insReadBinary, byte(offset>>8), byte(offset), nil, n))
}

func (h *type4Handle) updateBinary(offset int, data []byte) error {
	_, err := h.exchange(commandAPDU(insUpdateBinary, byte(offset>>8), byte(offset), data, -1))
	return err
}

func (h *type4Handle) ReadNDEF(ctx context.Context) (*nfc.NDEFMessage, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	h.mu.Lock()
	defer h.mu.Unlock()

	if err := h.link.connect(); err != nil {
		return nil, nfc.NewTagRemovedError("ReadNDEF", h.uid, err)
	}
	defer h.link.disconnect()

	cc, err := h.open()
	if err != nil {
		return nil, nfc.NewReadError("ReadNDEF", h.uid, err)
	}

	nlen, err := h.readBinary(0, nlenSize)
	if err != nil || len(nlen) < nlenSize {
		return nil, nfc.NewReadError("ReadNDEF", h.uid, fmt.Errorf("read nlen: %v", err))
	}
	size := int(binary.BigEndian.Uint16(nlen))
	if size == 0 {
		return &nfc.NDEFMessage{}, nil
	}
	if cc.maxFileSize > 0 && size > cc.maxFileSize-nlenSize {
		return nil, nfc.Errorf(nfc.ErrCodeInvalidData, "ReadNDEF",
			"nlen %d exceeds file size %d", size, cc.maxFileSize)
	}

	data := make([]byte, 0, size)
	for len(data) < size {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		chunk, err := h.readBinary(nlenSize+len(data), min(size-len(data), cc.maxRead))
		if err != nil {
			return nil, nfc.NewReadError("ReadNDEF", h.uid, err)
		}
		if len(chunk) == 0 {
			return nil, nfc.NewReadError("ReadNDEF", h.uid, fmt.Errorf("empty chunk at offset %d", nlenSize+len(data)))
		}
		data = append(data, chunk...)
	}
	return nfc.DecodeMessage(data[:size])
}

func (h *type4Handle) WriteNDEF(ctx context.Context, msg *nfc.NDEFMessage) error {
	raw, err := msg.Encode()
	if err != nil {
		return err
	}
	if len(raw) > 0xFFFF-nlenSize {
		return nfc.Errorf(nfc.ErrCodeWriteFailed, "WriteNDEF", "message of %d bytes is too large", len(raw))
	}

	h.mu.Lock()
	defer h.mu.Unlock()

	if err := h.link.connect(); err != nil {
		return nfc.NewTagRemovedError("WriteNDEF", h.uid, err)
	}
	defer h.link.disconnect()

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

	// NLEN stays zero until the whole message is in place.
	if err := h.updateBinary(0, []byte{0, 0}); err != nil {
		return nfc.NewWriteError("WriteNDEF", h.uid, err)
	}
	for off := 0; off < len(raw); {
		if err := ctx.Err(); err != nil {
			return err
		}
		n := min(len(raw)-off, cc.maxWrite)
		if err := h.updateBinary(nlenSize+off, raw[off:off+n]); err != nil {
			return nfc.NewWriteError("WriteNDEF", h.uid, err)
		}
		off += n
	}

	nlen := make([]byte, nlenSize)
	binary.BigEndian.PutUint16(nlen, uint16(len(raw)))
	if err := h.updateBinary(0, nlen); err != nil {
		return nfc.NewWriteError("WriteNDEF", h.uid, err)
	}
	return nil
}

// targetLink reaches a Type 4 target through the reader in initiator mode.
type targetLink struct {
	dev gonfc.Device
	uid []byte
}

func (l *targetLink) connect() error {
	modulation := gonfc.Modulation{Type: gonfc.ISO14443a, BaudRate: gonfc.Nbr106}
	_, err := l.dev.InitiatorSelectPassiveTarget(modulation, l.uid)
	return err
}

func (l *targetLink) disconnect() error {
	return l.dev.InitiatorDeselectTarget()
}

func (l *targetLink) transceive(apdu []byte) ([]byte, error) {
	rx := make([]byte, maxAPDUResponse)
	n, err := l.dev.InitiatorTransceiveBytes(apdu, rx, -1)
	if err != nil {
		return nil, err
	}
	return rx[:n], nil
}
