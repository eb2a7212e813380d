package nfc

import (
	"bytes"
	"strings"

	ndef "github.com/hsanjuan/go-ndef"
)

// Type Name Format values used by the session.
const (
	TNFEmpty     byte = ndef.Empty
	TNFWellKnown byte = ndef.NFCForumWellKnownType
	TNFMedia     byte = ndef.MediaType
	TNFAbsURI    byte = ndef.AbsoluteURI
	TNFExternal  byte = ndef.NFCForumExternalType
)

// emptyMessage is the NDEF encoding of a message with a single empty record.
var emptyMessage = []byte{0xD0, 0x00, 0x00}

// NDEFRecord represents a single NDEF record within a message.
type NDEFRecord struct {
	TNF     byte   // Type Name Format (0x00-0x07)
	Type    string // Record type (e.g., "T" for text, "U" for URI, a MIME type for media records)
	ID      string // Optional record ID
	Payload []byte // Raw record payload
}

// NDEFMessage is an ordered sequence of NDEF records.
type NDEFMessage struct {
	Records []NDEFRecord
}

// NewTextRecord builds a well-known Text record. An empty language defaults to "en".
func NewTextRecord(text, lang string) NDEFRecord {
	if lang == "" {
		lang = "en"
	}
	return recordFromNDEF(ndef.NewTextRecord(text, lang))
}

// NewURIRecord builds a well-known URI record with the standard prefix compression.
func NewURIRecord(uri string) NDEFRecord {
	return recordFromNDEF(ndef.NewURIRecord(uri))
}

// NewMIMERecord builds a media-type record.
func NewMIMERecord(mimeType string, data []byte) NDEFRecord {
	return recordFromNDEF(ndef.NewMediaRecord(mimeType, data))
}

// NewNDEFMessage creates a message from records. The message owns copies
// of the records and their payloads.
func NewNDEFMessage(records ...NDEFRecord) *NDEFMessage {
	return (&NDEFMessage{Records: records}).Clone()
}

// IsText returns true if this is a well-known Text record.
func (r NDEFRecord) IsText() bool {
	return r.TNF == TNFWellKnown && r.Type == "T"
}

// IsURI returns true if this is a well-known URI record.
func (r NDEFRecord) IsURI() bool {
	return r.TNF == TNFWellKnown && r.Type == "U"
}

// IsMIME returns true if this is a media-type record.
func (r NDEFRecord) IsMIME() bool {
	return r.TNF == TNFMedia
}

// Text returns the decoded text of a Text record.
func (r NDEFRecord) Text() (string, bool) {
	if !r.IsText() {
		return "", false
	}
	return r.payloadString()
}

// URI returns the expanded URI of a URI record.
func (r NDEFRecord) URI() (string, bool) {
	if !r.IsURI() {
		return "", false
	}
	return r.payloadString()
}

// URIScheme returns the lower-cased scheme of a URI record, without the colon.
func (r NDEFRecord) URIScheme() (string, bool) {
	uri, ok := r.URI()
	if !ok {
		return "", false
	}
	scheme, _, found := strings.Cut(uri, ":")
	if !found || scheme == "" {
		return "", false
	}
	return strings.ToLower(scheme), true
}

// MIMEType returns the media type of a MIME record.
func (r NDEFRecord) MIMEType() (string, bool) {
	if !r.IsMIME() {
		return "", false
	}
	return r.Type, true
}

// Equal reports whether two records carry the same header and payload.
func (r NDEFRecord) Equal(o NDEFRecord) bool {
	return r.TNF == o.TNF && r.Type == o.Type && r.ID == o.ID && bytes.Equal(r.Payload, o.Payload)
}

func (r NDEFRecord) payloadString() (string, bool) {
	p, err := r.toNDEF().Payload()
	if err != nil || p == nil {
		return "", false
	}
	return p.String(), true
}

func (r NDEFRecord) toNDEF() *ndef.Record {
	payload := rawPayload(r.Payload)
	return ndef.NewRecord(r.TNF, r.Type, r.ID, &payload)
}

func recordFromNDEF(rec *ndef.Record) NDEFRecord {
	out := NDEFRecord{
		TNF:  rec.TNF(),
		Type: rec.Type(),
		ID:   rec.ID(),
	}
	if p, err := rec.Payload(); err == nil && p != nil {
		out.Payload = p.Marshal()
	}
	return out
}

// Encode serializes the message into NDEF bytes.
func (m *NDEFMessage) Encode() ([]byte, error) {
	if m == nil || len(m.Records) == 0 {
		return append([]byte(nil), emptyMessage...), nil
	}

	recs := make([]*ndef.Record, 0, len(m.Records))
	for _, r := range m.Records {
		recs = append(recs, r.toNDEF())
	}

	data, err := ndef.NewMessageFromRecords(recs...).Marshal()
	if err != nil {
		return nil, WrapError(ErrCodeInvalidData, "Encode", "ndef encode failed", err)
	}
	return data, nil
}

// DecodeMessage parses NDEF bytes into a message. Empty records are dropped.
func DecodeMessage(data []byte) (*NDEFMessage, error) {
	if len(data) == 0 {
		return nil, Errorf(ErrCodeInvalidData, "DecodeMessage", "empty ndef data")
	}

	var msg ndef.Message
	if _, err := msg.Unmarshal(data); err != nil {
		return nil, WrapError(ErrCodeInvalidData, "DecodeMessage", "ndef decode failed", err)
	}

	out := &NDEFMessage{}
	for _, rec := range msg.Records {
		if rec.TNF() == TNFEmpty {
			continue
		}
		out.Records = append(out.Records, recordFromNDEF(rec))
	}
	return out, nil
}

// Clone returns a deep copy of the message.
func (m *NDEFMessage) Clone() *NDEFMessage {
	if m == nil {
		return nil
	}
	out := &NDEFMessage{Records: make([]NDEFRecord, len(m.Records))}
	for i, r := range m.Records {
		r.Payload = append([]byte(nil), r.Payload...)
		out.Records[i] = r
	}
	return out
}

// Texts returns the text of every Text record in order.
func (m *NDEFMessage) Texts() []string {
	if m == nil {
		return nil
	}
	var texts []string
	for _, r := range m.Records {
		if text, ok := r.Text(); ok {
			texts = append(texts, text)
		}
	}
	return texts
}

// rawPayload carries already-encoded payload bytes through go-ndef.
type rawPayload []byte

func (p *rawPayload) String() string     { return string(*p) }
func (p *rawPayload) Type() string       { return "" }
func (p *rawPayload) Marshal() []byte    { return []byte(*p) }
func (p *rawPayload) Unmarshal(b []byte) { *p = append((*p)[:0], b...) }
func (p *rawPayload) Len() int           { return len(*p) }
