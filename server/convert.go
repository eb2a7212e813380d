package server

import (
	"fmt"
	"strings"

	"github.com/dotside-studios/davi-nfc-session/nfc"
	"github.com/dotside-studios/davi-nfc-session/protocol"
)

// RecordsFromInput builds NDEF records from client input.
// The high-level form (recordType + content) wins over the raw TNF form.
func RecordsFromInput(inputs []protocol.NDEFRecordInput) ([]nfc.NDEFRecord, error) {
	records := make([]nfc.NDEFRecord, 0, len(inputs))
	for i, in := range inputs {
		rec, err := recordFromInput(in)
		if err != nil {
			return nil, fmt.Errorf("record %d: %w", i, err)
		}
		records = append(records, rec)
	}
	return records, nil
}

func recordFromInput(in protocol.NDEFRecordInput) (nfc.NDEFRecord, error) {
	switch strings.ToLower(in.RecordType) {
	case "text":
		return nfc.NewTextRecord(in.Content, in.Language), nil
	case "uri", "url":
		if in.Content == "" {
			return nfc.NDEFRecord{}, fmt.Errorf("uri record needs content")
		}
		return nfc.NewURIRecord(in.Content), nil
	case "mime":
		if in.MimeType == "" {
			return nfc.NDEFRecord{}, fmt.Errorf("mime record needs mimeType")
		}
		data := in.Payload
		if len(data) == 0 {
			data = []byte(in.Content)
		}
		return nfc.NewMIMERecord(in.MimeType, data), nil
	case "":
		if in.TNF == nil {
			return nfc.NDEFRecord{}, fmt.Errorf("record needs recordType or tnf")
		}
		if *in.TNF > 0x07 {
			return nfc.NDEFRecord{}, fmt.Errorf("invalid tnf %#x", *in.TNF)
		}
		return nfc.NDEFRecord{
			TNF:     *in.TNF,
			Type:    in.Type,
			ID:      in.ID,
			Payload: append([]byte(nil), in.Payload...),
		}, nil
	default:
		return nfc.NDEFRecord{}, fmt.Errorf("unsupported record type %q", in.RecordType)
	}
}

// RecordPayloads describes the records of msg for clients.
func RecordPayloads(msg *nfc.NDEFMessage) []protocol.NDEFRecordPayload {
	if msg == nil {
		return nil
	}
	out := make([]protocol.NDEFRecordPayload, 0, len(msg.Records))
	for _, r := range msg.Records {
		p := protocol.NDEFRecordPayload{
			RecordType: "raw",
			TNF:        r.TNF,
			Type:       r.Type,
			ID:         r.ID,
			Payload:    r.Payload,
		}
		if text, ok := r.Text(); ok {
			p.RecordType, p.Content = "text", text
		} else if uri, ok := r.URI(); ok {
			p.RecordType, p.Content = "uri", uri
		} else if mime, ok := r.MIMEType(); ok {
			p.RecordType, p.MimeType = "mime", mime
		}
		out = append(out, p)
	}
	return out
}

// EventPayload converts a tag event for broadcast.
func EventPayload(e nfc.TagEvent) protocol.TagEventPayload {
	p := protocol.TagEventPayload{
		TagID:        protocol.FormatUID(e.TagID),
		Techs:        e.Techs,
		Records:      RecordPayloads(e.Message),
		DiscoveredAt: e.DiscoveredAt,
	}
	if e.Technology != nil {
		p.PrimaryTechnology = e.Technology.Name()
	}
	if p.Techs == nil {
		p.Techs = []string{}
	}
	return p
}

// FilterPayloads converts registered filters for clients.
func FilterPayloads(filters []nfc.ContentFilter) []protocol.FilterPayload {
	out := make([]protocol.FilterPayload, 0, len(filters))
	for _, f := range filters {
		out = append(out, protocol.FilterPayload{Kind: string(f.Kind), Value: f.Value})
	}
	return out
}
