package server

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dotside-studios/davi-nfc-session/nfc"
	"github.com/dotside-studios/davi-nfc-session/protocol"
)

func TestRecordsFromInput(t *testing.T) {
	tnf := nfc.TNFExternal

	tests := []struct {
		name    string
		input   protocol.NDEFRecordInput
		want    nfc.NDEFRecord
		wantErr bool
	}{
		{
			name:  "text defaults language",
			input: protocol.NDEFRecordInput{RecordType: "text", Content: "hi"},
			want:  nfc.NewTextRecord("hi", "en"),
		},
		{
			name:  "text with language",
			input: protocol.NDEFRecordInput{RecordType: "Text", Content: "hola", Language: "es"},
			want:  nfc.NewTextRecord("hola", "es"),
		},
		{
			name:  "uri",
			input: protocol.NDEFRecordInput{RecordType: "uri", Content: "https://example.com"},
			want:  nfc.NewURIRecord("https://example.com"),
		},
		{
			name:  "mime from content",
			input: protocol.NDEFRecordInput{RecordType: "mime", MimeType: "text/plain", Content: "body"},
			want:  nfc.NewMIMERecord("text/plain", []byte("body")),
		},
		{
			name:  "mime payload wins",
			input: protocol.NDEFRecordInput{RecordType: "mime", MimeType: "application/octet-stream", Content: "ignored", Payload: []byte{1, 2}},
			want:  nfc.NewMIMERecord("application/octet-stream", []byte{1, 2}),
		},
		{
			name:  "raw",
			input: protocol.NDEFRecordInput{TNF: &tnf, Type: "example.com:t", Payload: []byte{9}},
			want:  nfc.NDEFRecord{TNF: nfc.TNFExternal, Type: "example.com:t", Payload: []byte{9}},
		},
		{name: "empty uri", input: protocol.NDEFRecordInput{RecordType: "uri"}, wantErr: true},
		{name: "mime without type", input: protocol.NDEFRecordInput{RecordType: "mime"}, wantErr: true},
		{name: "nothing", input: protocol.NDEFRecordInput{}, wantErr: true},
		{name: "unknown", input: protocol.NDEFRecordInput{RecordType: "smartposter"}, wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := RecordsFromInput([]protocol.NDEFRecordInput{tt.input})
			if tt.wantErr {
				assert.Error(t, err)
				return
			}
			require.NoError(t, err)
			require.Len(t, got, 1)
			assert.True(t, tt.want.Equal(got[0]), "got %+v", got[0])
		})
	}
}

func TestRecordsFromInput_InvalidTNF(t *testing.T) {
	bad := uint8(0x09)
	_, err := RecordsFromInput([]protocol.NDEFRecordInput{{TNF: &bad}})
	assert.Error(t, err)
}

func TestRecordPayloads(t *testing.T) {
	msg := nfc.NewNDEFMessage(
		nfc.NewTextRecord("hello", "en"),
		nfc.NewURIRecord("https://example.com"),
		nfc.NewMIMERecord("application/json", []byte(`{}`)),
		nfc.NDEFRecord{TNF: nfc.TNFExternal, Type: "x:y", Payload: []byte{1}},
	)

	got := RecordPayloads(msg)
	require.Len(t, got, 4)
	assert.Equal(t, "text", got[0].RecordType)
	assert.Equal(t, "hello", got[0].Content)
	assert.Equal(t, "uri", got[1].RecordType)
	assert.Equal(t, "https://example.com", got[1].Content)
	assert.Equal(t, "mime", got[2].RecordType)
	assert.Equal(t, "application/json", got[2].MimeType)
	assert.Equal(t, "raw", got[3].RecordType)

	assert.Nil(t, RecordPayloads(nil))
}

func TestEventPayload(t *testing.T) {
	at := time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC)
	e := nfc.Translate(nfc.DiscoveredTag{
		ID:      []byte{0xDE, 0xAD},
		Techs:   []string{nfc.TechNfcA, nfc.TechNDEF},
		Message: nfc.NewNDEFMessage(nfc.NewTextRecord("x", "en")),
	}, at)

	p := EventPayload(e)
	assert.Equal(t, "dead", p.TagID)
	assert.Equal(t, nfc.TechNDEF, p.PrimaryTechnology)
	assert.Equal(t, at, p.DiscoveredAt)
	assert.Len(t, p.Records, 1)

	bare := EventPayload(nfc.Translate(nfc.DiscoveredTag{ID: []byte{1}}, at))
	assert.Empty(t, bare.PrimaryTechnology)
	assert.NotNil(t, bare.Techs)
}

func TestTagIndex(t *testing.T) {
	idx := newTagIndex(2)
	for _, id := range []byte{1, 2, 1, 3} {
		idx.remember(nfc.TagEvent{TagID: []byte{id}})
	}

	_, ok := idx.lookup("02")
	assert.False(t, ok, "oldest tag evicted")

	e, ok := idx.lookup("01")
	require.True(t, ok)
	assert.Equal(t, []byte{1}, e.TagID)

	_, ok = idx.lookup("03")
	assert.True(t, ok)

	_, ok = idx.lookup("not hex")
	assert.False(t, ok)
}
