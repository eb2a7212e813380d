package nfc

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNDEFRecord_Accessors(t *testing.T) {
	text := NewTextRecord("hello", "")
	uri := NewURIRecord("https://example.com/path")
	mime := NewMIMERecord("application/json", []byte(`{"a":1}`))

	t.Run("text", func(t *testing.T) {
		assert.True(t, text.IsText())
		assert.False(t, text.IsURI())
		got, ok := text.Text()
		require.True(t, ok)
		assert.Equal(t, "hello", got)
		_, ok = text.URI()
		assert.False(t, ok)
	})

	t.Run("uri", func(t *testing.T) {
		assert.True(t, uri.IsURI())
		got, ok := uri.URI()
		require.True(t, ok)
		assert.Equal(t, "https://example.com/path", got)
		scheme, ok := uri.URIScheme()
		require.True(t, ok)
		assert.Equal(t, "https", scheme)
	})

	t.Run("mime", func(t *testing.T) {
		assert.True(t, mime.IsMIME())
		mt, ok := mime.MIMEType()
		require.True(t, ok)
		assert.Equal(t, "application/json", mt)
		assert.Equal(t, []byte(`{"a":1}`), mime.Payload)
		_, ok = text.MIMEType()
		assert.False(t, ok)
	})
}

func TestNDEFMessage_EncodeDecode(t *testing.T) {
	msg := NewNDEFMessage(
		NewTextRecord("first", "en"),
		NewURIRecord("tel:+15551234"),
		NewMIMERecord("text/vcard", []byte("BEGIN:VCARD")),
	)

	data, err := msg.Encode()
	require.NoError(t, err)
	require.NotEmpty(t, data)

	decoded, err := DecodeMessage(data)
	require.NoError(t, err)
	require.Len(t, decoded.Records, 3)
	for i := range msg.Records {
		assert.True(t, msg.Records[i].Equal(decoded.Records[i]), "record %d", i)
	}
	assert.Equal(t, []string{"first"}, decoded.Texts())
}

func TestNDEFMessage_EmptyEncodesToEmptyRecord(t *testing.T) {
	data, err := NewNDEFMessage().Encode()
	require.NoError(t, err)
	assert.Equal(t, []byte{0xD0, 0x00, 0x00}, data)

	var nilMsg *NDEFMessage
	data, err = nilMsg.Encode()
	require.NoError(t, err)
	assert.Equal(t, []byte{0xD0, 0x00, 0x00}, data)
}

func TestDecodeMessage_Invalid(t *testing.T) {
	_, err := DecodeMessage(nil)
	assert.Equal(t, ErrCodeInvalidData, GetErrorCode(err))
}

func TestNDEFMessage_Clone(t *testing.T) {
	msg := NewNDEFMessage(NewMIMERecord("x/y", []byte{1, 2, 3}))
	clone := msg.Clone()
	clone.Records[0].Payload[0] = 9

	assert.Equal(t, []byte{1, 2, 3}, msg.Records[0].Payload)

	var nilMsg *NDEFMessage
	assert.Nil(t, nilMsg.Clone())
}

func TestNewNDEFMessage_CopiesRecords(t *testing.T) {
	records := []NDEFRecord{NewTextRecord("a", "en")}
	msg := NewNDEFMessage(records...)
	records[0] = NewTextRecord("b", "en")

	assert.Equal(t, []string{"a"}, msg.Texts())
}

func TestNewNDEFMessage_CopiesPayloads(t *testing.T) {
	payload := []byte{1, 2, 3}
	msg := NewNDEFMessage(NDEFRecord{TNF: TNFMedia, Type: "x/y", Payload: payload})
	payload[0] = 7

	assert.Equal(t, []byte{1, 2, 3}, msg.Records[0].Payload)
}

func TestNDEFMessage_EncodeRawRecords(t *testing.T) {
	tests := []struct {
		name   string
		record NDEFRecord
	}{
		{"external", NDEFRecord{TNF: TNFExternal, Type: "example.com:x", Payload: []byte{0x00, 0xFF, 0x10}}},
		{"absolute uri", NDEFRecord{TNF: TNFAbsURI, Type: "https://example.com/t", Payload: []byte("body")}},
		{"with id", NDEFRecord{TNF: TNFMedia, Type: "application/octet-stream", ID: "r1", Payload: []byte{9, 8}}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			data, err := NewNDEFMessage(tt.record).Encode()
			require.NoError(t, err)

			decoded, err := DecodeMessage(data)
			require.NoError(t, err)
			require.Len(t, decoded.Records, 1)
			assert.Equal(t, tt.record.TNF, decoded.Records[0].TNF)
			assert.Equal(t, tt.record.Type, decoded.Records[0].Type)
			assert.Equal(t, tt.record.ID, decoded.Records[0].ID)
			assert.Equal(t, tt.record.Payload, decoded.Records[0].Payload)
		})
	}
}
