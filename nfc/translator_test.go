package nfc

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestTranslate(t *testing.T) {
	now := time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC)
	handle := &MockNDEFHandle{Message: NewNDEFMessage(NewTextRecord("on tag", "en"))}

	t.Run("first ndef tech wins", func(t *testing.T) {
		tag := DiscoveredTag{
			ID:     []byte{0x04, 0xa1},
			Techs:  []string{"foo", TechNDEF, "bar", TechNDEF},
			Handle: handle,
		}

		event := Translate(tag, now)

		require.NotNil(t, event.Technology)
		assert.Equal(t, TechNDEF, event.Technology.Name())
		assert.Equal(t, []byte{0x04, 0xa1}, event.Technology.TagID())
		assert.Equal(t, []byte{0x04, 0xa1}, event.TagID)
		assert.Equal(t, "04a1", event.TagIDHex())
		assert.Equal(t, now, event.DiscoveredAt)

		ndefTech, ok := event.NDEF()
		require.True(t, ok)
		msg, err := ndefTech.Read(context.Background())
		require.NoError(t, err)
		assert.Equal(t, []string{"on tag"}, msg.Texts())
	})

	t.Run("no ndef tech still produces event", func(t *testing.T) {
		event := Translate(DiscoveredTag{ID: []byte{0x07}, Techs: []string{"foo", "bar"}}, now)

		assert.Nil(t, event.Technology)
		assert.Equal(t, []byte{0x07}, event.TagID)
		assert.Equal(t, []string{"foo", "bar"}, event.Techs)
		_, ok := event.NDEF()
		assert.False(t, ok)
	})

	t.Run("ndef formatable is not ndef", func(t *testing.T) {
		event := Translate(DiscoveredTag{ID: []byte{0x07}, Techs: []string{TechNDEFFormatable}}, now)
		assert.Nil(t, event.Technology)
	})

	t.Run("empty tech list", func(t *testing.T) {
		event := Translate(DiscoveredTag{ID: []byte{0x09}}, now)
		assert.Nil(t, event.Technology)
		assert.Equal(t, []byte{0x09}, event.TagID)
	})

	t.Run("event does not alias the tag id", func(t *testing.T) {
		id := []byte{0x01, 0x02}
		event := Translate(DiscoveredTag{ID: id, Techs: []string{TechNDEF}}, now)
		id[0] = 0xff

		assert.Equal(t, []byte{0x01, 0x02}, event.TagID)
		assert.Equal(t, []byte{0x01, 0x02}, event.Technology.TagID())
	})
}

func TestNDEFTechnology_Errors(t *testing.T) {
	ctx := context.Background()

	t.Run("without handle", func(t *testing.T) {
		tech := NewNDEFTechnology([]byte{0x01}, nil)

		_, err := tech.Read(ctx)
		assert.True(t, IsNotSupportedError(err))
		assert.True(t, IsNotSupportedError(tech.Write(ctx, NewNDEFMessage())))
	})

	t.Run("handle errors are wrapped with the tag", func(t *testing.T) {
		handle := &MockNDEFHandle{ReadError: assert.AnError, WriteError: assert.AnError}
		tech := NewNDEFTechnology([]byte{0xab}, handle)

		_, err := tech.Read(ctx)
		require.Error(t, err)
		assert.Equal(t, ErrCodeReadFailed, GetErrorCode(err))
		assert.ErrorIs(t, err, assert.AnError)

		err = tech.Write(ctx, NewNDEFMessage())
		var nfcErr *NFCError
		require.ErrorAs(t, err, &nfcErr)
		assert.Equal(t, ErrCodeWriteFailed, nfcErr.Code)
		assert.Equal(t, "ab", nfcErr.TagUID)
	})

	t.Run("write replaces handle message", func(t *testing.T) {
		handle := &MockNDEFHandle{}
		tech := NewNDEFTechnology([]byte{0xab}, handle)

		require.NoError(t, tech.Write(ctx, NewNDEFMessage(NewURIRecord("https://example.com"))))
		msg, err := tech.Read(ctx)
		require.NoError(t, err)
		require.Len(t, msg.Records, 1)
		uri, ok := msg.Records[0].URI()
		assert.True(t, ok)
		assert.Equal(t, "https://example.com", uri)
	})
}
