package libnfc

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dotside-studios/davi-nfc-session/nfc"
)

// fakeClassic holds the NFC Forum sectors of a MAD formatted card.
type fakeClassic struct {
	area       []byte
	noMAD      bool
	connectErr error
}

func (f *fakeClassic) Connect() error    { return f.connectErr }
func (f *fakeClassic) Disconnect() error { return nil }

func (f *fakeClassic) readNDEFArea() ([]byte, error) {
	if f.noMAD {
		return nil, fmt.Errorf("%w: read mad: authentication failed", errNotFormatted)
	}
	return append([]byte(nil), f.area...), nil
}

func (f *fakeClassic) writeNDEFArea(data []byte) error {
	if f.noMAD {
		return fmt.Errorf("%w: read mad: authentication failed", errNotFormatted)
	}
	if len(data) > len(f.area) {
		return fmt.Errorf("area holds %d bytes, need %d", len(f.area), len(data))
	}
	clear(f.area)
	copy(f.area, data)
	return nil
}

func TestClassicHandle_WriteThenRead(t *testing.T) {
	card := &fakeClassic{area: make([]byte, 3*classicBlockSize)}
	h := newClassicHandle("a1b2c3d4", card, &sync.Mutex{})
	ctx := context.Background()

	require.NoError(t, h.WriteNDEF(ctx, nfc.NewNDEFMessage(nfc.NewURIRecord("https://example.org"))))
	assert.Equal(t, byte(tlvNDEF), card.area[0])

	got, err := h.ReadNDEF(ctx)
	require.NoError(t, err)
	require.Len(t, got.Records, 1)
	uri, ok := got.Records[0].URI()
	require.True(t, ok)
	assert.Equal(t, "https://example.org", uri)
}

func TestClassicHandle_BlankArea(t *testing.T) {
	card := &fakeClassic{area: make([]byte, 3*classicBlockSize)}
	h := newClassicHandle("a1b2c3d4", card, &sync.Mutex{})

	got, err := h.ReadNDEF(context.Background())
	require.NoError(t, err)
	assert.Empty(t, got.Records)
}

func TestClassicHandle_Errors(t *testing.T) {
	ctx := context.Background()

	unformatted := newClassicHandle("a1", &fakeClassic{noMAD: true}, &sync.Mutex{})
	_, err := unformatted.ReadNDEF(ctx)
	assert.True(t, errors.Is(err, errNotFormatted))

	full := newClassicHandle("a1", &fakeClassic{area: make([]byte, 4)}, &sync.Mutex{})
	err = full.WriteNDEF(ctx, nfc.NewNDEFMessage(nfc.NewTextRecord("too long for the area", "en")))
	assert.Equal(t, nfc.ErrCodeWriteFailed, nfc.GetErrorCode(err))

	gone := newClassicHandle("a1", &fakeClassic{connectErr: errors.New("no tag")}, &sync.Mutex{})
	_, err = gone.ReadNDEF(ctx)
	assert.Equal(t, nfc.ErrCodeTagRemoved, nfc.GetErrorCode(err))
}
