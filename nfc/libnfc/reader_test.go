package libnfc

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dotside-studios/davi-nfc-session/nfc"
)

type fakeScanner struct {
	mu     sync.Mutex
	tags   []scannedTag
	err    error
	closed bool
}

func (f *fakeScanner) set(tags []scannedTag, err error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.tags = tags
	f.err = err
}

func (f *fakeScanner) scan() ([]scannedTag, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.err != nil {
		return nil, f.err
	}
	return append([]scannedTag(nil), f.tags...), nil
}

func (f *fakeScanner) close() error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.closed = true
	return nil
}

func newTestReader(sc scanner) *Reader {
	r := New(Config{
		PollInterval: time.Millisecond,
		RemoveAfter:  2,
		Logger:       slog.New(slog.NewTextHandler(io.Discard, nil)),
	})
	r.attach(sc, "fake:0")
	return r
}

type collector struct {
	mu   sync.Mutex
	tags []nfc.DiscoveredTag
}

func (c *collector) handle(tag nfc.DiscoveredTag) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.tags = append(c.tags, tag)
}

func (c *collector) all() []nfc.DiscoveredTag {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]nfc.DiscoveredTag(nil), c.tags...)
}

func TestReader_AdapterState(t *testing.T) {
	r := New(Config{})
	assert.Nil(t, r.DefaultAdapter())
	assert.False(t, r.SupportsPush())

	sc := &fakeScanner{}
	r.attach(sc, "fake:0")
	adapter := r.DefaultAdapter()
	require.NotNil(t, adapter)
	assert.True(t, adapter.IsPresent())
	assert.True(t, adapter.IsEnabled())
	assert.Equal(t, "fake:0", r.Connection())

	require.NoError(t, r.Close())
	assert.True(t, sc.closed)
	assert.Nil(t, r.DefaultAdapter())
	assert.False(t, adapter.IsPresent())
}

func TestReader_PollReportsArrivalsOnce(t *testing.T) {
	handle := &nfc.MockNDEFHandle{Message: nfc.NewNDEFMessage(nfc.NewTextRecord("hi", "en"))}
	sc := &fakeScanner{}
	sc.set([]scannedTag{
		{uid: "04a1b2", family: familyUltralight, handle: handle},
		{uid: "0c0d", family: familyClassic},
	}, nil)

	r := newTestReader(sc)
	c := &collector{}
	r.handler = c.handle

	ctx := context.Background()
	r.poll(ctx)
	r.poll(ctx)

	tags := c.all()
	require.Len(t, tags, 2)

	assert.Equal(t, []byte{0x04, 0xa1, 0xb2}, tags[0].ID)
	assert.Contains(t, tags[0].Techs, nfc.TechNDEF)
	require.NotNil(t, tags[0].Message)
	assert.Equal(t, []string{"hi"}, tags[0].Message.Texts())

	assert.Equal(t, []byte{0x0c, 0x0d}, tags[1].ID)
	assert.NotContains(t, tags[1].Techs, nfc.TechNDEF)
	assert.Nil(t, tags[1].Message)
}

func TestReader_TagReturnsAfterRemoval(t *testing.T) {
	sc := &fakeScanner{}
	sc.set([]scannedTag{{uid: "01", family: familyClassic}}, nil)
	r := newTestReader(sc)
	c := &collector{}
	r.handler = c.handle
	ctx := context.Background()

	r.poll(ctx)
	sc.set(nil, nil)
	r.poll(ctx)
	r.poll(ctx)
	sc.set([]scannedTag{{uid: "01", family: familyClassic}}, nil)
	r.poll(ctx)

	assert.Len(t, c.all(), 2)
}

func TestReader_DiscoveryReadFailureStillReports(t *testing.T) {
	handle := &nfc.MockNDEFHandle{ReadError: errors.New("crc")}
	sc := &fakeScanner{}
	sc.set([]scannedTag{{uid: "01", family: familyUltralight, handle: handle}}, nil)
	r := newTestReader(sc)
	c := &collector{}
	r.handler = c.handle

	r.poll(context.Background())

	tags := c.all()
	require.Len(t, tags, 1)
	assert.Nil(t, tags[0].Message)
	assert.NotNil(t, tags[0].Handle)
	assert.Contains(t, tags[0].Techs, nfc.TechNDEF)
}

func TestReader_UnformattedTagHasNoNDEF(t *testing.T) {
	handle := &nfc.MockNDEFHandle{ReadError: nfc.NewReadError("ReadNDEF", "01", errNotFormatted)}
	sc := &fakeScanner{}
	sc.set([]scannedTag{{uid: "01", family: familyClassic, handle: handle}}, nil)
	r := newTestReader(sc)
	c := &collector{}
	r.handler = c.handle

	r.poll(context.Background())

	tags := c.all()
	require.Len(t, tags, 1)
	assert.Nil(t, tags[0].Handle)
	assert.Equal(t, []string{nfc.TechNfcA, nfc.TechMifareClassic}, tags[0].Techs)

	event := nfc.Translate(tags[0], time.Now())
	assert.Nil(t, event.Technology)
}

func TestReader_BadUIDSkipped(t *testing.T) {
	sc := &fakeScanner{}
	sc.set([]scannedTag{{uid: "zz"}, {uid: "02"}}, nil)
	r := newTestReader(sc)
	c := &collector{}
	r.handler = c.handle

	r.poll(context.Background())

	tags := c.all()
	require.Len(t, tags, 1)
	assert.Equal(t, []byte{0x02}, tags[0].ID)
}

func TestReader_UnhealthyAfterRepeatedErrors(t *testing.T) {
	sc := &fakeScanner{}
	sc.set(nil, errors.New("usb gone"))
	r := newTestReader(sc)
	adapter := r.DefaultAdapter()
	ctx := context.Background()

	for i := 0; i < maxPollErrors; i++ {
		r.poll(ctx)
	}
	assert.True(t, adapter.IsPresent())
	assert.False(t, adapter.IsEnabled())

	sc.set(nil, nil)
	r.poll(ctx)
	assert.True(t, adapter.IsEnabled())
}

func TestReader_RegisterStartsPolling(t *testing.T) {
	sc := &fakeScanner{}
	sc.set([]scannedTag{{uid: "0a", family: familyDESFire}}, nil)
	r := newTestReader(sc)
	c := &collector{}

	require.NoError(t, r.RegisterForDiscovery(c.handle))
	assert.Eventually(t, func() bool { return len(c.all()) == 1 }, time.Second, time.Millisecond)

	r.UnregisterForDiscovery()
	sc.set([]scannedTag{{uid: "0b"}}, nil)
	time.Sleep(10 * time.Millisecond)
	assert.Len(t, c.all(), 1)
}

func TestReader_ReregisterReportsPresentTagOnce(t *testing.T) {
	sc := &fakeScanner{}
	sc.set([]scannedTag{{uid: "0a", family: familyDESFire}}, nil)
	r := newTestReader(sc)
	c := &collector{}

	require.NoError(t, r.RegisterForDiscovery(c.handle))
	require.Eventually(t, func() bool { return len(c.all()) == 1 }, time.Second, time.Millisecond)

	r.UnregisterForDiscovery()
	r.mu.Lock()
	assert.Nil(t, r.done)
	r.mu.Unlock()

	// The tag stays in the field across the re-registration.
	require.NoError(t, r.RegisterForDiscovery(c.handle))
	require.Eventually(t, func() bool { return len(c.all()) == 2 }, time.Second, time.Millisecond)

	time.Sleep(20 * time.Millisecond)
	assert.Len(t, c.all(), 2)

	r.UnregisterForDiscovery()
}

func TestReader_SessionIntegration(t *testing.T) {
	sc := &fakeScanner{}
	sc.set([]scannedTag{{uid: "04", family: familyUltralight, handle: &nfc.MockNDEFHandle{}}}, nil)
	r := newTestReader(sc)

	s := nfc.NewSession(r, nfc.WithLogger(slog.New(slog.NewTextHandler(io.Discard, nil))))
	s.Start()
	assert.True(t, s.IsNFCAvailable())
	assert.False(t, s.IsNFCPushAvailable())
	assert.True(t, nfc.IsNotSupportedError(s.ShareTag(nil)))
	assert.True(t, nfc.IsNotSupportedError(s.LaunchScanningActivity(true)))

	events := make(chan nfc.TagEvent, 1)
	require.NoError(t, s.SetListener(nfc.ListenerFunc(func(e nfc.TagEvent) {
		select {
		case events <- e:
		default:
		}
	})))

	select {
	case e := <-events:
		assert.Equal(t, []byte{0x04}, e.TagID)
		_, ok := e.NDEF()
		assert.True(t, ok)
	case <-time.After(time.Second):
		t.Fatal("no event delivered")
	}
	s.Stop()
}
