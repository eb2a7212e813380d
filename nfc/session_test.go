package nfc

import (
	"errors"
	"io"
	"log/slog"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// recorder collects delivered events.
type recorder struct {
	mu     sync.Mutex
	events []TagEvent
}

func (r *recorder) HandleEvent(e TagEvent) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, e)
}

func (r *recorder) Events() []TagEvent {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]TagEvent(nil), r.events...)
}

// basicPlatform exposes only the Platform methods of a MockPlatform.
type basicPlatform struct {
	Platform
}

func quietLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func newStartedSession(t *testing.T, adapter *MockAdapter, opts ...SessionOption) (*Session, *MockPlatform) {
	t.Helper()
	platform := NewMockPlatform(adapter)
	opts = append([]SessionOption{WithLogger(quietLogger())}, opts...)
	s := NewSession(platform, opts...)
	s.Start()
	return s, platform
}

func ndefTag(id ...byte) DiscoveredTag {
	return DiscoveredTag{ID: id, Techs: []string{TechNfcA, TechNDEF}, Handle: &MockNDEFHandle{}}
}

func TestSession_EndToEndDelivery(t *testing.T) {
	s, platform := newStartedSession(t, NewMockAdapter(true, true))
	rec := &recorder{}

	require.NoError(t, s.SetListener(rec))
	require.True(t, platform.Discover(ndefTag(0x01)))

	events := rec.Events()
	require.Len(t, events, 1)
	assert.Equal(t, []byte{0x01}, events[0].TagID)
	require.NotNil(t, events[0].Technology)
	assert.Equal(t, TechNDEF, events[0].Technology.Name())
}

func TestSession_OnDiscoveredWithoutListener(t *testing.T) {
	s, _ := newStartedSession(t, NewMockAdapter(true, true))

	assert.NotPanics(t, func() { s.OnDiscovered(ndefTag(0x01)) })
	assert.False(t, s.HasListener())
}

func TestSession_DetachStopsDelivery(t *testing.T) {
	s, platform := newStartedSession(t, NewMockAdapter(true, true))
	rec := &recorder{}

	require.NoError(t, s.SetListener(rec))
	require.NoError(t, s.SetListener(nil))

	assert.False(t, platform.Registered())
	assert.False(t, platform.Discover(ndefTag(0x01)))
	s.OnDiscovered(ndefTag(0x02))

	assert.Empty(t, rec.Events())
	assert.Equal(t, []string{"DefaultAdapter", "RegisterForDiscovery", "UnregisterForDiscovery"}, platform.Calls())
}

func TestSession_ReplaceListener(t *testing.T) {
	s, platform := newStartedSession(t, NewMockAdapter(true, true))
	first, second := &recorder{}, &recorder{}

	require.NoError(t, s.SetListener(first))
	platform.Discover(ndefTag(0x01))
	require.NoError(t, s.SetListener(second))
	platform.Discover(ndefTag(0x02))

	require.Len(t, first.Events(), 1)
	require.Len(t, second.Events(), 1)
	assert.Equal(t, []byte{0x02}, second.Events()[0].TagID)
}

func TestSession_DeliversTagsWithoutNDEF(t *testing.T) {
	s, platform := newStartedSession(t, NewMockAdapter(true, true))
	rec := &recorder{}
	require.NoError(t, s.SetListener(rec))

	platform.Discover(DiscoveredTag{ID: []byte{0x05}, Techs: []string{"foo", "bar"}})

	events := rec.Events()
	require.Len(t, events, 1)
	assert.Nil(t, events[0].Technology)
	assert.Equal(t, []byte{0x05}, events[0].TagID)
}

func TestSession_RegistrationFailure(t *testing.T) {
	s, platform := newStartedSession(t, NewMockAdapter(true, true))
	rec := &recorder{}
	require.NoError(t, s.SetListener(rec))

	platform.RegisterError = errors.New("busy")
	err := s.SetListener(&recorder{})

	require.Error(t, err)
	assert.True(t, IsRegistrationError(err))
	assert.False(t, s.HasListener())

	s.OnDiscovered(ndefTag(0x01))
	assert.Empty(t, rec.Events())
}

func TestSession_Availability(t *testing.T) {
	tests := []struct {
		name    string
		adapter *MockAdapter
		want    bool
	}{
		{"no adapter", nil, false},
		{"absent", NewMockAdapter(false, true), false},
		{"disabled", NewMockAdapter(true, false), false},
		{"present and enabled", NewMockAdapter(true, true), true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			s, _ := newStartedSession(t, tt.adapter)
			assert.Equal(t, tt.want, s.IsNFCAvailable())
			assert.Equal(t, tt.want, s.IsNFCPushAvailable())
		})
	}

	t.Run("unavailable before start", func(t *testing.T) {
		s := NewSession(NewMockPlatform(NewMockAdapter(true, true)), WithLogger(quietLogger()))
		assert.False(t, s.IsNFCAvailable())
	})

	t.Run("availability follows the adapter", func(t *testing.T) {
		adapter := NewMockAdapter(true, false)
		s, _ := newStartedSession(t, adapter)
		assert.False(t, s.IsNFCAvailable())
		adapter.SetEnabled(true)
		assert.True(t, s.IsNFCAvailable())
	})

	t.Run("restart re-resolves adapter", func(t *testing.T) {
		s, platform := newStartedSession(t, nil)
		assert.False(t, s.IsNFCAvailable())
		platform.Adapter = NewMockAdapter(true, true)
		s.Start()
		assert.True(t, s.IsNFCAvailable())
	})
}

func TestSession_PushCapability(t *testing.T) {
	t.Run("platform without push", func(t *testing.T) {
		s, platform := newStartedSession(t, NewMockAdapter(true, true))
		platform.Push = false

		assert.True(t, s.IsNFCAvailable())
		assert.False(t, s.IsNFCPushAvailable())
		assert.True(t, IsNotSupportedError(s.ShareTag([]NDEFRecord{NewTextRecord("x", "en")})))
		assert.NoError(t, s.AddTextTypeFilter())
	})

	t.Run("platform that does not report push", func(t *testing.T) {
		platform := basicPlatform{NewMockPlatform(NewMockAdapter(true, true))}
		s := NewSession(platform, WithLogger(quietLogger()))
		s.Start()

		assert.True(t, s.IsNFCPushAvailable())
		assert.NoError(t, s.ShareTag(nil))
	})
}

func TestSession_FilterOperations(t *testing.T) {
	s, platform := newStartedSession(t, NewMockAdapter(true, true))

	require.NoError(t, s.AddTextTypeFilter())
	require.NoError(t, s.AddTextTypeFilter())
	require.NoError(t, s.AddURITypeFilter("https"))
	require.NoError(t, s.AddMIMETypeFilter("text/vcard"))
	require.NoError(t, s.RemoveURITypeFilter("https"))
	require.NoError(t, s.RemoveURITypeFilter("https"))
	require.NoError(t, s.RemoveMIMETypeFilter("application/json"))

	want := []ContentFilter{TextFilter(), MIMETypeFilter("text/vcard")}
	assert.Equal(t, want, s.Filters())
	assert.Equal(t, want, platform.AppliedFilters)

	require.NoError(t, s.RemoveTextTypeFilter())
	require.NoError(t, s.RemoveMIMETypeFilter("text/vcard"))
	assert.Empty(t, s.Filters())
	assert.Empty(t, platform.AppliedFilters)
}

func TestSession_FilterSinkFailureKeepsRegistry(t *testing.T) {
	s, platform := newStartedSession(t, NewMockAdapter(true, true))
	platform.ApplyFiltersError = errors.New("phone gone")

	require.NoError(t, s.AddURITypeFilter("tel"))
	assert.Equal(t, []ContentFilter{URISchemeFilter("tel")}, s.Filters())
}

func TestSession_UnavailableLeavesStateUnchanged(t *testing.T) {
	adapter := NewMockAdapter(true, true)
	s, platform := newStartedSession(t, adapter)

	require.NoError(t, s.AddTextTypeFilter())
	require.NoError(t, s.AddURITypeFilter("https"))
	require.NoError(t, s.ShareTag([]NDEFRecord{NewTextRecord("keep", "en")}))

	adapter.SetEnabled(false)
	callsBefore := len(platform.Calls())

	ops := map[string]func() error{
		"AddTextTypeFilter":    s.AddTextTypeFilter,
		"RemoveTextTypeFilter": s.RemoveTextTypeFilter,
		"AddURITypeFilter":     func() error { return s.AddURITypeFilter("tel") },
		"RemoveURITypeFilter":  func() error { return s.RemoveURITypeFilter("https") },
		"AddMIMETypeFilter":    func() error { return s.AddMIMETypeFilter("text/plain") },
		"RemoveMIMETypeFilter": func() error { return s.RemoveMIMETypeFilter("text/plain") },
		"ShareTag":             func() error { return s.ShareTag([]NDEFRecord{NewTextRecord("new", "en")}) },
		"UnshareTag":           s.UnshareTag,
	}

	for name, op := range ops {
		t.Run(name, func(t *testing.T) {
			err := op()
			require.Error(t, err)
			assert.True(t, IsNotSupportedError(err))
			assert.ErrorIs(t, err, ErrNotSupported)
		})
	}

	assert.Equal(t, []ContentFilter{TextFilter(), URISchemeFilter("https")}, s.Filters())
	shared := s.SharedTag()
	require.NotNil(t, shared)
	assert.Equal(t, []string{"keep"}, shared.Texts())
	assert.Len(t, platform.Calls(), callsBefore)
}

func TestSession_NotSupportedReasons(t *testing.T) {
	s, _ := newStartedSession(t, nil)

	var nfcErr *NFCError
	require.ErrorAs(t, s.AddTextTypeFilter(), &nfcErr)
	assert.Equal(t, ReasonNFCUnsupported, nfcErr.Message)

	require.ErrorAs(t, s.UnshareTag(), &nfcErr)
	assert.Equal(t, ReasonPushUnsupported, nfcErr.Message)
}

func TestSession_ShareTagReplaces(t *testing.T) {
	s, platform := newStartedSession(t, NewMockAdapter(true, true))
	r1 := NewTextRecord("one", "en")
	r2 := NewURIRecord("https://two.example")
	r3 := NewMIMERecord("text/plain", []byte("three"))

	require.NoError(t, s.ShareTag([]NDEFRecord{r1, r2}))
	require.NoError(t, s.ShareTag([]NDEFRecord{r3}))

	shared := s.SharedTag()
	require.NotNil(t, shared)
	require.Len(t, shared.Records, 1)
	assert.True(t, shared.Records[0].Equal(r3))
	require.NotNil(t, platform.Published)
	assert.Len(t, platform.Published.Records, 1)

	require.NoError(t, s.UnshareTag())
	assert.Nil(t, s.SharedTag())
	assert.Nil(t, platform.Published)
}

func TestSession_SharedTagIsCopy(t *testing.T) {
	s, _ := newStartedSession(t, NewMockAdapter(true, true))
	records := []NDEFRecord{NewMIMERecord("x/y", []byte{1})}
	require.NoError(t, s.ShareTag(records))

	records[0].Payload[0] = 7
	got := s.SharedTag()
	got.Records[0].Payload[0] = 8

	assert.Equal(t, []byte{1}, s.SharedTag().Records[0].Payload)
}

func TestSession_FiltersSurviveListenerCycles(t *testing.T) {
	s, _ := newStartedSession(t, NewMockAdapter(true, true))

	require.NoError(t, s.AddTextTypeFilter())
	require.NoError(t, s.ShareTag([]NDEFRecord{NewTextRecord("x", "en")}))
	require.NoError(t, s.SetListener(&recorder{}))
	require.NoError(t, s.SetListener(nil))

	assert.Equal(t, []ContentFilter{TextFilter()}, s.Filters())
	assert.NotNil(t, s.SharedTag())
}

func TestSession_DeliveryIgnoresFiltersByDefault(t *testing.T) {
	s, platform := newStartedSession(t, NewMockAdapter(true, true))
	rec := &recorder{}
	require.NoError(t, s.AddURITypeFilter("https"))
	require.NoError(t, s.SetListener(rec))

	tag := ndefTag(0x01)
	tag.Message = NewNDEFMessage(NewTextRecord("not a uri", "en"))
	platform.Discover(tag)

	assert.Len(t, rec.Events(), 1)
}

func TestSession_DeliveryFiltering(t *testing.T) {
	s, platform := newStartedSession(t, NewMockAdapter(true, true), WithDeliveryFiltering(true))
	rec := &recorder{}
	require.NoError(t, s.AddURITypeFilter("https"))
	require.NoError(t, s.SetListener(rec))

	miss := ndefTag(0x01)
	miss.Message = NewNDEFMessage(NewTextRecord("not a uri", "en"))
	hit := ndefTag(0x02)
	hit.Message = NewNDEFMessage(NewURIRecord("https://example.com"))

	platform.Discover(miss)
	platform.Discover(hit)
	platform.Discover(ndefTag(0x03))

	events := rec.Events()
	require.Len(t, events, 1)
	assert.Equal(t, []byte{0x02}, events[0].TagID)
}

func TestSession_DeliveryFilteringWithoutFilters(t *testing.T) {
	s, platform := newStartedSession(t, NewMockAdapter(true, true), WithDeliveryFiltering(true))
	rec := &recorder{}
	require.NoError(t, s.SetListener(rec))

	platform.Discover(ndefTag(0x01))
	assert.Len(t, rec.Events(), 1)
}

func TestSession_LaunchScanningActivity(t *testing.T) {
	s, platform := newStartedSession(t, NewMockAdapter(true, true))

	require.NoError(t, s.LaunchScanningActivity(true))
	require.NoError(t, s.LaunchScanningActivity(false))
	assert.Equal(t, []bool{true, false}, platform.Launches)

	plain := NewSession(basicPlatform{platform}, WithLogger(quietLogger()))
	plain.Start()
	assert.True(t, IsNotSupportedError(plain.LaunchScanningActivity(true)))
}

func TestSession_Stop(t *testing.T) {
	s, platform := newStartedSession(t, NewMockAdapter(true, true))
	rec := &recorder{}

	require.NoError(t, s.SetListener(rec))
	require.NoError(t, s.AddTextTypeFilter())
	require.NoError(t, s.ShareTag([]NDEFRecord{NewTextRecord("x", "en")}))

	s.Stop()

	assert.False(t, s.HasListener())
	assert.False(t, platform.Registered())
	assert.Empty(t, s.Filters())
	assert.Nil(t, s.SharedTag())
	assert.False(t, s.IsNFCAvailable())
	assert.Empty(t, platform.AppliedFilters)
	assert.Nil(t, platform.Published)

	s.OnDiscovered(ndefTag(0x01))
	assert.Empty(t, rec.Events())

	assert.NotPanics(t, s.Stop)
}

func TestSession_Status(t *testing.T) {
	s, _ := newStartedSession(t, NewMockAdapter(true, true))
	require.NoError(t, s.AddMIMETypeFilter("text/plain"))
	require.NoError(t, s.SetListener(&recorder{}))

	st := s.Status()
	assert.True(t, st.Started)
	assert.True(t, st.Available)
	assert.True(t, st.PushAvailable)
	assert.True(t, st.Listening)
	assert.False(t, st.Shared)
	assert.Equal(t, []ContentFilter{MIMETypeFilter("text/plain")}, st.Filters)
}

func TestSession_ClockStampsEvents(t *testing.T) {
	at := time.Date(2026, 10, 18, 12, 0, 0, 0, time.UTC)
	s, platform := newStartedSession(t, NewMockAdapter(true, true), WithClock(func() time.Time { return at }))
	rec := &recorder{}
	require.NoError(t, s.SetListener(rec))

	platform.Discover(ndefTag(0x01))
	require.Len(t, rec.Events(), 1)
	assert.Equal(t, at, rec.Events()[0].DiscoveredAt)
}

func TestSession_NoDeliveryAfterDetachReturns(t *testing.T) {
	s, _ := newStartedSession(t, NewMockAdapter(true, true))

	var delivered atomic.Int64
	var detached atomic.Bool
	var late atomic.Int64
	l := ListenerFunc(func(TagEvent) {
		if detached.Load() {
			late.Add(1)
		}
		delivered.Add(1)
	})
	require.NoError(t, s.SetListener(l))

	var wg sync.WaitGroup
	stop := make(chan struct{})
	for i := 0; i < 4; i++ {
		wg.Add(1)
		go func(id byte) {
			defer wg.Done()
			for {
				select {
				case <-stop:
					return
				default:
					s.OnDiscovered(ndefTag(id))
				}
			}
		}(byte(i))
	}

	time.Sleep(20 * time.Millisecond)
	require.NoError(t, s.SetListener(nil))
	detached.Store(true)
	time.Sleep(20 * time.Millisecond)
	close(stop)
	wg.Wait()

	assert.Positive(t, delivered.Load())
	assert.Zero(t, late.Load())
}
