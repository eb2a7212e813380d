package server

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dotside-studios/davi-nfc-session/protocol"
)

func noopHandler(ctx context.Context, c *Client, req protocol.WebSocketRequest) error {
	return nil
}

func TestHandlerRegistry_Handle(t *testing.T) {
	registry := NewHandlerRegistry()

	t.Run("register valid handler", func(t *testing.T) {
		assert.NoError(t, registry.Handle("test", noopHandler))
	})

	t.Run("register nil handler", func(t *testing.T) {
		assert.Error(t, registry.Handle("nil", nil))
	})

	t.Run("register with empty message type", func(t *testing.T) {
		assert.Error(t, registry.Handle("", noopHandler))
	})

	t.Run("register duplicate handler", func(t *testing.T) {
		require.NoError(t, registry.Handle("duplicate", noopHandler))
		assert.Error(t, registry.Handle("duplicate", noopHandler))
	})
}

func TestHandlerRegistry_GetAndHas(t *testing.T) {
	registry := NewHandlerRegistry()
	require.NoError(t, registry.Handle("test", noopHandler))

	h, ok := registry.Get("test")
	assert.True(t, ok)
	assert.NotNil(t, h)
	assert.True(t, registry.Has("test"))

	_, ok = registry.Get("nonexistent")
	assert.False(t, ok)
	assert.False(t, registry.Has("nonexistent"))
}

func TestHandlerRegistry_MessageTypesSorted(t *testing.T) {
	registry := NewHandlerRegistry()
	assert.Empty(t, registry.MessageTypes())

	for _, typ := range []string{"type3", "type1", "type2"} {
		require.NoError(t, registry.Handle(typ, noopHandler))
	}
	assert.Equal(t, []string{"type1", "type2", "type3"}, registry.MessageTypes())
}

func TestHandlerRegistry_HandlerExecution(t *testing.T) {
	registry := NewHandlerRegistry()
	expected := errors.New("test error")

	var got protocol.WebSocketRequest
	require.NoError(t, registry.Handle("echo", func(ctx context.Context, c *Client, req protocol.WebSocketRequest) error {
		got = req
		return expected
	}))

	h, ok := registry.Get("echo")
	require.True(t, ok)

	// a client without a connection swallows replies
	c := newClient("c1", "local", nil)
	err := h(context.Background(), c, protocol.WebSocketRequest{ID: "1", Type: "echo"})
	assert.Equal(t, expected, err)
	assert.Equal(t, "1", got.ID)
}

func TestHandlerRegistry_CustomWebSocketHandlers(t *testing.T) {
	registry := NewHandlerRegistry()
	var order []string

	registry.HandleWebSocket(func(r *http.Request) bool {
		return r.URL.Query().Get("mode") == "device"
	}, func(w http.ResponseWriter, r *http.Request) bool {
		order = append(order, "device")
		return true
	})
	registry.HandleWebSocket(func(r *http.Request) bool {
		return true
	}, func(w http.ResponseWriter, r *http.Request) bool {
		order = append(order, "fallthrough")
		return false
	})

	w := httptest.NewRecorder()
	assert.True(t, registry.TryCustomWebSocketHandler(w, httptest.NewRequest(http.MethodGet, "/ws?mode=device", nil)))
	assert.False(t, registry.TryCustomWebSocketHandler(w, httptest.NewRequest(http.MethodGet, "/ws", nil)))
	assert.Equal(t, []string{"device", "fallthrough"}, order)
}

func TestHandlerRegistry_Lifecycle(t *testing.T) {
	registry := NewHandlerRegistry()

	// no starters must not panic
	registry.StartLifecycleHandlers(context.Background())

	var mu sync.Mutex
	count := 0
	for i := 0; i < 3; i++ {
		registry.RegisterLifecycle(func(ctx context.Context) {
			require.NotNil(t, ctx)
			mu.Lock()
			defer mu.Unlock()
			count++
		})
	}

	registry.StartLifecycleHandlers(context.Background())
	assert.Equal(t, 3, count)
}

func TestHandlerRegistry_ConcurrentAccess(t *testing.T) {
	registry := NewHandlerRegistry()
	var wg sync.WaitGroup

	for i := 0; i < 50; i++ {
		wg.Add(2)
		go func(i int) {
			defer wg.Done()
			registry.Handle(fmt.Sprintf("type-%d", i), noopHandler)
		}(i)
		go func(i int) {
			defer wg.Done()
			registry.Get(fmt.Sprintf("type-%d", i))
			registry.MessageTypes()
		}(i)
	}
	wg.Wait()

	assert.Len(t, registry.MessageTypes(), 50)
}
