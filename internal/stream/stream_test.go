package stream

import (
	"context"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestQueue_DropOldestWhenFull(t *testing.T) {
	q := NewQueue(DefaultQueueCapacity)
	for i := 0; i < DefaultQueueCapacity; i++ {
		assert.False(t, q.Push([]byte(fmt.Sprint(i))))
	}
	assert.True(t, q.Push([]byte("5000")), "the 5001st push evicts the oldest")
	assert.Equal(t, DefaultQueueCapacity, q.Len())

	first, ok := q.TryPop()
	require.True(t, ok)
	assert.Equal(t, "1", string(first))
}

func TestQueue_PopBlocksUntilPush(t *testing.T) {
	q := NewQueue(4)
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()

	go func() {
		time.Sleep(20 * time.Millisecond)
		q.Push([]byte("hello"))
	}()

	got, err := q.Pop(ctx)
	require.NoError(t, err)
	assert.Equal(t, "hello", string(got))
}

func TestQueue_PopCancelled(t *testing.T) {
	q := NewQueue(4)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := q.Pop(ctx)
	require.ErrorIs(t, err, context.Canceled)
}

func startHub(t *testing.T, opts HubOptions) (*Hub, *Queue, string) {
	t.Helper()
	q := NewQueue(16)
	hub := NewHub(q, opts, nil)
	ctx, cancel := context.WithCancel(context.Background())
	t.Cleanup(cancel)
	go hub.Run(ctx)

	srv := httptest.NewServer(http.HandlerFunc(hub.ServeWS))
	t.Cleanup(srv.Close)
	return hub, q, "ws" + strings.TrimPrefix(srv.URL, "http")
}

func dial(t *testing.T, url string) *websocket.Conn {
	t.Helper()
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	require.NoError(t, err)
	t.Cleanup(func() { conn.Close() })
	return conn
}

func waitFor(t *testing.T, cond func() bool) {
	t.Helper()
	require.Eventually(t, cond, 2*time.Second, 10*time.Millisecond)
}

func TestHub_FanOutToAllSubscribers(t *testing.T) {
	hub, q, url := startHub(t, HubOptions{Keepalive: time.Minute})
	a := dial(t, url)
	b := dial(t, url)
	waitFor(t, func() bool { return hub.Count() == 2 })

	q.Push([]byte(`{"type":"alert","data":{"tx_hash":"0x1"}}`))

	for _, conn := range []*websocket.Conn{a, b} {
		conn.SetReadDeadline(time.Now().Add(2 * time.Second))
		_, msg, err := conn.ReadMessage()
		require.NoError(t, err)
		assert.JSONEq(t, `{"type":"alert","data":{"tx_hash":"0x1"}}`, string(msg))
	}
}

func TestHub_DisconnectRemovesClient(t *testing.T) {
	hub, q, url := startHub(t, HubOptions{Keepalive: time.Minute})
	a := dial(t, url)
	b := dial(t, url)
	waitFor(t, func() bool { return hub.Count() == 2 })

	a.Close()
	waitFor(t, func() bool { return hub.Count() == 1 })

	q.Push([]byte(`{"type":"alert"}`))
	b.SetReadDeadline(time.Now().Add(2 * time.Second))
	_, msg, err := b.ReadMessage()
	require.NoError(t, err)
	assert.Contains(t, string(msg), "alert")
}

func TestHub_KeepaliveAndClientPing(t *testing.T) {
	hub, _, url := startHub(t, HubOptions{Keepalive: 50 * time.Millisecond})
	conn := dial(t, url)
	waitFor(t, func() bool { return hub.Count() == 1 })

	require.NoError(t, conn.WriteMessage(websocket.TextMessage, []byte("ping")))

	var sawPing, sawPong bool
	conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	for !(sawPing && sawPong) {
		_, msg, err := conn.ReadMessage()
		require.NoError(t, err)
		switch string(msg) {
		case `{"type":"ping"}`:
			sawPing = true
		case `{"type":"pong"}`:
			sawPong = true
		}
	}
}

func TestHub_SlowClientDisconnected(t *testing.T) {
	hub, q, url := startHub(t, HubOptions{Keepalive: time.Minute, SendBuffer: 1})
	conn := dial(t, url)
	waitFor(t, func() bool { return hub.Count() == 1 })

	// Never read; large frames fill the socket buffers and then the send buffer
	big := []byte(`{"type":"alert","data":"` + strings.Repeat("x", 1<<20) + `"}`)
	for i := 0; i < 64 && hub.Count() == 1; i++ {
		q.Push(big)
		time.Sleep(5 * time.Millisecond)
	}
	waitFor(t, func() bool { return hub.Count() == 0 })
	_ = conn
}
