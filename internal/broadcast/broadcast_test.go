package broadcast

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/web3guy0/whalebot/internal/stream"
	"github.com/web3guy0/whalebot/internal/types"
)

type recordingSink struct {
	name  string
	err   error
	delay time.Duration

	mu   sync.Mutex
	msgs []types.Message
}

func (r *recordingSink) Name() string { return r.name }

func (r *recordingSink) Send(ctx context.Context, msg types.Message) error {
	if r.delay > 0 {
		select {
		case <-time.After(r.delay):
		case <-ctx.Done():
			return ctx.Err()
		}
	}
	if r.err != nil {
		return r.err
	}
	r.mu.Lock()
	r.msgs = append(r.msgs, msg)
	r.mu.Unlock()
	return nil
}

func (r *recordingSink) count() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.msgs)
}

func TestBroadcast_SinkFailureIsolated(t *testing.T) {
	broken := &recordingSink{name: "broken", err: errors.New("chat api down")}
	slow := &recordingSink{name: "slow", delay: time.Second}
	good := &recordingSink{name: "good"}
	b := New(50*time.Millisecond, nil, broken, slow, good)

	err := b.Broadcast(context.Background(), types.Message{Text: "hi"})

	require.Error(t, err)
	assert.Contains(t, err.Error(), "broken")
	assert.Contains(t, err.Error(), "slow")
	assert.Equal(t, 1, good.count())
	assert.Equal(t, []string{"broken", "slow", "good"}, b.Sinks())
}

func TestStreamSink(t *testing.T) {
	q := stream.NewQueue(1)
	sink := NewStreamSink(q, nil)

	require.NoError(t, sink.Send(context.Background(), types.Message{Record: types.Record{TxHash: "0x1", AlertType: types.KindSwap}}))
	require.NoError(t, sink.Send(context.Background(), types.Message{Record: types.Record{TxHash: "0x2"}}))

	assert.Equal(t, 1, q.Len(), "full queue drops the oldest")
	data, ok := q.TryPop()
	require.True(t, ok)

	var env struct {
		Type string       `json:"type"`
		Data types.Record `json:"data"`
	}
	require.NoError(t, json.Unmarshal(data, &env))
	assert.Equal(t, "alert", env.Type)
	assert.Equal(t, "0x2", env.Data.TxHash)
}

type fakeSaver struct{ got []types.Message }

func (f *fakeSaver) SaveAlert(_ context.Context, msg types.Message) error {
	f.got = append(f.got, msg)
	return nil
}

func TestArchiveSink(t *testing.T) {
	saver := &fakeSaver{}
	sink := NewArchiveSink(saver)
	require.NoError(t, sink.Send(context.Background(), types.Message{Record: types.Record{TxHash: "0x9"}}))
	require.Len(t, saver.got, 1)
	assert.Equal(t, "archive", sink.Name())
}

// fakeBotAPI answers getMe and records sendMessage form posts
func fakeBotAPI(t *testing.T) (*httptest.Server, *[]map[string]string) {
	t.Helper()
	var (
		mu   sync.Mutex
		sent []map[string]string
	)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch {
		case strings.HasSuffix(r.URL.Path, "/getMe"):
			fmt.Fprint(w, `{"ok":true,"result":{"id":1,"is_bot":true,"first_name":"whale","username":"whalebot"}}`)
		case strings.HasSuffix(r.URL.Path, "/sendMessage"):
			assert.NoError(t, r.ParseForm())
			form := map[string]string{}
			for k := range r.PostForm {
				form[k] = r.PostForm.Get(k)
			}
			mu.Lock()
			sent = append(sent, form)
			mu.Unlock()
			fmt.Fprint(w, `{"ok":true,"result":{"message_id":7,"date":0,"chat":{"id":42,"type":"private"}}}`)
		default:
			w.WriteHeader(http.StatusNotFound)
			fmt.Fprint(w, `{"ok":false,"description":"not found"}`)
		}
	}))
	t.Cleanup(srv.Close)
	return srv, &sent
}

func TestTelegram_SendNumericChat(t *testing.T) {
	srv, sent := fakeBotAPI(t)
	tg, err := NewTelegram(TelegramOptions{Token: "tok", ChatID: "42", Endpoint: srv.URL + "/bot%s/%s"})
	require.NoError(t, err)

	require.NoError(t, tg.Send(context.Background(), types.Message{Text: "🐋 <b>TRANSFER</b>"}))

	require.Len(t, *sent, 1)
	got := (*sent)[0]
	assert.Equal(t, "42", got["chat_id"])
	assert.Equal(t, "HTML", got["parse_mode"])
	assert.Equal(t, "true", got["disable_web_page_preview"])
	assert.Equal(t, "🐋 <b>TRANSFER</b>", got["text"])
}

func TestTelegram_SendChannel(t *testing.T) {
	srv, sent := fakeBotAPI(t)
	tg, err := NewTelegram(TelegramOptions{Token: "tok", ChatID: "@whales", Endpoint: srv.URL + "/bot%s/%s"})
	require.NoError(t, err)

	require.NoError(t, tg.Send(context.Background(), types.Message{Text: "x"}))
	require.Len(t, *sent, 1)
	assert.Equal(t, "@whales", (*sent)[0]["chat_id"])
}

func TestTelegram_Commands(t *testing.T) {
	srv, sent := fakeBotAPI(t)
	tg, err := NewTelegram(TelegramOptions{
		Token:    "tok",
		ChatID:   "42",
		Endpoint: srv.URL + "/bot%s/%s",
		Status:   func() string { return "stage=idle" },
	})
	require.NoError(t, err)

	tg.handleCommand("status")
	tg.handleCommand("PING")
	require.Len(t, *sent, 2)
	assert.Equal(t, "stage=idle", (*sent)[0]["text"])
	assert.Equal(t, "🏓 Pong!", (*sent)[1]["text"])
}

func TestNewTelegram_RequiresConfig(t *testing.T) {
	_, err := NewTelegram(TelegramOptions{Token: "tok"})
	require.Error(t, err)
}

func TestNewTelegram_DefaultClientHasTimeout(t *testing.T) {
	srv, _ := fakeBotAPI(t)
	tg, err := NewTelegram(TelegramOptions{Token: "tok", ChatID: "42", Endpoint: srv.URL + "/bot%s/%s"})
	require.NoError(t, err)

	hc, ok := tg.api.Client.(*http.Client)
	require.True(t, ok)
	assert.Equal(t, defaultTelegramTimeout, hc.Timeout)
}

func TestAsyncSink_SendDoesNotWaitForSlowSink(t *testing.T) {
	slow := &recordingSink{name: "telegram", delay: 200 * time.Millisecond}
	async := NewAsyncSink(slow, 8, time.Second, nil)
	defer async.Stop()
	assert.Equal(t, "telegram", async.Name())

	start := time.Now()
	for i := 0; i < 3; i++ {
		require.NoError(t, async.Send(context.Background(), types.Message{Record: types.Record{TxHash: fmt.Sprint(i)}}))
	}
	assert.Less(t, time.Since(start), 50*time.Millisecond)

	require.Eventually(t, func() bool { return slow.count() == 3 }, 2*time.Second, 10*time.Millisecond)
	slow.mu.Lock()
	defer slow.mu.Unlock()
	assert.Equal(t, "0", slow.msgs[0].Record.TxHash, "delivered in order")
}

func TestAsyncSink_FullBacklogRejects(t *testing.T) {
	hung := &recordingSink{name: "telegram", delay: time.Hour}
	async := NewAsyncSink(hung, 1, 5*time.Second, nil)
	defer async.Stop()

	// first message is taken by the worker, second fills the backlog
	require.NoError(t, async.Send(context.Background(), types.Message{}))
	require.Eventually(t, func() bool { return async.Pending() == 0 }, time.Second, 5*time.Millisecond)
	require.NoError(t, async.Send(context.Background(), types.Message{}))
	require.ErrorIs(t, async.Send(context.Background(), types.Message{}), ErrSinkBacklogged)
}

func TestBroadcast_HungChatSinkDoesNotDelayStream(t *testing.T) {
	q := stream.NewQueue(16)
	hung := &recordingSink{name: "telegram", delay: time.Hour}
	chat := NewAsyncSink(hung, 16, time.Second, nil)
	defer chat.Stop()
	b := New(time.Second, nil, NewStreamSink(q, nil), chat)

	start := time.Now()
	for i := 0; i < 3; i++ {
		require.NoError(t, b.Broadcast(context.Background(), types.Message{Record: types.Record{TxHash: fmt.Sprint(i)}}))
	}
	assert.Less(t, time.Since(start), 200*time.Millisecond)
	assert.Equal(t, 3, q.Len())
}
