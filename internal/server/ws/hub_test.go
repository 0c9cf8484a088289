package ws

import (
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"net/http/httptest"
	"strconv"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"google.golang.org/protobuf/proto"
	"google.golang.org/protobuf/types/known/structpb"

	"github.com/alanyoungcy/ammarb/internal/domain"
)

type fakeBus struct {
	mu      sync.Mutex
	subs    map[string]chan []byte
	streams map[string][]domain.StreamMessage
}

func newFakeBus() *fakeBus {
	return &fakeBus{subs: map[string]chan []byte{}, streams: map[string][]domain.StreamMessage{}}
}

func (b *fakeBus) Publish(_ context.Context, channel string, payload []byte) error {
	b.mu.Lock()
	ch := b.subs[channel]
	b.mu.Unlock()
	if ch != nil {
		ch <- payload
	}
	return nil
}

func (b *fakeBus) Subscribe(_ context.Context, channel string) (<-chan []byte, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	ch := make(chan []byte, 8)
	b.subs[channel] = ch
	return ch, nil
}

func (b *fakeBus) subscribed(n int) bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.subs) == n
}

func (b *fakeBus) StreamAppend(_ context.Context, stream string, payload []byte) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	id := strconv.Itoa(len(b.streams[stream]) + 1)
	b.streams[stream] = append(b.streams[stream], domain.StreamMessage{ID: id, Payload: payload})
	return nil
}

func (b *fakeBus) StreamRead(_ context.Context, stream, lastID string, count int) ([]domain.StreamMessage, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	after, err := strconv.Atoi(lastID)
	if err != nil {
		return nil, err
	}
	var out []domain.StreamMessage
	for _, m := range b.streams[stream] {
		if id, _ := strconv.Atoi(m.ID); id > after && len(out) < count {
			out = append(out, m)
		}
	}
	return out, nil
}

func startHub(t *testing.T) (*Hub, *fakeBus, *httptest.Server) {
	t.Helper()
	bus := newFakeBus()
	hub := NewHub(bus, slog.New(slog.NewTextHandler(io.Discard, nil)), Config{
		Mode:     "Trade",
		Channels: []string{"settlements", "routes"},
	})
	ctx, cancel := context.WithCancel(context.Background())
	go hub.Run(ctx)
	srv := httptest.NewServer(hub.HandleWS)
	t.Cleanup(func() {
		cancel()
		srv.Close()
	})
	require.Eventually(t, func() bool { return bus.subscribed(2) }, time.Second, 5*time.Millisecond)
	return hub, bus, srv
}

func dial(t *testing.T, srv *httptest.Server, query string) *websocket.Conn {
	t.Helper()
	url := "ws" + strings.TrimPrefix(srv.URL, "http") + "/ws" + query
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	require.NoError(t, err)
	t.Cleanup(func() { conn.Close() })
	conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	return conn
}

func readStruct(t *testing.T, conn *websocket.Conn) *structpb.Struct {
	t.Helper()
	kind, data, err := conn.ReadMessage()
	require.NoError(t, err)
	require.Equal(t, websocket.BinaryMessage, kind)
	var st structpb.Struct
	require.NoError(t, proto.Unmarshal(data, &st))
	return &st
}

func TestHub_BinaryFrames(t *testing.T) {
	_, bus, srv := startHub(t)
	conn := dial(t, srv, "")

	status := readStruct(t, conn).AsMap()
	assert.Equal(t, "hub_status", status["channel"])
	assert.Equal(t, "trade", status["payload"].(map[string]any)["mode"])

	require.NoError(t, bus.Publish(context.Background(), "settlements",
		[]byte(`{"event":"settlement_completed","settlement":{"id":"op-1","profit":"0.1928 EOS"}}`)))

	env := readStruct(t, conn).AsMap()
	assert.Equal(t, "settlements", env["channel"])
	payload := env["payload"].(map[string]any)
	assert.Equal(t, "settlement_completed", payload["event"])
	assert.Equal(t, "0.1928 EOS", payload["settlement"].(map[string]any)["profit"])
}

func TestHub_JSONFramesAndUnsubscribe(t *testing.T) {
	hub, bus, srv := startHub(t)
	conn := dial(t, srv, "?format=json")

	kind, _, err := conn.ReadMessage()
	require.NoError(t, err)
	require.Equal(t, websocket.TextMessage, kind)

	require.NoError(t, conn.WriteJSON(subscribeMsg{Action: "unsubscribe", Channels: []string{"routes"}}))
	require.Eventually(t, func() bool {
		hub.mu.RLock()
		defer hub.mu.RUnlock()
		for c := range hub.clients {
			if c.isSubscribed("routes") {
				return false
			}
		}
		return len(hub.clients) == 1
	}, time.Second, 5*time.Millisecond)

	require.NoError(t, bus.Publish(context.Background(), "routes", []byte(`{"event":"route_found"}`)))
	require.NoError(t, bus.Publish(context.Background(), "settlements", []byte(`"plain"`)))

	kind, data, err := conn.ReadMessage()
	require.NoError(t, err)
	assert.Equal(t, websocket.TextMessage, kind)
	var env map[string]any
	require.NoError(t, json.Unmarshal(data, &env))
	assert.Equal(t, "settlements", env["channel"])
	assert.Equal(t, "plain", env["payload"])
}

func TestHub_ReplaysStreamAfterID(t *testing.T) {
	_, bus, srv := startHub(t)
	ctx := context.Background()
	for _, id := range []string{"op-1", "op-2", "op-3"} {
		require.NoError(t, bus.StreamAppend(ctx, "settlements", []byte(`{"settlement":{"id":"`+id+`"}}`)))
	}
	conn := dial(t, srv, "?format=json")
	_, _, err := conn.ReadMessage()
	require.NoError(t, err)

	require.NoError(t, conn.WriteJSON(subscribeMsg{Action: "replay", Channels: []string{"settlements", "unknown"}, Since: "1"}))

	for _, want := range []struct{ id, op string }{{"2", "op-2"}, {"3", "op-3"}} {
		_, data, err := conn.ReadMessage()
		require.NoError(t, err)
		var env map[string]any
		require.NoError(t, json.Unmarshal(data, &env))
		assert.Equal(t, "settlements", env["channel"])
		assert.Equal(t, want.id, env["id"])
		assert.Equal(t, want.op, env["payload"].(map[string]any)["settlement"].(map[string]any)["id"])
	}
}

func TestEncodeFrame_NonJSONPayload(t *testing.T) {
	f, err := encodeFrame("routes", []byte("not json"), time.Date(2026, 3, 1, 0, 0, 0, 0, time.UTC))
	require.NoError(t, err)
	var env map[string]any
	require.NoError(t, json.Unmarshal(f.text, &env))
	assert.Equal(t, "not json", env["payload"])
	assert.Equal(t, "2026-03-01T00:00:00Z", env["timestamp"])

	var st structpb.Struct
	require.NoError(t, proto.Unmarshal(f.binary, &st))
	assert.Equal(t, "routes", st.Fields["channel"].GetStringValue())
}

func TestIsSubscribed_Wildcard(t *testing.T) {
	c := &client{subs: map[string]bool{"settle*": true}}
	assert.True(t, c.isSubscribed("settlements"))
	assert.False(t, c.isSubscribed("routes"))
}
