package ws

import (
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/gorilla/websocket"

	"github.com/alanyoungcy/arbwatch/internal/domain"
)

// fakeBus hands out pre-built channels so tests can push frames as if the
// monitor had published them, and serves canned stream backlogs.
type fakeBus struct {
	mu      sync.Mutex
	chans   map[string]chan []byte
	streams map[string][]domain.StreamMessage
}

func newFakeBus() *fakeBus {
	chans := make(map[string]chan []byte, len(defaultChannels))
	for _, ch := range defaultChannels {
		chans[ch] = make(chan []byte, 16)
	}
	return &fakeBus{
		chans:   chans,
		streams: make(map[string][]domain.StreamMessage),
	}
}

func (b *fakeBus) Publish(_ context.Context, channel string, payload []byte) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if ch, ok := b.chans[channel]; ok {
		ch <- payload
	}
	return nil
}

func (b *fakeBus) Subscribe(_ context.Context, channel string) (<-chan []byte, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	ch, ok := b.chans[channel]
	if !ok {
		ch = make(chan []byte, 16)
		b.chans[channel] = ch
	}
	return ch, nil
}

func (b *fakeBus) StreamAppend(context.Context, string, []byte) error { return nil }

func (b *fakeBus) StreamRead(_ context.Context, stream string, _ string, _ int) ([]domain.StreamMessage, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.streams[stream], nil
}

func startHub(t *testing.T, bus domain.SignalBus) (*Hub, *httptest.Server) {
	t.Helper()
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	hub := NewHub(bus, logger, Config{Mode: "monitor"})

	ctx, cancel := context.WithCancel(context.Background())
	go hub.Run(ctx)

	ts := httptest.NewServer(http.HandlerFunc(hub.HandleWS))
	t.Cleanup(func() {
		ts.Close()
		cancel()
	})
	return hub, ts
}

func dial(t *testing.T, ts *httptest.Server, query string) *websocket.Conn {
	t.Helper()
	url := "ws" + strings.TrimPrefix(ts.URL, "http") + query
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	t.Cleanup(func() { conn.Close() })
	return conn
}

func readEnvelope(t *testing.T, conn *websocket.Conn) envelope {
	t.Helper()
	conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	_, data, err := conn.ReadMessage()
	if err != nil {
		t.Fatalf("read: %v", err)
	}
	var env envelope
	if err := json.Unmarshal(data, &env); err != nil {
		t.Fatalf("decode envelope: %v", err)
	}
	return env
}

func TestHubHelloAndBroadcast(t *testing.T) {
	bus := newFakeBus()
	_, ts := startHub(t, bus)
	conn := dial(t, ts, "")

	hello := readEnvelope(t, conn)
	if hello.Channel != "status" {
		t.Fatalf("hello channel = %q, want status", hello.Channel)
	}
	var body struct {
		Type string `json:"type"`
		Mode string `json:"mode"`
	}
	if err := json.Unmarshal(hello.Payload, &body); err != nil {
		t.Fatalf("decode hello payload: %v", err)
	}
	if body.Type != "hello" || body.Mode != "monitor" {
		t.Errorf("hello payload = %+v", body)
	}

	if err := bus.Publish(context.Background(), "alerts", []byte(`{"rule":"btc-watch"}`)); err != nil {
		t.Fatalf("publish: %v", err)
	}

	env := readEnvelope(t, conn)
	if env.Channel != "alerts" {
		t.Errorf("channel = %q, want alerts", env.Channel)
	}
	if string(env.Payload) != `{"rule":"btc-watch"}` {
		t.Errorf("payload = %s, want the published frame verbatim", env.Payload)
	}
}

func TestHubChannelFilter(t *testing.T) {
	bus := newFakeBus()
	_, ts := startHub(t, bus)
	conn := dial(t, ts, "?channels=opportunities")

	// The hello frame arrives regardless of the subscription set.
	if hello := readEnvelope(t, conn); hello.Channel != "status" {
		t.Fatalf("hello channel = %q, want status", hello.Channel)
	}

	// An alerts frame must not reach this client; an opportunities frame must.
	bus.Publish(context.Background(), "alerts", []byte(`{"dropped":true}`))
	bus.Publish(context.Background(), "opportunities", []byte(`{"spread":0.15}`))

	env := readEnvelope(t, conn)
	if env.Channel != "opportunities" {
		t.Errorf("channel = %q, want opportunities (alerts filtered)", env.Channel)
	}
	if string(env.Payload) != `{"spread":0.15}` {
		t.Errorf("payload = %s", env.Payload)
	}
}

func TestHubBacklogReplay(t *testing.T) {
	bus := newFakeBus()
	bus.streams["alerts"] = []domain.StreamMessage{
		{ID: "1700000000000-0", Payload: []byte(`{"rule":"btc-watch"}`)},
		{ID: "1700000000001-0", Payload: []byte(`{"rule":"eth-watch"}`)},
	}
	_, ts := startHub(t, bus)
	conn := dial(t, ts, "?channels=alerts&since=1699999999999-0")

	if hello := readEnvelope(t, conn); hello.Channel != "status" {
		t.Fatalf("hello channel = %q, want status", hello.Channel)
	}

	first := readEnvelope(t, conn)
	if first.Channel != "alerts" || first.StreamID != "1700000000000-0" {
		t.Errorf("first replay frame = %+v", first)
	}
	if string(first.Payload) != `{"rule":"btc-watch"}` {
		t.Errorf("first payload = %s", first.Payload)
	}

	second := readEnvelope(t, conn)
	if second.StreamID != "1700000000001-0" {
		t.Errorf("second replay frame = %+v", second)
	}
}

func TestHubClientCount(t *testing.T) {
	bus := newFakeBus()
	hub, ts := startHub(t, bus)

	conn := dial(t, ts, "")
	readEnvelope(t, conn) // hello confirms registration completed

	if got := hub.clientCount(); got != 1 {
		t.Errorf("clientCount = %d, want 1", got)
	}

	conn.Close()
	deadline := time.Now().Add(2 * time.Second)
	for hub.clientCount() != 0 {
		if time.Now().After(deadline) {
			t.Fatal("client was not unregistered after close")
		}
		time.Sleep(10 * time.Millisecond)
	}
}

func TestOriginChecker(t *testing.T) {
	tests := []struct {
		name    string
		allowed []string
		origin  string
		want    bool
	}{
		{"no origin header", []string{"https://dash.example.com"}, "", true},
		{"empty allow list", nil, "https://anywhere.example.com", true},
		{"allowed origin", []string{"https://dash.example.com"}, "https://dash.example.com", true},
		{"wildcard", []string{"*"}, "https://anywhere.example.com", true},
		{"blocked origin", []string{"https://dash.example.com"}, "https://evil.example.com", false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			check := originChecker(tt.allowed)
			r := httptest.NewRequest(http.MethodGet, "/ws", nil)
			if tt.origin != "" {
				r.Header.Set("Origin", tt.origin)
			}
			if got := check(r); got != tt.want {
				t.Errorf("originChecker(%v)(%q) = %v, want %v", tt.allowed, tt.origin, got, tt.want)
			}
		})
	}
}
