package push

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/gorilla/websocket"
)

type testLogger struct{}

func (testLogger) Infof(string, ...interface{})  {}
func (testLogger) Errorf(string, ...interface{}) {}

func wsURL(srv *httptest.Server) string {
	return "ws" + strings.TrimPrefix(srv.URL, "http") + "/ws/driver"
}

func TestClientDeliversFramesAndReconnects(t *testing.T) {
	var conns atomic.Int32
	var mu sync.Mutex
	var auth, driverID string

	upgrader := websocket.Upgrader{CheckOrigin: func(r *http.Request) bool { return true }}
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		mu.Lock()
		auth = r.Header.Get("Authorization")
		driverID = r.URL.Query().Get("driver_id")
		mu.Unlock()
		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		n := conns.Add(1)
		frames := []string{
			`not json`,
			`{"no_type":true}`,
			`{"type":"order_offer","order_id":1}`,
			`{"type":"chat","text":"hi"}`,
		}
		if n > 1 {
			frames = []string{`{"type":"order_offer","order_id":2}`}
		}
		for _, f := range frames {
			_ = conn.WriteMessage(websocket.TextMessage, []byte(f))
		}
		if n == 1 {
			conn.Close()
			return
		}
		// keep the second connection open until the client goes away
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	}))
	defer srv.Close()

	c := NewClient(Config{
		URL:        wsURL(srv),
		Token:      "tok",
		DriverID:   "42",
		MinBackoff: time.Millisecond,
		MaxBackoff: 5 * time.Millisecond,
	}, testLogger{})

	offers := make(chan Event, 4)
	c.Subscribe("order_offer", func(ev Event) { panic("boom") })
	c.Subscribe("order_offer", func(ev Event) { offers <- ev })
	chatID := c.Subscribe("chat", func(ev Event) { t.Errorf("unsubscribed handler called") })
	c.Unsubscribe("chat", chatID)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	errCh := make(chan error, 1)
	go func() { errCh <- c.Run(ctx) }()

	for want := 1; want <= 2; want++ {
		select {
		case ev := <-offers:
			if ev.Name != "order_offer" {
				t.Fatalf("unexpected event %s", ev.Name)
			}
			if !strings.Contains(string(ev.Data), `"order_id":`) || ev.ReceivedAt.IsZero() {
				t.Fatalf("unexpected event payload %+v", ev)
			}
		case <-time.After(3 * time.Second):
			t.Fatalf("offer %d not delivered", want)
		}
	}
	if conns.Load() < 2 {
		t.Fatalf("client did not reconnect")
	}

	mu.Lock()
	if auth != "Bearer tok" || driverID != "42" {
		t.Fatalf("unexpected handshake auth=%q driver=%q", auth, driverID)
	}
	mu.Unlock()

	cancel()
	select {
	case err := <-errCh:
		if err != context.Canceled {
			t.Fatalf("expected context.Canceled, got %v", err)
		}
	case <-time.After(3 * time.Second):
		t.Fatalf("Run did not return after cancel")
	}
}

func TestBackoffBounds(t *testing.T) {
	for attempt := 0; attempt < 10; attempt++ {
		d := backoff(100*time.Millisecond, time.Second, attempt)
		if d < 50*time.Millisecond || d > time.Second {
			t.Fatalf("attempt %d: backoff %s out of range", attempt, d)
		}
	}
	if d := backoff(time.Second, time.Second, 5); d < 500*time.Millisecond {
		t.Fatalf("capped backoff too small: %s", d)
	}
}

func TestEventName(t *testing.T) {
	if name, err := eventName([]byte(`{"event":"ride_offer"}`)); err != nil || name != "ride_offer" {
		t.Fatalf("expected event field fallback, got %q %v", name, err)
	}
	if _, err := eventName([]byte(`{}`)); err != errNoType {
		t.Fatalf("expected errNoType, got %v", err)
	}
}
