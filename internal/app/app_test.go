package app

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/gorilla/websocket"

	"naimuDriver/internal/config"
	"naimuDriver/internal/offer"
)

type testLogger struct{}

func (testLogger) Infof(string, ...interface{})  {}
func (testLogger) Errorf(string, ...interface{}) {}

type dispatchServer struct {
	mu      sync.Mutex
	accepts []string
	leaves  int
}

func (d *dispatchServer) handler() http.Handler {
	upgrader := websocket.Upgrader{CheckOrigin: func(r *http.Request) bool { return true }}
	mux := http.NewServeMux()
	mux.HandleFunc("/ws/driver", func(w http.ResponseWriter, r *http.Request) {
		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		defer conn.Close()
		_ = conn.WriteMessage(websocket.TextMessage, []byte(`{"type":"chat","text":"ignored"}`))
		_ = conn.WriteMessage(websocket.TextMessage, []byte(`{"type":"order_offer"}`))
		_ = conn.WriteMessage(websocket.TextMessage, []byte(`{"type":"order_offer","order_id":1042,"from_lon":76.9,"from_lat":43.2,"to_lon":76.95,"to_lat":43.25}`))
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	})
	mux.HandleFunc("/api/v1/offers/accept", func(w http.ResponseWriter, r *http.Request) {
		d.mu.Lock()
		d.accepts = append(d.accepts, r.Header.Get("Authorization"))
		d.mu.Unlock()
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"status":"accepted"}`))
	})
	mux.HandleFunc("/api/v1/queue/leave", func(w http.ResponseWriter, r *http.Request) {
		d.mu.Lock()
		d.leaves++
		d.mu.Unlock()
		w.WriteHeader(http.StatusNotFound)
	})
	return mux
}

func TestDepsValidate(t *testing.T) {
	d := &Deps{}
	if err := d.Validate(); err == nil {
		t.Fatalf("expected missing logger error")
	}
	d = &Deps{Logger: testLogger{}, Config: config.Default()}
	d.Config.Driver.Token = "tok"
	d.Config.Queue.Backend = "redis"
	if err := d.Validate(); err == nil {
		t.Fatalf("expected missing redis error")
	}
	d.Config.Queue.Backend = "http"
	if err := d.Validate(); err != nil {
		t.Fatalf("Validate: %v", err)
	}
	if d.HTTPClient == nil || d.Clock == nil {
		t.Fatalf("defaults not applied")
	}
}

func TestPushOfferFlowsToAccept(t *testing.T) {
	ds := &dispatchServer{}
	srv := httptest.NewServer(ds.handler())
	defer srv.Close()

	cfg := config.Default()
	cfg.Driver.Token = "session-token"
	cfg.API.BaseURL = srv.URL
	cfg.API.PushURL = "ws" + strings.TrimPrefix(srv.URL, "http") + "/ws/driver"
	cfg.Offer.ResetDelayMS = 3600000
	deps := &Deps{Logger: testLogger{}, Config: cfg, HTTPClient: srv.Client()}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	if err := Start(ctx, deps); err != nil {
		t.Fatalf("Start: %v", err)
	}
	coordinator, err := Coordinator(deps)
	if err != nil {
		t.Fatalf("Coordinator: %v", err)
	}

	deadline := time.Now().Add(3 * time.Second)
	for coordinator.Snapshot().Status != offer.StatusPending {
		if time.Now().After(deadline) {
			t.Fatalf("offer never arrived")
		}
		time.Sleep(5 * time.Millisecond)
	}
	snap := coordinator.Snapshot()
	if snap.Offer.OrderID != "1042" || !snap.Offer.Route.Start.Known {
		t.Fatalf("unexpected offer %+v", snap.Offer)
	}

	adapter, err := Presenter(deps)
	if err != nil {
		t.Fatalf("Presenter: %v", err)
	}
	rec := httptest.NewRecorder()
	adapter.AcceptOffer(rec, httptest.NewRequest(http.MethodPost, "/offer/accept", nil))
	if rec.Code != http.StatusOK {
		t.Fatalf("accept: %d %s", rec.Code, rec.Body.String())
	}
	if got := coordinator.Snapshot().Status; got != offer.StatusAccepted {
		t.Fatalf("expected accepted, got %s", got)
	}

	ds.mu.Lock()
	if len(ds.accepts) != 1 || ds.accepts[0] != "Bearer session-token" || ds.leaves != 1 {
		t.Fatalf("unexpected server calls accepts=%v leaves=%d", ds.accepts, ds.leaves)
	}
	ds.mu.Unlock()

	cancel()
	shutdownCtx, done := context.WithTimeout(context.Background(), 3*time.Second)
	defer done()
	if err := Shutdown(shutdownCtx, deps); err != nil {
		t.Fatalf("Shutdown: %v", err)
	}
	if coordinator.OnOfferPush(offer.Offer{OrderID: "late"}) {
		t.Fatalf("closed coordinator accepted a push")
	}
}

func TestShutdownWithoutStartTearsDown(t *testing.T) {
	cfg := config.Default()
	cfg.Driver.Token = "session-token"
	deps := &Deps{Logger: testLogger{}, Config: cfg}

	coordinator, err := Coordinator(deps)
	if err != nil {
		t.Fatalf("Coordinator: %v", err)
	}
	coordinator.OnOfferPush(offer.Offer{OrderID: "O1", Kind: offer.KindInstant})

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	begin := time.Now()
	if err := Shutdown(ctx, deps); err != nil {
		t.Fatalf("Shutdown: %v", err)
	}
	if time.Since(begin) > time.Second {
		t.Fatalf("Shutdown waited for a push loop that never ran")
	}
	if got := coordinator.Snapshot().Status; got != offer.StatusDismissed {
		t.Fatalf("expected the pending offer dismissed on shutdown, got %s", got)
	}
	if coordinator.OnOfferPush(offer.Offer{OrderID: "O2", Kind: offer.KindInstant}) {
		t.Fatalf("coordinator must be closed after shutdown")
	}
}
