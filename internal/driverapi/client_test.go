package driverapi

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"

	"github.com/golang-jwt/jwt"
	"github.com/google/uuid"
)

func signedToken(t *testing.T, claims jwt.MapClaims) string {
	t.Helper()
	tok, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString([]byte("secret"))
	if err != nil {
		t.Fatalf("sign token: %v", err)
	}
	return tok
}

type recorded struct {
	method    string
	path      string
	auth      string
	driverID  string
	requestID string
	body      map[string]interface{}
}

func newServer(t *testing.T, status int, response string) (*httptest.Server, *[]recorded) {
	t.Helper()
	var mu sync.Mutex
	var calls []recorded
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		rec := recorded{
			method:    r.Method,
			path:      r.URL.Path,
			auth:      r.Header.Get("Authorization"),
			driverID:  r.Header.Get("X-Driver-ID"),
			requestID: r.Header.Get("X-Request-ID"),
		}
		_ = json.NewDecoder(r.Body).Decode(&rec.body)
		mu.Lock()
		calls = append(calls, rec)
		mu.Unlock()
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(status)
		_, _ = w.Write([]byte(response))
	}))
	t.Cleanup(srv.Close)
	return srv, &calls
}

func TestAcceptOrderSendsAuthHeaders(t *testing.T) {
	srv, calls := newServer(t, http.StatusOK, `{"status":"accepted"}`)
	token := signedToken(t, jwt.MapClaims{"user_id": "42"})
	c := NewClient(srv.Client(), srv.URL+"/", "")

	if err := c.AcceptOrder(context.Background(), token, "1042"); err != nil {
		t.Fatalf("AcceptOrder: %v", err)
	}
	if len(*calls) != 1 {
		t.Fatalf("expected one call, got %d", len(*calls))
	}
	got := (*calls)[0]
	if got.method != http.MethodPost || got.path != "/api/v1/offers/accept" {
		t.Fatalf("unexpected request %s %s", got.method, got.path)
	}
	if got.auth != "Bearer "+token {
		t.Fatalf("unexpected auth header %q", got.auth)
	}
	if got.driverID != "42" {
		t.Fatalf("expected driver id from claims, got %q", got.driverID)
	}
	if _, err := uuid.Parse(got.requestID); err != nil {
		t.Fatalf("expected uuid request id, got %q", got.requestID)
	}
	if got.body["order_id"] != float64(1042) {
		t.Fatalf("expected numeric order id, got %#v", got.body["order_id"])
	}
}

func TestAcceptScheduledRide(t *testing.T) {
	srv, calls := newServer(t, http.StatusOK, `{}`)
	c := NewClient(srv.Client(), srv.URL, signedToken(t, jwt.MapClaims{"sub": "7"}))

	if err := c.AcceptScheduledRide(context.Background(), "", "R9"); err != nil {
		t.Fatalf("AcceptScheduledRide: %v", err)
	}
	got := (*calls)[0]
	if got.path != "/api/v1/rides/R9/accept" {
		t.Fatalf("unexpected path %s", got.path)
	}
	if got.driverID != "7" {
		t.Fatalf("expected driver id from sub claim, got %q", got.driverID)
	}
}

func TestAcceptConflictCarriesServerMessage(t *testing.T) {
	srv, _ := newServer(t, http.StatusConflict, `{"error":"offer not available"}`)
	c := NewClient(srv.Client(), srv.URL, "token")

	err := c.AcceptOrder(context.Background(), "", "O1")
	var se *StatusError
	if !errors.As(err, &se) {
		t.Fatalf("expected StatusError, got %v", err)
	}
	if se.Code != http.StatusConflict || se.Message != "offer not available" {
		t.Fatalf("unexpected status error %+v", se)
	}
}

func TestJoinQueue(t *testing.T) {
	srv, calls := newServer(t, http.StatusOK, `{"location_id":"airport","position":3,"queue_size":7,"joined_at":"2024-05-20T08:30:00Z"}`)
	c := NewClient(srv.Client(), srv.URL, "token")

	st, err := c.JoinQueue(context.Background(), "airport")
	if err != nil {
		t.Fatalf("JoinQueue: %v", err)
	}
	if st.Position != 3 || st.Size != 7 || st.LocationID != "airport" || st.JoinedAt.IsZero() {
		t.Fatalf("unexpected status %+v", st)
	}
	if (*calls)[0].body["location_id"] != "airport" {
		t.Fatalf("location id not sent: %#v", (*calls)[0].body)
	}
}

func TestLeaveQueueToleratesNotQueued(t *testing.T) {
	for _, code := range []int{http.StatusOK, http.StatusNotFound, http.StatusConflict} {
		srv, _ := newServer(t, code, `{"error":"not in queue"}`)
		c := NewClient(srv.Client(), srv.URL, "token")
		if err := c.LeaveQueue(context.Background()); err != nil {
			t.Fatalf("status %d: expected success, got %v", code, err)
		}
	}

	srv, _ := newServer(t, http.StatusInternalServerError, `boom`)
	c := NewClient(srv.Client(), srv.URL, "token")
	if err := c.LeaveQueue(context.Background()); err == nil {
		t.Fatalf("expected server error to surface")
	}
}

func TestCallWithoutToken(t *testing.T) {
	c := NewClient(nil, "http://127.0.0.1:1", "")
	if err := c.LeaveQueue(context.Background()); !errors.Is(err, ErrNoToken) {
		t.Fatalf("expected ErrNoToken, got %v", err)
	}
}

func TestDriverID(t *testing.T) {
	if got := DriverID(signedToken(t, jwt.MapClaims{"user_id": float64(15), "sub": "x"})); got != "15" {
		t.Fatalf("expected numeric user_id, got %q", got)
	}
	if got := DriverID("not-a-jwt"); got != "" {
		t.Fatalf("expected empty id for garbage token, got %q", got)
	}
}
