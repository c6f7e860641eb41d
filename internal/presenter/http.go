package presenter

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"strings"
	"time"

	"naimuDriver/internal/offer"
)

func writeJSON(w http.ResponseWriter, status int, payload interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(payload)
}

func writeError(w http.ResponseWriter, status int, message string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(map[string]string{"error": message})
}

func contextWithTimeout(r *http.Request) (context.Context, context.CancelFunc) {
	return context.WithTimeout(r.Context(), 15*time.Second)
}

func bearerToken(r *http.Request) string {
	h := r.Header.Get("Authorization")
	if !strings.HasPrefix(h, "Bearer ") {
		return ""
	}
	return strings.TrimSpace(strings.TrimPrefix(h, "Bearer "))
}

// GetOffer serves the current offer view.
func (a *Adapter) GetOffer(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, ViewOf(a.session.Snapshot()))
}

// AcceptOffer relays the driver's accept. A failed accept is the only error
// shown to the driver and is answered with 409.
func (a *Adapter) AcceptOffer(w http.ResponseWriter, r *http.Request) {
	token := bearerToken(r)
	if token == "" {
		token = a.token
	}
	ctx, cancel := contextWithTimeout(r)
	defer cancel()

	outcome, err := a.session.Accept(ctx, token)
	if err != nil {
		if errors.Is(err, offer.ErrAcceptFailed) {
			writeError(w, http.StatusConflict, err.Error())
			return
		}
		writeError(w, http.StatusServiceUnavailable, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"outcome": outcome,
		"offer":   ViewOf(a.session.Snapshot()),
	})
}

// DismissOffer relays the driver's dismissal.
func (a *Adapter) DismissOffer(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := contextWithTimeout(r)
	defer cancel()

	dismissed := a.session.Dismiss(ctx)
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"dismissed": dismissed,
		"offer":     ViewOf(a.session.Snapshot()),
	})
}

// JoinQueue puts the driver into the queue at the requested location.
func (a *Adapter) JoinQueue(w http.ResponseWriter, r *http.Request) {
	var req struct {
		LocationID string `json:"location_id"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid json")
		return
	}
	if strings.TrimSpace(req.LocationID) == "" {
		writeError(w, http.StatusBadRequest, "location_id is required")
		return
	}
	ctx, cancel := contextWithTimeout(r)
	defer cancel()

	st, err := a.session.JoinQueue(ctx, req.LocationID)
	if err != nil {
		a.logger.Errorf("join queue: %v", err)
		if errors.Is(err, offer.ErrNoQueue) {
			writeError(w, http.StatusNotImplemented, "queue is not configured")
			return
		}
		writeError(w, http.StatusBadGateway, "join queue failed")
		return
	}
	writeJSON(w, http.StatusOK, st)
}

// LeaveQueue removes the driver from the queue.
func (a *Adapter) LeaveQueue(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := contextWithTimeout(r)
	defer cancel()

	if err := a.session.LeaveQueue(ctx); err != nil {
		a.logger.Errorf("leave queue: %v", err)
		if errors.Is(err, offer.ErrNoQueue) {
			writeError(w, http.StatusNotImplemented, "queue is not configured")
			return
		}
		writeError(w, http.StatusBadGateway, "leave queue failed")
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "left"})
}

// ListHistory serves recently resolved offers. ?limit= caps the list at 100.
func (a *Adapter) ListHistory(w http.ResponseWriter, r *http.Request) {
	if a.history == nil {
		writeJSON(w, http.StatusOK, []interface{}{})
		return
	}
	limit := 20
	if v := r.URL.Query().Get("limit"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n <= 0 {
			writeError(w, http.StatusBadRequest, "invalid limit")
			return
		}
		if n > 100 {
			n = 100
		}
		limit = n
	}
	ctx, cancel := contextWithTimeout(r)
	defer cancel()

	entries, err := a.history.Recent(ctx, limit)
	if err != nil {
		a.logger.Errorf("offer history: %v", err)
		writeError(w, http.StatusInternalServerError, "history unavailable")
		return
	}
	if entries == nil {
		writeJSON(w, http.StatusOK, []interface{}{})
		return
	}
	writeJSON(w, http.StatusOK, entries)
}

// OfferFeed upgrades to the live view stream.
func (a *Adapter) OfferFeed(w http.ResponseWriter, r *http.Request) {
	if a.feed == nil {
		writeError(w, http.StatusNotFound, "feed disabled")
		return
	}
	a.feed.ServeWS(w, r)
}
