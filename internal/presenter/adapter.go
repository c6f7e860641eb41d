package presenter

import (
	"context"
	"sync"
	"time"

	"naimuDriver/internal/offer"
	"naimuDriver/internal/offerlog"
)

const DefaultResetDelay = 3 * time.Second

// Logger is the logging surface used by the presenter.
type Logger interface {
	Infof(format string, args ...interface{})
	Errorf(format string, args ...interface{})
}

// Session is the part of the offer coordinator the presenter drives.
type Session interface {
	Snapshot() offer.Snapshot
	Watch(fn func(offer.Snapshot)) (cancel func())
	Accept(ctx context.Context, actorToken string) (offer.AcceptOutcome, error)
	Dismiss(ctx context.Context) bool
	Reset() bool
	JoinQueue(ctx context.Context, locationID string) (offer.QueueStatus, error)
	LeaveQueue(ctx context.Context) error
}

// History lists resolved offers.
type History interface {
	Recent(ctx context.Context, limit int) ([]offerlog.Entry, error)
}

// View is what the driver UI renders.
type View struct {
	Seq              uint64       `json:"seq"`
	Status           offer.Status `json:"status"`
	OrderID          string       `json:"order_id,omitempty"`
	RideID           string       `json:"ride_id,omitempty"`
	Kind             offer.Kind   `json:"kind,omitempty"`
	Route            *offer.Route `json:"route,omitempty"`
	RemainingMs      int64        `json:"remaining_ms"`
	RemainingSeconds int          `json:"remaining_seconds"`
	QueueJoined      bool         `json:"queue_joined"`
	Error            string       `json:"error,omitempty"`
}

// ViewOf converts a snapshot for display. Remaining seconds round up so the
// countdown shows 1 until the offer actually expires.
func ViewOf(s offer.Snapshot) View {
	v := View{
		Seq:              s.Seq,
		Status:           s.Status,
		RemainingMs:      s.Remaining.Milliseconds(),
		RemainingSeconds: int((s.Remaining + time.Second - 1) / time.Second),
		QueueJoined:      s.QueueJoined,
	}
	if s.Offer != nil {
		v.OrderID = s.Offer.OrderID
		v.RideID = s.Offer.RideID
		v.Kind = s.Offer.Kind
		route := s.Offer.Route
		v.Route = &route
	}
	if s.Err != nil {
		v.Error = s.Err.Error()
	}
	return v
}

// Adapter renders coordinator snapshots and relays driver intent back to the
// coordinator. Once a terminal outcome has been shown it returns the session
// to idle after the reset delay.
type Adapter struct {
	session    Session
	history    History
	feed       *Feed
	logger     Logger
	resetDelay time.Duration
	token      string

	mu        sync.Mutex
	lastSeq   uint64
	view      View
	resetGen  uint64
	resetTime *time.Timer
	cancel    func()
}

// NewAdapter creates an adapter. history and feed may be nil.
func NewAdapter(session Session, history History, feed *Feed, logger Logger, resetDelay time.Duration, token string) *Adapter {
	if resetDelay <= 0 {
		resetDelay = DefaultResetDelay
	}
	a := &Adapter{
		session:    session,
		history:    history,
		feed:       feed,
		logger:     logger,
		resetDelay: resetDelay,
		token:      token,
	}
	a.view = ViewOf(session.Snapshot())
	return a
}

// Start subscribes to session changes.
func (a *Adapter) Start() {
	cancel := a.session.Watch(a.Render)
	a.mu.Lock()
	a.cancel = cancel
	a.mu.Unlock()
}

// Stop unsubscribes and drops a scheduled reset.
func (a *Adapter) Stop() {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.cancel != nil {
		a.cancel()
		a.cancel = nil
	}
	if a.resetTime != nil {
		a.resetTime.Stop()
		a.resetTime = nil
	}
}

// Render displays s unless a newer snapshot was already shown.
func (a *Adapter) Render(s offer.Snapshot) {
	a.mu.Lock()
	defer a.mu.Unlock()
	if s.Seq <= a.lastSeq {
		return
	}
	a.lastSeq = s.Seq
	a.view = ViewOf(s)

	if s.Status != offer.StatusPending {
		a.logger.Infof("offer view: status=%s order=%s queue=%t", a.view.Status, a.view.OrderID, a.view.QueueJoined)
	}
	if a.feed != nil {
		a.feed.Publish(a.view)
	}

	if s.Status.Terminal() && s.Generation != a.resetGen {
		a.resetGen = s.Generation
		gen := s.Generation
		a.resetTime = time.AfterFunc(a.resetDelay, func() { a.resetSession(gen) })
	}
}

func (a *Adapter) resetSession(gen uint64) {
	if a.session.Snapshot().Generation != gen {
		return
	}
	a.session.Reset()
}

// Current returns the last rendered view.
func (a *Adapter) Current() View {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.view
}
