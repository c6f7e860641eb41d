package offer

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"naimuDriver/internal/timeutil"
)

// Logger is a minimal logger interface required by the coordinator.
type Logger interface {
	Infof(format string, args ...interface{})
	Errorf(format string, args ...interface{})
}

// OrderActions accepts offers on the dispatch server.
type OrderActions interface {
	AcceptOrder(ctx context.Context, actorToken, orderID string) error
	AcceptScheduledRide(ctx context.Context, actorToken, rideID string) error
}

// QueueStatus describes the driver's slot in a dispatch queue.
type QueueStatus struct {
	LocationID string `json:"location_id"`
	Position   int    `json:"position"`
	// Size is the number of drivers waiting there; zero when unknown.
	Size     int       `json:"size,omitempty"`
	JoinedAt time.Time `json:"joined_at"`
}

// QueueMembership manages the driver's presence in the server-side queue.
// LeaveQueue must succeed (or be tolerated) when the driver is not queued.
type QueueMembership interface {
	JoinQueue(ctx context.Context, locationID string) (QueueStatus, error)
	LeaveQueue(ctx context.Context) error
}

// AcceptOutcome is what an Accept call observed.
type AcceptOutcome string

const (
	OutcomeAccepted AcceptOutcome = "accepted"
	OutcomeFailed   AcceptOutcome = "failed"
	// OutcomeIgnored means the session was not pending; nothing was sent.
	OutcomeIgnored AcceptOutcome = "ignored"
)

var (
	ErrAcceptFailed = errors.New("offer accept failed")
	ErrNoQueue      = errors.New("queue membership is not configured")
)

// AcceptError is the only failure shown to the driver. The offer is lost
// and is not retried.
type AcceptError struct {
	OrderID string
	RideID  string
	Err     error
}

func (e *AcceptError) Error() string {
	if e.RideID != "" {
		return fmt.Sprintf("accept ride %s (order %s): %v", e.RideID, e.OrderID, e.Err)
	}
	return fmt.Sprintf("accept order %s: %v", e.OrderID, e.Err)
}

func (e *AcceptError) Unwrap() []error { return []error{ErrAcceptFailed, e.Err} }

// Snapshot is a read-only copy of the session.
type Snapshot struct {
	// Generation identifies the offer session; it grows with every installed offer.
	Generation uint64
	// Seq grows with every change and orders snapshots delivered concurrently.
	Seq         uint64
	Status      Status
	Offer       *Offer
	Remaining   time.Duration
	QueueJoined bool
	Err         error
}

type acceptCall struct {
	done    chan struct{}
	outcome AcceptOutcome
	err     error
}

func (a *acceptCall) wait(ctx context.Context) (AcceptOutcome, error) {
	select {
	case <-a.done:
		return a.outcome, a.err
	case <-ctx.Done():
		return OutcomeIgnored, ctx.Err()
	}
}

type terminalEffect struct {
	snap  Snapshot
	leave bool
}

// Coordinator owns the single offer session of a logged-in driver. Every
// transition reads and writes the status under one mutex; network calls are
// made only after the status has been flipped.
type Coordinator struct {
	cfg    Config
	orders OrderActions
	queue  QueueMembership
	clock  timeutil.Clock
	logger Logger

	mu          sync.Mutex
	status      Status
	offer       *Offer
	remaining   time.Duration
	queueJoined bool
	lastErr     error
	gen         uint64
	seq         uint64
	countdown   *Countdown
	inflight    *acceptCall
	watchers    map[int]func(Snapshot)
	nextWatch   int
	closed      bool
}

// NewCoordinator constructs a Coordinator in the idle state.
func NewCoordinator(cfg Config, orders OrderActions, queue QueueMembership, clock timeutil.Clock, logger Logger) *Coordinator {
	if clock == nil {
		clock = timeutil.Real{}
	}
	return &Coordinator{
		cfg:      cfg.withDefaults(),
		orders:   orders,
		queue:    queue,
		clock:    clock,
		logger:   logger,
		status:   StatusIdle,
		watchers: make(map[int]func(Snapshot)),
	}
}

// OnOfferPush installs o when the session is idle and starts its countdown.
// While another offer is active the push is discarded: a driver is never
// shown two offers, and the server does not re-offer before the first resolves.
func (c *Coordinator) OnOfferPush(o Offer) bool {
	c.mu.Lock()
	if c.closed || c.status != StatusIdle {
		status := c.status
		c.mu.Unlock()
		c.logger.Infof("offer: discard order %s, session is %s", o.OrderID, status)
		return false
	}

	installed := o.clone()
	installed.ReceivedAt = c.clock.Now()
	installed.DecisionWindow = c.cfg.DecisionWindow
	c.setStatusLocked(StatusPending)
	c.gen++
	c.offer = &installed
	c.remaining = installed.DecisionWindow
	c.lastErr = nil
	gen := c.gen
	c.countdown = StartCountdown(c.cfg.TickInterval, func() { c.tick(gen, c.clock.Now()) })
	snap := c.changedLocked()
	c.mu.Unlock()

	c.logger.Infof("offer: order %s (%s) pending for %s", installed.OrderID, installed.Kind, installed.DecisionWindow)
	c.notify(snap)
	return true
}

// Tick recomputes the remaining decision time and expires a pending offer
// whose window has closed. Ticks in any other status are ignored.
func (c *Coordinator) Tick(now time.Time) {
	c.tick(0, now)
}

// tick applies to session gen only; zero means the current session.
func (c *Coordinator) tick(gen uint64, now time.Time) {
	c.mu.Lock()
	if c.status != StatusPending || (gen != 0 && gen != c.gen) {
		c.mu.Unlock()
		return
	}
	c.remaining = c.offer.Remaining(now)
	if c.remaining > 0 {
		snap := c.changedLocked()
		c.mu.Unlock()
		c.notify(snap)
		return
	}
	eff, _ := c.resolveLocked(StatusExpired)
	orderID := c.offer.OrderID
	c.mu.Unlock()

	c.logger.Infof("offer: order %s expired", orderID)
	c.finish(context.Background(), eff)
}

// Accept accepts the pending offer. The status flips to accepting before the
// network call, so a concurrent tick or a second Accept sees it; the second
// caller waits for and shares the in-flight result. A failed accept moves the
// session to failed and returns an error wrapping ErrAcceptFailed.
func (c *Coordinator) Accept(ctx context.Context, actorToken string) (AcceptOutcome, error) {
	c.mu.Lock()
	switch c.status {
	case StatusAccepting:
		call := c.inflight
		c.mu.Unlock()
		return call.wait(ctx)
	case StatusPending:
		if c.closed {
			c.mu.Unlock()
			return OutcomeIgnored, nil
		}
	default:
		c.mu.Unlock()
		return OutcomeIgnored, nil
	}

	if c.offer.Remaining(c.clock.Now()) == 0 {
		// the window closed before the countdown noticed
		eff, _ := c.resolveLocked(StatusExpired)
		orderID := c.offer.OrderID
		c.mu.Unlock()
		c.logger.Infof("offer: late accept for order %s, offer expired", orderID)
		c.finish(ctx, eff)
		return OutcomeIgnored, nil
	}

	c.setStatusLocked(StatusAccepting)
	c.countdown.Stop()
	c.countdown = nil
	o := *c.offer
	call := &acceptCall{done: make(chan struct{})}
	c.inflight = call
	snap := c.changedLocked()
	c.mu.Unlock()
	c.notify(snap)

	// in-flight accepts run to completion even if the caller goes away
	callCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), c.cfg.CallTimeout)
	err := c.sendAccept(callCtx, actorToken, o)
	cancel()

	to := StatusAccepted
	call.outcome = OutcomeAccepted
	if err != nil {
		to = StatusFailed
		call.outcome = OutcomeFailed
		call.err = &AcceptError{OrderID: o.OrderID, RideID: o.RideID, Err: err}
	}

	c.mu.Lock()
	c.lastErr = call.err
	eff, _ := c.resolveLocked(to)
	c.inflight = nil
	c.mu.Unlock()
	close(call.done)

	if err != nil {
		c.logger.Errorf("offer: %v", call.err)
	} else {
		c.logger.Infof("offer: order %s accepted", o.OrderID)
	}
	c.finish(ctx, eff)
	return call.outcome, call.err
}

// sendAccept turns a panicking OrderActions into a failed accept so the
// session always leaves accepting.
func (c *Coordinator) sendAccept(ctx context.Context, actorToken string, o Offer) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("accept panicked: %v", r)
		}
	}()
	if o.Kind == KindScheduled && o.RideID != "" {
		return c.orders.AcceptScheduledRide(ctx, actorToken, o.RideID)
	}
	return c.orders.AcceptOrder(ctx, actorToken, o.OrderID)
}

// Dismiss declines the pending offer. It reports whether the offer was dismissed.
func (c *Coordinator) Dismiss(ctx context.Context) bool {
	c.mu.Lock()
	if c.closed || c.status != StatusPending {
		c.mu.Unlock()
		return false
	}
	to := StatusDismissed
	if c.offer.Remaining(c.clock.Now()) == 0 {
		to = StatusExpired
	}
	eff, _ := c.resolveLocked(to)
	orderID := c.offer.OrderID
	c.mu.Unlock()

	c.logger.Infof("offer: order %s %s", orderID, to)
	c.finish(ctx, eff)
	return to == StatusDismissed
}

// Reset returns a terminal session to idle. The presenter calls it once the
// outcome has been shown; until then new pushes are discarded.
func (c *Coordinator) Reset() bool {
	c.mu.Lock()
	if !c.status.Terminal() {
		c.mu.Unlock()
		return false
	}
	c.setStatusLocked(StatusIdle)
	c.offer = nil
	c.remaining = 0
	c.lastErr = nil
	snap := c.changedLocked()
	c.mu.Unlock()

	c.notify(snap)
	return true
}

// JoinQueue puts the driver into the dispatch queue at locationID.
func (c *Coordinator) JoinQueue(ctx context.Context, locationID string) (QueueStatus, error) {
	if c.queue == nil {
		return QueueStatus{}, ErrNoQueue
	}
	ctx, cancel := context.WithTimeout(ctx, c.cfg.CallTimeout)
	defer cancel()

	st, err := c.queue.JoinQueue(ctx, locationID)
	if err != nil {
		return QueueStatus{}, fmt.Errorf("join queue at %s: %w", locationID, err)
	}
	c.setQueueJoined(true)
	if st.Size > 0 {
		c.logger.Infof("offer: joined queue %s at position %d of %d", st.LocationID, st.Position, st.Size)
	} else {
		c.logger.Infof("offer: joined queue %s at position %d", st.LocationID, st.Position)
	}
	return st, nil
}

// LeaveQueue removes the driver from the dispatch queue on request.
func (c *Coordinator) LeaveQueue(ctx context.Context) error {
	if c.queue == nil {
		return ErrNoQueue
	}
	ctx, cancel := context.WithTimeout(ctx, c.cfg.CallTimeout)
	defer cancel()

	if err := c.queue.LeaveQueue(ctx); err != nil {
		return fmt.Errorf("leave queue: %w", err)
	}
	c.setQueueJoined(false)
	return nil
}

// Snapshot returns a copy of the current session.
func (c *Coordinator) Snapshot() Snapshot {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.snapshotLocked()
}

// Watch registers fn for every session change. Snapshots may arrive out of
// order from concurrent transitions; compare Seq to drop stale ones.
func (c *Coordinator) Watch(fn func(Snapshot)) (cancel func()) {
	c.mu.Lock()
	id := c.nextWatch
	c.nextWatch++
	c.watchers[id] = fn
	c.mu.Unlock()

	return func() {
		c.mu.Lock()
		delete(c.watchers, id)
		c.mu.Unlock()
	}
}

// Close tears the coordinator down on logout: a pending offer is dismissed,
// the countdown stops, watchers are dropped after seeing that last change,
// further pushes and clicks are ignored and a held queue slot is released.
// An accept already in flight still runs to completion.
func (c *Coordinator) Close(ctx context.Context) {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return
	}
	c.closed = true
	var eff terminalEffect
	var orderID string
	if c.status == StatusPending {
		eff, _ = c.resolveLocked(StatusDismissed)
		orderID = c.offer.OrderID
	}
	c.countdown.Stop()
	c.countdown = nil
	c.mu.Unlock()

	if eff.snap.Seq != 0 {
		c.logger.Infof("offer: order %s dismissed on logout", orderID)
		c.notify(eff.snap)
	}

	c.mu.Lock()
	c.watchers = make(map[int]func(Snapshot))
	joined := c.queueJoined
	c.mu.Unlock()

	if joined {
		c.leaveQueueBestEffort(ctx, "logout")
	}
}

func (c *Coordinator) setStatusLocked(to Status) bool {
	if !CanTransition(c.status, to) {
		return false
	}
	c.status = to
	return true
}

// resolveLocked moves the session into a terminal status and stops the countdown.
func (c *Coordinator) resolveLocked(to Status) (terminalEffect, bool) {
	if !c.setStatusLocked(to) {
		return terminalEffect{}, false
	}
	c.countdown.Stop()
	c.countdown = nil
	if to == StatusExpired {
		c.remaining = 0
	}
	return terminalEffect{
		snap:  c.changedLocked(),
		leave: c.cfg.LeaveQueue.appliesTo(to),
	}, true
}

func (c *Coordinator) finish(ctx context.Context, eff terminalEffect) {
	if eff.snap.Seq == 0 {
		return
	}
	c.notify(eff.snap)
	if eff.leave {
		c.leaveQueueBestEffort(ctx, string(eff.snap.Status))
	}
}

// leaveQueueBestEffort never reverts the transition that triggered it.
func (c *Coordinator) leaveQueueBestEffort(ctx context.Context, reason string) {
	if c.queue == nil {
		return
	}
	ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), c.cfg.CallTimeout)
	defer cancel()

	if err := c.queue.LeaveQueue(ctx); err != nil {
		c.logger.Errorf("offer: leave queue after %s failed: %v", reason, err)
		return
	}
	c.setQueueJoined(false)
}

func (c *Coordinator) setQueueJoined(joined bool) {
	c.mu.Lock()
	if c.queueJoined == joined {
		c.mu.Unlock()
		return
	}
	c.queueJoined = joined
	snap := c.changedLocked()
	c.mu.Unlock()
	c.notify(snap)
}

func (c *Coordinator) snapshotLocked() Snapshot {
	s := Snapshot{
		Generation:  c.gen,
		Seq:         c.seq,
		Status:      c.status,
		Remaining:   c.remaining,
		QueueJoined: c.queueJoined,
		Err:         c.lastErr,
	}
	if c.offer != nil {
		o := c.offer.clone()
		s.Offer = &o
	}
	return s
}

func (c *Coordinator) changedLocked() Snapshot {
	c.seq++
	return c.snapshotLocked()
}

func (c *Coordinator) notify(s Snapshot) {
	c.mu.Lock()
	fns := make([]func(Snapshot), 0, len(c.watchers))
	for _, fn := range c.watchers {
		fns = append(fns, fn)
	}
	c.mu.Unlock()

	for _, fn := range fns {
		fn(s)
	}
}
