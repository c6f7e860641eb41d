package offerlog

import (
	"context"
	"sync"
	"time"

	"naimuDriver/internal/offer"
	"naimuDriver/internal/timeutil"
)

// Logger is the logging surface used by the recorder.
type Logger interface {
	Infof(format string, args ...interface{})
	Errorf(format string, args ...interface{})
}

// Store persists history entries.
type Store interface {
	Record(ctx context.Context, e Entry) error
}

// Recorder writes one history entry per offer session when it reaches a
// terminal status. Writes are best effort and never block the caller's
// transition for longer than the write timeout.
type Recorder struct {
	store   Store
	clock   timeutil.Clock
	logger  Logger
	timeout time.Duration

	mu       sync.Mutex
	recorded uint64
	wg       sync.WaitGroup
}

// NewRecorder creates a recorder writing to store.
func NewRecorder(store Store, clock timeutil.Clock, logger Logger) *Recorder {
	if clock == nil {
		clock = timeutil.Real{}
	}
	return &Recorder{store: store, clock: clock, logger: logger, timeout: 5 * time.Second}
}

// Observe is registered with Coordinator.Watch.
func (r *Recorder) Observe(s offer.Snapshot) {
	if !s.Status.Terminal() || s.Offer == nil {
		return
	}
	r.mu.Lock()
	if s.Generation <= r.recorded {
		r.mu.Unlock()
		return
	}
	r.recorded = s.Generation
	r.mu.Unlock()

	e := Entry{
		OrderID:    s.Offer.OrderID,
		RideID:     s.Offer.RideID,
		Kind:       string(s.Offer.Kind),
		Status:     string(s.Status),
		ReceivedAt: s.Offer.ReceivedAt,
		ResolvedAt: r.clock.Now(),
	}
	if s.Err != nil {
		e.Error = s.Err.Error()
	}

	r.wg.Add(1)
	go func() {
		defer r.wg.Done()
		ctx, cancel := context.WithTimeout(context.Background(), r.timeout)
		defer cancel()
		if err := r.store.Record(ctx, e); err != nil {
			r.logger.Errorf("offerlog: %v", err)
		}
	}()
}

// Wait blocks until pending writes finish.
func (r *Recorder) Wait() {
	r.wg.Wait()
}
