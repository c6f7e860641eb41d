package timeutil

import (
	"sync"
	"time"
)

var almatyLocation = loadLocation()

func loadLocation() *time.Location {
	loc, err := time.LoadLocation("Asia/Almaty")
	if err != nil {
		return time.FixedZone("Asia/Almaty", 5*60*60)
	}
	return loc
}

// InAlmaty converts provided time to Asia/Almaty timezone for display and storage.
// The result carries no monotonic reading.
func InAlmaty(t time.Time) time.Time {
	return t.In(almatyLocation)
}

// Location returns Asia/Almaty location instance.
func Location() *time.Location {
	return almatyLocation
}

// Clock provides the current time to code that measures deadlines.
type Clock interface {
	Now() time.Time
}

// Real reads the process clock. Its values keep the monotonic reading,
// so deadlines survive wall-clock jumps.
type Real struct{}

// Now returns time.Now().
func (Real) Now() time.Time {
	return time.Now()
}

// Manual is a clock that only moves when told to.
type Manual struct {
	mu  sync.Mutex
	now time.Time
}

// NewManual creates a manual clock set to t.
func NewManual(t time.Time) *Manual {
	return &Manual{now: t}
}

// Now returns the current manual time.
func (m *Manual) Now() time.Time {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.now
}

// Set moves the clock to t.
func (m *Manual) Set(t time.Time) {
	m.mu.Lock()
	m.now = t
	m.mu.Unlock()
}

// Advance moves the clock forward by d and returns the new time.
func (m *Manual) Advance(d time.Duration) time.Time {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.now = m.now.Add(d)
	return m.now
}
