package timeutil

import (
	"testing"
	"time"
)

func TestManualClock(t *testing.T) {
	start := time.Date(2024, 3, 1, 9, 0, 0, 0, time.UTC)
	c := NewManual(start)
	if !c.Now().Equal(start) {
		t.Fatalf("expected %v, got %v", start, c.Now())
	}
	got := c.Advance(1500 * time.Millisecond)
	if !got.Equal(start.Add(1500 * time.Millisecond)) {
		t.Fatalf("unexpected advance result %v", got)
	}
	c.Set(start)
	if !c.Now().Equal(start) {
		t.Fatalf("set did not move clock back")
	}
}

func TestInAlmaty(t *testing.T) {
	utc := time.Date(2024, 3, 1, 0, 0, 0, 0, time.UTC)
	local := InAlmaty(utc)
	if !local.Equal(utc) {
		t.Fatalf("conversion must keep the instant")
	}
	if local.Location() != Location() {
		t.Fatalf("expected Almaty location, got %v", local.Location())
	}
}
