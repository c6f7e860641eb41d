package queue

import (
	"context"
	"errors"
	"os"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"

	"naimuDriver/internal/timeutil"
)

func TestKeys(t *testing.T) {
	if got := queueKey("Almaty", "Airport"); got != "queue:almaty:airport" {
		t.Fatalf("unexpected queue key %q", got)
	}
	if got := pointerKey("42"); got != "queue:driver:42" {
		t.Fatalf("unexpected pointer key %q", got)
	}
	if got := memberName("42"); got != "driver:42" {
		t.Fatalf("unexpected member %q", got)
	}
}

func TestJoinRejectsEmptyLocation(t *testing.T) {
	m := NewMembership(nil, "almaty", "1", nil)
	if _, err := m.JoinQueue(context.Background(), "  "); !errors.Is(err, ErrEmptyLocation) {
		t.Fatalf("expected ErrEmptyLocation, got %v", err)
	}
}

// redisClient connects to REDIS_ADDR; the test is skipped without it.
func redisClient(t *testing.T) *redis.Client {
	t.Helper()
	addr := os.Getenv("REDIS_ADDR")
	if addr == "" {
		t.Skip("REDIS_ADDR not set")
	}
	rdb := redis.NewClient(&redis.Options{Addr: addr})
	if err := rdb.Ping(context.Background()).Err(); err != nil {
		t.Skipf("redis unavailable: %v", err)
	}
	t.Cleanup(func() { _ = rdb.Close() })
	return rdb
}

func TestMembershipAgainstRedis(t *testing.T) {
	rdb := redisClient(t)
	ctx := context.Background()
	city := "test-" + uuid.NewString()
	clock := timeutil.NewManual(time.Date(2024, 5, 20, 8, 30, 0, 0, time.UTC))

	first := NewMembership(rdb, city, "1", clock)
	second := NewMembership(rdb, city, "2", clock)
	t.Cleanup(func() {
		_ = first.LeaveQueue(ctx)
		_ = second.LeaveQueue(ctx)
	})

	if err := first.LeaveQueue(ctx); err != nil {
		t.Fatalf("leave when not queued: %v", err)
	}

	st, err := first.JoinQueue(ctx, "airport")
	if err != nil {
		t.Fatalf("JoinQueue: %v", err)
	}
	if st.Position != 1 {
		t.Fatalf("expected position 1, got %d", st.Position)
	}

	clock.Advance(time.Second)
	st, err = second.JoinQueue(ctx, "airport")
	if err != nil {
		t.Fatalf("JoinQueue: %v", err)
	}
	if st.Position != 2 || st.Size != 2 {
		t.Fatalf("expected position 2 of 2, got %+v", st)
	}

	clock.Advance(time.Second)
	st, err = first.JoinQueue(ctx, "airport")
	if err != nil || st.Position != 1 {
		t.Fatalf("re-join should keep the place, got %+v %v", st, err)
	}

	if _, err := first.JoinQueue(ctx, "station"); err != nil {
		t.Fatalf("move: %v", err)
	}
	if n, _ := first.length(ctx, "airport"); n != 1 {
		t.Fatalf("expected driver to leave the old queue, airport has %d", n)
	}

	if err := first.LeaveQueue(ctx); err != nil {
		t.Fatalf("LeaveQueue: %v", err)
	}
	if n, _ := first.length(ctx, "station"); n != 0 {
		t.Fatalf("expected empty station queue, got %d", n)
	}
}
