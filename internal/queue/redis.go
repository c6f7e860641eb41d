package queue

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"

	"naimuDriver/internal/offer"
	"naimuDriver/internal/timeutil"
)

var ErrEmptyLocation = errors.New("queue: empty location")

// Membership keeps one driver in the dispatch queue held in Redis. Each
// location is a sorted set scored by join time; a pointer key remembers which
// set the driver is in so leaving does not need the location.
type Membership struct {
	rdb      *redis.Client
	city     string
	driverID string
	clock    timeutil.Clock
}

// NewMembership creates a membership for driverID in city.
func NewMembership(rdb *redis.Client, city, driverID string, clock timeutil.Clock) *Membership {
	if clock == nil {
		clock = timeutil.Real{}
	}
	return &Membership{
		rdb:      rdb,
		city:     strings.ToLower(strings.TrimSpace(city)),
		driverID: driverID,
		clock:    clock,
	}
}

func queueKey(city, location string) string {
	return fmt.Sprintf("queue:%s:%s", strings.ToLower(city), strings.ToLower(location))
}

func pointerKey(driverID string) string {
	return fmt.Sprintf("queue:driver:%s", driverID)
}

func memberName(driverID string) string {
	return fmt.Sprintf("driver:%s", driverID)
}

// JoinQueue adds the driver at locationID and returns the 1-based position.
// Joining the same location again keeps the original place; joining another
// location moves the driver to the tail of that one.
func (m *Membership) JoinQueue(ctx context.Context, locationID string) (offer.QueueStatus, error) {
	locationID = strings.TrimSpace(locationID)
	if locationID == "" {
		return offer.QueueStatus{}, ErrEmptyLocation
	}
	key := queueKey(m.city, locationID)
	mem := memberName(m.driverID)

	prev, err := m.rdb.Get(ctx, pointerKey(m.driverID)).Result()
	if err != nil && !errors.Is(err, redis.Nil) {
		return offer.QueueStatus{}, fmt.Errorf("read queue pointer: %w", err)
	}

	now := m.clock.Now()
	_, err = m.rdb.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		if prev != "" && prev != key {
			pipe.ZRem(ctx, prev, mem)
		}
		pipe.ZAddNX(ctx, key, redis.Z{Score: float64(now.UnixMilli()), Member: mem})
		pipe.Set(ctx, pointerKey(m.driverID), key, 0)
		return nil
	})
	if err != nil {
		return offer.QueueStatus{}, fmt.Errorf("join %s: %w", key, err)
	}

	rank, err := m.rdb.ZRank(ctx, key, mem).Result()
	if err != nil {
		return offer.QueueStatus{}, fmt.Errorf("rank in %s: %w", key, err)
	}
	score, err := m.rdb.ZScore(ctx, key, mem).Result()
	if err != nil {
		return offer.QueueStatus{}, fmt.Errorf("score in %s: %w", key, err)
	}
	size, err := m.length(ctx, locationID)
	if err != nil {
		return offer.QueueStatus{}, fmt.Errorf("size of %s: %w", key, err)
	}

	return offer.QueueStatus{
		LocationID: locationID,
		Position:   int(rank) + 1,
		Size:       int(size),
		JoinedAt:   timeutil.InAlmaty(time.UnixMilli(int64(score))),
	}, nil
}

// LeaveQueue removes the driver from whatever queue it is in. It is a no-op
// when the driver is not queued.
func (m *Membership) LeaveQueue(ctx context.Context) error {
	key, err := m.rdb.Get(ctx, pointerKey(m.driverID)).Result()
	if errors.Is(err, redis.Nil) {
		return nil
	}
	if err != nil {
		return fmt.Errorf("read queue pointer: %w", err)
	}

	_, err = m.rdb.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.ZRem(ctx, key, memberName(m.driverID))
		pipe.Del(ctx, pointerKey(m.driverID))
		return nil
	})
	if err != nil {
		return fmt.Errorf("leave %s: %w", key, err)
	}
	return nil
}

// length reports how many drivers wait at locationID.
func (m *Membership) length(ctx context.Context, locationID string) (int64, error) {
	return m.rdb.ZCard(ctx, queueKey(m.city, locationID)).Result()
}
