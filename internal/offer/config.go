package offer

import "time"

const (
	DefaultDecisionWindow = 10 * time.Second
	DefaultTickInterval   = time.Second
	DefaultCallTimeout    = 10 * time.Second
)

// LeaveQueuePolicy selects the terminal statuses after which the driver
// leaves the dispatch queue.
type LeaveQueuePolicy struct {
	OnAccepted  bool
	OnDismissed bool
	OnExpired   bool
	OnFailed    bool
}

// DefaultLeaveQueuePolicy leaves the queue after the driver took or refused an
// offer, and keeps the slot when an offer merely ran out.
func DefaultLeaveQueuePolicy() LeaveQueuePolicy {
	return LeaveQueuePolicy{OnAccepted: true, OnDismissed: true}
}

func (p LeaveQueuePolicy) appliesTo(s Status) bool {
	switch s {
	case StatusAccepted:
		return p.OnAccepted
	case StatusDismissed:
		return p.OnDismissed
	case StatusExpired:
		return p.OnExpired
	case StatusFailed:
		return p.OnFailed
	}
	return false
}

// Config aggregates behavioural parameters of the offer coordinator.
type Config struct {
	// DecisionWindow is how long the driver has to accept an offer.
	// The local clock is authoritative for it.
	DecisionWindow time.Duration
	// TickInterval is the countdown cadence while an offer is pending.
	TickInterval time.Duration
	// CallTimeout bounds every accept and queue call.
	CallTimeout time.Duration
	// LeaveQueue controls queue cleanup on terminal transitions.
	LeaveQueue LeaveQueuePolicy
}

// DefaultConfig returns the production policy.
func DefaultConfig() Config {
	return Config{
		DecisionWindow: DefaultDecisionWindow,
		TickInterval:   DefaultTickInterval,
		CallTimeout:    DefaultCallTimeout,
		LeaveQueue:     DefaultLeaveQueuePolicy(),
	}
}

func (c Config) withDefaults() Config {
	if c.DecisionWindow <= 0 {
		c.DecisionWindow = DefaultDecisionWindow
	}
	if c.TickInterval <= 0 {
		c.TickInterval = DefaultTickInterval
	}
	if c.CallTimeout <= 0 {
		c.CallTimeout = DefaultCallTimeout
	}
	return c
}
