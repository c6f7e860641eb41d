package offer

// Status is the lifecycle state of the driver's offer session.
type Status string

const (
	StatusIdle      Status = "idle"
	StatusPending   Status = "pending"
	StatusAccepting Status = "accepting"
	StatusAccepted  Status = "accepted"
	StatusExpired   Status = "expired"
	StatusDismissed Status = "dismissed"
	StatusFailed    Status = "failed"
)

var transitions = map[Status]map[Status]struct{}{
	StatusIdle:      {StatusPending: {}},
	StatusPending:   {StatusAccepting: {}, StatusExpired: {}, StatusDismissed: {}},
	StatusAccepting: {StatusAccepted: {}, StatusFailed: {}},
	StatusAccepted:  {StatusIdle: {}},
	StatusExpired:   {StatusIdle: {}},
	StatusDismissed: {StatusIdle: {}},
	StatusFailed:    {StatusIdle: {}},
}

// CanTransition reports whether the session may move from one status to another.
// Staying in the same status is not a transition.
func CanTransition(from, to Status) bool {
	allowed, ok := transitions[from]
	if !ok {
		return false
	}
	_, ok = allowed[to]
	return ok
}

// Terminal reports whether the status ends an offer's lifetime.
func (s Status) Terminal() bool {
	switch s {
	case StatusAccepted, StatusExpired, StatusDismissed, StatusFailed:
		return true
	}
	return false
}
