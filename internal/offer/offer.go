package offer

import "time"

// Kind distinguishes instant orders from pre-booked rides.
type Kind string

const (
	KindInstant   Kind = "instant"
	KindScheduled Kind = "scheduled"
)

// Waypoint describes a route point shown to the driver. It has no effect on dispatch.
type Waypoint struct {
	Address string  `json:"address"`
	Lon     float64 `json:"lon"`
	Lat     float64 `json:"lat"`
	Known   bool    `json:"known"`
}

// UnknownWaypoint stands in for a route point the payload did not carry.
var UnknownWaypoint = Waypoint{Address: "unknown location"}

// Route is the display summary of an offer's trip.
type Route struct {
	Start Waypoint   `json:"start"`
	End   Waypoint   `json:"end"`
	Stops []Waypoint `json:"stops,omitempty"`
}

// Offer is one dispatch proposal. An Offer is never modified after it is
// installed; a newer push replaces it instead.
type Offer struct {
	OrderID string
	// RideID is set only for scheduled-ride offers.
	RideID         string
	Kind           Kind
	Route          Route
	ReceivedAt     time.Time
	DecisionWindow time.Duration
}

// Deadline returns the instant the decision window closes.
func (o Offer) Deadline() time.Time {
	return o.ReceivedAt.Add(o.DecisionWindow)
}

// Remaining returns the decision time left at now, never negative.
func (o Offer) Remaining(now time.Time) time.Duration {
	left := o.Deadline().Sub(now)
	if left < 0 {
		return 0
	}
	return left
}

func (o Offer) clone() Offer {
	if o.Route.Stops != nil {
		stops := make([]Waypoint, len(o.Route.Stops))
		copy(stops, o.Route.Stops)
		o.Route.Stops = stops
	}
	return o
}
