package offer

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
)

var (
	ErrMalformedPayload = errors.New("malformed offer payload")
	ErrMissingOrderID   = errors.New("order id is missing")
	ErrUnknownKind      = errors.New("offer kind cannot be inferred")
)

// DecodeError reports a push payload that cannot become an actionable offer.
type DecodeError struct {
	Event string
	Err   error
}

func (e *DecodeError) Error() string {
	return fmt.Sprintf("decode %q offer: %v", e.Event, e.Err)
}

func (e *DecodeError) Unwrap() error { return e.Err }

var kindAliases = map[string]Kind{
	"instant":              KindInstant,
	"order_offer":          KindInstant,
	"new_order":            KindInstant,
	"instant_offer":        KindInstant,
	"scheduled":            KindScheduled,
	"ride_offer":           KindScheduled,
	"scheduled_offer":      KindScheduled,
	"scheduled_ride_offer": KindScheduled,
}

// flexID accepts identifiers sent either as JSON strings or numbers.
type flexID string

func (f *flexID) UnmarshalJSON(b []byte) error {
	b = bytes.TrimSpace(b)
	if len(b) == 0 || string(b) == "null" {
		*f = ""
		return nil
	}
	var s string
	if err := json.Unmarshal(b, &s); err == nil {
		*f = flexID(strings.TrimSpace(s))
		return nil
	}
	var n json.Number
	if err := json.Unmarshal(b, &n); err != nil {
		return fmt.Errorf("identifier must be a string or number: %w", err)
	}
	*f = flexID(n.String())
	return nil
}

type offerHeader struct {
	Type       string          `json:"type"`
	Kind       string          `json:"kind"`
	OrderID    flexID          `json:"order_id"`
	OrderIDAlt flexID          `json:"orderId"`
	RideID     flexID          `json:"ride_id"`
	RideIDAlt  flexID          `json:"rideId"`
	Payload    json.RawMessage `json:"payload"`
}

func (h offerHeader) orderID() string {
	if h.OrderID != "" {
		return string(h.OrderID)
	}
	return string(h.OrderIDAlt)
}

func (h offerHeader) rideID() string {
	if h.RideID != "" {
		return string(h.RideID)
	}
	return string(h.RideIDAlt)
}

type routePoint struct {
	Address string   `json:"address"`
	Lon     *float64 `json:"lon"`
	Lat     *float64 `json:"lat"`
}

func (p routePoint) waypoint() Waypoint {
	w := Waypoint{Address: strings.TrimSpace(p.Address)}
	if p.Lon != nil && p.Lat != nil {
		w.Lon, w.Lat = *p.Lon, *p.Lat
		w.Known = true
	}
	if w.Address != "" {
		w.Known = true
	}
	if !w.Known {
		return UnknownWaypoint
	}
	return w
}

type routeEnvelope struct {
	Route       json.RawMessage `json:"route"`
	FromLon     *float64        `json:"from_lon"`
	FromLat     *float64        `json:"from_lat"`
	FromAddress string          `json:"from_address"`
	ToLon       *float64        `json:"to_lon"`
	ToLat       *float64        `json:"to_lat"`
	ToAddress   string          `json:"to_address"`
}

type routeObject struct {
	Start *routePoint  `json:"start"`
	End   *routePoint  `json:"end"`
	Stops []routePoint `json:"stops"`
}

// Decode turns a push event into an Offer. It is pure: it never touches the
// network, timers or a coordinator. ReceivedAt and DecisionWindow are left
// zero; the coordinator stamps them when it installs the offer.
func Decode(event string, data []byte) (Offer, error) {
	var hdr offerHeader
	if err := json.Unmarshal(data, &hdr); err != nil {
		return Offer{}, &DecodeError{Event: event, Err: fmt.Errorf("%w: %v", ErrMalformedPayload, err)}
	}
	body := data
	if p := bytes.TrimSpace(hdr.Payload); len(p) > 0 && p[0] == '{' {
		var inner offerHeader
		if err := json.Unmarshal(p, &inner); err != nil {
			return Offer{}, &DecodeError{Event: event, Err: fmt.Errorf("%w: %v", ErrMalformedPayload, err)}
		}
		if inner.Type == "" {
			inner.Type = hdr.Type
		}
		hdr, body = inner, p
	}

	orderID := hdr.orderID()
	if orderID == "" {
		return Offer{}, &DecodeError{Event: event, Err: ErrMissingOrderID}
	}
	kind, ok := inferKind(hdr.Kind, hdr.Type, event)
	if !ok {
		return Offer{}, &DecodeError{Event: event, Err: ErrUnknownKind}
	}

	return Offer{
		OrderID: orderID,
		RideID:  hdr.rideID(),
		Kind:    kind,
		Route:   decodeRoute(body),
	}, nil
}

func inferKind(candidates ...string) (Kind, bool) {
	for _, c := range candidates {
		if k, ok := kindAliases[strings.ToLower(strings.TrimSpace(c))]; ok {
			return k, true
		}
	}
	return "", false
}

// decodeRoute never fails: anything it cannot read becomes UnknownWaypoint.
func decodeRoute(body []byte) Route {
	route := Route{Start: UnknownWaypoint, End: UnknownWaypoint}

	var env routeEnvelope
	if err := json.Unmarshal(body, &env); err != nil {
		// a field has the wrong type; retry with only the nested route
		var only struct {
			Route json.RawMessage `json:"route"`
		}
		_ = json.Unmarshal(body, &only)
		env = routeEnvelope{Route: only.Route}
	}

	raw := bytes.TrimSpace(env.Route)
	switch {
	case len(raw) > 0 && raw[0] == '{':
		var obj routeObject
		if err := json.Unmarshal(raw, &obj); err == nil {
			if obj.Start != nil {
				route.Start = obj.Start.waypoint()
			}
			if obj.End != nil {
				route.End = obj.End.waypoint()
			}
			for _, s := range obj.Stops {
				route.Stops = append(route.Stops, s.waypoint())
			}
		}
	case len(raw) > 0 && raw[0] == '[':
		var points []routePoint
		if err := json.Unmarshal(raw, &points); err == nil && len(points) > 0 {
			route.Start = points[0].waypoint()
			if len(points) > 1 {
				route.End = points[len(points)-1].waypoint()
				for _, p := range points[1 : len(points)-1] {
					route.Stops = append(route.Stops, p.waypoint())
				}
			}
		}
	}

	if !route.Start.Known {
		route.Start = routePoint{Address: env.FromAddress, Lon: env.FromLon, Lat: env.FromLat}.waypoint()
	}
	if !route.End.Known {
		route.End = routePoint{Address: env.ToAddress, Lon: env.ToLon, Lat: env.ToLat}.waypoint()
	}
	return route
}
