package driverapi

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/golang-jwt/jwt"
	"github.com/google/uuid"

	"naimuDriver/internal/offer"
)

const defaultTimeout = 10 * time.Second

// ErrNoToken is returned when a call has no bearer token to send.
var ErrNoToken = errors.New("driverapi: no driver token")

// StatusError is a non-2xx answer from the dispatch server.
type StatusError struct {
	Op      string
	Code    int
	Message string
}

func (e *StatusError) Error() string {
	if e.Message == "" {
		return fmt.Sprintf("%s: http %d", e.Op, e.Code)
	}
	return fmt.Sprintf("%s: http %d: %s", e.Op, e.Code, e.Message)
}

// Client talks to the dispatch server's driver REST API. It implements
// offer.OrderActions and offer.QueueMembership.
type Client struct {
	httpClient *http.Client
	baseURL    string
	token      string
}

// NewClient constructs a client for baseURL. token is the driver's session
// JWT; it is used for queue calls and for accepts made without an explicit
// actor token.
func NewClient(httpClient *http.Client, baseURL, token string) *Client {
	if httpClient == nil {
		httpClient = &http.Client{Timeout: defaultTimeout}
	}
	return &Client{
		httpClient: httpClient,
		baseURL:    strings.TrimRight(baseURL, "/"),
		token:      token,
	}
}

// AcceptOrder claims an instant order.
func (c *Client) AcceptOrder(ctx context.Context, actorToken, orderID string) error {
	body := map[string]interface{}{"order_id": idValue(orderID)}
	return c.do(ctx, "accept order", actorToken, http.MethodPost, "/api/v1/offers/accept", body, nil)
}

// AcceptScheduledRide claims a scheduled ride.
func (c *Client) AcceptScheduledRide(ctx context.Context, actorToken, rideID string) error {
	path := "/api/v1/rides/" + url.PathEscape(rideID) + "/accept"
	return c.do(ctx, "accept ride", actorToken, http.MethodPost, path, nil, nil)
}

// JoinQueue puts the driver into the dispatch queue at locationID.
func (c *Client) JoinQueue(ctx context.Context, locationID string) (offer.QueueStatus, error) {
	var resp struct {
		LocationID string    `json:"location_id"`
		Position   int       `json:"position"`
		Size       int       `json:"queue_size"`
		JoinedAt   time.Time `json:"joined_at"`
	}
	body := map[string]string{"location_id": locationID}
	if err := c.do(ctx, "join queue", "", http.MethodPost, "/api/v1/queue/join", body, &resp); err != nil {
		return offer.QueueStatus{}, err
	}
	if resp.LocationID == "" {
		resp.LocationID = locationID
	}
	return offer.QueueStatus{LocationID: resp.LocationID, Position: resp.Position, Size: resp.Size, JoinedAt: resp.JoinedAt}, nil
}

// LeaveQueue removes the driver from the dispatch queue. A driver who is not
// queued gets 404 or 409 from the server, which counts as success.
func (c *Client) LeaveQueue(ctx context.Context) error {
	err := c.do(ctx, "leave queue", "", http.MethodPost, "/api/v1/queue/leave", nil, nil)
	var se *StatusError
	if errors.As(err, &se) && (se.Code == http.StatusNotFound || se.Code == http.StatusConflict) {
		return nil
	}
	return err
}

func (c *Client) do(ctx context.Context, op, token, method, path string, in, out interface{}) error {
	if token == "" {
		token = c.token
	}
	if token == "" {
		return fmt.Errorf("%s: %w", op, ErrNoToken)
	}

	var body io.Reader
	if in != nil {
		buf, err := json.Marshal(in)
		if err != nil {
			return fmt.Errorf("%s: encode body: %w", op, err)
		}
		body = bytes.NewReader(buf)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, body)
	if err != nil {
		return fmt.Errorf("%s: build request: %w", op, err)
	}
	req.Header.Set("Authorization", "Bearer "+token)
	req.Header.Set("X-Request-ID", uuid.NewString())
	req.Header.Set("Accept", "application/json")
	if in != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if id := DriverID(token); id != "" {
		req.Header.Set("X-Driver-ID", id)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("%s: do request: %w", op, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 300 {
		b, _ := io.ReadAll(io.LimitReader(resp.Body, 4<<10))
		return &StatusError{Op: op, Code: resp.StatusCode, Message: errorMessage(b)}
	}
	if out == nil {
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil && !errors.Is(err, io.EOF) {
		return fmt.Errorf("%s: decode response: %w", op, err)
	}
	return nil
}

// DriverID reads the driver id from the token claims without verifying the
// signature; the server does that. user_id wins over sub.
func DriverID(token string) string {
	claims := jwt.MapClaims{}
	if _, _, err := new(jwt.Parser).ParseUnverified(token, claims); err != nil {
		return ""
	}
	for _, key := range []string{"user_id", "driver_id", "sub"} {
		switch v := claims[key].(type) {
		case string:
			if v != "" {
				return v
			}
		case float64:
			return strconv.FormatInt(int64(v), 10)
		}
	}
	return ""
}

// idValue sends numeric ids as JSON numbers, the form the dispatch server binds.
func idValue(id string) interface{} {
	if n, err := strconv.ParseInt(id, 10, 64); err == nil {
		return n
	}
	return id
}

func errorMessage(b []byte) string {
	var payload struct {
		Error   string `json:"error"`
		Message string `json:"message"`
	}
	if err := json.Unmarshal(b, &payload); err == nil {
		if payload.Error != "" {
			return payload.Error
		}
		if payload.Message != "" {
			return payload.Message
		}
	}
	return strings.TrimSpace(string(b))
}
