package push

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"golang.org/x/exp/rand"

	"naimuDriver/internal/timeutil"
)

const (
	defaultPingInterval = 30 * time.Second
	defaultPongWait     = 60 * time.Second
	defaultWriteWait    = 5 * time.Second
	defaultMinBackoff   = time.Second
	defaultMaxBackoff   = 30 * time.Second
	defaultReadLimit    = 64 << 10
)

// Logger is the logging surface used by the push client.
type Logger interface {
	Infof(format string, args ...interface{})
	Errorf(format string, args ...interface{})
}

// Event is one frame received from the dispatch server. Data holds the
// whole frame, including its type field.
type Event struct {
	Name       string
	Data       json.RawMessage
	ReceivedAt time.Time
}

// Handler receives events of the name it subscribed to.
type Handler func(Event)

// Config describes the driver socket.
type Config struct {
	// URL is the ws:// or wss:// endpoint, e.g. wss://api.example.kz/ws/driver.
	URL      string
	Token    string
	DriverID string
	City     string

	PingInterval time.Duration
	PongWait     time.Duration
	WriteWait    time.Duration
	MinBackoff   time.Duration
	MaxBackoff   time.Duration
	ReadLimit    int64
}

func (c Config) withDefaults() Config {
	if c.PingInterval <= 0 {
		c.PingInterval = defaultPingInterval
	}
	if c.PongWait <= 0 {
		c.PongWait = defaultPongWait
	}
	if c.WriteWait <= 0 {
		c.WriteWait = defaultWriteWait
	}
	if c.MinBackoff <= 0 {
		c.MinBackoff = defaultMinBackoff
	}
	if c.MaxBackoff < c.MinBackoff {
		c.MaxBackoff = defaultMaxBackoff
		if c.MaxBackoff < c.MinBackoff {
			c.MaxBackoff = c.MinBackoff
		}
	}
	if c.ReadLimit <= 0 {
		c.ReadLimit = defaultReadLimit
	}
	return c
}

// Client keeps a websocket to the dispatch server open and fans incoming
// frames out to subscribers by event name.
type Client struct {
	cfg    Config
	dialer *websocket.Dialer
	logger Logger
	clock  timeutil.Clock

	mu       sync.RWMutex
	handlers map[string]map[int]Handler
	nextID   int
}

// NewClient creates a push client. Nothing is dialed until Run.
func NewClient(cfg Config, logger Logger) *Client {
	return &Client{
		cfg:      cfg.withDefaults(),
		dialer:   &websocket.Dialer{HandshakeTimeout: 10 * time.Second, Proxy: http.ProxyFromEnvironment},
		logger:   logger,
		clock:    timeutil.Real{},
		handlers: make(map[string]map[int]Handler),
	}
}

// Subscribe registers h for event and returns an id for Unsubscribe.
func (c *Client) Subscribe(event string, h Handler) int {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.nextID++
	if c.handlers[event] == nil {
		c.handlers[event] = make(map[int]Handler)
	}
	c.handlers[event][c.nextID] = h
	return c.nextID
}

// Unsubscribe removes a handler registered with Subscribe.
func (c *Client) Unsubscribe(event string, id int) {
	c.mu.Lock()
	defer c.mu.Unlock()
	delete(c.handlers[event], id)
	if len(c.handlers[event]) == 0 {
		delete(c.handlers, event)
	}
}

// Run connects and reconnects until ctx is done.
func (c *Client) Run(ctx context.Context) error {
	attempt := 0
	for {
		connected, err := c.session(ctx)
		if ctx.Err() != nil {
			return ctx.Err()
		}
		if connected {
			attempt = 0
		}
		wait := backoff(c.cfg.MinBackoff, c.cfg.MaxBackoff, attempt)
		attempt++
		c.logger.Errorf("push: connection lost: %v; retry in %s", err, wait)

		t := time.NewTimer(wait)
		select {
		case <-ctx.Done():
			t.Stop()
			return ctx.Err()
		case <-t.C:
		}
	}
}

// backoff doubles from lo up to hi and keeps a random half of the step.
func backoff(lo, hi time.Duration, attempt int) time.Duration {
	d := lo
	for i := 0; i < attempt && d < hi; i++ {
		d *= 2
	}
	if d > hi {
		d = hi
	}
	half := int64(d / 2)
	if half <= 0 {
		return d
	}
	return time.Duration(half + rand.Int63n(half+1))
}

func (c *Client) endpoint() (string, error) {
	u, err := url.Parse(c.cfg.URL)
	if err != nil {
		return "", fmt.Errorf("parse push url: %w", err)
	}
	q := u.Query()
	if c.cfg.DriverID != "" {
		q.Set("driver_id", c.cfg.DriverID)
	}
	if c.cfg.City != "" {
		q.Set("city", c.cfg.City)
	}
	u.RawQuery = q.Encode()
	return u.String(), nil
}

func (c *Client) session(ctx context.Context) (bool, error) {
	endpoint, err := c.endpoint()
	if err != nil {
		return false, err
	}
	header := http.Header{}
	if c.cfg.Token != "" {
		header.Set("Authorization", "Bearer "+c.cfg.Token)
	}
	connID := uuid.NewString()
	header.Set("X-Connection-ID", connID)

	conn, _, err := c.dialer.DialContext(ctx, endpoint, header)
	if err != nil {
		return false, fmt.Errorf("dial: %w", err)
	}
	c.logger.Infof("push: connected %s", connID)

	done := make(chan struct{})
	defer close(done)
	go func() {
		ticker := time.NewTicker(c.cfg.PingInterval)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				conn.Close()
				return
			case <-done:
				conn.Close()
				return
			case <-ticker.C:
				deadline := time.Now().Add(c.cfg.WriteWait)
				if err := conn.WriteControl(websocket.PingMessage, nil, deadline); err != nil {
					conn.Close()
					return
				}
			}
		}
	}()

	conn.SetReadLimit(c.cfg.ReadLimit)
	conn.SetReadDeadline(time.Now().Add(c.cfg.PongWait))
	conn.SetPongHandler(func(string) error {
		conn.SetReadDeadline(time.Now().Add(c.cfg.PongWait))
		return nil
	})

	for {
		_, message, err := conn.ReadMessage()
		if err != nil {
			if ctx.Err() != nil {
				return true, ctx.Err()
			}
			return true, err
		}
		conn.SetReadDeadline(time.Now().Add(c.cfg.PongWait))
		c.dispatch(message)
	}
}

var errNoType = errors.New("frame has no type")

func eventName(message []byte) (string, error) {
	var frame struct {
		Type  string `json:"type"`
		Event string `json:"event"`
	}
	if err := json.Unmarshal(message, &frame); err != nil {
		return "", err
	}
	if frame.Type != "" {
		return frame.Type, nil
	}
	if frame.Event != "" {
		return frame.Event, nil
	}
	return "", errNoType
}

func (c *Client) dispatch(message []byte) {
	name, err := eventName(message)
	if err != nil {
		c.logger.Errorf("push: skip frame: %v", err)
		return
	}

	c.mu.RLock()
	handlers := make([]Handler, 0, len(c.handlers[name]))
	for _, h := range c.handlers[name] {
		handlers = append(handlers, h)
	}
	c.mu.RUnlock()

	ev := Event{Name: name, Data: json.RawMessage(message), ReceivedAt: c.clock.Now()}
	for _, h := range handlers {
		c.call(h, ev)
	}
}

func (c *Client) call(h Handler, ev Event) {
	defer func() {
		if r := recover(); r != nil {
			c.logger.Errorf("push: handler for %s panicked: %v", ev.Name, r)
		}
	}()
	h(ev)
}
