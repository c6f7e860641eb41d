package presenter

import (
	"encoding/json"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"
)

const (
	feedWriteWait    = 5 * time.Second
	feedPongWait     = 60 * time.Second
	feedPingInterval = (feedPongWait * 9) / 10
	feedSendBuffer   = 16
)

// feedConn is one UI shell. Its writer goroutine owns every write to conn.
type feedConn struct {
	conn *websocket.Conn
	send chan []byte
}

// Feed streams offer views to UI shells connected over websocket. Every new
// connection first receives the latest view. Publish never blocks on a slow
// shell: a shell whose buffer is full is disconnected.
type Feed struct {
	upgrader websocket.Upgrader
	logger   Logger

	mu    sync.Mutex
	conns map[*websocket.Conn]*feedConn
	last  []byte
}

// NewFeed creates an empty feed.
func NewFeed(logger Logger) *Feed {
	return &Feed{
		upgrader: websocket.Upgrader{CheckOrigin: func(r *http.Request) bool { return true }},
		logger:   logger,
		conns:    make(map[*websocket.Conn]*feedConn),
	}
}

// ServeWS upgrades the request and registers the connection.
func (f *Feed) ServeWS(w http.ResponseWriter, r *http.Request) {
	conn, err := f.upgrader.Upgrade(w, r, nil)
	if err != nil {
		f.logger.Errorf("offer feed upgrade failed: %v", err)
		return
	}

	fc := &feedConn{conn: conn, send: make(chan []byte, feedSendBuffer)}
	f.mu.Lock()
	f.conns[conn] = fc
	if f.last != nil {
		fc.send <- f.last
	}
	f.mu.Unlock()

	go f.writeLoop(fc)
	go f.readLoop(conn)
}

// readLoop only watches for the peer going away.
func (f *Feed) readLoop(conn *websocket.Conn) {
	defer f.drop(conn)

	conn.SetReadLimit(512)
	conn.SetReadDeadline(time.Now().Add(feedPongWait))
	conn.SetPongHandler(func(string) error {
		conn.SetReadDeadline(time.Now().Add(feedPongWait))
		return nil
	})
	for {
		if _, _, err := conn.ReadMessage(); err != nil {
			return
		}
		conn.SetReadDeadline(time.Now().Add(feedPongWait))
	}
}

func (f *Feed) writeLoop(fc *feedConn) {
	ticker := time.NewTicker(feedPingInterval)
	defer func() {
		ticker.Stop()
		fc.conn.Close()
	}()

	for {
		select {
		case msg, ok := <-fc.send:
			fc.conn.SetWriteDeadline(time.Now().Add(feedWriteWait))
			if !ok {
				_ = fc.conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}
			if err := fc.conn.WriteMessage(websocket.TextMessage, msg); err != nil {
				f.logger.Errorf("offer feed write failed: %v", err)
				return
			}
		case <-ticker.C:
			fc.conn.SetWriteDeadline(time.Now().Add(feedWriteWait))
			if err := fc.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}

// Publish queues v for every connection and returns without waiting for
// the writes.
func (f *Feed) Publish(v View) {
	msg, err := json.Marshal(v)
	if err != nil {
		f.logger.Errorf("offer feed marshal: %v", err)
		return
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	f.last = msg
	for conn, fc := range f.conns {
		select {
		case fc.send <- msg:
		default:
			f.logger.Errorf("offer feed: shell %s is too slow, disconnecting", conn.RemoteAddr())
			delete(f.conns, conn)
			close(fc.send)
		}
	}
}

func (f *Feed) drop(conn *websocket.Conn) {
	f.mu.Lock()
	if fc, ok := f.conns[conn]; ok {
		delete(f.conns, conn)
		close(fc.send)
	}
	f.mu.Unlock()
	conn.Close()
}

// Len reports the number of connected shells.
func (f *Feed) Len() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.conns)
}
