// Package wstransport carries the editor channel over a websocket.
//
// The page side and the editor live in separate browsing contexts; when the
// bridge runs server-side, the boundary is a websocket connection instead of
// an in-process pipe. The remote's origin is fixed at upgrade time (from the
// HTTP Origin header) and tags every inbound delivery, so the channel's
// allow-list check works unchanged.
package wstransport

import (
	"fmt"
	"log/slog"
	"sync"

	"github.com/gorilla/websocket"
)

// Transport implements channel.Transport over one websocket connection.
type Transport struct {
	conn       *websocket.Conn
	peerOrigin string
	logger     *slog.Logger

	writeMu sync.Mutex // gorilla allows one concurrent writer

	mu     sync.Mutex
	recv   func(origin string, data []byte)
	closed bool

	once sync.Once
	done chan struct{}
}

// New wraps an upgraded connection. peerOrigin is the Origin header the
// remote presented during the upgrade. The read loop starts immediately.
func New(conn *websocket.Conn, peerOrigin string, logger *slog.Logger) *Transport {
	if logger == nil {
		logger = slog.Default()
	}
	t := &Transport{
		conn:       conn,
		peerOrigin: peerOrigin,
		logger:     logger,
		done:       make(chan struct{}),
	}
	go t.readLoop()
	return t
}

// Post writes one message. The websocket is point-to-point: the addressed
// origin must be the peer's or a broadcast, anything else is dropped the way
// a cross-context post to the wrong origin is.
func (t *Transport) Post(origin string, data []byte) error {
	if origin != "*" && origin != t.peerOrigin {
		return nil
	}

	t.mu.Lock()
	closed := t.closed
	t.mu.Unlock()
	if closed {
		return fmt.Errorf("wstransport: closed")
	}

	t.writeMu.Lock()
	defer t.writeMu.Unlock()
	if err := t.conn.WriteMessage(websocket.TextMessage, data); err != nil {
		return fmt.Errorf("wstransport: write: %w", err)
	}
	return nil
}

// SetReceiver installs the inbound callback.
func (t *Transport) SetReceiver(fn func(origin string, data []byte)) {
	t.mu.Lock()
	t.recv = fn
	t.mu.Unlock()
}

// Done is closed when the read loop ends (peer gone or Close called).
func (t *Transport) Done() <-chan struct{} {
	return t.done
}

// PeerOrigin returns the origin fixed at upgrade time.
func (t *Transport) PeerOrigin() string {
	return t.peerOrigin
}

// Close shuts the connection down. Idempotent.
func (t *Transport) Close() error {
	var err error
	t.once.Do(func() {
		t.mu.Lock()
		t.closed = true
		t.recv = nil
		t.mu.Unlock()
		err = t.conn.Close()
	})
	return err
}

func (t *Transport) readLoop() {
	defer close(t.done)
	for {
		kind, data, err := t.conn.ReadMessage()
		if err != nil {
			t.logger.Debug("wstransport: read loop ended", "error", err)
			t.Close()
			return
		}
		if kind != websocket.TextMessage {
			continue
		}

		t.mu.Lock()
		recv := t.recv
		t.mu.Unlock()
		if recv != nil {
			recv(t.peerOrigin, data)
		}
	}
}
