// Package channel is the validated, origin-restricted message pump between
// the page and the external editor.
//
// Outbound messages queue until the peer origin is established; the ready
// handshake broadcasts to every allow-listed origin, and the first valid
// init reply pins the peer and flushes the queue in enqueue order. Inbound
// traffic failing the origin allow-list or per-type shape validation is
// silently dropped: that is a security boundary, not an application error.
package channel

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"sync"
)

// ErrNotConnected is returned by SendNow before the peer origin is known.
var ErrNotConnected = fmt.Errorf("channel: peer origin not established")

// Config configures a Channel.
type Config struct {
	Transport      Transport
	AllowedOrigins OriginList
	OnMessage      func(Message) // dispatch callback for validated inbound messages
	OnReady        func()        // fires once the inbound listener is attached
	Debug          bool
	Logger         *slog.Logger
}

// Channel pumps messages over one transport.
type Channel struct {
	tr     Transport
	allow  OriginList
	onMsg  func(Message)
	debug  bool
	logger *slog.Logger

	mu         sync.Mutex
	peerOrigin string
	queue      []Message
	destroyed  bool
}

// New creates a Channel, attaches the inbound listener, and schedules the
// ready callback on a fresh goroutine so it cannot outrun the listener.
func New(cfg Config) *Channel {
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	c := &Channel{
		tr:     cfg.Transport,
		allow:  cfg.AllowedOrigins,
		onMsg:  cfg.OnMessage,
		debug:  cfg.Debug,
		logger: logger,
	}
	c.tr.SetReceiver(c.receive)
	if cfg.OnReady != nil {
		go cfg.OnReady()
	}
	return c
}

// Send posts a message to the established peer origin, or queues it until
// one is established. Queued messages flush in enqueue order.
func (c *Channel) Send(m Message) error {
	m.Stamp()

	c.mu.Lock()
	if c.destroyed {
		c.mu.Unlock()
		return fmt.Errorf("channel: destroyed")
	}
	if c.peerOrigin == "" {
		c.queue = append(c.queue, m)
		c.mu.Unlock()
		return nil
	}
	peer := c.peerOrigin
	c.mu.Unlock()

	return c.post(peer, m)
}

// SendNow posts immediately and fails with ErrNotConnected when no peer
// origin is established yet.
func (c *Channel) SendNow(m Message) error {
	m.Stamp()

	c.mu.Lock()
	if c.destroyed {
		c.mu.Unlock()
		return fmt.Errorf("channel: destroyed")
	}
	peer := c.peerOrigin
	c.mu.Unlock()

	if peer == "" {
		return ErrNotConnected
	}
	return c.post(peer, m)
}

// SendReady broadcasts the handshake to every concrete allow-listed origin.
// The peer origin is unknown at startup; whichever origin answers with init
// becomes the peer.
func (c *Channel) SendReady(m Message) error {
	m.Type = TypeReady
	m.Stamp()

	var firstErr error
	for _, origin := range c.allow.Concrete() {
		if err := c.post(origin, m); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	return firstErr
}

func (c *Channel) post(origin string, m Message) error {
	data, err := json.Marshal(m)
	if err != nil {
		return fmt.Errorf("channel: marshal: %w", err)
	}
	return c.tr.Post(origin, data)
}

// receive handles one inbound delivery: origin check, shape check, peer
// establishment, dispatch.
func (c *Channel) receive(origin string, data []byte) {
	c.mu.Lock()
	destroyed := c.destroyed
	c.mu.Unlock()
	if destroyed {
		return
	}

	if !c.allow.Allows(origin) {
		if c.debug {
			c.logger.Debug("channel: dropped message from disallowed origin", "origin", origin)
		}
		return
	}

	var m Message
	if err := json.Unmarshal(data, &m); err != nil {
		if c.debug {
			c.logger.Debug("channel: dropped unparseable message", "error", err)
		}
		return
	}
	if err := m.Validate(); err != nil {
		if c.debug {
			c.logger.Debug("channel: dropped invalid message", "type", string(m.Type), "error", err)
		}
		return
	}

	if m.Type == TypeInit {
		c.establish(origin)
	}

	if c.onMsg != nil {
		c.onMsg(m)
	}
}

// establish pins the peer origin on the first valid init and flushes the
// outbound queue in order. Later inits from other allowed origins do not
// steal the connection.
func (c *Channel) establish(origin string) {
	c.mu.Lock()
	if c.peerOrigin != "" {
		c.mu.Unlock()
		return
	}
	c.peerOrigin = origin
	queued := c.queue
	c.queue = nil
	c.mu.Unlock()

	for _, m := range queued {
		if err := c.post(origin, m); err != nil {
			c.logger.Warn("channel: flush failed", "type", string(m.Type), "error", err)
		}
	}
}

// Connected reports whether a peer origin has been established.
func (c *Channel) Connected() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.peerOrigin != ""
}

// PeerOrigin returns the established peer origin, "" before the handshake.
func (c *Channel) PeerOrigin() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.peerOrigin
}

// Destroy detaches the inbound listener and clears all state. Idempotent.
func (c *Channel) Destroy() {
	c.mu.Lock()
	if c.destroyed {
		c.mu.Unlock()
		return
	}
	c.destroyed = true
	c.peerOrigin = ""
	c.queue = nil
	c.mu.Unlock()

	c.tr.SetReceiver(nil)
}
