package channel

import "sync"

// Transport moves encoded messages across the context boundary. The origin
// semantics mirror the browser's message-passing model: outbound posts are
// addressed to an exact peer origin, inbound deliveries carry the sender's
// origin for the allow-list check.
type Transport interface {
	// Post delivers data to the peer, addressed to origin.
	Post(origin string, data []byte) error
	// SetReceiver installs the inbound callback. Passing nil detaches it.
	SetReceiver(fn func(origin string, data []byte))
	Close() error
}

// Pipe is an in-process transport pair for tests and same-binary embedding:
// what one endpoint posts, the other receives, tagged with the poster's
// declared origin.
type Pipe struct {
	origin string

	mu   sync.Mutex
	peer *Pipe
	recv func(origin string, data []byte)
}

// NewPipe creates two connected endpoints with the given declared origins.
func NewPipe(originA, originB string) (*Pipe, *Pipe) {
	a := &Pipe{origin: originA}
	b := &Pipe{origin: originB}
	a.peer = b
	b.peer = a
	return a, b
}

// Post delivers to the peer endpoint. The addressed origin must match the
// peer's declared origin, mirroring a targeted post: mismatches are dropped
// silently, exactly as a real cross-context post to the wrong origin is.
func (p *Pipe) Post(origin string, data []byte) error {
	p.mu.Lock()
	peer := p.peer
	p.mu.Unlock()
	if peer == nil {
		return nil
	}

	if origin != "*" && origin != peer.origin {
		return nil
	}

	peer.mu.Lock()
	recv := peer.recv
	peer.mu.Unlock()
	if recv != nil {
		recv(p.origin, append([]byte(nil), data...))
	}
	return nil
}

// SetReceiver installs the inbound callback.
func (p *Pipe) SetReceiver(fn func(origin string, data []byte)) {
	p.mu.Lock()
	p.recv = fn
	p.mu.Unlock()
}

// Close detaches the endpoint from its peer.
func (p *Pipe) Close() error {
	p.mu.Lock()
	p.recv = nil
	p.peer = nil
	p.mu.Unlock()
	return nil
}
