// Package patch applies inbound field updates to every registered node
// rendering that field.
//
// Updates are coalesced per (record id, field id) key: a new update for an
// in-flight key supersedes the queued one, and only the value still queued
// when the debounce window expires is applied. Per-node failures are
// isolated; nodes already updated are not rolled back.
package patch

import (
	"errors"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/JohannesKaufmann/html-to-markdown/v2/converter"
	"github.com/microcosm-cc/bluemonday"

	"github.com/hazyhaar/liveedit/registry"
)

// DefaultDelay is the debounce window for coalescing rapid updates.
const DefaultDelay = 50 * time.Millisecond

// ErrDestroyed resolves updates still queued when the patcher is torn down,
// and any enqueued after.
var ErrDestroyed = errors.New("patch: patcher destroyed")

// Result reports the outcome of one enqueued update.
type Result struct {
	OK         bool
	Superseded bool  // replaced by a newer value before the window expired
	NodeCount  int   // nodes the update was applied to
	Err        error // last per-node error, set when OK is false
}

// Options configures a Patcher.
type Options struct {
	Delay  time.Duration // debounce window; DefaultDelay when zero
	Logger *slog.Logger
}

// Patcher owns the coalescing queue and the per-type apply pipeline.
type Patcher struct {
	reg       *registry.Registry
	delay     time.Duration
	logger    *slog.Logger
	sanitizer *bluemonday.Policy

	mu        sync.Mutex
	pending   map[string]*pendingUpdate
	md        *converter.Converter // lazy, see markdownConverter
	destroyed bool

	applies atomic.Uint64 // applications that reached live nodes
}

type pendingUpdate struct {
	recordID string
	fieldID  string
	value    Value
	timer    *time.Timer
	result   chan Result
	done     bool // guarded by Patcher.mu; ensures exactly one resolution
}

// New creates a Patcher over the given registry.
func New(reg *registry.Registry, opts Options) *Patcher {
	delay := opts.Delay
	if delay <= 0 {
		delay = DefaultDelay
	}
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &Patcher{
		reg:       reg,
		delay:     delay,
		logger:    logger,
		sanitizer: bluemonday.UGCPolicy(),
		pending:   make(map[string]*pendingUpdate),
	}
}

// Enqueue schedules an update for (recordID, fieldID) and returns a channel
// that resolves exactly once: with the apply outcome, or with a no-op success
// when a newer update for the same key superseded this one.
func (p *Patcher) Enqueue(recordID, fieldID string, v Value) <-chan Result {
	key := recordID + ":" + fieldID

	p.mu.Lock()
	if p.destroyed {
		p.mu.Unlock()
		ch := make(chan Result, 1)
		ch <- Result{OK: false, Err: ErrDestroyed}
		return ch
	}

	// A queued update for this key is superseded: resolve it now as a no-op
	// success and keep only the newest value.
	if old, ok := p.pending[key]; ok && !old.done {
		old.timer.Stop()
		old.done = true
		old.result <- Result{OK: true, Superseded: true}
	}

	pu := &pendingUpdate{
		recordID: recordID,
		fieldID:  fieldID,
		value:    v,
		result:   make(chan Result, 1),
	}
	pu.timer = time.AfterFunc(p.delay, func() { p.fire(key, pu) })
	p.pending[key] = pu
	p.mu.Unlock()

	return pu.result
}

// fire runs when a debounce window expires. The update is applied only if it
// is still the one queued for its key.
func (p *Patcher) fire(key string, pu *pendingUpdate) {
	p.mu.Lock()
	if pu.done {
		p.mu.Unlock()
		return
	}
	pu.done = true
	if p.destroyed {
		p.mu.Unlock()
		pu.result <- Result{OK: false, Err: ErrDestroyed}
		return
	}
	if p.pending[key] != pu {
		p.mu.Unlock()
		pu.result <- Result{OK: true, Superseded: true}
		return
	}
	delete(p.pending, key)
	p.mu.Unlock()

	pu.result <- p.applyNow(pu.recordID, pu.fieldID, pu.value)
}

// applyNow applies a value to every node registered for (recordID, fieldID).
// Failures are isolated per node; the overall result succeeds only when every
// node updated cleanly, but completed nodes are not rolled back.
func (p *Patcher) applyNow(recordID, fieldID string, v Value) Result {
	entries := p.reg.ByRecordField(recordID, fieldID)
	if len(entries) == 0 {
		return Result{OK: true, NodeCount: 0}
	}

	p.applies.Add(1)
	res := Result{OK: true, NodeCount: len(entries)}
	for _, e := range entries {
		if err := p.applyToNode(e, v); err != nil {
			p.logger.Warn("patch: node update failed",
				"record", recordID, "field", fieldID, "error", err)
			res.OK = false
			res.Err = err
		}
	}
	return res
}

// ApplyCount returns how many patch applications have reached live nodes.
func (p *Patcher) ApplyCount() uint64 {
	return p.applies.Load()
}

// Destroy cancels every pending timer and marks the patcher inert. Queued
// updates resolve as clean failures; later Enqueue calls do too. Idempotent.
func (p *Patcher) Destroy() {
	p.mu.Lock()
	if p.destroyed {
		p.mu.Unlock()
		return
	}
	p.destroyed = true
	for _, pu := range p.pending {
		pu.timer.Stop()
		if !pu.done {
			pu.done = true
			pu.result <- Result{OK: false, Err: ErrDestroyed}
		}
	}
	p.pending = make(map[string]*pendingUpdate)
	p.mu.Unlock()
}
