// Package treewatch delivers change notifications for a live html.Node tree.
//
// The host rendering pipeline owns the tree and reports its own mutations by
// posting records to a Hub; subscribers (the element registry) receive them
// as ordered batches. Hosts that cannot report mutations can run a Rescanner
// instead, which periodically diffs the set of annotated nodes and
// synthesizes add/remove records.
package treewatch

import (
	"log/slog"
	"sync"
	"time"

	"golang.org/x/net/html"

	"github.com/hazyhaar/liveedit/attr"
)

// Op is the kind of tree change observed.
type Op string

const (
	OpAdd    Op = "add"    // a subtree was attached; Node is its root
	OpRemove Op = "remove" // a subtree was detached; Node is its root
	OpAttr   Op = "attr"   // an attribute changed on Node; Name carries the key
)

// Record is a single tree change.
type Record struct {
	Op   Op
	Node *html.Node
	Name string // attribute name, set for OpAttr
}

// Batch is the unit of delivery: all records posted in one Notify call,
// in posted order.
type Batch []Record

// Hub fans out change batches to subscribers. Delivery is synchronous and
// preserves the order batches were posted in.
type Hub struct {
	mu   sync.Mutex
	subs map[int]func(Batch)
	next int
}

// NewHub creates an empty Hub.
func NewHub() *Hub {
	return &Hub{subs: make(map[int]func(Batch))}
}

// Subscribe registers a batch handler and returns its unsubscribe function.
// Unsubscribing twice is a no-op.
func (h *Hub) Subscribe(fn func(Batch)) func() {
	h.mu.Lock()
	id := h.next
	h.next++
	h.subs[id] = fn
	h.mu.Unlock()

	var once sync.Once
	return func() {
		once.Do(func() {
			h.mu.Lock()
			delete(h.subs, id)
			h.mu.Unlock()
		})
	}
}

// Notify delivers one batch to every subscriber, synchronously, on the
// caller's goroutine.
func (h *Hub) Notify(records ...Record) {
	if len(records) == 0 {
		return
	}
	h.mu.Lock()
	fns := make([]func(Batch), 0, len(h.subs))
	for _, fn := range h.subs {
		fns = append(fns, fn)
	}
	h.mu.Unlock()

	batch := Batch(records)
	for _, fn := range fns {
		fn(batch)
	}
}

// Rescanner is the fallback change source for hosts without mutation
// reporting. It walks the tree on a fixed interval, diffs the annotated-node
// set against the previous walk, and posts synthesized add/remove records.
// Attribute edits on a surviving node are reported as a remove/add pair,
// which makes the registry re-register the node.
type Rescanner struct {
	root     *html.Node
	hub      *Hub
	interval time.Duration
	logger   *slog.Logger

	mu   sync.Mutex
	seen map[*html.Node]string // node → annotation fingerprint
	stop chan struct{}
	once sync.Once
}

// NewRescanner creates a Rescanner posting into hub. Interval defaults to one
// second. Call Start to begin scanning.
func NewRescanner(root *html.Node, hub *Hub, interval time.Duration, logger *slog.Logger) *Rescanner {
	if interval <= 0 {
		interval = time.Second
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Rescanner{
		root:     root,
		hub:      hub,
		interval: interval,
		logger:   logger,
		seen:     make(map[*html.Node]string),
		stop:     make(chan struct{}),
	}
}

// Start launches the scan loop. The first scan primes the seen-set without
// emitting records; the registry does its own initial scan.
func (r *Rescanner) Start() {
	r.mu.Lock()
	r.seen = annotatedFingerprints(r.root)
	r.mu.Unlock()

	go func() {
		ticker := time.NewTicker(r.interval)
		defer ticker.Stop()
		for {
			select {
			case <-r.stop:
				return
			case <-ticker.C:
				r.scanOnce()
			}
		}
	}()
}

// Stop halts the scan loop. Idempotent.
func (r *Rescanner) Stop() {
	r.once.Do(func() { close(r.stop) })
}

// scanOnce diffs the current annotated-node set against the previous one and
// posts the delta as a single batch.
func (r *Rescanner) scanOnce() {
	current := annotatedFingerprints(r.root)

	r.mu.Lock()
	prev := r.seen
	r.seen = current
	r.mu.Unlock()

	var records []Record
	for n := range prev {
		fp, alive := current[n]
		if !alive {
			records = append(records, Record{Op: OpRemove, Node: n})
		} else if fp != prev[n] {
			records = append(records, Record{Op: OpRemove, Node: n}, Record{Op: OpAdd, Node: n})
		}
	}
	for n := range current {
		if _, ok := prev[n]; !ok {
			records = append(records, Record{Op: OpAdd, Node: n})
		}
	}

	if len(records) > 0 {
		r.logger.Debug("treewatch: rescan delta", "records", len(records))
		r.hub.Notify(records...)
	}
}

// annotatedFingerprints collects every annotated element in the tree mapped
// to a fingerprint of its metadata attributes.
func annotatedFingerprints(root *html.Node) map[*html.Node]string {
	out := make(map[*html.Node]string)
	var walk func(*html.Node)
	walk = func(n *html.Node) {
		if n == nil {
			return
		}
		if n.Type == html.ElementNode && attr.Annotated(n) {
			out[n] = fingerprint(n)
		}
		for c := n.FirstChild; c != nil; c = c.NextSibling {
			walk(c)
		}
	}
	walk(root)
	return out
}

func fingerprint(n *html.Node) string {
	rec, _ := attr.Get(n, attr.Record)
	field, _ := attr.Get(n, attr.Field)
	loc, _ := attr.Get(n, attr.Locale)
	chain, _ := attr.Get(n, attr.Chain)
	return rec + "\x00" + field + "\x00" + loc + "\x00" + chain
}
