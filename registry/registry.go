// Package registry keeps an always-current index from (record id, field id)
// to the live nodes rendering that field.
//
// Nodes are discovered by a full scan at construction and kept current via a
// treewatch subscription: added subtrees are scanned, removed subtrees are
// evicted, and metadata attribute changes trigger re-registration of the
// affected node. The registry never fails: unresolvable nodes are skipped
// (with a debug diagnostic) and content keeps rendering.
package registry

import (
	"log/slog"
	"sync"
	"time"

	"golang.org/x/net/html"

	"github.com/hazyhaar/liveedit/attr"
	"github.com/hazyhaar/liveedit/treewatch"
)

// Entry is one registered node. The node itself is owned by the host tree;
// the registry holds a non-owning reference.
type Entry struct {
	Node        *html.Node
	RecordID    string // never empty: own or inherited
	FieldID     string
	Locale      string
	ChainRaw    string
	LastUpdated time.Time
}

// Key returns the index key for this entry.
func (e *Entry) Key() string {
	return key(e.RecordID, e.FieldID)
}

func key(recordID, fieldID string) string {
	if fieldID == "" {
		return recordID
	}
	return recordID + ":" + fieldID
}

// Options configures a Registry.
type Options struct {
	Hub    *treewatch.Hub // change source; nil disables live tracking
	Debug  bool
	Logger *slog.Logger
	Now    func() time.Time // test hook; defaults to time.Now
}

// Registry indexes annotated nodes of one document tree.
type Registry struct {
	root   *html.Node
	logger *slog.Logger
	debug  bool
	now    func() time.Time

	mu        sync.Mutex
	index     map[string][]*Entry   // key → entries, repeated fields keep a list
	byNode    map[*html.Node]*Entry // reverse lookup for eviction
	unsub     func()
	destroyed bool
}

// New builds a Registry and performs the initial full scan.
func New(root *html.Node, opts Options) *Registry {
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}
	now := opts.Now
	if now == nil {
		now = time.Now
	}

	r := &Registry{
		root:   root,
		logger: logger,
		debug:  opts.Debug,
		now:    now,
		index:  make(map[string][]*Entry),
		byNode: make(map[*html.Node]*Entry),
	}

	r.mu.Lock()
	r.scanSubtree(root)
	r.mu.Unlock()

	if opts.Hub != nil {
		r.unsub = opts.Hub.Subscribe(r.handleBatch)
	}
	return r
}

// handleBatch processes one change batch in delivered order.
func (r *Registry) handleBatch(batch treewatch.Batch) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.destroyed {
		return
	}

	for _, rec := range batch {
		switch rec.Op {
		case treewatch.OpAdd:
			r.scanSubtree(rec.Node)
		case treewatch.OpRemove:
			r.evictSubtree(rec.Node)
		case treewatch.OpAttr:
			switch rec.Name {
			case attr.Record, attr.Field, attr.Locale, attr.Chain:
			default:
				continue
			}
			r.unregister(rec.Node)
			r.register(rec.Node)
		}
	}
}

// scanSubtree registers every annotated element under root, inherited
// candidates included. Caller holds the lock.
func (r *Registry) scanSubtree(root *html.Node) {
	var walk func(*html.Node)
	walk = func(n *html.Node) {
		if n == nil {
			return
		}
		if n.Type == html.ElementNode && attr.Annotated(n) {
			r.register(n)
		}
		for c := n.FirstChild; c != nil; c = c.NextSibling {
			walk(c)
		}
	}
	walk(root)
}

// register indexes one node. A node carrying its own record id is registered
// under it even when an ancestor declares a different one; a node with only a
// field id inherits from the nearest declaring ancestor. Nodes with neither
// are skipped. Caller holds the lock.
func (r *Registry) register(n *html.Node) {
	if n == nil || n.Type != html.ElementNode || !attr.Annotated(n) {
		return
	}
	if _, dup := r.byNode[n]; dup {
		return
	}

	recordID, ok := attr.ResolveRecord(n)
	if !ok {
		if r.debug {
			r.logger.Warn("registry: node has field id but no resolvable record id, skipping",
				"field", attr.FieldID(n))
		}
		return
	}

	e := &Entry{
		Node:        n,
		RecordID:    recordID,
		FieldID:     attr.FieldID(n),
		Locale:      attr.LocaleOf(n),
		ChainRaw:    attr.ChainOf(n),
		LastUpdated: r.now(),
	}
	k := e.Key()
	r.index[k] = append(r.index[k], e)
	r.byNode[n] = e
}

// unregister drops one node from the index. Caller holds the lock.
func (r *Registry) unregister(n *html.Node) {
	e, ok := r.byNode[n]
	if !ok {
		return
	}
	delete(r.byNode, n)

	k := e.Key()
	entries := r.index[k]
	for i, cand := range entries {
		if cand == e {
			entries = append(entries[:i], entries[i+1:]...)
			break
		}
	}
	if len(entries) == 0 {
		delete(r.index, k)
	} else {
		r.index[k] = entries
	}
}

// evictSubtree unregisters every registered node under root. Caller holds
// the lock.
func (r *Registry) evictSubtree(root *html.Node) {
	var walk func(*html.Node)
	walk = func(n *html.Node) {
		if n == nil {
			return
		}
		r.unregister(n)
		for c := n.FirstChild; c != nil; c = c.NextSibling {
			walk(c)
		}
	}
	walk(root)
}

// ByField returns every entry rendering the given field, across records.
func (r *Registry) ByField(fieldID string) []*Entry {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []*Entry
	for _, entries := range r.index {
		for _, e := range entries {
			if e.FieldID == fieldID {
				out = append(out, e)
			}
		}
	}
	return out
}

// ByRecordField returns the entries for an exact (record id, field id) pair.
func (r *Registry) ByRecordField(recordID, fieldID string) []*Entry {
	r.mu.Lock()
	defer r.mu.Unlock()
	entries := r.index[key(recordID, fieldID)]
	out := make([]*Entry, len(entries))
	copy(out, entries)
	return out
}

// ByRecord returns every entry belonging to a record, fields included.
func (r *Registry) ByRecord(recordID string) []*Entry {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []*Entry
	for _, e := range r.byNode {
		if e.RecordID == recordID {
			out = append(out, e)
		}
	}
	return out
}

// Best returns the single best match for (record id, field id): the first
// registered entry, or nil.
func (r *Registry) Best(recordID, fieldID string) *Entry {
	r.mu.Lock()
	defer r.mu.Unlock()
	entries := r.index[key(recordID, fieldID)]
	if len(entries) == 0 {
		return nil
	}
	return entries[0]
}

// Entries returns a snapshot of every registered entry.
func (r *Registry) Entries() []*Entry {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]*Entry, 0, len(r.byNode))
	for _, e := range r.byNode {
		out = append(out, e)
	}
	return out
}

// Len returns the number of registered nodes.
func (r *Registry) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.byNode)
}

// Refresh drops the whole index and rescans the tree from the root.
func (r *Registry) Refresh() {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.destroyed {
		return
	}
	r.index = make(map[string][]*Entry)
	r.byNode = make(map[*html.Node]*Entry)
	r.scanSubtree(r.root)
}

// Destroy detaches the change subscription and clears the index. Idempotent.
func (r *Registry) Destroy() {
	r.mu.Lock()
	if r.destroyed {
		r.mu.Unlock()
		return
	}
	r.destroyed = true
	r.index = make(map[string][]*Entry)
	r.byNode = make(map[*html.Node]*Entry)
	unsub := r.unsub
	r.unsub = nil
	r.mu.Unlock()

	if unsub != nil {
		unsub()
	}
}
