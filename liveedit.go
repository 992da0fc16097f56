// Package liveedit wires a rendered document tree to an external content
// editor for live preview: inbound field updates patch the tree in place,
// hover affordances let authors jump from a rendered node to the field that
// produced it, and save notifications fan out to subscribers.
//
// The Bridge is the orchestrator. It owns the change hub, the element
// registry, the debounced patcher, the hover overlay and the editor channel,
// and routes between them. Everything else in the module is usable on its
// own; the Bridge is the batteries-included assembly.
package liveedit

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"reflect"
	"sync"
	"time"

	"golang.org/x/net/html"

	"github.com/hazyhaar/liveedit/attr"
	"github.com/hazyhaar/liveedit/channel"
	"github.com/hazyhaar/liveedit/journal"
	"github.com/hazyhaar/liveedit/overlay"
	"github.com/hazyhaar/liveedit/patch"
	"github.com/hazyhaar/liveedit/registry"
	"github.com/hazyhaar/liveedit/treewatch"
)

// Version is reported to the editor in the ready handshake.
const Version = "1.0.0"

// Subscription events.
const (
	EventSave         = "save"
	EventConnected    = "connected"
	EventDisconnected = "disconnected"
)

const (
	readyRetryInterval = time.Second

	// focusClass marks the node a field-focus command pointed at; the mark
	// is transient so repeated focuses read as distinct flashes.
	focusClass         = "live-edit-focus"
	focusHighlightTime = 1500 * time.Millisecond
)

type options struct {
	transport      channel.Transport
	layout         overlay.Layout
	openURL        func(url string, newTab bool) error
	embeddedProbe  func() bool
	journal        *journal.Journal
	scrollTo       func(*html.Node)
	focusField     func(*html.Node)
	updateApplied  func(entryID, fieldID string, res patch.Result)
	rescanInterval time.Duration
}

// Option customises a Bridge.
type Option func(*options)

// WithTransport supplies the editor-facing transport. Required for embedded
// operation; without one, auto mode resolves to standalone.
func WithTransport(t channel.Transport) Option {
	return func(o *options) { o.transport = t }
}

// WithLayout supplies node geometry for the overlay (e.g. rodgeom against a
// live browser page). Without one the overlay tracks hover state but reports
// zero rects.
func WithLayout(l overlay.Layout) Option {
	return func(o *options) { o.layout = l }
}

// WithOpenURL supplies the standalone navigation hook: how to open the
// editor URL when there is no connected editor to message.
func WithOpenURL(fn func(url string, newTab bool) error) Option {
	return func(o *options) { o.openURL = fn }
}

// WithEmbeddedProbe overrides embedded-context detection for auto mode.
// The probe reports true when the page runs inside the editor.
func WithEmbeddedProbe(fn func() bool) Option {
	return func(o *options) { o.embeddedProbe = fn }
}

// WithJournal attaches an externally owned activity journal. Takes
// precedence over Config.JournalPath; the Bridge will not close it.
func WithJournal(j *journal.Journal) Option {
	return func(o *options) { o.journal = j }
}

// WithFocusHooks supplies the presentation side of field-focus handling:
// scroll the node into view, then move input focus to it. Either may be nil.
func WithFocusHooks(scrollTo, focusField func(*html.Node)) Option {
	return func(o *options) {
		o.scrollTo = scrollTo
		o.focusField = focusField
	}
}

// WithUpdateApplied observes the terminal outcome of every routed field
// update: applied, failed, or rejected at decode. Superseded updates are not
// reported. Runs on the patcher's timer goroutine; keep it short.
func WithUpdateApplied(fn func(entryID, fieldID string, res patch.Result)) Option {
	return func(o *options) { o.updateApplied = fn }
}

// WithRescanInterval sets the tree rescan period. Default one second.
func WithRescanInterval(d time.Duration) Option {
	return func(o *options) { o.rescanInterval = d }
}

// Bridge orchestrates live editing for one document tree.
type Bridge struct {
	cfg    *Config
	doc    *html.Node
	logger *slog.Logger
	opts   options
	mode   Mode // resolved: embedded or standalone, never auto

	hub        *treewatch.Hub
	rescanner  *treewatch.Rescanner
	reg        *registry.Registry
	patcher    *patch.Patcher
	ov         *overlay.Controller
	jrnl       *journal.Journal
	ownJournal bool

	mu             sync.Mutex
	ch             *channel.Channel
	connected      bool
	retriesLeft    int
	retryTimer     *time.Timer
	subs           map[string]map[uintptr]func(string)
	updateHandlers map[string]func(channel.Message)
	focusHandlers  map[string]func(channel.Message)
	focused        *html.Node
	focusTimer     *time.Timer
	destroyed      bool
}

// New builds a Bridge over the given parsed document. The config is copied;
// defaults are applied to the copy. When auto-connect is on and the resolved
// mode is embedded, the ready handshake starts immediately.
func New(cfg *Config, doc *html.Node, logger *slog.Logger, opts ...Option) (*Bridge, error) {
	if cfg == nil {
		return nil, fmt.Errorf("liveedit: nil config")
	}
	if doc == nil {
		return nil, fmt.Errorf("liveedit: nil document")
	}
	cc := *cfg
	cc.defaults()
	if err := cc.validate(); err != nil {
		return nil, err
	}
	if logger == nil {
		logger = slog.Default()
	}

	o := options{rescanInterval: time.Second}
	for _, opt := range opts {
		opt(&o)
	}

	b := &Bridge{
		cfg:            &cc,
		doc:            doc,
		logger:         logger,
		opts:           o,
		subs:           make(map[string]map[uintptr]func(string)),
		updateHandlers: make(map[string]func(channel.Message)),
		focusHandlers:  make(map[string]func(channel.Message)),
	}

	b.hub = treewatch.NewHub()
	b.reg = registry.New(doc, registry.Options{Hub: b.hub, Debug: cc.Debug, Logger: logger})
	b.rescanner = treewatch.NewRescanner(doc, b.hub, o.rescanInterval, logger)
	b.patcher = patch.New(b.reg, patch.Options{Delay: cc.UpdateDelay, Logger: logger})

	if *cc.Overlay.Enabled {
		b.ov = overlay.New(overlay.Options{
			Layout:   o.layout,
			OnAction: b.handleActivate,
			Style: overlay.Style{
				BorderColor: cc.Overlay.BorderColor,
				BorderWidth: cc.Overlay.BorderWidth,
				ButtonLabel: cc.Overlay.ButtonLabel,
				ButtonW:     cc.Overlay.ButtonW,
				ButtonH:     cc.Overlay.ButtonH,
			},
			Logger: logger,
		})
	}

	b.mode = b.resolveMode()

	b.jrnl = o.journal
	if b.jrnl == nil && cc.JournalPath != "" {
		j, err := journal.Open(cc.JournalPath, logger)
		if err != nil {
			logger.Warn("liveedit: journal unavailable", "path", cc.JournalPath, "error", err)
		} else {
			b.jrnl = j
			b.ownJournal = true
		}
	}

	b.rescanner.Start()

	if b.mode == ModeEmbedded && o.transport != nil && *cc.AutoConnect {
		if err := b.Connect(o.transport); err != nil {
			b.Destroy()
			return nil, err
		}
	}

	if cc.Debug {
		registerDebug(b)
	}
	b.logger.Info("liveedit: bridge up",
		"mode", string(b.mode), "entries", b.reg.Len(), "endpoint", cc.Endpoint)
	return b, nil
}

// resolveMode turns auto into a concrete mode: the embedded probe decides
// when present, otherwise having a transport means embedded.
func (b *Bridge) resolveMode() Mode {
	if b.cfg.Mode != ModeAuto {
		return b.cfg.Mode
	}
	if b.opts.embeddedProbe != nil {
		if b.opts.embeddedProbe() {
			return ModeEmbedded
		}
		return ModeStandalone
	}
	if b.opts.transport != nil {
		return ModeEmbedded
	}
	return ModeStandalone
}

// Mode returns the resolved operating mode.
func (b *Bridge) Mode() Mode { return b.mode }

// Registry exposes the element registry for queries.
func (b *Bridge) Registry() *registry.Registry { return b.reg }

// Overlay returns the hover controller, nil when the overlay is disabled.
func (b *Bridge) Overlay() *overlay.Controller { return b.ov }

// Connect attaches an editor transport and starts the ready handshake. In a
// server-side deployment this is called per editor connection; only one
// channel is live at a time.
func (b *Bridge) Connect(t channel.Transport) error {
	b.mu.Lock()
	if b.destroyed {
		b.mu.Unlock()
		return fmt.Errorf("liveedit: bridge destroyed")
	}
	if b.ch != nil {
		b.mu.Unlock()
		return fmt.Errorf("liveedit: channel already attached")
	}
	b.retriesLeft = b.cfg.RetryAttempts
	ch := channel.New(channel.Config{
		Transport:      t,
		AllowedOrigins: channel.OriginList(b.cfg.AllowedOrigins),
		OnMessage:      b.route,
		OnReady:        b.sendReady,
		Debug:          b.cfg.Debug,
		Logger:         b.logger,
	})
	b.ch = ch
	b.mu.Unlock()
	return nil
}

// Connected reports whether an editor answered the handshake.
func (b *Bridge) Connected() bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.connected
}

// sendReady broadcasts the handshake and schedules a bounded number of
// re-broadcasts until an init arrives.
func (b *Bridge) sendReady() {
	b.mu.Lock()
	ch := b.ch
	if b.destroyed || ch == nil || b.connected {
		b.mu.Unlock()
		return
	}
	retries := b.retriesLeft
	b.mu.Unlock()

	caps := b.capabilities()
	if err := ch.SendReady(channel.Message{SDKVersion: Version, Capabilities: caps}); err != nil {
		b.logger.Warn("liveedit: ready handshake failed", "error", err)
	}

	b.mu.Lock()
	defer b.mu.Unlock()
	if b.destroyed || b.ch != ch || b.connected || retries <= 0 {
		return
	}
	b.retriesLeft = retries - 1
	b.retryTimer = time.AfterFunc(readyRetryInterval, b.sendReady)
}

// route dispatches one validated editor message.
func (b *Bridge) route(m channel.Message) {
	switch m.Type {
	case channel.TypeInit:
		b.onInit()
	case channel.TypeFieldUpdate:
		b.onFieldUpdate(m)
	case channel.TypeFieldFocus:
		b.onFieldFocus(m)
	case channel.TypeContentSaved:
		b.onSaved(m)
	case channel.TypeDisconnect:
		b.onDisconnect()
	default:
		if b.cfg.Debug {
			b.logger.Debug("liveedit: unrouted message", "type", string(m.Type))
		}
	}
}

func (b *Bridge) onInit() {
	b.mu.Lock()
	if b.destroyed || b.connected {
		b.mu.Unlock()
		return
	}
	b.connected = true
	if b.retryTimer != nil {
		b.retryTimer.Stop()
		b.retryTimer = nil
	}
	peer := ""
	if b.ch != nil {
		peer = b.ch.PeerOrigin()
	}
	b.mu.Unlock()

	b.record(journal.Event{Kind: journal.KindConnect, Detail: peer, OK: true})
	b.logger.Info("liveedit: editor connected", "origin", peer)
	b.emit(EventConnected, peer)
}

// HandleFieldUpdate installs a custom handler that replaces the default
// patch behavior for one entry field (or a whole entry when fieldID is
// empty). The returned function removes it.
func (b *Bridge) HandleFieldUpdate(entryID, fieldID string, fn func(channel.Message)) func() {
	return b.installHandler(b.updateHandlers, entryID, fieldID, fn)
}

// HandleFieldFocus installs a custom handler replacing the default
// scroll-and-flash behavior for one entry field.
func (b *Bridge) HandleFieldFocus(entryID, fieldID string, fn func(channel.Message)) func() {
	return b.installHandler(b.focusHandlers, entryID, fieldID, fn)
}

func (b *Bridge) installHandler(table map[string]func(channel.Message), entryID, fieldID string, fn func(channel.Message)) func() {
	key := handlerKey(entryID, fieldID)
	b.mu.Lock()
	if !b.destroyed {
		table[key] = fn
	}
	b.mu.Unlock()

	var once sync.Once
	return func() {
		once.Do(func() {
			b.mu.Lock()
			delete(table, key)
			b.mu.Unlock()
		})
	}
}

func handlerKey(entryID, fieldID string) string {
	if fieldID == "" {
		return entryID
	}
	return entryID + ":" + fieldID
}

// customHandler looks a handler up by exact field, falling back to the
// entry-wide one.
func (b *Bridge) customHandler(table map[string]func(channel.Message), entryID, fieldID string) func(channel.Message) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if fn, ok := table[handlerKey(entryID, fieldID)]; ok {
		return fn
	}
	return table[entryID]
}

func (b *Bridge) onFieldUpdate(m channel.Message) {
	if !*b.cfg.Sync.FieldUpdate {
		if b.cfg.Debug {
			b.logger.Debug("liveedit: field update sync disabled", "entry", m.EntryID)
		}
		return
	}
	if fn := b.customHandler(b.updateHandlers, m.EntryID, m.FieldAPIID); fn != nil {
		fn(m)
		return
	}

	v, err := patch.Decode(m.FieldType, m.NewValue)
	if err != nil {
		b.logger.Warn("liveedit: field update rejected",
			"entry", m.EntryID, "field", m.FieldAPIID, "fieldType", m.FieldType, "error", err)
		b.record(journal.Event{
			Kind: journal.KindFieldUpdate, EntryID: m.EntryID, FieldID: m.FieldAPIID,
			Detail: err.Error(), OK: false,
		})
		if b.opts.updateApplied != nil {
			b.opts.updateApplied(m.EntryID, m.FieldAPIID, patch.Result{Err: err})
		}
		return
	}

	entryID, fieldID := m.EntryID, m.FieldAPIID
	res := b.patcher.Enqueue(entryID, fieldID, v)
	// The result resolves after the debounce window; never block the
	// transport goroutine on it.
	go func() {
		r := <-res
		if r.Superseded {
			return
		}
		detail := fmt.Sprintf("nodes=%d", r.NodeCount)
		if r.Err != nil {
			detail = r.Err.Error()
			b.logger.Warn("liveedit: field update failed",
				"entry", entryID, "field", fieldID, "error", r.Err)
		}
		b.record(journal.Event{
			Kind: journal.KindFieldUpdate, EntryID: entryID, FieldID: fieldID,
			Detail: detail, OK: r.OK,
		})
		if b.opts.updateApplied != nil {
			b.opts.updateApplied(entryID, fieldID, r)
		}
	}()
}

func (b *Bridge) onFieldFocus(m channel.Message) {
	if !*b.cfg.Sync.FieldFocus {
		return
	}
	if fn := b.customHandler(b.focusHandlers, m.EntryID, m.FieldAPIID); fn != nil {
		fn(m)
		return
	}

	var entries []*registry.Entry
	if m.FieldAPIID != "" {
		entries = b.reg.ByRecordField(m.EntryID, m.FieldAPIID)
	} else {
		entries = b.reg.ByRecord(m.EntryID)
	}
	target := pickFocusTarget(entries, m.ComponentChain)
	if target == nil {
		if b.cfg.Debug {
			b.logger.Debug("liveedit: focus target not rendered",
				"entry", m.EntryID, "field", m.FieldAPIID)
		}
		return
	}

	if b.opts.scrollTo != nil {
		b.opts.scrollTo(target.Node)
	}
	b.flashFocus(target.Node)
	if b.opts.focusField != nil {
		b.opts.focusField(target.Node)
	}
	b.record(journal.Event{
		Kind: journal.KindFieldFocus, EntryID: m.EntryID, FieldID: m.FieldAPIID, OK: true,
	})
}

// pickFocusTarget narrows candidate entries by component chain when the
// editor supplied one; otherwise the first candidate wins.
func pickFocusTarget(entries []*registry.Entry, chain []attr.ChainLink) *registry.Entry {
	if len(entries) == 0 {
		return nil
	}
	if len(chain) == 0 {
		return entries[0]
	}
	want := attr.EncodeChain(chain)
	for _, e := range entries {
		if attr.EncodeChain(attr.ParseChain(e.ChainRaw)) == want {
			return e
		}
	}
	return entries[0]
}

// flashFocus marks the node with a transient highlight class.
func (b *Bridge) flashFocus(n *html.Node) {
	b.mu.Lock()
	if b.destroyed {
		b.mu.Unlock()
		return
	}
	if b.focusTimer != nil {
		b.focusTimer.Stop()
	}
	if b.focused != nil && b.focused != n {
		removeClass(b.focused, focusClass)
	}
	b.focused = n
	addClass(n, focusClass)
	b.focusTimer = time.AfterFunc(focusHighlightTime, func() {
		b.mu.Lock()
		defer b.mu.Unlock()
		if b.focused == n {
			removeClass(n, focusClass)
			b.focused = nil
		}
	})
	b.mu.Unlock()
}

func (b *Bridge) onSaved(m channel.Message) {
	b.record(journal.Event{Kind: journal.KindSaved, EntryID: m.EntryID, OK: true})
	b.emit(EventSave, m.EntryID)
}

// Disconnect detaches the current channel, as an editor disconnect message
// would. Used by hosts that notice the transport dropping out from under the
// channel. A later Connect may attach a fresh transport.
func (b *Bridge) Disconnect() {
	b.onDisconnect()
}

func (b *Bridge) onDisconnect() {
	b.mu.Lock()
	if b.destroyed {
		b.mu.Unlock()
		return
	}
	ch := b.ch
	b.ch = nil
	wasConnected := b.connected
	b.connected = false
	if b.retryTimer != nil {
		b.retryTimer.Stop()
		b.retryTimer = nil
	}
	b.mu.Unlock()

	if ch != nil {
		ch.Destroy()
	}
	b.record(journal.Event{Kind: journal.KindDisconnect, OK: true})
	b.logger.Info("liveedit: editor disconnected")
	if wasConnected {
		b.emit(EventDisconnected, "")
	}
}

// handleActivate routes an overlay activation: message the connected editor,
// or open the editor URL when there is nobody to message.
func (b *Bridge) handleActivate(a overlay.Action) {
	b.record(journal.Event{Kind: journal.KindFieldClick, EntryID: a.RecordID, FieldID: a.FieldID, OK: true})

	if b.mode == ModeEmbedded {
		b.mu.Lock()
		ch := b.ch
		b.mu.Unlock()
		if ch != nil {
			err := ch.SendNow(channel.Message{
				Type:           channel.TypeFieldClick,
				EntryID:        a.RecordID,
				FieldAPIID:     a.FieldID,
				Locale:         a.Locale,
				ComponentChain: attr.ParseChain(a.ChainRaw),
			})
			if err == nil {
				return
			}
			if err != channel.ErrNotConnected {
				b.logger.Warn("liveedit: field click not delivered", "error", err)
				return
			}
		}
		if !*b.cfg.Standalone.FallbackToNewTab {
			return
		}
		b.openEditor(a, true)
		return
	}

	b.openEditor(a, *b.cfg.Standalone.OpenInNewTab)
}

func (b *Bridge) openEditor(a overlay.Action, newTab bool) {
	if b.opts.openURL == nil {
		if b.cfg.Debug {
			b.logger.Debug("liveedit: no URL opener configured", "entry", a.RecordID)
		}
		return
	}
	u := EditorURL(b.cfg.EditorBaseURL, a.RecordID, a.FieldID, a.Locale, a.ChainRaw)
	if err := b.opts.openURL(u, newTab); err != nil {
		b.logger.Warn("liveedit: open editor failed", "url", u, "error", err)
	}
}

// Subscribe registers a callback for EventSave, EventConnected or
// EventDisconnected. Save callbacks receive the saved entry id, connected
// callbacks the peer origin. Subscribing the same function twice is a no-op;
// the returned function unsubscribes.
func (b *Bridge) Subscribe(event string, cb func(arg string)) (func(), error) {
	switch event {
	case EventSave, EventConnected, EventDisconnected:
	default:
		return nil, fmt.Errorf("liveedit: unknown event %q", event)
	}
	if cb == nil {
		return nil, fmt.Errorf("liveedit: nil callback")
	}
	key := reflect.ValueOf(cb).Pointer()

	b.mu.Lock()
	if b.destroyed {
		b.mu.Unlock()
		return nil, fmt.Errorf("liveedit: bridge destroyed")
	}
	set := b.subs[event]
	if set == nil {
		set = make(map[uintptr]func(string))
		b.subs[event] = set
	}
	set[key] = cb
	b.mu.Unlock()

	var once sync.Once
	return func() {
		once.Do(func() {
			b.mu.Lock()
			if s := b.subs[event]; s != nil {
				delete(s, key)
			}
			b.mu.Unlock()
		})
	}, nil
}

// emit fans an event out to subscribers. Each callback is isolated: a panic
// is logged and the remaining subscribers still run.
func (b *Bridge) emit(event, arg string) {
	b.mu.Lock()
	cbs := make([]func(string), 0, len(b.subs[event]))
	for _, cb := range b.subs[event] {
		cbs = append(cbs, cb)
	}
	b.mu.Unlock()

	for _, cb := range cbs {
		func() {
			defer func() {
				if r := recover(); r != nil {
					b.logger.Error("liveedit: subscriber panic", "event", event, "panic", r)
				}
			}()
			cb(arg)
		}()
	}
}

func (b *Bridge) record(ev journal.Event) {
	if b.jrnl == nil {
		return
	}
	b.jrnl.Record(context.Background(), ev)
}

// PointerMove forwards pointer movement to the overlay. No-op when the
// overlay is disabled.
func (b *Bridge) PointerMove(x, y float64, target *html.Node) {
	if b.ov != nil {
		b.ov.PointerMove(x, y, target)
	}
}

// ApplyUpdate decodes and applies a field update directly, bypassing the
// channel but going through the same debounced patcher. It blocks until the
// update resolves.
func (b *Bridge) ApplyUpdate(entryID, fieldID, fieldType string, newValue json.RawMessage) patch.Result {
	v, err := patch.Decode(fieldType, newValue)
	if err != nil {
		return patch.Result{Err: err}
	}
	return <-b.patcher.Enqueue(entryID, fieldID, v)
}

// Destroy tears the bridge down: channel, overlay, patcher, registry and
// rescanner, in that order. Idempotent.
func (b *Bridge) Destroy() {
	b.mu.Lock()
	if b.destroyed {
		b.mu.Unlock()
		return
	}
	b.destroyed = true
	ch := b.ch
	b.ch = nil
	b.connected = false
	if b.retryTimer != nil {
		b.retryTimer.Stop()
		b.retryTimer = nil
	}
	if b.focusTimer != nil {
		b.focusTimer.Stop()
		b.focusTimer = nil
	}
	if b.focused != nil {
		removeClass(b.focused, focusClass)
		b.focused = nil
	}
	b.subs = nil
	b.mu.Unlock()

	if ch != nil {
		ch.Destroy()
	}
	if b.ov != nil {
		b.ov.Destroy()
	}
	b.patcher.Destroy()
	b.reg.Destroy()
	b.rescanner.Stop()
	if b.ownJournal {
		b.jrnl.Close()
	}
	if b.cfg.Debug {
		deregisterDebug(b)
	}
	b.logger.Info("liveedit: bridge down", "endpoint", b.cfg.Endpoint)
}
