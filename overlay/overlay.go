// Package overlay drives the hover/activate affordance over registered
// regions: a highlight sized to the hovered node's screen bounds and an
// action control whose activation becomes an editor action event.
//
// Geometry comes from an injected Layout, since the library does not own
// rendering. Hosts mirroring the tree into a real page can use the rodgeom
// subpackage; tests use a stub.
package overlay

import (
	"log/slog"
	"sync"
	"time"

	"golang.org/x/net/html"

	"github.com/hazyhaar/liveedit/attr"
)

// Rect is a screen-space rectangle.
type Rect struct {
	X, Y, W, H float64
}

// Contains reports whether the point lies inside the rectangle.
func (r Rect) Contains(x, y float64) bool {
	return x >= r.X && x <= r.X+r.W && y >= r.Y && y <= r.Y+r.H
}

// Layout resolves a node's current screen bounds. ok is false when the node
// is not laid out (detached, hidden, or unmeasurable).
type Layout interface {
	Bounds(n *html.Node) (Rect, bool)
}

// LayoutFunc adapts a function to the Layout interface.
type LayoutFunc func(n *html.Node) (Rect, bool)

func (f LayoutFunc) Bounds(n *html.Node) (Rect, bool) { return f(n) }

// Action is emitted when the user activates the control over a hovered node.
// Routing (embedded message vs. standalone URL) is the orchestrator's job.
type Action struct {
	RecordID string
	FieldID  string
	Locale   string
	ChainRaw string
}

// Style controls the rendered affordance.
type Style struct {
	BorderColor string
	BorderWidth int
	ButtonLabel string
	ButtonW     float64
	ButtonH     float64
	Margin      float64
}

func (s *Style) defaults() {
	if s.BorderColor == "" {
		s.BorderColor = "#0b7285"
	}
	if s.BorderWidth <= 0 {
		s.BorderWidth = 2
	}
	if s.ButtonLabel == "" {
		s.ButtonLabel = "Edit"
	}
	if s.ButtonW <= 0 {
		s.ButtonW = 48
	}
	if s.ButtonH <= 0 {
		s.ButtonH = 24
	}
	if s.Margin <= 0 {
		s.Margin = 4
	}
}

// DefaultGraceDelay tolerates the pointer crossing from the hovered node onto
// the action control without dropping back to idle.
const DefaultGraceDelay = 150 * time.Millisecond

// State is the controller's hover state.
type State int

const (
	Idle State = iota
	Hovering
)

// Options configures a Controller.
type Options struct {
	Layout     Layout        // required for geometry; nil disables rects
	OnAction   func(Action)  // activation callback
	GraceDelay time.Duration // DefaultGraceDelay when zero
	Style      Style
	Logger     *slog.Logger
}

// Controller is the hover state machine.
type Controller struct {
	layout   Layout
	onAction func(Action)
	grace    time.Duration
	style    Style
	logger   *slog.Logger

	mu         sync.Mutex
	state      State
	hovered    *html.Node
	highlight  Rect
	control    Rect
	graceTimer *time.Timer
	destroyed  bool
}

// New creates a Controller.
func New(opts Options) *Controller {
	grace := opts.GraceDelay
	if grace <= 0 {
		grace = DefaultGraceDelay
	}
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}
	style := opts.Style
	style.defaults()
	return &Controller{
		layout:   opts.Layout,
		onAction: opts.OnAction,
		grace:    grace,
		style:    style,
		logger:   logger,
	}
}

// PointerMove feeds one pointer movement: position plus the node under the
// pointer. The nearest annotated ancestor-or-self of the target becomes the
// hovered node; leaving annotated territory starts the grace delay.
func (c *Controller) PointerMove(x, y float64, target *html.Node) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.destroyed {
		return
	}

	hit := nearestAnnotated(target)
	if hit != nil {
		// Hovering(A) → Hovering(B) directly, no intermediate idle.
		c.cancelGraceLocked()
		if c.state != Hovering || c.hovered != hit {
			c.state = Hovering
			c.hovered = hit
			c.repositionLocked()
		}
		return
	}

	if c.state != Hovering {
		return
	}
	// Pointer on the action control keeps the hover alive.
	if c.control.Contains(x, y) {
		c.cancelGraceLocked()
		return
	}
	if c.graceTimer == nil {
		c.graceTimer = time.AfterFunc(c.grace, c.graceExpired)
	}
}

// graceExpired drops back to idle unless the pointer re-entered meanwhile.
func (c *Controller) graceExpired() {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.destroyed || c.graceTimer == nil {
		return
	}
	c.graceTimer = nil
	c.state = Idle
	c.hovered = nil
	c.highlight = Rect{}
	c.control = Rect{}
}

func (c *Controller) cancelGraceLocked() {
	if c.graceTimer != nil {
		c.graceTimer.Stop()
		c.graceTimer = nil
	}
}

// Reposition re-derives the highlight and control rectangles from current
// layout. Hosts call it on scroll and resize.
func (c *Controller) Reposition() {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.destroyed || c.state != Hovering {
		return
	}
	c.repositionLocked()
}

func (c *Controller) repositionLocked() {
	if c.layout == nil || c.hovered == nil {
		return
	}
	bounds, ok := c.layout.Bounds(c.hovered)
	if !ok {
		return
	}
	c.highlight = bounds
	c.control = placeControl(bounds, c.style)
}

// placeControl positions the action control inside the node's bounds:
// top-right corner preferred, clamped to stay within small nodes.
func placeControl(bounds Rect, s Style) Rect {
	x := bounds.X + bounds.W - s.ButtonW - s.Margin
	if x < bounds.X {
		x = bounds.X
	}
	y := bounds.Y + s.Margin
	if y+s.ButtonH > bounds.Y+bounds.H {
		y = bounds.Y
	}
	w := s.ButtonW
	if w > bounds.W {
		w = bounds.W
	}
	h := s.ButtonH
	if h > bounds.H {
		h = bounds.H
	}
	return Rect{X: x, Y: y, W: w, H: h}
}

// Activate fires the action event for the hovered node. No-op while idle.
func (c *Controller) Activate() {
	c.mu.Lock()
	if c.destroyed || c.state != Hovering || c.hovered == nil {
		c.mu.Unlock()
		return
	}
	n := c.hovered
	emit := c.onAction
	c.mu.Unlock()

	recordID, ok := attr.ResolveRecord(n)
	if !ok {
		return
	}
	if emit != nil {
		emit(Action{
			RecordID: recordID,
			FieldID:  attr.FieldID(n),
			Locale:   attr.LocaleOf(n),
			ChainRaw: attr.ChainOf(n),
		})
	}
}

// State returns the current hover state.
func (c *Controller) State() State {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state
}

// Hovered returns the currently hovered node, nil while idle.
func (c *Controller) Hovered() *html.Node {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.hovered
}

// Highlight returns the current highlight rectangle.
func (c *Controller) Highlight() Rect {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.highlight
}

// Control returns the current action control rectangle.
func (c *Controller) Control() Rect {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.control
}

// Destroy cancels timers and clears state. Idempotent; no callback fires
// after destruction.
func (c *Controller) Destroy() {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.destroyed {
		return
	}
	c.destroyed = true
	c.cancelGraceLocked()
	c.state = Idle
	c.hovered = nil
	c.highlight = Rect{}
	c.control = Rect{}
}

// nearestAnnotated walks ancestor-or-self for the closest node carrying a
// field id or record id attribute.
func nearestAnnotated(n *html.Node) *html.Node {
	for cur := n; cur != nil; cur = cur.Parent {
		if cur.Type == html.ElementNode && attr.Annotated(cur) {
			return cur
		}
	}
	return nil
}
