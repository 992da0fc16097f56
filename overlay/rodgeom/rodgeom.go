// Package rodgeom measures node screen bounds through a live browser page.
//
// Hosts that mirror the rendered tree into a real page (preview inside a
// browser driven over CDP) can hand the page to rodgeom and get a Layout for
// the overlay controller: nodes are located by their positional XPath and
// measured via content quads.
package rodgeom

import (
	"log/slog"
	"strconv"
	"strings"

	"github.com/go-rod/rod"
	"golang.org/x/net/html"

	"github.com/hazyhaar/liveedit/overlay"
)

// Layout implements overlay.Layout against a rod page.
type Layout struct {
	page   *rod.Page
	logger *slog.Logger
}

// New creates a Layout over an attached page.
func New(page *rod.Page, logger *slog.Logger) *Layout {
	if logger == nil {
		logger = slog.Default()
	}
	return &Layout{page: page, logger: logger}
}

// Bounds measures the node's current bounding box in the live page. Returns
// ok=false when the node cannot be located or measured; that is routine for
// nodes the page has since replaced.
func (l *Layout) Bounds(n *html.Node) (overlay.Rect, bool) {
	xp := XPath(n)
	if xp == "" {
		return overlay.Rect{}, false
	}

	el, err := l.page.ElementX(xp)
	if err != nil {
		l.logger.Debug("rodgeom: element not found", "xpath", xp, "error", err)
		return overlay.Rect{}, false
	}
	shape, err := el.Shape()
	if err != nil {
		l.logger.Debug("rodgeom: shape failed", "xpath", xp, "error", err)
		return overlay.Rect{}, false
	}
	box := shape.Box()
	if box == nil {
		return overlay.Rect{}, false
	}
	return overlay.Rect{X: box.X, Y: box.Y, W: box.Width, H: box.Height}, true
}

// XPath computes the positional XPath of an element within its tree, e.g.
// /html/body/div[2]/p[1]. Returns "" for non-element nodes.
func XPath(n *html.Node) string {
	if n == nil || n.Type != html.ElementNode {
		return ""
	}

	var segments []string
	for cur := n; cur != nil && cur.Type == html.ElementNode; cur = cur.Parent {
		segments = append(segments, segment(cur))
	}

	// Reverse into document order.
	var b strings.Builder
	for i := len(segments) - 1; i >= 0; i-- {
		b.WriteByte('/')
		b.WriteString(segments[i])
	}
	return b.String()
}

// segment returns "tag[i]" with the 1-based index among same-tag siblings.
func segment(n *html.Node) string {
	idx := 1
	for sib := n.PrevSibling; sib != nil; sib = sib.PrevSibling {
		if sib.Type == html.ElementNode && sib.Data == n.Data {
			idx++
		}
	}
	// html root needs no index.
	if n.Parent == nil || n.Parent.Type == html.DocumentNode {
		return n.Data
	}
	return n.Data + "[" + strconv.Itoa(idx) + "]"
}
