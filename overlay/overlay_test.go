package overlay

import (
	"strings"
	"testing"
	"time"

	"golang.org/x/net/html"

	"github.com/hazyhaar/liveedit/attr"
)

func parseDoc(t *testing.T, src string) *html.Node {
	t.Helper()
	doc, err := html.Parse(strings.NewReader(src))
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	return doc
}

func findField(n *html.Node, field string) *html.Node {
	if n.Type == html.ElementNode && attr.FieldID(n) == field {
		return n
	}
	for c := n.FirstChild; c != nil; c = c.NextSibling {
		if found := findField(c, field); found != nil {
			return found
		}
	}
	return nil
}

func fixedLayout(r Rect) Layout {
	return LayoutFunc(func(*html.Node) (Rect, bool) { return r, true })
}

func TestHoverEntersAndLeaves(t *testing.T) {
	doc := parseDoc(t, `<div data-live-record="r1"><p data-live-field="t">x</p></div>`)
	node := findField(doc, "t")

	c := New(Options{
		Layout:     fixedLayout(Rect{X: 10, Y: 10, W: 200, H: 50}),
		GraceDelay: 5 * time.Millisecond,
	})
	defer c.Destroy()

	c.PointerMove(20, 20, node.FirstChild) // text child resolves to annotated ancestor
	if c.State() != Hovering || c.Hovered() != node {
		t.Fatalf("state=%v hovered=%v", c.State(), c.Hovered())
	}
	if got := c.Highlight(); got.W != 200 {
		t.Errorf("highlight: %+v", got)
	}

	// Leave to non-annotated territory; idle only after the grace delay.
	c.PointerMove(500, 500, nil)
	if c.State() != Hovering {
		t.Fatal("left hover before grace delay")
	}
	time.Sleep(20 * time.Millisecond)
	if c.State() != Idle {
		t.Error("still hovering after grace delay")
	}
}

func TestHoverSwitchesDirectly(t *testing.T) {
	doc := parseDoc(t, `
		<div data-live-record="r1"><p data-live-field="a">x</p></div>
		<div data-live-record="r2"><p data-live-field="b">y</p></div>`)
	a := findField(doc, "a")
	b := findField(doc, "b")

	c := New(Options{Layout: fixedLayout(Rect{W: 10, H: 10})})
	defer c.Destroy()

	c.PointerMove(1, 1, a)
	c.PointerMove(2, 2, b)
	if c.Hovered() != b {
		t.Error("hover did not switch to b")
	}
	if c.State() != Hovering {
		t.Error("state dropped to idle during switch")
	}
}

func TestPointerOnControlKeepsHover(t *testing.T) {
	doc := parseDoc(t, `<p data-live-record="r1" data-live-field="t">x</p>`)
	node := findField(doc, "t")

	c := New(Options{
		Layout:     fixedLayout(Rect{X: 0, Y: 0, W: 200, H: 100}),
		GraceDelay: 5 * time.Millisecond,
	})
	defer c.Destroy()

	c.PointerMove(10, 10, node)
	ctrl := c.Control()
	// Move onto the control itself; target is no longer the annotated node.
	c.PointerMove(ctrl.X+1, ctrl.Y+1, nil)
	time.Sleep(20 * time.Millisecond)
	if c.State() != Hovering {
		t.Error("hover dropped while pointer was on the control")
	}
}

func TestControlPlacement(t *testing.T) {
	s := Style{}
	s.defaults()

	big := placeControl(Rect{X: 0, Y: 0, W: 400, H: 200}, s)
	if big.X != 400-s.ButtonW-s.Margin || big.Y != s.Margin {
		t.Errorf("big: %+v", big)
	}

	// Small node: clamped to stay inside.
	small := placeControl(Rect{X: 0, Y: 0, W: 20, H: 10}, s)
	if small.X < 0 || small.W > 20 || small.H > 10 {
		t.Errorf("small: %+v", small)
	}
}

func TestActivateEmitsAction(t *testing.T) {
	doc := parseDoc(t, `<div data-live-record="r7"><p data-live-field="title" data-live-locale="en">x</p></div>`)
	node := findField(doc, "title")

	var got *Action
	c := New(Options{
		Layout:   fixedLayout(Rect{W: 10, H: 10}),
		OnAction: func(a Action) { got = &a },
	})
	defer c.Destroy()

	c.Activate() // idle: no-op
	if got != nil {
		t.Fatal("action emitted while idle")
	}

	c.PointerMove(1, 1, node)
	c.Activate()
	if got == nil {
		t.Fatal("no action emitted")
	}
	if got.RecordID != "r7" || got.FieldID != "title" || got.Locale != "en" {
		t.Errorf("action: %+v", got)
	}
}

func TestDestroyIdempotentAndSilencesTimers(t *testing.T) {
	doc := parseDoc(t, `<p data-live-record="r1" data-live-field="t">x</p>`)
	node := findField(doc, "t")

	c := New(Options{Layout: fixedLayout(Rect{W: 10, H: 10}), GraceDelay: 5 * time.Millisecond})
	c.PointerMove(1, 1, node)
	c.PointerMove(99, 99, nil) // starts grace timer
	c.Destroy()
	c.Destroy()

	time.Sleep(20 * time.Millisecond)
	if c.State() != Idle || c.Hovered() != nil {
		t.Error("state survived destroy")
	}
}
