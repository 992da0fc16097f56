package registry

import (
	"strings"
	"testing"

	"golang.org/x/net/html"

	"github.com/hazyhaar/liveedit/attr"
	"github.com/hazyhaar/liveedit/treewatch"
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

func body(doc *html.Node) *html.Node {
	return doc.FirstChild.LastChild // html > body
}

func TestInheritance(t *testing.T) {
	doc := parseDoc(t, `
		<article data-live-record="r2">
			<h1 data-live-field="title">Hello</h1>
			<p data-live-field="body">World</p>
		</article>`)
	r := New(doc, Options{})

	entries := r.ByRecordField("r2", "body")
	if len(entries) != 1 {
		t.Fatalf("got %d entries, want 1", len(entries))
	}
	if entries[0].RecordID != "r2" || entries[0].FieldID != "body" {
		t.Errorf("entry: %+v", entries[0])
	}
	if got := findField(doc, "body"); entries[0].Node != got {
		t.Error("entry node is not the child paragraph")
	}
}

func TestExplicitPrecedence(t *testing.T) {
	doc := parseDoc(t, `
		<div data-live-record="outer">
			<span data-live-record="inner" data-live-field="name">x</span>
		</div>`)
	r := New(doc, Options{})

	if got := r.ByRecordField("inner", "name"); len(got) != 1 {
		t.Fatalf("inner: got %d entries, want 1", len(got))
	}
	if got := r.ByRecordField("outer", "name"); len(got) != 0 {
		t.Errorf("outer: got %d entries, want 0", len(got))
	}
}

func TestUnresolvableNodeSkipped(t *testing.T) {
	doc := parseDoc(t, `<p data-live-field="orphan">x</p>`)
	r := New(doc, Options{Debug: true})

	if r.Len() != 0 {
		t.Errorf("len: got %d, want 0", r.Len())
	}
	if got := r.ByField("orphan"); len(got) != 0 {
		t.Errorf("orphan registered: %v", got)
	}
}

func TestRepeatedFieldsKeepList(t *testing.T) {
	doc := parseDoc(t, `
		<ul data-live-record="r1">
			<li data-live-field="tag">a</li>
			<li data-live-field="tag">b</li>
			<li data-live-field="tag">c</li>
		</ul>`)
	r := New(doc, Options{})

	if got := r.ByRecordField("r1", "tag"); len(got) != 3 {
		t.Errorf("got %d entries, want 3", len(got))
	}
	best := r.Best("r1", "tag")
	if best == nil {
		t.Fatal("best: nil")
	}
}

func TestQueries(t *testing.T) {
	doc := parseDoc(t, `
		<div data-live-record="a"><p data-live-field="t">1</p></div>
		<div data-live-record="b"><p data-live-field="t">2</p></div>`)
	r := New(doc, Options{})

	if got := r.ByField("t"); len(got) != 2 {
		t.Errorf("ByField: got %d, want 2", len(got))
	}
	// Each record contributes the container node plus the field node.
	if got := r.ByRecord("a"); len(got) != 2 {
		t.Errorf("ByRecord: got %d, want 2", len(got))
	}
	if r.Best("a", "missing") != nil {
		t.Error("Best for missing field should be nil")
	}
}

func TestChangeTracking_AddedSubtree(t *testing.T) {
	doc := parseDoc(t, `<div id="host"></div>`)
	hub := treewatch.NewHub()
	r := New(doc, Options{Hub: hub})

	host := body(doc).FirstChild
	section := &html.Node{Type: html.ElementNode, Data: "section"}
	attr.SetAttr(section, attr.Record, "r9")
	child := &html.Node{Type: html.ElementNode, Data: "p"}
	attr.SetAttr(child, attr.Field, "caption")
	section.AppendChild(child)
	host.AppendChild(section)

	hub.Notify(treewatch.Record{Op: treewatch.OpAdd, Node: section})

	if got := r.ByRecordField("r9", "caption"); len(got) != 1 {
		t.Fatalf("inherited child in added subtree: got %d, want 1", len(got))
	}
}

func TestChangeTracking_AttrChangeReregisters(t *testing.T) {
	doc := parseDoc(t, `<p data-live-record="r1" data-live-field="t">x</p>`)
	hub := treewatch.NewHub()
	r := New(doc, Options{Hub: hub})
	node := findField(doc, "t")

	attr.SetAttr(node, attr.Record, "r2")
	hub.Notify(treewatch.Record{Op: treewatch.OpAttr, Node: node, Name: attr.Record})

	if got := r.ByRecordField("r1", "t"); len(got) != 0 {
		t.Errorf("stale key still indexed: %v", got)
	}
	if got := r.ByRecordField("r2", "t"); len(got) != 1 {
		t.Errorf("new key: got %d, want 1", len(got))
	}
}

func TestChangeTracking_ChainChangeReregisters(t *testing.T) {
	doc := parseDoc(t, `<p data-live-record="r1" data-live-field="t" data-live-chain='[{"fieldId":"hero","instanceId":"0"}]'>x</p>`)
	hub := treewatch.NewHub()
	r := New(doc, Options{Hub: hub})
	node := findField(doc, "t")

	next := `[{"fieldId":"hero","instanceId":"1"}]`
	attr.SetAttr(node, attr.Chain, next)
	hub.Notify(treewatch.Record{Op: treewatch.OpAttr, Node: node, Name: attr.Chain})

	got := r.Best("r1", "t")
	if got == nil {
		t.Fatal("entry lost after chain change")
	}
	if got.ChainRaw != next {
		t.Errorf("ChainRaw: got %q, want %q", got.ChainRaw, next)
	}
}

func TestChangeTracking_RemovedSubtree(t *testing.T) {
	doc := parseDoc(t, `<div data-live-record="r1"><p data-live-field="t">x</p></div>`)
	hub := treewatch.NewHub()
	r := New(doc, Options{Hub: hub})
	container := body(doc).FirstChild

	body(doc).RemoveChild(container)
	hub.Notify(treewatch.Record{Op: treewatch.OpRemove, Node: container})

	if r.Len() != 0 {
		t.Errorf("len after removal: got %d, want 0", r.Len())
	}
}

func TestRefresh(t *testing.T) {
	doc := parseDoc(t, `<div id="host"></div>`)
	r := New(doc, Options{})

	host := body(doc).FirstChild
	p := &html.Node{Type: html.ElementNode, Data: "p"}
	attr.SetAttr(p, attr.Record, "r1")
	host.AppendChild(p)

	if r.Len() != 0 {
		t.Fatal("node visible before refresh")
	}
	r.Refresh()
	if r.Len() != 1 {
		t.Errorf("len after refresh: got %d, want 1", r.Len())
	}
}

func TestDestroyIdempotent(t *testing.T) {
	doc := parseDoc(t, `<p data-live-record="r1">x</p>`)
	hub := treewatch.NewHub()
	r := New(doc, Options{Hub: hub})

	r.Destroy()
	r.Destroy()

	if r.Len() != 0 {
		t.Error("index not cleared")
	}
	// Notifications after destroy must not re-register anything.
	hub.Notify(treewatch.Record{Op: treewatch.OpAdd, Node: doc})
	if r.Len() != 0 {
		t.Error("destroyed registry processed a batch")
	}
}
