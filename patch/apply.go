package patch

import (
	"encoding/json"
	"fmt"
	"sort"
	"strconv"
	"strings"

	"golang.org/x/net/html"
	"golang.org/x/net/html/atom"

	"github.com/hazyhaar/liveedit/attr"
	"github.com/hazyhaar/liveedit/registry"
)

// applyToNode renders one value into one node. The switch is exhaustive over
// the Value sum; Decode guarantees no other variant reaches here.
func (p *Patcher) applyToNode(e *registry.Entry, v Value) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("patch: apply panicked: %v", r)
		}
	}()

	n := e.Node
	switch val := v.(type) {
	case Text:
		applyText(n, val.S)
	case Number:
		applyText(n, formatNumber(val.N))
	case Bool:
		applyBool(n, val.B)
	case Date:
		applyDate(n, val.S)
	case RichText:
		return p.applyRichText(n, val)
	case Asset:
		return p.applyAsset(n, val)
	case Location:
		applyLocation(n, val)
	case Color:
		applyColor(n, val.S)
	case Component:
		return p.applyComponent(n, val)
	case JSONData:
		return applyJSON(n, val)
	case Relation:
		applyRelation(n, val)
	default:
		return fmt.Errorf("patch: no apply routine for %T", v)
	}
	return nil
}

// --- text-like ---

func applyText(n *html.Node, s string) {
	if isInputLike(n) {
		attr.SetAttr(n, "value", s)
		return
	}
	setTextContent(n, s)
}

func formatNumber(f float64) string {
	return strconv.FormatFloat(f, 'f', -1, 64)
}

func applyBool(n *html.Node, b bool) {
	if isCheckbox(n) {
		if b {
			attr.SetAttr(n, "checked", "")
		} else {
			attr.RemoveAttr(n, "checked")
		}
		return
	}
	applyText(n, strconv.FormatBool(b))
}

func applyDate(n *html.Node, s string) {
	if isDateInput(n) {
		// Date inputs take the date part only.
		if i := strings.IndexByte(s, 'T'); i > 0 {
			s = s[:i]
		}
		attr.SetAttr(n, "value", s)
		return
	}
	applyText(n, s)
}

// --- asset ---

func (p *Patcher) applyAsset(n *html.Node, a Asset) error {
	if a.URL == "" {
		return fmt.Errorf("patch: asset without url")
	}
	switch n.DataAtom {
	case atom.Img:
		attr.SetAttr(n, "src", a.URL)
		if a.Alt != "" {
			attr.SetAttr(n, "alt", a.Alt)
		}
		if a.Width > 0 {
			attr.SetAttr(n, "width", strconv.Itoa(a.Width))
		}
		if a.Height > 0 {
			attr.SetAttr(n, "height", strconv.Itoa(a.Height))
		}
	case atom.Video, atom.Audio, atom.Source:
		attr.SetAttr(n, "src", a.URL)
	case atom.A:
		attr.SetAttr(n, "href", a.URL)
	default:
		// Generic nodes get an embedded image child.
		img := &html.Node{Type: html.ElementNode, DataAtom: atom.Img, Data: "img"}
		attr.SetAttr(img, "src", a.URL)
		if a.Alt != "" {
			attr.SetAttr(img, "alt", a.Alt)
		}
		removeChildren(n)
		n.AppendChild(img)
	}
	return nil
}

// --- location ---

func applyLocation(n *html.Node, l Location) {
	lat := strconv.FormatFloat(l.Lat, 'f', -1, 64)
	lon := strconv.FormatFloat(l.Lon, 'f', -1, 64)
	setTextContent(n, lat+", "+lon)
	// Raw coordinates for downstream map integrations.
	attr.SetAttr(n, "data-lat", lat)
	attr.SetAttr(n, "data-lng", lon)
}

// --- color ---

func applyColor(n *html.Node, c string) {
	setTextContent(n, c)
	if n.Type == html.ElementNode {
		attr.SetAttr(n, "style", "background-color: "+c)
	}
}

// --- structured component ---

// applyComponent renders a minimal generic representation: a wrapper carrying
// the component's type name with one child per non-identity field. The
// replacement is a full graft; no host diffing utility exists in-process.
func (p *Patcher) applyComponent(n *html.Node, c Component) error {
	wrapper := &html.Node{Type: html.ElementNode, DataAtom: atom.Div, Data: "div"}
	attr.SetAttr(wrapper, "data-live-component", c.Type)

	names := make([]string, 0, len(c.Fields))
	for name := range c.Fields {
		if isIdentityField(name) {
			continue
		}
		names = append(names, name)
	}
	sort.Strings(names)

	for _, name := range names {
		child := &html.Node{Type: html.ElementNode, DataAtom: atom.Div, Data: "div"}
		attr.SetAttr(child, "data-live-component-field", name)
		setTextContent(child, rawAsText(c.Fields[name]))
		wrapper.AppendChild(child)
	}

	removeChildren(n)
	n.AppendChild(wrapper)
	return nil
}

func isIdentityField(name string) bool {
	switch strings.ToLower(name) {
	case "id", "_id", "uid":
		return true
	}
	return false
}

// rawAsText renders a JSON field value as display text: strings unquoted,
// everything else as compact JSON.
func rawAsText(raw json.RawMessage) string {
	var s string
	if err := json.Unmarshal(raw, &s); err == nil {
		return s
	}
	return strings.TrimSpace(string(raw))
}

// --- json ---

func applyJSON(n *html.Node, j JSONData) error {
	var buf strings.Builder
	var any interface{}
	if err := json.Unmarshal(j.Raw, &any); err != nil {
		return fmt.Errorf("patch: invalid json value: %w", err)
	}
	enc := json.NewEncoder(&buf)
	enc.SetIndent("", "  ")
	if err := enc.Encode(any); err != nil {
		return fmt.Errorf("patch: render json: %w", err)
	}
	setTextContent(n, strings.TrimRight(buf.String(), "\n"))
	return nil
}

// --- relation ---

func applyRelation(n *html.Node, r Relation) {
	if r.Null {
		setTextContent(n, "")
		return
	}
	setTextContent(n, strings.Join(r.IDs, ", "))
}

// --- node helpers ---

func isInputLike(n *html.Node) bool {
	switch n.DataAtom {
	case atom.Input, atom.Textarea, atom.Select:
		return true
	}
	return false
}

func inputType(n *html.Node) string {
	v, _ := attr.Get(n, "type")
	return strings.ToLower(v)
}

func isCheckbox(n *html.Node) bool {
	return n.DataAtom == atom.Input && inputType(n) == "checkbox"
}

func isDateInput(n *html.Node) bool {
	if n.DataAtom != atom.Input {
		return false
	}
	switch inputType(n) {
	case "date", "datetime-local":
		return true
	}
	return false
}

func removeChildren(n *html.Node) {
	for c := n.FirstChild; c != nil; {
		next := c.NextSibling
		n.RemoveChild(c)
		c = next
	}
}

func setTextContent(n *html.Node, s string) {
	removeChildren(n)
	n.AppendChild(&html.Node{Type: html.TextNode, Data: s})
}

// setHTML sanitizes markup and grafts it as the node's new children.
func (p *Patcher) setHTML(n *html.Node, markup string) error {
	clean := p.sanitizer.Sanitize(markup)

	ctx := &html.Node{Type: html.ElementNode, DataAtom: atom.Div, Data: "div"}
	nodes, err := html.ParseFragment(strings.NewReader(clean), ctx)
	if err != nil {
		return fmt.Errorf("patch: parse markup: %w", err)
	}

	removeChildren(n)
	for _, child := range nodes {
		n.AppendChild(child)
	}
	return nil
}

// collectText extracts the concatenated text content of a subtree.
func collectText(n *html.Node) string {
	var buf strings.Builder
	var walk func(*html.Node)
	walk = func(cur *html.Node) {
		if cur.Type == html.TextNode {
			buf.WriteString(cur.Data)
		}
		for c := cur.FirstChild; c != nil; c = c.NextSibling {
			walk(c)
		}
	}
	walk(n)
	return buf.String()
}

// TextContent returns the rendered text of a node. Exposed for hosts and
// tests inspecting patch results.
func TextContent(n *html.Node) string {
	return collectText(n)
}
