// Package attr encodes and decodes the metadata attributes that tie rendered
// nodes back to the backend record and field that produced them.
//
// The attributes are plain HTML data attributes, so templates can stamp them
// during rendering and the rest of liveedit (registry, patcher, overlay) can
// discover them on the live tree:
//
//	attrs, err := attr.Encode("entry-42", attr.EncodeOptions{FieldID: "title"})
//	attr.Apply(node, attrs)
package attr

import (
	"encoding/json"
	"fmt"
	"strings"

	"golang.org/x/net/html"
)

// Attribute names consumed from / produced for the host tree.
const (
	Record = "data-live-record" // backend entry id, inheritable from ancestors
	Field  = "data-live-field"  // field id within the entry
	Locale = "data-live-locale" // field locale
	Chain  = "data-live-chain"  // JSON array of {fieldId, instanceId}, outermost hop first
	Format = "data-live-format" // preferred rich-text format: html | markdown | text

	// FieldPath is a debug-only annotation carrying the template path that
	// rendered the node. It has no runtime meaning.
	FieldPath = "data-live-path"
)

// ValidationError reports malformed metadata input. It is returned to the
// caller constructing attributes, never swallowed.
type ValidationError struct {
	Field  string
	Reason string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("attr: invalid %s: %s", e.Field, e.Reason)
}

// ChainLink is one hop of a component chain: this field, this repeated or
// union instance.
type ChainLink struct {
	FieldID    string `json:"fieldId"`
	InstanceID string `json:"instanceId"`
}

// NewChainLink builds a validated chain link.
func NewChainLink(fieldID, instanceID string) (ChainLink, error) {
	if fieldID == "" {
		return ChainLink{}, &ValidationError{Field: "fieldId", Reason: "empty"}
	}
	if instanceID == "" {
		return ChainLink{}, &ValidationError{Field: "instanceId", Reason: "empty"}
	}
	return ChainLink{FieldID: fieldID, InstanceID: instanceID}, nil
}

// Set is a bag of attribute name → value pairs ready to stamp on a node.
type Set map[string]string

// EncodeOptions carries the optional parts of a node annotation.
type EncodeOptions struct {
	FieldID string
	Locale  string
	Chain   []ChainLink
}

// Encode builds the attribute set for one annotated node. The record id is
// mandatory; everything else is optional. Malformed chain links are filtered
// out, and the chain attribute is omitted entirely when nothing survives.
func Encode(recordID string, opts EncodeOptions) (Set, error) {
	if recordID == "" {
		return nil, &ValidationError{Field: "recordId", Reason: "empty"}
	}

	s := Set{Record: recordID}
	if opts.FieldID != "" {
		s[Field] = opts.FieldID
	}
	if opts.Locale != "" {
		s[Locale] = opts.Locale
	}
	if raw := EncodeChain(opts.Chain); raw != "" {
		s[Chain] = raw
	}
	return s, nil
}

// EncodeChain serializes a component chain, dropping malformed links.
// Returns "" when no valid link remains.
func EncodeChain(links []ChainLink) string {
	valid := make([]ChainLink, 0, len(links))
	for _, l := range links {
		if l.FieldID == "" || l.InstanceID == "" {
			continue
		}
		valid = append(valid, l)
	}
	if len(valid) == 0 {
		return ""
	}
	raw, err := json.Marshal(valid)
	if err != nil {
		return ""
	}
	return string(raw)
}

// ParseChain decodes a serialized component chain. It is tolerant: malformed
// JSON yields nil, and hops missing either id are dropped.
func ParseChain(raw string) []ChainLink {
	if raw == "" {
		return nil
	}
	var links []ChainLink
	if err := json.Unmarshal([]byte(raw), &links); err != nil {
		return nil
	}
	valid := links[:0]
	for _, l := range links {
		if l.FieldID == "" || l.InstanceID == "" {
			continue
		}
		valid = append(valid, l)
	}
	if len(valid) == 0 {
		return nil
	}
	return valid
}

// WithFieldPath returns a copy of s carrying the debug path annotation.
func WithFieldPath(s Set, path string) Set {
	out := make(Set, len(s)+1)
	for k, v := range s {
		out[k] = v
	}
	if path != "" {
		out[FieldPath] = path
	}
	return out
}

// Apply stamps the attribute set onto a node, replacing existing values.
func Apply(n *html.Node, s Set) {
	for k, v := range s {
		SetAttr(n, k, v)
	}
}

// Get returns the value of an attribute on a node.
func Get(n *html.Node, key string) (string, bool) {
	if n == nil || n.Type != html.ElementNode {
		return "", false
	}
	for _, a := range n.Attr {
		if a.Key == key {
			return a.Val, true
		}
	}
	return "", false
}

// SetAttr sets an attribute on a node, replacing an existing one.
func SetAttr(n *html.Node, key, val string) {
	for i, a := range n.Attr {
		if a.Key == key {
			n.Attr[i].Val = val
			return
		}
	}
	n.Attr = append(n.Attr, html.Attribute{Key: key, Val: val})
}

// RemoveAttr removes an attribute from a node if present.
func RemoveAttr(n *html.Node, key string) {
	for i, a := range n.Attr {
		if a.Key == key {
			n.Attr = append(n.Attr[:i], n.Attr[i+1:]...)
			return
		}
	}
}

// RecordID returns the node's own record id, if any.
func RecordID(n *html.Node) string {
	v, _ := Get(n, Record)
	return v
}

// FieldID returns the node's field id, if any.
func FieldID(n *html.Node) string {
	v, _ := Get(n, Field)
	return v
}

// LocaleOf returns the node's locale annotation, if any.
func LocaleOf(n *html.Node) string {
	v, _ := Get(n, Locale)
	return v
}

// FormatOf returns the node's declared rich-text format preference,
// normalized to lower case.
func FormatOf(n *html.Node) string {
	v, _ := Get(n, Format)
	return strings.ToLower(strings.TrimSpace(v))
}

// ChainOf returns the node's raw component chain annotation, if any.
func ChainOf(n *html.Node) string {
	v, _ := Get(n, Chain)
	return v
}

// Annotated reports whether the node carries a record id or a field id.
func Annotated(n *html.Node) bool {
	if _, ok := Get(n, Record); ok {
		return true
	}
	_, ok := Get(n, Field)
	return ok
}

// ResolveRecord resolves the record id governing a node: the node's own
// record id when present, otherwise the record id of the nearest ancestor
// that declares one. The same rule is used by the registry and the overlay
// hit-tester so both agree on ownership.
func ResolveRecord(n *html.Node) (string, bool) {
	for cur := n; cur != nil; cur = cur.Parent {
		if cur.Type != html.ElementNode {
			continue
		}
		if v, ok := Get(cur, Record); ok && v != "" {
			return v, true
		}
	}
	return "", false
}
