package patch

import (
	"encoding/json"
	"fmt"
	"strconv"
	"strings"
)

// Value is the closed sum of field update payloads. Every variant has a
// dedicated apply routine; adding a field type means adding a variant and
// extending the exhaustive switch in applyToNode.
type Value interface {
	fieldValue()
}

// Text carries text-like content (string, id, enum fields).
type Text struct {
	S string
}

// RichText carries rich-text content in one of three shapes: a multi-format
// bundle (preferred), a legacy pre-rendered string, or a legacy AST. Exactly
// one of the three is populated; the bundle wins whenever present.
type RichText struct {
	Bundle *RichTextBundle
	Legacy string
	AST    *RichTextNode
}

// RichTextBundle carries the same content in several formats at once. The
// node's declared format preference selects which one is rendered.
type RichTextBundle struct {
	HTML     string        `json:"html,omitempty"`
	Markdown string        `json:"markdown,omitempty"`
	Text     string        `json:"plainText,omitempty"`
	AST      *RichTextNode `json:"ast,omitempty"`
}

// RichTextNode is one node of the legacy rich-text AST.
type RichTextNode struct {
	Type     string          `json:"type"`
	Level    int             `json:"level,omitempty"`
	Text     string          `json:"text,omitempty"`
	URL      string          `json:"url,omitempty"`
	Children []*RichTextNode `json:"children,omitempty"`
}

// Number carries numeric content.
type Number struct {
	N float64
}

// Bool carries boolean content.
type Bool struct {
	B bool
}

// Date carries a date or datetime as the wire string (ISO 8601).
type Date struct {
	S string
}

// Asset carries a media reference. Arrays of assets collapse to the first
// element during decoding.
type Asset struct {
	URL    string `json:"url"`
	Alt    string `json:"alt,omitempty"`
	Width  int    `json:"width,omitempty"`
	Height int    `json:"height,omitempty"`
}

// Location carries geographic coordinates.
type Location struct {
	Lat float64 `json:"lat"`
	Lon float64 `json:"lon"`
}

// Color carries a CSS color string.
type Color struct {
	S string
}

// Component carries a structured component: a type name plus its fields.
type Component struct {
	Type   string
	Fields map[string]json.RawMessage
}

// JSONData carries arbitrary JSON rendered as pretty-printed text.
type JSONData struct {
	Raw json.RawMessage
}

// Relation carries referenced entry ids, or an explicit null that clears the
// rendered value.
type Relation struct {
	IDs  []string
	Null bool
}

func (Text) fieldValue()      {}
func (RichText) fieldValue()  {}
func (Number) fieldValue()    {}
func (Bool) fieldValue()      {}
func (Date) fieldValue()      {}
func (Asset) fieldValue()     {}
func (Location) fieldValue()  {}
func (Color) fieldValue()     {}
func (Component) fieldValue() {}
func (JSONData) fieldValue()  {}
func (Relation) fieldValue()  {}

// UnsupportedFieldTypeError reports an unknown field-type tag. It surfaces as
// a failed update result, never as a panic, so one bad field type cannot halt
// an unrelated batch.
type UnsupportedFieldTypeError struct {
	Tag string
}

func (e *UnsupportedFieldTypeError) Error() string {
	return fmt.Sprintf("patch: unsupported field type %q", e.Tag)
}

// Decode turns a wire (fieldType, newValue) pair into a Value variant.
func Decode(fieldType string, raw json.RawMessage) (Value, error) {
	switch strings.ToUpper(strings.TrimSpace(fieldType)) {
	case "STRING", "TEXT", "SYMBOL", "ID", "ENUM":
		return Text{S: decodeString(raw)}, nil

	case "RICH_TEXT", "RICHTEXT":
		return decodeRichText(raw)

	case "NUMBER", "INTEGER", "FLOAT", "DECIMAL":
		return decodeNumber(raw)

	case "BOOLEAN", "BOOL":
		return decodeBool(raw)

	case "DATE", "DATETIME", "DATE_TIME":
		return Date{S: decodeString(raw)}, nil

	case "ASSET", "MEDIA", "FILE":
		return decodeAsset(raw)

	case "LOCATION":
		return decodeLocation(raw)

	case "COLOR":
		return Color{S: decodeString(raw)}, nil

	case "COMPONENT", "STRUCTURED_COMPONENT":
		return decodeComponent(raw)

	case "JSON":
		return JSONData{Raw: append(json.RawMessage(nil), raw...)}, nil

	case "RELATION", "REFERENCE":
		return decodeRelation(raw)

	default:
		return nil, &UnsupportedFieldTypeError{Tag: fieldType}
	}
}

// decodeString accepts a JSON string, or falls back to the raw token text
// for non-string scalars.
func decodeString(raw json.RawMessage) string {
	var s string
	if err := json.Unmarshal(raw, &s); err == nil {
		return s
	}
	return strings.TrimSpace(string(raw))
}

func decodeNumber(raw json.RawMessage) (Value, error) {
	var n float64
	if err := json.Unmarshal(raw, &n); err == nil {
		return Number{N: n}, nil
	}
	// Tolerate a quoted number.
	var s string
	if err := json.Unmarshal(raw, &s); err == nil {
		if n, err := strconv.ParseFloat(s, 64); err == nil {
			return Number{N: n}, nil
		}
	}
	return nil, fmt.Errorf("patch: decode number: %s", raw)
}

func decodeBool(raw json.RawMessage) (Value, error) {
	var b bool
	if err := json.Unmarshal(raw, &b); err == nil {
		return Bool{B: b}, nil
	}
	var s string
	if err := json.Unmarshal(raw, &s); err == nil {
		if b, err := strconv.ParseBool(s); err == nil {
			return Bool{B: b}, nil
		}
	}
	return nil, fmt.Errorf("patch: decode boolean: %s", raw)
}

func decodeRichText(raw json.RawMessage) (Value, error) {
	// Legacy bare pre-rendered string.
	var s string
	if err := json.Unmarshal(raw, &s); err == nil {
		return RichText{Legacy: s}, nil
	}

	var probe map[string]json.RawMessage
	if err := json.Unmarshal(raw, &probe); err != nil {
		return nil, fmt.Errorf("patch: decode rich text: %w", err)
	}

	_, hasHTML := probe["html"]
	_, hasMD := probe["markdown"]
	_, hasText := probe["plainText"]
	_, hasAST := probe["ast"]
	if hasHTML || hasMD || hasText || hasAST {
		var b RichTextBundle
		if err := json.Unmarshal(raw, &b); err != nil {
			return nil, fmt.Errorf("patch: decode rich text bundle: %w", err)
		}
		return RichText{Bundle: &b}, nil
	}

	// Legacy AST document.
	if _, hasType := probe["type"]; hasType {
		var node RichTextNode
		if err := json.Unmarshal(raw, &node); err != nil {
			return nil, fmt.Errorf("patch: decode rich text ast: %w", err)
		}
		return RichText{AST: &node}, nil
	}

	return nil, fmt.Errorf("patch: unrecognized rich text shape")
}

func decodeAsset(raw json.RawMessage) (Value, error) {
	// Arrays of assets use the first element.
	var list []json.RawMessage
	if err := json.Unmarshal(raw, &list); err == nil {
		if len(list) == 0 {
			return Asset{}, nil
		}
		raw = list[0]
	}

	var a Asset
	if err := json.Unmarshal(raw, &a); err == nil && a.URL != "" {
		return a, nil
	}

	// Bare URL string.
	var s string
	if err := json.Unmarshal(raw, &s); err == nil {
		return Asset{URL: s}, nil
	}
	return nil, fmt.Errorf("patch: decode asset: %s", raw)
}

func decodeLocation(raw json.RawMessage) (Value, error) {
	var loc struct {
		Lat float64  `json:"lat"`
		Lon *float64 `json:"lon"`
		Lng *float64 `json:"lng"`
	}
	if err := json.Unmarshal(raw, &loc); err != nil {
		return nil, fmt.Errorf("patch: decode location: %w", err)
	}
	l := Location{Lat: loc.Lat}
	switch {
	case loc.Lon != nil:
		l.Lon = *loc.Lon
	case loc.Lng != nil:
		l.Lon = *loc.Lng
	}
	return l, nil
}

func decodeComponent(raw json.RawMessage) (Value, error) {
	var c struct {
		ComponentType string                     `json:"componentType"`
		Type          string                     `json:"type"`
		Fields        map[string]json.RawMessage `json:"fields"`
	}
	if err := json.Unmarshal(raw, &c); err != nil {
		return nil, fmt.Errorf("patch: decode component: %w", err)
	}
	typ := c.ComponentType
	if typ == "" {
		typ = c.Type
	}
	if typ == "" {
		return nil, fmt.Errorf("patch: component without type name")
	}
	return Component{Type: typ, Fields: c.Fields}, nil
}

func decodeRelation(raw json.RawMessage) (Value, error) {
	trimmed := strings.TrimSpace(string(raw))
	if trimmed == "null" || trimmed == "" {
		return Relation{Null: true}, nil
	}

	var one string
	if err := json.Unmarshal(raw, &one); err == nil {
		return Relation{IDs: []string{one}}, nil
	}

	var ids []string
	if err := json.Unmarshal(raw, &ids); err == nil {
		return Relation{IDs: ids}, nil
	}

	var objs []struct {
		ID string `json:"id"`
	}
	if err := json.Unmarshal(raw, &objs); err == nil {
		out := make([]string, 0, len(objs))
		for _, o := range objs {
			if o.ID != "" {
				out = append(out, o.ID)
			}
		}
		return Relation{IDs: out}, nil
	}
	return nil, fmt.Errorf("patch: decode relation: %s", raw)
}
