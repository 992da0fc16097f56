package channel

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/hazyhaar/liveedit/attr"
)

// Type discriminates wire messages.
type Type string

// Inbound (editor → page).
const (
	TypeInit         Type = "init"
	TypeFieldUpdate  Type = "field-update"
	TypeFieldFocus   Type = "field-focus"
	TypeContentSaved Type = "content-saved"
	TypeDisconnect   Type = "disconnect"
)

// Outbound (page → editor).
const (
	TypeReady      Type = "ready"
	TypeFieldClick Type = "field-click"
)

// Capabilities is the handshake payload: which sync features this page
// supports and the rich-text format each annotated field prefers.
type Capabilities struct {
	FieldFocusSync  bool              `json:"fieldFocusSync"`
	FieldUpdateSync bool              `json:"fieldUpdateSync"`
	RichTextFormats map[string]string `json:"richTextFormatPreferences,omitempty"`
}

// Message is the wire envelope. Every message carries a type discriminant
// and an epoch-milliseconds timestamp; the remaining fields are populated
// per type and validated by Validate.
type Message struct {
	Type      Type  `json:"type"`
	Timestamp int64 `json:"timestamp"`

	StudioOrigin string `json:"studioOrigin,omitempty"` // init

	EntryID        string           `json:"entryId,omitempty"`
	FieldAPIID     string           `json:"fieldApiId,omitempty"`
	FieldType      string           `json:"fieldType,omitempty"` // field-update
	NewValue       json.RawMessage  `json:"newValue,omitempty"`  // field-update
	Locale         string           `json:"locale,omitempty"`
	UpdateID       string           `json:"updateId,omitempty"`       // field-update
	ComponentChain []attr.ChainLink `json:"componentChain,omitempty"` // field-focus, field-click

	SDKVersion   string        `json:"sdkVersion,omitempty"`   // ready
	Capabilities *Capabilities `json:"capabilities,omitempty"` // ready
}

// Stamp fills the timestamp if unset.
func (m *Message) Stamp() {
	if m.Timestamp == 0 {
		m.Timestamp = time.Now().UnixMilli()
	}
}

// Validate checks the type-specific required fields. Messages failing
// validation are dropped at the security boundary, never dispatched.
func (m *Message) Validate() error {
	if m.Timestamp <= 0 {
		return fmt.Errorf("channel: message without timestamp")
	}
	switch m.Type {
	case TypeInit:
		if m.StudioOrigin == "" {
			return fmt.Errorf("channel: init without studioOrigin")
		}
	case TypeFieldUpdate:
		if m.EntryID == "" || m.FieldAPIID == "" {
			return fmt.Errorf("channel: field-update without entry/field id")
		}
		if m.FieldType == "" {
			return fmt.Errorf("channel: field-update without fieldType")
		}
		if len(m.NewValue) == 0 {
			return fmt.Errorf("channel: field-update without newValue")
		}
	case TypeFieldFocus:
		if m.EntryID == "" {
			return fmt.Errorf("channel: field-focus without entryId")
		}
	case TypeContentSaved:
		if m.EntryID == "" {
			return fmt.Errorf("channel: content-saved without entryId")
		}
	case TypeDisconnect, TypeReady:
		// No extra required fields.
	case TypeFieldClick:
		if m.EntryID == "" {
			return fmt.Errorf("channel: field-click without entryId")
		}
	default:
		return fmt.Errorf("channel: unknown message type %q", m.Type)
	}
	return nil
}
