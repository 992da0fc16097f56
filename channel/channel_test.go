package channel

import (
	"encoding/json"
	"testing"
	"time"
)

func TestOriginList_Allows(t *testing.T) {
	tests := []struct {
		pattern string
		origin  string
		want    bool
	}{
		{"https://studio.example.com", "https://studio.example.com", true},
		{"https://studio.example.com", "https://evil.example.com", false},
		{"https://*.example.com", "https://editor.example.com", true},
		{"https://*.example.com", "https://deep.editor.example.com", true},
		{"https://*.example.com", "https://example.org", false},
		{"https://*.example.com", "https://example.com", false}, // wildcard needs a subdomain
		{"https://*.example.com", "https://evil.com/.example.com", false},
		{"*", "https://anything.at.all", true},
	}
	for _, tt := range tests {
		got := OriginList{tt.pattern}.Allows(tt.origin)
		if got != tt.want {
			t.Errorf("Allows(%q, %q): got %v, want %v", tt.pattern, tt.origin, got, tt.want)
		}
	}
	if (OriginList{"https://a.com"}).Allows("") {
		t.Error("empty origin allowed")
	}
}

func TestOriginList_Concrete(t *testing.T) {
	l := OriginList{"https://a.com", "https://*.b.com", "https://c.com"}
	got := l.Concrete()
	if len(got) != 2 || got[0] != "https://a.com" || got[1] != "https://c.com" {
		t.Errorf("got %v", got)
	}
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name    string
		msg     Message
		wantErr bool
	}{
		{"init ok", Message{Type: TypeInit, Timestamp: 1, StudioOrigin: "https://s.com"}, false},
		{"init missing origin", Message{Type: TypeInit, Timestamp: 1}, true},
		{"no timestamp", Message{Type: TypeInit, StudioOrigin: "x"}, true},
		{"update ok", Message{Type: TypeFieldUpdate, Timestamp: 1, EntryID: "e", FieldAPIID: "f", FieldType: "STRING", NewValue: json.RawMessage(`"x"`)}, false},
		{"update missing value", Message{Type: TypeFieldUpdate, Timestamp: 1, EntryID: "e", FieldAPIID: "f", FieldType: "STRING"}, true},
		{"focus ok", Message{Type: TypeFieldFocus, Timestamp: 1, EntryID: "e"}, false},
		{"saved missing entry", Message{Type: TypeContentSaved, Timestamp: 1}, true},
		{"disconnect ok", Message{Type: TypeDisconnect, Timestamp: 1}, false},
		{"unknown type", Message{Type: "mystery", Timestamp: 1}, true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := tt.msg.Validate()
			if (err != nil) != tt.wantErr {
				t.Errorf("err = %v, wantErr = %v", err, tt.wantErr)
			}
		})
	}
}

const (
	pageOrigin   = "https://site.example.com"
	studioOrigin = "https://studio.example.com"
)

// editorEnd simulates the editor side of a pipe: captures what the page
// posts and lets tests inject inbound messages.
type editorEnd struct {
	pipe     *Pipe
	received []Message
}

func newPair(t *testing.T, onMsg func(Message), debug bool) (*Channel, *editorEnd) {
	t.Helper()
	pagePipe, studioPipe := NewPipe(pageOrigin, studioOrigin)
	ed := &editorEnd{pipe: studioPipe}
	studioPipe.SetReceiver(func(origin string, data []byte) {
		var m Message
		if err := json.Unmarshal(data, &m); err != nil {
			t.Fatalf("editor side unmarshal: %v", err)
		}
		ed.received = append(ed.received, m)
	})

	c := New(Config{
		Transport:      pagePipe,
		AllowedOrigins: OriginList{studioOrigin, "https://*.trusted.com"},
		OnMessage:      onMsg,
		Debug:          debug,
	})
	t.Cleanup(c.Destroy)
	return c, ed
}

func (ed *editorEnd) send(t *testing.T, m Message) {
	t.Helper()
	m.Stamp()
	data, err := json.Marshal(m)
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}
	if err := ed.pipe.Post(pageOrigin, data); err != nil {
		t.Fatalf("post: %v", err)
	}
}

func TestQueueFlushesInOrderAfterInit(t *testing.T) {
	c, ed := newPair(t, nil, false)

	if err := c.Send(Message{Type: TypeFieldClick, EntryID: "first"}); err != nil {
		t.Fatalf("send: %v", err)
	}
	if err := c.Send(Message{Type: TypeFieldClick, EntryID: "second"}); err != nil {
		t.Fatalf("send: %v", err)
	}
	if len(ed.received) != 0 {
		t.Fatal("messages leaked before handshake")
	}

	ed.send(t, Message{Type: TypeInit, StudioOrigin: studioOrigin})

	if !c.Connected() || c.PeerOrigin() != studioOrigin {
		t.Fatalf("peer not established: %q", c.PeerOrigin())
	}
	if len(ed.received) != 2 {
		t.Fatalf("flushed %d messages, want 2", len(ed.received))
	}
	if ed.received[0].EntryID != "first" || ed.received[1].EntryID != "second" {
		t.Errorf("flush order: %s, %s", ed.received[0].EntryID, ed.received[1].EntryID)
	}
}

func TestDisallowedOriginNeverDispatches(t *testing.T) {
	var got []Message
	c, _ := newPair(t, func(m Message) { got = append(got, m) }, true)

	data, _ := json.Marshal(Message{Type: TypeInit, Timestamp: 1, StudioOrigin: "https://evil.example.org"})
	c.receive("https://evil.example.org", data)

	if len(got) != 0 {
		t.Error("message from disallowed origin dispatched")
	}
	if c.Connected() {
		t.Error("disallowed origin changed connection state")
	}
}

func TestInvalidShapeDropped(t *testing.T) {
	var got []Message
	c, _ := newPair(t, func(m Message) { got = append(got, m) }, true)

	c.receive(studioOrigin, []byte(`{not json`))
	c.receive(studioOrigin, []byte(`{"type":"field-update","timestamp":1}`)) // missing required fields

	if len(got) != 0 {
		t.Errorf("invalid messages dispatched: %v", got)
	}
}

func TestSendNowBeforeConnect(t *testing.T) {
	c, _ := newPair(t, nil, false)
	err := c.SendNow(Message{Type: TypeFieldClick, EntryID: "e"})
	if err != ErrNotConnected {
		t.Errorf("got %v, want ErrNotConnected", err)
	}
}

func TestSendReadyBroadcastsToConcreteOrigins(t *testing.T) {
	c, ed := newPair(t, nil, false)

	// The allow-list holds studioOrigin plus a wildcard; only the concrete
	// origin is postable, and the pipe only delivers matches for its peer.
	if err := c.SendReady(Message{SDKVersion: "1.0.0"}); err != nil {
		t.Fatalf("send ready: %v", err)
	}
	if len(ed.received) != 1 || ed.received[0].Type != TypeReady {
		t.Fatalf("editor received %v", ed.received)
	}
	if ed.received[0].Timestamp == 0 {
		t.Error("ready message not stamped")
	}
}

func TestSecondInitDoesNotStealPeer(t *testing.T) {
	c, ed := newPair(t, nil, false)
	ed.send(t, Message{Type: TypeInit, StudioOrigin: studioOrigin})

	data, _ := json.Marshal(Message{Type: TypeInit, Timestamp: 1, StudioOrigin: "https://sub.trusted.com"})
	c.receive("https://sub.trusted.com", data)

	if c.PeerOrigin() != studioOrigin {
		t.Errorf("peer stolen: %q", c.PeerOrigin())
	}
}

func TestDestroyIdempotent(t *testing.T) {
	var got []Message
	c, ed := newPair(t, func(m Message) { got = append(got, m) }, false)

	c.Destroy()
	c.Destroy()

	ed.send(t, Message{Type: TypeInit, StudioOrigin: studioOrigin})
	time.Sleep(5 * time.Millisecond)
	if len(got) != 0 {
		t.Error("destroyed channel dispatched a message")
	}
	if err := c.Send(Message{Type: TypeFieldClick, EntryID: "e"}); err == nil {
		t.Error("send after destroy should fail")
	}
}
