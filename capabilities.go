package liveedit

import (
	"golang.org/x/net/html"

	"github.com/hazyhaar/liveedit/attr"
	"github.com/hazyhaar/liveedit/channel"
)

// capabilities builds the handshake payload: the enabled sync features plus
// the rich-text format preference declared per annotated field. Preferences
// are keyed record:field:locale; conflicting declarations for the same key
// are warned about and the last one scanned wins.
func (b *Bridge) capabilities() *channel.Capabilities {
	caps := &channel.Capabilities{
		FieldFocusSync:  *b.cfg.Sync.FieldFocus,
		FieldUpdateSync: *b.cfg.Sync.FieldUpdate,
	}

	formats := make(map[string]string)
	var walk func(n *html.Node)
	walk = func(n *html.Node) {
		if n.Type == html.ElementNode {
			if format := attr.FormatOf(n); format != "" {
				record, ok := attr.ResolveRecord(n)
				if ok {
					key := record + ":" + attr.FieldID(n) + ":" + attr.LocaleOf(n)
					if prev, dup := formats[key]; dup && prev != format {
						b.logger.Warn("liveedit: conflicting format preference",
							"key", key, "kept", format, "dropped", prev)
					}
					formats[key] = format
				}
			}
		}
		for c := n.FirstChild; c != nil; c = c.NextSibling {
			walk(c)
		}
	}
	walk(b.doc)

	if len(formats) > 0 {
		caps.RichTextFormats = formats
	}
	return caps
}
