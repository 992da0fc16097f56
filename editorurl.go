package liveedit

import (
	"net/url"
	"strings"
)

// EditorURL builds the deep link into the editor for one entry, optionally
// narrowed to a field, locale and component chain. Used by standalone
// activation and by the click fallback when no editor is connected.
func EditorURL(base, entryID, fieldID, locale, chainRaw string) string {
	u := strings.TrimRight(base, "/") + "/entry/" + url.PathEscape(entryID)

	q := url.Values{}
	if fieldID != "" {
		q.Set("field", fieldID)
	}
	if locale != "" {
		q.Set("locale", locale)
	}
	if chainRaw != "" {
		q.Set("chain", chainRaw)
	}
	if len(q) > 0 {
		u += "?" + q.Encode()
	}
	return u
}
