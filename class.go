package liveedit

import (
	"strings"

	"golang.org/x/net/html"

	"github.com/hazyhaar/liveedit/attr"
)

// addClass adds one class token to the node, preserving existing tokens.
func addClass(n *html.Node, class string) {
	cur, _ := attr.Get(n, "class")
	for _, tok := range strings.Fields(cur) {
		if tok == class {
			return
		}
	}
	if cur == "" {
		attr.SetAttr(n, "class", class)
		return
	}
	attr.SetAttr(n, "class", cur+" "+class)
}

// removeClass removes one class token from the node.
func removeClass(n *html.Node, class string) {
	cur, ok := attr.Get(n, "class")
	if !ok {
		return
	}
	kept := make([]string, 0, 4)
	for _, tok := range strings.Fields(cur) {
		if tok != class {
			kept = append(kept, tok)
		}
	}
	if len(kept) == 0 {
		attr.RemoveAttr(n, "class")
		return
	}
	attr.SetAttr(n, "class", strings.Join(kept, " "))
}
