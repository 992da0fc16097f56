package rodgeom

import (
	"strings"
	"testing"

	"golang.org/x/net/html"
)

func TestXPath(t *testing.T) {
	doc, err := html.Parse(strings.NewReader(
		`<div><p>a</p><p id="target">b</p></div><div><span>c</span></div>`))
	if err != nil {
		t.Fatalf("parse: %v", err)
	}

	var target, span *html.Node
	var walk func(*html.Node)
	walk = func(n *html.Node) {
		if n.Type == html.ElementNode {
			for _, a := range n.Attr {
				if a.Key == "id" && a.Val == "target" {
					target = n
				}
			}
			if n.Data == "span" {
				span = n
			}
		}
		for c := n.FirstChild; c != nil; c = c.NextSibling {
			walk(c)
		}
	}
	walk(doc)

	if got := XPath(target); got != "/html/body[1]/div[1]/p[2]" {
		t.Errorf("target: got %q", got)
	}
	if got := XPath(span); got != "/html/body[1]/div[2]/span[1]" {
		t.Errorf("span: got %q", got)
	}
	if got := XPath(nil); got != "" {
		t.Errorf("nil: got %q", got)
	}
	if got := XPath(target.FirstChild); got != "" {
		t.Errorf("text node: got %q", got)
	}
}
