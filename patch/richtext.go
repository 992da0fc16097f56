package patch

import (
	"fmt"
	"strings"

	"github.com/JohannesKaufmann/html-to-markdown/v2/converter"
	"github.com/JohannesKaufmann/html-to-markdown/v2/plugin/base"
	"github.com/JohannesKaufmann/html-to-markdown/v2/plugin/commonmark"
	"golang.org/x/net/html"

	"github.com/hazyhaar/liveedit/attr"
)

// mdConverter turns HTML into markdown when a node prefers markdown but the
// bundle only carries HTML. Built lazily, shared per Patcher.
func (p *Patcher) markdownConverter() *converter.Converter {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.md == nil {
		p.md = converter.NewConverter(
			converter.WithPlugins(
				base.NewBasePlugin(),
				commonmark.NewCommonmarkPlugin(),
			),
		)
	}
	return p.md
}

// applyRichText resolves the rich-text input shape and the node's declared
// format preference, then renders. The multi-format bundle wins whenever
// present; the bare-string and AST paths are legacy compatibility only.
func (p *Patcher) applyRichText(n *html.Node, rt RichText) error {
	switch {
	case rt.Bundle != nil:
		return p.applyRichTextBundle(n, rt.Bundle)
	case rt.AST != nil:
		return p.setHTML(n, renderAST(rt.AST))
	default:
		return p.applyLegacyString(n, rt.Legacy)
	}
}

func (p *Patcher) applyRichTextBundle(n *html.Node, b *RichTextBundle) error {
	switch attr.FormatOf(n) {
	case "markdown":
		if b.Markdown != "" {
			applyText(n, b.Markdown)
			return nil
		}
		if b.HTML != "" {
			md, err := p.markdownConverter().ConvertString(b.HTML)
			if err == nil && strings.TrimSpace(md) != "" {
				applyText(n, strings.TrimSpace(md))
				return nil
			}
		}
	case "text":
		if b.Text != "" {
			applyText(n, b.Text)
			return nil
		}
		if b.HTML != "" {
			applyText(n, htmlToText(b.HTML))
			return nil
		}
	}

	// Default: html, also the fallback when the preferred format is absent.
	switch {
	case b.HTML != "":
		return p.setHTML(n, b.HTML)
	case b.AST != nil:
		return p.setHTML(n, renderAST(b.AST))
	case b.Markdown != "":
		applyText(n, b.Markdown)
		return nil
	case b.Text != "":
		applyText(n, b.Text)
		return nil
	}
	return fmt.Errorf("patch: empty rich text bundle")
}

// applyLegacyString handles the legacy pre-rendered string shape: strings
// that look like markup are grafted as HTML, everything else is plain text.
func (p *Patcher) applyLegacyString(n *html.Node, s string) error {
	if strings.Contains(s, "<") && strings.Contains(s, ">") {
		return p.setHTML(n, s)
	}
	applyText(n, s)
	return nil
}

// htmlToText renders markup down to its text content.
func htmlToText(markup string) string {
	doc, err := html.Parse(strings.NewReader(markup))
	if err != nil {
		return markup
	}
	return strings.TrimSpace(collectText(doc))
}

// renderAST renders the legacy rich-text AST to HTML through a small
// node-type-to-tag mapping. Unknown node types render their children.
func renderAST(node *RichTextNode) string {
	var buf strings.Builder
	renderASTNode(&buf, node)
	return buf.String()
}

func renderASTNode(buf *strings.Builder, node *RichTextNode) {
	if node == nil {
		return
	}

	tag := ""
	switch node.Type {
	case "text", "":
		buf.WriteString(html.EscapeString(node.Text))
		renderASTChildren(buf, node)
		return
	case "document":
		renderASTChildren(buf, node)
		return
	case "paragraph":
		tag = "p"
	case "heading-1", "heading-2", "heading-3", "heading-4", "heading-5", "heading-6":
		tag = "h" + node.Type[len("heading-"):]
	case "heading":
		level := node.Level
		if level < 1 {
			level = 1
		}
		if level > 6 {
			level = 6
		}
		tag = fmt.Sprintf("h%d", level)
	case "blockquote":
		tag = "blockquote"
	case "ordered-list":
		tag = "ol"
	case "unordered-list":
		tag = "ul"
	case "list-item":
		tag = "li"
	case "link", "hyperlink":
		buf.WriteString(`<a href="` + html.EscapeString(node.URL) + `">`)
		if node.Text != "" {
			buf.WriteString(html.EscapeString(node.Text))
		}
		renderASTChildren(buf, node)
		buf.WriteString("</a>")
		return
	case "bold":
		tag = "strong"
	case "italic":
		tag = "em"
	case "underline":
		tag = "u"
	case "code":
		tag = "code"
	default:
		renderASTChildren(buf, node)
		return
	}

	buf.WriteString("<" + tag + ">")
	if node.Text != "" {
		buf.WriteString(html.EscapeString(node.Text))
	}
	renderASTChildren(buf, node)
	buf.WriteString("</" + tag + ">")
}

func renderASTChildren(buf *strings.Builder, node *RichTextNode) {
	for _, c := range node.Children {
		renderASTNode(buf, c)
	}
}
