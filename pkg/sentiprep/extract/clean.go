package extract

import (
	"regexp"
	"strings"

	"golang.org/x/net/html"
)

// markupRE matches text that is unambiguously markup: a comment, a doctype,
// a closing tag, a bare start tag, or a start tag carrying a name=value
// attribute. A stray '<' in prose ("price<cost", "a<b and b>c") does not.
var markupRE = regexp.MustCompile(`<!--|<!(?i:doctype)|</[a-zA-Z][a-zA-Z0-9]*\s*>|<[a-zA-Z][a-zA-Z0-9]*\s*/?>|<[a-zA-Z][a-zA-Z0-9]*\s[^<>]*?[a-zA-Z_:-]+\s*=\s*("[^"]*"|'[^']*'|[^\s<>]+)[^<>]*>`)

// Clean strips HTML markup and entities from s and collapses whitespace.
// Text without markup only has its entities decoded.
func Clean(s string) string {
	switch {
	case markupRE.MatchString(s):
		s = stripHTML(s)
	case strings.Contains(s, "&"):
		s = html.UnescapeString(s)
	}
	return strings.Join(strings.Fields(s), " ")
}

func stripHTML(s string) string {
	doc, err := html.Parse(strings.NewReader(s))
	if err != nil {
		return s
	}

	var buf strings.Builder
	stack := []*html.Node{doc}
	for len(stack) > 0 {
		n := stack[len(stack)-1]
		stack = stack[:len(stack)-1]

		switch {
		case n.Type == html.TextNode:
			buf.WriteString(n.Data)
		case n.Type == html.ElementNode && (n.Data == "script" || n.Data == "style"):
			continue
		case n.Type == html.ElementNode && isBlock(n.Data):
			buf.WriteByte(' ')
		}
		// Push children in reverse so they pop in document order.
		for c := n.LastChild; c != nil; c = c.PrevSibling {
			stack = append(stack, c)
		}
	}
	return buf.String()
}

func isBlock(tag string) bool {
	switch tag {
	case "br", "p", "div", "li", "tr", "td", "h1", "h2", "h3", "h4", "h5", "h6":
		return true
	}
	return false
}
