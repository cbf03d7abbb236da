// Package markdown extracts plain-text facts from chapter Markdown.
//
// Rendering to HTML is done by the reading interface; this package only reads
// the structure needed to name chapters.
package markdown

import (
	"strings"

	"github.com/yuin/goldmark"
	"github.com/yuin/goldmark/ast"
	"github.com/yuin/goldmark/text"
	"golang.org/x/text/cases"
	"golang.org/x/text/language"
)

var md = goldmark.New()

// FirstHeading returns the text of the first level-1 heading in content, or
// an empty string if there is none.
func FirstHeading(content string) string {
	src := []byte(content)
	doc := md.Parser().Parse(text.NewReader(src))
	var title string
	_ = ast.Walk(doc, func(n ast.Node, entering bool) (ast.WalkStatus, error) {
		if h, ok := n.(*ast.Heading); ok && entering && h.Level == 1 {
			title = strings.TrimSpace(headingText(h, src))
			return ast.WalkStop, nil
		}
		return ast.WalkContinue, nil
	})
	return title
}

// headingText concatenates the text segments below n.
func headingText(n ast.Node, src []byte) string {
	var b strings.Builder
	for c := n.FirstChild(); c != nil; c = c.NextSibling() {
		switch t := c.(type) {
		case *ast.Text:
			b.Write(t.Segment.Value(src))
			if t.SoftLineBreak() || t.HardLineBreak() {
				b.WriteByte(' ')
			}
		case *ast.String:
			b.Write(t.Value)
		default:
			b.WriteString(headingText(c, src))
		}
	}
	return b.String()
}

// TitleCase upper-cases the first letter of every word and lower-cases the
// rest.
func TitleCase(s string) string {
	return cases.Title(language.Und).String(s)
}
