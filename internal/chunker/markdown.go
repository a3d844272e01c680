package chunker

import (
	"strings"

	"github.com/yuin/goldmark"
	"github.com/yuin/goldmark/ast"
	"github.com/yuin/goldmark/text"
)

var md = goldmark.New()

// Plain converts a markdown fragment into text suitable for speech. Emphasis
// markers, link targets, heading and list markers are dropped; code blocks,
// raw HTML and bare URLs are skipped. Text without markdown syntax is returned
// unchanged.
func Plain(source string) string {
	if !looksLikeMarkdown(source) {
		return source
	}

	src := []byte(source)
	doc := md.Parser().Parse(text.NewReader(src))

	var b strings.Builder
	_ = ast.Walk(doc, func(n ast.Node, entering bool) (ast.WalkStatus, error) {
		switch n := n.(type) {
		case *ast.FencedCodeBlock, *ast.CodeBlock, *ast.HTMLBlock, *ast.RawHTML, *ast.AutoLink, *ast.ThematicBreak:
			return ast.WalkSkipChildren, nil

		case *ast.Text:
			if !entering {
				return ast.WalkContinue, nil
			}
			b.Write(n.Segment.Value(src))
			switch {
			case n.HardLineBreak():
				b.WriteByte('\n')
			case n.SoftLineBreak():
				b.WriteByte(' ')
			}

		case *ast.String:
			if entering {
				b.Write(n.Value)
			}

		case *ast.Paragraph, *ast.Heading, *ast.ListItem, *ast.Blockquote:
			if !entering {
				b.WriteByte('\n')
			}
		}
		return ast.WalkContinue, nil
	})

	return strings.TrimSpace(b.String())
}

func looksLikeMarkdown(s string) bool {
	if strings.ContainsAny(s, "*_`#[<~|") {
		return true
	}
	for _, line := range strings.Split(s, "\n") {
		line = strings.TrimLeft(line, " \t")
		if strings.HasPrefix(line, "- ") || strings.HasPrefix(line, "+ ") || strings.HasPrefix(line, "> ") {
			return true
		}
	}
	return false
}
