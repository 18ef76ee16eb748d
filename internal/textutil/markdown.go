package textutil

import (
	"regexp"
	"strings"

	"github.com/yuin/goldmark"
	"github.com/yuin/goldmark/ast"
	"github.com/yuin/goldmark/text"
)

var (
	mdParser   = goldmark.New().Parser()
	blankLines = regexp.MustCompile(`\n{3,}`)
)

// StripMarkdown renders markdown source as plain text: emphasis, headings
// and link syntax are dropped, link text and code contents are kept,
// and blocks are separated by blank lines. Models often answer in
// markdown even when asked not to, and Telegram would show the markup
// literally.
func StripMarkdown(src string) string {
	source := []byte(src)
	doc := mdParser.Parse(text.NewReader(source))

	var sb strings.Builder
	_ = ast.Walk(doc, func(n ast.Node, entering bool) (ast.WalkStatus, error) {
		switch node := n.(type) {
		case *ast.Text:
			if !entering {
				return ast.WalkContinue, nil
			}
			sb.Write(node.Segment.Value(source))
			if node.HardLineBreak() || node.SoftLineBreak() {
				sb.WriteByte('\n')
			}
		case *ast.String:
			if entering {
				sb.Write(node.Value)
			}
		case *ast.AutoLink:
			if entering {
				sb.Write(node.Label(source))
			}
		case *ast.FencedCodeBlock, *ast.CodeBlock:
			if entering {
				lines := n.Lines()
				for i := 0; i < lines.Len(); i++ {
					seg := lines.At(i)
					sb.Write(seg.Value(source))
				}
				return ast.WalkSkipChildren, nil
			}
			sb.WriteString("\n")
		case *ast.RawHTML, *ast.HTMLBlock:
			return ast.WalkSkipChildren, nil
		case *ast.TextBlock:
			if !entering {
				sb.WriteByte('\n')
			}
		case *ast.ListItem:
			if entering && sb.Len() > 0 && !strings.HasSuffix(sb.String(), "\n") {
				sb.WriteByte('\n')
			}
		default:
			if !entering && n.Type() == ast.TypeBlock && n.Kind() != ast.KindDocument {
				sb.WriteString("\n\n")
			}
		}
		return ast.WalkContinue, nil
	})

	out := blankLines.ReplaceAllString(sb.String(), "\n\n")
	return strings.TrimSpace(out)
}
