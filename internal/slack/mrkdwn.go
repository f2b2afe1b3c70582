package slack

import (
	"fmt"
	"strings"

	"github.com/yuin/goldmark"
	"github.com/yuin/goldmark/ast"
	"github.com/yuin/goldmark/extension"
	east "github.com/yuin/goldmark/extension/ast"
	"github.com/yuin/goldmark/text"
)

var mdParser = goldmark.New(goldmark.WithExtensions(extension.Strikethrough)).Parser()

// MarkdownToMrkdwn converts CommonMark, as produced by the model, into
// Slack's mrkdwn dialect for the non-streaming postMessage path. The
// streaming methods accept markdown directly and do not need it.
func MarkdownToMrkdwn(md string) string {
	if strings.TrimSpace(md) == "" {
		return ""
	}
	src := []byte(md)
	doc := mdParser.Parse(text.NewReader(src))
	r := &mrkdwnRenderer{src: src}
	r.blocks(doc)
	return strings.TrimSpace(r.b.String())
}

type mrkdwnRenderer struct {
	src []byte
	b   strings.Builder
}

func (r *mrkdwnRenderer) blocks(parent ast.Node) {
	for n := parent.FirstChild(); n != nil; n = n.NextSibling() {
		r.block(n)
	}
}

func (r *mrkdwnRenderer) block(n ast.Node) {
	switch n := n.(type) {
	case *ast.Paragraph:
		r.inlines(n)
		r.b.WriteString("\n\n")
	case *ast.TextBlock:
		r.inlines(n)
		r.b.WriteString("\n")
	case *ast.Heading:
		r.b.WriteString("*")
		r.inlines(n)
		r.b.WriteString("*\n\n")
	case *ast.List:
		r.list(n)
	case *ast.Blockquote:
		inner := r.sub(func(s *mrkdwnRenderer) { s.blocks(n) })
		for _, line := range strings.Split(strings.TrimRight(inner, "\n"), "\n") {
			r.b.WriteString("> " + line + "\n")
		}
		r.b.WriteString("\n")
	case *ast.FencedCodeBlock, *ast.CodeBlock:
		r.b.WriteString("```\n")
		r.lines(n)
		r.b.WriteString("```\n\n")
	case *ast.HTMLBlock:
		r.lines(n)
		r.b.WriteString("\n")
	case *ast.ThematicBreak:
		r.b.WriteString("\n")
	default:
		r.blocks(n)
	}
}

func (r *mrkdwnRenderer) list(l *ast.List) {
	i := l.Start
	for item := l.FirstChild(); item != nil; item = item.NextSibling() {
		marker := "- "
		if l.IsOrdered() {
			marker = fmt.Sprintf("%d. ", i)
			i++
		}
		body := strings.TrimRight(r.sub(func(s *mrkdwnRenderer) { s.blocks(item) }), "\n")
		body = strings.ReplaceAll(body, "\n", "\n    ")
		r.b.WriteString(marker + body + "\n")
	}
	r.b.WriteString("\n")
}

func (r *mrkdwnRenderer) inlines(parent ast.Node) {
	for n := parent.FirstChild(); n != nil; n = n.NextSibling() {
		r.inline(n)
	}
}

func (r *mrkdwnRenderer) inline(n ast.Node) {
	switch n := n.(type) {
	case *ast.Text:
		r.b.Write(n.Segment.Value(r.src))
		if n.HardLineBreak() || n.SoftLineBreak() {
			r.b.WriteString("\n")
		}
	case *ast.String:
		r.b.Write(n.Value)
	case *ast.Emphasis:
		mark := "_"
		if n.Level >= 2 {
			mark = "*"
		}
		r.b.WriteString(mark)
		r.inlines(n)
		r.b.WriteString(mark)
	case *east.Strikethrough:
		r.b.WriteString("~")
		r.inlines(n)
		r.b.WriteString("~")
	case *ast.CodeSpan:
		r.b.WriteString("`")
		for c := n.FirstChild(); c != nil; c = c.NextSibling() {
			if t, ok := c.(*ast.Text); ok {
				r.b.Write(t.Segment.Value(r.src))
			}
		}
		r.b.WriteString("`")
	case *ast.Link:
		label := r.sub(func(s *mrkdwnRenderer) { s.inlines(n) })
		r.link(string(n.Destination), label)
	case *ast.Image:
		label := r.sub(func(s *mrkdwnRenderer) { s.inlines(n) })
		r.link(string(n.Destination), label)
	case *ast.AutoLink:
		r.b.WriteString("<" + string(n.URL(r.src)) + ">")
	case *ast.RawHTML:
		for i := 0; i < n.Segments.Len(); i++ {
			seg := n.Segments.At(i)
			r.b.Write(seg.Value(r.src))
		}
	default:
		r.inlines(n)
	}
}

func (r *mrkdwnRenderer) link(dest, label string) {
	if label == "" || label == dest {
		r.b.WriteString("<" + dest + ">")
		return
	}
	r.b.WriteString("<" + dest + "|" + label + ">")
}

func (r *mrkdwnRenderer) lines(n ast.Node) {
	lines := n.Lines()
	for i := 0; i < lines.Len(); i++ {
		seg := lines.At(i)
		r.b.Write(seg.Value(r.src))
	}
}

// sub renders into a scratch buffer and returns the output.
func (r *mrkdwnRenderer) sub(fn func(*mrkdwnRenderer)) string {
	s := &mrkdwnRenderer{src: r.src}
	fn(s)
	return s.b.String()
}
