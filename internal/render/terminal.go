package render

import (
	"fmt"
	"strings"

	"github.com/charmbracelet/lipgloss"
	"github.com/yuin/goldmark/ast"
	extast "github.com/yuin/goldmark/extension/ast"
	"github.com/yuin/goldmark/util"
)

// CodeHighlighter colours a code block. ok is false when the language is
// not available yet; the block is then rendered plain.
type CodeHighlighter interface {
	Highlight(code, language string) (string, bool)
}

// RevealFunc styles word index of a streaming message. Returning word
// unchanged renders it normally.
type RevealFunc func(index int, word string) string

// Styles holds the lipgloss styles of the terminal renderer.
type Styles struct {
	Heading    lipgloss.Style
	Emphasis   lipgloss.Style
	Strong     lipgloss.Style
	Strike     lipgloss.Style
	CodeSpan   lipgloss.Style
	CodeBlock  lipgloss.Style
	Link       lipgloss.Style
	Quote      lipgloss.Style
	Rule       lipgloss.Style
	TableHead  lipgloss.Style
	ListMarker lipgloss.Style
}

// DefaultStyles returns the styles used by NewTerminal.
func DefaultStyles() Styles {
	return Styles{
		Heading:    lipgloss.NewStyle().Foreground(lipgloss.Color("4")).Bold(true),
		Emphasis:   lipgloss.NewStyle().Italic(true),
		Strong:     lipgloss.NewStyle().Bold(true),
		Strike:     lipgloss.NewStyle().Strikethrough(true),
		CodeSpan:   lipgloss.NewStyle().Foreground(lipgloss.Color("3")),
		CodeBlock:  lipgloss.NewStyle().Foreground(lipgloss.Color("7")),
		Link:       lipgloss.NewStyle().Foreground(lipgloss.Color("6")).Underline(true),
		Quote:      lipgloss.NewStyle().Foreground(lipgloss.Color("8")),
		Rule:       lipgloss.NewStyle().Foreground(lipgloss.Color("8")),
		TableHead:  lipgloss.NewStyle().Bold(true),
		ListMarker: lipgloss.NewStyle().Foreground(lipgloss.Color("5")),
	}
}

// Terminal renders markdown for a terminal.
type Terminal struct {
	pipeline    *Pipeline
	highlighter CodeHighlighter
	Styles      Styles
}

// NewTerminal returns a terminal renderer. h may be nil, in which case code
// blocks are never highlighted.
func NewTerminal(p *Pipeline, h CodeHighlighter) *Terminal {
	if p == nil {
		p = NewPipeline()
	}
	return &Terminal{pipeline: p, highlighter: h, Styles: DefaultStyles()}
}

// Render renders an assistant message. A streaming message has each word
// passed through reveal; reveal may be nil.
func (t *Terminal) Render(content string, streaming bool, reveal RevealFunc) string {
	source := []byte(content)
	doc := t.pipeline.Parse(source, streaming)
	r := &termRenderer{t: t, source: source, reveal: reveal}
	return strings.TrimRight(r.blocks(doc, "\n\n"), "\n")
}

type termRenderer struct {
	t      *Terminal
	source []byte
	reveal RevealFunc
}

func (r *termRenderer) blocks(parent ast.Node, sep string) string {
	var parts []string
	for c := parent.FirstChild(); c != nil; c = c.NextSibling() {
		if s := r.block(c); s != "" {
			parts = append(parts, s)
		}
	}
	return strings.Join(parts, sep)
}

func (r *termRenderer) block(n ast.Node) string {
	st := r.t.Styles
	switch n := n.(type) {
	case *ast.Paragraph, *ast.TextBlock:
		return r.inlines(n)
	case *ast.Heading:
		return st.Heading.Render(strings.Repeat("#", n.Level) + " " + r.inlines(n))
	case *ast.ThematicBreak:
		return st.Rule.Render(strings.Repeat("─", 40))
	case *ast.Blockquote:
		lines := strings.Split(r.blocks(n, "\n\n"), "\n")
		for i, line := range lines {
			lines[i] = st.Quote.Render("│ ") + line
		}
		return strings.Join(lines, "\n")
	case *ast.List:
		return r.list(n)
	case *ast.FencedCodeBlock:
		return r.code(string(n.Language(r.source)), r.lines(n))
	case *ast.CodeBlock:
		return r.code("", r.lines(n))
	case *ast.HTMLBlock:
		return strings.TrimRight(r.lines(n), "\n")
	case *extast.Table:
		return r.table(n)
	default:
		if n.Type() == ast.TypeInline {
			return r.inline(n)
		}
		return r.blocks(n, "\n\n")
	}
}

func (r *termRenderer) lines(n ast.Node) string {
	var b strings.Builder
	lines := n.Lines()
	for i := 0; i < lines.Len(); i++ {
		seg := lines.At(i)
		b.Write(seg.Value(r.source))
	}
	return b.String()
}

func (r *termRenderer) code(language, code string) string {
	if language != "" && r.t.highlighter != nil {
		if out, ok := r.t.highlighter.Highlight(code, language); ok {
			return strings.TrimRight(out, "\n")
		}
	}
	return r.t.Styles.CodeBlock.Render(strings.TrimRight(code, "\n"))
}

func (r *termRenderer) list(l *ast.List) string {
	sep := "\n"
	if !l.IsTight {
		sep = "\n\n"
	}
	var items []string
	num := l.Start
	for item := l.FirstChild(); item != nil; item = item.NextSibling() {
		marker := "• "
		if l.IsOrdered() {
			marker = fmt.Sprintf("%d. ", num)
			num++
		}
		body := r.blocks(item, sep)
		indent := strings.Repeat(" ", lipgloss.Width(marker))
		body = strings.ReplaceAll(body, "\n", "\n"+indent)
		items = append(items, r.t.Styles.ListMarker.Render(marker)+body)
	}
	return strings.Join(items, sep)
}

func (r *termRenderer) table(t *extast.Table) string {
	var rows []string
	for row := t.FirstChild(); row != nil; row = row.NextSibling() {
		var cells []string
		for cell := row.FirstChild(); cell != nil; cell = cell.NextSibling() {
			cells = append(cells, r.inlines(cell))
		}
		line := strings.Join(cells, " │ ")
		if _, ok := row.(*extast.TableHeader); ok {
			rows = append(rows, r.t.Styles.TableHead.Render(line))
			rows = append(rows, r.t.Styles.Rule.Render(strings.Repeat("─", lipgloss.Width(line))))
			continue
		}
		rows = append(rows, line)
	}
	return strings.Join(rows, "\n")
}

func (r *termRenderer) inlines(parent ast.Node) string {
	var b strings.Builder
	for c := parent.FirstChild(); c != nil; c = c.NextSibling() {
		b.WriteString(r.inline(c))
	}
	return b.String()
}

func (r *termRenderer) inline(n ast.Node) string {
	st := r.t.Styles
	switch n := n.(type) {
	case *ast.Text:
		s := r.text(n.Segment.Value(r.source), n.IsRaw())
		if n.SoftLineBreak() || n.HardLineBreak() {
			s += "\n"
		}
		return s
	case *ast.String:
		return r.text(n.Value, n.IsRaw() || n.IsCode())
	case *RevealWord:
		word := r.inlines(n)
		if r.reveal != nil {
			return r.reveal(n.Index, word)
		}
		return word
	case *ast.Emphasis:
		if n.Level >= 2 {
			return st.Strong.Render(r.inlines(n))
		}
		return st.Emphasis.Render(r.inlines(n))
	case *extast.Strikethrough:
		return st.Strike.Render(r.inlines(n))
	case *ast.CodeSpan:
		var b strings.Builder
		for c := n.FirstChild(); c != nil; c = c.NextSibling() {
			switch c := c.(type) {
			case *ast.Text:
				b.Write(c.Segment.Value(r.source))
			case *ast.String:
				b.Write(c.Value)
			}
		}
		return st.CodeSpan.Render(b.String())
	case *ast.Link:
		return st.Link.Render(r.inlines(n))
	case *ast.AutoLink:
		return st.Link.Render(string(n.URL(r.source)))
	case *ast.Image:
		return "[image: " + r.inlines(n) + "]"
	case *ast.RawHTML:
		var b strings.Builder
		for i := 0; i < n.Segments.Len(); i++ {
			seg := n.Segments.At(i)
			b.Write(seg.Value(r.source))
		}
		return b.String()
	case *extast.TaskCheckBox:
		if n.IsChecked {
			return "[x]"
		}
		return "[ ]"
	default:
		return r.inlines(n)
	}
}

func (r *termRenderer) text(value []byte, raw bool) string {
	if raw {
		return string(value)
	}
	value = util.UnescapePunctuations(value)
	value = util.ResolveNumericReferences(value)
	value = util.ResolveEntityNames(value)
	return string(value)
}
