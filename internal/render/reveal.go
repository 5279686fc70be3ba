package render

import (
	"unicode"
	"unicode/utf8"

	"github.com/yuin/goldmark/ast"
	extast "github.com/yuin/goldmark/extension/ast"
	"github.com/yuin/goldmark/parser"
	"github.com/yuin/goldmark/text"
)

// WordReveal is a parser.ASTTransformer that applies WrapWords.
type WordReveal struct{}

// Transform implements parser.ASTTransformer.
func (WordReveal) Transform(doc *ast.Document, reader text.Reader, _ parser.Context) {
	WrapWords(doc, reader.Source())
}

// WrapWords replaces every word of prose text under root with a RevealWord
// holding that word. Whitespace stays as plain text between the words.
// Code, raw HTML, autolinks and image alt text are left alone, and so are
// words already wrapped, so running it twice changes nothing. It returns
// the number of words in the document.
func WrapWords(root ast.Node, source []byte) int {
	w := wrapper{source: source}
	w.walk(root)
	return w.next
}

type wrapper struct {
	source []byte
	next   int
}

func (w *wrapper) walk(parent ast.Node) {
	child := parent.FirstChild()
	for child != nil {
		// Captured first: splitting replaces child with several siblings
		// that must not be visited again.
		next := child.NextSibling()
		switch n := child.(type) {
		case *RevealWord:
			if n.Index >= w.next {
				w.next = n.Index + 1
			}
		case *ast.Text:
			w.splitText(parent, n)
		case *ast.String:
			w.splitString(parent, n)
		default:
			if !skipped(child) {
				w.walk(child)
			}
		}
		child = next
	}
}

func skipped(n ast.Node) bool {
	switch n.Kind() {
	case ast.KindCodeSpan, ast.KindCodeBlock, ast.KindFencedCodeBlock,
		ast.KindHTMLBlock, ast.KindRawHTML, ast.KindAutoLink, ast.KindImage,
		extast.KindTaskCheckBox:
		return true
	}
	return false
}

// span is a byte range of a text value.
type span struct {
	start, stop int
	word        bool
}

// spans splits value into alternating word and whitespace runs.
func spans(value []byte) []span {
	var out []span
	for i := 0; i < len(value); {
		r, size := utf8.DecodeRune(value[i:])
		space := unicode.IsSpace(r)
		if len(out) == 0 || out[len(out)-1].word == space {
			out = append(out, span{start: i, word: !space})
		}
		i += size
		out[len(out)-1].stop = i
	}
	return out
}

func hasWord(ss []span) bool {
	for _, s := range ss {
		if s.word {
			return true
		}
	}
	return false
}

func (w *wrapper) splitText(parent ast.Node, t *ast.Text) {
	seg := t.Segment
	ss := spans(seg.Value(w.source))
	if !hasWord(ss) {
		return
	}

	piece := func(s span) *ast.Text {
		p := ast.NewTextSegment(text.NewSegment(seg.Start+s.start, seg.Start+s.stop))
		p.SetRaw(t.IsRaw())
		return p
	}
	for _, s := range ss {
		if s.word {
			word := NewRevealWord(w.next)
			w.next++
			word.AppendChild(word, piece(s))
			parent.InsertBefore(parent, t, word)
		} else {
			parent.InsertBefore(parent, t, piece(s))
		}
	}

	// The line break belongs after the last word, outside its wrapper.
	if t.SoftLineBreak() || t.HardLineBreak() {
		tail := ast.NewTextSegment(text.NewSegment(seg.Stop, seg.Stop))
		tail.SetSoftLineBreak(t.SoftLineBreak())
		tail.SetHardLineBreak(t.HardLineBreak())
		parent.InsertBefore(parent, t, tail)
	}
	parent.RemoveChild(parent, t)
}

func (w *wrapper) splitString(parent ast.Node, s *ast.String) {
	if s.IsCode() {
		return
	}
	ss := spans(s.Value)
	if !hasWord(ss) {
		return
	}
	for _, sp := range ss {
		piece := ast.NewString(append([]byte(nil), s.Value[sp.start:sp.stop]...))
		piece.SetRaw(s.IsRaw())
		if sp.word {
			word := NewRevealWord(w.next)
			w.next++
			word.AppendChild(word, piece)
			parent.InsertBefore(parent, s, word)
		} else {
			parent.InsertBefore(parent, s, piece)
		}
	}
	parent.RemoveChild(parent, s)
}
