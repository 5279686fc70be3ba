// Package render turns assistant markdown into terminal or HTML output.
//
// Messages that are still streaming get the word-reveal pass, which wraps
// every word in a RevealWord node numbered in document order. Renderers
// style each word by its number, so a caller that records when word N first
// appeared can fade new words in.
package render

import (
	"strconv"

	"github.com/yuin/goldmark/ast"
)

// KindRevealWord is the NodeKind of RevealWord.
var KindRevealWord = ast.NewNodeKind("RevealWord")

// RevealWord wraps one word of streamed text.
type RevealWord struct {
	ast.BaseInline
	// Index is the word's position in the document, counting from zero.
	Index int
}

// NewRevealWord returns a RevealWord with the given index.
func NewRevealWord(index int) *RevealWord {
	return &RevealWord{Index: index}
}

// Kind implements ast.Node.
func (n *RevealWord) Kind() ast.NodeKind {
	return KindRevealWord
}

// Dump implements ast.Node.
func (n *RevealWord) Dump(source []byte, level int) {
	ast.DumpHelper(n, source, level, map[string]string{"Index": strconv.Itoa(n.Index)}, nil)
}
