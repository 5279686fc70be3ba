package render

import (
	"bytes"
	"fmt"
	"io"

	"github.com/yuin/goldmark"
	"github.com/yuin/goldmark/ast"
	"github.com/yuin/goldmark/extension"
	"github.com/yuin/goldmark/parser"
	"github.com/yuin/goldmark/renderer"
	"github.com/yuin/goldmark/renderer/html"
	"github.com/yuin/goldmark/text"
	"github.com/yuin/goldmark/util"
)

// RevealClass is the class of the span around each word of a streaming
// message in HTML output.
const RevealClass = "streaming-word-fade-in"

// Pipeline parses assistant markdown with GitHub extensions and hard line
// breaks. Streaming messages go through the word-reveal pass, settled ones
// do not.
type Pipeline struct {
	settled   goldmark.Markdown
	streaming goldmark.Markdown
}

// NewPipeline returns a Pipeline.
func NewPipeline() *Pipeline {
	return &Pipeline{
		settled:   newMarkdown(false),
		streaming: newMarkdown(true),
	}
}

func newMarkdown(reveal bool) goldmark.Markdown {
	opts := []goldmark.Option{
		goldmark.WithExtensions(extension.GFM),
		goldmark.WithRendererOptions(
			html.WithHardWraps(),
			renderer.WithNodeRenderers(util.Prioritized(&revealHTMLRenderer{}, 500)),
		),
	}
	if reveal {
		opts = append(opts, goldmark.WithParserOptions(
			parser.WithASTTransformers(util.Prioritized(WordReveal{}, 1)),
		))
	}
	return goldmark.New(opts...)
}

func (p *Pipeline) markdown(streaming bool) goldmark.Markdown {
	if streaming {
		return p.streaming
	}
	return p.settled
}

// Parse returns the document tree for source.
func (p *Pipeline) Parse(source []byte, streaming bool) ast.Node {
	return p.markdown(streaming).Parser().Parse(text.NewReader(source))
}

// HTML writes source as HTML to w.
func (p *Pipeline) HTML(w io.Writer, source []byte, streaming bool) error {
	if err := p.markdown(streaming).Convert(source, w); err != nil {
		return fmt.Errorf("render html: %w", err)
	}
	return nil
}

// HTMLString is HTML into a string.
func (p *Pipeline) HTMLString(source string, streaming bool) (string, error) {
	var buf bytes.Buffer
	if err := p.HTML(&buf, []byte(source), streaming); err != nil {
		return "", err
	}
	return buf.String(), nil
}

type revealHTMLRenderer struct{}

// RegisterFuncs implements renderer.NodeRenderer.
func (r *revealHTMLRenderer) RegisterFuncs(reg renderer.NodeRendererFuncRegisterer) {
	reg.Register(KindRevealWord, r.renderRevealWord)
}

func (r *revealHTMLRenderer) renderRevealWord(w util.BufWriter, _ []byte, n ast.Node, entering bool) (ast.WalkStatus, error) {
	if entering {
		_, _ = fmt.Fprintf(w, `<span class="%s" data-word="%d">`, RevealClass, n.(*RevealWord).Index)
	} else {
		_, _ = w.WriteString("</span>")
	}
	return ast.WalkContinue, nil
}
