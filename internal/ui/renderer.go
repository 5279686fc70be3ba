package ui

import (
	"bytes"
	"encoding/json"
	"fmt"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/charmbracelet/glamour"

	"nca-go/internal/render"
	"nca-go/internal/transcript"
	"nca-go/internal/wire"
)

// markdownRenderer wraps glamour for reasoning and tool output.
type markdownRenderer struct {
	renderer *glamour.TermRenderer
	width    int
}

// newMarkdownRenderer creates a new markdown renderer for the given width.
// style is a glamour standard style name; "auto" or empty picks one from
// the terminal background.
func newMarkdownRenderer(width int, style string) *markdownRenderer {
	if width <= 0 {
		width = 80
	}
	// Leave some margin for borders and padding
	renderWidth := width - 4
	if renderWidth < 40 {
		renderWidth = 40
	}
	styleOpt := glamour.WithAutoStyle()
	if style != "" && style != "auto" {
		styleOpt = glamour.WithStandardStyle(style)
	}
	r, err := glamour.NewTermRenderer(
		styleOpt,
		glamour.WithWordWrap(renderWidth),
	)
	if err != nil {
		// Fallback: return a renderer that just passes through text
		return &markdownRenderer{width: width}
	}
	return &markdownRenderer{renderer: r, width: width}
}

// render renders markdown text to styled terminal output.
func (m *markdownRenderer) render(text string) string {
	if m.renderer == nil {
		return text
	}
	out, err := m.renderer.Render(text)
	if err != nil {
		return text
	}
	return strings.Trim(out, "\n")
}

// revealState remembers when each word of the streaming message first
// appeared.
type revealState struct {
	dur  time.Duration
	key  int
	seen []time.Time
}

func newRevealState(dur time.Duration) *revealState {
	return &revealState{dur: dur, key: -1}
}

// track switches to the message at index key, forgetting the old one.
func (r *revealState) track(key int) {
	if key != r.key {
		r.key = key
		r.seen = r.seen[:0]
	}
}

// fn returns the reveal function for a render at now.
func (r *revealState) fn(now time.Time) render.RevealFunc {
	return func(index int, word string) string {
		for len(r.seen) <= index {
			r.seen = append(r.seen, now)
		}
		step := r.step(now, index)
		if step < 0 {
			return word
		}
		return revealStyles[step].Render(word)
	}
}

// step returns the fade step of word index at now, or -1 once it is fully
// shown.
func (r *revealState) step(now time.Time, index int) int {
	if r.dur <= 0 || index >= len(r.seen) {
		return -1
	}
	age := now.Sub(r.seen[index])
	if age >= r.dur {
		return -1
	}
	return int(age * time.Duration(len(revealStyles)) / r.dur)
}

// fading reports whether some word is still mid fade at now.
func (r *revealState) fading(now time.Time) bool {
	if r.dur <= 0 || r.key < 0 || len(r.seen) == 0 {
		return false
	}
	return now.Sub(r.seen[len(r.seen)-1]) < r.dur
}

const maxToolResultLen = 2000

// conversation renders transcript snapshots.
type conversation struct {
	term   *render.Terminal
	md     *markdownRenderer
	reveal *revealState
}

// render renders all messages into a single string. When streaming is
// set the last assistant message gets the word reveal.
func (c *conversation) render(msgs []transcript.Message, streaming bool, now time.Time) string {
	if len(msgs) == 0 {
		return helpStyle.Render("  Type a message and press Enter to start chatting.")
	}

	live := -1
	if streaming && msgs[len(msgs)-1].Role == transcript.RoleAssistant {
		live = len(msgs) - 1
	}
	if live >= 0 {
		c.reveal.track(live)
	} else {
		c.reveal.track(-1)
	}

	var b strings.Builder
	for i, msg := range msgs {
		if i > 0 {
			b.WriteString("\n\n")
		}
		b.WriteString(c.renderMessage(msg, i == live, now))
	}
	return b.String()
}

// renderMessage renders a single message to styled terminal output.
func (c *conversation) renderMessage(msg transcript.Message, live bool, now time.Time) string {
	switch msg.Role {
	case transcript.RoleUser:
		return userStyle.Render("> " + msg.Content)

	case transcript.RoleAssistant:
		var parts []string
		if msg.Reasoning != "" {
			parts = append(parts, reasoningLabelStyle.Render("Reasoning:")+"\n"+c.md.render(msg.Reasoning))
		}
		if msg.Content != "" || msg.Reasoning == "" {
			var reveal render.RevealFunc
			if live {
				reveal = c.reveal.fn(now)
			}
			body := c.term.Render(msg.Content, live, reveal)
			parts = append(parts, assistantLabelStyle.Render("Assistant:")+"\n"+body)
		}
		return strings.Join(parts, "\n\n")

	case transcript.RoleToolCall:
		return toolCallStyle.Render(">> " + toolCallLine(msg.Content))

	case transcript.RoleToolResult:
		return toolResultBorderStyle.Render(c.toolResultBody(msg.Content))

	default:
		return msg.Content
	}
}

// toolCallLine formats a tool_call payload as name(args).
func toolCallLine(payload string) string {
	tc, err := wire.DecodeToolCall(payload)
	if err != nil {
		return payload
	}
	return fmt.Sprintf("%s(%s)", tc.Name, wire.Stringify(tc.Args))
}

// toolResultBody renders a tool_result payload. Text results are treated
// as markdown, anything else as indented JSON.
func (c *conversation) toolResultBody(payload string) string {
	tr, err := wire.DecodeToolResult(payload)
	if err != nil {
		return truncate(payload)
	}

	var text string
	if err := json.Unmarshal(tr.Content, &text); err == nil {
		return tr.Name + "\n" + c.md.render(truncate(text))
	}

	var pretty bytes.Buffer
	if err := json.Indent(&pretty, tr.Content, "", "  "); err != nil {
		return tr.Name + "\n" + truncate(string(tr.Content))
	}
	return tr.Name + "\n" + c.md.render("```json\n"+truncate(pretty.String())+"\n```")
}

// truncate caps s at maxToolResultLen bytes without splitting a rune.
func truncate(s string) string {
	if len(s) <= maxToolResultLen {
		return s
	}
	cut := maxToolResultLen
	for cut > 0 && !utf8.RuneStart(s[cut]) {
		cut--
	}
	return s[:cut] + "\n... (truncated)"
}
