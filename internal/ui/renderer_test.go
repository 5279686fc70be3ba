package ui

import (
	"regexp"
	"strings"
	"testing"
	"time"
	"unicode/utf8"

	"nca-go/internal/render"
	"nca-go/internal/transcript"
)

var ansi = regexp.MustCompile(`\x1b\[[0-9;]*m`)

func plain(s string) string { return ansi.ReplaceAllString(s, "") }

func testConversation(dur time.Duration) *conversation {
	return &conversation{
		term:   render.NewTerminal(nil, nil),
		md:     newMarkdownRenderer(80, "notty"),
		reveal: newRevealState(dur),
	}
}

func TestToolCallLine(t *testing.T) {
	tests := []struct {
		payload string
		want    string
	}{
		{`{"name":"search","args":{"q":"go"},"tool_call_id":"c1"}`, `search({"q":"go"})`},
		{`{"name":"now"}`, `now()`},
		{`not json`, `not json`},
		{`{"args":{}}`, `{"args":{}}`},
	}
	for _, tt := range tests {
		if got := toolCallLine(tt.payload); got != tt.want {
			t.Errorf("toolCallLine(%s) = %q, want %q", tt.payload, got, tt.want)
		}
	}
}

func TestRevealState(t *testing.T) {
	r := newRevealState(300 * time.Millisecond)
	r.track(1)
	start := time.Now()

	fn := r.fn(start)
	first := fn(0, "hello")
	fn(1, "world")
	if got := r.step(start, 0); got != 0 {
		t.Errorf("A fresh word should start the fade, got step %d", got)
	}
	if got := r.step(start.Add(250*time.Millisecond), 1); got != 2 {
		t.Errorf("Expected last fade step, got %d", got)
	}
	if plain(first) != "hello" {
		t.Errorf("Styling should not change the word, got %q", plain(first))
	}
	if !r.fading(start.Add(100 * time.Millisecond)) {
		t.Error("Expected fading within the reveal window")
	}

	later := r.fn(start.Add(time.Second))
	if got := r.step(start.Add(time.Second), 0); got != -1 {
		t.Errorf("An old word should be fully shown, got step %d", got)
	}
	if got := later(0, "hello"); got != "hello" {
		t.Errorf("An old word should render plain, got %q", got)
	}
	if r.fading(start.Add(time.Second)) {
		t.Error("Fade should be over")
	}

	r.track(3)
	if len(r.seen) != 0 {
		t.Error("Switching messages should forget reveal times")
	}
}

func TestRevealStateDisabled(t *testing.T) {
	r := newRevealState(0)
	r.track(0)
	if got := r.fn(time.Now())(0, "word"); got != "word" {
		t.Errorf("Expected plain word, got %q", got)
	}
	if r.fading(time.Now()) {
		t.Error("Disabled reveal never fades")
	}
}

func TestConversationRender(t *testing.T) {
	c := testConversation(time.Second)
	msgs := []transcript.Message{
		transcript.User("hi"),
		transcript.ToolCall(`{"name":"search","args":{"q":"go"}}`),
		transcript.ToolResult(`{"name":"search","content":"three hits","tool_call_id":"c1"}`),
		{Role: transcript.RoleAssistant, Content: "Hello **world**", Reasoning: "thinking it over"},
	}

	out := plain(c.render(msgs, false, time.Now()))
	for _, want := range []string{"> hi", `>> search({"q":"go"})`, "three hits", "Reasoning:", "thinking it over", "Assistant:", "Hello world"} {
		if !strings.Contains(out, want) {
			t.Errorf("Output missing %q:\n%s", want, out)
		}
	}
	if c.reveal.key != -1 {
		t.Error("Settled render should not track a message")
	}
}

func TestConversationRenderStreaming(t *testing.T) {
	c := testConversation(time.Second)
	msgs := []transcript.Message{
		transcript.User("hi"),
		transcript.Assistant(transcript.ChannelContent, "one two three"),
	}

	now := time.Now()
	out := c.render(msgs, true, now)
	if c.reveal.key != 1 {
		t.Errorf("Expected the last message tracked, got %d", c.reveal.key)
	}
	if len(c.reveal.seen) != 3 {
		t.Errorf("Expected 3 words seen, got %d", len(c.reveal.seen))
	}
	if !strings.Contains(plain(out), "one two three") {
		t.Errorf("Unexpected output: %q", plain(out))
	}

	// A longer snapshot keeps the first reveal times.
	msgs[1].Content = "one two three four"
	c.render(msgs, true, now.Add(500*time.Millisecond))
	if len(c.reveal.seen) != 4 || !c.reveal.seen[0].Equal(now) {
		t.Errorf("Unexpected reveal times: %v", c.reveal.seen)
	}
}

func TestConversationRenderEmpty(t *testing.T) {
	c := testConversation(0)
	if out := plain(c.render(nil, false, time.Now())); !strings.Contains(out, "start chatting") {
		t.Errorf("Expected placeholder, got %q", out)
	}
}

func TestToolResultBody(t *testing.T) {
	c := testConversation(0)

	out := plain(c.toolResultBody(`{"name":"calc","content":{"sum":3}}`))
	if !strings.HasPrefix(out, "calc\n") || !strings.Contains(out, `"sum": 3`) {
		t.Errorf("Expected indented JSON, got %q", out)
	}

	long := strings.Repeat("x", maxToolResultLen+10)
	if out := c.toolResultBody(long); !strings.HasSuffix(out, "(truncated)") {
		t.Error("Long payloads should be truncated")
	}
}

func TestTruncateKeepsRunesWhole(t *testing.T) {
	// "é" is two bytes, so the limit falls inside one.
	s := "a" + strings.Repeat("é", maxToolResultLen)
	got := truncate(s)
	body := strings.TrimSuffix(got, "\n... (truncated)")
	if body == got {
		t.Fatal("Expected a truncation marker")
	}
	if !utf8.ValidString(body) {
		t.Errorf("Truncated text is not valid UTF-8: %q", body[len(body)-4:])
	}
	if len(body) != maxToolResultLen-1 {
		t.Errorf("Expected to cut back one byte, got length %d", len(body))
	}
}
