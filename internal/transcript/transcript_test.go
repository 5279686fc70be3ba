package transcript

import (
	"errors"
	"path/filepath"
	"sync"
	"testing"
)

func TestNew(t *testing.T) {
	tr := New()
	if tr.Len() != 0 {
		t.Error("new transcript should have 0 messages")
	}
	if tr.Version() != 0 {
		t.Errorf("expected version 0, got %d", tr.Version())
	}
}

func TestAppendAndVersion(t *testing.T) {
	tr := New()
	v1 := tr.Append(User("hi"))
	v2 := tr.Append(Assistant(ChannelContent, "hello"), ToolCall(`{"name":"x"}`))

	if v2 <= v1 {
		t.Errorf("version should grow: %d then %d", v1, v2)
	}
	if tr.Len() != 3 {
		t.Fatalf("expected 3 messages, got %d", tr.Len())
	}
	if last, _ := tr.Last(); last.Role != RoleToolCall {
		t.Errorf("expected last role tool_call, got %s", last.Role)
	}
}

func TestAppendToLast(t *testing.T) {
	tests := []struct {
		name    string
		start   []Message
		channel Channel
		wantErr bool
	}{
		{"empty transcript", nil, ChannelContent, true},
		{"last is user", []Message{User("q")}, ChannelContent, true},
		{"last is tool result", []Message{Assistant(ChannelContent, "a"), ToolResult("r")}, ChannelContent, true},
		{"content channel", []Message{Assistant(ChannelContent, "Hi")}, ChannelContent, false},
		{"reasoning channel", []Message{Assistant(ChannelReasoning, "Hi")}, ChannelReasoning, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			tr := New(tt.start...)
			before := tr.Snapshot()
			err := tr.AppendToLast(tt.channel, " there")

			if tt.wantErr {
				if !errors.Is(err, ErrNoOpenMessage) {
					t.Fatalf("expected ErrNoOpenMessage, got %v", err)
				}
				after := tr.Snapshot()
				if len(after) != len(before) {
					t.Errorf("failed append must not change the transcript")
				}
				return
			}
			if err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
			last, _ := tr.Last()
			got := last.Content
			if tt.channel == ChannelReasoning {
				got = last.Reasoning
			}
			if got != "Hi there" {
				t.Errorf("expected 'Hi there', got %q", got)
			}
		})
	}
}

func TestSnapshotIsCopy(t *testing.T) {
	tr := New(Assistant(ChannelContent, "a"))
	snap := tr.Snapshot()
	snap[0].Content = "mutated"

	if err := tr.AppendToLast(ChannelContent, "b"); err != nil {
		t.Fatal(err)
	}
	if last, _ := tr.Last(); last.Content != "ab" {
		t.Errorf("snapshot mutation leaked into transcript: %q", last.Content)
	}
	if snap[0].Content != "mutated" {
		t.Errorf("transcript mutation leaked into snapshot: %q", snap[0].Content)
	}
}

func TestTail(t *testing.T) {
	tr := New(User("1"), User("2"), User("3"))

	if got := tr.Tail(2); len(got) != 2 || got[0].Content != "2" {
		t.Errorf("Tail(2) = %+v", got)
	}
	if got := tr.Tail(10); len(got) != 3 {
		t.Errorf("Tail(10) returned %d messages", len(got))
	}
	if got := tr.Tail(0); len(got) != 0 {
		t.Errorf("Tail(0) returned %d messages", len(got))
	}
}

func TestReplaceAndClear(t *testing.T) {
	tr := New(User("old"))
	tr.Replace([]Message{User("a"), Assistant(ChannelContent, "b")})
	if tr.Len() != 2 {
		t.Fatalf("expected 2 messages, got %d", tr.Len())
	}
	v := tr.Version()
	tr.Clear()
	if tr.Len() != 0 || tr.Version() <= v {
		t.Errorf("Clear should empty the transcript and bump the version")
	}
}

func TestSaveLoad(t *testing.T) {
	path := filepath.Join(t.TempDir(), "transcript.json")
	tr := New(User("q"), Assistant(ChannelReasoning, "think"), ToolResult(`{"v":1}`))
	if err := tr.Save(path); err != nil {
		t.Fatalf("Save: %v", err)
	}

	restored := New()
	if err := restored.Load(path); err != nil {
		t.Fatalf("Load: %v", err)
	}
	msgs := restored.Snapshot()
	if len(msgs) != 3 || msgs[1].Reasoning != "think" || msgs[2].Content != `{"v":1}` {
		t.Errorf("unexpected restored messages %+v", msgs)
	}

	if err := New().Load(filepath.Join(t.TempDir(), "missing.json")); err != nil {
		t.Errorf("missing file should not be an error: %v", err)
	}
}

func TestConcurrentReadersDuringAppend(t *testing.T) {
	tr := New(Assistant(ChannelContent, ""))
	var wg sync.WaitGroup

	wg.Add(1)
	go func() {
		defer wg.Done()
		for i := 0; i < 500; i++ {
			_ = tr.AppendToLast(ChannelContent, "x")
		}
	}()
	for r := 0; r < 4; r++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			prev := 0
			for i := 0; i < 200; i++ {
				snap := tr.Snapshot()
				if n := len(snap[0].Content); n < prev {
					t.Errorf("content shrank from %d to %d", prev, n)
					return
				} else {
					prev = n
				}
			}
		}()
	}
	wg.Wait()

	if last, _ := tr.Last(); len(last.Content) != 500 {
		t.Errorf("expected 500 bytes, got %d", len(last.Content))
	}
}
