package chat

import (
	"context"
	"errors"
	"io"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"nca-go/internal/api"
	"nca-go/internal/logger"
	"nca-go/internal/session"
	"nca-go/internal/stream"
	"nca-go/internal/transcript"
	"nca-go/internal/wire"
)

// --- helpers ---

func frame(s string) string { return "data: " + s + "\n\n" }

var answer = frame(`{"type":"part_start","data":{"part":{"part_kind":"reasoning","content":"think"}}}`) +
	frame(`{"type":"part_start","data":{"part":{"part_kind":"text","content":"Hello"}}}`) +
	frame(`{"type":"part_delta","data":{"delta":{"part_kind":"text","content":" world"}}}`) +
	frame(`{"type":"tool_call","data":{"tool_call":{"name":"search","args":{"q":"go"},"tool_call_id":"c1"}}}`) +
	frame(`{"type":"tool_result","data":{"tool_result":{"name":"search","content":"3 hits","tool_call_id":"c1"}}}`)

type fakeBackend struct {
	mu      sync.Mutex
	body    func() io.ReadCloser
	err     error
	records []wire.HistoryRecord
	histErr error
	prompts []string
	convIDs []string
}

func (f *fakeBackend) Submit(ctx context.Context, prompt, conversationID string) (*api.Stream, error) {
	f.mu.Lock()
	f.prompts = append(f.prompts, prompt)
	f.convIDs = append(f.convIDs, conversationID)
	f.mu.Unlock()
	if f.err != nil {
		return nil, f.err
	}
	return &api.Stream{Body: f.body()}, nil
}

func (f *fakeBackend) History(ctx context.Context, conversationID string) ([]wire.HistoryRecord, error) {
	return f.records, f.histErr
}

func staticBody(s string) func() io.ReadCloser {
	return func() io.ReadCloser { return io.NopCloser(strings.NewReader(s)) }
}

type failingReader struct{ data *strings.Reader }

func (r *failingReader) Read(p []byte) (int, error) {
	if r.data.Len() == 0 {
		return 0, errors.New("connection reset")
	}
	return r.data.Read(p)
}

func (r *failingReader) Close() error { return nil }

func roles(msgs []transcript.Message) string {
	out := make([]string, len(msgs))
	for i, m := range msgs {
		out[i] = string(m.Role)
	}
	return strings.Join(out, ",")
}

// --- tests ---

func TestSendStreamsIntoTranscript(t *testing.T) {
	backend := &fakeBackend{body: staticBody(answer)}
	c := New(backend, session.Existing("conv-1"), Options{Logger: logger.Discard()})

	var updates int
	var lastStreaming = true
	c.OnUpdate = func(_ []transcript.Message, streaming bool) {
		updates++
		lastStreaming = streaming
	}
	var completed []Result
	c.OnComplete = func(r Result) { completed = append(completed, r) }

	res, err := c.Send(context.Background(), "hi there")
	if err != nil {
		t.Fatalf("Send failed: %v", err)
	}

	msgs := c.Transcript().Snapshot()
	if got := roles(msgs); got != "user,assistant,assistant,tool_call,tool_result" {
		t.Fatalf("Unexpected roles: %s", got)
	}
	if msgs[0].Content != "hi there" {
		t.Errorf("Expected prompt first, got %q", msgs[0].Content)
	}
	if msgs[1].Reasoning != "think" {
		t.Errorf("Expected reasoning, got %+v", msgs[1])
	}
	if msgs[2].Content != "Hello world" {
		t.Errorf("Expected 'Hello world', got %q", msgs[2].Content)
	}
	if msgs[3].Content != `{"name":"search","args":{"q":"go"},"tool_call_id":"c1"}` {
		t.Errorf("Unexpected tool call payload: %s", msgs[3].Content)
	}

	if res.Stats.Events != 5 || res.Cancelled {
		t.Errorf("Unexpected result: %+v", res)
	}
	// one for the prompt, five events, one final
	if updates != 7 {
		t.Errorf("Expected 7 updates, got %d", updates)
	}
	if lastStreaming {
		t.Error("Last update should not be streaming")
	}
	if len(completed) != 1 {
		t.Errorf("Expected one completion, got %d", len(completed))
	}
	if backend.convIDs[0] != "conv-1" {
		t.Errorf("Expected conversation id conv-1, got %s", backend.convIDs[0])
	}
	if c.IsRunning() {
		t.Error("Chat should not be running after Send returns")
	}
}

func TestSendSubmitError(t *testing.T) {
	backend := &fakeBackend{err: &api.APIError{StatusCode: 500, Message: "boom"}}
	c := New(backend, nil, Options{Logger: logger.Discard()})

	var gotErr error
	c.OnError = func(err error) { gotErr = err }
	completed := false
	c.OnComplete = func(Result) { completed = true }

	_, err := c.Send(context.Background(), "hello")
	var apiErr *api.APIError
	if !errors.As(err, &apiErr) {
		t.Fatalf("Expected APIError, got %v", err)
	}
	if gotErr != err {
		t.Error("OnError should receive the submit error")
	}
	if completed {
		t.Error("OnComplete should not fire when submit fails")
	}
	if got := roles(c.Transcript().Snapshot()); got != "user" {
		t.Errorf("Prompt should stay in the transcript, got %s", got)
	}
}

func TestSendTransportError(t *testing.T) {
	backend := &fakeBackend{body: func() io.ReadCloser {
		return &failingReader{data: strings.NewReader(
			frame(`{"type":"part_start","data":{"part":{"part_kind":"text","content":"partial"}}}`))}
	}}
	c := New(backend, nil, Options{Logger: logger.Discard()})

	var gotErr error
	c.OnError = func(err error) { gotErr = err }

	_, err := c.Send(context.Background(), "hello")
	var tErr *stream.TransportError
	if !errors.As(err, &tErr) {
		t.Fatalf("Expected TransportError, got %v", err)
	}
	if gotErr == nil {
		t.Error("OnError should be called")
	}
	msgs := c.Transcript().Snapshot()
	if len(msgs) != 2 || msgs[1].Content != "partial" {
		t.Errorf("Partial answer should be kept, got %+v", msgs)
	}
}

func TestCancelKeepsPartialAnswer(t *testing.T) {
	pr, pw := io.Pipe()
	backend := &fakeBackend{body: func() io.ReadCloser { return pr }}
	c := New(backend, nil, Options{Logger: logger.Discard()})

	started := make(chan struct{})
	var once sync.Once
	c.OnUpdate = func(snap []transcript.Message, streaming bool) {
		if len(snap) == 2 {
			once.Do(func() { close(started) })
		}
	}
	var gotErr error
	c.OnError = func(err error) { gotErr = err }

	go func() {
		pw.Write([]byte(frame(`{"type":"part_start","data":{"part":{"part_kind":"text","content":"Hel"}}}`)))
	}()

	done := make(chan struct{})
	var res Result
	var err error
	go func() {
		res, err = c.Send(context.Background(), "hello")
		close(done)
	}()

	select {
	case <-started:
	case <-time.After(2 * time.Second):
		t.Fatal("stream did not start")
	}
	if !c.IsRunning() {
		t.Error("Chat should be running while streaming")
	}
	if _, busyErr := c.Send(context.Background(), "again"); !errors.Is(busyErr, ErrBusy) {
		t.Errorf("Expected ErrBusy, got %v", busyErr)
	}

	c.Cancel()

	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("Send did not return after Cancel")
	}
	if !errors.Is(err, stream.ErrCancelled) {
		t.Errorf("Expected ErrCancelled, got %v", err)
	}
	if !res.Cancelled || !res.Stats.Cancelled {
		t.Errorf("Result should be cancelled: %+v", res)
	}
	if gotErr != nil {
		t.Errorf("Cancellation is not an error, got %v", gotErr)
	}
	msgs := c.Transcript().Snapshot()
	if len(msgs) != 2 || msgs[1].Content != "Hel" {
		t.Errorf("Expected partial answer kept, got %+v", msgs)
	}
}

func TestLoadReplacesTranscript(t *testing.T) {
	backend := &fakeBackend{records: []wire.HistoryRecord{
		{ID: 1, Content: `{"type":"model_request","parts":[{"type":"UserPromptPart","content":"hi"}]}`, IsUserMessage: true},
		{ID: 2, Content: `not json`},
		{ID: 3, Content: `{"type":"model_response","parts":[{"type":"TextPart","content":"hello"}]}`},
	}}
	c := New(backend, session.Existing("conv-9"), Options{Logger: logger.Discard()})
	c.Transcript().Append(transcript.User("stale"))

	n, err := c.Load(context.Background())
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}
	if n != 2 {
		t.Errorf("Expected 2 messages, got %d", n)
	}
	msgs := c.Transcript().Snapshot()
	if roles(msgs) != "user,assistant" || msgs[1].Content != "hello" {
		t.Errorf("Unexpected transcript: %+v", msgs)
	}
}

func TestLoadError(t *testing.T) {
	backend := &fakeBackend{histErr: &api.APIError{StatusCode: 404, Message: "missing"}}
	c := New(backend, nil, Options{Logger: logger.Discard()})
	c.Transcript().Append(transcript.User("kept"))

	if _, err := c.Load(context.Background()); err == nil {
		t.Fatal("Expected error")
	}
	if c.Transcript().Len() != 1 {
		t.Error("Transcript should be untouched on error")
	}
}

func TestSendSavesSession(t *testing.T) {
	store, err := session.NewSQLiteStore(filepath.Join(t.TempDir(), "sessions.db"))
	if err != nil {
		t.Fatalf("NewSQLiteStore failed: %v", err)
	}
	defer store.Close()

	backend := &fakeBackend{body: staticBody(answer)}
	c := New(backend, nil, Options{Store: store, Logger: logger.Discard()})
	id := c.Session().ID

	if _, err := c.Send(context.Background(), "How do channels work?\nmore detail"); err != nil {
		t.Fatalf("Send failed: %v", err)
	}
	if _, err := c.Send(context.Background(), "second question"); err != nil {
		t.Fatalf("Send failed: %v", err)
	}

	got, err := store.Load(context.Background(), id)
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}
	if got.Title != "How do channels work?" {
		t.Errorf("Expected title from first prompt, got %q", got.Title)
	}
}

func TestReset(t *testing.T) {
	backend := &fakeBackend{body: staticBody(answer)}
	c := New(backend, session.Existing("old"), Options{Logger: logger.Discard()})
	if _, err := c.Send(context.Background(), "hi"); err != nil {
		t.Fatalf("Send failed: %v", err)
	}

	if err := c.Reset(session.Existing("new")); err != nil {
		t.Fatalf("Reset failed: %v", err)
	}
	if c.Transcript().Len() != 0 {
		t.Error("Transcript should be empty after Reset")
	}
	if c.Session().ID != "new" {
		t.Errorf("Expected session new, got %s", c.Session().ID)
	}

	if _, err := c.Send(context.Background(), "hi"); err != nil {
		t.Fatalf("Send failed: %v", err)
	}
	if backend.convIDs[1] != "new" {
		t.Errorf("Expected submit to new conversation, got %s", backend.convIDs[1])
	}
}
