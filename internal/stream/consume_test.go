package stream

import (
	"context"
	"errors"
	"io"
	"strings"
	"testing"
	"time"

	"nca-go/internal/logger"
	"nca-go/internal/transcript"
	"nca-go/internal/wire"
)

const twoFrames = `data: {"type":"part_start","data":{"part":{"part_kind":"text","content":"A"}}}` + "\n\n" +
	`data: {"type":"part_delta","data":{"delta":{"part_kind":"text","content":"B"}}}` + "\n\n"

// chunkReader returns its input a few bytes at a time.
type chunkReader struct {
	data   []byte
	size   int
	closed bool
	err    error // returned once data is exhausted, io.EOF when nil
}

func (r *chunkReader) Read(p []byte) (int, error) {
	if len(r.data) == 0 {
		if r.err != nil {
			return 0, r.err
		}
		return 0, io.EOF
	}
	n := r.size
	if n > len(r.data) {
		n = len(r.data)
	}
	if n > len(p) {
		n = len(p)
	}
	copy(p, r.data[:n])
	r.data = r.data[n:]
	return n, nil
}

func (r *chunkReader) Close() error {
	r.closed = true
	return nil
}

func TestConsumeEndToEnd(t *testing.T) {
	a := newTestAccumulator()
	body := &chunkReader{data: []byte(twoFrames), size: 7}

	if err := a.Consume(context.Background(), body, Options{}); err != nil {
		t.Fatalf("Consume: %v", err)
	}

	msgs := a.Snapshot()
	if len(msgs) != 1 || msgs[0].Role != transcript.RoleAssistant || msgs[0].Content != "AB" {
		t.Errorf("unexpected transcript %+v", msgs)
	}
	if !body.closed {
		t.Error("body should be closed")
	}
	if st := a.Stats(); st.Frames != 2 || st.Events != 2 {
		t.Errorf("unexpected stats %+v", st)
	}
}

func TestConsumeSnapshotPerEvent(t *testing.T) {
	a := newTestAccumulator()
	var contents []string
	opts := Options{OnEvent: func(ev wire.Event, snap []transcript.Message) {
		contents = append(contents, snap[len(snap)-1].Content)
	}}

	body := &chunkReader{data: []byte(twoFrames), size: 1}
	if err := a.Consume(context.Background(), body, opts); err != nil {
		t.Fatalf("Consume: %v", err)
	}
	if strings.Join(contents, "|") != "A|AB" {
		t.Errorf("snapshots = %q", contents)
	}
}

func TestConsumeSkipsBadFrames(t *testing.T) {
	input := ": keepalive\n\n" +
		"data: {broken\n\n" +
		`data: {"type":"part_delta","data":{"delta":{"part_kind":"text","content":"orphan"}}}` + "\n\n" +
		`data: {"type":"final_result","data":{}}` + "\n\n" +
		twoFrames +
		`data: {"type":"part_delta","data":{"del`

	a := newTestAccumulator()
	if err := a.Consume(context.Background(), &chunkReader{data: []byte(input), size: 5}, Options{}); err != nil {
		t.Fatalf("Consume: %v", err)
	}

	msgs := a.Snapshot()
	if len(msgs) != 1 || msgs[0].Content != "AB" {
		t.Errorf("unexpected transcript %+v", msgs)
	}
	st := a.Stats()
	if st.Frames != 6 || st.Malformed != 1 || st.OutOfOrder != 1 || st.Ignored != 2 {
		t.Errorf("unexpected stats %+v", st)
	}
	if st.DroppedBytes == 0 {
		t.Error("trailing partial frame should be reported as dropped")
	}
}

func TestConsumeLogsMalformedFrameOnce(t *testing.T) {
	var buf strings.Builder
	l := logger.NewLogger()
	l.SetOutput(&buf)

	a := NewAccumulator(nil, l)
	if err := a.Consume(context.Background(), io.NopCloser(strings.NewReader("data: {broken\n\n")), Options{}); err != nil {
		t.Fatalf("Consume: %v", err)
	}
	if n := strings.Count(buf.String(), "dropping malformed frame"); n != 1 {
		t.Errorf("Expected one warning, got %d in %q", n, buf.String())
	}
	if !strings.Contains(buf.String(), "parser") {
		t.Errorf("Expected the parser component in %q", buf.String())
	}
	if st := a.Stats(); st.Frames != 1 || st.Malformed != 1 {
		t.Errorf("unexpected stats %+v", st)
	}
}

func TestConsumeTransportError(t *testing.T) {
	boom := errors.New("connection reset")
	a := newTestAccumulator()
	body := &chunkReader{data: []byte(twoFrames[:len(twoFrames)/2+40]), size: 16, err: boom}

	// Only the first frame is complete before the failure.
	err := a.Consume(context.Background(), body, Options{})
	var te *TransportError
	if !errors.As(err, &te) || !errors.Is(err, boom) {
		t.Fatalf("expected TransportError wrapping boom, got %v", err)
	}
	if msgs := a.Snapshot(); len(msgs) != 1 || msgs[0].Content != "A" {
		t.Errorf("partial transcript should be kept, got %+v", msgs)
	}
}

func TestConsumeCancelUnblocksRead(t *testing.T) {
	pr, pw := io.Pipe()
	a := newTestAccumulator()

	applied := make(chan struct{})
	done := make(chan error, 1)
	go func() {
		done <- a.Consume(context.Background(), pr, Options{OnEvent: func(wire.Event, []transcript.Message) {
			close(applied)
		}})
	}()

	go func() {
		_, _ = pw.Write([]byte(`data: {"type":"part_start","data":{"part":{"part_kind":"text","content":"partial"}}}` + "\n\n"))
	}()

	<-applied
	// Consume is now blocked in Read waiting for more data.
	a.Cancel()

	select {
	case err := <-done:
		if !errors.Is(err, ErrCancelled) {
			t.Errorf("expected ErrCancelled, got %v", err)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("Consume did not return after Cancel")
	}

	if msgs := a.Snapshot(); len(msgs) != 1 || msgs[0].Content != "partial" {
		t.Errorf("partial transcript should be kept, got %+v", msgs)
	}
	if _, err := pw.Write([]byte("data: x\n\n")); err == nil {
		t.Error("transport should be released after Cancel")
	}
}

func TestConsumeContextCancel(t *testing.T) {
	pr, _ := io.Pipe()
	a := newTestAccumulator()
	ctx, cancel := context.WithCancel(context.Background())

	done := make(chan error, 1)
	go func() { done <- a.Consume(ctx, pr, Options{}) }()

	cancel()
	select {
	case err := <-done:
		if !errors.Is(err, ErrCancelled) {
			t.Errorf("expected ErrCancelled, got %v", err)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("Consume did not return after context cancel")
	}
	if !a.Cancelled() {
		t.Error("context cancellation should cancel the accumulator")
	}
}

func TestConsumeAlreadyCancelled(t *testing.T) {
	a := newTestAccumulator()
	a.Cancel()
	body := &chunkReader{data: []byte(twoFrames), size: 64}

	if err := a.Consume(context.Background(), body, Options{}); !errors.Is(err, ErrCancelled) {
		t.Fatalf("expected ErrCancelled, got %v", err)
	}
	if len(a.Snapshot()) != 0 {
		t.Error("no events should be applied")
	}
	if !body.closed {
		t.Error("body should be closed")
	}
}

func TestConsumeUnknownCharsetFallsBack(t *testing.T) {
	a := NewAccumulator(nil, logger.Discard())
	err := a.Consume(context.Background(), &chunkReader{data: []byte(twoFrames), size: 64}, Options{Charset: "klingon"})
	if err != nil {
		t.Fatalf("Consume: %v", err)
	}
	if msgs := a.Snapshot(); len(msgs) != 1 || msgs[0].Content != "AB" {
		t.Errorf("unexpected transcript %+v", msgs)
	}
}
