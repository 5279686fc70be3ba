package stream

import (
	"context"
	"errors"
	"fmt"
	"io"

	"nca-go/internal/logger"
	"nca-go/internal/transcript"
	"nca-go/internal/wire"
)

// DefaultReadSize is the read buffer size used when Options.ReadSize is 0.
const DefaultReadSize = 4096

// ErrCancelled is returned by Consume when the stream was stopped by Cancel
// or by the context. The transcript keeps everything applied before that.
var ErrCancelled = errors.New("stream cancelled")

// TransportError is a read failure of the underlying byte stream.
type TransportError struct {
	Err error
}

func (e *TransportError) Error() string {
	return fmt.Sprintf("stream transport error: %v", e.Err)
}

func (e *TransportError) Unwrap() error { return e.Err }

// Options tunes Consume.
type Options struct {
	// Charset of the body, usually from Content-Type. Empty means UTF-8.
	Charset string
	// ReadSize is the size of each read from the body.
	ReadSize int
	// OnEvent is called after every applied event with a fresh snapshot.
	OnEvent func(ev wire.Event, snapshot []transcript.Message)
}

// Consume reads body until EOF, cancellation or a transport error, applying
// every parsed event. Frame-level problems are counted and logged, never
// returned. Body is always closed.
func (a *Accumulator) Consume(ctx context.Context, body io.ReadCloser, opts Options) error {
	a.attach(body)
	defer a.release(body)

	stop := context.AfterFunc(ctx, a.Cancel)
	defer stop()

	dec, err := wire.NewFrameDecoderForCharset(opts.Charset)
	if err != nil {
		a.log.Warnf("%v, decoding as utf-8", err)
		dec = wire.NewFrameDecoder()
	}

	size := opts.ReadSize
	if size <= 0 {
		size = DefaultReadSize
	}
	buf := make([]byte, size)

	for {
		if a.Cancelled() || ctx.Err() != nil {
			a.Cancel()
			return ErrCancelled
		}

		n, readErr := body.Read(buf)
		if n > 0 {
			for _, frame := range dec.Feed(buf[:n]) {
				if a.Cancelled() {
					break
				}
				a.handleFrame(frame, opts.OnEvent)
			}
		}

		if readErr == nil {
			continue
		}
		if a.Cancelled() {
			return ErrCancelled
		}
		if errors.Is(readErr, io.EOF) {
			if dropped := dec.Close(); dropped > 0 {
				a.count(func(s *Stats) { s.DroppedBytes += dropped })
				a.log.WarnFields("stream ended mid-frame", logger.Fields{"bytes": dropped})
			}
			return nil
		}
		return &TransportError{Err: readErr}
	}
}

func (a *Accumulator) handleFrame(frame string, onEvent func(wire.Event, []transcript.Message)) {
	ev, ok := a.parser.Parse(frame)
	if !ok {
		return
	}
	if a.Apply(ev) && onEvent != nil {
		onEvent(ev, a.Snapshot())
	}
}
