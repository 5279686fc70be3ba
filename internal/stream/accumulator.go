// Package stream folds a server-sent event stream into a transcript.
package stream

import (
	"io"
	"sync"
	"sync/atomic"

	"nca-go/internal/logger"
	"nca-go/internal/transcript"
	"nca-go/internal/wire"
)

// Stats counts what happened to the frames and events of one stream.
type Stats struct {
	Frames       int  `json:"frames"`
	Events       int  `json:"events"`
	Ignored      int  `json:"ignored"`
	Malformed    int  `json:"malformed"`
	OutOfOrder   int  `json:"out_of_order"`
	Unsupported  int  `json:"unsupported"`
	DroppedBytes int  `json:"dropped_bytes"`
	Cancelled    bool `json:"cancelled"`
}

// Dropped returns the number of units lost to decode or sequence errors.
func (s Stats) Dropped() int {
	return s.Malformed + s.OutOfOrder
}

// Accumulator applies events to a transcript. It is single-writer: Apply
// calls are serialized, and readers only ever receive snapshots.
type Accumulator struct {
	mu        sync.Mutex
	tr        *transcript.Transcript
	stats     Stats
	cancelled atomic.Bool
	closer    io.Closer
	closeOnce sync.Once
	parser    *wire.Parser
	log       *logger.Logger
}

// NewAccumulator returns an accumulator appending to tr. A nil transcript
// starts empty; a nil logger means the default logger.
func NewAccumulator(tr *transcript.Transcript, log *logger.Logger) *Accumulator {
	if tr == nil {
		tr = transcript.New()
	}
	a := &Accumulator{
		tr:  tr,
		log: logger.OrDefault(log).WithComponent("stream"),
	}
	a.parser = wire.NewParser(a.log, a.countFrame)
	return a
}

func channelOf(kind wire.PartKind) (transcript.Channel, bool) {
	switch kind {
	case wire.PartText:
		return transcript.ChannelContent, true
	case wire.PartReasoning:
		return transcript.ChannelReasoning, true
	}
	return 0, false
}

// Apply folds one event into the transcript and reports whether it changed.
// Events after Cancel, deltas without an open assistant message and part
// kinds other than text and reasoning are dropped.
func (a *Accumulator) Apply(ev wire.Event) bool {
	if a.cancelled.Load() {
		return false
	}

	a.mu.Lock()
	defer a.mu.Unlock()

	// Re-check under the lock so nothing lands after Cancel returns.
	if a.cancelled.Load() {
		return false
	}

	switch {
	case ev.IsPart():
		ch, ok := channelOf(ev.Kind)
		if !ok {
			a.stats.Unsupported++
			a.log.Debugf("ignoring %s for part kind %q", ev.Type, ev.Kind)
			return false
		}
		if ev.Type == wire.EventPartStart {
			a.tr.Append(transcript.Assistant(ch, ev.Content))
			break
		}
		if err := a.tr.AppendToLast(ch, ev.Content); err != nil {
			a.stats.OutOfOrder++
			a.log.WarnFields("dropping delta", logger.Fields{"err": err, "channel": ch})
			return false
		}
	case ev.Type == wire.EventToolCall:
		a.tr.Append(transcript.ToolCall(ev.PayloadString()))
	case ev.Type == wire.EventToolResult:
		a.tr.Append(transcript.ToolResult(ev.PayloadString()))
	default:
		a.stats.Ignored++
		return false
	}

	a.stats.Events++
	return true
}

// Cancel stops the accumulator. Later Apply calls are refused, and the
// transport registered by Consume is closed so a blocked read returns.
// Messages already applied stay in the transcript.
func (a *Accumulator) Cancel() {
	a.cancelled.Store(true)

	a.mu.Lock()
	a.stats.Cancelled = true
	c := a.closer
	a.mu.Unlock()

	a.release(c)
}

// Cancelled reports whether Cancel has been called.
func (a *Accumulator) Cancelled() bool {
	return a.cancelled.Load()
}

// Snapshot returns an immutable copy of the transcript.
func (a *Accumulator) Snapshot() []transcript.Message {
	return a.tr.Snapshot()
}

// Transcript returns the underlying transcript.
func (a *Accumulator) Transcript() *transcript.Transcript {
	return a.tr
}

// Stats returns the counters collected so far.
func (a *Accumulator) Stats() Stats {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.stats
}

func (a *Accumulator) count(fn func(*Stats)) {
	a.mu.Lock()
	fn(&a.stats)
	a.mu.Unlock()
}

func (a *Accumulator) countFrame(o wire.Outcome) {
	a.count(func(s *Stats) {
		s.Frames++
		switch o {
		case wire.OutcomeMalformed:
			s.Malformed++
		case wire.OutcomeIgnored:
			s.Ignored++
		}
	})
}

func (a *Accumulator) attach(c io.Closer) {
	a.mu.Lock()
	a.closer = c
	a.mu.Unlock()
	// Cancel may have run before the body was attached.
	if a.cancelled.Load() {
		a.release(c)
	}
}

func (a *Accumulator) release(c io.Closer) {
	if c == nil {
		return
	}
	a.closeOnce.Do(func() {
		if err := c.Close(); err != nil {
			a.log.Debugf("closing stream body: %v", err)
		}
	})
}
