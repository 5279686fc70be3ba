// Package chat drives one conversation: it loads the persisted history,
// submits prompts and folds the streamed answer into the transcript.
package chat

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"nca-go/internal/api"
	"nca-go/internal/history"
	"nca-go/internal/logger"
	"nca-go/internal/session"
	"nca-go/internal/stream"
	"nca-go/internal/transcript"
	"nca-go/internal/wire"
)

// ErrBusy is returned when a submission is already streaming.
var ErrBusy = errors.New("a response is still streaming")

// Backend is the part of the chat server a conversation needs.
type Backend interface {
	Submit(ctx context.Context, prompt, conversationID string) (*api.Stream, error)
	History(ctx context.Context, conversationID string) ([]wire.HistoryRecord, error)
}

// Options configures a Chat.
type Options struct {
	// Store records the conversation after its first answer. Optional.
	Store session.Store
	// ReadSize is passed to the stream consumer.
	ReadSize int
	Logger   *logger.Logger
}

// Result describes one finished submission.
type Result struct {
	Stats     stream.Stats
	Cancelled bool
	Elapsed   time.Duration
}

// Chat is one conversation and its transcript.
type Chat struct {
	backend Backend
	store   session.Store
	tr      *transcript.Transcript
	opts    Options
	log     *logger.Logger

	mu      sync.Mutex
	sess    *session.Session
	running bool
	acc     *stream.Accumulator
	cancel  context.CancelFunc

	// OnUpdate receives a snapshot after every change. streaming is true
	// while a response is arriving.
	OnUpdate func(snapshot []transcript.Message, streaming bool)
	// OnComplete fires when a submission ends, including cancelled ones.
	OnComplete func(Result)
	// OnError fires for submit and transport failures.
	OnError func(error)
}

// New creates a chat for sess. A nil session starts a new conversation.
func New(backend Backend, sess *session.Session, opts Options) *Chat {
	if sess == nil {
		sess = session.New()
	}
	return &Chat{
		backend: backend,
		store:   opts.Store,
		tr:      transcript.New(),
		opts:    opts,
		sess:    sess,
		log:     logger.OrDefault(opts.Logger).WithComponent("chat").WithField("conversation", sess.ID),
	}
}

// Session returns the current conversation.
func (c *Chat) Session() *session.Session {
	c.mu.Lock()
	defer c.mu.Unlock()
	s := *c.sess
	return &s
}

// Transcript returns the conversation transcript.
func (c *Chat) Transcript() *transcript.Transcript {
	return c.tr
}

// IsRunning reports whether a response is streaming.
func (c *Chat) IsRunning() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.running
}

// Reset switches to another conversation and clears the transcript.
func (c *Chat) Reset(sess *session.Session) error {
	if sess == nil {
		sess = session.New()
	}
	c.mu.Lock()
	if c.running {
		c.mu.Unlock()
		return ErrBusy
	}
	c.sess = sess
	c.log = logger.OrDefault(c.opts.Logger).WithComponent("chat").WithField("conversation", sess.ID)
	c.mu.Unlock()

	c.tr.Clear()
	c.update(false)
	return nil
}

// Load replaces the transcript with the server's history of the current
// conversation and returns the number of messages.
func (c *Chat) Load(ctx context.Context) (int, error) {
	c.mu.Lock()
	if c.running {
		c.mu.Unlock()
		return 0, ErrBusy
	}
	id := c.sess.ID
	log := c.log
	c.mu.Unlock()

	records, err := c.backend.History(ctx, id)
	if err != nil {
		return 0, fmt.Errorf("load history: %w", err)
	}
	msgs := history.FromRecords(records, log)
	c.tr.Replace(msgs)
	log.Debugf("loaded %d records into %d messages", len(records), len(msgs))
	c.update(false)
	return len(msgs), nil
}

// Send submits a prompt and blocks until the answer has streamed in, the
// stream fails or Cancel is called. The prompt is shown immediately. A
// cancelled submission returns stream.ErrCancelled and keeps what arrived.
func (c *Chat) Send(ctx context.Context, prompt string) (Result, error) {
	ctx, cancel := context.WithCancel(ctx)
	acc := stream.NewAccumulator(c.tr, c.opts.Logger)

	c.mu.Lock()
	if c.running {
		c.mu.Unlock()
		cancel()
		return Result{}, ErrBusy
	}
	c.running = true
	c.acc = acc
	c.cancel = cancel
	sess := c.sess
	log := c.log
	c.mu.Unlock()

	defer func() {
		c.mu.Lock()
		c.running = false
		c.acc = nil
		c.cancel = nil
		c.mu.Unlock()
		cancel()
	}()

	start := time.Now()
	c.tr.Append(transcript.User(prompt))
	c.update(true)

	st, err := c.backend.Submit(ctx, prompt, sess.ID)
	if err != nil {
		if ctx.Err() != nil || acc.Cancelled() {
			return c.finish(acc, start, true), stream.ErrCancelled
		}
		c.handleError(err)
		c.update(false)
		return Result{Elapsed: time.Since(start)}, err
	}

	err = acc.Consume(ctx, st.Body, stream.Options{
		Charset:  st.Charset,
		ReadSize: c.opts.ReadSize,
		OnEvent: func(_ wire.Event, snap []transcript.Message) {
			c.emit(snap, true)
		},
	})

	switch {
	case errors.Is(err, stream.ErrCancelled):
		log.Info("response cancelled")
		return c.finish(acc, start, true), err
	case err != nil:
		c.handleError(err)
		res := c.finish(acc, start, false)
		return res, err
	}

	res := c.finish(acc, start, false)
	c.remember(ctx, sess, prompt)
	return res, nil
}

// Cancel stops the submission in progress. Messages already received stay.
func (c *Chat) Cancel() {
	c.mu.Lock()
	acc, cancel := c.acc, c.cancel
	c.mu.Unlock()

	if acc != nil {
		acc.Cancel()
	}
	if cancel != nil {
		cancel()
	}
}

func (c *Chat) finish(acc *stream.Accumulator, start time.Time, cancelled bool) Result {
	res := Result{Stats: acc.Stats(), Cancelled: cancelled, Elapsed: time.Since(start)}
	if res.Stats.Dropped() > 0 {
		c.log.WarnFields("response had dropped frames", logger.Fields{
			"malformed":    res.Stats.Malformed,
			"out_of_order": res.Stats.OutOfOrder,
		})
	}
	c.update(false)
	if c.OnComplete != nil {
		c.OnComplete(res)
	}
	return res
}

// remember records the conversation in the local index. The title comes
// from the first prompt and is never overwritten.
func (c *Chat) remember(ctx context.Context, sess *session.Session, prompt string) {
	if c.store == nil {
		return
	}
	c.mu.Lock()
	if sess.Title == "" {
		sess.Title = session.TitleFromPrompt(prompt)
	}
	sess.UpdatedAt = time.Now().UTC()
	saved := *sess
	c.mu.Unlock()

	if err := c.store.Save(context.WithoutCancel(ctx), &saved); err != nil {
		c.log.WarnFields("failed to save session", logger.Fields{"err": err})
	}
}

func (c *Chat) update(streaming bool) {
	c.emit(c.tr.Snapshot(), streaming)
}

func (c *Chat) emit(snap []transcript.Message, streaming bool) {
	if c.OnUpdate != nil {
		c.OnUpdate(snap, streaming)
	}
}

// handleError handles errors.
func (c *Chat) handleError(err error) {
	c.log.Errorf("submission failed: %v", err)
	if c.OnError != nil {
		c.OnError(err)
	}
}
