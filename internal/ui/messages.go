// Package ui provides the terminal UI for nca-go using Charm libraries.
package ui

import (
	"sync"

	tea "github.com/charmbracelet/bubbletea"

	"nca-go/internal/chat"
	"nca-go/internal/transcript"
)

// TranscriptMsg carries a snapshot from the chat's OnUpdate callback.
type TranscriptMsg struct {
	Messages  []transcript.Message
	Streaming bool
}

// LanguageLoadedMsg signals that a highlighting language became available,
// so code blocks waiting for it can be re-rendered.
type LanguageLoadedMsg struct {
	Name string
}

// sendDoneMsg signals that a submission has finished.
type sendDoneMsg struct {
	result chat.Result
	err    error
}

// historyMsg signals that the conversation history has been loaded.
type historyMsg struct {
	count int
	err   error
}

// revealTickMsg drives the word fade-in.
type revealTickMsg struct{}

// LoadNotifier is implemented by the language loader.
type LoadNotifier interface {
	SetOnLoaded(func(name string))
}

// Bridge forwards chat and loader callbacks, which run on their own
// goroutines, into the bubbletea event loop.
type Bridge struct {
	ch   chan tea.Msg
	done chan struct{}
	once sync.Once
}

// NewBridge hooks c and, when not nil, n. Callbacks block until the UI has
// taken the message or the bridge is closed.
func NewBridge(c *chat.Chat, n LoadNotifier) *Bridge {
	b := &Bridge{
		ch:   make(chan tea.Msg, 64),
		done: make(chan struct{}),
	}
	c.OnUpdate = func(snap []transcript.Message, streaming bool) {
		b.send(TranscriptMsg{Messages: snap, Streaming: streaming})
	}
	if n != nil {
		n.SetOnLoaded(func(name string) {
			b.send(LanguageLoadedMsg{Name: name})
		})
	}
	return b
}

// Events returns the channel the model reads from.
func (b *Bridge) Events() <-chan tea.Msg {
	return b.ch
}

// Close releases callbacks blocked on a UI that is gone.
func (b *Bridge) Close() {
	b.once.Do(func() { close(b.done) })
}

func (b *Bridge) send(msg tea.Msg) {
	select {
	case b.ch <- msg:
	case <-b.done:
	}
}
