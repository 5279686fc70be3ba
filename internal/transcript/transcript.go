// Package transcript holds the normalized message model shared by live
// streaming and history reconstruction.
package transcript

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"sync"
)

// Role identifies who produced a message.
type Role string

const (
	RoleUser       Role = "user"
	RoleAssistant  Role = "assistant"
	RoleToolCall   Role = "tool_call"
	RoleToolResult Role = "tool_result"
)

// Valid reports whether r is a known role.
func (r Role) Valid() bool {
	switch r {
	case RoleUser, RoleAssistant, RoleToolCall, RoleToolResult:
		return true
	}
	return false
}

// Channel selects one of the two growing text fields of an assistant message.
type Channel int

const (
	ChannelContent Channel = iota
	ChannelReasoning
)

func (c Channel) String() string {
	if c == ChannelReasoning {
		return "reasoning"
	}
	return "content"
}

// Message is one transcript entry.
type Message struct {
	Role      Role   `json:"role"`
	Content   string `json:"content"`
	Reasoning string `json:"reasoning,omitempty"`
}

// User returns a user message.
func User(content string) Message {
	return Message{Role: RoleUser, Content: content}
}

// Assistant returns an assistant message with text already in channel ch.
func Assistant(ch Channel, text string) Message {
	m := Message{Role: RoleAssistant}
	if ch == ChannelReasoning {
		m.Reasoning = text
	} else {
		m.Content = text
	}
	return m
}

// ToolCall returns a tool_call message carrying a serialized payload.
func ToolCall(payload string) Message {
	return Message{Role: RoleToolCall, Content: payload}
}

// ToolResult returns a tool_result message carrying a serialized payload.
func ToolResult(payload string) Message {
	return Message{Role: RoleToolResult, Content: payload}
}

// ErrNoOpenMessage is returned by AppendToLast when the last entry is not an
// assistant message.
var ErrNoOpenMessage = errors.New("no open assistant message")

// Transcript is an ordered, versioned message sequence. Only assistant
// messages can grow, and only at the end of the sequence; every other entry
// is immutable once appended. Readers get copies.
type Transcript struct {
	mu       sync.RWMutex
	messages []Message
	version  uint64
}

// New creates a transcript holding msgs.
func New(msgs ...Message) *Transcript {
	t := &Transcript{messages: make([]Message, 0, len(msgs))}
	t.messages = append(t.messages, msgs...)
	return t
}

// Append adds whole messages and returns the new version.
func (t *Transcript) Append(msgs ...Message) uint64 {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.messages = append(t.messages, msgs...)
	t.version++
	return t.version
}

// AppendToLast grows channel ch of the last message. It fails with
// ErrNoOpenMessage unless that message is an assistant message.
func (t *Transcript) AppendToLast(ch Channel, text string) error {
	t.mu.Lock()
	defer t.mu.Unlock()

	n := len(t.messages)
	if n == 0 || t.messages[n-1].Role != RoleAssistant {
		return ErrNoOpenMessage
	}
	last := &t.messages[n-1]
	if ch == ChannelReasoning {
		last.Reasoning += text
	} else {
		last.Content += text
	}
	t.version++
	return nil
}

// Snapshot returns a copy of all messages.
func (t *Transcript) Snapshot() []Message {
	t.mu.RLock()
	defer t.mu.RUnlock()
	result := make([]Message, len(t.messages))
	copy(result, t.messages)
	return result
}

// View returns a copy of all messages together with the version it reflects.
func (t *Transcript) View() ([]Message, uint64) {
	t.mu.RLock()
	defer t.mu.RUnlock()
	result := make([]Message, len(t.messages))
	copy(result, t.messages)
	return result, t.version
}

// Version increases with every mutation.
func (t *Transcript) Version() uint64 {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return t.version
}

// Len returns the number of messages.
func (t *Transcript) Len() int {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return len(t.messages)
}

// Last returns the final message, if any.
func (t *Transcript) Last() (Message, bool) {
	t.mu.RLock()
	defer t.mu.RUnlock()
	if len(t.messages) == 0 {
		return Message{}, false
	}
	return t.messages[len(t.messages)-1], true
}

// Tail returns the last n messages.
func (t *Transcript) Tail(n int) []Message {
	t.mu.RLock()
	defer t.mu.RUnlock()
	if n >= len(t.messages) {
		result := make([]Message, len(t.messages))
		copy(result, t.messages)
		return result
	}
	if n <= 0 {
		return []Message{}
	}
	result := make([]Message, n)
	copy(result, t.messages[len(t.messages)-n:])
	return result
}

// Replace swaps the whole sequence, e.g. after loading history.
func (t *Transcript) Replace(msgs []Message) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.messages = make([]Message, len(msgs))
	copy(t.messages, msgs)
	t.version++
}

// Clear removes all messages.
func (t *Transcript) Clear() {
	t.Replace(nil)
}

// Save writes the transcript to path as indented JSON.
func (t *Transcript) Save(path string) error {
	data, err := json.MarshalIndent(t.Snapshot(), "", "  ")
	if err != nil {
		return fmt.Errorf("failed to marshal transcript: %w", err)
	}
	if err := os.WriteFile(path, data, 0644); err != nil {
		return fmt.Errorf("failed to write transcript file: %w", err)
	}
	return nil
}

// Load reads a transcript written by Save. A missing file leaves the
// transcript unchanged.
func (t *Transcript) Load(path string) error {
	data, err := os.ReadFile(path)
	if os.IsNotExist(err) {
		return nil
	}
	if err != nil {
		return fmt.Errorf("failed to read transcript file: %w", err)
	}

	var messages []Message
	if err := json.Unmarshal(data, &messages); err != nil {
		return fmt.Errorf("failed to unmarshal transcript: %w", err)
	}
	for i, m := range messages {
		if !m.Role.Valid() {
			return fmt.Errorf("message %d: unknown role %q", i, m.Role)
		}
	}
	t.Replace(messages)
	return nil
}
