// Package wire defines the chat server's streaming and persistence protocol:
// the SSE frame decoder, the event parser and the persisted turn records.
package wire

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"strconv"
)

// EventType is the tag of a streamed event.
type EventType string

const (
	EventPartStart  EventType = "part_start"
	EventPartDelta  EventType = "part_delta"
	EventToolCall   EventType = "tool_call"
	EventToolResult EventType = "tool_result"
)

// PartKind selects the text channel a part event writes to.
type PartKind string

const (
	PartText      PartKind = "text"
	PartReasoning PartKind = "reasoning"
)

// Event is one decoded stream instruction.
//
// Part events (part_start, part_delta) carry Kind and Content. Tool events
// carry the raw tool_call / tool_result object in Payload.
type Event struct {
	Type    EventType
	Kind    PartKind
	Content string
	Payload json.RawMessage
}

// IsPart reports whether the event writes into an assistant message.
func (e Event) IsPart() bool {
	return e.Type == EventPartStart || e.Type == EventPartDelta
}

// PayloadString returns the tool payload serialized as compact JSON.
func (e Event) PayloadString() string {
	return Stringify(e.Payload)
}

// ToolCall is the payload of a tool_call event.
type ToolCall struct {
	Name       string          `json:"name"`
	Args       json.RawMessage `json:"args,omitempty"`
	ToolCallID string          `json:"tool_call_id,omitempty"`
}

// ToolResult is the payload of a tool_result event.
type ToolResult struct {
	Name       string          `json:"name"`
	Content    json.RawMessage `json:"content,omitempty"`
	ToolCallID string          `json:"tool_call_id,omitempty"`
	Timestamp  string          `json:"timestamp,omitempty"`
}

// DecodeToolCall decodes a serialized tool_call payload, as stored in a
// transcript message.
func DecodeToolCall(payload string) (ToolCall, error) {
	var tc ToolCall
	if err := json.Unmarshal([]byte(payload), &tc); err != nil {
		return tc, fmt.Errorf("decode tool_call: %w", err)
	}
	if tc.Name == "" {
		return tc, errors.New("decode tool_call: missing name")
	}
	return tc, nil
}

// DecodeToolResult decodes a serialized tool_result payload.
func DecodeToolResult(payload string) (ToolResult, error) {
	var tr ToolResult
	if err := json.Unmarshal([]byte(payload), &tr); err != nil {
		return tr, fmt.Errorf("decode tool_result: %w", err)
	}
	if len(tr.Content) == 0 {
		return tr, errors.New("decode tool_result: missing content")
	}
	return tr, nil
}

// Stringify re-serializes a raw JSON value compactly, keeping key order.
// Escape sequences are decoded, so "caf\u00e9" comes out as "café" and
// HTML characters stay literal. Input that is not a single JSON value is
// returned as is.
func Stringify(raw json.RawMessage) string {
	raw = bytes.TrimSpace(raw)
	if len(raw) == 0 {
		return ""
	}
	var buf bytes.Buffer
	if err := reencode(raw, &buf); err != nil {
		return string(raw)
	}
	return buf.String()
}

type level struct {
	object bool
	n      int // keys and values written so far
}

func reencode(raw []byte, out *bytes.Buffer) error {
	dec := json.NewDecoder(bytes.NewReader(raw))
	dec.UseNumber()
	enc := json.NewEncoder(out)
	enc.SetEscapeHTML(false)

	var stack []level
	values := 0
	for {
		tok, err := dec.Token()
		if err == io.EOF {
			break
		}
		if err != nil {
			return err
		}

		if d, ok := tok.(json.Delim); ok && (d == '}' || d == ']') {
			stack = stack[:len(stack)-1]
			out.WriteByte(byte(d))
			continue
		}
		if len(stack) == 0 {
			if values > 0 {
				return errors.New("more than one JSON value")
			}
			values++
		} else {
			top := &stack[len(stack)-1]
			switch {
			case top.object && top.n%2 == 1:
				out.WriteByte(':')
			case top.n > 0:
				out.WriteByte(',')
			}
			top.n++
		}

		switch v := tok.(type) {
		case json.Delim:
			out.WriteByte(byte(v))
			stack = append(stack, level{object: v == '{'})
		case string:
			if err := enc.Encode(v); err != nil {
				return err
			}
			out.Truncate(out.Len() - 1) // Encode appends a newline
		case json.Number:
			out.WriteString(v.String())
		case bool:
			out.WriteString(strconv.FormatBool(v))
		case nil:
			out.WriteString("null")
		}
	}
	if len(stack) != 0 || values == 0 {
		return io.ErrUnexpectedEOF
	}
	return nil
}
