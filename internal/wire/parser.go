package wire

import (
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"nca-go/internal/logger"
)

// DataPrefix marks a frame line that carries a JSON payload.
const DataPrefix = "data: "

var (
	// ErrNoPayload is returned for comments, keepalives and any frame whose
	// first line is not a data line.
	ErrNoPayload = errors.New("frame carries no data payload")
	// ErrDone is returned for the "[DONE]" terminator some servers send.
	ErrDone = errors.New("stream terminator")
)

// DecodeError is a data frame whose payload is not valid JSON of the
// expected shape.
type DecodeError struct {
	Payload string
	Err     error
}

func (e *DecodeError) Error() string {
	return fmt.Sprintf("malformed event payload: %v", e.Err)
}

func (e *DecodeError) Unwrap() error { return e.Err }

// UnknownTypeError is a well-formed payload with an unrecognised type tag.
type UnknownTypeError struct {
	Type string
}

func (e *UnknownTypeError) Error() string {
	return fmt.Sprintf("unknown event type %q", e.Type)
}

type eventEnvelope struct {
	Type string    `json:"type"`
	Data eventData `json:"data"`
}

type eventData struct {
	Part       *partPayload    `json:"part"`
	Delta      *partPayload    `json:"delta"`
	ToolCall   json.RawMessage `json:"tool_call"`
	ToolResult json.RawMessage `json:"tool_result"`
}

type partPayload struct {
	PartKind  string  `json:"part_kind"`
	Content   *string `json:"content"`
	Reasoning *string `json:"reasoning"`
}

// text picks the channel text. Reasoning parts usually carry their text in
// "reasoning"; everything else uses "content".
func (p *partPayload) text() string {
	if PartKind(p.PartKind) == PartReasoning && p.Reasoning != nil {
		return *p.Reasoning
	}
	if p.Content != nil {
		return *p.Content
	}
	if p.Reasoning != nil {
		return *p.Reasoning
	}
	return ""
}

// ParseFrame decodes one frame into an Event. The returned error says why a
// frame produced no event: ErrNoPayload, ErrDone, *DecodeError or
// *UnknownTypeError.
func ParseFrame(frame string) (Event, error) {
	line := frame
	if i := strings.IndexByte(frame, '\n'); i >= 0 {
		line = frame[:i]
	}
	if !strings.HasPrefix(line, DataPrefix) {
		return Event{}, ErrNoPayload
	}
	payload := strings.TrimSpace(line[len(DataPrefix):])
	if payload == "[DONE]" {
		return Event{}, ErrDone
	}

	var env eventEnvelope
	if err := json.Unmarshal([]byte(payload), &env); err != nil {
		return Event{}, &DecodeError{Payload: payload, Err: err}
	}

	switch EventType(env.Type) {
	case EventPartStart:
		return partEvent(EventPartStart, env.Data.Part, payload)
	case EventPartDelta:
		return partEvent(EventPartDelta, env.Data.Delta, payload)
	case EventToolCall:
		return toolEvent(EventToolCall, env.Data.ToolCall, payload)
	case EventToolResult:
		return toolEvent(EventToolResult, env.Data.ToolResult, payload)
	default:
		return Event{}, &UnknownTypeError{Type: env.Type}
	}
}

func partEvent(t EventType, p *partPayload, payload string) (Event, error) {
	if p == nil {
		return Event{}, &DecodeError{Payload: payload, Err: fmt.Errorf("%s without part data", t)}
	}
	return Event{Type: t, Kind: PartKind(p.PartKind), Content: p.text()}, nil
}

func toolEvent(t EventType, raw json.RawMessage, payload string) (Event, error) {
	if len(raw) == 0 {
		return Event{}, &DecodeError{Payload: payload, Err: fmt.Errorf("%s without payload", t)}
	}
	return Event{Type: t, Payload: raw}, nil
}

// Outcome classifies a frame after parsing.
type Outcome int

const (
	// OutcomeEvent is a frame that produced an event.
	OutcomeEvent Outcome = iota
	// OutcomeIgnored covers comments, keepalives, the terminator and
	// unknown event types.
	OutcomeIgnored
	// OutcomeMalformed is a data frame that failed to decode.
	OutcomeMalformed
)

// Parser wraps ParseFrame with logging. A frame that yields no event is
// never an error for the caller.
type Parser struct {
	log   *logger.Logger
	count func(Outcome)
}

// NewParser creates a parser. A nil logger means the default logger. count,
// when set, is called once per parsed frame.
func NewParser(log *logger.Logger, count func(Outcome)) *Parser {
	return &Parser{log: logger.OrDefault(log).WithComponent("parser"), count: count}
}

// Parse returns the frame's event, or false when the frame is not one.
func (p *Parser) Parse(frame string) (Event, bool) {
	ev, err := ParseFrame(frame)
	if err == nil {
		p.record(OutcomeEvent)
		return ev, true
	}

	var decErr *DecodeError
	var typeErr *UnknownTypeError
	switch {
	case errors.As(err, &decErr):
		p.record(OutcomeMalformed)
		p.log.WarnFields("dropping malformed frame", logger.Fields{"err": decErr.Err, "payload": truncate(decErr.Payload, 120)})
	case errors.As(err, &typeErr):
		p.record(OutcomeIgnored)
		p.log.Debugf("ignoring event type %q", typeErr.Type)
	default:
		p.record(OutcomeIgnored)
	}
	return Event{}, false
}

func (p *Parser) record(o Outcome) {
	if p.count != nil {
		p.count(o)
	}
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n] + "..."
}
