// Package history rebuilds a transcript from persisted conversation turns.
package history

import (
	"encoding/json"

	"nca-go/internal/logger"
	"nca-go/internal/transcript"
	"nca-go/internal/wire"
)

// Reconstruct converts persisted turns into messages, dropping turns that
// decode to nothing. The result has the same shape a live stream produces.
func Reconstruct(turns []wire.PersistedTurn) []transcript.Message {
	out := make([]transcript.Message, 0, len(turns))
	for _, t := range turns {
		if m, ok := ReconstructTurn(t); ok {
			out = append(out, m)
		}
	}
	return out
}

// FromRecords decodes each record's content and reconstructs the result.
// A record that fails to decode is logged and skipped.
func FromRecords(records []wire.HistoryRecord, log *logger.Logger) []transcript.Message {
	log = logger.OrDefault(log).WithComponent("history")

	turns := make([]wire.PersistedTurn, 0, len(records))
	for _, r := range records {
		t, err := r.Turn()
		if err != nil {
			log.WarnFields("skipping undecodable record", logger.Fields{"id": r.ID, "err": err})
			continue
		}
		turns = append(turns, t)
	}
	return Reconstruct(turns)
}

// ReconstructTurn applies the per-turn rules.
//
// A request yields its user prompt, else its tool return, else nothing.
// A response yields one tool_call message if it has any tool call part;
// otherwise its text and reasoning parts are joined into one assistant
// message. Responses with no recognised part yield nothing.
func ReconstructTurn(t wire.PersistedTurn) (transcript.Message, bool) {
	switch t.Type {
	case wire.TurnRequest:
		if p, ok := t.First(wire.UserPromptPart); ok {
			return transcript.User(p.Text()), true
		}
		if p, ok := t.First(wire.ToolReturnPart); ok {
			return transcript.ToolResult(wire.Stringify(p.Content)), true
		}
		return transcript.Message{}, false

	case wire.TurnResponse:
		if p, ok := t.First(wire.ToolCallPart); ok {
			return transcript.ToolCall(toolCallContent(p)), true
		}

		msg := transcript.Message{Role: transcript.RoleAssistant}
		matched := false
		for _, p := range t.Parts {
			switch p.Type {
			case wire.TextPart:
				msg.Content += p.Text()
				matched = true
			case wire.ReasoningPart:
				msg.Reasoning += p.Text()
				matched = true
			}
		}
		return msg, matched
	}
	return transcript.Message{}, false
}

// toolCallContent serializes a tool call part. Servers that persist only
// tool_name/args get the same payload shape as a live tool_call event.
func toolCallContent(p wire.Part) string {
	if len(p.Content) > 0 {
		return wire.Stringify(p.Content)
	}
	data, err := json.Marshal(wire.ToolCall{Name: p.ToolName, Args: p.Args, ToolCallID: p.ToolCallID})
	if err != nil {
		return ""
	}
	return wire.Stringify(data)
}
