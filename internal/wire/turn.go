package wire

import (
	"encoding/json"
	"fmt"
)

// TurnKind tags a persisted turn.
type TurnKind string

const (
	TurnRequest  TurnKind = "model_request"
	TurnResponse TurnKind = "model_response"
)

// PartType names one fragment kind of a persisted turn.
type PartType string

const (
	UserPromptPart   PartType = "UserPromptPart"
	ToolReturnPart   PartType = "ToolReturnPart"
	TextPart         PartType = "TextPart"
	ReasoningPart    PartType = "ReasoningPart"
	ToolCallPart     PartType = "ToolCallPart"
	SystemPromptPart PartType = "SystemPromptPart"
	RetryPromptPart  PartType = "RetryPromptPart"
)

// Part is one fragment of a persisted turn. Content is kept raw because
// its shape depends on the part type.
type Part struct {
	Type       PartType        `json:"type"`
	Content    json.RawMessage `json:"content"`
	PartKind   string          `json:"part_kind,omitempty"`
	ToolName   string          `json:"tool_name,omitempty"`
	Args       json.RawMessage `json:"args,omitempty"`
	ToolCallID string          `json:"tool_call_id,omitempty"`
	Timestamp  string          `json:"timestamp,omitempty"`
}

// Text returns the part content as plain text. String content is unquoted;
// anything else is serialized.
func (p Part) Text() string {
	var s string
	if err := json.Unmarshal(p.Content, &s); err == nil {
		return s
	}
	return Stringify(p.Content)
}

// PersistedTurn is one stored request or response.
type PersistedTurn struct {
	Type  TurnKind `json:"type"`
	Parts []Part   `json:"parts"`
}

// First returns the first part of the given type.
func (t PersistedTurn) First(pt PartType) (Part, bool) {
	for _, p := range t.Parts {
		if p.Type == pt {
			return p, true
		}
	}
	return Part{}, false
}

// HistoryRecord is one row of the history endpoint. Content holds the turn
// as a JSON string.
type HistoryRecord struct {
	ID             int64  `json:"id"`
	ConversationID string `json:"conversation_id"`
	Content        string `json:"content"`
	IsUserMessage  bool   `json:"is_user_message"`
	CreatedAt      string `json:"created_at"`
	UpdatedAt      string `json:"updated_at"`
}

// Turn decodes the record's content.
func (r HistoryRecord) Turn() (PersistedTurn, error) {
	var t PersistedTurn
	if err := json.Unmarshal([]byte(r.Content), &t); err != nil {
		return t, fmt.Errorf("record %d: %w", r.ID, err)
	}
	return t, nil
}

// HistoryResponse is the history endpoint envelope.
type HistoryResponse struct {
	Status   string          `json:"status"`
	Messages []HistoryRecord `json:"messages"`
}

// DecodeHistory decodes a history endpoint body. Both the envelope and a bare
// array of records are accepted.
func DecodeHistory(data []byte) ([]HistoryRecord, error) {
	trimmed := trimLeft(data)
	if len(trimmed) > 0 && trimmed[0] == '[' {
		var recs []HistoryRecord
		if err := json.Unmarshal(trimmed, &recs); err != nil {
			return nil, fmt.Errorf("decode history: %w", err)
		}
		return recs, nil
	}

	var resp HistoryResponse
	if err := json.Unmarshal(data, &resp); err != nil {
		return nil, fmt.Errorf("decode history: %w", err)
	}
	if resp.Status != "" && resp.Status != "success" {
		return nil, fmt.Errorf("history status %q", resp.Status)
	}
	return resp.Messages, nil
}

func trimLeft(b []byte) []byte {
	for len(b) > 0 && (b[0] == ' ' || b[0] == '\n' || b[0] == '\r' || b[0] == '\t') {
		b = b[1:]
	}
	return b
}
