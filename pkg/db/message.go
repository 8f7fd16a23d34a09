// Database models for chat messages
package db

import (
	"database/sql/driver"
	"encoding/json"
	"time"
)

// ChatMessage represents one turn of a thread. The ID doubles as the
// externally visible message id. Parts hold the ordered typed fragments of
// the message and are append-only once Status reaches completed.
type ChatMessage struct {
	ID       string `json:"id" gorm:"primaryKey;size:36"`
	ThreadID string `json:"-" gorm:"index;size:36;not null"`

	Role   string `json:"role" gorm:"size:20;not null"`                // user, assistant
	Status string `json:"status" gorm:"size:20;default:'completed'"`   // pending, streaming, completed, failed
	Parts  Parts  `json:"parts" gorm:"type:text"`                      // ordered typed fragments

	// Provider/Model tag assistant messages with the backend that produced them.
	Provider string `json:"provider,omitempty" gorm:"size:40"`
	Model    string `json:"model,omitempty" gorm:"size:100"`

	// RawEvent snapshots the terminal provider event for audit/debug.
	RawEvent RawEvent `json:"-" gorm:"type:text"`

	FinishReason string `json:"finish_reason,omitempty" gorm:"size:20"`
	Deleted      bool   `json:"-" gorm:"default:false"`

	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

func (ChatMessage) TableName() string {
	return "chat_messages"
}

// Message roles.
const (
	RoleUser      = "user"
	RoleAssistant = "assistant"
	RoleSystem    = "system"
	RoleTool      = "tool"
)

// Message lifecycle status.
const (
	MessageStatusPending   = "pending"
	MessageStatusStreaming = "streaming"
	MessageStatusCompleted = "completed"
	MessageStatusFailed    = "failed"
)

// Finish reasons.
const (
	FinishReasonStop      = "stop"
	FinishReasonToolCalls = "tool_calls"
	FinishReasonLength    = "length"
	FinishReasonError     = "error"
	FinishReasonCancelled = "cancelled"
)

// Part type constants
const (
	PartTypeText       = "text"
	PartTypeReasoning  = "reasoning"
	PartTypeToolCall   = "tool_call"
	PartTypeToolResult = "tool_result"
	PartTypeToolError  = "tool_error"
)

// Part is one typed fragment of a message.
type Part struct {
	Type string `json:"type"`

	// Index groups parts by agentic round for multi-step generations.
	Index int `json:"index,omitempty"`

	// Text content (text, reasoning, tool_error types)
	Text string `json:"text,omitempty"`

	// Tool call fields (tool_call type)
	ToolCallID string `json:"tool_call_id,omitempty"`
	ToolName   string `json:"tool_name,omitempty"`
	ToolArgs   string `json:"tool_args,omitempty"` // JSON string

	// Tool result fields (tool_result type)
	ToolContent string `json:"tool_content,omitempty"`
}

// Parts is an ordered slice of Part stored as JSON.
type Parts []Part

// Value implements driver.Valuer for database storage
func (p Parts) Value() (driver.Value, error) {
	if len(p) == 0 {
		return nil, nil
	}
	return json.Marshal(p)
}

// Scan implements sql.Scanner for database retrieval
func (p *Parts) Scan(value interface{}) error {
	if value == nil {
		return nil
	}
	switch v := value.(type) {
	case []byte:
		return json.Unmarshal(v, p)
	case string:
		return json.Unmarshal([]byte(v), p)
	default:
		return nil
	}
}

// RawEvent is an opaque JSON snapshot stored as text.
type RawEvent map[string]interface{}

// Value implements driver.Valuer for database storage
func (r RawEvent) Value() (driver.Value, error) {
	if len(r) == 0 {
		return nil, nil
	}
	return json.Marshal(r)
}

// Scan implements sql.Scanner for database retrieval
func (r *RawEvent) Scan(value interface{}) error {
	if value == nil {
		return nil
	}
	switch v := value.(type) {
	case []byte:
		return json.Unmarshal(v, r)
	case string:
		return json.Unmarshal([]byte(v), r)
	default:
		return nil
	}
}

// ========== ChatMessage helper methods ==========

// AddTextPart appends a text part to the message (in-memory only).
func (m *ChatMessage) AddTextPart(text string, roundIndex int) {
	m.Parts = append(m.Parts, Part{Type: PartTypeText, Index: roundIndex, Text: text})
}

// AddReasoningPart appends a reasoning part to the message (in-memory only).
func (m *ChatMessage) AddReasoningPart(text string, roundIndex int) {
	m.Parts = append(m.Parts, Part{Type: PartTypeReasoning, Index: roundIndex, Text: text})
}

// AddToolCallPart appends a tool call part to the message (in-memory only).
func (m *ChatMessage) AddToolCallPart(id, name, arguments string, roundIndex int) {
	m.Parts = append(m.Parts, Part{
		Type:       PartTypeToolCall,
		Index:      roundIndex,
		ToolCallID: id,
		ToolName:   name,
		ToolArgs:   arguments,
	})
}

// AddToolResultPart appends a tool result part to the message (in-memory only).
func (m *ChatMessage) AddToolResultPart(toolCallID, name, content string, roundIndex int) {
	m.Parts = append(m.Parts, Part{
		Type:        PartTypeToolResult,
		Index:       roundIndex,
		ToolCallID:  toolCallID,
		ToolName:    name,
		ToolContent: content,
	})
}

// AddToolErrorPart appends a tool error part to the message (in-memory only).
func (m *ChatMessage) AddToolErrorPart(toolCallID, name, errText string, roundIndex int) {
	m.Parts = append(m.Parts, Part{
		Type:       PartTypeToolError,
		Index:      roundIndex,
		ToolCallID: toolCallID,
		ToolName:   name,
		Text:       errText,
	})
}

// TextContent returns all text parts concatenated.
func (m *ChatMessage) TextContent() string {
	var result string
	for _, part := range m.Parts {
		if part.Type == PartTypeText && part.Text != "" {
			if result != "" {
				result += "\n"
			}
			result += part.Text
		}
	}
	return result
}

// MaxRoundIndex returns the highest round index among the parts.
func (m *ChatMessage) MaxRoundIndex() int {
	maxIndex := 0
	for _, part := range m.Parts {
		if part.Index > maxIndex {
			maxIndex = part.Index
		}
	}
	return maxIndex
}
