// API types for the chat surface
package models

import (
	"github.com/loomchat/loomchat/pkg/db"
)

// ========== Type aliases for database types ==========
// These allow other packages to use models.Thread instead of db.Thread.

type Thread = db.Thread
type ChatMessage = db.ChatMessage
type Part = db.Part
type Project = db.Project
type User = db.User

// ========== Requests ==========

// CreateThreadRequest starts a new thread from a first prompt. An empty
// Model falls back to the configured default model.
type CreateThreadRequest struct {
	Model        string  `json:"model"`
	Prompt       string  `json:"prompt" binding:"required"`
	ProjectToken *string `json:"project,omitempty"`
}

// PostMessageRequest appends a user message to an existing thread and streams
// the assistant reply back. An empty Model falls back to the configured
// default model.
type PostMessageRequest struct {
	Model      string   `json:"model"`
	NewMessage string   `json:"newMessage" binding:"required"`
	MCPServers []string `json:"mcpServers,omitempty"`
	WebSearch  bool     `json:"webSearch,omitempty"`
}

// RenameThreadRequest renames a thread from the sidebar.
type RenameThreadRequest struct {
	Name string `json:"name" binding:"required"`
}

// ========== Project requests ==========

type CreateProjectRequest struct {
	Name         string `json:"name" binding:"required"`
	Instructions string `json:"instructions,omitempty"`
}

type UpdateProjectRequest struct {
	Name         *string `json:"name,omitempty"`
	Instructions *string `json:"instructions,omitempty"`
}

// ========== Responses ==========

// ThreadListResponse is the paginated sidebar listing.
type ThreadListResponse struct {
	Threads []Thread `json:"threads"`
	HasMore bool     `json:"has_more"`
}

// ========== Streaming types ==========

// Stream event types emitted over the SSE response of POST /threads/:token.
const (
	ChunkTypeStart      = "start"       // assistant message created, carries MessageID
	ChunkTypeText       = "text"        // text delta
	ChunkTypeReasoning  = "reasoning"   // reasoning delta
	ChunkTypeToolCall   = "tool_call"   // model requested a tool invocation
	ChunkTypeToolResult = "tool_result" // tool execution result
	ChunkTypeError      = "error"       // readable error text, stream stays open
	ChunkTypeFinish     = "finish"      // terminal event, carries finish reason
)

// StreamChunk is one message event relayed to the client while the assistant
// reply is being generated.
type StreamChunk struct {
	Type        string `json:"type"`
	MessageID   string `json:"message_id,omitempty"`
	ThreadToken string `json:"thread,omitempty"`
	Model       string `json:"model,omitempty"`

	// Delta text (text, reasoning, error types)
	Text string `json:"text,omitempty"`

	// Tool fields (tool_call, tool_result types)
	ToolCallID string `json:"tool_call_id,omitempty"`
	ToolName   string `json:"tool_name,omitempty"`
	ToolArgs   string `json:"tool_args,omitempty"`
	ToolOutput string `json:"tool_output,omitempty"`

	// FinishReason is set on finish chunks: stop, tool_calls, length, error, cancelled.
	FinishReason string `json:"finish_reason,omitempty"`
}

// ========== Model catalog ==========

// ModelEntry is one row of GET /models.
type ModelEntry struct {
	ID         string `json:"id"`
	Name       string `json:"name"`
	Provider   string `json:"provider"`
	Reasoning  bool   `json:"reasoning"`
	Fast       bool   `json:"fast"`
	Attachment bool   `json:"attachment"`
	ToolCall   bool   `json:"tool_call"`
}
