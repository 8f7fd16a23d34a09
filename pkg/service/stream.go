// Streaming generation pipeline
package service

import (
	"context"
	"errors"
	"fmt"
	"io"
	"strings"
	"time"
	"unicode"

	"github.com/cloudwego/eino/adk"
	"github.com/cloudwego/eino/components/tool"
	"github.com/cloudwego/eino/compose"
	"github.com/cloudwego/eino/schema"
	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/loomchat/loomchat/pkg/db"
	"github.com/loomchat/loomchat/pkg/models"
	"github.com/loomchat/loomchat/pkg/prompt"
	"github.com/loomchat/loomchat/pkg/registry"
)

// StreamMessage appends a user message to an owned thread and streams the
// assistant reply. The user message is persisted, and the thread's activity
// timestamp bumped with it, before the model id is resolved, so a typed
// message survives a bad model selection and still surfaces the thread at the
// top of the listing; the thread lookup itself must succeed before anything
// is written.
func (s *ChatService) StreamMessage(ctx context.Context, userID, token string, req *models.PostMessageRequest) (<-chan *models.StreamChunk, error) {
	thread, err := s.findOwnedThread(userID, token)
	if err != nil {
		return nil, err
	}

	userMsg := &db.ChatMessage{
		ID:       uuid.New().String(),
		ThreadID: thread.ID,
		Role:     db.RoleUser,
		Status:   db.MessageStatusCompleted,
		Parts:    db.Parts{{Type: db.PartTypeText, Text: req.NewMessage}},
	}
	err = s.db.Transaction(func(tx *gorm.DB) error {
		if err := tx.Create(userMsg).Error; err != nil {
			return err
		}
		return tx.Model(&db.Thread{}).Where("id = ?", thread.ID).
			Update("last_messaged_at", time.Now()).Error
	})
	if err != nil {
		return nil, fmt.Errorf("failed to save user message: %w", err)
	}

	modelID := req.Model
	if modelID == "" {
		modelID = s.cfg.DefaultModel()
	}
	entry, err := s.models.Resolve(modelID)
	if err != nil {
		return nil, err
	}

	// History snapshot includes the just-saved user message and predates the
	// assistant row.
	history, err := s.history(thread.ID)
	if err != nil {
		return nil, err
	}

	assistantMsg := &db.ChatMessage{
		ID:       uuid.New().String(),
		ThreadID: thread.ID,
		Role:     db.RoleAssistant,
		Status:   db.MessageStatusPending,
		Provider: entry.Provider,
		Model:    entry.ID,
	}
	run := &db.Run{ID: uuid.New().String(), ThreadID: thread.ID}
	step := &db.RunStep{
		ID:        uuid.New().String(),
		RunID:     run.ID,
		Provider:  entry.Provider,
		Model:     entry.ID,
		MessageID: assistantMsg.ID,
	}
	err = s.db.Transaction(func(tx *gorm.DB) error {
		if err := tx.Create(assistantMsg).Error; err != nil {
			return err
		}
		if err := tx.Create(run).Error; err != nil {
			return err
		}
		return tx.Create(step).Error
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create assistant message: %w", err)
	}

	chunks := make(chan *models.StreamChunk, 100)

	timeout, err := time.ParseDuration(s.cfg.GenerationTimeout())
	if err != nil {
		timeout = 10 * time.Minute
	}
	streamCtx, cancel := context.WithTimeout(ctx, timeout)

	go func() {
		defer close(chunks)
		defer cancel()

		finalMsg, err := s.runAgent(streamCtx, entry, thread, req, history, assistantMsg, chunks)
		if err != nil {
			// Finalize against the request context, not the generation
			// context: a timed-out run still has a connected client waiting
			// for the terminal chunks.
			s.finalizeFailure(ctx, entry, finalMsg, err, chunks)
		}

		s.db.Model(&db.Thread{}).Where("id = ?", thread.ID).
			Update("last_messaged_at", time.Now())
	}()

	return chunks, nil
}

// runAgent drives one streaming generation and persists the assistant message
// as rounds complete. It returns the message in its latest saved state.
func (s *ChatService) runAgent(ctx context.Context, entry *registry.Entry, thread *db.Thread, req *models.PostMessageRequest, history []db.ChatMessage, assistantMsg *db.ChatMessage, chunks chan<- *models.StreamChunk) (*db.ChatMessage, error) {
	chatModel, err := s.models.ChatModel(ctx, entry)
	if err != nil {
		return assistantMsg, fmt.Errorf("failed to get chat model: %w", err)
	}

	var baseTools []tool.BaseTool
	if s.tools != nil && len(req.MCPServers) > 0 {
		for _, t := range s.tools.GetTools(ctx, req.MCPServers) {
			baseTools = append(baseTools, t)
		}
	}

	systemPrompt := prompt.BuildSystemPrompt(prompt.Options{
		WebSearchEnabled:    req.WebSearch && s.cfg.WebSearchEnabled(),
		ModelID:             entry.ID,
		ProjectInstructions: s.projectInstructions(thread),
		Override:            s.cfg.Models.SystemPromptOverride,
	})

	input := prompt.BuildModelInput("", history, "")

	agent, err := adk.NewChatModelAgent(ctx, &adk.ChatModelAgentConfig{
		Name:          "Loom",
		Description:   "A conversational assistant with optional external tools",
		Instruction:   systemPrompt,
		Model:         chatModel,
		ToolsConfig:   adk.ToolsConfig{ToolsNodeConfig: compose.ToolsNodeConfig{Tools: baseTools}},
		MaxIterations: maxAgentSteps,
	})
	if err != nil {
		return assistantMsg, fmt.Errorf("failed to create agent: %w", err)
	}

	send := func(chunk *models.StreamChunk) {
		select {
		case chunks <- chunk:
		case <-ctx.Done():
		}
	}

	send(&models.StreamChunk{
		Type:        models.ChunkTypeStart,
		MessageID:   assistantMsg.ID,
		ThreadToken: thread.Token,
		Model:       entry.ID,
	})

	if err := s.setStatus(assistantMsg, db.MessageStatusStreaming, ""); err != nil {
		return assistantMsg, err
	}

	iter := agent.Run(ctx, &adk.AgentInput{Messages: input, EnableStreaming: true})

	round := 0
	advanceRound := false

	for {
		select {
		case <-ctx.Done():
			return assistantMsg, ctx.Err()
		default:
		}

		part, ok := iter.Next()
		if !ok {
			break
		}
		if part.Err != nil {
			return assistantMsg, fmt.Errorf("agent error: %w", part.Err)
		}

		switch part.Output.MessageOutput.Role {
		case schema.Tool:
			fullMsg, err := part.Output.MessageOutput.GetMessage()
			if err != nil {
				s.logger.Error("failed to read tool result", "error", err)
				continue
			}
			assistantMsg.AddToolResultPart(fullMsg.ToolCallID, fullMsg.ToolName, fullMsg.Content, round)
			if err := s.saveMessage(assistantMsg); err != nil {
				return assistantMsg, err
			}
			send(&models.StreamChunk{
				Type:       models.ChunkTypeToolResult,
				MessageID:  assistantMsg.ID,
				ToolCallID: fullMsg.ToolCallID,
				ToolName:   fullMsg.ToolName,
				ToolOutput: fullMsg.Content,
			})

		case schema.Assistant:
			if advanceRound {
				round++
				advanceRound = false
			}

			var streamParts []*schema.Message
			if part.Output.MessageOutput.MessageStream != nil {
				for {
					chunk, err := part.Output.MessageOutput.MessageStream.Recv()
					if errors.Is(err, io.EOF) {
						break
					}
					if err != nil {
						return assistantMsg, fmt.Errorf("stream error: %w", err)
					}
					streamParts = append(streamParts, chunk)

					for _, word := range splitWords(chunk.Content) {
						send(&models.StreamChunk{
							Type:      models.ChunkTypeText,
							MessageID: assistantMsg.ID,
							Text:      word,
						})
					}
					if chunk.ReasoningContent != "" {
						send(&models.StreamChunk{
							Type:      models.ChunkTypeReasoning,
							MessageID: assistantMsg.ID,
							Text:      chunk.ReasoningContent,
						})
					}
				}
			} else {
				fullMsg, err := part.Output.MessageOutput.GetMessage()
				if err != nil {
					return assistantMsg, fmt.Errorf("failed to read assistant message: %w", err)
				}
				streamParts = append(streamParts, fullMsg)
				for _, word := range splitWords(fullMsg.Content) {
					send(&models.StreamChunk{
						Type:      models.ChunkTypeText,
						MessageID: assistantMsg.ID,
						Text:      word,
					})
				}
			}

			streamedMsg, err := schema.ConcatMessages(streamParts)
			if err != nil {
				return assistantMsg, fmt.Errorf("failed to concat messages: %w", err)
			}

			if streamedMsg.ReasoningContent != "" {
				assistantMsg.AddReasoningPart(streamedMsg.ReasoningContent, round)
			}
			if streamedMsg.Content != "" {
				assistantMsg.AddTextPart(streamedMsg.Content, round)
			}

			if len(streamedMsg.ToolCalls) > 0 {
				for _, tc := range streamedMsg.ToolCalls {
					assistantMsg.AddToolCallPart(tc.ID, tc.Function.Name, tc.Function.Arguments, round)
					send(&models.StreamChunk{
						Type:       models.ChunkTypeToolCall,
						MessageID:  assistantMsg.ID,
						ToolCallID: tc.ID,
						ToolName:   tc.Function.Name,
						ToolArgs:   tc.Function.Arguments,
					})
				}
				advanceRound = true
				if err := s.saveMessage(assistantMsg); err != nil {
					return assistantMsg, err
				}
			} else {
				if err := s.finalizeSuccess(assistantMsg, db.FinishReasonStop, round); err != nil {
					return assistantMsg, err
				}
			}
		}
	}

	if assistantMsg.Status != db.MessageStatusCompleted {
		if err := s.finalizeSuccess(assistantMsg, db.FinishReasonStop, round); err != nil {
			return assistantMsg, err
		}
	}

	send(&models.StreamChunk{
		Type:         models.ChunkTypeFinish,
		MessageID:    assistantMsg.ID,
		FinishReason: assistantMsg.FinishReason,
	})
	return assistantMsg, nil
}

// finalizeSuccess marks the message completed and snapshots the terminal
// event. Once completed the message never changes again.
func (s *ChatService) finalizeSuccess(msg *db.ChatMessage, finishReason string, round int) error {
	msg.Status = db.MessageStatusCompleted
	msg.FinishReason = finishReason
	msg.RawEvent = db.RawEvent{
		"finish_reason": finishReason,
		"model":         msg.Model,
		"rounds":        round + 1,
	}
	return s.saveMessage(msg)
}

// finalizeFailure persists the terminal state after an agent error and tells
// the client what happened before the stream closes. Hitting the step cap is
// not a failure: the partial output is kept, the message completes, and the
// notice goes out as plain text rather than an error.
func (s *ChatService) finalizeFailure(ctx context.Context, entry *registry.Entry, msg *db.ChatMessage, runErr error, chunks chan<- *models.StreamChunk) {
	s.logger.Error("generation failed", "messageID", msg.ID, "error", runErr)

	friendly := formatProviderError(runErr)
	msg.AddTextPart(friendly, msg.MaxRoundIndex())

	capHit := strings.Contains(runErr.Error(), "exceeds max iterations")
	switch {
	case capHit:
		msg.Status = db.MessageStatusCompleted
		msg.FinishReason = db.FinishReasonStop
	case errors.Is(runErr, context.Canceled):
		msg.Status = db.MessageStatusFailed
		msg.FinishReason = db.FinishReasonCancelled
	default:
		msg.Status = db.MessageStatusFailed
		msg.FinishReason = db.FinishReasonError
	}
	msg.RawEvent = db.RawEvent{
		"finish_reason": msg.FinishReason,
		"model":         entry.ID,
		"error":         runErr.Error(),
	}
	if err := s.saveMessage(msg); err != nil {
		s.logger.Error("failed to persist failed message", "messageID", msg.ID, "error", err)
	}

	// The terminal chunks wait for buffer space like any other chunk; they
	// are dropped only when the client itself is gone.
	send := func(chunk *models.StreamChunk) {
		select {
		case chunks <- chunk:
		case <-ctx.Done():
		}
	}
	if capHit {
		send(&models.StreamChunk{Type: models.ChunkTypeText, MessageID: msg.ID, Text: friendly})
	} else {
		send(&models.StreamChunk{Type: models.ChunkTypeError, MessageID: msg.ID, Text: friendly})
	}
	send(&models.StreamChunk{Type: models.ChunkTypeFinish, MessageID: msg.ID, FinishReason: msg.FinishReason})
}

func (s *ChatService) saveMessage(msg *db.ChatMessage) error {
	if err := s.db.Save(msg).Error; err != nil {
		return fmt.Errorf("failed to save message: %w", err)
	}
	return nil
}

func (s *ChatService) setStatus(msg *db.ChatMessage, status, finishReason string) error {
	msg.Status = status
	if finishReason != "" {
		msg.FinishReason = finishReason
	}
	return s.saveMessage(msg)
}

// splitWords cuts text into word-sized chunks, each keeping its trailing
// whitespace, so clients render output smoothly regardless of provider chunk
// sizes.
func splitWords(s string) []string {
	if s == "" {
		return nil
	}
	var out []string
	start := 0
	inSpace := false
	for i, r := range s {
		isSpace := unicode.IsSpace(r)
		if inSpace && !isSpace {
			out = append(out, s[start:i])
			start = i
		}
		inSpace = isSpace
	}
	if start < len(s) {
		out = append(out, s[start:])
	}
	return out
}

// formatProviderError converts raw provider/agent errors into text safe to
// show in the chat.
func formatProviderError(err error) string {
	errStr := err.Error()

	switch {
	case strings.Contains(errStr, "exceeds max iterations"):
		return "The assistant reached the maximum number of tool call steps. Try breaking the request into smaller parts."
	case strings.Contains(errStr, "context canceled"):
		return "The request was cancelled."
	case strings.Contains(errStr, "context deadline exceeded"):
		return "The request timed out. Please try again."
	case strings.Contains(errStr, "rate limit"):
		return "Rate limit exceeded. Please wait a moment and try again."
	case strings.Contains(errStr, "insufficient_quota"):
		return "API quota exceeded. Please check your provider account."
	case strings.Contains(errStr, "invalid_api_key"), strings.Contains(errStr, "401"):
		return "The provider rejected the configured API key."
	case strings.Contains(errStr, "connection refused"), strings.Contains(errStr, "no such host"):
		return "Could not reach the model provider. Please check your network."
	default:
		return "Something went wrong while generating the reply: " + simplifyError(errStr)
	}
}

// simplifyError strips graph-internal noise and truncates long messages.
func simplifyError(errStr string) string {
	if idx := strings.Index(errStr, "\n------------------------"); idx != -1 {
		errStr = errStr[:idx]
	}
	errStr = strings.ReplaceAll(errStr, "[NodeRunError] ", "")
	errStr = strings.ReplaceAll(errStr, "agent error: ", "")
	if len(errStr) > 200 {
		errStr = errStr[:200] + "..."
	}
	return errStr
}
