// System prompt assembly and model input construction
package prompt

import (
	"strings"
	"time"

	"github.com/cloudwego/eino/schema"

	"github.com/loomchat/loomchat/pkg/db"
)

const basePolicy = `You are Loom, a helpful assistant inside a chat application.
Answer directly and concisely. Use Markdown formatting when it improves
readability. When you are unsure, say so instead of guessing.`

const reasoningPolicy = `Think through the problem step by step before answering.
Keep the final answer separate from your working.`

const webSearchPolicy = `You have access to web search tools. When you use search
results, cite the source URL next to the claim it supports. Prefer primary
sources and say when results may be stale.`

// reasoningFamilies are matched case-insensitively as substrings of the model
// id to decide whether the reasoning block applies.
var reasoningFamilies = []string{
	"o1", "o3", "o4", "gpt-5", "deepseek-r", "reasoner", "thinking", "qwq",
}

// Options carries everything the system prompt depends on.
type Options struct {
	WebSearchEnabled    bool
	ModelID             string
	ProjectInstructions string

	// Override, when non-empty, is returned verbatim and all other options
	// are ignored.
	Override string

	// Now supplies the date line; the zero value means time.Now().
	Now time.Time
}

// IsReasoningModel reports whether the model id belongs to a reasoning family.
func IsReasoningModel(modelID string) bool {
	id := strings.ToLower(modelID)
	for _, fam := range reasoningFamilies {
		if strings.Contains(id, fam) {
			return true
		}
	}
	return false
}

// BuildSystemPrompt assembles the system message. Blocks appear in a fixed
// order and are joined by exactly one blank line; empty blocks are omitted.
func BuildSystemPrompt(opts Options) string {
	if opts.Override != "" {
		return opts.Override
	}

	now := opts.Now
	if now.IsZero() {
		now = time.Now()
	}

	blocks := []string{basePolicy}
	if IsReasoningModel(opts.ModelID) {
		blocks = append(blocks, reasoningPolicy)
	}
	if opts.WebSearchEnabled {
		blocks = append(blocks, webSearchPolicy)
	}
	if s := strings.TrimSpace(opts.ProjectInstructions); s != "" {
		blocks = append(blocks, s)
	}
	blocks = append(blocks, "Current date: "+now.Format("Monday, January 2, 2006"))

	return strings.Join(blocks, "\n\n")
}

// BuildModelInput expands persisted history plus the new user message into the
// ordered schema message list submitted to the model. Messages keep arrival
// order; nothing is reordered or deduplicated.
func BuildModelInput(systemPrompt string, history []db.ChatMessage, newMessage string) []*schema.Message {
	input := make([]*schema.Message, 0, len(history)+2)
	if systemPrompt != "" {
		input = append(input, &schema.Message{Role: schema.System, Content: systemPrompt})
	}
	for i := range history {
		input = append(input, ExpandMessage(&history[i])...)
	}
	if newMessage != "" {
		input = append(input, &schema.Message{Role: schema.User, Content: newMessage})
	}
	return input
}

// ExpandMessage converts one stored message into one or more schema messages.
// An assistant message whose rounds contain tool calls expands into assistant
// messages (carrying the calls) followed by tool messages (carrying results).
// Messages with no parts expand to nothing; some providers reject empty turns.
func ExpandMessage(msg *db.ChatMessage) []*schema.Message {
	if len(msg.Parts) == 0 {
		return nil
	}

	if msg.Role == db.RoleUser || msg.Role == db.RoleSystem {
		var content string
		for _, part := range msg.Parts {
			if part.Type == db.PartTypeText && part.Text != "" {
				if content != "" {
					content += "\n"
				}
				content += part.Text
			}
		}
		return []*schema.Message{{Role: schema.RoleType(msg.Role), Content: content}}
	}

	// Tool calls are only replayed when their result was recorded; a dangling
	// call makes most providers reject the whole history.
	resulted := make(map[string]bool)
	for _, part := range msg.Parts {
		if part.Type == db.PartTypeToolResult && part.ToolCallID != "" {
			resulted[part.ToolCallID] = true
		}
	}

	var result []*schema.Message
	for round := 0; round <= msg.MaxRoundIndex(); round++ {
		var textContent, reasoningContent string
		var toolCalls []schema.ToolCall
		var toolResults []*schema.Message

		for _, part := range msg.Parts {
			if part.Index != round {
				continue
			}
			switch part.Type {
			case db.PartTypeText:
				if part.Text != "" {
					if textContent != "" {
						textContent += "\n"
					}
					textContent += part.Text
				}
			case db.PartTypeReasoning:
				if part.Text != "" {
					if reasoningContent != "" {
						reasoningContent += "\n"
					}
					reasoningContent += part.Text
				}
			case db.PartTypeToolCall:
				if resulted[part.ToolCallID] {
					toolCalls = append(toolCalls, schema.ToolCall{
						ID:   part.ToolCallID,
						Type: "function",
						Function: schema.FunctionCall{
							Name:      part.ToolName,
							Arguments: part.ToolArgs,
						},
					})
				}
			case db.PartTypeToolResult:
				toolResults = append(toolResults, &schema.Message{
					Role:       schema.Tool,
					ToolCallID: part.ToolCallID,
					ToolName:   part.ToolName,
					Content:    part.ToolContent,
				})
			}
		}

		if textContent != "" || reasoningContent != "" || len(toolCalls) > 0 {
			result = append(result, &schema.Message{
				Role:             schema.Assistant,
				Content:          textContent,
				ReasoningContent: reasoningContent,
				ToolCalls:        toolCalls,
			})
		}
		result = append(result, toolResults...)
	}
	return result
}
