// Model catalog and provider client construction
package registry

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"strings"
	"time"

	"github.com/cloudwego/eino-ext/components/model/ark"
	"github.com/cloudwego/eino-ext/components/model/claude"
	"github.com/cloudwego/eino-ext/components/model/deepseek"
	"github.com/cloudwego/eino-ext/components/model/gemini"
	"github.com/cloudwego/eino-ext/components/model/ollama"
	"github.com/cloudwego/eino-ext/components/model/openai"
	"github.com/cloudwego/eino-ext/components/model/qwen"
	einoModel "github.com/cloudwego/eino/components/model"
	"github.com/pkg/errors"
	"google.golang.org/genai"

	"github.com/loomchat/loomchat/pkg/config"
	"github.com/loomchat/loomchat/pkg/models"
)

// ErrModelNotFound is returned when an id matches no enabled catalog entry.
// A disabled or credential-less entry resolves the same as an unknown one.
var ErrModelNotFound = errors.New("model not found")

const qwenBaseURL = "https://dashscope.aliyuncs.com/compatible-mode/v1"

// Registry exposes the enabled subset of the static catalog and builds
// provider chat model clients for it.
type Registry struct {
	cfg    *config.AppConfig
	logger *slog.Logger

	// getenv is swapped in tests; defaults to os.Getenv.
	getenv func(string) string
}

func New(cfg *config.AppConfig, logger *slog.Logger) *Registry {
	return &Registry{
		cfg:    cfg,
		logger: logger.With("component", "registry"),
		getenv: os.Getenv,
	}
}

// enabled reports whether the entry is usable: its credential env var is set
// and no config override disables it.
func (r *Registry) enabled(e *Entry) bool {
	if e.RequiresEnv != "" && strings.TrimSpace(r.getenv(e.RequiresEnv)) == "" {
		return false
	}
	if ov, ok := r.cfg.Models.Overrides[e.ID]; ok && ov.Enabled != nil && !*ov.Enabled {
		return false
	}
	return true
}

// displayName applies a config rename, if any.
func (r *Registry) displayName(e *Entry) string {
	if ov, ok := r.cfg.Models.Overrides[e.ID]; ok && ov.Name != nil && strings.TrimSpace(*ov.Name) != "" {
		return *ov.Name
	}
	return e.Name
}

// List returns the enabled catalog entries in declaration order.
func (r *Registry) List() []models.ModelEntry {
	out := make([]models.ModelEntry, 0, len(catalog))
	for i := range catalog {
		e := &catalog[i]
		if !r.enabled(e) {
			continue
		}
		out = append(out, models.ModelEntry{
			ID:         e.ID,
			Name:       r.displayName(e),
			Provider:   e.Provider,
			Reasoning:  e.Reasoning,
			Fast:       e.Fast,
			Attachment: e.Attachment,
			ToolCall:   e.ToolCall,
		})
	}
	return out
}

// Resolve maps a model id or alias to its catalog entry. Both "provider:model"
// and "provider/model" spellings are accepted. Lookup fails closed: entries
// missing credentials resolve to ErrModelNotFound, never to a partial client.
func (r *Registry) Resolve(id string) (*Entry, error) {
	id = strings.TrimSpace(id)
	if id == "" {
		return nil, errors.Wrap(ErrModelNotFound, "empty model id")
	}
	normalized := strings.Replace(id, "/", ":", 1)

	for i := range catalog {
		e := &catalog[i]
		match := e.ID == normalized
		for _, a := range e.Aliases {
			if a == id || a == normalized {
				match = true
				break
			}
		}
		if !match {
			continue
		}
		if !r.enabled(e) {
			return nil, errors.Wrapf(ErrModelNotFound, "model %s is not enabled", e.ID)
		}
		return e, nil
	}
	return nil, errors.Wrapf(ErrModelNotFound, "unknown model %q", id)
}

// ChatModel builds the provider client for a resolved entry.
func (r *Registry) ChatModel(ctx context.Context, e *Entry) (einoModel.ToolCallingChatModel, error) {
	if e == nil {
		return nil, fmt.Errorf("model entry is nil")
	}

	temperature := r.cfg.Temperature()
	maxTokens := r.cfg.MaxTokens()

	switch e.Provider {
	case "openai":
		chatModel, err := openai.NewChatModel(ctx, &openai.ChatModelConfig{
			APIKey:      r.getenv(EnvOpenAI),
			Model:       e.Model,
			Temperature: &temperature,
			MaxTokens:   &maxTokens,
		})
		if err != nil {
			return nil, fmt.Errorf("failed to create OpenAI model: %w", err)
		}
		return chatModel, nil

	case "anthropic":
		chatModel, err := claude.NewChatModel(ctx, &claude.Config{
			APIKey:      r.getenv(EnvAnthropic),
			Model:       e.Model,
			MaxTokens:   maxTokens,
			Temperature: &temperature,
		})
		if err != nil {
			return nil, fmt.Errorf("failed to create Claude model: %w", err)
		}
		return chatModel, nil

	case "google":
		genaiClient, err := genai.NewClient(ctx, &genai.ClientConfig{
			APIKey:  r.getenv(EnvGoogle),
			Backend: genai.BackendGeminiAPI,
		})
		if err != nil {
			return nil, fmt.Errorf("failed to create Gemini client: %w", err)
		}
		chatModel, err := gemini.NewChatModel(ctx, &gemini.Config{
			Client: genaiClient,
			Model:  e.Model,
		})
		if err != nil {
			return nil, fmt.Errorf("failed to create Gemini model: %w", err)
		}
		return chatModel, nil

	case "deepseek":
		chatModel, err := deepseek.NewChatModel(ctx, &deepseek.ChatModelConfig{
			APIKey:      r.getenv(EnvDeepSeek),
			Model:       e.Model,
			Temperature: temperature,
			MaxTokens:   maxTokens,
		})
		if err != nil {
			return nil, fmt.Errorf("failed to create DeepSeek model: %w", err)
		}
		return chatModel, nil

	case "ark":
		timeout := time.Second * 600
		retries := 3
		chatModel, err := ark.NewChatModel(ctx, &ark.ChatModelConfig{
			APIKey:      r.getenv(EnvArk),
			Model:       e.Model,
			Timeout:     &timeout,
			RetryTimes:  &retries,
			Temperature: &temperature,
			MaxTokens:   &maxTokens,
		})
		if err != nil {
			return nil, fmt.Errorf("failed to create Ark model: %w", err)
		}
		return chatModel, nil

	case "qwen":
		chatModel, err := qwen.NewChatModel(ctx, &qwen.ChatModelConfig{
			BaseURL:     qwenBaseURL,
			APIKey:      r.getenv(EnvQwen),
			Model:       e.Model,
			Temperature: &temperature,
			MaxTokens:   &maxTokens,
		})
		if err != nil {
			return nil, fmt.Errorf("failed to create Qwen model: %w", err)
		}
		return chatModel, nil

	case "ollama":
		chatModel, err := ollama.NewChatModel(ctx, &ollama.ChatModelConfig{
			BaseURL: r.getenv(EnvOllama),
			Model:   e.Model,
		})
		if err != nil {
			return nil, fmt.Errorf("failed to create Ollama model: %w", err)
		}
		return chatModel, nil

	default:
		return nil, fmt.Errorf("unsupported model provider: %s", e.Provider)
	}
}
