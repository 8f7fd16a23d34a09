// Thread title generation
package service

import (
	"context"
	"log/slog"
	"strings"
	"time"

	"github.com/cloudwego/eino/schema"
	"gorm.io/gorm"

	"github.com/loomchat/loomchat/pkg/config"
	"github.com/loomchat/loomchat/pkg/db"
)

const titleInstruction = `Write a short title (at most six words) summarizing the user's message.
Reply with the title only: no quotes, no trailing punctuation.`

const maxTitleLen = 80

// TitleService names new threads from their first prompt using a small model.
// Everything here is best effort: failures are logged and the thread simply
// keeps a nil name.
type TitleService struct {
	db     *gorm.DB
	cfg    *config.AppConfig
	models ModelResolver
	logger *slog.Logger
}

func NewTitleService(gdb *gorm.DB, cfg *config.AppConfig, resolver ModelResolver, logger *slog.Logger) *TitleService {
	return &TitleService{
		db:     gdb,
		cfg:    cfg,
		models: resolver,
		logger: logger.With("component", "title"),
	}
}

// GenerateAsync starts title generation in the background and returns
// immediately. The caller is never blocked or failed by titling.
func (t *TitleService) GenerateAsync(threadID, prompt string) {
	go func() {
		defer func() {
			if r := recover(); r != nil {
				t.logger.Error("title generation panicked", "threadID", threadID, "panic", r)
			}
		}()

		ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
		defer cancel()

		if err := t.generate(ctx, threadID, prompt); err != nil {
			t.logger.Warn("title generation failed", "threadID", threadID, "error", err)
		}
	}()
}

func (t *TitleService) generate(ctx context.Context, threadID, prompt string) error {
	entry, err := t.models.Resolve(t.cfg.TitleModel())
	if err != nil {
		return err
	}
	chatModel, err := t.models.ChatModel(ctx, entry)
	if err != nil {
		return err
	}

	resp, err := chatModel.Generate(ctx, []*schema.Message{
		{Role: schema.System, Content: titleInstruction},
		{Role: schema.User, Content: prompt},
	})
	if err != nil {
		return err
	}

	title := CleanTitle(resp.Content)
	if title == "" {
		return nil
	}

	// Only fill the name if the user hasn't set one in the meantime.
	return t.db.Model(&db.Thread{}).
		Where("id = ? AND name IS NULL", threadID).
		Update("name", title).Error
}

// CleanTitle normalizes model output into a usable thread name.
func CleanTitle(raw string) string {
	title := strings.TrimSpace(raw)
	if idx := strings.IndexByte(title, '\n'); idx != -1 {
		title = strings.TrimSpace(title[:idx])
	}
	title = strings.Trim(title, `"'`)
	title = strings.TrimRight(title, ".")
	if len(title) > maxTitleLen {
		title = strings.TrimSpace(title[:maxTitleLen])
	}
	return title
}
