// Chat service - thread lifecycle and message orchestration
package service

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/cloudwego/eino/components/model"
	"github.com/cloudwego/eino/components/tool"
	"github.com/google/uuid"
	"github.com/lithammer/shortuuid/v4"
	"gorm.io/gorm"

	"github.com/loomchat/loomchat/pkg/config"
	"github.com/loomchat/loomchat/pkg/db"
	"github.com/loomchat/loomchat/pkg/models"
	"github.com/loomchat/loomchat/pkg/registry"
)

var (
	ErrThreadNotFound  = errors.New("thread not found")
	ErrProjectNotFound = errors.New("project not found")

	// ErrModelNotFound re-exported so handlers depend on one package.
	ErrModelNotFound = registry.ErrModelNotFound
)

// maxAgentSteps caps agentic tool-call rounds per generation.
const maxAgentSteps = 10

// ModelResolver maps model ids to catalog entries and provider clients.
// *registry.Registry implements it; tests inject fakes.
type ModelResolver interface {
	Resolve(id string) (*registry.Entry, error)
	ChatModel(ctx context.Context, e *registry.Entry) (model.ToolCallingChatModel, error)
}

// ToolSource supplies eino tools for a set of server names.
type ToolSource interface {
	GetTools(ctx context.Context, selected []string) []tool.InvokableTool
}

// ChatService owns threads, messages and the streaming generation pipeline.
type ChatService struct {
	db     *gorm.DB
	cfg    *config.AppConfig
	models ModelResolver
	tools  ToolSource
	titles *TitleService
	logger *slog.Logger
}

func NewChatService(gdb *gorm.DB, cfg *config.AppConfig, resolver ModelResolver, tools ToolSource, titles *TitleService, logger *slog.Logger) *ChatService {
	return &ChatService{
		db:     gdb,
		cfg:    cfg,
		models: resolver,
		tools:  tools,
		titles: titles,
		logger: logger.With("component", "chat"),
	}
}

// ========== Thread management ==========

// CreateThread validates the model, then creates the thread and its first
// user message in one transaction. Nothing is written when the model is
// unknown. Title generation runs in the background.
func (s *ChatService) CreateThread(ctx context.Context, userID string, req *models.CreateThreadRequest) (*db.Thread, error) {
	modelID := req.Model
	if modelID == "" {
		modelID = s.cfg.DefaultModel()
	}
	if _, err := s.models.Resolve(modelID); err != nil {
		return nil, err
	}

	var projectID *string
	if req.ProjectToken != nil && *req.ProjectToken != "" {
		project, err := s.findOwnedProject(userID, *req.ProjectToken)
		if err != nil {
			return nil, err
		}
		projectID = &project.ID
	}

	thread := &db.Thread{
		ID:             uuid.New().String(),
		Token:          shortuuid.New(),
		UserID:         userID,
		ProjectID:      projectID,
		LastMessagedAt: time.Now(),
	}
	userMsg := &db.ChatMessage{
		ID:       uuid.New().String(),
		ThreadID: thread.ID,
		Role:     db.RoleUser,
		Status:   db.MessageStatusCompleted,
		Parts:    db.Parts{{Type: db.PartTypeText, Text: req.Prompt}},
	}

	err := s.db.Transaction(func(tx *gorm.DB) error {
		if err := tx.Create(thread).Error; err != nil {
			return err
		}
		return tx.Create(userMsg).Error
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create thread: %w", err)
	}

	if s.titles != nil {
		s.titles.GenerateAsync(thread.ID, req.Prompt)
	}
	return thread, nil
}

// ListThreads returns the caller's live threads, most recent activity first.
func (s *ChatService) ListThreads(userID string, take, skip int) ([]db.Thread, bool, error) {
	if take <= 0 || take > 100 {
		take = 30
	}
	if skip < 0 {
		skip = 0
	}

	var threads []db.Thread
	err := s.db.Where("user_id = ? AND deleted = ?", userID, false).
		Order("last_messaged_at DESC").
		Limit(take + 1).Offset(skip).
		Find(&threads).Error
	if err != nil {
		return nil, false, fmt.Errorf("failed to list threads: %w", err)
	}

	hasMore := len(threads) > take
	if hasMore {
		threads = threads[:take]
	}
	return threads, hasMore, nil
}

// GetThread returns an owned live thread with its full ordered history.
// Missing, deleted and non-owned threads are indistinguishable to the caller.
func (s *ChatService) GetThread(userID, token string) (*db.Thread, error) {
	thread, err := s.findOwnedThread(userID, token)
	if err != nil {
		return nil, err
	}

	var messages []db.ChatMessage
	err = s.db.Where("thread_id = ? AND deleted = ?", thread.ID, false).
		Order("created_at ASC").
		Find(&messages).Error
	if err != nil {
		return nil, fmt.Errorf("failed to load messages: %w", err)
	}
	thread.Messages = messages
	return thread, nil
}

// RenameThread sets the thread name explicitly, ending automatic titling.
func (s *ChatService) RenameThread(userID, token, name string) (*db.Thread, error) {
	thread, err := s.findOwnedThread(userID, token)
	if err != nil {
		return nil, err
	}
	if err := s.db.Model(thread).Update("name", name).Error; err != nil {
		return nil, fmt.Errorf("failed to rename thread: %w", err)
	}
	thread.Name = &name
	return thread, nil
}

// DeleteThread soft-deletes the thread and scrubs its message content in one
// transaction. Deleting an already deleted thread reports not found, the same
// as any other unreachable thread.
func (s *ChatService) DeleteThread(userID, token string) error {
	thread, err := s.findOwnedThread(userID, token)
	if err != nil {
		return err
	}
	return s.db.Transaction(func(tx *gorm.DB) error {
		if err := tx.Model(&db.Thread{}).Where("id = ?", thread.ID).
			Update("deleted", true).Error; err != nil {
			return err
		}
		return tx.Model(&db.ChatMessage{}).Where("thread_id = ?", thread.ID).
			Updates(map[string]interface{}{"deleted": true, "parts": nil}).Error
	})
}

func (s *ChatService) findOwnedThread(userID, token string) (*db.Thread, error) {
	var thread db.Thread
	err := s.db.Where("token = ? AND user_id = ? AND deleted = ?", token, userID, false).
		First(&thread).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrThreadNotFound
		}
		return nil, fmt.Errorf("failed to load thread: %w", err)
	}
	return &thread, nil
}

func (s *ChatService) findOwnedProject(userID, token string) (*db.Project, error) {
	var project db.Project
	err := s.db.Where("token = ? AND user_id = ? AND deleted = ?", token, userID, false).
		First(&project).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrProjectNotFound
		}
		return nil, fmt.Errorf("failed to load project: %w", err)
	}
	return &project, nil
}

// projectInstructions returns the custom instructions of the thread's
// project, or empty when the thread has none.
func (s *ChatService) projectInstructions(thread *db.Thread) string {
	if thread.ProjectID == nil {
		return ""
	}
	var project db.Project
	err := s.db.Where("id = ? AND deleted = ?", *thread.ProjectID, false).
		First(&project).Error
	if err != nil {
		if !errors.Is(err, gorm.ErrRecordNotFound) {
			s.logger.Warn("project lookup failed", "projectID", *thread.ProjectID, "error", err)
		}
		return ""
	}
	return project.Instructions
}

func (s *ChatService) history(threadID string) ([]db.ChatMessage, error) {
	var messages []db.ChatMessage
	err := s.db.Where("thread_id = ? AND deleted = ?", threadID, false).
		Order("created_at ASC").
		Find(&messages).Error
	if err != nil {
		return nil, fmt.Errorf("failed to load history: %w", err)
	}
	return messages, nil
}
