// Project management
package service

import (
	"errors"
	"fmt"
	"log/slog"

	"github.com/google/uuid"
	"github.com/lithammer/shortuuid/v4"
	"gorm.io/gorm"

	"github.com/loomchat/loomchat/pkg/db"
	"github.com/loomchat/loomchat/pkg/models"
)

// ProjectService owns project CRUD. Projects group threads and carry custom
// instructions folded into the system prompt of every thread they contain.
type ProjectService struct {
	db     *gorm.DB
	logger *slog.Logger
}

func NewProjectService(gdb *gorm.DB, logger *slog.Logger) *ProjectService {
	return &ProjectService{db: gdb, logger: logger.With("component", "project")}
}

func (s *ProjectService) Create(userID string, req *models.CreateProjectRequest) (*db.Project, error) {
	project := &db.Project{
		ID:           uuid.New().String(),
		Token:        shortuuid.New(),
		Name:         req.Name,
		Instructions: req.Instructions,
		UserID:       userID,
	}
	if err := s.db.Create(project).Error; err != nil {
		return nil, fmt.Errorf("failed to create project: %w", err)
	}
	return project, nil
}

func (s *ProjectService) List(userID string) ([]db.Project, error) {
	var projects []db.Project
	err := s.db.Where("user_id = ? AND deleted = ?", userID, false).
		Order("created_at DESC").
		Find(&projects).Error
	if err != nil {
		return nil, fmt.Errorf("failed to list projects: %w", err)
	}
	for i := range projects {
		s.db.Model(&db.Thread{}).
			Where("project_id = ? AND deleted = ?", projects[i].ID, false).
			Count(&projects[i].ThreadCount)
	}
	return projects, nil
}

func (s *ProjectService) Get(userID, token string) (*db.Project, error) {
	project, err := s.findOwned(userID, token)
	if err != nil {
		return nil, err
	}
	s.db.Model(&db.Thread{}).
		Where("project_id = ? AND deleted = ?", project.ID, false).
		Count(&project.ThreadCount)
	return project, nil
}

func (s *ProjectService) Update(userID, token string, req *models.UpdateProjectRequest) (*db.Project, error) {
	project, err := s.findOwned(userID, token)
	if err != nil {
		return nil, err
	}

	updates := map[string]interface{}{}
	if req.Name != nil && *req.Name != "" {
		updates["name"] = *req.Name
	}
	if req.Instructions != nil {
		updates["instructions"] = *req.Instructions
	}
	if len(updates) > 0 {
		if err := s.db.Model(project).Updates(updates).Error; err != nil {
			return nil, fmt.Errorf("failed to update project: %w", err)
		}
	}
	return s.findOwned(userID, token)
}

// Delete soft-deletes the project and detaches its threads; the threads
// themselves are kept.
func (s *ProjectService) Delete(userID, token string) error {
	project, err := s.findOwned(userID, token)
	if err != nil {
		return err
	}
	return s.db.Transaction(func(tx *gorm.DB) error {
		if err := tx.Model(&db.Thread{}).Where("project_id = ?", project.ID).
			Update("project_id", nil).Error; err != nil {
			return err
		}
		return tx.Model(&db.Project{}).Where("id = ?", project.ID).
			Update("deleted", true).Error
	})
}

func (s *ProjectService) findOwned(userID, token string) (*db.Project, error) {
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
