// User lookup and dev sign-in
package service

import (
	"errors"
	"fmt"
	"log/slog"
	"strings"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/loomchat/loomchat/pkg/db"
)

var ErrUserNotFound = errors.New("user not found")

type UserService struct {
	db     *gorm.DB
	logger *slog.Logger
}

func NewUserService(gdb *gorm.DB, logger *slog.Logger) *UserService {
	return &UserService{db: gdb, logger: logger.With("component", "user")}
}

// SignIn loads or creates the user for an email address. This is the
// dev-grade sign-in path; there is no password.
func (s *UserService) SignIn(email, name string) (*db.User, error) {
	email = strings.ToLower(strings.TrimSpace(email))
	if email == "" {
		return nil, fmt.Errorf("email required")
	}

	var user db.User
	err := s.db.Where("email = ?", email).First(&user).Error
	if err == nil {
		return &user, nil
	}
	if !errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, fmt.Errorf("failed to look up user: %w", err)
	}

	user = db.User{ID: uuid.New().String(), Email: email, Name: name}
	if err := s.db.Create(&user).Error; err != nil {
		return nil, fmt.Errorf("failed to create user: %w", err)
	}
	s.logger.Info("user created", "email", email)
	return &user, nil
}

// Get returns a user by id.
func (s *UserService) Get(id string) (*db.User, error) {
	var user db.User
	if err := s.db.First(&user, "id = ?", id).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrUserNotFound
		}
		return nil, fmt.Errorf("failed to load user: %w", err)
	}
	return &user, nil
}
