// Sign-in and session handlers
package handler

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/loomchat/loomchat/pkg/auth"
	"github.com/loomchat/loomchat/pkg/service"
)

type AuthHandler struct {
	users    *service.UserService
	sessions *auth.Sessions
}

func NewAuthHandler(users *service.UserService, sessions *auth.Sessions) *AuthHandler {
	return &AuthHandler{users: users, sessions: sessions}
}

type signInRequest struct {
	Email string `json:"email" binding:"required,email"`
	Name  string `json:"name"`
}

// SignIn issues a session cookie for an email address. Dev-grade: no
// password, the user row is created on first sight.
// POST /api/v1/auth/signin
func (h *AuthHandler) SignIn(c *gin.Context) {
	var req signInRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	user, err := h.users.SignIn(req.Email, req.Name)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}

	token, err := h.sessions.Issue(user.ID)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to issue session"})
		return
	}
	h.sessions.SetCookie(c, token)
	c.JSON(http.StatusOK, user)
}

// Session returns the current user.
// GET /api/v1/session (authenticated)
func (h *AuthHandler) Session(c *gin.Context) {
	user, err := h.users.Get(auth.UserID(c))
	if err != nil {
		if errors.Is(err, service.ErrUserNotFound) {
			c.JSON(http.StatusUnauthorized, gin.H{"error": "invalid session"})
			return
		}
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, user)
}
