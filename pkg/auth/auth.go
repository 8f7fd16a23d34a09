// Session cookie auth
package auth

import (
	"crypto/rand"
	"encoding/hex"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/golang-jwt/jwt/v5"
)

const (
	// CookieName carries the session token.
	CookieName = "loomchat_session"

	// ContextUserKey is the gin context key holding the authenticated user id.
	ContextUserKey = "auth.user_id"

	sessionTTL = 30 * 24 * time.Hour
)

// Sessions issues and validates HS256 session cookies.
type Sessions struct {
	secret []byte
	logger *slog.Logger
}

// NewSessions builds the session manager. An empty secret gets a per-process
// random one, so sessions then expire on restart.
func NewSessions(secret string, logger *slog.Logger) *Sessions {
	key := []byte(secret)
	if len(strings.TrimSpace(secret)) == 0 {
		buf := make([]byte, 32)
		if _, err := rand.Read(buf); err != nil {
			panic("auth: cannot read random secret: " + err.Error())
		}
		key = []byte(hex.EncodeToString(buf))
		logger.Warn("auth.secret not configured, sessions will not survive restarts")
	}
	return &Sessions{secret: key, logger: logger.With("component", "auth")}
}

type sessionClaims struct {
	jwt.RegisteredClaims
}

// Issue creates a signed session token for the user id.
func (s *Sessions) Issue(userID string) (string, error) {
	now := time.Now()
	claims := sessionClaims{
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   userID,
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(sessionTTL)),
		},
	}
	return jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(s.secret)
}

// Verify parses a token and returns the user id it was issued for.
func (s *Sessions) Verify(token string) (string, error) {
	claims := &sessionClaims{}
	_, err := jwt.ParseWithClaims(token, claims, func(t *jwt.Token) (interface{}, error) {
		return s.secret, nil
	}, jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}))
	if err != nil {
		return "", err
	}
	return claims.Subject, nil
}

// SetCookie attaches the session cookie to the response.
func (s *Sessions) SetCookie(c *gin.Context, token string) {
	c.SetSameSite(http.SameSiteLaxMode)
	c.SetCookie(CookieName, token, int(sessionTTL.Seconds()), "/", "", false, true)
}

// Middleware rejects requests without a valid session cookie and stores the
// user id on the context for handlers.
func (s *Sessions) Middleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		token, err := c.Cookie(CookieName)
		if err != nil || token == "" {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "authentication required"})
			return
		}
		userID, err := s.Verify(token)
		if err != nil {
			s.logger.Debug("session rejected", "error", err)
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "invalid session"})
			return
		}
		c.Set(ContextUserKey, userID)
		c.Next()
	}
}

// UserID returns the authenticated user id set by Middleware.
func UserID(c *gin.Context) string {
	v, _ := c.Get(ContextUserKey)
	id, _ := v.(string)
	return id
}
