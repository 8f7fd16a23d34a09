package auth

import (
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/gin-gonic/gin"
)

func init() {
	gin.SetMode(gin.TestMode)
}

func protectedRouter(s *Sessions) *gin.Engine {
	r := gin.New()
	r.GET("/me", s.Middleware(), func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"user_id": UserID(c)})
	})
	return r
}

func TestIssueAndVerify(t *testing.T) {
	s := NewSessions("test-secret", slog.Default())

	token, err := s.Issue("user-1")
	if err != nil {
		t.Fatal(err)
	}
	userID, err := s.Verify(token)
	if err != nil {
		t.Fatal(err)
	}
	if userID != "user-1" {
		t.Fatalf("userID = %q, want user-1", userID)
	}
}

func TestVerify_WrongSecretRejected(t *testing.T) {
	s1 := NewSessions("secret-one", slog.Default())
	s2 := NewSessions("secret-two", slog.Default())

	token, err := s1.Issue("user-1")
	if err != nil {
		t.Fatal(err)
	}
	if _, err := s2.Verify(token); err == nil {
		t.Fatal("token signed with a different secret verified")
	}
}

func TestMiddleware_NoCookie(t *testing.T) {
	s := NewSessions("test-secret", slog.Default())
	r := protectedRouter(s)

	w := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodGet, "/me", nil)
	r.ServeHTTP(w, req)

	if w.Code != http.StatusUnauthorized {
		t.Fatalf("status = %d, want 401", w.Code)
	}
}

func TestMiddleware_ValidCookie(t *testing.T) {
	s := NewSessions("test-secret", slog.Default())
	r := protectedRouter(s)

	token, err := s.Issue("user-42")
	if err != nil {
		t.Fatal(err)
	}

	w := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodGet, "/me", nil)
	req.AddCookie(&http.Cookie{Name: CookieName, Value: token})
	r.ServeHTTP(w, req)

	if w.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", w.Code)
	}
	if body := w.Body.String(); body != `{"user_id":"user-42"}` {
		t.Fatalf("body = %s", body)
	}
}

func TestMiddleware_GarbageToken(t *testing.T) {
	s := NewSessions("test-secret", slog.Default())
	r := protectedRouter(s)

	w := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodGet, "/me", nil)
	req.AddCookie(&http.Cookie{Name: CookieName, Value: "not-a-jwt"})
	r.ServeHTTP(w, req)

	if w.Code != http.StatusUnauthorized {
		t.Fatalf("status = %d, want 401", w.Code)
	}
}
