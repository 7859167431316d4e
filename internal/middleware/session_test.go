package middleware

import (
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"

	"github.com/bullhornlabs/bullhorn-chat-backend/internal/logger"
	"github.com/bullhornlabs/bullhorn-chat-backend/internal/requestdata"
	"github.com/bullhornlabs/bullhorn-chat-backend/internal/services"
)

func newSessionRouter(t *testing.T) (*gin.Engine, services.AuthService) {
	t.Helper()
	t.Setenv("JWT_SECRET", "middleware-test-secret")
	t.Setenv("COOKIE_SECURE", "false")
	gin.SetMode(gin.TestMode)

	log, err := logger.New("development")
	if err != nil {
		t.Fatalf("logger.New: %v", err)
	}
	authSvc, err := services.NewAuthService(nil, log)
	if err != nil {
		t.Fatalf("NewAuthService: %v", err)
	}

	r := gin.New()
	r.Use(Session(authSvc, log))
	r.GET("/whoami", func(c *gin.Context) {
		rd := requestdata.GetRequestData(c.Request.Context())
		if rd == nil {
			c.String(http.StatusInternalServerError, "no request data")
			return
		}
		c.JSON(http.StatusOK, gin.H{
			"session_id":    rd.SessionID.String(),
			"caller_id":     rd.CallerID().String(),
			"authenticated": rd.Authenticated(),
		})
	})
	r.GET("/private", RequireUser(), func(c *gin.Context) {
		c.String(http.StatusOK, "in")
	})
	return r, authSvc
}

func sessionCookie(resp *http.Response) *http.Cookie {
	for _, c := range resp.Cookies() {
		if c.Name == services.SessionCookieName {
			return c
		}
	}
	return nil
}

func TestSessionMintsAnonymousIdentity(t *testing.T) {
	r, _ := newSessionRouter(t)

	w := httptest.NewRecorder()
	req := httptest.NewRequest("GET", "/whoami", nil)
	r.ServeHTTP(w, req)

	if w.Code != http.StatusOK {
		t.Fatalf("status = %d", w.Code)
	}
	cookie := sessionCookie(w.Result())
	if cookie == nil || cookie.Value == "" {
		t.Fatal("no session cookie minted for a fresh visitor")
	}
	if !cookie.HttpOnly {
		t.Fatal("session cookie is not HttpOnly")
	}
	if !strings.Contains(w.Body.String(), `"authenticated":false`) {
		t.Fatalf("fresh visitor reported authenticated: %s", w.Body.String())
	}
}

func TestSessionReusesValidCookie(t *testing.T) {
	r, authSvc := newSessionRouter(t)

	sessionID := uuid.New()
	token, err := authSvc.IssueSession(sessionID, uuid.Nil)
	if err != nil {
		t.Fatalf("IssueSession: %v", err)
	}

	w := httptest.NewRecorder()
	req := httptest.NewRequest("GET", "/whoami", nil)
	req.AddCookie(&http.Cookie{Name: services.SessionCookieName, Value: token})
	r.ServeHTTP(w, req)

	if !strings.Contains(w.Body.String(), sessionID.String()) {
		t.Fatalf("session id not preserved: %s", w.Body.String())
	}
	if sessionCookie(w.Result()) != nil {
		t.Fatal("valid cookie was replaced")
	}
}

func TestSessionReplacesGarbageCookie(t *testing.T) {
	r, _ := newSessionRouter(t)

	w := httptest.NewRecorder()
	req := httptest.NewRequest("GET", "/whoami", nil)
	req.AddCookie(&http.Cookie{Name: services.SessionCookieName, Value: "garbage"})
	r.ServeHTTP(w, req)

	if w.Code != http.StatusOK {
		t.Fatalf("status = %d", w.Code)
	}
	if sessionCookie(w.Result()) == nil {
		t.Fatal("garbage cookie not replaced with a fresh session")
	}
}

func TestRequireUserBlocksAnonymous(t *testing.T) {
	r, authSvc := newSessionRouter(t)

	w := httptest.NewRecorder()
	req := httptest.NewRequest("GET", "/private", nil)
	r.ServeHTTP(w, req)
	if w.Code != http.StatusUnauthorized {
		t.Fatalf("anonymous /private = %d, want 401", w.Code)
	}

	token, err := authSvc.IssueSession(uuid.New(), uuid.New())
	if err != nil {
		t.Fatalf("IssueSession: %v", err)
	}
	w = httptest.NewRecorder()
	req = httptest.NewRequest("GET", "/private", nil)
	req.AddCookie(&http.Cookie{Name: services.SessionCookieName, Value: token})
	r.ServeHTTP(w, req)
	if w.Code != http.StatusOK {
		t.Fatalf("authenticated /private = %d, want 200", w.Code)
	}
}
