package handlers

import (
	"fmt"
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"

	"github.com/bullhornlabs/bullhorn-chat-backend/internal/logger"
	"github.com/bullhornlabs/bullhorn-chat-backend/internal/requestdata"
	"github.com/bullhornlabs/bullhorn-chat-backend/internal/services"
	"github.com/bullhornlabs/bullhorn-chat-backend/internal/utils"
)

type AuthHandler struct {
	log          *logger.Logger
	authSvc      services.AuthService
	oauthSvc     services.OAuthService
	cookieSecure bool
}

func NewAuthHandler(authSvc services.AuthService, oauthSvc services.OAuthService, baseLog *logger.Logger) *AuthHandler {
	log := baseLog.With("handler", "AuthHandler")
	secure := strings.EqualFold(utils.GetEnv("COOKIE_SECURE", "true", log), "true")

	return &AuthHandler{
		log:          log,
		authSvc:      authSvc,
		oauthSvc:     oauthSvc,
		cookieSecure: secure,
	}
}

func (h *AuthHandler) setSessionCookie(c *gin.Context, token string, maxAge int) {
	c.SetSameSite(http.SameSiteLaxMode)
	c.SetCookie(services.SessionCookieName, token, maxAge, "/", "", h.cookieSecure, true)
}

func (h *AuthHandler) Me(c *gin.Context) {
	user, err := h.authSvc.CurrentUser(c.Request.Context())
	if err != nil {
		RespondErr(c, err)
		return
	}
	RespondOK(c, user)
}

type updateMeRequest struct {
	Name string `json:"name"`
}

func (h *AuthHandler) UpdateMe(c *gin.Context) {
	var req updateMeRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		RespondError(c, http.StatusBadRequest, "invalid_body", err)
		return
	}

	name := strings.TrimSpace(req.Name)
	if name == "" || len(name) > 100 {
		RespondError(c, http.StatusBadRequest, "invalid_name", fmt.Errorf("name must be 1-100 characters"))
		return
	}

	user, err := h.authSvc.UpdateName(c.Request.Context(), name)
	if err != nil {
		RespondErr(c, err)
		return
	}
	RespondOK(c, user)
}

// Logout revokes the stored Bullhorn token, clears it, and downgrades the
// session cookie back to anonymous.
func (h *AuthHandler) Logout(c *gin.Context) {
	ctx := c.Request.Context()
	rd := requestdata.GetRequestData(ctx)

	if rd != nil && rd.Authenticated() {
		h.oauthSvc.RevokeBullhornToken(ctx, rd.UserID)
	}
	if err := h.authSvc.Logout(ctx); err != nil {
		h.log.Warn("Logout cleanup failed", "error", err)
	}

	if rd != nil {
		token, err := h.authSvc.IssueSession(rd.SessionID, uuid.Nil)
		if err == nil {
			h.setSessionCookie(c, token, h.authSvc.CookieMaxAge())
		}
	}

	RespondOK(c, gin.H{"ok": true})
}
