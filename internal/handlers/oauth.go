package handlers

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/bullhornlabs/bullhorn-chat-backend/internal/logger"
	"github.com/bullhornlabs/bullhorn-chat-backend/internal/requestdata"
	"github.com/bullhornlabs/bullhorn-chat-backend/internal/services"
	"github.com/bullhornlabs/bullhorn-chat-backend/internal/utils"
)

type OAuthHandler struct {
	log         *logger.Logger
	authSvc     services.AuthService
	oauthSvc    services.OAuthService
	frontendURL string
	auth        *AuthHandler
}

func NewOAuthHandler(authSvc services.AuthService, oauthSvc services.OAuthService, auth *AuthHandler, baseLog *logger.Logger) *OAuthHandler {
	log := baseLog.With("handler", "OAuthHandler")
	return &OAuthHandler{
		log:         log,
		authSvc:     authSvc,
		oauthSvc:    oauthSvc,
		frontendURL: utils.GetEnv("FRONTEND_URL", "/", log),
		auth:        auth,
	}
}

// Bullhorn serves both halves of the PKCE login round. Without a code it
// redirects to the authorization endpoint; with one it completes the
// exchange, signs the user in, and sends the browser back to the app.
func (h *OAuthHandler) Bullhorn(c *gin.Context) {
	ctx := c.Request.Context()
	rd := requestdata.GetRequestData(ctx)
	if rd == nil {
		RespondError(c, http.StatusUnauthorized, "no_session", nil)
		return
	}

	code := c.Query("code")
	if code == "" {
		// State ties the round to this session.
		loginURL, err := h.oauthSvc.BullhornLoginURL(ctx, rd.SessionID.String())
		if err != nil {
			RespondErr(c, err)
			return
		}
		c.Redirect(http.StatusFound, loginURL)
		return
	}

	user, err := h.oauthSvc.HandleBullhornCallback(ctx, c.Query("state"), code)
	if err != nil {
		RespondErr(c, err)
		return
	}

	token, err := h.authSvc.IssueSession(rd.SessionID, user.ID)
	if err != nil {
		RespondErr(c, err)
		return
	}
	h.auth.setSessionCookie(c, token, h.authSvc.CookieMaxAge())

	c.Redirect(http.StatusFound, h.frontendURL)
}

// Google mirrors the Bullhorn flow but links the account onto the current
// user instead of creating a session.
func (h *OAuthHandler) Google(c *gin.Context) {
	ctx := c.Request.Context()
	rd := requestdata.GetRequestData(ctx)
	if rd == nil {
		RespondError(c, http.StatusUnauthorized, "no_session", nil)
		return
	}

	code := c.Query("code")
	if code == "" {
		linkURL, err := h.oauthSvc.GoogleLinkURL(ctx, rd.SessionID.String())
		if err != nil {
			RespondErr(c, err)
			return
		}
		c.Redirect(http.StatusFound, linkURL)
		return
	}

	if err := h.oauthSvc.HandleGoogleCallback(ctx, c.Query("state"), code); err != nil {
		RespondErr(c, err)
		return
	}
	c.Redirect(http.StatusFound, h.frontendURL)
}

func (h *OAuthHandler) GoogleStatus(c *gin.Context) {
	status, err := h.oauthSvc.GoogleStatus(c.Request.Context())
	if err != nil {
		RespondErr(c, err)
		return
	}
	RespondOK(c, status)
}

func (h *OAuthHandler) GoogleRefresh(c *gin.Context) {
	status, err := h.oauthSvc.RefreshGoogleToken(c.Request.Context())
	if err != nil {
		RespondErr(c, err)
		return
	}
	RespondOK(c, status)
}

func (h *OAuthHandler) GoogleDisconnect(c *gin.Context) {
	if err := h.oauthSvc.DisconnectGoogle(c.Request.Context()); err != nil {
		RespondErr(c, err)
		return
	}
	RespondOK(c, gin.H{"ok": true})
}
