package middleware

import (
	"net/http"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"

	"github.com/bullhornlabs/bullhorn-chat-backend/internal/logger"
	"github.com/bullhornlabs/bullhorn-chat-backend/internal/observability"
	"github.com/bullhornlabs/bullhorn-chat-backend/internal/requestdata"
	"github.com/bullhornlabs/bullhorn-chat-backend/internal/services"
	"github.com/bullhornlabs/bullhorn-chat-backend/internal/utils"
)

// Session guarantees every request carries an identity. A valid cookie is
// parsed; anything else gets a freshly minted anonymous session cookie.
func Session(authSvc services.AuthService, baseLog *logger.Logger) gin.HandlerFunc {
	log := baseLog.With("middleware", "Session")
	secure := strings.EqualFold(utils.GetEnv("COOKIE_SECURE", "true", log), "true")

	return func(c *gin.Context) {
		var rd *requestdata.RequestData

		if cookie, err := c.Cookie(services.SessionCookieName); err == nil && cookie != "" {
			parsed, parseErr := authSvc.ParseSession(cookie)
			if parseErr == nil {
				rd = parsed
			} else {
				log.Debug("Rejecting unparseable session cookie", "error", parseErr)
			}
		}

		if rd == nil {
			rd = &requestdata.RequestData{SessionID: uuid.New()}
			token, err := authSvc.IssueSession(rd.SessionID, uuid.Nil)
			if err != nil {
				log.Error("Failed to mint anonymous session", "error", err)
				c.AbortWithStatus(http.StatusInternalServerError)
				return
			}
			c.SetSameSite(http.SameSiteLaxMode)
			c.SetCookie(services.SessionCookieName, token, authSvc.CookieMaxAge(), "/", "", secure, true)
		}

		ctx := requestdata.WithRequestData(c.Request.Context(), rd)
		c.Request = c.Request.WithContext(ctx)
		c.Next()
	}
}

// RequireUser gates routes that only make sense for signed-in users.
func RequireUser() gin.HandlerFunc {
	return func(c *gin.Context) {
		rd := requestdata.GetRequestData(c.Request.Context())
		if rd == nil || !rd.Authenticated() {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{
				"error": gin.H{"message": "authentication required", "code": "not_authenticated"},
			})
			return
		}
		c.Next()
	}
}

// Metrics records method, route template, status, and latency per request.
func Metrics() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()

		m := observability.Current()
		if m == nil {
			return
		}
		route := c.FullPath()
		if route == "" {
			route = "unmatched"
		}
		m.ObserveAPIRequest(c.Request.Method, route, c.Writer.Status(), time.Since(start))
	}
}
