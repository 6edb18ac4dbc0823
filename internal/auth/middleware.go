package auth

import (
	"net/http"
	"strings"

	"legalease/internal/logging"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
)

const (
	sessionIDContextKey = "auth_session_id"
	authTokenContextKey = "auth_token"
	csrfTokenContextKey = "csrf_token"
)

// Visitor resolves the caller's session from its token, minting a new
// session and cookies when the token is missing, expired or revoked.
func (s *Service) Visitor() gin.HandlerFunc {
	return func(c *gin.Context) {
		ctx := c.Request.Context()
		authToken := s.extractToken(c)
		sessionID, err := s.ValidateToken(ctx, authToken)
		if err != nil {
			if authToken != "" {
				logging.WithCtx(ctx).Debug("discarding visitor token", zap.Error(err))
			}
			sessionID = s.NewSessionID()
			authToken, err = s.IssueToken(sessionID)
			if err != nil {
				logging.WithCtx(ctx).Error("issue visitor token failed", zap.Error(err))
				c.AbortWithStatusJSON(http.StatusInternalServerError, gin.H{"error": "unable to start session"})
				return
			}
			s.setCookie(c, s.cookieName, authToken, true)
		}

		csrfToken, cerr := c.Cookie(s.csrfCookieName)
		if cerr != nil || csrfToken == "" {
			csrfToken, err = s.NewCSRFToken()
			if err != nil {
				logging.WithCtx(ctx).Error("issue csrf token failed", zap.Error(err))
				c.AbortWithStatusJSON(http.StatusInternalServerError, gin.H{"error": "unable to start session"})
				return
			}
			s.setCookie(c, s.csrfCookieName, csrfToken, false)
		}

		c.Set(sessionIDContextKey, sessionID)
		c.Set(authTokenContextKey, authToken)
		c.Set(csrfTokenContextKey, csrfToken)
		c.Request = c.Request.WithContext(logging.ContextWithSession(ctx, sessionID))
		c.Next()
	}
}

// ClearSession drops the visitor cookies; the next request starts a new session.
func (s *Service) ClearSession(c *gin.Context) {
	c.SetSameSite(http.SameSiteLaxMode)
	c.SetCookie(s.cookieName, "", -1, "/", "", s.secureCookies, true)
}

func (s *Service) setCookie(c *gin.Context, name, value string, httpOnly bool) {
	c.SetSameSite(http.SameSiteLaxMode)
	c.SetCookie(name, value, int(s.tokenTTL.Seconds()), "/", "", s.secureCookies, httpOnly)
	// make the value visible to handlers later in this same request
	c.Request.AddCookie(&http.Cookie{Name: name, Value: value})
}

// SessionIDFromContext retrieves the visitor session id from the gin context.
func SessionIDFromContext(c *gin.Context) (string, bool) {
	val, ok := c.Get(sessionIDContextKey)
	if !ok {
		return "", false
	}
	id, ok := val.(string)
	return id, ok && id != ""
}

// AuthTokenFromContext retrieves the token captured by the middleware.
func AuthTokenFromContext(c *gin.Context) (string, bool) {
	val, ok := c.Get(authTokenContextKey)
	if !ok {
		return "", false
	}
	token, ok := val.(string)
	return token, ok
}

// CSRFTokenFromContext returns the token to embed in rendered forms.
func CSRFTokenFromContext(c *gin.Context) string {
	val, ok := c.Get(csrfTokenContextKey)
	if !ok {
		return ""
	}
	token, _ := val.(string)
	return token
}

func (s *Service) extractToken(c *gin.Context) string {
	authHeader := c.GetHeader(s.headerName)
	if strings.HasPrefix(strings.ToLower(authHeader), "bearer ") {
		return strings.TrimSpace(authHeader[7:])
	}
	if token, err := c.Cookie(s.cookieName); err == nil && token != "" {
		return token
	}
	return ""
}
