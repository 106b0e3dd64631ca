package auth

import (
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"

	"quotebot/internal/logger"
)

const (
	visitorIDContextKey = "auth_visitor_id"
	chatTokenContextKey = "auth_chat_token"
)

// Middleware validates chat tokens and stores the visitor in the context.
func (s *Service) Middleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		chatToken := s.ExtractToken(c)
		if chatToken == "" {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "authorization required"})
			return
		}
		visitorID, err := s.ValidateToken(c.Request.Context(), chatToken)
		if err != nil {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": err.Error()})
			return
		}
		c.Set(visitorIDContextKey, visitorID)
		c.Set(chatTokenContextKey, chatToken)
		ctx := logger.WithLogFields(c.Request.Context(), logger.LogFields{VisitorID: visitorID})
		c.Request = c.Request.WithContext(ctx)
		c.Next()
	}
}

// VisitorIDFromContext retrieves the authenticated visitor id from the gin context.
func VisitorIDFromContext(c *gin.Context) (int64, bool) {
	val, ok := c.Get(visitorIDContextKey)
	if !ok {
		return 0, false
	}
	visitorID, ok := val.(int64)
	return visitorID, ok
}

// ChatTokenFromContext retrieves the token captured by the middleware.
func ChatTokenFromContext(c *gin.Context) (string, bool) {
	val, ok := c.Get(chatTokenContextKey)
	if !ok {
		return "", false
	}
	token, ok := val.(string)
	return token, ok
}

// ExtractToken reads the bearer header, falling back to the auth cookie.
func (s *Service) ExtractToken(c *gin.Context) string {
	authHeader := c.GetHeader(s.headerName)
	if strings.HasPrefix(strings.ToLower(authHeader), "bearer ") {
		return strings.TrimSpace(authHeader[7:])
	}
	if token, err := c.Cookie(s.cookieName); err == nil && token != "" {
		return token
	}
	return ""
}
