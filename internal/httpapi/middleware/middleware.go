// Package middleware provides the gin middleware chain shared across the
// control plane's public and internal route groups: request-id
// correlation, structured access logging, and bearer-token authentication.
package middleware

import (
	"crypto/subtle"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"

	"github.com/kweaver-ai/sandboxctl/internal/apperrors"
	"github.com/kweaver-ai/sandboxctl/internal/logging"
)

const (
	RequestIDHeader = "X-Request-ID"
	RequestIDKey    = "request_id"
)

// RequestID generates or propagates a correlation id for each request.
func RequestID() gin.HandlerFunc {
	return func(c *gin.Context) {
		id := c.GetHeader(RequestIDHeader)
		if id == "" {
			id = uuid.New().String()
		}
		c.Set(RequestIDKey, id)
		c.Header(RequestIDHeader, id)
		c.Next()
	}
}

// GetRequestID retrieves the request id set by RequestID.
func GetRequestID(c *gin.Context) string {
	if v, ok := c.Get(RequestIDKey); ok {
		if s, ok := v.(string); ok {
			return s
		}
	}
	return ""
}

// AccessLog emits one structured log line per request.
func AccessLog() gin.HandlerFunc {
	log := logging.HTTP()
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()
		log.Info().
			Str("request_id", GetRequestID(c)).
			Str("method", c.Request.Method).
			Str("path", c.Request.URL.Path).
			Int("status", c.Writer.Status()).
			Dur("duration", time.Since(start)).
			Msg("request handled")
	}
}

// BearerAuth requires the Authorization header to carry "Bearer <token>"
// matching expectedToken, compared in constant time so response timing
// cannot be used to recover the token byte-by-byte.
func BearerAuth(expectedToken string) gin.HandlerFunc {
	const prefix = "Bearer "
	return func(c *gin.Context) {
		header := c.GetHeader("Authorization")
		if len(header) <= len(prefix) || header[:len(prefix)] != prefix {
			writeUnauthorized(c)
			return
		}
		token := header[len(prefix):]
		if subtle.ConstantTimeCompare([]byte(token), []byte(expectedToken)) != 1 {
			writeUnauthorized(c)
			return
		}
		c.Next()
	}
}

func writeUnauthorized(c *gin.Context) {
	err := apperrors.New("Auth.Unauthorized", "missing or invalid bearer token")
	c.JSON(http.StatusUnauthorized, err.ToResponse(GetRequestID(c)))
	c.Abort()
}
