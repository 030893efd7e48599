package cache

import (
	"bytes"
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
)

type responseWriter struct {
	gin.ResponseWriter
	body *bytes.Buffer
}

func (w *responseWriter) Write(b []byte) (int, error) {
	w.body.Write(b)
	return w.ResponseWriter.Write(b)
}

type cachedResponse struct {
	StatusCode int               `json:"status_code"`
	Headers    map[string]string `json:"headers"`
	Body       string            `json:"body"`
}

// Middleware caches successful GET responses for ttl, keyed by request URI.
// Non-GET requests and a disabled cache pass through untouched.
func Middleware(c *Cache, ttl time.Duration) gin.HandlerFunc {
	return func(ctx *gin.Context) {
		if ctx.Request.Method != http.MethodGet || !c.Enabled() {
			ctx.Next()
			return
		}

		key := requestCacheKey(ctx.Request.URL.RequestURI())

		var cached cachedResponse
		if err := c.Get(ctx.Request.Context(), key, &cached); err == nil {
			for k, v := range cached.Headers {
				ctx.Header(k, v)
			}
			ctx.Header("X-Cache", "HIT")
			ctx.Data(cached.StatusCode, "application/json", []byte(cached.Body))
			ctx.Abort()
			return
		}

		writer := &responseWriter{ResponseWriter: ctx.Writer, body: &bytes.Buffer{}}
		ctx.Writer = writer
		ctx.Next()

		if ctx.Writer.Status() >= 200 && ctx.Writer.Status() < 300 {
			headers := make(map[string]string)
			for k := range ctx.Writer.Header() {
				headers[k] = ctx.Writer.Header().Get(k)
			}
			resp := cachedResponse{StatusCode: ctx.Writer.Status(), Headers: headers, Body: writer.body.String()}
			go func() {
				_ = c.Set(context.Background(), key, resp, ttl)
			}()
			ctx.Header("X-Cache", "MISS")
		}
	}
}

// InvalidateMiddleware deletes every key matching pattern after a
// successful non-GET request completes.
func InvalidateMiddleware(c *Cache, pattern string) gin.HandlerFunc {
	return func(ctx *gin.Context) {
		ctx.Next()
		if ctx.Request.Method != http.MethodGet && ctx.Writer.Status() >= 200 && ctx.Writer.Status() < 300 && c.Enabled() {
			go func() {
				_ = c.DeletePattern(context.Background(), pattern)
			}()
		}
	}
}

func requestCacheKey(uri string) string {
	hash := sha256.Sum256([]byte(uri))
	return fmt.Sprintf("response:%s", hex.EncodeToString(hash[:]))
}
