package logging

import (
	"context"
	"os"
	"sync/atomic"
	"time"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
)

type ctxKey string

const (
	sessionKey ctxKey = "session_id"
	requestKey ctxKey = "request_id"
)

var current atomic.Pointer[zap.Logger]

func init() {
	var logger *zap.Logger
	if os.Getenv("DEBUG") == "true" {
		logger, _ = zap.NewDevelopment()
	} else {
		logger, _ = zap.NewProduction()
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	current.Store(logger)
}

// L returns the process logger.
func L() *zap.Logger {
	return current.Load()
}

// SetLogger swaps the process logger, returning the previous one.
func SetLogger(logger *zap.Logger) *zap.Logger {
	if logger == nil {
		logger = zap.NewNop()
	}
	return current.Swap(logger)
}

func With(fields ...zap.Field) *zap.Logger {
	return L().With(fields...)
}

// WithCtx attaches the visitor session and request ids found on ctx.
func WithCtx(ctx context.Context) *zap.Logger {
	if ctx == nil {
		return L()
	}
	fields := []zap.Field{}
	if v, ok := ctx.Value(sessionKey).(string); ok && v != "" {
		fields = append(fields, zap.String("session_id", v))
	}
	if v, ok := ctx.Value(requestKey).(string); ok && v != "" {
		fields = append(fields, zap.String("request_id", v))
	}
	return L().With(fields...)
}

func ContextWithSession(ctx context.Context, sessionID string) context.Context {
	return context.WithValue(ctx, sessionKey, sessionID)
}

func ContextWithRequest(ctx context.Context, requestID string) context.Context {
	return context.WithValue(ctx, requestKey, requestID)
}

// Middleware logs one line per request once the handler chain returns.
func Middleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		path := c.Request.URL.Path
		c.Next()

		fields := []zap.Field{
			zap.String("method", c.Request.Method),
			zap.String("path", path),
			zap.Int("status", c.Writer.Status()),
			zap.Duration("latency", time.Since(start)),
		}
		if len(c.Errors) > 0 {
			fields = append(fields, zap.String("errors", c.Errors.String()))
		}
		logger := WithCtx(c.Request.Context())
		switch {
		case c.Writer.Status() >= 500:
			logger.Error("request", fields...)
		case c.Writer.Status() >= 400:
			logger.Warn("request", fields...)
		default:
			logger.Info("request", fields...)
		}
	}
}
