package middleware

import (
	"net/http"
	"time"

	"github.com/wudi/petshop/internal/logging"
	"go.uber.org/zap"
)

// LoggingConfig configures the access log middleware
type LoggingConfig struct {
	// SkipPaths are paths that should not be logged
	SkipPaths []string
	// Logger overrides the global logger
	Logger *zap.Logger
}

// Logging creates an access log middleware with default config
func Logging() Middleware {
	return LoggingWithConfig(LoggingConfig{})
}

// LoggingWithConfig writes one structured entry per request.
func LoggingWithConfig(cfg LoggingConfig) Middleware {
	skipPaths := make(map[string]bool, len(cfg.SkipPaths))
	for _, p := range cfg.SkipPaths {
		skipPaths[p] = true
	}

	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if skipPaths[r.URL.Path] {
				next.ServeHTTP(w, r)
				return
			}

			start := time.Now()
			sw := newStatusWriter(w)
			next.ServeHTTP(sw, r)
			duration := time.Since(start)

			fields := make([]zap.Field, 0, 9)
			fields = append(fields,
				zap.String("request_id", RequestIDFromContext(r.Context())),
				zap.String("remote_addr", r.RemoteAddr),
				zap.String("method", r.Method),
				zap.String("path", r.URL.Path),
				zap.Int("status", sw.Status()),
				zap.Int64("body_bytes", sw.BytesWritten()),
				zap.Duration("response_time", duration),
			)
			if r.URL.RawQuery != "" {
				fields = append(fields, zap.String("query", r.URL.RawQuery))
			}
			if ua := r.UserAgent(); ua != "" {
				fields = append(fields, zap.String("user_agent", ua))
			}

			logger := cfg.Logger
			if logger == nil {
				logger = logging.Global()
			}
			logger.Info("HTTP request", fields...)
		})
	}
}
