package observability

import (
	"io"
	"os"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog"
)

const RequestIDKey = "request_id"

// NewLogger builds the process logger: human-readable in development, JSON otherwise.
func NewLogger(development bool, level, service string) zerolog.Logger {
	return newLogger(os.Stdout, development, level, service)
}

func newLogger(out io.Writer, development bool, level, service string) zerolog.Logger {
	lvl, err := zerolog.ParseLevel(level)
	if err != nil || level == "" {
		lvl = zerolog.InfoLevel
	}

	if development {
		out = zerolog.ConsoleWriter{Out: out, TimeFormat: time.RFC3339}
	}
	return zerolog.New(out).
		Level(lvl).
		With().
		Timestamp().
		Str("service", service).
		Logger()
}

// RequestLogger assigns a request id to every request and logs it on completion.
func RequestLogger(logger zerolog.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		requestID := RequestIDFromRequest(c.Request)
		c.Set(RequestIDKey, requestID)
		c.Header("X-Request-Id", requestID)

		c.Next()

		route := c.FullPath()
		if route == "" {
			route = c.Request.URL.Path
		}
		ev := logger.Info()
		if c.Writer.Status() >= 500 {
			ev = logger.Error()
		}
		ev.Str("method", c.Request.Method).
			Str("route", route).
			Int("status", c.Writer.Status()).
			Dur("latency", time.Since(start)).
			Str("request_id", requestID).
			Str("remote_addr", IPFromRequest(c.Request)).
			Msg("request completed")
	}
}
