// Package svclog wires up zerolog for one of the fleet's services and
// provides the gin middleware that attaches a request-scoped logger,
// replacing the teacher's use of gin's built-in text logger.
package svclog

import (
	"os"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog"

	"github.com/ytarchive/fleet/internal/apienvelope"
)

const loggerKey = "logger"

// New builds the base logger for a service, writing leveled JSON to stdout.
func New(service string, debug bool) zerolog.Logger {
	level := zerolog.InfoLevel
	if debug {
		level = zerolog.DebugLevel
	}
	zerolog.SetGlobalLevel(level)
	return zerolog.New(os.Stdout).With().
		Timestamp().
		Str("service", service).
		Logger()
}

// Middleware attaches a request-scoped logger (carrying the trace id) to
// the gin context and logs one line per completed request.
func Middleware(base zerolog.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		traceID := apienvelope.TraceID(c)
		l := base.With().Str("trace_id", traceID).Logger()
		c.Set(loggerKey, l)

		c.Next()

		l.Info().
			Str("method", c.Request.Method).
			Str("path", c.Request.URL.Path).
			Int("status", c.Writer.Status()).
			Dur("latency", time.Since(start)).
			Msg("request")
	}
}

// From retrieves the request-scoped logger, falling back to a no-context
// logger if the middleware was never installed (tests, background work).
func From(c *gin.Context) zerolog.Logger {
	if v, ok := c.Get(loggerKey); ok {
		if l, ok := v.(zerolog.Logger); ok {
			return l
		}
	}
	return zerolog.New(os.Stdout).With().Timestamp().Logger()
}
