// Package apienvelope implements the {success, data, error, trace_id}
// JSON envelope shared by every service's HTTP surface, plus the gin
// middleware that stamps each response with a trace id.
package apienvelope

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
)

// ErrorDetail is the shape of the envelope's "error" field.
type ErrorDetail struct {
	Code    string `json:"code"`
	Message string `json:"message"`
	Details string `json:"details,omitempty"`
}

// Envelope is the top-level response body for every JSON endpoint.
type Envelope struct {
	Success bool         `json:"success"`
	Data    any          `json:"data,omitempty"`
	Error   *ErrorDetail `json:"error,omitempty"`
	TraceID string       `json:"trace_id,omitempty"`
}

const traceIDKey = "trace_id"
const traceIDHeader = "X-Trace-Id"

// TraceMiddleware propagates an inbound X-Trace-Id header or mints a new
// uuid, storing it on the gin context and echoing it back on the response.
func TraceMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		id := c.GetHeader(traceIDHeader)
		if id == "" {
			id = uuid.NewString()
		}
		c.Set(traceIDKey, id)
		c.Header(traceIDHeader, id)
		c.Next()
	}
}

// TraceID reads the trace id stashed by TraceMiddleware, if any.
func TraceID(c *gin.Context) string {
	v, _ := c.Get(traceIDKey)
	id, _ := v.(string)
	return id
}

// OK writes a successful envelope with the given HTTP status and payload.
func OK(c *gin.Context, status int, data any) {
	c.JSON(status, Envelope{Success: true, Data: data, TraceID: TraceID(c)})
}

// Fail writes a failing envelope with the given HTTP status and error code.
func Fail(c *gin.Context, status int, code, message string) {
	c.JSON(status, Envelope{
		Success: false,
		Error:   &ErrorDetail{Code: code, Message: message},
		TraceID: TraceID(c),
	})
}

// FailDetail is Fail with an additional details string (e.g. a wrapped
// internal error's text, kept out of Message to avoid leaking internals
// into the primary field clients branch on).
func FailDetail(c *gin.Context, status int, code, message, details string) {
	c.JSON(status, Envelope{
		Success: false,
		Error:   &ErrorDetail{Code: code, Message: message, Details: details},
		TraceID: TraceID(c),
	})
}

// NotFound is a convenience wrapper for the common 404 case.
func NotFound(c *gin.Context, code, message string) {
	Fail(c, http.StatusNotFound, code, message)
}

// Internal is a convenience wrapper for unexpected server-side failures.
func Internal(c *gin.Context, err error) {
	FailDetail(c, http.StatusInternalServerError, "E999", "internal error", err.Error())
}
