package errrecovery

import "context"

// RetryStrategy is the capability every retry algorithm implements. The
// driver (ExecuteWithRetry) is the only caller; strategies hold no
// knowledge of what operation they are protecting.
//
// Mirrors original_source/services/error_recovery/contracts.py's
// RetryStrategy ABC, translated from async methods on an instance to a Go
// interface passed into one driver function.
type RetryStrategy interface {
	ShouldRetry(ctx context.Context, attempt int, err error, reason RetryReason) bool
	GetDelay(ctx context.Context, attempt int, reason RetryReason) float64
	RecordAttempt(success bool, reason RetryReason)
}

// ServiceErrorHandler is the capability a service-specific error handler
// (e.g. the download service's) implements. The driver calls only
// HandleError, on a failed attempt the RetryStrategy has already allowed
// to be retried; the other methods serve the service's own code.
// Mirrors contracts.py's ErrorHandler ABC.
type ServiceErrorHandler interface {
	ShouldRetry(err error, attempt int) bool
	GetErrorSeverity(err error) Severity
	GetRetryReason(err error) RetryReason
	// HandleError reports whether err was handled/recovered. A true
	// result lets the driver skip the delay and retry immediately.
	HandleError(ctx context.Context, err error, operation string) bool
	CleanupAfterFailure(ctx context.Context, operation string) error
	GetRecoverySuggestions(err error) []string
}

// Reporter is the capability the driver uses to persist and log failures.
type Reporter interface {
	ReportError(ctx context.Context, service, operation string, err error, severity Severity, extra map[string]any) (ErrorReport, error)
}
