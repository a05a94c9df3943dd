// Package errrecovery implements the fleet's shared retry and error
// reporting fabric: pluggable RetryStrategy implementations driven by one
// ExecuteWithRetry loop, plus a BasicErrorReporter persisting failures.
//
// Grounded on original_source/services/error_recovery/{base,types,
// contracts,reporting}.py and retry/strategies.py.
package errrecovery

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/ytarchive/fleet/internal/metrics"
)

// Operation is the unit of work ExecuteWithRetry drives. It must be
// idempotent from the caller's perspective: the driver may invoke it more
// than once.
type Operation[T any] func(ctx context.Context) (T, error)

// Driver owns the in-flight ActiveRecovery bookkeeping across concurrent
// ExecuteWithRetry callers, mirroring base.py's BaseErrorRecoveryService
// instance state.
type Driver struct {
	mu     sync.Mutex
	active map[string]*ActiveRecovery
}

// NewDriver constructs an empty Driver.
func NewDriver() *Driver {
	return &Driver{active: make(map[string]*ActiveRecovery)}
}

// ActiveRecoveries returns a snapshot of every recovery currently tracked.
func (d *Driver) ActiveRecoveries() []ActiveRecovery {
	d.mu.Lock()
	defer d.mu.Unlock()
	out := make([]ActiveRecovery, 0, len(d.active))
	for _, r := range d.active {
		out = append(out, *r)
	}
	return out
}

// Option configures an ExecuteWithRetry call with the optional capabilities
// the driver algorithm consults: a service-specific ServiceErrorHandler and
// a Reporter. Both are nil by default, matching call sites that need only
// the bare strategy-driven retry loop.
type Option func(*options)

type options struct {
	handler     ServiceErrorHandler
	reporter    Reporter
	service     string
	reportExtra map[string]any
}

// WithHandler binds a service-specific ServiceErrorHandler. Per base.py's
// execute_with_retry, the driver invokes handler.HandleError on every
// failed attempt; if it reports the error as handled, the driver retries
// immediately without sleeping.
func WithHandler(h ServiceErrorHandler) Option {
	return func(o *options) { o.handler = h }
}

// WithReporter binds a Reporter that receives the final, unrecovered error
// when the retry loop is exhausted. service labels the report.
func WithReporter(r Reporter, service string) Option {
	return func(o *options) { o.reporter = r; o.service = service }
}

// ExecuteWithRetry runs op under strategy, retrying per the strategy's
// ShouldRetry/GetDelay contract until it succeeds, the strategy refuses a
// further attempt, or ctx is cancelled. operationName prefixes the returned
// error and is passed to a bound handler and reporter. The ActiveRecovery
// entry is keyed by a generated operation id and holds the start time and
// attempt history; it does not record operationName.
//
// Mirrors base.py's BaseErrorRecoveryService.execute_with_retry: call the
// operation, and on error classify the reason, ask the strategy whether to
// retry, record the attempt either way, and sleep for the strategy's delay
// before looping. If a handler is bound it gets a chance to recover the
// error before the sleep; if the loop exits still holding an error, a bound
// reporter is given the chance to persist it. The ActiveRecovery entry is
// always removed on exit, success or failure, so ActiveRecoveries reflects
// exactly the calls still in flight.
func ExecuteWithRetry[T any](ctx context.Context, d *Driver, strategy RetryStrategy, strategyName, operationName string, op Operation[T], opts ...Option) (T, error) {
	var o options
	for _, apply := range opts {
		apply(&o)
	}

	operationID := uuid.NewString()
	rec := &ActiveRecovery{OperationID: operationID, StartedAt: time.Now()}
	d.mu.Lock()
	d.active[operationID] = rec
	d.mu.Unlock()
	defer func() {
		d.mu.Lock()
		delete(d.active, operationID)
		d.mu.Unlock()
	}()

	var zero T
	attempt := 0
	for {
		result, err := op(ctx)
		if err == nil {
			strategy.RecordAttempt(true, "")
			metrics.RetryAttempts.WithLabelValues(strategyName, "", "success").Inc()
			return result, nil
		}

		reason := DetermineRetryReason(err)
		shouldRetry := strategy.ShouldRetry(ctx, attempt, err, reason)
		strategy.RecordAttempt(false, reason)

		delay := strategy.GetDelay(ctx, attempt, reason)
		d.mu.Lock()
		rec.Attempts = append(rec.Attempts, AttemptRecord{
			Attempt:   attempt,
			Reason:    reason,
			Error:     err.Error(),
			DelayedBy: time.Duration(delay * float64(time.Second)),
			At:        time.Now(),
		})
		d.mu.Unlock()

		if !shouldRetry {
			metrics.RetryAttempts.WithLabelValues(strategyName, string(reason), "exhausted").Inc()
			wrapped := fmt.Errorf("%s: exhausted retries after %d attempts: %w", operationName, attempt+1, err)
			reportFailure(ctx, o, operationName, wrapped)
			return zero, wrapped
		}
		metrics.RetryAttempts.WithLabelValues(strategyName, string(reason), "retry").Inc()

		if o.handler != nil && o.handler.HandleError(ctx, err, operationName) {
			attempt++
			continue
		}

		select {
		case <-ctx.Done():
			wrapped := fmt.Errorf("%s: %w", operationName, ctx.Err())
			reportFailure(ctx, o, operationName, wrapped)
			return zero, wrapped
		case <-time.After(time.Duration(delay * float64(time.Second))):
		}

		attempt++
	}
}

// reportFailure hands the final, unrecovered error to the bound reporter,
// if any. Any error the Reporter returns is discarded here, so a reporting
// failure never changes what ExecuteWithRetry returns to its caller.
func reportFailure(ctx context.Context, o options, operationName string, err error) {
	if o.reporter == nil {
		return
	}
	service := o.service
	if service == "" {
		service = "unknown"
	}
	_, _ = o.reporter.ReportError(ctx, service, operationName, err, SeverityHigh, o.reportExtra)
}

// Sentinel errors an Operation can wrap with fmt.Errorf("%w: ...") so
// DetermineRetryReason can classify them without string sniffing.
var (
	ErrNetwork          = errors.New("network error")
	ErrRateLimited      = errors.New("rate limited")
	ErrQuotaExceeded    = errors.New("quota exceeded")
	ErrServiceDown      = errors.New("service unavailable")
	ErrTimeout          = errors.New("timeout")
	ErrQualityMissing   = errors.New("requested quality not available")
)

// DetermineRetryReason classifies err into a RetryReason, first by sentinel
// match (errors.Is) and falling back to keyword sniffing on the error text
// for errors that cross a process boundary (e.g. an inter-service HTTP
// call) and so can't carry a Go sentinel. Mirrors base.py's
// _determine_retry_reason, which does the equivalent via exception type
// and message inspection.
func DetermineRetryReason(err error) RetryReason {
	switch {
	case errors.Is(err, ErrNetwork):
		return ReasonNetworkError
	case errors.Is(err, ErrRateLimited):
		return ReasonRateLimited
	case errors.Is(err, ErrQuotaExceeded):
		return ReasonQuotaExceeded
	case errors.Is(err, ErrServiceDown):
		return ReasonServiceUnavailable
	case errors.Is(err, ErrTimeout):
		return ReasonTimeout
	case errors.Is(err, ErrQualityMissing):
		return ReasonQualityNotAvailable
	}

	msg := strings.ToLower(err.Error())
	switch {
	case strings.Contains(msg, "timeout") || strings.Contains(msg, "timed out"):
		return ReasonTimeout
	case strings.Contains(msg, "rate limit") || strings.Contains(msg, "429"):
		return ReasonRateLimited
	case strings.Contains(msg, "quota"):
		return ReasonQuotaExceeded
	case strings.Contains(msg, "unavailable") || strings.Contains(msg, "503"):
		return ReasonServiceUnavailable
	case strings.Contains(msg, "connection") || strings.Contains(msg, "network"):
		return ReasonNetworkError
	case strings.Contains(msg, "quality"):
		return ReasonQualityNotAvailable
	default:
		return ReasonUnknown
	}
}
