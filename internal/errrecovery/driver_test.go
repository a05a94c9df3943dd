package errrecovery

import (
	"context"
	"fmt"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"
)

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m)
}

func TestExecuteWithRetrySucceedsEventually(t *testing.T) {
	d := NewDriver()
	cfg := RetryConfig{MaxAttempts: 5, BaseDelay: 0.001, MaxDelay: 0.01, ExponentialBase: 1.0, Jitter: false}
	strategy := NewExponentialBackoffStrategy(cfg)

	attempts := 0
	result, err := ExecuteWithRetry(context.Background(), d, strategy, "exponential", "test-op", func(ctx context.Context) (string, error) {
		attempts++
		if attempts < 3 {
			return "", fmt.Errorf("%w: flaky upstream", ErrNetwork)
		}
		return "ok", nil
	})

	require.NoError(t, err)
	assert.Equal(t, "ok", result)
	assert.Equal(t, 3, attempts)
}

func TestExecuteWithRetryExhausts(t *testing.T) {
	d := NewDriver()
	cfg := RetryConfig{MaxAttempts: 2, BaseDelay: 0.001, MaxDelay: 0.01, ExponentialBase: 1.0, Jitter: false}
	strategy := NewExponentialBackoffStrategy(cfg)

	_, err := ExecuteWithRetry(context.Background(), d, strategy, "exponential", "test-op", func(ctx context.Context) (int, error) {
		return 0, fmt.Errorf("%w: still down", ErrServiceDown)
	})

	require.Error(t, err)
}

func TestExecuteWithRetryHonorsContextCancellation(t *testing.T) {
	d := NewDriver()
	cfg := RetryConfig{MaxAttempts: 100, BaseDelay: 10, MaxDelay: 10, ExponentialBase: 1.0, Jitter: false}
	strategy := NewExponentialBackoffStrategy(cfg)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := ExecuteWithRetry(ctx, d, strategy, "exponential", "test-op", func(ctx context.Context) (int, error) {
		return 0, fmt.Errorf("%w: nope", ErrNetwork)
	})
	require.Error(t, err)
}

func TestActiveRecoveriesReturnsToBaselineAfterConcurrentCalls(t *testing.T) {
	d := NewDriver()
	cfg := RetryConfig{MaxAttempts: 1, BaseDelay: 0.001, MaxDelay: 0.01, ExponentialBase: 1.0, Jitter: false}
	strategy := NewExponentialBackoffStrategy(cfg)

	const n = 8
	release := make(chan struct{})
	var inflight sync.WaitGroup
	inflight.Add(n)

	var wg sync.WaitGroup
	wg.Add(n)
	for i := 0; i < n; i++ {
		go func() {
			defer wg.Done()
			_, _ = ExecuteWithRetry(context.Background(), d, strategy, "exponential", "test-op", func(ctx context.Context) (struct{}, error) {
				inflight.Done()
				<-release
				return struct{}{}, nil
			})
		}()
	}

	inflight.Wait()
	assert.Len(t, d.ActiveRecoveries(), n)

	close(release)
	wg.Wait()
	assert.Empty(t, d.ActiveRecoveries())
}

func TestExecuteWithRetryHandlerRecoversWithoutSleep(t *testing.T) {
	d := NewDriver()
	cfg := RetryConfig{MaxAttempts: 5, BaseDelay: 10, MaxDelay: 10, ExponentialBase: 1.0, Jitter: false}
	strategy := NewExponentialBackoffStrategy(cfg)

	attempts := 0
	result, err := ExecuteWithRetry(context.Background(), d, strategy, "exponential", "test-op",
		func(ctx context.Context) (string, error) {
			attempts++
			if attempts < 3 {
				return "", fmt.Errorf("%w: flaky upstream", ErrNetwork)
			}
			return "ok", nil
		},
		WithHandler(fakeHandler{recovers: true}),
	)

	require.NoError(t, err)
	assert.Equal(t, "ok", result)
	assert.Equal(t, 3, attempts)
}

func TestExecuteWithRetryReportsExhaustedFailure(t *testing.T) {
	d := NewDriver()
	cfg := RetryConfig{MaxAttempts: 2, BaseDelay: 0.001, MaxDelay: 0.01, ExponentialBase: 1.0, Jitter: false}
	strategy := NewExponentialBackoffStrategy(cfg)
	reporter := &fakeReporter{}

	_, err := ExecuteWithRetry(context.Background(), d, strategy, "exponential", "test-op",
		func(ctx context.Context) (int, error) {
			return 0, fmt.Errorf("%w: still down", ErrServiceDown)
		},
		WithReporter(reporter, "test-service"),
	)

	require.Error(t, err)
	require.Len(t, reporter.reports, 1)
	assert.Equal(t, "test-service", reporter.reports[0])
}

type fakeHandler struct {
	recovers bool
}

func (fakeHandler) ShouldRetry(err error, attempt int) bool        { return true }
func (fakeHandler) GetErrorSeverity(err error) Severity            { return SeverityLow }
func (fakeHandler) GetRetryReason(err error) RetryReason           { return ReasonUnknown }
func (f fakeHandler) HandleError(ctx context.Context, err error, operation string) bool {
	return f.recovers
}
func (fakeHandler) CleanupAfterFailure(ctx context.Context, operation string) error { return nil }
func (fakeHandler) GetRecoverySuggestions(err error) []string                       { return nil }

type fakeReporter struct {
	reports []string
}

func (r *fakeReporter) ReportError(ctx context.Context, service, operation string, err error, severity Severity, extra map[string]any) (ErrorReport, error) {
	r.reports = append(r.reports, service)
	return ErrorReport{Service: service, Operation: operation}, nil
}

func TestDetermineRetryReasonSentinelsAndKeywords(t *testing.T) {
	assert.Equal(t, ReasonNetworkError, DetermineRetryReason(fmt.Errorf("%w: dial failed", ErrNetwork)))
	assert.Equal(t, ReasonTimeout, DetermineRetryReason(fmt.Errorf("request timed out")))
	assert.Equal(t, ReasonQuotaExceeded, DetermineRetryReason(fmt.Errorf("daily quota exceeded")))
	assert.Equal(t, ReasonUnknown, DetermineRetryReason(fmt.Errorf("something bizarre happened")))
}
