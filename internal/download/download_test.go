package download

import (
	"context"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"

	"github.com/ytarchive/fleet/internal/errrecovery"
)

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m)
}

type fakeRunner struct {
	mu        sync.Mutex
	delay     time.Duration
	fail      bool
	blocked   chan struct{}
	active    int
	maxActive int
}

func (f *fakeRunner) Run(ctx context.Context, req RunRequest, report func(ProgressUpdate)) (string, error) {
	f.mu.Lock()
	f.active++
	if f.active > f.maxActive {
		f.maxActive = f.active
	}
	f.mu.Unlock()
	defer func() {
		f.mu.Lock()
		f.active--
		f.mu.Unlock()
	}()
	if f.blocked != nil {
		select {
		case <-f.blocked:
		case <-ctx.Done():
			return "", ctx.Err()
		}
	}
	if f.delay > 0 {
		select {
		case <-time.After(f.delay):
		case <-ctx.Done():
			return "", ctx.Err()
		}
	}
	if f.fail {
		return "", assertErr
	}
	report(ProgressUpdate{DownloadedBytes: 100, Finished: true, FilePath: req.OutputPath + "/" + req.VideoID + ".mp4"})
	return req.OutputPath + "/" + req.VideoID + ".mp4", nil
}

var assertErr = assertError("boom")

type assertError string

func (e assertError) Error() string { return string(e) }

func TestStartDownloadRejectsUnknownQuality(t *testing.T) {
	s := New(&fakeRunner{}, 2, zerolog.Nop(), nil, nil)
	_, err := s.StartDownload(context.Background(), StartRequest{VideoID: "v1", Quality: "potato", OutputPath: t.TempDir()})
	require.Error(t, err)
	s.Wait()
}

func TestStartDownloadCompletes(t *testing.T) {
	s := New(&fakeRunner{}, 2, zerolog.Nop(), nil, nil)
	task, err := s.StartDownload(context.Background(), StartRequest{VideoID: "v1", Quality: "720p", OutputPath: t.TempDir()})
	require.NoError(t, err)
	s.Wait()

	progress, err := s.GetProgress(task.TaskID)
	require.NoError(t, err)
	assert.Equal(t, 100.0, progress.ProgressPercent)
}

func TestCancelIsNonBlocking(t *testing.T) {
	blocked := make(chan struct{})
	s := New(&fakeRunner{blocked: blocked}, 1, zerolog.Nop(), nil, nil)
	task, err := s.StartDownload(context.Background(), StartRequest{VideoID: "v1", Quality: "720p", OutputPath: t.TempDir()})
	require.NoError(t, err)

	// Give the worker a moment to acquire the semaphore and block on the
	// runner before we cancel.
	time.Sleep(20 * time.Millisecond)

	require.NoError(t, s.Cancel(task.TaskID))

	progress, err := s.GetProgress(task.TaskID)
	require.NoError(t, err)
	assert.Equal(t, "cancelled", string(progress.Status))

	close(blocked)
	s.Wait()
}

func TestCancelRefusesTerminalTask(t *testing.T) {
	s := New(&fakeRunner{}, 1, zerolog.Nop(), nil, nil)
	task, err := s.StartDownload(context.Background(), StartRequest{VideoID: "v1", Quality: "720p", OutputPath: t.TempDir()})
	require.NoError(t, err)
	s.Wait()

	err = s.Cancel(task.TaskID)
	assert.ErrorIs(t, err, ErrCannotCancel)
}

func TestGetProgressUnknownTask(t *testing.T) {
	s := New(&fakeRunner{}, 1, zerolog.Nop(), nil, nil)
	_, err := s.GetProgress("nope")
	assert.ErrorIs(t, err, ErrTaskNotFound)
}

// flakyThenSucceedsRunner fails the first failUntil calls, then succeeds,
// modeling spec scenario 2: a downloader that errors twice before working.
type flakyThenSucceedsRunner struct {
	mu        sync.Mutex
	attempts  int
	failUntil int
}

func (f *flakyThenSucceedsRunner) Run(ctx context.Context, req RunRequest, report func(ProgressUpdate)) (string, error) {
	f.mu.Lock()
	f.attempts++
	attempt := f.attempts
	f.mu.Unlock()
	if attempt <= f.failUntil {
		return "", assertErr
	}
	report(ProgressUpdate{Finished: true, FilePath: req.OutputPath + "/" + req.VideoID + ".mp4"})
	return req.OutputPath + "/" + req.VideoID + ".mp4", nil
}

type recoveringHandler struct{}

func (recoveringHandler) ShouldRetry(err error, attempt int) bool { return true }
func (recoveringHandler) GetErrorSeverity(err error) errrecovery.Severity {
	return errrecovery.SeverityMedium
}
func (recoveringHandler) GetRetryReason(err error) errrecovery.RetryReason {
	return errrecovery.ReasonUnknown
}
func (recoveringHandler) HandleError(ctx context.Context, err error, operation string) bool {
	return true
}
func (recoveringHandler) CleanupAfterFailure(ctx context.Context, operation string) error {
	return nil
}
func (recoveringHandler) GetRecoverySuggestions(err error) []string { return nil }

func TestRunTaskRetriesThroughTransientFailures(t *testing.T) {
	runner := &flakyThenSucceedsRunner{failUntil: 2}
	s := New(runner, 1, zerolog.Nop(), recoveringHandler{}, nil)
	s.retryStrategy = errrecovery.NewExponentialBackoffStrategy(errrecovery.RetryConfig{
		MaxAttempts: 5, BaseDelay: 0.001, MaxDelay: 0.01, ExponentialBase: 1.0,
	})

	task, err := s.StartDownload(context.Background(), StartRequest{VideoID: "v1", Quality: "720p", OutputPath: t.TempDir()})
	require.NoError(t, err)
	s.Wait()

	progress, err := s.GetProgress(task.TaskID)
	require.NoError(t, err)
	assert.Equal(t, "completed", string(progress.Status))
	assert.Equal(t, 3, runner.attempts)
}

type cleanupTrackingHandler struct {
	cleaned chan string
}

func (cleanupTrackingHandler) ShouldRetry(err error, attempt int) bool { return false }
func (cleanupTrackingHandler) GetErrorSeverity(err error) errrecovery.Severity {
	return errrecovery.SeverityHigh
}
func (cleanupTrackingHandler) GetRetryReason(err error) errrecovery.RetryReason {
	return errrecovery.ReasonUnknown
}
func (cleanupTrackingHandler) HandleError(ctx context.Context, err error, operation string) bool {
	return false
}
func (h cleanupTrackingHandler) CleanupAfterFailure(ctx context.Context, outputDir string) error {
	h.cleaned <- outputDir
	return nil
}
func (cleanupTrackingHandler) GetRecoverySuggestions(err error) []string { return nil }

func TestRunTaskCleansUpAfterExhaustedFailure(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, "v1.part"), []byte("x"), 0o644))

	cleaned := make(chan string, 1)
	s := New(&fakeRunner{fail: true}, 1, zerolog.Nop(), cleanupTrackingHandler{cleaned: cleaned}, nil)
	s.retryStrategy = errrecovery.NewExponentialBackoffStrategy(errrecovery.RetryConfig{
		MaxAttempts: 2, BaseDelay: 0.001, MaxDelay: 0.01, ExponentialBase: 1.0,
	})

	task, err := s.StartDownload(context.Background(), StartRequest{VideoID: "v1", Quality: "720p", OutputPath: dir})
	require.NoError(t, err)
	s.Wait()

	select {
	case got := <-cleaned:
		assert.Equal(t, dir, got)
	case <-time.After(time.Second):
		t.Fatal("CleanupAfterFailure was not called")
	}

	progress, err := s.GetProgress(task.TaskID)
	require.NoError(t, err)
	assert.Equal(t, "failed", string(progress.Status))
}

func TestBoundedConcurrencyRespectsSemaphore(t *testing.T) {
	runner := &fakeRunner{delay: 30 * time.Millisecond}
	s := New(runner, 2, zerolog.Nop(), nil, nil)
	dir := t.TempDir()
	for i := 0; i < 5; i++ {
		_, err := s.StartDownload(context.Background(), StartRequest{VideoID: "v", Quality: "audio", OutputPath: dir})
		require.NoError(t, err)
	}
	s.Wait()
	assert.LessOrEqual(t, runner.maxActive, 2)
}
