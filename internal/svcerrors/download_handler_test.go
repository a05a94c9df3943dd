package svcerrors

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ytarchive/fleet/internal/errrecovery"
)

func testHandler() *DownloadErrorHandler {
	return NewDownloadErrorHandler(zerolog.Nop())
}

func TestShouldRetryYouTubeErrorsNeverRetried(t *testing.T) {
	h := testHandler()
	assert.False(t, h.ShouldRetry(errors.New("Private video"), 0))
	assert.False(t, h.ShouldRetry(errors.New("This video has been removed"), 0))
}

func TestShouldRetryPermissionDeniedNeverRetried(t *testing.T) {
	h := testHandler()
	assert.False(t, h.ShouldRetry(errors.New("permission denied writing file"), 0))
}

func TestShouldRetryNetworkErrorsAlwaysRetried(t *testing.T) {
	h := testHandler()
	assert.True(t, h.ShouldRetry(errors.New("connection reset by peer"), 5))
}

func TestShouldRetryUnknownOnlyOnce(t *testing.T) {
	h := testHandler()
	assert.True(t, h.ShouldRetry(errors.New("something odd"), 0))
	assert.True(t, h.ShouldRetry(errors.New("something odd"), 1))
	assert.False(t, h.ShouldRetry(errors.New("something odd"), 2))
}

func TestGetErrorSeverity(t *testing.T) {
	h := testHandler()
	assert.Equal(t, errrecovery.SeverityCritical, h.GetErrorSeverity(errors.New("corrupted output file")))
	assert.Equal(t, errrecovery.SeverityHigh, h.GetErrorSeverity(errors.New("video unavailable")))
	assert.Equal(t, errrecovery.SeverityMedium, h.GetErrorSeverity(errors.New("connection timeout")))
}

func TestGetRetryReason(t *testing.T) {
	h := testHandler()
	assert.Equal(t, errrecovery.ReasonRateLimited, h.GetRetryReason(errors.New("rate limit exceeded")))
	assert.Equal(t, errrecovery.ReasonTimeout, h.GetRetryReason(errors.New("request timeout")))
	assert.Equal(t, errrecovery.ReasonNetworkError, h.GetRetryReason(errors.New("dns resolve failure")))
	assert.Equal(t, errrecovery.ReasonUnknown, h.GetRetryReason(errors.New("mystery failure")))
}

func TestCleanupAfterFailureRemovesPartialFiles(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, "video.part"), []byte("x"), 0o644))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "video.tmp"), []byte("x"), 0o644))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "keep.mp4"), []byte("x"), 0o644))

	h := testHandler()
	require.NoError(t, h.CleanupAfterFailure(context.Background(), dir))

	_, err := os.Stat(filepath.Join(dir, "video.part"))
	assert.True(t, os.IsNotExist(err))
	_, err = os.Stat(filepath.Join(dir, "keep.mp4"))
	assert.NoError(t, err)
}

func TestHandleErrorClassification(t *testing.T) {
	h := testHandler()
	assert.True(t, h.HandleError(context.Background(), errors.New("disk full"), "download"))
	assert.True(t, h.HandleError(context.Background(), errors.New("connection reset by peer"), "download"))
	assert.True(t, h.HandleError(context.Background(), errors.New("permission denied"), "download"))
	assert.False(t, h.HandleError(context.Background(), errors.New("private video"), "download"))
	assert.False(t, h.HandleError(context.Background(), errors.New("something entirely unexpected"), "download"))
}

func TestGetRecoverySuggestions(t *testing.T) {
	h := testHandler()
	assert.NotEmpty(t, h.GetRecoverySuggestions(errors.New("no space left on device")))
}
