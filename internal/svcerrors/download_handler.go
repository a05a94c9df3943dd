// Package svcerrors implements service-specific ServiceErrorHandler
// capabilities consumed by internal/errrecovery. Grounded on
// original_source/services/download/error_handler.py.
package svcerrors

import (
	"context"
	"os"
	"path/filepath"
	"strings"

	"github.com/rs/zerolog"

	"github.com/ytarchive/fleet/internal/errrecovery"
)

var networkErrorKeywords = []string{
	"timeout", "connection", "network", "dns", "resolve",
	"unreachable", "refused", "reset", "broken pipe",
	"http error", "server error",
}

var youtubeErrorKeywords = []string{
	"video unavailable", "private video", "deleted", "removed",
	"region", "age restricted", "copyright",
}

var filesystemErrorKeywords = []string{
	"permission denied", "disk full", "no space",
	"read-only", "file exists", "directory not found",
}

func containsAny(s string, keywords []string) bool {
	for _, k := range keywords {
		if strings.Contains(s, k) {
			return true
		}
	}
	return false
}

// DownloadErrorHandler implements errrecovery.ServiceErrorHandler for the
// download service's yt-dlp-backed Runner, reproducing
// error_handler.py's keyword tables and decision order exactly.
type DownloadErrorHandler struct {
	log zerolog.Logger
}

// NewDownloadErrorHandler builds a handler that logs decisions via log.
func NewDownloadErrorHandler(log zerolog.Logger) *DownloadErrorHandler {
	return &DownloadErrorHandler{log: log}
}

func (h *DownloadErrorHandler) ShouldRetry(err error, attempt int) bool {
	s := strings.ToLower(err.Error())

	if containsAny(s, youtubeErrorKeywords) {
		h.log.Info().Err(err).Msg("permanent youtube error, not retrying")
		return false
	}
	if strings.Contains(s, "permission denied") || strings.Contains(s, "read-only") {
		h.log.Info().Err(err).Msg("filesystem permission error, not retrying")
		return false
	}
	if containsAny(s, networkErrorKeywords) {
		h.log.Info().Err(err).Msg("network error detected, will retry")
		return true
	}
	if strings.Contains(s, "temporary failure") || strings.Contains(s, "try again") {
		return true
	}
	if strings.Contains(s, "disk full") || strings.Contains(s, "no space") {
		h.log.Warn().Err(err).Msg("disk space error, may retry after cleanup")
		return true
	}
	if attempt < 2 {
		h.log.Info().Err(err).Msg("unknown error, will retry once")
		return true
	}
	return false
}

func (h *DownloadErrorHandler) GetErrorSeverity(err error) errrecovery.Severity {
	s := strings.ToLower(err.Error())

	switch {
	case strings.Contains(s, "corrupted") || strings.Contains(s, "invalid format"):
		return errrecovery.SeverityCritical
	case containsAny(s, youtubeErrorKeywords):
		return errrecovery.SeverityHigh
	case strings.Contains(s, "permission denied") || strings.Contains(s, "readonly"):
		return errrecovery.SeverityHigh
	case containsAny(s, networkErrorKeywords):
		return errrecovery.SeverityMedium
	case strings.Contains(s, "disk full") || strings.Contains(s, "no space"):
		return errrecovery.SeverityMedium
	default:
		return errrecovery.SeverityMedium
	}
}

func (h *DownloadErrorHandler) GetRetryReason(err error) errrecovery.RetryReason {
	s := strings.ToLower(err.Error())

	switch {
	case strings.Contains(s, "rate limit") || strings.Contains(s, "too many requests"):
		return errrecovery.ReasonRateLimited
	case strings.Contains(s, "no space left") || strings.Contains(s, "disk full") || strings.Contains(s, "out of memory"):
		return errrecovery.ReasonServiceUnavailable
	case strings.Contains(s, "request timeout") || strings.Contains(s, "timeout after"):
		return errrecovery.ReasonTimeout
	case strings.Contains(s, "http error 5") || strings.Contains(s, "service unavailable") || strings.Contains(s, "server error"):
		return errrecovery.ReasonServiceUnavailable
	case containsAny(s, networkErrorKeywords):
		return errrecovery.ReasonNetworkError
	default:
		return errrecovery.ReasonUnknown
	}
}

// HandleError reports whether err was handled/recovered, mirroring
// error_handler.py's handle_error decision order exactly: disk-space,
// network and filesystem errors are handled (true); YouTube-specific
// errors are classified but not retried (false); anything else is logged
// as unhandled (false).
func (h *DownloadErrorHandler) HandleError(ctx context.Context, err error, operation string) bool {
	s := strings.ToLower(err.Error())

	var handled bool
	switch {
	case strings.Contains(s, "disk full") || strings.Contains(s, "no space"):
		h.log.Info().Str("operation", operation).Msg("handled download error: disk_space_warning")
		handled = true
	case containsAny(s, networkErrorKeywords):
		h.log.Info().Str("operation", operation).Msg("handled download error: network_diagnostics")
		handled = true
	case containsAny(s, filesystemErrorKeywords):
		h.log.Info().Str("operation", operation).Msg("handled download error: filesystem_issue")
		handled = true
	case containsAny(s, youtubeErrorKeywords):
		h.log.Info().Str("operation", operation).Msg("handled download error: youtube_error_classification (no retry)")
		handled = false
	}
	// error_handler.py also special-cases yt_dlp.DownloadError as handled;
	// the Go runner shells out to the executable rather than catching a
	// typed exception, so that case has no analogue here and falls through
	// to the keyword classification above.

	if !handled {
		h.log.Warn().Str("operation", operation).Err(err).Msg("unhandled download error")
	}
	return handled
}

// CleanupAfterFailure removes *.part/*.tmp leftovers from a download's
// output directory, mirroring error_handler.py's cleanup_after_failure.
func (h *DownloadErrorHandler) CleanupAfterFailure(ctx context.Context, outputDir string) error {
	if outputDir == "" {
		return nil
	}

	partials, _ := filepath.Glob(filepath.Join(outputDir, "*.part"))
	temps, _ := filepath.Glob(filepath.Join(outputDir, "*.tmp"))

	var cleaned []string
	for _, f := range append(partials, temps...) {
		if err := os.Remove(f); err != nil {
			h.log.Warn().Str("file", f).Err(err).Msg("could not clean up file")
			continue
		}
		cleaned = append(cleaned, f)
	}

	if len(cleaned) > 0 {
		h.log.Info().Strs("files", cleaned).Msg("cleaned up partial download files")
	}
	return nil
}

func (h *DownloadErrorHandler) GetRecoverySuggestions(err error) []string {
	s := strings.ToLower(err.Error())

	switch {
	case strings.Contains(s, "disk full") || strings.Contains(s, "no space"):
		return []string{
			"check available disk space in the output directory",
			"consider cleaning up old downloads",
			"move downloads to a location with more space",
		}
	case containsAny(s, networkErrorKeywords):
		return []string{
			"check internet connectivity",
			"try a different network connection",
			"verify youtube is accessible from your location",
		}
	case containsAny(s, youtubeErrorKeywords):
		return []string{
			"verify the video url is correct and accessible",
			"check if the video is available in your region",
			"try accessing the video in a web browser",
		}
	default:
		return []string{"check logs for more details", "retry the operation"}
	}
}
