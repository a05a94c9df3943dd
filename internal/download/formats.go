package download

import (
	"context"
	"fmt"

	"github.com/ytarchive/fleet/internal/errrecovery"
	"github.com/ytarchive/fleet/internal/models"
)

// FormatLister is implemented by a downloader capable of probing a video's
// available formats without downloading it (yt-dlp's --list-formats / info
// extraction). Mirrors download/main.py's _get_video_formats.
type FormatLister interface {
	ListFormats(ctx context.Context, videoID string) (models.AvailableFormats, error)
}

// ErrVideoUnavailable is returned when probing the requested video id's
// formats fails; ExecFormatLister wraps every extraction error with it.
var ErrVideoUnavailable = fmt.Errorf("video not found or unavailable")

// ExecFormatLister probes formats by invoking the downloader executable's
// info-extraction mode. The concrete argument wiring is left to the
// caller's executable (e.g. "yt-dlp -J --skip-download"); this type only
// captures the contract the rest of the package depends on. Production
// wiring constructs one with the same ExecutablePath as ExecRunner.
type ExecFormatLister struct {
	ExecutablePath string
	Extract        func(ctx context.Context, executablePath, videoURL string) (models.AvailableFormats, error)
}

func (l *ExecFormatLister) ListFormats(ctx context.Context, videoID string) (models.AvailableFormats, error) {
	if l.Extract == nil {
		return models.AvailableFormats{}, fmt.Errorf("download: no extractor configured")
	}
	url := "https://www.youtube.com/watch?v=" + videoID
	formats, err := l.Extract(ctx, l.ExecutablePath, url)
	if err != nil {
		return models.AvailableFormats{}, fmt.Errorf("%w: %s: %v", ErrVideoUnavailable, videoID, err)
	}
	return formats, nil
}

// GetFormats exposes format listing through the supervisor, so the HTTP
// layer only depends on one type. The probe is wrapped in the supervisor's
// retry driver (3 attempts, base_delay=1s via DefaultRetryConfig) since a
// single failed info-extraction call shouldn't surface as a hard failure.
func (s *Supervisor) GetFormats(ctx context.Context, lister FormatLister, videoID string) (models.AvailableFormats, error) {
	return errrecovery.ExecuteWithRetry(ctx, s.retryDriver, s.retryStrategy, "exponential", "download.list_formats",
		func(ctx context.Context) (models.AvailableFormats, error) {
			return lister.ListFormats(ctx, videoID)
		},
		s.retryOpts("download")...,
	)
}
