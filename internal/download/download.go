// Package download implements the download supervisor: a bounded pool of
// workers invoking an external downloader binary, task/progress tracking,
// and quality/format lookups. Grounded on
// original_source/services/download/main.py, with the worker-pool shape
// generalized from the teacher's archiver.go#archiveMultiplexer and the
// subprocess-invocation style from the teacher's download.go.
package download

import (
	"context"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/ytarchive/fleet/internal/errrecovery"
	"github.com/ytarchive/fleet/internal/metrics"
	"github.com/ytarchive/fleet/internal/models"
)

// QualityMap mirrors download/main.py's quality_map exactly: a requested
// quality name to a downloader format-selector expression.
var QualityMap = map[string]string{
	"best":  "bestvideo+bestaudio/best",
	"1080p": "bestvideo[height<=1080]+bestaudio/best[height<=1080]",
	"720p":  "bestvideo[height<=720]+bestaudio/best[height<=720]",
	"480p":  "bestvideo[height<=480]+bestaudio/best[height<=480]",
	"360p":  "bestvideo[height<=360]+bestaudio/best[height<=360]",
	"audio": "bestaudio/best",
}

// ErrUnknownQuality is returned when a request names a quality absent from
// QualityMap.
var ErrUnknownQuality = fmt.Errorf("unknown quality")

// ErrTaskNotFound is returned by GetProgress/Cancel for an unknown task id.
var ErrTaskNotFound = fmt.Errorf("task not found")

// ErrCannotCancel is returned when Cancel targets a task already in a
// terminal state.
var ErrCannotCancel = fmt.Errorf("task cannot be cancelled in its current status")

// Runner invokes the external downloader binary for one video, reporting
// progress through report as it goes. It is the Go analogue of yt-dlp's
// progress_hooks callback mechanism.
type Runner interface {
	Run(ctx context.Context, req RunRequest, report func(ProgressUpdate)) (filePath string, err error)
}

// RunRequest is everything a Runner needs to download one video.
type RunRequest struct {
	VideoID          string
	OutputPath       string
	FormatSelector   string
	IncludeCaptions  bool
	CaptionLanguages []string
}

// ProgressUpdate is one incremental report from a Runner mid-download.
type ProgressUpdate struct {
	DownloadedBytes int64
	TotalBytes      *int64
	SpeedBytesPerSec *float64
	ETASeconds       *int
	FilePath         string
	Finished         bool
}

// ExecRunner shells out to an external downloader executable (yt-dlp or a
// fork), the same os/exec invocation style as the teacher's
// download.go#youtubeDownload.
type ExecRunner struct {
	ExecutablePath string
}

func (r *ExecRunner) Run(ctx context.Context, req RunRequest, report func(ProgressUpdate)) (string, error) {
	uri := "https://www.youtube.com/watch?v=" + req.VideoID
	outTemplate := filepath.Join(req.OutputPath, req.VideoID+".%(ext)s")

	args := []string{
		"-o", outTemplate,
		"--merge-output-format", "mp4",
		"-f", req.FormatSelector,
	}
	if req.IncludeCaptions {
		args = append(args, "--write-subs", "--sub-format", "vtt")
		for _, lang := range req.CaptionLanguages {
			args = append(args, "--sub-langs", lang)
		}
	}
	args = append(args, uri)

	cmd := exec.CommandContext(ctx, r.ExecutablePath, args...)
	if err := cmd.Run(); err != nil {
		return "", fmt.Errorf("download: exec %s: %w", r.ExecutablePath, err)
	}

	report(ProgressUpdate{Finished: true, FilePath: filepath.Join(req.OutputPath, req.VideoID+".mp4")})
	return filepath.Join(req.OutputPath, req.VideoID+".mp4"), nil
}

// Supervisor owns the task table, progress table, and bounded worker pool.
type Supervisor struct {
	runner        Runner
	maxConcurrent int
	log           zerolog.Logger

	retryDriver   *errrecovery.Driver
	retryStrategy errrecovery.RetryStrategy
	handler       errrecovery.ServiceErrorHandler
	reporter      errrecovery.Reporter

	mu       sync.RWMutex
	tasks    map[string]*models.DownloadTask
	progress map[string]*models.DownloadProgress
	cancels  map[string]context.CancelFunc

	sem chan struct{}
	wg  sync.WaitGroup
}

// New creates a Supervisor bounded to maxConcurrent simultaneous downloads.
// handler and reporter are the errrecovery capabilities bound to every
// retried call the supervisor makes (the downloader invocation and
// GetFormats' info extraction); either may be nil, in which case that call
// site simply runs without the capability.
func New(runner Runner, maxConcurrent int, log zerolog.Logger, handler errrecovery.ServiceErrorHandler, reporter errrecovery.Reporter) *Supervisor {
	if maxConcurrent <= 0 {
		maxConcurrent = 3
	}
	return &Supervisor{
		runner:        runner,
		maxConcurrent: maxConcurrent,
		log:           log,
		retryDriver:   errrecovery.NewDriver(),
		retryStrategy: errrecovery.NewExponentialBackoffStrategy(errrecovery.DefaultRetryConfig()),
		handler:       handler,
		reporter:      reporter,
		tasks:         make(map[string]*models.DownloadTask),
		progress:      make(map[string]*models.DownloadProgress),
		cancels:       make(map[string]context.CancelFunc),
		sem:           make(chan struct{}, maxConcurrent),
	}
}

// retryOpts builds the Option set to bind to an ExecuteWithRetry call,
// omitting a capability that was never configured.
func (s *Supervisor) retryOpts(service string) []errrecovery.Option {
	var opts []errrecovery.Option
	if s.handler != nil {
		opts = append(opts, errrecovery.WithHandler(s.handler))
	}
	if s.reporter != nil {
		opts = append(opts, errrecovery.WithReporter(s.reporter, service))
	}
	return opts
}

// StartRequest is the input to StartDownload.
type StartRequest struct {
	VideoID          string
	Quality          string
	OutputPath       string
	IncludeCaptions  bool
	CaptionLanguages []string
}

// StartDownload creates a task in PENDING state and launches its worker in
// the background, admission-controlled by the supervisor's semaphore (not
// the pacing-oriented rate.Limiter used elsewhere in the fleet).
func (s *Supervisor) StartDownload(ctx context.Context, req StartRequest) (*models.DownloadTask, error) {
	formatSelector, ok := QualityMap[req.Quality]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrUnknownQuality, req.Quality)
	}

	if err := os.MkdirAll(req.OutputPath, 0o755); err != nil {
		return nil, fmt.Errorf("download: mkdir %s: %w", req.OutputPath, err)
	}

	taskID := uuid.NewString()
	task := &models.DownloadTask{
		TaskID:     taskID,
		VideoID:    req.VideoID,
		Status:     models.DownloadPending,
		CreatedAt:  time.Now().UTC(),
		OutputPath: req.OutputPath,
		Quality:    req.Quality,
	}
	progress := &models.DownloadProgress{
		TaskID:  taskID,
		VideoID: req.VideoID,
		Status:  models.DownloadPending,
	}

	workerCtx, cancel := context.WithCancel(context.Background())

	s.mu.Lock()
	s.tasks[taskID] = task
	s.progress[taskID] = progress
	s.cancels[taskID] = cancel
	s.mu.Unlock()

	metrics.DownloadTasks.WithLabelValues(string(models.DownloadPending)).Inc()

	s.wg.Add(1)
	go s.runTask(workerCtx, task, formatSelector, req)

	return task, nil
}

func (s *Supervisor) runTask(ctx context.Context, task *models.DownloadTask, formatSelector string, req StartRequest) {
	defer s.wg.Done()

	select {
	case s.sem <- struct{}{}:
	case <-ctx.Done():
		s.transition(task.TaskID, models.DownloadCancelled, "")
		return
	}
	defer func() { <-s.sem }()

	s.mu.Lock()
	task.Status = models.DownloadDownloading
	now := time.Now().UTC()
	task.StartedAt = &now
	s.progress[task.TaskID].Status = models.DownloadDownloading
	s.mu.Unlock()
	metrics.DownloadTasks.WithLabelValues(string(models.DownloadPending)).Dec()
	metrics.DownloadTasks.WithLabelValues(string(models.DownloadDownloading)).Inc()

	filePath, err := errrecovery.ExecuteWithRetry(ctx, s.retryDriver, s.retryStrategy, "exponential", "download.run",
		func(ctx context.Context) (string, error) {
			return s.runner.Run(ctx, RunRequest{
				VideoID:          task.VideoID,
				OutputPath:       task.OutputPath,
				FormatSelector:   formatSelector,
				IncludeCaptions:  req.IncludeCaptions,
				CaptionLanguages: req.CaptionLanguages,
			}, func(update ProgressUpdate) {
				s.applyProgress(task.TaskID, update)
			})
		},
		s.retryOpts("download")...,
	)

	metrics.DownloadTasks.WithLabelValues(string(models.DownloadDownloading)).Dec()

	if ctx.Err() != nil {
		s.transition(task.TaskID, models.DownloadCancelled, "")
		return
	}
	if err != nil {
		s.log.Warn().Str("task_id", task.TaskID).Str("video_id", task.VideoID).Err(err).Msg("download failed")
		if s.handler != nil {
			if cerr := s.handler.CleanupAfterFailure(ctx, task.OutputPath); cerr != nil {
				s.log.Warn().Str("task_id", task.TaskID).Err(cerr).Msg("cleanup after failure also failed")
			}
		}
		s.transitionErr(task.TaskID, err)
		return
	}

	s.mu.Lock()
	task.Status = models.DownloadCompleted
	finishedAt := time.Now().UTC()
	task.CompletedAt = &finishedAt
	task.FilePath = filePath
	p := s.progress[task.TaskID]
	p.Status = models.DownloadCompleted
	p.ProgressPercent = 100.0
	p.FilePath = filePath
	s.mu.Unlock()
	metrics.DownloadTasks.WithLabelValues(string(models.DownloadCompleted)).Inc()
}

func (s *Supervisor) applyProgress(taskID string, update ProgressUpdate) {
	s.mu.Lock()
	defer s.mu.Unlock()
	p, ok := s.progress[taskID]
	if !ok {
		return
	}
	p.DownloadedBytes = update.DownloadedBytes
	p.TotalBytes = update.TotalBytes
	p.SpeedBytesPerSec = update.SpeedBytesPerSec
	p.ETASeconds = update.ETASeconds
	if update.TotalBytes != nil && *update.TotalBytes > 0 {
		p.ProgressPercent = float64(p.DownloadedBytes) / float64(*update.TotalBytes) * 100
	}
	if update.Finished {
		p.FilePath = update.FilePath
	}
}

func (s *Supervisor) transition(taskID string, status models.DownloadStatus, errMsg string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if t, ok := s.tasks[taskID]; ok {
		t.Status = status
		if errMsg != "" {
			t.Error = errMsg
		}
	}
	if p, ok := s.progress[taskID]; ok {
		p.Status = status
		if errMsg != "" {
			p.Error = errMsg
		}
	}
	metrics.DownloadTasks.WithLabelValues(string(status)).Inc()
}

func (s *Supervisor) transitionErr(taskID string, err error) {
	s.transition(taskID, models.DownloadFailed, err.Error())
}

// GetProgress returns the current progress snapshot for a task.
func (s *Supervisor) GetProgress(taskID string) (models.DownloadProgress, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	p, ok := s.progress[taskID]
	if !ok {
		return models.DownloadProgress{}, fmt.Errorf("%w: %s", ErrTaskNotFound, taskID)
	}
	return *p, nil
}

// Cancel signals the task's worker to stop and flips its status to
// CANCELLED immediately, without waiting for the worker goroutine to
// observe the signal and unwind (see DESIGN.md's Open Question decision).
func (s *Supervisor) Cancel(taskID string) error {
	s.mu.Lock()
	task, ok := s.tasks[taskID]
	if !ok {
		s.mu.Unlock()
		return fmt.Errorf("%w: %s", ErrTaskNotFound, taskID)
	}
	switch task.Status {
	case models.DownloadCompleted, models.DownloadFailed, models.DownloadCancelled:
		s.mu.Unlock()
		return fmt.Errorf("%w: task %s is %s", ErrCannotCancel, taskID, task.Status)
	}
	cancel := s.cancels[taskID]
	task.Status = models.DownloadCancelled
	s.progress[taskID].Status = models.DownloadCancelled
	s.mu.Unlock()

	if cancel != nil {
		cancel()
	}
	return nil
}

// Wait blocks until every launched worker has returned. Intended for
// graceful shutdown and tests, not for request handling.
func (s *Supervisor) Wait() {
	s.wg.Wait()
}
