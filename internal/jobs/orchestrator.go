package jobs

import (
	"context"
	"fmt"
	"math"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/ytarchive/fleet/internal/apiclient"
	"github.com/ytarchive/fleet/internal/errrecovery"
	"github.com/ytarchive/fleet/internal/models"
)

// ErrNotExecutable is returned by Execute when a job is not in PENDING or
// FAILED status, mirroring main.py's guard on _execute_job.
var ErrNotExecutable = fmt.Errorf("job is not in an executable state")

const (
	largePlaylistThreshold = 100
	playlistChunkSize      = 25
	chunkConcurrencyCeil   = 10
	pollInterval           = time.Second
)

// Orchestrator drives job execution: single-video downloads, metadata-only
// fetches, and playlist fan-out. It calls the Download, Metadata and
// Storage services over HTTP through apiclient.Client, the same way
// main.py's JobsService reaches its sibling services via httpx.
type Orchestrator struct {
	store    *Store
	download *apiclient.Client
	metadata *apiclient.Client
	storage  *apiclient.Client

	retryDriver   *errrecovery.Driver
	retryStrategy errrecovery.RetryStrategy
	reporter      errrecovery.Reporter

	log zerolog.Logger

	defaultConcurrency int
	maxConcurrency     int

	resultsDir string
}

// Clients bundles the downstream service clients an Orchestrator needs.
type Clients struct {
	Download *apiclient.Client
	Metadata *apiclient.Client
	Storage  *apiclient.Client
}

// NewOrchestrator builds an Orchestrator. defaultConcurrency/maxConcurrency
// come from svcconfig.JobsConfig. reporter is optional and receives the
// final error of any exhausted Storage/Download call.
func NewOrchestrator(store *Store, clients Clients, defaultConcurrency, maxConcurrency int, resultsDir string, log zerolog.Logger, reporter errrecovery.Reporter) *Orchestrator {
	cfg := errrecovery.DefaultRetryConfig()
	return &Orchestrator{
		store:              store,
		download:           clients.Download,
		metadata:           clients.Metadata,
		storage:            clients.Storage,
		retryDriver:        errrecovery.NewDriver(),
		retryStrategy:      errrecovery.NewExponentialBackoffStrategy(cfg),
		reporter:           reporter,
		log:                log,
		defaultConcurrency: defaultConcurrency,
		maxConcurrency:     maxConcurrency,
		resultsDir:         resultsDir,
	}
}

// retryOpts binds the orchestrator's reporter, if any, to a retry call.
func (o *Orchestrator) retryOpts() []errrecovery.Option {
	if o.reporter == nil {
		return nil
	}
	return []errrecovery.Option{errrecovery.WithReporter(o.reporter, "jobs")}
}

// Execute runs a job to completion, guarded to only act on jobs currently
// PENDING or FAILED (mirrors main.py's _execute_job guard; last writer
// wins, no extra locking beyond the per-job file write).
func (o *Orchestrator) Execute(ctx context.Context, jobID string) (models.Job, error) {
	job, err := o.store.Get(jobID)
	if err != nil {
		return models.Job{}, err
	}
	if job.Status != models.JobPending && job.Status != models.JobFailed {
		return models.Job{}, fmt.Errorf("%w: %s is %s", ErrNotExecutable, jobID, job.Status)
	}

	job.Status = models.JobRunning
	job.UpdatedAt = time.Now().UTC()
	if err := o.store.Save(job); err != nil {
		return models.Job{}, err
	}

	switch job.Type {
	case models.JobTypeVideoDownload:
		execErr := o.executeVideoDownload(ctx, &job)
		return o.finalize(jobID, execErr)
	case models.JobTypeMetadataOnly:
		execErr := o.executeMetadataOnly(ctx, &job)
		return o.finalize(jobID, execErr)
	case models.JobTypePlaylistDownload:
		handled, execErr := o.executePlaylistDownload(ctx, &job)
		if handled {
			return o.store.Get(jobID)
		}
		return o.finalize(jobID, execErr)
	default:
		return o.finalize(jobID, fmt.Errorf("unknown job type: %s", job.Type))
	}
}

func (o *Orchestrator) finalize(jobID string, execErr error) (models.Job, error) {
	if execErr != nil {
		return o.markFailed(jobID, execErr)
	}
	return o.store.UpdateStatus(jobID, models.JobCompleted, "")
}

// markFailed persists FAILED status and best-effort submits a recovery
// (work) plan to Storage, mirroring UpdateJobStatus's side effect in
// §4.3.4. Transport failures of that side effect are logged and
// swallowed; they must never block the status update itself.
func (o *Orchestrator) markFailed(jobID string, cause error) (models.Job, error) {
	job, err := o.store.UpdateStatus(jobID, models.JobFailed, cause.Error())
	if err != nil {
		return models.Job{}, err
	}
	o.submitWorkPlan(job, cause)
	return job, cause
}

func (o *Orchestrator) submitWorkPlan(job models.Job, cause error) {
	failed := make([]models.FailedDownload, 0, len(job.URLs))
	for _, url := range job.URLs {
		videoID, err := ExtractVideoID(url)
		if err != nil {
			continue
		}
		failed = append(failed, models.FailedDownload{
			VideoID:     videoID,
			Title:       videoID,
			Attempts:    1,
			LastAttempt: time.Now().UTC(),
			Errors:      []string{cause.Error()},
		})
	}
	if len(failed) == 0 {
		return
	}

	req := struct {
		Unavailable []models.UnavailableVideo `json:"unavailable_videos"`
		Failed      []models.FailedDownload   `json:"failed_downloads"`
	}{Failed: failed}

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := o.storage.Post(ctx, "/api/v1/storage/recovery", req, nil); err != nil {
		o.log.Warn().Str("job_id", job.ID).Err(err).Msg("failed to submit recovery plan")
	}
}

// executeVideoDownload implements §4.3.2: resolve an output path from
// Storage, start the download, poll progress to a terminal state, then
// notify Storage of the result. The Storage path lookup and the Download
// start call are wrapped with C1's exponential-backoff strategy; progress
// polls and the final Storage notification are made once, without retry.
func (o *Orchestrator) executeVideoDownload(ctx context.Context, job *models.Job) error {
	for _, url := range job.URLs {
		videoID, err := ExtractVideoID(url)
		if err != nil {
			return err
		}
		if err := o.downloadOneVideo(ctx, job.ID, videoID, job.Options); err != nil {
			return err
		}
	}
	return nil
}

func (o *Orchestrator) downloadOneVideo(ctx context.Context, jobID, videoID string, opts models.JobOptions) error {
	quality := opts.Quality
	if quality == "" {
		quality = "best"
	}

	var pathResp struct {
		OutputPath string `json:"output_path"`
	}
	_, err := errrecovery.ExecuteWithRetry(ctx, o.retryDriver, o.retryStrategy, "exponential", "storage.get_path",
		func(ctx context.Context) (struct{}, error) {
			err := o.storage.Get(ctx, fmt.Sprintf("/api/v1/storage/path/%s?quality=%s", videoID, quality), &pathResp)
			return struct{}{}, err
		},
		o.retryOpts()...,
	)
	if err != nil {
		return fmt.Errorf("resolve storage path for %s: %w", videoID, err)
	}

	var startResp struct {
		TaskID string `json:"task_id"`
	}
	_, err = errrecovery.ExecuteWithRetry(ctx, o.retryDriver, o.retryStrategy, "exponential", "download.start",
		func(ctx context.Context) (struct{}, error) {
			err := o.download.Post(ctx, "/api/v1/download/video", map[string]any{
				"video_id":          videoID,
				"quality":           quality,
				"output_path":       pathResp.OutputPath,
				"job_id":            jobID,
				"include_captions":  opts.IncludeCaptions,
				"caption_languages": opts.CaptionLanguages,
			}, &startResp)
			return struct{}{}, err
		},
		o.retryOpts()...,
	)
	if err != nil {
		return fmt.Errorf("start download for %s: %w", videoID, err)
	}

	progress, err := o.pollDownload(ctx, startResp.TaskID)
	if err != nil {
		return fmt.Errorf("download %s: %w", videoID, err)
	}
	if progress.Status != models.DownloadCompleted {
		return fmt.Errorf("download %s ended in status %s: %s", videoID, progress.Status, progress.Error)
	}

	info := map[string]any{
		"video_id":              videoID,
		"video_path":            progress.FilePath,
		"download_completed_at": time.Now().UTC(),
	}
	if err := o.storage.Post(ctx, "/api/v1/storage/save/video", info, nil); err != nil {
		o.log.Warn().Str("video_id", videoID).Err(err).Msg("failed to notify storage of completed download")
	}
	return nil
}

func (o *Orchestrator) pollDownload(ctx context.Context, taskID string) (models.DownloadProgress, error) {
	ticker := time.NewTicker(pollInterval)
	defer ticker.Stop()

	for {
		var progress models.DownloadProgress
		if err := o.download.Get(ctx, "/api/v1/download/progress/"+taskID, &progress); err != nil {
			return models.DownloadProgress{}, err
		}
		switch progress.Status {
		case models.DownloadCompleted, models.DownloadFailed, models.DownloadCancelled:
			return progress, nil
		}

		select {
		case <-ctx.Done():
			return models.DownloadProgress{}, ctx.Err()
		case <-ticker.C:
		}
	}
}

func (o *Orchestrator) executeMetadataOnly(ctx context.Context, job *models.Job) error {
	for _, url := range job.URLs {
		videoID, err := ExtractVideoID(url)
		if err != nil {
			return err
		}
		var meta models.VideoMetadata
		if err := o.metadata.Get(ctx, "/api/v1/metadata/video/"+videoID, &meta); err != nil {
			return fmt.Errorf("fetch metadata for %s: %w", videoID, err)
		}
		if err := o.storage.Post(ctx, "/api/v1/storage/save/metadata", map[string]any{"video_id": videoID, "metadata": meta}, nil); err != nil {
			return fmt.Errorf("store metadata for %s: %w", videoID, err)
		}
	}
	return nil
}

// batchResult is one entry of the batch-creation output described in
// §4.3.3 step 3.
type batchResult struct {
	JobID   string `json:"job_id"`
	VideoID string `json:"video_id"`
	Title   string `json:"title"`
	Status  string `json:"status"`
	Error   string `json:"error,omitempty"`
}

// executePlaylistDownload implements §4.3.3 in full: playlist metadata
// fetch, chunked batch job creation, bounded-concurrency execution with
// dynamic concurrency for large playlists, throttled progress writes, and
// results persistence. The bool return reports whether the job's final
// status has already been set (true in every case this function is
// reached past the initial metadata fetch), so Execute must not also
// apply its generic success/failure finalization.
func (o *Orchestrator) executePlaylistDownload(ctx context.Context, job *models.Job) (bool, error) {
	if len(job.URLs) == 0 {
		return false, fmt.Errorf("playlist job has no urls")
	}
	playlistID, err := ExtractPlaylistID(job.URLs[0])
	if err != nil {
		return false, err
	}

	var playlist models.PlaylistMetadata
	if err := o.metadata.Get(ctx, "/api/v1/metadata/playlist/"+playlistID, &playlist); err != nil {
		return false, fmt.Errorf("fetch playlist %s: %w", playlistID, err)
	}

	videos := make([]models.PlaylistVideo, 0, len(playlist.Videos))
	for _, v := range playlist.Videos {
		if v.VideoID != "" {
			videos = append(videos, v)
		}
	}

	isLarge := len(videos) >= largePlaylistThreshold
	results := o.createBatchJobs(job, videos, isLarge)

	concurrency := o.defaultConcurrency
	if concurrency <= 0 {
		concurrency = 3
	}
	if isLarge && o.maxConcurrency > concurrency {
		concurrency = o.maxConcurrency
	}

	successful, failed := o.executeBatch(ctx, job.ID, results, concurrency)

	if err := o.persistPlaylistResults(job.ID, results, successful, failed); err != nil {
		o.log.Warn().Str("job_id", job.ID).Err(err).Msg("failed to persist playlist results")
	}
	o.submitPlaylistSummary(job.ID, successful, failed, len(results))

	status := models.JobCompleted
	errDetails := ""
	if failed > 0 {
		status = models.JobFailed
		errDetails = fmt.Sprintf("%d of %d child downloads failed", failed, len(results))
	}
	if _, err := o.store.UpdateStatus(job.ID, status, errDetails); err != nil {
		return true, err
	}
	return true, nil
}

// createBatchJobs produces one child VIDEO_DOWNLOAD job per video with a
// non-empty id, preserving playlist position in the returned slice. Large
// playlists are created in chunks of 25, each chunk populated with bounded
// concurrency min(chunk_size, 10).
func (o *Orchestrator) createBatchJobs(parent *models.Job, videos []models.PlaylistVideo, isLarge bool) []batchResult {
	results := make([]batchResult, len(videos))

	createOne := func(i int, v models.PlaylistVideo) {
		url := fmt.Sprintf("https://www.youtube.com/watch?v=%s", v.VideoID)
		child, err := o.store.Create(CreateRequest{
			Type:        models.JobTypeVideoDownload,
			URLs:        []string{url},
			Options:     parent.Options,
			ParentJobID: parent.ID,
		})
		if err != nil {
			results[i] = batchResult{VideoID: v.VideoID, Title: v.Title, Status: "failed", Error: err.Error()}
			return
		}
		results[i] = batchResult{JobID: child.ID, VideoID: v.VideoID, Title: v.Title, Status: "created"}
	}

	if !isLarge {
		for i, v := range videos {
			createOne(i, v)
		}
		return results
	}

	for start := 0; start < len(videos); start += playlistChunkSize {
		end := start + playlistChunkSize
		if end > len(videos) {
			end = len(videos)
		}
		chunk := videos[start:end]

		concurrency := len(chunk)
		if concurrency > chunkConcurrencyCeil {
			concurrency = chunkConcurrencyCeil
		}
		sem := make(chan struct{}, concurrency)
		var wg sync.WaitGroup
		for offset, v := range chunk {
			wg.Add(1)
			sem <- struct{}{}
			go func(i int, v models.PlaylistVideo) {
				defer wg.Done()
				defer func() { <-sem }()
				createOne(i, v)
			}(start+offset, v)
		}
		wg.Wait()
	}
	return results
}

// executeBatch runs each child job's Execute with bounded concurrency,
// throttling parent-progress writes to at most one per ceil(N/20)
// completions for large batches (plus mandatory writes at start and end).
func (o *Orchestrator) executeBatch(ctx context.Context, parentJobID string, results []batchResult, concurrency int) (successful, failed int) {
	n := len(results)
	if n == 0 {
		o.writeProgress(parentJobID, 0, 0, 0, 0)
		return 0, 0
	}

	writeEvery := 1
	if n >= largePlaylistThreshold {
		writeEvery = int(math.Ceil(float64(n) / 20.0))
		if writeEvery < 1 {
			writeEvery = 1
		}
	}

	o.writeProgress(parentJobID, 0, n, 0, 0)

	var mu sync.Mutex
	completed := 0

	sem := make(chan struct{}, concurrency)
	var wg sync.WaitGroup
	for i := range results {
		r := results[i]
		if r.Status != "created" {
			mu.Lock()
			failed++
			completed++
			mu.Unlock()
			continue
		}

		wg.Add(1)
		sem <- struct{}{}
		go func(r batchResult) {
			defer wg.Done()
			defer func() { <-sem }()

			ok := o.executeChildJob(ctx, r.JobID)

			mu.Lock()
			completed++
			if ok {
				successful++
			} else {
				failed++
			}
			shouldWrite := completed == n || completed%writeEvery == 0
			s, f, c := successful, failed, completed
			mu.Unlock()

			if shouldWrite {
				o.writeProgress(parentJobID, c, n, s, f)
			}
		}(r)
	}
	wg.Wait()

	mu.Lock()
	s, f := successful, failed
	mu.Unlock()
	o.writeProgress(parentJobID, n, n, s, f)
	return s, f
}

func (o *Orchestrator) executeChildJob(ctx context.Context, childJobID string) bool {
	job, err := o.Execute(ctx, childJobID)
	if err != nil {
		return false
	}
	return job.Status == models.JobCompleted
}

func (o *Orchestrator) writeProgress(jobID string, completed, total, successful, failed int) {
	percentage := 0.0
	if total > 0 {
		percentage = float64(completed) / float64(total) * 100
	}
	progress := models.JobProgress{
		Completed:  completed,
		Total:      total,
		Successful: successful,
		Failed:     failed,
		Percentage: percentage,
	}
	if _, err := o.store.UpdateProgress(jobID, progress); err != nil {
		o.log.Warn().Str("job_id", jobID).Err(err).Msg("failed to persist job progress")
	}
}
