// Package models holds the wire types shared across every service in the
// fleet: jobs, download tasks, the service registry, and the recovery/work
// plan records persisted by storage.
package models

import "time"

// JobType identifies the kind of work a Job performs.
type JobType string

const (
	JobTypeVideoDownload    JobType = "VIDEO_DOWNLOAD"
	JobTypePlaylistDownload JobType = "PLAYLIST_DOWNLOAD"
	JobTypeMetadataOnly     JobType = "METADATA_ONLY"
)

// JobStatus is the lifecycle state of a Job.
type JobStatus string

const (
	JobPending   JobStatus = "PENDING"
	JobRunning   JobStatus = "RUNNING"
	JobCompleted JobStatus = "COMPLETED"
	JobFailed    JobStatus = "FAILED"
	JobCancelled JobStatus = "CANCELLED"
)

// JobOptions captures the per-job overrides accepted on creation.
type JobOptions struct {
	OutputDir        string   `json:"output_dir,omitempty"`
	Quality          string   `json:"quality,omitempty"`
	IncludeMetadata  bool     `json:"include_metadata,omitempty"`
	IncludeCaptions  bool     `json:"include_captions,omitempty"`
	CaptionLanguages []string `json:"caption_languages,omitempty"`
	SkipExisting     bool     `json:"skip_existing,omitempty"`
	MaxConcurrent    int      `json:"max_concurrent,omitempty"`
}

// JobProgress tracks playlist-job fan-out progress.
type JobProgress struct {
	Completed  int     `json:"completed"`
	Total      int     `json:"total"`
	Successful int     `json:"successful"`
	Failed     int     `json:"failed"`
	Percentage float64 `json:"percentage"`
	ETASeconds *int    `json:"eta_seconds,omitempty"`
}

// Job is the persisted unit of work owned exclusively by the orchestrator
// that created it. One JSON file per job is the source of truth.
type Job struct {
	ID           string       `json:"job_id"`
	Type         JobType      `json:"job_type"`
	Status       JobStatus    `json:"status"`
	URLs         []string     `json:"urls"`
	Options      JobOptions   `json:"options"`
	CreatedAt    time.Time    `json:"created_at"`
	UpdatedAt    time.Time    `json:"updated_at"`
	ErrorDetails string       `json:"error_details,omitempty"`
	Progress     *JobProgress `json:"progress,omitempty"`
	ParentJobID  string       `json:"parent_job_id,omitempty"`
}

// DownloadStatus is the lifecycle state of a download task.
type DownloadStatus string

const (
	DownloadPending     DownloadStatus = "pending"
	DownloadDownloading DownloadStatus = "downloading"
	DownloadCompleted   DownloadStatus = "completed"
	DownloadFailed      DownloadStatus = "failed"
	DownloadCancelled   DownloadStatus = "cancelled"
	DownloadPaused      DownloadStatus = "paused"
)

// DownloadTask is the in-memory record of one downloader invocation.
type DownloadTask struct {
	TaskID      string         `json:"task_id"`
	VideoID     string         `json:"video_id"`
	Status      DownloadStatus `json:"status"`
	CreatedAt   time.Time      `json:"created_at"`
	StartedAt   *time.Time     `json:"started_at,omitempty"`
	CompletedAt *time.Time     `json:"completed_at,omitempty"`
	OutputPath  string         `json:"output_path"`
	FilePath    string         `json:"file_path,omitempty"`
	Error       string         `json:"error,omitempty"`
	Quality     string         `json:"quality"`
}

// DownloadProgress mirrors a DownloadTask's live progress.
type DownloadProgress struct {
	TaskID           string         `json:"task_id"`
	VideoID          string         `json:"video_id"`
	Status           DownloadStatus `json:"status"`
	ProgressPercent  float64        `json:"progress_percent"`
	DownloadedBytes  int64          `json:"downloaded_bytes"`
	TotalBytes       *int64         `json:"total_bytes,omitempty"`
	SpeedBytesPerSec *float64       `json:"speed,omitempty"`
	ETASeconds       *int           `json:"eta,omitempty"`
	FilePath         string         `json:"file_path,omitempty"`
	Error            string         `json:"error,omitempty"`
}

// VideoFormat describes one downloadable rendition of a video.
type VideoFormat struct {
	FormatID   string `json:"format_id"`
	Ext        string `json:"ext"`
	Resolution string `json:"resolution,omitempty"`
	FPS        int    `json:"fps,omitempty"`
	VCodec     string `json:"vcodec,omitempty"`
	ACodec     string `json:"acodec,omitempty"`
	FileSize   int64  `json:"filesize,omitempty"`
	FormatNote string `json:"format_note,omitempty"`
}

// AvailableFormats is the response body for the formats endpoint.
type AvailableFormats struct {
	VideoID    string        `json:"video_id"`
	Formats    []VideoFormat `json:"formats"`
	BestFormat string        `json:"best_format"`
}

// RegisteredService is a catalog entry in the service registry.
type RegisteredService struct {
	ServiceName      string     `json:"service_name"`
	Host             string     `json:"host"`
	Port             int        `json:"port"`
	HealthPath       string     `json:"health_path"`
	Description      string     `json:"description,omitempty"`
	Tags             []string   `json:"tags"`
	RegisteredAt     time.Time  `json:"registered_at"`
	LastHealthCheck  *time.Time `json:"last_health_check,omitempty"`
	IsHealthy        bool       `json:"is_healthy"`
}

// UnavailableVideoReason enumerates why a video could not be archived.
type UnavailableVideoReason string

const (
	ReasonPrivate       UnavailableVideoReason = "private"
	ReasonDeleted       UnavailableVideoReason = "deleted"
	ReasonRegionBlocked UnavailableVideoReason = "region_blocked"
	ReasonAgeRestricted UnavailableVideoReason = "age_restricted"
)

// UnavailableVideo records a video that cannot be downloaded.
type UnavailableVideo struct {
	VideoID       string                 `json:"video_id"`
	Title         string                 `json:"title,omitempty"`
	Reason        UnavailableVideoReason `json:"reason"`
	DetectedAt    time.Time              `json:"detected_at"`
	PlaylistID    string                 `json:"playlist_id,omitempty"`
	LastAvailable *time.Time             `json:"last_available,omitempty"`
}

// FailedDownload records a download that exhausted its retry budget.
type FailedDownload struct {
	VideoID    string     `json:"video_id"`
	Title      string     `json:"title"`
	Attempts   int        `json:"attempts"`
	LastAttempt time.Time `json:"last_attempt"`
	Errors     []string   `json:"errors"`
	FileSize   *int64     `json:"file_size,omitempty"`
	RetryAfter *time.Time `json:"retry_after,omitempty"`
}

// RecoveryPlan (work plan) is an append-only record of archive failures.
type RecoveryPlan struct {
	PlanID            string             `json:"plan_id"`
	CreatedAt         time.Time          `json:"created_at"`
	UnavailableVideos []UnavailableVideo `json:"unavailable_videos"`
	FailedDownloads   []FailedDownload   `json:"failed_downloads"`
	TotalVideos       int                `json:"total_videos"`
	UnavailableCount  int                `json:"unavailable_count"`
	FailedCount       int                `json:"failed_count"`
}

// PlaylistVideo is one entry in a playlist's item listing.
type PlaylistVideo struct {
	VideoID     string     `json:"video_id"`
	Position    int        `json:"position"`
	Title       string     `json:"title"`
	Duration    *int       `json:"duration,omitempty"`
	IsAvailable bool       `json:"is_available"`
	AddedAt     *time.Time `json:"added_at,omitempty"`
}

// VideoMetadata is a parsed YouTube Data API video resource.
type VideoMetadata struct {
	VideoID             string            `json:"video_id"`
	Title               string            `json:"title"`
	Description         string            `json:"description"`
	DurationSeconds     int               `json:"duration"`
	UploadDate          time.Time         `json:"upload_date"`
	ChannelID           string            `json:"channel_id"`
	ChannelTitle        string            `json:"channel_title"`
	ThumbnailURLs       map[string]string `json:"thumbnail_urls"`
	AvailableCaptions   []string          `json:"available_captions,omitempty"`
	ViewCount           *int64            `json:"view_count,omitempty"`
	LikeCount           *int64            `json:"like_count,omitempty"`
	FetchedAt           time.Time         `json:"fetched_at"`
}

// PlaylistMetadata is a parsed YouTube Data API playlist resource.
type PlaylistMetadata struct {
	PlaylistID   string          `json:"playlist_id"`
	Title        string          `json:"title"`
	Description  string          `json:"description"`
	ChannelID    string          `json:"channel_id"`
	ChannelTitle string          `json:"channel_title"`
	VideoCount   int             `json:"video_count"`
	Videos       []PlaylistVideo `json:"videos"`
	FetchedAt    time.Time       `json:"fetched_at"`
}

// ErrorCode values shared across every service's error envelope.
const (
	ErrCodeAPIQuotaExceeded  = "E001"
	ErrCodeVideoUnavailable  = "E002"
	ErrCodeNetworkTimeout    = "E003"
	ErrCodeStorageFull       = "E004"
	ErrCodeInvalidCredential = "E005"
	ErrCodeServiceUnavailable = "E006"
	ErrCodeInvalidRequest    = "E007"
	ErrCodeInternal          = "E999"
)
