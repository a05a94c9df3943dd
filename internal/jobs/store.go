// Package jobs implements the orchestrator: job CRUD, single-video
// execution, and playlist fan-out into chunked batches of child
// VIDEO_DOWNLOAD jobs. Grounded on
// original_source/services/jobs/main.py (_create_job, _get_job,
// _list_jobs, _execute_job, _update_job_status) with the large-playlist
// batching behavior (100-video threshold, dynamic concurrency, throttled
// progress) grounded on
// original_source/tests/test_large_playlist_optimizations.py, since
// main.py's own _process_job is a placeholder.
package jobs

import (
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"time"

	"github.com/google/uuid"

	"github.com/ytarchive/fleet/internal/fsatomic"
	"github.com/ytarchive/fleet/internal/models"
)

// ErrNotFound is returned when a job id has no persisted record.
var ErrNotFound = fmt.Errorf("job not found")

// Store persists one JSON file per job under dir, the crash-safe
// analogue of main.py's in-memory jobs dict plus JSON-on-disk mirror.
type Store struct {
	dir string
}

// NewStore creates a Store rooted at dir, creating it if necessary.
func NewStore(dir string) (*Store, error) {
	if err := fsatomic.EnsureDir(dir); err != nil {
		return nil, fmt.Errorf("jobs: %w", err)
	}
	return &Store{dir: dir}, nil
}

func (s *Store) path(jobID string) string {
	return filepath.Join(s.dir, jobID+".json")
}

// CreateRequest is the input to Create.
type CreateRequest struct {
	Type        models.JobType
	URLs        []string
	Options     models.JobOptions
	ParentJobID string
}

// Create persists a new job in PENDING status.
func (s *Store) Create(req CreateRequest) (models.Job, error) {
	now := time.Now().UTC()
	job := models.Job{
		ID:          uuid.NewString(),
		Type:        req.Type,
		Status:      models.JobPending,
		URLs:        req.URLs,
		Options:     req.Options,
		CreatedAt:   now,
		UpdatedAt:   now,
		ParentJobID: req.ParentJobID,
	}
	if err := fsatomic.WriteJSON(s.path(job.ID), job); err != nil {
		return models.Job{}, fmt.Errorf("jobs: create: %w", err)
	}
	return job, nil
}

// Get loads one job by id.
func (s *Store) Get(jobID string) (models.Job, error) {
	if !fsatomic.Exists(s.path(jobID)) {
		return models.Job{}, fmt.Errorf("%w: %s", ErrNotFound, jobID)
	}
	var job models.Job
	if err := fsatomic.ReadJSON(s.path(jobID), &job); err != nil {
		return models.Job{}, fmt.Errorf("jobs: get %s: %w", jobID, err)
	}
	return job, nil
}

// Save overwrites a job's persisted record.
func (s *Store) Save(job models.Job) error {
	if err := fsatomic.WriteJSON(s.path(job.ID), job); err != nil {
		return fmt.Errorf("jobs: save %s: %w", job.ID, err)
	}
	return nil
}

// ListOptions filters and bounds a List call.
type ListOptions struct {
	Status models.JobStatus // zero value means no filter
	Limit  int               // zero means the default of 100
}

// List returns jobs sorted by CreatedAt descending, optionally filtered
// by status, bounded to Limit (default and hard cap: 100), mirroring
// main.py's _list_jobs.
func (s *Store) List(opts ListOptions) ([]models.Job, error) {
	entries, err := os.ReadDir(s.dir)
	if err != nil {
		return nil, fmt.Errorf("jobs: list: %w", err)
	}

	limit := opts.Limit
	if limit <= 0 || limit > 100 {
		limit = 100
	}

	jobs := make([]models.Job, 0, len(entries))
	for _, entry := range entries {
		if entry.IsDir() || filepath.Ext(entry.Name()) != ".json" {
			continue
		}
		var job models.Job
		if err := fsatomic.ReadJSON(filepath.Join(s.dir, entry.Name()), &job); err != nil {
			continue
		}
		if opts.Status != "" && job.Status != opts.Status {
			continue
		}
		jobs = append(jobs, job)
	}

	sort.Slice(jobs, func(i, j int) bool {
		return jobs[i].CreatedAt.After(jobs[j].CreatedAt)
	})
	if len(jobs) > limit {
		jobs = jobs[:limit]
	}
	return jobs, nil
}

// UpdateStatus transitions a job's status and persists the change,
// mirroring main.py's _update_job_status.
func (s *Store) UpdateStatus(jobID string, status models.JobStatus, errDetails string) (models.Job, error) {
	job, err := s.Get(jobID)
	if err != nil {
		return models.Job{}, err
	}
	job.Status = status
	job.UpdatedAt = time.Now().UTC()
	if errDetails != "" {
		job.ErrorDetails = errDetails
	}
	if err := s.Save(job); err != nil {
		return models.Job{}, err
	}
	return job, nil
}

// UpdateProgress persists a job's fan-out progress snapshot.
func (s *Store) UpdateProgress(jobID string, progress models.JobProgress) (models.Job, error) {
	job, err := s.Get(jobID)
	if err != nil {
		return models.Job{}, err
	}
	job.Progress = &progress
	job.UpdatedAt = time.Now().UTC()
	if err := s.Save(job); err != nil {
		return models.Job{}, err
	}
	return job, nil
}
