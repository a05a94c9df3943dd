package jobs

import (
	"context"
	"path/filepath"
	"time"

	"github.com/ytarchive/fleet/internal/fsatomic"
)

// playlistResults is the shape persisted to
// playlist_results/playlist_{job_id}.json, per §4.3.3 step 6.
type playlistResults struct {
	JobID      string        `json:"job_id"`
	Results    []batchResult `json:"results"`
	Successful int           `json:"successful"`
	Failed     int           `json:"failed"`
	TotalJobs  int           `json:"total_jobs"`
	FinishedAt time.Time     `json:"finished_at"`
}

func (o *Orchestrator) persistPlaylistResults(jobID string, results []batchResult, successful, failed int) error {
	if err := fsatomic.EnsureDir(o.resultsDir); err != nil {
		return err
	}
	out := playlistResults{
		JobID:      jobID,
		Results:    results,
		Successful: successful,
		Failed:     failed,
		TotalJobs:  len(results),
		FinishedAt: time.Now().UTC(),
	}
	path := filepath.Join(o.resultsDir, "playlist_"+jobID+".json")
	return fsatomic.WriteJSON(path, out)
}

// submitPlaylistSummary best-effort POSTs an aggregate summary to Storage.
// Transport failures are logged and suppressed, matching the rest of the
// orchestrator's side-effect calls.
func (o *Orchestrator) submitPlaylistSummary(jobID string, successful, failed, total int) {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	summary := map[string]any{
		"job_id":     jobID,
		"successful": successful,
		"failed":     failed,
		"total_jobs": total,
	}
	if err := o.storage.Post(ctx, "/api/v1/storage/recovery-summary", summary, nil); err != nil {
		o.log.Warn().Str("job_id", jobID).Err(err).Msg("failed to submit playlist summary to storage")
	}
}
