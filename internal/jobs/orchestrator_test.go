package jobs

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ytarchive/fleet/internal/apiclient"
	"github.com/ytarchive/fleet/internal/models"
)

func envelopeOK(w http.ResponseWriter, data any) {
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(map[string]any{"success": true, "data": data})
}

func newTestOrchestrator(t *testing.T, mux *http.ServeMux) (*Orchestrator, *Store) {
	t.Helper()
	srv := httptest.NewServer(mux)
	t.Cleanup(srv.Close)

	store, err := NewStore(t.TempDir())
	require.NoError(t, err)

	clients := Clients{
		Download: apiclient.New(srv.URL),
		Metadata: apiclient.New(srv.URL),
		Storage:  apiclient.New(srv.URL),
	}
	return NewOrchestrator(store, clients, 3, 8, t.TempDir(), zerolog.Nop(), nil), store
}

func TestExecuteVideoDownloadSucceeds(t *testing.T) {
	var polls int32
	mux := http.NewServeMux()
	mux.HandleFunc("/api/v1/storage/path/", func(w http.ResponseWriter, r *http.Request) {
		envelopeOK(w, map[string]string{"output_path": "/data/videos/abc"})
	})
	mux.HandleFunc("/api/v1/download/video", func(w http.ResponseWriter, r *http.Request) {
		if r.Method == http.MethodPost {
			envelopeOK(w, map[string]string{"task_id": "task-1"})
			return
		}
	})
	mux.HandleFunc("/api/v1/download/progress/task-1", func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&polls, 1)
		envelopeOK(w, models.DownloadProgress{TaskID: "task-1", Status: models.DownloadCompleted, FilePath: "/data/videos/abc/abc.mp4"})
	})
	mux.HandleFunc("/api/v1/storage/save/video", func(w http.ResponseWriter, r *http.Request) {
		envelopeOK(w, nil)
	})

	o, store := newTestOrchestrator(t, mux)
	job, err := store.Create(CreateRequest{Type: models.JobTypeVideoDownload, URLs: []string{"https://youtube.com/watch?v=abc"}})
	require.NoError(t, err)

	finished, err := o.Execute(context.Background(), job.ID)
	require.NoError(t, err)
	assert.Equal(t, models.JobCompleted, finished.Status)
	assert.GreaterOrEqual(t, atomic.LoadInt32(&polls), int32(1))
}

func TestExecuteVideoDownloadFailsOnDownloadFailure(t *testing.T) {
	mux := http.NewServeMux()
	mux.HandleFunc("/api/v1/storage/path/", func(w http.ResponseWriter, r *http.Request) {
		envelopeOK(w, map[string]string{"output_path": "/data/videos/abc"})
	})
	mux.HandleFunc("/api/v1/download/video", func(w http.ResponseWriter, r *http.Request) {
		envelopeOK(w, map[string]string{"task_id": "task-1"})
	})
	mux.HandleFunc("/api/v1/download/progress/task-1", func(w http.ResponseWriter, r *http.Request) {
		envelopeOK(w, models.DownloadProgress{TaskID: "task-1", Status: models.DownloadFailed, Error: "network error"})
	})
	mux.HandleFunc("/api/v1/storage/recovery", func(w http.ResponseWriter, r *http.Request) {
		envelopeOK(w, nil)
	})

	o, store := newTestOrchestrator(t, mux)
	job, err := store.Create(CreateRequest{Type: models.JobTypeVideoDownload, URLs: []string{"https://youtube.com/watch?v=abc"}})
	require.NoError(t, err)

	finished, err := o.Execute(context.Background(), job.ID)
	require.Error(t, err)
	assert.Equal(t, models.JobFailed, finished.Status)
	assert.NotEmpty(t, finished.ErrorDetails)
}

func TestExecuteRejectsNonExecutableJob(t *testing.T) {
	mux := http.NewServeMux()
	o, store := newTestOrchestrator(t, mux)

	job, err := store.Create(CreateRequest{Type: models.JobTypeVideoDownload, URLs: []string{"https://youtube.com/watch?v=abc"}})
	require.NoError(t, err)
	_, err = store.UpdateStatus(job.ID, models.JobRunning, "")
	require.NoError(t, err)

	_, err = o.Execute(context.Background(), job.ID)
	assert.ErrorIs(t, err, ErrNotExecutable)
}

func TestExecuteMetadataOnly(t *testing.T) {
	mux := http.NewServeMux()
	mux.HandleFunc("/api/v1/metadata/video/abc", func(w http.ResponseWriter, r *http.Request) {
		envelopeOK(w, models.VideoMetadata{VideoID: "abc", Title: "A Video"})
	})
	mux.HandleFunc("/api/v1/storage/save/metadata", func(w http.ResponseWriter, r *http.Request) {
		envelopeOK(w, nil)
	})

	o, store := newTestOrchestrator(t, mux)
	job, err := store.Create(CreateRequest{Type: models.JobTypeMetadataOnly, URLs: []string{"https://youtube.com/watch?v=abc"}})
	require.NoError(t, err)

	finished, err := o.Execute(context.Background(), job.ID)
	require.NoError(t, err)
	assert.Equal(t, models.JobCompleted, finished.Status)
}

func TestExecutePlaylistDownloadAllSucceed(t *testing.T) {
	mux := http.NewServeMux()
	mux.HandleFunc("/api/v1/metadata/playlist/PLabc", func(w http.ResponseWriter, r *http.Request) {
		envelopeOK(w, models.PlaylistMetadata{
			PlaylistID: "PLabc",
			Videos: []models.PlaylistVideo{
				{VideoID: "v1", Position: 0, IsAvailable: true},
				{VideoID: "v2", Position: 1, IsAvailable: true},
				{VideoID: "", Position: 2, IsAvailable: false},
			},
		})
	})
	mux.HandleFunc("/api/v1/storage/path/", func(w http.ResponseWriter, r *http.Request) {
		envelopeOK(w, map[string]string{"output_path": "/data/videos"})
	})
	mux.HandleFunc("/api/v1/download/video", func(w http.ResponseWriter, r *http.Request) {
		envelopeOK(w, map[string]string{"task_id": "task-x"})
	})
	mux.HandleFunc("/api/v1/download/progress/task-x", func(w http.ResponseWriter, r *http.Request) {
		envelopeOK(w, models.DownloadProgress{TaskID: "task-x", Status: models.DownloadCompleted, FilePath: "/data/videos/x.mp4"})
	})
	mux.HandleFunc("/api/v1/storage/save/video", func(w http.ResponseWriter, r *http.Request) {
		envelopeOK(w, nil)
	})
	mux.HandleFunc("/api/v1/storage/recovery-summary", func(w http.ResponseWriter, r *http.Request) {
		envelopeOK(w, nil)
	})

	o, store := newTestOrchestrator(t, mux)
	job, err := store.Create(CreateRequest{Type: models.JobTypePlaylistDownload, URLs: []string{"https://youtube.com/playlist?list=PLabc"}})
	require.NoError(t, err)

	finished, err := o.Execute(context.Background(), job.ID)
	require.NoError(t, err)
	assert.Equal(t, models.JobCompleted, finished.Status)
	require.NotNil(t, finished.Progress)
	assert.Equal(t, 2, finished.Progress.Total)
	assert.Equal(t, 2, finished.Progress.Successful)
	assert.Equal(t, 0, finished.Progress.Failed)
}

func TestExecutePlaylistDownloadPartialFailure(t *testing.T) {
	mux := http.NewServeMux()
	mux.HandleFunc("/api/v1/metadata/playlist/PLabc", func(w http.ResponseWriter, r *http.Request) {
		envelopeOK(w, models.PlaylistMetadata{
			PlaylistID: "PLabc",
			Videos: []models.PlaylistVideo{
				{VideoID: "good", Position: 0, IsAvailable: true},
				{VideoID: "bad", Position: 1, IsAvailable: true},
			},
		})
	})
	mux.HandleFunc("/api/v1/storage/path/", func(w http.ResponseWriter, r *http.Request) {
		envelopeOK(w, map[string]string{"output_path": "/data/videos"})
	})
	mux.HandleFunc("/api/v1/download/video", func(w http.ResponseWriter, r *http.Request) {
		var req struct {
			VideoID string `json:"video_id"`
		}
		json.NewDecoder(r.Body).Decode(&req)
		envelopeOK(w, map[string]string{"task_id": "task-" + req.VideoID})
	})
	mux.HandleFunc("/api/v1/download/progress/task-good", func(w http.ResponseWriter, r *http.Request) {
		envelopeOK(w, models.DownloadProgress{TaskID: "task-good", Status: models.DownloadCompleted, FilePath: "/x.mp4"})
	})
	mux.HandleFunc("/api/v1/download/progress/task-bad", func(w http.ResponseWriter, r *http.Request) {
		envelopeOK(w, models.DownloadProgress{TaskID: "task-bad", Status: models.DownloadFailed, Error: "boom"})
	})
	mux.HandleFunc("/api/v1/storage/save/video", func(w http.ResponseWriter, r *http.Request) { envelopeOK(w, nil) })
	mux.HandleFunc("/api/v1/storage/recovery-summary", func(w http.ResponseWriter, r *http.Request) { envelopeOK(w, nil) })
	mux.HandleFunc("/api/v1/storage/recovery", func(w http.ResponseWriter, r *http.Request) { envelopeOK(w, nil) })

	o, store := newTestOrchestrator(t, mux)
	job, err := store.Create(CreateRequest{Type: models.JobTypePlaylistDownload, URLs: []string{"https://youtube.com/playlist?list=PLabc"}})
	require.NoError(t, err)

	finished, err := o.Execute(context.Background(), job.ID)
	require.NoError(t, err)
	assert.Equal(t, models.JobFailed, finished.Status)
	require.NotNil(t, finished.Progress)
	assert.Equal(t, 1, finished.Progress.Successful)
	assert.Equal(t, 1, finished.Progress.Failed)
}
