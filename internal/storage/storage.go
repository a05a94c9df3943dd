// Package storage implements the storage supervisor: file-system layout,
// metadata/video-info persistence, existence checks, recovery plan
// generation, and aggregate stats. Grounded on
// original_source/services/storage/main.py.
package storage

import (
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"golang.org/x/sys/unix"

	"github.com/ytarchive/fleet/internal/fsatomic"
	"github.com/ytarchive/fleet/internal/models"
)

// Supervisor owns the archive's on-disk layout:
//
//	base/metadata/videos/{id}.json
//	base/metadata/playlists/{id}.json
//	base/videos/{id}/{id}.mp4, {id}_thumb.jpg, {id}_info.json, captions/
//	base/recovery_plans/{ts}_plan.json
type Supervisor struct {
	baseDir           string
	metadataDir       string
	videosMetaDir     string
	playlistsMetaDir  string
	videosDir         string
	recoveryPlansDir  string
}

// New creates a Supervisor rooted at baseDir, creating the directory tree
// if it does not already exist.
func New(baseDir string) (*Supervisor, error) {
	s := &Supervisor{
		baseDir:          baseDir,
		metadataDir:      filepath.Join(baseDir, "metadata"),
		videosMetaDir:    filepath.Join(baseDir, "metadata", "videos"),
		playlistsMetaDir: filepath.Join(baseDir, "metadata", "playlists"),
		videosDir:        filepath.Join(baseDir, "videos"),
		recoveryPlansDir: filepath.Join(baseDir, "recovery_plans"),
	}
	for _, d := range []string{s.videosMetaDir, s.playlistsMetaDir, s.videosDir, s.recoveryPlansDir} {
		if err := fsatomic.EnsureDir(d); err != nil {
			return nil, err
		}
	}
	return s, nil
}

// GetStoragePath returns the directory a video's output files belong in,
// creating it if necessary. quality is accepted for interface symmetry
// with the download supervisor but does not affect the path: one
// directory per video holds every quality variant requested over time.
func (s *Supervisor) GetStoragePath(videoID, quality string) (string, error) {
	dir := filepath.Join(s.videosDir, videoID)
	if err := fsatomic.EnsureDir(dir); err != nil {
		return "", err
	}
	return dir, nil
}

// SaveMetadataResult is returned by SaveMetadata.
type SaveMetadataResult struct {
	Path      string    `json:"path"`
	SizeBytes int64     `json:"size_bytes"`
	SavedAt   time.Time `json:"saved_at"`
}

// SaveMetadata writes a video's metadata JSON, stamping a storage_info
// block the way storage/main.py's _save_metadata does.
func (s *Supervisor) SaveMetadata(videoID string, metadata map[string]any) (SaveMetadataResult, error) {
	path := filepath.Join(s.videosMetaDir, videoID+".json")

	now := time.Now().UTC()
	withStamp := make(map[string]any, len(metadata)+1)
	for k, v := range metadata {
		withStamp[k] = v
	}
	withStamp["storage_info"] = map[string]any{
		"stored_at": now.Format(time.RFC3339),
		"video_id":  videoID,
	}

	if err := fsatomic.WriteJSON(path, withStamp); err != nil {
		return SaveMetadataResult{}, err
	}

	info, err := os.Stat(path)
	if err != nil {
		return SaveMetadataResult{}, fmt.Errorf("storage: stat %s: %w", path, err)
	}

	return SaveMetadataResult{Path: path, SizeBytes: info.Size(), SavedAt: now}, nil
}

// SaveVideoRequest is the input to SaveVideoInfo.
type SaveVideoRequest struct {
	VideoID              string            `json:"video_id"`
	VideoPath            string            `json:"video_path"`
	ThumbnailPath        string            `json:"thumbnail_path,omitempty"`
	Captions             map[string]string `json:"captions,omitempty"`
	FileSize             int64             `json:"file_size"`
	DownloadCompletedAt  time.Time         `json:"download_completed_at"`
}

// SaveVideoInfoResult is returned by SaveVideoInfo.
type SaveVideoInfoResult struct {
	VideoDir string    `json:"video_dir"`
	InfoFile string    `json:"info_file"`
	SavedAt  time.Time `json:"saved_at"`
}

// SaveVideoInfo writes the per-video info file alongside the video's
// output directory, mirroring storage/main.py's _save_video_info.
func (s *Supervisor) SaveVideoInfo(req SaveVideoRequest) (SaveVideoInfoResult, error) {
	videoDir := filepath.Join(s.videosDir, req.VideoID)
	if err := fsatomic.EnsureDir(videoDir); err != nil {
		return SaveVideoInfoResult{}, err
	}

	now := time.Now().UTC()
	infoFile := filepath.Join(videoDir, req.VideoID+"_info.json")
	info := map[string]any{
		"video_id":              req.VideoID,
		"video_path":            req.VideoPath,
		"thumbnail_path":        req.ThumbnailPath,
		"captions":              req.Captions,
		"file_size":             req.FileSize,
		"download_completed_at": req.DownloadCompletedAt.Format(time.RFC3339),
		"stored_at":             now.Format(time.RFC3339),
	}

	if err := fsatomic.WriteJSON(infoFile, info); err != nil {
		return SaveVideoInfoResult{}, err
	}

	return SaveVideoInfoResult{VideoDir: videoDir, InfoFile: infoFile, SavedAt: now}, nil
}

// VideoExistence is the response shape for CheckExists.
type VideoExistence struct {
	Exists       bool              `json:"exists"`
	HasVideo     bool              `json:"has_video"`
	HasMetadata  bool              `json:"has_metadata"`
	HasThumbnail bool              `json:"has_thumbnail"`
	HasCaptions  []string          `json:"has_captions"`
	Paths        map[string]string `json:"paths"`
	LastModified *time.Time        `json:"last_modified,omitempty"`
}

// CheckExists reports what, if anything, is on disk for videoID.
// Mirrors storage/main.py's _check_video_exists.
func (s *Supervisor) CheckExists(videoID string) (VideoExistence, error) {
	existence := VideoExistence{Paths: make(map[string]string), HasCaptions: []string{}}

	metadataFile := filepath.Join(s.videosMetaDir, videoID+".json")
	if info, err := os.Stat(metadataFile); err == nil {
		existence.HasMetadata = true
		existence.Paths["metadata"] = metadataFile
		mtime := info.ModTime().UTC()
		existence.LastModified = &mtime
	}

	videoDir := filepath.Join(s.videosDir, videoID)
	if dirInfo, err := os.Stat(videoDir); err == nil && dirInfo.IsDir() {
		videoFile := filepath.Join(videoDir, videoID+".mp4")
		thumbFile := filepath.Join(videoDir, videoID+"_thumb.jpg")
		captionsDir := filepath.Join(videoDir, "captions")

		if fsatomic.Exists(videoFile) {
			existence.HasVideo = true
			existence.Paths["video"] = videoFile
		}
		if fsatomic.Exists(thumbFile) {
			existence.HasThumbnail = true
			existence.Paths["thumbnail"] = thumbFile
		}
		if entries, err := os.ReadDir(captionsDir); err == nil {
			prefix := videoID + "_"
			for _, e := range entries {
				name := e.Name()
				if !strings.HasSuffix(name, ".vtt") || !strings.HasPrefix(name, prefix) {
					continue
				}
				stem := strings.TrimSuffix(name, ".vtt")
				parts := strings.Split(stem, "_")
				lang := parts[len(parts)-1]
				existence.HasCaptions = append(existence.HasCaptions, lang)
				existence.Paths["caption_"+lang] = filepath.Join(captionsDir, name)
			}
		}
	}

	existence.Exists = existence.HasMetadata || existence.HasVideo
	return existence, nil
}

// ErrMetadataNotFound is returned by GetStoredMetadata when nothing has
// been saved for the requested video.
var ErrMetadataNotFound = fmt.Errorf("metadata not found")

// GetStoredMetadata returns a video's metadata merged with any saved
// video-info storage details. Mirrors _get_stored_metadata.
func (s *Supervisor) GetStoredMetadata(videoID string) (map[string]any, error) {
	metadataFile := filepath.Join(s.videosMetaDir, videoID+".json")
	if !fsatomic.Exists(metadataFile) {
		return nil, fmt.Errorf("%w: video %s", ErrMetadataNotFound, videoID)
	}

	var metadata map[string]any
	if err := fsatomic.ReadJSON(metadataFile, &metadata); err != nil {
		return nil, err
	}

	storageInfo, _ := metadata["storage_info"].(map[string]any)
	if storageInfo == nil {
		storageInfo = make(map[string]any)
	}

	infoFile := filepath.Join(s.videosDir, videoID, videoID+"_info.json")
	if fsatomic.Exists(infoFile) {
		var videoInfo map[string]any
		if err := fsatomic.ReadJSON(infoFile, &videoInfo); err == nil {
			for k, v := range videoInfo {
				storageInfo[k] = v
			}
		}
	}

	return map[string]any{
		"video_id":     videoID,
		"metadata":     metadata,
		"storage_info": storageInfo,
	}, nil
}

// RecoveryPlanResult is returned by GenerateRecoveryPlan.
type RecoveryPlanResult struct {
	PlanID           string `json:"plan_id"`
	Path             string `json:"path"`
	TotalVideos      int    `json:"total_videos"`
	UnavailableCount int    `json:"unavailable_count"`
	FailedCount      int    `json:"failed_count"`
}

// GenerateRecoveryPlan persists a work plan for failed/unavailable videos,
// id'd by timestamp. Mirrors _generate_recovery_plan.
func (s *Supervisor) GenerateRecoveryPlan(unavailable []models.UnavailableVideo, failed []models.FailedDownload) (RecoveryPlanResult, error) {
	now := time.Now().UTC()
	planID := now.Format("20060102_150405")

	plan := models.RecoveryPlan{
		PlanID:            planID,
		CreatedAt:         now,
		UnavailableVideos: unavailable,
		FailedDownloads:   failed,
		TotalVideos:       len(unavailable) + len(failed),
		UnavailableCount:  len(unavailable),
		FailedCount:       len(failed),
	}

	path := filepath.Join(s.recoveryPlansDir, planID+"_plan.json")
	if err := fsatomic.WriteJSON(path, plan); err != nil {
		return RecoveryPlanResult{}, err
	}

	return RecoveryPlanResult{
		PlanID:           planID,
		Path:             path,
		TotalVideos:      plan.TotalVideos,
		UnavailableCount: plan.UnavailableCount,
		FailedCount:      plan.FailedCount,
	}, nil
}

// Stats is the response shape for Stats().
type Stats struct {
	TotalVideos    int            `json:"total_videos"`
	TotalSizeBytes int64          `json:"total_size_bytes"`
	TotalSizeHuman string         `json:"total_size_human"`
	MetadataCount  int            `json:"metadata_count"`
	VideoCount     int            `json:"video_count"`
	ThumbnailCount int            `json:"thumbnail_count"`
	CaptionCount   int            `json:"caption_count"`
	DiskUsage      DiskUsage      `json:"disk_usage"`
	OldestFile     *time.Time     `json:"oldest_file,omitempty"`
	NewestFile     *time.Time     `json:"newest_file,omitempty"`
}

// DiskUsage reports the filesystem block underlying the base directory.
type DiskUsage struct {
	UsedBytes    uint64  `json:"used_bytes"`
	FreeBytes    uint64  `json:"free_bytes"`
	TotalBytes   uint64  `json:"total_bytes"`
	UsagePercent float64 `json:"usage_percent"`
}

// Stats computes aggregate statistics over the archive. Mirrors
// _get_storage_stats, including its format_bytes suffix ladder and its
// statvfs-based disk_usage block (ported to golang.org/x/sys/unix.Statfs,
// falling back to a zeroed block on error the same way the original
// catches AttributeError/OSError).
func (s *Supervisor) Stats() (Stats, error) {
	metadataFiles, _ := filepath.Glob(filepath.Join(s.videosMetaDir, "*.json"))

	entries, err := os.ReadDir(s.videosDir)
	if err != nil {
		return Stats{}, fmt.Errorf("storage: read %s: %w", s.videosDir, err)
	}

	var (
		totalSize               int64
		videoCount, thumbCount  int
		captionCount            int
		oldest, newest          *time.Time
	)

	for _, e := range entries {
		if !e.IsDir() {
			continue
		}
		videoID := e.Name()
		videoDir := filepath.Join(s.videosDir, videoID)

		videoFile := filepath.Join(videoDir, videoID+".mp4")
		if info, err := os.Stat(videoFile); err == nil {
			videoCount++
			totalSize += info.Size()
			mtime := info.ModTime().UTC()
			if oldest == nil || mtime.Before(*oldest) {
				oldest = &mtime
			}
			if newest == nil || mtime.After(*newest) {
				newest = &mtime
			}
		}

		thumbFile := filepath.Join(videoDir, videoID+"_thumb.jpg")
		if info, err := os.Stat(thumbFile); err == nil {
			thumbCount++
			totalSize += info.Size()
		}

		captionFiles, _ := filepath.Glob(filepath.Join(videoDir, "captions", "*.vtt"))
		captionCount += len(captionFiles)
		for _, cf := range captionFiles {
			if info, err := os.Stat(cf); err == nil {
				totalSize += info.Size()
			}
		}
	}

	return Stats{
		TotalVideos:    countDirs(entries),
		TotalSizeBytes: totalSize,
		TotalSizeHuman: formatBytes(totalSize),
		MetadataCount:  len(metadataFiles),
		VideoCount:     videoCount,
		ThumbnailCount: thumbCount,
		CaptionCount:   captionCount,
		DiskUsage:      s.diskUsage(),
		OldestFile:     oldest,
		NewestFile:     newest,
	}, nil
}

func countDirs(entries []os.DirEntry) int {
	n := 0
	for _, e := range entries {
		if e.IsDir() {
			n++
		}
	}
	return n
}

func (s *Supervisor) diskUsage() DiskUsage {
	var st unix.Statfs_t
	if err := unix.Statfs(s.baseDir, &st); err != nil {
		return DiskUsage{}
	}

	total := st.Blocks * uint64(st.Bsize)
	free := st.Bavail * uint64(st.Bsize)
	used := total - free

	var pct float64
	if total > 0 {
		pct = roundTo2(float64(used) / float64(total) * 100)
	}

	return DiskUsage{UsedBytes: used, FreeBytes: free, TotalBytes: total, UsagePercent: pct}
}

func roundTo2(v float64) float64 {
	return float64(int(v*100+0.5)) / 100
}

func formatBytes(n int64) string {
	value := float64(n)
	for _, unitName := range []string{"B", "KB", "MB", "GB", "TB"} {
		if value < 1024.0 {
			return fmt.Sprintf("%.1f %s", value, unitName)
		}
		value /= 1024.0
	}
	return fmt.Sprintf("%.1f PB", value)
}

// ListMetadataFiles is a helper for callers (e.g. an admin endpoint) that
// need the raw set of stored video ids, sorted for deterministic output.
func (s *Supervisor) ListMetadataFiles() ([]string, error) {
	files, err := filepath.Glob(filepath.Join(s.videosMetaDir, "*.json"))
	if err != nil {
		return nil, err
	}
	ids := make([]string, 0, len(files))
	for _, f := range files {
		base := filepath.Base(f)
		ids = append(ids, strings.TrimSuffix(base, ".json"))
	}
	sort.Strings(ids)
	return ids, nil
}
