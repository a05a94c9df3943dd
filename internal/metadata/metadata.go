// Package metadata implements the metadata supervisor: a quota-tracked,
// TTL-cached wrapper around the YouTube Data API v3 client, grounded on
// original_source/services/metadata/main.py for the domain logic and the
// teacher's api.go for the google.golang.org/api/youtube/v3 calling
// convention.
package metadata

import (
	"context"
	"fmt"
	"regexp"
	"strconv"
	"strings"
	"sync"
	"time"

	"golang.org/x/time/rate"
	"google.golang.org/api/option"
	"google.golang.org/api/youtube/v3"

	"github.com/ytarchive/fleet/internal/errrecovery"
	"github.com/ytarchive/fleet/internal/metrics"
	"github.com/ytarchive/fleet/internal/models"
)

const (
	videoCacheTTL    = time.Hour
	playlistCacheTTL = 30 * time.Minute
	batchChunkSize   = 50
)

// ErrQuotaExceeded is returned when an operation's estimated cost would
// cross into the reserved headroom.
var ErrQuotaExceeded = fmt.Errorf("youtube api quota exceeded")

// ErrNotFound is returned when the upstream API has nothing for the id.
var ErrNotFound = fmt.Errorf("not found or unavailable")

type cacheEntry struct {
	data      any
	expiresAt time.Time
}

// Supervisor wraps a youtube.Service with quota accounting, a TTL cache,
// and outbound pacing. Mirrors metadata/main.py's MetadataService.
type Supervisor struct {
	svc     *youtube.Service
	limiter *rate.Limiter

	quotaLimit   int
	quotaReserve int

	retryDriver   *errrecovery.Driver
	retryStrategy errrecovery.RetryStrategy
	reporter      errrecovery.Reporter

	mu        sync.Mutex
	quotaUsed int
	resetTime time.Time
	cache     map[string]cacheEntry
}

// New constructs a Supervisor from a YouTube Data API key, the same
// options.WithAPIKey call the teacher's cmd wiring would use to build the
// *youtube.Service passed to api.go's functions. reporter is optional and
// receives the final error of any exhausted Videos/Playlists/PlaylistItems
// call.
func New(ctx context.Context, apiKey string, quotaLimit, quotaReserve int, reporter errrecovery.Reporter) (*Supervisor, error) {
	svc, err := youtube.NewService(ctx, option.WithAPIKey(apiKey))
	if err != nil {
		return nil, fmt.Errorf("metadata: build youtube client: %w", err)
	}
	return &Supervisor{
		svc:           svc,
		limiter:       rate.NewLimiter(rate.Limit(5), 5),
		quotaLimit:    quotaLimit,
		quotaReserve:  quotaReserve,
		retryDriver:   errrecovery.NewDriver(),
		retryStrategy: errrecovery.NewExponentialBackoffStrategy(errrecovery.DefaultRetryConfig()),
		reporter:      reporter,
		resetTime:     nextResetTime(time.Now().UTC()),
		cache:         make(map[string]cacheEntry),
	}, nil
}

// retryOpts binds the supervisor's reporter, if any, to a retry call.
func (s *Supervisor) retryOpts() []errrecovery.Option {
	if s.reporter == nil {
		return nil
	}
	return []errrecovery.Option{errrecovery.WithReporter(s.reporter, "metadata")}
}

func nextResetTime(now time.Time) time.Time {
	tomorrow := time.Date(now.Year(), now.Month(), now.Day(), 0, 0, 0, 0, time.UTC).AddDate(0, 0, 1)
	return tomorrow
}

func (s *Supervisor) checkQuota(units int) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.quotaUsed+units <= s.quotaLimit-s.quotaReserve
}

func (s *Supervisor) useQuota(units int) {
	s.mu.Lock()
	s.quotaUsed += units
	s.mu.Unlock()
	metrics.QuotaUnitsUsed.Add(float64(units))
}

func (s *Supervisor) cacheGet(key string) (any, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	entry, ok := s.cache[key]
	if !ok {
		return nil, false
	}
	if time.Now().After(entry.expiresAt) {
		delete(s.cache, key)
		return nil, false
	}
	return entry.data, true
}

func (s *Supervisor) cacheSet(key string, data any, ttl time.Duration) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.cache[key] = cacheEntry{data: data, expiresAt: time.Now().Add(ttl)}
}

// GetVideoMetadata fetches (or returns cached) metadata for one video.
func (s *Supervisor) GetVideoMetadata(ctx context.Context, videoID string) (models.VideoMetadata, error) {
	cacheKey := "video:" + videoID
	if cached, ok := s.cacheGet(cacheKey); ok {
		return cached.(models.VideoMetadata), nil
	}

	if !s.checkQuota(1) {
		return models.VideoMetadata{}, ErrQuotaExceeded
	}

	if err := s.limiter.Wait(ctx); err != nil {
		return models.VideoMetadata{}, fmt.Errorf("metadata: rate limiter: %w", err)
	}

	resp, err := errrecovery.ExecuteWithRetry(ctx, s.retryDriver, s.retryStrategy, "exponential", "metadata.videos_list",
		func(ctx context.Context) (*youtube.VideoListResponse, error) {
			return s.svc.Videos.List([]string{"snippet", "contentDetails", "status", "statistics"}).
				Id(videoID).Context(ctx).Do()
		},
		s.retryOpts()...,
	)
	if err != nil {
		return models.VideoMetadata{}, fmt.Errorf("metadata: videos.list %s: %w", videoID, err)
	}
	s.useQuota(1)

	if len(resp.Items) == 0 {
		return models.VideoMetadata{}, fmt.Errorf("%w: video %s", ErrNotFound, videoID)
	}

	parsed, err := parseVideoMetadata(resp.Items[0])
	if err != nil {
		return models.VideoMetadata{}, err
	}

	s.cacheSet(cacheKey, parsed, videoCacheTTL)
	return parsed, nil
}

// GetPlaylistMetadata fetches (or returns cached) metadata for a playlist
// and its first page of up to 50 items.
func (s *Supervisor) GetPlaylistMetadata(ctx context.Context, playlistID string) (models.PlaylistMetadata, error) {
	cacheKey := "playlist:" + playlistID
	if cached, ok := s.cacheGet(cacheKey); ok {
		return cached.(models.PlaylistMetadata), nil
	}

	if !s.checkQuota(2) {
		return models.PlaylistMetadata{}, ErrQuotaExceeded
	}

	if err := s.limiter.Wait(ctx); err != nil {
		return models.PlaylistMetadata{}, fmt.Errorf("metadata: rate limiter: %w", err)
	}

	playlistResp, err := errrecovery.ExecuteWithRetry(ctx, s.retryDriver, s.retryStrategy, "exponential", "metadata.playlists_list",
		func(ctx context.Context) (*youtube.PlaylistListResponse, error) {
			return s.svc.Playlists.List([]string{"snippet", "contentDetails"}).
				Id(playlistID).Context(ctx).Do()
		},
		s.retryOpts()...,
	)
	if err != nil {
		return models.PlaylistMetadata{}, fmt.Errorf("metadata: playlists.list %s: %w", playlistID, err)
	}
	if len(playlistResp.Items) == 0 {
		return models.PlaylistMetadata{}, fmt.Errorf("%w: playlist %s", ErrNotFound, playlistID)
	}

	itemsResp, err := errrecovery.ExecuteWithRetry(ctx, s.retryDriver, s.retryStrategy, "exponential", "metadata.playlist_items_list",
		func(ctx context.Context) (*youtube.PlaylistItemListResponse, error) {
			return s.svc.PlaylistItems.List([]string{"snippet", "contentDetails"}).
				PlaylistId(playlistID).MaxResults(50).Context(ctx).Do()
		},
		s.retryOpts()...,
	)
	if err != nil {
		return models.PlaylistMetadata{}, fmt.Errorf("metadata: playlistItems.list %s: %w", playlistID, err)
	}
	s.useQuota(2)

	parsed := parsePlaylistMetadata(playlistResp.Items[0], itemsResp.Items)
	s.cacheSet(cacheKey, parsed, playlistCacheTTL)
	return parsed, nil
}

// BatchResult is the response shape for BatchFetchMetadata.
type BatchResult struct {
	Metadata []models.VideoMetadata `json:"metadata"`
	Failed   []BatchFailure         `json:"failed"`
}

// BatchFailure names one video that a batch fetch could not resolve.
type BatchFailure struct {
	VideoID string `json:"video_id"`
	Error   string `json:"error"`
}

// BatchFetchMetadata fetches metadata for many videos, chunked to
// batchChunkSize per call to stay within a single videos.list request's
// id-list limit, exactly as metadata/main.py's _batch_fetch_metadata does.
func (s *Supervisor) BatchFetchMetadata(ctx context.Context, videoIDs []string) (BatchResult, error) {
	var result BatchResult

	for i := 0; i < len(videoIDs); i += batchChunkSize {
		end := i + batchChunkSize
		if end > len(videoIDs) {
			end = len(videoIDs)
		}
		chunk := videoIDs[i:end]

		if !s.checkQuota(1) {
			for _, id := range videoIDs[i:] {
				result.Failed = append(result.Failed, BatchFailure{VideoID: id, Error: "YouTube API quota exceeded"})
			}
			break
		}

		if err := s.limiter.Wait(ctx); err != nil {
			return result, fmt.Errorf("metadata: rate limiter: %w", err)
		}

		resp, err := errrecovery.ExecuteWithRetry(ctx, s.retryDriver, s.retryStrategy, "exponential", "metadata.videos_list_batch",
			func(ctx context.Context) (*youtube.VideoListResponse, error) {
				return s.svc.Videos.List([]string{"snippet", "contentDetails", "status", "statistics"}).
					Id(strings.Join(chunk, ",")).Context(ctx).Do()
			},
			s.retryOpts()...,
		)
		if err != nil {
			for _, id := range chunk {
				result.Failed = append(result.Failed, BatchFailure{VideoID: id, Error: fmt.Sprintf("YouTube API error: %v", err)})
			}
			continue
		}
		s.useQuota(1)

		byID := make(map[string]*youtube.Video, len(resp.Items))
		for _, item := range resp.Items {
			byID[item.Id] = item
		}

		for _, id := range chunk {
			item, ok := byID[id]
			if !ok {
				result.Failed = append(result.Failed, BatchFailure{VideoID: id, Error: "video not found or unavailable"})
				continue
			}
			parsed, err := parseVideoMetadata(item)
			if err != nil {
				result.Failed = append(result.Failed, BatchFailure{VideoID: id, Error: fmt.Sprintf("failed to parse metadata: %v", err)})
				continue
			}
			result.Metadata = append(result.Metadata, parsed)
			s.cacheSet("video:"+id, parsed, videoCacheTTL)
		}
	}

	return result, nil
}

// QuotaStatus is the response shape for GetQuotaStatus.
type QuotaStatus struct {
	QuotaLimit          int            `json:"quota_limit"`
	QuotaUsed           int            `json:"quota_used"`
	QuotaRemaining      int            `json:"quota_remaining"`
	ResetTime           time.Time      `json:"reset_time"`
	OperationsAvailable map[string]int `json:"operations_available"`
}

// GetQuotaStatus reports remaining quota and a per-operation-type estimate
// of how many more calls can be made, per metadata/main.py's
// _get_quota_status (supplemented feature, SPEC_FULL.md §5).
func (s *Supervisor) GetQuotaStatus() QuotaStatus {
	s.mu.Lock()
	defer s.mu.Unlock()

	remaining := s.quotaLimit - s.quotaUsed
	if remaining < 0 {
		remaining = 0
	}

	return QuotaStatus{
		QuotaLimit:     s.quotaLimit,
		QuotaUsed:      s.quotaUsed,
		QuotaRemaining: remaining,
		ResetTime:      s.resetTime,
		OperationsAvailable: map[string]int{
			"video_metadata":    remaining,
			"playlist_metadata": remaining,
			"playlist_items":    remaining,
			"captions":          remaining / 50,
		},
	}
}

func parseVideoMetadata(item *youtube.Video) (models.VideoMetadata, error) {
	if item.Snippet == nil || item.ContentDetails == nil {
		return models.VideoMetadata{}, fmt.Errorf("metadata: video %s missing snippet/contentDetails", item.Id)
	}

	duration := ParseISO8601Duration(item.ContentDetails.Duration)

	uploadDate, err := time.Parse(time.RFC3339, item.Snippet.PublishedAt)
	if err != nil {
		uploadDate = time.Time{}
	}

	thumbnails := make(map[string]string)
	if item.Snippet.Thumbnails != nil {
		addThumb(thumbnails, "default", item.Snippet.Thumbnails.Default)
		addThumb(thumbnails, "medium", item.Snippet.Thumbnails.Medium)
		addThumb(thumbnails, "high", item.Snippet.Thumbnails.High)
		addThumb(thumbnails, "standard", item.Snippet.Thumbnails.Standard)
		addThumb(thumbnails, "maxres", item.Snippet.Thumbnails.Maxres)
	}

	var viewCount, likeCount *int64
	if item.Statistics != nil {
		if item.Statistics.ViewCount != 0 {
			v := int64(item.Statistics.ViewCount)
			viewCount = &v
		}
		if item.Statistics.LikeCount != 0 {
			v := int64(item.Statistics.LikeCount)
			likeCount = &v
		}
	}

	return models.VideoMetadata{
		VideoID:         item.Id,
		Title:           item.Snippet.Title,
		Description:     item.Snippet.Description,
		DurationSeconds: duration,
		UploadDate:      uploadDate,
		ChannelID:       item.Snippet.ChannelId,
		ChannelTitle:    item.Snippet.ChannelTitle,
		ThumbnailURLs:   thumbnails,
		ViewCount:       viewCount,
		LikeCount:       likeCount,
		FetchedAt:       time.Now().UTC(),
	}, nil
}

func addThumb(m map[string]string, key string, t *youtube.Thumbnail) {
	if t != nil && t.Url != "" {
		m[key] = t.Url
	}
}

// ParsePlaylistItems converts playlist items into the PlaylistVideo list
// that parsePlaylistMetadata wraps in a PlaylistMetadata envelope.
func ParsePlaylistItems(items []*youtube.PlaylistItem) []models.PlaylistVideo {
	videos := make([]models.PlaylistVideo, 0, len(items))
	for i, item := range items {
		if item.Snippet == nil || item.Snippet.ResourceId == nil {
			continue
		}
		videos = append(videos, models.PlaylistVideo{
			VideoID:     item.Snippet.ResourceId.VideoId,
			Position:    i,
			Title:       item.Snippet.Title,
			IsAvailable: item.Snippet.Title != "Private video",
		})
	}
	return videos
}

func parsePlaylistMetadata(playlist *youtube.Playlist, items []*youtube.PlaylistItem) models.PlaylistMetadata {
	videos := ParsePlaylistItems(items)

	var videoCount int
	if playlist.ContentDetails != nil {
		videoCount = int(playlist.ContentDetails.ItemCount)
	}

	return models.PlaylistMetadata{
		PlaylistID:   playlist.Id,
		Title:        playlist.Snippet.Title,
		Description:  playlist.Snippet.Description,
		ChannelID:    playlist.Snippet.ChannelId,
		ChannelTitle: playlist.Snippet.ChannelTitle,
		VideoCount:   videoCount,
		Videos:       videos,
		FetchedAt:    time.Now().UTC(),
	}
}

var iso8601DurationPattern = regexp.MustCompile(`^PT(?:(\d+)H)?(?:(\d+)M)?(?:(\d+)S)?$`)

// ParseISO8601Duration converts a YouTube API duration string (e.g.
// "PT4M13S") into whole seconds. Returns 0 for a non-matching string,
// mirroring metadata/main.py's _parse_duration.
func ParseISO8601Duration(s string) int {
	m := iso8601DurationPattern.FindStringSubmatch(s)
	if m == nil {
		return 0
	}
	hours := atoiOrZero(m[1])
	minutes := atoiOrZero(m[2])
	seconds := atoiOrZero(m[3])
	return hours*3600 + minutes*60 + seconds
}

func atoiOrZero(s string) int {
	if s == "" {
		return 0
	}
	v, err := strconv.Atoi(s)
	if err != nil {
		return 0
	}
	return v
}
