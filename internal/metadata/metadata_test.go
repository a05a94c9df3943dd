package metadata

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"google.golang.org/api/youtube/v3"
)

func TestParseISO8601Duration(t *testing.T) {
	cases := map[string]int{
		"PT4M13S":  253,
		"PT1H":     3600,
		"PT1H2M3S": 3723,
		"PT45S":    45,
		"PT":       0,
		"garbage":  0,
	}
	for in, want := range cases {
		assert.Equal(t, want, ParseISO8601Duration(in), in)
	}
}

func TestParsePlaylistItemsMarksPrivateVideoUnavailable(t *testing.T) {
	items := []*youtube.PlaylistItem{
		{Snippet: &youtube.PlaylistItemSnippet{
			Title:      "Real Title",
			ResourceId: &youtube.ResourceId{VideoId: "v1"},
		}},
		{Snippet: &youtube.PlaylistItemSnippet{
			Title:      "Private video",
			ResourceId: &youtube.ResourceId{VideoId: "v2"},
		}},
	}

	videos := ParsePlaylistItems(items)
	assert.Len(t, videos, 2)
	assert.True(t, videos[0].IsAvailable)
	assert.False(t, videos[1].IsAvailable)
	assert.Equal(t, 0, videos[0].Position)
	assert.Equal(t, 1, videos[1].Position)
}

func TestQuotaStatusBreakdown(t *testing.T) {
	s := &Supervisor{quotaLimit: 10000, quotaUsed: 9970}
	status := s.GetQuotaStatus()
	assert.Equal(t, 30, status.QuotaRemaining)
	assert.Equal(t, 30, status.OperationsAvailable["video_metadata"])
	assert.Equal(t, 0, status.OperationsAvailable["captions"])
}

func TestCheckQuotaRespectsReserve(t *testing.T) {
	s := &Supervisor{quotaLimit: 10000, quotaReserve: 1000, quotaUsed: 8999}
	assert.True(t, s.checkQuota(1))
	assert.False(t, s.checkQuota(2))
}
