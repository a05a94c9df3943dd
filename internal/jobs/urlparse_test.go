package jobs

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestExtractVideoID(t *testing.T) {
	cases := map[string]string{
		"https://www.youtube.com/watch?v=dQw4w9WgXcQ":         "dQw4w9WgXcQ",
		"https://youtu.be/dQw4w9WgXcQ":                         "dQw4w9WgXcQ",
		"https://youtu.be/dQw4w9WgXcQ?t=30":                    "dQw4w9WgXcQ",
		"https://www.youtube.com/watch?v=dQw4w9WgXcQ&list=xyz": "dQw4w9WgXcQ",
	}
	for url, want := range cases {
		got, err := ExtractVideoID(url)
		require.NoError(t, err, url)
		assert.Equal(t, want, got, url)
	}
}

func TestExtractVideoIDRejectsGarbage(t *testing.T) {
	_, err := ExtractVideoID("not a url")
	assert.ErrorIs(t, err, ErrCannotParseURL)
}

func TestExtractPlaylistID(t *testing.T) {
	got, err := ExtractPlaylistID("https://www.youtube.com/playlist?list=PLabc123")
	require.NoError(t, err)
	assert.Equal(t, "PLabc123", got)
}
