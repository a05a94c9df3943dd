package jobs

import (
	"fmt"
	"regexp"
)

// ErrCannotParseURL is returned when a URL contains no recognizable
// video or playlist id.
var ErrCannotParseURL = fmt.Errorf("could not extract id from url")

var videoIDPattern = regexp.MustCompile(`(?:watch\?v=|youtu\.be/)([A-Za-z0-9_-]+)`)

var playlistIDPattern = regexp.MustCompile(`[?&]list=([A-Za-z0-9_-]+)`)

// ExtractVideoID pulls a video id out of a watch?v=... or youtu.be/...
// URL, ignoring any trailing query parameters.
func ExtractVideoID(url string) (string, error) {
	m := videoIDPattern.FindStringSubmatch(url)
	if m == nil {
		return "", fmt.Errorf("%w: %s", ErrCannotParseURL, url)
	}
	return m[1], nil
}

// ExtractPlaylistID pulls a playlist id out of a list=... query parameter.
func ExtractPlaylistID(url string) (string, error) {
	m := playlistIDPattern.FindStringSubmatch(url)
	if m == nil {
		return "", fmt.Errorf("%w: %s", ErrCannotParseURL, url)
	}
	return m[1], nil
}
