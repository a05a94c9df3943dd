package download

import (
	"context"
	"encoding/json"
	"fmt"
	"os/exec"

	"github.com/ytarchive/fleet/internal/models"
)

// ytdlpInfo is the subset of yt-dlp's -J info-extraction output this
// package cares about.
type ytdlpInfo struct {
	ID      string `json:"id"`
	Formats []struct {
		FormatID   string  `json:"format_id"`
		Ext        string  `json:"ext"`
		Height     int     `json:"height"`
		Width      int     `json:"width"`
		FPS        float64 `json:"fps"`
		VCodec     string  `json:"vcodec"`
		ACodec     string  `json:"acodec"`
		Filesize   int64   `json:"filesize"`
		FormatNote string  `json:"format_note"`
	} `json:"formats"`
}

// ExtractFormats shells out to the downloader's info-extraction mode
// (yt-dlp's `-J --skip-download`) and parses its JSON dump into
// AvailableFormats. Wired as ExecFormatLister.Extract.
func ExtractFormats(ctx context.Context, executablePath, videoURL string) (models.AvailableFormats, error) {
	cmd := exec.CommandContext(ctx, executablePath, "-J", "--skip-download", videoURL)
	out, err := cmd.Output()
	if err != nil {
		return models.AvailableFormats{}, fmt.Errorf("download: extract %s: %w", executablePath, err)
	}

	var info ytdlpInfo
	if err := json.Unmarshal(out, &info); err != nil {
		return models.AvailableFormats{}, fmt.Errorf("download: parse info dump: %w", err)
	}
	if len(info.Formats) == 0 {
		return models.AvailableFormats{}, fmt.Errorf("%w: no formats in info dump", ErrVideoUnavailable)
	}

	result := models.AvailableFormats{VideoID: info.ID, Formats: make([]models.VideoFormat, 0, len(info.Formats))}
	var best string
	var bestHeight int
	for _, f := range info.Formats {
		resolution := ""
		if f.Width > 0 && f.Height > 0 {
			resolution = fmt.Sprintf("%dx%d", f.Width, f.Height)
		}
		result.Formats = append(result.Formats, models.VideoFormat{
			FormatID:   f.FormatID,
			Ext:        f.Ext,
			Resolution: resolution,
			FPS:        int(f.FPS),
			VCodec:     f.VCodec,
			ACodec:     f.ACodec,
			FileSize:   f.Filesize,
			FormatNote: f.FormatNote,
		})
		if f.Height > bestHeight {
			bestHeight = f.Height
			best = f.FormatID
		}
	}
	result.BestFormat = best
	return result, nil
}
