// Package svcconfig loads per-service configuration with
// github.com/cristalhq/aconfig, following the teacher's
// cmd/ytarchiver/conf.go pattern: a tagged struct, a list of search paths
// tried in order, and a -config flag override.
package svcconfig

import (
	"errors"

	"github.com/cristalhq/aconfig"
)

var (
	// ErrBlankAPIKey mirrors the teacher's rejection of an unset or
	// placeholder YouTube API key.
	ErrBlankAPIKey = errors.New("blank API key supplied: set YOUTUBE_API_KEY")
)

const placeholderAPIKey = "YOUR_KEY_HERE"

// Common holds the settings every service binary shares.
type Common struct {
	Host  string `default:"0.0.0.0"`
	Port  int    `required:"true"`
	Debug bool   `default:"false"`

	JobsURL     string `env:"JOBS_SERVICE_URL"`
	MetadataURL string `env:"METADATA_SERVICE_URL"`
	DownloadURL string `env:"DOWNLOAD_SERVICE_URL"`
	StorageURL  string `env:"STORAGE_SERVICE_URL"`
}

// JobsConfig is cmd/jobs's settings.
type JobsConfig struct {
	Common
	DataDir           string `default:"./data/jobs" env:"JOBS_DATA_DIR"`
	DefaultConcurrency int   `default:"3" env:"JOBS_DEFAULT_CONCURRENCY"`
	MaxConcurrency     int   `default:"8" env:"JOBS_MAX_CONCURRENCY"`
}

// MetadataConfig is cmd/metadata's settings.
type MetadataConfig struct {
	Common
	YouTubeAPIKey string `required:"true" env:"YOUTUBE_API_KEY"`
	QuotaLimit    int    `default:"10000" env:"METADATA_QUOTA_LIMIT"`
	QuotaReserve  int    `default:"1000" env:"METADATA_QUOTA_RESERVE"`
}

// DownloadConfig is cmd/download's settings.
type DownloadConfig struct {
	Common
	OutputDir      string `default:"./data/videos" env:"DOWNLOAD_OUTPUT_DIR"`
	Downloader     string `default:"/usr/bin/yt-dlp" env:"DOWNLOAD_EXECUTABLE"`
	MaxConcurrent  int    `default:"3" env:"DOWNLOAD_MAX_CONCURRENT"`
}

// StorageConfig is cmd/storage's settings.
type StorageConfig struct {
	Common
	BaseDir string `default:"./data" env:"STORAGE_BASE_DIR"`
}

// Load populates cfg (a pointer to one of the structs above) from the
// environment, a JSON config file found in searchPaths, or a -config flag
// override, in that priority order per aconfig's own precedence rules.
func Load(cfg any, searchPaths []string) error {
	loader := aconfig.LoaderFor(cfg, aconfig.Config{
		SkipDefaults: false,
		FileFlag:     "config",
		EnvPrefix:    "YTARCHIVE",
		Files:        searchPaths,
	})
	return loader.Load()
}

// ValidateAPIKey rejects an empty or placeholder YouTube API key, the same
// guard the teacher's ValidateConfig applies.
func ValidateAPIKey(key string) error {
	if key == "" || key == placeholderAPIKey {
		return ErrBlankAPIKey
	}
	return nil
}

// DefaultSearchPaths builds the conventional search-path list for a
// service named name, mirroring the teacher's configSearchPaths list.
func DefaultSearchPaths(name string) []string {
	return []string{
		"./" + name + ".json",
		"/etc/ytarchive/" + name + ".json",
		"/usr/share/ytarchive/" + name + ".json",
	}
}
