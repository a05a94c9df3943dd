// Package fsatomic provides crash-safe JSON file persistence on top of
// renameio: every write lands via a temp file + fsync + rename so a crash
// mid-write never leaves a torn file behind.
package fsatomic

import (
	"encoding/json"
	"fmt"
	"os"

	"github.com/google/renameio/v2"
)

// WriteJSON marshals v and atomically replaces the file at path with it,
// creating parent directories as needed.
func WriteJSON(path string, v any) error {
	b, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return fmt.Errorf("fsatomic: marshal %s: %w", path, err)
	}
	if err := renameio.WriteFile(path, b, 0o644); err != nil {
		return fmt.Errorf("fsatomic: write %s: %w", path, err)
	}
	return nil
}

// ReadJSON reads and unmarshals the file at path into v.
func ReadJSON(path string, v any) error {
	b, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("fsatomic: read %s: %w", path, err)
	}
	if err := json.Unmarshal(b, v); err != nil {
		return fmt.Errorf("fsatomic: unmarshal %s: %w", path, err)
	}
	return nil
}

// Exists reports whether path exists and is a regular file.
func Exists(path string) bool {
	info, err := os.Stat(path)
	return err == nil && !info.IsDir()
}

// EnsureDir creates dir (and parents) if it does not already exist.
func EnsureDir(dir string) error {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("fsatomic: mkdir %s: %w", dir, err)
	}
	return nil
}
