// Package storage holds the result sinks a finished run is written to.
package storage

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	"github.com/pauljones0/profile-scraper/internal/models"
)

const fileTimeLayout = "2006-01-02_15-04-05"

// FileSink writes each run as an indented JSON document in Dir.
type FileSink struct {
	Dir string
	now func() time.Time
}

func NewFileSink(dir string) *FileSink {
	return &FileSink{Dir: dir, now: time.Now}
}

// Filename is twitter_data_<local time>.json. Runs that did not reach the end
// of the timeline carry a _cancelled or _partial suffix.
func (s *FileSink) Filename(status models.RunStatus) string {
	name := "twitter_data_" + s.now().Format(fileTimeLayout)
	switch status {
	case models.RunCancelled:
		name += "_cancelled"
	case models.RunFailed:
		name += "_partial"
	}
	return name + ".json"
}

// Save writes the result and returns once the file is on disk. The write goes
// through a temp file so a crash never leaves a truncated document behind.
func (s *FileSink) Save(ctx context.Context, result *models.ScrapeResult) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	data, err := Encode(result)
	if err != nil {
		return err
	}
	if err := os.MkdirAll(s.Dir, 0o755); err != nil {
		return fmt.Errorf("failed to create output directory: %w", err)
	}

	path := filepath.Join(s.Dir, s.Filename(result.Status))
	tmp, err := os.CreateTemp(s.Dir, ".twitter_data_*.tmp")
	if err != nil {
		return fmt.Errorf("failed to create temp file: %w", err)
	}
	defer os.Remove(tmp.Name())

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		return fmt.Errorf("failed to write %s: %w", tmp.Name(), err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("failed to close %s: %w", tmp.Name(), err)
	}
	if err := os.Rename(tmp.Name(), path); err != nil {
		return fmt.Errorf("failed to move result into place: %w", err)
	}
	slog.Info("Saved run to file", "path", path, "posts", len(result.Posts), "status", result.Status)
	return nil
}

// Encode renders the result document with four-space indentation. HTML is not
// escaped so post text stays readable.
func Encode(result *models.ScrapeResult) ([]byte, error) {
	var buf bytes.Buffer
	enc := json.NewEncoder(&buf)
	enc.SetEscapeHTML(false)
	enc.SetIndent("", "    ")
	if err := enc.Encode(result); err != nil {
		return nil, fmt.Errorf("failed to encode result: %w", err)
	}
	return buf.Bytes(), nil
}
