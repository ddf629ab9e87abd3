package storage

import (
	"context"
	"encoding/json"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/pauljones0/profile-scraper/internal/models"
)

func fixedClock() func() time.Time {
	return func() time.Time { return time.Date(2026, 10, 19, 8, 5, 9, 0, time.Local) }
}

func intPtr(n int) *int { return &n }

func sampleResult(status models.RunStatus) *models.ScrapeResult {
	date := "2026-10-18T12:00:00Z"
	return &models.ScrapeResult{
		ProfileSummary: models.ProfileSummary{AccountName: "Jack", Handle: "@jack", Followers: 1200, PostCount: 3},
		Posts: []models.PostRecord{
			{
				ID:         "101",
				Type:       models.PostOriginal,
				Text:       "fish & chips <3 café",
				Timestamp:  &date,
				Engagement: models.EngagementCounts{Reply: 1, Repost: 2, Like: 3, Views: intPtr(1000)},
			},
			{
				ID:   "102",
				Type: models.PostRetweet,
			},
		},
		Status: status,
	}
}

func TestFileSink_Filename(t *testing.T) {
	s := NewFileSink(t.TempDir())
	s.now = fixedClock()

	tests := []struct {
		status models.RunStatus
		want   string
	}{
		{models.RunComplete, "twitter_data_2026-10-19_08-05-09.json"},
		{models.RunCancelled, "twitter_data_2026-10-19_08-05-09_cancelled.json"},
		{models.RunFailed, "twitter_data_2026-10-19_08-05-09_partial.json"},
	}
	for _, tt := range tests {
		if got := s.Filename(tt.status); got != tt.want {
			t.Errorf("Filename(%s) = %q, want %q", tt.status, got, tt.want)
		}
	}
}

func TestFileSink_SaveWritesDocument(t *testing.T) {
	dir := t.TempDir()
	s := NewFileSink(dir)
	s.now = fixedClock()

	if err := s.Save(context.Background(), sampleResult(models.RunComplete)); err != nil {
		t.Fatalf("Save: %v", err)
	}

	data, err := os.ReadFile(filepath.Join(dir, "twitter_data_2026-10-19_08-05-09.json"))
	if err != nil {
		t.Fatalf("ReadFile: %v", err)
	}
	text := string(data)
	if !strings.Contains(text, "fish & chips <3 café") {
		t.Errorf("post text was escaped: %s", text)
	}
	if !strings.Contains(text, "\n    \"Account Name\": \"Jack\"") {
		t.Errorf("expected four-space indentation, got:\n%s", text)
	}

	var doc map[string]interface{}
	if err := json.Unmarshal(data, &doc); err != nil {
		t.Fatalf("Unmarshal: %v", err)
	}
	for _, key := range []string{"Account Name", "Handle", "Followers", "Tweet Count", "Posts"} {
		if _, ok := doc[key]; !ok {
			t.Errorf("missing top-level key %q", key)
		}
	}
	if len(doc) != 5 {
		t.Errorf("top-level keys = %d, want 5: %v", len(doc), doc)
	}

	posts := doc["Posts"].([]interface{})
	second := posts[1].(map[string]interface{})
	if second["Date"] != nil {
		t.Errorf("Date = %v, want null", second["Date"])
	}
	engagement := second["Engagement"].(map[string]interface{})
	if v, ok := engagement["Views"]; !ok || v != nil {
		t.Errorf("Views = %v (present %v), want explicit null", v, ok)
	}

	entries, _ := os.ReadDir(dir)
	if len(entries) != 1 {
		t.Errorf("directory holds %d entries, want only the result file", len(entries))
	}
}

func TestFileSink_EmptyPostsIsArray(t *testing.T) {
	data, err := Encode(&models.ScrapeResult{Posts: []models.PostRecord{}})
	if err != nil {
		t.Fatalf("Encode: %v", err)
	}
	if !strings.Contains(string(data), `"Posts": []`) {
		t.Errorf("expected empty array, got %s", data)
	}
}

func TestFileSink_CreatesDirectory(t *testing.T) {
	dir := filepath.Join(t.TempDir(), "nested", "out")
	s := NewFileSink(dir)
	s.now = fixedClock()
	if err := s.Save(context.Background(), sampleResult(models.RunFailed)); err != nil {
		t.Fatalf("Save: %v", err)
	}
	if _, err := os.Stat(filepath.Join(dir, "twitter_data_2026-10-19_08-05-09_partial.json")); err != nil {
		t.Errorf("partial file missing: %v", err)
	}
}

type countingSink struct {
	calls atomic.Int32
	err   error
}

func (c *countingSink) Save(ctx context.Context, result *models.ScrapeResult) error {
	c.calls.Add(1)
	return c.err
}

func TestMulti_SavesToEverySink(t *testing.T) {
	boom := errors.New("boom")
	a, b, c := &countingSink{}, &countingSink{err: boom}, &countingSink{}

	err := Multi{a, b, c}.Save(context.Background(), sampleResult(models.RunComplete))
	if !errors.Is(err, boom) {
		t.Errorf("err = %v, want boom", err)
	}
	for i, s := range []*countingSink{a, b, c} {
		if s.calls.Load() != 1 {
			t.Errorf("sink %d called %d times, want 1", i, s.calls.Load())
		}
	}
}
