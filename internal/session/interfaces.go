package session

import (
	"context"

	"github.com/pauljones0/profile-scraper/internal/models"
)

// ResultSink abstracts where a finished run is written.
type ResultSink interface {
	Save(ctx context.Context, result *models.ScrapeResult) error
}

// RunNotifier abstracts the announcement of a finished run.
type RunNotifier interface {
	Send(ctx context.Context, result models.ScrapeResult) error
}
