package storage

import (
	"context"

	"golang.org/x/sync/errgroup"

	"github.com/pauljones0/profile-scraper/internal/models"
	"github.com/pauljones0/profile-scraper/internal/session"
)

// Multi fans a result out to several sinks concurrently. Every sink gets a
// chance to write even when another fails; the first error is returned.
type Multi []session.ResultSink

func (m Multi) Save(ctx context.Context, result *models.ScrapeResult) error {
	var g errgroup.Group
	for _, sink := range m {
		g.Go(func() error {
			return sink.Save(ctx, result)
		})
	}
	return g.Wait()
}
