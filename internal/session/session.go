// Package session coordinates one scrape run: attach to the page, read the
// profile summary, scroll and extract until done, then hand the result to the
// sinks. A Session is single-use and owns its ledger and post sequence.
package session

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"slices"
	"sync"
	"time"

	"github.com/pauljones0/profile-scraper/internal/browser"
	"github.com/pauljones0/profile-scraper/internal/models"
	"github.com/pauljones0/profile-scraper/internal/scraper"
	"github.com/pauljones0/profile-scraper/internal/util"
	"github.com/pauljones0/profile-scraper/internal/validator"
)

type State int

const (
	StateConnecting State = iota
	StateReadingSummary
	StateLooping
	StateFinalizing
	StateDone
	StateFailed
)

func (s State) String() string {
	switch s {
	case StateConnecting:
		return "connecting"
	case StateReadingSummary:
		return "reading_summary"
	case StateLooping:
		return "looping"
	case StateFinalizing:
		return "finalizing"
	case StateDone:
		return "done"
	case StateFailed:
		return "failed"
	default:
		return fmt.Sprintf("State(%d)", int(s))
	}
}

type Options struct {
	Endpoint        string
	ConnectRetries  int
	ConnectBackoff  time.Duration
	QueryTimeout    time.Duration
	FinalizeTimeout time.Duration
	Selectors       scraper.SelectorConfig
	Scroll          scraper.ScrollOptions
	// OnProgress, if set, receives the running post total after every pass.
	OnProgress func(total int)
}

type Session struct {
	driver    browser.Driver
	sink      ResultSink
	notifier  RunNotifier
	validator *validator.Validator
	opts      Options

	extractor *scraper.Extractor
	summaries *scraper.SummaryReader

	state   State
	summary models.ProfileSummary
	ledger  *scraper.Ledger
	posts   []models.PostRecord
	skipped int

	stop     chan struct{}
	stopOnce sync.Once
	now      func() time.Time
}

// New creates a session. notifier may be nil.
func New(driver browser.Driver, sink ResultSink, notifier RunNotifier, opts Options) *Session {
	if opts.FinalizeTimeout <= 0 {
		opts.FinalizeTimeout = 30 * time.Second
	}
	if opts.ConnectBackoff <= 0 {
		opts.ConnectBackoff = time.Second
	}
	return &Session{
		driver:    driver,
		sink:      sink,
		notifier:  notifier,
		validator: validator.New(),
		opts:      opts,
		extractor: scraper.NewExtractor(opts.Selectors.Post, opts.QueryTimeout),
		summaries: scraper.NewSummaryReader(opts.Selectors.Profile, opts.QueryTimeout),
		ledger:    scraper.NewLedger(),
		posts:     make([]models.PostRecord, 0),
		stop:      make(chan struct{}),
		now:       time.Now,
	}
}

// Stop asks the run to finish with what it has collected. It is safe to call
// from any goroutine, any number of times. The request is honored between
// scroll steps, never in the middle of a record.
func (s *Session) Stop() {
	s.stopOnce.Do(func() { close(s.stop) })
}

// State is only meaningful once Run has returned, or from Run's goroutine.
func (s *Session) State() State { return s.state }

// Run executes the scrape. The result is non-nil whenever the page was
// attached, including on a fatal error mid-run: whatever was collected is
// still written to the sink, with Status set to RunFailed.
func (s *Session) Run(ctx context.Context) (*models.ScrapeResult, error) {
	started := s.now()

	s.state = StateConnecting
	page, err := s.connect(ctx)
	if err != nil {
		s.state = StateFailed
		slog.Error("Scrape failed", "state", StateConnecting, "error", err)
		return nil, err
	}
	defer func() {
		if err := s.driver.Close(); err != nil {
			slog.Warn("Failed to close browser connection", "error", err)
		}
	}()

	s.state = StateReadingSummary
	summary, err := s.summaries.ReadSummary(ctx, page)
	s.summary = summary
	if err != nil {
		return s.finalize(ctx, started, models.RunFailed, err)
	}
	slog.Info("Read profile summary", "name", summary.AccountName, "handle", summary.Handle, "followers", summary.Followers, "posts", summary.PostCount)

	s.state = StateLooping
	ctrl := scraper.NewScrollController(page, s.opts.Scroll)
	final, err := ctrl.Run(ctx, s.stop, func(ctx context.Context) error {
		return s.pass(ctx, page)
	})
	if err != nil {
		return s.finalize(ctx, started, models.RunFailed, err)
	}
	status := models.RunComplete
	if final == scraper.ScrollCancelled {
		status = models.RunCancelled
	}
	return s.finalize(ctx, started, status, nil)
}

func (s *Session) connect(ctx context.Context) (browser.Page, error) {
	var page browser.Page
	err := util.RetryWithBackoff(ctx, s.opts.ConnectRetries, s.opts.ConnectBackoff, func(attempt int) error {
		p, err := s.driver.Connect(ctx, s.opts.Endpoint)
		if err != nil {
			if errors.Is(err, browser.ErrNoPage) {
				return util.Permanent(err)
			}
			slog.Warn("Connect attempt failed", "attempt", attempt+1, "endpoint", s.opts.Endpoint, "error", err)
			return err
		}
		page = p
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("%w: %s: %w", scraper.ErrConnection, s.opts.Endpoint, err)
	}

	url, err := page.URL(ctx)
	if err != nil {
		slog.Warn("Failed to read page URL", "error", err)
	}
	slog.Info("Connected to page", "url", url)
	return page, nil
}

// pass extracts every post currently in the DOM. Posts already in the ledger
// are skipped after reading only their identifier.
func (s *Session) pass(ctx context.Context, page browser.Page) error {
	qctx, cancel := context.WithCancel(ctx)
	if s.opts.QueryTimeout > 0 {
		qctx, cancel = context.WithTimeout(ctx, s.opts.QueryTimeout)
	}
	items, err := page.QueryAll(qctx, s.opts.Selectors.Post.Item)
	cancel()
	switch {
	case err == nil:
	case browser.IsFatal(err):
		return fmt.Errorf("%w: query posts: %v", scraper.ErrConnection, err)
	case ctx.Err() != nil:
		return ctx.Err()
	default:
		slog.Warn("Extraction pass skipped", "error", err)
		return nil
	}

	added := 0
	for i, el := range items {
		ok, err := s.collect(ctx, el)
		browser.Release(el)
		if err != nil {
			browser.Release(items[i+1:]...)
			return err
		}
		if ok {
			added++
		}
	}
	slog.Info("Extraction pass", "found", len(items), "new", added, "total", len(s.posts))
	if s.opts.OnProgress != nil {
		s.opts.OnProgress(len(s.posts))
	}
	return nil
}

// collect records el unless it lacks an identifier or was already seen.
func (s *Session) collect(ctx context.Context, el browser.Element) (bool, error) {
	id, err := s.extractor.PostID(ctx, el)
	if err != nil {
		if errors.Is(err, scraper.ErrConnection) || ctx.Err() != nil {
			return false, err
		}
		s.skipped++
		slog.Warn("Skipping post", "reason", err)
		return false, nil
	}
	if s.ledger.Seen(id) {
		return false, nil
	}

	rec, err := s.extractor.ExtractPost(ctx, el, id)
	if err != nil {
		return false, err
	}
	s.ledger.Record(id)
	s.posts = append(s.posts, rec)
	slog.Debug("Added post", "id", id, "type", rec.Type)
	return true, nil
}

func (s *Session) finalize(ctx context.Context, started time.Time, status models.RunStatus, runErr error) (*models.ScrapeResult, error) {
	s.state = StateFinalizing
	result := &models.ScrapeResult{
		ProfileSummary: s.summary,
		Posts:          slices.Clone(s.posts),
		Status:         status,
		StartedAt:      started,
		FinishedAt:     s.now(),
	}
	if err := s.validator.ValidateStruct(result); err != nil {
		slog.Warn("Result failed validation, writing anyway", "fields", validator.FieldErrors(err))
	}

	// Finalizing must still write when the run context was cancelled.
	fctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), s.opts.FinalizeTimeout)
	defer cancel()

	saveErr := s.sink.Save(fctx, result)
	if saveErr != nil {
		saveErr = fmt.Errorf("failed to save result: %w", saveErr)
	}
	if s.notifier != nil {
		if err := s.notifier.Send(fctx, *result); err != nil {
			slog.Warn("Run notification failed", "error", err)
		}
	}

	if runErr != nil || saveErr != nil {
		s.state = StateFailed
		err := errors.Join(runErr, saveErr)
		slog.Error("Scrape failed", "error", err, "posts", len(result.Posts), "skipped", s.skipped)
		return result, err
	}
	s.state = StateDone
	slog.Info("Run finalized", "status", status, "posts", len(result.Posts), "skipped", s.skipped, "elapsed", result.FinishedAt.Sub(started))
	return result, nil
}
