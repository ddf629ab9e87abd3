package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"github.com/schollz/progressbar/v3"
	"golang.org/x/term"

	"github.com/pauljones0/profile-scraper/internal/browser"
	"github.com/pauljones0/profile-scraper/internal/config"
	"github.com/pauljones0/profile-scraper/internal/notifier"
	"github.com/pauljones0/profile-scraper/internal/scraper"
	"github.com/pauljones0/profile-scraper/internal/session"
	"github.com/pauljones0/profile-scraper/internal/storage"
)

func main() {
	os.Exit(run())
}

func run() int {
	if err := godotenv.Load(); err != nil && !errors.Is(err, os.ErrNotExist) {
		slog.Warn("Failed to read .env file", "error", err)
	}

	cfg, err := config.Load()
	if err != nil {
		slog.Error("Critical error loading configuration", "error", err)
		return 1
	}

	closeLog, err := setupLogging(cfg)
	if err != nil {
		slog.Error("Failed to open log file", "path", cfg.LogFile, "error", err)
		return 1
	}
	defer closeLog()

	slog.Info("Starting profile scraper", "driver", cfg.BrowserDriver, "endpoint", cfg.CDPEndpoint)
	ctx := context.Background()

	sinks := storage.Multi{storage.NewFileSink(cfg.OutputDir)}
	if cfg.ProjectID != "" {
		fs, err := storage.NewFirestoreSink(ctx, cfg.ProjectID, cfg.MaxStoredRuns)
		if err != nil {
			slog.Error("Critical error initializing Firestore client", "error", err)
			return 1
		}
		defer fs.Close()
		sinks = append(sinks, fs)
	}
	if cfg.SQLitePath != "" {
		db, err := storage.NewSQLiteSink(cfg.SQLitePath)
		if err != nil {
			slog.Error("Critical error opening run archive", "path", cfg.SQLitePath, "error", err)
			return 1
		}
		defer db.Close()
		sinks = append(sinks, db)
	}

	driver, endpoint := newDriver(cfg)
	selectors := scraper.LoadConfig()

	var onProgress func(total int)
	bar := newProgressBar()
	if bar != nil {
		onProgress = reportProgress(bar)
	}
	s := session.New(driver, sinks, notifier.New(cfg.DiscordWebhookURL), session.Options{
		Endpoint:       endpoint,
		ConnectRetries: cfg.ConnectRetries,
		QueryTimeout:   cfg.QueryTimeout,
		Selectors:      selectors,
		Scroll: scraper.ScrollOptions{
			Step:              cfg.ScrollStep,
			SettleDelay:       cfg.SettleDelay,
			PollInterval:      500 * time.Millisecond,
			StabilizeTimeout:  cfg.StabilizeTimeout,
			MaxStableAttempts: cfg.MaxStableAttempts,
			QueryTimeout:      cfg.QueryTimeout,
			ScrollsPerSecond:  cfg.ScrollsPerSecond,
		},
		OnProgress: onProgress,
	})

	// First signal stops the run gracefully, a second one aborts it.
	runCtx, abort := context.WithCancel(ctx)
	defer abort()
	go func() {
		sigCh := make(chan os.Signal, 2)
		signal.Notify(sigCh, syscall.SIGTERM, syscall.SIGINT)
		sig := <-sigCh
		slog.Info("Received signal, finishing with collected posts...", "signal", sig)
		s.Stop()
		sig = <-sigCh
		slog.Warn("Received second signal, aborting", "signal", sig)
		abort()
	}()

	result, err := s.Run(runCtx)
	if bar != nil {
		if err := bar.Finish(); err != nil {
			slog.Debug("Failed to finish progress bar", "error", err)
		}
	}
	if err != nil {
		slog.Error("Scrape did not complete", "state", s.State(), "error", err)
		return 1
	}
	fmt.Printf("Scraped %d posts from %s (%s)\n", len(result.Posts), result.Handle, result.Status)
	return 0
}

// newDriver picks the page driver. The file driver reads PAGE_FILE in place of
// a CDP endpoint.
func newDriver(cfg *config.Config) (browser.Driver, string) {
	switch cfg.BrowserDriver {
	case "chromedp":
		return browser.NewChromedpDriver(cfg.QueryTimeout), cfg.CDPEndpoint
	case "file":
		return browser.FileDriver{}, cfg.PageFile
	default:
		return browser.NewPlaywrightDriver(cfg.QueryTimeout), cfg.CDPEndpoint
	}
}

// newProgressBar returns a post counter spinner, or nil when stderr is not a
// terminal.
// progressSetter is the part of a progress bar the run reports to.
type progressSetter interface {
	Set(n int) error
}

// reportProgress returns an OnProgress hook that moves bar to the running
// post total. A bar that fails to redraw only costs a debug line.
func reportProgress(bar progressSetter) func(total int) {
	return func(total int) {
		if err := bar.Set(total); err != nil {
			slog.Debug("Failed to update progress bar", "total", total, "error", err)
		}
	}
}

func newProgressBar() *progressbar.ProgressBar {
	if !term.IsTerminal(int(os.Stderr.Fd())) {
		return nil
	}
	return progressbar.NewOptions(-1,
		progressbar.OptionSetDescription("Collecting posts"),
		progressbar.OptionSetWriter(os.Stderr),
		progressbar.OptionSetWidth(15),
		progressbar.OptionThrottle(65*time.Millisecond),
		progressbar.OptionShowCount(),
		progressbar.OptionSpinnerType(14),
		progressbar.OptionClearOnFinish(),
	)
}

func setupLogging(cfg *config.Config) (func(), error) {
	var w io.Writer = os.Stderr
	closeFn := func() {}
	if cfg.LogFile != "" {
		f, err := os.OpenFile(cfg.LogFile, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
		if err != nil {
			return closeFn, err
		}
		w = io.MultiWriter(os.Stderr, f)
		closeFn = func() { f.Close() }
	}
	slog.SetDefault(slog.New(slog.NewTextHandler(w, &slog.HandlerOptions{Level: cfg.SlogLevel()})))
	return closeFn, nil
}
