package scraper

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"golang.org/x/time/rate"

	"github.com/pauljones0/profile-scraper/internal/browser"
)

// ScrollState is the position of the ScrollController in its state machine.
type ScrollState int

const (
	ScrollReady ScrollState = iota
	ScrollScrolling
	ScrollStable
	ScrollExhausted
	ScrollCancelled
)

func (s ScrollState) String() string {
	switch s {
	case ScrollReady:
		return "ready"
	case ScrollScrolling:
		return "scrolling"
	case ScrollStable:
		return "stable"
	case ScrollExhausted:
		return "exhausted"
	case ScrollCancelled:
		return "cancelled"
	default:
		return fmt.Sprintf("ScrollState(%d)", int(s))
	}
}

type ScrollOptions struct {
	// Step is how far each scroll advances the viewport, in pixels.
	Step int
	// SettleDelay is waited after every scroll before the height is sampled.
	SettleDelay time.Duration
	// PollInterval separates height samples while the layout is still growing.
	PollInterval time.Duration
	// StabilizeTimeout bounds the wait for the height to stop growing.
	StabilizeTimeout time.Duration
	// MaxStableAttempts is how many consecutive scrolls without height growth
	// conclude that the timeline is exhausted.
	MaxStableAttempts int
	QueryTimeout      time.Duration
	// ScrollsPerSecond caps the scroll rate. Zero means unlimited.
	ScrollsPerSecond float64
}

// PassFunc runs one extraction pass over the posts currently in the DOM.
type PassFunc func(ctx context.Context) error

// ScrollController reveals lazily-loaded content by scrolling until the page
// height stops growing or the run is stopped.
type ScrollController struct {
	page    browser.Page
	opts    ScrollOptions
	limiter *rate.Limiter

	state      ScrollState
	lastHeight int
	unchanged  int
	scrolls    int
}

func NewScrollController(page browser.Page, opts ScrollOptions) *ScrollController {
	if opts.Step <= 0 {
		opts.Step = 800
	}
	if opts.MaxStableAttempts <= 0 {
		opts.MaxStableAttempts = 3
	}
	limit := rate.Inf
	if opts.ScrollsPerSecond > 0 {
		limit = rate.Limit(opts.ScrollsPerSecond)
	}
	return &ScrollController{
		page:    page,
		opts:    opts,
		limiter: rate.NewLimiter(limit, 1),
	}
}

func (c *ScrollController) State() ScrollState { return c.state }

// Scrolls returns how many scroll steps have been issued.
func (c *ScrollController) Scrolls() int { return c.scrolls }

// Run drives the state machine until the timeline is exhausted, stop is
// closed, or the page connection is lost. pass is invoked once for the content
// already rendered and then once per Stable state. stop is only honored
// between steps, so a pass always runs to completion.
func (c *ScrollController) Run(ctx context.Context, stop <-chan struct{}, pass PassFunc) (ScrollState, error) {
	c.state = ScrollReady
	h, err := c.height(ctx)
	if err != nil {
		return c.end(ctx, err)
	}
	c.lastHeight = h
	if err := pass(ctx); err != nil {
		return c.end(ctx, err)
	}

	for {
		if stopped(ctx, stop) {
			return c.end(ctx, nil)
		}

		c.state = ScrollScrolling
		if err := c.limiter.Wait(ctx); err != nil {
			return c.end(ctx, err)
		}
		if err := c.scroll(ctx); err != nil {
			return c.end(ctx, err)
		}

		height, settled, err := c.awaitStable(ctx, stop)
		if err != nil {
			return c.end(ctx, err)
		}
		if !settled {
			return c.end(ctx, nil)
		}

		c.state = ScrollStable
		if err := pass(ctx); err != nil {
			return c.end(ctx, err)
		}

		if height > c.lastHeight {
			c.lastHeight = height
			c.unchanged = 0
			continue
		}
		c.unchanged++
		slog.Debug("Document height unchanged", "height", height, "attempt", c.unchanged, "max", c.opts.MaxStableAttempts)
		if c.unchanged >= c.opts.MaxStableAttempts {
			c.state = ScrollExhausted
			slog.Info("Scroll exhausted", "attempts", c.unchanged, "scrolls", c.scrolls, "height", height)
			return c.state, nil
		}
	}
}

// end settles the terminal state. Cancellation of ctx or a closed stop channel
// ends in Cancelled without error; any other error is returned as is.
func (c *ScrollController) end(ctx context.Context, err error) (ScrollState, error) {
	if err == nil || ctx.Err() != nil {
		c.state = ScrollCancelled
		slog.Info("Scrolling cancelled", "scrolls", c.scrolls)
		return c.state, nil
	}
	return c.state, err
}

func (c *ScrollController) scroll(ctx context.Context) error {
	qctx, cancel := boundedContext(ctx, c.opts.QueryTimeout)
	defer cancel()
	err := c.page.ScrollBy(qctx, c.opts.Step)
	switch {
	case err == nil:
		c.scrolls++
		return nil
	case browser.IsFatal(err):
		return fmt.Errorf("%w: scroll: %v", ErrConnection, err)
	case ctx.Err() != nil:
		return ctx.Err()
	default:
		// A scroll that timed out counts as an attempt that revealed nothing.
		c.scrolls++
		slog.Warn("Scroll step failed", "error", err)
		return nil
	}
}

// awaitStable waits for the settle delay, then samples the document height
// until two consecutive samples agree. settled is false when stop was closed
// during the wait.
func (c *ScrollController) awaitStable(ctx context.Context, stop <-chan struct{}) (height int, settled bool, err error) {
	if !sleep(ctx, stop, c.opts.SettleDelay) {
		return 0, false, ctx.Err()
	}
	prev, err := c.height(ctx)
	if err != nil {
		return 0, false, err
	}

	deadline := time.Now().Add(c.opts.StabilizeTimeout)
	for {
		if !sleep(ctx, stop, c.opts.PollInterval) {
			return 0, false, ctx.Err()
		}
		h, err := c.height(ctx)
		if err != nil {
			return 0, false, err
		}
		if h == prev {
			return h, true, nil
		}
		prev = h
		if c.opts.StabilizeTimeout > 0 && time.Now().After(deadline) {
			slog.Warn("Layout did not settle", "height", h, "error", ErrTimeout)
			return h, true, nil
		}
	}
}

// height samples the document height. A timed-out sample reads as the last
// known height, so it counts toward exhaustion instead of failing the run.
func (c *ScrollController) height(ctx context.Context) (int, error) {
	qctx, cancel := boundedContext(ctx, c.opts.QueryTimeout)
	defer cancel()
	h, err := c.page.DocumentHeight(qctx)
	switch {
	case err == nil:
		return h, nil
	case browser.IsFatal(err):
		return 0, fmt.Errorf("%w: document height: %v", ErrConnection, err)
	case ctx.Err() != nil:
		return 0, ctx.Err()
	default:
		slog.Warn("Document height unavailable", "error", err)
		return c.lastHeight, nil
	}
}

func stopped(ctx context.Context, stop <-chan struct{}) bool {
	select {
	case <-stop:
		return true
	case <-ctx.Done():
		return true
	default:
		return false
	}
}

// sleep waits for d and reports false if stop or ctx ended the wait first.
func sleep(ctx context.Context, stop <-chan struct{}, d time.Duration) bool {
	if d <= 0 {
		return !stopped(ctx, stop)
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-t.C:
		return true
	case <-stop:
		return false
	case <-ctx.Done():
		return false
	}
}
