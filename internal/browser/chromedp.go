package browser

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/chromedp/cdproto/target"
	"github.com/chromedp/chromedp"
)

// ChromedpDriver attaches to an already running Chrome through a remote
// allocator. DOM queries run against an outerHTML snapshot parsed with goquery,
// so element handles stay valid after the live page re-renders.
type ChromedpDriver struct {
	queryTimeout time.Duration

	cancelAlloc context.CancelFunc
}

func NewChromedpDriver(queryTimeout time.Duration) *ChromedpDriver {
	return &ChromedpDriver{queryTimeout: queryTimeout}
}

func (d *ChromedpDriver) Connect(ctx context.Context, endpoint string) (Page, error) {
	if d.cancelAlloc != nil {
		d.cancelAlloc()
	}
	// The allocator outlives ctx: a cancelled run still needs the page to finish
	// in-flight queries. Close releases it.
	allocCtx, cancelAlloc := chromedp.NewRemoteAllocator(context.WithoutCancel(ctx), endpoint)
	d.cancelAlloc = cancelAlloc
	// Tab and browser contexts are released through the allocator. Cancelling
	// them directly sends Browser.close to the operator's Chrome.
	browserCtx, _ := chromedp.NewContext(allocCtx)

	// The first Run establishes the browser connection.
	if err := chromedp.Run(browserCtx); err != nil {
		return nil, fmt.Errorf("%w: connect to %s: %v", ErrDisconnected, endpoint, err)
	}

	targets, err := chromedp.Targets(browserCtx)
	if err != nil {
		return nil, fmt.Errorf("%w: list targets: %v", ErrDisconnected, err)
	}
	own := chromedp.FromContext(browserCtx).Target.TargetID

	var picked *target.Info
	for _, t := range targets {
		if t.Type != "page" || t.TargetID == own || strings.HasPrefix(t.URL, "devtools://") {
			continue
		}
		picked = t
	}
	if picked == nil {
		return nil, ErrNoPage
	}

	pageCtx, _ := chromedp.NewContext(browserCtx, chromedp.WithTargetID(picked.TargetID))
	if err := chromedp.Run(pageCtx); err != nil {
		return nil, fmt.Errorf("%w: attach to target %s: %v", ErrDisconnected, picked.TargetID, err)
	}
	slog.Debug("Attached to page via chromedp", "url", picked.URL, "targets", len(targets))
	return &chromedpPage{ctx: pageCtx, timeout: d.queryTimeout}, nil
}

// Close drops the DevTools connection without closing the operator's tabs.
func (d *ChromedpDriver) Close() error {
	if d.cancelAlloc != nil {
		d.cancelAlloc()
	}
	return nil
}

type chromedpPage struct {
	ctx     context.Context
	timeout time.Duration
}

// run executes actions on the page context, bounded by the per-query timeout
// and by the caller's context.
func (p *chromedpPage) run(ctx context.Context, actions ...chromedp.Action) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if err := p.ctx.Err(); err != nil {
		return fmt.Errorf("%w: %v", ErrDisconnected, err)
	}
	runCtx, cancel := p.ctx, context.CancelFunc(func() {})
	if p.timeout > 0 {
		runCtx, cancel = context.WithTimeout(p.ctx, p.timeout)
	}
	defer cancel()
	stop := context.AfterFunc(ctx, cancel)
	defer stop()

	err := chromedp.Run(runCtx, actions...)
	switch {
	case err == nil:
		return nil
	case p.ctx.Err() != nil,
		errors.Is(err, chromedp.ErrChannelClosed),
		errors.Is(err, chromedp.ErrInvalidTarget):
		return fmt.Errorf("%w: %v", ErrDisconnected, err)
	case ctx.Err() != nil:
		return ctx.Err()
	case errors.Is(err, context.DeadlineExceeded):
		return fmt.Errorf("%w: %v", ErrTimeout, err)
	default:
		return err
	}
}

func (p *chromedpPage) snapshot(ctx context.Context) (*Snapshot, error) {
	var doc string
	if err := p.run(ctx, chromedp.OuterHTML("html", &doc, chromedp.ByQuery)); err != nil {
		return nil, err
	}
	return NewSnapshotFromString(doc)
}

func (p *chromedpPage) QueryAll(ctx context.Context, selector string) ([]Element, error) {
	snap, err := p.snapshot(ctx)
	if err != nil {
		return nil, err
	}
	return snap.QueryAll(ctx, selector)
}

func (p *chromedpPage) ScrollBy(ctx context.Context, dy int) error {
	return p.run(ctx, chromedp.Evaluate(fmt.Sprintf("window.scrollBy(0, %d)", dy), nil))
}

func (p *chromedpPage) DocumentHeight(ctx context.Context) (int, error) {
	var h int
	if err := p.run(ctx, chromedp.Evaluate(`document.documentElement.scrollHeight`, &h)); err != nil {
		return 0, err
	}
	return h, nil
}

func (p *chromedpPage) URL(ctx context.Context) (string, error) {
	var u string
	err := p.run(ctx, chromedp.Location(&u))
	return u, err
}

func (p *chromedpPage) Title(ctx context.Context) (string, error) {
	var t string
	err := p.run(ctx, chromedp.Title(&t))
	return t, err
}
