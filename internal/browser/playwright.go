package browser

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/playwright-community/playwright-go"
)

// PlaywrightDriver attaches to an already running Chromium through
// connect-over-CDP and drives the most recently opened page.
type PlaywrightDriver struct {
	queryTimeout time.Duration

	pw      *playwright.Playwright
	browser playwright.Browser
}

func NewPlaywrightDriver(queryTimeout time.Duration) *PlaywrightDriver {
	return &PlaywrightDriver{queryTimeout: queryTimeout}
}

func (d *PlaywrightDriver) Connect(ctx context.Context, endpoint string) (Page, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if d.pw == nil {
		pw, err := playwright.Run(&playwright.RunOptions{SkipInstallBrowsers: true})
		if err != nil {
			return nil, fmt.Errorf("failed to start playwright: %w", err)
		}
		d.pw = pw
	}

	if d.browser != nil {
		_ = d.browser.Close()
		d.browser = nil
	}
	b, err := d.pw.Chromium.ConnectOverCDP(endpoint)
	if err != nil {
		return nil, fmt.Errorf("%w: connect over CDP %s: %v", ErrDisconnected, endpoint, err)
	}
	d.browser = b

	contexts := b.Contexts()
	if len(contexts) == 0 {
		return nil, fmt.Errorf("%w: no browser contexts", ErrNoPage)
	}
	pages := contexts[0].Pages()
	if len(pages) == 0 {
		return nil, ErrNoPage
	}
	page := pages[len(pages)-1]
	if d.queryTimeout > 0 {
		page.SetDefaultTimeout(float64(d.queryTimeout.Milliseconds()))
	}
	slog.Debug("Attached to page via playwright", "url", page.URL(), "pages", len(pages))
	return &playwrightPage{page: page}, nil
}

// Close disconnects from the browser. The operator's browser process keeps running.
func (d *PlaywrightDriver) Close() error {
	var errs []error
	if d.browser != nil {
		errs = append(errs, d.browser.Close())
	}
	if d.pw != nil {
		errs = append(errs, d.pw.Stop())
	}
	return errors.Join(errs...)
}

type playwrightPage struct {
	page playwright.Page
}

func (p *playwrightPage) QueryAll(ctx context.Context, selector string) ([]Element, error) {
	handles, err := await(ctx, func() ([]playwright.ElementHandle, error) {
		return p.page.QuerySelectorAll(selector)
	})
	if err != nil {
		return nil, err
	}
	els := make([]Element, 0, len(handles))
	for _, h := range handles {
		els = append(els, &playwrightElement{tree: &handleTree{handle: h}})
	}
	return els, nil
}

func (p *playwrightPage) ScrollBy(ctx context.Context, dy int) error {
	_, err := await(ctx, func() (any, error) {
		return p.page.Evaluate("dy => window.scrollBy(0, dy)", dy)
	})
	return err
}

func (p *playwrightPage) DocumentHeight(ctx context.Context) (int, error) {
	v, err := await(ctx, func() (any, error) {
		return p.page.Evaluate("() => document.documentElement.scrollHeight")
	})
	if err != nil {
		return 0, err
	}
	switch h := v.(type) {
	case int:
		return h, nil
	case int64:
		return int(h), nil
	case float64:
		return int(h), nil
	default:
		return 0, fmt.Errorf("unexpected document height type %T", v)
	}
}

func (p *playwrightPage) URL(ctx context.Context) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", mapContextErr(err)
	}
	return p.page.URL(), nil
}

func (p *playwrightPage) Title(ctx context.Context) (string, error) {
	return await(ctx, p.page.Title)
}

// await runs a blocking playwright call on its own goroutine and gives up when
// ctx ends first. Playwright's default timeout does not cover Evaluate or
// QuerySelectorAll, so ctx is the only bound on a hung page. An abandoned call
// finishes in the background and its result is dropped.
func await[T any](ctx context.Context, fn func() (T, error)) (T, error) {
	var zero T
	if err := ctx.Err(); err != nil {
		return zero, mapContextErr(err)
	}
	type result struct {
		v   T
		err error
	}
	done := make(chan result, 1)
	go func() {
		v, err := fn()
		done <- result{v, err}
	}()
	select {
	case r := <-done:
		if r.err != nil {
			return zero, mapPlaywrightErr(r.err)
		}
		return r.v, nil
	case <-ctx.Done():
		return zero, mapContextErr(ctx.Err())
	}
}

// handleTree owns an element handle and every handle queried from it, so
// releasing an element frees its whole subtree in the browser.
type handleTree struct {
	mu       sync.Mutex
	handle   playwright.ElementHandle
	children []*handleTree
	released bool
}

func (t *handleTree) adopt(h playwright.ElementHandle) *handleTree {
	child := &handleTree{handle: h}
	t.mu.Lock()
	defer t.mu.Unlock()
	if !t.released {
		t.children = append(t.children, child)
	}
	return child
}

func (t *handleTree) release(ctx context.Context) {
	t.mu.Lock()
	if t.released {
		t.mu.Unlock()
		return
	}
	t.released = true
	children := t.children
	t.children = nil
	t.mu.Unlock()

	for _, c := range children {
		c.release(ctx)
	}
	if _, err := await(ctx, func() (struct{}, error) { return struct{}{}, t.handle.Dispose() }); err != nil {
		slog.Debug("Failed to dispose element handle", "error", err)
	}
}

type playwrightElement struct {
	tree *handleTree
}

func (e *playwrightElement) QueryAll(ctx context.Context, selector string) ([]Element, error) {
	handles, err := await(ctx, func() ([]playwright.ElementHandle, error) {
		return e.tree.handle.QuerySelectorAll(selector)
	})
	if err != nil {
		return nil, err
	}
	els := make([]Element, 0, len(handles))
	for _, h := range handles {
		els = append(els, &playwrightElement{tree: e.tree.adopt(h)})
	}
	return els, nil
}

func (e *playwrightElement) Text(ctx context.Context) (string, error) {
	t, err := await(ctx, e.tree.handle.InnerText)
	if err != nil {
		return "", err
	}
	return strings.TrimSpace(t), nil
}

func (e *playwrightElement) Attribute(ctx context.Context, name string) (string, bool, error) {
	// GetAttribute cannot tell an empty attribute from a missing one.
	v, err := await(ctx, func() (any, error) {
		return e.tree.handle.Evaluate("(el, name) => el.hasAttribute(name) ? el.getAttribute(name) : null", name)
	})
	if err != nil {
		return "", false, err
	}
	s, ok := v.(string)
	return s, ok, nil
}

func (e *playwrightElement) Within(ctx context.Context, selector string) (bool, error) {
	v, err := await(ctx, func() (any, error) {
		return e.tree.handle.Evaluate("(el, sel) => !!el.parentElement && el.parentElement.closest(sel) !== null", selector)
	})
	if err != nil {
		return false, err
	}
	in, _ := v.(bool)
	return in, nil
}

// Release disposes the handle and every handle queried from it. Disposal of a
// hung page is bounded by releaseTimeout.
func (e *playwrightElement) Release() {
	ctx, cancel := context.WithTimeout(context.Background(), releaseTimeout)
	defer cancel()
	e.tree.release(ctx)
}

const releaseTimeout = 5 * time.Second

func mapPlaywrightErr(err error) error {
	switch {
	case err == nil:
		return nil
	case errors.Is(err, playwright.ErrTimeout):
		return fmt.Errorf("%w: %v", ErrTimeout, err)
	case errors.Is(err, playwright.ErrTargetClosed):
		return fmt.Errorf("%w: %v", ErrDisconnected, err)
	default:
		return err
	}
}
