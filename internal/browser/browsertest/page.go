// Package browsertest provides scripted browser.Page fakes built from HTML
// fixtures.
package browsertest

import (
	"context"
	"fmt"
	"strings"
	"sync"

	"github.com/pauljones0/profile-scraper/internal/browser"
)

// Page reveals one more HTML fragment per ScrollBy call, the way a timeline
// lazily loads older posts. The document height grows with each revealed
// fragment until the fragments run out, after which it stays flat.
type Page struct {
	Header    string
	Fragments []string
	PageURL   string
	PageTitle string
	// StepHeight is the height each revealed fragment adds. Defaults to 1000.
	StepHeight int

	// FailAfterScrolls makes every call fail with browser.ErrDisconnected once
	// ScrollBy has been called that many times. Zero disables it.
	FailAfterScrolls int
	// OnScroll runs after each ScrollBy with the 1-based call count.
	OnScroll func(n int)

	mu      sync.Mutex
	scrolls int
}

func (p *Page) Scrolls() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.scrolls
}

func (p *Page) revealed() int {
	n := p.scrolls + 1
	if n > len(p.Fragments) {
		n = len(p.Fragments)
	}
	return n
}

func (p *Page) check(ctx context.Context) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if p.FailAfterScrolls > 0 && p.scrolls >= p.FailAfterScrolls {
		return fmt.Errorf("%w: page closed", browser.ErrDisconnected)
	}
	return nil
}

func (p *Page) document() string {
	var b strings.Builder
	b.WriteString("<html><head><title>")
	b.WriteString(p.PageTitle)
	b.WriteString("</title></head><body>")
	b.WriteString(p.Header)
	for _, f := range p.Fragments[:p.revealed()] {
		b.WriteString(f)
	}
	b.WriteString("</body></html>")
	return b.String()
}

func (p *Page) QueryAll(ctx context.Context, selector string) ([]browser.Element, error) {
	p.mu.Lock()
	if err := p.check(ctx); err != nil {
		p.mu.Unlock()
		return nil, err
	}
	doc := p.document()
	p.mu.Unlock()

	snap, err := browser.NewSnapshotFromString(doc)
	if err != nil {
		return nil, err
	}
	return snap.QueryAll(ctx, selector)
}

func (p *Page) ScrollBy(ctx context.Context, _ int) error {
	p.mu.Lock()
	if err := p.check(ctx); err != nil {
		p.mu.Unlock()
		return err
	}
	p.scrolls++
	n, hook := p.scrolls, p.OnScroll
	p.mu.Unlock()

	if hook != nil {
		hook(n)
	}
	return nil
}

func (p *Page) DocumentHeight(ctx context.Context) (int, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if err := p.check(ctx); err != nil {
		return 0, err
	}
	step := p.StepHeight
	if step == 0 {
		step = 1000
	}
	return step * max(p.revealed(), 1), nil
}

func (p *Page) URL(ctx context.Context) (string, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.PageURL, p.check(ctx)
}

func (p *Page) Title(ctx context.Context) (string, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.PageTitle, p.check(ctx)
}

// Driver hands out a fixed Page.
type Driver struct {
	Page       browser.Page
	ConnectErr error

	Connects int
	Closed   bool
}

func (d *Driver) Connect(ctx context.Context, _ string) (browser.Page, error) {
	d.Connects++
	if d.ConnectErr != nil {
		return nil, d.ConnectErr
	}
	return d.Page, ctx.Err()
}

func (d *Driver) Close() error {
	d.Closed = true
	return nil
}
