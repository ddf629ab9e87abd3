package scraper

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/pauljones0/profile-scraper/internal/browser"
	"github.com/pauljones0/profile-scraper/internal/models"
	"github.com/pauljones0/profile-scraper/internal/util"
)

// SummaryReader extracts account-level stats from the profile header. Every
// field is best-effort: a missing field is logged and left at its zero value.
type SummaryReader struct {
	sel          ProfileSelectors
	queryTimeout time.Duration
}

func NewSummaryReader(sel ProfileSelectors, queryTimeout time.Duration) *SummaryReader {
	return &SummaryReader{sel: sel, queryTimeout: queryTimeout}
}

// ReadSummary never fails on missing markup. It returns an error only when the
// page connection is lost.
func (r *SummaryReader) ReadSummary(ctx context.Context, page browser.Page) (models.ProfileSummary, error) {
	var summary models.ProfileSummary
	missing := func(field string, err error) error {
		if browser.IsFatal(err) {
			return fmt.Errorf("%w: reading %s: %v", ErrConnection, field, err)
		}
		if ctx.Err() != nil {
			return ctx.Err()
		}
		if err == nil {
			err = ErrFieldMissing
		}
		slog.Warn("Profile field missing", "field", field, "error", err)
		return nil
	}

	header, err := r.first(ctx, page, r.sel.Header)
	defer browser.Release(header)
	if err != nil || header == nil {
		if err := missing("header", err); err != nil {
			return summary, err
		}
	}

	// Account name, falling back to the tab title
	name, err := r.text(ctx, header, r.sel.AccountName, nonEmpty)
	if err == nil && name == "" {
		name, err = r.titleName(ctx, page)
	}
	if err != nil || name == "" {
		if err := missing("account_name", err); err != nil {
			return summary, err
		}
	}
	summary.AccountName = name

	// Handle, falling back to the profile URL
	handle, err := r.text(ctx, header, r.sel.Handle, isHandle)
	if err == nil && handle == "" {
		handle, err = r.urlHandle(ctx, page)
	}
	if err != nil || handle == "" {
		if err := missing("handle", err); err != nil {
			return summary, err
		}
	}
	summary.Handle = handle

	// Followers
	followers, err := r.count(ctx, page, r.sel.Followers)
	if err != nil || followers < 0 {
		if err := missing("followers", err); err != nil {
			return summary, err
		}
		followers = 0
	}
	summary.Followers = followers

	// Post count ("1,234 posts")
	posts, err := r.count(ctx, page, r.sel.PostCount)
	if err != nil || posts < 0 {
		if err := missing("post_count", err); err != nil {
			return summary, err
		}
		posts = 0
	}
	summary.PostCount = posts

	return summary, nil
}

func (r *SummaryReader) first(ctx context.Context, q browser.Queryable, selector string) (browser.Element, error) {
	if selector == "" {
		return nil, nil
	}
	qctx, cancel := boundedContext(ctx, r.queryTimeout)
	defer cancel()
	return browser.First(qctx, q, selector)
}

func nonEmpty(s string) bool { return s != "" }

func isHandle(s string) bool { return len(s) > 1 && strings.HasPrefix(s, "@") }

// text returns the first text among the matches of selector inside scope that
// satisfies accept. A nil scope yields "".
func (r *SummaryReader) text(ctx context.Context, scope browser.Element, selector string, accept func(string) bool) (string, error) {
	if scope == nil || selector == "" {
		return "", nil
	}
	qctx, cancel := boundedContext(ctx, r.queryTimeout)
	defer cancel()

	els, err := scope.QueryAll(qctx, selector)
	if err != nil {
		return "", err
	}
	for _, el := range els {
		t, err := el.Text(qctx)
		if err != nil {
			return "", err
		}
		if t = strings.TrimSpace(t); accept(t) {
			return t, nil
		}
	}
	return "", nil
}

// count parses the first match of selector. It returns -1 when nothing matched
// or the text held no count.
func (r *SummaryReader) count(ctx context.Context, page browser.Page, selector string) (int, error) {
	el, err := r.first(ctx, page, selector)
	if err != nil || el == nil {
		return -1, err
	}
	defer browser.Release(el)
	qctx, cancel := boundedContext(ctx, r.queryTimeout)
	defer cancel()
	raw, err := el.Text(qctx)
	if err != nil {
		return -1, err
	}
	n, ok := ParseCountIn(raw)
	if !ok {
		slog.Warn("Metric not parseable", "metric", selector, "raw", raw, "error", ErrMetricParse)
		return -1, nil
	}
	return n, nil
}

// titleName reads the account name from a tab title such as "Jack (@jack) / X".
func (r *SummaryReader) titleName(ctx context.Context, page browser.Page) (string, error) {
	qctx, cancel := boundedContext(ctx, r.queryTimeout)
	defer cancel()
	title, err := page.Title(qctx)
	if err != nil {
		return "", err
	}
	name, _, _ := strings.Cut(title, " (@")
	name, _, _ = strings.Cut(name, " / ")
	return strings.TrimSpace(name), nil
}

func (r *SummaryReader) urlHandle(ctx context.Context, page browser.Page) (string, error) {
	qctx, cancel := boundedContext(ctx, r.queryTimeout)
	defer cancel()
	u, err := page.URL(qctx)
	if err != nil {
		return "", err
	}
	return util.HandleFromURL(u), nil
}
