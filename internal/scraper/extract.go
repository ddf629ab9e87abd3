package scraper

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"slices"
	"strings"
	"time"

	"github.com/pauljones0/profile-scraper/internal/browser"
	"github.com/pauljones0/profile-scraper/internal/models"
	"github.com/pauljones0/profile-scraper/internal/util"
)

// Extractor turns a post element into a PostRecord. Every step after the
// identifier degrades to a default on failure; only a lost connection aborts.
type Extractor struct {
	sel          PostSelectors
	queryTimeout time.Duration
}

func NewExtractor(sel PostSelectors, queryTimeout time.Duration) *Extractor {
	return &Extractor{sel: sel, queryTimeout: queryTimeout}
}

// PostID derives the post's stable identifier from its id attribute or its
// permalink. Elements without one yield ErrUnparseable; an id is never invented.
func (e *Extractor) PostID(ctx context.Context, post browser.Element) (string, error) {
	qctx, cancel := boundedContext(ctx, e.queryTimeout)
	defer cancel()

	if e.sel.IDAttr != "" {
		v, ok, err := post.Attribute(qctx, e.sel.IDAttr)
		if err != nil {
			return "", identifierFault(err)
		}
		if v = strings.TrimSpace(v); ok && v != "" {
			return v, nil
		}
	}

	links, err := post.QueryAll(qctx, e.sel.Permalink)
	if err != nil {
		return "", identifierFault(err)
	}
	for _, link := range links {
		href, ok, err := link.Attribute(qctx, "href")
		if err != nil {
			return "", identifierFault(err)
		}
		if !ok {
			continue
		}
		if id, ok := util.StatusID(href); ok {
			return id, nil
		}
	}
	return "", fmt.Errorf("%w: no %s attribute or permalink", ErrUnparseable, e.sel.IDAttr)
}

func identifierFault(err error) error {
	if browser.IsFatal(err) {
		return fmt.Errorf("%w: %v", ErrConnection, err)
	}
	if errors.Is(err, browser.ErrTimeout) {
		return fmt.Errorf("%w: %v", ErrUnparseable, err)
	}
	return err
}

// ExtractPost reads the remaining fields of a post whose id is already known.
// The returned error is non-nil only for connection loss or cancellation, in
// which case the record must be discarded.
func (e *Extractor) ExtractPost(ctx context.Context, post browser.Element, id string) (models.PostRecord, error) {
	rec := models.PostRecord{ID: id, Type: models.PostOriginal}
	var parseErrors []string
	degrade := func(field string, err error) error {
		if err == nil {
			return nil
		}
		if browser.IsFatal(err) {
			return fmt.Errorf("%w: reading %s of post %s: %v", ErrConnection, field, id, err)
		}
		if ctx.Err() != nil {
			return ctx.Err()
		}
		parseErrors = append(parseErrors, fmt.Sprintf("%s: %v", field, err))
		return nil
	}

	// 1. Type
	postType, err := e.classify(ctx, post)
	if err := degrade("type", err); err != nil {
		return models.PostRecord{}, err
	}
	rec.Type = postType

	// 2. Text
	text, err := e.text(ctx, post)
	if err := degrade("text", err); err != nil {
		return models.PostRecord{}, err
	}
	rec.Text = text

	// 3. Timestamp
	ts, err := e.timestamp(ctx, post)
	if err := degrade("date", err); err != nil {
		return models.PostRecord{}, err
	}
	rec.Timestamp = ts

	// 4. Engagement
	tally := make(engagementTally)
	for _, m := range allMetrics {
		n, ok, err := e.metric(ctx, post, m)
		if err := degrade(string(m), err); err != nil {
			return models.PostRecord{}, err
		}
		if ok {
			tally[m] = n
		}
	}
	if len(tally) < len(allMetrics) {
		// The action bar label carries every count the post exposes.
		label, err := e.groupLabel(ctx, post)
		if err := degrade("engagement", err); err != nil {
			return models.PostRecord{}, err
		}
		tally.fill(ParseAriaEngagement(label))
	}
	rec.Engagement = tally.counts()

	if len(parseErrors) > 0 {
		slog.Warn("Post fields degraded", "id", id, "issues", strings.Join(parseErrors, "; "))
	}
	return rec, nil
}

var allMetrics = []Metric{MetricReply, MetricRepost, MetricLike, MetricViews}

// engagementTally holds the metrics whose value is known.
type engagementTally map[Metric]int

func (t engagementTally) fill(from map[Metric]int) {
	for m, n := range from {
		if _, ok := t[m]; !ok {
			t[m] = n
		}
	}
}

// counts defaults absent counters to zero. Views stays nil when absent.
func (t engagementTally) counts() models.EngagementCounts {
	c := models.EngagementCounts{
		Reply:  t[MetricReply],
		Repost: t[MetricRepost],
		Like:   t[MetricLike],
	}
	if v, ok := t[MetricViews]; ok {
		c.Views = &v
	}
	return c
}

func (e *Extractor) classify(ctx context.Context, post browser.Element) (models.PostType, error) {
	qctx, cancel := boundedContext(ctx, e.queryTimeout)
	defer cancel()

	var social string
	if e.sel.SocialContext != "" {
		el, err := browser.First(qctx, post, e.sel.SocialContext)
		if err != nil {
			return models.PostOriginal, err
		}
		if el != nil {
			if social, err = el.Text(qctx); err != nil {
				return models.PostOriginal, err
			}
		}
	}
	lower := strings.ToLower(social)
	for _, marker := range e.sel.RepostMarkers {
		if marker != "" && strings.Contains(lower, strings.ToLower(marker)) {
			return models.PostRetweet, nil
		}
	}

	quoted, err := has(qctx, post, e.sel.Quote)
	if err != nil {
		return models.PostOriginal, err
	}
	if quoted {
		return models.PostQuote, nil
	}

	if slices.Contains(e.sel.PromotedLabels, strings.TrimSpace(social)) {
		return models.PostPromoted, nil
	}
	promoted, err := has(qctx, post, e.sel.Promoted)
	if err != nil {
		return models.PostOriginal, err
	}
	if promoted {
		return models.PostPromoted, nil
	}
	return models.PostOriginal, nil
}

func has(ctx context.Context, q browser.Queryable, selector string) (bool, error) {
	if selector == "" {
		return false, nil
	}
	el, err := browser.First(ctx, q, selector)
	return el != nil, err
}

// own returns the first match of selector that belongs to the post itself,
// skipping matches inside an embedded quote card.
func (e *Extractor) own(ctx context.Context, post browser.Element, selector string) (browser.Element, error) {
	els, err := post.QueryAll(ctx, selector)
	if err != nil {
		return nil, err
	}
	for i, el := range els {
		if e.sel.Quote != "" {
			quoted, err := el.Within(ctx, e.sel.Quote)
			if err != nil {
				browser.Release(els...)
				return nil, err
			}
			if quoted {
				continue
			}
		}
		browser.Release(slices.Delete(slices.Clone(els), i, i+1)...)
		return el, nil
	}
	browser.Release(els...)
	return nil, nil
}

func (e *Extractor) text(ctx context.Context, post browser.Element) (string, error) {
	qctx, cancel := boundedContext(ctx, e.queryTimeout)
	defer cancel()

	body, err := e.own(qctx, post, e.sel.Text)
	if err != nil || body == nil {
		// Media-only posts have no text body.
		return "", err
	}
	return body.Text(qctx)
}

// timestamp returns the post's machine-readable datetime. RFC 3339 values
// with a non-UTC offset are converted to UTC; anything else is kept as written.
func (e *Extractor) timestamp(ctx context.Context, post browser.Element) (*string, error) {
	qctx, cancel := boundedContext(ctx, e.queryTimeout)
	defer cancel()

	el, err := e.own(qctx, post, e.sel.Time)
	if err != nil || el == nil {
		return nil, err
	}
	raw, ok, err := el.Attribute(qctx, "datetime")
	if err != nil || !ok {
		return nil, err
	}
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return nil, nil
	}
	parsed, err := time.Parse(time.RFC3339Nano, raw)
	if err != nil {
		slog.Debug("Keeping datetime as written", "datetime", raw, "error", err)
		return &raw, nil
	}
	if _, offset := parsed.Zone(); offset == 0 {
		return &raw, nil
	}
	s := parsed.UTC().Format(time.RFC3339Nano)
	return &s, nil
}

func (e *Extractor) metricSelector(m Metric) string {
	switch m {
	case MetricReply:
		return e.sel.Engagement.Reply
	case MetricRepost:
		return e.sel.Engagement.Repost
	case MetricLike:
		return e.sel.Engagement.Like
	default:
		return e.sel.Engagement.Views
	}
}

// metric reads one labeled control. ok is false when the control is absent or
// its count could not be read.
func (e *Extractor) metric(ctx context.Context, post browser.Element, m Metric) (int, bool, error) {
	selector := e.metricSelector(m)
	if selector == "" {
		return 0, false, nil
	}
	qctx, cancel := boundedContext(ctx, e.queryTimeout)
	defer cancel()

	control, err := browser.First(qctx, post, selector)
	if err != nil || control == nil {
		return 0, false, err
	}

	region := control
	if e.sel.Engagement.Count != "" {
		if el, err := browser.First(qctx, control, e.sel.Engagement.Count); err != nil {
			return 0, false, err
		} else if el != nil {
			region = el
		}
	}
	raw, err := region.Text(qctx)
	if err != nil {
		return 0, false, err
	}
	if n, ok := ParseCount(raw); ok {
		return n, true, nil
	}

	// The count region is empty for zero, and the control's label still
	// carries the exact figure ("1234 views. View post analytics").
	label, _, err := control.Attribute(qctx, "aria-label")
	if err != nil {
		return 0, false, err
	}
	if n, ok := ParseCountIn(label); ok {
		return n, true, nil
	}
	if strings.TrimSpace(raw) != "" {
		slog.Warn("Metric not parseable", "metric", m, "raw", raw, "error", ErrMetricParse)
		return 0, false, nil
	}
	// A present control with no figure anywhere shows zero.
	return 0, true, nil
}

func (e *Extractor) groupLabel(ctx context.Context, post browser.Element) (string, error) {
	if e.sel.Engagement.Group == "" {
		return "", nil
	}
	qctx, cancel := boundedContext(ctx, e.queryTimeout)
	defer cancel()

	group, err := browser.First(qctx, post, e.sel.Engagement.Group)
	if err != nil || group == nil {
		return "", err
	}
	label, _, err := group.Attribute(qctx, "aria-label")
	return label, err
}

// boundedContext limits a single DOM query. A zero timeout leaves ctx as is.
func boundedContext(ctx context.Context, d time.Duration) (context.Context, context.CancelFunc) {
	if d <= 0 {
		return ctx, func() {}
	}
	return context.WithTimeout(ctx, d)
}
