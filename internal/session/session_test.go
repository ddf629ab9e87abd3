package session

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/pauljones0/profile-scraper/internal/browser"
	"github.com/pauljones0/profile-scraper/internal/browser/browsertest"
	"github.com/pauljones0/profile-scraper/internal/models"
	"github.com/pauljones0/profile-scraper/internal/scraper"
)

// --- Mock implementations ---

type memorySink struct {
	saved []*models.ScrapeResult
	err   error
	// ctxErr records whether the context was already done at save time.
	ctxErr error
}

func (m *memorySink) Save(ctx context.Context, result *models.ScrapeResult) error {
	m.ctxErr = ctx.Err()
	m.saved = append(m.saved, result)
	return m.err
}

type mockNotifier struct {
	sent []models.ScrapeResult
	err  error
}

func (m *mockNotifier) Send(_ context.Context, result models.ScrapeResult) error {
	m.sent = append(m.sent, result)
	return m.err
}

func testOptions() Options {
	return Options{
		Endpoint:       "http://localhost:9222",
		ConnectRetries: 2,
		ConnectBackoff: time.Millisecond,
		QueryTimeout:   time.Second,
		Selectors:      scraper.DefaultSelectors(),
		Scroll: scraper.ScrollOptions{
			Step:              800,
			StabilizeTimeout:  time.Second,
			MaxStableAttempts: 3,
			QueryTimeout:      time.Second,
		},
	}
}

func jackHeader() string {
	return browsertest.Profile{Name: "Jack", Handle: "@jack", Followers: "1.2K", PostCount: "1,234"}.HTML()
}

func postIDs(posts []models.PostRecord) []string {
	ids := make([]string, len(posts))
	for i, p := range posts {
		ids[i] = p.ID
	}
	return ids
}

func assertIDs(t *testing.T, posts []models.PostRecord, want ...string) {
	t.Helper()
	got := postIDs(posts)
	if fmt.Sprint(got) != fmt.Sprint(want) {
		t.Errorf("post ids = %v, want %v", got, want)
	}
}

// --- Tests ---

func TestRun_EndToEnd(t *testing.T) {
	page := &browsertest.Page{
		Header:  jackHeader(),
		PageURL: "https://x.com/jack",
		Fragments: []string{
			browsertest.Posts(
				browsertest.Post{ID: "1", Text: "first", Datetime: "2026-10-18T12:00:00Z", Reply: "1", Repost: "2", Like: "3", Views: "1K"},
				browsertest.Post{ID: "2", Social: "Jack reposted", Text: "second", Like: "5"},
			),
			browsertest.Posts(
				browsertest.Post{ID: "3", Promoted: true, Text: "third", Like: "2.3K"},
			),
		},
	}
	driver := &browsertest.Driver{Page: page}
	sink := &memorySink{}
	notif := &mockNotifier{}

	var progress []int
	opts := testOptions()
	opts.OnProgress = func(total int) { progress = append(progress, total) }

	s := New(driver, sink, notif, opts)
	result, err := s.Run(context.Background())
	if err != nil {
		t.Fatalf("Run: %v", err)
	}

	if s.State() != StateDone {
		t.Errorf("state = %s, want done", s.State())
	}
	if !result.Complete() {
		t.Errorf("status = %s, want complete", result.Status)
	}
	wantSummary := models.ProfileSummary{AccountName: "Jack", Handle: "@jack", Followers: 1200, PostCount: 1234}
	if result.ProfileSummary != wantSummary {
		t.Errorf("summary = %+v, want %+v", result.ProfileSummary, wantSummary)
	}

	assertIDs(t, result.Posts, "1", "2", "3")
	first, second, third := result.Posts[0], result.Posts[1], result.Posts[2]
	if first.Type != models.PostOriginal || first.Engagement.Views == nil || *first.Engagement.Views != 1000 {
		t.Errorf("first post = %+v, want Original with 1000 views", first)
	}
	if first.Timestamp == nil || *first.Timestamp != "2026-10-18T12:00:00Z" {
		t.Errorf("first post date = %v", first.Timestamp)
	}
	if second.Type != models.PostRetweet || second.Engagement.Views != nil {
		t.Errorf("second post = %+v, want Retweet with no views", second)
	}
	if third.Type != models.PostPromoted || third.Engagement.Like != 2300 {
		t.Errorf("third post = %+v, want Promoted with 2300 likes", third)
	}

	if len(sink.saved) != 1 || sink.saved[0] != result {
		t.Errorf("sink received %d results, want the returned one", len(sink.saved))
	}
	if len(notif.sent) != 1 {
		t.Errorf("notifier called %d times, want 1", len(notif.sent))
	}
	if !driver.Closed {
		t.Error("driver was not closed")
	}
	// Initial pass, then one per scroll: reveal, and three that find nothing new.
	if fmt.Sprint(progress) != "[2 3 3 3 3]" {
		t.Errorf("progress = %v, want [2 3 3 3 3]", progress)
	}
	if result.StartedAt.IsZero() || result.FinishedAt.Before(result.StartedAt) {
		t.Errorf("run times = %v .. %v", result.StartedAt, result.FinishedAt)
	}
}

func TestRun_DeduplicatesAcrossPasses(t *testing.T) {
	page := &browsertest.Page{
		Header: jackHeader(),
		Fragments: []string{
			browsertest.Posts(browsertest.Post{ID: "1"}, browsertest.Post{ID: "2"}),
			// The timeline re-renders post 2 while loading more.
			browsertest.Posts(browsertest.Post{ID: "2"}, browsertest.Post{ID: "3"}),
			browsertest.Posts(browsertest.Post{ID: "1", PermalinkOnly: true}, browsertest.Post{ID: "4"}),
		},
	}
	sink := &memorySink{}

	result, err := New(&browsertest.Driver{Page: page}, sink, nil, testOptions()).Run(context.Background())
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	assertIDs(t, result.Posts, "1", "2", "3", "4")
}

func TestRun_SkipsPostsWithoutIdentifier(t *testing.T) {
	page := &browsertest.Page{
		Header: jackHeader(),
		Fragments: []string{browsertest.Posts(
			browsertest.Post{ID: "1"},
			browsertest.Post{NoID: true, Text: "no permalink"},
			browsertest.Post{ID: "2"},
		)},
	}

	s := New(&browsertest.Driver{Page: page}, &memorySink{}, nil, testOptions())
	result, err := s.Run(context.Background())
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	assertIDs(t, result.Posts, "1", "2")
	if s.skipped == 0 {
		t.Error("expected the unidentifiable post to be counted as skipped")
	}
}

func TestRun_StopKeepsCollectedPosts(t *testing.T) {
	page := &browsertest.Page{
		Header: jackHeader(),
		Fragments: []string{
			browsertest.Posts(browsertest.Post{ID: "1"}, browsertest.Post{ID: "2"}),
			browsertest.Posts(browsertest.Post{ID: "3"}),
		},
	}
	sink := &memorySink{}
	s := New(&browsertest.Driver{Page: page}, sink, nil, testOptions())
	page.OnScroll = func(n int) {
		if n == 1 {
			s.Stop()
			s.Stop()
		}
	}

	result, err := s.Run(context.Background())
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if result.Status != models.RunCancelled {
		t.Errorf("status = %s, want cancelled", result.Status)
	}
	assertIDs(t, result.Posts, "1", "2")
	if len(sink.saved) != 1 {
		t.Errorf("sink received %d results, want 1", len(sink.saved))
	}
	if s.State() != StateDone {
		t.Errorf("state = %s, want done", s.State())
	}
}

func TestRun_ContextCancelStillSaves(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	page := &browsertest.Page{
		Header:    jackHeader(),
		Fragments: []string{browsertest.Posts(browsertest.Post{ID: "1"}), browsertest.Posts(browsertest.Post{ID: "2"})},
		OnScroll:  func(int) { cancel() },
	}
	sink := &memorySink{}

	result, err := New(&browsertest.Driver{Page: page}, sink, nil, testOptions()).Run(ctx)
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if result.Status != models.RunCancelled {
		t.Errorf("status = %s, want cancelled", result.Status)
	}
	if sink.ctxErr != nil {
		t.Errorf("sink saw a done context: %v", sink.ctxErr)
	}
	assertIDs(t, result.Posts, "1")
}

func TestRun_ConnectionLossPersistsPartialResult(t *testing.T) {
	page := &browsertest.Page{
		Header: jackHeader(),
		Fragments: []string{
			browsertest.Posts(browsertest.Post{ID: "1"}, browsertest.Post{ID: "2"}, browsertest.Post{ID: "3"}),
			browsertest.Posts(browsertest.Post{ID: "4"}, browsertest.Post{ID: "5"}),
			browsertest.Posts(browsertest.Post{ID: "6"}),
		},
		FailAfterScrolls: 2,
	}
	driver := &browsertest.Driver{Page: page}
	sink := &memorySink{}
	notif := &mockNotifier{}

	s := New(driver, sink, notif, testOptions())
	result, err := s.Run(context.Background())
	if !errors.Is(err, scraper.ErrConnection) {
		t.Fatalf("err = %v, want ErrConnection", err)
	}
	if s.State() != StateFailed {
		t.Errorf("state = %s, want failed", s.State())
	}
	if result == nil {
		t.Fatal("expected a partial result")
	}
	if result.Status != models.RunFailed {
		t.Errorf("status = %s, want failed", result.Status)
	}
	assertIDs(t, result.Posts, "1", "2", "3", "4", "5")
	if len(sink.saved) != 1 || len(sink.saved[0].Posts) != 5 {
		t.Errorf("sink did not receive the 5 collected posts")
	}
	if len(notif.sent) != 1 {
		t.Errorf("notifier called %d times, want 1", len(notif.sent))
	}
	if !driver.Closed {
		t.Error("driver was not closed")
	}
}

func TestRun_ConnectRetries(t *testing.T) {
	driver := &browsertest.Driver{ConnectErr: fmt.Errorf("%w: connection refused", browser.ErrDisconnected)}
	sink := &memorySink{}

	s := New(driver, sink, nil, testOptions())
	result, err := s.Run(context.Background())
	if !errors.Is(err, scraper.ErrConnection) {
		t.Fatalf("err = %v, want ErrConnection", err)
	}
	if result != nil {
		t.Errorf("expected no result, got %+v", result)
	}
	if driver.Connects != 3 {
		t.Errorf("connect attempts = %d, want 3", driver.Connects)
	}
	if len(sink.saved) != 0 {
		t.Error("nothing should be saved when the page was never attached")
	}
	if s.State() != StateFailed {
		t.Errorf("state = %s, want failed", s.State())
	}
}

func TestRun_NoPageIsNotRetried(t *testing.T) {
	driver := &browsertest.Driver{ConnectErr: browser.ErrNoPage}

	_, err := New(driver, &memorySink{}, nil, testOptions()).Run(context.Background())
	if !errors.Is(err, browser.ErrNoPage) || !errors.Is(err, scraper.ErrConnection) {
		t.Fatalf("err = %v, want ErrNoPage wrapped in ErrConnection", err)
	}
	if driver.Connects != 1 {
		t.Errorf("connect attempts = %d, want 1", driver.Connects)
	}
}

func TestRun_SaveFailure(t *testing.T) {
	page := &browsertest.Page{Header: jackHeader(), Fragments: []string{browsertest.Posts(browsertest.Post{ID: "1"})}}
	boom := errors.New("disk full")
	sink := &memorySink{err: boom}

	s := New(&browsertest.Driver{Page: page}, sink, nil, testOptions())
	result, err := s.Run(context.Background())
	if !errors.Is(err, boom) {
		t.Fatalf("err = %v, want disk full", err)
	}
	if result == nil || len(result.Posts) != 1 {
		t.Errorf("expected the collected result to be returned, got %+v", result)
	}
	if s.State() != StateFailed {
		t.Errorf("state = %s, want failed", s.State())
	}
}

func TestRun_NotifierFailureIsNotFatal(t *testing.T) {
	page := &browsertest.Page{Header: jackHeader(), Fragments: []string{browsertest.Posts(browsertest.Post{ID: "1"})}}

	s := New(&browsertest.Driver{Page: page}, &memorySink{}, &mockNotifier{err: errors.New("webhook down")}, testOptions())
	if _, err := s.Run(context.Background()); err != nil {
		t.Fatalf("Run: %v", err)
	}
	if s.State() != StateDone {
		t.Errorf("state = %s, want done", s.State())
	}
}

func TestRun_EmptyTimeline(t *testing.T) {
	page := &browsertest.Page{Header: jackHeader()}

	result, err := New(&browsertest.Driver{Page: page}, &memorySink{}, nil, testOptions()).Run(context.Background())
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if result.Posts == nil || len(result.Posts) != 0 {
		t.Errorf("Posts = %#v, want empty non-nil slice", result.Posts)
	}
}

func TestState_String(t *testing.T) {
	tests := map[State]string{
		StateConnecting:     "connecting",
		StateReadingSummary: "reading_summary",
		StateLooping:        "looping",
		StateFinalizing:     "finalizing",
		StateDone:           "done",
		StateFailed:         "failed",
		State(99):           "State(99)",
	}
	for s, want := range tests {
		if s.String() != want {
			t.Errorf("State(%d).String() = %q, want %q", int(s), s.String(), want)
		}
	}
}

// releasingPage wraps every element it hands out so releases can be counted.
type releasingPage struct {
	*browsertest.Page
	handed, released int
}

type releasingElement struct {
	browser.Element
	page *releasingPage
}

func (e *releasingElement) Release() { e.page.released++ }

func (p *releasingPage) QueryAll(ctx context.Context, selector string) ([]browser.Element, error) {
	els, err := p.Page.QueryAll(ctx, selector)
	for i, el := range els {
		els[i] = &releasingElement{Element: el, page: p}
	}
	p.handed += len(els)
	return els, err
}

func TestRun_ReleasesElements(t *testing.T) {
	page := &releasingPage{Page: &browsertest.Page{
		Header: jackHeader(),
		Fragments: []string{
			browsertest.Posts(browsertest.Post{ID: "1", Text: "a"}, browsertest.Post{NoID: true}),
			browsertest.Posts(browsertest.Post{ID: "2", Text: "b"}),
		},
	}}
	s := New(&browsertest.Driver{Page: page}, &memorySink{}, nil, testOptions())
	result, err := s.Run(context.Background())
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	assertIDs(t, result.Posts, "1", "2")

	if page.handed == 0 {
		t.Fatal("page handed out no elements")
	}
	if page.released != page.handed {
		t.Errorf("released %d of %d elements", page.released, page.handed)
	}
}
