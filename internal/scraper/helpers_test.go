package scraper

import (
	"context"
	"fmt"
	"testing"

	"github.com/pauljones0/profile-scraper/internal/browser"
	"github.com/pauljones0/profile-scraper/internal/browser/browsertest"
)

// deadPage fails every call as if the tab had been closed.
type deadPage struct{}

func disconnected() error { return fmt.Errorf("%w: target closed", browser.ErrDisconnected) }

func (deadPage) QueryAll(context.Context, string) ([]browser.Element, error) {
	return nil, disconnected()
}
func (deadPage) ScrollBy(context.Context, int) error         { return disconnected() }
func (deadPage) DocumentHeight(context.Context) (int, error) { return 0, disconnected() }
func (deadPage) URL(context.Context) (string, error)         { return "", disconnected() }
func (deadPage) Title(context.Context) (string, error)       { return "", disconnected() }
func (deadPage) Text(context.Context) (string, error)        { return "", disconnected() }
func (deadPage) Attribute(context.Context, string) (string, bool, error) {
	return "", false, disconnected()
}
func (deadPage) Within(context.Context, string) (bool, error) { return false, disconnected() }

// postElements renders posts into a page and returns their elements.
func postElements(t *testing.T, posts ...browsertest.Post) []browser.Element {
	t.Helper()
	page := &browsertest.Page{Fragments: []string{browsertest.Posts(posts...)}}
	els, err := page.QueryAll(context.Background(), DefaultSelectors().Post.Item)
	if err != nil {
		t.Fatalf("QueryAll: %v", err)
	}
	if len(els) != len(posts) {
		t.Fatalf("found %d post elements, want %d", len(els), len(posts))
	}
	return els
}

func intPtr(n int) *int { return &n }

func strPtr(s string) *string { return &s }
