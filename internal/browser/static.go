package browser

import (
	"context"
	"fmt"
	"os"
)

// StaticPage serves a fixed snapshot. Scrolling is a no-op and the height never
// changes, so a scroll loop over it exhausts after its first passes.
type StaticPage struct {
	*Snapshot
	url    string
	height int
}

func NewStaticPage(snap *Snapshot, url string, height int) *StaticPage {
	return &StaticPage{Snapshot: snap, url: url, height: height}
}

func (p *StaticPage) ScrollBy(ctx context.Context, _ int) error {
	return mapContextErr(ctx.Err())
}

func (p *StaticPage) DocumentHeight(ctx context.Context) (int, error) {
	if err := ctx.Err(); err != nil {
		return 0, mapContextErr(err)
	}
	return p.height, nil
}

func (p *StaticPage) URL(ctx context.Context) (string, error) {
	return p.url, mapContextErr(ctx.Err())
}

func (p *StaticPage) Title(ctx context.Context) (string, error) {
	return p.Snapshot.Title(), mapContextErr(ctx.Err())
}

// FileDriver "connects" to an HTML file saved from the browser. It is used to
// check selectors against a captured profile page without a live browser.
type FileDriver struct {
	// PageURL is reported as the page location, since a saved file has none.
	PageURL string
}

func (d FileDriver) Connect(ctx context.Context, path string) (Page, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrDisconnected, err)
	}
	defer f.Close()

	snap, err := NewSnapshot(f)
	if err != nil {
		return nil, err
	}
	return NewStaticPage(snap, d.PageURL, 0), nil
}

func (FileDriver) Close() error { return nil }
