// Package browser defines the DOM capability the scraper consumes and the
// drivers that provide it over the Chrome DevTools Protocol.
package browser

import (
	"context"
	"errors"
)

var (
	// ErrDisconnected is returned when the page or browser connection is gone.
	ErrDisconnected = errors.New("browser disconnected")
	// ErrTimeout is returned when a single DOM operation exceeds its deadline.
	ErrTimeout = errors.New("browser operation timed out")
	// ErrNoPage is returned by Connect when the browser has no open page to attach to.
	ErrNoPage = errors.New("no open page in browser")
)

// Page is a live document the scraper can query and scroll.
type Page interface {
	QueryAll(ctx context.Context, selector string) ([]Element, error)
	ScrollBy(ctx context.Context, dy int) error
	DocumentHeight(ctx context.Context) (int, error)
	URL(ctx context.Context) (string, error)
	Title(ctx context.Context) (string, error)
}

// Element is a handle to one node of a Page.
type Element interface {
	QueryAll(ctx context.Context, selector string) ([]Element, error)
	// Text returns the visible text of the element and its descendants.
	Text(ctx context.Context) (string, error)
	// Attribute returns the attribute value and whether it is present.
	Attribute(ctx context.Context, name string) (string, bool, error)
	// Within reports whether an ancestor of the element matches selector.
	Within(ctx context.Context, selector string) (bool, error)
}

// Releaser is implemented by elements backed by browser-side handles that
// must be freed once the caller is done with them.
type Releaser interface {
	Release()
}

// Release frees every element that holds browser-side resources. Nil
// elements and elements without resources are ignored.
func Release(els ...Element) {
	for _, el := range els {
		if r, ok := el.(Releaser); ok {
			r.Release()
		}
	}
}

// Driver attaches to a running browser.
type Driver interface {
	Connect(ctx context.Context, endpoint string) (Page, error)
	Close() error
}

// Queryable is implemented by both Page and Element.
type Queryable interface {
	QueryAll(ctx context.Context, selector string) ([]Element, error)
}

// First returns the first element matching selector, or nil when nothing matches.
func First(ctx context.Context, q Queryable, selector string) (Element, error) {
	els, err := q.QueryAll(ctx, selector)
	if err != nil || len(els) == 0 {
		return nil, err
	}
	Release(els[1:]...)
	return els[0], nil
}

// IsFatal reports whether err means the page can no longer be used.
func IsFatal(err error) bool {
	return errors.Is(err, ErrDisconnected)
}
