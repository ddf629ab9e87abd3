package browsertest

import (
	"fmt"
	"html"
	"strings"
)

// Post renders a timeline entry in the markup the default selectors target.
// Empty metric fields leave the control out entirely.
type Post struct {
	ID string
	// PermalinkOnly drops the id attribute so the id must come from the link.
	PermalinkOnly bool
	// NoID drops both the id attribute and the permalink.
	NoID bool

	Author   string
	Social   string
	Text     string
	Datetime string
	Quote    bool
	Promoted bool

	Reply, Repost, Like, Views string
	// GroupLabel is the action bar's aria-label summary, if any.
	GroupLabel string
}

func (p Post) HTML() string {
	author := p.Author
	if author == "" {
		author = "jack"
	}

	var b strings.Builder
	b.WriteString(`<article data-testid="tweet" tabindex="0"`)
	if !p.NoID && !p.PermalinkOnly {
		fmt.Fprintf(&b, ` data-tweet-id="%s"`, p.ID)
	}
	b.WriteString(`>`)
	if p.Social != "" {
		fmt.Fprintf(&b, `<span data-testid="socialContext">%s</span>`, html.EscapeString(p.Social))
	}
	if p.NoID {
		fmt.Fprintf(&b, `<a href="/%s"><span>@%s</span></a>`, author, author)
	} else {
		fmt.Fprintf(&b, `<a href="/%s/status/%s">`, author, p.ID)
		if p.Datetime != "" {
			fmt.Fprintf(&b, `<time datetime="%s">Oct 18</time>`, p.Datetime)
		}
		b.WriteString(`</a>`)
	}
	if p.Text != "" {
		fmt.Fprintf(&b, `<div data-testid="tweetText" lang="en"><span>%s</span></div>`, html.EscapeString(p.Text))
	}
	if p.Quote {
		b.WriteString(`<div data-testid="quoteTweet"><time datetime="2020-01-01T00:00:00.000Z">Jan 1, 2020</time><div data-testid="tweetText">quoted</div></div>`)
	}
	if p.Promoted {
		b.WriteString(`<div data-testid="placementTracking"><span>Ad</span></div>`)
	}

	b.WriteString(`<div role="group"`)
	if p.GroupLabel != "" {
		fmt.Fprintf(&b, ` aria-label="%s"`, html.EscapeString(p.GroupLabel))
	}
	b.WriteString(`>`)
	control := func(testID, count string) {
		if count == "" {
			return
		}
		fmt.Fprintf(&b, `<button data-testid="%s"><span data-testid="app-text-transition-container"><span>%s</span></span></button>`, testID, html.EscapeString(count))
	}
	control("reply", p.Reply)
	control("retweet", p.Repost)
	control("like", p.Like)
	if p.Views != "" {
		fmt.Fprintf(&b, `<a href="/%s/status/%s/analytics"><span data-testid="app-text-transition-container"><span>%s</span></span></a>`, author, p.ID, html.EscapeString(p.Views))
	}
	b.WriteString(`</div></article>`)
	return b.String()
}

// Posts concatenates the markup of several posts into one fragment.
func Posts(posts ...Post) string {
	var b strings.Builder
	for _, p := range posts {
		b.WriteString(p.HTML())
	}
	return b.String()
}

// Profile renders the profile header block: name, handle, follower link and
// the post count line under the column heading.
type Profile struct {
	Name      string
	Handle    string
	Followers string
	PostCount string
}

func (p Profile) HTML() string {
	var b strings.Builder
	b.WriteString(`<div data-testid="primaryColumn">`)
	if p.PostCount != "" {
		fmt.Fprintf(&b, `<h2 role="heading">%s</h2><div dir="ltr">%s posts</div>`, html.EscapeString(p.Name), html.EscapeString(p.PostCount))
	}
	b.WriteString(`<div data-testid="UserName">`)
	if p.Name != "" {
		fmt.Fprintf(&b, `<div><span>%s</span></div>`, html.EscapeString(p.Name))
	}
	if p.Handle != "" {
		fmt.Fprintf(&b, `<div dir="ltr"><span>%s</span></div>`, html.EscapeString(p.Handle))
	}
	b.WriteString(`</div>`)
	if p.Followers != "" {
		slug := strings.TrimPrefix(p.Handle, "@")
		fmt.Fprintf(&b, `<a href="/%s/verified_followers"><span>%s</span> <span>Followers</span></a>`, slug, html.EscapeString(p.Followers))
	}
	b.WriteString(`</div>`)
	return b.String()
}
