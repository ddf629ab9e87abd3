package util

import (
	"net/url"
	"regexp"
	"strings"
)

var statusPathRegex = regexp.MustCompile(`/status(?:es)?/(\d+)`)

// StatusID extracts the numeric post identifier from a permalink such as
// "/jack/status/20" or "https://x.com/jack/status/20/photo/1".
func StatusID(href string) (string, bool) {
	m := statusPathRegex.FindStringSubmatch(href)
	if m == nil {
		return "", false
	}
	return m[1], true
}

// reservedPaths are first path segments that are site sections, not accounts.
var reservedPaths = map[string]bool{
	"home": true, "explore": true, "notifications": true, "messages": true,
	"search": true, "settings": true, "i": true, "compose": true,
}

// HandleFromURL derives "@handle" from a profile URL such as
// "https://x.com/jack/with_replies". It returns "" when the URL does not
// point at a profile.
func HandleFromURL(rawURL string) string {
	parsedURL, err := url.Parse(rawURL)
	if err != nil {
		return ""
	}
	segment, _, _ := strings.Cut(strings.Trim(parsedURL.Path, "/"), "/")
	if segment == "" || reservedPaths[strings.ToLower(segment)] {
		return ""
	}
	return "@" + segment
}
