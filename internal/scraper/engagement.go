package scraper

import (
	"regexp"
	"strconv"
	"strings"
)

// Metric names one of the four engagement counters.
type Metric string

const (
	MetricReply  Metric = "reply"
	MetricRepost Metric = "repost"
	MetricLike   Metric = "like"
	MetricViews  Metric = "views"
)

var magnitudes = map[byte]int64{
	'K': 1_000,
	'M': 1_000_000,
	'B': 1_000_000_000,
}

var countPattern = regexp.MustCompile(`^(\d+)(?:\.(\d+))?([KMB])?$`)

// ParseCount converts a displayed count such as "1,234", "1.2K" or "15M" to an
// integer. It reports false for empty or unrecognized input.
//
// The decimal part is scaled with integer arithmetic and rounded half up, so
// "1.2K" is exactly 1200 and "2.35K" is 2350.
func ParseCount(raw string) (int, bool) {
	s := strings.ToUpper(strings.TrimSpace(raw))
	s = strings.NewReplacer(",", "", " ", "", "\u00a0", "", "\u202f", "", "'", "").Replace(s)
	if s == "" {
		return 0, false
	}

	m := countPattern.FindStringSubmatch(s)
	if m == nil {
		return 0, false
	}
	whole, frac, suffix := m[1], m[2], m[3]

	mult := int64(1)
	if suffix != "" {
		mult = magnitudes[suffix[0]]
	}
	// Extra precision beyond the multiplier cannot change the rounded result.
	if len(frac) > 9 {
		frac = frac[:9]
	}

	digits, err := strconv.ParseInt(whole+frac, 10, 64)
	if err != nil {
		return 0, false
	}
	scale := int64(1)
	for range len(frac) {
		scale *= 10
	}
	if digits > (1<<62)/mult {
		return 0, false
	}
	return int((digits*mult + scale/2) / scale), true
}

var countToken = regexp.MustCompile(`(?i)\d[\d,.\x{00a0}]*\s?[KMB]?\b`)

// ParseCountIn parses the first count found inside a longer label, such as
// "12.5K posts" or "1,234 Followers".
func ParseCountIn(text string) (int, bool) {
	tok := countToken.FindString(text)
	if tok == "" {
		return 0, false
	}
	return ParseCount(tok)
}

var ariaPair = regexp.MustCompile(`(\d+)\s+([\p{L}]+)`)

// ParseAriaEngagement reads an action bar label such as
// "12 replies, 5 reposts, 1,040 likes, 3 bookmarks, 123456 views".
// Only metrics named in the label are returned.
func ParseAriaEngagement(label string) map[Metric]int {
	clean := strings.ToLower(strings.NewReplacer(",", "", ".", "").Replace(label))
	out := make(map[Metric]int)
	for _, m := range ariaPair.FindAllStringSubmatch(clean, -1) {
		n, err := strconv.Atoi(m[1])
		if err != nil {
			continue
		}
		word := m[2]
		switch {
		case strings.Contains(word, "repl"), strings.Contains(word, "comment"):
			out[MetricReply] = n
		case strings.Contains(word, "retweet"), strings.Contains(word, "repost"):
			out[MetricRepost] = n
		case strings.Contains(word, "like"):
			out[MetricLike] = n
		case strings.Contains(word, "view"):
			out[MetricViews] = n
		}
	}
	return out
}
