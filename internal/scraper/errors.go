package scraper

import "errors"

// Fault kinds. Only ErrConnection ends a run; the others are absorbed at the
// field, post, or scroll-attempt that raised them.
var (
	ErrConnection   = errors.New("page connection lost")
	ErrFieldMissing = errors.New("field not found")
	ErrUnparseable  = errors.New("post element has no identifier")
	ErrMetricParse  = errors.New("engagement count not parseable")
	ErrTimeout      = errors.New("wait timed out")
)
