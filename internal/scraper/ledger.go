package scraper

// Ledger remembers which post identifiers a run has already emitted. It is
// owned by a single session goroutine and is not safe for concurrent use.
type Ledger struct {
	seen map[string]struct{}
}

func NewLedger() *Ledger {
	return &Ledger{seen: make(map[string]struct{})}
}

func (l *Ledger) Seen(id string) bool {
	_, ok := l.seen[id]
	return ok
}

func (l *Ledger) Record(id string) {
	l.seen[id] = struct{}{}
}

func (l *Ledger) Len() int {
	return len(l.seen)
}
