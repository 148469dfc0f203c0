package engine

import (
	"sort"
	"sync"

	"github.com/IshaanNene/boardscrape/internal/storage"
	"github.com/IshaanNene/boardscrape/internal/types"
)

// Ledger is the in-memory record set of one board, in insertion order and
// indexed by canonical URL.
type Ledger struct {
	mu      sync.RWMutex
	records []*types.ArticleRecord
	index   map[string]*types.ArticleRecord
	nextSeq int
}

// NewLedger builds a ledger from stored records. When the store holds the
// same URL twice the first record wins; the number dropped is returned.
// Records without a sequence number are numbered after the current maximum,
// in store order.
func NewLedger(records []*types.ArticleRecord) (*Ledger, int) {
	idx := storage.IndexByURL(records)
	l := &Ledger{
		records: make([]*types.ArticleRecord, 0, len(idx)),
		index:   idx,
		nextSeq: 1,
	}
	var unnumbered []*types.ArticleRecord
	for _, r := range records {
		if idx[types.CanonicalURL(r.URL)] != r {
			continue
		}
		l.records = append(l.records, r)
		if r.SequenceNumber <= 0 {
			unnumbered = append(unnumbered, r)
			continue
		}
		if r.SequenceNumber >= l.nextSeq {
			l.nextSeq = r.SequenceNumber + 1
		}
	}
	for _, r := range unnumbered {
		r.SequenceNumber = l.nextSeq
		l.nextSeq++
	}
	return l, len(records) - len(l.records)
}

// IsSeen reports whether the URL (after canonicalization) is already known.
func (l *Ledger) IsSeen(rawURL string) bool {
	l.mu.RLock()
	defer l.mu.RUnlock()
	_, ok := l.index[types.CanonicalURL(rawURL)]
	return ok
}

// Add creates a skeleton for an unseen entry with the next sequence number.
// It returns false when the URL is already known.
func (l *Ledger) Add(entry types.ListEntry) (*types.ArticleRecord, bool) {
	key := types.CanonicalURL(entry.URL)

	l.mu.Lock()
	defer l.mu.Unlock()
	if _, ok := l.index[key]; ok {
		return nil, false
	}
	r := types.NewSkeleton(entry, l.nextSeq)
	l.nextSeq++
	l.index[key] = r
	l.records = append(l.records, r)
	return r, true
}

// Merge applies enriched detail to the record with the given URL.
func (l *Ledger) Merge(rawURL string, d *types.ArticleDetail) bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	r, ok := l.index[types.CanonicalURL(rawURL)]
	if !ok {
		return false
	}
	r.Apply(d)
	return true
}

// Len returns the number of records.
func (l *Ledger) Len() int {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return len(l.records)
}

// LastURL returns the URL of the most recently added record, or "".
func (l *Ledger) LastURL() string {
	l.mu.RLock()
	defer l.mu.RUnlock()
	if len(l.records) == 0 {
		return ""
	}
	return l.records[len(l.records)-1].URL
}

// Pending returns copies of the records not yet enriched, ordered by
// sequence number.
func (l *Ledger) Pending() []*types.ArticleRecord {
	l.mu.RLock()
	defer l.mu.RUnlock()
	var out []*types.ArticleRecord
	for _, r := range l.records {
		if !r.ContentFetched {
			out = append(out, r.Clone())
		}
	}
	sort.SliceStable(out, func(i, j int) bool {
		return out[i].SequenceNumber < out[j].SequenceNumber
	})
	return out
}

// Fetched returns the number of enriched records.
func (l *Ledger) Fetched() int {
	l.mu.RLock()
	defer l.mu.RUnlock()
	n := 0
	for _, r := range l.records {
		if r.ContentFetched {
			n++
		}
	}
	return n
}

// Snapshot returns deep copies of all records in insertion order.
func (l *Ledger) Snapshot() []*types.ArticleRecord {
	l.mu.RLock()
	defer l.mu.RUnlock()
	out := make([]*types.ArticleRecord, len(l.records))
	for i, r := range l.records {
		out[i] = r.Clone()
	}
	return out
}
