package engine

import (
	"container/heap"
	"sync"

	"github.com/IshaanNene/boardscrape/internal/types"
)

// Frontier is a thread-safe queue of records awaiting enrichment, served in
// sequence order.
type Frontier struct {
	mu     sync.Mutex
	pq     priorityQueue
	closed bool
}

// NewFrontier creates a Frontier holding records.
func NewFrontier(records []*types.ArticleRecord) *Frontier {
	f := &Frontier{pq: make(priorityQueue, 0, len(records))}
	for _, r := range records {
		f.pq = append(f.pq, &pqItem{record: r, priority: r.SequenceNumber, index: len(f.pq)})
	}
	heap.Init(&f.pq)
	return f
}

// TryPop removes the record with the lowest sequence number. It returns nil
// when the frontier is empty or closed.
func (f *Frontier) TryPop() *types.ArticleRecord {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.closed || f.pq.Len() == 0 {
		return nil
	}
	return heap.Pop(&f.pq).(*pqItem).record
}

// Len returns the number of queued records.
func (f *Frontier) Len() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.pq.Len()
}

// Close stops the frontier from handing out more work.
func (f *Frontier) Close() {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.closed = true
}

type pqItem struct {
	record   *types.ArticleRecord
	priority int
	index    int
}

type priorityQueue []*pqItem

func (pq priorityQueue) Len() int { return len(pq) }

func (pq priorityQueue) Less(i, j int) bool {
	return pq[i].priority < pq[j].priority
}

func (pq priorityQueue) Swap(i, j int) {
	pq[i], pq[j] = pq[j], pq[i]
	pq[i].index = i
	pq[j].index = j
}

func (pq *priorityQueue) Push(x any) {
	item := x.(*pqItem)
	item.index = len(*pq)
	*pq = append(*pq, item)
}

func (pq *priorityQueue) Pop() any {
	old := *pq
	n := len(old)
	item := old[n-1]
	old[n-1] = nil // GC
	item.index = -1
	*pq = old[:n-1]
	return item
}
