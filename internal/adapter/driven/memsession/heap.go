package memsession

import "time"

// deadline is one entry of the expiry index.
type deadline struct {
	id string
	at time.Time
}

// expiryHeap is a min-heap of deadlines ordered by time. It implements
// container/heap.Interface. Deleted sessions are not removed from the heap;
// the sweeper skips entries whose session is already gone.
type expiryHeap []deadline

func (h expiryHeap) Len() int           { return len(h) }
func (h expiryHeap) Less(i, j int) bool { return h[i].at.Before(h[j].at) }
func (h expiryHeap) Swap(i, j int)      { h[i], h[j] = h[j], h[i] }

func (h *expiryHeap) Push(x any) {
	*h = append(*h, x.(deadline))
}

func (h *expiryHeap) Pop() any {
	old := *h
	n := len(old)
	item := old[n-1]
	*h = old[:n-1]
	return item
}
