package pool

import (
	"time"

	"proxybroker/internal/core/domain"
)

// restEntry is one scheduled rest-expiry for a proxy, ordered by dueTime.
// Grounded on the teacher's health.checkHeap/scheduledCheck pair, the same
// shape repurposed to track rest_till deadlines instead of health-check due
// times.
type restEntry struct {
	proxy   *domain.Proxy
	dueTime time.Time
}

// restHeap is a container/heap min-heap over restEntry.dueTime, giving the
// pool's rest-timer scheduler O(log n) insert and always-cheapest-next-peek.
type restHeap []*restEntry

func (h restHeap) Len() int           { return len(h) }
func (h restHeap) Less(i, j int) bool { return h[i].dueTime.Before(h[j].dueTime) }
func (h restHeap) Swap(i, j int)      { h[i], h[j] = h[j], h[i] }

func (h *restHeap) Push(x interface{}) {
	*h = append(*h, x.(*restEntry))
}

func (h *restHeap) Pop() interface{} {
	old := *h
	n := len(old)
	item := old[n-1]
	old[n-1] = nil
	*h = old[:n-1]
	return item
}
