package pipeline

import (
	"container/list"
	"sync"
)

// dedupSet is a bounded LRU set of update ids. Webhook retries and backlog
// replays re-deliver updates; anything already in the set is acknowledged
// without reprocessing.
type dedupSet struct {
	mu    sync.Mutex
	limit int
	order *list.List
	index map[int64]*list.Element
}

func newDedupSet(limit int) *dedupSet {
	if limit <= 0 {
		limit = 1024
	}
	return &dedupSet{
		limit: limit,
		order: list.New(),
		index: make(map[int64]*list.Element, limit),
	}
}

// Seen marks id as processed and reports whether it was already present.
// Present ids are refreshed to most-recently-used.
func (d *dedupSet) Seen(id int64) bool {
	d.mu.Lock()
	defer d.mu.Unlock()

	if el, ok := d.index[id]; ok {
		d.order.MoveToFront(el)
		return true
	}

	d.index[id] = d.order.PushFront(id)
	for d.order.Len() > d.limit {
		oldest := d.order.Back()
		d.order.Remove(oldest)
		delete(d.index, oldest.Value.(int64))
	}
	return false
}

// Forget drops id from the set. Called when no reply reached the user, so
// the platform's redelivery of the same update is processed again.
func (d *dedupSet) Forget(id int64) {
	d.mu.Lock()
	defer d.mu.Unlock()

	if el, ok := d.index[id]; ok {
		d.order.Remove(el)
		delete(d.index, id)
	}
}

// Len returns the current number of remembered ids.
func (d *dedupSet) Len() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.order.Len()
}
