package executor

import (
	"sync"
	"time"
)

// Dedup holds ids of orders we asked to cancel until the cancel has had time
// to show up in the order stream, so the next round does not cancel them
// again.
type Dedup struct {
	mu   sync.Mutex
	ttl  time.Duration
	now  func() time.Time
	seen map[string]time.Time // order id -> forget after
}

func NewDedup(ttl time.Duration) *Dedup {
	return &Dedup{ttl: ttl, now: time.Now, seen: make(map[string]time.Time)}
}

func (d *Dedup) Seen(id string) bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	until, ok := d.seen[id]
	return ok && d.now().Before(until)
}

func (d *Dedup) Mark(id string) {
	d.mu.Lock()
	d.seen[id] = d.now().Add(d.ttl)
	d.mu.Unlock()
}

// Cleanup drops expired ids; the executor calls it once per cancel batch.
func (d *Dedup) Cleanup() {
	d.mu.Lock()
	defer d.mu.Unlock()
	now := d.now()
	for id, until := range d.seen {
		if !now.Before(until) {
			delete(d.seen, id)
		}
	}
}
