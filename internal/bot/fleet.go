package bot

import (
	"fmt"
	"sort"
	"sync"

	"github.com/alanyoungcy/moonbot/internal/domain"
)

// Fleet is the set of loaded bots, shared by the scheduler and the control API.
type Fleet struct {
	mu   sync.RWMutex
	bots map[int64]*Bot
}

func NewFleet() *Fleet {
	return &Fleet{bots: make(map[int64]*Bot)}
}

// Add registers b. Ids are unique.
func (f *Fleet) Add(b *Bot) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	id := b.ID()
	if _, ok := f.bots[id]; ok {
		return fmt.Errorf("bot: fleet: add %d: %w", id, domain.ErrAlreadyExists)
	}
	f.bots[id] = b
	return nil
}

func (f *Fleet) Remove(id int64) {
	f.mu.Lock()
	delete(f.bots, id)
	f.mu.Unlock()
}

func (f *Fleet) Get(id int64) (*Bot, error) {
	f.mu.RLock()
	defer f.mu.RUnlock()
	b, ok := f.bots[id]
	if !ok {
		return nil, fmt.Errorf("bot: %d: %w", id, domain.ErrBotNotFound)
	}
	return b, nil
}

// List returns the bots ordered by id.
func (f *Fleet) List() []*Bot {
	f.mu.RLock()
	out := make([]*Bot, 0, len(f.bots))
	for _, b := range f.bots {
		out = append(out, b)
	}
	f.mu.RUnlock()
	sort.Slice(out, func(i, j int) bool { return out[i].ID() < out[j].ID() })
	return out
}

func (f *Fleet) Len() int {
	f.mu.RLock()
	defer f.mu.RUnlock()
	return len(f.bots)
}

// NextID is one past the highest id in use, or 1 for an empty fleet.
func (f *Fleet) NextID() int64 {
	f.mu.RLock()
	defer f.mu.RUnlock()
	var highest int64
	for id := range f.bots {
		if id > highest {
			highest = id
		}
	}
	return highest + 1
}
