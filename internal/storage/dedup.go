package storage

import (
	"context"
	"sync"
	"time"

	"RAG-Telebot/server/internal/interfaces"
)

var _ interfaces.UpdateDeduper = (*MemoryDeduper)(nil)

// MemoryDeduper is the in-process UpdateDeduper used when Redis is not configured
type MemoryDeduper struct {
	mu   sync.Mutex
	seen map[int]time.Time
	ttl  time.Duration
	now  func() time.Time
}

func NewMemoryDeduper(ttl time.Duration) *MemoryDeduper {
	if ttl <= 0 {
		ttl = defaultUpdateTTL
	}
	return &MemoryDeduper{
		seen: make(map[int]time.Time),
		ttl:  ttl,
		now:  time.Now,
	}
}

func (d *MemoryDeduper) MarkUpdate(ctx context.Context, updateID int) (bool, error) {
	d.mu.Lock()
	defer d.mu.Unlock()

	now := d.now()
	if at, ok := d.seen[updateID]; ok && now.Sub(at) < d.ttl {
		return false, nil
	}

	for id, at := range d.seen {
		if now.Sub(at) >= d.ttl {
			delete(d.seen, id)
		}
	}
	d.seen[updateID] = now
	return true, nil
}

// Len returns the number of tracked update ids
func (d *MemoryDeduper) Len() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return len(d.seen)
}
