package storage

import (
	"context"
	"fmt"
	"slices"
	"sync"

	"github.com/rl1809/lot-allocation/internal/port"
)

// MemoryLocker serializes allocation runs inside one process with a
// one-slot channel per key.
type MemoryLocker struct {
	mu    sync.Mutex
	slots map[string]chan struct{}
}

var _ port.Locker = (*MemoryLocker)(nil)

func NewMemoryLocker() *MemoryLocker {
	return &MemoryLocker{slots: make(map[string]chan struct{})}
}

func (l *MemoryLocker) slot(key string) chan struct{} {
	l.mu.Lock()
	defer l.mu.Unlock()

	ch, ok := l.slots[key]
	if !ok {
		ch = make(chan struct{}, 1)
		l.slots[key] = ch
	}
	return ch
}

// Lock acquires keys in sorted order so overlapping runs cannot deadlock.
func (l *MemoryLocker) Lock(ctx context.Context, keys []string) (func(), error) {
	sorted := slices.Compact(slices.Sorted(slices.Values(keys)))

	var held []chan struct{}
	release := func() {
		for i := len(held) - 1; i >= 0; i-- {
			<-held[i]
		}
	}

	for _, key := range sorted {
		ch := l.slot(key)
		select {
		case ch <- struct{}{}:
			held = append(held, ch)
		case <-ctx.Done():
			release()
			return nil, fmt.Errorf("lock %s: %w", key, ctx.Err())
		}
	}

	var once sync.Once
	return func() { once.Do(release) }, nil
}
