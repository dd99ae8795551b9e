package memory

import (
	"context"
	"sync"

	"github.com/alanyoungcy/updownbot/internal/domain"
)

// SlugLocker implements domain.SlugLocker for single-process runs.
type SlugLocker struct {
	mu   sync.Mutex
	held map[string]struct{}
}

func NewSlugLocker() *SlugLocker {
	return &SlugLocker{held: make(map[string]struct{})}
}

func (l *SlugLocker) TryLock(ctx context.Context, slug string) (func(), error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if _, ok := l.held[slug]; ok {
		return nil, domain.ErrLockHeld
	}
	l.held[slug] = struct{}{}

	released := false
	release := func() {
		l.mu.Lock()
		defer l.mu.Unlock()
		if released {
			return
		}
		released = true
		delete(l.held, slug)
	}
	return release, nil
}

var _ domain.SlugLocker = (*SlugLocker)(nil)
