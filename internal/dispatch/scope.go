// Package dispatch drives action resolution: it computes and locks the
// entity scope, consults the judgment oracle, runs the engine stack, and
// commits the result through the store.
package dispatch

import (
	"context"
	"sort"
	"sync"

	"github.com/talgya/omniworld/internal/world"
)

// Locker hands out exclusive scopes over sets of entities. Locks are always
// acquired in sorted ID order, which rules out deadlock between overlapping
// scopes.
type Locker struct {
	mu    sync.Mutex
	locks map[world.EntityID]chan struct{}
}

// NewLocker creates an empty locker.
func NewLocker() *Locker {
	return &Locker{locks: map[world.EntityID]chan struct{}{}}
}

func (l *Locker) lockFor(id world.EntityID) chan struct{} {
	l.mu.Lock()
	defer l.mu.Unlock()
	ch, ok := l.locks[id]
	if !ok {
		ch = make(chan struct{}, 1)
		l.locks[id] = ch
	}
	return ch
}

// Scope is a held set of entity locks. Release exactly once.
type Scope struct {
	IDs  []world.EntityID
	held []chan struct{}
}

// Acquire blocks until every entity in ids is exclusively held, or ctx is
// done. Duplicate IDs are collapsed. On error nothing stays locked.
func (l *Locker) Acquire(ctx context.Context, ids []world.EntityID) (*Scope, error) {
	uniq := map[world.EntityID]struct{}{}
	for _, id := range ids {
		uniq[id] = struct{}{}
	}
	sorted := make([]world.EntityID, 0, len(uniq))
	for id := range uniq {
		sorted = append(sorted, id)
	}
	sort.Slice(sorted, func(i, j int) bool { return sorted[i] < sorted[j] })

	s := &Scope{IDs: sorted}
	for _, id := range sorted {
		ch := l.lockFor(id)
		select {
		case ch <- struct{}{}:
			s.held = append(s.held, ch)
		case <-ctx.Done():
			s.Release()
			return nil, ctx.Err()
		}
	}
	return s, nil
}

// Release frees every held lock in reverse order. Safe to call once even
// after a partial acquire.
func (s *Scope) Release() {
	for i := len(s.held) - 1; i >= 0; i-- {
		<-s.held[i]
	}
	s.held = nil
}
