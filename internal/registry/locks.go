package registry

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	"golang.org/x/sync/semaphore"

	"github.com/TheMichaelB/ofsync/internal/models"
)

// maxReaders bounds concurrent readers of one folder; a writer takes all of it.
const maxReaders = 1 << 16

type heldLock struct{ name string }

type lockEntry struct {
	sem  *semaphore.Weighted
	refs int
}

// lockTable hands out per-folder reader/writer locks. Entries are created on
// demand and dropped when the last holder or waiter leaves.
type lockTable struct {
	mu      sync.Mutex
	entries map[string]*lockEntry
	timeout time.Duration
}

func newLockTable(timeout time.Duration) *lockTable {
	return &lockTable{
		entries: make(map[string]*lockEntry),
		timeout: timeout,
	}
}

// acquire takes weight units of name's lock. A context returned by
// Registry.Lock already owns the lock, so acquire is a no-op for it.
func (t *lockTable) acquire(ctx context.Context, name string, weight int64) (func(), error) {
	if ctx.Value(heldLock{name}) != nil {
		return func() {}, nil
	}

	t.mu.Lock()
	e, ok := t.entries[name]
	if !ok {
		e = &lockEntry{sem: semaphore.NewWeighted(maxReaders)}
		t.entries[name] = e
	}
	e.refs++
	t.mu.Unlock()

	waitCtx := ctx
	if t.timeout > 0 {
		var cancel context.CancelFunc
		waitCtx, cancel = context.WithTimeout(ctx, t.timeout)
		defer cancel()
	}

	if err := e.sem.Acquire(waitCtx, weight); err != nil {
		t.drop(name, e)
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		if errors.Is(err, context.DeadlineExceeded) {
			return nil, fmt.Errorf("folder %q: %w", name, models.ErrLocked)
		}
		return nil, err
	}

	var once sync.Once
	return func() {
		once.Do(func() {
			e.sem.Release(weight)
			t.drop(name, e)
		})
	}, nil
}

func (t *lockTable) drop(name string, e *lockEntry) {
	t.mu.Lock()
	defer t.mu.Unlock()

	e.refs--
	if e.refs == 0 {
		delete(t.entries, name)
	}
}

func (t *lockTable) read(ctx context.Context, name string) (func(), error) {
	return t.acquire(ctx, name, 1)
}

func (t *lockTable) write(ctx context.Context, name string) (func(), error) {
	return t.acquire(ctx, name, maxReaders)
}

// writeAll write-locks every distinct name in sorted order.
func (t *lockTable) writeAll(ctx context.Context, names ...string) (func(), error) {
	sorted := append([]string(nil), names...)
	sort.Strings(sorted)

	var releases []func()
	unlock := func() {
		for i := len(releases) - 1; i >= 0; i-- {
			releases[i]()
		}
	}

	for i, name := range sorted {
		if i > 0 && sorted[i-1] == name {
			continue
		}
		release, err := t.write(ctx, name)
		if err != nil {
			unlock()
			return nil, err
		}
		releases = append(releases, release)
	}

	return unlock, nil
}
