package catalog

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"sync"
	"sync/atomic"
	"time"
)

// Reloader serves the current Snapshot and swaps in a fresh one whenever a
// source file changes on disk. A failed reload keeps the previous snapshot.
type Reloader struct {
	src    Sources
	poll   time.Duration
	logger *slog.Logger

	current atomic.Pointer[Snapshot]

	mu     sync.Mutex
	mtimes map[string]time.Time
}

// NewReloader creates a Reloader seeded with initial. If pollInterval is <= 0,
// it defaults to 30s.
func NewReloader(src Sources, initial *Snapshot, pollInterval time.Duration) *Reloader {
	if pollInterval <= 0 {
		pollInterval = 30 * time.Second
	}
	r := &Reloader{
		src:    src,
		poll:   pollInterval,
		logger: slog.Default(),
		mtimes: statAll(src.paths()),
	}
	r.current.Store(initial)
	return r
}

// Current returns the active snapshot.
func (r *Reloader) Current() *Snapshot {
	return r.current.Load()
}

// Run polls for source changes until ctx is cancelled.
func (r *Reloader) Run(ctx context.Context) {
	ticker := time.NewTicker(r.poll)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if _, err := r.RunOnce(ctx); err != nil {
				r.logger.Error("catalog reload failed", "error", err)
			}
		}
	}
}

// RunOnce reloads the snapshot if any source file changed since the last
// check. It reports whether a new snapshot was installed.
func (r *Reloader) RunOnce(ctx context.Context) (bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	now := statAll(r.src.paths())
	if sameTimes(now, r.mtimes) {
		return false, nil
	}

	snap, err := Load(ctx, r.src)
	if err != nil {
		return false, fmt.Errorf("reloading catalog: %w", err)
	}
	r.current.Store(snap)
	r.mtimes = now
	r.logger.Info("catalog reloaded",
		"products", snap.Index.Len(),
		"categories", len(snap.Index.Categories()),
		"orders", len(snap.Orders),
	)
	return true, nil
}

func statAll(paths []string) map[string]time.Time {
	out := make(map[string]time.Time, len(paths))
	for _, p := range paths {
		if fi, err := os.Stat(p); err == nil {
			out[p] = fi.ModTime()
		}
	}
	return out
}

func sameTimes(a, b map[string]time.Time) bool {
	if len(a) != len(b) {
		return false
	}
	for k, v := range a {
		if w, ok := b[k]; !ok || !w.Equal(v) {
			return false
		}
	}
	return true
}
