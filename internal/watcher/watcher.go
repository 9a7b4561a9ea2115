package watcher

import (
	"context"
	"log/slog"
	"os"
	"sort"
	"time"

	"github.com/DeusData/tapaconv/internal/discover"
)

const (
	baseInterval = 1 * time.Second
	maxInterval  = 60 * time.Second
)

type fileSnapshot struct {
	modTime time.Time
	size    int64
}

type targetState struct {
	snapshot map[string]fileSnapshot
	interval time.Duration
	nextPoll time.Time
}

// ChangeFunc is called with the absolute path of each changed kernel file.
type ChangeFunc func(ctx context.Context, path string) error

// Watcher polls kernel files or directories and re-runs a conversion for
// every file whose size or mtime changed.
type Watcher struct {
	roots    []string
	onChange ChangeFunc
	targets  map[string]*targetState
	ctx      context.Context
}

// New creates a Watcher over roots (files or directories).
func New(roots []string, onChange ChangeFunc) *Watcher {
	return &Watcher{
		roots:    roots,
		onChange: onChange,
		targets:  make(map[string]*targetState),
		ctx:      context.Background(),
	}
}

// Run blocks until ctx is cancelled. Ticks at baseInterval, polling each
// root only when its adaptive interval has elapsed.
func (w *Watcher) Run(ctx context.Context) {
	w.ctx = ctx
	ticker := time.NewTicker(baseInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			w.pollAll()
		}
	}
}

// pollAll polls each root that is due.
func (w *Watcher) pollAll() {
	now := time.Now()
	for _, root := range w.roots {
		state, exists := w.targets[root]
		if !exists {
			state = &targetState{}
			w.targets[root] = state
		}
		if exists && now.Before(state.nextPoll) {
			continue
		}
		w.pollRoot(root, state)
	}
}

// pollRoot compares a fresh snapshot with the previous one.
// First poll: captures the baseline without converting.
func (w *Watcher) pollRoot(root string, state *targetState) {
	if _, err := os.Stat(root); err != nil {
		slog.Warn("watcher.root_gone", "path", root)
		state.nextPoll = time.Now().Add(maxInterval)
		return
	}

	snap, paths, err := captureSnapshot(root)
	if err != nil {
		slog.Warn("watcher.snapshot", "path", root, "err", err)
		state.nextPoll = time.Now().Add(state.interval)
		return
	}

	interval := pollInterval(len(snap))

	if state.snapshot == nil {
		slog.Debug("watcher.baseline", "path", root, "files", len(snap))
		state.snapshot = snap
		state.interval = interval
		state.nextPoll = time.Now().Add(interval)
		return
	}

	changed := changedFiles(state.snapshot, snap)
	if len(changed) == 0 {
		state.interval = interval
		state.nextPoll = time.Now().Add(interval)
		return
	}

	slog.Info("watcher.changed", "path", root, "files", len(changed))
	failed := false
	for _, rel := range changed {
		if err := w.onChange(w.ctx, paths[rel]); err != nil {
			slog.Warn("watcher.convert", "path", paths[rel], "err", err)
			failed = true
		}
	}
	if failed {
		// keep the old snapshot so the failing file is retried
		state.nextPoll = time.Now().Add(interval)
		return
	}

	state.snapshot = snap
	state.interval = interval
	state.nextPoll = time.Now().Add(interval)
}

// captureSnapshot discovers the kernel files under root and records
// mtime+size for each, keyed by relative path.
func captureSnapshot(root string) (map[string]fileSnapshot, map[string]string, error) {
	files, err := discover.Discover(context.Background(), root, nil)
	if err != nil {
		return nil, nil, err
	}

	snap := make(map[string]fileSnapshot, len(files))
	paths := make(map[string]string, len(files))
	for _, f := range files {
		info, statErr := os.Stat(f.Path)
		if statErr != nil {
			continue
		}
		snap[f.RelPath] = fileSnapshot{
			modTime: info.ModTime(),
			size:    info.Size(),
		}
		paths[f.RelPath] = f.Path
	}
	return snap, paths, nil
}

// changedFiles returns the sorted files of b that are new or differ from a.
// Deleted files are not reported.
func changedFiles(a, b map[string]fileSnapshot) []string {
	var out []string
	for path, bSnap := range b {
		aSnap, ok := a[path]
		if !ok || !aSnap.modTime.Equal(bSnap.modTime) || aSnap.size != bSnap.size {
			out = append(out, path)
		}
	}
	sort.Strings(out)
	return out
}

// pollInterval computes the adaptive interval from file count.
// 1s base + 1s per 500 files, capped at 60s.
func pollInterval(fileCount int) time.Duration {
	ms := 1000 + (fileCount/500)*1000
	if ms > 60000 {
		ms = 60000
	}
	return time.Duration(ms) * time.Millisecond
}
