// Package backup writes periodic compressed exports of the full world
// state. Backups are a safety net over the write-through database, not a
// replacement for it.
package backup

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/klauspost/compress/zstd"

	"github.com/talgya/omniworld/internal/store"
)

// Runner owns the backup schedule and retention.
type Runner struct {
	store *store.Store
	dir   string
	keep  int
	log   *slog.Logger
}

// NewRunner creates a backup runner. keep bounds retained files.
func NewRunner(st *store.Store, dir string, keep int, log *slog.Logger) *Runner {
	if keep <= 0 {
		keep = 48
	}
	return &Runner{
		store: st,
		dir:   dir,
		keep:  keep,
		log:   log.With("component", "backup"),
	}
}

// Run takes a backup every interval until ctx is done. The caller takes
// the final shutdown backup itself.
func (r *Runner) Run(ctx context.Context, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if path, err := r.Snapshot(); err != nil {
				r.log.Error("backup failed", "error", err)
			} else {
				r.log.Info("backup written", "path", path)
			}
		}
	}
}

// Snapshot writes one compressed export and prunes old files. Returns the
// written path.
func (r *Runner) Snapshot() (string, error) {
	if err := os.MkdirAll(r.dir, 0o755); err != nil {
		return "", fmt.Errorf("backup dir: %w", err)
	}

	name := fmt.Sprintf("world-%s.json.zst", time.Now().UTC().Format("20060102-150405"))
	path := filepath.Join(r.dir, name)
	tmp := path + ".tmp"

	f, err := os.Create(tmp)
	if err != nil {
		return "", fmt.Errorf("create backup: %w", err)
	}
	zw, err := zstd.NewWriter(f)
	if err != nil {
		f.Close()
		return "", fmt.Errorf("zstd writer: %w", err)
	}
	enc := json.NewEncoder(zw)
	encErr := enc.Encode(r.store.FullExport())
	if cerr := zw.Close(); encErr == nil {
		encErr = cerr
	}
	if cerr := f.Close(); encErr == nil {
		encErr = cerr
	}
	if encErr != nil {
		os.Remove(tmp)
		return "", fmt.Errorf("write backup: %w", encErr)
	}
	if err := os.Rename(tmp, path); err != nil {
		return "", fmt.Errorf("finalize backup: %w", err)
	}

	r.prune()
	return path, nil
}

// Restore reads an export file back into a store.Export.
func Restore(path string) (*store.Export, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open backup: %w", err)
	}
	defer f.Close()
	zr, err := zstd.NewReader(f)
	if err != nil {
		return nil, fmt.Errorf("zstd reader: %w", err)
	}
	defer zr.Close()
	var ex store.Export
	if err := json.NewDecoder(zr).Decode(&ex); err != nil {
		return nil, fmt.Errorf("decode backup: %w", err)
	}
	return &ex, nil
}

// prune deletes the oldest backups beyond the retention count. Filenames
// sort chronologically by construction.
func (r *Runner) prune() {
	entries, err := os.ReadDir(r.dir)
	if err != nil {
		return
	}
	var names []string
	for _, e := range entries {
		if !e.IsDir() && strings.HasSuffix(e.Name(), ".json.zst") {
			names = append(names, e.Name())
		}
	}
	sort.Strings(names)
	for len(names) > r.keep {
		old := names[0]
		names = names[1:]
		if err := os.Remove(filepath.Join(r.dir, old)); err != nil {
			r.log.Warn("prune failed", "file", old, "error", err)
		}
	}
}
