package localgames

import (
	"context"
	"errors"
	"io/fs"
	"log/slog"
	"maps"
	"os"
	"path/filepath"
	"slices"
	"strings"
	"sync"
	"time"

	"go.opentelemetry.io/otel/attribute"

	"github.com/mmcdole/originbridge/internal/domain"
	"github.com/mmcdole/originbridge/internal/metrics"
	"github.com/mmcdole/originbridge/internal/process"
	"github.com/mmcdole/originbridge/internal/tracing"
)

const manifestExt = ".mfst"

type fileStat struct {
	size    int64
	modTime int64 // unix nanoseconds
}

// Tracker keeps the last known local state of every game with a manifest under root.
// Scans never overlap: Update waits for a running scan, TryUpdate skips.
type Tracker struct {
	root    string
	scanner process.Scanner
	logger  *slog.Logger

	scanMu sync.Mutex // held for the duration of one scan

	mu        sync.RWMutex
	stats     map[string]fileStat
	manifests []Manifest
	snapshot  Snapshot
	lastScan  time.Time
}

// NewTracker creates a tracker. Nothing is read until the first Update.
func NewTracker(root string, scanner process.Scanner, logger *slog.Logger) *Tracker {
	if logger == nil {
		logger = slog.Default()
	}
	return &Tracker{
		root:     root,
		scanner:  scanner,
		logger:   logger,
		snapshot: Snapshot{},
	}
}

// Root returns the manifest directory being tracked
func (t *Tracker) Root() string {
	return t.root
}

// LocalGames returns the result of the last completed scan
func (t *Tracker) LocalGames() []domain.LocalGame {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return t.snapshot.Games()
}

// LastScan returns when the last scan completed (zero before the first)
func (t *Tracker) LastScan() time.Time {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return t.lastScan
}

// TryUpdate runs a scan unless one is already in progress, in which case it
// returns domain.ErrScanInProgress without waiting.
func (t *Tracker) TryUpdate(ctx context.Context) (games, changes []domain.LocalGame, err error) {
	if !t.scanMu.TryLock() {
		return nil, nil, domain.ErrScanInProgress
	}
	defer t.scanMu.Unlock()
	return t.update(ctx)
}

// Update scans manifests and processes and returns the current games plus
// the changes since the previous scan.
func (t *Tracker) Update(ctx context.Context) (games, changes []domain.LocalGame, err error) {
	t.scanMu.Lock()
	defer t.scanMu.Unlock()
	return t.update(ctx)
}

func (t *Tracker) update(ctx context.Context) (games, changes []domain.LocalGame, err error) {
	ctx, span := tracing.StartSpan(ctx, "localgames.update", attribute.String("root", t.root))
	defer func() { tracing.End(span, err) }()

	start := time.Now()
	defer metrics.RecordScanDuration(start)

	stats, err := statManifests(t.root)
	if err != nil {
		return nil, nil, err
	}

	t.mu.RLock()
	manifests := t.manifests
	reparse := !maps.Equal(stats, t.stats)
	before := t.snapshot
	t.mu.RUnlock()

	if reparse {
		t.logger.Debug("manifest tree changed, re-parsing", "root", t.root, "files", len(stats))
		manifests = t.parseAll(stats)
	}

	if err := ctx.Err(); err != nil {
		return nil, nil, err
	}

	after := ClassifyAll(manifests, process.ExePaths(t.scanner))
	changes = ComputeChanges(before, after)

	t.mu.Lock()
	t.stats = stats
	t.manifests = manifests
	t.snapshot = after
	t.lastScan = time.Now()
	t.mu.Unlock()

	if len(changes) > 0 {
		t.logger.Info("local games changed", "changes", len(changes), "games", len(after))
	}
	return after.Games(), changes, nil
}

// parseAll parses every manifest; files that fail are logged and left out
func (t *Tracker) parseAll(stats map[string]fileStat) []Manifest {
	manifests := make([]Manifest, 0, len(stats))
	for _, file := range sortedKeys(stats) {
		data, err := os.ReadFile(file)
		if err != nil {
			t.logger.Warn("failed to read manifest", "file", file, "error", err)
			continue
		}
		m, err := ParseManifest(file, data)
		if err != nil {
			var perr *ManifestParseError
			if errors.As(err, &perr) {
				t.logger.Warn("failed to parse manifest", "file", perr.File, "content", perr.Content, "reason", perr.Reason)
			}
			continue
		}
		manifests = append(manifests, m)
	}
	return manifests
}

// ManifestDir returns the directory holding gameID's manifest
func (t *Tracker) ManifestDir(gameID string) (string, bool) {
	t.mu.RLock()
	defer t.mu.RUnlock()
	for _, m := range t.manifests {
		if m.GameID == gameID {
			return filepath.Dir(m.File), true
		}
	}
	return "", false
}

// statManifests maps every *.mfst file under root to its size and mtime.
// A missing root yields an empty map.
func statManifests(root string) (map[string]fileStat, error) {
	stats := make(map[string]fileStat)
	root, err := filepath.Abs(root)
	if err != nil {
		return nil, err
	}

	err = filepath.WalkDir(root, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			if path == root && errors.Is(err, fs.ErrNotExist) {
				return fs.SkipAll
			}
			// Unreadable subtree
			return nil
		}
		if d.IsDir() || !strings.EqualFold(filepath.Ext(path), manifestExt) {
			return nil
		}
		info, err := d.Info()
		if err != nil {
			return nil
		}
		stats[path] = fileStat{size: info.Size(), modTime: info.ModTime().UnixNano()}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return stats, nil
}

func sortedKeys(m map[string]fileStat) []string {
	return slices.Sorted(maps.Keys(m))
}
