// Package storage enforces a byte budget over the audio artifact
// directory by evicting the oldest files first.
package storage

import (
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"sort"
	"sync"
	"time"
)

// Stats is a read-only snapshot of the artifact directory.
type Stats struct {
	TotalBytes     int64   `json:"total_bytes"`
	MaxBytes       int64   `json:"max_bytes"`
	UsedPercent    float64 `json:"used_percent"`
	FileCount      int     `json:"file_count"`
	AvailableBytes int64   `json:"available_bytes"`
}

// Manager owns capacity decisions for one artifact directory. Usage is
// always re-measured from disk, so external deletions never leave a
// stale index behind. Files pinned by an in-flight delivery are never
// evicted.
type Manager struct {
	dir      string
	maxBytes int64
	log      *slog.Logger

	mu   sync.Mutex
	pins map[string]int
}

func New(dir string, maxSizeMB int, log *slog.Logger) (*Manager, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("create storage dir: %w", err)
	}
	return &Manager{
		dir:      dir,
		maxBytes: int64(maxSizeMB) * 1024 * 1024,
		log:      log.With(slog.String("component", "storage")),
		pins:     make(map[string]int),
	}, nil
}

func (m *Manager) Dir() string { return m.dir }

// Pin marks a file as in use so eviction skips it. Pins are counted;
// every Pin needs a matching Unpin.
func (m *Manager) Pin(path string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.pins[filepath.Clean(path)]++
}

func (m *Manager) Unpin(path string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	key := filepath.Clean(path)
	if m.pins[key] <= 1 {
		delete(m.pins, key)
	} else {
		m.pins[key]--
	}
}

func (m *Manager) pinned(path string) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.pins[filepath.Clean(path)] > 0
}

// UsedBytes sums the size of every file under the directory. Files that
// vanish mid-scan are skipped.
func (m *Manager) UsedBytes() int64 {
	var total int64
	_ = filepath.WalkDir(m.dir, func(path string, d fs.DirEntry, err error) error {
		if err != nil || d.IsDir() {
			return nil
		}
		if info, statErr := d.Info(); statErr == nil {
			total += info.Size()
		}
		return nil
	})
	return total
}

type agedFile struct {
	path    string
	size    int64
	modTime time.Time
}

func (m *Manager) filesByAge() []agedFile {
	var files []agedFile
	_ = filepath.WalkDir(m.dir, func(path string, d fs.DirEntry, err error) error {
		if err != nil || d.IsDir() {
			return nil
		}
		info, statErr := d.Info()
		if statErr != nil {
			return nil
		}
		files = append(files, agedFile{path: path, size: info.Size(), modTime: info.ModTime()})
		return nil
	})
	sort.Slice(files, func(i, j int) bool { return files[i].modTime.Before(files[j].modTime) })
	return files
}

// EnsureSpace makes room for required additional bytes, deleting the
// oldest unpinned files until the budget would hold them. It reports
// whether the directory can actually absorb the write; false means the
// caller should not start producing the artifact.
func (m *Manager) EnsureSpace(required int64) bool {
	current := m.UsedBytes()
	if current+required <= m.maxBytes {
		return true
	}

	m.evict(current, required)

	return m.UsedBytes()+required <= m.maxBytes
}

func (m *Manager) evict(current, required int64) {
	target := m.maxBytes - required

	var freed int64
	deleted := 0
	for _, f := range m.filesByAge() {
		if current-freed <= target {
			break
		}
		if m.pinned(f.path) {
			continue
		}
		if err := os.Remove(f.path); err != nil {
			m.log.Warn("failed to evict file",
				slog.String("path", f.path),
				slog.String("error", err.Error()))
			continue
		}
		freed += f.size
		deleted++
		m.log.Info("evicted artifact",
			slog.String("path", filepath.Base(f.path)),
			slog.Int64("bytes", f.size),
			slog.Time("mod_time", f.modTime))
	}

	if deleted > 0 {
		m.log.Info("eviction finished",
			slog.Int("deleted", deleted),
			slog.Int64("freed_bytes", freed))
	}
}

// Stats returns a display snapshot of current usage.
func (m *Manager) Stats() Stats {
	used := m.UsedBytes()

	count := 0
	_ = filepath.WalkDir(m.dir, func(path string, d fs.DirEntry, err error) error {
		if err == nil && !d.IsDir() {
			count++
		}
		return nil
	})

	var percent float64
	if m.maxBytes > 0 {
		percent = float64(used) / float64(m.maxBytes) * 100
	}
	return Stats{
		TotalBytes:     used,
		MaxBytes:       m.maxBytes,
		UsedPercent:    percent,
		FileCount:      count,
		AvailableBytes: m.maxBytes - used,
	}
}
