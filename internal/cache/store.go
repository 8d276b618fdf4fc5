// Package cache implements the on-disk fragment store. Entries live under
// one directory per operation, one CSV file per fingerprint; the file's
// modification time is the sole freshness signal. The store owns the
// process-lifetime hit/miss/expired counters.
package cache

import (
	"fmt"
	"log/slog"
	"math"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/quantstash/go-tushare-cache/internal/config"
	"github.com/quantstash/go-tushare-cache/internal/fingerprint"
	"github.com/quantstash/go-tushare-cache/internal/models"
)

// Stats holds the store's lookup counters and their derived percentage
// rates. All fields are zero before the first lookup.
type Stats struct {
	Hit     int64 `json:"hit"`
	Miss    int64 `json:"miss"`
	Expired int64 `json:"expired"`

	HitRate     float64 `json:"hit_rate"`
	MissRate    float64 `json:"miss_rate"`
	ExpiredRate float64 `json:"expired_rate"`
}

// Total returns the number of lookups counted so far.
func (s Stats) Total() int64 {
	return s.Hit + s.Miss + s.Expired
}

// String returns a compact single-line representation suitable for
// attaching to error messages.
func (s Stats) String() string {
	return fmt.Sprintf("hit=%d (%.2f%%) miss=%d (%.2f%%) expired=%d (%.2f%%)",
		s.Hit, s.HitRate, s.Miss, s.MissRate, s.Expired, s.ExpiredRate)
}

// StorageError represents a fatal cache I/O failure. The store never
// degrades to silently bypassing the cache on I/O errors, because that
// would produce inconsistent freshness guarantees.
type StorageError struct {
	Operation string // store operation that failed: "load", "save", "delete"
	Path      string
	Err       error
}

// Error implements the error interface.
func (e *StorageError) Error() string {
	return fmt.Sprintf("cache %s failed for %s: %v", e.Operation, e.Path, e.Err)
}

// Unwrap returns the underlying error for error chain support.
func (e *StorageError) Unwrap() error {
	return e.Err
}

// Store persists tabular fragments keyed by fingerprint.
type Store struct {
	root     string
	policies config.CacheConfig
	logger   *slog.Logger
	now      func() time.Time

	mu      sync.Mutex
	hit     int64
	miss    int64
	expired int64
}

// New creates a store rooted at cfg.Root, creating the directory if needed.
func New(cfg config.CacheConfig, logger *slog.Logger) (*Store, error) {
	if logger == nil {
		logger = slog.Default()
	}

	root, err := filepath.Abs(cfg.Root)
	if err != nil {
		return nil, fmt.Errorf("failed to resolve cache root %s: %w", cfg.Root, err)
	}
	if err := os.MkdirAll(root, 0755); err != nil {
		return nil, &StorageError{Operation: "init", Path: root, Err: err}
	}

	return &Store{
		root:     root,
		policies: cfg,
		logger:   logger,
		now:      time.Now,
	}, nil
}

// Root returns the resolved cache root directory.
func (s *Store) Root() string {
	return s.root
}

// EntryPath returns the on-disk path of the entry identified by
// (operation, params). A fingerprinting failure is a configuration error.
func (s *Store) EntryPath(operation string, params fingerprint.Params) (string, error) {
	key, err := fingerprint.Key(operation, params)
	if err != nil {
		return "", err
	}
	return filepath.Join(s.root, operation, key+".csv"), nil
}

// Load returns the cached fragment for (operation, params), or nil when the
// entry is absent or stale. A stale entry is left in place for a later
// overwrite; an unreadable or empty entry is deleted so a subsequent Save
// can succeed. I/O failures other than absence are fatal.
func (s *Store) Load(operation string, params fingerprint.Params) (*models.Fragment, error) {
	path, err := s.EntryPath(operation, params)
	if err != nil {
		return nil, err
	}

	info, err := os.Stat(path)
	if os.IsNotExist(err) {
		s.recordMiss()
		return nil, nil
	}
	if err != nil {
		return nil, &StorageError{Operation: "load", Path: path, Err: err}
	}

	policy := s.policies.PolicyFor(operation)
	age := s.now().Sub(info.ModTime())
	if age > time.Duration(policy.ExpiryDays)*24*time.Hour {
		s.recordExpired()
		s.logger.Debug("cache entry expired",
			"operation", operation,
			"path", path,
			"age", age,
			"expiry_days", policy.ExpiryDays)
		return nil, nil
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, &StorageError{Operation: "load", Path: path, Err: err}
	}

	frag, decodeErr := decodeFragment(data)
	if decodeErr != nil || frag.IsEmpty() {
		// Self-heal: a corrupt or empty entry counts as a miss and is
		// removed so the next Save is not blocked by it.
		if err := os.Remove(path); err != nil && !os.IsNotExist(err) {
			return nil, &StorageError{Operation: "load", Path: path, Err: err}
		}
		s.recordMiss()
		s.logger.Warn("removed corrupt cache entry",
			"operation", operation,
			"path", path,
			"decode_error", decodeErr)
		return nil, nil
	}

	s.recordHit()
	return frag, nil
}

// Save persists the fragment under the fingerprint of (operation, params).
// Zero-row fragments are never persisted: an empty file would be
// indistinguishable from a failed fetch on a later read. The write goes
// through a temp file and rename so readers never observe a partial entry.
func (s *Store) Save(operation string, params fingerprint.Params, frag *models.Fragment) error {
	if frag.IsEmpty() {
		s.logger.Debug("skipping save of empty fragment", "operation", operation)
		return nil
	}

	path, err := s.EntryPath(operation, params)
	if err != nil {
		return err
	}

	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return &StorageError{Operation: "save", Path: dir, Err: err}
	}

	tmp, err := os.CreateTemp(dir, filepath.Base(path)+".tmp-*")
	if err != nil {
		return &StorageError{Operation: "save", Path: dir, Err: err}
	}
	tmpName := tmp.Name()

	if err := encodeFragment(tmp, frag); err != nil {
		tmp.Close()
		os.Remove(tmpName)
		return &StorageError{Operation: "save", Path: path, Err: err}
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmpName)
		return &StorageError{Operation: "save", Path: path, Err: err}
	}
	if err := os.Rename(tmpName, path); err != nil {
		os.Remove(tmpName)
		return &StorageError{Operation: "save", Path: path, Err: err}
	}

	s.logger.Debug("persisted cache entry",
		"operation", operation,
		"path", path,
		"rows", frag.Len())
	return nil
}

// Delete removes the entry for (operation, params) if present. Deleting an
// absent entry is not an error.
func (s *Store) Delete(operation string, params fingerprint.Params) error {
	path, err := s.EntryPath(operation, params)
	if err != nil {
		return err
	}
	if err := os.Remove(path); err != nil && !os.IsNotExist(err) {
		return &StorageError{Operation: "delete", Path: path, Err: err}
	}
	return nil
}

// Stats returns a snapshot of the lookup counters with derived rates.
// All rates are zero when no lookups have occurred.
func (s *Store) Stats() Stats {
	s.mu.Lock()
	defer s.mu.Unlock()

	stats := Stats{Hit: s.hit, Miss: s.miss, Expired: s.expired}
	total := stats.Total()
	if total == 0 {
		return stats
	}
	stats.HitRate = roundRate(stats.Hit, total)
	stats.MissRate = roundRate(stats.Miss, total)
	stats.ExpiredRate = roundRate(stats.Expired, total)
	return stats
}

// roundRate returns n/total as a percentage rounded to two decimals.
func roundRate(n, total int64) float64 {
	return math.Round(float64(n)/float64(total)*10000) / 100
}

func (s *Store) recordHit() {
	s.mu.Lock()
	s.hit++
	s.mu.Unlock()
}

func (s *Store) recordMiss() {
	s.mu.Lock()
	s.miss++
	s.mu.Unlock()
}

func (s *Store) recordExpired() {
	s.mu.Lock()
	s.expired++
	s.mu.Unlock()
}
