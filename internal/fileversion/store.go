// Package fileversion persists file fingerprints (path, modification time, size) mapped
// to content hashes so unchanged source files are never rehashed.
package fileversion

import (
	"bytes"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"sync"

	"github.com/gofrs/flock"
	"golang.org/x/text/cases"

	"git.home.luguber.info/inful/assetbuild/internal/logfields"
	"git.home.luguber.info/inful/assetbuild/internal/objectid"
)

// Store maps fingerprints to content hashes. Records are appended to a line-oriented
// file; Compact rewrites it keeping one entry per path. Appends hold a shared lock on
// the file and compaction an exclusive one, so several processes may share a store.
type Store struct {
	path   string
	logger *slog.Logger

	mu      sync.Mutex
	entries map[Fingerprint]objectid.ContentHash
	file    *os.File
}

// NewMemoryStore returns a store that is never persisted.
func NewMemoryStore() *Store {
	return &Store{
		logger:  slog.Default(),
		entries: make(map[Fingerprint]objectid.ContentHash),
	}
}

// Open loads the store at path. A missing file yields an empty store.
func Open(path string) (*Store, error) {
	s := NewMemoryStore()
	s.path = path
	if err := s.load(); err != nil {
		return nil, err
	}
	return s, nil
}

// WithLogger sets the logger used for compaction and recovery messages.
func (s *Store) WithLogger(logger *slog.Logger) *Store {
	if logger != nil {
		s.logger = logger
	}
	return s
}

// Path returns the backing file path, empty for memory stores.
func (s *Store) Path() string { return s.path }

func (s *Store) load() error {
	f, err := os.Open(s.path)
	if os.IsNotExist(err) {
		return nil
	}
	if err != nil {
		return fmt.Errorf("open file version store: %w", err)
	}
	defer func() { _ = f.Close() }()

	entries, skipped, err := ReadEntries(f)
	if err != nil {
		return fmt.Errorf("read file version store: %w", err)
	}
	if skipped > 0 {
		s.logger.Warn("Skipped malformed file version entries",
			logfields.Path(s.path), slog.Int("skipped", skipped))
	}
	s.entries = entries
	return nil
}

// Lookup returns the hash recorded for fp.
func (s *Store) Lookup(fp Fingerprint) (objectid.ContentHash, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	h, ok := s.entries[fp]
	return h, ok
}

// Len returns the number of entries held in memory.
func (s *Store) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.entries)
}

// Entries returns a copy of the in-memory map.
func (s *Store) Entries() map[Fingerprint]objectid.ContentHash {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make(map[Fingerprint]objectid.ContentHash, len(s.entries))
	for fp, h := range s.entries {
		out[fp] = h
	}
	return out
}

// Record stores hash for fp and appends it to the backing file. Recording an
// unchanged entry is a no-op.
func (s *Store) Record(fp Fingerprint, hash objectid.ContentHash) error {
	if err := fp.validate(); err != nil {
		return err
	}
	if hash.IsEmpty() {
		return fmt.Errorf("refusing to record empty hash for %s", fp.Path)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if existing, ok := s.entries[fp]; ok && existing == hash {
		return nil
	}
	s.entries[fp] = hash

	if s.path == "" {
		return nil
	}
	return s.appendLine(formatLine(fp, hash))
}

func (s *Store) lockPath() string { return s.path + ".lock" }

// appendLine writes line under the shared lock. Callers hold s.mu.
func (s *Store) appendLine(line string) error {
	if err := os.MkdirAll(filepath.Dir(s.path), 0o750); err != nil {
		return fmt.Errorf("create file version directory: %w", err)
	}
	lock := flock.New(s.lockPath())
	if err := lock.RLock(); err != nil {
		return fmt.Errorf("lock file version store: %w", err)
	}
	defer func() { _ = lock.Unlock() }()

	if err := s.openAppend(); err != nil {
		return err
	}
	if _, err := s.file.WriteString(line); err != nil {
		return fmt.Errorf("append file version entry: %w", err)
	}
	return nil
}

// openAppend opens the append handle, reopening it when the file it points at was
// replaced by a compaction.
func (s *Store) openAppend() error {
	if s.file != nil {
		held, herr := s.file.Stat()
		current, cerr := os.Stat(s.path)
		if herr == nil && cerr == nil && os.SameFile(held, current) {
			return nil
		}
		_ = s.file.Close()
		s.file = nil
	}
	f, err := os.OpenFile(s.path, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0o600)
	if err != nil {
		return fmt.Errorf("open file version store for append: %w", err)
	}
	s.file = f
	return nil
}

// HashFile returns the content hash of the file at path, reusing the recorded hash
// when its fingerprint is unchanged.
func (s *Store) HashFile(path string) (objectid.ContentHash, error) {
	info, err := os.Stat(path)
	if err != nil {
		return objectid.Empty, err
	}
	if info.IsDir() {
		return objectid.Empty, fmt.Errorf("%s is a directory", path)
	}

	fp := FingerprintOf(path, info)
	if h, ok := s.Lookup(fp); ok {
		return h, nil
	}

	f, err := os.Open(path)
	if err != nil {
		return objectid.Empty, err
	}
	defer func() { _ = f.Close() }()

	h, err := objectid.HashReader(f)
	if err != nil {
		return objectid.Empty, fmt.Errorf("hash %s: %w", path, err)
	}
	if err := s.Record(fp, h); err != nil {
		s.logger.Warn("Failed to record file version", logfields.Path(path), logfields.Error(err))
	}
	return h, nil
}

// Compact rewrites the backing file keeping only the most recent entry per path,
// comparing paths case-insensitively. It returns false without touching the file when
// another store holds the lock or the rewrite fails.
func (s *Store) Compact() bool {
	if s.path == "" {
		return false
	}

	// s.mu before the file lock: Record takes them in the same order.
	s.mu.Lock()
	defer s.mu.Unlock()

	if err := os.MkdirAll(filepath.Dir(s.path), 0o750); err != nil {
		s.logger.Warn("File version compaction failed", logfields.Path(s.path), logfields.Error(err))
		return false
	}
	lock := flock.New(s.lockPath())
	locked, err := lock.TryLock()
	if err != nil || !locked {
		s.logger.Info("File version compaction skipped, store is locked",
			logfields.Path(s.path), logfields.Error(err))
		return false
	}
	defer func() { _ = lock.Unlock() }()

	// Pick up lines appended by other processes since load.
	merged := make(map[Fingerprint]objectid.ContentHash, len(s.entries))
	if f, err := os.Open(s.path); err == nil {
		onDisk, _, rerr := ReadEntries(f)
		_ = f.Close()
		if rerr != nil {
			s.logger.Warn("File version compaction failed", logfields.Path(s.path), logfields.Error(rerr))
			return false
		}
		for fp, h := range onDisk {
			merged[fp] = h
		}
	}
	for fp, h := range s.entries {
		merged[fp] = h
	}

	compacted := latestPerPath(merged)

	if err := s.rewrite(compacted); err != nil {
		s.logger.Warn("File version compaction failed", logfields.Path(s.path), logfields.Error(err))
		return false
	}

	s.logger.Info("Compacted file version store",
		logfields.Path(s.path),
		slog.Int("before", len(merged)),
		slog.Int("after", len(compacted)))
	s.entries = compacted
	return true
}

func latestPerPath(entries map[Fingerprint]objectid.ContentHash) map[Fingerprint]objectid.ContentHash {
	fold := cases.Fold()
	latest := make(map[string]Fingerprint, len(entries))
	for fp := range entries {
		key := fold.String(filepath.ToSlash(fp.Path))
		cur, ok := latest[key]
		if !ok || newer(fp, cur) {
			latest[key] = fp
		}
	}
	out := make(map[Fingerprint]objectid.ContentHash, len(latest))
	for _, fp := range latest {
		out[fp] = entries[fp]
	}
	return out
}

// newer orders by modification time; ties break on size then path so the choice
// does not depend on map iteration order.
func newer(a, b Fingerprint) bool {
	if a.LastModified != b.LastModified {
		return a.LastModified > b.LastModified
	}
	if a.Size != b.Size {
		return a.Size > b.Size
	}
	return a.Path > b.Path
}

func (s *Store) rewrite(entries map[Fingerprint]objectid.ContentHash) error {
	if s.file != nil {
		_ = s.file.Close()
		s.file = nil
	}

	tmp, err := os.CreateTemp(filepath.Dir(s.path), filepath.Base(s.path)+".*.tmp")
	if err != nil {
		return err
	}
	tmpName := tmp.Name()
	cleanup := func() { _ = os.Remove(tmpName) }

	if err := WriteEntries(tmp, entries); err != nil {
		_ = tmp.Close()
		cleanup()
		return err
	}
	if err := tmp.Sync(); err != nil {
		_ = tmp.Close()
		cleanup()
		return err
	}
	if err := tmp.Close(); err != nil {
		cleanup()
		return err
	}
	if err := os.Rename(tmpName, s.path); err != nil {
		cleanup()
		return err
	}
	return nil
}

// Close releases the append handle.
func (s *Store) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.file == nil {
		return nil
	}
	err := s.file.Close()
	s.file = nil
	return err
}

// WriteTo writes a snapshot of the in-memory entries in the line format.
func (s *Store) WriteTo(w io.Writer) (int64, error) {
	var buf bytes.Buffer
	if err := WriteEntries(&buf, s.Entries()); err != nil {
		return 0, err
	}
	return buf.WriteTo(w)
}
