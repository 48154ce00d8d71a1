package contentindex

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"
	"sync"
	"time"

	lru "github.com/hashicorp/golang-lru/v2"
	_ "modernc.org/sqlite"

	"git.home.luguber.info/inful/assetbuild/internal/logfields"
	"git.home.luguber.info/inful/assetbuild/internal/objectid"
)

const defaultCacheSize = 4096

type pendingWrite struct {
	loc  objectid.Location
	hash objectid.ContentHash
}

// SQLiteIndex persists the index in SQLite. Puts are queued to a single writer
// goroutine; reads see queued writes immediately and hits are cached in an LRU.
type SQLiteIndex struct {
	db     *sql.DB
	cache  *lru.Cache[objectid.Location, objectid.ContentHash]
	logger *slog.Logger

	mu       sync.Mutex
	pending  map[objectid.Location]objectid.ContentHash
	writeErr error
	closed   bool

	sendMu   sync.RWMutex
	writes   chan pendingWrite
	inflight sync.WaitGroup
	stopped  chan struct{}
}

// NewSQLiteIndex opens the index at dbPath. Use ":memory:" for a throwaway index.
func NewSQLiteIndex(dbPath string) (*SQLiteIndex, error) {
	db, err := sql.Open("sqlite", dbPath)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrDatabaseOpenFailed, err)
	}
	// One connection keeps ":memory:" databases shared and serializes writers.
	db.SetMaxOpenConns(1)

	cache, err := lru.New[objectid.Location, objectid.ContentHash](defaultCacheSize)
	if err != nil {
		_ = db.Close()
		return nil, err
	}

	idx := &SQLiteIndex{
		db:      db,
		cache:   cache,
		logger:  slog.Default(),
		pending: make(map[objectid.Location]objectid.ContentHash),
		writes:  make(chan pendingWrite, 256),
		stopped: make(chan struct{}),
	}
	if err := idx.initialize(); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("initialize content index schema: %w", err)
	}
	go idx.writer()
	return idx, nil
}

// WithLogger sets the logger for write failures.
func (s *SQLiteIndex) WithLogger(logger *slog.Logger) *SQLiteIndex {
	if logger != nil {
		s.logger = logger
	}
	return s
}

func (s *SQLiteIndex) initialize() error {
	schema := `
	CREATE TABLE IF NOT EXISTS content_index (
		url_type INTEGER NOT NULL,
		path TEXT NOT NULL,
		hash TEXT NOT NULL,
		updated_at INTEGER NOT NULL,
		PRIMARY KEY (url_type, path)
	);
	`
	_, err := s.db.Exec(schema)
	return err
}

func (s *SQLiteIndex) writer() {
	defer close(s.stopped)
	for w := range s.writes {
		_, err := s.db.Exec(
			`INSERT INTO content_index (url_type, path, hash, updated_at) VALUES (?, ?, ?, ?)
			ON CONFLICT(url_type, path) DO UPDATE SET hash = excluded.hash, updated_at = excluded.updated_at`,
			int(w.loc.Type), w.loc.Path, w.hash.String(), time.Now().Unix(),
		)

		s.mu.Lock()
		if cur, ok := s.pending[w.loc]; ok && cur == w.hash {
			delete(s.pending, w.loc)
		}
		if err != nil {
			if s.writeErr == nil {
				s.writeErr = fmt.Errorf("%w: %s: %w", ErrWriteFailed, w.loc, err)
			}
			s.logger.Error("Content index write failed", logfields.Location(w.loc.String()), logfields.Error(err))
		} else {
			s.cache.Add(w.loc, w.hash)
		}
		s.mu.Unlock()
		s.inflight.Done()
	}
}

// Lookup checks pending writes, then the read cache, then the database.
func (s *SQLiteIndex) Lookup(ctx context.Context, loc objectid.Location) (objectid.ContentHash, bool, error) {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return objectid.Empty, false, ErrIndexClosed
	}
	if h, ok := s.pending[loc]; ok {
		s.mu.Unlock()
		return h, true, nil
	}
	s.mu.Unlock()

	if h, ok := s.cache.Get(loc); ok {
		return h, true, nil
	}

	var hex string
	err := s.db.QueryRowContext(ctx,
		"SELECT hash FROM content_index WHERE url_type = ? AND path = ?",
		int(loc.Type), loc.Path,
	).Scan(&hex)
	if err == sql.ErrNoRows {
		return objectid.Empty, false, nil
	}
	if err != nil {
		return objectid.Empty, false, fmt.Errorf("query content index: %w", err)
	}
	h, err := objectid.ParseContentHash(hex)
	if err != nil {
		return objectid.Empty, false, err
	}
	s.cache.Add(loc, h)
	return h, true, nil
}

// Exists reports whether anything is published at loc.
func (s *SQLiteIndex) Exists(ctx context.Context, loc objectid.Location) (bool, error) {
	_, ok, err := s.Lookup(ctx, loc)
	return ok, err
}

// Search returns every entry matching pred, pending writes included.
func (s *SQLiteIndex) Search(ctx context.Context, pred Predicate) (map[objectid.Location]objectid.ContentHash, error) {
	all, err := s.Snapshot(ctx)
	if err != nil {
		return nil, err
	}
	if pred == nil {
		return all, nil
	}
	for loc, h := range all {
		if !pred(loc, h) {
			delete(all, loc)
		}
	}
	return all, nil
}

// Snapshot returns every entry, pending writes included.
func (s *SQLiteIndex) Snapshot(ctx context.Context) (map[objectid.Location]objectid.ContentHash, error) {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return nil, ErrIndexClosed
	}
	s.mu.Unlock()

	rows, err := s.db.QueryContext(ctx, "SELECT url_type, path, hash FROM content_index")
	if err != nil {
		return nil, fmt.Errorf("query content index: %w", err)
	}
	defer rows.Close()

	out := make(map[objectid.Location]objectid.ContentHash)
	for rows.Next() {
		var urlType int
		var path, hex string
		if err := rows.Scan(&urlType, &path, &hex); err != nil {
			return nil, fmt.Errorf("scan content index row: %w", err)
		}
		h, err := objectid.ParseContentHash(hex)
		if err != nil {
			return nil, err
		}
		out[objectid.Location{Type: objectid.URLType(urlType), Path: path}] = h
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate content index rows: %w", err)
	}

	s.mu.Lock()
	for loc, h := range s.pending {
		out[loc] = h
	}
	s.mu.Unlock()
	return out, nil
}

// Put queues a write; it is visible to reads immediately.
func (s *SQLiteIndex) Put(_ context.Context, loc objectid.Location, hash objectid.ContentHash) error {
	s.sendMu.RLock()
	defer s.sendMu.RUnlock()

	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return ErrIndexClosed
	}
	s.pending[loc] = hash
	s.inflight.Add(1)
	s.mu.Unlock()

	s.writes <- pendingWrite{loc: loc, hash: hash}
	return nil
}

// WaitPendingOperations blocks until queued writes are persisted and returns the first
// write failure since the previous call.
func (s *SQLiteIndex) WaitPendingOperations(ctx context.Context) error {
	done := make(chan struct{})
	go func() {
		s.inflight.Wait()
		close(done)
	}()
	select {
	case <-done:
	case <-ctx.Done():
		return ctx.Err()
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	err := s.writeErr
	s.writeErr = nil
	return err
}

// Close drains queued writes and closes the database.
func (s *SQLiteIndex) Close() error {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return nil
	}
	s.closed = true
	s.mu.Unlock()

	s.sendMu.Lock()
	close(s.writes)
	s.sendMu.Unlock()
	<-s.stopped
	s.cache.Purge()
	return s.db.Close()
}
