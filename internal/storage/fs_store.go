package storage

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"git.home.luguber.info/inful/assetbuild/internal/logfields"
	"git.home.luguber.info/inful/assetbuild/internal/objectid"
)

// FSStore is a filesystem-based implementation of ObjectStore:
//
//	<base>/
//	  objects/
//	    ab/
//	      cd1234... (first 2 hex chars = subdir, rest = filename)
//	  refs/
//	    results/<key> (file containing an object hash)
type FSStore struct {
	basePath string
	logger   *slog.Logger
	mu       sync.RWMutex
}

// NewFSStore creates a new filesystem-based object store.
func NewFSStore(basePath string) (*FSStore, error) {
	dirs := []string{
		filepath.Join(basePath, "objects"),
		filepath.Join(basePath, "refs"),
	}
	for _, dir := range dirs {
		if err := os.MkdirAll(dir, 0o750); err != nil {
			return nil, fmt.Errorf("create directory %s: %w", dir, err)
		}
	}
	return &FSStore{basePath: basePath, logger: slog.Default()}, nil
}

// WithLogger sets the logger.
func (fs *FSStore) WithLogger(logger *slog.Logger) *FSStore {
	if logger != nil {
		fs.logger = logger
	}
	return fs
}

// Put stores an object and returns its content hash.
func (fs *FSStore) Put(_ context.Context, obj *Object) (objectid.ContentHash, error) {
	hash, err := contentHash(obj)
	if err != nil {
		return objectid.Empty, err
	}

	fs.mu.Lock()
	defer fs.mu.Unlock()

	objectPath := fs.objectPath(hash)
	if _, err := os.Stat(objectPath); err == nil {
		metadata, err := fs.readMetadata(hash)
		if err == nil {
			metadata.RefCount++
			metadata.LastAccessed = time.Now()
			if err := fs.writeMetadata(hash, metadata); err != nil {
				return hash, fmt.Errorf("update metadata: %w", err)
			}
		}
		return hash, nil
	}

	if err := os.MkdirAll(filepath.Dir(objectPath), 0o750); err != nil {
		return objectid.Empty, fmt.Errorf("create object directory: %w", err)
	}
	// Objects appear under their hash only once fully written.
	tmp := objectPath + ".tmp"
	if err := os.WriteFile(tmp, obj.Data, 0o600); err != nil {
		return objectid.Empty, fmt.Errorf("write object: %w", err)
	}
	if err := os.Rename(tmp, objectPath); err != nil {
		_ = os.Remove(tmp)
		return objectid.Empty, fmt.Errorf("commit object: %w", err)
	}

	now := time.Now()
	metadata := Metadata{
		CreatedAt:    now,
		LastAccessed: now,
		RefCount:     1,
		Custom:       make(map[string]string),
	}
	for k, v := range obj.Metadata.Custom {
		metadata.Custom[k] = v
	}
	metadata.Custom["object_type"] = string(obj.Type)

	if err := fs.writeMetadata(hash, metadata); err != nil {
		return hash, fmt.Errorf("write metadata: %w", err)
	}
	return hash, nil
}

// Get retrieves an object by its content hash.
func (fs *FSStore) Get(_ context.Context, hash objectid.ContentHash) (*Object, error) {
	fs.mu.Lock()
	defer fs.mu.Unlock()

	// #nosec G304 - objectPath is built from a parsed hash
	data, err := os.ReadFile(fs.objectPath(hash))
	if err != nil {
		if os.IsNotExist(err) {
			return nil, ErrNotFound{Hash: hash}
		}
		return nil, fmt.Errorf("read object: %w", err)
	}

	metadata, err := fs.readMetadata(hash)
	if err != nil {
		metadata = Metadata{CreatedAt: time.Now(), RefCount: 1, Custom: make(map[string]string)}
	}
	metadata.LastAccessed = time.Now()
	if err := fs.writeMetadata(hash, metadata); err != nil {
		fs.logger.Warn("Failed to update object metadata", logfields.Hash(hash.String()), logfields.Error(err))
	}

	return &Object{
		Hash:     hash,
		Type:     ObjectType(metadata.Custom["object_type"]),
		Size:     int64(len(data)),
		Data:     data,
		Metadata: metadata,
	}, nil
}

// Exists checks if an object with the given hash exists.
func (fs *FSStore) Exists(_ context.Context, hash objectid.ContentHash) (bool, error) {
	fs.mu.RLock()
	defer fs.mu.RUnlock()

	_, err := os.Stat(fs.objectPath(hash))
	if err != nil {
		if os.IsNotExist(err) {
			return false, nil
		}
		return false, fmt.Errorf("stat object: %w", err)
	}
	return true, nil
}

// Delete removes an object by its content hash.
func (fs *FSStore) Delete(_ context.Context, hash objectid.ContentHash) error {
	fs.mu.Lock()
	defer fs.mu.Unlock()
	return fs.deleteUnlocked(hash)
}

// List returns all object hashes matching the given type filter.
func (fs *FSStore) List(_ context.Context, objectType ObjectType) ([]objectid.ContentHash, error) {
	fs.mu.RLock()
	defer fs.mu.RUnlock()
	return fs.listUnlocked(objectType)
}

// SetRef points name at hash.
func (fs *FSStore) SetRef(_ context.Context, name string, hash objectid.ContentHash) error {
	if !validRefName(name) {
		return fmt.Errorf("invalid ref name %q", name)
	}
	fs.mu.Lock()
	defer fs.mu.Unlock()

	refPath := fs.refPath(name)
	if err := os.MkdirAll(filepath.Dir(refPath), 0o750); err != nil {
		return fmt.Errorf("create ref directory: %w", err)
	}
	tmp := refPath + ".tmp"
	if err := os.WriteFile(tmp, []byte(hash.String()+"\n"), 0o600); err != nil {
		return fmt.Errorf("write ref: %w", err)
	}
	return os.Rename(tmp, refPath)
}

// GetRef resolves name.
func (fs *FSStore) GetRef(_ context.Context, name string) (objectid.ContentHash, bool, error) {
	if !validRefName(name) {
		return objectid.Empty, false, fmt.Errorf("invalid ref name %q", name)
	}
	fs.mu.RLock()
	defer fs.mu.RUnlock()

	// #nosec G304 - refPath is validated above
	data, err := os.ReadFile(fs.refPath(name))
	if err != nil {
		if os.IsNotExist(err) {
			return objectid.Empty, false, nil
		}
		return objectid.Empty, false, fmt.Errorf("read ref: %w", err)
	}
	hash, err := objectid.ParseContentHash(strings.TrimSpace(string(data)))
	if err != nil {
		return objectid.Empty, false, fmt.Errorf("parse ref %s: %w", name, err)
	}
	return hash, true, nil
}

// Close releases resources.
func (fs *FSStore) Close() error {
	return nil
}

// GC removes every object keep rejects and returns how many were removed.
func (fs *FSStore) GC(_ context.Context, keep func(objectid.ContentHash) bool) (int, error) {
	fs.mu.Lock()
	defer fs.mu.Unlock()

	all, err := fs.listUnlocked("")
	if err != nil {
		return 0, fmt.Errorf("list objects: %w", err)
	}

	removed := 0
	for _, hash := range all {
		if keep(hash) {
			continue
		}
		if err := fs.deleteUnlocked(hash); err != nil && !IsNotFound(err) {
			return removed, fmt.Errorf("delete object %s: %w", hash.Short(), err)
		}
		removed++
	}
	return removed, nil
}

func (fs *FSStore) listUnlocked(objectType ObjectType) ([]objectid.ContentHash, error) {
	var hashes []objectid.ContentHash
	objectsDir := filepath.Join(fs.basePath, "objects")

	err := filepath.Walk(objectsDir, func(path string, info os.FileInfo, err error) error {
		if err != nil {
			return err
		}
		if info.IsDir() || strings.HasSuffix(path, ".meta.json") || strings.HasSuffix(path, ".tmp") {
			return nil
		}
		relPath, err := filepath.Rel(objectsDir, path)
		if err != nil {
			return nil
		}
		hash, err := objectid.ParseContentHash(strings.ReplaceAll(relPath, string(filepath.Separator), ""))
		if err != nil {
			// Not ours.
			return nil
		}
		if objectType != "" {
			metadata, err := fs.readMetadata(hash)
			if err == nil && ObjectType(metadata.Custom["object_type"]) != objectType {
				return nil
			}
		}
		hashes = append(hashes, hash)
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("walk objects: %w", err)
	}
	return hashes, nil
}

func (fs *FSStore) deleteUnlocked(hash objectid.ContentHash) error {
	objectPath := fs.objectPath(hash)
	if err := os.Remove(objectPath); err != nil {
		if os.IsNotExist(err) {
			return ErrNotFound{Hash: hash}
		}
		return fmt.Errorf("delete object: %w", err)
	}
	_ = os.Remove(fs.metadataPath(hash))
	// Fails while the fan-out directory still has entries.
	_ = os.Remove(filepath.Dir(objectPath))
	return nil
}

func (fs *FSStore) objectPath(hash objectid.ContentHash) string {
	hex := hash.String()
	return filepath.Join(fs.basePath, "objects", hex[:2], hex[2:])
}

func (fs *FSStore) metadataPath(hash objectid.ContentHash) string {
	return fs.objectPath(hash) + ".meta.json"
}

func (fs *FSStore) refPath(name string) string {
	return filepath.Join(fs.basePath, "refs", filepath.FromSlash(name))
}

func (fs *FSStore) readMetadata(hash objectid.ContentHash) (Metadata, error) {
	// #nosec G304 - metadataPath is built from a parsed hash
	data, err := os.ReadFile(fs.metadataPath(hash))
	if err != nil {
		return Metadata{}, fmt.Errorf("read metadata: %w", err)
	}
	var metadata Metadata
	if err := json.Unmarshal(data, &metadata); err != nil {
		return Metadata{}, fmt.Errorf("unmarshal metadata: %w", err)
	}
	if metadata.Custom == nil {
		metadata.Custom = make(map[string]string)
	}
	return metadata, nil
}

func (fs *FSStore) writeMetadata(hash objectid.ContentHash, metadata Metadata) error {
	data, err := json.Marshal(metadata)
	if err != nil {
		return fmt.Errorf("marshal metadata: %w", err)
	}
	if err := os.WriteFile(fs.metadataPath(hash), data, 0o600); err != nil {
		return fmt.Errorf("write metadata: %w", err)
	}
	return nil
}
