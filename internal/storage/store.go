// Package storage provides the content-addressable object database behind a build:
// artifacts keyed by their content hash, plus named refs pointing at objects.
package storage

import (
	"context"
	stderrors "errors"
	"strings"
	"time"

	"git.home.luguber.info/inful/assetbuild/internal/objectid"
)

// ObjectStore stores immutable objects by content hash.
type ObjectStore interface {
	// Put stores an object and returns its content hash. Storing an existing
	// object only bumps its reference count.
	Put(ctx context.Context, obj *Object) (objectid.ContentHash, error)

	// Get returns ErrNotFound if the object doesn't exist.
	Get(ctx context.Context, hash objectid.ContentHash) (*Object, error)

	Exists(ctx context.Context, hash objectid.ContentHash) (bool, error)

	// Delete returns ErrNotFound if the object doesn't exist.
	Delete(ctx context.Context, hash objectid.ContentHash) error

	// List returns object hashes of the given type; an empty type lists everything.
	List(ctx context.Context, objectType ObjectType) ([]objectid.ContentHash, error)

	// SetRef points name at hash, replacing any previous target.
	SetRef(ctx context.Context, name string, hash objectid.ContentHash) error

	// GetRef resolves name. ok is false when the ref doesn't exist.
	GetRef(ctx context.Context, name string) (hash objectid.ContentHash, ok bool, err error)

	Close() error
}

// Object is a stored artifact with its metadata.
type Object struct {
	// Hash is set by the store. A caller-supplied hash must match the data.
	Hash objectid.ContentHash

	Type ObjectType
	Size int64
	Data []byte

	Metadata Metadata
}

// Metadata stores object metadata.
type Metadata struct {
	CreatedAt    time.Time         `json:"created_at"`
	LastAccessed time.Time         `json:"last_accessed"`
	RefCount     int               `json:"ref_count"`
	Custom       map[string]string `json:"custom,omitempty"`
}

// ObjectType identifies the kind of stored object.
type ObjectType string

const (
	// ObjectTypeArtifact is a command output.
	ObjectTypeArtifact ObjectType = "artifact"

	// ObjectTypeCommandResult is a serialized command.Result kept by the result cache.
	ObjectTypeCommandResult ObjectType = "command_result"
)

// ErrNotFound is returned when an object doesn't exist.
type ErrNotFound struct {
	Hash objectid.ContentHash
}

func (e ErrNotFound) Error() string {
	return "object not found: " + e.Hash.String()
}

// IsNotFound reports whether err wraps ErrNotFound.
func IsNotFound(err error) bool {
	var nf ErrNotFound
	return stderrors.As(err, &nf)
}

// ErrHashMismatch is returned by Put when Object.Hash doesn't match the data.
type ErrHashMismatch struct {
	Want, Got objectid.ContentHash
}

func (e ErrHashMismatch) Error() string {
	return "object hash mismatch: declared " + e.Want.Short() + ", data hashes to " + e.Got.Short()
}

// contentHash returns the hash of obj's data, verifying any declared hash.
func contentHash(obj *Object) (objectid.ContentHash, error) {
	got := objectid.HashBytes(obj.Data)
	if !obj.Hash.IsEmpty() && obj.Hash != got {
		return objectid.Empty, ErrHashMismatch{Want: obj.Hash, Got: got}
	}
	return got, nil
}

// validRefName rejects names that would escape the ref namespace.
func validRefName(name string) bool {
	if name == "" || strings.HasPrefix(name, "/") || strings.Contains(name, "\\") {
		return false
	}
	for _, seg := range strings.Split(name, "/") {
		if seg == "" || seg == "." || seg == ".." {
			return false
		}
	}
	return true
}
