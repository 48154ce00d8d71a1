package builder

import (
	"context"
	"os"
	"path/filepath"
	"strings"

	"git.home.luguber.info/inful/assetbuild/internal/fileversion"
	"git.home.luguber.info/inful/assetbuild/internal/foundation/errors"
	"git.home.luguber.info/inful/assetbuild/internal/objectid"
	"git.home.luguber.info/inful/assetbuild/internal/storage"
	"git.home.luguber.info/inful/assetbuild/internal/transaction"
)

// objectAccess resolves locations for one build run: files from the source root,
// content through the transaction and the object store.
type objectAccess struct {
	root     string
	store    storage.ObjectStore
	tx       *transaction.Transaction
	versions *fileversion.Store
}

// Read implements command.ObjectAccess.
func (a *objectAccess) Read(ctx context.Context, loc objectid.Location) ([]byte, objectid.ContentHash, error) {
	switch loc.Type {
	case objectid.URLTypeFile:
		p, err := a.filePath(loc)
		if err != nil {
			return nil, objectid.Empty, err
		}
		data, err := os.ReadFile(p)
		if err != nil {
			if os.IsNotExist(err) {
				return nil, objectid.Empty, errors.NotFoundError("source file not found").
					WithCause(err).
					WithContext("location", loc.String()).
					Build()
			}
			return nil, objectid.Empty, errors.FileSystemError("failed to read source file").
				WithCause(err).
				WithContext("location", loc.String()).
				Build()
		}
		return data, objectid.HashBytes(data), nil

	case objectid.URLTypeContent:
		hash, ok, err := a.tx.TryGet(ctx, loc)
		if err != nil {
			return nil, objectid.Empty, err
		}
		if !ok {
			return nil, objectid.Empty, errors.NotFoundError("no content published at location").
				WithContext("location", loc.String()).
				Build()
		}
		obj, err := a.store.Get(ctx, hash)
		if err != nil {
			return nil, objectid.Empty, errors.WrapError(err, errors.CategoryNotFound, "content object unavailable").
				WithContext("location", loc.String()).
				WithContext("hash", hash.String()).
				Build()
		}
		return obj.Data, hash, nil
	}
	return nil, objectid.Empty, errors.ValidationError("unsupported location type").
		WithContext("location", loc.String()).
		Build()
}

// Write implements command.ObjectAccess. Only content locations are writable.
func (a *objectAccess) Write(ctx context.Context, loc objectid.Location, data []byte) (objectid.ContentHash, error) {
	if loc.Type != objectid.URLTypeContent {
		return objectid.Empty, errors.ValidationError("commands may only write content locations").
			WithContext("location", loc.String()).
			Build()
	}
	hash, err := a.store.Put(ctx, &storage.Object{
		Type: storage.ObjectTypeArtifact,
		Data: data,
		Metadata: storage.Metadata{
			Custom: map[string]string{"location": loc.String()},
		},
	})
	if err != nil {
		return objectid.Empty, errors.WrapError(err, errors.CategoryFileSystem, "failed to store output").
			WithContext("location", loc.String()).
			Build()
	}
	a.tx.Set(loc, hash)
	return hash, nil
}

// ComputeInputHash implements command.PrepareContext. Unknown content hashes as Empty.
func (a *objectAccess) ComputeInputHash(loc objectid.Location) (objectid.ContentHash, error) {
	switch loc.Type {
	case objectid.URLTypeFile:
		p, err := a.filePath(loc)
		if err != nil {
			return objectid.Empty, err
		}
		return a.versions.HashFile(p)
	case objectid.URLTypeContent:
		hash, _, err := a.tx.TryGet(context.Background(), loc)
		return hash, err
	}
	return objectid.Empty, nil
}

// resolve reports the current version of loc for result cache validation.
func (a *objectAccess) resolve(ctx context.Context, loc objectid.Location) (objectid.ContentHash, bool, error) {
	if loc.Type == objectid.URLTypeContent {
		return a.tx.TryGet(ctx, loc)
	}
	p, err := a.filePath(loc)
	if err != nil {
		return objectid.Empty, false, err
	}
	hash, err := a.versions.HashFile(p)
	if err != nil {
		if os.IsNotExist(err) {
			return objectid.Empty, false, nil
		}
		return objectid.Empty, false, err
	}
	return hash, true, nil
}

func (a *objectAccess) filePath(loc objectid.Location) (string, error) {
	rel := strings.TrimPrefix(loc.Path, "/")
	if rel == ".." || strings.HasPrefix(rel, "../") {
		return "", errors.ValidationError("file location escapes the source root").
			WithContext("location", loc.String()).
			Build()
	}
	return filepath.Join(a.root, filepath.FromSlash(rel)), nil
}
