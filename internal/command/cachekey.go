package command

import (
	"fmt"
	"log/slog"

	"git.home.luguber.info/inful/assetbuild/internal/logfields"
	"git.home.luguber.info/inful/assetbuild/internal/objectid"
)

// CacheFormatVersion is mixed into every cache key. Bump it when the stored result
// format changes to invalidate all cached results.
const CacheFormatVersion uint32 = 2

// PrepareContext resolves the current hash of an input location.
type PrepareContext interface {
	ComputeInputHash(loc objectid.Location) (objectid.ContentHash, error)
}

// PrepareFunc adapts a function to PrepareContext.
type PrepareFunc func(loc objectid.Location) (objectid.ContentHash, error)

// ComputeInputHash calls f.
func (f PrepareFunc) ComputeInputHash(loc objectid.Location) (objectid.ContentHash, error) {
	return f(loc)
}

// ComputeCacheKey derives the skip-if-unchanged key of cmd. Failures are logged and
// yield objectid.Empty, which forces the command to run.
func ComputeCacheKey(cmd Command, prepare PrepareContext, logger *slog.Logger) (key objectid.ContentHash) {
	if logger == nil {
		logger = slog.Default()
	}
	defer func() {
		if r := recover(); r != nil {
			logger.Warn("Cache key computation panicked",
				logfields.Command(cmd.Title()),
				logfields.Error(fmt.Errorf("%v", r)))
			key = objectid.Empty
		}
	}()

	d := objectid.NewDigest()
	d.WriteUint32(CacheFormatVersion)
	d.WriteUint32(objectid.BinaryFormatVersion)
	d.WriteHash(cmd.TypeHash())
	if err := cmd.ComputeParameterHash(d); err != nil {
		logger.Warn("Cache key computation failed", logfields.Command(cmd.Title()), logfields.Error(err))
		return objectid.Empty
	}

	for _, loc := range cmd.InputFiles() {
		h, err := prepare.ComputeInputHash(loc)
		if err != nil {
			logger.Warn("Cache key computation failed",
				logfields.Command(cmd.Title()),
				logfields.Location(loc.String()),
				logfields.Error(err))
			return objectid.Empty
		}
		if h.IsEmpty() {
			_ = d.WriteByte(0)
			continue
		}
		d.WriteHash(h)
	}
	return d.Sum()
}
