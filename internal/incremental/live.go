package incremental

import (
	"context"
	"encoding/json"
	"fmt"

	"git.home.luguber.info/inful/assetbuild/internal/command"
	"git.home.luguber.info/inful/assetbuild/internal/objectid"
	"git.home.luguber.info/inful/assetbuild/internal/storage"
)

// LiveObjects returns every object still reachable: cached results, their outputs and
// the extra hashes passed in (typically the published content index).
func LiveObjects(ctx context.Context, store storage.ObjectStore, extra map[objectid.Location]objectid.ContentHash) (map[objectid.ContentHash]bool, error) {
	live := make(map[objectid.ContentHash]bool, len(extra))
	for _, h := range extra {
		live[h] = true
	}

	results, err := store.List(ctx, storage.ObjectTypeCommandResult)
	if err != nil {
		return nil, fmt.Errorf("list cached results: %w", err)
	}
	for _, hash := range results {
		obj, err := store.Get(ctx, hash)
		if err != nil {
			if storage.IsNotFound(err) {
				continue
			}
			return nil, err
		}
		live[hash] = true
		var result command.Result
		if err := json.Unmarshal(obj.Data, &result); err != nil {
			continue
		}
		for _, h := range result.OutputObjects {
			live[h] = true
		}
	}
	return live, nil
}
