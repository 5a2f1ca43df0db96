package transfer

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"

	"github.com/inflatable-cookie/converge/internal/objmodel"
)

// LocalSink is everything Pull needs to write into the client's local object
// cache as it downloads.
type LocalSink interface {
	HasBlob(id objmodel.ID) bool
	HasManifest(id objmodel.ID) bool
	HasRecipe(id objmodel.ID) bool
	PutBlob(id objmodel.ID, raw []byte) error
	PutRecipeRaw(id objmodel.ID, raw []byte) error
	PutManifestRaw(id objmodel.ID, raw []byte) error
}

// Pull downloads every manifest, recipe, and blob reachable from root that
// isn't already present locally, walking the tree breadth-first so recipes
// and blobs can be fanned out as soon as their containing manifest arrives.
func Pull(ctx context.Context, c *Client, sink LocalSink, root objmodel.ID, report ProgressFunc) error {
	frontier := []objmodel.ID{root}
	var recipeIDs, blobIDs []objmodel.ID
	manifestsSeen := map[objmodel.ID]bool{}

	for len(frontier) > 0 {
		var toFetch []objmodel.ID
		for _, id := range frontier {
			if manifestsSeen[id] {
				continue
			}
			manifestsSeen[id] = true
			if !sink.HasManifest(id) {
				toFetch = append(toFetch, id)
			}
		}

		fetched := map[objmodel.ID][]byte{}
		var mu sync.Mutex
		if err := c.FetchMany(ctx, "manifests", toFetch, func(objmodel.ID) bool { return false }, func(id objmodel.ID, raw []byte) error {
			mu.Lock()
			fetched[id] = raw
			mu.Unlock()
			return sink.PutManifestRaw(id, raw)
		}); err != nil {
			return fmt.Errorf("transfer: fetch manifests: %w", err)
		}

		var next []objmodel.ID
		for _, id := range frontier {
			raw, ok := fetched[id]
			var m objmodel.Manifest
			var err error
			if ok {
				m, err = decodeManifest(raw)
			} else {
				m, err = loadLocalManifest(sink, id)
			}
			if err != nil {
				return err
			}
			for _, e := range m.Entries {
				switch e.Kind {
				case objmodel.KindDir:
					next = append(next, e.ManifestRef)
				case objmodel.KindFile:
					blobIDs = append(blobIDs, e.Blob)
				case objmodel.KindFileChunks:
					recipeIDs = append(recipeIDs, e.Recipe)
				case objmodel.KindSuperposition:
					for _, v := range e.Variants {
						if v.Kind == objmodel.VKDir {
							next = append(next, v.ManifestRef)
						} else if v.Kind == objmodel.VKFile {
							blobIDs = append(blobIDs, v.Blob)
						} else if v.Kind == objmodel.VKFileChunks {
							recipeIDs = append(recipeIDs, v.Recipe)
						}
					}
				}
			}
		}
		frontier = next
	}

	if err := c.FetchMany(ctx, "recipes", recipeIDs, sink.HasRecipe, func(id objmodel.ID, raw []byte) error {
		recipe, err := decodeRecipe(raw)
		if err != nil {
			return err
		}
		for _, ch := range recipe.Chunks {
			blobIDs = append(blobIDs, ch.Blob)
		}
		return sink.PutRecipeRaw(id, raw)
	}); err != nil {
		return fmt.Errorf("transfer: fetch recipes: %w", err)
	}

	prog := newProgress(report, len(blobIDs))
	if err := c.FetchMany(ctx, "blobs", blobIDs, sink.HasBlob, func(id objmodel.ID, raw []byte) error {
		if err := sink.PutBlob(id, raw); err != nil {
			return err
		}
		prog.advance(int64(len(raw)))
		return nil
	}); err != nil {
		return fmt.Errorf("transfer: fetch blobs: %w", err)
	}
	return nil
}

func loadLocalManifest(sink LocalSink, id objmodel.ID) (objmodel.Manifest, error) {
	loader, ok := sink.(objmodel.ManifestLoader)
	if !ok {
		return objmodel.Manifest{}, fmt.Errorf("transfer: local sink cannot load manifest %s", id)
	}
	return loader.LoadManifest(id)
}

func decodeManifest(raw []byte) (objmodel.Manifest, error) {
	var m objmodel.Manifest
	if err := json.Unmarshal(raw, &m); err != nil {
		return objmodel.Manifest{}, fmt.Errorf("transfer: decode manifest: %w", err)
	}
	return m, nil
}

func decodeRecipe(raw []byte) (objmodel.Recipe, error) {
	var r objmodel.Recipe
	if err := json.Unmarshal(raw, &r); err != nil {
		return objmodel.Recipe{}, fmt.Errorf("transfer: decode recipe: %w", err)
	}
	return r, nil
}
