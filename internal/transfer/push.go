package transfer

import (
	"context"
	"fmt"

	"github.com/inflatable-cookie/converge/internal/objmodel"
)

// LocalStore is everything Push needs to read from the client's local object
// cache: every manifest reachable from a root, plus raw blob/recipe bytes.
type LocalStore interface {
	objmodel.ManifestLoader
	GetBlob(id objmodel.ID) ([]byte, error)
	GetRecipe(id objmodel.ID) (objmodel.Recipe, error)
	GetSnap(id objmodel.ID) ([]byte, error)
}

// PushPlan is the postorder-flattened set of objects a Push call will send,
// computed before any network I/O so progress totals are known up front.
type PushPlan struct {
	Manifests []objmodel.ID // postorder: children before parents
	Blobs     []objmodel.ID
	Recipes   []objmodel.ID
}

// Plan walks the manifest tree rooted at root, collecting every reachable
// manifest (postorder), blob, and recipe id exactly once.
func Plan(store LocalStore, root objmodel.ID) (PushPlan, error) {
	var plan PushPlan
	seen := map[objmodel.ID]bool{}
	if err := planDir(store, root, &plan, seen); err != nil {
		return PushPlan{}, err
	}
	return plan, nil
}

func planDir(store LocalStore, id objmodel.ID, plan *PushPlan, seen map[objmodel.ID]bool) error {
	m, err := store.LoadManifest(id)
	if err != nil {
		return fmt.Errorf("transfer: load manifest %s: %w", id, err)
	}
	for _, e := range m.Entries {
		switch e.Kind {
		case objmodel.KindDir:
			if err := planDir(store, e.ManifestRef, plan, seen); err != nil {
				return err
			}
		case objmodel.KindFile:
			if !seen[e.Blob] {
				seen[e.Blob] = true
				plan.Blobs = append(plan.Blobs, e.Blob)
			}
		case objmodel.KindFileChunks:
			if !seen[e.Recipe] {
				seen[e.Recipe] = true
				plan.Recipes = append(plan.Recipes, e.Recipe)
				recipe, err := store.GetRecipe(e.Recipe)
				if err != nil {
					return fmt.Errorf("transfer: load recipe %s: %w", e.Recipe, err)
				}
				for _, c := range recipe.Chunks {
					if !seen[c.Blob] {
						seen[c.Blob] = true
						plan.Blobs = append(plan.Blobs, c.Blob)
					}
				}
			}
		case objmodel.KindSuperposition:
			for _, v := range e.Variants {
				switch v.Kind {
				case objmodel.VKDir:
					if err := planDir(store, v.ManifestRef, plan, seen); err != nil {
						return err
					}
				case objmodel.VKFile:
					if !seen[v.Blob] {
						seen[v.Blob] = true
						plan.Blobs = append(plan.Blobs, v.Blob)
					}
				case objmodel.VKFileChunks:
					if !seen[v.Recipe] {
						seen[v.Recipe] = true
						plan.Recipes = append(plan.Recipes, v.Recipe)
						recipe, err := store.GetRecipe(v.Recipe)
						if err != nil {
							return fmt.Errorf("transfer: load recipe %s: %w", v.Recipe, err)
						}
						for _, c := range recipe.Chunks {
							if !seen[c.Blob] {
								seen[c.Blob], plan.Blobs = true, append(plan.Blobs, c.Blob)
							}
						}
					}
				}
			}
		}
	}
	if !seen[id] {
		seen[id] = true
		plan.Manifests = append(plan.Manifests, id)
	}
	return nil
}

// Push uploads everything reachable from root that the server doesn't
// already have, in dependency order (blobs, then recipes, then manifests),
// followed by the snap record itself. Progress is reported via report, which
// may be nil.
func Push(ctx context.Context, c *Client, store LocalStore, root, snapID objmodel.ID, allowMissingBlobs bool, report ProgressFunc) error {
	plan, err := Plan(store, root)
	if err != nil {
		return err
	}

	missing, err := c.Missing(ctx, ObjectSet{
		Blobs: plan.Blobs, Recipes: plan.Recipes, Manifests: plan.Manifests,
		Snaps: []objmodel.ID{snapID},
	})
	if err != nil {
		return fmt.Errorf("transfer: compute missing objects: %w", err)
	}

	prog := newProgress(report, len(missing.Blobs)+len(missing.Recipes)+len(missing.Manifests)+len(missing.Snaps))

	for _, id := range missing.Blobs {
		raw, err := store.GetBlob(id)
		if err != nil {
			return fmt.Errorf("transfer: read local blob %s: %w", id, err)
		}
		if err := c.PutObject(ctx, "blobs", id, raw, allowMissingBlobs); err != nil {
			return fmt.Errorf("transfer: upload blob %s: %w", id, err)
		}
		prog.advance(int64(len(raw)))
	}
	for _, id := range missing.Recipes {
		recipe, err := store.GetRecipe(id)
		if err != nil {
			return fmt.Errorf("transfer: read local recipe %s: %w", id, err)
		}
		raw, err := objmodel.CanonicalizeValue(recipe)
		if err != nil {
			return fmt.Errorf("transfer: encode recipe %s: %w", id, err)
		}
		if err := c.PutObject(ctx, "recipes", id, raw, allowMissingBlobs); err != nil {
			return fmt.Errorf("transfer: upload recipe %s: %w", id, err)
		}
		prog.advance(int64(len(raw)))
	}
	for _, id := range missing.Manifests {
		m, err := store.LoadManifest(id)
		if err != nil {
			return fmt.Errorf("transfer: read local manifest %s: %w", id, err)
		}
		raw, err := objmodel.CanonicalizeValue(m)
		if err != nil {
			return fmt.Errorf("transfer: encode manifest %s: %w", id, err)
		}
		if err := c.PutObject(ctx, "manifests", id, raw, allowMissingBlobs); err != nil {
			return fmt.Errorf("transfer: upload manifest %s: %w", id, err)
		}
		prog.advance(int64(len(raw)))
	}
	for _, id := range missing.Snaps {
		raw, err := store.GetSnap(id)
		if err != nil {
			return fmt.Errorf("transfer: read local snap %s: %w", id, err)
		}
		if err := c.PutObject(ctx, "snaps", id, raw, allowMissingBlobs); err != nil {
			return fmt.Errorf("transfer: upload snap %s: %w", id, err)
		}
		prog.advance(int64(len(raw)))
	}
	return nil
}
