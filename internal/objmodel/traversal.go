package objmodel

import (
	"strings"

	"github.com/inflatable-cookie/converge/internal/converrors"
)

// ManifestLoader fetches a manifest by id, grounded on whatever backs the
// caller (the local store's on-disk cache, or the server's object store).
type ManifestLoader interface {
	LoadManifest(id ID) (Manifest, error)
}

// Reachable is the disjoint set of object ids reachable from a manifest root.
type Reachable struct {
	Blobs     map[ID]struct{}
	Manifests map[ID]struct{}
	Recipes   map[ID]struct{}
}

func newReachable() Reachable {
	return Reachable{
		Blobs:     map[ID]struct{}{},
		Manifests: map[ID]struct{}{},
		Recipes:   map[ID]struct{}{},
	}
}

// EnumerateReachable walks a root manifest by DFS over Dir and
// Superposition{Dir} children, and FileChunks/SupVariant{FileChunks} into
// recipes, returning the disjoint sets of reachable blobs/manifests/recipes.
// Cycles in the manifest DAG are rejected with CycleDetected.
func EnumerateReachable(loader ManifestLoader, root ID) (Reachable, error) {
	out := newReachable()
	onStack := map[ID]struct{}{}
	var visit func(id ID) error
	visit = func(id ID) error {
		if _, ok := onStack[id]; ok {
			return converrors.New(converrors.CycleDetected, "manifest cycle at %s", id)
		}
		if _, ok := out.Manifests[id]; ok {
			return nil
		}
		onStack[id] = struct{}{}
		defer delete(onStack, id)

		m, err := loader.LoadManifest(id)
		if err != nil {
			return err
		}
		out.Manifests[id] = struct{}{}
		for _, e := range m.Entries {
			switch e.Kind {
			case KindFile:
				out.Blobs[e.Blob] = struct{}{}
			case KindFileChunks:
				out.Recipes[e.Recipe] = struct{}{}
			case KindDir:
				if err := visit(e.ManifestRef); err != nil {
					return err
				}
			case KindSymlink:
				// no referenced object
			case KindSuperposition:
				for _, v := range e.Variants {
					switch v.Kind {
					case VKFile:
						out.Blobs[v.Blob] = struct{}{}
					case VKFileChunks:
						out.Recipes[v.Recipe] = struct{}{}
					case VKDir:
						if err := visit(v.ManifestRef); err != nil {
							return err
						}
					case VKSymlink, VKTombstone:
					}
				}
			}
		}
		return nil
	}
	if err := visit(root); err != nil {
		return Reachable{}, err
	}
	return out, nil
}

// PostorderManifests returns the ids of every manifest reachable from root,
// children strictly before parents, so an upload never presents a manifest
// whose Dir children are absent (§4.2, P9).
func PostorderManifests(loader ManifestLoader, root ID) ([]ID, error) {
	var order []ID
	visited := map[ID]struct{}{}
	onStack := map[ID]struct{}{}
	var visit func(id ID) error
	visit = func(id ID) error {
		if _, ok := visited[id]; ok {
			return nil
		}
		if _, ok := onStack[id]; ok {
			return converrors.New(converrors.CycleDetected, "manifest cycle at %s", id)
		}
		onStack[id] = struct{}{}
		defer delete(onStack, id)

		m, err := loader.LoadManifest(id)
		if err != nil {
			return err
		}
		for _, e := range m.Entries {
			if e.Kind == KindDir {
				if err := visit(e.ManifestRef); err != nil {
					return err
				}
			}
			if e.Kind == KindSuperposition {
				for _, v := range e.Variants {
					if v.Kind == VKDir {
						if err := visit(v.ManifestRef); err != nil {
							return err
						}
					}
				}
			}
		}
		visited[id] = struct{}{}
		order = append(order, id)
		return nil
	}
	if err := visit(root); err != nil {
		return nil, err
	}
	return order, nil
}

// SuperpositionPath is one path→variants pair from a superposition scan.
type SuperpositionPath struct {
	Path     string
	Variants []SupVariant
}

// SuperpositionScan walks a root manifest and returns, for every
// Superposition entry found at any depth, its slash-joined directory path
// and variants. A manifest "has superpositions" iff this scan is non-empty.
func SuperpositionScan(loader ManifestLoader, root ID) ([]SuperpositionPath, error) {
	var out []SuperpositionPath
	onStack := map[ID]struct{}{}
	var visit func(id ID, prefix string) error
	visit = func(id ID, prefix string) error {
		if _, ok := onStack[id]; ok {
			return converrors.New(converrors.CycleDetected, "manifest cycle at %s", id)
		}
		onStack[id] = struct{}{}
		defer delete(onStack, id)

		m, err := loader.LoadManifest(id)
		if err != nil {
			return err
		}
		for _, e := range m.Entries {
			path := joinPath(prefix, e.Name)
			switch e.Kind {
			case KindDir:
				if err := visit(e.ManifestRef, path); err != nil {
					return err
				}
			case KindSuperposition:
				out = append(out, SuperpositionPath{Path: path, Variants: e.Variants})
			}
		}
		return nil
	}
	if err := visit(root, ""); err != nil {
		return nil, err
	}
	return out, nil
}

func joinPath(prefix, name string) string {
	if prefix == "" {
		return name
	}
	return strings.TrimSuffix(prefix, "/") + "/" + name
}
