// Package merge computes a bundle's root manifest from the snap manifests
// of its input publications (spec.md §4.4 "Bundle construction contract"):
// walk by path, collapse children the inputs agree on, and wrap
// disagreeing children in a Superposition tagged with each input's
// publisher as the variant source.
package merge

import (
	"sort"

	"github.com/inflatable-cookie/converge/internal/objmodel"
)

// ManifestStore is what Merge needs to walk inputs and persist merged
// manifests, matching resolver.ManifestStore's shape.
type ManifestStore interface {
	objmodel.ManifestLoader
	PutManifest(m objmodel.Manifest) (objmodel.ID, error)
}

// Input is one publication's contribution to a merge: its publication id
// (the merge key — distinct publications never collapse, even from the
// same publisher), its publisher handle (the Superposition variant
// "source" tag), and its snap's root manifest.
type Input struct {
	ID     string
	Source string
	Root   objmodel.ID
}

// Merge builds the merged root manifest for inputs and returns its id. A
// single input is returned unchanged (no merge needed).
func Merge(store ManifestStore, inputs []Input) (objmodel.ID, error) {
	if len(inputs) == 1 {
		return inputs[0].Root, nil
	}
	roots := make(map[string]objmodel.ID, len(inputs))
	sourceOf := make(map[string]string, len(inputs))
	for _, in := range inputs {
		roots[in.ID] = in.Root
		sourceOf[in.ID] = in.Source
	}
	return mergeDirs(store, roots, sourceOf)
}

// mergeDirs merges the manifests at roots (keyed by publication id) into
// one merged manifest, recursing into Dir children that every present
// publication agrees are directories, and returns the merged manifest's id.
func mergeDirs(store ManifestStore, roots map[string]objmodel.ID, sourceOf map[string]string) (objmodel.ID, error) {
	keys := sortedKeys(roots)

	// Fast path: every input points at the identical manifest id.
	if allEqual(roots, keys) {
		return roots[keys[0]], nil
	}

	entries := map[string]map[string]objmodel.Entry{} // name -> publication id -> entry
	var names []string
	for _, key := range keys {
		m, err := store.LoadManifest(roots[key])
		if err != nil {
			return "", err
		}
		for _, e := range m.Entries {
			if _, ok := entries[e.Name]; !ok {
				entries[e.Name] = map[string]objmodel.Entry{}
				names = append(names, e.Name)
			}
			entries[e.Name][key] = e
		}
	}
	sort.Strings(names)

	out := objmodel.Manifest{Version: 1}
	for _, name := range names {
		byKey := entries[name]
		merged, err := mergeEntry(store, name, keys, byKey, sourceOf)
		if err != nil {
			return "", err
		}
		if merged != nil {
			out.Entries = append(out.Entries, *merged)
		}
	}

	id, _, err := out.ID()
	if err != nil {
		return "", err
	}
	if _, err := store.PutManifest(out); err != nil {
		return "", err
	}
	return id, nil
}

func mergeEntry(store ManifestStore, name string, keys []string, byKey map[string]objmodel.Entry, sourceOf map[string]string) (*objmodel.Entry, error) {
	if allAgree(keys, byKey) {
		e := byKey[keys[0]]
		if e.Kind == objmodel.KindDir && len(byKey) > 1 && !sameDirID(byKey) {
			childRoots := map[string]objmodel.ID{}
			for key, ent := range byKey {
				childRoots[key] = ent.ManifestRef
			}
			childID, err := mergeDirs(store, childRoots, sourceOf)
			if err != nil {
				return nil, err
			}
			e.ManifestRef = childID
		}
		return &e, nil
	}

	variants := make([]objmodel.SupVariant, 0, len(keys))
	for _, key := range keys {
		e, present := byKey[key]
		if !present {
			variants = append(variants, objmodel.SupVariant{Source: sourceOf[key], Kind: objmodel.VKTombstone})
			continue
		}
		variants = append(variants, objmodel.SupVariant{
			Source: sourceOf[key], Kind: objmodel.VariantKind(e.Kind),
			Blob: e.Blob, Recipe: e.Recipe, ManifestRef: e.ManifestRef,
			Mode: e.Mode, Size: e.Size, Target: e.Target,
		})
	}
	return &objmodel.Entry{Name: name, Kind: objmodel.KindSuperposition, Variants: variants}, nil
}

// allAgree reports whether every input in keys contributed the same entry
// for this name: all present (no input missing it), and either all are Dir
// (differences, if any, are deferred to recursion) or every present entry
// is bit-identical in its non-Dir fields.
func allAgree(keys []string, byKey map[string]objmodel.Entry) bool {
	if len(byKey) != len(keys) {
		return false
	}
	var first objmodel.Entry
	i := 0
	for _, key := range keys {
		e := byKey[key]
		if i == 0 {
			first = e
		} else if e.Kind != first.Kind {
			return false
		} else if e.Kind != objmodel.KindDir && !sameLeaf(e, first) {
			return false
		}
		i++
	}
	return true
}

func sameLeaf(a, b objmodel.Entry) bool {
	return a.Blob == b.Blob && a.Recipe == b.Recipe && a.Mode == b.Mode &&
		a.Size == b.Size && a.Target == b.Target
}

func sameDirID(byKey map[string]objmodel.Entry) bool {
	var first objmodel.ID
	i := 0
	for _, e := range byKey {
		if i == 0 {
			first = e.ManifestRef
		} else if e.ManifestRef != first {
			return false
		}
		i++
	}
	return true
}

func allEqual(roots map[string]objmodel.ID, keys []string) bool {
	first := roots[keys[0]]
	for _, key := range keys[1:] {
		if roots[key] != first {
			return false
		}
	}
	return true
}

func sortedKeys(m map[string]objmodel.ID) []string {
	out := make([]string, 0, len(m))
	for k := range m {
		out = append(out, k)
	}
	sort.Strings(out)
	return out
}
