package workspace

import (
	"fmt"
	"sort"

	"github.com/inflatable-cookie/converge/internal/objmodel"
)

// ChangeKind tags one path's status in a tree diff.
type ChangeKind string

const (
	ChangeAdded    ChangeKind = "added"
	ChangeRemoved  ChangeKind = "removed"
	ChangeModified ChangeKind = "modified"
)

// Change is one path's status in a tree diff, sorted by path.
type Change struct {
	Path string
	Kind ChangeKind
}

// DiffReport is a flat summary of a tree diff between two manifest roots,
// used by the CLI's status/diff commands.
type DiffReport struct {
	Changes        []Change
	UnchangedCount int
}

// Diff compares two manifest roots (base may be "" for "no baseline yet",
// in which case every leaf is Added) and returns a flat, path-sorted report.
// Loader must be able to resolve every Dir manifest reachable from either
// root; Diff does not itself require object existence below the manifest
// level (it compares blob/recipe ids structurally, not their contents).
func Diff(loader objmodel.ManifestLoader, base, cur objmodel.ID) (DiffReport, error) {
	var changes []Change
	unchanged := 0
	if err := diffDir(loader, "", base, cur, &changes, &unchanged); err != nil {
		return DiffReport{}, err
	}
	sort.Slice(changes, func(i, j int) bool { return changes[i].Path < changes[j].Path })
	return DiffReport{Changes: changes, UnchangedCount: unchanged}, nil
}

func diffDir(loader objmodel.ManifestLoader, prefix string, baseID, curID objmodel.ID, out *[]Change, unchanged *int) error {
	if baseID == curID {
		// Identical subtree: count its leaves as unchanged without re-walking
		// for a diff (still need the leaf count).
		if baseID == "" {
			return nil
		}
		return countLeaves(loader, curID, unchanged)
	}

	baseEntries := map[string]objmodel.Entry{}
	if baseID != "" {
		m, err := loader.LoadManifest(baseID)
		if err != nil {
			return fmt.Errorf("workspace: load base manifest %s: %w", baseID, err)
		}
		for _, e := range m.Entries {
			baseEntries[e.Name] = e
		}
	}

	curEntries := map[string]objmodel.Entry{}
	if curID != "" {
		m, err := loader.LoadManifest(curID)
		if err != nil {
			return fmt.Errorf("workspace: load current manifest %s: %w", curID, err)
		}
		for _, e := range m.Entries {
			curEntries[e.Name] = e
		}
	}

	names := make(map[string]struct{}, len(baseEntries)+len(curEntries))
	for n := range baseEntries {
		names[n] = struct{}{}
	}
	for n := range curEntries {
		names[n] = struct{}{}
	}
	sorted := make([]string, 0, len(names))
	for n := range names {
		sorted = append(sorted, n)
	}
	sort.Strings(sorted)

	for _, name := range sorted {
		path := joinPath(prefix, name)
		b, hasBase := baseEntries[name]
		c, hasCur := curEntries[name]

		switch {
		case !hasBase && hasCur:
			if c.Kind == objmodel.KindDir {
				if err := addAllLeaves(loader, path, c.ManifestRef, ChangeAdded, out); err != nil {
					return err
				}
			} else {
				*out = append(*out, Change{Path: path, Kind: ChangeAdded})
			}
		case hasBase && !hasCur:
			if b.Kind == objmodel.KindDir {
				if err := addAllLeaves(loader, path, b.ManifestRef, ChangeRemoved, out); err != nil {
					return err
				}
			} else {
				*out = append(*out, Change{Path: path, Kind: ChangeRemoved})
			}
		case hasBase && hasCur:
			if b.Kind == objmodel.KindDir && c.Kind == objmodel.KindDir {
				if err := diffDir(loader, path, b.ManifestRef, c.ManifestRef, out, unchanged); err != nil {
					return err
				}
				continue
			}
			if entriesEqual(b, c) {
				*unchanged++
				continue
			}
			*out = append(*out, Change{Path: path, Kind: ChangeModified})
		}
	}
	return nil
}

func entriesEqual(a, b objmodel.Entry) bool {
	return a.Kind == b.Kind && a.Blob == b.Blob && a.Recipe == b.Recipe &&
		a.ManifestRef == b.ManifestRef && a.Mode == b.Mode && a.Size == b.Size && a.Target == b.Target
}

func addAllLeaves(loader objmodel.ManifestLoader, prefix string, manifestID objmodel.ID, kind ChangeKind, out *[]Change) error {
	m, err := loader.LoadManifest(manifestID)
	if err != nil {
		return fmt.Errorf("workspace: load manifest %s: %w", manifestID, err)
	}
	for _, e := range m.Entries {
		path := joinPath(prefix, e.Name)
		if e.Kind == objmodel.KindDir {
			if err := addAllLeaves(loader, path, e.ManifestRef, kind, out); err != nil {
				return err
			}
			continue
		}
		*out = append(*out, Change{Path: path, Kind: kind})
	}
	return nil
}

func countLeaves(loader objmodel.ManifestLoader, manifestID objmodel.ID, unchanged *int) error {
	m, err := loader.LoadManifest(manifestID)
	if err != nil {
		return fmt.Errorf("workspace: load manifest %s: %w", manifestID, err)
	}
	for _, e := range m.Entries {
		if e.Kind == objmodel.KindDir {
			if err := countLeaves(loader, e.ManifestRef, unchanged); err != nil {
				return err
			}
			continue
		}
		*unchanged++
	}
	return nil
}

func joinPath(prefix, name string) string {
	if prefix == "" {
		return name
	}
	return prefix + "/" + name
}
