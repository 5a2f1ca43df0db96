// Package resolver turns a bundle's root manifest — which may contain
// Superposition entries at any depth — into a superposition-free manifest
// tree, by applying a persisted set of per-path decisions (spec §4.7).
package resolver

import (
	"sort"
	"time"

	"github.com/inflatable-cookie/converge/internal/converrors"
	"github.com/inflatable-cookie/converge/internal/objmodel"
)

// DecisionKind tags whether a Decision picks its variant by structural key
// (preferred, v2) or legacy 0-based variant index (v1, read-only).
type DecisionKind string

const (
	DecisionKey   DecisionKind = "Key"
	DecisionIndex DecisionKind = "Index"
)

// Decision picks one variant out of a superposition at a path.
type Decision struct {
	Kind  DecisionKind
	Key   string // structural variant key, when Kind == DecisionKey
	Index int    // 0-based variant index, when Kind == DecisionIndex
}

// Resolution is a persisted set of per-path decisions against one bundle's
// root manifest.
type Resolution struct {
	Version      int                 `json:"version"`
	BundleID     string              `json:"bundle_id"`
	RootManifest objmodel.ID         `json:"root_manifest"`
	CreatedAt    time.Time           `json:"created_at"`
	Decisions    map[string]Decision `json:"decisions"`
}

// ManifestStore is what the resolver needs to walk and rematerialize a tree.
type ManifestStore interface {
	objmodel.ManifestLoader
	PutManifest(m objmodel.Manifest) (objmodel.ID, error)
}

// UpgradeLegacyDecisions rewrites any Index decision that can be matched to
// a variant's structural key into a Key decision, leaving unmatched or
// already-Key decisions untouched. Per spec §9, legacy v1 Index decisions
// are transparently upgraded on next write.
func UpgradeLegacyDecisions(store ManifestStore, res Resolution) (Resolution, error) {
	scan, err := objmodel.SuperpositionScan(store, res.RootManifest)
	if err != nil {
		return res, err
	}
	byPath := map[string][]objmodel.SupVariant{}
	for _, sp := range scan {
		byPath[sp.Path] = sp.Variants
	}
	out := Resolution{
		Version: 2, BundleID: res.BundleID, RootManifest: res.RootManifest,
		CreatedAt: res.CreatedAt, Decisions: map[string]Decision{},
	}
	for path, d := range res.Decisions {
		if d.Kind == DecisionIndex {
			variants, ok := byPath[path]
			if ok && d.Index >= 0 && d.Index < len(variants) {
				out.Decisions[path] = Decision{Kind: DecisionKey, Key: variants[d.Index].Key()}
				continue
			}
		}
		out.Decisions[path] = d
	}
	return out, nil
}

// ValidationReport enumerates every problem with a (root, decisions) pair
// without mutating anything.
type ValidationReport struct {
	OK          bool
	Missing     []string
	InvalidKeys []InvalidKey
	OutOfRange  []OutOfRange
	Extraneous  []string
}

type InvalidKey struct {
	Path   string
	Wanted string
}

type OutOfRange struct {
	Path     string
	Index    int
	Variants int
}

// Validate produces a ValidationReport for (root, decisions).
func Validate(store ManifestStore, root objmodel.ID, decisions map[string]Decision) (ValidationReport, error) {
	scan, err := objmodel.SuperpositionScan(store, root)
	if err != nil {
		return ValidationReport{}, err
	}
	byPath := map[string][]objmodel.SupVariant{}
	var paths []string
	for _, sp := range scan {
		byPath[sp.Path] = sp.Variants
		paths = append(paths, sp.Path)
	}
	pathSet := map[string]struct{}{}
	for _, p := range paths {
		pathSet[p] = struct{}{}
	}

	report := ValidationReport{OK: true}
	for _, path := range paths {
		d, ok := decisions[path]
		if !ok {
			report.Missing = append(report.Missing, path)
			report.OK = false
			continue
		}
		variants := byPath[path]
		switch d.Kind {
		case DecisionKey:
			if !hasVariantKey(variants, d.Key) {
				report.InvalidKeys = append(report.InvalidKeys, InvalidKey{Path: path, Wanted: d.Key})
				report.OK = false
			}
		case DecisionIndex:
			if d.Index < 0 || d.Index >= len(variants) {
				report.OutOfRange = append(report.OutOfRange, OutOfRange{Path: path, Index: d.Index, Variants: len(variants)})
				report.OK = false
			}
		}
	}
	var decisionPaths []string
	for p := range decisions {
		decisionPaths = append(decisionPaths, p)
	}
	sort.Strings(decisionPaths)
	for _, p := range decisionPaths {
		if _, ok := pathSet[p]; !ok {
			report.Extraneous = append(report.Extraneous, p)
			report.OK = false
		}
	}
	sort.Strings(report.Missing)
	return report, nil
}

func hasVariantKey(variants []objmodel.SupVariant, key string) bool {
	for _, v := range variants {
		if v.Key() == key {
			return true
		}
	}
	return false
}

// Apply resolves every superposition in root according to decisions,
// rewriting and rehashing the manifest tree bottom-up, and returns the
// resolved root's id. Missing or invalid decisions are fatal.
func Apply(store ManifestStore, root objmodel.ID, decisions map[string]Decision) (objmodel.ID, error) {
	resolved, err := applyNode(store, root, decisions, "")
	if err != nil {
		return "", err
	}
	return resolved, nil
}

func applyNode(store ManifestStore, id objmodel.ID, decisions map[string]Decision, prefix string) (objmodel.ID, error) {
	m, err := store.LoadManifest(id)
	if err != nil {
		return "", err
	}
	out := objmodel.Manifest{Version: 1}
	for _, e := range m.Entries {
		path := joinPath(prefix, e.Name)
		switch e.Kind {
		case objmodel.KindDir:
			childID, err := applyNode(store, e.ManifestRef, decisions, path)
			if err != nil {
				return "", err
			}
			out.Entries = append(out.Entries, objmodel.Entry{Name: e.Name, Kind: objmodel.KindDir, ManifestRef: childID})
		case objmodel.KindSuperposition:
			d, ok := decisions[path]
			if !ok {
				return "", converrors.New(converrors.ObjectMissing, "missing decision at %s", path)
			}
			variant, err := pickVariant(e.Variants, d, path)
			if err != nil {
				return "", err
			}
			if variant.Kind == objmodel.VKTombstone {
				continue // omit from resolved parent
			}
			resolvedEntry, err := resolveVariant(store, e.Name, variant, decisions, path)
			if err != nil {
				return "", err
			}
			out.Entries = append(out.Entries, resolvedEntry)
		default:
			out.Entries = append(out.Entries, e)
		}
	}
	newID, _, err := out.ID()
	if err != nil {
		return "", err
	}
	if _, err := store.PutManifest(out); err != nil {
		return "", err
	}
	return newID, nil
}

func resolveVariant(store ManifestStore, name string, v objmodel.SupVariant, decisions map[string]Decision, path string) (objmodel.Entry, error) {
	if v.Kind == objmodel.VKDir {
		childID, err := applyNode(store, v.ManifestRef, decisions, path)
		if err != nil {
			return objmodel.Entry{}, err
		}
		return objmodel.Entry{Name: name, Kind: objmodel.KindDir, ManifestRef: childID}, nil
	}
	return objmodel.Entry{
		Name: name, Kind: objmodel.EntryKind(v.Kind),
		Blob: v.Blob, Recipe: v.Recipe, ManifestRef: v.ManifestRef,
		Mode: v.Mode, Size: v.Size, Target: v.Target,
	}, nil
}

func pickVariant(variants []objmodel.SupVariant, d Decision, path string) (objmodel.SupVariant, error) {
	switch d.Kind {
	case DecisionKey:
		for _, v := range variants {
			if v.Key() == d.Key {
				return v, nil
			}
		}
		return objmodel.SupVariant{}, converrors.New(converrors.BadEncoding, "invalid decision at %s: key %q not present", path, d.Key)
	case DecisionIndex:
		if d.Index < 0 || d.Index >= len(variants) {
			return objmodel.SupVariant{}, converrors.New(converrors.BadEncoding, "invalid decision at %s: index %d out of range", path, d.Index)
		}
		return variants[d.Index], nil
	default:
		return objmodel.SupVariant{}, converrors.New(converrors.BadEncoding, "unknown decision kind at %s", path)
	}
}

func joinPath(prefix, name string) string {
	if prefix == "" {
		return name
	}
	return prefix + "/" + name
}
