package objmodel

import (
	"encoding/json"
	"sort"

	"github.com/inflatable-cookie/converge/internal/converrors"
)

func unsupportedVersion(v int) error {
	return converrors.New(converrors.UnsupportedVersion, "object version %d unsupported", v)
}

func hashMismatch(got, want ID) error {
	return converrors.New(converrors.HashMismatch, "id mismatch: got %s, want %s", got, want)
}

// EntryKind tags the polymorphic sum a manifest entry's "kind" field is.
type EntryKind string

const (
	KindFile          EntryKind = "File"
	KindFileChunks    EntryKind = "FileChunks"
	KindDir           EntryKind = "Dir"
	KindSymlink       EntryKind = "Symlink"
	KindSuperposition EntryKind = "Superposition"
)

// VariantKind tags the sum a SupVariant's "kind" field is: the same four
// entry kinds plus Tombstone (deletion).
type VariantKind string

const (
	VKFile       VariantKind = "File"
	VKFileChunks VariantKind = "FileChunks"
	VKDir        VariantKind = "Dir"
	VKSymlink    VariantKind = "Symlink"
	VKTombstone  VariantKind = "Tombstone"
)

// Entry is one named child of a manifest: a tagged sum over File, FileChunks,
// Dir, Symlink, Superposition. Exactly the fields relevant to Kind are set.
type Entry struct {
	Name string    `json:"name"`
	Kind EntryKind `json:"kind"`

	// File / FileChunks / Dir / Symlink fields.
	Blob    ID     `json:"blob,omitempty"`
	Recipe  ID     `json:"recipe,omitempty"`
	ManifestRef ID `json:"manifest,omitempty"`
	Mode    uint32 `json:"mode,omitempty"`
	Size    int64  `json:"size,omitempty"`
	Target  string `json:"target,omitempty"`

	// Superposition field.
	Variants []SupVariant `json:"variants,omitempty"`
}

// SupVariant is one provenance-tagged alternative inside a Superposition.
type SupVariant struct {
	Source string      `json:"source"`
	Kind   VariantKind `json:"kind"`

	Blob        ID     `json:"blob,omitempty"`
	Recipe      ID     `json:"recipe,omitempty"`
	ManifestRef ID     `json:"manifest,omitempty"`
	Mode        uint32 `json:"mode,omitempty"`
	Size        int64  `json:"size,omitempty"`
	Target      string `json:"target,omitempty"`
}

// Key returns the canonical structural key used to deduplicate and sort
// variants: a tag over (source, kind, essential fields) per §4.1.
func (v SupVariant) Key() string {
	b, _ := json.Marshal(struct {
		Source      string      `json:"source"`
		Kind        VariantKind `json:"kind"`
		Blob        ID          `json:"blob,omitempty"`
		Recipe      ID          `json:"recipe,omitempty"`
		ManifestRef ID          `json:"manifest,omitempty"`
		Mode        uint32      `json:"mode,omitempty"`
		Size        int64       `json:"size,omitempty"`
		Target      string      `json:"target,omitempty"`
	}{v.Source, v.Kind, v.Blob, v.Recipe, v.ManifestRef, v.Mode, v.Size, v.Target})
	return string(b)
}

// Manifest is a directory's sorted listing of named entries.
type Manifest struct {
	Version int     `json:"version"`
	Entries []Entry `json:"entries"`
}

// Canonicalize returns a copy of m with entries sorted by name and, within
// each superposition, variants sorted and deduplicated by structural key.
func (m Manifest) Canonicalize() Manifest {
	out := Manifest{Version: m.Version, Entries: make([]Entry, len(m.Entries))}
	copy(out.Entries, m.Entries)
	for i, e := range out.Entries {
		if e.Kind == KindSuperposition {
			out.Entries[i].Variants = dedupeAndSortVariants(e.Variants)
		}
	}
	sort.Slice(out.Entries, func(i, j int) bool { return out.Entries[i].Name < out.Entries[j].Name })
	return out
}

func dedupeAndSortVariants(variants []SupVariant) []SupVariant {
	seen := make(map[string]SupVariant, len(variants))
	order := make([]string, 0, len(variants))
	for _, v := range variants {
		k := v.Key()
		if _, ok := seen[k]; !ok {
			order = append(order, k)
		}
		seen[k] = v
	}
	sort.Strings(order)
	out := make([]SupVariant, 0, len(order))
	for _, k := range order {
		out = append(out, seen[k])
	}
	return out
}

// ID computes the manifest's content id after canonicalizing entry/variant
// order. Returns the id and the canonical bytes that should be stored.
func (m Manifest) ID() (ID, []byte, error) {
	canon := m.Canonicalize()
	b, err := CanonicalizeValue(canon)
	if err != nil {
		return "", nil, err
	}
	return HashBytes(b), b, nil
}

// Validate checks the version and the shape of each entry.
func (m Manifest) Validate() error {
	if m.Version != 1 {
		return converrors.New(converrors.UnsupportedVersion, "manifest version %d unsupported", m.Version)
	}
	for _, e := range m.Entries {
		switch e.Kind {
		case KindFile, KindFileChunks, KindDir, KindSymlink:
		case KindSuperposition:
			for _, v := range e.Variants {
				switch v.Kind {
				case VKFile, VKFileChunks, VKDir, VKSymlink, VKTombstone:
				default:
					return converrors.New(converrors.BadEncoding, "entry %q: unknown variant kind %q", e.Name, v.Kind)
				}
			}
		default:
			return converrors.New(converrors.BadEncoding, "entry %q: unknown kind %q", e.Name, e.Kind)
		}
	}
	return nil
}

// HasSuperpositions reports whether m contains any Superposition entry at
// its top level (traversal into children is the caller's responsibility via
// SuperpositionScan).
func (m Manifest) HasSuperpositions() bool {
	for _, e := range m.Entries {
		if e.Kind == KindSuperposition {
			return true
		}
	}
	return false
}
