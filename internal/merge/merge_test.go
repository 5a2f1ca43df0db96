package merge

import (
	"testing"

	"github.com/inflatable-cookie/converge/internal/objmodel"
	"github.com/stretchr/testify/require"
)

type memManifestStore struct {
	byID map[objmodel.ID]objmodel.Manifest
}

func newMemManifestStore() *memManifestStore {
	return &memManifestStore{byID: map[objmodel.ID]objmodel.Manifest{}}
}

func (s *memManifestStore) LoadManifest(id objmodel.ID) (objmodel.Manifest, error) {
	m, ok := s.byID[id]
	if !ok {
		return objmodel.Manifest{}, errNotFoundTest(id)
	}
	return m, nil
}

func (s *memManifestStore) PutManifest(m objmodel.Manifest) (objmodel.ID, error) {
	id, _, err := m.ID()
	if err != nil {
		return "", err
	}
	s.byID[id] = m.Canonicalize()
	return id, nil
}

type notFoundErr string

func (e notFoundErr) Error() string { return string(e) }

func errNotFoundTest(id objmodel.ID) error {
	return notFoundErr("manifest not found: " + string(id))
}

// TestSuperpositionBundleScenario is §8 scenario 3: two publications whose
// root manifests differ only at /docs/readme.txt.
func TestSuperpositionBundleScenario(t *testing.T) {
	store := newMemManifestStore()

	docsAlice := objmodel.Manifest{Version: 1, Entries: []objmodel.Entry{
		{Name: "readme.txt", Kind: objmodel.KindFile, Blob: "b1", Mode: 0o644, Size: 10},
	}}
	docsBob := objmodel.Manifest{Version: 1, Entries: []objmodel.Entry{
		{Name: "readme.txt", Kind: objmodel.KindFile, Blob: "b2", Mode: 0o644, Size: 12},
	}}
	docsAliceID, err := store.PutManifest(docsAlice)
	require.NoError(t, err)
	docsBobID, err := store.PutManifest(docsBob)
	require.NoError(t, err)

	rootAlice := objmodel.Manifest{Version: 1, Entries: []objmodel.Entry{
		{Name: "docs", Kind: objmodel.KindDir, ManifestRef: docsAliceID},
	}}
	rootBob := objmodel.Manifest{Version: 1, Entries: []objmodel.Entry{
		{Name: "docs", Kind: objmodel.KindDir, ManifestRef: docsBobID},
	}}
	rootAliceID, err := store.PutManifest(rootAlice)
	require.NoError(t, err)
	rootBobID, err := store.PutManifest(rootBob)
	require.NoError(t, err)

	mergedID, err := Merge(store, []Input{
		{ID: "pub-alice", Source: "alice", Root: rootAliceID},
		{ID: "pub-bob", Source: "bob", Root: rootBobID},
	})
	require.NoError(t, err)

	merged, err := store.LoadManifest(mergedID)
	require.NoError(t, err)
	require.Len(t, merged.Entries, 1)
	require.Equal(t, "docs", merged.Entries[0].Name)
	require.Equal(t, objmodel.KindDir, merged.Entries[0].Kind)

	mergedDocs, err := store.LoadManifest(merged.Entries[0].ManifestRef)
	require.NoError(t, err)
	require.Len(t, mergedDocs.Entries, 1)
	require.Equal(t, objmodel.KindSuperposition, mergedDocs.Entries[0].Kind)
	require.Len(t, mergedDocs.Entries[0].Variants, 2)
	require.Equal(t, "alice", mergedDocs.Entries[0].Variants[0].Source)
	require.Equal(t, "bob", mergedDocs.Entries[0].Variants[1].Source)
}

// TestMergeDeterministicOrderIndependent is P5: bundle creation from the
// same publications, in any order, yields a byte-identical root manifest id.
func TestMergeDeterministicOrderIndependent(t *testing.T) {
	store := newMemManifestStore()
	fileA, _ := store.PutManifest(objmodel.Manifest{Version: 1, Entries: []objmodel.Entry{
		{Name: "x", Kind: objmodel.KindFile, Blob: "b1", Size: 1},
	}})
	fileB, _ := store.PutManifest(objmodel.Manifest{Version: 1, Entries: []objmodel.Entry{
		{Name: "x", Kind: objmodel.KindFile, Blob: "b2", Size: 2},
	}})
	fileC, _ := store.PutManifest(objmodel.Manifest{Version: 1, Entries: []objmodel.Entry{
		{Name: "x", Kind: objmodel.KindFile, Blob: "b3", Size: 3},
	}})

	id1, err := Merge(store, []Input{
		{ID: "pub-a", Source: "alice", Root: fileA},
		{ID: "pub-b", Source: "bob", Root: fileB},
		{ID: "pub-c", Source: "carol", Root: fileC},
	})
	require.NoError(t, err)
	id2, err := Merge(store, []Input{
		{ID: "pub-c", Source: "carol", Root: fileC},
		{ID: "pub-a", Source: "alice", Root: fileA},
		{ID: "pub-b", Source: "bob", Root: fileB},
	})
	require.NoError(t, err)
	require.Equal(t, id1, id2)
}

// TestMergeEqualChildrenCollapse: identical content across all inputs never
// produces a superposition.
func TestMergeEqualChildrenCollapse(t *testing.T) {
	store := newMemManifestStore()
	same, _ := store.PutManifest(objmodel.Manifest{Version: 1, Entries: []objmodel.Entry{
		{Name: "x", Kind: objmodel.KindFile, Blob: "b1", Size: 1},
	}})
	mergedID, err := Merge(store, []Input{
		{ID: "pub-a", Source: "alice", Root: same},
		{ID: "pub-b", Source: "bob", Root: same},
	})
	require.NoError(t, err)
	require.Equal(t, same, mergedID)
}

// TestMergeAbsentEntryProducesTombstone: a path present in some inputs but
// missing from others merges into a Superposition whose missing-side
// variant is a VKTombstone, not silently dropped or silently kept.
func TestMergeAbsentEntryProducesTombstone(t *testing.T) {
	store := newMemManifestStore()
	rootAlice, _ := store.PutManifest(objmodel.Manifest{Version: 1, Entries: []objmodel.Entry{
		{Name: "new-file.txt", Kind: objmodel.KindFile, Blob: "b1", Size: 1},
	}})
	rootBob, _ := store.PutManifest(objmodel.Manifest{Version: 1, Entries: []objmodel.Entry{}})

	mergedID, err := Merge(store, []Input{
		{ID: "pub-alice", Source: "alice", Root: rootAlice},
		{ID: "pub-bob", Source: "bob", Root: rootBob},
	})
	require.NoError(t, err)

	merged, err := store.LoadManifest(mergedID)
	require.NoError(t, err)
	require.Len(t, merged.Entries, 1)
	require.Equal(t, objmodel.KindSuperposition, merged.Entries[0].Kind)
	require.Len(t, merged.Entries[0].Variants, 2)

	require.Equal(t, "alice", merged.Entries[0].Variants[0].Source)
	require.Equal(t, objmodel.VariantKind(objmodel.KindFile), merged.Entries[0].Variants[0].Kind)

	require.Equal(t, "bob", merged.Entries[0].Variants[1].Source)
	require.Equal(t, objmodel.VKTombstone, merged.Entries[0].Variants[1].Kind)
}

// TestMergeSamePublisherDistinctPublicationsNeverCollapse: two publications
// from the same publisher handle but with different snap roots must both
// survive the merge (keyed by publication id, not by publisher), and the
// merge's result must not depend on which one is listed first.
func TestMergeSamePublisherDistinctPublicationsNeverCollapse(t *testing.T) {
	store := newMemManifestStore()
	fileA, _ := store.PutManifest(objmodel.Manifest{Version: 1, Entries: []objmodel.Entry{
		{Name: "x", Kind: objmodel.KindFile, Blob: "b1", Size: 1},
	}})
	fileB, _ := store.PutManifest(objmodel.Manifest{Version: 1, Entries: []objmodel.Entry{
		{Name: "x", Kind: objmodel.KindFile, Blob: "b2", Size: 2},
	}})

	id1, err := Merge(store, []Input{
		{ID: "pub-1", Source: "alice", Root: fileA},
		{ID: "pub-2", Source: "alice", Root: fileB},
	})
	require.NoError(t, err)
	id2, err := Merge(store, []Input{
		{ID: "pub-2", Source: "alice", Root: fileB},
		{ID: "pub-1", Source: "alice", Root: fileA},
	})
	require.NoError(t, err)
	require.Equal(t, id1, id2)

	merged, err := store.LoadManifest(id1)
	require.NoError(t, err)
	require.Len(t, merged.Entries, 1)
	require.Equal(t, objmodel.KindSuperposition, merged.Entries[0].Kind)
	require.Len(t, merged.Entries[0].Variants, 2)
}
