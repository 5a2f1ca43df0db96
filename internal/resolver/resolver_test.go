package resolver

import (
	"testing"

	"github.com/inflatable-cookie/converge/internal/objmodel"
	"github.com/stretchr/testify/require"
)

type memStore struct {
	byID map[objmodel.ID]objmodel.Manifest
}

func newMemStore() *memStore { return &memStore{byID: map[objmodel.ID]objmodel.Manifest{}} }

func (s *memStore) LoadManifest(id objmodel.ID) (objmodel.Manifest, error) {
	m, ok := s.byID[id]
	if !ok {
		return objmodel.Manifest{}, notFound(id)
	}
	return m, nil
}

func (s *memStore) PutManifest(m objmodel.Manifest) (objmodel.ID, error) {
	id, _, err := m.ID()
	if err != nil {
		return "", err
	}
	s.byID[id] = m.Canonicalize()
	return id, nil
}

type notFoundErr string

func (e notFoundErr) Error() string { return string(e) }
func notFound(id objmodel.ID) error { return notFoundErr("not found: " + string(id)) }

// TestResolveAndPromoteScenario is §8 scenario 4.
func TestResolveAndPromoteScenario(t *testing.T) {
	store := newMemStore()

	bobVariant := objmodel.SupVariant{Source: "bob", Kind: objmodel.VKFile, Blob: "b2", Size: 12}
	aliceVariant := objmodel.SupVariant{Source: "alice", Kind: objmodel.VKFile, Blob: "b1", Size: 10}

	docsMerged := objmodel.Manifest{Version: 1, Entries: []objmodel.Entry{
		{Name: "readme.txt", Kind: objmodel.KindSuperposition, Variants: []objmodel.SupVariant{aliceVariant, bobVariant}},
	}}
	docsMergedID, err := store.PutManifest(docsMerged)
	require.NoError(t, err)

	root := objmodel.Manifest{Version: 1, Entries: []objmodel.Entry{
		{Name: "docs", Kind: objmodel.KindDir, ManifestRef: docsMergedID},
	}}
	rootID, err := store.PutManifest(root)
	require.NoError(t, err)

	decisions := map[string]Decision{
		"docs/readme.txt": {Kind: DecisionKey, Key: bobVariant.Key()},
	}

	report, err := Validate(store, rootID, decisions)
	require.NoError(t, err)
	require.True(t, report.OK)

	resolvedID, err := Apply(store, rootID, decisions)
	require.NoError(t, err)

	// Expected: equals P2's root (docs/readme.txt = bob's file directly).
	expectedDocs := objmodel.Manifest{Version: 1, Entries: []objmodel.Entry{
		{Name: "readme.txt", Kind: objmodel.KindFile, Blob: "b2", Size: 12},
	}}
	expectedRoot := objmodel.Manifest{Version: 1, Entries: []objmodel.Entry{
		{Name: "docs", Kind: objmodel.KindDir},
	}}
	expectedDocsID, err := store.PutManifest(expectedDocs)
	require.NoError(t, err)
	expectedRoot.Entries[0].ManifestRef = expectedDocsID
	expectedRootID, err := store.PutManifest(expectedRoot)
	require.NoError(t, err)

	require.Equal(t, expectedRootID, resolvedID)
}

// TestApplyIdempotent is P6: applying a valid resolution twice yields the
// same resolved root manifest id.
func TestApplyIdempotent(t *testing.T) {
	store := newMemStore()
	v1 := objmodel.SupVariant{Source: "a", Kind: objmodel.VKFile, Blob: "b1"}
	v2 := objmodel.SupVariant{Source: "b", Kind: objmodel.VKFile, Blob: "b2"}
	root := objmodel.Manifest{Version: 1, Entries: []objmodel.Entry{
		{Name: "f", Kind: objmodel.KindSuperposition, Variants: []objmodel.SupVariant{v1, v2}},
	}}
	rootID, err := store.PutManifest(root)
	require.NoError(t, err)
	decisions := map[string]Decision{"f": {Kind: DecisionKey, Key: v1.Key()}}

	id1, err := Apply(store, rootID, decisions)
	require.NoError(t, err)
	id2, err := Apply(store, rootID, decisions)
	require.NoError(t, err)
	require.Equal(t, id1, id2)
}

func TestTombstoneOmitsEntry(t *testing.T) {
	store := newMemStore()
	present := objmodel.SupVariant{Source: "a", Kind: objmodel.VKFile, Blob: "b1"}
	deleted := objmodel.SupVariant{Source: "b", Kind: objmodel.VKTombstone}
	root := objmodel.Manifest{Version: 1, Entries: []objmodel.Entry{
		{Name: "f", Kind: objmodel.KindSuperposition, Variants: []objmodel.SupVariant{present, deleted}},
	}}
	rootID, err := store.PutManifest(root)
	require.NoError(t, err)
	decisions := map[string]Decision{"f": {Kind: DecisionKey, Key: deleted.Key()}}

	resolvedID, err := Apply(store, rootID, decisions)
	require.NoError(t, err)
	resolved, err := store.LoadManifest(resolvedID)
	require.NoError(t, err)
	require.Empty(t, resolved.Entries)
}

func TestValidateReportsMissingAndExtraneous(t *testing.T) {
	store := newMemStore()
	v1 := objmodel.SupVariant{Source: "a", Kind: objmodel.VKFile, Blob: "b1"}
	root := objmodel.Manifest{Version: 1, Entries: []objmodel.Entry{
		{Name: "f", Kind: objmodel.KindSuperposition, Variants: []objmodel.SupVariant{v1}},
	}}
	rootID, err := store.PutManifest(root)
	require.NoError(t, err)

	report, err := Validate(store, rootID, map[string]Decision{"stale/path": {Kind: DecisionKey, Key: "x"}})
	require.NoError(t, err)
	require.False(t, report.OK)
	require.Contains(t, report.Missing, "f")
	require.Contains(t, report.Extraneous, "stale/path")
}

func TestUpgradeLegacyIndexDecision(t *testing.T) {
	store := newMemStore()
	v1 := objmodel.SupVariant{Source: "a", Kind: objmodel.VKFile, Blob: "b1"}
	v2 := objmodel.SupVariant{Source: "b", Kind: objmodel.VKFile, Blob: "b2"}
	root := objmodel.Manifest{Version: 1, Entries: []objmodel.Entry{
		{Name: "f", Kind: objmodel.KindSuperposition, Variants: []objmodel.SupVariant{v1, v2}},
	}}
	rootID, err := store.PutManifest(root)
	require.NoError(t, err)

	res := Resolution{Version: 1, RootManifest: rootID, Decisions: map[string]Decision{
		"f": {Kind: DecisionIndex, Index: 1},
	}}
	upgraded, err := UpgradeLegacyDecisions(store, res)
	require.NoError(t, err)
	require.Equal(t, DecisionKey, upgraded.Decisions["f"].Kind)

	canon := root.Canonicalize()
	require.Equal(t, canon.Entries[0].Variants[1].Key(), upgraded.Decisions["f"].Key)
}
