package gc

import (
	"errors"
	"testing"
	"time"

	"github.com/inflatable-cookie/converge/internal/objmodel"
	"github.com/stretchr/testify/require"
)

var errNotFound = errors.New("not found")

type memManifestLoader map[objmodel.ID]objmodel.Manifest

func (m memManifestLoader) LoadManifest(id objmodel.ID) (objmodel.Manifest, error) {
	man, ok := m[id]
	if !ok {
		return objmodel.Manifest{}, errNotFound
	}
	return man, nil
}

type memClientCache struct {
	memManifestLoader
	blobs   map[objmodel.ID][]byte
	recipes map[objmodel.ID]objmodel.Recipe
}

func (c *memClientCache) ListBlobs() ([]objmodel.ID, error) {
	var out []objmodel.ID
	for id := range c.blobs {
		out = append(out, id)
	}
	return out, nil
}
func (c *memClientCache) ListManifests() ([]objmodel.ID, error) {
	var out []objmodel.ID
	for id := range c.memManifestLoader {
		out = append(out, id)
	}
	return out, nil
}
func (c *memClientCache) ListRecipes() ([]objmodel.ID, error) {
	var out []objmodel.ID
	for id := range c.recipes {
		out = append(out, id)
	}
	return out, nil
}
func (c *memClientCache) DeleteBlob(id objmodel.ID) error {
	delete(c.blobs, id)
	return nil
}
func (c *memClientCache) DeleteManifest(id objmodel.ID) error {
	delete(c.memManifestLoader, id)
	return nil
}
func (c *memClientCache) DeleteRecipe(id objmodel.ID) error {
	delete(c.recipes, id)
	return nil
}
func (c *memClientCache) DeleteSnap(id objmodel.ID) error { return nil }

func leafManifest(name string, blob objmodel.ID) objmodel.Manifest {
	return objmodel.Manifest{Version: 1, Entries: []objmodel.Entry{
		{Name: name, Kind: objmodel.KindFile, Blob: blob, Size: 1},
	}}
}

func TestKeepSetFallsBackToNewestWhenNothingElseKept(t *testing.T) {
	now := time.Date(2026, 7, 29, 0, 0, 0, 0, time.UTC)
	snaps := []SnapInfo{
		{ID: "old", CreatedAt: now.AddDate(0, 0, -100)},
		{ID: "newer", CreatedAt: now.AddDate(0, 0, -50)},
	}
	kept := KeepSet(snaps, ClientPolicy{}, now)
	require.True(t, kept["newer"])
	require.False(t, kept["old"])
	require.Len(t, kept, 1)
}

func TestKeepSetHonoursHeadPinnedLastNAndWithinDays(t *testing.T) {
	now := time.Date(2026, 7, 29, 0, 0, 0, 0, time.UTC)
	snaps := []SnapInfo{
		{ID: "head", CreatedAt: now.AddDate(0, 0, -300)},
		{ID: "pinned", CreatedAt: now.AddDate(0, 0, -300), Pinned: true},
		{ID: "recent1", CreatedAt: now.AddDate(0, 0, -1)},
		{ID: "recent2", CreatedAt: now.AddDate(0, 0, -2)},
		{ID: "ancient", CreatedAt: now.AddDate(0, 0, -365)},
	}
	policy := ClientPolicy{Head: "head", KeepLastN: 1, KeepWithinDays: 7}
	kept := KeepSet(snaps, policy, now)
	require.True(t, kept["head"])
	require.True(t, kept["pinned"])
	require.True(t, kept["recent1"]) // within days and newest
	require.True(t, kept["recent2"]) // within days
	require.False(t, kept["ancient"])
}

func TestRunClientDeletesUnreachableObjectsOnly(t *testing.T) {
	keptBlob := objmodel.HashBytes([]byte("kept"))
	droppedBlob := objmodel.HashBytes([]byte("dropped"))

	keptManifest := leafManifest("a.txt", keptBlob)
	keptRoot, _, err := keptManifest.ID()
	require.NoError(t, err)

	droppedManifest := leafManifest("b.txt", droppedBlob)
	droppedRoot, _, err := droppedManifest.ID()
	require.NoError(t, err)

	cache := &memClientCache{
		memManifestLoader: memManifestLoader{keptRoot: keptManifest, droppedRoot: droppedManifest},
		blobs:             map[objmodel.ID][]byte{keptBlob: []byte("kept"), droppedBlob: []byte("dropped")},
		recipes:           map[objmodel.ID]objmodel.Recipe{},
	}

	now := time.Date(2026, 7, 29, 0, 0, 0, 0, time.UTC)
	snaps := []SnapInfo{
		{ID: "s-kept", RootManifest: keptRoot, CreatedAt: now},
		{ID: "s-dropped", RootManifest: droppedRoot, CreatedAt: now.AddDate(0, 0, -100)},
	}
	policy := ClientPolicy{Head: "s-kept"}

	report, err := RunClient(cache, snaps, policy, now, false)
	require.NoError(t, err)
	require.Contains(t, report.DeletedBlobs, droppedBlob)
	require.NotContains(t, report.DeletedBlobs, keptBlob)
	require.Contains(t, report.DeletedManifests, droppedRoot)
	require.NotContains(t, report.DeletedManifests, keptRoot)

	_, stillThere := cache.blobs[keptBlob]
	require.True(t, stillThere)
	_, gone := cache.blobs[droppedBlob]
	require.False(t, gone)
}

func TestRunClientDryRunMutatesNothing(t *testing.T) {
	blob := objmodel.HashBytes([]byte("x"))
	m := leafManifest("x.txt", blob)
	root, _, err := m.ID()
	require.NoError(t, err)

	// orphan manifest unreachable from any kept snap
	orphanBlob := objmodel.HashBytes([]byte("orphan"))
	orphan := leafManifest("y.txt", orphanBlob)
	orphanRoot, _, err := orphan.ID()
	require.NoError(t, err)

	cache := &memClientCache{
		memManifestLoader: memManifestLoader{root: m, orphanRoot: orphan},
		blobs:             map[objmodel.ID][]byte{blob: []byte("x"), orphanBlob: []byte("orphan")},
		recipes:           map[objmodel.ID]objmodel.Recipe{},
	}
	now := time.Now().UTC()
	snaps := []SnapInfo{{ID: "only", RootManifest: root, CreatedAt: now}}

	report, err := RunClient(cache, snaps, ClientPolicy{Head: "only"}, now, true)
	require.NoError(t, err)
	require.Contains(t, report.DeletedBlobs, orphanBlob)
	require.Len(t, cache.blobs, 2) // dry run: nothing actually removed
}
