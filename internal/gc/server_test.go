package gc

import (
	"testing"
	"time"

	"github.com/inflatable-cookie/converge/internal/objmodel"
	"github.com/inflatable-cookie/converge/internal/repostate"
	"github.com/stretchr/testify/require"
)

type memObjectStore struct {
	memManifestLoader
	blobs   map[objmodel.ID][]byte
	recipes map[objmodel.ID]objmodel.Recipe
}

func (s *memObjectStore) ListBlobs() ([]objmodel.ID, error) {
	var out []objmodel.ID
	for id := range s.blobs {
		out = append(out, id)
	}
	return out, nil
}
func (s *memObjectStore) ListManifests() ([]objmodel.ID, error) {
	var out []objmodel.ID
	for id := range s.memManifestLoader {
		out = append(out, id)
	}
	return out, nil
}
func (s *memObjectStore) ListRecipes() ([]objmodel.ID, error) {
	var out []objmodel.ID
	for id := range s.recipes {
		out = append(out, id)
	}
	return out, nil
}
func (s *memObjectStore) DeleteBlob(id objmodel.ID) error {
	delete(s.blobs, id)
	return nil
}
func (s *memObjectStore) DeleteManifest(id objmodel.ID) error {
	delete(s.memManifestLoader, id)
	return nil
}
func (s *memObjectStore) DeleteRecipe(id objmodel.ID) error {
	delete(s.recipes, id)
	return nil
}

func TestRunServerKeepsOnlyReleasedAndPromotedClosure(t *testing.T) {
	keptBlob := objmodel.HashBytes([]byte("kept"))
	droppedBlob := objmodel.HashBytes([]byte("dropped"))
	keptManifest := leafManifest("a.txt", keptBlob)
	keptRoot, _, err := keptManifest.ID()
	require.NoError(t, err)
	droppedManifest := leafManifest("b.txt", droppedBlob)
	droppedRoot, _, err := droppedManifest.ID()
	require.NoError(t, err)

	store := &memObjectStore{
		memManifestLoader: memManifestLoader{keptRoot: keptManifest, droppedRoot: droppedManifest},
		blobs:             map[objmodel.ID][]byte{keptBlob: []byte("kept"), droppedBlob: []byte("dropped")},
		recipes:           map[objmodel.ID]objmodel.Recipe{},
	}

	repo := repostate.NewRepo("r1", "alice")
	repo.Snaps[objmodel.ID("snap-kept")] = objmodel.Snap{RootManifest: keptRoot}
	repo.Snaps[objmodel.ID("snap-dropped")] = objmodel.Snap{RootManifest: droppedRoot}
	repo.Publications["pub-kept"] = repostate.Publication{ID: "pub-kept", Snap: objmodel.ID("snap-kept")}
	repo.Publications["pub-dropped"] = repostate.Publication{ID: "pub-dropped", Snap: objmodel.ID("snap-dropped")}
	repo.Bundles["bundle-kept"] = repostate.Bundle{
		ID: "bundle-kept", RootManifest: keptRoot, InputPublications: []string{"pub-kept"},
	}
	repo.Bundles["bundle-dropped"] = repostate.Bundle{
		ID: "bundle-dropped", RootManifest: droppedRoot, InputPublications: []string{"pub-dropped"},
	}
	repo.Releases["rel-1"] = repostate.Release{
		ID: "rel-1", Channel: "stable", BundleID: "bundle-kept", ReleasedAt: time.Now(),
	}

	report, err := RunServer(repo, store, ServerOptions{PruneMetadata: true})
	require.NoError(t, err)

	require.Contains(t, report.Kept.Bundles, "bundle-kept")
	require.NotContains(t, report.Kept.Bundles, "bundle-dropped")
	require.Contains(t, report.Deleted.Bundles, "bundle-dropped")
	require.Contains(t, report.Deleted.Publications, "pub-dropped")
	require.Contains(t, report.Deleted.Blobs, droppedBlob)
	require.NotContains(t, report.Deleted.Blobs, keptBlob)

	_, stillExists := repo.Bundles["bundle-dropped"]
	require.False(t, stillExists)
	_, keptStillExists := repo.Bundles["bundle-kept"]
	require.True(t, keptStillExists)
}

func TestRunServerDryRunDoesNotMutateRepoOrStore(t *testing.T) {
	blob := objmodel.HashBytes([]byte("x"))
	m := leafManifest("x.txt", blob)
	root, _, err := m.ID()
	require.NoError(t, err)

	store := &memObjectStore{
		memManifestLoader: memManifestLoader{root: m},
		blobs:             map[objmodel.ID][]byte{blob: []byte("x")},
		recipes:           map[objmodel.ID]objmodel.Recipe{},
	}
	repo := repostate.NewRepo("r1", "alice")
	repo.Snaps[objmodel.ID("s1")] = objmodel.Snap{RootManifest: root}
	repo.Publications["p1"] = repostate.Publication{ID: "p1", Snap: objmodel.ID("s1")}
	// no bundle references p1, so everything is unreachable/deletable

	report, err := RunServer(repo, store, ServerOptions{DryRun: true, PruneMetadata: true})
	require.NoError(t, err)
	require.Contains(t, report.Deleted.Publications, "p1")

	_, stillThere := repo.Publications["p1"]
	require.True(t, stillThere)
	require.Len(t, store.blobs, 1)
}

func TestKeptReleasesHonoursPerChannelKeepLast(t *testing.T) {
	repo := repostate.NewRepo("r1", "alice")
	base := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	repo.Releases["r-old"] = repostate.Release{ID: "r-old", Channel: "stable", ReleasedAt: base}
	repo.Releases["r-mid"] = repostate.Release{ID: "r-mid", Channel: "stable", ReleasedAt: base.AddDate(0, 0, 1)}
	repo.Releases["r-new"] = repostate.Release{ID: "r-new", Channel: "stable", ReleasedAt: base.AddDate(0, 0, 2)}

	kept, pruned := keptReleases(repo, 2)
	require.ElementsMatch(t, []string{"r-new", "r-mid"}, kept)
	require.Equal(t, 1, pruned)
}
