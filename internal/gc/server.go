package gc

import (
	"fmt"
	"sort"

	"github.com/inflatable-cookie/converge/internal/objmodel"
	"github.com/inflatable-cookie/converge/internal/repostate"
)

// ServerOptions controls one server-side GC run (spec.md §4.8).
type ServerOptions struct {
	DryRun                bool
	PruneMetadata         bool
	PruneReleasesKeepLast int // 0 means "keep all releases"
}

// ServerKept names every id a server-side GC run decided to keep, by
// category, mirroring the report's "kept" block.
type ServerKept struct {
	Releases     []string
	Bundles      []string
	Publications []string
	Snaps        []objmodel.ID
	Blobs        []objmodel.ID
	Manifests    []objmodel.ID
	Recipes      []objmodel.ID
}

// ServerDeleted names every id a server-side GC run removed.
type ServerDeleted struct {
	Releases     []string
	Bundles      []string
	Promotions   []string
	Publications []string
	Snaps        []objmodel.ID
	Blobs        []objmodel.ID
	Manifests    []objmodel.ID
	Recipes      []objmodel.ID
}

// ServerReport is the full result of a server-side GC run (spec.md §4.8).
type ServerReport struct {
	DryRun                 bool
	Kept                   ServerKept
	Deleted                ServerDeleted
	PrunedReleasesKeepLast int
}

// ObjectStore is the server's object backing store: a manifest loader plus
// the ability to enumerate and delete raw blob/manifest/recipe files.
type ObjectStore interface {
	objmodel.ManifestLoader
	ListBlobs() ([]objmodel.ID, error)
	ListManifests() ([]objmodel.ID, error)
	ListRecipes() ([]objmodel.ID, error)
	DeleteBlob(id objmodel.ID) error
	DeleteManifest(id objmodel.ID) error
	DeleteRecipe(id objmodel.ID) error
}

// RunServer computes KeptReleases/KeptBundles/KeptPublications/KeptSnaps/
// KeptObjects per spec.md §4.8 and, unless dryRun, deletes everything not
// kept (publications, bundles, promotions, releases subject to
// PruneMetadata; objects unconditionally once unreachable).
func RunServer(repo *repostate.Repo, store ObjectStore, opts ServerOptions) (ServerReport, error) {
	keptReleaseIDs, prunedCount := keptReleases(repo, opts.PruneReleasesKeepLast)

	keptBundleIDs := map[string]bool{}
	for id, pinned := range repo.PinnedBundles {
		if pinned {
			keptBundleIDs[id] = true
		}
	}
	for _, relID := range keptReleaseIDs {
		keptBundleIDs[repo.Releases[relID].BundleID] = true
	}
	for _, byGate := range repo.PromotionState {
		for _, bundleID := range byGate {
			keptBundleIDs[bundleID] = true
		}
	}

	keptPubIDs := map[string]bool{}
	for bundleID := range keptBundleIDs {
		b, ok := repo.Bundles[bundleID]
		if !ok {
			continue
		}
		for _, pubID := range b.InputPublications {
			keptPubIDs[pubID] = true
		}
	}

	keptSnapIDs := map[objmodel.ID]bool{}
	for pubID := range keptPubIDs {
		if pub, ok := repo.Publications[pubID]; ok {
			keptSnapIDs[pub.Snap] = true
		}
	}
	// Lineage: every kept bundle's own publications are already walked above
	// via keptPubIDs, which is a superset of spec.md's "snaps whose id
	// matches a kept bundle's lineage" — a bundle has no snap identity of
	// its own, only the publications merged into it.

	reachBlobs := map[objmodel.ID]bool{}
	reachManifests := map[objmodel.ID]bool{}
	reachRecipes := map[objmodel.ID]bool{}
	for snapID := range keptSnapIDs {
		snap, ok := repo.Snaps[snapID]
		if !ok {
			continue
		}
		r, err := objmodel.EnumerateReachable(store, snap.RootManifest)
		if err != nil {
			return ServerReport{}, fmt.Errorf("gc: walk snap %s: %w", snapID, err)
		}
		for id := range r.Blobs {
			reachBlobs[id] = true
		}
		for id := range r.Manifests {
			reachManifests[id] = true
		}
		for id := range r.Recipes {
			reachRecipes[id] = true
		}
	}
	for bundleID := range keptBundleIDs {
		b, ok := repo.Bundles[bundleID]
		if !ok {
			continue
		}
		r, err := objmodel.EnumerateReachable(store, b.RootManifest)
		if err != nil {
			return ServerReport{}, fmt.Errorf("gc: walk bundle %s: %w", bundleID, err)
		}
		for id := range r.Blobs {
			reachBlobs[id] = true
		}
		for id := range r.Manifests {
			reachManifests[id] = true
		}
		for id := range r.Recipes {
			reachRecipes[id] = true
		}
	}

	report := ServerReport{DryRun: opts.DryRun, PrunedReleasesKeepLast: prunedCount}
	report.Kept.Releases = sortedStrings(keptReleaseIDs)
	report.Kept.Bundles = sortedKeys(keptBundleIDs)
	report.Kept.Publications = sortedKeys(keptPubIDs)
	report.Kept.Snaps = sortedIDs(keptSnapIDs)

	if opts.PruneMetadata {
		for id := range repo.Releases {
			if !containsString(keptReleaseIDs, id) {
				report.Deleted.Releases = append(report.Deleted.Releases, id)
			}
		}
		for id := range repo.Bundles {
			if !keptBundleIDs[id] {
				report.Deleted.Bundles = append(report.Deleted.Bundles, id)
			}
		}
		for id := range repo.Promotions {
			p := repo.Promotions[id]
			if !keptBundleIDs[p.BundleID] {
				report.Deleted.Promotions = append(report.Deleted.Promotions, id)
			}
		}
		for id := range repo.Publications {
			if !keptPubIDs[id] {
				report.Deleted.Publications = append(report.Deleted.Publications, id)
			}
		}
		for id := range repo.Snaps {
			if !keptSnapIDs[id] {
				report.Deleted.Snaps = append(report.Deleted.Snaps, id)
			}
		}
		sort.Strings(report.Deleted.Releases)
		sort.Strings(report.Deleted.Bundles)
		sort.Strings(report.Deleted.Promotions)
		sort.Strings(report.Deleted.Publications)
		sortIDs(report.Deleted.Snaps)

		if !opts.DryRun {
			for _, id := range report.Deleted.Releases {
				delete(repo.Releases, id)
			}
			for _, id := range report.Deleted.Bundles {
				delete(repo.Bundles, id)
			}
			for _, id := range report.Deleted.Promotions {
				delete(repo.Promotions, id)
			}
			for _, id := range report.Deleted.Publications {
				delete(repo.Publications, id)
			}
			for _, id := range report.Deleted.Snaps {
				delete(repo.Snaps, id)
			}
		}
	}

	allBlobs, err := store.ListBlobs()
	if err != nil {
		return ServerReport{}, fmt.Errorf("gc: list blobs: %w", err)
	}
	for _, id := range allBlobs {
		if reachBlobs[id] {
			report.Kept.Blobs = append(report.Kept.Blobs, id)
			continue
		}
		report.Deleted.Blobs = append(report.Deleted.Blobs, id)
		if !opts.DryRun {
			if err := store.DeleteBlob(id); err != nil {
				return ServerReport{}, fmt.Errorf("gc: delete blob %s: %w", id, err)
			}
		}
	}

	allManifests, err := store.ListManifests()
	if err != nil {
		return ServerReport{}, fmt.Errorf("gc: list manifests: %w", err)
	}
	for _, id := range allManifests {
		if reachManifests[id] {
			report.Kept.Manifests = append(report.Kept.Manifests, id)
			continue
		}
		report.Deleted.Manifests = append(report.Deleted.Manifests, id)
		if !opts.DryRun {
			if err := store.DeleteManifest(id); err != nil {
				return ServerReport{}, fmt.Errorf("gc: delete manifest %s: %w", id, err)
			}
		}
	}

	allRecipes, err := store.ListRecipes()
	if err != nil {
		return ServerReport{}, fmt.Errorf("gc: list recipes: %w", err)
	}
	for _, id := range allRecipes {
		if reachRecipes[id] {
			report.Kept.Recipes = append(report.Kept.Recipes, id)
			continue
		}
		report.Deleted.Recipes = append(report.Deleted.Recipes, id)
		if !opts.DryRun {
			if err := store.DeleteRecipe(id); err != nil {
				return ServerReport{}, fmt.Errorf("gc: delete recipe %s: %w", id, err)
			}
		}
	}

	return report, nil
}

// keptReleases returns, for keepLast > 0, the N most-recently-released
// releases per channel; for keepLast == 0, every release is kept. Returns
// the kept ids and the count of releases pruned by the keep-last rule
// (informational, reported as PrunedReleasesKeepLast).
func keptReleases(repo *repostate.Repo, keepLast int) ([]string, int) {
	if keepLast <= 0 {
		ids := make([]string, 0, len(repo.Releases))
		for id := range repo.Releases {
			ids = append(ids, id)
		}
		return ids, 0
	}

	byChannel := map[string][]repostate.Release{}
	for _, rel := range repo.Releases {
		byChannel[rel.Channel] = append(byChannel[rel.Channel], rel)
	}

	var kept []string
	pruned := 0
	for _, releases := range byChannel {
		sort.Slice(releases, func(i, j int) bool { return releases[i].ReleasedAt.After(releases[j].ReleasedAt) })
		for i, rel := range releases {
			if i < keepLast {
				kept = append(kept, rel.ID)
			} else {
				pruned++
			}
		}
	}
	return kept, pruned
}

func containsString(ss []string, v string) bool {
	for _, s := range ss {
		if s == v {
			return true
		}
	}
	return false
}

func sortedStrings(ss []string) []string {
	out := append([]string(nil), ss...)
	sort.Strings(out)
	return out
}

func sortedKeys(m map[string]bool) []string {
	out := make([]string, 0, len(m))
	for k := range m {
		out = append(out, k)
	}
	sort.Strings(out)
	return out
}

func sortedIDs(m map[objmodel.ID]bool) []objmodel.ID {
	out := make([]objmodel.ID, 0, len(m))
	for k := range m {
		out = append(out, k)
	}
	sortIDs(out)
	return out
}

func sortIDs(ids []objmodel.ID) {
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })
}
