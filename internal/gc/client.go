// Package gc implements reachability-based garbage collection for both the
// client's local object cache and the server's per-repo object store
// (spec.md §4.8): compute a keep set, walk it for reachable objects, delete
// everything else.
package gc

import (
	"fmt"
	"sort"
	"time"

	"github.com/inflatable-cookie/converge/internal/objmodel"
)

// SnapInfo is the minimal per-snap metadata the client-side keep-set
// computation needs, independent of localstore's storage representation.
type SnapInfo struct {
	ID           objmodel.ID
	RootManifest objmodel.ID
	CreatedAt    time.Time
	Pinned       bool
}

// ClientPolicy controls the client-side retention window.
type ClientPolicy struct {
	Head objmodel.ID // the workspace's current snap, always kept; may be ""

	// KeepLastN keeps the N most recently created snaps. Zero disables this
	// rule.
	KeepLastN int

	// KeepWithinDays keeps every snap created within the last D days of now.
	// Zero disables this rule.
	KeepWithinDays int

	// PruneSnaps additionally deletes non-kept snap records, not just their
	// unreachable objects.
	PruneSnaps bool
}

// KeepSet computes which snaps a client-side GC run will retain: HEAD ∪
// pinned ∪ last N by created_at ∪ those within the last D days. If none of
// these rules keep anything, the single newest snap is kept instead (spec.md
// §4.8: "If empty, fall back to keeping the newest snap.").
func KeepSet(snaps []SnapInfo, policy ClientPolicy, now time.Time) map[objmodel.ID]bool {
	kept := map[objmodel.ID]bool{}
	if policy.Head != "" {
		kept[policy.Head] = true
	}
	for _, s := range snaps {
		if s.Pinned {
			kept[s.ID] = true
		}
	}

	byAge := append([]SnapInfo(nil), snaps...)
	sort.Slice(byAge, func(i, j int) bool { return byAge[i].CreatedAt.After(byAge[j].CreatedAt) })
	if policy.KeepLastN > 0 {
		for i := 0; i < policy.KeepLastN && i < len(byAge); i++ {
			kept[byAge[i].ID] = true
		}
	}
	if policy.KeepWithinDays > 0 {
		cutoff := now.AddDate(0, 0, -policy.KeepWithinDays)
		for _, s := range snaps {
			if s.CreatedAt.After(cutoff) {
				kept[s.ID] = true
			}
		}
	}

	if len(kept) == 0 && len(byAge) > 0 {
		kept[byAge[0].ID] = true
	}
	return kept
}

// ClientCache is everything a client-side GC run needs from the local
// object cache: listing and deleting by kind, plus snap enumeration.
type ClientCache interface {
	objmodel.ManifestLoader
	ListBlobs() ([]objmodel.ID, error)
	ListManifests() ([]objmodel.ID, error)
	ListRecipes() ([]objmodel.ID, error)
	DeleteBlob(id objmodel.ID) error
	DeleteManifest(id objmodel.ID) error
	DeleteRecipe(id objmodel.ID) error
	DeleteSnap(id objmodel.ID) error
}

// ClientReport summarises one client-side GC run.
type ClientReport struct {
	DryRun           bool
	KeptSnaps        []objmodel.ID
	DeletedBlobs     []objmodel.ID
	DeletedManifests []objmodel.ID
	DeletedRecipes   []objmodel.ID
	DeletedSnaps     []objmodel.ID
}

// RunClient computes the keep set from snaps and policy, walks each kept
// snap's root manifest for reachable objects, and deletes everything in
// cache that is not reachable. With dryRun set, nothing is mutated.
func RunClient(cache ClientCache, snaps []SnapInfo, policy ClientPolicy, now time.Time, dryRun bool) (ClientReport, error) {
	kept := KeepSet(snaps, policy, now)

	reachableBlobs := map[objmodel.ID]bool{}
	reachableManifests := map[objmodel.ID]bool{}
	reachableRecipes := map[objmodel.ID]bool{}
	for _, s := range snaps {
		if !kept[s.ID] {
			continue
		}
		r, err := objmodel.EnumerateReachable(cache, s.RootManifest)
		if err != nil {
			return ClientReport{}, fmt.Errorf("gc: walk snap %s: %w", s.ID, err)
		}
		for id := range r.Blobs {
			reachableBlobs[id] = true
		}
		for id := range r.Manifests {
			reachableManifests[id] = true
		}
		for id := range r.Recipes {
			reachableRecipes[id] = true
		}
	}

	report := ClientReport{DryRun: dryRun}
	for id := range kept {
		report.KeptSnaps = append(report.KeptSnaps, id)
	}
	sort.Slice(report.KeptSnaps, func(i, j int) bool { return report.KeptSnaps[i] < report.KeptSnaps[j] })

	allBlobs, err := cache.ListBlobs()
	if err != nil {
		return ClientReport{}, fmt.Errorf("gc: list blobs: %w", err)
	}
	for _, id := range allBlobs {
		if reachableBlobs[id] {
			continue
		}
		report.DeletedBlobs = append(report.DeletedBlobs, id)
		if !dryRun {
			if err := cache.DeleteBlob(id); err != nil {
				return ClientReport{}, fmt.Errorf("gc: delete blob %s: %w", id, err)
			}
		}
	}

	allManifests, err := cache.ListManifests()
	if err != nil {
		return ClientReport{}, fmt.Errorf("gc: list manifests: %w", err)
	}
	for _, id := range allManifests {
		if reachableManifests[id] {
			continue
		}
		report.DeletedManifests = append(report.DeletedManifests, id)
		if !dryRun {
			if err := cache.DeleteManifest(id); err != nil {
				return ClientReport{}, fmt.Errorf("gc: delete manifest %s: %w", id, err)
			}
		}
	}

	allRecipes, err := cache.ListRecipes()
	if err != nil {
		return ClientReport{}, fmt.Errorf("gc: list recipes: %w", err)
	}
	for _, id := range allRecipes {
		if reachableRecipes[id] {
			continue
		}
		report.DeletedRecipes = append(report.DeletedRecipes, id)
		if !dryRun {
			if err := cache.DeleteRecipe(id); err != nil {
				return ClientReport{}, fmt.Errorf("gc: delete recipe %s: %w", id, err)
			}
		}
	}

	if policy.PruneSnaps {
		for _, s := range snaps {
			if kept[s.ID] {
				continue
			}
			report.DeletedSnaps = append(report.DeletedSnaps, s.ID)
			if !dryRun {
				if err := cache.DeleteSnap(s.ID); err != nil {
					return ClientReport{}, fmt.Errorf("gc: delete snap %s: %w", s.ID, err)
				}
			}
		}
	}

	return report, nil
}
