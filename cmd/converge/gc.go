package main

import (
	"flag"
	"fmt"
	"time"

	"github.com/inflatable-cookie/converge/internal/gc"
	"github.com/inflatable-cookie/converge/internal/objmodel"
)

func runGC(args []string) error {
	fs := flag.NewFlagSet("gc", flag.ExitOnError)
	dryRun := fs.Bool("dry-run", false, "report what would be deleted without deleting")
	pruneSnaps := fs.Bool("prune-snaps", false, "also delete non-kept snap records, not just their objects")
	keepLast := fs.Int("keep-last", 0, "keep the N most recently created snaps (0 disables)")
	keepWithinDays := fs.Int("keep-within-days", 0, "keep every snap created within the last N days (0 disables)")
	asJSON := fs.Bool("json", false, "emit JSON")
	fs.Parse(args)

	ws, err := openWorkspace()
	if err != nil {
		return err
	}
	defer ws.Close()

	snaps, err := loadAllSnaps(ws)
	if err != nil {
		return err
	}

	var head string
	if latest, ok, err := latestSnap(ws); err != nil {
		return err
	} else if ok {
		head = string(latest.ID)
	}

	infos := make([]gc.SnapInfo, 0, len(snaps))
	for _, s := range snaps {
		pinned, err := ws.KV.IsPinned(string(s.ID))
		if err != nil {
			return err
		}
		infos = append(infos, gc.SnapInfo{ID: s.ID, RootManifest: s.RootManifest, CreatedAt: s.CreatedAt, Pinned: pinned})
	}

	policy := gc.ClientPolicy{
		Head:           objmodel.ID(head),
		KeepLastN:      *keepLast,
		KeepWithinDays: *keepWithinDays,
		PruneSnaps:     *pruneSnaps,
	}

	report, err := gc.RunClient(ws.Objects, infos, policy, time.Now().UTC(), *dryRun)
	if err != nil {
		return err
	}
	if !*dryRun && *pruneSnaps {
		for _, id := range report.DeletedSnaps {
			if err := ws.KV.DeleteSnapMetadata(string(id)); err != nil {
				return err
			}
		}
	}

	if *asJSON {
		return printJSON(report)
	}
	fmt.Printf("dry_run=%t kept %d snap(s)\n", report.DryRun, len(report.KeptSnaps))
	fmt.Printf("deleted: %d blobs, %d manifests, %d recipes, %d snaps\n",
		len(report.DeletedBlobs), len(report.DeletedManifests), len(report.DeletedRecipes), len(report.DeletedSnaps))
	return nil
}
