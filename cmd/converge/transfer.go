package main

import (
	"context"
	"flag"
	"fmt"
	"path/filepath"

	"github.com/inflatable-cookie/converge/internal/localstore"
	"github.com/inflatable-cookie/converge/internal/objmodel"
	"github.com/inflatable-cookie/converge/internal/transfer"
	"github.com/inflatable-cookie/converge/internal/workspace"
)

// cliContext is the background context every command uses; the CLI runs to
// completion or not at all, so there is nothing to cancel.
func cliContext() context.Context { return context.Background() }

// pullManifestTree downloads everything reachable from root that isn't
// already cached locally, without a progress callback — used by commands
// that need object availability as a precondition rather than as a
// user-facing transfer.
func pullManifestTree(ctx context.Context, ws *workspace, c *transfer.Client, root objmodel.ID) error {
	return transfer.Pull(ctx, c, ws.Objects, root, nil)
}

func printProgress(label string) transfer.ProgressFunc {
	return func(p transfer.Progress) {
		fmt.Printf("\r%s %d/%d objects (%d bytes)", label, p.ObjectsSent, p.ObjectsTotal, p.BytesSent)
		if p.ObjectsSent == p.ObjectsTotal {
			fmt.Println()
		}
	}
}

func runPublish(args []string) error {
	fs := flag.NewFlagSet("publish", flag.ExitOnError)
	snapID := fs.String("snap-id", "", "snap to publish (defaults to a fresh snap of the working tree)")
	scope := fs.String("scope", "", "scope (defaults to the workspace's configured scope)")
	gate := fs.String("gate", "", "gate (defaults to the workspace's configured gate)")
	metadataOnly := fs.Bool("metadata-only", false, "publish without attached content (manifest/recipe/snap only)")
	asJSON := fs.Bool("json", false, "emit JSON")
	fs.Parse(args)

	ws, c, cfg, err := requireClient()
	if err != nil {
		return err
	}
	defer ws.Close()

	scopeV, gateV := resolveScopeGate(cfg, *scope, *gate)

	var snap objmodel.Snap
	if *snapID != "" {
		snap, err = loadSnapByID(ws, objmodel.ID(*snapID))
		if err != nil {
			return err
		}
	} else {
		if err := runSnap(nil); err != nil {
			return fmt.Errorf("snap working tree: %w", err)
		}
		latest, ok, err := latestSnap(ws)
		if err != nil {
			return err
		}
		if !ok {
			return fmt.Errorf("no snap available to publish")
		}
		snap = latest
	}

	ctx := context.Background()
	if !*metadataOnly {
		if err := transfer.Push(ctx, c, ws.Objects, snap.RootManifest, snap.ID, false, printProgress("push")); err != nil {
			return fmt.Errorf("push objects: %w", err)
		}
	} else {
		raw, err := ws.Objects.Get(localstore.KindSnap, snap.ID)
		if err != nil {
			return err
		}
		if err := c.PutObject(ctx, "snaps", snap.ID, raw, true); err != nil {
			return fmt.Errorf("push snap record: %w", err)
		}
	}

	pub, err := c.CreatePublication(ctx, scopeV, gateV, snap.ID, *metadataOnly)
	if err != nil {
		return err
	}
	if *asJSON {
		return printJSON(pub)
	}
	fmt.Printf("published %s (snap %s) to %s/%s\n", pub.ID, snap.ID, pub.Scope, pub.Gate)
	return nil
}

func runSync(args []string) error {
	fs := flag.NewFlagSet("sync", flag.ExitOnError)
	snapID := fs.String("snap-id", "", "snap to push (defaults to a fresh snap of the working tree)")
	lane := fs.String("lane", "", "lane to update the head of (optional)")
	asJSON := fs.Bool("json", false, "emit JSON")
	fs.Parse(args)

	ws, c, _, err := requireClient()
	if err != nil {
		return err
	}
	defer ws.Close()

	var snap objmodel.Snap
	if *snapID != "" {
		snap, err = loadSnapByID(ws, objmodel.ID(*snapID))
		if err != nil {
			return err
		}
	} else {
		if err := runSnap(nil); err != nil {
			return fmt.Errorf("snap working tree: %w", err)
		}
		latest, ok, err := latestSnap(ws)
		if err != nil {
			return err
		}
		if !ok {
			return fmt.Errorf("no snap available to sync")
		}
		snap = latest
	}

	ctx := context.Background()
	if err := transfer.Push(ctx, c, ws.Objects, snap.RootManifest, snap.ID, false, printProgress("push")); err != nil {
		return fmt.Errorf("push objects: %w", err)
	}

	if *lane != "" {
		if err := c.UpdateLaneHead(ctx, *lane, snap.ID); err != nil {
			return err
		}
	}

	if *asJSON {
		return printJSON(snap)
	}
	fmt.Printf("synced %s\n", snap.ID)
	if *lane != "" {
		fmt.Printf("lane %s head -> %s\n", *lane, snap.ID)
	}
	return nil
}

func runFetch(args []string) error {
	fs := flag.NewFlagSet("fetch", flag.ExitOnError)
	snapID := fs.String("snap-id", "", "snap id to fetch")
	bundleID := fs.String("bundle-id", "", "bundle id to fetch (its root manifest)")
	release := fs.String("release", "", "channel to fetch the current release of")
	restore := fs.Bool("restore", false, "materialise into the working tree after fetching")
	into := fs.String("into", "", "materialise into this directory instead of the workspace root")
	asJSON := fs.Bool("json", false, "emit JSON")
	fs.Parse(args)

	ws, c, _, err := requireClient()
	if err != nil {
		return err
	}
	defer ws.Close()

	ctx := context.Background()
	var root objmodel.ID

	switch {
	case *snapID != "":
		root, err = fetchSnapRoot(ctx, ws, c, objmodel.ID(*snapID))
	case *bundleID != "":
		var b transfer.Bundle
		b, err = c.GetBundle(ctx, *bundleID)
		if err == nil {
			root = b.RootManifest
		}
	case *release != "":
		var rel transfer.Release
		rel, err = c.CurrentRelease(ctx, *release)
		if err == nil {
			var b transfer.Bundle
			b, err = c.GetBundle(ctx, rel.BundleID)
			if err == nil {
				root = b.RootManifest
			}
		}
	default:
		return fmt.Errorf("one of --snap-id, --bundle-id, --release is required")
	}
	if err != nil {
		return err
	}

	if err := transfer.Pull(ctx, c, ws.Objects, root, printProgress("fetch")); err != nil {
		return fmt.Errorf("pull objects: %w", err)
	}

	if *restore {
		dir := ws.Root
		if *into != "" {
			dir = *into
			if !filepath.IsAbs(dir) {
				dir = filepath.Join(ws.Root, dir)
			}
		}
		if err := workspace.Materialise(dir, root, ws.Objects); err != nil {
			return err
		}
	}

	if *asJSON {
		return printJSON(map[string]string{"root_manifest": string(root)})
	}
	fmt.Printf("fetched root manifest %s\n", root)
	if *restore {
		fmt.Println("restored into working tree")
	}
	return nil
}

// fetchSnapRoot resolves a snap id to its root manifest, fetching the snap
// record itself from the server first if it isn't already cached locally
// (Pull only walks from a manifest root, so the snap record is a separate
// single-object fetch).
func fetchSnapRoot(ctx context.Context, ws *workspace, c *transfer.Client, snapID objmodel.ID) (objmodel.ID, error) {
	if !ws.Objects.Has(localstore.KindSnap, snapID) {
		raw, err := c.GetObject(ctx, "snaps", snapID)
		if err != nil {
			return "", err
		}
		if _, err := ws.Objects.PutIfAbsent(localstore.KindSnap, snapID, raw); err != nil {
			return "", err
		}
	}
	s, err := loadSnapByID(ws, snapID)
	if err != nil {
		return "", err
	}
	return s.RootManifest, nil
}

// resolveScopeGate applies CLI overrides over the workspace's remote
// defaults captured at login time.
func resolveScopeGate(cfg localstore.RemoteConfig, scope, gate string) (string, string) {
	s, g := cfg.Scope, cfg.Gate
	if scope != "" {
		s = scope
	}
	if gate != "" {
		g = gate
	}
	return s, g
}
