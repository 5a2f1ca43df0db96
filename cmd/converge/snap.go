package main

import (
	"encoding/json"
	"flag"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"time"

	"github.com/inflatable-cookie/converge/internal/localstore"
	"github.com/inflatable-cookie/converge/internal/objmodel"
	"github.com/inflatable-cookie/converge/internal/workspace"
)

func runInit(args []string) error {
	fs := flag.NewFlagSet("init", flag.ExitOnError)
	force := fs.Bool("force", false, "re-initialize if .converge already exists")
	path := fs.String("path", ".", "path to initialize")
	fs.Parse(args)

	ws, err := initWorkspace(*path, *force)
	if err != nil {
		return err
	}
	ws.Close()
	fmt.Printf("initialized %s\n", filepath.Join(*path, dotDir))
	return nil
}

// snapSink adapts an *localstore.ObjectCache to workspace.ObjectSink.
type snapSink struct{ objects *localstore.ObjectCache }

func (s snapSink) PutBlob(id objmodel.ID, raw []byte) error { return s.objects.PutBlob(id, raw) }
func (s snapSink) PutRecipe(id objmodel.ID, r objmodel.Recipe) error {
	raw, err := objmodel.CanonicalizeValue(r)
	if err != nil {
		return fmt.Errorf("encode recipe %s: %w", id, err)
	}
	return s.objects.PutRecipeRaw(id, raw)
}
func (s snapSink) PutManifest(id objmodel.ID, m objmodel.Manifest) error {
	_, err := s.objects.PutManifest(m)
	return err
}

func runSnap(args []string) error {
	fs := flag.NewFlagSet("snap", flag.ExitOnError)
	message := fs.String("m", "", "snap message")
	fs.StringVar(message, "message", "", "snap message")
	asJSON := fs.Bool("json", false, "emit JSON")
	fs.Parse(args)

	ws, err := openWorkspace()
	if err != nil {
		return err
	}
	defer ws.Close()

	root, err := workspace.Scan(ws.Root, workspace.ScanOptions{
		ChunkPolicy: ws.chunkPolicy(),
		Skip:        skipWorkspaceDir,
	}, snapSink{ws.Objects})
	if err != nil {
		return err
	}

	stats, err := computeStats(ws.Objects, root)
	if err != nil {
		return err
	}

	var msgPtr *string
	if *message != "" {
		msgPtr = message
	}
	createdAt := time.Now().UTC()
	id := objmodel.ComputeSnapID(createdAt, root, msgPtr)
	snap := objmodel.Snap{Version: 1, ID: id, CreatedAt: createdAt, RootManifest: root, Message: msgPtr, Stats: stats}

	raw, err := objmodel.CanonicalizeValue(snap)
	if err != nil {
		return fmt.Errorf("encode snap: %w", err)
	}
	if _, err := ws.Objects.PutIfAbsent(localstore.KindSnap, id, raw); err != nil {
		return err
	}
	if err := ws.KV.PutSnapMetadata(string(id), createdAt.Format(time.RFC3339), msgPtr); err != nil {
		return err
	}

	if *asJSON {
		return printJSON(snap)
	}
	fmt.Printf("snap %s (%d files, %d dirs, %d bytes)\n", id, stats.FileCount, stats.DirCount, stats.TotalSize)
	return nil
}

// computeStats walks a manifest tree counting files/dirs/bytes, purely for
// the snap's informational SnapStats.
func computeStats(loader objmodel.ManifestLoader, root objmodel.ID) (objmodel.SnapStats, error) {
	var stats objmodel.SnapStats
	var walk func(id objmodel.ID) error
	walk = func(id objmodel.ID) error {
		m, err := loader.LoadManifest(id)
		if err != nil {
			return err
		}
		stats.DirCount++
		for _, e := range m.Entries {
			switch e.Kind {
			case objmodel.KindDir:
				if err := walk(e.ManifestRef); err != nil {
					return err
				}
			case objmodel.KindFile, objmodel.KindFileChunks:
				stats.FileCount++
				stats.TotalSize += e.Size
			case objmodel.KindSymlink:
				stats.FileCount++
			case objmodel.KindSuperposition:
				stats.FileCount++
			}
		}
		return nil
	}
	if err := walk(root); err != nil {
		return objmodel.SnapStats{}, err
	}
	stats.DirCount-- // exclude the root itself to match a leaf-only count
	return stats, nil
}

func runSnaps(args []string) error {
	fs := flag.NewFlagSet("snaps", flag.ExitOnError)
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
	sort.Slice(snaps, func(i, j int) bool { return snaps[i].CreatedAt.After(snaps[j].CreatedAt) })

	if *asJSON {
		return printJSON(snaps)
	}
	for _, s := range snaps {
		msg := ""
		if s.Message != nil {
			msg = *s.Message
		}
		fmt.Printf("%s  %s  %s\n", s.ID, s.CreatedAt.Format(time.RFC3339), msg)
	}
	return nil
}

func loadAllSnaps(ws *workspace) ([]objmodel.Snap, error) {
	ids, err := ws.KV.KnownSnaps()
	if err != nil {
		return nil, err
	}
	out := make([]objmodel.Snap, 0, len(ids))
	for _, id := range ids {
		s, err := loadSnapByID(ws, objmodel.ID(id))
		if err != nil {
			return nil, err
		}
		out = append(out, s)
	}
	return out, nil
}

func loadSnapByID(ws *workspace, id objmodel.ID) (objmodel.Snap, error) {
	raw, err := ws.Objects.Get(localstore.KindSnap, id)
	if err != nil {
		return objmodel.Snap{}, err
	}
	var s objmodel.Snap
	if err := json.Unmarshal(raw, &s); err != nil {
		return objmodel.Snap{}, fmt.Errorf("decode snap %s: %w", id, err)
	}
	return s, nil
}

// latestSnap returns the most recently created known snap, or false if none
// exist yet.
func latestSnap(ws *workspace) (objmodel.Snap, bool, error) {
	snaps, err := loadAllSnaps(ws)
	if err != nil {
		return objmodel.Snap{}, false, err
	}
	if len(snaps) == 0 {
		return objmodel.Snap{}, false, nil
	}
	best := snaps[0]
	for _, s := range snaps[1:] {
		if s.CreatedAt.After(best.CreatedAt) {
			best = s
		}
	}
	return best, true, nil
}

func runShow(args []string) error {
	fs := flag.NewFlagSet("show", flag.ExitOnError)
	asJSON := fs.Bool("json", false, "emit JSON")
	fs.Parse(args)
	if fs.NArg() < 1 {
		return fmt.Errorf("usage: converge show SNAP_ID")
	}

	ws, err := openWorkspace()
	if err != nil {
		return err
	}
	defer ws.Close()

	snap, err := loadSnapByID(ws, objmodel.ID(fs.Arg(0)))
	if err != nil {
		return err
	}
	if *asJSON {
		return printJSON(snap)
	}
	msg := ""
	if snap.Message != nil {
		msg = *snap.Message
	}
	fmt.Printf("id:      %s\ncreated: %s\nroot:    %s\nmessage: %s\nfiles:   %d\ndirs:    %d\nbytes:   %d\n",
		snap.ID, snap.CreatedAt.Format(time.RFC3339), snap.RootManifest, msg, snap.Stats.FileCount, snap.Stats.DirCount, snap.Stats.TotalSize)
	return nil
}

func runRestore(args []string) error {
	fs := flag.NewFlagSet("restore", flag.ExitOnError)
	force := fs.Bool("force", false, "remove existing files before restoring")
	fs.Parse(args)
	if fs.NArg() < 1 {
		return fmt.Errorf("usage: converge restore SNAP_ID [--force]")
	}

	ws, err := openWorkspace()
	if err != nil {
		return err
	}
	defer ws.Close()

	snap, err := loadSnapByID(ws, objmodel.ID(fs.Arg(0)))
	if err != nil {
		return err
	}
	if *force {
		entries, err := os.ReadDir(ws.Root)
		if err != nil {
			return err
		}
		for _, e := range entries {
			if e.Name() == dotDir {
				continue
			}
			if err := os.RemoveAll(filepath.Join(ws.Root, e.Name())); err != nil {
				return err
			}
		}
	}
	if err := workspace.Materialise(ws.Root, snap.RootManifest, ws.Objects); err != nil {
		return err
	}
	fmt.Printf("restored %s\n", snap.ID)
	return nil
}

func runDiff(args []string) error {
	fs := flag.NewFlagSet("diff", flag.ExitOnError)
	from := fs.String("from", "", "base snap id")
	to := fs.String("to", "", "target snap id")
	asJSON := fs.Bool("json", false, "emit JSON")
	fs.Parse(args)

	ws, err := openWorkspace()
	if err != nil {
		return err
	}
	defer ws.Close()

	var baseRoot, curRoot objmodel.ID
	if *from != "" {
		s, err := loadSnapByID(ws, objmodel.ID(*from))
		if err != nil {
			return err
		}
		baseRoot = s.RootManifest
	} else if snap, ok, err := latestSnap(ws); err != nil {
		return err
	} else if ok {
		baseRoot = snap.RootManifest
	}

	if *to != "" {
		s, err := loadSnapByID(ws, objmodel.ID(*to))
		if err != nil {
			return err
		}
		curRoot = s.RootManifest
	} else {
		curRoot, err = workspace.Scan(ws.Root, workspace.ScanOptions{
			ChunkPolicy: ws.chunkPolicy(),
			Skip:        skipWorkspaceDir,
		}, snapSink{ws.Objects})
		if err != nil {
			return err
		}
	}

	report, err := workspace.Diff(ws.Objects, baseRoot, curRoot)
	if err != nil {
		return err
	}
	if *asJSON {
		return printJSON(report)
	}
	for _, c := range report.Changes {
		fmt.Printf("%s  %s\n", c.Kind, c.Path)
	}
	fmt.Printf("%d unchanged\n", report.UnchangedCount)
	return nil
}

func runMv(args []string) error {
	fs := flag.NewFlagSet("mv", flag.ExitOnError)
	fs.Parse(args)
	if fs.NArg() != 2 {
		return fmt.Errorf("usage: converge mv FROM TO")
	}
	ws, err := openWorkspace()
	if err != nil {
		return err
	}
	defer ws.Close()

	from := filepath.Join(ws.Root, fs.Arg(0))
	to := filepath.Join(ws.Root, fs.Arg(1))
	if err := os.MkdirAll(filepath.Dir(to), 0o755); err != nil {
		return err
	}
	return os.Rename(from, to)
}

func runStatus(args []string) error {
	fs := flag.NewFlagSet("status", flag.ExitOnError)
	asJSON := fs.Bool("json", false, "emit JSON")
	limit := fs.Int("limit", 10, "limit number of publications shown")
	fs.Parse(args)

	ws, err := openWorkspace()
	if err != nil {
		return err
	}
	defer ws.Close()

	type statusReport struct {
		Scope       string   `json:"scope"`
		Gate        string   `json:"gate"`
		Remote      string   `json:"remote,omitempty"`
		Repo        string   `json:"repo,omitempty"`
		LatestSnap  string   `json:"latest_snap,omitempty"`
		WorkingDiff []string `json:"working_diff,omitempty"`
	}
	out := statusReport{Scope: ws.Config.Scope, Gate: ws.Config.Gate}

	if cfg, _, ok, _ := ws.KV.Remote(); ok {
		out.Remote = cfg.BaseURL
		out.Repo = cfg.RepoID
	}

	var baseRoot objmodel.ID
	if snap, ok, err := latestSnap(ws); err != nil {
		return err
	} else if ok {
		out.LatestSnap = string(snap.ID)
		baseRoot = snap.RootManifest
	}

	curRoot, err := workspace.Scan(ws.Root, workspace.ScanOptions{
		ChunkPolicy: ws.chunkPolicy(),
		Skip:        skipWorkspaceDir,
	}, snapSink{ws.Objects})
	if err != nil {
		return err
	}
	report, err := workspace.Diff(ws.Objects, baseRoot, curRoot)
	if err != nil {
		return err
	}
	n := *limit
	for i, c := range report.Changes {
		if i >= n {
			break
		}
		out.WorkingDiff = append(out.WorkingDiff, fmt.Sprintf("%s %s", c.Kind, c.Path))
	}

	if *asJSON {
		return printJSON(out)
	}
	fmt.Printf("scope: %s  gate: %s\n", out.Scope, out.Gate)
	if out.Remote != "" {
		fmt.Printf("remote: %s (repo %s)\n", out.Remote, out.Repo)
	}
	if out.LatestSnap != "" {
		fmt.Printf("latest snap: %s\n", out.LatestSnap)
	}
	for _, line := range out.WorkingDiff {
		fmt.Println(" ", line)
	}
	return nil
}
