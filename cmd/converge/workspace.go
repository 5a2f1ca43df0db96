package main

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/inflatable-cookie/converge/internal/chunker"
	"github.com/inflatable-cookie/converge/internal/config"
	"github.com/inflatable-cookie/converge/internal/localstore"
)

// dotDir is the workspace marker directory, mirroring the original
// implementation's .converge layout: config.yaml alongside an objects/
// content cache and an index/ goleveldb index.
const dotDir = ".converge"

// workspace bundles every handle an invoked command needs against the
// current working directory's local store.
type workspace struct {
	Root    string // directory containing .converge
	DotDir  string // Root/.converge
	Config  config.Workspace
	Objects *localstore.ObjectCache
	KV      *localstore.KV
}

// findRoot walks up from dir looking for a .converge directory, mirroring
// the original implementation's workspace discovery (a repo may be invoked
// from any subdirectory, not just its root).
func findRoot(dir string) (string, error) {
	abs, err := filepath.Abs(dir)
	if err != nil {
		return "", fmt.Errorf("resolve working directory: %w", err)
	}
	for {
		if info, err := os.Stat(filepath.Join(abs, dotDir)); err == nil && info.IsDir() {
			return abs, nil
		}
		parent := filepath.Dir(abs)
		if parent == abs {
			return "", fmt.Errorf("no %s workspace found (run `converge init`)", dotDir)
		}
		abs = parent
	}
}

// openWorkspace discovers and opens the workspace rooted above the current
// directory.
func openWorkspace() (*workspace, error) {
	root, err := findRoot(".")
	if err != nil {
		return nil, err
	}
	return loadWorkspace(root)
}

func loadWorkspace(root string) (*workspace, error) {
	dot := filepath.Join(root, dotDir)
	cfg, err := config.LoadWorkspace(filepath.Join(dot, "config.yaml"))
	if err != nil {
		return nil, err
	}
	objects, err := localstore.NewObjectCache(filepath.Join(dot, "objects"))
	if err != nil {
		return nil, err
	}
	kv, err := localstore.OpenKV(filepath.Join(dot, "index"))
	if err != nil {
		return nil, err
	}
	return &workspace{Root: root, DotDir: dot, Config: cfg, Objects: objects, KV: kv}, nil
}

func (w *workspace) Close() {
	if w.KV != nil {
		_ = w.KV.Close()
	}
}

func (w *workspace) chunkPolicy() chunker.Policy {
	if w.Config.ChunkThreshold <= 0 || w.Config.ChunkSize <= 0 {
		return chunker.DefaultPolicy
	}
	return chunker.Policy{Threshold: w.Config.ChunkThreshold, ChunkSize: w.Config.ChunkSize}
}

// skipWorkspaceDir excludes the .converge marker directory itself from
// scans, diffs, and restores.
func skipWorkspaceDir(relPath string) bool {
	return relPath == dotDir
}

// initWorkspace creates a new .converge directory at dir. Re-initializing an
// existing workspace requires force.
func initWorkspace(dir string, force bool) (*workspace, error) {
	abs, err := filepath.Abs(dir)
	if err != nil {
		return nil, fmt.Errorf("resolve path: %w", err)
	}
	dot := filepath.Join(abs, dotDir)
	if _, err := os.Stat(dot); err == nil {
		if !force {
			return nil, fmt.Errorf("%s already exists (use --force to re-initialize)", dot)
		}
	}
	if err := os.MkdirAll(dot, 0o755); err != nil {
		return nil, fmt.Errorf("create %s: %w", dot, err)
	}
	cfgPath := filepath.Join(dot, "config.yaml")
	if _, err := os.Stat(cfgPath); os.IsNotExist(err) {
		if err := config.WriteWorkspace(cfgPath, config.Workspace{
			Scope: "main", Gate: "dev-intake",
			ChunkThreshold: chunker.DefaultPolicy.Threshold,
			ChunkSize:      chunker.DefaultPolicy.ChunkSize,
		}); err != nil {
			return nil, err
		}
	}
	return loadWorkspace(abs)
}
