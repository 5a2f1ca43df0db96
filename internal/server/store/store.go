// Package store is the server's durable repository registry: one
// RWMutex-guarded repostate.Repo aggregate per repo, backed by an atomic
// repo.json rewrite, plus the shared content-addressed object cache each
// repo directory carries (spec.md §4.4, §5, §6 "On-disk layout"), grounded
// on the teacher's services/governd/server/nonce_store.go tempfile+rename
// idiom.
package store

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync"

	"github.com/inflatable-cookie/converge/internal/converrors"
	"github.com/inflatable-cookie/converge/internal/localstore"
	"github.com/inflatable-cookie/converge/internal/repostate"
)

// RepoHandle guards one repo's aggregate and its object cache.
type RepoHandle struct {
	mu      sync.RWMutex
	repo    *repostate.Repo
	objects *localstore.ObjectCache
	path    string // directory holding repo.json and objects/
}

// Objects exposes the repo's content-addressed object cache. Object writes
// are append-only and content-addressed, so they need no lock of their own
// beyond what ObjectCache.PutIfAbsent already provides.
func (h *RepoHandle) Objects() *localstore.ObjectCache { return h.objects }

// View runs fn with a shared lock over the repo aggregate, for reads.
func (h *RepoHandle) View(fn func(*repostate.Repo) error) error {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return fn(h.repo)
}

// Mutate runs fn with the exclusive lock held across the in-memory update
// and the durable repo.json rewrite, matching §5's ordering guarantee that
// no externally visible state is observed before it is durable.
func (h *RepoHandle) Mutate(fn func(*repostate.Repo) error) error {
	h.mu.Lock()
	defer h.mu.Unlock()
	if err := fn(h.repo); err != nil {
		return err
	}
	return h.writeLocked()
}

func (h *RepoHandle) writeLocked() error {
	raw, err := json.Marshal(h.repo)
	if err != nil {
		return fmt.Errorf("marshal repo.json: %w", err)
	}
	dest := filepath.Join(h.path, "repo.json")
	return atomicWrite(dest, raw)
}

// atomicWrite durably writes raw to dest via write-to-tempfile-then-rename
// within the same directory (spec.md §5, grounded on
// services/governd/server/nonce_store.go's FileNonceStore.Save).
func atomicWrite(dest string, raw []byte) error {
	dir := filepath.Dir(dest)
	tmp, err := os.CreateTemp(dir, "repo-*.tmp")
	if err != nil {
		return fmt.Errorf("create temp file: %w", err)
	}
	cleanup := func() { _ = os.Remove(tmp.Name()) }
	if _, err := tmp.Write(raw); err != nil {
		cleanup()
		tmp.Close()
		return fmt.Errorf("write temp file: %w", err)
	}
	if err := tmp.Chmod(0o644); err != nil {
		cleanup()
		tmp.Close()
		return fmt.Errorf("chmod temp file: %w", err)
	}
	if err := tmp.Close(); err != nil {
		cleanup()
		return fmt.Errorf("close temp file: %w", err)
	}
	if err := os.Rename(tmp.Name(), dest); err != nil {
		cleanup()
		return fmt.Errorf("rename into place: %w", err)
	}
	return nil
}

// Registry owns every repo this server instance serves, keyed by repo id.
type Registry struct {
	mu    sync.RWMutex
	root  string
	repos map[string]*RepoHandle
}

// NewRegistry opens a registry rooted at dataDir, loading any repo
// directories already present on disk.
func NewRegistry(dataDir string) (*Registry, error) {
	if err := os.MkdirAll(dataDir, 0o755); err != nil {
		return nil, fmt.Errorf("create data dir: %w", err)
	}
	reg := &Registry{root: dataDir, repos: map[string]*RepoHandle{}}
	entries, err := os.ReadDir(dataDir)
	if err != nil {
		return nil, fmt.Errorf("read data dir: %w", err)
	}
	for _, e := range entries {
		if !e.IsDir() {
			continue
		}
		handle, err := openRepoDir(filepath.Join(dataDir, e.Name()), e.Name())
		if err != nil {
			return nil, fmt.Errorf("open repo %s: %w", e.Name(), err)
		}
		reg.repos[e.Name()] = handle
	}
	return reg, nil
}

func openRepoDir(dir, id string) (*RepoHandle, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, err
	}
	objects, err := localstore.NewObjectCache(filepath.Join(dir, "objects"))
	if err != nil {
		return nil, err
	}
	repoJSON := filepath.Join(dir, "repo.json")
	repo := repostate.NewRepo(id, "")
	if raw, err := os.ReadFile(repoJSON); err == nil {
		if err := json.Unmarshal(raw, repo); err != nil {
			return nil, fmt.Errorf("decode repo.json: %w", err)
		}
	} else if !os.IsNotExist(err) {
		return nil, fmt.Errorf("read repo.json: %w", err)
	}
	return &RepoHandle{repo: repo, objects: objects, path: dir}, nil
}

// Create registers a brand-new repo, rejecting a duplicate id with Conflict.
func (r *Registry) Create(id, owner string) (*RepoHandle, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, exists := r.repos[id]; exists {
		return nil, converrors.New(converrors.Conflict, "repo %q already exists", id)
	}
	handle, err := openRepoDir(filepath.Join(r.root, id), id)
	if err != nil {
		return nil, err
	}
	handle.repo.Owner = owner
	if err := handle.Mutate(func(*repostate.Repo) error { return nil }); err != nil {
		return nil, err
	}
	r.repos[id] = handle
	return handle, nil
}

// Get returns the handle for an existing repo, or NotFound.
func (r *Registry) Get(id string) (*RepoHandle, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	handle, ok := r.repos[id]
	if !ok {
		return nil, converrors.New(converrors.NotFound, "repo %q not found", id)
	}
	return handle, nil
}

// List returns every known repo id, in no particular order.
func (r *Registry) List() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]string, 0, len(r.repos))
	for id := range r.repos {
		out = append(out, id)
	}
	return out
}
