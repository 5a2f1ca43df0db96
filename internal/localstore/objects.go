// Package localstore is the client-side durable content-addressed
// repository: a filesystem object cache plus goleveldb-backed indices for
// snaps, resolutions, workspace config, and the remote bootstrap token,
// adapted from the teacher's storage.LevelDB wrapper and its atomic
// write-then-rename idiom.
package localstore

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/inflatable-cookie/converge/internal/converrors"
	"github.com/inflatable-cookie/converge/internal/objmodel"
)

// ObjectKind names one of the four content-addressed object families.
type ObjectKind string

const (
	KindBlob     ObjectKind = "blobs"
	KindRecipe   ObjectKind = "recipes"
	KindManifest ObjectKind = "manifests"
	KindSnap     ObjectKind = "snaps"
)

// ObjectCache is the on-disk, content-addressed object cache rooted at a
// single directory: <root>/<kind>/<id>[.json].
type ObjectCache struct {
	root string
}

// NewObjectCache creates the directory layout for an object cache rooted at
// root, creating missing directories as needed.
func NewObjectCache(root string) (*ObjectCache, error) {
	for _, kind := range []ObjectKind{KindBlob, KindRecipe, KindManifest, KindSnap} {
		if err := os.MkdirAll(filepath.Join(root, string(kind)), 0o755); err != nil {
			return nil, fmt.Errorf("create object cache directory: %w", err)
		}
	}
	return &ObjectCache{root: root}, nil
}

func (c *ObjectCache) path(kind ObjectKind, id objmodel.ID) string {
	if kind == KindBlob {
		return filepath.Join(c.root, string(kind), string(id))
	}
	return filepath.Join(c.root, string(kind), string(id)+".json")
}

// Has reports whether an object of the given kind and id is already cached.
func (c *ObjectCache) Has(kind ObjectKind, id objmodel.ID) bool {
	_, err := os.Stat(c.path(kind, id))
	return err == nil
}

// Get reads the raw bytes for a cached object.
func (c *ObjectCache) Get(kind ObjectKind, id objmodel.ID) ([]byte, error) {
	b, err := os.ReadFile(c.path(kind, id))
	if os.IsNotExist(err) {
		return nil, converrors.New(converrors.ObjectMissing, "object %s/%s not cached", kind, id)
	}
	if err != nil {
		return nil, fmt.Errorf("read cached object: %w", err)
	}
	return b, nil
}

// PutIfAbsent durably writes raw bytes for (kind, id) if not already
// present, using write-to-tempfile-then-rename in the same directory so a
// concurrent identical write is a safe no-op. Returns whether this call
// performed the write (true) or found the object already cached (false).
func (c *ObjectCache) PutIfAbsent(kind ObjectKind, id objmodel.ID, raw []byte) (bool, error) {
	dest := c.path(kind, id)
	if _, err := os.Stat(dest); err == nil {
		return false, nil
	}
	dir := filepath.Dir(dest)
	tmp, err := os.CreateTemp(dir, "obj-*.tmp")
	if err != nil {
		return false, fmt.Errorf("create temp object file: %w", err)
	}
	cleanup := func() { _ = os.Remove(tmp.Name()) }
	if _, err := tmp.Write(raw); err != nil {
		cleanup()
		tmp.Close()
		return false, fmt.Errorf("write object: %w", err)
	}
	if err := tmp.Chmod(0o644); err != nil {
		cleanup()
		tmp.Close()
		return false, fmt.Errorf("chmod object file: %w", err)
	}
	if err := tmp.Close(); err != nil {
		cleanup()
		return false, fmt.Errorf("close object file: %w", err)
	}
	if err := os.Rename(tmp.Name(), dest); err != nil {
		if _, statErr := os.Stat(dest); statErr == nil {
			cleanup()
			return false, nil
		}
		cleanup()
		return false, fmt.Errorf("rename object into place: %w", err)
	}
	return true, nil
}

// Remove deletes a cached object; missing objects are a no-op, matching GC's
// "delete unreachable, tolerate already-gone" semantics.
func (c *ObjectCache) Remove(kind ObjectKind, id objmodel.ID) error {
	err := os.Remove(c.path(kind, id))
	if err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("remove cached object: %w", err)
	}
	return nil
}

// List enumerates the ids present for a given object kind.
func (c *ObjectCache) List(kind ObjectKind) ([]objmodel.ID, error) {
	dir := filepath.Join(c.root, string(kind))
	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, fmt.Errorf("list object cache directory: %w", err)
	}
	ids := make([]objmodel.ID, 0, len(entries))
	for _, e := range entries {
		if e.IsDir() {
			continue
		}
		name := e.Name()
		if kind != KindBlob {
			name = trimJSONSuffix(name)
		}
		ids = append(ids, objmodel.ID(name))
	}
	return ids, nil
}

func trimJSONSuffix(name string) string {
	const suffix = ".json"
	if len(name) > len(suffix) && name[len(name)-len(suffix):] == suffix {
		return name[:len(name)-len(suffix)]
	}
	return name
}

// LoadManifest implements objmodel.ManifestLoader against the cache.
func (c *ObjectCache) LoadManifest(id objmodel.ID) (objmodel.Manifest, error) {
	raw, err := c.Get(KindManifest, id)
	if err != nil {
		return objmodel.Manifest{}, err
	}
	var m objmodel.Manifest
	if err := unmarshalStrict(raw, &m); err != nil {
		return objmodel.Manifest{}, converrors.New(converrors.BadEncoding, "decode cached manifest %s: %v", id, err)
	}
	return m, nil
}
