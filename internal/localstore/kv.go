package localstore

import (
	"errors"
	"fmt"
	"path/filepath"
	"strings"

	"github.com/syndtr/goleveldb/leveldb"
	"github.com/syndtr/goleveldb/leveldb/util"
)

const (
	snapKeyPrefix       = "snap:"
	pinnedKeyPrefix     = "pinned:"
	resolutionKeyPrefix = "resolution:"
	configKey           = "config"
	remoteKey           = "remote"
)

// KV is the goleveldb-backed index alongside the object cache: it tracks
// known snap ids, persisted resolutions, workspace config, and the remote
// bootstrap token. Grounded on the teacher's storage.LevelDB wrapper.
type KV struct {
	db *leveldb.DB
}

// OpenKV opens (or creates) the local index database at path.
func OpenKV(path string) (*KV, error) {
	trimmed := strings.TrimSpace(path)
	if trimmed == "" {
		return nil, fmt.Errorf("local store index path required")
	}
	abs, err := filepath.Abs(trimmed)
	if err != nil {
		return nil, fmt.Errorf("resolve local store index path: %w", err)
	}
	db, err := leveldb.OpenFile(abs, nil)
	if err != nil {
		return nil, fmt.Errorf("open local store index: %w", err)
	}
	return &KV{db: db}, nil
}

// Close releases the underlying LevelDB resources.
func (k *KV) Close() error {
	if k == nil || k.db == nil {
		return nil
	}
	return k.db.Close()
}

// PutSnapMetadata records that a snap id is known locally, along with its
// created_at and an optional message, for fast listing without decoding
// every cached snap object.
func (k *KV) PutSnapMetadata(id, createdAt string, message *string) error {
	val := createdAt
	if message != nil {
		val += "\n" + *message
	}
	return k.db.Put([]byte(snapKeyPrefix+id), []byte(val), nil)
}

// KnownSnaps returns every snap id recorded by PutSnapMetadata.
func (k *KV) KnownSnaps() ([]string, error) {
	iter := k.db.NewIterator(util.BytesPrefix([]byte(snapKeyPrefix)), nil)
	defer iter.Release()
	var ids []string
	for iter.Next() {
		ids = append(ids, strings.TrimPrefix(string(iter.Key()), snapKeyPrefix))
	}
	if err := iter.Error(); err != nil {
		return nil, fmt.Errorf("iterate known snaps: %w", err)
	}
	return ids, nil
}

// DeleteSnapMetadata removes a snap's metadata index entry, used by
// client-side GC when prune_snaps deletes a non-kept snap record.
func (k *KV) DeleteSnapMetadata(id string) error {
	if err := k.db.Delete([]byte(snapKeyPrefix+id), nil); err != nil {
		return fmt.Errorf("delete snap metadata: %w", err)
	}
	return nil
}

// SetPinned marks a snap as pinned (kept by GC regardless of age/count
// rules) or unpins it.
func (k *KV) SetPinned(id string, pinned bool) error {
	if !pinned {
		if err := k.db.Delete([]byte(pinnedKeyPrefix+id), nil); err != nil {
			return fmt.Errorf("unpin snap: %w", err)
		}
		return nil
	}
	if err := k.db.Put([]byte(pinnedKeyPrefix+id), []byte{1}, nil); err != nil {
		return fmt.Errorf("pin snap: %w", err)
	}
	return nil
}

// IsPinned reports whether a snap id has been pinned.
func (k *KV) IsPinned(id string) (bool, error) {
	_, err := k.db.Get([]byte(pinnedKeyPrefix+id), nil)
	if errors.Is(err, leveldb.ErrNotFound) {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("check pinned snap: %w", err)
	}
	return true, nil
}

// PutResolution persists a resolution document keyed by bundle id.
func (k *KV) PutResolution(bundleID string, raw []byte) error {
	return k.db.Put([]byte(resolutionKeyPrefix+bundleID), raw, nil)
}

// GetResolution loads a persisted resolution by bundle id.
func (k *KV) GetResolution(bundleID string) ([]byte, bool, error) {
	raw, err := k.db.Get([]byte(resolutionKeyPrefix+bundleID), nil)
	if errors.Is(err, leveldb.ErrNotFound) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, fmt.Errorf("load resolution: %w", err)
	}
	return raw, true, nil
}

// DeleteResolution removes a persisted resolution (e.g. once a bundle is
// fully promoted and its divergences are moot).
func (k *KV) DeleteResolution(bundleID string) error {
	if err := k.db.Delete([]byte(resolutionKeyPrefix+bundleID), nil); err != nil {
		return fmt.Errorf("delete resolution: %w", err)
	}
	return nil
}

// PutConfig persists the raw workspace config document (YAML, owned by the
// caller's encoding choice; the local store treats it as an opaque blob).
func (k *KV) PutConfig(raw []byte) error {
	return k.db.Put([]byte(configKey), raw, nil)
}

// GetConfig loads the persisted workspace config document, if any.
func (k *KV) GetConfig() ([]byte, bool, error) {
	raw, err := k.db.Get([]byte(configKey), nil)
	if errors.Is(err, leveldb.ErrNotFound) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, fmt.Errorf("load config: %w", err)
	}
	return raw, true, nil
}

// PutRemote persists the raw remote bootstrap document (see remote.go).
func (k *KV) PutRemote(raw []byte) error {
	return k.db.Put([]byte(remoteKey), raw, nil)
}

// DeleteRemote removes the persisted remote bootstrap document, if any.
func (k *KV) DeleteRemote() error {
	if err := k.db.Delete([]byte(remoteKey), nil); err != nil {
		return fmt.Errorf("delete remote: %w", err)
	}
	return nil
}

// GetRemote loads the persisted remote bootstrap document, if any.
func (k *KV) GetRemote() ([]byte, bool, error) {
	raw, err := k.db.Get([]byte(remoteKey), nil)
	if errors.Is(err, leveldb.ErrNotFound) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, fmt.Errorf("load remote: %w", err)
	}
	return raw, true, nil
}
