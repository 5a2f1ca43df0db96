package store

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"

	"github.com/inflatable-cookie/converge/internal/identity"
)

// identityDoc is the durable form of an identity.Store snapshot.
type identityDoc struct {
	Users  map[string]identity.User `json:"users"`
	Tokens map[string]string        `json:"tokens"`
}

// SaveIdentity durably overwrites path with store's current snapshot, using
// the same tempfile+rename idiom as a repo's repo.json.
func SaveIdentity(path string, ids *identity.Store) error {
	users, tokens := ids.Snapshot()
	raw, err := json.Marshal(identityDoc{Users: users, Tokens: tokens})
	if err != nil {
		return fmt.Errorf("marshal identity snapshot: %w", err)
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return fmt.Errorf("create identity dir: %w", err)
	}
	return atomicWrite(path, raw)
}

// LoadIdentity restores a previously saved snapshot into ids, if path
// exists; a missing file leaves ids empty (first run, awaiting bootstrap).
func LoadIdentity(path string, ids *identity.Store) error {
	raw, err := os.ReadFile(path)
	if os.IsNotExist(err) {
		return nil
	}
	if err != nil {
		return fmt.Errorf("read identity snapshot: %w", err)
	}
	var doc identityDoc
	if err := json.Unmarshal(raw, &doc); err != nil {
		return fmt.Errorf("decode identity snapshot: %w", err)
	}
	ids.Restore(doc.Users, doc.Tokens)
	return nil
}
