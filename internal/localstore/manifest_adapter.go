package localstore

import "github.com/inflatable-cookie/converge/internal/objmodel"

// PutManifest canonicalizes and durably stores m, returning its id. It
// satisfies resolver.ManifestStore and merge.ManifestStore, both of which
// need to persist freshly computed manifests (resolved or merged) alongside
// LoadManifest's read path.
func (c *ObjectCache) PutManifest(m objmodel.Manifest) (objmodel.ID, error) {
	id, canon, err := m.ID()
	if err != nil {
		return "", err
	}
	if _, err := c.PutIfAbsent(KindManifest, id, canon); err != nil {
		return "", err
	}
	return id, nil
}
