package localstore

import (
	"encoding/json"
	"fmt"

	"github.com/inflatable-cookie/converge/internal/converrors"
	"github.com/inflatable-cookie/converge/internal/objmodel"
)

// GetBlob, GetRecipe and GetSnap satisfy internal/transfer.LocalStore so an
// ObjectCache can be pushed from directly.

func (c *ObjectCache) GetBlob(id objmodel.ID) ([]byte, error) {
	return c.Get(KindBlob, id)
}

func (c *ObjectCache) GetRecipe(id objmodel.ID) (objmodel.Recipe, error) {
	raw, err := c.Get(KindRecipe, id)
	if err != nil {
		return objmodel.Recipe{}, err
	}
	var r objmodel.Recipe
	if err := unmarshalStrict(raw, &r); err != nil {
		return objmodel.Recipe{}, converrors.New(converrors.BadEncoding, "decode cached recipe %s: %v", id, err)
	}
	return r, nil
}

func (c *ObjectCache) GetSnap(id objmodel.ID) ([]byte, error) {
	return c.Get(KindSnap, id)
}

// HasBlob, HasManifest, HasRecipe, PutRecipeRaw and PutManifestRaw satisfy
// internal/transfer.LocalSink so an ObjectCache can be pulled into directly.

func (c *ObjectCache) PutBlob(id objmodel.ID, raw []byte) error {
	if got := objmodel.HashBytes(raw); got != id {
		return converrors.New(converrors.HashMismatch, "fetched blob %s hashes to %s", id, got)
	}
	_, err := c.PutIfAbsent(KindBlob, id, raw)
	return err
}

func (c *ObjectCache) HasBlob(id objmodel.ID) bool     { return c.Has(KindBlob, id) }
func (c *ObjectCache) HasManifest(id objmodel.ID) bool { return c.Has(KindManifest, id) }
func (c *ObjectCache) HasRecipe(id objmodel.ID) bool   { return c.Has(KindRecipe, id) }

func (c *ObjectCache) PutRecipeRaw(id objmodel.ID, raw []byte) error {
	var r objmodel.Recipe
	if err := json.Unmarshal(raw, &r); err != nil {
		return fmt.Errorf("localstore: decode fetched recipe %s: %w", id, err)
	}
	if err := r.Validate(); err != nil {
		return fmt.Errorf("localstore: validate fetched recipe %s: %w", id, err)
	}
	_, err := c.PutIfAbsent(KindRecipe, id, raw)
	return err
}

func (c *ObjectCache) PutManifestRaw(id objmodel.ID, raw []byte) error {
	var m objmodel.Manifest
	if err := json.Unmarshal(raw, &m); err != nil {
		return fmt.Errorf("localstore: decode fetched manifest %s: %w", id, err)
	}
	if err := m.Validate(); err != nil {
		return fmt.Errorf("localstore: validate fetched manifest %s: %w", id, err)
	}
	_, err := c.PutIfAbsent(KindManifest, id, raw)
	return err
}
