package localstore

import "github.com/inflatable-cookie/converge/internal/objmodel"

// ListBlobs, ListManifests and ListRecipes satisfy internal/gc.ClientCache's
// listing requirements over an ObjectCache.

func (c *ObjectCache) ListBlobs() ([]objmodel.ID, error)     { return c.List(KindBlob) }
func (c *ObjectCache) ListManifests() ([]objmodel.ID, error) { return c.List(KindManifest) }
func (c *ObjectCache) ListRecipes() ([]objmodel.ID, error)   { return c.List(KindRecipe) }

// DeleteBlob, DeleteManifest and DeleteRecipe satisfy internal/gc.ClientCache's
// deletion requirements over an ObjectCache.

func (c *ObjectCache) DeleteBlob(id objmodel.ID) error     { return c.Remove(KindBlob, id) }
func (c *ObjectCache) DeleteManifest(id objmodel.ID) error { return c.Remove(KindManifest, id) }
func (c *ObjectCache) DeleteRecipe(id objmodel.ID) error   { return c.Remove(KindRecipe, id) }

// DeleteSnap removes the snap record itself; callers also remove the
// KV-indexed metadata (KV.KnownSnaps) separately since it lives in a
// different backing store.
func (c *ObjectCache) DeleteSnap(id objmodel.ID) error { return c.Remove(KindSnap, id) }
