package httpapi

import (
	"encoding/json"
	"io"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/inflatable-cookie/converge/internal/converrors"
	"github.com/inflatable-cookie/converge/internal/identity"
	"github.com/inflatable-cookie/converge/internal/localstore"
	"github.com/inflatable-cookie/converge/internal/objmodel"
	"github.com/inflatable-cookie/converge/internal/repostate"
	"github.com/inflatable-cookie/converge/internal/server/auth"
)

// objectSet mirrors transfer.ObjectSet's wire shape for the missing-object
// diff (spec.md §4.3); duplicated rather than imported so the server side
// has no compile-time dependency on the client's transfer package.
type objectSet struct {
	Blobs     []objmodel.ID `json:"blobs"`
	Manifests []objmodel.ID `json:"manifests"`
	Recipes   []objmodel.ID `json:"recipes"`
	Snaps     []objmodel.ID `json:"snaps"`
}

type missingResponse struct {
	MissingBlobs     []objmodel.ID `json:"missing_blobs"`
	MissingManifests []objmodel.ID `json:"missing_manifests"`
	MissingRecipes   []objmodel.ID `json:"missing_recipes"`
	MissingSnaps     []objmodel.ID `json:"missing_snaps"`
}

func validateID(id string) error {
	if !idPattern.MatchString(id) {
		return converrors.New(converrors.BadEncoding, "malformed id %q", id)
	}
	return nil
}

// requirePublish resolves repoID's object cache, requiring the caller have
// publish (write) access; requireRead variants below require only read
// access.
func (a *API) requirePublish(r *http.Request, repoID string) (*localstore.ObjectCache, error) {
	h, err := a.Repos.Get(repoID)
	if err != nil {
		return nil, err
	}
	caller := currentHandle(r)
	user, _ := auth.UserFromContext(r.Context())
	var allowed bool
	_ = h.View(func(rp *repostate.Repo) error {
		allowed = user.Admin || identity.CanPublish(caller, rp.Owner, rp.Publishers)
		return nil
	})
	if !allowed {
		return nil, converrors.New(converrors.Forbidden, "not permitted to publish to repo %q", repoID)
	}
	return h.Objects(), nil
}

func (a *API) requireObjectRead(r *http.Request, repoID string) (*localstore.ObjectCache, error) {
	h, err := a.Repos.Get(repoID)
	if err != nil {
		return nil, err
	}
	caller := currentHandle(r)
	user, _ := auth.UserFromContext(r.Context())
	var allowed bool
	_ = h.View(func(rp *repostate.Repo) error {
		allowed = user.Admin || identity.CanRead(caller, rp.Owner, rp.Readers, rp.Publishers)
		return nil
	})
	if !allowed {
		return nil, converrors.New(converrors.Forbidden, "not permitted to read repo %q", repoID)
	}
	return h.Objects(), nil
}

func (a *API) handlePutBlob(w http.ResponseWriter, r *http.Request) {
	id := objmodel.ID(chi.URLParam(r, "id"))
	if err := validateID(string(id)); err != nil {
		writeError(w, err)
		return
	}
	raw, err := io.ReadAll(r.Body)
	if err != nil {
		writeError(w, converrors.New(converrors.BadEncoding, "read body: %v", err))
		return
	}
	if got := objmodel.HashBytes(raw); got != id {
		writeError(w, converrors.New(converrors.HashMismatch, "blob id %s does not match content hash %s", id, got))
		return
	}
	objects, err := a.requirePublish(r, chi.URLParam(r, "repo"))
	if err != nil {
		writeError(w, err)
		return
	}
	if _, err := objects.PutIfAbsent(localstore.KindBlob, id, raw); err != nil {
		writeError(w, err)
		return
	}
	a.Metrics.ObjectStored(chi.URLParam(r, "repo"), "blob")
	writeJSON(w, http.StatusCreated, nil)
}

func (a *API) handlePutRecipe(w http.ResponseWriter, r *http.Request) {
	id := objmodel.ID(chi.URLParam(r, "id"))
	if err := validateID(string(id)); err != nil {
		writeError(w, err)
		return
	}
	raw, err := io.ReadAll(r.Body)
	if err != nil {
		writeError(w, converrors.New(converrors.BadEncoding, "read body: %v", err))
		return
	}
	var recipe objmodel.Recipe
	if err := decodeCanonical(raw, &recipe); err != nil {
		writeError(w, err)
		return
	}
	if err := recipe.Validate(); err != nil {
		writeError(w, err)
		return
	}
	got, canon, err := recipe.ID()
	if err != nil {
		writeError(w, err)
		return
	}
	if got != id {
		writeError(w, converrors.New(converrors.HashMismatch, "recipe id %s does not match content hash %s", id, got))
		return
	}
	objects, err := a.requirePublish(r, chi.URLParam(r, "repo"))
	if err != nil {
		writeError(w, err)
		return
	}
	if r.URL.Query().Get("allow_missing_blobs") != "true" {
		for _, c := range recipe.Chunks {
			if !objects.HasBlob(c.Blob) {
				writeError(w, converrors.New(converrors.ObjectMissing, "recipe references missing blob %s", c.Blob))
				return
			}
		}
	}
	if _, err := objects.PutIfAbsent(localstore.KindRecipe, id, canon); err != nil {
		writeError(w, err)
		return
	}
	a.Metrics.ObjectStored(chi.URLParam(r, "repo"), "recipe")
	writeJSON(w, http.StatusCreated, nil)
}

func (a *API) handlePutManifest(w http.ResponseWriter, r *http.Request) {
	id := objmodel.ID(chi.URLParam(r, "id"))
	if err := validateID(string(id)); err != nil {
		writeError(w, err)
		return
	}
	raw, err := io.ReadAll(r.Body)
	if err != nil {
		writeError(w, converrors.New(converrors.BadEncoding, "read body: %v", err))
		return
	}
	var m objmodel.Manifest
	if err := decodeCanonical(raw, &m); err != nil {
		writeError(w, err)
		return
	}
	if err := m.Validate(); err != nil {
		writeError(w, err)
		return
	}
	got, canon, err := m.ID()
	if err != nil {
		writeError(w, err)
		return
	}
	if got != id {
		writeError(w, converrors.New(converrors.HashMismatch, "manifest id %s does not match content hash %s", id, got))
		return
	}
	objects, err := a.requirePublish(r, chi.URLParam(r, "repo"))
	if err != nil {
		writeError(w, err)
		return
	}
	if err := checkManifestDeps(objects, m); err != nil {
		writeError(w, err)
		return
	}
	if _, err := objects.PutIfAbsent(localstore.KindManifest, id, canon); err != nil {
		writeError(w, err)
		return
	}
	a.Metrics.ObjectStored(chi.URLParam(r, "repo"), "manifest")
	writeJSON(w, http.StatusCreated, nil)
}

// checkManifestDeps verifies every immediate dependency of m is already
// stored, matching the upload-order invariant (§4.2, §5): blobs and recipes
// before manifests, children before parents.
func checkManifestDeps(objects *localstore.ObjectCache, m objmodel.Manifest) error {
	for _, e := range m.Entries {
		switch e.Kind {
		case objmodel.KindFile:
			if !objects.HasBlob(e.Blob) {
				return converrors.New(converrors.ObjectMissing, "manifest references missing blob %s", e.Blob)
			}
		case objmodel.KindFileChunks:
			if !objects.HasRecipe(e.Recipe) {
				return converrors.New(converrors.ObjectMissing, "manifest references missing recipe %s", e.Recipe)
			}
		case objmodel.KindDir:
			if !objects.HasManifest(e.ManifestRef) {
				return converrors.New(converrors.ObjectMissing, "manifest references missing dir manifest %s", e.ManifestRef)
			}
		case objmodel.KindSuperposition:
			for _, v := range e.Variants {
				switch v.Kind {
				case objmodel.VKFile:
					if !objects.HasBlob(v.Blob) {
						return converrors.New(converrors.ObjectMissing, "superposition variant references missing blob %s", v.Blob)
					}
				case objmodel.VKFileChunks:
					if !objects.HasRecipe(v.Recipe) {
						return converrors.New(converrors.ObjectMissing, "superposition variant references missing recipe %s", v.Recipe)
					}
				case objmodel.VKDir:
					if !objects.HasManifest(v.ManifestRef) {
						return converrors.New(converrors.ObjectMissing, "superposition variant references missing dir manifest %s", v.ManifestRef)
					}
				}
			}
		}
	}
	return nil
}

func (a *API) handlePutSnap(w http.ResponseWriter, r *http.Request) {
	id := objmodel.ID(chi.URLParam(r, "id"))
	if err := validateID(string(id)); err != nil {
		writeError(w, err)
		return
	}
	raw, err := io.ReadAll(r.Body)
	if err != nil {
		writeError(w, converrors.New(converrors.BadEncoding, "read body: %v", err))
		return
	}
	var snap objmodel.Snap
	if err := decodeCanonical(raw, &snap); err != nil {
		writeError(w, err)
		return
	}
	if snap.ID != id {
		writeError(w, converrors.New(converrors.HashMismatch, "snap id %s in path does not match body id %s", id, snap.ID))
		return
	}
	if err := snap.Validate(); err != nil {
		writeError(w, err)
		return
	}
	objects, err := a.requirePublish(r, chi.URLParam(r, "repo"))
	if err != nil {
		writeError(w, err)
		return
	}
	if !objects.HasManifest(snap.RootManifest) {
		writeError(w, converrors.New(converrors.ObjectMissing, "snap references missing root manifest %s", snap.RootManifest))
		return
	}
	canon, cerr := objmodel.CanonicalizeValue(snap)
	if cerr != nil {
		writeError(w, cerr)
		return
	}
	if _, err := objects.PutIfAbsent(localstore.KindSnap, id, canon); err != nil {
		writeError(w, err)
		return
	}
	a.Metrics.ObjectStored(chi.URLParam(r, "repo"), "snap")
	writeJSON(w, http.StatusCreated, nil)
}

var objectKinds = map[string]localstore.ObjectKind{
	"blobs":     localstore.KindBlob,
	"recipes":   localstore.KindRecipe,
	"manifests": localstore.KindManifest,
	"snaps":     localstore.KindSnap,
}

func (a *API) handleGetObject(w http.ResponseWriter, r *http.Request) {
	kindStr := chi.URLParam(r, "kind")
	id := objmodel.ID(chi.URLParam(r, "id"))
	if err := validateID(string(id)); err != nil {
		writeError(w, err)
		return
	}
	kind, ok := objectKinds[kindStr]
	if !ok {
		writeError(w, converrors.New(converrors.BadEncoding, "unknown object kind %q", kindStr))
		return
	}
	objects, err := a.requireObjectRead(r, chi.URLParam(r, "repo"))
	if err != nil {
		writeError(w, err)
		return
	}
	raw, err := objects.Get(kind, id)
	if err != nil {
		writeError(w, err)
		return
	}
	if kind == localstore.KindBlob {
		if got := objmodel.HashBytes(raw); got != id {
			writeError(w, converrors.New(converrors.HashMismatch, "stored blob %s hashes to %s", id, got))
			return
		}
		w.Header().Set("Content-Type", "application/octet-stream")
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write(raw)
		return
	}
	if got, _, err := objmodel.HashCanonicalJSON(raw); err != nil || got != id {
		writeError(w, converrors.New(converrors.HashMismatch, "stored object %s fails integrity check", id))
		return
	}
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write(raw)
}

func (a *API) handleMissing(w http.ResponseWriter, r *http.Request) {
	var req objectSet
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, err)
		return
	}
	objects, err := a.requireObjectRead(r, chi.URLParam(r, "repo"))
	if err != nil {
		writeError(w, err)
		return
	}
	resp := missingResponse{
		MissingBlobs:     filterMissing(objects, localstore.KindBlob, req.Blobs),
		MissingManifests: filterMissing(objects, localstore.KindManifest, req.Manifests),
		MissingRecipes:   filterMissing(objects, localstore.KindRecipe, req.Recipes),
		MissingSnaps:     filterMissing(objects, localstore.KindSnap, req.Snaps),
	}
	writeJSON(w, http.StatusOK, resp)
}

func filterMissing(objects *localstore.ObjectCache, kind localstore.ObjectKind, ids []objmodel.ID) []objmodel.ID {
	var out []objmodel.ID
	for _, id := range ids {
		if !objects.Has(kind, id) {
			out = append(out, id)
		}
	}
	return out
}

// decodeCanonical rejects a non-canonical body (spec.md §6: "Bodies are
// JSON, canonical when id-relevant") before unmarshalling it into v.
func decodeCanonical(raw []byte, v any) error {
	if _, err := objmodel.Canonicalize(raw); err != nil {
		return err
	}
	if err := json.Unmarshal(raw, v); err != nil {
		return converrors.New(converrors.BadEncoding, "decode object body: %v", err)
	}
	return nil
}
