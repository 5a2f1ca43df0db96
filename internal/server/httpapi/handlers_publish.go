package httpapi

import (
	"encoding/json"
	"net/http"
	"sort"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"

	"github.com/inflatable-cookie/converge/internal/converrors"
	"github.com/inflatable-cookie/converge/internal/gateengine"
	"github.com/inflatable-cookie/converge/internal/identity"
	"github.com/inflatable-cookie/converge/internal/localstore"
	"github.com/inflatable-cookie/converge/internal/merge"
	"github.com/inflatable-cookie/converge/internal/objmodel"
	"github.com/inflatable-cookie/converge/internal/repostate"
	"github.com/inflatable-cookie/converge/internal/server/auth"
)

func canPublish(r *http.Request, owner string, publishers []string) bool {
	user, _ := auth.UserFromContext(r.Context())
	return user.Admin || identity.CanPublish(user.Handle, owner, publishers)
}

type createPublicationRequest struct {
	Scope        string      `json:"scope"`
	Gate         string      `json:"gate"`
	Snap         objmodel.ID `json:"snap"`
	MetadataOnly bool        `json:"metadata_only"`
}

func (a *API) handleListPublications(w http.ResponseWriter, r *http.Request) {
	repo, ok, err := a.requireRead(r, chi.URLParam(r, "repo"))
	if err != nil {
		writeError(w, err)
		return
	}
	if !ok {
		writeError(w, converrors.New(converrors.Forbidden, "not permitted"))
		return
	}
	writeJSON(w, http.StatusOK, sortedPublications(repo.Publications))
}

func (a *API) handleCreatePublication(w http.ResponseWriter, r *http.Request) {
	var req createPublicationRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, err)
		return
	}
	repoID := chi.URLParam(r, "repo")
	h, err := a.Repos.Get(repoID)
	if err != nil {
		writeError(w, err)
		return
	}
	caller := currentHandle(r)
	var created repostate.Publication
	err = h.Mutate(func(rp *repostate.Repo) error {
		if !canPublish(r, rp.Owner, rp.Publishers) {
			return converrors.New(converrors.Forbidden, "not permitted to publish")
		}
		if !req.MetadataOnly {
			if !h.Objects().Has(localstore.KindSnap, req.Snap) {
				return converrors.New(converrors.NotFound, "snap %s not found", req.Snap)
			}
		} else if gate, ok := rp.GateGraph.Gates[req.Gate]; ok && !gate.AllowMetadataOnlyPublications {
			return converrors.New(converrors.ReleasesDisabled, "gate %q does not allow metadata-only publications", req.Gate)
		}
		created = repostate.Publication{
			ID: uuid.NewString(), Scope: req.Scope, Gate: req.Gate,
			Snap: req.Snap, Publisher: caller, CreatedAt: time.Now().UTC(),
			MetadataOnly: req.MetadataOnly,
		}
		rp.Publications[created.ID] = created
		if !containsScope(rp.Scopes, req.Scope) {
			rp.Scopes = append(rp.Scopes, req.Scope)
		}
		return nil
	})
	if err != nil {
		writeError(w, err)
		return
	}
	a.Metrics.PublicationCreated(repoID)
	writeJSON(w, http.StatusCreated, created)
}

func containsScope(scopes []string, scope string) bool {
	for _, s := range scopes {
		if s == scope {
			return true
		}
	}
	return false
}

func sortedPublications(m map[string]repostate.Publication) []repostate.Publication {
	out := make([]repostate.Publication, 0, len(m))
	for _, p := range m {
		out = append(out, p)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

// loadSnap reads and decodes a stored snap record.
func loadSnap(objects *localstore.ObjectCache, id objmodel.ID) (objmodel.Snap, error) {
	raw, err := objects.Get(localstore.KindSnap, id)
	if err != nil {
		return objmodel.Snap{}, err
	}
	var snap objmodel.Snap
	if err := json.Unmarshal(raw, &snap); err != nil {
		return objmodel.Snap{}, converrors.New(converrors.BadEncoding, "decode stored snap %s: %v", id, err)
	}
	return snap, nil
}

type createBundleRequest struct {
	Scope             string   `json:"scope"`
	Gate              string   `json:"gate"`
	InputPublications []string `json:"input_publications"`
}

// handleCreateBundle implements POST /repos/:r/bundles (spec.md §4.4): every
// input publication must exist and share (scope, gate); the root manifest is
// the deterministic, order-independent merge of their snap manifests.
func (a *API) handleCreateBundle(w http.ResponseWriter, r *http.Request) {
	var req createBundleRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, err)
		return
	}
	repoID := chi.URLParam(r, "repo")
	h, err := a.Repos.Get(repoID)
	if err != nil {
		writeError(w, err)
		return
	}
	caller := currentHandle(r)
	var created repostate.Bundle
	err = h.Mutate(func(rp *repostate.Repo) error {
		if !canPublish(r, rp.Owner, rp.Publishers) {
			return converrors.New(converrors.Forbidden, "not permitted to publish")
		}
		if len(req.InputPublications) == 0 {
			return converrors.New(converrors.BadEncoding, "input_publications must be non-empty")
		}
		var inputs []merge.Input
		for _, pubID := range req.InputPublications {
			pub, ok := rp.Publications[pubID]
			if !ok {
				return converrors.New(converrors.NotFound, "publication %q not found", pubID)
			}
			if pub.Scope != req.Scope || pub.Gate != req.Gate {
				return converrors.New(converrors.BadEncoding, "publication %q does not share (scope, gate)", pubID)
			}
			snap, err := loadSnap(h.Objects(), pub.Snap)
			if err != nil {
				return err
			}
			inputs = append(inputs, merge.Input{ID: pubID, Source: pub.Publisher, Root: snap.RootManifest})
		}
		rootID, err := merge.Merge(h.Objects(), inputs)
		if err != nil {
			return err
		}
		hasSup, err := gateengine.HasSuperpositions(h.Objects(), rootID)
		if err != nil {
			return err
		}
		gate := rp.GateGraph.Gates[req.Gate]
		eval := gateengine.Evaluate(repostate.Bundle{}, gate, hasSup)
		created = repostate.Bundle{
			ID: uuid.NewString(), Scope: req.Scope, Gate: req.Gate,
			InputPublications: req.InputPublications, RootManifest: rootID,
			CreatedBy: caller, CreatedAt: time.Now().UTC(),
			Promotable: eval.Promotable, Reasons: eval.Reasons,
		}
		rp.Bundles[created.ID] = created
		return nil
	})
	if err != nil {
		writeError(w, err)
		return
	}
	a.Metrics.BundleCreated(repoID, req.Gate)
	writeJSON(w, http.StatusCreated, created)
}

func (a *API) handleListBundles(w http.ResponseWriter, r *http.Request) {
	repo, ok, err := a.requireRead(r, chi.URLParam(r, "repo"))
	if err != nil {
		writeError(w, err)
		return
	}
	if !ok {
		writeError(w, converrors.New(converrors.Forbidden, "not permitted"))
		return
	}
	out := make([]repostate.Bundle, 0, len(repo.Bundles))
	for _, b := range repo.Bundles {
		out = append(out, b)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	writeJSON(w, http.StatusOK, out)
}

func (a *API) handleGetBundle(w http.ResponseWriter, r *http.Request) {
	repo, ok, err := a.requireRead(r, chi.URLParam(r, "repo"))
	if err != nil {
		writeError(w, err)
		return
	}
	if !ok {
		writeError(w, converrors.New(converrors.Forbidden, "not permitted"))
		return
	}
	b, ok := repo.Bundles[chi.URLParam(r, "bundle")]
	if !ok {
		writeError(w, converrors.New(converrors.NotFound, "bundle not found"))
		return
	}
	writeJSON(w, http.StatusOK, b)
}

// bundleMutate resolves repoID/bundleID, checks publish access, and hands fn
// the repo aggregate, the current bundle, and the repo's object cache (for
// recomputing promotability); the bundle fn returns replaces the stored one.
func (a *API) bundleMutate(r *http.Request, fn func(*repostate.Repo, repostate.Bundle, *localstore.ObjectCache) (repostate.Bundle, error)) (repostate.Bundle, error) {
	repoID := chi.URLParam(r, "repo")
	bundleID := chi.URLParam(r, "bundle")
	h, err := a.Repos.Get(repoID)
	if err != nil {
		return repostate.Bundle{}, err
	}
	var result repostate.Bundle
	err = h.Mutate(func(rp *repostate.Repo) error {
		if !canPublish(r, rp.Owner, rp.Publishers) {
			return converrors.New(converrors.Forbidden, "not permitted to publish")
		}
		b, ok := rp.Bundles[bundleID]
		if !ok {
			return converrors.New(converrors.NotFound, "bundle %q not found", bundleID)
		}
		updated, err := fn(rp, b, h.Objects())
		if err != nil {
			return err
		}
		rp.Bundles[bundleID] = updated
		result = updated
		return nil
	})
	return result, err
}

func (a *API) handleApproveBundle(w http.ResponseWriter, r *http.Request) {
	caller := currentHandle(r)
	result, err := a.bundleMutate(r, func(rp *repostate.Repo, b repostate.Bundle, objects *localstore.ObjectCache) (repostate.Bundle, error) {
		b = b.WithApproval(caller)
		hasSup, err := gateengine.HasSuperpositions(objects, b.RootManifest)
		if err != nil {
			return repostate.Bundle{}, err
		}
		eval := gateengine.Evaluate(b, rp.GateGraph.Gates[b.Gate], hasSup)
		b.Promotable, b.Reasons = eval.Promotable, eval.Reasons
		return b, nil
	})
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, result)
}

func (a *API) handlePinBundle(w http.ResponseWriter, r *http.Request) {
	repoID := chi.URLParam(r, "repo")
	bundleID := chi.URLParam(r, "bundle")
	h, err := a.Repos.Get(repoID)
	if err != nil {
		writeError(w, err)
		return
	}
	err = h.Mutate(func(rp *repostate.Repo) error {
		if !canPublish(r, rp.Owner, rp.Publishers) {
			return converrors.New(converrors.Forbidden, "not permitted")
		}
		if _, ok := rp.Bundles[bundleID]; !ok {
			return converrors.New(converrors.NotFound, "bundle %q not found", bundleID)
		}
		rp.PinnedBundles[bundleID] = true
		return nil
	})
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, nil)
}

func (a *API) handleUnpinBundle(w http.ResponseWriter, r *http.Request) {
	repoID := chi.URLParam(r, "repo")
	bundleID := chi.URLParam(r, "bundle")
	h, err := a.Repos.Get(repoID)
	if err != nil {
		writeError(w, err)
		return
	}
	err = h.Mutate(func(rp *repostate.Repo) error {
		if !canPublish(r, rp.Owner, rp.Publishers) {
			return converrors.New(converrors.Forbidden, "not permitted")
		}
		delete(rp.PinnedBundles, bundleID)
		return nil
	})
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, nil)
}

func (a *API) handleListPins(w http.ResponseWriter, r *http.Request) {
	repo, ok, err := a.requireRead(r, chi.URLParam(r, "repo"))
	if err != nil {
		writeError(w, err)
		return
	}
	if !ok {
		writeError(w, converrors.New(converrors.Forbidden, "not permitted"))
		return
	}
	var pinned []string
	for id, p := range repo.PinnedBundles {
		if p {
			pinned = append(pinned, id)
		}
	}
	sort.Strings(pinned)
	writeJSON(w, http.StatusOK, pinned)
}

type createPromotionRequest struct {
	BundleID string `json:"bundle_id"`
	ToGate   string `json:"to_gate"`
}

func (a *API) handleCreatePromotion(w http.ResponseWriter, r *http.Request) {
	var req createPromotionRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, err)
		return
	}
	repoID := chi.URLParam(r, "repo")
	h, err := a.Repos.Get(repoID)
	if err != nil {
		writeError(w, err)
		return
	}
	caller := currentHandle(r)
	var created repostate.Promotion
	err = h.Mutate(func(rp *repostate.Repo) error {
		if !canPublish(r, rp.Owner, rp.Publishers) {
			return converrors.New(converrors.Forbidden, "not permitted")
		}
		b, ok := rp.Bundles[req.BundleID]
		if !ok {
			return converrors.New(converrors.NotFound, "bundle %q not found", req.BundleID)
		}
		if !gateengine.CanPromote(rp.GateGraph, b.Gate, req.ToGate) {
			return converrors.New(converrors.GateGraphInvalid, "gate %q does not accept promotions from %q", req.ToGate, b.Gate)
		}
		hasSup, err := gateengine.HasSuperpositions(h.Objects(), b.RootManifest)
		if err != nil {
			return err
		}
		eval := gateengine.Evaluate(b, rp.GateGraph.Gates[b.Gate], hasSup)
		if !eval.Promotable {
			return converrors.New(converrors.BundleNotPromotable, "bundle not promotable: %v", eval.Reasons)
		}
		now := time.Now().UTC()
		created = repostate.Promotion{
			ID: uuid.NewString(), BundleID: req.BundleID, Scope: b.Scope,
			FromGate: b.Gate, ToGate: req.ToGate, PromotedBy: caller, PromotedAt: now,
		}
		rp.Promotions[created.ID] = created

		var latestKnown time.Time
		if currentID, ok := rp.PromotionPointer(b.Scope, req.ToGate); ok {
			if cur, ok := rp.Promotions[currentID]; ok {
				latestKnown = cur.PromotedAt
			}
		}
		rp.SetPromotionPointer(b.Scope, req.ToGate, req.BundleID, now, latestKnown)

		b.Gate = req.ToGate
		rp.Bundles[req.BundleID] = b
		return nil
	})
	if err != nil {
		writeError(w, err)
		return
	}
	a.Metrics.PromotionRecorded(repoID, created.FromGate, created.ToGate)
	writeJSON(w, http.StatusCreated, created)
}

func (a *API) handleListPromotions(w http.ResponseWriter, r *http.Request) {
	repo, ok, err := a.requireRead(r, chi.URLParam(r, "repo"))
	if err != nil {
		writeError(w, err)
		return
	}
	if !ok {
		writeError(w, converrors.New(converrors.Forbidden, "not permitted"))
		return
	}
	scope := r.URL.Query().Get("scope")
	toGate := r.URL.Query().Get("to_gate")
	out := make([]repostate.Promotion, 0, len(repo.Promotions))
	for _, p := range repo.Promotions {
		if scope != "" && p.Scope != scope {
			continue
		}
		if toGate != "" && p.ToGate != toGate {
			continue
		}
		out = append(out, p)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].PromotedAt.Before(out[j].PromotedAt) })
	writeJSON(w, http.StatusOK, out)
}

func (a *API) handlePromotionState(w http.ResponseWriter, r *http.Request) {
	repo, ok, err := a.requireRead(r, chi.URLParam(r, "repo"))
	if err != nil {
		writeError(w, err)
		return
	}
	if !ok {
		writeError(w, converrors.New(converrors.Forbidden, "not permitted"))
		return
	}
	scope := r.URL.Query().Get("scope")
	if scope == "" {
		writeJSON(w, http.StatusOK, repo.PromotionState)
		return
	}
	writeJSON(w, http.StatusOK, repo.PromotionState[scope])
}

type createReleaseRequest struct {
	Channel  string  `json:"channel"`
	BundleID string  `json:"bundle_id"`
	Notes    *string `json:"notes,omitempty"`
}

func (a *API) handleCreateRelease(w http.ResponseWriter, r *http.Request) {
	var req createReleaseRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, err)
		return
	}
	repoID := chi.URLParam(r, "repo")
	h, err := a.Repos.Get(repoID)
	if err != nil {
		writeError(w, err)
		return
	}
	caller := currentHandle(r)
	var created repostate.Release
	err = h.Mutate(func(rp *repostate.Repo) error {
		if !canPublish(r, rp.Owner, rp.Publishers) {
			return converrors.New(converrors.Forbidden, "not permitted")
		}
		b, ok := rp.Bundles[req.BundleID]
		if !ok {
			return converrors.New(converrors.NotFound, "bundle %q not found", req.BundleID)
		}
		gate, ok := rp.GateGraph.Gates[b.Gate]
		if !ok || !gate.AllowReleases {
			return converrors.New(converrors.ReleasesDisabled, "gate %q does not allow releases", b.Gate)
		}
		hasSup, err := gateengine.HasSuperpositions(h.Objects(), b.RootManifest)
		if err != nil {
			return err
		}
		eval := gateengine.Evaluate(b, gate, hasSup)
		if !eval.Promotable {
			return converrors.New(converrors.BundleNotPromotable, "bundle not promotable: %v", eval.Reasons)
		}
		created = repostate.Release{
			ID: uuid.NewString(), Channel: req.Channel, BundleID: req.BundleID,
			Scope: b.Scope, Gate: b.Gate, ReleasedBy: caller,
			ReleasedAt: time.Now().UTC(), Notes: req.Notes,
		}
		rp.Releases[created.ID] = created
		return nil
	})
	if err != nil {
		writeError(w, err)
		return
	}
	a.Metrics.ReleaseCreated(repoID, req.Channel)
	writeJSON(w, http.StatusCreated, created)
}

func (a *API) handleListReleases(w http.ResponseWriter, r *http.Request) {
	repo, ok, err := a.requireRead(r, chi.URLParam(r, "repo"))
	if err != nil {
		writeError(w, err)
		return
	}
	if !ok {
		writeError(w, converrors.New(converrors.Forbidden, "not permitted"))
		return
	}
	out := make([]repostate.Release, 0, len(repo.Releases))
	for _, rel := range repo.Releases {
		out = append(out, rel)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ReleasedAt.Before(out[j].ReleasedAt) })
	writeJSON(w, http.StatusOK, out)
}

func (a *API) handleCurrentRelease(w http.ResponseWriter, r *http.Request) {
	repo, ok, err := a.requireRead(r, chi.URLParam(r, "repo"))
	if err != nil {
		writeError(w, err)
		return
	}
	if !ok {
		writeError(w, converrors.New(converrors.Forbidden, "not permitted"))
		return
	}
	channel := chi.URLParam(r, "channel")
	rel, ok := repo.CurrentRelease(channel)
	if !ok {
		writeError(w, converrors.New(converrors.NotFound, "no release in channel %q", channel))
		return
	}
	writeJSON(w, http.StatusOK, rel)
}
