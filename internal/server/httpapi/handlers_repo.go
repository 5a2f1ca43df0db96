package httpapi

import (
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/inflatable-cookie/converge/internal/converrors"
	"github.com/inflatable-cookie/converge/internal/gateengine"
	"github.com/inflatable-cookie/converge/internal/identity"
	"github.com/inflatable-cookie/converge/internal/objmodel"
	"github.com/inflatable-cookie/converge/internal/repostate"
	"github.com/inflatable-cookie/converge/internal/server/auth"
)

func currentHandle(r *http.Request) string {
	user, _ := auth.UserFromContext(r.Context())
	return user.Handle
}

// requireRead fetches repo and checks the caller may read it.
func (a *API) requireRead(r *http.Request, repoID string) (repo *repostate.Repo, ok bool, err error) {
	handle := currentHandle(r)
	h, err := a.Repos.Get(repoID)
	if err != nil {
		return nil, false, err
	}
	var snap repostate.Repo
	if err := h.View(func(rp *repostate.Repo) error {
		snap = *rp
		return nil
	}); err != nil {
		return nil, false, err
	}
	admin, _ := auth.UserFromContext(r.Context())
	if admin.Admin || identity.CanRead(handle, snap.Owner, snap.Readers, snap.Publishers) {
		return &snap, true, nil
	}
	return nil, false, nil
}

type createRepoRequest struct {
	ID    string `json:"id"`
	Owner string `json:"owner,omitempty"`
}

func (a *API) handleListRepos(w http.ResponseWriter, r *http.Request) {
	handle := currentHandle(r)
	user, _ := auth.UserFromContext(r.Context())
	var visible []string
	for _, id := range a.Repos.List() {
		h, err := a.Repos.Get(id)
		if err != nil {
			continue
		}
		_ = h.View(func(rp *repostate.Repo) error {
			if user.Admin || identity.CanRead(handle, rp.Owner, rp.Readers, rp.Publishers) {
				visible = append(visible, id)
			}
			return nil
		})
	}
	writeJSON(w, http.StatusOK, map[string]any{"repos": visible})
}

func (a *API) handleCreateRepo(w http.ResponseWriter, r *http.Request) {
	var req createRepoRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, err)
		return
	}
	owner := req.Owner
	user, _ := auth.UserFromContext(r.Context())
	if owner == "" || !user.Admin {
		owner = user.Handle
	}
	handle, err := a.Repos.Create(req.ID, owner)
	if err != nil {
		writeError(w, err)
		return
	}
	var snap repostate.Repo
	_ = handle.View(func(rp *repostate.Repo) error { snap = *rp; return nil })
	writeJSON(w, http.StatusCreated, snap)
}

func (a *API) handleGetRepo(w http.ResponseWriter, r *http.Request) {
	repoID := chi.URLParam(r, "repo")
	repo, ok, err := a.requireRead(r, repoID)
	if err != nil {
		writeError(w, err)
		return
	}
	if !ok {
		writeError(w, converrors.New(converrors.Forbidden, "not permitted to read repo %q", repoID))
		return
	}
	writeJSON(w, http.StatusOK, repo)
}

type memberResponse struct {
	Owner      string   `json:"owner"`
	Readers    []string `json:"readers"`
	Publishers []string `json:"publishers"`
}

func (a *API) handleListMembers(w http.ResponseWriter, r *http.Request) {
	repo, ok, err := a.requireRead(r, chi.URLParam(r, "repo"))
	if err != nil {
		writeError(w, err)
		return
	}
	if !ok {
		writeError(w, converrors.New(converrors.Forbidden, "not permitted"))
		return
	}
	writeJSON(w, http.StatusOK, memberResponse{Owner: repo.Owner, Readers: repo.Readers, Publishers: repo.Publishers})
}

type addMemberRequest struct {
	Handle string `json:"handle"`
	Role   string `json:"role"` // "reader" or "publisher"
}

func (a *API) handleAddMember(w http.ResponseWriter, r *http.Request) {
	repoID := chi.URLParam(r, "repo")
	h, err := a.Repos.Get(repoID)
	if err != nil {
		writeError(w, err)
		return
	}
	var req addMemberRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, err)
		return
	}
	caller := currentHandle(r)
	err = h.Mutate(func(rp *repostate.Repo) error {
		if !identity.CanAdminister(caller, rp.Owner) {
			return converrors.New(converrors.Forbidden, "only the owner may manage members")
		}
		switch identity.Role(req.Role) {
		case identity.RoleReader:
			rp.Readers = addUnique(rp.Readers, req.Handle)
		case identity.RolePublisher:
			rp.Publishers = addUnique(rp.Publishers, req.Handle)
		default:
			return converrors.New(converrors.BadEncoding, "unknown role %q", req.Role)
		}
		return nil
	})
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"handle": req.Handle, "role": req.Role})
}

func (a *API) handleRemoveMember(w http.ResponseWriter, r *http.Request) {
	repoID := chi.URLParam(r, "repo")
	handle := chi.URLParam(r, "handle")
	h, err := a.Repos.Get(repoID)
	if err != nil {
		writeError(w, err)
		return
	}
	caller := currentHandle(r)
	err = h.Mutate(func(rp *repostate.Repo) error {
		if !identity.CanAdminister(caller, rp.Owner) {
			return converrors.New(converrors.Forbidden, "only the owner may manage members")
		}
		rp.Readers = removeString(rp.Readers, handle)
		rp.Publishers = removeString(rp.Publishers, handle)
		return nil
	})
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, nil)
}

func addUnique(ss []string, v string) []string {
	for _, s := range ss {
		if s == v {
			return ss
		}
	}
	return append(ss, v)
}

func removeString(ss []string, v string) []string {
	out := ss[:0:0]
	for _, s := range ss {
		if s != v {
			out = append(out, s)
		}
	}
	return out
}

func (a *API) handleListLanes(w http.ResponseWriter, r *http.Request) {
	repo, ok, err := a.requireRead(r, chi.URLParam(r, "repo"))
	if err != nil {
		writeError(w, err)
		return
	}
	if !ok {
		writeError(w, converrors.New(converrors.Forbidden, "not permitted"))
		return
	}
	writeJSON(w, http.StatusOK, repo.Lanes)
}

func (a *API) laneMutate(r *http.Request, fn func(*repostate.Repo, *repostate.Lane) error) error {
	repoID := chi.URLParam(r, "repo")
	laneID := chi.URLParam(r, "lane")
	h, err := a.Repos.Get(repoID)
	if err != nil {
		return err
	}
	return h.Mutate(func(rp *repostate.Repo) error {
		caller := currentHandle(r)
		if !identity.CanRead(caller, rp.Owner, rp.Readers, rp.Publishers) {
			return converrors.New(converrors.Forbidden, "not permitted")
		}
		lane, ok := rp.Lanes[laneID]
		if !ok {
			lane = &repostate.Lane{ID: laneID}
			rp.Lanes[laneID] = lane
		}
		return fn(rp, lane)
	})
}

func (a *API) handleListLaneMembers(w http.ResponseWriter, r *http.Request) {
	repo, ok, err := a.requireRead(r, chi.URLParam(r, "repo"))
	if err != nil {
		writeError(w, err)
		return
	}
	if !ok {
		writeError(w, converrors.New(converrors.Forbidden, "not permitted"))
		return
	}
	lane, ok := repo.Lanes[chi.URLParam(r, "lane")]
	if !ok {
		writeError(w, converrors.New(converrors.NotFound, "lane not found"))
		return
	}
	writeJSON(w, http.StatusOK, lane.Members)
}

func (a *API) handleAddLaneMember(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Handle string `json:"handle"`
	}
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, err)
		return
	}
	err := a.laneMutate(r, func(_ *repostate.Repo, lane *repostate.Lane) error {
		lane.Members = addUnique(lane.Members, req.Handle)
		return nil
	})
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, nil)
}

func (a *API) handleRemoveLaneMember(w http.ResponseWriter, r *http.Request) {
	handle := chi.URLParam(r, "handle")
	err := a.laneMutate(r, func(_ *repostate.Repo, lane *repostate.Lane) error {
		lane.Members = removeString(lane.Members, handle)
		return nil
	})
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, nil)
}

type updateLaneHeadRequest struct {
	Snap objmodel.ID `json:"snap"`
}

func (a *API) handleUpdateLaneHead(w http.ResponseWriter, r *http.Request) {
	var req updateLaneHeadRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, err)
		return
	}
	caller := currentHandle(r)
	err := a.laneMutate(r, func(_ *repostate.Repo, lane *repostate.Lane) error {
		lane.RecordHead(caller, req.Snap, time.Now().UTC())
		return nil
	})
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, nil)
}

func (a *API) handleGetLaneHead(w http.ResponseWriter, r *http.Request) {
	repo, ok, err := a.requireRead(r, chi.URLParam(r, "repo"))
	if err != nil {
		writeError(w, err)
		return
	}
	if !ok {
		writeError(w, converrors.New(converrors.Forbidden, "not permitted"))
		return
	}
	lane, ok := repo.Lanes[chi.URLParam(r, "lane")]
	if !ok {
		writeError(w, converrors.New(converrors.NotFound, "lane not found"))
		return
	}
	user := chi.URLParam(r, "user")
	head, ok := lane.Heads[user]
	if !ok {
		writeError(w, converrors.New(converrors.NotFound, "no head recorded for %q", user))
		return
	}
	writeJSON(w, http.StatusOK, map[string]objmodel.ID{"snap": head})
}

func (a *API) handleGetGateGraph(w http.ResponseWriter, r *http.Request) {
	repo, ok, err := a.requireRead(r, chi.URLParam(r, "repo"))
	if err != nil {
		writeError(w, err)
		return
	}
	if !ok {
		writeError(w, converrors.New(converrors.Forbidden, "not permitted"))
		return
	}
	writeJSON(w, http.StatusOK, repo.GateGraph)
}

func (a *API) handlePutGateGraph(w http.ResponseWriter, r *http.Request) {
	var graph repostate.GateGraph
	if err := decodeJSON(r, &graph); err != nil {
		writeError(w, err)
		return
	}
	if err := gateengine.ValidateGateGraph(graph); err != nil {
		writeError(w, err)
		return
	}
	h, err := a.Repos.Get(chi.URLParam(r, "repo"))
	if err != nil {
		writeError(w, err)
		return
	}
	caller := currentHandle(r)
	err = h.Mutate(func(rp *repostate.Repo) error {
		if !identity.CanAdminister(caller, rp.Owner) {
			return converrors.New(converrors.Forbidden, "only the owner may edit the gate graph")
		}
		rp.GateGraph = graph
		return nil
	})
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, graph)
}
