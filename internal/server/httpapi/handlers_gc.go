package httpapi

import (
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"

	"github.com/inflatable-cookie/converge/internal/converrors"
	"github.com/inflatable-cookie/converge/internal/gc"
	"github.com/inflatable-cookie/converge/internal/identity"
	"github.com/inflatable-cookie/converge/internal/repostate"
	"github.com/inflatable-cookie/converge/internal/server/auth"
)

// handleGC implements POST /repos/:r/gc?dry_run&prune_metadata&prune_releases_keep_last=N
// (spec.md §4.8). Only the repo owner or an admin may run GC: it is
// destructive and its dry_run=false form deletes unreachable objects and,
// with prune_metadata, stale bookkeeping too.
func (a *API) handleGC(w http.ResponseWriter, r *http.Request) {
	repoID := chi.URLParam(r, "repo")
	h, err := a.Repos.Get(repoID)
	if err != nil {
		writeError(w, err)
		return
	}

	opts := gc.ServerOptions{
		DryRun:        r.URL.Query().Get("dry_run") != "false",
		PruneMetadata: r.URL.Query().Get("prune_metadata") == "true",
	}
	if v := r.URL.Query().Get("prune_releases_keep_last"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n < 0 {
			writeError(w, converrors.New(converrors.BadEncoding, "invalid prune_releases_keep_last %q", v))
			return
		}
		opts.PruneReleasesKeepLast = n
	}

	caller := currentHandle(r)
	user, _ := auth.UserFromContext(r.Context())
	var report gc.ServerReport
	err = h.Mutate(func(rp *repostate.Repo) error {
		if !user.Admin && !identity.CanAdminister(caller, rp.Owner) {
			return converrors.New(converrors.Forbidden, "only the owner may run gc")
		}
		rep, err := gc.RunServer(rp, h.Objects(), opts)
		if err != nil {
			return err
		}
		report = rep
		return nil
	})
	if err != nil {
		writeError(w, err)
		return
	}
	if !opts.DryRun {
		a.Metrics.GCRun(repoID, false)
		a.Metrics.ObjectsDeleted(repoID, "blob", len(report.Deleted.Blobs))
		a.Metrics.ObjectsDeleted(repoID, "manifest", len(report.Deleted.Manifests))
		a.Metrics.ObjectsDeleted(repoID, "recipe", len(report.Deleted.Recipes))
	} else {
		a.Metrics.GCRun(repoID, true)
	}
	writeJSON(w, http.StatusOK, report)
}
