package httpapi

import (
	"net/http"

	"github.com/inflatable-cookie/converge/internal/converrors"
	"github.com/inflatable-cookie/converge/internal/server/auth"
)

type bootstrapRequest struct {
	Handle string `json:"handle"`
	Token  string `json:"token,omitempty"`
}

type bootstrapResponse struct {
	UserID string `json:"user_id"`
	Handle string `json:"handle"`
	Admin  bool   `json:"admin"`
	Token  string `json:"token,omitempty"`
}

// handleBootstrap implements POST /bootstrap: one-shot first-admin creation,
// rejected with Conflict if any user already exists (spec.md §6).
func (a *API) handleBootstrap(w http.ResponseWriter, r *http.Request) {
	var req bootstrapRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, err)
		return
	}
	if a.BootstrapToken != "" && req.Token != a.BootstrapToken {
		writeError(w, converrors.New(converrors.Unauthorized, "invalid bootstrap token"))
		return
	}
	user, token, err := a.Identity.Bootstrap(req.Handle)
	if err != nil {
		writeError(w, err)
		return
	}
	if err := a.saveIdentity(); err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, bootstrapResponse{UserID: user.ID, Handle: user.Handle, Admin: user.Admin, Token: token})
}

// handleWhoami implements GET /whoami: the caller's resolved identity.
func (a *API) handleWhoami(w http.ResponseWriter, r *http.Request) {
	user, ok := auth.UserFromContext(r.Context())
	if !ok {
		writeJSON(w, http.StatusUnauthorized, map[string]string{"error": "no identity in context"})
		return
	}
	writeJSON(w, http.StatusOK, bootstrapResponse{UserID: user.ID, Handle: user.Handle, Admin: user.Admin})
}
