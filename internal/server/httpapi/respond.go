// Package httpapi implements the server's chi-routed HTTP surface (spec.md
// §6 "HTTP surface"), adapted from the teacher's gateway/routes.New(cfg)
// shape: a Config struct wiring middleware, handed to New to build the
// http.Handler.
package httpapi

import (
	"encoding/json"
	"net/http"
	"regexp"

	"github.com/inflatable-cookie/converge/internal/converrors"
)

// idPattern validates every id path component (spec.md §6).
var idPattern = regexp.MustCompile(`^[0-9a-f]{64}$`)

func writeJSON(w http.ResponseWriter, status int, body any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if body != nil {
		_ = json.NewEncoder(w).Encode(body)
	}
}

// writeError maps err to its HTTP status via converrors, falling back to
// 500 for anything not carrying a *converrors.Error.
func writeError(w http.ResponseWriter, err error) {
	if ce, ok := converrors.As(err); ok {
		if len(ce.Issues) > 0 {
			writeJSON(w, ce.Status(), map[string]any{"error": ce.Message, "issues": ce.Issues})
			return
		}
		writeJSON(w, ce.Status(), map[string]string{"error": ce.Message})
		return
	}
	writeJSON(w, http.StatusInternalServerError, map[string]string{"error": err.Error()})
}

func decodeJSON(r *http.Request, v any) error {
	dec := json.NewDecoder(r.Body)
	dec.DisallowUnknownFields()
	if err := dec.Decode(v); err != nil {
		return converrors.New(converrors.BadEncoding, "decode request body: %v", err)
	}
	return nil
}
