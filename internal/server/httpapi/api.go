package httpapi

import (
	"github.com/inflatable-cookie/converge/internal/identity"
	"github.com/inflatable-cookie/converge/internal/server/metrics"
	"github.com/inflatable-cookie/converge/internal/server/store"
)

// API holds the dependencies every handler needs: the repo registry, the
// identity store (plus the path its snapshot is durably mirrored to after
// every mutation), and the domain metrics registry.
type API struct {
	Repos        *store.Registry
	Identity     *identity.Store
	IdentityPath string
	Metrics      *metrics.Domain

	// BootstrapToken, if set, must be supplied as bootstrapRequest.Token for
	// POST /bootstrap to succeed (defense in depth beyond the one-shot
	// already-bootstrapped check).
	BootstrapToken string
}

// saveIdentity persists the identity store after a mutating identity
// operation (bootstrap). Errors are surfaced to the caller as
// 500s by the handler, since a successful in-memory mutation whose durable
// mirror failed must not be reported as success.
func (a *API) saveIdentity() error {
	return store.SaveIdentity(a.IdentityPath, a.Identity)
}
