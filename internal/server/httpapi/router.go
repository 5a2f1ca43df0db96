package httpapi

import (
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/inflatable-cookie/converge/internal/server/auth"
	"github.com/inflatable-cookie/converge/internal/server/middleware"
)

// Config wires an API's dependencies together with the shared HTTP
// middleware stack, mirroring the teacher's gateway/routes.Config ->
// routes.New(cfg) shape.
type Config struct {
	API           *API
	Authenticator *auth.Authenticator
	RateLimiter   *middleware.RateLimiter
	Observability *middleware.Observability
	CORS          middleware.CORSConfig
}

// New builds the server's full HTTP handler from cfg.
func New(cfg Config) (http.Handler, error) {
	r := chi.NewRouter()
	r.Use(middleware.CORS(cfg.CORS))
	if cfg.Observability != nil {
		r.Use(cfg.Observability.Middleware("root"))
	}
	if cfg.RateLimiter != nil {
		r.Use(cfg.RateLimiter.Middleware)
	}

	api := cfg.API

	r.Get("/healthz", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ok"))
	})
	if cfg.Observability != nil {
		r.Get("/metrics", cfg.Observability.MetricsHandler().ServeHTTP)
	}
	r.Post("/bootstrap", api.handleBootstrap)

	r.Group(func(r chi.Router) {
		r.Use(cfg.Authenticator.Middleware)

		r.Get("/whoami", api.handleWhoami)

		r.Get("/repos", api.handleListRepos)
		r.Post("/repos", api.handleCreateRepo)
		r.Get("/repos/{repo}", api.handleGetRepo)

		r.Get("/repos/{repo}/members", api.handleListMembers)
		r.Post("/repos/{repo}/members", api.handleAddMember)
		r.Delete("/repos/{repo}/members/{handle}", api.handleRemoveMember)

		r.Get("/repos/{repo}/lanes", api.handleListLanes)
		r.Get("/repos/{repo}/lanes/{lane}/members", api.handleListLaneMembers)
		r.Post("/repos/{repo}/lanes/{lane}/members", api.handleAddLaneMember)
		r.Delete("/repos/{repo}/lanes/{lane}/members/{handle}", api.handleRemoveLaneMember)
		r.Post("/repos/{repo}/lanes/{lane}/heads/me", api.handleUpdateLaneHead)
		r.Get("/repos/{repo}/lanes/{lane}/heads/{user}", api.handleGetLaneHead)

		r.Get("/repos/{repo}/gate-graph", api.handleGetGateGraph)
		r.Put("/repos/{repo}/gate-graph", api.handlePutGateGraph)

		r.Put("/repos/{repo}/objects/blobs/{id}", api.handlePutBlob)
		r.Put("/repos/{repo}/objects/recipes/{id}", api.handlePutRecipe)
		r.Put("/repos/{repo}/objects/manifests/{id}", api.handlePutManifest)
		r.Put("/repos/{repo}/objects/snaps/{id}", api.handlePutSnap)
		r.Get("/repos/{repo}/objects/{kind}/{id}", api.handleGetObject)
		r.Post("/repos/{repo}/objects/missing", api.handleMissing)

		r.Get("/repos/{repo}/publications", api.handleListPublications)
		r.Post("/repos/{repo}/publications", api.handleCreatePublication)

		r.Get("/repos/{repo}/bundles", api.handleListBundles)
		r.Post("/repos/{repo}/bundles", api.handleCreateBundle)
		r.Get("/repos/{repo}/bundles/{bundle}", api.handleGetBundle)
		r.Post("/repos/{repo}/bundles/{bundle}/approve", api.handleApproveBundle)
		r.Post("/repos/{repo}/bundles/{bundle}/pin", api.handlePinBundle)
		r.Post("/repos/{repo}/bundles/{bundle}/unpin", api.handleUnpinBundle)
		r.Get("/repos/{repo}/pins", api.handleListPins)

		r.Get("/repos/{repo}/promotions", api.handleListPromotions)
		r.Post("/repos/{repo}/promotions", api.handleCreatePromotion)
		r.Get("/repos/{repo}/promotion-state", api.handlePromotionState)

		r.Get("/repos/{repo}/releases", api.handleListReleases)
		r.Post("/repos/{repo}/releases", api.handleCreateRelease)
		r.Get("/repos/{repo}/releases/{channel}", api.handleCurrentRelease)

		r.Post("/repos/{repo}/gc", api.handleGC)
	})

	return r, nil
}
