// Command convergesrv is the converge server daemon: it serves the
// content-addressed object store and gated promotion pipeline over HTTP
// (spec.md §6), adapted from the teacher's cmd/gateway daemon shape.
package main

import (
	"context"
	"encoding/json"
	"flag"
	"log"
	"log/slog"
	"net"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"strconv"
	"strings"
	"syscall"
	"time"

	"github.com/inflatable-cookie/converge/internal/config"
	"github.com/inflatable-cookie/converge/internal/gateengine"
	"github.com/inflatable-cookie/converge/internal/identity"
	"github.com/inflatable-cookie/converge/internal/obslog"
	"github.com/inflatable-cookie/converge/internal/repostate"
	"github.com/inflatable-cookie/converge/internal/server/auth"
	"github.com/inflatable-cookie/converge/internal/server/httpapi"
	"github.com/inflatable-cookie/converge/internal/server/metrics"
	"github.com/inflatable-cookie/converge/internal/server/middleware"
	"github.com/inflatable-cookie/converge/internal/server/store"
	"github.com/inflatable-cookie/converge/internal/telemetry"
)

func main() {
	var cfgPath string
	flag.StringVar(&cfgPath, "config", "convergesrv.toml", "path to server configuration")
	flag.Parse()

	env := strings.TrimSpace(os.Getenv("CONVERGE_ENV"))
	slogger := obslog.Setup("convergesrv", env)
	logger := log.New(os.Stdout, "convergesrv ", log.LstdFlags|log.Lmsgprefix)

	cfg, err := config.LoadServer(cfgPath)
	if err != nil {
		logger.Fatalf("load config: %v", err)
	}

	otlpEndpoint := strings.TrimSpace(os.Getenv("OTEL_EXPORTER_OTLP_ENDPOINT"))
	insecure := true
	if v := strings.TrimSpace(os.Getenv("OTEL_EXPORTER_OTLP_INSECURE")); v != "" {
		if parsed, err := strconv.ParseBool(v); err == nil {
			insecure = parsed
		}
	}
	shutdownTelemetry, err := telemetry.Init(context.Background(), telemetry.Config{
		ServiceName: "convergesrv",
		Environment: env,
		Endpoint:    otlpEndpoint,
		Insecure:    insecure,
		Metrics:     otlpEndpoint != "",
		Traces:      otlpEndpoint != "",
	})
	if err != nil {
		slogger.Error("failed to initialise telemetry", "error", err)
		os.Exit(1)
	}
	defer func() {
		if shutdownTelemetry != nil {
			_ = shutdownTelemetry(context.Background())
		}
	}()

	registry, err := store.NewRegistry(cfg.DataDir)
	if err != nil {
		logger.Fatalf("open repo registry: %v", err)
	}

	ids := identity.NewStore()
	identityPath := filepath.Join(cfg.DataDir, "identity.json")
	if err := store.LoadIdentity(identityPath, ids); err != nil {
		logger.Fatalf("load identity snapshot: %v", err)
	}
	if cfg.BootstrapToken != "" && !ids.IsBootstrapped() {
		slogger.Info("no identity snapshot found; waiting for POST /bootstrap to create the first admin")
	}

	if cfg.GateGraphSeedFile != "" {
		seedGateGraphs(cfg, registry, slogger)
	}

	api := &httpapi.API{
		Repos:          registry,
		Identity:       ids,
		IdentityPath:   identityPath,
		Metrics:        metrics.Get(),
		BootstrapToken: cfg.BootstrapToken,
	}

	handler, err := httpapi.New(httpapi.Config{
		API:           api,
		Authenticator: auth.NewAuthenticator(ids),
		RateLimiter:   middleware.NewRateLimiter(cfg.RateLimitPerSecond, cfg.RateLimitBurst),
		Observability: middleware.NewObservability("convergesrv", slogger),
		CORS:          middleware.CORSConfig{},
	})
	if err != nil {
		logger.Fatalf("build http handler: %v", err)
	}

	server := &http.Server{
		Addr:         cfg.ListenAddress,
		Handler:      handler,
		ReadTimeout:  cfg.ReadTimeout,
		WriteTimeout: cfg.WriteTimeout,
		IdleTimeout:  cfg.IdleTimeout,
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	listener, err := net.Listen("tcp", cfg.ListenAddress)
	if err != nil {
		logger.Fatalf("listen: %v", err)
	}
	go func() {
		logger.Printf("listening on http://%s", listener.Addr())
		if serveErr := server.Serve(listener); serveErr != nil && serveErr != http.ErrServerClosed {
			logger.Fatalf("serve: %v", serveErr)
		}
	}()

	<-ctx.Done()
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		logger.Printf("graceful shutdown failed: %v", err)
	}
}

// seedGateGraphs installs a gate graph per repo from a JSON file shaped as
// {"<repo id>": {"gates": {...}}, ...}, creating any repo that does not yet
// exist (owned by "admin") before installing its graph. Invalid entries are
// logged and skipped rather than aborting startup.
func seedGateGraphs(cfg config.Server, registry *store.Registry, logger *slog.Logger) {
	raw, err := os.ReadFile(cfg.GateGraphSeedFile)
	if err != nil {
		logger.Warn("gate graph seed file not found", "path", cfg.GateGraphSeedFile, "error", err)
		return
	}
	var seeds map[string]repostate.GateGraph
	if err := json.Unmarshal(raw, &seeds); err != nil {
		logger.Error("decode gate graph seed file", "path", cfg.GateGraphSeedFile, "error", err)
		return
	}
	for repoID, graph := range seeds {
		if err := gateengine.ValidateGateGraph(graph); err != nil {
			logger.Error("invalid seeded gate graph", "repo", repoID, "error", err)
			continue
		}
		h, err := registry.Get(repoID)
		if err != nil {
			h, err = registry.Create(repoID, "admin")
			if err != nil {
				logger.Error("create repo for seeded gate graph", "repo", repoID, "error", err)
				continue
			}
		}
		if err := h.Mutate(func(rp *repostate.Repo) error {
			rp.GateGraph = graph
			return nil
		}); err != nil {
			logger.Error("install seeded gate graph", "repo", repoID, "error", err)
			continue
		}
		logger.Info("installed seeded gate graph", "repo", repoID)
	}
}
