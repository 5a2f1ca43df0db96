// Package metrics exposes domain-level prometheus counters for the
// converge server — publication/bundle/promotion/release throughput and GC
// activity — separate from the generic HTTP request metrics in
// internal/server/middleware. Adapted from observability.ModuleMetrics's
// lazily-initialised, sync.Once-guarded registry pattern.
package metrics

import (
	"sync"

	"github.com/prometheus/client_golang/prometheus"
)

// Domain holds every converge-specific counter/gauge.
type Domain struct {
	publications *prometheus.CounterVec
	bundles      *prometheus.CounterVec
	promotions   *prometheus.CounterVec
	releases     *prometheus.CounterVec
	gcRuns       *prometheus.CounterVec
	gcObjects    *prometheus.CounterVec
	objectsStore *prometheus.CounterVec
}

var (
	once sync.Once
	reg  *Domain
)

// Get returns the process-wide domain metrics registry, registering it
// against the default prometheus registerer on first use.
func Get() *Domain {
	once.Do(func() {
		reg = &Domain{
			publications: prometheus.NewCounterVec(prometheus.CounterOpts{
				Namespace: "converge", Subsystem: "repo", Name: "publications_total",
				Help: "Publications created, by repo.",
			}, []string{"repo"}),
			bundles: prometheus.NewCounterVec(prometheus.CounterOpts{
				Namespace: "converge", Subsystem: "repo", Name: "bundles_total",
				Help: "Bundles created, by repo and gate.",
			}, []string{"repo", "gate"}),
			promotions: prometheus.NewCounterVec(prometheus.CounterOpts{
				Namespace: "converge", Subsystem: "repo", Name: "promotions_total",
				Help: "Promotions recorded, by repo, from_gate, and to_gate.",
			}, []string{"repo", "from_gate", "to_gate"}),
			releases: prometheus.NewCounterVec(prometheus.CounterOpts{
				Namespace: "converge", Subsystem: "repo", Name: "releases_total",
				Help: "Releases recorded, by repo and channel.",
			}, []string{"repo", "channel"}),
			gcRuns: prometheus.NewCounterVec(prometheus.CounterOpts{
				Namespace: "converge", Subsystem: "gc", Name: "runs_total",
				Help: "GC runs, by repo and dry_run.",
			}, []string{"repo", "dry_run"}),
			gcObjects: prometheus.NewCounterVec(prometheus.CounterOpts{
				Namespace: "converge", Subsystem: "gc", Name: "objects_deleted_total",
				Help: "Objects deleted by GC, by repo and kind.",
			}, []string{"repo", "kind"}),
			objectsStore: prometheus.NewCounterVec(prometheus.CounterOpts{
				Namespace: "converge", Subsystem: "objects", Name: "stored_total",
				Help: "Objects durably stored, by repo and kind.",
			}, []string{"repo", "kind"}),
		}
		prometheus.MustRegister(
			reg.publications, reg.bundles, reg.promotions, reg.releases,
			reg.gcRuns, reg.gcObjects, reg.objectsStore,
		)
	})
	return reg
}

func (d *Domain) PublicationCreated(repo string)                    { d.publications.WithLabelValues(repo).Inc() }
func (d *Domain) BundleCreated(repo, gate string)                   { d.bundles.WithLabelValues(repo, gate).Inc() }
func (d *Domain) PromotionRecorded(repo, fromGate, toGate string)   { d.promotions.WithLabelValues(repo, fromGate, toGate).Inc() }
func (d *Domain) ReleaseCreated(repo, channel string)               { d.releases.WithLabelValues(repo, channel).Inc() }
func (d *Domain) ObjectStored(repo, kind string)                    { d.objectsStore.WithLabelValues(repo, kind).Inc() }

func (d *Domain) GCRun(repo string, dryRun bool) {
	label := "false"
	if dryRun {
		label = "true"
	}
	d.gcRuns.WithLabelValues(repo, label).Inc()
}

func (d *Domain) ObjectsDeleted(repo, kind string, n int) {
	if n <= 0 {
		return
	}
	d.gcObjects.WithLabelValues(repo, kind).Add(float64(n))
}
