// Package telemetry exposes the engine and artifact layer's counters as
// Prometheus metrics, scraped on demand rather than pushed, matching the
// teacher's promhttp.Handler() wiring.
package telemetry

import (
	"github.com/prometheus/client_golang/prometheus"

	"github.com/pomaicache/sidecar/internal/artifact"
	"github.com/pomaicache/sidecar/internal/cache"
)

// Collector implements prometheus.Collector, reading the engine's and
// artifact cache's counters at scrape time instead of duplicating them
// into separate atomic counters that could drift.
type Collector struct {
	engine   *cache.Engine
	artifact *artifact.Cache

	keys               *prometheus.Desc
	memoryUsed         *prometheus.Desc
	memoryLimit        *prometheus.Desc
	memoryOverhead     *prometheus.Desc
	expirationBacklog  *prometheus.Desc
	hits               *prometheus.Desc
	misses             *prometheus.Desc
	evictions          *prometheus.Desc
	expirations        *prometheus.Desc
	admissionsRejected *prometheus.Desc
	canaryPct          *prometheus.Desc

	artifactPuts      *prometheus.Desc
	artifactGets      *prometheus.Desc
	artifactHits      *prometheus.Desc
	artifactMisses    *prometheus.Desc
	artifactDedupHits *prometheus.Desc
	artifactBlobs     *prometheus.Desc
}

func NewCollector(engine *cache.Engine, artifactCache *artifact.Cache) *Collector {
	ns := "pomai"
	return &Collector{
		engine:   engine,
		artifact: artifactCache,

		keys:               prometheus.NewDesc(ns+"_keys", "Number of live keys in the RAM entry table.", nil, nil),
		memoryUsed:         prometheus.NewDesc(ns+"_memory_used_bytes", "RAM bytes currently attributed to cached values.", nil, nil),
		memoryLimit:        prometheus.NewDesc(ns+"_memory_limit_bytes", "Configured RAM budget.", nil, nil),
		memoryOverhead:     prometheus.NewDesc(ns+"_memory_overhead_ratio", "Bucketed per-entry bookkeeping overhead as a fraction of payload bytes.", nil, nil),
		expirationBacklog:  prometheus.NewDesc(ns+"_expiration_backlog", "TTL heap entries past their deadline but not yet lazily reaped.", nil, nil),
		hits:               prometheus.NewDesc(ns+"_hits_total", "Cache hits.", nil, nil),
		misses:             prometheus.NewDesc(ns+"_misses_total", "Cache misses.", nil, nil),
		evictions:          prometheus.NewDesc(ns+"_evictions_total", "Entries evicted under memory pressure.", nil, nil),
		expirations:        prometheus.NewDesc(ns+"_expirations_total", "Entries reaped for TTL expiry.", nil, nil),
		admissionsRejected: prometheus.NewDesc(ns+"_admissions_rejected_total", "Set calls rejected by the admission policy.", nil, nil),
		canaryPct:          prometheus.NewDesc(ns+"_canary_pct", "Current percentage of traffic routed to the canary cohort.", nil, nil),

		artifactPuts:      prometheus.NewDesc(ns+"_artifact_puts_total", "AI.PUT/AI.EMB.PUT calls.", nil, nil),
		artifactGets:      prometheus.NewDesc(ns+"_artifact_gets_total", "AI.GET/AI.MGET lookups.", nil, nil),
		artifactHits:      prometheus.NewDesc(ns+"_artifact_hits_total", "Artifact-layer hits.", nil, nil),
		artifactMisses:    prometheus.NewDesc(ns+"_artifact_misses_total", "Artifact-layer misses.", nil, nil),
		artifactDedupHits: prometheus.NewDesc(ns+"_artifact_dedup_hits_total", "Puts that matched an existing content hash.", nil, nil),
		artifactBlobs:     prometheus.NewDesc(ns+"_artifact_blobs", "Distinct content-addressed blobs currently retained.", nil, nil),
	}
}

func (c *Collector) Describe(ch chan<- *prometheus.Desc) {
	for _, d := range []*prometheus.Desc{
		c.keys, c.memoryUsed, c.memoryLimit, c.memoryOverhead, c.expirationBacklog,
		c.hits, c.misses, c.evictions, c.expirations, c.admissionsRejected, c.canaryPct,
		c.artifactPuts, c.artifactGets, c.artifactHits, c.artifactMisses, c.artifactDedupHits, c.artifactBlobs,
	} {
		ch <- d
	}
}

func (c *Collector) Collect(ch chan<- prometheus.Metric) {
	stats := c.engine.Stats()
	emit := func(d *prometheus.Desc, v float64) {
		ch <- prometheus.MustNewConstMetric(d, prometheus.CounterValue, v)
	}
	gauge := func(d *prometheus.Desc, v float64) {
		ch <- prometheus.MustNewConstMetric(d, prometheus.GaugeValue, v)
	}

	gauge(c.keys, float64(c.engine.Size()))
	gauge(c.memoryUsed, float64(c.engine.MemoryUsed()))
	gauge(c.memoryLimit, float64(c.engine.MemoryLimitBytes()))
	gauge(c.memoryOverhead, c.engine.MemoryOverheadRatio())
	gauge(c.expirationBacklog, float64(c.engine.ExpirationBacklog()))
	gauge(c.canaryPct, float64(c.engine.CanaryPct()))

	emit(c.hits, float64(stats.Hits))
	emit(c.misses, float64(stats.Misses))
	emit(c.evictions, float64(stats.Evictions))
	emit(c.expirations, float64(stats.Expirations))
	emit(c.admissionsRejected, float64(stats.AdmissionsRejected))

	as := c.artifact.Stats()
	emit(c.artifactPuts, float64(as.Puts))
	emit(c.artifactGets, float64(as.Gets))
	emit(c.artifactHits, float64(as.Hits))
	emit(c.artifactMisses, float64(as.Misses))
	emit(c.artifactDedupHits, float64(as.DedupHits))
	gauge(c.artifactBlobs, float64(as.DedupBlobs))
}
