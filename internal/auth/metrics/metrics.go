// Package metrics exposes the auth service's Prometheus metrics: validation
// cache and CSRF state gauges, identity provider call outcomes and HTTP
// request counters. Everything is registered on a private registry owned by
// the Metrics value.
package metrics

import (
	"net/http"
	"regexp"
	"strconv"
	"strings"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/aussiebroadwan/watchlist/internal/auth/cache"
)

const namespace = "watchlist_auth"

// CacheSource is the validation cache as seen by the collector.
type CacheSource interface {
	Stats() cache.Stats
}

// StateSource is the CSRF state store as seen by the collector.
type StateSource interface {
	Len() int
	MaxSize() int
}

type Config struct {
	Cache  CacheSource
	States StateSource
	// GoCollectors adds the runtime and process collectors.
	GoCollectors bool
}

type Metrics struct {
	registry *prometheus.Registry

	upstreamCalls    *prometheus.CounterVec
	upstreamDuration *prometheus.HistogramVec
	httpRequests     *prometheus.CounterVec
	httpDuration     *prometheus.HistogramVec
}

func New(cfg Config) (*Metrics, error) {
	m := &Metrics{
		registry: prometheus.NewRegistry(),
		upstreamCalls: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "upstream_calls_total",
			Help:      "Identity provider calls by operation and outcome.",
		}, []string{"op", "outcome"}),
		upstreamDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "upstream_call_duration_seconds",
			Help:      "Identity provider call latency.",
			Buckets:   []float64{0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5},
		}, []string{"op"}),
		httpRequests: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "http_requests_total",
			Help:      "HTTP requests by method, path and status.",
		}, []string{"method", "path", "status"}),
		httpDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "http_request_duration_seconds",
			Help:      "HTTP request latency.",
			Buckets:   prometheus.DefBuckets,
		}, []string{"method", "path"}),
	}

	toRegister := []prometheus.Collector{m.upstreamCalls, m.upstreamDuration, m.httpRequests, m.httpDuration}
	if cfg.Cache != nil || cfg.States != nil {
		toRegister = append(toRegister, newStoreCollector(cfg.Cache, cfg.States))
	}
	if cfg.GoCollectors {
		toRegister = append(toRegister,
			collectors.NewGoCollector(),
			collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
		)
	}

	for _, c := range toRegister {
		if err := m.registry.Register(c); err != nil {
			return nil, err
		}
	}
	return m, nil
}

// Registry exposes the underlying registry, mostly for tests.
func (m *Metrics) Registry() *prometheus.Registry { return m.registry }

// Handler serves /metrics.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{Registry: m.registry})
}

// ObserveUpstream records one identity provider attempt.
func (m *Metrics) ObserveUpstream(op, outcome string, took time.Duration) {
	m.upstreamCalls.WithLabelValues(op, outcome).Inc()
	m.upstreamDuration.WithLabelValues(op).Observe(took.Seconds())
}

// Middleware counts and times every request. Paths are normalised so user
// subjects and tokens do not explode label cardinality.
func (m *Metrics) Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		method := strings.ToUpper(r.Method)
		path := normalizePath(r.URL.Path)
		start := time.Now()

		rec := &statusRecorder{ResponseWriter: w}
		defer func() {
			status := rec.status
			if status == 0 {
				status = http.StatusOK
			}
			m.httpRequests.WithLabelValues(method, path, strconv.Itoa(status)).Inc()
			m.httpDuration.WithLabelValues(method, path).Observe(time.Since(start).Seconds())
		}()

		next.ServeHTTP(rec, r)
	})
}

type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (r *statusRecorder) WriteHeader(code int) {
	if r.status == 0 {
		r.status = code
	}
	r.ResponseWriter.WriteHeader(code)
}

func (r *statusRecorder) Write(b []byte) (int, error) {
	if r.status == 0 {
		r.status = http.StatusOK
	}
	return r.ResponseWriter.Write(b)
}

// storeCollector turns the cache and state store counters into metrics at
// scrape time, so the hot path never touches Prometheus.
type storeCollector struct {
	cache  CacheSource
	states StateSource

	cacheEntries     *prometheus.Desc
	cacheCapacity    *prometheus.Desc
	cacheHits        *prometheus.Desc
	cacheMisses      *prometheus.Desc
	cacheEvictions   *prometheus.Desc
	cacheValidations *prometheus.Desc
	statesPending    *prometheus.Desc
	statesCapacity   *prometheus.Desc
}

func newStoreCollector(c CacheSource, s StateSource) *storeCollector {
	desc := func(name, help string) *prometheus.Desc {
		return prometheus.NewDesc(prometheus.BuildFQName(namespace, "", name), help, nil, nil)
	}
	return &storeCollector{
		cache:            c,
		states:           s,
		cacheEntries:     desc("cache_entries", "Cached token validations, including expired ones not yet swept."),
		cacheCapacity:    desc("cache_max_entries", "Validation cache capacity."),
		cacheHits:        desc("cache_hits_total", "Validation cache hits."),
		cacheMisses:      desc("cache_misses_total", "Validation cache misses."),
		cacheEvictions:   desc("cache_evictions_total", "Entries evicted to make room."),
		cacheValidations: desc("cache_validations_total", "Upstream validations started by the cache."),
		statesPending:    desc("csrf_states", "Pending CSRF states."),
		statesCapacity:   desc("csrf_states_max", "CSRF state store capacity."),
	}
}

func (c *storeCollector) Describe(ch chan<- *prometheus.Desc) {
	ch <- c.cacheEntries
	ch <- c.cacheCapacity
	ch <- c.cacheHits
	ch <- c.cacheMisses
	ch <- c.cacheEvictions
	ch <- c.cacheValidations
	ch <- c.statesPending
	ch <- c.statesCapacity
}

func (c *storeCollector) Collect(ch chan<- prometheus.Metric) {
	if c.cache != nil {
		s := c.cache.Stats()
		ch <- prometheus.MustNewConstMetric(c.cacheEntries, prometheus.GaugeValue, float64(s.Size))
		ch <- prometheus.MustNewConstMetric(c.cacheCapacity, prometheus.GaugeValue, float64(s.MaxSize))
		ch <- prometheus.MustNewConstMetric(c.cacheHits, prometheus.CounterValue, float64(s.Hits))
		ch <- prometheus.MustNewConstMetric(c.cacheMisses, prometheus.CounterValue, float64(s.Misses))
		ch <- prometheus.MustNewConstMetric(c.cacheEvictions, prometheus.CounterValue, float64(s.Evictions))
		ch <- prometheus.MustNewConstMetric(c.cacheValidations, prometheus.CounterValue, float64(s.Validations))
	}
	if c.states != nil {
		ch <- prometheus.MustNewConstMetric(c.statesPending, prometheus.GaugeValue, float64(c.states.Len()))
		ch <- prometheus.MustNewConstMetric(c.statesCapacity, prometheus.GaugeValue, float64(c.states.MaxSize()))
	}
}

var (
	ulidSegmentRE  = regexp.MustCompile(`^[0-9A-HJKMNP-TV-Z]{26}$`)
	tokenSegmentRE = regexp.MustCompile(`^[A-Za-z0-9_.@|:-]{24,}$`)
)

// normalizePath collapses dynamic segments (subjects, IDs, numbers) to :param.
func normalizePath(p string) string {
	segments := strings.Split(p, "/")
	out := make([]string, 0, len(segments))
	for i, seg := range segments {
		if seg == "" {
			continue
		}
		// /v1/users/{subject}/admin: the segment after "users" is always a subject.
		if i > 0 && segments[i-1] == "users" {
			out = append(out, ":param")
			continue
		}
		if isDynamicSegment(seg) {
			out = append(out, ":param")
		} else {
			out = append(out, seg)
		}
	}
	if len(out) == 0 {
		return "/"
	}
	return "/" + strings.Join(out, "/")
}

func isDynamicSegment(seg string) bool {
	if len(seg) > 48 || ulidSegmentRE.MatchString(seg) || tokenSegmentRE.MatchString(seg) {
		return true
	}
	_, err := strconv.Atoi(seg)
	return err == nil
}
