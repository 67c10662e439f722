package metrics

import (
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	"github.com/bcdatalab/equitymap/pkg/geocode"
)

var (
	// CacheHits counts coordinate lookups served from the cache.
	CacheHits = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: "equitymap",
		Subsystem: "geocode",
		Name:      "cache_hits_total",
		Help:      "Coordinate lookups served from the cache.",
	})

	// CacheMisses counts coordinate lookups that had to go to the provider.
	CacheMisses = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: "equitymap",
		Subsystem: "geocode",
		Name:      "cache_misses_total",
		Help:      "Coordinate lookups that required an external call.",
	})

	// Resolutions counts successful fresh resolutions.
	Resolutions = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: "equitymap",
		Subsystem: "geocode",
		Name:      "resolutions_total",
		Help:      "Names successfully resolved through the provider.",
	})

	// Failures counts failed resolutions by kind.
	Failures = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "equitymap",
		Subsystem: "geocode",
		Name:      "failures_total",
		Help:      "Failed resolutions by failure kind.",
	}, []string{"kind"})

	// HTTPRequests counts API requests by route pattern and status code.
	HTTPRequests = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "equitymap",
		Subsystem: "http",
		Name:      "requests_total",
		Help:      "HTTP requests by chi route pattern and status code.",
	}, []string{"route", "status"})
)

// Observe records one resolver outcome. Wire it through the resolver's
// OnResult hook.
func Observe(res geocode.Resolution) {
	if res.FromCache {
		CacheHits.Inc()
		return
	}
	switch {
	case res.Record != nil:
		CacheMisses.Inc()
		Resolutions.Inc()
	case res.Failure != nil:
		if res.Failure.Kind != geocode.FailureInvalidInput {
			CacheMisses.Inc()
		}
		Failures.WithLabelValues(string(res.Failure.Kind)).Inc()
	}
}

// Middleware counts requests against the matched chi route pattern.
func Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		next.ServeHTTP(ww, r)

		route := "unmatched"
		if rctx := chi.RouteContext(r.Context()); rctx != nil && rctx.RoutePattern() != "" {
			route = rctx.RoutePattern()
		}
		HTTPRequests.WithLabelValues(route, strconv.Itoa(ww.Status())).Inc()
	})
}
