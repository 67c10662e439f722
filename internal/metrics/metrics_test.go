package metrics

import (
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/bcdatalab/equitymap/internal/model"
	"github.com/bcdatalab/equitymap/pkg/geocode"
)

func TestObserve_CacheHit(t *testing.T) {
	before := testutil.ToFloat64(CacheHits)

	Observe(geocode.Resolution{
		Name:      "Victoria",
		Record:    &model.CoordinateRecord{Key: "victoria"},
		FromCache: true,
	})

	assert.Equal(t, before+1, testutil.ToFloat64(CacheHits))
}

func TestObserve_FreshResolution(t *testing.T) {
	misses := testutil.ToFloat64(CacheMisses)
	resolved := testutil.ToFloat64(Resolutions)

	Observe(geocode.Resolution{
		Name:   "Nanaimo",
		Record: &model.CoordinateRecord{Key: "nanaimo"},
	})

	assert.Equal(t, misses+1, testutil.ToFloat64(CacheMisses))
	assert.Equal(t, resolved+1, testutil.ToFloat64(Resolutions))
}

func TestObserve_FailureByKind(t *testing.T) {
	counter := Failures.WithLabelValues("not_found")
	before := testutil.ToFloat64(counter)

	Observe(geocode.Resolution{
		Name:    "Nowhereville",
		Failure: &geocode.Failure{Kind: geocode.FailureNotFound},
	})

	assert.Equal(t, before+1, testutil.ToFloat64(counter))
}

func TestObserve_InvalidInputIsNotACacheMiss(t *testing.T) {
	misses := testutil.ToFloat64(CacheMisses)
	counter := Failures.WithLabelValues("invalid_input")
	before := testutil.ToFloat64(counter)

	Observe(geocode.Resolution{
		Name:    "",
		Failure: &geocode.Failure{Kind: geocode.FailureInvalidInput},
	})

	assert.Equal(t, misses, testutil.ToFloat64(CacheMisses))
	assert.Equal(t, before+1, testutil.ToFloat64(counter))
}

func TestMiddleware_CountsByRoutePattern(t *testing.T) {
	r := chi.NewRouter()
	r.Use(Middleware)
	r.Get("/api/employers", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
	})

	counter := HTTPRequests.WithLabelValues("/api/employers", "200")
	before := testutil.ToFloat64(counter)

	req := httptest.NewRequest(http.MethodGet, "/api/employers", nil)
	rec := httptest.NewRecorder()
	r.ServeHTTP(rec, req)

	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, before+1, testutil.ToFloat64(counter))
}
