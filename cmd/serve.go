package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"os/signal"
	"strconv"
	"strings"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	gocache "github.com/patrickmn/go-cache"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
	"golang.org/x/sync/singleflight"

	"github.com/bcdatalab/equitymap/internal/boundary"
	"github.com/bcdatalab/equitymap/internal/dataset"
	"github.com/bcdatalab/equitymap/internal/mapview"
	"github.com/bcdatalab/equitymap/internal/metrics"
	"github.com/bcdatalab/equitymap/internal/model"
	"github.com/bcdatalab/equitymap/internal/store"
	"github.com/bcdatalab/equitymap/pkg/geocode"
)

var servePort int

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Start the employer map API server",
	RunE: func(cmd *cobra.Command, args []string) error {
		if err := cfg.Validate("serve"); err != nil {
			return err
		}

		ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
		defer stop()

		st, err := initStore(ctx)
		if err != nil {
			return err
		}
		defer st.Close() //nolint:errcheck

		var roster *dataset.Roster
		g, gctx := errgroup.WithContext(ctx)
		g.Go(func() error { return st.Migrate(gctx) })
		g.Go(func() error {
			r, err := dataset.Load(cfg.Dataset.Path)
			if err != nil {
				return err
			}
			roster = r
			return nil
		})
		if err := g.Wait(); err != nil {
			return err
		}

		var backing store.Store = st
		if cfg.Server.CacheTTL > 0 {
			backing = store.NewCached(st, cfg.Server.CacheTTL)
		}
		s := newServer(ctx, backing, roster, newResolver(backing, metrics.Observe, false), cfg.Server.CacheTTL)

		port := servePort
		if port == 0 {
			port = cfg.Server.Port
		}

		srv := &http.Server{
			Addr:              fmt.Sprintf(":%d", port),
			Handler:           s.routes(),
			ReadHeaderTimeout: 10 * time.Second,
		}

		// Graceful shutdown
		go func() {
			<-ctx.Done()
			zap.L().Info("shutting down server")
			shutCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
			defer cancel()
			_ = srv.Shutdown(shutCtx)
		}()

		zap.L().Info("starting server",
			zap.Int("port", port),
			zap.Int("employers", roster.Len()),
		)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			return eris.Wrap(err, "server listen")
		}

		return nil
	},
}

func init() {
	serveCmd.Flags().IntVar(&servePort, "port", 0, "server port (default from config)")
	rootCmd.AddCommand(serveCmd)
}

// server holds the request-handling state for the API.
type server struct {
	// base outlives individual requests; map resolutions run on it so a
	// disconnecting client cannot cancel work shared through the
	// singleflight group.
	base     context.Context
	st       store.Store
	roster   *dataset.Roster
	resolver *geocode.Resolver
	mapCache *gocache.Cache
	group    singleflight.Group
}

func newServer(base context.Context, st store.Store, roster *dataset.Roster, resolver *geocode.Resolver, cacheTTL time.Duration) *server {
	s := &server{
		base:     base,
		st:       st,
		roster:   roster,
		resolver: resolver,
	}
	if cacheTTL > 0 {
		s.mapCache = gocache.New(cacheTTL, 2*cacheTTL)
	}
	return s
}

func (s *server) routes() http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(requestLogger)
	r.Use(middleware.Recoverer)
	r.Use(metrics.Middleware)
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins: []string{"*"},
		AllowedMethods: []string{http.MethodGet, http.MethodOptions},
		AllowedHeaders: []string{"Accept", "Content-Type"},
	}))

	r.Get("/health", s.handleHealth)
	r.Handle("/metrics", promhttp.Handler())
	r.Route("/api", func(r chi.Router) {
		r.Get("/summary", s.handleSummary)
		r.Get("/options", s.handleOptions)
		r.Get("/employers", s.handleEmployers)
		r.Get("/map", s.handleMap)
		r.Get("/export", s.handleExport)
		r.Get("/districts", s.handleDistricts)
	})

	return r
}

func requestLogger(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		next.ServeHTTP(ww, r)
		zap.L().Info("http request",
			zap.String("method", r.Method),
			zap.String("path", r.URL.Path),
			zap.Int("status", ww.Status()),
			zap.Duration("duration", time.Since(start)),
			zap.String("request_id", middleware.GetReqID(r.Context())),
		)
	})
}

func (s *server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (s *server) handleSummary(w http.ResponseWriter, r *http.Request) {
	stats, err := s.st.Stats(r.Context())
	if err != nil {
		zap.L().Warn("serve: cache stats unavailable", zap.Error(err))
		stats = nil
	}

	writeJSON(w, http.StatusOK, struct {
		Dataset dataset.Summary   `json:"dataset"`
		Cache   *model.CacheStats `json:"cache,omitempty"`
	}{
		Dataset: dataset.Summarize(s.roster.All()),
		Cache:   stats,
	})
}

func (s *server) handleOptions(w http.ResponseWriter, r *http.Request) {
	constituency := r.URL.Query().Get("constituency")

	writeJSON(w, http.StatusOK, struct {
		Constituencies []string `json:"constituencies"`
		Municipalities []string `json:"municipalities"`
	}{
		Constituencies: s.roster.Constituencies(),
		Municipalities: s.roster.Municipalities(constituency),
	})
}

func (s *server) handleEmployers(w http.ResponseWriter, r *http.Request) {
	employers := s.roster.Filter(filterFromQuery(r))

	limit := queryInt(r, "limit", 100)
	offset := queryInt(r, "offset", 0)
	total := len(employers)

	if offset > total {
		offset = total
	}
	end := total
	if limit > 0 && offset+limit < total {
		end = offset + limit
	}

	writeJSON(w, http.StatusOK, struct {
		Total     int              `json:"total"`
		Offset    int              `json:"offset"`
		Limit     int              `json:"limit"`
		Employers []model.Employer `json:"employers"`
	}{
		Total:     total,
		Offset:    offset,
		Limit:     limit,
		Employers: employers[offset:end],
	})
}

func (s *server) handleMap(w http.ResponseWriter, r *http.Request) {
	f := filterFromQuery(r)
	key := f.Constituency + "|" + f.Municipality + "|" + f.Search

	if s.mapCache != nil {
		if hit, ok := s.mapCache.Get(key); ok {
			writeJSON(w, http.StatusOK, hit.(mapview.MapData))
			return
		}
	}

	v, err, _ := s.group.Do(key, func() (interface{}, error) {
		employers := s.roster.Filter(f)
		resolutions, err := s.resolver.ResolveBatch(s.base, dataset.Municipalities(employers))
		if err != nil {
			return nil, err
		}
		data := mapview.Build(employers, resolutions)
		if s.mapCache != nil {
			s.mapCache.SetDefault(key, data)
		}
		return data, nil
	})
	if err != nil {
		if errors.Is(err, store.ErrUnavailable) {
			writeError(w, http.StatusServiceUnavailable, "coordinate store unavailable")
			return
		}
		zap.L().Error("serve: map build failed", zap.Error(err))
		writeError(w, http.StatusInternalServerError, "map build failed")
		return
	}

	writeJSON(w, http.StatusOK, v.(mapview.MapData))
}

func (s *server) handleExport(w http.ResponseWriter, r *http.Request) {
	f := filterFromQuery(r)
	employers := s.roster.Filter(f)

	name := "bc_employers_all.csv"
	if f.Constituency != "" {
		name = "bc_employers_" + strings.ReplaceAll(strings.ToLower(f.Constituency), " ", "_") + ".csv"
	}

	w.Header().Set("Content-Type", "text/csv")
	w.Header().Set("Content-Disposition", fmt.Sprintf("attachment; filename=%q", name))
	if err := dataset.WriteCSV(w, employers); err != nil {
		zap.L().Error("serve: csv export failed", zap.Error(err))
	}
}

func (s *server) handleDistricts(w http.ResponseWriter, r *http.Request) {
	districts, err := s.st.ListDistricts(r.Context())
	if err != nil {
		writeError(w, http.StatusServiceUnavailable, "district store unavailable")
		return
	}

	doc, err := boundary.FeatureCollection(districts)
	if err != nil {
		zap.L().Error("serve: encode districts failed", zap.Error(err))
		writeError(w, http.StatusInternalServerError, "encode districts")
		return
	}

	w.Header().Set("Content-Type", "application/geo+json")
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write(doc)
}

func filterFromQuery(r *http.Request) dataset.Filter {
	q := r.URL.Query()
	return dataset.Filter{
		Constituency: q.Get("constituency"),
		Municipality: q.Get("municipality"),
		Search:       q.Get("q"),
	}
}

func queryInt(r *http.Request, name string, def int) int {
	raw := r.URL.Query().Get(name)
	if raw == "" {
		return def
	}
	n, err := strconv.Atoi(raw)
	if err != nil || n < 0 {
		return def
	}
	return n
}

func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}
