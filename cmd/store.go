package main

import (
	"context"
	"net/http"

	"github.com/rotisserie/eris"

	"github.com/bcdatalab/equitymap/internal/store"
	"github.com/bcdatalab/equitymap/pkg/geocode"
)

func initStore(ctx context.Context) (store.Store, error) {
	switch cfg.Store.Driver {
	case "sqlite":
		dsn := cfg.Store.DatabaseURL
		if dsn == "" {
			dsn = "equitymap.db"
		}
		return store.NewSQLite(dsn)
	case "postgres":
		return store.NewPostgres(ctx, cfg.Store.DatabaseURL, &store.PoolConfig{
			MaxConns: cfg.Store.Pool.MaxConns,
			MinConns: cfg.Store.Pool.MinConns,
		})
	default:
		return nil, eris.Errorf("unsupported store driver: %s", cfg.Store.Driver)
	}
}

func newProvider() *geocode.Nominatim {
	opts := []geocode.NominatimOption{
		geocode.WithUserAgent(cfg.Geocode.UserAgent),
		geocode.WithHTTPClient(&http.Client{Timeout: cfg.Geocode.Timeout}),
	}
	if cfg.Geocode.BaseURL != "" {
		opts = append(opts, geocode.WithBaseURL(cfg.Geocode.BaseURL))
	}
	if cfg.Geocode.Email != "" {
		opts = append(opts, geocode.WithEmail(cfg.Geocode.Email))
	}
	return geocode.NewNominatim(opts...)
}

func newResolver(st geocode.Store, onResult func(geocode.Resolution), refresh bool) *geocode.Resolver {
	opts := []geocode.Option{
		geocode.WithMinInterval(cfg.Geocode.MinInterval),
		geocode.WithRetryBackoff(cfg.Geocode.RetryBackoff),
		geocode.WithRefresh(refresh),
	}
	if onResult != nil {
		opts = append(opts, geocode.WithOnResult(onResult))
	}
	return geocode.NewResolver(st, newProvider(), opts...)
}
