package store

import (
	"context"
	"errors"
	"fmt"

	"github.com/bcdatalab/equitymap/internal/model"
)

// ErrUnavailable marks storage-layer failures on the coordinate cache.
// Callers distinguish it from "record absent" (nil, nil) and fall back to
// uncached operation instead of failing a whole lookup batch.
var ErrUnavailable = errors.New("coordinate store unavailable")

// ErrEmptyKey is returned when a caller tries to store a record without a
// normalized key.
var ErrEmptyKey = errors.New("coordinate key is empty")

// markUnavailable tags a driver error as a storage outage so errors.Is can
// find ErrUnavailable through the wrap chain.
func markUnavailable(err error) error {
	return fmt.Errorf("%w: %w", ErrUnavailable, err)
}

// Store is the persistence interface for the coordinate cache and its
// supporting tables. Get returns nil, nil when the key is absent; any error
// from the coordinate-cache methods wraps ErrUnavailable.
type Store interface {
	// Coordinate cache
	Get(ctx context.Context, key string) (*model.CoordinateRecord, error)
	Put(ctx context.Context, rec model.CoordinateRecord) error
	PutBatch(ctx context.Context, recs []model.CoordinateRecord) error
	ListKeys(ctx context.Context) (map[string]bool, error)
	Stats(ctx context.Context) (*model.CacheStats, error)

	// Resolve-run audit
	LogResolveRun(ctx context.Context, run model.ResolveRun) error
	ListResolveRuns(ctx context.Context, limit int) ([]model.ResolveRun, error)

	// District boundaries
	PutDistrict(ctx context.Context, d model.District) error
	ListDistricts(ctx context.Context) ([]model.District, error)

	// Lifecycle
	Migrate(ctx context.Context) error
	Close() error
}
