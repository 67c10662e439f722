package store

import (
	"context"
	"time"

	gocache "github.com/patrickmn/go-cache"

	"github.com/bcdatalab/equitymap/internal/model"
)

// Cached decorates a Store with a short-TTL in-memory layer over Get for the
// server's hot lookup path. Writes go through to the backing store and update
// the memory layer; absence is never cached, so a name that resolves later is
// visible on the next read.
type Cached struct {
	Store
	mem *gocache.Cache
}

// NewCached wraps inner with an in-memory read cache.
func NewCached(inner Store, ttl time.Duration) *Cached {
	if ttl <= 0 {
		ttl = 5 * time.Minute
	}
	return &Cached{
		Store: inner,
		mem:   gocache.New(ttl, 2*ttl),
	}
}

func (c *Cached) Get(ctx context.Context, key string) (*model.CoordinateRecord, error) {
	if hit, ok := c.mem.Get(key); ok {
		rec := hit.(model.CoordinateRecord)
		return &rec, nil
	}
	rec, err := c.Store.Get(ctx, key)
	if err != nil || rec == nil {
		return rec, err
	}
	c.mem.Set(key, *rec, gocache.DefaultExpiration)
	return rec, nil
}

func (c *Cached) Put(ctx context.Context, rec model.CoordinateRecord) error {
	if err := c.Store.Put(ctx, rec); err != nil {
		return err
	}
	c.mem.Set(rec.Key, rec, gocache.DefaultExpiration)
	return nil
}

func (c *Cached) PutBatch(ctx context.Context, recs []model.CoordinateRecord) error {
	if err := c.Store.PutBatch(ctx, recs); err != nil {
		return err
	}
	for _, rec := range recs {
		c.mem.Set(rec.Key, rec, gocache.DefaultExpiration)
	}
	return nil
}
