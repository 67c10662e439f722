// Package geocode resolves municipality names to coordinates through an
// external geocoding service, backed by a durable coordinate store so every
// name is asked of the service at most once.
package geocode

import (
	"context"
	"strings"
	"sync"
	"time"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"github.com/bcdatalab/equitymap/internal/model"
	"github.com/bcdatalab/equitymap/internal/resilience"
)

// Store is the slice of the coordinate store the resolver needs. Get returns
// nil,nil for absent keys; storage failures are errors.
type Store interface {
	Get(ctx context.Context, key string) (*model.CoordinateRecord, error)
	Put(ctx context.Context, rec model.CoordinateRecord) error
	ListKeys(ctx context.Context) (map[string]bool, error)
}

// FailureKind classifies why a single name did not resolve.
type FailureKind string

const (
	// FailureNotFound means the service answered cleanly that no such place
	// exists. Never cached, so a later batch asks again.
	FailureNotFound FailureKind = "not_found"

	// FailureProviderUnavailable means the service kept failing after the
	// retry. The name stays uncached and can be retried in a later batch.
	FailureProviderUnavailable FailureKind = "provider_unavailable"

	// FailureInvalidInput means the name normalized to an empty key.
	FailureInvalidInput FailureKind = "invalid_input"
)

// Failure describes one name's resolution failure.
type Failure struct {
	Kind FailureKind
	Err  error
}

// Resolution is the outcome for one input name. Exactly one of Record and
// Failure is set; duplicates of the same normalized key share both.
type Resolution struct {
	Name      string
	Key       string
	Record    *model.CoordinateRecord
	Failure   *Failure
	FromCache bool
}

const (
	defaultMinInterval  = time.Second
	defaultRetryBackoff = 2 * time.Second
)

// Resolver turns municipality names into coordinate records: cached keys are
// served from the store, the rest go to the provider one call at a time under
// a shared rate limiter, and fresh answers are written back.
type Resolver struct {
	store    Store
	provider Provider

	mu       sync.Mutex
	limiter  *rate.Limiter
	backoff  time.Duration
	refresh  bool
	now      func() time.Time
	onResult func(Resolution)

	// memory holds records whose store write failed; they stay usable for
	// the life of the process so the provider is not asked again.
	memory map[string]*model.CoordinateRecord
}

// Option configures a Resolver.
type Option func(*Resolver)

// WithMinInterval sets the minimum spacing between external service calls.
// The default 1s matches the public Nominatim usage policy.
func WithMinInterval(d time.Duration) Option {
	return func(r *Resolver) {
		if d > 0 {
			r.limiter = rate.NewLimiter(rate.Every(d), 1)
		}
	}
}

// WithRetryBackoff sets the delay before the single retry of a transient
// provider failure.
func WithRetryBackoff(d time.Duration) Option {
	return func(r *Resolver) {
		if d > 0 {
			r.backoff = d
		}
	}
}

// WithLimiter replaces the rate limiter wholesale.
func WithLimiter(l *rate.Limiter) Option {
	return func(r *Resolver) {
		if l != nil {
			r.limiter = l
		}
	}
}

// WithRefresh forces re-resolution of names that are already cached.
func WithRefresh(refresh bool) Option {
	return func(r *Resolver) {
		r.refresh = refresh
	}
}

// WithNow injects the clock used for ResolvedAt stamps.
func WithNow(now func() time.Time) Option {
	return func(r *Resolver) {
		if now != nil {
			r.now = now
		}
	}
}

// WithOnResult registers a callback invoked as each distinct name settles, in
// processing order. Progress bars and metrics hang off this.
func WithOnResult(fn func(Resolution)) Option {
	return func(r *Resolver) {
		r.onResult = fn
	}
}

// NewResolver creates a Resolver over the given store and provider.
func NewResolver(store Store, provider Provider, opts ...Option) *Resolver {
	r := &Resolver{
		store:    store,
		provider: provider,
		limiter:  rate.NewLimiter(rate.Every(defaultMinInterval), 1),
		backoff:  defaultRetryBackoff,
		now:      time.Now,
		memory:   make(map[string]*model.CoordinateRecord),
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// outcome is the shared result for one normalized key.
type outcome struct {
	rec       *model.CoordinateRecord
	failure   *Failure
	fromCache bool
	settled   bool
}

// ResolveBatch resolves the given names in order. One Resolution per input
// name; duplicates after normalization resolve once and share the result.
// Per-name failures never abort the batch: the only batch-level errors are a
// storage outage at the start (the error wraps store.ErrUnavailable) and
// context cancellation, which returns the resolutions settled so far together
// with the context error.
func (r *Resolver) ResolveBatch(ctx context.Context, names []string) ([]Resolution, error) {
	if len(names) == 0 {
		return nil, nil
	}

	// One batch at a time, so the limiter's provider quota holds
	// process-wide.
	r.mu.Lock()
	defer r.mu.Unlock()

	if err := ctx.Err(); err != nil {
		return nil, err
	}

	keys := make([]string, len(names))
	for i, raw := range names {
		keys[i] = NormalizeKey(raw)
	}

	// One unit of work per distinct key, in first-appearance order. The
	// provider sees the name as written (whitespace tidied); the store sees
	// the key.
	type work struct{ key, name string }
	queue := make([]work, 0, len(names))
	outcomes := make(map[string]*outcome, len(names))
	for i, raw := range names {
		if _, ok := outcomes[keys[i]]; ok {
			continue
		}
		outcomes[keys[i]] = &outcome{}
		queue = append(queue, work{key: keys[i], name: strings.Join(strings.Fields(raw), " ")})
	}

	assemble := func() []Resolution {
		out := make([]Resolution, 0, len(names))
		for i, raw := range names {
			o := outcomes[keys[i]]
			if !o.settled {
				continue
			}
			out = append(out, Resolution{
				Name:      raw,
				Key:       keys[i],
				Record:    o.rec,
				Failure:   o.failure,
				FromCache: o.fromCache,
			})
		}
		return out
	}

	// The key set read doubles as the batch-start storage gate.
	cached, err := r.store.ListKeys(ctx)
	if err != nil {
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		return nil, eris.Wrap(err, "geocode: read cached key set")
	}

	for _, w := range queue {
		if err := ctx.Err(); err != nil {
			return assemble(), err
		}

		o := outcomes[w.key]
		switch {
		case w.key == "":
			o.failure = &Failure{Kind: FailureInvalidInput, Err: eris.New("geocode: empty name")}
		case !r.refresh && r.serveCached(ctx, w.key, o, cached):
			// Filled from the store or the process-local overlay.
		default:
			if err := r.resolveFresh(ctx, w.name, w.key, o); err != nil {
				return assemble(), err
			}
		}

		o.settled = true
		r.notify(w.name, w.key, o)
	}

	return assemble(), nil
}

// serveCached fills o from the store or the in-memory overlay. A store read
// failure falls through to a fresh resolution instead of failing the name.
func (r *Resolver) serveCached(ctx context.Context, key string, o *outcome, cached map[string]bool) bool {
	if cached[key] {
		rec, err := r.store.Get(ctx, key)
		switch {
		case err != nil:
			zap.L().Warn("geocode: cached read failed, resolving fresh",
				zap.String("key", key),
				zap.Error(err),
			)
		case rec != nil:
			o.rec = rec
			o.fromCache = true
			return true
		}
	}
	if rec, ok := r.memory[key]; ok {
		o.rec = rec
		o.fromCache = true
		return true
	}
	return false
}

// resolveFresh asks the provider for one name, retrying a transient failure
// once, and writes the answer through to the store. The returned error is
// non-nil only for context cancellation; provider failures settle into o.
func (r *Resolver) resolveFresh(ctx context.Context, name, key string, o *outcome) error {
	retryCfg := resilience.RetryConfig{
		MaxAttempts:    2,
		InitialBackoff: r.backoff,
		OnRetry:        resilience.RetryLogger(r.provider.Name(), "geocode"),
	}

	res, err := resilience.DoVal(ctx, retryCfg, func(ctx context.Context) (*Result, error) {
		// Every attempt takes a rate slot; cached hits never get here.
		if err := r.limiter.Wait(ctx); err != nil {
			return nil, err
		}
		return r.provider.Geocode(ctx, name)
	})

	switch {
	case err != nil:
		if ctx.Err() != nil {
			return ctx.Err()
		}
		o.failure = &Failure{Kind: FailureProviderUnavailable, Err: err}
		zap.L().Warn("geocode: provider failed",
			zap.String("name", name),
			zap.String("provider", r.provider.Name()),
			zap.Error(err),
		)
	case !res.Matched:
		o.failure = &Failure{Kind: FailureNotFound, Err: eris.Errorf("geocode: no match for %q", name)}
	default:
		rec := &model.CoordinateRecord{
			Key:        key,
			Latitude:   res.Latitude,
			Longitude:  res.Longitude,
			ResolvedAt: r.now().UTC(),
			Source:     model.SourceExternalService,
		}
		if putErr := r.store.Put(ctx, *rec); putErr != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			r.memory[key] = rec
			zap.L().Warn("geocode: write-back failed, keeping record in memory",
				zap.String("key", key),
				zap.Error(putErr),
			)
		}
		o.rec = rec
	}
	return nil
}

func (r *Resolver) notify(name, key string, o *outcome) {
	if r.onResult == nil {
		return
	}
	r.onResult(Resolution{
		Name:      name,
		Key:       key,
		Record:    o.rec,
		Failure:   o.failure,
		FromCache: o.fromCache,
	})
}
