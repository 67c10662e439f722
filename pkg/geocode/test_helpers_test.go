package geocode

import (
	"context"
	"sync"

	"golang.org/x/time/rate"

	"github.com/bcdatalab/equitymap/internal/model"
)

// newTestLimiter creates a rate limiter that effectively does not limit for tests.
func newTestLimiter() *rate.Limiter {
	return rate.NewLimiter(rate.Inf, 1)
}

// memStore is an in-memory Store for resolver tests.
type memStore struct {
	mu      sync.Mutex
	recs    map[string]*model.CoordinateRecord
	listErr error
	getErr  error
	putErr  error
	puts    int
}

func newMemStore() *memStore {
	return &memStore{recs: make(map[string]*model.CoordinateRecord)}
}

func (s *memStore) Get(_ context.Context, key string) (*model.CoordinateRecord, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.getErr != nil {
		return nil, s.getErr
	}
	return s.recs[key], nil
}

func (s *memStore) Put(_ context.Context, rec model.CoordinateRecord) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.putErr != nil {
		return s.putErr
	}
	s.puts++
	s.recs[rec.Key] = &rec
	return nil
}

func (s *memStore) ListKeys(_ context.Context) (map[string]bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.listErr != nil {
		return nil, s.listErr
	}
	keys := make(map[string]bool, len(s.recs))
	for k := range s.recs {
		keys[k] = true
	}
	return keys, nil
}

// scriptedProvider counts calls per name and answers via fn, defaulting to a
// fixed match.
type scriptedProvider struct {
	mu    sync.Mutex
	calls map[string]int
	fn    func(ctx context.Context, name string) (*Result, error)
}

func (p *scriptedProvider) Name() string { return "scripted" }

func (p *scriptedProvider) Geocode(ctx context.Context, name string) (*Result, error) {
	p.mu.Lock()
	if p.calls == nil {
		p.calls = make(map[string]int)
	}
	p.calls[name]++
	p.mu.Unlock()

	if p.fn != nil {
		return p.fn(ctx, name)
	}
	return &Result{Latitude: 49.2827, Longitude: -123.1207, DisplayName: name + ", BC", Matched: true}, nil
}

func (p *scriptedProvider) total() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	n := 0
	for _, c := range p.calls {
		n += c
	}
	return n
}

func (p *scriptedProvider) count(name string) int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.calls[name]
}
