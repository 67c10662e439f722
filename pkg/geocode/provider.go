package geocode

import "context"

// Result is a provider's answer for a single name.
type Result struct {
	Latitude    float64
	Longitude   float64
	DisplayName string
	Matched     bool
}

// Provider is a single geocoding backend. A clean "no such place" answer is
// Matched=false with a nil error; errors mean the service itself failed.
type Provider interface {
	Name() string
	Geocode(ctx context.Context, name string) (*Result, error)
}
