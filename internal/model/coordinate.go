package model

import "time"

// CoordinateSource records how a cached coordinate was obtained.
type CoordinateSource string

const (
	// SourceExternalService marks records resolved through the geocoding
	// provider.
	SourceExternalService CoordinateSource = "external_service"
	// SourceManualOverride marks records loaded from an operator-supplied
	// overrides file.
	SourceManualOverride CoordinateSource = "manual_override"
)

// CoordinateRecord is one cached geocoding result, keyed by the normalized
// municipality name. Records are written only for successful resolutions or
// manual overrides; lookup misses are never stored.
type CoordinateRecord struct {
	Key        string           `json:"key"`
	Latitude   float64          `json:"latitude"`
	Longitude  float64          `json:"longitude"`
	ResolvedAt time.Time        `json:"resolved_at"`
	Source     CoordinateSource `json:"source"`
}

// CacheStats summarizes the coordinate cache for status displays.
type CacheStats struct {
	Total            int                      `json:"total"`
	BySource         map[CoordinateSource]int `json:"by_source"`
	OldestResolvedAt *time.Time               `json:"oldest_resolved_at,omitempty"`
	NewestResolvedAt *time.Time               `json:"newest_resolved_at,omitempty"`
	ResolveRuns      int                      `json:"resolve_runs"`
}
