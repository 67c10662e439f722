package model

import "time"

// District is one electoral-district boundary, stored as a GeoJSON feature
// string so both store drivers can hold it.
type District struct {
	Name     string    `json:"name"`
	Feature  string    `json:"feature"`
	LoadedAt time.Time `json:"loaded_at"`
}
