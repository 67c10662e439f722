package model

import "time"

// ResolveRun is the audit record for one batch-resolution pass.
type ResolveRun struct {
	ID        string        `json:"id"`
	StartedAt time.Time     `json:"started_at"`
	Duration  time.Duration `json:"duration"`
	Total     int           `json:"total"`
	Cached    int           `json:"cached"`
	Resolved  int           `json:"resolved"`
	Failed    int           `json:"failed"`
}
