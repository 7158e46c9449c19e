package models

import "time"

// IdempotencyRecord stores the outcome of the first request seen for a key.
// Status 0 means the first request is still in flight; replays arriving
// before completion are rejected rather than blocked.
type IdempotencyRecord struct {
	Key         string    `json:"key"`
	Fingerprint string    `json:"fingerprint"`
	Status      int       `json:"status"`
	ContentType string    `json:"content_type"`
	Body        []byte    `json:"body"`
	FirstSeenAt time.Time `json:"first_seen_at"`
	CompletedAt time.Time `json:"completed_at"`
}

// Completed returns true once a response snapshot has been stored
func (r *IdempotencyRecord) Completed() bool {
	return r.Status != 0
}
