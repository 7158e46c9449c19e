package models

import "time"

// EntityType identifies which state graph a transition row belongs to
type EntityType string

const (
	EntityTypeJob    EntityType = "job"
	EntityTypeWorker EntityType = "worker"
)

// StateTransition is one append-only audit row. Rows are never updated or
// deleted and outlive the entity they describe.
type StateTransition struct {
	ID         string     `json:"id"`
	EntityType EntityType `json:"entity_type" badgerhold:"index"`
	EntityID   string     `json:"entity_id" badgerhold:"index"`
	FromState  string     `json:"from_state"`
	ToState    string     `json:"to_state"`
	Reason     *string    `json:"reason,omitempty"`
	At         time.Time  `json:"at"`
	// Sequence orders rows for one entity; wall clocks alone are not
	// monotonic at this resolution.
	Sequence uint64 `json:"sequence"`
}
