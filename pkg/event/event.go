// Package event defines the validated drop record handed off by the event store.
package event

import "time"

// Event is an immutable, already-validated drop record. ID is globally unique
// and doubles as the idempotency key; the store that produced it owns the
// schema, we only read it.
type Event struct {
	ID         string    `json:"event_id"`
	EntityID   string    `json:"entity_id"`
	SourceID   string    `json:"source_id"`
	TargetID   string    `json:"target_id"`
	Value      int64     `json:"value"`
	Quantity   int64     `json:"quantity"`
	OccurredAt time.Time `json:"occurred_at"`
}

// Contribution returns the amount this event adds to every total it touches.
func (e Event) Contribution() int64 {
	return e.Value * e.Quantity
}
