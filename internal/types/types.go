// Package types contains the core domain types shared across all contactrelay
// internal packages. It deliberately has zero imports of other contactrelay
// packages so that the store, delivery, and outbox layers can all import from
// it without creating import cycles.
package types

import (
	"encoding/json"
	"errors"
	"time"
)

// Contact is a contact record in the integration endpoint's field schema.
// Only the HTTP boundary works with these fields; the outbox core carries the
// marshalled form as an opaque payload and never looks inside it.
type Contact struct {
	FirstName string `json:"first_name"`
	LastName  string `json:"last_name"`
	Phone     string `json:"phone"`
	Email     string `json:"email,omitempty"`
	Company   string `json:"company,omitempty"`
	Notes     string `json:"notes,omitempty"`
}

// Validate checks that the record carries enough to be worth forwarding.
// Field-level formatting (phone digits, email shape) is the integration
// endpoint's concern, not ours.
func (c *Contact) Validate() error {
	if c.FirstName == "" && c.LastName == "" && c.Phone == "" {
		return errors.New("contact: need at least a name or a phone number")
	}
	return nil
}

// Item is a single pending delivery in the outbox.
//
// Design rules:
//   - Item format is final. Only optional fields may be added. Never rename
//     or remove a field — existing persisted outboxes must always be readable.
//   - Tries counts failed delivery attempts for this exact item. It starts at
//     0, is incremented only when a flush-pass attempt fails, and never
//     decreases. The item is dropped once delivery succeeds or Tries reaches
//     the configured maximum.
//   - EnqueuedAt is set once at creation and never mutated. It marshals as an
//     RFC 3339 string.
type Item struct {
	// ID is a ULID uniquely identifying this item. Time-sortable, so a
	// lexicographic sort recovers enqueue order.
	ID string `json:"id"`

	// Payload is the marshalled contact record. Opaque to the outbox.
	Payload json.RawMessage `json:"payload"`

	EnqueuedAt time.Time `json:"enqueued_at"`
	Tries      int       `json:"tries"`
}

// Outcome is the tag of a delivery outcome event.
type Outcome string

const (
	// OutcomeSent means the payload reached the integration endpoint.
	OutcomeSent Outcome = "sent"
	// OutcomeQueued means an immediate delivery attempt failed and the
	// payload now sits in the durable outbox.
	OutcomeQueued Outcome = "queued"
	// OutcomeRetry means a flush-pass attempt failed; the item's try count
	// was incremented.
	OutcomeRetry Outcome = "retry"
	// OutcomeLocal means the caller opted out of sending; the payload was
	// recorded locally and never touched the outbox.
	OutcomeLocal Outcome = "local"
	// OutcomeAbandoned means the item exhausted its tries and was dropped
	// from the outbox (and, when an archive is wired, retained there).
	OutcomeAbandoned Outcome = "abandoned"
)

// Event is a delivery outcome event. Events are consumed by the activity
// sink and the metrics registry for observability only; they have no effect
// on outbox invariants.
type Event struct {
	Outcome Outcome         `json:"outcome"`
	Payload json.RawMessage `json:"payload"`
	At      time.Time       `json:"at"`

	// Error carries the delivery error description for queued, retry, and
	// abandoned outcomes.
	Error string `json:"error,omitempty"`

	// Tries is the item's failed-attempt count after the attempt that
	// produced this event. Zero for sent/queued/local.
	Tries int `json:"tries,omitempty"`
}
