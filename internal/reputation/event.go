package reputation

import (
	"errors"
	"fmt"
	"math"
	"time"
)

// ErrInvalidEvent is matched by every event validation failure.
var ErrInvalidEvent = errors.New("invalid reputation event")

// InvalidEventError describes why an event was rejected.
type InvalidEventError struct {
	Kind   EventKind
	Field  string
	Reason string
}

func (e *InvalidEventError) Error() string {
	if e.Field == "" {
		return fmt.Sprintf("invalid %s event: %s", e.Kind, e.Reason)
	}
	return fmt.Sprintf("invalid %s event: %s %s", e.Kind, e.Field, e.Reason)
}

func (e *InvalidEventError) Unwrap() error { return ErrInvalidEvent }

// EventKind enumerates the lifecycle events the engine understands.
type EventKind string

const (
	EventPaymentOnTime         EventKind = "payment_on_time"
	EventPaymentLate           EventKind = "payment_late"
	EventPaymentMissed         EventKind = "payment_missed"
	EventParticipationRecorded EventKind = "participation_recorded"
	EventPenaltyApplied        EventKind = "penalty_applied"
	EventLeadershipAction      EventKind = "leadership_action"
	EventSocialInteraction     EventKind = "social_interaction"
)

// Event is a normalized lifecycle event for one (user, tontine) pair.
// Only the payload field relevant to Kind is read.
type Event struct {
	Kind EventKind `json:"kind" binding:"required"`

	DelayDays float64 `json:"delayDays,omitempty"` // PaymentLate
	Amount    float64 `json:"amount,omitempty"`    // PenaltyApplied
	Weight    float64 `json:"weight,omitempty"`    // LeadershipAction, SocialInteraction

	// Expected is the number of contributions expected to date, supplied by
	// the membership collaborator for ParticipationRecorded. Zero means
	// unknown and leaves the participation rate unchanged.
	Expected int `json:"expected,omitempty"`

	OccurredAt time.Time `json:"occurredAt,omitempty"`
}

// PaymentOnTime builds an on-time payment event.
func PaymentOnTime() Event { return Event{Kind: EventPaymentOnTime} }

// PaymentLate builds a late payment event.
func PaymentLate(delayDays float64) Event {
	return Event{Kind: EventPaymentLate, DelayDays: delayDays}
}

// PaymentMissed builds a missed payment event.
func PaymentMissed() Event { return Event{Kind: EventPaymentMissed} }

// ParticipationRecorded builds a participation event against the expected count.
func ParticipationRecorded(expected int) Event {
	return Event{Kind: EventParticipationRecorded, Expected: expected}
}

// PenaltyApplied builds a penalty event.
func PenaltyApplied(amount float64) Event {
	return Event{Kind: EventPenaltyApplied, Amount: amount}
}

// LeadershipAction builds a leadership event.
func LeadershipAction(weight float64) Event {
	return Event{Kind: EventLeadershipAction, Weight: weight}
}

// SocialInteraction builds a social event.
func SocialInteraction(weight float64) Event {
	return Event{Kind: EventSocialInteraction, Weight: weight}
}

// IsPayment reports whether the event changes the payment counters.
func (e Event) IsPayment() bool {
	switch e.Kind {
	case EventPaymentOnTime, EventPaymentLate, EventPaymentMissed:
		return true
	}
	return false
}

// Validate checks the payload before any mutation happens.
func (e Event) Validate() error {
	invalid := func(field, reason string) error {
		return &InvalidEventError{Kind: e.Kind, Field: field, Reason: reason}
	}

	switch e.Kind {
	case EventPaymentOnTime, EventPaymentMissed:
	case EventPaymentLate:
		if !finite(e.DelayDays) {
			return invalid("delayDays", "must be finite")
		}
		if e.DelayDays <= 0 {
			return invalid("delayDays", "must be positive")
		}
	case EventParticipationRecorded:
		if e.Expected < 0 {
			return invalid("expected", "must not be negative")
		}
	case EventPenaltyApplied:
		if !finite(e.Amount) {
			return invalid("amount", "must be finite")
		}
		if e.Amount < 0 {
			return invalid("amount", "must not be negative")
		}
	case EventLeadershipAction, EventSocialInteraction:
		if !finite(e.Weight) {
			return invalid("weight", "must be finite")
		}
		if e.Weight < 0 {
			return invalid("weight", "must not be negative")
		}
	case "":
		return invalid("kind", "is required")
	default:
		return &InvalidEventError{Kind: e.Kind, Reason: "unknown event kind"}
	}
	return nil
}

// EventKinds lists every supported kind in a stable order.
func EventKinds() []EventKind {
	return []EventKind{
		EventPaymentOnTime,
		EventPaymentLate,
		EventPaymentMissed,
		EventParticipationRecorded,
		EventPenaltyApplied,
		EventLeadershipAction,
		EventSocialInteraction,
	}
}

func finite(v float64) bool {
	return !math.IsNaN(v) && !math.IsInf(v, 0)
}
