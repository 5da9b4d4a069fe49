package reconcile

import (
	"errors"
	"fmt"
	"time"
)

var (
	// ErrReconciliationStalled marks an event that exhausted its retry budget.
	ErrReconciliationStalled = errors.New("reconciliation stalled")
	// ErrEventNotFound is returned for unknown references.
	ErrEventNotFound = errors.New("payment event not found")
	// ErrInvalidEvent is returned for provider events missing required fields.
	ErrInvalidEvent = errors.New("invalid payment event")
	// ErrInvalidTransition is returned when a status change is not allowed.
	ErrInvalidTransition = errors.New("invalid status transition")
)

// EventKind distinguishes payments from chargebacks.
type EventKind string

const (
	EventPayment    EventKind = "payment"
	EventChargeback EventKind = "chargeback"
)

// Status is the reconciliation state of a provider event.
type Status string

const (
	StatusPending   Status = "pending"
	StatusApplied   Status = "applied"
	StatusRejected  Status = "rejected"
	StatusStalled   Status = "stalled"
	StatusAbandoned Status = "abandoned"
)

// Valid reports whether s is a known status.
func (s Status) Valid() bool {
	switch s {
	case StatusPending, StatusApplied, StatusRejected, StatusStalled, StatusAbandoned:
		return true
	}
	return false
}

// PaymentEvent is a provider-confirmed payment or chargeback. Reference is the
// provider's transaction id and becomes the ledger external reference.
type PaymentEvent struct {
	Reference    string    `json:"reference"`
	AccountID    string    `json:"account_id"`
	AmountRupiah int64     `json:"amount_rupiah"`
	PackageID    string    `json:"package_id,omitempty"`
	Kind         EventKind `json:"kind"`
	OccurredAt   time.Time `json:"occurred_at"`
}

// Validate checks the fields needed to apply the event.
func (e PaymentEvent) Validate() error {
	switch {
	case e.Reference == "":
		return fmt.Errorf("%w: reference is required", ErrInvalidEvent)
	case e.AccountID == "":
		return fmt.Errorf("%w: account_id is required", ErrInvalidEvent)
	}
	switch e.Kind {
	case EventPayment, EventChargeback:
		// package events carry the collected amount too; the wallet checks it against the price
		if e.AmountRupiah <= 0 {
			return fmt.Errorf("%w: %s needs a positive amount_rupiah", ErrInvalidEvent, e.Kind)
		}
	default:
		return fmt.Errorf("%w: unknown kind %q", ErrInvalidEvent, e.Kind)
	}
	return nil
}

// normalized fills defaults providers are allowed to omit. A missing kind is a payment.
func (e PaymentEvent) normalized() PaymentEvent {
	if e.Kind == "" {
		e.Kind = EventPayment
	}
	return e
}

// key namespaces references by kind; a chargeback may reuse its payment's reference.
func (e PaymentEvent) key() string {
	return string(e.Kind) + ":" + e.Reference
}

// Record is the tracked state of one event.
type Record struct {
	Event       PaymentEvent
	Status      Status
	Attempts    int
	LastError   string
	NextAttempt time.Time
	UpdatedAt   time.Time
}
