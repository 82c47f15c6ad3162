package model

import (
	"errors"
	"time"
)

// Reservation statuses. A reservation is created as PENDING (direct request)
// or WAITLISTED (waitlist join) and only ever moves through the transitions
// implemented in the repository layer. REJECTED, CANCELLED and a CONFIRMED
// reservation with CheckedOutAt set are terminal.
const (
	StatusPending    = "PENDING"
	StatusWaitlisted = "WAITLISTED"
	StatusConfirmed  = "CONFIRMED"
	StatusRejected   = "REJECTED"
	StatusCancelled  = "CANCELLED"
)

// DefaultDurationMins is the assumed occupancy length when a reservation
// does not specify one.
const DefaultDurationMins = 90

// MaxAdvance is how far into the future a reservation may be placed.
const MaxAdvance = 30 * 24 * time.Hour

// Reservation is the central record of the service. TableID is set only
// while the reservation is CONFIRMED; a table counts as occupied exactly
// while a CONFIRMED reservation holds it and CheckedOutAt is still null.
//
// ConfirmedAt/ConfirmedBy and CheckedOutAt/CheckedOutBy are written once by
// staff actions and never cleared. Rows are never deleted; terminal states
// are kept for history.
type Reservation struct {
	ID           string     `json:"id"`
	UserID       string     `json:"user_id"`
	RestaurantID string     `json:"restaurant_id"`
	Guests       int        `json:"guests"`
	ReservedAt   time.Time  `json:"reserved_at"`
	DurationMins int        `json:"duration_mins"`
	Status       string     `json:"status"`
	TableID      *string    `json:"table_id"`
	ContactPhone *string    `json:"contact_phone"`
	ConfirmedAt  *time.Time `json:"confirmed_at"`
	ConfirmedBy  *string    `json:"confirmed_by"`
	CheckedOutAt *time.Time `json:"checked_out_at"`
	CheckedOutBy *string    `json:"checked_out_by"`
	CreatedAt    time.Time  `json:"created_at"`
	UpdatedAt    time.Time  `json:"updated_at"`
}

// End returns the effective end of the reservation: the checkout time when
// the party left early, otherwise ReservedAt plus the expected duration.
func (r *Reservation) End() time.Time {
	if r.CheckedOutAt != nil {
		return *r.CheckedOutAt
	}
	mins := r.DurationMins
	if mins <= 0 {
		mins = DefaultDurationMins
	}
	return r.ReservedAt.Add(time.Duration(mins) * time.Minute)
}

// Validation errors for reservation times. Handlers map all of these to
// HTTP 400 responses.
var (
	ErrUnparseableTime = errors.New("reserved_at must be a valid RFC3339 timestamp")
	ErrTimeInPast      = errors.New("reserved_at cannot be in the past")
	ErrTimeTooFar      = errors.New("reservations can only be made within 30 days")
)

// ParseReservedAt parses a requested reservation time and enforces the
// booking window: not in the past and at most MaxAdvance from now.
func ParseReservedAt(raw string, now time.Time) (time.Time, error) {
	t, err := time.Parse(time.RFC3339, raw)
	if err != nil {
		return time.Time{}, ErrUnparseableTime
	}
	if t.Before(now) {
		return time.Time{}, ErrTimeInPast
	}
	if t.After(now.Add(MaxAdvance)) {
		return time.Time{}, ErrTimeTooFar
	}
	return t.UTC(), nil
}
