// Package queue defines message payloads exchanged over the message broker
// and the background consumer that processes them.
package queue

// ReservationConfirmedEvent is published after staff confirm a
// reservation. It carries enough context for downstream consumers to log,
// notify or feed analytics without querying the primary database.
type ReservationConfirmedEvent struct {
	ReservationID string  `json:"reservation_id"`
	UserID        string  `json:"user_id"`
	RestaurantID  string  `json:"restaurant_id"`
	TableID       *string `json:"table_id,omitempty"`
	Guests        int     `json:"guests"`
	ReservedAt    string  `json:"reserved_at"`
	ConfirmedBy   string  `json:"confirmed_by"`
	ConfirmedAt   string  `json:"confirmed_at"`
}
