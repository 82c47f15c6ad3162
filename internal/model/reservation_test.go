package model

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseReservedAt(t *testing.T) {
	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

	t.Run("valid time inside window", func(t *testing.T) {
		got, err := ParseReservedAt("2026-03-05T19:00:00Z", now)
		require.NoError(t, err)
		assert.Equal(t, time.Date(2026, 3, 5, 19, 0, 0, 0, time.UTC), got)
	})

	t.Run("offset is normalised to UTC", func(t *testing.T) {
		got, err := ParseReservedAt("2026-03-05T19:00:00+05:30", now)
		require.NoError(t, err)
		assert.Equal(t, time.UTC, got.Location())
		assert.Equal(t, time.Date(2026, 3, 5, 13, 30, 0, 0, time.UTC), got)
	})

	t.Run("garbage input", func(t *testing.T) {
		_, err := ParseReservedAt("next tuesday", now)
		assert.ErrorIs(t, err, ErrUnparseableTime)
	})

	t.Run("past time rejected", func(t *testing.T) {
		_, err := ParseReservedAt("2026-03-01T11:59:59Z", now)
		assert.ErrorIs(t, err, ErrTimeInPast)
	})

	t.Run("exactly 30 days ahead allowed", func(t *testing.T) {
		_, err := ParseReservedAt("2026-03-31T12:00:00Z", now)
		assert.NoError(t, err)
	})

	t.Run("31 days ahead rejected", func(t *testing.T) {
		_, err := ParseReservedAt("2026-04-01T12:00:00Z", now)
		assert.ErrorIs(t, err, ErrTimeTooFar)
	})
}

func TestReservationEnd(t *testing.T) {
	start := time.Date(2026, 3, 5, 19, 0, 0, 0, time.UTC)

	t.Run("uses duration when still seated", func(t *testing.T) {
		r := Reservation{ReservedAt: start, DurationMins: 120}
		assert.Equal(t, start.Add(2*time.Hour), r.End())
	})

	t.Run("defaults the duration", func(t *testing.T) {
		r := Reservation{ReservedAt: start}
		assert.Equal(t, start.Add(90*time.Minute), r.End())
	})

	t.Run("checkout wins over duration", func(t *testing.T) {
		out := start.Add(25 * time.Minute)
		r := Reservation{ReservedAt: start, DurationMins: 120, CheckedOutAt: &out}
		assert.Equal(t, out, r.End())
	})
}
