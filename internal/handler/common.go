// Package handler contains the HTTP handlers of the reservation API. All
// handlers assume JWT authentication and role validation have already run
// in middleware; they read the caller's identity from the Echo context.
package handler

import (
	"database/sql"
	"errors"
	"net/http"
	"strings"
	"time"

	"github.com/labstack/echo/v4"

	"github.com/dinebook/reservation/internal/directory"
	"github.com/dinebook/reservation/internal/model"
	"github.com/dinebook/reservation/internal/repository"
)

// userID extracts the authenticated user's ID from the context, as stored
// by the JWTAuth middleware.
func userID(c echo.Context) (string, error) {
	if s, ok := c.Get("user_id").(string); ok && s != "" {
		return s, nil
	}
	return "", errors.New("missing user_id in context")
}

// userRole returns the caller's role claim, empty when absent.
func userRole(c echo.Context) string {
	if s, ok := c.Get("role").(string); ok {
		return s
	}
	return ""
}

// staffRestaurantID returns the restaurant a staff account is assigned
// to, empty when the claim is absent.
func staffRestaurantID(c echo.Context) string {
	if s, ok := c.Get("restaurant_id").(string); ok {
		return s
	}
	return ""
}

// nowUTC is the single clock used by handler validation.
func nowUTC() time.Time { return time.Now().UTC() }

// parseInstant parses an RFC3339 timestamp without applying the booking
// window; availability accepts any valid instant.
func parseInstant(raw string) (time.Time, error) {
	return time.Parse(time.RFC3339, raw)
}

// resolveZeroRows decides the response for a guarded update that affected
// zero rows: the reservation either disappeared (404) or is no longer in
// the status the operation requires (409 with the given message).
func resolveZeroRows(c echo.Context, repo *repository.ReservationRepo, id, conflictMsg string) error {
	if _, err := repo.GetByID(c.Request().Context(), id); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return c.JSON(http.StatusNotFound, echo.Map{"error": "reservation not found"})
		}
		return c.JSON(http.StatusInternalServerError, echo.Map{"error": "database error"})
	}
	return c.JSON(http.StatusConflict, echo.Map{"error": conflictMsg})
}

// effectivePhone resolves the phone number to show staff for a
// reservation: the per-booking contact override when present, otherwise
// the customer's account number.
func effectivePhone(r *model.Reservation, customer *directory.PublicUser) *string {
	if r.ContactPhone != nil && strings.TrimSpace(*r.ContactPhone) != "" {
		return r.ContactPhone
	}
	if customer != nil && customer.PhoneNumber != nil {
		return customer.PhoneNumber
	}
	return nil
}
