package handler

import (
	"context"
	"database/sql"
	"errors"
	"log"
	"net/http"
	"strings"
	"time"

	"github.com/labstack/echo/v4"

	"github.com/dinebook/reservation/internal/directory"
	"github.com/dinebook/reservation/internal/model"
	"github.com/dinebook/reservation/internal/queue"
	"github.com/dinebook/reservation/internal/repository"
	queue_publisher "github.com/dinebook/reservation/internal/service"
)

// StaffHandler serves the staff/admin transitions: confirm (with or
// without a table), reject, checkout and the enriched listings. Role
// checks run in middleware; the confirmed listing additionally scopes
// STAFF users to their assigned restaurant.
type StaffHandler struct {
	Repo        *repository.ReservationRepo
	Tables      directory.TableDirectory
	Users       directory.UserDirectory
	Restaurants directory.RestaurantDirectory
	TZOffset    string // e.g. "+05:30"; used when interpreting date-only queries
}

// NewStaffHandler constructs a StaffHandler. Repo must be non-nil.
func NewStaffHandler(repo *repository.ReservationRepo, tables directory.TableDirectory, users directory.UserDirectory, restaurants directory.RestaurantDirectory, tzOffset string) *StaffHandler {
	if repo == nil {
		panic("nil repository passed to NewStaffHandler")
	}
	if tzOffset == "" {
		tzOffset = "+00:00"
	}
	return &StaffHandler{Repo: repo, Tables: tables, Users: users, Restaurants: restaurants, TZOffset: tzOffset}
}

// Confirm handles PATCH /v1/reservations/:id/confirm. Without a table_id
// in the body it is a plain PENDING -> CONFIRMED flip; with one it runs
// the full table-assignment protocol.
func (h *StaffHandler) Confirm(c echo.Context) error {
	actor, err := userID(c)
	if err != nil {
		return c.JSON(http.StatusUnauthorized, echo.Map{"error": "unauthorized"})
	}
	id := c.Param("id")
	var body struct {
		TableID string `json:"table_id"`
	}
	// The body is optional for this endpoint.
	_ = c.Bind(&body)

	if body.TableID != "" {
		return h.confirmWithTable(c, id, body.TableID, actor)
	}

	ctx := c.Request().Context()
	rows, err := h.Repo.Confirm(ctx, id, actor)
	if err != nil {
		return c.JSON(http.StatusInternalServerError, echo.Map{"error": "database error"})
	}
	if rows == 0 {
		return resolveZeroRows(c, h.Repo, id, "reservation already processed")
	}
	confirmed, err := h.Repo.GetByID(ctx, id)
	if err != nil {
		return c.JSON(http.StatusInternalServerError, echo.Map{"error": "database error"})
	}
	h.publishConfirmed(confirmed)
	return c.JSON(http.StatusOK, echo.Map{"item": confirmed})
}

// ConfirmWithTable handles PATCH /v1/reservations/:id/confirm-with-table.
func (h *StaffHandler) ConfirmWithTable(c echo.Context) error {
	actor, err := userID(c)
	if err != nil {
		return c.JSON(http.StatusUnauthorized, echo.Map{"error": "unauthorized"})
	}
	var body struct {
		TableID string `json:"table_id"`
	}
	if err := c.Bind(&body); err != nil || body.TableID == "" {
		return c.JSON(http.StatusBadRequest, echo.Map{"error": "table_id is required"})
	}
	return h.confirmWithTable(c, c.Param("id"), body.TableID, actor)
}

// confirmWithTable maps the repository's table-assignment protocol onto
// HTTP. The loser of a concurrent confirmation race gets a 409 and is
// expected to retry with a different table.
func (h *StaffHandler) confirmWithTable(c echo.Context, id, tableID, actor string) error {
	res, err := h.Repo.ConfirmWithTable(c.Request().Context(), id, tableID, actor)
	if err != nil {
		switch {
		case errors.Is(err, sql.ErrNoRows):
			return c.JSON(http.StatusNotFound, echo.Map{"error": "reservation not found"})
		case errors.Is(err, repository.ErrTableOccupied):
			return c.JSON(http.StatusConflict, echo.Map{"error": err.Error()})
		case errors.Is(err, repository.ErrConflict):
			return c.JSON(http.StatusConflict, echo.Map{"error": "reservation already processed"})
		case errors.Is(err, context.DeadlineExceeded):
			return c.JSON(http.StatusConflict, echo.Map{"error": "confirmation timed out, please retry"})
		default:
			return c.JSON(http.StatusInternalServerError, echo.Map{"error": "database error"})
		}
	}
	h.publishConfirmed(res)
	return c.JSON(http.StatusOK, echo.Map{"item": res})
}

// publishConfirmed emits a reservation.confirmed event in the background.
// The publisher logs its own failures; a broker outage never fails the
// confirmation.
func (h *StaffHandler) publishConfirmed(res *model.Reservation) {
	ev := queue.ReservationConfirmedEvent{
		ReservationID: res.ID,
		UserID:        res.UserID,
		RestaurantID:  res.RestaurantID,
		TableID:       res.TableID,
		Guests:        res.Guests,
		ReservedAt:    res.ReservedAt.UTC().Format(time.RFC3339),
	}
	if res.ConfirmedBy != nil {
		ev.ConfirmedBy = *res.ConfirmedBy
	}
	if res.ConfirmedAt != nil {
		ev.ConfirmedAt = res.ConfirmedAt.UTC().Format(time.RFC3339)
	}
	go func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := queue_publisher.PublishReservationConfirmed(ctx, ev); err != nil {
			log.Printf("confirm: event publish failed for reservation %s", res.ID)
		}
	}()
}

// Reject handles PATCH /v1/reservations/:id/reject: PENDING -> REJECTED,
// recording the actor.
func (h *StaffHandler) Reject(c echo.Context) error {
	actor, err := userID(c)
	if err != nil {
		return c.JSON(http.StatusUnauthorized, echo.Map{"error": "unauthorized"})
	}
	id := c.Param("id")
	ctx := c.Request().Context()

	rows, err := h.Repo.Reject(ctx, id, actor)
	if err != nil {
		return c.JSON(http.StatusInternalServerError, echo.Map{"error": "database error"})
	}
	if rows == 0 {
		return resolveZeroRows(c, h.Repo, id, "reservation already processed")
	}
	rejected, err := h.Repo.GetByID(ctx, id)
	if err != nil {
		return c.JSON(http.StatusInternalServerError, echo.Map{"error": "database error"})
	}
	return c.JSON(http.StatusOK, echo.Map{"item": rejected})
}

// Checkout handles PATCH /v1/reservations/:id/checkout. Checkout is the
// only operation that frees a table: nothing is deleted and the status
// stays CONFIRMED; "free" is derived from checked_out_at being set. The
// guarded update makes a second checkout a 409 with state unchanged.
func (h *StaffHandler) Checkout(c echo.Context) error {
	actor, err := userID(c)
	if err != nil {
		return c.JSON(http.StatusUnauthorized, echo.Map{"error": "unauthorized"})
	}
	id := c.Param("id")
	ctx := c.Request().Context()

	rows, err := h.Repo.Checkout(ctx, id, actor)
	if err != nil {
		return c.JSON(http.StatusInternalServerError, echo.Map{"error": "database error"})
	}
	if rows == 0 {
		res, err := h.Repo.GetByID(ctx, id)
		if err != nil {
			if errors.Is(err, sql.ErrNoRows) {
				return c.JSON(http.StatusNotFound, echo.Map{"error": "reservation not found"})
			}
			return c.JSON(http.StatusInternalServerError, echo.Map{"error": "database error"})
		}
		switch {
		case res.Status != model.StatusConfirmed:
			return c.JSON(http.StatusConflict, echo.Map{"error": "only CONFIRMED reservations can be checked out"})
		case res.TableID == nil:
			return c.JSON(http.StatusConflict, echo.Map{"error": "reservation has no table assigned"})
		default:
			return c.JSON(http.StatusConflict, echo.Map{"error": "reservation already checked out"})
		}
	}
	checkedOut, err := h.Repo.GetByID(ctx, id)
	if err != nil {
		return c.JSON(http.StatusInternalServerError, echo.Map{"error": "database error"})
	}
	return c.JSON(http.StatusOK, echo.Map{"item": checkedOut})
}

// staffReservationView is a reservation enriched with customer and
// restaurant details for staff/admin views.
type staffReservationView struct {
	model.Reservation
	Customer       *directory.PublicUser `json:"customer"`
	Restaurant     *directory.Restaurant `json:"restaurant"`
	EffectivePhone *string               `json:"effective_phone"`
}

// List handles GET /v1/reservations with optional status and
// restaurant_id filters. Collaborator failures leave the enrichment
// fields null; the listing itself never fails on them.
func (h *StaffHandler) List(c echo.Context) error {
	ctx := c.Request().Context()
	reservations, err := h.Repo.List(ctx, c.QueryParam("status"), c.QueryParam("restaurant_id"))
	if err != nil {
		return c.JSON(http.StatusInternalServerError, echo.Map{"error": "database error"})
	}

	userMap := h.lookupUsers(ctx, reservations, c.Request().Header.Get("Authorization"))

	restaurantMap := map[string]directory.Restaurant{}
	if h.Restaurants != nil {
		if all, err := h.Restaurants.List(ctx); err == nil {
			for _, r := range all {
				restaurantMap[r.ID] = r
			}
		} else {
			log.Printf("reservations: restaurant lookup failed: %v", err)
		}
	}

	items := make([]staffReservationView, 0, len(reservations))
	for i := range reservations {
		r := reservations[i]
		view := staffReservationView{Reservation: r}
		if u, ok := userMap[r.UserID]; ok {
			cu := u
			view.Customer = &cu
		}
		if rest, ok := restaurantMap[r.RestaurantID]; ok {
			view.Restaurant = &rest
		}
		view.EffectivePhone = effectivePhone(&r, view.Customer)
		items = append(items, view)
	}
	return c.JSON(http.StatusOK, echo.Map{"items": items})
}

// confirmedReservationView is a confirmed reservation enriched with the
// customer and the human table number.
type confirmedReservationView struct {
	model.Reservation
	Customer       *directory.PublicUser `json:"customer"`
	EffectivePhone *string               `json:"effective_phone"`
	TableNumber    *string               `json:"table_number"`
}

// Confirmed handles GET /v1/reservations/confirmed?date=YYYY-MM-DD with
// optional time (HH:mm), restaurant_id and table_number filters. STAFF
// users are locked to their assigned restaurant; ADMIN must pass
// restaurant_id explicitly.
func (h *StaffHandler) Confirmed(c echo.Context) error {
	restaurantID := c.QueryParam("restaurant_id")
	switch userRole(c) {
	case "STAFF":
		restaurantID = staffRestaurantID(c)
		if restaurantID == "" {
			return c.JSON(http.StatusForbidden, echo.Map{"error": "staff user is not assigned to a restaurant"})
		}
	case "ADMIN":
		if restaurantID == "" {
			return c.JSON(http.StatusBadRequest, echo.Map{"error": "restaurant_id is required"})
		}
	}

	dateStr := strings.TrimSpace(c.QueryParam("date"))
	if dateStr == "" {
		return c.JSON(http.StatusBadRequest, echo.Map{"error": "date is required (YYYY-MM-DD)"})
	}
	startRaw := dateStr + "T00:00:00" + h.TZOffset
	if t := c.QueryParam("time"); t != "" {
		startRaw = dateStr + "T" + t + ":00" + h.TZOffset
	}
	start, err := time.Parse(time.RFC3339, startRaw)
	if err != nil {
		return c.JSON(http.StatusBadRequest, echo.Map{"error": "invalid date/time format"})
	}
	end, err := time.Parse(time.RFC3339, dateStr+"T23:59:59"+h.TZOffset)
	if err != nil {
		return c.JSON(http.StatusBadRequest, echo.Map{"error": "invalid date/time format"})
	}

	ctx := c.Request().Context()
	reservations, err := h.Repo.ListConfirmedBetween(ctx, restaurantID, start, end)
	if err != nil {
		return c.JSON(http.StatusInternalServerError, echo.Map{"error": "database error"})
	}

	userMap := h.lookupUsers(ctx, reservations, c.Request().Header.Get("Authorization"))

	tableMap := map[string]string{}
	if h.Tables != nil {
		if tables, err := h.Tables.List(ctx, restaurantID); err == nil {
			for _, t := range tables {
				tableMap[t.ID] = t.TableNumber
			}
		} else {
			log.Printf("reservations: table lookup failed: %v", err)
		}
	}

	filter := strings.ToLower(strings.TrimSpace(c.QueryParam("table_number")))
	items := make([]confirmedReservationView, 0, len(reservations))
	for i := range reservations {
		r := reservations[i]
		view := confirmedReservationView{Reservation: r}
		if u, ok := userMap[r.UserID]; ok {
			cu := u
			view.Customer = &cu
		}
		view.EffectivePhone = effectivePhone(&r, view.Customer)
		if r.TableID != nil {
			if num, ok := tableMap[*r.TableID]; ok {
				view.TableNumber = &num
			}
		}
		if filter != "" {
			if view.TableNumber == nil || strings.ToLower(*view.TableNumber) != filter {
				continue
			}
		}
		items = append(items, view)
	}
	return c.JSON(http.StatusOK, echo.Map{"items": items})
}

// lookupUsers resolves public customer details for a batch of
// reservations, forwarding the caller's bearer token. A failed lookup is
// logged and returns an empty map.
func (h *StaffHandler) lookupUsers(ctx context.Context, reservations []model.Reservation, authHeader string) map[string]directory.PublicUser {
	out := map[string]directory.PublicUser{}
	if h.Users == nil || len(reservations) == 0 {
		return out
	}
	seen := map[string]bool{}
	ids := make([]string, 0, len(reservations))
	for _, r := range reservations {
		if !seen[r.UserID] {
			seen[r.UserID] = true
			ids = append(ids, r.UserID)
		}
	}
	users, err := h.Users.Lookup(ctx, ids, authHeader)
	if err != nil {
		log.Printf("reservations: user lookup failed: %v", err)
		return out
	}
	for _, u := range users {
		out[u.ID] = u
	}
	return out
}
