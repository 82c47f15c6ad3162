package handler

import (
	"database/sql"
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/labstack/echo/v4"

	"github.com/dinebook/reservation/internal/directory"
	"github.com/dinebook/reservation/internal/model"
	"github.com/dinebook/reservation/internal/repository"
)

// CustomerHandler serves the customer-facing reservation endpoints:
// creation, availability lookup, self-service listing, updates,
// cancellation and the waitlist. Ownership is enforced here; the staff
// transitions live in StaffHandler.
type CustomerHandler struct {
	Repo                *repository.ReservationRepo
	Tables              directory.TableDirectory
	Restaurants         directory.RestaurantDirectory
	DefaultDurationMins int
}

// NewCustomerHandler constructs a CustomerHandler. Repo and Tables must be
// non-nil; directories may fail at runtime and are degraded gracefully.
func NewCustomerHandler(repo *repository.ReservationRepo, tables directory.TableDirectory, restaurants directory.RestaurantDirectory, defaultDurationMins int) *CustomerHandler {
	if repo == nil || tables == nil {
		panic("nil dependency passed to NewCustomerHandler")
	}
	if defaultDurationMins <= 0 {
		defaultDurationMins = model.DefaultDurationMins
	}
	return &CustomerHandler{
		Repo:                repo,
		Tables:              tables,
		Restaurants:         restaurants,
		DefaultDurationMins: defaultDurationMins,
	}
}

// Create handles POST /v1/reservations. The request must name a
// restaurant, a guest count of at least one and a reservation time inside
// the booking window (not in the past, at most 30 days out). The new
// reservation starts PENDING with no table.
func (h *CustomerHandler) Create(c echo.Context) error {
	uid, err := userID(c)
	if err != nil {
		return c.JSON(http.StatusUnauthorized, echo.Map{"error": "unauthorized"})
	}
	var body struct {
		RestaurantID string  `json:"restaurant_id"`
		Guests       int     `json:"guests"`
		ReservedAt   string  `json:"reserved_at"`
		ContactPhone *string `json:"contact_phone"`
	}
	if err := c.Bind(&body); err != nil {
		return c.JSON(http.StatusBadRequest, echo.Map{"error": "invalid request body"})
	}
	if body.RestaurantID == "" {
		return c.JSON(http.StatusBadRequest, echo.Map{"error": "restaurant_id is required"})
	}
	if body.Guests < 1 {
		return c.JSON(http.StatusBadRequest, echo.Map{"error": "guests must be at least 1"})
	}
	reservedAt, err := model.ParseReservedAt(body.ReservedAt, nowUTC())
	if err != nil {
		return c.JSON(http.StatusBadRequest, echo.Map{"error": err.Error()})
	}

	res := &model.Reservation{
		UserID:       uid,
		RestaurantID: body.RestaurantID,
		Guests:       body.Guests,
		ReservedAt:   reservedAt,
		DurationMins: h.DefaultDurationMins,
		Status:       model.StatusPending,
		ContactPhone: body.ContactPhone,
	}
	if err := h.Repo.Create(c.Request().Context(), res); err != nil {
		return c.JSON(http.StatusInternalServerError, echo.Map{"error": "database error"})
	}
	return c.JSON(http.StatusCreated, echo.Map{"item": res})
}

// Availability handles GET /v1/reservations/availability. It returns the
// active tables of a restaurant with enough capacity that are not blocked
// by a confirmed, not-yet-checked-out reservation. The result is a
// snapshot with no lock held; a returned table can still be taken by a
// concurrent confirmation. Blocking ignores the requested time window on
// purpose: any unfinished confirmed reservation blocks its table.
func (h *CustomerHandler) Availability(c echo.Context) error {
	restaurantID := c.QueryParam("restaurant_id")
	if restaurantID == "" {
		return c.JSON(http.StatusBadRequest, echo.Map{"error": "restaurant_id is required"})
	}
	guests, err := strconv.Atoi(c.QueryParam("guests"))
	if err != nil || guests < 1 {
		return c.JSON(http.StatusBadRequest, echo.Map{"error": "guests must be at least 1"})
	}
	if _, err := parseInstant(c.QueryParam("reserved_at")); err != nil {
		return c.JSON(http.StatusBadRequest, echo.Map{"error": model.ErrUnparseableTime.Error()})
	}
	// duration_mins is accepted but does not influence blocking.
	if d := c.QueryParam("duration_mins"); d != "" {
		if n, err := strconv.Atoi(d); err != nil || n < 15 {
			return c.JSON(http.StatusBadRequest, echo.Map{"error": "duration_mins must be at least 15"})
		}
	}

	ctx := c.Request().Context()
	tables, err := h.Tables.List(ctx, restaurantID)
	if err != nil {
		return c.JSON(http.StatusBadGateway, echo.Map{"error": "table service unavailable"})
	}
	candidates := make([]directory.Table, 0, len(tables))
	for _, t := range tables {
		if t.IsActive && t.Capacity >= guests {
			candidates = append(candidates, t)
		}
	}
	if len(candidates) == 0 {
		return c.JSON(http.StatusOK, echo.Map{"items": []directory.Table{}})
	}

	blocked, err := h.Repo.OccupiedTableIDs(ctx, restaurantID)
	if err != nil {
		return c.JSON(http.StatusInternalServerError, echo.Map{"error": "database error"})
	}
	available := make([]directory.Table, 0, len(candidates))
	for _, t := range candidates {
		if _, taken := blocked[t.ID]; !taken {
			available = append(available, t)
		}
	}
	return c.JSON(http.StatusOK, echo.Map{"items": available})
}

// myReservationView is a customer's reservation enriched with restaurant
// details and the human table number. Enrichment fields stay null when a
// collaborator lookup fails.
type myReservationView struct {
	model.Reservation
	Restaurant  *directory.Restaurant `json:"restaurant"`
	TableNumber *string               `json:"table_number"`
}

// ListMine handles GET /v1/reservations/me. Collaborator failures degrade
// the enrichment, never the listing.
func (h *CustomerHandler) ListMine(c echo.Context) error {
	uid, err := userID(c)
	if err != nil {
		return c.JSON(http.StatusUnauthorized, echo.Map{"error": "unauthorized"})
	}
	ctx := c.Request().Context()
	reservations, err := h.Repo.ListByUser(ctx, uid)
	if err != nil {
		return c.JSON(http.StatusInternalServerError, echo.Map{"error": "database error"})
	}

	restaurantMap := map[string]directory.Restaurant{}
	if h.Restaurants != nil {
		if all, err := h.Restaurants.List(ctx); err == nil {
			for _, r := range all {
				restaurantMap[r.ID] = r
			}
		}
	}

	// Resolve table numbers once per restaurant that has a bound table.
	tableMap := map[string]string{}
	seen := map[string]bool{}
	for _, r := range reservations {
		if r.TableID == nil || seen[r.RestaurantID] {
			continue
		}
		seen[r.RestaurantID] = true
		if tables, err := h.Tables.List(ctx, r.RestaurantID); err == nil {
			for _, t := range tables {
				tableMap[t.ID] = t.TableNumber
			}
		}
	}

	items := make([]myReservationView, 0, len(reservations))
	for i := range reservations {
		r := reservations[i]
		view := myReservationView{Reservation: r}
		if rest, ok := restaurantMap[r.RestaurantID]; ok {
			view.Restaurant = &rest
		}
		if r.TableID != nil {
			if num, ok := tableMap[*r.TableID]; ok {
				view.TableNumber = &num
			}
		}
		items = append(items, view)
	}
	return c.JSON(http.StatusOK, echo.Map{"items": items})
}

// Update handles PATCH /v1/reservations/:id. Only the owner may modify a
// reservation and only while it is PENDING; the time is revalidated
// against the booking window. Status and table never change here.
func (h *CustomerHandler) Update(c echo.Context) error {
	uid, err := userID(c)
	if err != nil {
		return c.JSON(http.StatusUnauthorized, echo.Map{"error": "unauthorized"})
	}
	id := c.Param("id")
	var body struct {
		ReservedAt   *string `json:"reserved_at"`
		Guests       *int    `json:"guests"`
		ContactPhone *string `json:"contact_phone"`
	}
	if err := c.Bind(&body); err != nil {
		return c.JSON(http.StatusBadRequest, echo.Map{"error": "invalid request body"})
	}
	if body.ReservedAt == nil && body.Guests == nil && body.ContactPhone == nil {
		return c.JSON(http.StatusBadRequest, echo.Map{"error": "nothing to update"})
	}
	if body.Guests != nil && *body.Guests < 1 {
		return c.JSON(http.StatusBadRequest, echo.Map{"error": "guests must be at least 1"})
	}
	var reservedAt *time.Time
	if body.ReservedAt != nil {
		t, err := model.ParseReservedAt(*body.ReservedAt, nowUTC())
		if err != nil {
			return c.JSON(http.StatusBadRequest, echo.Map{"error": err.Error()})
		}
		reservedAt = &t
	}

	ctx := c.Request().Context()
	res, err := h.Repo.GetByID(ctx, id)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return c.JSON(http.StatusNotFound, echo.Map{"error": "reservation not found"})
		}
		return c.JSON(http.StatusInternalServerError, echo.Map{"error": "database error"})
	}
	if res.UserID != uid {
		return c.JSON(http.StatusForbidden, echo.Map{"error": "not your reservation"})
	}
	if res.Status != model.StatusPending {
		return c.JSON(http.StatusConflict, echo.Map{"error": "only PENDING reservations can be modified"})
	}

	rows, err := h.Repo.UpdatePending(ctx, id, reservedAt, body.Guests, body.ContactPhone)
	if err != nil {
		return c.JSON(http.StatusInternalServerError, echo.Map{"error": "database error"})
	}
	if rows == 0 {
		// Raced with a staff action or the reaper between read and write.
		return resolveZeroRows(c, h.Repo, id, "only PENDING reservations can be modified")
	}
	updated, err := h.Repo.GetByID(ctx, id)
	if err != nil {
		return c.JSON(http.StatusInternalServerError, echo.Map{"error": "database error"})
	}
	return c.JSON(http.StatusOK, echo.Map{"item": updated})
}

// Cancel handles PATCH /v1/reservations/:id/cancel. Only PENDING or
// WAITLISTED reservations can be cancelled, and only by their owner.
// Cancelling a PENDING reservation promotes the oldest WAITLISTED entry
// for the same restaurant back to PENDING, inside the same transaction,
// so the waiting customer re-enters the staff queue fairly (FIFO per
// restaurant).
func (h *CustomerHandler) Cancel(c echo.Context) error {
	uid, err := userID(c)
	if err != nil {
		return c.JSON(http.StatusUnauthorized, echo.Map{"error": "unauthorized"})
	}
	id := c.Param("id")
	ctx := c.Request().Context()

	tx, err := h.Repo.DB().BeginTx(ctx, nil)
	if err != nil {
		return c.JSON(http.StatusInternalServerError, echo.Map{"error": "failed to start transaction"})
	}
	committed := false
	defer func() {
		if !committed {
			_ = tx.Rollback()
		}
	}()

	res, err := h.Repo.GetByIDTx(ctx, tx, id, true)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return c.JSON(http.StatusNotFound, echo.Map{"error": "reservation not found"})
		}
		return c.JSON(http.StatusInternalServerError, echo.Map{"error": "database error"})
	}
	if res.UserID != uid {
		return c.JSON(http.StatusForbidden, echo.Map{"error": "not your reservation"})
	}
	if res.Status != model.StatusPending && res.Status != model.StatusWaitlisted {
		return c.JSON(http.StatusConflict, echo.Map{"error": "only PENDING or WAITLISTED reservations can be cancelled"})
	}

	rows, err := h.Repo.CancelTx(ctx, tx, id, res.Status)
	if err != nil {
		return c.JSON(http.StatusInternalServerError, echo.Map{"error": "database error"})
	}
	if rows == 0 {
		return c.JSON(http.StatusConflict, echo.Map{"error": "reservation already processed"})
	}

	// A cancelled WAITLISTED entry frees nothing, so only a PENDING
	// cancellation promotes.
	if res.Status == model.StatusPending {
		next, err := h.Repo.OldestWaitlistedTx(ctx, tx, res.RestaurantID)
		switch {
		case err == nil:
			if _, err := h.Repo.PromoteTx(ctx, tx, next); err != nil {
				return c.JSON(http.StatusInternalServerError, echo.Map{"error": "database error"})
			}
		case errors.Is(err, sql.ErrNoRows):
			// empty waitlist
		default:
			return c.JSON(http.StatusInternalServerError, echo.Map{"error": "database error"})
		}
	}

	if err := tx.Commit(); err != nil {
		return c.JSON(http.StatusInternalServerError, echo.Map{"error": "failed to commit transaction"})
	}
	committed = true

	cancelled, err := h.Repo.GetByID(ctx, id)
	if err != nil {
		return c.JSON(http.StatusInternalServerError, echo.Map{"error": "database error"})
	}
	return c.JSON(http.StatusOK, echo.Map{"item": cancelled})
}

// JoinWaitlist handles POST /v1/reservations/waitlist. The date window is
// validated like a normal creation, and a user may hold at most one
// active engagement (PENDING, WAITLISTED or CONFIRMED) per restaurant.
func (h *CustomerHandler) JoinWaitlist(c echo.Context) error {
	uid, err := userID(c)
	if err != nil {
		return c.JSON(http.StatusUnauthorized, echo.Map{"error": "unauthorized"})
	}
	var body struct {
		RestaurantID string  `json:"restaurant_id"`
		Guests       int     `json:"guests"`
		ReservedAt   string  `json:"reserved_at"`
		ContactPhone *string `json:"contact_phone"`
	}
	if err := c.Bind(&body); err != nil {
		return c.JSON(http.StatusBadRequest, echo.Map{"error": "invalid request body"})
	}
	if body.RestaurantID == "" {
		return c.JSON(http.StatusBadRequest, echo.Map{"error": "restaurant_id is required"})
	}
	if body.Guests < 1 {
		return c.JSON(http.StatusBadRequest, echo.Map{"error": "guests must be at least 1"})
	}
	reservedAt, err := model.ParseReservedAt(body.ReservedAt, nowUTC())
	if err != nil {
		return c.JSON(http.StatusBadRequest, echo.Map{"error": err.Error()})
	}

	ctx := c.Request().Context()
	active, err := h.Repo.HasActiveEngagement(ctx, uid, body.RestaurantID)
	if err != nil {
		return c.JSON(http.StatusInternalServerError, echo.Map{"error": "database error"})
	}
	if active {
		return c.JSON(http.StatusConflict, echo.Map{"error": "you already have an active or waitlisted reservation at this restaurant"})
	}

	res := &model.Reservation{
		UserID:       uid,
		RestaurantID: body.RestaurantID,
		Guests:       body.Guests,
		ReservedAt:   reservedAt,
		DurationMins: h.DefaultDurationMins,
		Status:       model.StatusWaitlisted,
		ContactPhone: body.ContactPhone,
	}
	if err := h.Repo.Create(ctx, res); err != nil {
		return c.JSON(http.StatusInternalServerError, echo.Map{"error": "database error"})
	}
	return c.JSON(http.StatusCreated, echo.Map{"item": res})
}

// LeaveWaitlist handles PATCH /v1/reservations/:id/waitlist/leave.
// Owner-only; allowed only while WAITLISTED.
func (h *CustomerHandler) LeaveWaitlist(c echo.Context) error {
	uid, err := userID(c)
	if err != nil {
		return c.JSON(http.StatusUnauthorized, echo.Map{"error": "unauthorized"})
	}
	id := c.Param("id")
	ctx := c.Request().Context()

	tx, err := h.Repo.DB().BeginTx(ctx, nil)
	if err != nil {
		return c.JSON(http.StatusInternalServerError, echo.Map{"error": "failed to start transaction"})
	}
	committed := false
	defer func() {
		if !committed {
			_ = tx.Rollback()
		}
	}()

	res, err := h.Repo.GetByIDTx(ctx, tx, id, true)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return c.JSON(http.StatusNotFound, echo.Map{"error": "reservation not found"})
		}
		return c.JSON(http.StatusInternalServerError, echo.Map{"error": "database error"})
	}
	if res.UserID != uid {
		return c.JSON(http.StatusForbidden, echo.Map{"error": "not your reservation"})
	}
	if res.Status != model.StatusWaitlisted {
		return c.JSON(http.StatusConflict, echo.Map{"error": "reservation is not on the waitlist"})
	}

	rows, err := h.Repo.CancelTx(ctx, tx, id, model.StatusWaitlisted)
	if err != nil {
		return c.JSON(http.StatusInternalServerError, echo.Map{"error": "database error"})
	}
	if rows == 0 {
		return c.JSON(http.StatusConflict, echo.Map{"error": "reservation already processed"})
	}
	if err := tx.Commit(); err != nil {
		return c.JSON(http.StatusInternalServerError, echo.Map{"error": "failed to commit transaction"})
	}
	committed = true

	cancelled, err := h.Repo.GetByID(ctx, id)
	if err != nil {
		return c.JSON(http.StatusInternalServerError, echo.Map{"error": "database error"})
	}
	return c.JSON(http.StatusOK, echo.Map{"item": cancelled})
}
