package repository

import (
	"context"
	"database/sql"
	"errors"
	"strings"
	"time"

	"github.com/go-sql-driver/mysql"
	"github.com/google/uuid"

	"github.com/dinebook/reservation/internal/model"
)

// reservationCols is the canonical column list scanned by scanReservation.
// Keep the two in sync when the schema changes.
const reservationCols = `id, user_id, restaurant_id, guests, reserved_at, duration_mins, status,
       table_id, contact_phone, confirmed_at, confirmed_by, checked_out_at, checked_out_by,
       created_at, updated_at`

// confirmTimeout bounds the serializable confirm-with-table transaction so
// a wedged transaction cannot block the table indefinitely.
const confirmTimeout = 10 * time.Second

// ReservationRepo provides data access for the reservations table. It is
// the single source of truth for occupancy: a table is occupied exactly
// while a reservation with status CONFIRMED and a null checked_out_at
// holds it. All timestamps are stored in UTC.
//
// Guarded transitions (Confirm, Reject, Checkout, CancelTx, PromoteTx,
// UpdatePending) are conditional updates whose WHERE clause re-checks the
// expected prior status. They return the affected-row count; zero rows
// means the row is gone or no longer in the expected status, and the
// caller re-reads to decide between not-found and conflict.
type ReservationRepo struct {
	db *sql.DB
}

// NewReservationRepo returns a ReservationRepo bound to the given database.
func NewReservationRepo(db *sql.DB) *ReservationRepo { return &ReservationRepo{db: db} }

// DB exposes the underlying handle so handlers can run multi-statement
// transactions (cancel + waitlist promotion).
func (r *ReservationRepo) DB() *sql.DB { return r.db }

type rowScanner interface {
	Scan(dest ...interface{}) error
}

func scanReservation(s rowScanner) (*model.Reservation, error) {
	var res model.Reservation
	var tableID, contactPhone, confirmedBy, checkedOutBy sql.NullString
	var confirmedAt, checkedOutAt sql.NullTime
	err := s.Scan(
		&res.ID, &res.UserID, &res.RestaurantID, &res.Guests, &res.ReservedAt, &res.DurationMins, &res.Status,
		&tableID, &contactPhone, &confirmedAt, &confirmedBy, &checkedOutAt, &checkedOutBy,
		&res.CreatedAt, &res.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}
	if tableID.Valid {
		v := tableID.String
		res.TableID = &v
	}
	if contactPhone.Valid {
		v := contactPhone.String
		res.ContactPhone = &v
	}
	if confirmedAt.Valid {
		t := confirmedAt.Time
		res.ConfirmedAt = &t
	}
	if confirmedBy.Valid {
		v := confirmedBy.String
		res.ConfirmedBy = &v
	}
	if checkedOutAt.Valid {
		t := checkedOutAt.Time
		res.CheckedOutAt = &t
	}
	if checkedOutBy.Valid {
		v := checkedOutBy.String
		res.CheckedOutBy = &v
	}
	return &res, nil
}

// Create inserts a new reservation and populates the generated ID and the
// database-assigned timestamps on the provided struct. Status must be
// PENDING or WAITLISTED; TableID is always null at creation.
func (r *ReservationRepo) Create(ctx context.Context, res *model.Reservation) error {
	if res.ID == "" {
		res.ID = uuid.NewString()
	}
	if res.DurationMins <= 0 {
		res.DurationMins = model.DefaultDurationMins
	}
	var contactPhone interface{}
	if res.ContactPhone != nil && strings.TrimSpace(*res.ContactPhone) != "" {
		contactPhone = strings.TrimSpace(*res.ContactPhone)
	}
	const q = `INSERT INTO reservations (id, user_id, restaurant_id, guests, reserved_at, duration_mins, status, contact_phone)
	           VALUES (?, ?, ?, ?, ?, ?, ?, ?)`
	if _, err := r.db.ExecContext(ctx, q,
		res.ID, res.UserID, res.RestaurantID, res.Guests, res.ReservedAt.UTC(), res.DurationMins, res.Status, contactPhone,
	); err != nil {
		return err
	}
	// Query the row back so created_at/updated_at reflect the DB defaults.
	created, err := r.GetByID(ctx, res.ID)
	if err != nil {
		return err
	}
	*res = *created
	return nil
}

// GetByID returns a single reservation. sql.ErrNoRows is returned when no
// reservation with the given ID exists.
func (r *ReservationRepo) GetByID(ctx context.Context, id string) (*model.Reservation, error) {
	const q = `SELECT ` + reservationCols + ` FROM reservations WHERE id = ?`
	return scanReservation(r.db.QueryRowContext(ctx, q, id))
}

// GetByIDTx is GetByID inside an existing transaction. When forUpdate is
// true the row is locked with SELECT ... FOR UPDATE for the duration of
// the transaction.
func (r *ReservationRepo) GetByIDTx(ctx context.Context, tx *sql.Tx, id string, forUpdate bool) (*model.Reservation, error) {
	q := `SELECT ` + reservationCols + ` FROM reservations WHERE id = ?`
	if forUpdate {
		q += ` FOR UPDATE`
	}
	return scanReservation(tx.QueryRowContext(ctx, q, id))
}

func collectReservations(rows *sql.Rows) ([]model.Reservation, error) {
	defer rows.Close()
	out := make([]model.Reservation, 0)
	for rows.Next() {
		res, err := scanReservation(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, *res)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return out, nil
}

// ListByUser returns all reservations of a user, newest first.
func (r *ReservationRepo) ListByUser(ctx context.Context, userID string) ([]model.Reservation, error) {
	const q = `SELECT ` + reservationCols + ` FROM reservations WHERE user_id = ? ORDER BY created_at DESC`
	rows, err := r.db.QueryContext(ctx, q, userID)
	if err != nil {
		return nil, err
	}
	return collectReservations(rows)
}

// List returns reservations for staff views, optionally filtered by status
// and/or restaurant, newest first.
func (r *ReservationRepo) List(ctx context.Context, status, restaurantID string) ([]model.Reservation, error) {
	q := `SELECT ` + reservationCols + ` FROM reservations`
	var conds []string
	var args []interface{}
	if status != "" {
		conds = append(conds, "status = ?")
		args = append(args, status)
	}
	if restaurantID != "" {
		conds = append(conds, "restaurant_id = ?")
		args = append(args, restaurantID)
	}
	if len(conds) > 0 {
		q += " WHERE " + strings.Join(conds, " AND ")
	}
	q += " ORDER BY created_at DESC"
	rows, err := r.db.QueryContext(ctx, q, args...)
	if err != nil {
		return nil, err
	}
	return collectReservations(rows)
}

// ListConfirmedBetween returns CONFIRMED reservations of a restaurant whose
// reserved_at falls inside [start, end], ordered by reserved_at ascending.
func (r *ReservationRepo) ListConfirmedBetween(ctx context.Context, restaurantID string, start, end time.Time) ([]model.Reservation, error) {
	const q = `SELECT ` + reservationCols + ` FROM reservations
	           WHERE restaurant_id = ? AND status = ? AND reserved_at BETWEEN ? AND ?
	           ORDER BY reserved_at ASC`
	rows, err := r.db.QueryContext(ctx, q, restaurantID, model.StatusConfirmed, start.UTC(), end.UTC())
	if err != nil {
		return nil, err
	}
	return collectReservations(rows)
}

// OccupiedTableIDs returns the IDs of tables currently blocked in a
// restaurant: tables held by a CONFIRMED reservation that has not been
// checked out. The requested time window is deliberately not consulted;
// any unfinished confirmed reservation blocks its table.
func (r *ReservationRepo) OccupiedTableIDs(ctx context.Context, restaurantID string) (map[string]struct{}, error) {
	const q = `SELECT table_id FROM reservations
	           WHERE restaurant_id = ? AND status = ? AND table_id IS NOT NULL AND checked_out_at IS NULL`
	rows, err := r.db.QueryContext(ctx, q, restaurantID, model.StatusConfirmed)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	blocked := make(map[string]struct{})
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, err
		}
		blocked[id] = struct{}{}
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return blocked, nil
}

// HasActiveEngagement reports whether the user already has a PENDING,
// WAITLISTED or CONFIRMED reservation at the restaurant. Used to enforce
// one active engagement per user per restaurant on waitlist join.
func (r *ReservationRepo) HasActiveEngagement(ctx context.Context, userID, restaurantID string) (bool, error) {
	const q = `SELECT COUNT(*) FROM reservations
	           WHERE user_id = ? AND restaurant_id = ? AND status IN (?, ?, ?)`
	var n int
	err := r.db.QueryRowContext(ctx, q, userID, restaurantID,
		model.StatusPending, model.StatusWaitlisted, model.StatusConfirmed).Scan(&n)
	if err != nil {
		return false, err
	}
	return n > 0, nil
}

// Confirm flips a PENDING reservation to CONFIRMED without binding a
// table. Returns the number of rows updated; zero means the reservation
// is missing or no longer PENDING.
func (r *ReservationRepo) Confirm(ctx context.Context, id, actor string) (int64, error) {
	const q = `UPDATE reservations
	           SET status = ?, confirmed_at = UTC_TIMESTAMP(), confirmed_by = ?
	           WHERE id = ? AND status = ?`
	result, err := r.db.ExecContext(ctx, q, model.StatusConfirmed, actor, id, model.StatusPending)
	if err != nil {
		return 0, err
	}
	return result.RowsAffected()
}

// Reject flips a PENDING reservation to REJECTED, recording the actor in
// confirmed_by. Zero rows means missing or already processed.
func (r *ReservationRepo) Reject(ctx context.Context, id, actor string) (int64, error) {
	const q = `UPDATE reservations
	           SET status = ?, confirmed_by = ?
	           WHERE id = ? AND status = ?`
	result, err := r.db.ExecContext(ctx, q, model.StatusRejected, actor, id, model.StatusPending)
	if err != nil {
		return 0, err
	}
	return result.RowsAffected()
}

// UpdatePending applies the provided field changes to a reservation that
// is still PENDING. Nil pointers leave the column untouched; an empty
// contactPhone clears the override. Zero rows means missing or not
// PENDING anymore.
func (r *ReservationRepo) UpdatePending(ctx context.Context, id string, reservedAt *time.Time, guests *int, contactPhone *string) (int64, error) {
	var sets []string
	var args []interface{}
	if reservedAt != nil {
		sets = append(sets, "reserved_at = ?")
		args = append(args, reservedAt.UTC())
	}
	if guests != nil {
		sets = append(sets, "guests = ?")
		args = append(args, *guests)
	}
	if contactPhone != nil {
		sets = append(sets, "contact_phone = ?")
		if trimmed := strings.TrimSpace(*contactPhone); trimmed != "" {
			args = append(args, trimmed)
		} else {
			args = append(args, nil)
		}
	}
	if len(sets) == 0 {
		return 0, ErrConflict
	}
	q := `UPDATE reservations SET ` + strings.Join(sets, ", ") + ` WHERE id = ? AND status = ?`
	args = append(args, id, model.StatusPending)
	result, err := r.db.ExecContext(ctx, q, args...)
	if err != nil {
		return 0, err
	}
	return result.RowsAffected()
}

// Checkout marks a confirmed, table-bound reservation as checked out,
// freeing the table. The WHERE clause guards every checkout precondition
// at write time, so a second checkout of the same reservation affects
// zero rows.
func (r *ReservationRepo) Checkout(ctx context.Context, id, actor string) (int64, error) {
	const q = `UPDATE reservations
	           SET checked_out_at = UTC_TIMESTAMP(), checked_out_by = ?
	           WHERE id = ? AND status = ? AND table_id IS NOT NULL AND checked_out_at IS NULL`
	result, err := r.db.ExecContext(ctx, q, actor, id, model.StatusConfirmed)
	if err != nil {
		return 0, err
	}
	return result.RowsAffected()
}

// CancelTx sets a reservation to CANCELLED inside an existing transaction,
// guarded on the expected prior status.
func (r *ReservationRepo) CancelTx(ctx context.Context, tx *sql.Tx, id, fromStatus string) (int64, error) {
	const q = `UPDATE reservations SET status = ? WHERE id = ? AND status = ?`
	result, err := tx.ExecContext(ctx, q, model.StatusCancelled, id, fromStatus)
	if err != nil {
		return 0, err
	}
	return result.RowsAffected()
}

// OldestWaitlistedTx returns the ID of the oldest WAITLISTED reservation
// for a restaurant, locking the row so a concurrent cancellation cannot
// promote the same entry twice. sql.ErrNoRows when the waitlist is empty.
func (r *ReservationRepo) OldestWaitlistedTx(ctx context.Context, tx *sql.Tx, restaurantID string) (string, error) {
	const q = `SELECT id FROM reservations
	           WHERE restaurant_id = ? AND status = ?
	           ORDER BY created_at ASC LIMIT 1 FOR UPDATE`
	var id string
	err := tx.QueryRowContext(ctx, q, restaurantID, model.StatusWaitlisted).Scan(&id)
	if err != nil {
		return "", err
	}
	return id, nil
}

// PromoteTx advances a WAITLISTED reservation to PENDING inside an
// existing transaction.
func (r *ReservationRepo) PromoteTx(ctx context.Context, tx *sql.Tx, id string) (int64, error) {
	const q = `UPDATE reservations SET status = ? WHERE id = ? AND status = ?`
	result, err := tx.ExecContext(ctx, q, model.StatusPending, id, model.StatusWaitlisted)
	if err != nil {
		return 0, err
	}
	return result.RowsAffected()
}

// ConfirmWithTable confirms a PENDING reservation and binds it to a table
// under serializable isolation. The protocol:
//
//  1. re-read the reservation inside the transaction (FOR UPDATE);
//  2. fail ErrConflict unless it is still PENDING;
//  3. fail ErrTableOccupied when another CONFIRMED, not-checked-out
//     reservation in the same restaurant holds the table;
//  4. commit status=CONFIRMED, table_id, confirmed_at/by.
//
// Two concurrent calls against the same table cannot both pass step 3:
// the isolation level forces one transaction to abort, and the abort is
// surfaced as ErrTableOccupied so the losing staff member can retry with
// another table. The whole transaction is bounded by confirmTimeout.
func (r *ReservationRepo) ConfirmWithTable(ctx context.Context, id, tableID, actor string) (*model.Reservation, error) {
	ctx, cancel := context.WithTimeout(ctx, confirmTimeout)
	defer cancel()

	tx, err := r.db.BeginTx(ctx, &sql.TxOptions{Isolation: sql.LevelSerializable})
	if err != nil {
		return nil, err
	}
	committed := false
	defer func() {
		if !committed {
			_ = tx.Rollback()
		}
	}()

	res, err := r.GetByIDTx(ctx, tx, id, true)
	if err != nil {
		return nil, err
	}
	if res.Status != model.StatusPending {
		return nil, ErrConflict
	}

	const conflictQ = `SELECT id FROM reservations
	                   WHERE restaurant_id = ? AND table_id = ? AND status = ? AND checked_out_at IS NULL AND id <> ?
	                   LIMIT 1 FOR UPDATE`
	var conflictID string
	err = tx.QueryRowContext(ctx, conflictQ, res.RestaurantID, tableID, model.StatusConfirmed, id).Scan(&conflictID)
	switch {
	case err == nil:
		return nil, ErrTableOccupied
	case errors.Is(err, sql.ErrNoRows):
		// table free, proceed
	case isSerializationFailure(err):
		return nil, ErrTableOccupied
	default:
		return nil, err
	}

	const updateQ = `UPDATE reservations
	                 SET status = ?, table_id = ?, confirmed_at = UTC_TIMESTAMP(), confirmed_by = ?
	                 WHERE id = ? AND status = ?`
	result, err := tx.ExecContext(ctx, updateQ, model.StatusConfirmed, tableID, actor, id, model.StatusPending)
	if err != nil {
		if isSerializationFailure(err) {
			return nil, ErrTableOccupied
		}
		return nil, err
	}
	rows, err := result.RowsAffected()
	if err != nil {
		return nil, err
	}
	if rows == 0 {
		return nil, ErrConflict
	}
	// Read the result back inside the transaction: once the commit
	// succeeds the confirmation must never be reported as a failure.
	updated, err := r.GetByIDTx(ctx, tx, id, false)
	if err != nil {
		return nil, err
	}
	if err := tx.Commit(); err != nil {
		if isSerializationFailure(err) {
			return nil, ErrTableOccupied
		}
		return nil, err
	}
	committed = true
	return updated, nil
}

// ExpirePending bulk-cancels every PENDING reservation created before the
// cutoff. The WHERE clause re-checks the status at write time, so a
// reservation confirmed or rejected between a reaper's read and write is
// excluded without any extra locking.
func (r *ReservationRepo) ExpirePending(ctx context.Context, cutoff time.Time) (int64, error) {
	const q = `UPDATE reservations SET status = ? WHERE status = ? AND created_at < ?`
	result, err := r.db.ExecContext(ctx, q, model.StatusCancelled, model.StatusPending, cutoff.UTC())
	if err != nil {
		return 0, err
	}
	return result.RowsAffected()
}

// isSerializationFailure reports whether the error is a MySQL deadlock
// (1213) or lock wait timeout (1205), the two ways a serializable
// transaction loses a confirmation race.
func isSerializationFailure(err error) bool {
	var myErr *mysql.MySQLError
	if errors.As(err, &myErr) {
		return myErr.Number == 1213 || myErr.Number == 1205
	}
	return false
}
