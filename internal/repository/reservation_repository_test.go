package repository

import (
	"context"
	"database/sql"
	"regexp"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/go-sql-driver/mysql"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dinebook/reservation/internal/model"
)

var reservationColumns = []string{
	"id", "user_id", "restaurant_id", "guests", "reserved_at", "duration_mins", "status",
	"table_id", "contact_phone", "confirmed_at", "confirmed_by", "checked_out_at", "checked_out_by",
	"created_at", "updated_at",
}

func newRepo(t *testing.T) (*ReservationRepo, sqlmock.Sqlmock) {
	t.Helper()
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })
	return NewReservationRepo(db), mock
}

func reservationRow(id, status string, tableID interface{}) *sqlmock.Rows {
	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	return sqlmock.NewRows(reservationColumns).AddRow(
		id, "user-1", "rest-1", 2, now.Add(24*time.Hour), 90, status,
		tableID, nil, nil, nil, nil, nil,
		now, now,
	)
}

func TestGetByID(t *testing.T) {
	repo, mock := newRepo(t)

	mock.ExpectQuery(regexp.QuoteMeta("FROM reservations WHERE id = ?")).
		WithArgs("res-1").
		WillReturnRows(reservationRow("res-1", model.StatusPending, nil))

	res, err := repo.GetByID(context.Background(), "res-1")
	require.NoError(t, err)
	assert.Equal(t, "res-1", res.ID)
	assert.Equal(t, model.StatusPending, res.Status)
	assert.Nil(t, res.TableID)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestGetByIDNotFound(t *testing.T) {
	repo, mock := newRepo(t)

	mock.ExpectQuery(regexp.QuoteMeta("FROM reservations WHERE id = ?")).
		WithArgs("missing").
		WillReturnError(sql.ErrNoRows)

	_, err := repo.GetByID(context.Background(), "missing")
	assert.ErrorIs(t, err, sql.ErrNoRows)
}

func TestConfirmGuardedUpdate(t *testing.T) {
	repo, mock := newRepo(t)

	t.Run("pending row confirms", func(t *testing.T) {
		mock.ExpectExec(regexp.QuoteMeta("UPDATE reservations SET status = ?, confirmed_at = UTC_TIMESTAMP(), confirmed_by = ?")).
			WithArgs(model.StatusConfirmed, "staff-1", "res-1", model.StatusPending).
			WillReturnResult(sqlmock.NewResult(0, 1))

		rows, err := repo.Confirm(context.Background(), "res-1", "staff-1")
		require.NoError(t, err)
		assert.Equal(t, int64(1), rows)
	})

	t.Run("already processed row affects nothing", func(t *testing.T) {
		mock.ExpectExec(regexp.QuoteMeta("UPDATE reservations SET status = ?, confirmed_at = UTC_TIMESTAMP(), confirmed_by = ?")).
			WithArgs(model.StatusConfirmed, "staff-1", "res-1", model.StatusPending).
			WillReturnResult(sqlmock.NewResult(0, 0))

		rows, err := repo.Confirm(context.Background(), "res-1", "staff-1")
		require.NoError(t, err)
		assert.Zero(t, rows)
	})

	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestCheckoutGuards(t *testing.T) {
	repo, mock := newRepo(t)

	// The WHERE clause carries every precondition, so a second checkout is
	// just a zero-row update.
	mock.ExpectExec(regexp.QuoteMeta("WHERE id = ? AND status = ? AND table_id IS NOT NULL AND checked_out_at IS NULL")).
		WithArgs("staff-1", "res-1", model.StatusConfirmed).
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectExec(regexp.QuoteMeta("WHERE id = ? AND status = ? AND table_id IS NOT NULL AND checked_out_at IS NULL")).
		WithArgs("staff-1", "res-1", model.StatusConfirmed).
		WillReturnResult(sqlmock.NewResult(0, 0))

	rows, err := repo.Checkout(context.Background(), "res-1", "staff-1")
	require.NoError(t, err)
	assert.Equal(t, int64(1), rows)

	rows, err = repo.Checkout(context.Background(), "res-1", "staff-1")
	require.NoError(t, err)
	assert.Zero(t, rows)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestUpdatePending(t *testing.T) {
	repo, mock := newRepo(t)
	when := time.Date(2026, 3, 10, 19, 0, 0, 0, time.UTC)
	guests := 4

	t.Run("partial update touches only given columns", func(t *testing.T) {
		mock.ExpectExec(regexp.QuoteMeta("UPDATE reservations SET reserved_at = ?, guests = ? WHERE id = ? AND status = ?")).
			WithArgs(when, guests, "res-1", model.StatusPending).
			WillReturnResult(sqlmock.NewResult(0, 1))

		rows, err := repo.UpdatePending(context.Background(), "res-1", &when, &guests, nil)
		require.NoError(t, err)
		assert.Equal(t, int64(1), rows)
	})

	t.Run("empty phone clears the override", func(t *testing.T) {
		empty := "  "
		mock.ExpectExec(regexp.QuoteMeta("UPDATE reservations SET contact_phone = ? WHERE id = ? AND status = ?")).
			WithArgs(nil, "res-1", model.StatusPending).
			WillReturnResult(sqlmock.NewResult(0, 1))

		rows, err := repo.UpdatePending(context.Background(), "res-1", nil, nil, &empty)
		require.NoError(t, err)
		assert.Equal(t, int64(1), rows)
	})

	t.Run("no fields is a conflict", func(t *testing.T) {
		_, err := repo.UpdatePending(context.Background(), "res-1", nil, nil, nil)
		assert.ErrorIs(t, err, ErrConflict)
	})

	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestOccupiedTableIDs(t *testing.T) {
	repo, mock := newRepo(t)

	mock.ExpectQuery(regexp.QuoteMeta("SELECT table_id FROM reservations")).
		WithArgs("rest-1", model.StatusConfirmed).
		WillReturnRows(sqlmock.NewRows([]string{"table_id"}).AddRow("table-1").AddRow("table-3"))

	blocked, err := repo.OccupiedTableIDs(context.Background(), "rest-1")
	require.NoError(t, err)
	assert.Len(t, blocked, 2)
	_, ok := blocked["table-1"]
	assert.True(t, ok)
	_, ok = blocked["table-2"]
	assert.False(t, ok)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestHasActiveEngagement(t *testing.T) {
	repo, mock := newRepo(t)

	mock.ExpectQuery(regexp.QuoteMeta("SELECT COUNT(*) FROM reservations")).
		WithArgs("user-1", "rest-1", model.StatusPending, model.StatusWaitlisted, model.StatusConfirmed).
		WillReturnRows(sqlmock.NewRows([]string{"count"}).AddRow(1))

	active, err := repo.HasActiveEngagement(context.Background(), "user-1", "rest-1")
	require.NoError(t, err)
	assert.True(t, active)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestConfirmWithTable(t *testing.T) {
	t.Run("binds a free table", func(t *testing.T) {
		repo, mock := newRepo(t)

		mock.ExpectBegin()
		mock.ExpectQuery(regexp.QuoteMeta("WHERE id = ? FOR UPDATE")).
			WithArgs("res-1").
			WillReturnRows(reservationRow("res-1", model.StatusPending, nil))
		mock.ExpectQuery(regexp.QuoteMeta("AND id <> ? LIMIT 1 FOR UPDATE")).
			WithArgs("rest-1", "table-1", model.StatusConfirmed, "res-1").
			WillReturnError(sql.ErrNoRows)
		mock.ExpectExec(regexp.QuoteMeta("SET status = ?, table_id = ?, confirmed_at = UTC_TIMESTAMP(), confirmed_by = ?")).
			WithArgs(model.StatusConfirmed, "table-1", "staff-1", "res-1", model.StatusPending).
			WillReturnResult(sqlmock.NewResult(0, 1))
		// The result is read back before the commit; nothing runs after it.
		mock.ExpectQuery(regexp.QuoteMeta("FROM reservations WHERE id = ?")).
			WithArgs("res-1").
			WillReturnRows(reservationRow("res-1", model.StatusConfirmed, "table-1"))
		mock.ExpectCommit()

		res, err := repo.ConfirmWithTable(context.Background(), "res-1", "table-1", "staff-1")
		require.NoError(t, err)
		assert.Equal(t, model.StatusConfirmed, res.Status)
		require.NotNil(t, res.TableID)
		assert.Equal(t, "table-1", *res.TableID)
		assert.NoError(t, mock.ExpectationsWereMet())
	})

	t.Run("occupied table loses", func(t *testing.T) {
		repo, mock := newRepo(t)

		mock.ExpectBegin()
		mock.ExpectQuery(regexp.QuoteMeta("WHERE id = ? FOR UPDATE")).
			WithArgs("res-1").
			WillReturnRows(reservationRow("res-1", model.StatusPending, nil))
		mock.ExpectQuery(regexp.QuoteMeta("AND id <> ? LIMIT 1 FOR UPDATE")).
			WithArgs("rest-1", "table-1", model.StatusConfirmed, "res-1").
			WillReturnRows(sqlmock.NewRows([]string{"id"}).AddRow("res-other"))
		mock.ExpectRollback()

		_, err := repo.ConfirmWithTable(context.Background(), "res-1", "table-1", "staff-1")
		assert.ErrorIs(t, err, ErrTableOccupied)
		assert.NoError(t, mock.ExpectationsWereMet())
	})

	t.Run("already processed reservation conflicts", func(t *testing.T) {
		repo, mock := newRepo(t)

		mock.ExpectBegin()
		mock.ExpectQuery(regexp.QuoteMeta("WHERE id = ? FOR UPDATE")).
			WithArgs("res-1").
			WillReturnRows(reservationRow("res-1", model.StatusCancelled, nil))
		mock.ExpectRollback()

		_, err := repo.ConfirmWithTable(context.Background(), "res-1", "table-1", "staff-1")
		assert.ErrorIs(t, err, ErrConflict)
		assert.NoError(t, mock.ExpectationsWereMet())
	})

	t.Run("deadlock surfaces as occupied", func(t *testing.T) {
		repo, mock := newRepo(t)

		mock.ExpectBegin()
		mock.ExpectQuery(regexp.QuoteMeta("WHERE id = ? FOR UPDATE")).
			WithArgs("res-1").
			WillReturnRows(reservationRow("res-1", model.StatusPending, nil))
		mock.ExpectQuery(regexp.QuoteMeta("AND id <> ? LIMIT 1 FOR UPDATE")).
			WithArgs("rest-1", "table-1", model.StatusConfirmed, "res-1").
			WillReturnError(sql.ErrNoRows)
		mock.ExpectExec(regexp.QuoteMeta("SET status = ?, table_id = ?, confirmed_at = UTC_TIMESTAMP(), confirmed_by = ?")).
			WithArgs(model.StatusConfirmed, "table-1", "staff-1", "res-1", model.StatusPending).
			WillReturnError(&mysql.MySQLError{Number: 1213, Message: "Deadlock found when trying to get lock"})
		mock.ExpectRollback()

		_, err := repo.ConfirmWithTable(context.Background(), "res-1", "table-1", "staff-1")
		assert.ErrorIs(t, err, ErrTableOccupied)
		assert.NoError(t, mock.ExpectationsWereMet())
	})

	t.Run("missing reservation", func(t *testing.T) {
		repo, mock := newRepo(t)

		mock.ExpectBegin()
		mock.ExpectQuery(regexp.QuoteMeta("WHERE id = ? FOR UPDATE")).
			WithArgs("missing").
			WillReturnError(sql.ErrNoRows)
		mock.ExpectRollback()

		_, err := repo.ConfirmWithTable(context.Background(), "missing", "table-1", "staff-1")
		assert.ErrorIs(t, err, sql.ErrNoRows)
		assert.NoError(t, mock.ExpectationsWereMet())
	})
}

func TestCancelAndPromote(t *testing.T) {
	repo, mock := newRepo(t)

	mock.ExpectBegin()
	mock.ExpectExec(regexp.QuoteMeta("UPDATE reservations SET status = ? WHERE id = ? AND status = ?")).
		WithArgs(model.StatusCancelled, "res-1", model.StatusPending).
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectQuery(regexp.QuoteMeta("ORDER BY created_at ASC LIMIT 1 FOR UPDATE")).
		WithArgs("rest-1", model.StatusWaitlisted).
		WillReturnRows(sqlmock.NewRows([]string{"id"}).AddRow("res-wait"))
	mock.ExpectExec(regexp.QuoteMeta("UPDATE reservations SET status = ? WHERE id = ? AND status = ?")).
		WithArgs(model.StatusPending, "res-wait", model.StatusWaitlisted).
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectCommit()

	ctx := context.Background()
	tx, err := repo.DB().BeginTx(ctx, nil)
	require.NoError(t, err)

	rows, err := repo.CancelTx(ctx, tx, "res-1", model.StatusPending)
	require.NoError(t, err)
	assert.Equal(t, int64(1), rows)

	oldest, err := repo.OldestWaitlistedTx(ctx, tx, "rest-1")
	require.NoError(t, err)
	assert.Equal(t, "res-wait", oldest)

	rows, err = repo.PromoteTx(ctx, tx, oldest)
	require.NoError(t, err)
	assert.Equal(t, int64(1), rows)

	require.NoError(t, tx.Commit())
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestOldestWaitlistedTxEmpty(t *testing.T) {
	repo, mock := newRepo(t)

	mock.ExpectBegin()
	mock.ExpectQuery(regexp.QuoteMeta("ORDER BY created_at ASC LIMIT 1 FOR UPDATE")).
		WithArgs("rest-1", model.StatusWaitlisted).
		WillReturnError(sql.ErrNoRows)
	mock.ExpectRollback()

	ctx := context.Background()
	tx, err := repo.DB().BeginTx(ctx, nil)
	require.NoError(t, err)
	defer tx.Rollback()

	_, err = repo.OldestWaitlistedTx(ctx, tx, "rest-1")
	assert.ErrorIs(t, err, sql.ErrNoRows)
}

func TestExpirePending(t *testing.T) {
	repo, mock := newRepo(t)
	cutoff := time.Date(2026, 3, 1, 11, 45, 0, 0, time.UTC)

	mock.ExpectExec(regexp.QuoteMeta("UPDATE reservations SET status = ? WHERE status = ? AND created_at < ?")).
		WithArgs(model.StatusCancelled, model.StatusPending, cutoff).
		WillReturnResult(sqlmock.NewResult(0, 3))

	n, err := repo.ExpirePending(context.Background(), cutoff)
	require.NoError(t, err)
	assert.Equal(t, int64(3), n)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestCreatePopulatesDefaults(t *testing.T) {
	repo, mock := newRepo(t)
	when := time.Date(2026, 3, 10, 19, 0, 0, 0, time.UTC)

	mock.ExpectExec(regexp.QuoteMeta("INSERT INTO reservations")).
		WithArgs(sqlmock.AnyArg(), "user-1", "rest-1", 2, when, 90, model.StatusPending, nil).
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectQuery(regexp.QuoteMeta("FROM reservations WHERE id = ?")).
		WithArgs(sqlmock.AnyArg()).
		WillReturnRows(reservationRow("res-generated", model.StatusPending, nil))

	res := &model.Reservation{
		UserID:       "user-1",
		RestaurantID: "rest-1",
		Guests:       2,
		ReservedAt:   when,
		Status:       model.StatusPending,
	}
	require.NoError(t, repo.Create(context.Background(), res))
	assert.Equal(t, "res-generated", res.ID)
	assert.False(t, res.CreatedAt.IsZero())
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestIsSerializationFailure(t *testing.T) {
	assert.True(t, isSerializationFailure(&mysql.MySQLError{Number: 1213}))
	assert.True(t, isSerializationFailure(&mysql.MySQLError{Number: 1205}))
	assert.False(t, isSerializationFailure(&mysql.MySQLError{Number: 1062}))
	assert.False(t, isSerializationFailure(sql.ErrNoRows))
}
