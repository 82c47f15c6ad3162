package handler

import (
	"context"
	"encoding/json"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/labstack/echo/v4"
	"github.com/stretchr/testify/require"

	"github.com/dinebook/reservation/internal/directory"
	"github.com/dinebook/reservation/internal/repository"
)

// Test fakes for the collaborator directories.

type fakeTables struct {
	tables []directory.Table
	err    error
}

func (f *fakeTables) List(context.Context, string) ([]directory.Table, error) {
	return f.tables, f.err
}

type fakeUsers struct {
	users []directory.PublicUser
	err   error
}

func (f *fakeUsers) Lookup(context.Context, []string, string) ([]directory.PublicUser, error) {
	return f.users, f.err
}

type fakeRestaurants struct {
	restaurants []directory.Restaurant
	err         error
}

func (f *fakeRestaurants) List(context.Context) ([]directory.Restaurant, error) {
	return f.restaurants, f.err
}

var reservationColumns = []string{
	"id", "user_id", "restaurant_id", "guests", "reserved_at", "duration_mins", "status",
	"table_id", "contact_phone", "confirmed_at", "confirmed_by", "checked_out_at", "checked_out_by",
	"created_at", "updated_at",
}

func reservationRow(id, owner, status string, tableID interface{}) *sqlmock.Rows {
	now := time.Now().UTC()
	return sqlmock.NewRows(reservationColumns).AddRow(
		id, owner, "rest-1", 2, now.Add(24*time.Hour), 90, status,
		tableID, nil, nil, nil, nil, nil,
		now, now,
	)
}

func newMockRepo(t *testing.T) (*repository.ReservationRepo, sqlmock.Sqlmock) {
	t.Helper()
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })
	return repository.NewReservationRepo(db), mock
}

// newContext builds an Echo context with an authenticated caller.
func newContext(t *testing.T, method, target, body, uid, role string) (echo.Context, *httptest.ResponseRecorder) {
	t.Helper()
	e := echo.New()
	req := httptest.NewRequest(method, target, strings.NewReader(body))
	if body != "" {
		req.Header.Set(echo.HeaderContentType, echo.MIMEApplicationJSON)
	}
	rec := httptest.NewRecorder()
	c := e.NewContext(req, rec)
	if uid != "" {
		c.Set("user_id", uid)
	}
	if role != "" {
		c.Set("role", role)
	}
	return c, rec
}

func errorField(t *testing.T, rec *httptest.ResponseRecorder) string {
	t.Helper()
	var out map[string]interface{}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &out))
	s, _ := out["error"].(string)
	return s
}
