// Package repository defines sentinel error values shared by the data
// access layer. Handlers use these to pick the HTTP status for a failed
// operation: ErrForbidden maps to 403, ErrConflict and ErrTableOccupied
// to 409. Missing rows are reported as sql.ErrNoRows and map to 404.
package repository

import "errors"

// ErrForbidden is returned when the caller attempts an operation on a
// reservation owned by someone else.
var ErrForbidden = errors.New("forbidden")

// ErrConflict is returned when a state-transition guard fails: the
// reservation is no longer in the status the operation requires, usually
// because another actor processed it first.
var ErrConflict = errors.New("conflict")

// ErrTableOccupied is returned by ConfirmWithTable when the requested
// table still has a confirmed reservation that has not been checked out.
// The loser of a concurrent confirmation race receives this error and is
// expected to retry with a different table.
var ErrTableOccupied = errors.New("table is currently occupied - check out the existing reservation before assigning this table")
