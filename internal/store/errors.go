package store

import (
	"errors"

	"modernc.org/sqlite"
	sqlite3 "modernc.org/sqlite/lib"
)

var (
	// ErrInviteCodeTaken is returned when a generated invite code collides
	// with the code of another couple.
	ErrInviteCodeTaken = errors.New("invite code already in use")
	// ErrAccountPaired is returned when a membership write targets an account
	// that already belongs to a couple.
	ErrAccountPaired = errors.New("account already in a couple")
	// ErrCoupleNotFound is returned when an invite code resolves to no couple.
	ErrCoupleNotFound = errors.New("couple not found")
	// ErrCoupleFull is returned when a couple has no room for another member.
	ErrCoupleFull = errors.New("couple is full")
	// ErrEmailTaken is returned when registering an email that already exists.
	ErrEmailTaken = errors.New("email already registered")
)

// isUniqueViolation reports whether err is a SQLite UNIQUE constraint failure.
func isUniqueViolation(err error) bool {
	var se *sqlite.Error
	if errors.As(err, &se) {
		return se.Code() == sqlite3.SQLITE_CONSTRAINT_UNIQUE
	}
	return false
}

// IsBusy reports whether err is a transient lock error that is safe to retry
// by running the whole operation again.
func IsBusy(err error) bool {
	var se *sqlite.Error
	if errors.As(err, &se) {
		code := se.Code() & 0xff
		return code == sqlite3.SQLITE_BUSY || code == sqlite3.SQLITE_LOCKED
	}
	return false
}
