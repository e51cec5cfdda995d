package library

import (
	"errors"
	"fmt"
)

var (
	// ErrPermission is returned when the session lacks the role an operation requires.
	ErrPermission = errors.New("permission denied")

	// ErrNotFound is returned when an isbn or email lookup has no match.
	ErrNotFound = errors.New("not found")

	// ErrDuplicateUser is returned when registering an email that is already taken.
	ErrDuplicateUser = errors.New("user with this email already exists")

	// ErrInvalidCredentials does not say whether the email or the password was wrong.
	ErrInvalidCredentials = errors.New("invalid email or password")

	// ErrUnavailable is returned when borrowing a book that is lent out.
	ErrUnavailable = errors.New("book is currently lent out")

	// ErrAlreadyReturned is returned when returning a book that is available.
	ErrAlreadyReturned = errors.New("book was already returned")

	// ErrNoActiveBorrow is returned when the user holds no active borrow record for the book.
	ErrNoActiveBorrow = errors.New("no active borrow record for this book")

	// ErrInvalidRecord is returned when a record fails validation.
	ErrInvalidRecord = errors.New("invalid record")

	// ErrStore wraps any failure of the underlying database.
	ErrStore = errors.New("store failure")
)

func storeErr(op string, err error) error {
	return fmt.Errorf("%w: %s: %w", ErrStore, op, err)
}
