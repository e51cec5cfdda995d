package library

import (
	"context"
	"fmt"
	"iter"
	"time"
)

// Store is the record store holding users, books and borrow history.
// Lookups that match nothing return ErrNotFound; database failures are
// wrapped in ErrStore.
type Store interface {
	InsertBook(ctx context.Context, b *Book) error
	// DeleteBooks removes every book with the isbn and reports how many went.
	DeleteBooks(ctx context.Context, isbn string) (int64, error)
	// FindBookByISBN returns the first book with the isbn in insertion order.
	FindBookByISBN(ctx context.Context, isbn string) (*Book, error)
	ListBooks(ctx context.Context) ([]*Book, error)
	// SearchBooks matches term as a case-insensitive substring of title, author or genre.
	SearchBooks(ctx context.Context, term string) ([]*Book, error)

	InsertUser(ctx context.Context, u *User) error
	DeleteUsers(ctx context.Context, email string) (int64, error)
	FindUserByEmail(ctx context.Context, email string) (*User, error)
	ListUsers(ctx context.Context) ([]*User, error)

	// CheckoutBook inserts rec and marks its book unavailable as one step.
	// It returns ErrUnavailable, and stores nothing, when the book is already lent out.
	CheckoutBook(ctx context.Context, rec *BorrowRecord) error
	// CheckinBook closes the active record of userID for bookID and marks the
	// book available as one step. It returns ErrNoActiveBorrow when there is
	// no such record.
	CheckinBook(ctx context.Context, userID, bookID string, at time.Time) error
	// BorrowRecords lists the records of a book, oldest first.
	BorrowRecords(ctx context.Context, bookID string) ([]*BorrowRecord, error)

	// History yields the records of userID joined with their books. The
	// sequence reads the database as it is consumed and can be ranged over once.
	History(ctx context.Context, userID string) iter.Seq2[HistoryEntry, error]
	MostPopular(ctx context.Context, limit int) ([]PopularBook, error)
	// Overdue lists records with a due date before now. Returned records are
	// included only when includeReturned is set.
	Overdue(ctx context.Context, now time.Time, includeReturned bool) ([]OverdueEntry, error)
	GenrePopularity(ctx context.Context) ([]GenreCount, error)

	Close() error
}

// OpenStore connects to the store cfg.Driver names and prepares its schema.
func OpenStore(ctx context.Context, cfg Config) (Store, error) {
	cfg = cfg.withDefaults()
	switch cfg.Driver {
	case DriverSQLite, DriverPostgres, DriverPgx:
		return NewDatabase(ctx, cfg.Driver, cfg.DSN, cfg.Logger)
	case DriverMongo:
		return NewMongoStore(ctx, cfg.DSN, cfg.Database, cfg.Logger)
	}
	return nil, fmt.Errorf("unknown store driver %q", cfg.Driver)
}

// utc normalizes timestamps to the precision every backend can round-trip.
// BSON dates carry milliseconds.
func utc(t time.Time) time.Time {
	return t.UTC().Truncate(time.Millisecond)
}
