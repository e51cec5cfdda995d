package library

import (
	"context"
	"iter"
	"log/slog"
	"time"
)

// DefaultPopularLimit is used by MostPopular when no positive limit is given.
const DefaultPopularLimit = 5

// Circulation lends and takes back books and reports on borrowing.
//
// A book's Available flag mirrors whether it has an active borrow record.
// Both change together inside Store.CheckoutBook and Store.CheckinBook.
type Circulation struct {
	store Store
	now   func() time.Time
	log   *slog.Logger
}

func NewCirculation(store Store, clock func() time.Time, logger *slog.Logger) *Circulation {
	if clock == nil {
		clock = time.Now
	}
	return &Circulation{store: store, now: clock, log: logger}
}

// Borrow lends the book with the isbn to the session user and returns the due date.
func (c *Circulation) Borrow(ctx context.Context, s *Session, isbn string) (time.Time, error) {
	if err := authorize(s, OpBorrow); err != nil {
		return time.Time{}, err
	}
	book, err := c.store.FindBookByISBN(ctx, isbn)
	if err != nil {
		return time.Time{}, err
	}
	if !book.Available {
		return time.Time{}, ErrUnavailable
	}

	borrowed := utc(c.now())
	rec := &BorrowRecord{
		ID:         newID(),
		UserID:     s.UserID,
		BookID:     book.ID,
		BorrowedAt: borrowed,
		DueAt:      borrowed.Add(LoanPeriod),
	}
	if err := c.store.CheckoutBook(ctx, rec); err != nil {
		return time.Time{}, err
	}
	c.log.DebugContext(ctx, "book borrowed", "isbn", isbn, "user", s.Email, "due", rec.DueAt)
	return rec.DueAt, nil
}

// Return takes the book with the isbn back from the session user.
func (c *Circulation) Return(ctx context.Context, s *Session, isbn string) error {
	if err := authorize(s, OpReturn); err != nil {
		return err
	}
	book, err := c.store.FindBookByISBN(ctx, isbn)
	if err != nil {
		return err
	}
	if book.Available {
		return ErrAlreadyReturned
	}
	if err := c.store.CheckinBook(ctx, s.UserID, book.ID, utc(c.now())); err != nil {
		return err
	}
	c.log.DebugContext(ctx, "book returned", "isbn", isbn, "user", s.Email)
	return nil
}

// History yields the borrow history of the session user, oldest first.
// The sequence reads from the store as it is consumed.
func (c *Circulation) History(ctx context.Context, s *Session) iter.Seq2[HistoryEntry, error] {
	if err := authorize(s, OpHistory); err != nil {
		return func(yield func(HistoryEntry, error) bool) {
			yield(HistoryEntry{}, err)
		}
	}
	return c.store.History(ctx, s.UserID)
}

// MostPopular returns up to limit books by borrow count, highest first.
// Ties go to the book added first.
func (c *Circulation) MostPopular(ctx context.Context, limit int) ([]PopularBook, error) {
	if limit <= 0 {
		limit = DefaultPopularLimit
	}
	return c.store.MostPopular(ctx, limit)
}

// Overdue lists borrows whose due date has passed. Unless includeReturned is
// set only books that are still out are reported.
func (c *Circulation) Overdue(ctx context.Context, s *Session, includeReturned bool) ([]OverdueEntry, error) {
	if err := authorize(s, OpOverdueReport); err != nil {
		return nil, err
	}
	return c.store.Overdue(ctx, c.now(), includeReturned)
}

// GenrePopularity counts borrows per genre.
func (c *Circulation) GenrePopularity(ctx context.Context) ([]GenreCount, error) {
	return c.store.GenrePopularity(ctx)
}
