package library

import (
	"context"
	"log/slog"

	"github.com/google/uuid"
)

// Catalog manages the books of the library.
type Catalog struct {
	store Store
	log   *slog.Logger
}

func NewCatalog(store Store, logger *slog.Logger) *Catalog {
	return &Catalog{store: store, log: logger}
}

func newID() string { return uuid.Must(uuid.NewV7()).String() }

// AddBook inserts a new, available book. ISBNs are not checked for duplicates.
func (c *Catalog) AddBook(ctx context.Context, s *Session, in BookInput) (*Book, error) {
	if err := authorize(s, OpAddBook); err != nil {
		return nil, err
	}
	b := &Book{
		ID:        newID(),
		Title:     in.Title,
		Author:    in.Author,
		Genre:     in.Genre,
		ISBN:      in.ISBN,
		Year:      in.Year,
		Rating:    in.Rating,
		Available: true,
	}
	if err := c.store.InsertBook(ctx, b); err != nil {
		return nil, err
	}
	c.log.DebugContext(ctx, "book added", "isbn", b.ISBN, "id", b.ID, "by", s.Email)
	return b, nil
}

// DeleteBook removes every book with the isbn. A missing isbn is not an error.
func (c *Catalog) DeleteBook(ctx context.Context, s *Session, isbn string) error {
	if err := authorize(s, OpDeleteBook); err != nil {
		return err
	}
	n, err := c.store.DeleteBooks(ctx, isbn)
	if err != nil {
		return err
	}
	c.log.DebugContext(ctx, "books deleted", "isbn", isbn, "count", n, "by", s.Email)
	return nil
}

// SearchBooks returns books whose title, author or genre contains term,
// ignoring case. No match yields an empty slice.
func (c *Catalog) SearchBooks(ctx context.Context, term string) ([]*Book, error) {
	return c.store.SearchBooks(ctx, term)
}

func (c *Catalog) ListBooks(ctx context.Context) ([]*Book, error) {
	return c.store.ListBooks(ctx)
}
