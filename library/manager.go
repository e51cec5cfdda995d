package library

import (
	"context"
	"fmt"
	"iter"
	"log/slog"
	"time"
)

// LibraryManager is a thin façade over the services, keeping CLI code simple.
type LibraryManager struct {
	store Store
	log   *slog.Logger

	Catalog     *Catalog
	Membership  *Membership
	Circulation *Circulation
}

// NewLibraryManager opens the store cfg describes.
func NewLibraryManager(ctx context.Context, cfg Config) (*LibraryManager, error) {
	cfg = cfg.withDefaults()
	store, err := OpenStore(ctx, cfg)
	if err != nil {
		return nil, err
	}
	return NewLibraryManagerWithStore(store, cfg), nil
}

// NewLibraryManagerWithStore wires the services to an already open store.
func NewLibraryManagerWithStore(store Store, cfg Config) *LibraryManager {
	cfg = cfg.withDefaults()
	return &LibraryManager{
		store:       store,
		log:         cfg.Logger,
		Catalog:     NewCatalog(store, cfg.Logger),
		Membership:  NewMembership(store, cfg.BcryptCost, cfg.Logger),
		Circulation: NewCirculation(store, cfg.Clock, cfg.Logger),
	}
}

// Close closes the underlying store.
func (lm *LibraryManager) Close() error { return lm.store.Close() }

// Store exposes the record store, mainly for seeding and tests.
func (lm *LibraryManager) Store() Store { return lm.store }

// ------------------ Book helpers ------------------

func (lm *LibraryManager) AddBook(ctx context.Context, s *Session, in BookInput) (*Book, error) {
	return lm.Catalog.AddBook(ctx, s, in)
}

func (lm *LibraryManager) DeleteBook(ctx context.Context, s *Session, isbn string) error {
	return lm.Catalog.DeleteBook(ctx, s, isbn)
}

func (lm *LibraryManager) SearchBooks(ctx context.Context, term string) ([]*Book, error) {
	return lm.Catalog.SearchBooks(ctx, term)
}

func (lm *LibraryManager) GetAllBooks(ctx context.Context) ([]*Book, error) {
	return lm.Catalog.ListBooks(ctx)
}

// ------------------ User helpers ------------------

func (lm *LibraryManager) Register(ctx context.Context, name, email, password string, role Role) (*User, error) {
	return lm.Membership.Register(ctx, name, email, password, role)
}

func (lm *LibraryManager) Login(ctx context.Context, email, password string) (*Session, error) {
	return lm.Membership.Login(ctx, email, password)
}

func (lm *LibraryManager) AddUser(ctx context.Context, s *Session, name, email, password string, role Role) (*User, error) {
	return lm.Membership.AddUser(ctx, s, name, email, password, role)
}

func (lm *LibraryManager) DeleteUser(ctx context.Context, s *Session, email string) error {
	return lm.Membership.DeleteUser(ctx, s, email)
}

func (lm *LibraryManager) GetAllUsers(ctx context.Context, s *Session) ([]*User, error) {
	return lm.Membership.ListUsers(ctx, s)
}

// ------------------ Circulation ------------------

func (lm *LibraryManager) BorrowBook(ctx context.Context, s *Session, isbn string) (time.Time, error) {
	return lm.Circulation.Borrow(ctx, s, isbn)
}

func (lm *LibraryManager) ReturnBook(ctx context.Context, s *Session, isbn string) error {
	return lm.Circulation.Return(ctx, s, isbn)
}

func (lm *LibraryManager) History(ctx context.Context, s *Session) iter.Seq2[HistoryEntry, error] {
	return lm.Circulation.History(ctx, s)
}

func (lm *LibraryManager) MostPopular(ctx context.Context, limit int) ([]PopularBook, error) {
	return lm.Circulation.MostPopular(ctx, limit)
}

func (lm *LibraryManager) Overdue(ctx context.Context, s *Session, includeReturned bool) ([]OverdueEntry, error) {
	return lm.Circulation.Overdue(ctx, s, includeReturned)
}

func (lm *LibraryManager) GenrePopularity(ctx context.Context) ([]GenreCount, error) {
	return lm.Circulation.GenrePopularity(ctx)
}

// ------------------ Utilities ------------------

// PrettyBook formats a book for lists.
func PrettyBook(b *Book) string {
	return fmt.Sprintf("%-20s %-30s %-25s %-15s %-5d %-4.1f %-10t", b.ISBN, b.Title, b.Author, b.Genre, b.Year, b.Rating, b.Available)
}
