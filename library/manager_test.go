package library

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/crypto/bcrypt"
)

type fakeClock struct{ t time.Time }

func (c *fakeClock) Now() time.Time          { return c.t }
func (c *fakeClock) Advance(d time.Duration) { c.t = c.t.Add(d) }

func newManager(t *testing.T) (*LibraryManager, *fakeClock) {
	t.Helper()
	clk := &fakeClock{t: baseTime}
	mgr, err := NewLibraryManager(context.Background(), Config{
		Driver:     DriverSQLite,
		DSN:        filepath.Join(t.TempDir(), "lib.db"),
		BcryptCost: bcrypt.MinCost,
		Clock:      clk.Now,
	})
	if err != nil {
		t.Fatalf("mgr: %v", err)
	}
	t.Cleanup(func() { mgr.Close() })
	return mgr, clk
}

func login(t *testing.T, mgr *LibraryManager, name, email string, role Role) *Session {
	t.Helper()
	ctx := context.Background()
	_, err := mgr.Register(ctx, name, email, "pw", role)
	require.NoError(t, err)
	s, err := mgr.Login(ctx, email, "pw")
	require.NoError(t, err)
	return s
}

func addBook(t *testing.T, mgr *LibraryManager, admin *Session, isbn, title, genre string) *Book {
	t.Helper()
	b, err := mgr.AddBook(context.Background(), admin, BookInput{
		Title: title, Author: "Author", Genre: genre, ISBN: isbn, Year: 2001, Rating: 4,
	})
	require.NoError(t, err)
	return b
}

func TestBookManagementNeedsAdmin(t *testing.T) {
	mgr, _ := newManager(t)
	ctx := context.Background()
	user := login(t, mgr, "Ann", "ann@x.com", RoleUser)
	in := BookInput{Title: "Dune", Author: "Frank Herbert", Genre: "Science Fiction", ISBN: "123", Year: 1965, Rating: 4.5}

	_, err := mgr.AddBook(ctx, user, in)
	assert.ErrorIs(t, err, ErrPermission)
	_, err = mgr.AddBook(ctx, nil, in)
	assert.ErrorIs(t, err, ErrPermission)
	assert.ErrorIs(t, mgr.DeleteBook(ctx, user, "123"), ErrPermission)

	books, err := mgr.GetAllBooks(ctx)
	require.NoError(t, err)
	assert.Empty(t, books)
}

func TestAddAndDeleteBook(t *testing.T) {
	mgr, _ := newManager(t)
	ctx := context.Background()
	admin := login(t, mgr, "Root", "root@x.com", RoleAdmin)

	b := addBook(t, mgr, admin, "123", "Dune", "Science Fiction")
	assert.True(t, b.Available)
	assert.NotEmpty(t, b.ID)

	found, err := mgr.SearchBooks(ctx, "dune")
	require.NoError(t, err)
	require.Len(t, found, 1)
	assert.Equal(t, b, found[0])

	require.NoError(t, mgr.DeleteBook(ctx, admin, "123"))
	require.NoError(t, mgr.DeleteBook(ctx, admin, "123"))
	_, err = mgr.Store().FindBookByISBN(ctx, "123")
	assert.ErrorIs(t, err, ErrNotFound)

	_, err = mgr.AddBook(ctx, admin, BookInput{ISBN: "no-title"})
	assert.ErrorIs(t, err, ErrInvalidRecord)
}

func TestRegisterAndLogin(t *testing.T) {
	mgr, _ := newManager(t)
	ctx := context.Background()

	u, err := mgr.Register(ctx, "Ann", "ann@x.com", "pw1", "")
	require.NoError(t, err)
	assert.Equal(t, RoleUser, u.Role)
	assert.NotEqual(t, "pw1", u.PasswordHash)

	s, err := mgr.Login(ctx, "ann@x.com", "pw1")
	require.NoError(t, err)
	assert.Equal(t, &Session{UserID: u.ID, Name: "Ann", Email: "ann@x.com", Role: RoleUser}, s)
	assert.False(t, s.IsAdmin())

	_, err = mgr.Login(ctx, "ann@x.com", "wrong")
	assert.ErrorIs(t, err, ErrInvalidCredentials)
	_, err = mgr.Login(ctx, "nobody@x.com", "pw1")
	assert.ErrorIs(t, err, ErrInvalidCredentials)
}

func TestRegisterDuplicateKeepsExisting(t *testing.T) {
	mgr, _ := newManager(t)
	ctx := context.Background()
	orig, err := mgr.Register(ctx, "Ann", "ann@x.com", "pw1", RoleUser)
	require.NoError(t, err)

	_, err = mgr.Register(ctx, "Impostor", "ann@x.com", "pw2", RoleAdmin)
	assert.ErrorIs(t, err, ErrDuplicateUser)

	got, err := mgr.Store().FindUserByEmail(ctx, "ann@x.com")
	require.NoError(t, err)
	assert.Equal(t, orig, got)
	_, err = mgr.Login(ctx, "ann@x.com", "pw2")
	assert.ErrorIs(t, err, ErrInvalidCredentials)
}

func TestRegisterRejectsBadInput(t *testing.T) {
	mgr, _ := newManager(t)
	ctx := context.Background()

	_, err := mgr.Register(ctx, "Ann", "ann@x.com", "  ", RoleUser)
	assert.ErrorIs(t, err, ErrInvalidRecord)
	_, err = mgr.Register(ctx, "Ann", "not-an-email", "pw", RoleUser)
	assert.ErrorIs(t, err, ErrInvalidRecord)
	_, err = mgr.Register(ctx, "Ann", "ann@x.com", "pw", Role("owner"))
	assert.ErrorIs(t, err, ErrInvalidRecord)
}

func TestAdminManagesUsers(t *testing.T) {
	mgr, _ := newManager(t)
	ctx := context.Background()
	admin := login(t, mgr, "Root", "root@x.com", RoleAdmin)
	user := login(t, mgr, "Ann", "ann@x.com", RoleUser)

	_, err := mgr.AddUser(ctx, user, "Bob", "bob@x.com", "pw", RoleUser)
	assert.ErrorIs(t, err, ErrPermission)
	_, err = mgr.GetAllUsers(ctx, user)
	assert.ErrorIs(t, err, ErrPermission)

	_, err = mgr.AddUser(ctx, admin, "Bob", "bob@x.com", "pw", RoleUser)
	require.NoError(t, err)
	users, err := mgr.GetAllUsers(ctx, admin)
	require.NoError(t, err)
	assert.Len(t, users, 3)

	assert.ErrorIs(t, mgr.DeleteUser(ctx, user, "bob@x.com"), ErrPermission)
	require.NoError(t, mgr.DeleteUser(ctx, admin, "bob@x.com"))
	require.NoError(t, mgr.DeleteUser(ctx, admin, "bob@x.com"))
	_, err = mgr.Login(ctx, "bob@x.com", "pw")
	assert.ErrorIs(t, err, ErrInvalidCredentials)
}

func TestBorrowAndReturn(t *testing.T) {
	mgr, clk := newManager(t)
	ctx := context.Background()
	admin := login(t, mgr, "Root", "root@x.com", RoleAdmin)
	ann := login(t, mgr, "Ann", "ann@x.com", RoleUser)
	b := addBook(t, mgr, admin, "123", "Dune", "Science Fiction")

	due, err := mgr.BorrowBook(ctx, ann, "123")
	require.NoError(t, err)
	assert.True(t, due.Equal(baseTime.Add(14*24*time.Hour)))

	got, err := mgr.Store().FindBookByISBN(ctx, "123")
	require.NoError(t, err)
	assert.False(t, got.Available)

	recs, err := mgr.Store().BorrowRecords(ctx, b.ID)
	require.NoError(t, err)
	require.Len(t, recs, 1)
	assert.True(t, recs[0].Active())
	assert.True(t, recs[0].BorrowedAt.Equal(baseTime))

	clk.Advance(48 * time.Hour)
	require.NoError(t, mgr.ReturnBook(ctx, ann, "123"))

	got, err = mgr.Store().FindBookByISBN(ctx, "123")
	require.NoError(t, err)
	assert.True(t, got.Available)

	recs, err = mgr.Store().BorrowRecords(ctx, b.ID)
	require.NoError(t, err)
	require.Len(t, recs, 1)
	require.NotNil(t, recs[0].ReturnedAt)
	assert.True(t, recs[0].ReturnedAt.Equal(baseTime.Add(48*time.Hour)))
}

func TestBorrowUnavailable(t *testing.T) {
	mgr, _ := newManager(t)
	ctx := context.Background()
	admin := login(t, mgr, "Root", "root@x.com", RoleAdmin)
	ann := login(t, mgr, "Ann", "ann@x.com", RoleUser)
	bob := login(t, mgr, "Bob", "bob@x.com", RoleUser)
	b := addBook(t, mgr, admin, "123", "Dune", "Science Fiction")

	_, err := mgr.BorrowBook(ctx, ann, "123")
	require.NoError(t, err)
	_, err = mgr.BorrowBook(ctx, bob, "123")
	assert.ErrorIs(t, err, ErrUnavailable)
	_, err = mgr.BorrowBook(ctx, ann, "123")
	assert.ErrorIs(t, err, ErrUnavailable)

	recs, err := mgr.Store().BorrowRecords(ctx, b.ID)
	require.NoError(t, err)
	assert.Len(t, recs, 1)

	_, err = mgr.BorrowBook(ctx, ann, "missing")
	assert.ErrorIs(t, err, ErrNotFound)
	_, err = mgr.BorrowBook(ctx, nil, "123")
	assert.ErrorIs(t, err, ErrPermission)
}

func TestReturnErrors(t *testing.T) {
	mgr, _ := newManager(t)
	ctx := context.Background()
	admin := login(t, mgr, "Root", "root@x.com", RoleAdmin)
	ann := login(t, mgr, "Ann", "ann@x.com", RoleUser)
	bob := login(t, mgr, "Bob", "bob@x.com", RoleUser)
	addBook(t, mgr, admin, "123", "Dune", "Science Fiction")

	assert.ErrorIs(t, mgr.ReturnBook(ctx, ann, "123"), ErrAlreadyReturned)
	assert.ErrorIs(t, mgr.ReturnBook(ctx, ann, "missing"), ErrNotFound)

	_, err := mgr.BorrowBook(ctx, ann, "123")
	require.NoError(t, err)
	assert.ErrorIs(t, mgr.ReturnBook(ctx, bob, "123"), ErrNoActiveBorrow)

	got, err := mgr.Store().FindBookByISBN(ctx, "123")
	require.NoError(t, err)
	assert.False(t, got.Available)
}

func TestHistory(t *testing.T) {
	mgr, clk := newManager(t)
	ctx := context.Background()
	admin := login(t, mgr, "Root", "root@x.com", RoleAdmin)
	ann := login(t, mgr, "Ann", "ann@x.com", RoleUser)
	addBook(t, mgr, admin, "1", "Dune", "Science Fiction")
	addBook(t, mgr, admin, "2", "Emma", "Novel")

	for _, isbn := range []string{"2", "1"} {
		_, err := mgr.BorrowBook(ctx, ann, isbn)
		require.NoError(t, err)
		clk.Advance(time.Hour)
	}
	require.NoError(t, mgr.ReturnBook(ctx, ann, "2"))

	var entries []HistoryEntry
	for e, err := range mgr.History(ctx, ann) {
		require.NoError(t, err)
		entries = append(entries, e)
	}
	require.Len(t, entries, 2)
	assert.Equal(t, "Emma", entries[0].BookTitle)
	assert.NotNil(t, entries[0].ReturnedAt)
	assert.Equal(t, "Dune", entries[1].BookTitle)
	assert.Nil(t, entries[1].ReturnedAt)

	var gotErr error
	for _, err := range mgr.History(ctx, nil) {
		gotErr = err
	}
	assert.ErrorIs(t, gotErr, ErrPermission)
}

func TestOverdueReport(t *testing.T) {
	mgr, clk := newManager(t)
	ctx := context.Background()
	admin := login(t, mgr, "Root", "root@x.com", RoleAdmin)
	ann := login(t, mgr, "Ann", "ann@x.com", RoleUser)
	addBook(t, mgr, admin, "1", "Dune", "Science Fiction")

	_, err := mgr.BorrowBook(ctx, ann, "1")
	require.NoError(t, err)

	_, err = mgr.Overdue(ctx, ann, false)
	assert.ErrorIs(t, err, ErrPermission)

	late, err := mgr.Overdue(ctx, admin, false)
	require.NoError(t, err)
	assert.Empty(t, late)

	clk.Advance(20 * 24 * time.Hour)
	late, err = mgr.Overdue(ctx, admin, false)
	require.NoError(t, err)
	require.Len(t, late, 1)
	assert.Equal(t, "Dune", late[0].BookTitle)
	assert.Equal(t, "ann@x.com", late[0].UserEmail)

	require.NoError(t, mgr.ReturnBook(ctx, ann, "1"))
	late, err = mgr.Overdue(ctx, admin, false)
	require.NoError(t, err)
	assert.Empty(t, late)

	late, err = mgr.Overdue(ctx, admin, true)
	require.NoError(t, err)
	require.Len(t, late, 1)
	assert.NotNil(t, late[0].ReturnedAt)
}

func TestPopularityReports(t *testing.T) {
	mgr, _ := newManager(t)
	ctx := context.Background()
	admin := login(t, mgr, "Root", "root@x.com", RoleAdmin)
	ann := login(t, mgr, "Ann", "ann@x.com", RoleUser)

	genres := []string{"Novel", "Novel", "Fantasy", "History", "History", "Detective", "Novel"}
	for i, g := range genres {
		isbn := string(rune('a' + i))
		addBook(t, mgr, admin, isbn, "Book "+isbn, g)
		for range i + 1 {
			_, err := mgr.BorrowBook(ctx, ann, isbn)
			require.NoError(t, err)
			require.NoError(t, mgr.ReturnBook(ctx, ann, isbn))
		}
	}

	top, err := mgr.MostPopular(ctx, 0)
	require.NoError(t, err)
	require.Len(t, top, DefaultPopularLimit)
	assert.Equal(t, "Book g", top[0].Title)
	assert.EqualValues(t, 7, top[0].BorrowCount)
	assert.Equal(t, "Book c", top[4].Title)

	counts, err := mgr.GenrePopularity(ctx)
	require.NoError(t, err)
	assert.Equal(t, []GenreCount{
		{Genre: "Novel", Count: 1 + 2 + 7},
		{Genre: "History", Count: 4 + 5},
		{Genre: "Detective", Count: 6},
		{Genre: "Fantasy", Count: 3},
	}, counts)
}
