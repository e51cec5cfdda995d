package library

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var baseTime = time.Date(2026, 1, 10, 9, 0, 0, 0, time.UTC)

// runStoreContract checks the behavior every Store implementation shares.
func runStoreContract(t *testing.T, open func(t *testing.T) Store) {
	t.Run("insert find delete book", func(t *testing.T) {
		s := open(t)
		ctx := context.Background()
		b := mkBook(t, s, "123", "Dune", "Frank Herbert", "Science Fiction")

		got, err := s.FindBookByISBN(ctx, "123")
		require.NoError(t, err)
		assert.Equal(t, b, got)

		n, err := s.DeleteBooks(ctx, "123")
		require.NoError(t, err)
		assert.EqualValues(t, 1, n)

		_, err = s.FindBookByISBN(ctx, "123")
		assert.ErrorIs(t, err, ErrNotFound)
		res, err := s.SearchBooks(ctx, "Dune")
		require.NoError(t, err)
		assert.Empty(t, res)

		n, err = s.DeleteBooks(ctx, "123")
		require.NoError(t, err)
		assert.Zero(t, n)
	})

	t.Run("duplicate isbn returns first inserted", func(t *testing.T) {
		s := open(t)
		first := mkBook(t, s, "dup", "First", "A", "G")
		mkBook(t, s, "dup", "Second", "A", "G")

		got, err := s.FindBookByISBN(context.Background(), "dup")
		require.NoError(t, err)
		assert.Equal(t, first.ID, got.ID)

		n, err := s.DeleteBooks(context.Background(), "dup")
		require.NoError(t, err)
		assert.EqualValues(t, 2, n)
	})

	t.Run("search is case-insensitive substring", func(t *testing.T) {
		s := open(t)
		ctx := context.Background()
		dune := mkBook(t, s, "1", "Dune", "Frank Herbert", "Science Fiction")
		war := mkBook(t, s, "2", "Война и мир", "Лев Толстой", "Роман")
		pct := mkBook(t, s, "3", "100% Go", "Gopher", "Programming")

		cases := []struct {
			term string
			want []*Book
		}{
			{"dUNE", []*Book{dune}},
			{"herb", []*Book{dune}},
			{"fiction", []*Book{dune}},
			{"ВОЙНА", []*Book{war}},
			{"толст", []*Book{war}},
			{"%", []*Book{pct}},
			{"gopher", []*Book{pct}},
			{"o", []*Book{dune, pct}},
			{"", []*Book{dune, war, pct}},
			{"missing", []*Book{}},
		}
		for _, tc := range cases {
			got, err := s.SearchBooks(ctx, tc.term)
			require.NoError(t, err, tc.term)
			assert.Equal(t, tc.want, got, "term %q", tc.term)
		}
	})

	t.Run("users", func(t *testing.T) {
		s := open(t)
		ctx := context.Background()
		u := mkUser(t, s, "Ann", "ann@x.com", RoleUser)

		got, err := s.FindUserByEmail(ctx, "ann@x.com")
		require.NoError(t, err)
		assert.Equal(t, u, got)

		all, err := s.ListUsers(ctx)
		require.NoError(t, err)
		assert.Len(t, all, 1)

		n, err := s.DeleteUsers(ctx, "ann@x.com")
		require.NoError(t, err)
		assert.EqualValues(t, 1, n)
		_, err = s.FindUserByEmail(ctx, "ann@x.com")
		assert.ErrorIs(t, err, ErrNotFound)
	})

	t.Run("invalid records are rejected", func(t *testing.T) {
		s := open(t)
		err := s.InsertBook(context.Background(), &Book{ID: newID(), ISBN: "x"})
		assert.ErrorIs(t, err, ErrInvalidRecord)
		err = s.InsertUser(context.Background(), &User{ID: newID(), Name: "n", Email: "not-an-email", PasswordHash: "h", Role: RoleUser})
		assert.ErrorIs(t, err, ErrInvalidRecord)
	})

	t.Run("checkout and checkin", func(t *testing.T) {
		s := open(t)
		ctx := context.Background()
		b := mkBook(t, s, "123", "Dune", "Frank Herbert", "Science Fiction")
		ann := mkUser(t, s, "Ann", "ann@x.com", RoleUser)
		bob := mkUser(t, s, "Bob", "bob@x.com", RoleUser)

		rec := newRecord(ann, b, baseTime)
		require.NoError(t, s.CheckoutBook(ctx, rec))

		got, err := s.FindBookByISBN(ctx, "123")
		require.NoError(t, err)
		assert.False(t, got.Available)

		err = s.CheckoutBook(ctx, newRecord(bob, b, baseTime.Add(time.Hour)))
		assert.ErrorIs(t, err, ErrUnavailable)

		recs, err := s.BorrowRecords(ctx, b.ID)
		require.NoError(t, err)
		require.Len(t, recs, 1)
		assert.True(t, recs[0].Active())
		assert.Equal(t, ann.ID, recs[0].UserID)
		assert.True(t, recs[0].DueAt.Equal(baseTime.Add(LoanPeriod)))

		assert.ErrorIs(t, s.CheckinBook(ctx, bob.ID, b.ID, baseTime.Add(2*time.Hour)), ErrNoActiveBorrow)

		returned := baseTime.Add(3 * 24 * time.Hour)
		require.NoError(t, s.CheckinBook(ctx, ann.ID, b.ID, returned))

		got, err = s.FindBookByISBN(ctx, "123")
		require.NoError(t, err)
		assert.True(t, got.Available)

		recs, err = s.BorrowRecords(ctx, b.ID)
		require.NoError(t, err)
		require.Len(t, recs, 1)
		require.NotNil(t, recs[0].ReturnedAt)
		assert.True(t, recs[0].ReturnedAt.Equal(returned))

		assert.ErrorIs(t, s.CheckinBook(ctx, ann.ID, b.ID, returned), ErrNoActiveBorrow)
	})

	t.Run("checkout of missing book", func(t *testing.T) {
		s := open(t)
		ann := mkUser(t, s, "Ann", "ann@x.com", RoleUser)
		ghost := &Book{ID: newID()}
		err := s.CheckoutBook(context.Background(), newRecord(ann, ghost, baseTime))
		assert.ErrorIs(t, err, ErrNotFound)
	})

	t.Run("history", func(t *testing.T) {
		s := open(t)
		ctx := context.Background()
		ann := mkUser(t, s, "Ann", "ann@x.com", RoleUser)
		bob := mkUser(t, s, "Bob", "bob@x.com", RoleUser)
		dune := mkBook(t, s, "1", "Dune", "Frank Herbert", "Science Fiction")
		emma := mkBook(t, s, "2", "Emma", "Jane Austen", "Novel")
		gone := mkBook(t, s, "3", "Gone", "Nobody", "Novel")

		lend(t, s, ann, emma, baseTime.Add(2*time.Hour))
		lend(t, s, ann, dune, baseTime)
		lend(t, s, bob, dune, baseTime.Add(24*time.Hour))
		lend(t, s, ann, gone, baseTime.Add(3*time.Hour))
		_, err := s.DeleteBooks(ctx, "3")
		require.NoError(t, err)

		var titles []string
		for e, err := range s.History(ctx, ann.ID) {
			require.NoError(t, err)
			require.NotNil(t, e.ReturnedAt)
			titles = append(titles, e.BookTitle)
		}
		assert.Equal(t, []string{"Dune", "Emma"}, titles)

		count := 0
		for range s.History(ctx, ann.ID) {
			count++
			break
		}
		assert.Equal(t, 1, count)
	})

	t.Run("most popular", func(t *testing.T) {
		s := open(t)
		ctx := context.Background()
		ann := mkUser(t, s, "Ann", "ann@x.com", RoleUser)
		a := mkBook(t, s, "A", "Alpha", "X", "G1")
		b := mkBook(t, s, "B", "Beta", "X", "G1")
		c := mkBook(t, s, "C", "Gamma", "X", "G2")

		at := baseTime
		for book, times := range map[*Book]int{a: 3, b: 1, c: 2} {
			for range times {
				lend(t, s, ann, book, at)
				at = at.Add(time.Hour)
			}
		}

		top, err := s.MostPopular(ctx, 2)
		require.NoError(t, err)
		require.Len(t, top, 2)
		assert.Equal(t, PopularBook{BookID: a.ID, Title: "Alpha", Author: "X", BorrowCount: 3}, top[0])
		assert.Equal(t, PopularBook{BookID: c.ID, Title: "Gamma", Author: "X", BorrowCount: 2}, top[1])

		genres, err := s.GenrePopularity(ctx)
		require.NoError(t, err)
		assert.Equal(t, []GenreCount{{Genre: "G1", Count: 4}, {Genre: "G2", Count: 2}}, genres)
	})

	t.Run("most popular ties go to the older book", func(t *testing.T) {
		s := open(t)
		ann := mkUser(t, s, "Ann", "ann@x.com", RoleUser)
		first := mkBook(t, s, "1", "First", "X", "G")
		second := mkBook(t, s, "2", "Second", "X", "G")
		lend(t, s, ann, second, baseTime)
		lend(t, s, ann, first, baseTime.Add(time.Hour))

		top, err := s.MostPopular(context.Background(), 5)
		require.NoError(t, err)
		require.Len(t, top, 2)
		assert.Equal(t, first.ID, top[0].BookID)
		assert.Equal(t, second.ID, top[1].BookID)
	})

	t.Run("overdue", func(t *testing.T) {
		s := open(t)
		ctx := context.Background()
		ann := mkUser(t, s, "Ann", "ann@x.com", RoleUser)
		late := mkBook(t, s, "1", "Late", "X", "G")
		back := mkBook(t, s, "2", "Back", "X", "G")
		fresh := mkBook(t, s, "3", "Fresh", "X", "G")

		now := baseTime.Add(60 * 24 * time.Hour)
		require.NoError(t, s.CheckoutBook(ctx, newRecord(ann, late, now.Add(-30*24*time.Hour))))
		require.NoError(t, s.CheckoutBook(ctx, newRecord(ann, back, now.Add(-40*24*time.Hour))))
		require.NoError(t, s.CheckinBook(ctx, ann.ID, back.ID, now.Add(-10*24*time.Hour)))
		require.NoError(t, s.CheckoutBook(ctx, newRecord(ann, fresh, now.Add(-24*time.Hour))))

		active, err := s.Overdue(ctx, now, false)
		require.NoError(t, err)
		require.Len(t, active, 1)
		assert.Equal(t, "Late", active[0].BookTitle)
		assert.Equal(t, "Ann", active[0].UserName)
		assert.Equal(t, "ann@x.com", active[0].UserEmail)
		assert.Nil(t, active[0].ReturnedAt)

		all, err := s.Overdue(ctx, now, true)
		require.NoError(t, err)
		require.Len(t, all, 2)
		assert.Equal(t, "Back", all[0].BookTitle)
		assert.NotNil(t, all[0].ReturnedAt)
		assert.Equal(t, "Late", all[1].BookTitle)
	})
}

func mkBook(t *testing.T, s Store, isbn, title, author, genre string) *Book {
	t.Helper()
	b := &Book{ID: newID(), Title: title, Author: author, Genre: genre, ISBN: isbn, Year: 1965, Rating: 4.5, Available: true}
	require.NoError(t, s.InsertBook(context.Background(), b))
	return b
}

func mkUser(t *testing.T, s Store, name, email string, role Role) *User {
	t.Helper()
	u := &User{ID: newID(), Name: name, Email: email, PasswordHash: "hash", Role: role}
	require.NoError(t, s.InsertUser(context.Background(), u))
	return u
}

func newRecord(u *User, b *Book, at time.Time) *BorrowRecord {
	return &BorrowRecord{ID: newID(), UserID: u.ID, BookID: b.ID, BorrowedAt: at, DueAt: at.Add(LoanPeriod)}
}

// lend checks the book out at the given time and back in an hour later.
func lend(t *testing.T, s Store, u *User, b *Book, at time.Time) {
	t.Helper()
	ctx := context.Background()
	require.NoError(t, s.CheckoutBook(ctx, newRecord(u, b, at)))
	require.NoError(t, s.CheckinBook(ctx, u.ID, b.ID, at.Add(time.Hour)))
}
