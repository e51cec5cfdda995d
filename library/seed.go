package library

import (
	"context"
	"fmt"
	"math/rand/v2"
	"strings"

	"golang.org/x/crypto/bcrypt"
)

// SeedPassword is the password of every generated user.
const SeedPassword = "password"

var (
	seedGenres  = []string{"Science Fiction", "Detective", "Novel", "History", "Fantasy"}
	seedAuthors = []string{"Leo Tolstoy", "Fyodor Dostoevsky", "Agatha Christie", "George Orwell", "Arthur Conan Doyle"}
	seedNames   = []string{"Ivan", "Maria", "Alexei", "Olga", "Dmitry"}
)

// Seeder fills a store with random books and users for trying the tool out.
type Seeder struct {
	store      Store
	rng        *rand.Rand
	bcryptCost int
}

// NewSeeder uses rng for all random choices; a nil rng means a randomly seeded one.
func NewSeeder(store Store, rng *rand.Rand, bcryptCost int) *Seeder {
	if rng == nil {
		rng = rand.New(rand.NewPCG(rand.Uint64(), rand.Uint64()))
	}
	if bcryptCost == 0 {
		bcryptCost = bcrypt.DefaultCost
	}
	return &Seeder{store: store, rng: rng, bcryptCost: bcryptCost}
}

// SeedBooks inserts n random books.
func (sd *Seeder) SeedBooks(ctx context.Context, n int) ([]*Book, error) {
	books := make([]*Book, 0, n)
	for range n {
		b := &Book{
			ID:        newID(),
			Title:     fmt.Sprintf("Book %d", sd.rng.IntN(100)+1),
			Author:    seedAuthors[sd.rng.IntN(len(seedAuthors))],
			Genre:     seedGenres[sd.rng.IntN(len(seedGenres))],
			ISBN:      fmt.Sprintf("ISBN-%d", 1_000_000_000+sd.rng.Int64N(9_000_000_000)),
			Year:      1900 + sd.rng.IntN(124),
			Rating:    float64(sd.rng.IntN(51)) / 10,
			Available: true,
		}
		if err := sd.store.InsertBook(ctx, b); err != nil {
			return books, err
		}
		books = append(books, b)
	}
	return books, nil
}

// SeedUsers inserts n random users with role user and SeedPassword.
// Emails get a random suffix so repeated runs do not collide.
func (sd *Seeder) SeedUsers(ctx context.Context, n int) ([]*User, error) {
	hash, err := bcrypt.GenerateFromPassword([]byte(SeedPassword), sd.bcryptCost)
	if err != nil {
		return nil, fmt.Errorf("hash password: %w", err)
	}
	runID := sd.rng.Uint32()
	users := make([]*User, 0, n)
	for i := range n {
		name := seedNames[sd.rng.IntN(len(seedNames))]
		u := &User{
			ID:           newID(),
			Name:         name,
			Email:        fmt.Sprintf("%s.%08x.%d@example.com", strings.ToLower(name), runID, i),
			PasswordHash: string(hash),
			Role:         RoleUser,
		}
		if err := sd.store.InsertUser(ctx, u); err != nil {
			return users, err
		}
		users = append(users, u)
	}
	return users, nil
}
