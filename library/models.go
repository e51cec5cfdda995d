package library

import "time"

// LoanPeriod is how long a borrower may keep a book before it is overdue.
const LoanPeriod = 14 * 24 * time.Hour

// Role is the access level of a user.
type Role string

const (
	RoleUser  Role = "user"
	RoleAdmin Role = "admin"
)

// Book is a catalog entry. ISBN is the key callers use; ID is assigned by the store.
type Book struct {
	ID        string  `json:"id" db:"id" bson:"_id" validate:"required"`
	Title     string  `json:"title" db:"title" bson:"title" validate:"required"`
	Author    string  `json:"author" db:"author" bson:"author"`
	Genre     string  `json:"genre" db:"genre" bson:"genre"`
	ISBN      string  `json:"isbn" db:"isbn" bson:"isbn" validate:"required"`
	Year      int     `json:"year" db:"year" bson:"year"`
	Rating    float64 `json:"rating" db:"rating" bson:"rating" validate:"gte=0,lte=5"`
	Available bool    `json:"available" db:"available" bson:"available"`
}

// BookInput carries the fields an admin supplies when adding a book.
type BookInput struct {
	Title  string
	Author string
	Genre  string
	ISBN   string
	Year   int
	Rating float64
}

// User is a registered library member.
type User struct {
	ID           string `json:"id" db:"id" bson:"_id" validate:"required"`
	Name         string `json:"name" db:"name" bson:"name" validate:"required"`
	Email        string `json:"email" db:"email" bson:"email" validate:"required,email"`
	PasswordHash string `json:"-" db:"password_hash" bson:"password_hash" validate:"required"`
	Role         Role   `json:"role" db:"role" bson:"role" validate:"oneof=user admin"`
}

// BorrowRecord is one lending of a book. It is Active while ReturnedAt is nil.
type BorrowRecord struct {
	ID         string     `json:"id" db:"id" bson:"_id" validate:"required"`
	UserID     string     `json:"user_id" db:"user_id" bson:"user_id" validate:"required"`
	BookID     string     `json:"book_id" db:"book_id" bson:"book_id" validate:"required"`
	BorrowedAt time.Time  `json:"borrowed_at" db:"borrowed_at" bson:"borrowed_at"`
	DueAt      time.Time  `json:"due_at" db:"due_at" bson:"due_at" validate:"gtfield=BorrowedAt"`
	ReturnedAt *time.Time `json:"returned_at" db:"returned_at" bson:"returned_at"`
}

// Active reports whether the book has not been returned yet.
func (r *BorrowRecord) Active() bool { return r.ReturnedAt == nil }

// HistoryEntry is a borrow record of one user joined with its book.
type HistoryEntry struct {
	BookTitle  string     `json:"book_title" db:"book_title" bson:"book_title"`
	BorrowedAt time.Time  `json:"borrowed_at" db:"borrowed_at" bson:"borrowed_at"`
	DueAt      time.Time  `json:"due_at" db:"due_at" bson:"due_at"`
	ReturnedAt *time.Time `json:"returned_at" db:"returned_at" bson:"returned_at"`
}

// PopularBook is a book with the number of times it was borrowed.
type PopularBook struct {
	BookID      string `json:"book_id" db:"book_id" bson:"_id"`
	Title       string `json:"title" db:"title" bson:"title"`
	Author      string `json:"author" db:"author" bson:"author"`
	BorrowCount int    `json:"borrow_count" db:"borrow_count" bson:"borrow_count"`
}

// OverdueEntry is a borrow record past its due date, joined with book and user.
type OverdueEntry struct {
	BookTitle  string     `json:"book_title" db:"book_title" bson:"book_title"`
	ISBN       string     `json:"isbn" db:"isbn" bson:"isbn"`
	UserName   string     `json:"user_name" db:"user_name" bson:"user_name"`
	UserEmail  string     `json:"user_email" db:"user_email" bson:"user_email"`
	BorrowedAt time.Time  `json:"borrowed_at" db:"borrowed_at" bson:"borrowed_at"`
	DueAt      time.Time  `json:"due_at" db:"due_at" bson:"due_at"`
	ReturnedAt *time.Time `json:"returned_at" db:"returned_at" bson:"returned_at"`
}

// GenreCount is the number of borrows of books in one genre.
type GenreCount struct {
	Genre string `json:"genre" db:"genre" bson:"_id"`
	Count int    `json:"count" db:"count" bson:"count"`
}
