package library

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"iter"
	"log/slog"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/doug-martin/goqu/v9"
	_ "github.com/doug-martin/goqu/v9/dialect/postgres"
	_ "github.com/doug-martin/goqu/v9/dialect/sqlite3"
	"github.com/doug-martin/goqu/v9/exp"
	_ "github.com/jackc/pgx/v5/stdlib"
	"github.com/jmoiron/sqlx"
	_ "github.com/lib/pq"
	"github.com/mattn/go-sqlite3"
)

const (
	tableUsers   = "users"
	tableBooks   = "books"
	tableHistory = "borrow_history"
	tableMeta    = "meta"
)

// sqliteDriverName is go-sqlite3 with a Unicode-aware fold() function, which
// the built-in lower() is not.
const sqliteDriverName = "sqlite3_library"

func init() {
	sql.Register(sqliteDriverName, &sqlite3.SQLiteDriver{
		ConnectHook: func(conn *sqlite3.SQLiteConn) error {
			return conn.RegisterFunc("fold", strings.ToLower, true)
		},
	})
}

var (
	bookColumns    = []any{"id", "title", "author", "genre", "isbn", "year", "rating", "available"}
	userColumns    = []any{"id", "name", "email", "password_hash", "role"}
	historyColumns = []any{"id", "user_id", "book_id", "borrowed_at", "due_at", "returned_at"}
)

// sqlDialect holds what differs between SQLite and PostgreSQL.
type sqlDialect struct {
	name       string
	sqlDriver  string
	containsFn string
	foldFn     string
	timeType   string
	floatType  string
}

var (
	dialectSQLite = sqlDialect{
		name:       "sqlite3",
		sqlDriver:  sqliteDriverName,
		containsFn: "instr",
		foldFn:     "fold",
		timeType:   "DATETIME",
		floatType:  "REAL",
	}
	dialectPostgres = sqlDialect{
		name:       "postgres",
		sqlDriver:  "postgres",
		containsFn: "strpos",
		foldFn:     "lower",
		timeType:   "TIMESTAMPTZ",
		floatType:  "DOUBLE PRECISION",
	}
)

// containsFold matches rows whose column contains needle ignoring case.
// instr/strpos are used instead of LIKE so that % and _ in the term are literal.
func (d sqlDialect) containsFold(column, needle string) exp.Expression {
	return goqu.L(fmt.Sprintf("%s(%s(?), ?) > 0", d.containsFn, d.foldFn), goqu.I(column), strings.ToLower(needle))
}

// Database is the Store backed by SQLite or PostgreSQL.
type Database struct {
	db      *sqlx.DB
	goqu    goqu.DialectWrapper
	dialect sqlDialect
	log     *slog.Logger
}

// NewDatabase opens (or creates) the database, applies schema migrations and
// returns it ready for use. driver is DriverSQLite, DriverPostgres or DriverPgx;
// for SQLite dsn is a file path.
func NewDatabase(ctx context.Context, driver, dsn string, logger *slog.Logger) (*Database, error) {
	if logger == nil {
		logger = slog.Default()
	}

	dialect := dialectPostgres
	switch driver {
	case DriverSQLite:
		dialect = dialectSQLite
		// Ensure directory exists so first-run succeeds.
		if dir := filepath.Dir(dsn); dir != "." && !strings.HasPrefix(dsn, "file:") {
			if err := os.MkdirAll(dir, 0o755); err != nil {
				return nil, fmt.Errorf("create db dir: %w", err)
			}
		}
		if !strings.HasPrefix(dsn, "file:") {
			dsn = fmt.Sprintf("file:%s?_busy_timeout=5000", dsn)
		}
	case DriverPostgres:
	case DriverPgx:
		dialect.sqlDriver = "pgx"
	default:
		return nil, fmt.Errorf("unsupported sql driver %q", driver)
	}

	db, err := sqlx.Open(dialect.sqlDriver, dsn)
	if err != nil {
		return nil, storeErr("open", err)
	}
	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, storeErr("ping", err)
	}

	d := &Database{
		db:      db,
		goqu:    goqu.Dialect(dialect.name),
		dialect: dialect,
		log:     logger,
	}
	if err := d.applyMigrations(ctx); err != nil {
		db.Close()
		return nil, err
	}
	logger.Info("store opened", "driver", driver)
	return d, nil
}

// Close closes the DB.
func (d *Database) Close() error { return d.db.Close() }

// ---------------------------------------------------------------------------
// Schema migration
// ---------------------------------------------------------------------------

const schemaVersion = 1

func (d *Database) schema() []string {
	return []string{
		`CREATE TABLE IF NOT EXISTS users (
            id TEXT PRIMARY KEY,
            name TEXT NOT NULL,
            email TEXT NOT NULL,
            password_hash TEXT NOT NULL,
            role TEXT NOT NULL DEFAULT 'user'
        );`,
		`CREATE INDEX IF NOT EXISTS idx_users_email ON users(email);`,
		fmt.Sprintf(`CREATE TABLE IF NOT EXISTS books (
            id TEXT PRIMARY KEY,
            title TEXT NOT NULL,
            author TEXT NOT NULL,
            genre TEXT NOT NULL,
            isbn TEXT NOT NULL,
            year INTEGER NOT NULL,
            rating %s NOT NULL DEFAULT 0,
            available BOOLEAN NOT NULL DEFAULT TRUE
        );`, d.dialect.floatType),
		`CREATE INDEX IF NOT EXISTS idx_books_isbn ON books(isbn);`,
		// No foreign keys: history outlives deleted books and users.
		fmt.Sprintf(`CREATE TABLE IF NOT EXISTS borrow_history (
            id TEXT PRIMARY KEY,
            user_id TEXT NOT NULL,
            book_id TEXT NOT NULL,
            borrowed_at %[1]s NOT NULL,
            due_at %[1]s NOT NULL,
            returned_at %[1]s
        );`, d.dialect.timeType),
		`CREATE INDEX IF NOT EXISTS idx_history_user ON borrow_history(user_id);`,
		`CREATE INDEX IF NOT EXISTS idx_history_book ON borrow_history(book_id);`,
	}
}

func (d *Database) applyMigrations(ctx context.Context) error {
	if d.dialect.name == dialectSQLite.name {
		// WAL improves write concurrency.
		if _, err := d.db.ExecContext(ctx, "PRAGMA journal_mode=WAL;"); err != nil {
			return storeErr("enable WAL", err)
		}
	}

	if _, err := d.db.ExecContext(ctx, `CREATE TABLE IF NOT EXISTS meta (key TEXT PRIMARY KEY, value TEXT);`); err != nil {
		return storeErr("create meta", err)
	}

	var current int
	q, args, _ := d.goqu.From(tableMeta).Select("value").Where(goqu.C("key").Eq("schema_version")).Prepared(true).ToSQL()
	_ = d.db.QueryRowContext(ctx, q, args...).Scan(&current)
	if current >= schemaVersion {
		return nil
	}

	tx, err := d.db.BeginTxx(ctx, nil)
	if err != nil {
		return storeErr("begin migration", err)
	}
	defer tx.Rollback()

	for _, stmt := range d.schema() {
		if _, err := tx.ExecContext(ctx, stmt); err != nil {
			return storeErr("apply migration", err)
		}
	}

	del, delArgs, err := d.goqu.Delete(tableMeta).Where(goqu.C("key").Eq("schema_version")).Prepared(true).ToSQL()
	if err != nil {
		return storeErr("build migration", err)
	}
	ins, insArgs, err := d.goqu.Insert(tableMeta).
		Rows(goqu.Record{"key": "schema_version", "value": strconv.Itoa(schemaVersion)}).
		Prepared(true).ToSQL()
	if err != nil {
		return storeErr("build migration", err)
	}
	if _, err := tx.ExecContext(ctx, del, delArgs...); err != nil {
		return storeErr("record schema version", err)
	}
	if _, err := tx.ExecContext(ctx, ins, insArgs...); err != nil {
		return storeErr("record schema version", err)
	}

	if err := tx.Commit(); err != nil {
		return storeErr("commit migration", err)
	}
	d.log.Info("schema migrated", "version", schemaVersion)
	return nil
}

// ---------------------------------------------------------------------------
// Query helpers
// ---------------------------------------------------------------------------

type sqlBuilder interface {
	ToSQL() (string, []any, error)
}

func build(op string, b sqlBuilder) (string, []any, error) {
	q, args, err := b.ToSQL()
	if err != nil {
		return "", nil, storeErr("build "+op, err)
	}
	return q, args, nil
}

func (d *Database) exec(ctx context.Context, ex sqlx.ExecerContext, op string, b sqlBuilder) (int64, error) {
	q, args, err := build(op, b)
	if err != nil {
		return 0, err
	}
	res, err := ex.ExecContext(ctx, q, args...)
	if err != nil {
		return 0, storeErr(op, err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return 0, storeErr(op, err)
	}
	return n, nil
}

func (d *Database) selectAll(ctx context.Context, dest any, op string, b sqlBuilder) error {
	q, args, err := build(op, b)
	if err != nil {
		return err
	}
	if err := d.db.SelectContext(ctx, dest, q, args...); err != nil {
		return storeErr(op, err)
	}
	return nil
}

func (d *Database) selectOne(ctx context.Context, q sqlx.QueryerContext, dest any, op string, b sqlBuilder) error {
	query, args, err := build(op, b)
	if err != nil {
		return err
	}
	if err := sqlx.GetContext(ctx, q, dest, query, args...); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return ErrNotFound
		}
		return storeErr(op, err)
	}
	return nil
}

// ---------------------------------------------------------------------------
// Books
// ---------------------------------------------------------------------------

func bookRecord(b *Book) goqu.Record {
	return goqu.Record{
		"id":        b.ID,
		"title":     b.Title,
		"author":    b.Author,
		"genre":     b.Genre,
		"isbn":      b.ISBN,
		"year":      b.Year,
		"rating":    b.Rating,
		"available": b.Available,
	}
}

func (d *Database) InsertBook(ctx context.Context, b *Book) error {
	if err := checkRecord("book", b); err != nil {
		return err
	}
	_, err := d.exec(ctx, d.db, "insert book", d.goqu.Insert(tableBooks).Rows(bookRecord(b)).Prepared(true))
	return err
}

func (d *Database) DeleteBooks(ctx context.Context, isbn string) (int64, error) {
	return d.exec(ctx, d.db, "delete books", d.goqu.Delete(tableBooks).Where(goqu.C("isbn").Eq(isbn)).Prepared(true))
}

func (d *Database) FindBookByISBN(ctx context.Context, isbn string) (*Book, error) {
	var b Book
	ds := d.goqu.From(tableBooks).Select(bookColumns...).
		Where(goqu.C("isbn").Eq(isbn)).
		Order(goqu.C("id").Asc()).
		Limit(1).Prepared(true)
	if err := d.selectOne(ctx, d.db, &b, "find book", ds); err != nil {
		return nil, err
	}
	if err := checkRecord("book", &b); err != nil {
		return nil, err
	}
	return &b, nil
}

// ListBooks returns all books in insertion order.
func (d *Database) ListBooks(ctx context.Context) ([]*Book, error) {
	ds := d.goqu.From(tableBooks).Select(bookColumns...).Order(goqu.C("id").Asc()).Prepared(true)
	return d.books(ctx, "list books", ds)
}

// SearchBooks matches with the dialect's fold function.
func (d *Database) SearchBooks(ctx context.Context, term string) ([]*Book, error) {
	ds := d.goqu.From(tableBooks).Select(bookColumns...).
		Where(goqu.Or(
			d.dialect.containsFold("title", term),
			d.dialect.containsFold("author", term),
			d.dialect.containsFold("genre", term),
		)).
		Order(goqu.C("id").Asc()).Prepared(true)
	return d.books(ctx, "search books", ds)
}

func (d *Database) books(ctx context.Context, op string, ds sqlBuilder) ([]*Book, error) {
	books := []*Book{}
	if err := d.selectAll(ctx, &books, op, ds); err != nil {
		return nil, err
	}
	for _, b := range books {
		if err := checkRecord("book", b); err != nil {
			return nil, err
		}
	}
	return books, nil
}

// ---------------------------------------------------------------------------
// Users
// ---------------------------------------------------------------------------

func (d *Database) InsertUser(ctx context.Context, u *User) error {
	if err := checkRecord("user", u); err != nil {
		return err
	}
	row := goqu.Record{
		"id":            u.ID,
		"name":          u.Name,
		"email":         u.Email,
		"password_hash": u.PasswordHash,
		"role":          string(u.Role),
	}
	_, err := d.exec(ctx, d.db, "insert user", d.goqu.Insert(tableUsers).Rows(row).Prepared(true))
	return err
}

func (d *Database) DeleteUsers(ctx context.Context, email string) (int64, error) {
	return d.exec(ctx, d.db, "delete users", d.goqu.Delete(tableUsers).Where(goqu.C("email").Eq(email)).Prepared(true))
}

func (d *Database) FindUserByEmail(ctx context.Context, email string) (*User, error) {
	var u User
	ds := d.goqu.From(tableUsers).Select(userColumns...).
		Where(goqu.C("email").Eq(email)).
		Order(goqu.C("id").Asc()).
		Limit(1).Prepared(true)
	if err := d.selectOne(ctx, d.db, &u, "find user", ds); err != nil {
		return nil, err
	}
	if err := checkRecord("user", &u); err != nil {
		return nil, err
	}
	return &u, nil
}

func (d *Database) ListUsers(ctx context.Context) ([]*User, error) {
	users := []*User{}
	ds := d.goqu.From(tableUsers).Select(userColumns...).Order(goqu.C("id").Asc()).Prepared(true)
	if err := d.selectAll(ctx, &users, "list users", ds); err != nil {
		return nil, err
	}
	for _, u := range users {
		if err := checkRecord("user", u); err != nil {
			return nil, err
		}
	}
	return users, nil
}

// ---------------------------------------------------------------------------
// Circulation
// ---------------------------------------------------------------------------

// CheckoutBook flips availability only if the book is still available and
// records the checkout in the same transaction.
func (d *Database) CheckoutBook(ctx context.Context, rec *BorrowRecord) error {
	if err := checkRecord("borrow record", rec); err != nil {
		return err
	}

	tx, err := d.db.BeginTxx(ctx, nil)
	if err != nil {
		return storeErr("begin checkout", err)
	}
	defer tx.Rollback()

	n, err := d.exec(ctx, tx, "reserve book", d.goqu.Update(tableBooks).
		Set(goqu.Record{"available": false}).
		Where(goqu.C("id").Eq(rec.BookID), goqu.C("available").Eq(true)).
		Prepared(true))
	if err != nil {
		return err
	}
	if n == 0 {
		var id string
		err := d.selectOne(ctx, tx, &id, "find book", d.goqu.From(tableBooks).Select("id").
			Where(goqu.C("id").Eq(rec.BookID)).Prepared(true))
		if err != nil {
			return err
		}
		return ErrUnavailable
	}

	row := goqu.Record{
		"id":          rec.ID,
		"user_id":     rec.UserID,
		"book_id":     rec.BookID,
		"borrowed_at": utc(rec.BorrowedAt),
		"due_at":      utc(rec.DueAt),
		"returned_at": nil,
	}
	if _, err := d.exec(ctx, tx, "insert borrow record", d.goqu.Insert(tableHistory).Rows(row).Prepared(true)); err != nil {
		return err
	}

	if err := tx.Commit(); err != nil {
		return storeErr("commit checkout", err)
	}
	return nil
}

// CheckinBook closes the oldest active record of the user for the book.
func (d *Database) CheckinBook(ctx context.Context, userID, bookID string, at time.Time) error {
	tx, err := d.db.BeginTxx(ctx, nil)
	if err != nil {
		return storeErr("begin checkin", err)
	}
	defer tx.Rollback()

	var recID string
	err = d.selectOne(ctx, tx, &recID, "find active borrow", d.goqu.From(tableHistory).Select("id").
		Where(
			goqu.C("user_id").Eq(userID),
			goqu.C("book_id").Eq(bookID),
			goqu.C("returned_at").IsNull(),
		).
		Order(goqu.C("borrowed_at").Asc(), goqu.C("id").Asc()).
		Limit(1).Prepared(true))
	if errors.Is(err, ErrNotFound) {
		return ErrNoActiveBorrow
	}
	if err != nil {
		return err
	}

	if _, err := d.exec(ctx, tx, "close borrow record", d.goqu.Update(tableHistory).
		Set(goqu.Record{"returned_at": utc(at)}).
		Where(goqu.C("id").Eq(recID), goqu.C("returned_at").IsNull()).
		Prepared(true)); err != nil {
		return err
	}
	if _, err := d.exec(ctx, tx, "release book", d.goqu.Update(tableBooks).
		Set(goqu.Record{"available": true}).
		Where(goqu.C("id").Eq(bookID)).
		Prepared(true)); err != nil {
		return err
	}

	if err := tx.Commit(); err != nil {
		return storeErr("commit checkin", err)
	}
	return nil
}

func (d *Database) BorrowRecords(ctx context.Context, bookID string) ([]*BorrowRecord, error) {
	recs := []*BorrowRecord{}
	ds := d.goqu.From(tableHistory).Select(historyColumns...).
		Where(goqu.C("book_id").Eq(bookID)).
		Order(goqu.C("borrowed_at").Asc(), goqu.C("id").Asc()).Prepared(true)
	if err := d.selectAll(ctx, &recs, "list borrow records", ds); err != nil {
		return nil, err
	}
	for _, r := range recs {
		if err := checkRecord("borrow record", r); err != nil {
			return nil, err
		}
	}
	return recs, nil
}

// ---------------------------------------------------------------------------
// Reports
// ---------------------------------------------------------------------------

func (d *Database) historyJoinBooks() *goqu.SelectDataset {
	return d.goqu.From(goqu.T(tableHistory).As("r")).
		InnerJoin(goqu.T(tableBooks).As("b"), goqu.On(goqu.I("b.id").Eq(goqu.I("r.book_id"))))
}

func (d *Database) History(ctx context.Context, userID string) iter.Seq2[HistoryEntry, error] {
	return func(yield func(HistoryEntry, error) bool) {
		q, args, err := build("history", d.historyJoinBooks().
			Select(
				goqu.I("b.title").As("book_title"),
				goqu.I("r.borrowed_at").As("borrowed_at"),
				goqu.I("r.due_at").As("due_at"),
				goqu.I("r.returned_at").As("returned_at"),
			).
			Where(goqu.I("r.user_id").Eq(userID)).
			Order(goqu.I("r.borrowed_at").Asc(), goqu.I("r.id").Asc()).
			Prepared(true))
		if err != nil {
			yield(HistoryEntry{}, err)
			return
		}

		rows, err := d.db.QueryxContext(ctx, q, args...)
		if err != nil {
			yield(HistoryEntry{}, storeErr("history", err))
			return
		}
		defer rows.Close()

		for rows.Next() {
			var e HistoryEntry
			if err := rows.StructScan(&e); err != nil {
				yield(HistoryEntry{}, storeErr("scan history", err))
				return
			}
			if !yield(e, nil) {
				return
			}
		}
		if err := rows.Err(); err != nil {
			yield(HistoryEntry{}, storeErr("history", err))
		}
	}
}

func (d *Database) MostPopular(ctx context.Context, limit int) ([]PopularBook, error) {
	out := []PopularBook{}
	ds := d.historyJoinBooks().
		Select(
			goqu.I("b.id").As("book_id"),
			goqu.I("b.title").As("title"),
			goqu.I("b.author").As("author"),
			goqu.COUNT(goqu.Star()).As("borrow_count"),
		).
		GroupBy(goqu.I("b.id"), goqu.I("b.title"), goqu.I("b.author")).
		Order(goqu.C("borrow_count").Desc(), goqu.I("b.id").Asc()).
		Limit(uint(limit)).Prepared(true)
	if err := d.selectAll(ctx, &out, "most popular", ds); err != nil {
		return nil, err
	}
	return out, nil
}

func (d *Database) Overdue(ctx context.Context, now time.Time, includeReturned bool) ([]OverdueEntry, error) {
	where := []exp.Expression{goqu.I("r.due_at").Lt(utc(now))}
	if !includeReturned {
		where = append(where, goqu.I("r.returned_at").IsNull())
	}

	out := []OverdueEntry{}
	ds := d.historyJoinBooks().
		InnerJoin(goqu.T(tableUsers).As("u"), goqu.On(goqu.I("u.id").Eq(goqu.I("r.user_id")))).
		Select(
			goqu.I("b.title").As("book_title"),
			goqu.I("b.isbn").As("isbn"),
			goqu.I("u.name").As("user_name"),
			goqu.I("u.email").As("user_email"),
			goqu.I("r.borrowed_at").As("borrowed_at"),
			goqu.I("r.due_at").As("due_at"),
			goqu.I("r.returned_at").As("returned_at"),
		).
		Where(where...).
		Order(goqu.I("r.due_at").Asc(), goqu.I("r.id").Asc()).Prepared(true)
	if err := d.selectAll(ctx, &out, "overdue", ds); err != nil {
		return nil, err
	}
	return out, nil
}

func (d *Database) GenrePopularity(ctx context.Context) ([]GenreCount, error) {
	out := []GenreCount{}
	ds := d.historyJoinBooks().
		Select(goqu.I("b.genre").As("genre"), goqu.COUNT(goqu.Star()).As("count")).
		GroupBy(goqu.I("b.genre")).
		Order(goqu.C("count").Desc(), goqu.C("genre").Asc()).Prepared(true)
	if err := d.selectAll(ctx, &out, "genre popularity", ds); err != nil {
		return nil, err
	}
	return out, nil
}

var _ Store = (*Database)(nil)
