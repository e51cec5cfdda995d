package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"strconv"
	"strings"

	"github.com/chzyer/readline"
	"github.com/jedib0t/go-pretty/v6/table"

	"library-console/library"
)

const (
	seedBookCount = 100
	seedUserCount = 10
	chartWidth    = 40
)

// prompter reads one answer per call. io.EOF ends the shell.
type prompter interface {
	Prompt(label string) (string, error)
	Password(label string) (string, error)
}

type readlinePrompter struct {
	rl *readline.Instance
}

func newReadlinePrompter() (*readlinePrompter, error) {
	homeDir, err := os.UserHomeDir()
	if err != nil {
		homeDir = "."
	}
	rl, err := readline.NewEx(&readline.Config{
		Prompt:            "> ",
		HistoryFile:       homeDir + "/.library_history",
		InterruptPrompt:   "^C",
		EOFPrompt:         "exit",
		HistorySearchFold: true,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to initialize readline: %w", err)
	}
	return &readlinePrompter{rl: rl}, nil
}

func (p *readlinePrompter) Prompt(label string) (string, error) {
	p.rl.SetPrompt(label)
	line, err := p.rl.Readline()
	if errors.Is(err, readline.ErrInterrupt) {
		return "", io.EOF
	}
	return strings.TrimSpace(line), err
}

func (p *readlinePrompter) Password(label string) (string, error) {
	b, err := p.rl.ReadPassword(label)
	if errors.Is(err, readline.ErrInterrupt) {
		return "", io.EOF
	}
	return strings.TrimSpace(string(b)), err
}

func (p *readlinePrompter) Close() error { return p.rl.Close() }

// shell is the interactive menu. It keeps the logged-in session between commands.
type shell struct {
	mgr     *library.LibraryManager
	in      prompter
	out     io.Writer
	session *library.Session
	seeder  *library.Seeder
}

func newShell(mgr *library.LibraryManager, in prompter, out io.Writer, seeder *library.Seeder) *shell {
	return &shell{mgr: mgr, in: in, out: out, seeder: seeder}
}

// Run serves menus until the user exits or input ends.
func (sh *shell) Run(ctx context.Context) error {
	fmt.Fprintln(sh.out, "Welcome to the library!")
	for {
		var (
			done bool
			err  error
		)
		if sh.session == nil {
			done, err = sh.anonymousMenu(ctx)
		} else {
			done, err = sh.memberMenu(ctx)
		}
		if errors.Is(err, io.EOF) {
			return nil
		}
		if err != nil {
			return err
		}
		if done {
			fmt.Fprintln(sh.out, "Goodbye!")
			return nil
		}
	}
}

func (sh *shell) anonymousMenu(ctx context.Context) (bool, error) {
	fmt.Fprintln(sh.out, "\nMenu:")
	fmt.Fprintln(sh.out, "1. Register")
	fmt.Fprintln(sh.out, "2. Log in")
	fmt.Fprintln(sh.out, "3. Exit")
	fmt.Fprintln(sh.out, "4. Load sample books")
	fmt.Fprintln(sh.out, "5. Load sample users")

	choice, err := sh.in.Prompt("Choose an action: ")
	if err != nil {
		return false, err
	}
	switch choice {
	case "1":
		return false, sh.handleRegister(ctx)
	case "2":
		return false, sh.handleLogin(ctx)
	case "3":
		return true, nil
	case "4":
		if _, err := sh.seeder.SeedBooks(ctx, seedBookCount); err != nil {
			sh.fail(err)
			return false, nil
		}
		fmt.Fprintln(sh.out, "Sample books loaded.")
	case "5":
		if _, err := sh.seeder.SeedUsers(ctx, seedUserCount); err != nil {
			sh.fail(err)
			return false, nil
		}
		fmt.Fprintf(sh.out, "Sample users loaded. Their password is %q.\n", library.SeedPassword)
	default:
		fmt.Fprintln(sh.out, "Invalid choice.")
	}
	return false, nil
}

func (sh *shell) memberMenu(ctx context.Context) (bool, error) {
	fmt.Fprintln(sh.out, "\nMenu:")
	fmt.Fprintln(sh.out, "1. Borrow a book")
	fmt.Fprintln(sh.out, "2. Return a book")
	fmt.Fprintln(sh.out, "3. Borrow history")
	fmt.Fprintln(sh.out, "4. Search books")
	fmt.Fprintln(sh.out, "5. Most popular books")
	fmt.Fprintln(sh.out, "6. Genre popularity chart")
	fmt.Fprintln(sh.out, "7. Exit")
	admin := sh.session.IsAdmin()
	if admin {
		fmt.Fprintln(sh.out, "8. Add a book")
		fmt.Fprintln(sh.out, "9. Delete a book")
		fmt.Fprintln(sh.out, "10. Add a user")
		fmt.Fprintln(sh.out, "11. Delete a user")
		fmt.Fprintln(sh.out, "12. Overdue books")
	}

	choice, err := sh.in.Prompt("Choose an action: ")
	if err != nil {
		return false, err
	}
	switch choice {
	case "1":
		return false, sh.handleBorrow(ctx)
	case "2":
		return false, sh.handleReturn(ctx)
	case "3":
		sh.handleHistory(ctx)
	case "4":
		return false, sh.handleSearch(ctx)
	case "5":
		sh.handlePopular(ctx)
	case "6":
		sh.handleGenres(ctx)
	case "7":
		return true, nil
	default:
		if !admin {
			fmt.Fprintln(sh.out, "Invalid choice.")
			return false, nil
		}
		return false, sh.adminAction(ctx, choice)
	}
	return false, nil
}

func (sh *shell) adminAction(ctx context.Context, choice string) error {
	switch choice {
	case "8":
		return sh.handleAddBook(ctx)
	case "9":
		return sh.handleDeleteBook(ctx)
	case "10":
		return sh.handleAddUser(ctx)
	case "11":
		return sh.handleDeleteUser(ctx)
	case "12":
		sh.handleOverdue(ctx)
	default:
		fmt.Fprintln(sh.out, "Invalid choice.")
	}
	return nil
}

// fail prints err the way the menu reports every failed action.
func (sh *shell) fail(err error) {
	switch {
	case errors.Is(err, library.ErrPermission):
		fmt.Fprintln(sh.out, "Access denied. Administrator rights are required.")
	case errors.Is(err, library.ErrNotFound):
		fmt.Fprintln(sh.out, "Book not found.")
	case errors.Is(err, library.ErrUnavailable):
		fmt.Fprintln(sh.out, "The book is not available. Try again later.")
	case errors.Is(err, library.ErrAlreadyReturned):
		fmt.Fprintln(sh.out, "The book was already returned.")
	case errors.Is(err, library.ErrDuplicateUser):
		fmt.Fprintln(sh.out, "A user with this email already exists.")
	case errors.Is(err, library.ErrInvalidCredentials):
		fmt.Fprintln(sh.out, "Invalid email or password.")
	default:
		fmt.Fprintf(sh.out, "Error: %v\n", err)
	}
}

// ask prompts for each label in turn.
func (sh *shell) ask(labels ...string) ([]string, error) {
	answers := make([]string, len(labels))
	for i, l := range labels {
		a, err := sh.in.Prompt(l)
		if err != nil {
			return nil, err
		}
		answers[i] = a
	}
	return answers, nil
}

// ------------------ Anonymous ------------------

func (sh *shell) handleRegister(ctx context.Context) error {
	a, err := sh.ask("Name: ", "Email: ")
	if err != nil {
		return err
	}
	password, err := sh.in.Password("Password: ")
	if err != nil {
		return err
	}
	role, err := sh.in.Prompt("Role (user/admin): ")
	if err != nil {
		return err
	}
	if _, err := sh.mgr.Register(ctx, a[0], a[1], password, library.Role(strings.ToLower(role))); err != nil {
		sh.fail(err)
		return nil
	}
	fmt.Fprintf(sh.out, "User '%s' registered.\n", a[0])
	return nil
}

func (sh *shell) handleLogin(ctx context.Context) error {
	email, err := sh.in.Prompt("Email: ")
	if err != nil {
		return err
	}
	password, err := sh.in.Password("Password: ")
	if err != nil {
		return err
	}
	s, err := sh.mgr.Login(ctx, email, password)
	if err != nil {
		sh.fail(err)
		return nil
	}
	sh.session = s
	fmt.Fprintf(sh.out, "Welcome, %s!\n", s.Name)
	return nil
}

// ------------------ Circulation ------------------

func (sh *shell) handleBorrow(ctx context.Context) error {
	isbn, err := sh.in.Prompt("ISBN: ")
	if err != nil {
		return err
	}
	due, err := sh.mgr.BorrowBook(ctx, sh.session, isbn)
	if err != nil {
		sh.fail(err)
		return nil
	}
	fmt.Fprintf(sh.out, "Book borrowed. Please return it by %s.\n", due.Local().Format("2006-01-02"))
	return nil
}

func (sh *shell) handleReturn(ctx context.Context) error {
	isbn, err := sh.in.Prompt("ISBN: ")
	if err != nil {
		return err
	}
	if err := sh.mgr.ReturnBook(ctx, sh.session, isbn); err != nil {
		if errors.Is(err, library.ErrNoActiveBorrow) {
			fmt.Fprintln(sh.out, "You have not borrowed this book.")
			return nil
		}
		sh.fail(err)
		return nil
	}
	fmt.Fprintln(sh.out, "Book returned.")
	return nil
}

func (sh *shell) handleHistory(ctx context.Context) {
	t := sh.table()
	t.SetTitle("Borrow history of %s", sh.session.Name)
	t.AppendHeader(table.Row{"Book", "Borrowed", "Due", "Returned"})
	for e, err := range sh.mgr.History(ctx, sh.session) {
		if err != nil {
			sh.fail(err)
			return
		}
		returned := "-"
		if e.ReturnedAt != nil {
			returned = formatTime(*e.ReturnedAt)
		}
		t.AppendRow(table.Row{e.BookTitle, formatTime(e.BorrowedAt), formatTime(e.DueAt), returned})
	}
	t.Render()
}

func (sh *shell) handleSearch(ctx context.Context) error {
	term, err := sh.in.Prompt("Search (title, author, genre): ")
	if err != nil {
		return err
	}
	books, err := sh.mgr.SearchBooks(ctx, term)
	if err != nil {
		sh.fail(err)
		return nil
	}
	if len(books) == 0 {
		fmt.Fprintln(sh.out, "No books match.")
		return nil
	}
	sh.renderBooks(books)
	return nil
}

func (sh *shell) handlePopular(ctx context.Context) {
	top, err := sh.mgr.MostPopular(ctx, library.DefaultPopularLimit)
	if err != nil {
		sh.fail(err)
		return
	}
	t := sh.table()
	t.SetTitle("Most popular books")
	t.AppendHeader(table.Row{"#", "Title", "Author", "Borrows"})
	for i, p := range top {
		t.AppendRow(table.Row{i + 1, p.Title, p.Author, p.BorrowCount})
	}
	t.Render()
}

func (sh *shell) handleGenres(ctx context.Context) {
	counts, err := sh.mgr.GenrePopularity(ctx)
	if err != nil {
		sh.fail(err)
		return
	}
	if len(counts) == 0 {
		fmt.Fprintln(sh.out, "Nothing has been borrowed yet.")
		return
	}
	renderGenreChart(sh.out, counts)
}

// renderGenreChart draws one bar per genre, scaled to the most borrowed genre.
func renderGenreChart(w io.Writer, counts []library.GenreCount) {
	maxCount := 0
	for _, c := range counts {
		maxCount = max(maxCount, c.Count)
	}
	t := table.NewWriter()
	t.SetOutputMirror(w)
	t.SetStyle(table.StyleLight)
	t.SetTitle("Genre popularity")
	t.AppendHeader(table.Row{"Genre", "Borrows", ""})
	for _, c := range counts {
		bar := strings.Repeat("█", max(1, c.Count*chartWidth/maxCount))
		t.AppendRow(table.Row{c.Genre, c.Count, bar})
	}
	t.Render()
}

// ------------------ Admin ------------------

func (sh *shell) handleAddBook(ctx context.Context) error {
	a, err := sh.ask("Title: ", "Author: ", "Genre: ", "ISBN: ", "Year: ", "Rating (0-5, optional): ")
	if err != nil {
		return err
	}
	year, err := strconv.Atoi(a[4])
	if err != nil {
		fmt.Fprintf(sh.out, "Invalid year: %s\n", a[4])
		return nil
	}
	var rating float64
	if a[5] != "" {
		if rating, err = strconv.ParseFloat(a[5], 64); err != nil {
			fmt.Fprintf(sh.out, "Invalid rating: %s\n", a[5])
			return nil
		}
	}
	in := library.BookInput{Title: a[0], Author: a[1], Genre: a[2], ISBN: a[3], Year: year, Rating: rating}
	if _, err := sh.mgr.AddBook(ctx, sh.session, in); err != nil {
		sh.fail(err)
		return nil
	}
	fmt.Fprintln(sh.out, "Book added.")
	return nil
}

func (sh *shell) handleDeleteBook(ctx context.Context) error {
	isbn, err := sh.in.Prompt("ISBN of the book to delete: ")
	if err != nil {
		return err
	}
	if err := sh.mgr.DeleteBook(ctx, sh.session, isbn); err != nil {
		sh.fail(err)
		return nil
	}
	fmt.Fprintln(sh.out, "Book deleted.")
	return nil
}

func (sh *shell) handleAddUser(ctx context.Context) error {
	a, err := sh.ask("Name: ", "Email: ")
	if err != nil {
		return err
	}
	password, err := sh.in.Password("Password: ")
	if err != nil {
		return err
	}
	if _, err := sh.mgr.AddUser(ctx, sh.session, a[0], a[1], password, library.RoleUser); err != nil {
		sh.fail(err)
		return nil
	}
	fmt.Fprintln(sh.out, "User added.")
	return nil
}

func (sh *shell) handleDeleteUser(ctx context.Context) error {
	email, err := sh.in.Prompt("Email of the user to delete: ")
	if err != nil {
		return err
	}
	if err := sh.mgr.DeleteUser(ctx, sh.session, email); err != nil {
		sh.fail(err)
		return nil
	}
	fmt.Fprintln(sh.out, "User deleted.")
	return nil
}

func (sh *shell) handleOverdue(ctx context.Context) {
	late, err := sh.mgr.Overdue(ctx, sh.session, false)
	if err != nil {
		sh.fail(err)
		return
	}
	if len(late) == 0 {
		fmt.Fprintln(sh.out, "No overdue books.")
		return
	}
	renderOverdue(sh.out, late)
}

func renderOverdue(w io.Writer, late []library.OverdueEntry) {
	t := table.NewWriter()
	t.SetOutputMirror(w)
	t.SetStyle(table.StyleLight)
	t.SetTitle("Overdue books")
	t.AppendHeader(table.Row{"Book", "ISBN", "User", "Email", "Borrowed", "Due", "Returned"})
	for _, e := range late {
		returned := "-"
		if e.ReturnedAt != nil {
			returned = formatTime(*e.ReturnedAt)
		}
		t.AppendRow(table.Row{e.BookTitle, e.ISBN, e.UserName, e.UserEmail, formatTime(e.BorrowedAt), formatTime(e.DueAt), returned})
	}
	t.Render()
}

// ------------------ Output helpers ------------------

func (sh *shell) table() table.Writer {
	t := table.NewWriter()
	t.SetOutputMirror(sh.out)
	t.SetStyle(table.StyleLight)
	return t
}

func (sh *shell) renderBooks(books []*library.Book) {
	t := sh.table()
	t.AppendHeader(table.Row{"ISBN", "Title", "Author", "Genre", "Year", "Rating", "Available"})
	for _, b := range books {
		avail := "Yes"
		if !b.Available {
			avail = "No"
		}
		t.AppendRow(table.Row{b.ISBN, truncateString(b.Title, 40), truncateString(b.Author, 25), b.Genre, b.Year, fmt.Sprintf("%.1f", b.Rating), avail})
	}
	t.Render()
}
