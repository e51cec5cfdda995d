package main

import (
	"context"
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"library-console/library"
)

func main() {
	var (
		dbFile string
		books  int
		users  int
		keep   bool
	)
	cmd := &cobra.Command{
		Use:          "seed",
		Short:        "Reset a SQLite library database and fill it with sample data",
		SilenceUsage: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			if !keep {
				resetDatabase(dbFile)
			}
			return seed(cmd.Context(), dbFile, books, users)
		},
	}
	cmd.Flags().StringVar(&dbFile, "db", "library.db", "SQLite database file")
	cmd.Flags().IntVar(&books, "books", 100, "number of books to create")
	cmd.Flags().IntVar(&users, "users", 10, "number of users to create")
	cmd.Flags().BoolVar(&keep, "keep", false, "add to the existing database instead of recreating it")

	if err := cmd.ExecuteContext(context.Background()); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

// resetDatabase removes the database file and its WAL companions.
func resetDatabase(dbFile string) {
	fmt.Println("Cleaning up existing database files...")
	for _, file := range []string{dbFile, dbFile + "-shm", dbFile + "-wal"} {
		if err := os.Remove(file); err != nil && !os.IsNotExist(err) {
			fmt.Printf("Warning: Could not remove %s: %v\n", file, err)
		}
	}
	fmt.Println("Database cleanup complete.")
}

func seed(ctx context.Context, dbFile string, books, users int) error {
	cfg := library.DefaultConfig()
	cfg.DSN = dbFile
	manager, err := library.NewLibraryManager(ctx, cfg)
	if err != nil {
		return fmt.Errorf("creating database: %w", err)
	}
	defer manager.Close()

	seeder := library.NewSeeder(manager.Store(), nil, cfg.BcryptCost)
	created, err := seeder.SeedBooks(ctx, books)
	fmt.Printf("Successfully imported: %d books\n", len(created))
	if err != nil {
		return err
	}
	members, err := seeder.SeedUsers(ctx, users)
	fmt.Printf("Successfully imported: %d users (password %q)\n", len(members), library.SeedPassword)
	if err != nil {
		return err
	}

	if len(created) > 0 {
		fmt.Println("\nImported books:")
		for _, b := range created {
			fmt.Println(library.PrettyBook(b))
		}
	}
	if len(members) > 0 {
		fmt.Println("\nImported users:")
		for _, u := range members {
			fmt.Printf("%-30s %s\n", u.Email, u.Name)
		}
	}
	return nil
}
