package main

import (
	"fmt"
	"io"

	jsoniter "github.com/json-iterator/go"
	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/spf13/cobra"

	"library-console/library"
)

var json = jsoniter.ConfigCompatibleWithStandardLibrary

// askPassword is replaced in tests.
var askPassword = readPassword

type reportOptions struct {
	limit           int
	asJSON          bool
	includeReturned bool
	email           string
}

func newReportCmd(store *storeOptions) *cobra.Command {
	opts := &reportOptions{}
	cmd := &cobra.Command{
		Use:   "report",
		Short: "Print a circulation report and exit",
	}
	cmd.PersistentFlags().BoolVar(&opts.asJSON, "json", false, "print JSON instead of a table")

	popular := &cobra.Command{
		Use:   "popular",
		Short: "Most borrowed books",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			mgr, _, err := store.open(cmd)
			if err != nil {
				return err
			}
			defer mgr.Close()
			top, err := mgr.MostPopular(cmd.Context(), opts.limit)
			if err != nil {
				return err
			}
			if opts.asJSON {
				return writeJSON(cmd.OutOrStdout(), top)
			}
			t := table.NewWriter()
			t.SetOutputMirror(cmd.OutOrStdout())
			t.SetStyle(table.StyleLight)
			t.AppendHeader(table.Row{"#", "Title", "Author", "Borrows"})
			for i, p := range top {
				t.AppendRow(table.Row{i + 1, p.Title, p.Author, p.BorrowCount})
			}
			t.Render()
			return nil
		},
	}
	popular.Flags().IntVar(&opts.limit, "limit", library.DefaultPopularLimit, "number of books to list")

	genres := &cobra.Command{
		Use:   "genres",
		Short: "Borrow counts per genre",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			mgr, _, err := store.open(cmd)
			if err != nil {
				return err
			}
			defer mgr.Close()
			counts, err := mgr.GenrePopularity(cmd.Context())
			if err != nil {
				return err
			}
			if opts.asJSON {
				return writeJSON(cmd.OutOrStdout(), counts)
			}
			if len(counts) == 0 {
				fmt.Fprintln(cmd.OutOrStdout(), "Nothing has been borrowed yet.")
				return nil
			}
			renderGenreChart(cmd.OutOrStdout(), counts)
			return nil
		},
	}

	overdue := &cobra.Command{
		Use:   "overdue",
		Short: "Borrows past their due date (admin only)",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			if opts.email == "" {
				return fmt.Errorf("--email is required")
			}
			mgr, _, err := store.open(cmd)
			if err != nil {
				return err
			}
			defer mgr.Close()

			password, err := askPassword(cmd.ErrOrStderr(), "Password: ")
			if err != nil {
				return fmt.Errorf("failed to read password: %w", err)
			}
			s, err := mgr.Login(cmd.Context(), opts.email, password)
			if err != nil {
				return err
			}
			late, err := mgr.Overdue(cmd.Context(), s, opts.includeReturned)
			if err != nil {
				return err
			}
			if opts.asJSON {
				return writeJSON(cmd.OutOrStdout(), late)
			}
			if len(late) == 0 {
				fmt.Fprintln(cmd.OutOrStdout(), "No overdue books.")
				return nil
			}
			renderOverdue(cmd.OutOrStdout(), late)
			return nil
		},
	}
	overdue.Flags().BoolVar(&opts.includeReturned, "include-returned", false, "also list borrows that were returned late")
	overdue.Flags().StringVar(&opts.email, "email", "", "admin email to log in with")

	cmd.AddCommand(popular, genres, overdue)
	return cmd
}

func writeJSON(w io.Writer, v any) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}
