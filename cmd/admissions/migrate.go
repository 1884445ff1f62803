package main

import (
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"github.com/pecadmissions/admissions/auth"
)

// NewMigrateCommand creates the migrate command.
func NewMigrateCommand(rootOpts *RootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "migrate",
		Short: "Create or upgrade the database schema",
		Long: `Open the database, create missing tables, add missing application
columns and seed the application number counter. Staff from the legacy
admins and coordinators tables are copied into accounts with their
passwords hashed; staff that already have an account are left alone.

With --no-upgrade the schema is only inspected and the missing columns are
reported.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			store, err := rootOpts.openStore()
			if err != nil {
				return err
			}
			defer store.Close()

			out := cmd.OutOrStdout()
			fmt.Fprintf(out, "Database: %s\n", rootOpts.Config.DBPath)

			if missing := store.Capabilities().Missing(); len(missing) > 0 {
				fmt.Fprintf(out, "Missing columns: %s\n", strings.Join(missing, ", "))
			} else {
				fmt.Fprintln(out, "Schema is up to date")
			}

			imported, err := store.ImportLegacyStaff(cmd.Context(), auth.HashPassword)
			if err != nil {
				return err
			}
			if imported > 0 {
				fmt.Fprintf(out, "Imported staff accounts: %d\n", imported)
			}

			last, ok, err := store.LastNumber(cmd.Context())
			if err != nil {
				return err
			}
			if ok {
				fmt.Fprintf(out, "Last issued number: %d\n", last)
			}
			return nil
		},
	}
}
