package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/pecadmissions/admissions/admission"
)

// NewSequenceCommand creates the sequence command.
func NewSequenceCommand(rootOpts *RootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "sequence",
		Short: "Show the application number counter",
		Long:  "Print the last issued application number and the one the next reservation will receive. Read-only.",
		RunE: func(cmd *cobra.Command, args []string) error {
			store, err := rootOpts.openStore()
			if err != nil {
				return err
			}
			defer store.Close()

			last, ok, err := store.LastNumber(cmd.Context())
			if err != nil {
				return err
			}
			out := cmd.OutOrStdout()
			if !ok {
				fmt.Fprintln(out, "Counter not seeded")
				return nil
			}
			fmt.Fprintf(out, "Last: %s\nNext: %s\n", admission.Encode(last), admission.Encode(last+1))
			return nil
		},
	}
}
