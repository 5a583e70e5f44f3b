package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"framestack/internal/bootstrap"
)

func newReclaimCmd(flags *globalFlags) *cobra.Command {
	var (
		kind        string
		id          string
		deleteOwner bool
	)

	cmd := &cobra.Command{
		Use:   "reclaim",
		Short: "Delete every picture an owner holds, with its images and blobs",
		RunE: func(cmd *cobra.Command, args []string) error {
			owner, err := parseOwner(kind, id)
			if err != nil {
				return err
			}
			return withApp(cmd.Context(), flags, func(app *bootstrap.App) error {
				report, err := app.Reaper.Reclaim(cmd.Context(), owner)
				if err != nil {
					return err
				}
				if deleteOwner {
					if err := app.Repo.DeleteOwner(cmd.Context(), owner); err != nil {
						return err
					}
				}

				out := cmd.OutOrStdout()
				if flags.jsonOutput {
					if err := writeJSON(out, report); err != nil {
						return err
					}
				} else {
					fmt.Fprintf(out, "owner: %s\n", owner)
					fmt.Fprintf(out, "fully reclaimed: %d\n", len(report.FullyReclaimed))
					fmt.Fprintf(out, "partially reclaimed: %d\n", len(report.PartiallyReclaimed))
					for _, f := range report.Failures {
						fmt.Fprintf(out, "  %v\n", f)
					}
				}
				if !report.Complete() {
					return fmt.Errorf("reclaim incomplete: %w", report.Err())
				}
				return nil
			})
		},
	}

	ownerFlags(cmd, &kind, &id)
	cmd.Flags().BoolVar(&deleteOwner, "delete-owner", false, "also delete the owner row")
	return cmd
}
