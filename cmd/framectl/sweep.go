package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"framestack/internal/bootstrap"
	"framestack/internal/tasks"
)

func newSweepCmd(flags *globalFlags) *cobra.Command {
	return &cobra.Command{
		Use:   "sweep",
		Short: "Remove orphaned pictures, images and blobs now",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(cmd.Context(), flags, func(app *bootstrap.App) error {
				report, err := app.Sweeper.Sweep(cmd.Context())
				if err != nil {
					return err
				}
				out := cmd.OutOrStdout()
				if flags.jsonOutput {
					if err := writeJSON(out, report); err != nil {
						return err
					}
				} else {
					fmt.Fprintf(out, "orphan pictures: %d (%d partial)\n",
						len(report.OrphanPictures.FullyReclaimed), len(report.OrphanPictures.PartiallyReclaimed))
					fmt.Fprintf(out, "orphan images: %d (%d errors)\n", report.OrphanImages, report.OrphanImageErrors)
					fmt.Fprintf(out, "stray blobs: %d (%d errors)\n", report.StrayBlobs, report.StrayBlobErrors)
					fmt.Fprintf(out, "took: %s\n", report.Took)
				}
				if !report.Complete() {
					return fmt.Errorf("sweep left work behind")
				}
				return nil
			})
		},
	}
}

func newEnqueueSweepCmd(flags *globalFlags) *cobra.Command {
	var reason string

	cmd := &cobra.Command{
		Use:   "enqueue-sweep",
		Short: "Queue a sweep for the worker",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(cmd.Context(), flags, func(app *bootstrap.App) error {
				if app.Tasks == nil {
					return fmt.Errorf("task stream disabled: set redis.addr")
				}
				id, err := tasks.EnqueueSweep(cmd.Context(), app.Tasks, reason)
				if err != nil {
					return err
				}
				if flags.jsonOutput {
					return writeJSON(cmd.OutOrStdout(), map[string]string{"messageId": id})
				}
				fmt.Fprintf(cmd.OutOrStdout(), "enqueued %s\n", id)
				return nil
			})
		},
	}

	cmd.Flags().StringVar(&reason, "reason", "framectl", "reason recorded with the task")
	return cmd
}
