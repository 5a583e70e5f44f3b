package main

import (
	"fmt"
	"os"

	"github.com/dustin/go-humanize"
	"github.com/spf13/cobra"

	"framestack/internal/bootstrap"
	"framestack/internal/models"
	"framestack/internal/service"
)

func newIngestCmd(flags *globalFlags) *cobra.Command {
	var (
		kind    string
		id      string
		current bool
	)

	cmd := &cobra.Command{
		Use:   "ingest FILE...",
		Short: "Upload image files into an owner's pictures",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			owner, err := parseOwner(kind, id)
			if err != nil {
				return err
			}
			files := make([][]byte, len(args))
			for i, path := range args {
				data, err := os.ReadFile(path)
				if err != nil {
					return err
				}
				files[i] = data
			}

			return withApp(cmd.Context(), flags, func(app *bootstrap.App) error {
				result, err := app.Ingest.Ingest(cmd.Context(), service.IngestRequest{
					Owner:       owner,
					Files:       files,
					MakeCurrent: current,
				})
				if err != nil && len(result.Failures) == 0 {
					return err
				}

				out := cmd.OutOrStdout()
				if flags.jsonOutput {
					if err := writeJSON(out, result); err != nil {
						return err
					}
				} else {
					for _, view := range result.Pictures {
						orig := view.Images[models.VariantOriginal].Image
						fmt.Fprintf(out, "%s  #%d  %dx%d  %s  %s\n",
							view.Picture.ID, view.Picture.OrderingIndex, orig.Width, orig.Height,
							humanize.Bytes(uint64(orig.SizeBytes)), args[view.Picture.OrderingIndex])
					}
					for _, f := range result.Failures {
						fmt.Fprintf(out, "failed  %s: %v\n", args[f.Index], f.Err)
					}
					for _, i := range result.Healed {
						fmt.Fprintf(out, "healed  %s\n", args[i])
					}
				}
				if len(result.Failures) > 0 {
					return fmt.Errorf("%d of %d files failed", len(result.Failures), len(files))
				}
				return nil
			})
		},
	}

	ownerFlags(cmd, &kind, &id)
	cmd.Flags().BoolVar(&current, "current", false, "make the first picture the owner's current one")
	return cmd
}
