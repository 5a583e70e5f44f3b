package main

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"

	"github.com/spf13/cobra"

	"framestack/internal/bootstrap"
	"framestack/internal/config"
	"framestack/internal/log"
	"framestack/internal/models"
)

type globalFlags struct {
	configPath string
	jsonOutput bool
	logLevel   string
}

func newRootCmd() *cobra.Command {
	flags := &globalFlags{}

	cmd := &cobra.Command{
		Use:           "framectl",
		Short:         "Operate the framestack media pipeline",
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	cmd.PersistentFlags().StringVar(&flags.configPath, "config", "", "config file (default: ./config.yaml)")
	cmd.PersistentFlags().BoolVar(&flags.jsonOutput, "json", false, "output JSON")
	cmd.PersistentFlags().StringVar(&flags.logLevel, "log-level", "warn", "log level")

	cmd.AddCommand(
		newReclaimCmd(flags),
		newSweepCmd(flags),
		newEnqueueSweepCmd(flags),
		newIngestCmd(flags),
	)
	return cmd
}

// withApp loads the configuration, wires the services and closes them after
// fn returns.
func withApp(ctx context.Context, flags *globalFlags, fn func(*bootstrap.App) error) error {
	cfg, err := config.LoadFrom(flags.configPath)
	if err != nil {
		return err
	}
	logger := log.NewWithWriter(os.Stderr, cfg.Environment, flags.logLevel)

	app, err := bootstrap.New(ctx, cfg, logger)
	if err != nil {
		return err
	}
	defer app.Close()
	return fn(app)
}

func ownerFlags(cmd *cobra.Command, kind, id *string) {
	cmd.Flags().StringVar(kind, "kind", "", "owner kind: frame, profile_picture, gallery or user")
	cmd.Flags().StringVar(id, "id", "", "owner id")
	_ = cmd.MarkFlagRequired("kind")
	_ = cmd.MarkFlagRequired("id")
}

func parseOwner(kind, id string) (models.OwnerRef, error) {
	ref := models.OwnerRef{Kind: models.OwnerKind(kind), ID: id}
	if !ref.Kind.Valid() {
		return models.OwnerRef{}, fmt.Errorf("unknown owner kind %q", kind)
	}
	if id == "" {
		return models.OwnerRef{}, fmt.Errorf("owner id required")
	}
	return ref, nil
}

func writeJSON(w io.Writer, payload any) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(payload)
}
