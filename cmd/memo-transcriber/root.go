package main

import (
	"context"
	"log/slog"
	"os"

	"github.com/loqalabs/memo-transcriber/internal/config"
	"github.com/loqalabs/memo-transcriber/internal/runtime"
	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"
)

// app carries the state shared by every subcommand.
type app struct {
	configPath string
	dbPath     string
	cfg        config.Config
	log        *slog.Logger
}

func newRootCommand() *cobra.Command {
	a := &app{}

	root := &cobra.Command{
		Use:           "memo-transcriber",
		Short:         "Transcribe, cache and export voice memos",
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, _ []string) error {
			return a.init()
		},
	}
	root.PersistentFlags().StringVar(&a.configPath, "config", "", "Path to YAML configuration file")
	root.PersistentFlags().StringVar(&a.dbPath, "db", "", "Path to the transcription database")

	root.AddCommand(
		newProcessCommand(a),
		newListCommand(a),
		newStatsCommand(a),
		newBatchesCommand(a),
		newExportCommand(a),
		newReferenceCommand(a),
		newCompareCommand(a),
		newCompareSummaryCommand(a),
		newTranscribeModelsCommand(a),
		newCompareAllCommand(a),
		newModelsCommand(),
		newVersionCommand(),
	)
	return root
}

func (a *app) init() error {
	cfg, err := config.Load(a.configPath)
	if err != nil {
		return err
	}
	if a.dbPath != "" {
		cfg.Store.Path = config.ExpandHome(a.dbPath)
	}
	a.cfg = cfg
	a.log = runtime.NewLogger(cfg.Telemetry, os.Stderr)
	return nil
}

// run opens the runtime for one command and serves metrics next to it
// when a bind address is configured.
func (a *app) run(cmd *cobra.Command, fn func(ctx context.Context, rt *runtime.Runtime) error) error {
	rt, err := runtime.Open(cmd.Context(), a.cfg, a.log)
	if err != nil {
		return err
	}
	defer rt.Close()

	ctx, cancel := context.WithCancel(cmd.Context())
	defer cancel()

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		return rt.ServeMetrics(gctx)
	})
	g.Go(func() error {
		defer cancel()
		return fn(gctx, rt)
	})
	return g.Wait()
}
