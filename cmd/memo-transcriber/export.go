package main

import (
	"context"
	"fmt"

	"github.com/loqalabs/memo-transcriber/internal/export"
	"github.com/loqalabs/memo-transcriber/internal/runtime"
	"github.com/spf13/cobra"
)

func newExportCommand(a *app) *cobra.Command {
	var (
		format     string
		outputDir  string
		unexported bool
		force      bool
		status     string
	)
	cmd := &cobra.Command{
		Use:   "export",
		Short: "Write cached transcriptions to files",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			if !cmd.Flags().Changed("format") {
				format = a.cfg.Export.Format
			}
			if !cmd.Flags().Changed("status") {
				status = a.cfg.Export.Status
			}
			if !cmd.Flags().Changed("unexported") {
				unexported = a.cfg.Export.OnlyUnexported
			}
			f, err := export.ParseFormat(format)
			if err != nil {
				return err
			}
			st, err := parseStatus(status)
			if err != nil {
				return err
			}

			return a.run(cmd, func(ctx context.Context, rt *runtime.Runtime) error {
				res, err := rt.Exporter(outputDir).Export(ctx, export.Options{
					Format:         f,
					OnlyUnexported: unexported,
					Force:          force,
					Status:         st,
				})
				if err != nil {
					return err
				}
				dir := outputDir
				if dir == "" {
					dir = a.cfg.Export.OutputDir
				}
				fmt.Fprintf(cmd.OutOrStdout(), "Exported %d of %d to %s (%d unchanged, %d failed)\n",
					res.Exported, res.Total, dir, res.Skipped, res.Failed)
				return nil
			})
		},
	}
	cmd.Flags().StringVar(&format, "format", "txt", "Output format: txt, md or json")
	cmd.Flags().StringVar(&outputDir, "output-dir", "", "Directory to write files to (default from config)")
	cmd.Flags().BoolVar(&unexported, "unexported", false, "Only export records without a successful export")
	cmd.Flags().BoolVar(&force, "force", false, "Rewrite files even when unchanged")
	cmd.Flags().StringVar(&status, "status", "success", "Only export records with this status (empty for all)")
	return cmd
}
