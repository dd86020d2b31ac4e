package main

import (
	"context"
	"fmt"

	"github.com/dustin/go-humanize"
	"github.com/loqalabs/memo-transcriber/internal/pipeline"
	"github.com/loqalabs/memo-transcriber/internal/runtime"
	"github.com/loqalabs/memo-transcriber/internal/source"
	"github.com/loqalabs/memo-transcriber/internal/transcriber"
	"github.com/spf13/cobra"
)

func newProcessCommand(a *app) *cobra.Command {
	var (
		maxDuration  float64
		engine       string
		skipMissing  bool
		noTranscribe bool
		folder       string
		limit        int
	)

	cmd := &cobra.Command{
		Use:   "process",
		Short: "Transcribe recordings that are not cached yet",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			opts := pipeline.Options{
				MaxDurationMinutes: a.cfg.Pipeline.MaxDurationMinutes,
				Engine:             a.cfg.Pipeline.Engine,
				SkipMissing:        a.cfg.Pipeline.SkipMissing,
				Transcribe:         !noTranscribe,
				OutputDir:          a.cfg.Export.OutputDir,
			}
			if cmd.Flags().Changed("max-duration") {
				opts.MaxDurationMinutes = maxDuration
			}
			if cmd.Flags().Changed("engine") {
				opts.Engine = engine
			}
			if cmd.Flags().Changed("skip-missing") {
				opts.SkipMissing = skipMissing
			}
			if opts.Engine == "" {
				opts.Engine = transcriber.DefaultEngine
			}
			if _, ok := transcriber.Lookup(opts.Engine); !ok {
				return fmt.Errorf("unknown engine %q (see 'models')", opts.Engine)
			}

			return a.run(cmd, func(ctx context.Context, rt *runtime.Runtime) error {
				items, err := rt.Source().Items(ctx)
				if err != nil {
					return fmt.Errorf("list recordings: %w", err)
				}
				items = source.Limit(source.Filter(items, folder), limit)

				sum, err := rt.Pipeline().Run(ctx, items, opts)
				printOutcomes(cmd, sum)
				if err != nil {
					return err
				}
				printSummary(cmd, sum, opts)
				return nil
			})
		},
	}

	cmd.Flags().Float64Var(&maxDuration, "max-duration", 8.0, "Skip recordings longer than this many minutes")
	cmd.Flags().StringVar(&engine, "engine", transcriber.DefaultEngine, "Transcription engine")
	cmd.Flags().BoolVar(&skipMissing, "skip-missing", true, "Skip recordings whose audio is not on disk instead of failing them")
	cmd.Flags().BoolVar(&noTranscribe, "no-transcribe", false, "Only report what would be transcribed")
	cmd.Flags().StringVar(&folder, "folder", "", "Only process recordings in this folder")
	cmd.Flags().IntVar(&limit, "limit", 0, "Process at most this many recordings (0 for all)")
	return cmd
}

func printOutcomes(cmd *cobra.Command, sum pipeline.Summary) {
	out := cmd.OutOrStdout()
	for _, o := range sum.Outcomes {
		status := string(o.Status)
		if status == "" {
			status = "pending"
		}
		if o.Cached {
			status += " (cached)"
		}
		fmt.Fprintf(out, "%-18s %s / %s: %s\n", status, o.Item.Folder, o.Item.Title, o.Reason)
	}
}

func printSummary(cmd *cobra.Command, sum pipeline.Summary, opts pipeline.Options) {
	out := cmd.OutOrStdout()
	if !opts.Transcribe {
		fmt.Fprintf(out, "\n%s recordings: %d to transcribe, %d skipped, %d failing\n",
			humanize.Comma(int64(sum.Total)), sum.Pending, sum.Skipped, sum.Failed)
		return
	}
	fmt.Fprintf(out, "\nBatch %s (%s)\n", sum.BatchID, opts.Engine)
	fmt.Fprintf(out, "  total:   %s\n", humanize.Comma(int64(sum.Total)))
	fmt.Fprintf(out, "  success: %d (%d cached)\n", sum.Success, sum.Cached)
	fmt.Fprintf(out, "  failed:  %d\n", sum.Failed)
	fmt.Fprintf(out, "  skipped: %d\n", sum.Skipped)
	if sum.AvgProcessingTime > 0 {
		fmt.Fprintf(out, "  average: %ss per transcription\n", humanize.FtoaWithDigits(sum.AvgProcessingTime, 2))
	}
}
