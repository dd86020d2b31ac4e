package main

import (
	"context"
	"errors"
	"fmt"
	"slices"
	"strings"
	"text/tabwriter"

	"github.com/loqalabs/memo-transcriber/internal/pipeline"
	"github.com/loqalabs/memo-transcriber/internal/runtime"
	"github.com/loqalabs/memo-transcriber/internal/source"
	"github.com/loqalabs/memo-transcriber/internal/store"
	"github.com/loqalabs/memo-transcriber/internal/transcriber"
	"github.com/spf13/cobra"
)

func newTranscribeModelsCommand(a *app) *cobra.Command {
	var engines []string
	cmd := &cobra.Command{
		Use:   "transcribe-models <id>",
		Short: "Transcribe one recording with several engines for comparison",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			var names []string
			for _, e := range engines {
				e = strings.TrimSpace(e)
				if e == "" {
					continue
				}
				if _, ok := transcriber.Lookup(e); !ok {
					return fmt.Errorf("unknown engine %q (see 'models')", e)
				}
				names = append(names, e)
			}
			if len(names) == 0 {
				return errors.New("--engines needs at least one engine")
			}

			return a.run(cmd, func(ctx context.Context, rt *runtime.Runtime) error {
				items, err := rt.Source().Items(ctx)
				if err != nil {
					return fmt.Errorf("list recordings: %w", err)
				}
				idx := slices.IndexFunc(items, func(it source.Item) bool { return it.ID == args[0] })
				if idx < 0 {
					return fmt.Errorf("recording %s: %w", args[0], store.ErrNotFound)
				}
				it := items[idx]

				opts := pipeline.Options{
					SkipMissing: a.cfg.Pipeline.SkipMissing,
					OutputDir:   a.cfg.Export.OutputDir,
				}
				fmt.Fprintf(cmd.OutOrStdout(), "%s / %s with %s\n", it.Folder, it.Title, strings.Join(names, ", "))
				sum, err := rt.Pipeline().RunEngines(ctx, it, names, opts)
				printEngineOutcomes(cmd, sum)
				if err != nil {
					return err
				}
				opts.Engine = strings.Join(names, ",")
				opts.Transcribe = true
				printSummary(cmd, sum, opts)
				return nil
			})
		},
	}
	cmd.Flags().StringSliceVar(&engines, "engines", nil, "Comma-separated engines to transcribe with")
	_ = cmd.MarkFlagRequired("engines")
	return cmd
}

func printEngineOutcomes(cmd *cobra.Command, sum pipeline.Summary) {
	out := cmd.OutOrStdout()
	for _, o := range sum.Outcomes {
		_, engine, _ := store.SplitHypothesisID(o.Item.ID)
		status := string(o.Status)
		if o.Cached {
			status += " (cached)"
		}
		fmt.Fprintf(out, "%-18s %s: %s\n", status, engine, o.Reason)
	}
}

func newCompareAllCommand(a *app) *cobra.Command {
	var (
		notes       string
		noNormalize bool
	)
	cmd := &cobra.Command{
		Use:   "compare-all <reference-id>",
		Short: "Score every engine's transcription of the reference's recording",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return a.run(cmd, func(ctx context.Context, rt *runtime.Runtime) error {
				results, err := rt.CompareAll(ctx, args[0], !noNormalize, notes)
				if err != nil {
					return err
				}
				if len(results) == 0 {
					fmt.Fprintf(cmd.OutOrStdout(), "no transcriptions to compare with %s; run transcribe-models first\n", args[0])
					return nil
				}
				tw := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
				fmt.Fprintln(tw, "HYPOTHESIS\tENGINE\tWER\tCER\tSUB\tDEL\tINS\tJACCARD\tCOSINE")
				for _, r := range results {
					if r.Skipped {
						fmt.Fprintf(tw, "%s\t%s\tskipped (%s)\t\t\t\t\t\t\n", r.Hypothesis.ID, r.Hypothesis.Engine, r.Hypothesis.Status)
						continue
					}
					c := r.Comparison
					fmt.Fprintf(tw, "%s\t%s\t%.3f\t%.3f\t%d\t%d\t%d\t%.3f\t%.3f\n",
						r.Hypothesis.ID, r.Hypothesis.Engine, c.WER, c.CER,
						c.Substitutions, c.Deletions, c.Insertions, c.Jaccard, c.Cosine)
				}
				return tw.Flush()
			})
		},
	}
	cmd.Flags().StringVar(&notes, "notes", "", "Free-form notes stored with each comparison")
	cmd.Flags().BoolVar(&noNormalize, "no-normalize", false, "Compare texts verbatim instead of lowercased without punctuation")
	return cmd
}
