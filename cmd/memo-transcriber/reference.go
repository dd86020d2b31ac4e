package main

import (
	"context"
	"fmt"
	"os"
	"strings"
	"text/tabwriter"

	"github.com/google/uuid"
	"github.com/loqalabs/memo-transcriber/internal/runtime"
	"github.com/loqalabs/memo-transcriber/internal/store"
	"github.com/spf13/cobra"
)

func newReferenceCommand(a *app) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "reference",
		Short: "Manage ground-truth transcriptions",
	}

	mark := &cobra.Command{
		Use:   "mark <id>",
		Short: "Flag a transcription as reference",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return a.run(cmd, func(ctx context.Context, rt *runtime.Runtime) error {
				if err := rt.Store().MarkReference(ctx, args[0]); err != nil {
					return err
				}
				fmt.Fprintf(cmd.OutOrStdout(), "%s marked as reference\n", args[0])
				return nil
			})
		},
	}

	unmark := &cobra.Command{
		Use:   "unmark <id>",
		Short: "Remove the reference flag",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return a.run(cmd, func(ctx context.Context, rt *runtime.Runtime) error {
				if err := rt.Store().UnmarkReference(ctx, args[0]); err != nil {
					return err
				}
				fmt.Fprintf(cmd.OutOrStdout(), "%s is no longer a reference\n", args[0])
				return nil
			})
		},
	}

	list := &cobra.Command{
		Use:   "list",
		Short: "List reference transcriptions",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return a.run(cmd, func(ctx context.Context, rt *runtime.Runtime) error {
				refs, err := rt.Store().ListReferences(ctx)
				if err != nil {
					return err
				}
				tw := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
				fmt.Fprintln(tw, "ID\tTITLE\tFOLDER\tENGINE\tWORDS")
				for _, r := range refs {
					fmt.Fprintf(tw, "%s\t%s\t%s\t%s\t%d\n", r.ID, r.Title, r.Folder, r.Engine, len(strings.Fields(r.Text)))
				}
				return tw.Flush()
			})
		},
	}

	var (
		file      string
		id        string
		recording string
	)
	importCmd := &cobra.Command{
		Use:   "import <title>",
		Short: "Store a hand-made transcript as reference",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			data, err := os.ReadFile(file)
			if err != nil {
				return fmt.Errorf("read reference text: %w", err)
			}
			switch {
			case recording != "":
				id = store.HypothesisID(recording, "reference")
			case id == "":
				id = uuid.NewString()
			}
			return a.run(cmd, func(ctx context.Context, rt *runtime.Runtime) error {
				err := rt.Store().ImportReference(ctx, store.Transcription{
					ID:    id,
					Title: args[0],
					Path:  file,
					Text:  strings.TrimSpace(string(data)),
				})
				if err != nil {
					return err
				}
				fmt.Fprintf(cmd.OutOrStdout(), "imported reference %s\n", id)
				return nil
			})
		},
	}
	importCmd.Flags().StringVar(&file, "file", "", "Text file holding the reference transcript")
	importCmd.Flags().StringVar(&id, "id", "", "Identifier for the reference (random when empty)")
	importCmd.Flags().StringVar(&recording, "recording", "", "Attach the reference to this recording for compare-all")
	_ = importCmd.MarkFlagRequired("file")
	importCmd.MarkFlagsMutuallyExclusive("id", "recording")

	cmd.AddCommand(mark, unmark, list, importCmd)
	return cmd
}

func newCompareCommand(a *app) *cobra.Command {
	var (
		notes       string
		noNormalize bool
	)
	cmd := &cobra.Command{
		Use:   "compare <reference-id> <hypothesis-id>...",
		Short: "Score transcriptions against a reference",
		Args:  cobra.MinimumNArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			return a.run(cmd, func(ctx context.Context, rt *runtime.Runtime) error {
				tw := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
				fmt.Fprintln(tw, "HYPOTHESIS\tWER\tCER\tSUB\tDEL\tINS\tWORDS\tJACCARD\tCOSINE")
				for _, hyp := range args[1:] {
					c, err := rt.Compare(ctx, args[0], hyp, !noNormalize, notes)
					if err != nil {
						return err
					}
					fmt.Fprintf(tw, "%s\t%.3f\t%.3f\t%d\t%d\t%d\t%d/%d (%+.1f%%)\t%.3f\t%.3f\n",
						hyp, c.WER, c.CER, c.Substitutions, c.Deletions, c.Insertions,
						c.HypothesisWords, c.ReferenceWords, c.WordDiffPct, c.Jaccard, c.Cosine)
				}
				return tw.Flush()
			})
		},
	}
	cmd.Flags().StringVar(&notes, "notes", "", "Free-form notes stored with the comparison")
	cmd.Flags().BoolVar(&noNormalize, "no-normalize", false, "Compare texts verbatim instead of lowercased without punctuation")
	return cmd
}

func newCompareSummaryCommand(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "compare-summary <reference-id>",
		Short: "Summarize comparisons against a reference by engine",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return a.run(cmd, func(ctx context.Context, rt *runtime.Runtime) error {
				rows, err := rt.Store().SummarizeByEngine(ctx, args[0])
				if err != nil {
					return err
				}
				if len(rows) == 0 {
					fmt.Fprintf(cmd.OutOrStdout(), "no comparisons for %s\n", args[0])
					return nil
				}
				tw := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
				fmt.Fprintln(tw, "ENGINE\tRUNS\tAVG WER\tMIN WER\tMAX WER\tAVG CER\tJACCARD\tCOSINE")
				for _, r := range rows {
					fmt.Fprintf(tw, "%s\t%d\t%.3f\t%.3f\t%.3f\t%.3f\t%.3f\t%.3f\n",
						r.Engine, r.Count, r.AvgWER, r.MinWER, r.MaxWER, r.AvgCER, r.AvgJaccard, r.AvgCosine)
				}
				return tw.Flush()
			})
		},
	}
}
