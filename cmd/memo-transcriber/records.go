package main

import (
	"context"
	"fmt"
	"sort"
	"text/tabwriter"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/loqalabs/memo-transcriber/internal/runtime"
	"github.com/loqalabs/memo-transcriber/internal/store"
	"github.com/spf13/cobra"
)

func parseStatus(s string) (store.Status, error) {
	st := store.Status(s)
	if s == "" || st.Valid() {
		return st, nil
	}
	return "", fmt.Errorf("unknown status %q (want success, failed or skipped)", s)
}

func newListCommand(a *app) *cobra.Command {
	var (
		status     string
		unexported bool
		folder     string
		limit      int
	)
	cmd := &cobra.Command{
		Use:   "list",
		Short: "List cached transcriptions",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			st, err := parseStatus(status)
			if err != nil {
				return err
			}
			return a.run(cmd, func(ctx context.Context, rt *runtime.Runtime) error {
				var recs []store.Transcription
				if unexported {
					recs, err = rt.Store().ListUnexported(ctx)
				} else {
					recs, err = rt.Store().ListByStatus(ctx, st)
				}
				if err != nil {
					return err
				}

				tw := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
				fmt.Fprintln(tw, "ID\tSTATUS\tFOLDER\tTITLE\tENGINE\tPROCESSED\tREF")
				shown := 0
				for _, rec := range recs {
					if folder != "" && rec.Folder != folder {
						continue
					}
					if limit > 0 && shown >= limit {
						break
					}
					ref := ""
					if rec.IsReference {
						ref = "*"
					}
					fmt.Fprintf(tw, "%s\t%s\t%s\t%s\t%s\t%s\t%s\n",
						rec.ID, rec.Status, rec.Folder, rec.Title, rec.Engine, humanize.Time(rec.ProcessedAt), ref)
					shown++
				}
				return tw.Flush()
			})
		},
	}
	cmd.Flags().StringVar(&status, "status", "", "Only list records with this status")
	cmd.Flags().BoolVar(&unexported, "unexported", false, "Only list successful records without a successful export")
	cmd.Flags().StringVar(&folder, "folder", "", "Only list records in this folder")
	cmd.Flags().IntVar(&limit, "limit", 0, "List at most this many records (0 for all)")
	return cmd
}

func newStatsCommand(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "stats",
		Short: "Show transcription and export statistics",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return a.run(cmd, func(ctx context.Context, rt *runtime.Runtime) error {
				stats, err := rt.Store().Stats(ctx)
				if err != nil {
					return err
				}
				out := cmd.OutOrStdout()

				statuses := make([]string, 0, len(stats.Transcriptions))
				total := 0
				for s, v := range stats.Transcriptions {
					statuses = append(statuses, string(s))
					total += v.Count
				}
				sort.Strings(statuses)

				fmt.Fprintf(out, "Transcriptions: %s\n", humanize.Comma(int64(total)))
				tw := tabwriter.NewWriter(out, 0, 4, 2, ' ', 0)
				fmt.Fprintln(tw, "  STATUS\tCOUNT\tAVG TIME\tAUDIO")
				for _, s := range statuses {
					v := stats.Transcriptions[store.Status(s)]
					audio := time.Duration(v.TotalDuration * float64(time.Second)).Round(time.Second)
					fmt.Fprintf(tw, "  %s\t%d\t%.2fs\t%s\n", s, v.Count, v.AvgProcessingTime, audio)
				}
				if err := tw.Flush(); err != nil {
					return err
				}

				fmt.Fprintln(out, "Exports:")
				for _, s := range []store.ExportStatus{store.ExportSuccess, store.ExportFailed} {
					fmt.Fprintf(out, "  %-8s %d\n", s, stats.Exports[s])
				}
				return nil
			})
		},
	}
}

func newBatchesCommand(a *app) *cobra.Command {
	var limit int
	cmd := &cobra.Command{
		Use:   "batches",
		Short: "Show recent processing batches",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return a.run(cmd, func(ctx context.Context, rt *runtime.Runtime) error {
				batches, err := rt.Store().ListBatches(ctx, limit)
				if err != nil {
					return err
				}
				tw := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
				fmt.Fprintln(tw, "BATCH\tSTARTED\tENGINE\tTOTAL\tSUCCESS\tFAILED\tSKIPPED\tAVG TIME\tSTATE")
				for _, b := range batches {
					state := "open"
					if b.CompletedAt != nil {
						state = "closed"
					}
					avg := "-"
					if b.AvgProcessingTime != nil {
						avg = fmt.Sprintf("%.2fs", *b.AvgProcessingTime)
					}
					fmt.Fprintf(tw, "%s\t%s\t%s\t%d\t%d\t%d\t%d\t%s\t%s\n",
						b.ID, humanize.Time(b.StartedAt), b.Engine, b.Total, b.Success, b.Failed, b.Skipped, avg, state)
				}
				return tw.Flush()
			})
		},
	}
	cmd.Flags().IntVar(&limit, "limit", 10, "Show at most this many batches (0 for all)")
	return cmd
}
