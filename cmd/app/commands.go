package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"

	"FinStore/internal/domain/models"
	"FinStore/internal/snapshot"
	"FinStore/internal/validation"
	applogger "FinStore/pkg/logger"
	"FinStore/pkg/server"
	"FinStore/pkg/util"
)

func newServeCmd(f *rootFlags) *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Serve the inspection API and run scheduled compaction",
		RunE: func(cmd *cobra.Command, _ []string) error {
			ctx, stop := signalContext(cmd.Context())
			defer stop()
			return f.withApp(ctx, func(ctx context.Context, app *server.App) error {
				return app.Serve(ctx)
			})
		},
	}
}

func newCompactCmd(f *rootFlags) *cobra.Command {
	return &cobra.Command{
		Use:   "compact",
		Short: "Run one compaction pass over the source resource",
		RunE: func(cmd *cobra.Command, _ []string) error {
			return f.withApp(cmd.Context(), func(ctx context.Context, app *server.App) error {
				rep, err := app.Compact(ctx)
				out := cmd.OutOrStdout()
				for _, a := range rep.Artifacts {
					status := "ok"
					if a.Err != nil {
						status = a.Err.Error()
					}
					fmt.Fprintf(out, "%s\t%d entries\t%s\n", a.Name, a.Entries, status)
				}
				if err != nil {
					return err
				}
				fmt.Fprintf(out, "compacted %s v%d: scanned %d records in %s\n", rep.Source, rep.Version, rep.Scanned, rep.Took.Round(time.Millisecond))
				return nil
			})
		},
	}
}

func newSnapshotCmd(f *rootFlags) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "snapshot",
		Short: "Capture, list and verify end-of-day snapshots",
	}

	var date string
	capture := &cobra.Command{
		Use:   "capture",
		Short: "Capture the snapshot for a date (default today, UTC)",
		RunE: func(cmd *cobra.Command, _ []string) error {
			asOf := util.Day(time.Now())
			if date != "" {
				d, err := parseAsOf(date)
				if err != nil {
					return err
				}
				asOf = d
			}
			return f.withApp(cmd.Context(), func(ctx context.Context, app *server.App) error {
				man, err := app.CaptureSnapshot(ctx, asOf)
				var leak *snapshot.LeakageError
				if errors.As(err, &leak) {
					printViolations(cmd, leak)
				}
				if err != nil {
					return err
				}
				printManifest(cmd, man)
				return nil
			})
		},
	}
	capture.Flags().StringVar(&date, "date", "", "as-of date (YYYY-MM-DD, RFC3339 or unix seconds)")

	list := &cobra.Command{
		Use:   "list",
		Short: "List saved snapshot dates",
		RunE: func(cmd *cobra.Command, _ []string) error {
			return f.withApp(cmd.Context(), func(ctx context.Context, app *server.App) error {
				dates, err := app.ListSnapshots(ctx)
				if err != nil {
					return err
				}
				for _, d := range dates {
					fmt.Fprintln(cmd.OutOrStdout(), util.FormatDate(d))
				}
				return nil
			})
		},
	}

	verify := &cobra.Command{
		Use:   "verify DATE",
		Short: "Check a snapshot's checksums and point-in-time bounds",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			d, err := parseAsOf(args[0])
			if err != nil {
				return err
			}
			return f.withApp(cmd.Context(), func(ctx context.Context, app *server.App) error {
				man, err := app.VerifySnapshot(ctx, d)
				if man != nil {
					printManifest(cmd, man)
				}
				var leak *snapshot.LeakageError
				if errors.As(err, &leak) {
					printViolations(cmd, leak)
				}
				if err != nil {
					return err
				}
				fmt.Fprintln(cmd.OutOrStdout(), "snapshot valid")
				return nil
			})
		},
	}

	cmd.AddCommand(capture, list, verify)
	return cmd
}

func newReplayCmd(f *rootFlags) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "replay",
		Short: "Inspect the replay context",
	}
	cmd.AddCommand(&cobra.Command{
		Use:   "check",
		Short: "Activate the configured context without serving it",
		RunE: func(cmd *cobra.Command, _ []string) error {
			return f.withApp(cmd.Context(), func(ctx context.Context, app *server.App) error {
				if err := app.CheckReplay(ctx); err != nil {
					return err
				}
				fmt.Fprintf(cmd.OutOrStdout(), "%s: available\n", app.Replay.String())
				return nil
			})
		},
	})
	return cmd
}

func newLockCmd(f *rootFlags) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "lock",
		Short: "Inspect resource locks",
	}
	cmd.AddCommand(&cobra.Command{
		Use:   "status",
		Short: "Show the holder of every lock-protected resource",
		RunE: func(cmd *cobra.Command, _ []string) error {
			return f.withApp(cmd.Context(), func(ctx context.Context, app *server.App) error {
				statuses, err := app.LockStatuses()
				if err != nil {
					return err
				}
				w := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
				fmt.Fprintln(w, "RESOURCE\tSTATE\tOWNER\tPID\tHOST\tAGE")
				for _, s := range statuses {
					state := "free"
					switch {
					case s.Held && s.Stale:
						state = "stale"
					case s.Held:
						state = "held"
					}
					if !s.Held {
						fmt.Fprintf(w, "%s\t%s\t-\t-\t-\t-\n", s.Resource, state)
						continue
					}
					fmt.Fprintf(w, "%s\t%s\t%s\t%d\t%s\t%s\n", s.Resource, state, s.Holder.Owner, s.Holder.PID, s.Holder.Host, s.Age.Round(time.Second))
				}
				return w.Flush()
			})
		},
	})
	return cmd
}

func newPredictionsCmd(f *rootFlags) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "predictions",
		Short: "Write predictions into the rolling store",
	}
	cmd.AddCommand(&cobra.Command{
		Use:   "publish FILE",
		Short: "Merge a JSON array of prediction records into the store",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			b, err := os.ReadFile(args[0])
			if err != nil {
				return fmt.Errorf("read batch: %w", err)
			}
			var batch []models.PredictionRecord
			if err := json.Unmarshal(b, &batch); err != nil {
				return fmt.Errorf("decode batch: %w", err)
			}
			return f.withApp(cmd.Context(), func(ctx context.Context, app *server.App) error {
				res, err := app.Publish(ctx, batch)
				var rej *validation.RejectionError
				if errors.As(err, &rej) {
					for _, h := range rej.Horizons {
						app.Logger.Warn("degenerate horizon",
							applogger.String("horizon", h.Horizon),
							applogger.Float64("std", h.Std),
							applogger.Int("valid", h.Valid),
						)
					}
				}
				if err != nil {
					return fmt.Errorf("%s: %w", res.Status, err)
				}
				fmt.Fprintf(cmd.OutOrStdout(), "%s %s v%d (%d records)\n", res.Resource, res.Status, res.Version, res.Records)
				return nil
			})
		},
	})
	return cmd
}

func printManifest(cmd *cobra.Command, man *models.Manifest) {
	w := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
	fmt.Fprintf(w, "as of %s, created %s\n", man.AsOf, man.CreatedAt.Format(time.RFC3339))
	fmt.Fprintln(w, "COMPONENT\tRECORDS\tBYTES\tMIN\tMAX")
	for _, c := range man.Components {
		fmt.Fprintf(w, "%s\t%d\t%d\t%s\t%s\n", c.Name, c.Records, c.Bytes, c.MinDate, c.MaxDate)
	}
	_ = w.Flush()
}

func printViolations(cmd *cobra.Command, leak *snapshot.LeakageError) {
	out := cmd.ErrOrStderr()
	for _, v := range leak.Violations {
		fmt.Fprintf(out, "leak: %s %s dated %s\n", v.Component, v.Key, util.FormatDate(v.Date))
	}
}

// parseAsOf accepts a calendar date or any timestamp util.ParseTime understands, truncated to
// its UTC day.
func parseAsOf(s string) (time.Time, error) {
	if d, err := util.ParseDate(s); err == nil {
		return d, nil
	}
	if t, ok := util.ParseTime(s); ok {
		return util.Day(t), nil
	}
	return time.Time{}, fmt.Errorf("invalid as-of %q (want YYYY-MM-DD, RFC3339 or unix seconds)", s)
}
