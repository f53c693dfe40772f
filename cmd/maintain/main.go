// Package main implements the maintain CLI for offline upkeep of the decision store.
package main

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"text/tabwriter"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"

	"decision-flip/backend/internal/config"
	"decision-flip/backend/internal/store"
)

func main() {
	if err := newRootCmd().Execute(); err != nil {
		os.Exit(1)
	}
}

type options struct {
	configPath string
	dbPath     string
}

func newRootCmd() *cobra.Command {
	opts := &options{}
	root := &cobra.Command{
		Use:          "maintain",
		Short:        "Maintenance tasks for the decision store",
		SilenceUsage: true,
	}
	root.PersistentFlags().StringVar(&opts.configPath, "config", os.Getenv("DECISION_CONFIG"), "Optional YAML config file")
	root.PersistentFlags().StringVar(&opts.dbPath, "db", "", "Path to SQLite database (overrides db.path)")

	root.AddCommand(newOptimizeCmd(opts), newPruneCmd(opts), newStatsCmd(opts))
	return root
}

// open resolves the database path from the flag or configuration.
func (o *options) open() (*store.Database, error) {
	path := o.dbPath
	if path == "" {
		cfg, err := config.Load(o.configPath)
		if err != nil {
			return nil, err
		}
		cfg.ConfigureLogging()
		path = cfg.DB.Path
	}
	if _, err := os.Stat(path); err != nil {
		return nil, fmt.Errorf("database %s: %w", path, err)
	}
	return store.Open(path, true)
}

func withDatabase(opts *options, fn func(ctx context.Context, db *store.Database) error) error {
	db, err := opts.open()
	if err != nil {
		return err
	}
	defer func() {
		if cerr := db.Close(); cerr != nil {
			logrus.WithError(cerr).Warn("close database")
		}
	}()
	return fn(context.Background(), db)
}

func newOptimizeCmd(opts *options) *cobra.Command {
	var vacuum bool
	cmd := &cobra.Command{
		Use:   "optimize",
		Short: "Rebuild indexes and refresh planner statistics",
		Long: `Re-create the decision indexes if missing and run ANALYZE.

Examples:
  maintain optimize
  maintain optimize --vacuum --db data/decisions.db`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return withDatabase(opts, func(ctx context.Context, db *store.Database) error {
				start := time.Now()
				if err := db.Optimize(ctx, vacuum); err != nil {
					return err
				}
				fmt.Fprintf(cmd.OutOrStdout(), "optimized in %s\n", time.Since(start).Round(time.Millisecond))
				return nil
			})
		},
	}
	cmd.Flags().BoolVar(&vacuum, "vacuum", false, "Also VACUUM the database file")
	return cmd
}

func newPruneCmd(opts *options) *cobra.Command {
	var olderThan time.Duration
	cmd := &cobra.Command{
		Use:   "prune",
		Short: "Delete in-progress decisions older than a cutoff",
		Long: `Delete decisions that never received a final choice and were created
before now minus --older-than. Finalized decisions are never touched.

Examples:
  maintain prune --older-than 720h`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			if olderThan <= 0 {
				return fmt.Errorf("--older-than must be positive")
			}
			return withDatabase(opts, func(ctx context.Context, db *store.Database) error {
				cutoff := time.Now().Add(-olderThan)
				count, err := db.PruneInProgress(ctx, cutoff)
				if err != nil {
					return err
				}
				logrus.WithFields(logrus.Fields{
					"cutoff":  cutoff.UTC().Format(time.RFC3339),
					"deleted": count,
				}).Info("pruned in-progress decisions")
				fmt.Fprintf(cmd.OutOrStdout(), "deleted %d in-progress decisions\n", count)
				return nil
			})
		},
	}
	cmd.Flags().DurationVar(&olderThan, "older-than", 30*24*time.Hour, "Minimum age of decisions to delete")
	return cmd
}

func newStatsCmd(opts *options) *cobra.Command {
	var asJSON bool
	cmd := &cobra.Command{
		Use:   "stats",
		Short: "Show per-user decision counts",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return withDatabase(opts, func(ctx context.Context, db *store.Database) error {
				rows, err := db.Stats(ctx)
				if err != nil {
					return err
				}
				if asJSON {
					return writeStatsJSON(cmd.OutOrStdout(), rows)
				}
				return writeStatsTable(cmd.OutOrStdout(), rows)
			})
		},
	}
	cmd.Flags().BoolVar(&asJSON, "json", false, "Print JSON instead of a table")
	return cmd
}

func writeStatsJSON(w io.Writer, rows []store.UserStats) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	if rows == nil {
		rows = []store.UserStats{}
	}
	return enc.Encode(rows)
}

func writeStatsTable(w io.Writer, rows []store.UserStats) error {
	tw := tabwriter.NewWriter(w, 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "USER\tTOTAL\tFINALIZED\tIN PROGRESS\tLAST")
	for _, row := range rows {
		fmt.Fprintf(tw, "%s\t%d\t%d\t%d\t%s\n", row.UserID, row.Total, row.Finalized, row.InProgress, row.LastAt)
	}
	return tw.Flush()
}
