package main

import (
	"context"
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/hyperjump/wayfarer/internal/cli"
	"github.com/hyperjump/wayfarer/internal/storage"
	"github.com/spf13/cobra"
)

var (
	exportPath   string
	tailLines    int
	tailInterval time.Duration
	tailFollow   bool
)

func init() {
	logExportCmd.Flags().StringVarP(&exportPath, "file", "f", "", "write CSV to this file instead of stdout")
	logTailCmd.Flags().IntVarP(&tailLines, "lines", "n", 10, "number of recent queries to show first")
	logTailCmd.Flags().BoolVarP(&tailFollow, "follow", "F", true, "keep printing new queries")
	logTailCmd.Flags().DurationVar(&tailInterval, "interval", time.Second, "poll interval when following")
}

var logCmd = &cobra.Command{
	Use:   "log",
	Short: "Inspect the query log",
}

var logExportCmd = &cobra.Command{
	Use:   "export",
	Short: "Export the query log as CSV, oldest first",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, logger, err := setup()
		if err != nil {
			return err
		}
		defer logger.Sync()
		store, err := storage.NewSQLiteStorage(cfg.Storage.DatabasePath)
		if err != nil {
			return err
		}
		defer store.Close()

		records, _, err := store.QueriesSince(context.Background(), 0)
		if err != nil {
			return err
		}
		var w io.Writer = cmd.OutOrStdout()
		if exportPath != "" {
			f, err := os.Create(exportPath)
			if err != nil {
				return err
			}
			defer f.Close()
			w = f
		}
		if err := storage.WriteCSV(w, records); err != nil {
			return err
		}
		if exportPath != "" {
			fmt.Fprintf(cmd.ErrOrStderr(), "exported %d queries to %s\n", len(records), exportPath)
		}
		return nil
	},
}

var logTailCmd = &cobra.Command{
	Use:   "tail",
	Short: "Show recent queries and follow new ones",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, logger, err := setup()
		if err != nil {
			return err
		}
		defer logger.Sync()
		store, err := storage.NewSQLiteStorage(cfg.Storage.DatabasePath)
		if err != nil {
			return err
		}
		defer store.Close()

		ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
		defer stop()
		return tailQueries(ctx, store, cmd.OutOrStdout(), tailLines, tailFollow, tailInterval)
	},
}

// tailQueries prints the last n records, then polls for newer ones until ctx ends when
// follow is set.
func tailQueries(ctx context.Context, store storage.Storage, w io.Writer, n int, follow bool, interval time.Duration) error {
	records, seq, err := store.QueriesSince(ctx, 0)
	if err != nil {
		return err
	}
	if n >= 0 && len(records) > n {
		records = records[len(records)-n:]
	}
	for _, r := range records {
		cli.WriteQueryRecord(w, r)
	}
	if !follow {
		return nil
	}

	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
			newer, last, err := store.QueriesSince(ctx, seq)
			if err != nil {
				if ctx.Err() != nil {
					return nil
				}
				return err
			}
			for _, r := range newer {
				cli.WriteQueryRecord(w, r)
			}
			seq = last
		}
	}
}
