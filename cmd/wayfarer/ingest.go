package main

import (
	"context"
	"fmt"

	"github.com/hyperjump/wayfarer/internal/cli"
	"github.com/hyperjump/wayfarer/internal/ingest"
	"github.com/hyperjump/wayfarer/internal/models"
	"github.com/hyperjump/wayfarer/internal/retrieval"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
)

var (
	evalK        int
	evalPassRate float64
)

func init() {
	evalCmd.Flags().IntVarP(&evalK, "top-k", "k", 3, "CORE results checked per fact")
	evalCmd.Flags().Float64Var(&evalPassRate, "min-rate", retrieval.DefaultPassRate, "fail when the success rate is below this")
}

var ingestCmd = &cobra.Command{
	Use:   "ingest <layer> <inputs...>",
	Short: "Rebuild a layer from fact files (core) or documents (context, strategy)",
	Long: `Rebuild one layer and write its vectors and metadata files in place.

The core layer takes atomic-fact JSONL files; every fact is validated and a single invalid
fact aborts the build. The context and strategy layers take documents or directories of
documents (pdf, docx, odt, rtf, xlsx, txt, md), which are chunked and filtered by the
configured travel keywords. A running server with watch enabled picks up the new files.`,
	Example: `  wayfarer ingest core data/facts.jsonl
  wayfarer ingest context docs/crowds docs/weather.pdf`,
	Args: cobra.MinimumNArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		layer, err := models.ParseLayer(args[0])
		if err != nil {
			return err
		}
		if !layer.Concrete() {
			return fmt.Errorf("ingest needs a single layer, got %s", args[0])
		}
		cfg, logger, err := setup()
		if err != nil {
			return err
		}
		defer logger.Sync()
		components, err := initializeComponents(cfg, logger, componentOptions{})
		if err != nil {
			return err
		}
		defer components.Close()

		run, err := components.Ingester.BuildLayer(context.Background(), layer, args[1:])
		if err != nil {
			return err
		}
		logger.Debug("ingest finished", zap.String("run_id", run.ID))
		fmt.Fprintf(cmd.OutOrStdout(), "%s rebuilt: %d sources, %d chunks, %d filtered out (%.0fms)\n",
			layer, run.Sources, run.Chunks, run.Skipped, run.DurationMs)
		return nil
	},
}

var factsCmd = &cobra.Command{
	Use:   "facts",
	Short: "Work with atomic CORE facts",
}

var factsCheckCmd = &cobra.Command{
	Use:   "check <file>",
	Short: "Validate an atomic-fact JSONL file",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		facts, err := ingest.LoadFacts(args[0])
		if err != nil {
			return err
		}
		fmt.Fprintf(cmd.OutOrStdout(), "%s: %d valid facts\n", args[0], len(facts))
		return nil
	},
}

var evalCmd = &cobra.Command{
	Use:   "eval <facts-file>",
	Short: "Check that CORE retrieval finds each golden fact's entity",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		format, err := outputFormat()
		if err != nil {
			return err
		}
		facts, err := ingest.LoadFacts(args[0])
		if err != nil {
			return err
		}
		cfg, logger, err := setup()
		if err != nil {
			return err
		}
		defer logger.Sync()
		components, err := initializeComponents(cfg, logger, componentOptions{})
		if err != nil {
			return err
		}
		defer components.Close()
		ctx := context.Background()
		if err := components.loadLayers(ctx); err != nil {
			return err
		}

		report, err := components.Engine.Evaluate(ctx, facts, evalK)
		if err != nil {
			return err
		}
		if err := cli.WriteEvalReport(cmd.OutOrStdout(), report, format); err != nil {
			return err
		}
		if report.SuccessRate < evalPassRate {
			return fmt.Errorf("success rate %.2f is below %.2f", report.SuccessRate, evalPassRate)
		}
		return nil
	},
}
