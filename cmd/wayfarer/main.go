// Package main is the Wayfarer CLI entry point.
package main

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/hyperjump/wayfarer/internal/cli"
	"github.com/hyperjump/wayfarer/internal/config"
	"github.com/hyperjump/wayfarer/internal/models"
	"github.com/hyperjump/wayfarer/pkg/utils"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
)

var version = "dev"

const defaultConfigPath = "/usr/local/etc/wayfarer/config.yaml"

var (
	configPath   string
	debugFlag    bool
	outputFlag   string
	serverURLArg string
)

var rootCmd = &cobra.Command{
	Use:   "wayfarer",
	Short: "Layered, grounded question answering for Orlando trip planning",
	Long: `Wayfarer answers travel questions from three knowledge layers (verified facts,
contextual intelligence, experience strategy), keeps the layers isolated at retrieval
time, and scores every answer for lexical grounding in its retrieved context.`,
	SilenceUsage: true,
}

func init() {
	rootCmd.PersistentFlags().StringVar(&configPath, "config", defaultConfigPath, "config file path")
	rootCmd.PersistentFlags().BoolVar(&debugFlag, "debug", false, "enable debug logging")
	rootCmd.PersistentFlags().StringVarP(&outputFlag, "output", "o", "text", "output format: text or json")

	for _, cmd := range []*cobra.Command{askCmd, retrieveCmd, statusCmd} {
		cmd.Flags().StringVar(&serverURLArg, "server", "", "server URL, e.g. http://localhost:8080 (empty = run in-process)")
	}

	logCmd.AddCommand(logExportCmd, logTailCmd)
	factsCmd.AddCommand(factsCheckCmd)
	rootCmd.AddCommand(
		serveCmd,
		askCmd,
		retrieveCmd,
		validateCmd,
		ingestCmd,
		factsCmd,
		evalCmd,
		logCmd,
		statusCmd,
		versionCmd,
	)
}

var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "Show version",
	Run: func(cmd *cobra.Command, args []string) {
		fmt.Fprintf(cmd.OutOrStdout(), "wayfarer version %s\n", version)
	},
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

// loadConfig loads config from path. When path is the default, it first looks for
// config.yaml in the current directory (for development); if that exists it is used.
// Returns the config and the path that was actually loaded.
func loadConfig(path string) (*config.Config, string, error) {
	if path == defaultConfigPath {
		if cwd, cwdErr := os.Getwd(); cwdErr == nil {
			fallback := filepath.Join(cwd, "config.yaml")
			if _, statErr := os.Stat(fallback); statErr == nil {
				cfg, loadErr := config.Load(fallback)
				if loadErr != nil {
					return nil, "", loadErr
				}
				return cfg, fallback, nil
			}
		}
	}
	cfg, err := config.Load(path)
	if err != nil {
		return nil, "", err
	}
	return cfg, path, nil
}

// setup loads the config and creates the logger every command uses.
func setup() (*config.Config, *zap.Logger, error) {
	cfg, resolved, err := loadConfig(configPath)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to load config: %w", err)
	}
	logger, err := utils.NewLogger(cfg.Debug || debugFlag)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to create logger: %w", err)
	}
	logger.Debug("config loaded", zap.String("config_path", resolved))
	return cfg, logger, nil
}

func outputFormat() (cli.OutputFormat, error) {
	return cli.ParseOutputFormat(outputFlag)
}

// joinArgs joins positional arguments into one question, trimming blanks.
func joinArgs(args []string) string {
	return strings.TrimSpace(strings.Join(args, " "))
}

// parseLayerFlag parses a --layer value; empty means ALL.
func parseLayerFlag(s string) (models.Layer, error) {
	if strings.TrimSpace(s) == "" {
		return models.LayerAll, nil
	}
	return models.ParseLayer(s)
}

// resolveK applies the configured default and maximum to a --k value (0 = default).
func resolveK(k int, cfg config.RetrievalConfig) int {
	if k == 0 {
		k = cfg.DefaultK
	}
	if cfg.MaxK > 0 && k > cfg.MaxK {
		k = cfg.MaxK
	}
	return k
}
