package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"strings"

	"github.com/hyperjump/wayfarer/internal/answer"
	"github.com/hyperjump/wayfarer/internal/cli"
	"github.com/hyperjump/wayfarer/internal/grounding"
	"github.com/hyperjump/wayfarer/internal/models"
	"github.com/hyperjump/wayfarer/internal/server"
	"github.com/spf13/cobra"
)

var (
	layerFlag    string
	kFlag        int
	answerFlag   string
	contextFlags []string
	contextFile  string
)

func init() {
	for _, cmd := range []*cobra.Command{askCmd, retrieveCmd} {
		cmd.Flags().StringVarP(&layerFlag, "layer", "l", "all", "layer: core, context, strategy or all")
		cmd.Flags().IntVarP(&kFlag, "top-k", "k", 0, "results per layer (0 = configured default)")
	}
	validateCmd.Flags().StringVar(&answerFlag, "answer", "", "answer text to score")
	validateCmd.Flags().StringArrayVar(&contextFlags, "context", nil, "context passage (repeatable)")
	validateCmd.Flags().StringVar(&contextFile, "context-file", "", "read the context from a file")
}

var askCmd = &cobra.Command{
	Use:   "ask <question>",
	Short: "Answer a question from the knowledge layers",
	Example: `  wayfarer ask "What time does Magic Kingdom open on Christmas Day?" --layer core
  wayfarer ask --server http://localhost:8080 "Is December crowded?"`,
	Args: cobra.MinimumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		format, err := outputFormat()
		if err != nil {
			return err
		}
		layer, err := parseLayerFlag(layerFlag)
		if err != nil {
			return err
		}
		question := joinArgs(args)

		if serverURLArg != "" {
			req := server.QueryRequest{Question: question, Layer: layer.Slug()}
			if kFlag != 0 {
				req.K = &kFlag
			}
			var env models.Envelope
			if err := postJSON(serverURLArg, "/api/v1/query", req, &env); err != nil {
				return err
			}
			return cli.WriteEnvelope(cmd.OutOrStdout(), &env, format)
		}

		cfg, logger, err := setup()
		if err != nil {
			return err
		}
		defer logger.Sync()
		components, err := initializeComponents(cfg, logger, componentOptions{generator: true})
		if err != nil {
			return err
		}
		defer components.Close()
		ctx := context.Background()
		if err := components.loadLayers(ctx); err != nil {
			return err
		}

		env, err := components.Answerer.Answer(ctx, answer.Request{
			Question: question,
			Layer:    layer,
			K:        resolveK(kFlag, cfg.Retrieval),
		})
		var genErr *answer.GenerationError
		if errors.As(err, &genErr) {
			fmt.Fprintf(cmd.ErrOrStderr(), "warning: %v\n", genErr)
			env = answer.Fallback(genErr, cfg.Generation.FallbackMessage)
		} else if err != nil {
			return err
		}
		return cli.WriteEnvelope(cmd.OutOrStdout(), env, format)
	},
}

var retrieveCmd = &cobra.Command{
	Use:   "retrieve <query>",
	Short: "Show the chunks retrieved for a query, without generating an answer",
	Args:  cobra.MinimumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		format, err := outputFormat()
		if err != nil {
			return err
		}
		layer, err := parseLayerFlag(layerFlag)
		if err != nil {
			return err
		}
		query := joinArgs(args)

		if serverURLArg != "" {
			req := server.QueryRequest{Question: query, Layer: layer.Slug()}
			if kFlag != 0 {
				req.K = &kFlag
			}
			var resp server.RetrieveResponse
			if err := postJSON(serverURLArg, "/api/v1/retrieve", req, &resp); err != nil {
				return err
			}
			return cli.WriteResults(cmd.OutOrStdout(), resp.Results, format)
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
		results, err := components.Engine.Retrieve(ctx, query, layer, resolveK(kFlag, cfg.Retrieval))
		if err != nil {
			return err
		}
		return cli.WriteResults(cmd.OutOrStdout(), results, format)
	},
}

var validateCmd = &cobra.Command{
	Use:   "validate",
	Short: "Score how well an answer is grounded in a context",
	Example: `  wayfarer validate --answer "Magic Kingdom opens at 9am" --context "Magic Kingdom opens at 9:00 AM."`,
	Args: cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		format, err := outputFormat()
		if err != nil {
			return err
		}
		text, err := validateContext(contextFlags, contextFile)
		if err != nil {
			return err
		}
		score, err := grounding.NewValidator().Validate(answerFlag, text)
		if err != nil {
			return err
		}
		return cli.WriteGrounding(cmd.OutOrStdout(), &score, format)
	},
}

// validateContext joins --context passages with spaces, the way retrieved passages are
// joined for scoring, and appends --context-file when given.
func validateContext(passages []string, file string) (string, error) {
	parts := append([]string(nil), passages...)
	if file != "" {
		b, err := os.ReadFile(file)
		if err != nil {
			return "", fmt.Errorf("read context file: %w", err)
		}
		parts = append(parts, string(b))
	}
	return strings.Join(parts, " "), nil
}
