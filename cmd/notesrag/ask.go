package main

import (
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"github.com/fyrsmithlabs/notesrag/internal/orchestrator"
	"github.com/fyrsmithlabs/notesrag/internal/sanitize"
	"github.com/spf13/cobra"
)

var (
	askOwner       string
	askTopK        int
	askDiagnostics bool
)

func init() {
	askCmd.Flags().StringVar(&askOwner, "owner", "", "owner ID whose notes are searched (required)")
	askCmd.Flags().IntVar(&askTopK, "top-k", 0, "chunks to retrieve (default from config)")
	askCmd.Flags().BoolVar(&askDiagnostics, "diagnostics", false, "include token and timing metadata")
	_ = askCmd.MarkFlagRequired("owner")
}

var askCmd = &cobra.Command{
	Use:   "ask [query]",
	Short: "Answer one query and print the JSON response",
	Long: `Answer one query from an owner's notes without starting the server.

The full response (answer, sources, status) is printed as JSON. The exit
status is non-zero when the pipeline could not produce a grounded answer,
but the response is printed either way.

Examples:
  notesrag ask --owner 42 "What is grace?"
  notesrag ask --owner 42 --diagnostics "What did I write about faith?"`,
	Args: cobra.MinimumNArgs(1),
	RunE: runAsk,
}

func runAsk(cmd *cobra.Command, args []string) error {
	ownerID, err := sanitize.ParseOwnerID(askOwner)
	if err != nil {
		return err
	}

	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	ctx := cmd.Context()
	a, err := newApp(ctx, cfg)
	if err != nil {
		return err
	}
	defer a.Close(ctx)

	if err := a.withPipeline(ctx); err != nil {
		return fmt.Errorf("failed to build answer pipeline: %w", err)
	}

	resp, answerErr := a.orch.Answer(ctx, strings.Join(args, " "), ownerID, orchestrator.AnswerOptions{
		IncludeDiagnostics: askDiagnostics,
		TopK:               askTopK,
	})

	enc := json.NewEncoder(cmd.OutOrStdout())
	enc.SetIndent("", "  ")
	if err := enc.Encode(resp); err != nil {
		return errors.Join(answerErr, fmt.Errorf("failed to encode response: %w", err))
	}
	return answerErr
}
