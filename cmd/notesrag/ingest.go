package main

import (
	"fmt"
	"io"
	"os"

	"github.com/fyrsmithlabs/notesrag/internal/ingest"
	"github.com/fyrsmithlabs/notesrag/internal/sanitize"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
)

var ingestOwner string

func init() {
	ingestCmd.Flags().StringVar(&ingestOwner, "owner", "", "owner ID the notes belong to (required)")
	_ = ingestCmd.MarkFlagRequired("owner")
}

var ingestCmd = &cobra.Command{
	Use:   "ingest [file]",
	Short: "Chunk, embed and store notes from a JSON file",
	Long: `Ingest notes for one owner.

The input is a JSON array of notes:

  [{"id": "on-grace", "title": "On Grace", "author": "...", "date": "2024-03-01",
    "tags": ["grace"], "references": ["Ephesians 2:8-9"], "text": "..."}]

Re-ingesting a note with the same id replaces its chunks.

Examples:
  notesrag ingest --owner 42 notes.json
  cat notes.json | notesrag ingest --owner 42 -`,
	Args: cobra.MaximumNArgs(1),
	RunE: runIngest,
}

func runIngest(cmd *cobra.Command, args []string) error {
	ownerID, err := sanitize.ParseOwnerID(ingestOwner)
	if err != nil {
		return err
	}

	var r io.Reader = cmd.InOrStdin()
	if len(args) == 1 && args[0] != "-" {
		f, err := os.Open(args[0])
		if err != nil {
			return fmt.Errorf("failed to open %s: %w", args[0], err)
		}
		defer f.Close()
		r = f
	}
	docs, err := ingest.ReadDocuments(r)
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

	in := a.ingester()
	total := 0
	for _, doc := range docs {
		n, err := in.Ingest(ctx, ownerID, doc)
		if err != nil {
			a.logger.Error(ctx, "ingest failed", zap.String("document", doc.ID), zap.Error(err))
			return fmt.Errorf("ingest %q: %w", doc.Title, err)
		}
		total += n
	}

	cmd.Printf("Ingested %d note(s) as %d chunk(s) for owner %d\n", len(docs), total, ownerID)
	return nil
}
