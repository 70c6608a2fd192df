// Package contextbuilder packs the high-relevance chunks of a query into a
// token-bounded, citeable evidence block.
package contextbuilder

import (
	"context"
	"fmt"
	"strings"

	"github.com/fyrsmithlabs/notesrag/internal/logging"
	"github.com/fyrsmithlabs/notesrag/internal/retrieval"
	"github.com/fyrsmithlabs/notesrag/internal/tokens"
	"go.uber.org/zap"
)

// DefaultChunkOverhead is the per-chunk token reservation for the source
// header and separators.
const DefaultChunkOverhead = 50

const blockSeparator = "\n\n"

// Result is the packed context for one query.
type Result struct {
	// Chunks are the included chunks in selection order.
	Chunks []retrieval.RetrievedChunk
	// Text is the rendered evidence block.
	Text string
	// TotalTokens is the token count of Text.
	TotalTokens int
	// Truncated is set when a chunk was left out or cut for lack of budget.
	Truncated bool
	// DocumentIDs are the unique parent documents cited, in first-appearance order.
	DocumentIDs []string
	// Skipped counts high-tier chunks that were not included.
	Skipped int
	// Low is the untouched low-relevance tier.
	Low []retrieval.RetrievedChunk
}

// Empty reports whether no evidence was packed.
func (r *Result) Empty() bool {
	return len(r.Chunks) == 0
}

// Builder packs chunks greedily by relevance.
type Builder struct {
	counter  tokens.Counter
	overhead int
	logger   *logging.Logger
}

// New creates a Builder. overhead <= 0 means DefaultChunkOverhead.
func New(counter tokens.Counter, overhead int, logger *logging.Logger) *Builder {
	if counter == nil {
		counter = tokens.NewEstimator()
	}
	if overhead <= 0 {
		overhead = DefaultChunkOverhead
	}
	if logger == nil {
		logger = logging.NewNop()
	}
	return &Builder{counter: counter, overhead: overhead, logger: logger.Named("contextbuilder")}
}

// Build packs high (already ordered by relevance) into at most budget
// tokens. The most relevant chunk is cut to fit rather than dropped when it
// alone is larger than the budget.
func (b *Builder) Build(ctx context.Context, high, low []retrieval.RetrievedChunk, budget int) *Result {
	res := &Result{
		Chunks:      []retrieval.RetrievedChunk{},
		DocumentIDs: []string{},
		Low:         low,
	}
	if len(high) == 0 || budget <= 0 {
		res.Skipped = len(high)
		res.Truncated = len(high) > 0
		return res
	}

	blocks := make([]string, 0, len(high))
	used := 0
	for i, chunk := range high {
		header := b.header(chunk)
		cost := b.counter.Count(chunk.Text) + b.overhead

		if used+cost > budget {
			if i == 0 {
				room := budget - b.overhead - b.counter.Count(header)
				if text := b.counter.Truncate(chunk.Text, room); room > 0 && text != "" {
					chunk.Text = text
					blocks = append(blocks, header+"\n"+text)
					res.Chunks = append(res.Chunks, chunk)
					used = b.counter.Count(text) + b.overhead
				}
			}
			res.Truncated = true
			break
		}

		blocks = append(blocks, header+"\n"+chunk.Text)
		res.Chunks = append(res.Chunks, chunk)
		used += cost
	}

	// Reservation is an estimate; trust only the count of the joined text.
	text := strings.Join(blocks, blockSeparator)
	total := b.counter.Count(text)
	for total > budget && len(blocks) > 0 {
		blocks = blocks[:len(blocks)-1]
		res.Chunks = res.Chunks[:len(res.Chunks)-1]
		res.Truncated = true
		text = strings.Join(blocks, blockSeparator)
		total = b.counter.Count(text)
	}

	res.Text = text
	res.TotalTokens = total
	res.Skipped = len(high) - len(res.Chunks)
	seen := make(map[string]struct{}, len(res.Chunks))
	for _, c := range res.Chunks {
		if _, ok := seen[c.DocumentID]; ok {
			continue
		}
		seen[c.DocumentID] = struct{}{}
		res.DocumentIDs = append(res.DocumentIDs, c.DocumentID)
	}

	b.logger.Debug(ctx, "context built",
		zap.Int("budget", budget),
		zap.Int("total_tokens", res.TotalTokens),
		zap.Int("included", len(res.Chunks)),
		zap.Int("skipped", res.Skipped),
		zap.Bool("truncated", res.Truncated),
	)
	return res
}

// header renders the source line for a chunk, cut to fit the overhead.
func (b *Builder) header(c retrieval.RetrievedChunk) string {
	parts := []string{}
	title := strings.TrimSpace(c.Source.Title)
	if title == "" {
		title = c.DocumentID
	}
	parts = append(parts, title)
	if a := strings.TrimSpace(c.Source.Author); a != "" {
		parts = append(parts, a)
	}
	if d := strings.TrimSpace(c.Source.Date); d != "" {
		parts = append(parts, d)
	}
	if len(c.Source.References) > 0 {
		parts = append(parts, "refs: "+strings.Join(c.Source.References, ", "))
	}
	if len(c.Source.Tags) > 0 {
		parts = append(parts, "tags: "+strings.Join(c.Source.Tags, ", "))
	}
	h := fmt.Sprintf("[Source: %s]", strings.Join(parts, " | "))

	// leave room for the separators inside the reservation
	limit := b.overhead - 4
	if b.counter.Count(h) <= limit {
		return h
	}
	inner := b.counter.Truncate(strings.Join(parts, " | "), limit-4)
	return "[Source: " + inner + "]"
}
