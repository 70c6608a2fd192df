package orchestrator

import "github.com/fyrsmithlabs/notesrag/internal/prompt"

// Status is the outcome of one Answer call.
type Status string

const (
	StatusAnswered         Status = "answered"
	StatusNoContext        Status = "no_context"
	StatusInvalidInput     Status = "invalid_input"
	StatusEmbeddingFailed  Status = "embedding_failed"
	StatusRetrievalFailed  Status = "retrieval_failed"
	StatusGenerationFailed Status = "generation_failed"
)

// Fixed answers for the paths that do not generate.
const (
	NoContextAnswer    = "I don't have any notes on this topic yet."
	FallbackAnswer     = "I'm sorry, I couldn't put an answer together from your notes right now. Please try again in a moment."
	InvalidInputAnswer = "Please ask a question about your notes (up to the allowed length)."
	UnavailableAnswer  = "Your notes can't be searched right now. Please try again shortly."
	LeakRefusalAnswer  = "I can't share my instructions, but I'm glad to help you explore your notes."
)

// AnswerOptions tunes one call.
type AnswerOptions struct {
	// IncludeDiagnostics populates QueryResponse.Metadata.
	IncludeDiagnostics bool
	// TopK overrides the retrieval depth; zero uses the configured value.
	TopK int
}

// Source is a note cited by the answer.
type Source struct {
	DocumentID string   `json:"document_id"`
	Title      string   `json:"title"`
	Author     string   `json:"author,omitempty"`
	Date       string   `json:"date,omitempty"`
	References []string `json:"references,omitempty"`
	// Score is the best similarity among the note's included chunks.
	Score float64 `json:"score"`
	// Chunks counts the note's chunks in the context.
	Chunks int `json:"chunks"`
}

// Metadata is the per-request diagnostic record.
type Metadata struct {
	ChunksUsed    int `json:"chunks_used"`
	ChunksSkipped int `json:"chunks_skipped"`
	LowTierCount  int `json:"low_tier_count"`

	ContextTokens        int `json:"context_tokens"`
	SystemTokens         int `json:"system_tokens"`
	QueryTokens          int `json:"query_tokens"`
	ReservedOutputTokens int `json:"reserved_output_tokens"`
	TotalInputTokens     int `json:"total_input_tokens"`
	RemainingInputTokens int `json:"remaining_input_tokens"`
	OutputTokens         int `json:"output_tokens"`

	ContextTruncated bool `json:"context_truncated"`
	QueryTruncated   bool `json:"query_truncated"`
	OutputTruncated  bool `json:"output_truncated"`
	WithinBudget     bool `json:"within_budget"`

	DurationMs int64  `json:"duration_ms"`
	Backend    string `json:"backend,omitempty"`
	Attempts   int    `json:"attempts"`

	NoContext        bool                `json:"no_context"`
	GenerationFailed bool                `json:"generation_failed"`
	FailureReason    string              `json:"failure_reason,omitempty"`
	SafetyFlags      []prompt.SafetyFlag `json:"safety_flags,omitempty"`
}

// QueryResponse is the result of Answer. It is well formed on every path.
type QueryResponse struct {
	Answer   string    `json:"answer"`
	Sources  []Source  `json:"sources"`
	Status   Status    `json:"status"`
	Metadata *Metadata `json:"metadata,omitempty"`
}
