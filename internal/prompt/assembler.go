// Package prompt assembles the generation input from the fixed persona, the
// evidence block and the user's question, and keeps it inside the model's
// context window.
package prompt

import (
	"context"
	"errors"
	"fmt"
	"regexp"
	"strings"

	"github.com/fyrsmithlabs/notesrag/internal/logging"
	"github.com/fyrsmithlabs/notesrag/internal/sanitize"
	"github.com/fyrsmithlabs/notesrag/internal/tokens"
	"go.uber.org/zap"
)

// scaffoldSlack absorbs tokenizer boundary effects when parts are joined.
const scaffoldSlack = 16

var (
	// ErrInvalidConfig is returned when the budgets cannot fit the window.
	ErrInvalidConfig = errors.New("invalid prompt budget configuration")

	// ErrEmptyQuery is returned when nothing is left of the query after cleaning.
	ErrEmptyQuery = errors.New("query is empty after sanitization")
)

var (
	delimiterRun = regexp.MustCompile(`={3,}`)
	roleToken    = regexp.MustCompile(`<\|[^|>]{0,32}\|>`)
)

// Config holds the budgets the assembler enforces.
type Config struct {
	ModelContextWindow   int
	ReservedOutputTokens int
	QueryTokenCeiling    int
	// ContextBudget is what the context builder is allowed to produce. It
	// is used only to validate the configuration.
	ContextBudget int
}

// Result is the assembled prompt and its accounting.
type Result struct {
	Text                 string
	SystemTokens         int
	ContextTokens        int
	QueryTokens          int
	ReservedOutputTokens int
	TotalInputTokens     int
	// RemainingInputTokens is what the input window has left after every
	// part was charged.
	RemainingInputTokens int
	// WithinBudget reports that every part fit the input window, which is
	// the context window minus ReservedOutputTokens.
	WithinBudget bool
	// BudgetViolation is set when the parts had to be cut to fit. It
	// indicates an upstream defect.
	BudgetViolation bool
	QueryTruncated  bool
	ContextCut      bool
	SafetyFlags     []SafetyFlag
}

// Assembler builds prompts. It is safe for concurrent use.
type Assembler struct {
	counter    tokens.Counter
	classifier Classifier
	cfg        Config
	logger     *logging.Logger

	systemTokens int
}

// NewAssembler validates that persona, scaffolding, query ceiling, context
// budget and reserved output fit the window together.
func NewAssembler(counter tokens.Counter, classifier Classifier, cfg Config, logger *logging.Logger) (*Assembler, error) {
	if counter == nil {
		counter = tokens.NewEstimator()
	}
	if classifier == nil {
		classifier = NewPatternClassifier()
	}
	if logger == nil {
		logger = logging.NewNop()
	}
	if cfg.ModelContextWindow <= 0 || cfg.ReservedOutputTokens < 0 || cfg.QueryTokenCeiling <= 0 || cfg.ContextBudget < 0 {
		return nil, fmt.Errorf("%w: window, ceiling and budgets must be positive", ErrInvalidConfig)
	}

	a := &Assembler{
		counter:    counter,
		classifier: classifier,
		cfg:        cfg,
		logger:     logger.Named("prompt"),
	}
	a.systemTokens = counter.Count(Persona)

	scaffold := counter.Count(render(Persona, NoEvidenceNotice, ""))
	need := scaffold + cfg.ContextBudget + cfg.QueryTokenCeiling + cfg.ReservedOutputTokens + scaffoldSlack
	if need > cfg.ModelContextWindow {
		return nil, fmt.Errorf("%w: persona and scaffolding (%d) + context budget (%d) + query ceiling (%d) + reserved output (%d) exceed window %d",
			ErrInvalidConfig, scaffold, cfg.ContextBudget, cfg.QueryTokenCeiling, cfg.ReservedOutputTokens, cfg.ModelContextWindow)
	}
	return a, nil
}

// Limit is the largest allowed input: window minus reserved output.
func (a *Assembler) Limit() int {
	return a.cfg.ModelContextWindow - a.cfg.ReservedOutputTokens
}

// Assemble builds the prompt for query over contextText. An empty
// contextText yields the explicit no-evidence notice.
func (a *Assembler) Assemble(ctx context.Context, query, contextText string) (*Result, error) {
	flags := a.classifier.Classify(ctx, query)
	if len(flags) > 0 {
		a.logger.Warn(ctx, "manipulation pattern detected in query", zap.Any("flags", flags))
	}

	q := cleanQuery(query)
	if q == "" {
		return nil, ErrEmptyQuery
	}
	res := &Result{
		ReservedOutputTokens: a.cfg.ReservedOutputTokens,
		SafetyFlags:          flags,
	}
	if a.counter.Count(q) > a.cfg.QueryTokenCeiling {
		q = a.counter.Truncate(q, a.cfg.QueryTokenCeiling)
		res.QueryTruncated = true
	}

	evidence := strings.TrimSpace(contextText)
	limit := a.Limit()
	acct, err := a.charge(evidence, q)
	if err != nil {
		return nil, err
	}

	if acct.over() {
		res.BudgetViolation = true
		a.logger.Error(ctx, "prompt exceeds input limit; truncating",
			zap.Int("total_tokens", acct.charged),
			zap.Int("limit", limit),
			zap.Int("context_tokens", acct.context),
			zap.Int("query_tokens", acct.query),
		)
		for acct.over() && evidence != "" {
			keep := a.counter.Count(evidence) - (acct.charged - limit)
			evidence = a.counter.Truncate(evidence, max(keep, 0))
			res.ContextCut = true
			if acct, err = a.charge(evidence, q); err != nil {
				return nil, err
			}
		}
		for acct.over() && q != "" {
			keep := acct.query - (acct.charged - limit)
			q = a.counter.Truncate(q, max(keep, 0))
			res.QueryTruncated = true
			if acct, err = a.charge(evidence, q); err != nil {
				return nil, err
			}
		}
	}

	res.Text = acct.text
	res.SystemTokens = a.systemTokens
	res.ContextTokens = acct.context
	res.QueryTokens = acct.query
	res.TotalInputTokens = a.counter.Count(acct.text)
	res.RemainingInputTokens = acct.window.Remaining()
	res.WithinBudget = !acct.over()

	if !res.WithinBudget {
		a.logger.Error(ctx, "prompt still exceeds window after truncation",
			zap.Int("total_tokens", acct.charged),
			zap.Int("window", a.cfg.ModelContextWindow),
		)
	}
	return res, nil
}

// accounting is one rendering of the prompt charged against the input window.
type accounting struct {
	text    string
	window  *tokens.Budget
	context int
	query   int
	// charged is what the parts asked for, including any that did not fit.
	charged int
	short   error
}

func (p accounting) over() bool {
	return p.short != nil
}

// charge renders the prompt and charges it to a budget of Limit tokens in
// order: persona, evidence, query, then the framing that joins them. The
// budget stops at the first part that does not fit.
func (a *Assembler) charge(evidence, q string) (accounting, error) {
	window, err := tokens.NewBudget("prompt input", a.Limit())
	if err != nil {
		return accounting{}, fmt.Errorf("%w: %w", ErrInvalidConfig, err)
	}
	acct := accounting{
		text:    render(Persona, evidence, q),
		window:  window,
		context: a.counter.Count(evidenceSection(evidence)),
		query:   a.counter.Count(q),
	}
	framing := max(a.counter.Count(acct.text)-a.systemTokens-acct.context-acct.query, 0)

	for _, n := range []int{a.systemTokens, acct.context, acct.query, framing} {
		acct.charged += n
		if acct.short != nil {
			continue
		}
		if err := window.Consume(n); err != nil {
			acct.short = err
		}
	}
	return acct, nil
}

// cleanQuery strips control characters and neutralizes markers that could
// be mistaken for prompt structure.
func cleanQuery(q string) string {
	q = sanitize.Text(q)
	q = delimiterRun.ReplaceAllString(q, "==")
	q = roleToken.ReplaceAllString(q, "")
	return strings.TrimSpace(q)
}

func evidenceSection(evidence string) string {
	if evidence == "" {
		evidence = NoEvidenceNotice
	}
	return evidenceBegin + "\n" + evidence + "\n" + evidenceEnd
}

func render(persona, evidence, query string) string {
	var b strings.Builder
	if persona != "" {
		b.WriteString(persona)
		b.WriteString("\n\n")
	}
	b.WriteString(evidenceSection(evidence))
	b.WriteString("\n\n")
	b.WriteString(questionLabel)
	b.WriteString(query)
	b.WriteString("\n\n")
	b.WriteString(answerCue)
	return b.String()
}
