package prompt

import (
	"context"
	"regexp"
)

// SafetyFlag names a manipulation pattern found in a query or an output
// policy action taken on a response.
type SafetyFlag string

const (
	FlagInstructionOverride SafetyFlag = "instruction_override"
	FlagRoleReassignment    SafetyFlag = "role_reassignment"
	FlagFakeSystemMarker    SafetyFlag = "fake_system_marker"
	FlagForgetPrevious      SafetyFlag = "forget_previous"
	FlagPromptLeakAttempt   SafetyFlag = "prompt_leak_attempt"
	FlagDelimiterInjection  SafetyFlag = "delimiter_injection"

	// FlagLeakBlocked is set when generated output quoted the persona and
	// was replaced.
	FlagLeakBlocked SafetyFlag = "system_prompt_leak_blocked"
)

// Classifier inspects user text for manipulation attempts. Flags are
// advisory; a query is never rejected because of them.
type Classifier interface {
	Classify(ctx context.Context, text string) []SafetyFlag
}

type pattern struct {
	flag SafetyFlag
	re   *regexp.Regexp
}

// PatternClassifier is the regular-expression classifier used by default.
type PatternClassifier struct {
	patterns []pattern
}

// NewPatternClassifier returns a classifier with the built-in patterns.
func NewPatternClassifier() *PatternClassifier {
	return &PatternClassifier{patterns: defaultPatterns}
}

var defaultPatterns = []pattern{
	{FlagInstructionOverride, regexp.MustCompile(`(?i)\b(ignore|disregard|override|bypass|violate)\b.{0,40}\b(instructions?|rules|guidelines|directives|constraints)\b`)},
	{FlagInstructionOverride, regexp.MustCompile(`(?i)\bnew (instructions?|rules)\s*:`)},
	{FlagForgetPrevious, regexp.MustCompile(`(?i)\b(forget|ignore|disregard|discard)\b.{0,20}\b(previous|prior|above|earlier|everything|all)\b`)},
	{FlagRoleReassignment, regexp.MustCompile(`(?i)\byou are (now|no longer)\b`)},
	{FlagRoleReassignment, regexp.MustCompile(`(?i)\b(act as|pretend (to be|you are)|role-?play as|from now on,? you)\b`)},
	{FlagRoleReassignment, regexp.MustCompile(`(?i)\b(developer|dan|jailbreak|god) mode\b`)},
	{FlagFakeSystemMarker, regexp.MustCompile(`(?im)^\s*(system|assistant|developer)\s*:`)},
	{FlagFakeSystemMarker, regexp.MustCompile(`(?i)<\|?\s*(system|im_start|im_end|endoftext)\s*\|?>`)},
	{FlagFakeSystemMarker, regexp.MustCompile(`(?i)\[/?(inst|sys)\]|<</?sys>>|###\s*(system|instruction)`)},
	{FlagPromptLeakAttempt, regexp.MustCompile(`(?i)\b(system|initial|original|hidden|secret)\s+(prompt|instructions?|message|rules)\b`)},
	{FlagPromptLeakAttempt, regexp.MustCompile(`(?i)\b(reveal|print|show|repeat|output|recite|dump)\b.{0,30}\b(your|the)\s+(instructions|prompt|rules)\b`)},
	{FlagDelimiterInjection, regexp.MustCompile(`(?i)={3,}\s*(end of evidence|evidence from)`)},
}

// Classify returns the distinct flags whose patterns match text.
func (c *PatternClassifier) Classify(_ context.Context, text string) []SafetyFlag {
	var flags []SafetyFlag
	seen := map[SafetyFlag]bool{}
	for _, p := range c.patterns {
		if seen[p.flag] {
			continue
		}
		if p.re.MatchString(text) {
			seen[p.flag] = true
			flags = append(flags, p.flag)
		}
	}
	return flags
}

// MultiClassifier runs several classifiers and merges their flags.
type MultiClassifier []Classifier

// Classify returns the union of all flags in first-seen order.
func (m MultiClassifier) Classify(ctx context.Context, text string) []SafetyFlag {
	var flags []SafetyFlag
	seen := map[SafetyFlag]bool{}
	for _, c := range m {
		for _, f := range c.Classify(ctx, text) {
			if !seen[f] {
				seen[f] = true
				flags = append(flags, f)
			}
		}
	}
	return flags
}
