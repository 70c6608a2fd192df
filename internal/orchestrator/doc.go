// Package orchestrator answers a question from one owner's notes.
//
// Answer runs the pipeline strictly forward: validate, embed the query,
// retrieve owner-scoped chunks, pack them into a token-budgeted context,
// assemble the prompt, generate and post-check the answer. When no chunk
// clears the relevance threshold the pipeline stops before generation and
// returns the no-notes answer. Every failure still produces a complete
// QueryResponse; the returned error tells the caller which stage failed.
package orchestrator
