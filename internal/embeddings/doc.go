// Package embeddings turns note and query text into vectors.
//
// Three providers are available: FastEmbed (local ONNX, requires cgo),
// Hugot (pure Go ONNX pipeline) and Remote (any OpenAI-compatible
// embeddings endpoint through langchaingo). NewProvider selects one from
// configuration and wraps it with metrics.
package embeddings
