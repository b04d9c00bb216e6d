// Package secrets redacts credentials from passage text before it leaves
// the process.
//
// The structured extractor sends meeting excerpts to an external oracle.
// Transcripts routinely contain pasted tokens, so every passage goes through
// a Scrubber first. Findings are replaced with [REDACTED:<rule-id>] markers,
// which keep enough context for the model to reason about the sentence.
package secrets
