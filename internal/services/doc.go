// Package services wires the minutes components from configuration.
//
// Build constructs the embedder, similarity index, passage store, oracle,
// extraction chain, tracker publisher and progress sink, and returns them
// behind a Registry. Both minutesd and the CLI's mcp command start from it.
package services
