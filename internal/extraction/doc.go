// Package extraction turns meeting passages into actionable tasks.
//
// Extraction is a fallback chain:
//   - Orchestrator retrieves candidate passages for a corpus and query
//   - StructuredExtractor asks a text-generation oracle for JSON tasks and
//     parses the reply tolerantly
//   - HeuristicExtractor matches line patterns when the oracle yields nothing
//
// Retrieval and oracle failures never fail an extraction; they move it down
// the chain. Every task returned by the Orchestrator has a SourceIndex that
// names a real passage of the corpus.
//
// # Usage
//
//	orch := extraction.NewOrchestrator(corpusService, structured, logger)
//	res, err := orch.Extract(ctx, "weekly-sync", "action items", 5)
//	for _, t := range res.Tasks {
//	    fmt.Printf("[%d] %s\n", t.SourceIndex, t.Title)
//	}
package extraction
