package mcp

import (
	"context"
	"fmt"
	"time"

	"github.com/modelcontextprotocol/go-sdk/mcp"
	"go.uber.org/zap"

	"github.com/fyrsmithlabs/minutes/internal/extraction"
	"github.com/fyrsmithlabs/minutes/internal/logging"
	"github.com/fyrsmithlabs/minutes/internal/publisher"
	"github.com/fyrsmithlabs/minutes/internal/tracker"
)

// registerTools registers all MCP tools with the server.
func (s *Server) registerTools() {
	s.registerCorpusTools()
	s.registerExtractionTools()
	s.registerPublishTools()
}

// observe starts invocation metrics for tool. The returned func records
// the outcome.
func (s *Server) observe(ctx context.Context, tool string) func(err error) {
	start := time.Now()
	s.metrics.IncrementActive(ctx, tool)
	return func(err error) {
		s.metrics.DecrementActive(ctx, tool)
		s.metrics.RecordInvocation(ctx, tool, time.Since(start), err)
		if err != nil {
			logging.For(ctx, s.logger).Warn("tool failed", zap.String("tool", tool), zap.Error(err))
		}
	}
}

func (s *Server) scrub(text string) string {
	return s.scrubber.Scrub(text).Scrubbed
}

// ===== CORPUS TOOLS =====

type ingestNotesInput struct {
	CorpusID string `json:"corpus_id" jsonschema:"Corpus identifier, reused ids replace the previous document"`
	Title    string `json:"title,omitempty" jsonschema:"Meeting title"`
	Text     string `json:"text" jsonschema:"Raw meeting notes"`
}

type ingestNotesOutput struct {
	CorpusID string `json:"corpus_id" jsonschema:"Corpus identifier"`
	Passages int    `json:"passages_indexed" jsonschema:"Number of passages indexed"`
}

type searchPassagesInput struct {
	CorpusID string `json:"corpus_id" jsonschema:"Corpus to search"`
	Query    string `json:"query" jsonschema:"Search query"`
	K        int    `json:"k,omitempty" jsonschema:"Maximum results to return (default: 5)"`
}

type passageHit struct {
	ID         string  `json:"id" jsonschema:"Passage ID"`
	Score      float32 `json:"score" jsonschema:"Cosine similarity"`
	LocalIndex int     `json:"local_index" jsonschema:"Position of the passage in its document"`
	Text       string  `json:"text" jsonschema:"Passage text with secrets redacted"`
}

type searchPassagesOutput struct {
	Results []passageHit `json:"results" jsonschema:"Hits in descending score order"`
	Count   int          `json:"count" jsonschema:"Number of hits"`
}

func (s *Server) registerCorpusTools() {
	// ingest_notes
	mcp.AddTool(s.mcp, &mcp.Tool{
		Name:        "ingest_notes",
		Description: "Segment, embed and index meeting notes as a corpus",
	}, func(ctx context.Context, req *mcp.CallToolRequest, args ingestNotesInput) (*mcp.CallToolResult, ingestNotesOutput, error) {
		done := s.observe(ctx, "ingest_notes")
		res, err := s.corpusSvc.Ingest(ctx, args.CorpusID, args.Title, args.Text)
		if err != nil {
			err = fmt.Errorf("ingest failed: %w", err)
			done(err)
			return nil, ingestNotesOutput{}, err
		}
		done(nil)

		return &mcp.CallToolResult{
			Content: []mcp.Content{
				&mcp.TextContent{Text: fmt.Sprintf("Indexed %d passages into corpus %s", res.Passages, res.CorpusID)},
			},
		}, ingestNotesOutput{CorpusID: res.CorpusID, Passages: res.Passages}, nil
	})

	// search_passages
	mcp.AddTool(s.mcp, &mcp.Tool{
		Name:        "search_passages",
		Description: "Find the passages of a meeting corpus most similar to a query",
	}, func(ctx context.Context, req *mcp.CallToolRequest, args searchPassagesInput) (*mcp.CallToolResult, searchPassagesOutput, error) {
		done := s.observe(ctx, "search_passages")
		k := args.K
		if k <= 0 {
			k = extraction.DefaultK
		}

		results, err := s.corpusSvc.Search(ctx, args.CorpusID, args.Query, k)
		if err != nil {
			err = fmt.Errorf("search failed: %w", err)
			done(err)
			return nil, searchPassagesOutput{}, err
		}
		done(nil)

		out := searchPassagesOutput{Results: make([]passageHit, 0, len(results))}
		for _, r := range results {
			out.Results = append(out.Results, passageHit{
				ID:         r.ID,
				Score:      r.Score,
				LocalIndex: r.LocalIndex,
				Text:       s.scrub(r.Text),
			})
		}
		out.Count = len(out.Results)

		return &mcp.CallToolResult{
			Content: []mcp.Content{
				&mcp.TextContent{Text: fmt.Sprintf("Found %d passages", out.Count)},
			},
		}, out, nil
	})
}

// ===== EXTRACTION TOOLS =====

type extractTasksInput struct {
	CorpusID string `json:"corpus_id" jsonschema:"Corpus to extract from"`
	Query    string `json:"query,omitempty" jsonschema:"Retrieval query (default: action items from this meeting)"`
	K        int    `json:"k,omitempty" jsonschema:"Candidate passages to retrieve (default: 5)"`
}

// taskView is a task on the wire. Optional fields are omitempty so the
// inferred input schema only requires a title.
type taskView struct {
	Title        string   `json:"title" jsonschema:"Issue title"`
	Body         string   `json:"body,omitempty" jsonschema:"Issue body"`
	Labels       []string `json:"labels,omitempty" jsonschema:"Issue labels"`
	AssigneeHint string   `json:"assignee_hint,omitempty" jsonschema:"Name of the person who owns the task"`
	DueHint      string   `json:"due_hint,omitempty" jsonschema:"Free-text due date"`
	SourceIndex  int      `json:"source_index,omitempty" jsonschema:"Local index of the passage the task came from"`
	Confidence   float64  `json:"confidence,omitempty" jsonschema:"Extraction confidence between 0 and 1"`
}

type extractTasksOutput struct {
	Tasks      []taskView `json:"tasks" jsonschema:"Extracted tasks"`
	Mode       string     `json:"mode" jsonschema:"structured or heuristic"`
	Candidates []int      `json:"candidates" jsonschema:"Local indexes of the passages used, in rank order"`
}

func (s *Server) viewOf(t extraction.Task) taskView {
	return taskView{
		Title:        s.scrub(t.Title),
		Body:         s.scrub(t.Body),
		Labels:       append([]string{}, t.Labels...),
		AssigneeHint: t.AssigneeHint,
		DueHint:      t.DueHint,
		SourceIndex:  t.SourceIndex,
		Confidence:   t.Confidence,
	}
}

func (v taskView) task() extraction.Task {
	return extraction.Task{
		Title:        v.Title,
		Body:         v.Body,
		Labels:       v.Labels,
		AssigneeHint: v.AssigneeHint,
		DueHint:      v.DueHint,
		SourceIndex:  v.SourceIndex,
		Confidence:   v.Confidence,
	}
}

func (s *Server) registerExtractionTools() {
	// extract_tasks
	mcp.AddTool(s.mcp, &mcp.Tool{
		Name:        "extract_tasks",
		Description: "Extract action items from a meeting corpus. Uses the language model when available and falls back to rule-based extraction",
	}, func(ctx context.Context, req *mcp.CallToolRequest, args extractTasksInput) (*mcp.CallToolResult, extractTasksOutput, error) {
		done := s.observe(ctx, "extract_tasks")
		ctx = logging.WithCorpusID(ctx, args.CorpusID)

		res, err := s.orchestrator.Extract(ctx, args.CorpusID, args.Query, args.K)
		if err != nil {
			err = fmt.Errorf("extraction failed: %w", err)
			done(err)
			return nil, extractTasksOutput{}, err
		}
		done(nil)
		s.metrics.RecordExtraction(ctx, res.Mode, len(res.Tasks))

		out := extractTasksOutput{
			Tasks:      make([]taskView, 0, len(res.Tasks)),
			Mode:       res.Mode,
			Candidates: append([]int{}, res.Candidates...),
		}
		for _, t := range res.Tasks {
			out.Tasks = append(out.Tasks, s.viewOf(t))
		}

		return &mcp.CallToolResult{
			Content: []mcp.Content{
				&mcp.TextContent{Text: fmt.Sprintf("Extracted %d tasks (%s)", len(out.Tasks), out.Mode)},
			},
		}, out, nil
	})
}

// ===== PUBLISH TOOLS =====

type publishIssuesInput struct {
	Repo        string            `json:"repo" jsonschema:"Target repository as owner/name"`
	CorpusID    string            `json:"corpus_id,omitempty" jsonschema:"Corpus the tasks came from, used for source excerpts"`
	Tasks       []taskView        `json:"tasks" jsonschema:"Tasks to publish"`
	AssigneeMap map[string]string `json:"assignee_map,omitempty" jsonschema:"Maps assignee hints to tracker logins"`
	DryRun      bool              `json:"dry_run,omitempty" jsonschema:"Report what would be created without writing"`
}

type publishIssuesOutput struct {
	Items      []publisher.Item `json:"items" jsonschema:"Per-task outcome in input order"`
	Created    int              `json:"created" jsonschema:"Issues created (or that would be created on a dry run)"`
	Duplicates int              `json:"duplicates" jsonschema:"Tasks skipped because an issue with the same fingerprint exists"`
	Failed     int              `json:"failed" jsonschema:"Tasks the tracker rejected"`
}

func (s *Server) registerPublishTools() {
	// publish_issues
	mcp.AddTool(s.mcp, &mcp.Tool{
		Name:        "publish_issues",
		Description: "Create tracker issues for extracted tasks, skipping tasks already published",
	}, func(ctx context.Context, req *mcp.CallToolRequest, args publishIssuesInput) (*mcp.CallToolResult, publishIssuesOutput, error) {
		done := s.observe(ctx, "publish_issues")
		if s.publisher == nil {
			done(tracker.ErrNotConfigured)
			return nil, publishIssuesOutput{}, tracker.ErrNotConfigured
		}

		batch := publisher.Batch{
			Target:      args.Repo,
			CorpusID:    args.CorpusID,
			Tasks:       make([]extraction.Task, 0, len(args.Tasks)),
			AssigneeMap: args.AssigneeMap,
		}
		for _, t := range args.Tasks {
			batch.Tasks = append(batch.Tasks, t.task())
		}

		var (
			report publisher.Report
			err    error
		)
		if args.DryRun {
			report, err = s.publisher.Preview(ctx, batch)
		} else {
			report, err = s.publisher.Publish(ctx, batch)
		}
		if err != nil {
			err = fmt.Errorf("publish failed: %w", err)
			done(err)
			return nil, publishIssuesOutput{}, err
		}
		done(nil)
		s.metrics.RecordPublish(ctx, report, args.DryRun)

		out := publishIssuesOutput{
			Items:      make([]publisher.Item, 0, len(report.Items)),
			Created:    report.Count(publisher.StatusCreated) + report.Count(publisher.StatusWouldCreate),
			Duplicates: report.Count(publisher.StatusSkippedDuplicate),
			Failed:     report.Count(publisher.StatusFailed),
		}
		for _, it := range report.Items {
			it.Body = s.scrub(it.Body)
			out.Items = append(out.Items, it)
		}

		verb := "Created"
		if args.DryRun {
			verb = "Would create"
		}
		return &mcp.CallToolResult{
			Content: []mcp.Content{
				&mcp.TextContent{Text: fmt.Sprintf("%s %d issues in %s (%d duplicates, %d failed)",
					verb, out.Created, args.Repo, out.Duplicates, out.Failed)},
			},
		}, out, nil
	})
}
