package main

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/fyrsmithlabs/minutes/internal/extraction"
	"github.com/fyrsmithlabs/minutes/internal/publisher"
)

var (
	publishRepo      string
	publishCorpus    string
	publishTasksFile string
	publishDryRun    bool
	publishAssignees map[string]string
)

func init() {
	publishCmd.Flags().StringVar(&publishRepo, "repo", "", "target repository (owner/name)")
	publishCmd.Flags().StringVar(&publishCorpus, "corpus", "", "corpus id used to cite source passages")
	publishCmd.Flags().StringVar(&publishTasksFile, "tasks", "-", "tasks JSON file, or - for stdin")
	publishCmd.Flags().BoolVar(&publishDryRun, "dry-run", false, "show what would be created without creating issues")
	publishCmd.Flags().StringToStringVar(&publishAssignees, "assignee", nil, "map a name to a GitHub login (Alice=alice-gh)")
	_ = publishCmd.MarkFlagRequired("repo")

	rootCmd.AddCommand(publishCmd)
}

// publishCmd turns extracted tasks into issues
var publishCmd = &cobra.Command{
	Use:   "publish",
	Short: "Publish extracted tasks as GitHub issues",
	Long: `Publish extracted tasks as GitHub issues. Tasks whose fingerprint already
appears in an open issue are skipped.

Examples:
  minutes extract --corpus weekly | minutes publish --repo acme/roadmap --dry-run
  minutes publish --repo acme/roadmap --tasks tasks.json --assignee Alice=alice-gh`,
	RunE: runPublish,
}

func runPublish(cmd *cobra.Command, args []string) error {
	raw, err := readTasksInput(cmd.InOrStdin(), publishTasksFile)
	if err != nil {
		return err
	}
	tasks, err := decodeTasks(raw)
	if err != nil {
		return err
	}

	batch := publisher.Batch{
		Target:      publishRepo,
		CorpusID:    publishCorpus,
		Tasks:       tasks,
		AssigneeMap: publishAssignees,
	}

	var items []publisher.Item
	c := newClient()
	if publishDryRun {
		var resp struct {
			WouldCreate []publisher.Item `json:"would_create"`
		}
		if err := c.postJSON(cmd.Context(), "/api/v1/issues/preview", batch, &resp); err != nil {
			return err
		}
		items = resp.WouldCreate
	} else {
		var resp struct {
			Created []publisher.Item `json:"created"`
		}
		if err := c.postJSON(cmd.Context(), "/api/v1/issues", batch, &resp); err != nil {
			return err
		}
		items = resp.Created
	}

	printItems(cmd.OutOrStdout(), items)
	return nil
}

func readTasksInput(stdin io.Reader, path string) ([]byte, error) {
	if path == "-" {
		raw, err := io.ReadAll(stdin)
		if err != nil {
			return nil, fmt.Errorf("failed to read tasks from stdin: %w", err)
		}
		return raw, nil
	}
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read tasks file: %w", err)
	}
	return raw, nil
}

// decodeTasks accepts a bare task array or the object printed by extract.
func decodeTasks(raw []byte) ([]extraction.Task, error) {
	raw = bytes.TrimSpace(raw)
	if len(raw) == 0 {
		return nil, fmt.Errorf("no tasks given")
	}
	var tasks []extraction.Task
	if raw[0] == '[' {
		if err := json.Unmarshal(raw, &tasks); err != nil {
			return nil, fmt.Errorf("invalid tasks JSON: %w", err)
		}
		return tasks, nil
	}
	var wrapped ExtractResult
	if err := json.Unmarshal(raw, &wrapped); err != nil {
		return nil, fmt.Errorf("invalid tasks JSON: %w", err)
	}
	return wrapped.Tasks, nil
}

func printItems(out io.Writer, items []publisher.Item) {
	if len(items) == 0 {
		fmt.Fprintln(out, "No tasks to publish")
		return
	}
	w := tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)
	fmt.Fprintln(w, "STATUS\tISSUE\tTITLE\tDETAIL")
	counts := map[string]int{}
	for _, it := range items {
		counts[it.Status]++
		issue := "-"
		if it.Number > 0 {
			issue = fmt.Sprintf("#%d", it.Number)
		}
		detail := it.URL
		if it.Message != "" {
			detail = it.Message
		}
		if it.AssigneeDropped {
			detail += " (assignee dropped)"
		}
		fmt.Fprintf(w, "%s\t%s\t%s\t%s\n", it.Status, issue, preview(it.Title, 60), detail)
	}
	_ = w.Flush()
	fmt.Fprintf(out, "\n%d created, %d would create, %d duplicates, %d failed\n",
		counts[publisher.StatusCreated], counts[publisher.StatusWouldCreate],
		counts[publisher.StatusSkippedDuplicate], counts[publisher.StatusFailed])
}
