package main

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"os"
	"strings"

	"github.com/schollz/progressbar/v3"
	"github.com/spf13/cobra"

	"github.com/fyrsmithlabs/minutes/internal/extraction"
	"github.com/fyrsmithlabs/minutes/internal/stream"
)

var (
	extractCorpus string
	extractQuery  string
	extractK      int
	extractStream bool
)

func init() {
	extractCmd.Flags().StringVar(&extractCorpus, "corpus", "", "corpus id")
	extractCmd.Flags().StringVarP(&extractQuery, "query", "q", "", "retrieval query (default: action items from this meeting)")
	extractCmd.Flags().IntVarP(&extractK, "limit", "k", extraction.DefaultK, "candidate passages to retrieve")
	extractCmd.Flags().BoolVar(&extractStream, "stream", false, "stream progress while the model replies")
	_ = extractCmd.MarkFlagRequired("corpus")

	rootCmd.AddCommand(extractCmd)
}

// extractCmd extracts action items
var extractCmd = &cobra.Command{
	Use:   "extract",
	Short: "Extract action items from a corpus",
	Long: `Extract action items from a corpus. The result is printed as JSON and
can be passed to "minutes publish --tasks".

Examples:
  minutes extract --corpus weekly > tasks.json
  minutes extract --corpus weekly -q "decisions and owners" --stream`,
	RunE: runExtract,
}

// ExtractResult is the JSON written to stdout.
type ExtractResult struct {
	Tasks      []extraction.Task `json:"tasks"`
	Mode       string            `json:"mode"`
	Candidates []int             `json:"candidates,omitempty"`
}

// TasksRequest matches internal/http TasksRequest
type TasksRequest struct {
	CorpusID string `json:"corpus_id"`
	Query    string `json:"q,omitempty"`
	K        int    `json:"k,omitempty"`
}

func runExtract(cmd *cobra.Command, args []string) error {
	req := TasksRequest{CorpusID: extractCorpus, Query: extractQuery, K: extractK}

	var (
		res ExtractResult
		err error
	)
	if extractStream {
		var onEvent func(stream.Event)
		if interactive() {
			bar := newStageBar()
			defer func() { _ = bar.Finish() }()
			onEvent = func(ev stream.Event) {
				bar.Describe(ev.Stage)
				_ = bar.Set(ev.Progress)
			}
		}
		res, err = streamTasks(cmd.Context(), newStreamingClient(), req, onEvent)
	} else {
		err = newClient().postJSON(cmd.Context(), "/api/v1/tasks", req, &res)
	}
	if err != nil {
		return err
	}
	if res.Tasks == nil {
		res.Tasks = []extraction.Task{}
	}

	enc := json.NewEncoder(cmd.OutOrStdout())
	enc.SetIndent("", "  ")
	if err := enc.Encode(res); err != nil {
		return fmt.Errorf("failed to write result: %w", err)
	}
	fmt.Fprintf(cmd.ErrOrStderr(), "%d tasks (%s)\n", len(res.Tasks), res.Mode)
	return nil
}

func newStageBar() *progressbar.ProgressBar {
	return progressbar.NewOptions(100,
		progressbar.OptionSetWriter(os.Stderr),
		progressbar.OptionSetDescription(stream.StageRetrieving),
		progressbar.OptionSetWidth(32),
		progressbar.OptionClearOnFinish(),
		progressbar.OptionSetTheme(progressbar.Theme{
			Saucer:        "=",
			SaucerHead:    ">",
			SaucerPadding: " ",
			BarStart:      "[",
			BarEnd:        "]",
		}),
	)
}

// errStreamEnded is returned when the server closes the stream without a
// terminal event.
var errStreamEnded = errors.New("stream ended before extraction finished")

// streamTasks posts req to the SSE endpoint and reads events until done or
// error. onEvent, when set, sees every event.
func streamTasks(ctx context.Context, c *client, req TasksRequest, onEvent func(stream.Event)) (ExtractResult, error) {
	body, err := json.Marshal(req)
	if err != nil {
		return ExtractResult{}, fmt.Errorf("failed to marshal request: %w", err)
	}
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, c.base+"/api/v1/tasks/stream", bytes.NewReader(body))
	if err != nil {
		return ExtractResult{}, fmt.Errorf("failed to create request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("Accept", "text/event-stream")

	resp, err := c.http.Do(httpReq)
	if err != nil {
		return ExtractResult{}, fmt.Errorf("failed to send request to %s: %w", httpReq.URL, err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return ExtractResult{}, apiError(resp)
	}

	return readEvents(resp.Body, onEvent)
}

func readEvents(r io.Reader, onEvent func(stream.Event)) (ExtractResult, error) {
	scanner := bufio.NewScanner(r)
	scanner.Buffer(make([]byte, 0, 64<<10), 4<<20)
	for scanner.Scan() {
		data, ok := strings.CutPrefix(scanner.Text(), "data: ")
		if !ok {
			continue
		}
		var ev stream.Event
		if err := json.Unmarshal([]byte(data), &ev); err != nil {
			return ExtractResult{}, fmt.Errorf("malformed event: %w", err)
		}
		if onEvent != nil {
			onEvent(ev)
		}
		switch ev.Stage {
		case stream.StageDone:
			return ExtractResult{Tasks: ev.Tasks, Mode: ev.Mode}, nil
		case stream.StageError:
			return ExtractResult{}, fmt.Errorf("extraction failed: %s", ev.Message)
		}
	}
	if err := scanner.Err(); err != nil {
		return ExtractResult{}, fmt.Errorf("reading stream: %w", err)
	}
	return ExtractResult{}, errStreamEnded
}
