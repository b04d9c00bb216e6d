package main

import (
	"bytes"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/fyrsmithlabs/minutes/internal/extraction"
	"github.com/fyrsmithlabs/minutes/internal/publisher"
	"github.com/fyrsmithlabs/minutes/internal/stream"
)

// execute runs the root command against srv and returns stdout.
func execute(t *testing.T, srv *httptest.Server, args ...string) (string, error) {
	t.Helper()
	var out, errOut bytes.Buffer
	rootCmd.SetOut(&out)
	rootCmd.SetErr(&errOut)
	rootCmd.SetArgs(append(args, "--server", srv.URL))
	err := rootCmd.Execute()
	return out.String(), err
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func TestHealth(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/health", r.URL.Path)
		writeJSON(w, http.StatusOK, HealthResponse{Status: "ok", Index: "memory"})
	}))
	defer srv.Close()

	out, err := execute(t, srv, "health")
	require.NoError(t, err)
	assert.Contains(t, out, "Server Status: ok")
	assert.Contains(t, out, "Index:         memory")
}

func TestIngest(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodPost, r.Method)
		assert.Equal(t, "/api/v1/corpora", r.URL.Path)
		require.NoError(t, r.ParseMultipartForm(1<<20))
		assert.Equal(t, "weekly", r.FormValue("corpus_id"))
		assert.Empty(t, r.FormValue("title"))

		f, hdr, err := r.FormFile("file")
		require.NoError(t, err)
		defer f.Close()
		raw, _ := io.ReadAll(f)
		assert.Equal(t, "notes.md", hdr.Filename)
		assert.Equal(t, "Action: ship it", string(raw))

		writeJSON(w, http.StatusOK, IngestResponse{OK: true, CorpusID: "weekly", Passages: 1})
	}))
	defer srv.Close()

	path := filepath.Join(t.TempDir(), "notes.md")
	require.NoError(t, os.WriteFile(path, []byte("Action: ship it"), 0o644))

	out, err := execute(t, srv, "ingest", path, "--corpus", "weekly")
	require.NoError(t, err)
	assert.Equal(t, "Indexed 1 passages into corpus weekly\n", out)
}

func TestIngest_MissingFile(t *testing.T) {
	srv := httptest.NewServer(http.NotFoundHandler())
	defer srv.Close()

	_, err := execute(t, srv, "ingest", filepath.Join(t.TempDir(), "nope.md"))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "failed to open")
}

func TestSearch(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/api/v1/search", r.URL.Path)
		assert.Equal(t, "weekly", r.URL.Query().Get("corpus_id"))
		assert.Equal(t, "release", r.URL.Query().Get("q"))
		assert.Equal(t, "3", r.URL.Query().Get("k"))
		writeJSON(w, http.StatusOK, map[string]any{
			"results": []SearchResult{
				{ID: "weekly:2", Score: 0.91, LocalIndex: 2, Text: "Release moves to May.\nSecond line"},
			},
		})
	}))
	defer srv.Close()

	out, err := execute(t, srv, "search", "--corpus", "weekly", "-q", "release", "-k", "3")
	require.NoError(t, err)
	assert.Contains(t, out, "#2")
	assert.Contains(t, out, "0.910")
	assert.Contains(t, out, "Release moves to May.")
	assert.NotContains(t, out, "Second line")
}

func TestAPIError(t *testing.T) {
	tests := []struct {
		name   string
		status int
		body   string
		want   string
	}{
		{"error field", 400, `{"error":"corpus_id is required"}`, "server returned status 400: corpus_id is required"},
		{"tracker error", 502, `{"where":"create","status":422,"text":"Validation Failed"}`, "create failed with status 422: Validation Failed"},
		{"plain text", 500, "boom\n", "server returned status 500: boom"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			resp := &http.Response{StatusCode: tt.status, Body: io.NopCloser(strings.NewReader(tt.body))}
			err := apiError(resp)
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.want)
		})
	}
}

func TestExtract(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/api/v1/tasks", r.URL.Path)
		var req TasksRequest
		require.NoError(t, json.NewDecoder(r.Body).Decode(&req))
		assert.Equal(t, "weekly", req.CorpusID)
		assert.Equal(t, extraction.DefaultK, req.K)
		writeJSON(w, http.StatusOK, ExtractResult{
			Tasks:      []extraction.Task{{Title: "Send the report", Labels: []string{"from-notes"}}},
			Mode:       "heuristic",
			Candidates: []int{0},
		})
	}))
	defer srv.Close()

	out, err := execute(t, srv, "extract", "--corpus", "weekly", "--stream=false")
	require.NoError(t, err)

	var res ExtractResult
	require.NoError(t, json.Unmarshal([]byte(out), &res))
	require.Len(t, res.Tasks, 1)
	assert.Equal(t, "Send the report", res.Tasks[0].Title)
	assert.Equal(t, "heuristic", res.Mode)
}

func TestExtract_Stream(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/api/v1/tasks/stream", r.URL.Path)
		w.Header().Set("Content-Type", "text/event-stream")
		for _, ev := range []stream.Event{
			{Stage: stream.StageRetrieving, Progress: 5},
			{Stage: stream.StageExtracting, Progress: 12, Chunks: 2},
			{Stage: stream.StageParsing, Progress: 97},
			{Stage: stream.StageDone, Progress: 100, Mode: "llm", Tasks: []extraction.Task{{Title: "Update the docs"}}},
		} {
			data, _ := json.Marshal(ev)
			_, _ = w.Write([]byte("data: " + string(data) + "\n\n"))
		}
	}))
	defer srv.Close()

	out, err := execute(t, srv, "extract", "--corpus", "weekly", "--stream")
	require.NoError(t, err)

	var res ExtractResult
	require.NoError(t, json.Unmarshal([]byte(out), &res))
	require.Len(t, res.Tasks, 1)
	assert.Equal(t, "Update the docs", res.Tasks[0].Title)
	assert.Equal(t, "llm", res.Mode)
}

func TestReadEvents(t *testing.T) {
	t.Run("collects stages", func(t *testing.T) {
		body := "data: {\"stage\":\"retrieving\",\"progress\":5}\n\n" +
			": keepalive\n\n" +
			"data: {\"stage\":\"done\",\"progress\":100,\"mode\":\"heuristic\"}\n\n"
		var stages []string
		res, err := readEvents(strings.NewReader(body), func(ev stream.Event) {
			stages = append(stages, ev.Stage)
		})
		require.NoError(t, err)
		assert.Equal(t, []string{"retrieving", "done"}, stages)
		assert.Equal(t, "heuristic", res.Mode)
		assert.Empty(t, res.Tasks)
	})

	t.Run("error event", func(t *testing.T) {
		body := "data: {\"stage\":\"error\",\"message\":\"corpus not found\"}\n\n"
		_, err := readEvents(strings.NewReader(body), nil)
		require.Error(t, err)
		assert.Contains(t, err.Error(), "corpus not found")
	})

	t.Run("stream cut short", func(t *testing.T) {
		body := "data: {\"stage\":\"retrieving\",\"progress\":5}\n\n"
		_, err := readEvents(strings.NewReader(body), nil)
		assert.ErrorIs(t, err, errStreamEnded)
	})

	t.Run("malformed", func(t *testing.T) {
		_, err := readEvents(strings.NewReader("data: {nope\n\n"), nil)
		require.Error(t, err)
		assert.Contains(t, err.Error(), "malformed event")
	})
}

func TestDecodeTasks(t *testing.T) {
	t.Run("array", func(t *testing.T) {
		tasks, err := decodeTasks([]byte(`[{"title":"A"},{"title":"B"}]`))
		require.NoError(t, err)
		require.Len(t, tasks, 2)
		assert.Equal(t, "B", tasks[1].Title)
	})
	t.Run("extract output", func(t *testing.T) {
		tasks, err := decodeTasks([]byte(`  {"tasks":[{"title":"A"}],"mode":"llm"}`))
		require.NoError(t, err)
		require.Len(t, tasks, 1)
	})
	t.Run("empty", func(t *testing.T) {
		_, err := decodeTasks([]byte("  \n"))
		require.Error(t, err)
	})
	t.Run("invalid", func(t *testing.T) {
		_, err := decodeTasks([]byte("[oops"))
		require.Error(t, err)
	})
}

func TestPublish(t *testing.T) {
	var gotPath string
	var gotBatch publisher.Batch
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotPath = r.URL.Path
		require.NoError(t, json.NewDecoder(r.Body).Decode(&gotBatch))
		items := []publisher.Item{
			{Title: "Send the report", Status: publisher.StatusCreated, Number: 7, URL: "https://github.com/acme/roadmap/issues/7"},
			{Title: "Update the docs", Status: publisher.StatusSkippedDuplicate, Message: "matches #3"},
		}
		if r.URL.Path == "/api/v1/issues/preview" {
			writeJSON(w, http.StatusOK, map[string]any{"would_create": items})
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{"created": items})
	}))
	defer srv.Close()

	path := filepath.Join(t.TempDir(), "tasks.json")
	require.NoError(t, os.WriteFile(path, []byte(`{"tasks":[{"title":"Send the report","assignee_hint":"Alice"},{"title":"Update the docs"}]}`), 0o644))

	out, err := execute(t, srv, "publish", "--repo", "acme/roadmap", "--tasks", path,
		"--assignee", "Alice=alice-gh", "--dry-run=false")
	require.NoError(t, err)
	assert.Equal(t, "/api/v1/issues", gotPath)
	assert.Equal(t, "acme/roadmap", gotBatch.Target)
	assert.Equal(t, map[string]string{"Alice": "alice-gh"}, gotBatch.AssigneeMap)
	require.Len(t, gotBatch.Tasks, 2)
	assert.Contains(t, out, "#7")
	assert.Contains(t, out, "matches #3")
	assert.Contains(t, out, "1 created, 0 would create, 1 duplicates, 0 failed")

	_, err = execute(t, srv, "publish", "--repo", "acme/roadmap", "--tasks", path, "--dry-run")
	require.NoError(t, err)
	assert.Equal(t, "/api/v1/issues/preview", gotPath)
}

func TestPublish_ServerError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusServiceUnavailable, map[string]string{"error": "issue tracker not configured"})
	}))
	defer srv.Close()

	path := filepath.Join(t.TempDir(), "tasks.json")
	require.NoError(t, os.WriteFile(path, []byte(`[{"title":"A"}]`), 0o644))

	_, err := execute(t, srv, "publish", "--repo", "acme/roadmap", "--tasks", path, "--dry-run=false")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "issue tracker not configured")
}

func TestPreview(t *testing.T) {
	assert.Equal(t, "short", preview("  short  ", 10))
	assert.Equal(t, "first", preview("first\nsecond", 10))
	assert.Equal(t, "abc…", preview("abcdef", 3))
}
