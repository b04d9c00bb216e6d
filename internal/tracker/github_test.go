package tracker

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/fyrsmithlabs/minutes/internal/config"
)

func newTestTracker(t *testing.T, mux *http.ServeMux) *GitHubTracker {
	t.Helper()
	srv := httptest.NewServer(mux)
	t.Cleanup(srv.Close)

	tr, err := NewGitHubTracker(context.Background(), config.TrackerConfig{
		Token:   config.Secret("test-token"),
		BaseURL: srv.URL,
	}, zap.NewNop())
	require.NoError(t, err)
	return tr
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

var target = Target{Owner: "acme", Repo: "roadmap"}

func TestParseTarget(t *testing.T) {
	tests := []struct {
		in      string
		want    Target
		wantErr bool
	}{
		{in: "acme/roadmap", want: Target{Owner: "acme", Repo: "roadmap"}},
		{in: " my-org/repo.name_2 ", want: Target{Owner: "my-org", Repo: "repo.name_2"}},
		{in: "acme", wantErr: true},
		{in: "acme/roadmap/extra", wantErr: true},
		{in: "acme/road map", wantErr: true},
		{in: "", wantErr: true},
		{in: "/roadmap", wantErr: true},
	}
	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			got, err := ParseTarget(tt.in)
			if tt.wantErr {
				assert.ErrorIs(t, err, ErrInvalidTarget)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
			assert.Equal(t, tt.want.Owner+"/"+tt.want.Repo, got.String())
		})
	}
}

func TestNewGitHubTracker_RequiresToken(t *testing.T) {
	_, err := NewGitHubTracker(context.Background(), config.TrackerConfig{}, nil)
	assert.ErrorIs(t, err, ErrNotConfigured)
}

func TestEnsureLabels_CreatesOnlyMissing(t *testing.T) {
	var mu sync.Mutex
	var created []map[string]string

	mux := http.NewServeMux()
	mux.HandleFunc("/repos/acme/roadmap/labels", func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "Bearer test-token", r.Header.Get("Authorization"))
		switch r.Method {
		case http.MethodGet:
			writeJSON(w, http.StatusOK, []map[string]any{{"name": "Meeting-Action"}, {"name": "bug"}})
		case http.MethodPost:
			var body map[string]string
			require.NoError(t, json.NewDecoder(r.Body).Decode(&body))
			mu.Lock()
			created = append(created, body)
			mu.Unlock()
			if body["name"] == "racy" {
				writeJSON(w, http.StatusUnprocessableEntity, map[string]any{
					"message": "Validation Failed",
					"errors":  []map[string]string{{"resource": "Label", "code": "already_exists", "field": "name"}},
				})
				return
			}
			writeJSON(w, http.StatusCreated, body)
		}
	})
	tr := newTestTracker(t, mux)

	err := tr.EnsureLabels(context.Background(), target, []string{"meeting-action", "infra", "racy", " "})
	require.NoError(t, err)

	mu.Lock()
	defer mu.Unlock()
	require.Len(t, created, 2)
	assert.Equal(t, "infra", created[0]["name"])
	assert.Equal(t, DefaultLabelColor, created[0]["color"])
	assert.Equal(t, LabelDescription, created[0]["description"])
	assert.Equal(t, "racy", created[1]["name"])
}

func TestEnsureLabels_AuthFailureIsTransport(t *testing.T) {
	mux := http.NewServeMux()
	mux.HandleFunc("/repos/acme/roadmap/labels", func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusUnauthorized, map[string]string{"message": "Bad credentials"})
	})
	tr := newTestTracker(t, mux)

	err := tr.EnsureLabels(context.Background(), target, []string{"x"})
	var te *TransportError
	require.ErrorAs(t, err, &te)
	assert.Equal(t, http.StatusUnauthorized, te.Status)
	assert.Contains(t, te.Body, "Bad credentials")
	assert.True(t, IsTransport(err))
}

func TestCreateIssue(t *testing.T) {
	mux := http.NewServeMux()
	mux.HandleFunc("/repos/acme/roadmap/issues", func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, http.MethodPost, r.Method)
		var body struct {
			Title     string   `json:"title"`
			Body      string   `json:"body"`
			Labels    []string `json:"labels"`
			Assignees []string `json:"assignees"`
		}
		require.NoError(t, json.NewDecoder(r.Body).Decode(&body))
		assert.Equal(t, "Send report", body.Title)
		assert.Equal(t, []string{"meeting-action"}, body.Labels)
		assert.Equal(t, []string{"alice"}, body.Assignees)
		writeJSON(w, http.StatusCreated, map[string]any{
			"number":   42,
			"html_url": "https://github.com/acme/roadmap/issues/42",
			"title":    body.Title,
		})
	})
	tr := newTestTracker(t, mux)

	issue, err := tr.CreateIssue(context.Background(), target, NewIssue{
		Title: "Send report", Body: "body", Labels: []string{"meeting-action"}, Assignee: "alice",
	})
	require.NoError(t, err)
	assert.Equal(t, Issue{Number: 42, URL: "https://github.com/acme/roadmap/issues/42", Title: "Send report"}, issue)
}

func TestCreateIssue_ErrorClassification(t *testing.T) {
	tests := []struct {
		name      string
		status    int
		payload   map[string]any
		assignee  bool
		transport bool
		rejected  bool
	}{
		{
			name:   "invalid assignee",
			status: http.StatusUnprocessableEntity,
			payload: map[string]any{
				"message": "Validation Failed",
				"errors":  []map[string]string{{"resource": "Issue", "field": "assignees", "code": "invalid", "value": "ghost"}},
			},
			assignee: true,
		},
		{
			name:   "other validation failure",
			status: http.StatusUnprocessableEntity,
			payload: map[string]any{
				"message": "Validation Failed",
				"errors":  []map[string]string{{"resource": "Issue", "field": "title", "code": "missing_field"}},
			},
			rejected: true,
		},
		{
			name:   "assignee named in message",
			status: http.StatusUnprocessableEntity,
			payload: map[string]any{
				"message": "Validation Failed",
				"errors":  []map[string]string{{"resource": "Issue", "code": "custom", "message": "ghost is not a valid assignee"}},
			},
			assignee: true,
		},
		{
			name:      "not found",
			status:    http.StatusNotFound,
			payload:   map[string]any{"message": "Not Found"},
			transport: true,
		},
		{
			name:      "gone",
			status:    http.StatusGone,
			payload:   map[string]any{"message": "Issues are disabled for this repo"},
			transport: true,
		},
		{
			name:      "forbidden",
			status:    http.StatusForbidden,
			payload:   map[string]any{"message": "Resource not accessible by integration"},
			transport: true,
		},
		{
			name:      "server error",
			status:    http.StatusBadGateway,
			payload:   map[string]any{"message": "Server Error"},
			transport: true,
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			mux := http.NewServeMux()
			mux.HandleFunc("/repos/acme/roadmap/issues", func(w http.ResponseWriter, r *http.Request) {
				writeJSON(w, tt.status, tt.payload)
			})
			tr := newTestTracker(t, mux)

			_, err := tr.CreateIssue(context.Background(), target, NewIssue{Title: "t", Assignee: "ghost"})
			require.Error(t, err)
			assert.Equal(t, tt.assignee, errors.Is(err, ErrInvalidAssignee))
			assert.Equal(t, tt.transport, IsTransport(err))

			var re *RejectedError
			assert.Equal(t, tt.rejected, errors.As(err, &re))
			if tt.transport {
				var te *TransportError
				require.ErrorAs(t, err, &te)
				assert.Equal(t, tt.status, te.Status)
			}
		})
	}
}

func TestCreateIssue_NetworkFailureIsTransport(t *testing.T) {
	srv := httptest.NewServer(http.NotFoundHandler())
	url := srv.URL
	srv.Close()

	tr, err := NewGitHubTracker(context.Background(), config.TrackerConfig{
		Token: config.Secret("t"), BaseURL: url,
	}, nil)
	require.NoError(t, err)

	_, err = tr.CreateIssue(context.Background(), target, NewIssue{Title: "t"})
	var te *TransportError
	require.ErrorAs(t, err, &te)
	assert.Equal(t, 0, te.Status)
}

func TestFindByFingerprint(t *testing.T) {
	mux := http.NewServeMux()
	mux.HandleFunc("/repos/acme/roadmap/issues", func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "open", r.URL.Query().Get("state"))
		page := r.URL.Query().Get("page")
		if page == "" || page == "1" {
			w.Header().Set("Link", fmt.Sprintf(`<http://%s/repos/acme/roadmap/issues?page=2>; rel="next"`, r.Host))
			writeJSON(w, http.StatusOK, []map[string]any{
				{"number": 1, "title": "PR", "body": "fingerprint=abc123def456", "pull_request": map[string]any{"url": "x"}},
				{"number": 2, "title": "Other", "body": "fingerprint=000000000000"},
			})
			return
		}
		writeJSON(w, http.StatusOK, []map[string]any{
			{"number": 7, "title": "Send report", "html_url": "https://github.com/acme/roadmap/issues/7",
				"body": "text\n\n<!-- minutes:corpus=m1 fingerprint=abc123def456 -->"},
		})
	})
	tr := newTestTracker(t, mux)

	found, err := tr.FindByFingerprint(context.Background(), target, "abc123def456")
	require.NoError(t, err)
	require.NotNil(t, found)
	assert.Equal(t, 7, found.Number)
	assert.Equal(t, "Send report", found.Title)

	missing, err := tr.FindByFingerprint(context.Background(), target, "ffffffffffff")
	require.NoError(t, err)
	assert.Nil(t, missing)
}

func TestTransportError_Message(t *testing.T) {
	err := &TransportError{Status: 503, Body: "unavailable"}
	assert.True(t, strings.Contains(err.Error(), "503"))
	assert.Equal(t, "tracker transport error: dial failed", (&TransportError{Body: "dial failed"}).Error())
}
