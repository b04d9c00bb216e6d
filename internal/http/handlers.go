package http

import (
	"errors"
	"io"
	"net/http"
	"strconv"
	"strings"

	"github.com/labstack/echo/v4"
	"go.uber.org/zap"

	"github.com/fyrsmithlabs/minutes/internal/corpus"
	"github.com/fyrsmithlabs/minutes/internal/extraction"
	"github.com/fyrsmithlabs/minutes/internal/logging"
	"github.com/fyrsmithlabs/minutes/internal/publisher"
	"github.com/fyrsmithlabs/minutes/internal/sanitize"
	"github.com/fyrsmithlabs/minutes/internal/tracker"
)

// HealthResponse is the response body for GET /health.
type HealthResponse struct {
	Status string `json:"status"`
	Index  string `json:"index"`
}

// IngestRequest is the JSON form of POST /api/v1/corpora.
type IngestRequest struct {
	CorpusID string `json:"corpus_id"`
	Title    string `json:"title"`
	Text     string `json:"text"`
}

// IngestResponse is the response body for POST /api/v1/corpora.
type IngestResponse struct {
	OK       bool   `json:"ok"`
	CorpusID string `json:"corpus_id"`
	Passages int    `json:"passages_indexed"`
}

// CorporaResponse is the response body for GET /api/v1/corpora.
type CorporaResponse struct {
	Corpora []corpus.Corpus `json:"corpora"`
}

// SearchResponse is the response body for GET /api/v1/search.
type SearchResponse struct {
	Results []corpus.SearchResult `json:"results"`
}

// TasksRequest is the body of POST /api/v1/tasks and /api/v1/tasks/stream.
type TasksRequest struct {
	CorpusID string `json:"corpus_id"`
	Query    string `json:"q"`
	K        int    `json:"k"`
}

// TasksResponse is the response body for POST /api/v1/tasks.
type TasksResponse struct {
	Tasks      []extraction.Task `json:"tasks"`
	Mode       string            `json:"mode"`
	Candidates []int             `json:"candidates"`
}

// IssuesResponse is the response body for POST /api/v1/issues.
type IssuesResponse struct {
	Created []publisher.Item `json:"created"`
}

// PreviewResponse is the response body for POST /api/v1/issues/preview.
type PreviewResponse struct {
	WouldCreate []publisher.Item `json:"would_create"`
}

// ErrorResponse is the body of 4xx and 5xx answers.
type ErrorResponse struct {
	Error string `json:"error"`
}

// TrackerErrorResponse is the 502 body for tracker transport failures.
type TrackerErrorResponse struct {
	Where  string `json:"where"`
	Status int    `json:"status"`
	Text   string `json:"text"`
}

func (s *Server) handleHealth(c echo.Context) error {
	return c.JSON(http.StatusOK, HealthResponse{Status: "ok", Index: s.svc.IndexBackend})
}

// handleIngest accepts either multipart (file, corpus_id, title) or JSON.
// A multipart upload without corpus_id uses the file name without extension.
func (s *Server) handleIngest(c echo.Context) error {
	var req IngestRequest
	if strings.HasPrefix(c.Request().Header.Get(echo.HeaderContentType), echo.MIMEMultipartForm) {
		fh, err := c.FormFile("file")
		if err != nil {
			return c.JSON(http.StatusBadRequest, ErrorResponse{Error: "file field is required"})
		}
		f, err := fh.Open()
		if err != nil {
			return c.JSON(http.StatusBadRequest, ErrorResponse{Error: "unreadable upload"})
		}
		defer f.Close()
		data, err := io.ReadAll(f)
		if err != nil {
			return c.JSON(http.StatusBadRequest, ErrorResponse{Error: "unreadable upload"})
		}
		req.CorpusID = c.FormValue("corpus_id")
		req.Title = c.FormValue("title")
		req.Text = strings.ToValidUTF8(string(data), "")
		if req.CorpusID == "" {
			if req.CorpusID, err = sanitize.FileStem(fh.Filename); err != nil {
				return c.JSON(http.StatusBadRequest, ErrorResponse{Error: "corpus_id is required for this file name"})
			}
		}
	} else if err := c.Bind(&req); err != nil {
		return c.JSON(http.StatusBadRequest, ErrorResponse{Error: "invalid request body"})
	}

	res, err := s.svc.Corpus.Ingest(c.Request().Context(), req.CorpusID, req.Title, req.Text)
	if err != nil {
		return s.fail(c, err)
	}
	return c.JSON(http.StatusOK, IngestResponse{OK: true, CorpusID: res.CorpusID, Passages: res.Passages})
}

func (s *Server) handleListCorpora(c echo.Context) error {
	list, err := s.svc.Corpus.Corpora(c.Request().Context())
	if err != nil {
		return s.fail(c, err)
	}
	if list == nil {
		list = []corpus.Corpus{}
	}
	return c.JSON(http.StatusOK, CorporaResponse{Corpora: list})
}

func (s *Server) handleSearch(c echo.Context) error {
	k := extraction.DefaultK
	if raw := c.QueryParam("k"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil {
			return c.JSON(http.StatusBadRequest, ErrorResponse{Error: "k must be an integer"})
		}
		k = n
	}

	results, err := s.svc.Corpus.Search(c.Request().Context(), c.QueryParam("corpus_id"), c.QueryParam("q"), k)
	if err != nil {
		return s.fail(c, err)
	}
	if results == nil {
		results = []corpus.SearchResult{}
	}
	return c.JSON(http.StatusOK, SearchResponse{Results: results})
}

func (s *Server) handleTasks(c echo.Context) error {
	var req TasksRequest
	if err := c.Bind(&req); err != nil {
		return c.JSON(http.StatusBadRequest, ErrorResponse{Error: "invalid request body"})
	}

	res, err := s.svc.Orchestrator.Extract(c.Request().Context(), req.CorpusID, req.Query, req.K)
	if err != nil {
		return s.fail(c, err)
	}
	return c.JSON(http.StatusOK, TasksResponse{Tasks: res.Tasks, Mode: res.Mode, Candidates: res.Candidates})
}

func (s *Server) handleIssues(c echo.Context) error {
	if s.svc.Publisher == nil {
		return s.fail(c, tracker.ErrNotConfigured)
	}
	var batch publisher.Batch
	if err := c.Bind(&batch); err != nil {
		return c.JSON(http.StatusBadRequest, ErrorResponse{Error: "invalid request body"})
	}

	report, err := s.svc.Publisher.Publish(c.Request().Context(), batch)
	if err != nil {
		return s.fail(c, err)
	}
	return c.JSON(http.StatusOK, IssuesResponse{Created: report.Items})
}

func (s *Server) handleIssuesPreview(c echo.Context) error {
	if s.svc.Publisher == nil {
		return s.fail(c, tracker.ErrNotConfigured)
	}
	var batch publisher.Batch
	if err := c.Bind(&batch); err != nil {
		return c.JSON(http.StatusBadRequest, ErrorResponse{Error: "invalid request body"})
	}

	report, err := s.svc.Publisher.Preview(c.Request().Context(), batch)
	if err != nil {
		return s.fail(c, err)
	}
	return c.JSON(http.StatusOK, PreviewResponse{WouldCreate: report.Items})
}

// fail maps domain errors to status codes: validation is 400, tracker
// transport failures are 502, a missing tracker is 503.
func (s *Server) fail(c echo.Context, err error) error {
	var te *tracker.TransportError
	switch {
	case isValidation(err):
		return c.JSON(http.StatusBadRequest, ErrorResponse{Error: err.Error()})
	case errors.As(err, &te):
		logging.For(c.Request().Context(), s.logger).Warn("tracker transport failure",
			zap.Int("status", te.Status), zap.Error(err))
		return c.JSON(http.StatusBadGateway, TrackerErrorResponse{Where: "tracker", Status: te.Status, Text: te.Body})
	case errors.Is(err, tracker.ErrNotConfigured):
		return c.JSON(http.StatusServiceUnavailable, ErrorResponse{Error: err.Error()})
	default:
		logging.For(c.Request().Context(), s.logger).Error("request failed", zap.Error(err))
		return c.JSON(http.StatusInternalServerError, ErrorResponse{Error: "internal error"})
	}
}

func isValidation(err error) bool {
	return errors.Is(err, corpus.ErrValidation) ||
		errors.Is(err, extraction.ErrValidation) ||
		errors.Is(err, publisher.ErrValidation)
}
