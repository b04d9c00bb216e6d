package tracker

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/google/go-github/v57/github"
	"go.uber.org/zap"
	"golang.org/x/oauth2"

	"github.com/fyrsmithlabs/minutes/internal/config"
)

const (
	// DefaultLabelColor is applied to labels the tracker creates.
	DefaultLabelColor = "ededed"

	// LabelDescription marks labels created by publishing.
	LabelDescription = "auto-created by minutes"

	// maxScanPages bounds the open-issue scan in FindByFingerprint.
	maxScanPages = 10
)

// GitHubTracker implements IssueTracker against the GitHub REST API.
type GitHubTracker struct {
	client     *github.Client
	labelColor string
	logger     *zap.Logger
}

var _ IssueTracker = (*GitHubTracker)(nil)

// NewGitHubTracker creates a tracker authenticated with cfg.Token. BaseURL
// overrides the API root for GitHub Enterprise or tests.
func NewGitHubTracker(ctx context.Context, cfg config.TrackerConfig, logger *zap.Logger) (*GitHubTracker, error) {
	if !cfg.Token.IsSet() {
		return nil, fmt.Errorf("%w: tracker.token is empty", ErrNotConfigured)
	}
	if logger == nil {
		logger = zap.NewNop()
	}

	ts := oauth2.StaticTokenSource(&oauth2.Token{AccessToken: cfg.Token.Value()})
	tc := oauth2.NewClient(ctx, ts)
	tc.Timeout = cfg.Timeout
	if tc.Timeout == 0 {
		tc.Timeout = 30 * time.Second
	}

	client := github.NewClient(tc)
	if cfg.BaseURL != "" {
		base := cfg.BaseURL
		if !strings.HasSuffix(base, "/") {
			base += "/"
		}
		u, err := url.Parse(base)
		if err != nil {
			return nil, fmt.Errorf("parsing tracker base url: %w", err)
		}
		client.BaseURL = u
	}

	color := strings.TrimPrefix(cfg.LabelColor, "#")
	if color == "" {
		color = DefaultLabelColor
	}
	return &GitHubTracker{client: client, labelColor: color, logger: logger}, nil
}

// EnsureLabels lists the repository labels and creates the missing ones.
// Names compare case-insensitively, as GitHub does.
func (g *GitHubTracker) EnsureLabels(ctx context.Context, target Target, labels []string) error {
	if len(labels) == 0 {
		return nil
	}

	existing := make(map[string]bool)
	opts := &github.ListOptions{PerPage: 100}
	for {
		page, resp, err := g.client.Issues.ListLabels(ctx, target.Owner, target.Repo, opts)
		if err != nil {
			return classify("list labels", resp, err)
		}
		for _, l := range page {
			existing[strings.ToLower(l.GetName())] = true
		}
		if resp.NextPage == 0 {
			break
		}
		opts.Page = resp.NextPage
	}

	for _, name := range labels {
		name = strings.TrimSpace(name)
		if name == "" || existing[strings.ToLower(name)] {
			continue
		}
		_, resp, err := g.client.Issues.CreateLabel(ctx, target.Owner, target.Repo, &github.Label{
			Name:        github.String(name),
			Color:       github.String(g.labelColor),
			Description: github.String(LabelDescription),
		})
		if err != nil {
			if resp != nil && resp.Response != nil && resp.StatusCode == http.StatusUnprocessableEntity {
				// Created concurrently.
				existing[strings.ToLower(name)] = true
				continue
			}
			return classify("create label", resp, err)
		}
		existing[strings.ToLower(name)] = true
		g.logger.Info("created label", zap.String("target", target.String()), zap.String("label", name))
	}
	return nil
}

// CreateIssue creates an issue. A 422 naming the assignee is reported as
// ErrInvalidAssignee.
func (g *GitHubTracker) CreateIssue(ctx context.Context, target Target, in NewIssue) (Issue, error) {
	req := &github.IssueRequest{
		Title: github.String(in.Title),
		Body:  github.String(in.Body),
	}
	if len(in.Labels) > 0 {
		labels := append([]string(nil), in.Labels...)
		req.Labels = &labels
	}
	if in.Assignee != "" {
		req.Assignees = &[]string{in.Assignee}
	}

	issue, resp, err := g.client.Issues.Create(ctx, target.Owner, target.Repo, req)
	if err != nil {
		return Issue{}, classify("create issue", resp, err)
	}
	return Issue{Number: issue.GetNumber(), URL: issue.GetHTMLURL(), Title: issue.GetTitle()}, nil
}

// FindByFingerprint scans open issues, newest first, for the fingerprint
// token. Pull requests are skipped.
func (g *GitHubTracker) FindByFingerprint(ctx context.Context, target Target, fingerprint string) (*Issue, error) {
	token := FingerprintToken(fingerprint)
	opts := &github.IssueListByRepoOptions{
		State:       "open",
		Sort:        "created",
		Direction:   "desc",
		ListOptions: github.ListOptions{PerPage: 100},
	}
	for page := 0; page < maxScanPages; page++ {
		issues, resp, err := g.client.Issues.ListByRepo(ctx, target.Owner, target.Repo, opts)
		if err != nil {
			return nil, classify("list issues", resp, err)
		}
		for _, is := range issues {
			if is.IsPullRequest() {
				continue
			}
			if strings.Contains(is.GetBody(), token) {
				return &Issue{Number: is.GetNumber(), URL: is.GetHTMLURL(), Title: is.GetTitle()}, nil
			}
		}
		if resp.NextPage == 0 {
			return nil, nil
		}
		opts.Page = resp.NextPage
	}
	g.logger.Warn("fingerprint scan stopped at page limit",
		zap.String("target", target.String()), zap.Int("pages", maxScanPages))
	return nil, nil
}

// classify maps go-github errors onto TransportError, ErrInvalidAssignee and
// RejectedError.
func classify(op string, resp *github.Response, err error) error {
	var rle *github.RateLimitError
	if errors.As(err, &rle) {
		return &TransportError{Status: statusOf(rle.Response, http.StatusForbidden), Body: rle.Message, Err: err}
	}
	var arle *github.AbuseRateLimitError
	if errors.As(err, &arle) {
		return &TransportError{Status: statusOf(arle.Response, http.StatusForbidden), Body: arle.Message, Err: err}
	}

	var er *github.ErrorResponse
	if !errors.As(err, &er) {
		status := 0
		if resp != nil && resp.Response != nil {
			status = resp.StatusCode
		}
		return &TransportError{Status: status, Body: fmt.Sprintf("%s: %v", op, err), Err: err}
	}

	status := statusOf(er.Response, 0)
	body := errorText(er)
	// Only a 422 is about the item itself; any other status means the
	// target or the connection is unusable for the whole batch.
	if status != http.StatusUnprocessableEntity {
		return &TransportError{Status: status, Body: fmt.Sprintf("%s: %s", op, body), Err: err}
	}
	if namesAssignee(er) {
		return fmt.Errorf("%s: %w: %s", op, ErrInvalidAssignee, body)
	}
	return &RejectedError{Status: status, Message: fmt.Sprintf("%s: %s", op, body)}
}

func statusOf(r *http.Response, fallback int) int {
	if r == nil {
		return fallback
	}
	return r.StatusCode
}

// namesAssignee reports whether a 422 blames the assignee, either through
// the error field or a custom error message.
func namesAssignee(er *github.ErrorResponse) bool {
	for _, e := range er.Errors {
		f := strings.ToLower(e.Field)
		if f == "assignee" || f == "assignees" {
			return true
		}
		if strings.Contains(strings.ToLower(e.Message), "assignee") {
			return true
		}
	}
	return false
}

func errorText(er *github.ErrorResponse) string {
	parts := []string{er.Message}
	for _, e := range er.Errors {
		detail := strings.TrimSpace(strings.Join([]string{e.Resource, e.Field, e.Code, e.Message}, " "))
		if detail != "" {
			parts = append(parts, detail)
		}
	}
	return strings.Join(parts, "; ")
}
