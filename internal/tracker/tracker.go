// Package tracker creates issues in an external tracker and finds issues
// created by earlier publish runs.
package tracker

import (
	"context"
	"errors"
	"fmt"
	"regexp"
	"strings"
)

var (
	// ErrInvalidTarget is returned for target strings that are not owner/repo.
	ErrInvalidTarget = errors.New("invalid tracker target")

	// ErrInvalidAssignee marks a create rejected because of its assignee.
	ErrInvalidAssignee = errors.New("assignee rejected by tracker")

	// ErrNotConfigured is returned when no tracker credentials are set.
	ErrNotConfigured = errors.New("tracker not configured")
)

var targetPattern = regexp.MustCompile(`^[A-Za-z0-9_.-]+/[A-Za-z0-9_.-]+$`)

// Target names a repository.
type Target struct {
	Owner string
	Repo  string
}

// ParseTarget parses "owner/repo".
func ParseTarget(s string) (Target, error) {
	s = strings.TrimSpace(s)
	if !targetPattern.MatchString(s) {
		return Target{}, fmt.Errorf("%w: %q, want owner/repo", ErrInvalidTarget, s)
	}
	owner, repo, _ := strings.Cut(s, "/")
	return Target{Owner: owner, Repo: repo}, nil
}

func (t Target) String() string {
	return t.Owner + "/" + t.Repo
}

// Issue is a created or found tracker item.
type Issue struct {
	Number int    `json:"number"`
	URL    string `json:"url"`
	Title  string `json:"title"`
}

// NewIssue is the create payload. An empty Assignee creates the issue
// unassigned.
type NewIssue struct {
	Title    string
	Body     string
	Labels   []string
	Assignee string
}

// IssueTracker is the tracker surface the publisher depends on.
type IssueTracker interface {
	// EnsureLabels creates any of labels missing on target. Labels that
	// already exist are not an error.
	EnsureLabels(ctx context.Context, target Target, labels []string) error

	// CreateIssue creates one issue.
	CreateIssue(ctx context.Context, target Target, issue NewIssue) (Issue, error)

	// FindByFingerprint returns the open issue whose body carries the
	// fingerprint marker, or nil when there is none.
	FindByFingerprint(ctx context.Context, target Target, fingerprint string) (*Issue, error)
}

// TransportError is a tracker failure unrelated to the submitted item:
// network errors, authentication, rate limiting and server errors. Status is
// 0 when no response was received.
type TransportError struct {
	Status int
	Body   string
	Err    error
}

func (e *TransportError) Error() string {
	if e.Status == 0 {
		return fmt.Sprintf("tracker transport error: %s", e.Body)
	}
	return fmt.Sprintf("tracker transport error (status %d): %s", e.Status, e.Body)
}

func (e *TransportError) Unwrap() error {
	return e.Err
}

// RejectedError is a per-item rejection, such as a 422 for an invalid
// title. The batch can continue after it.
type RejectedError struct {
	Status  int
	Message string
}

func (e *RejectedError) Error() string {
	return fmt.Sprintf("tracker rejected request (status %d): %s", e.Status, e.Message)
}

// IsTransport reports whether err is a *TransportError.
func IsTransport(err error) bool {
	var te *TransportError
	return errors.As(err, &te)
}

// FingerprintToken is the body substring that identifies fp.
func FingerprintToken(fp string) string {
	return "fingerprint=" + fp
}
