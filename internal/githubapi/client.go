// Package githubapi provides a small GitHub REST client used to report
// pipeline run outcomes as commit statuses.
package githubapi

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/conveyorci/conveyor/internal/store"
)

const defaultBaseURL = "https://api.github.com"

// Client posts commit statuses for a single repository.
type Client struct {
	logger        *slog.Logger
	httpClient    *http.Client
	baseURL       string
	token         string
	repo          string
	statusContext string
}

// Option customizes client construction.
type Option func(*Client)

// WithHTTPClient injects a custom HTTP client (for testing).
func WithHTTPClient(hc *http.Client) Option {
	return func(c *Client) { c.httpClient = hc }
}

// WithBaseURL overrides the API base URL (for testing or GHE).
func WithBaseURL(url string) Option {
	return func(c *Client) { c.baseURL = strings.TrimRight(url, "/") }
}

// NewClient validates the repository slug and builds a client.
func NewClient(logger *slog.Logger, token, repo, statusContext string, opts ...Option) (*Client, error) {
	repo = strings.TrimSpace(repo)
	if repo == "" {
		return nil, fmt.Errorf("repository is empty")
	}
	parts := strings.Split(repo, "/")
	if len(parts) != 2 || strings.TrimSpace(parts[0]) == "" || strings.TrimSpace(parts[1]) == "" {
		return nil, fmt.Errorf("invalid repository slug %q, expected owner/repo", repo)
	}
	if strings.TrimSpace(token) == "" {
		return nil, fmt.Errorf("github token is empty")
	}
	if statusContext == "" {
		statusContext = "conveyor"
	}

	c := &Client{
		logger:        logger,
		httpClient:    &http.Client{Timeout: 30 * time.Second},
		baseURL:       defaultBaseURL,
		token:         token,
		repo:          repo,
		statusContext: statusContext,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c, nil
}

// NotifyRunFinished reports the run's final state as a commit status. Runs
// without a commit SHA (manual runs) are skipped.
func (c *Client) NotifyRunFinished(ctx context.Context, run *store.RunRecord) error {
	if run == nil || run.Commit == "" {
		return nil
	}

	status := CommitStatus{
		State:       stateForRun(run.State),
		Description: descriptionForRun(run),
		Context:     c.statusContext,
	}
	if err := c.createStatus(ctx, run.Commit, status); err != nil {
		return err
	}
	c.logger.Debug("commit status posted", "repo", c.repo, "commit", run.Commit, "state", status.State)
	return nil
}

func (c *Client) createStatus(ctx context.Context, sha string, status CommitStatus) error {
	payload, err := json.Marshal(status)
	if err != nil {
		return fmt.Errorf("marshal commit status: %w", err)
	}

	url := fmt.Sprintf("%s/repos/%s/statuses/%s", c.baseURL, c.repo, sha)
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(payload))
	if err != nil {
		return fmt.Errorf("build status request: %w", err)
	}
	req.Header.Set("Accept", "application/vnd.github+json")
	req.Header.Set("Authorization", "Bearer "+c.token)
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("post commit status: %w", err)
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode != http.StatusCreated {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		return fmt.Errorf("post commit status: unexpected status %d: %s", resp.StatusCode, strings.TrimSpace(string(body)))
	}
	return nil
}

func stateForRun(state store.RunState) string {
	switch state {
	case store.RunSucceeded:
		return "success"
	case store.RunPending, store.RunRunning:
		return "pending"
	default:
		return "failure"
	}
}

func descriptionForRun(run *store.RunRecord) string {
	switch run.State {
	case store.RunSucceeded:
		return fmt.Sprintf("conveyor run %s succeeded", shortID(run.ID))
	case store.RunTimedOut:
		return fmt.Sprintf("conveyor run %s timed out", shortID(run.ID))
	default:
		return fmt.Sprintf("conveyor run %s failed", shortID(run.ID))
	}
}

func shortID(id string) string {
	if len(id) > 8 {
		return id[:8]
	}
	return id
}
