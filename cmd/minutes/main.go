// Package main implements the minutes CLI. Most commands talk to a running
// minutesd over HTTP; mcp serves the tools over stdio in process.
package main

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"os"
	"strings"
	"time"

	"github.com/spf13/cobra"
	"golang.org/x/term"
)

var (
	// serverURL is the base URL of the minutesd HTTP server
	serverURL string
	// timeout bounds non-streaming requests
	timeout time.Duration
	// version information
	version = "dev"
)

func main() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

var rootCmd = &cobra.Command{
	Use:   "minutes",
	Short: "Turn meeting notes into tracked issues",
	Long: `minutes is a command-line interface for the minutesd server.

It uploads meeting notes, searches them, extracts action items and
publishes them as GitHub issues.`,
	Version:      version,
	SilenceUsage: true,
}

func init() {
	rootCmd.PersistentFlags().StringVar(&serverURL, "server", envOr("MINUTES_SERVER", "http://127.0.0.1:8000"), "minutesd server URL")
	rootCmd.PersistentFlags().DurationVar(&timeout, "timeout", 5*time.Minute, "request timeout")
	rootCmd.AddCommand(healthCmd)
}

// healthCmd checks server health
var healthCmd = &cobra.Command{
	Use:   "health",
	Short: "Check minutesd server health",
	Long: `Check the health status of the minutesd HTTP server.

Examples:
  minutes health
  minutes health --server http://localhost:9000`,
	RunE: runHealth,
}

// HealthResponse matches internal/http HealthResponse
type HealthResponse struct {
	Status string `json:"status"`
	Index  string `json:"index"`
}

func runHealth(cmd *cobra.Command, args []string) error {
	var health HealthResponse
	if err := newClient().get(cmd.Context(), "/health", nil, &health); err != nil {
		return err
	}
	fmt.Fprintf(cmd.OutOrStdout(), "Server Status: %s\n", health.Status)
	fmt.Fprintf(cmd.OutOrStdout(), "Index:         %s\n", health.Index)
	fmt.Fprintf(cmd.OutOrStdout(), "Server URL:    %s\n", serverURL)
	return nil
}

// client calls the minutesd HTTP API.
type client struct {
	base string
	http *http.Client
}

func newClient() *client {
	return &client{
		base: strings.TrimRight(serverURL, "/"),
		http: &http.Client{Timeout: timeout},
	}
}

// streamingClient has no overall timeout; the stream ends with the session.
func newStreamingClient() *client {
	c := newClient()
	c.http = &http.Client{}
	return c
}

func (c *client) get(ctx context.Context, path string, q url.Values, out any) error {
	u := c.base + path
	if len(q) > 0 {
		u += "?" + q.Encode()
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u, nil)
	if err != nil {
		return fmt.Errorf("failed to create request: %w", err)
	}
	return c.do(req, out)
}

func (c *client) postJSON(ctx context.Context, path string, in, out any) error {
	body, err := json.Marshal(in)
	if err != nil {
		return fmt.Errorf("failed to marshal request: %w", err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.base+path, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	return c.do(req, out)
}

func (c *client) do(req *http.Request, out any) error {
	resp, err := c.http.Do(req)
	if err != nil {
		return fmt.Errorf("failed to send request to %s: %w", req.URL, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return apiError(resp)
	}
	if out == nil {
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("failed to decode response: %w", err)
	}
	return nil
}

// apiError turns a non-200 response into an error carrying the server's
// message when it sent one.
func apiError(resp *http.Response) error {
	body, err := io.ReadAll(io.LimitReader(resp.Body, 64<<10))
	if err != nil {
		return fmt.Errorf("server returned status %d (failed to read response body: %w)", resp.StatusCode, err)
	}
	var payload struct {
		Error  string `json:"error"`
		Where  string `json:"where"`
		Status int    `json:"status"`
		Text   string `json:"text"`
	}
	if json.Unmarshal(body, &payload) == nil {
		switch {
		case payload.Error != "":
			return fmt.Errorf("server returned status %d: %s", resp.StatusCode, payload.Error)
		case payload.Where != "":
			return fmt.Errorf("server returned status %d: %s failed with status %d: %s",
				resp.StatusCode, payload.Where, payload.Status, payload.Text)
		}
	}
	return fmt.Errorf("server returned status %d: %s", resp.StatusCode, strings.TrimSpace(string(body)))
}

func envOr(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}

// interactive reports whether progress bars should be drawn.
func interactive() bool {
	return term.IsTerminal(int(os.Stderr.Fd()))
}
