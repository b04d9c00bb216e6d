package main

import (
	"bytes"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"net/url"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/schollz/progressbar/v3"
	"github.com/spf13/cobra"
)

var (
	ingestCorpus string
	ingestTitle  string

	searchCorpus string
	searchQuery  string
	searchK      int
)

func init() {
	ingestCmd.Flags().StringVar(&ingestCorpus, "corpus", "", "corpus id (default: file name without extension)")
	ingestCmd.Flags().StringVar(&ingestTitle, "title", "", "meeting title")

	searchCmd.Flags().StringVar(&searchCorpus, "corpus", "", "corpus id")
	searchCmd.Flags().StringVarP(&searchQuery, "query", "q", "", "search query")
	searchCmd.Flags().IntVarP(&searchK, "limit", "k", 5, "maximum results")
	_ = searchCmd.MarkFlagRequired("corpus")

	rootCmd.AddCommand(ingestCmd)
	rootCmd.AddCommand(searchCmd)
}

// ingestCmd uploads a notes file
var ingestCmd = &cobra.Command{
	Use:   "ingest <file>",
	Short: "Upload meeting notes as a corpus",
	Long: `Upload a text or markdown file to minutesd. The file is segmented into
passages and indexed. Re-ingesting a corpus id replaces its passages.

Examples:
  minutes ingest standup-0412.md
  minutes ingest notes.txt --corpus weekly --title "Weekly sync"`,
	Args: cobra.ExactArgs(1),
	RunE: runIngest,
}

// IngestResponse matches internal/http IngestResponse
type IngestResponse struct {
	OK       bool   `json:"ok"`
	CorpusID string `json:"corpus_id"`
	Passages int    `json:"passages_indexed"`
}

func runIngest(cmd *cobra.Command, args []string) error {
	path := args[0]
	f, err := os.Open(path)
	if err != nil {
		return fmt.Errorf("failed to open %s: %w", path, err)
	}
	defer f.Close()

	info, err := f.Stat()
	if err != nil {
		return fmt.Errorf("failed to stat %s: %w", path, err)
	}

	var src io.Reader = f
	if interactive() {
		bar := progressbar.DefaultBytes(info.Size(), "reading")
		r := progressbar.NewReader(f, bar)
		src = &r
		defer func() { _ = bar.Finish() }()
	}

	body, contentType, err := multipartBody(filepath.Base(path), src, map[string]string{
		"corpus_id": ingestCorpus,
		"title":     ingestTitle,
	})
	if err != nil {
		return err
	}

	c := newClient()
	req, err := http.NewRequestWithContext(cmd.Context(), http.MethodPost, c.base+"/api/v1/corpora", body)
	if err != nil {
		return fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Content-Type", contentType)

	var resp IngestResponse
	if err := c.do(req, &resp); err != nil {
		return err
	}
	fmt.Fprintf(cmd.OutOrStdout(), "Indexed %d passages into corpus %s\n", resp.Passages, resp.CorpusID)
	return nil
}

// multipartBody builds a form with the file part and non-empty fields.
func multipartBody(filename string, src io.Reader, fields map[string]string) (*bytes.Buffer, string, error) {
	var buf bytes.Buffer
	w := multipart.NewWriter(&buf)
	for k, v := range fields {
		if v == "" {
			continue
		}
		if err := w.WriteField(k, v); err != nil {
			return nil, "", fmt.Errorf("failed to write field %s: %w", k, err)
		}
	}
	part, err := w.CreateFormFile("file", filename)
	if err != nil {
		return nil, "", fmt.Errorf("failed to create form file: %w", err)
	}
	if _, err := io.Copy(part, src); err != nil {
		return nil, "", fmt.Errorf("failed to read %s: %w", filename, err)
	}
	if err := w.Close(); err != nil {
		return nil, "", fmt.Errorf("failed to finish form: %w", err)
	}
	return &buf, w.FormDataContentType(), nil
}

// searchCmd runs a similarity search
var searchCmd = &cobra.Command{
	Use:   "search",
	Short: "Search the passages of a corpus",
	Long: `Rank the passages of a corpus by similarity to a query.

Examples:
  minutes search --corpus weekly -q "release date"
  minutes search --corpus weekly -q "who owns the migration" -k 3`,
	RunE: runSearch,
}

// SearchResult matches corpus.SearchResult
type SearchResult struct {
	ID         string  `json:"id"`
	Score      float32 `json:"score"`
	LocalIndex int     `json:"local_index"`
	Text       string  `json:"text"`
}

func runSearch(cmd *cobra.Command, args []string) error {
	q := url.Values{}
	q.Set("corpus_id", searchCorpus)
	q.Set("q", searchQuery)
	q.Set("k", strconv.Itoa(searchK))

	var resp struct {
		Results []SearchResult `json:"results"`
	}
	if err := newClient().get(cmd.Context(), "/api/v1/search", q, &resp); err != nil {
		return err
	}

	out := cmd.OutOrStdout()
	if len(resp.Results) == 0 {
		fmt.Fprintln(out, "No passages found")
		return nil
	}
	for _, r := range resp.Results {
		fmt.Fprintf(out, "#%-3d %.3f  %s\n", r.LocalIndex, r.Score, preview(r.Text, 100))
	}
	return nil
}

// preview returns the first line of s, cut to n runes.
func preview(s string, n int) string {
	line, _, _ := strings.Cut(strings.TrimSpace(s), "\n")
	r := []rune(line)
	if len(r) <= n {
		return line
	}
	return string(r[:n]) + "…"
}
