// Package orchd is a thin HTTP client for the orchd REST API.
package orchd

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"path"
	"strconv"
	"time"
)

// DefaultHTTPTimeout defines the timeout used by clients created without a
// custom http.Client.
const DefaultHTTPTimeout = 15 * time.Second

// Document formats accepted by SubmitDocument.
const (
	FormatJSON = "json"
	FormatYAML = "yaml"
)

// Client wraps the HTTP interactions with the orchd API.
type Client struct {
	baseURL    *url.URL
	httpClient *http.Client
}

// Failure describes where an orchestration stopped.
type Failure struct {
	Code      string `json:"code"`
	Message   string `json:"message"`
	LevelID   string `json:"level_id,omitempty"`
	TaskIndex *int   `json:"task_index,omitempty"`
	SubLevel  string `json:"sub_level,omitempty"`
}

// Level is the per-level view returned after a submission.
type Level struct {
	LevelID     string `json:"level_id"`
	Kind        string `json:"kind"`
	Tier        string `json:"tier"`
	Tasks       int    `json:"tasks"`
	Succeeded   int    `json:"succeeded"`
	DurationMS  int64  `json:"duration_ms"`
	Transcended bool   `json:"transcended,omitempty"`
	Chunks      int    `json:"chunks,omitempty"`
	Iterations  int    `json:"iterations,omitempty"`
}

// Result is the outcome of a submitted orchestration.
type Result struct {
	ID           string   `json:"id"`
	Success      bool     `json:"success"`
	QualityScore float64  `json:"quality_score"`
	Output       any      `json:"output,omitempty"`
	DurationMS   int64    `json:"duration_ms"`
	HistoryID    string   `json:"history_id,omitempty"`
	Levels       []Level  `json:"levels"`
	Error        *Failure `json:"error,omitempty"`
}

// HistoryEntry is one recorded orchestration. Levels is kept raw.
type HistoryEntry struct {
	ID              string          `json:"id"`
	OrchestrationID string          `json:"orchestration_id"`
	Description     string          `json:"description,omitempty"`
	Status          string          `json:"status"`
	Success         bool            `json:"success"`
	QualityScore    float64         `json:"quality_score"`
	ErrorCode       string          `json:"error_code,omitempty"`
	Error           string          `json:"error,omitempty"`
	Duration        time.Duration   `json:"duration"`
	Timestamp       time.Time       `json:"timestamp"`
	Levels          json.RawMessage `json:"levels,omitempty"`
}

// History is the response of the history endpoint.
type History struct {
	Source  string         `json:"source"`
	Entries []HistoryEntry `json:"entries"`
}

// Stats aggregates the in-memory history.
type Stats struct {
	Total       int     `json:"total"`
	Succeeded   int     `json:"succeeded"`
	Failed      int     `json:"failed"`
	Cancelled   int     `json:"cancelled"`
	MeanQuality float64 `json:"mean_quality"`
	FailureRate float64 `json:"failure_rate"`
	Evicted     uint64  `json:"evicted"`
}

// APIError represents a request the server rejected before execution.
type APIError struct {
	StatusCode int
	Code       string `json:"code"`
	Message    string `json:"message"`
}

func (e *APIError) Error() string {
	if e == nil {
		return ""
	}
	if e.Code != "" {
		return fmt.Sprintf("orchd api error (%d): %s - %s", e.StatusCode, e.Code, e.Message)
	}
	return fmt.Sprintf("orchd api error (%d): %s", e.StatusCode, e.Message)
}

// ExecutionError is returned when the orchestration ran but failed. Result
// carries the partial level results.
type ExecutionError struct {
	StatusCode int
	Result     Result
}

func (e *ExecutionError) Error() string {
	if e == nil || e.Result.Error == nil {
		return "orchd execution failed"
	}
	f := e.Result.Error
	if f.LevelID != "" {
		return fmt.Sprintf("orchd execution failed (%d): %s at level %s: %s", e.StatusCode, f.Code, f.LevelID, f.Message)
	}
	return fmt.Sprintf("orchd execution failed (%d): %s: %s", e.StatusCode, f.Code, f.Message)
}

// NewClient instantiates a client for the orchd API. When httpClient is nil a
// client with DefaultHTTPTimeout is used.
func NewClient(rawURL string, httpClient *http.Client) (*Client, error) {
	parsed, err := url.Parse(rawURL)
	if err != nil {
		return nil, fmt.Errorf("invalid base url: %w", err)
	}
	if parsed.Scheme == "" || parsed.Host == "" {
		return nil, fmt.Errorf("invalid base url %q", rawURL)
	}
	if httpClient == nil {
		httpClient = &http.Client{Timeout: DefaultHTTPTimeout}
	}
	return &Client{baseURL: parsed, httpClient: httpClient}, nil
}

// SubmitDocument posts a plan document and waits for the orchestration to finish.
func (c *Client) SubmitDocument(ctx context.Context, body []byte, format string) (Result, error) {
	contentType := "application/json"
	if format == FormatYAML {
		contentType = "application/yaml"
	}
	req, err := c.newRequest(ctx, http.MethodPost, "/api/v1/orchestrations", nil, bytes.NewReader(body))
	if err != nil {
		return Result{}, err
	}
	req.Header.Set("Content-Type", contentType)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return Result{}, fmt.Errorf("perform request: %w", err)
	}
	defer resp.Body.Close()
	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return Result{}, fmt.Errorf("read response: %w", err)
	}

	var result Result
	if err := json.Unmarshal(data, &result); err == nil && result.Levels != nil {
		if resp.StatusCode >= 400 {
			return result, &ExecutionError{StatusCode: resp.StatusCode, Result: result}
		}
		return result, nil
	}
	if resp.StatusCode >= 400 {
		return Result{}, decodeAPIError(resp.StatusCode, data)
	}
	return Result{}, errors.New("orchd: unexpected response body")
}

// History lists recent entries. When archive is true the configured archive is
// queried instead of the in-memory ledger.
func (c *Client) History(ctx context.Context, limit int, archive bool) (History, error) {
	query := url.Values{}
	if limit > 0 {
		query.Set("limit", strconv.Itoa(limit))
	}
	if archive {
		query.Set("source", "archive")
	}
	var out History
	if err := c.get(ctx, "/api/v1/history", query, &out); err != nil {
		return History{}, err
	}
	return out, nil
}

// Stats fetches aggregate history statistics.
func (c *Client) Stats(ctx context.Context) (Stats, error) {
	var out Stats
	if err := c.get(ctx, "/api/v1/history/stats", nil, &out); err != nil {
		return Stats{}, err
	}
	return out, nil
}

// Health checks that the server is reachable.
func (c *Client) Health(ctx context.Context) error {
	return c.get(ctx, "/healthz", nil, nil)
}

func (c *Client) get(ctx context.Context, endpoint string, query url.Values, out any) error {
	req, err := c.newRequest(ctx, http.MethodGet, endpoint, query, nil)
	if err != nil {
		return err
	}
	return c.do(req, out)
}

func (c *Client) newRequest(ctx context.Context, method, endpoint string, query url.Values, body io.Reader) (*http.Request, error) {
	rel := &url.URL{Path: path.Join(c.baseURL.Path, endpoint)}
	if len(query) > 0 {
		rel.RawQuery = query.Encode()
	}
	u := c.baseURL.ResolveReference(rel)
	req, err := http.NewRequestWithContext(ctx, method, u.String(), body)
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Accept", "application/json")
	return req, nil
}

func (c *Client) do(req *http.Request, out any) error {
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("perform request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 400 {
		data, err := io.ReadAll(resp.Body)
		if err != nil {
			return fmt.Errorf("read error response: %w", err)
		}
		return decodeAPIError(resp.StatusCode, data)
	}
	if out == nil {
		_, _ = io.Copy(io.Discard, resp.Body)
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("decode response: %w", err)
	}
	return nil
}

func decodeAPIError(status int, data []byte) error {
	apiErr := APIError{StatusCode: status}
	if len(data) > 0 {
		if err := json.Unmarshal(data, &struct {
			Error *APIError `json:"error"`
		}{Error: &apiErr}); err != nil {
			_ = json.Unmarshal(data, &apiErr)
		}
	}
	if apiErr.Message == "" {
		apiErr.Message = string(bytes.TrimSpace(data))
	}
	return &apiErr
}
