package provider

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/adcraft/creative-orchestrator/internal/generation"
)

// defaultRequestTimeout bounds a single queue API call. Status polls get a
// shorter per-call timeout from the scheduler's request context.
const defaultRequestTimeout = 30 * time.Second

// QueueClient talks to a queue-based generation API: POST a spec to enqueue
// a job, GET its status by request ID. The status enum on the wire matches
// the job lifecycle enum (IN_QUEUE, IN_PROGRESS, COMPLETED, FAILED).
type QueueClient struct {
	baseURL    string
	apiKey     string
	httpClient *http.Client
}

// NewQueueClient creates a client for the generation queue API.
// baseURL should not carry a trailing slash.
func NewQueueClient(baseURL, apiKey string) *QueueClient {
	return &QueueClient{
		baseURL: strings.TrimSuffix(baseURL, "/"),
		apiKey:  apiKey,
		httpClient: &http.Client{
			Timeout: defaultRequestTimeout,
		},
	}
}

// --- Wire types ---

type submitRequest struct {
	Kind       string `json:"kind"`
	Prompt     string `json:"prompt"`
	SourceRef  string `json:"source_ref,omitempty"`
	Duration   int    `json:"duration,omitempty"`
	Resolution string `json:"resolution,omitempty"`
}

type submitResponse struct {
	RequestID string    `json:"request_id"`
	Error     *apiError `json:"error,omitempty"`
}

type statusResponse struct {
	Status    string    `json:"status"`
	Progress  float64   `json:"progress,omitempty"`
	ResultURL string    `json:"result_url,omitempty"`
	ErrorKind string    `json:"error_kind,omitempty"`
	Error     *apiError `json:"error,omitempty"`
}

type apiError struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

// Submit enqueues one generation job and returns the provider request ID.
func (c *QueueClient) Submit(ctx context.Context, spec generation.Spec) (string, error) {
	body, err := json.Marshal(submitRequest{
		Kind:       string(spec.Kind),
		Prompt:     spec.Prompt,
		SourceRef:  spec.SourceRef,
		Duration:   spec.DurationSeconds,
		Resolution: spec.Resolution,
	})
	if err != nil {
		return "", fmt.Errorf("marshal submit request: %w", err)
	}

	data, err := c.do(ctx, http.MethodPost, "/v1/jobs", body)
	if err != nil {
		return "", err
	}

	var resp submitResponse
	if err := json.Unmarshal(data, &resp); err != nil {
		return "", fmt.Errorf("parse submit response: %w", err)
	}
	if resp.Error != nil {
		return "", fmt.Errorf("queue API error: %s (%s)", resp.Error.Message, resp.Error.Code)
	}
	if resp.RequestID == "" {
		return "", fmt.Errorf("queue API returned no request ID")
	}

	log.Debug().
		Str("requestId", resp.RequestID).
		Str("kind", string(spec.Kind)).
		Int("sceneIndex", spec.SceneIndex).
		Msg("Generation job enqueued")
	return resp.RequestID, nil
}

// Status fetches the current state of a submitted request. Transport and
// decode failures are returned raw so the poll scheduler can retry them.
func (c *QueueClient) Status(ctx context.Context, requestID string) (StatusResponse, error) {
	data, err := c.do(ctx, http.MethodGet, "/v1/jobs/"+requestID, nil)
	if err != nil {
		return StatusResponse{}, err
	}

	var resp statusResponse
	if err := json.Unmarshal(data, &resp); err != nil {
		return StatusResponse{}, fmt.Errorf("parse status response: %w", err)
	}
	if resp.Error != nil {
		return StatusResponse{}, fmt.Errorf("queue API error: %s (%s)", resp.Error.Message, resp.Error.Code)
	}

	state, err := mapState(resp.Status)
	if err != nil {
		return StatusResponse{}, err
	}

	out := StatusResponse{
		State:     state,
		Progress:  resp.Progress,
		ResultURL: resp.ResultURL,
		ErrorKind: mapErrorKind(resp.ErrorKind),
	}
	if state == generation.StatusFailed && out.ErrorKind == "" {
		out.ErrorKind = generation.ErrKindProvider
	}
	return out, nil
}

// mapState converts the wire status to the closed lifecycle enum. An unknown
// status is an error rather than a guess; the scheduler treats it as
// transient and the next poll usually resolves it.
func mapState(s string) (generation.Status, error) {
	switch s {
	case "IN_QUEUE":
		return generation.StatusInQueue, nil
	case "IN_PROGRESS":
		return generation.StatusInProgress, nil
	case "COMPLETED":
		return generation.StatusCompleted, nil
	case "FAILED":
		return generation.StatusFailed, nil
	default:
		return "", fmt.Errorf("unknown queue status %q", s)
	}
}

func mapErrorKind(kind string) string {
	switch kind {
	case "content_policy", "content_policy_violation", "safety":
		return generation.ErrKindContentPolicy
	case "":
		return ""
	default:
		return generation.ErrKindProvider
	}
}

func (c *QueueClient) do(ctx context.Context, method, path string, body []byte) ([]byte, error) {
	var reader io.Reader
	if body != nil {
		reader = bytes.NewReader(body)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, reader)
	if err != nil {
		return nil, fmt.Errorf("build request: %w", err)
	}
	req.Header.Set("Authorization", "Key "+c.apiKey)
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	start := time.Now()
	httpResp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("queue request %s %s: %w", method, path, err)
	}
	defer httpResp.Body.Close()

	data, err := io.ReadAll(httpResp.Body)
	if err != nil {
		return nil, fmt.Errorf("read response: %w", err)
	}

	log.Trace().
		Str("method", method).
		Str("path", path).
		Int("statusCode", httpResp.StatusCode).
		Dur("duration", time.Since(start)).
		Msg("Queue API response")

	if httpResp.StatusCode >= 400 {
		return nil, fmt.Errorf("queue API %s %s: HTTP %d: %s", method, path, httpResp.StatusCode, truncate(string(data), 200))
	}
	return data, nil
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n] + "..."
}
