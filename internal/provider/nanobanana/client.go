// Package nanobanana is the HTTP client for the NanoBanana image-editing
// API. Jobs are submitted once (with retries on transient failures) and then
// polled until the provider reports a terminal state or the caller's
// context ends.
package nanobanana

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/avast/retry-go"
	"github.com/presetlab/enhancer/internal/provider"
)

// Name is the provider name persisted on tasks handled by this client.
const Name = "nanobanana"

const (
	defaultBaseURL      = "https://api.nanobanana.ai/v1"
	defaultPollInterval = 3 * time.Second
	defaultHTTPTimeout  = 30 * time.Second
	maxErrorBody        = 4 << 10
)

// Job states reported by the API.
const (
	stateQueued    = "queued"
	stateRunning   = "running"
	stateSucceeded = "succeeded"
	stateFailed    = "failed"
)

// Options configures the client.
type Options struct {
	APIKey        string
	BaseURL       string
	PollInterval  time.Duration
	SubmitRetries uint
	HTTPClient    *http.Client
	Logger        *slog.Logger
}

// Client talks to the NanoBanana API.
type Client struct {
	apiKey        string
	baseURL       string
	pollInterval  time.Duration
	submitRetries uint
	retryDelay    time.Duration
	httpClient    *http.Client
	logger        *slog.Logger
}

var _ provider.Client = (*Client)(nil)

type submitRequest struct {
	Model    string  `json:"model"`
	ImageURL string  `json:"image_url"`
	Prompt   string  `json:"prompt"`
	Strength float64 `json:"strength"`
	// Reference lets the provider deduplicate resubmissions of one task.
	Reference string `json:"reference,omitempty"`
}

type jobResponse struct {
	TaskID string  `json:"task_id"`
	Status string  `json:"status"`
	Output *output `json:"output,omitempty"`
	Cost   float64 `json:"cost_usd"`
	Error  string  `json:"error,omitempty"`
}

type output struct {
	ImageURL string `json:"image_url"`
}

// errTransport marks failures to reach the API at all.
var errTransport = errors.New("nanobanana: http request")

type errorResponse struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

// statusError is a non-2xx answer from the API.
type statusError struct {
	StatusCode int
	Message    string
}

func (e *statusError) Error() string {
	return fmt.Sprintf("nanobanana: status %d: %s", e.StatusCode, e.Message)
}

// transient reports whether retrying the same request may succeed.
func (e *statusError) transient() bool {
	return e.StatusCode == http.StatusTooManyRequests || e.StatusCode >= 500
}

// NewClient constructs a client, applying defaults for unset options.
func NewClient(opts Options) (*Client, error) {
	apiKey := strings.TrimSpace(opts.APIKey)
	if apiKey == "" {
		return nil, fmt.Errorf("%w: nanobanana api key is required", provider.ErrInvalidConfig)
	}

	baseURL := strings.TrimRight(strings.TrimSpace(opts.BaseURL), "/")
	if baseURL == "" {
		baseURL = defaultBaseURL
	}
	pollInterval := opts.PollInterval
	if pollInterval <= 0 {
		pollInterval = defaultPollInterval
	}
	httpClient := opts.HTTPClient
	if httpClient == nil {
		httpClient = &http.Client{Timeout: defaultHTTPTimeout}
	}
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}

	return &Client{
		apiKey:        apiKey,
		baseURL:       baseURL,
		pollInterval:  pollInterval,
		submitRetries: opts.SubmitRetries,
		retryDelay:    500 * time.Millisecond,
		httpClient:    httpClient,
		logger:        logger.With("provider", Name),
	}, nil
}

// Name implements provider.Client.
func (c *Client) Name() string {
	return Name
}

// EnhanceImage implements provider.Client. It returns once the job is
// terminal; a context deadline while polling is returned as an error that
// wraps ctx.Err().
func (c *Client) EnhanceImage(ctx context.Context, req provider.Request) (*provider.Result, error) {
	if strings.TrimSpace(req.ImageURL) == "" {
		return nil, errors.New("nanobanana: image url is required")
	}

	job, err := c.submit(ctx, req)
	if err != nil {
		return nil, err
	}

	log := c.logger.With("task_id", req.TaskID.String(), "provider_task_id", job.TaskID)
	log.Debug("job submitted", "status", job.Status)

	ticker := time.NewTicker(c.pollInterval)
	defer ticker.Stop()

	for {
		switch job.Status {
		case stateSucceeded:
			if job.Output == nil || strings.TrimSpace(job.Output.ImageURL) == "" {
				return nil, fmt.Errorf("nanobanana: job %s: %w", job.TaskID, provider.ErrEmptyResult)
			}
			log.Info("job succeeded", "cost_usd", job.Cost)
			return &provider.Result{
				ProviderTaskID: job.TaskID,
				EnhancedURL:    strings.TrimSpace(job.Output.ImageURL),
				CostUSD:        job.Cost,
			}, nil
		case stateFailed:
			msg := strings.TrimSpace(job.Error)
			if msg == "" {
				msg = "no reason given"
			}
			log.Warn("job failed", "reason", msg)
			return nil, fmt.Errorf("%w: %s", provider.ErrJobFailed, msg)
		case stateQueued, stateRunning, "":
		default:
			return nil, fmt.Errorf("nanobanana: job %s: unexpected status %q", job.TaskID, job.Status)
		}

		select {
		case <-ctx.Done():
			return nil, fmt.Errorf("nanobanana: job %s not finished: %w", job.TaskID, ctx.Err())
		case <-ticker.C:
		}

		job, err = c.poll(ctx, job.TaskID)
		if err != nil {
			return nil, err
		}
	}
}

// submit creates the job, retrying transient failures with backoff.
func (c *Client) submit(ctx context.Context, req provider.Request) (*jobResponse, error) {
	payload := submitRequest{
		Model:     provider.ModelFor(req.EnhancementType).Name,
		ImageURL:  req.ImageURL,
		Prompt:    provider.PromptFor(req),
		Strength:  req.Strength,
		Reference: req.TaskID.String(),
	}
	body, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("nanobanana: encode request: %w", err)
	}

	var job *jobResponse
	err = retry.Do(
		func() error {
			var doErr error
			job, doErr = c.do(ctx, http.MethodPost, c.baseURL+"/images/edits", body)
			return doErr
		},
		retry.Context(ctx),
		retry.Attempts(c.submitRetries+1),
		retry.Delay(c.retryDelay),
		retry.DelayType(retry.BackOffDelay),
		retry.LastErrorOnly(true),
		retry.RetryIf(isRetryable),
		retry.OnRetry(func(n uint, err error) {
			c.logger.Warn("retrying job submission",
				"attempt", n+1,
				"task_id", req.TaskID.String(),
				"error", err)
		}),
	)
	if err != nil {
		return nil, err
	}
	if job.TaskID == "" {
		return nil, errors.New("nanobanana: submission returned no task id")
	}
	return job, nil
}

func (c *Client) poll(ctx context.Context, taskID string) (*jobResponse, error) {
	job, err := c.do(ctx, http.MethodGet, c.baseURL+"/tasks/"+taskID, nil)
	if err != nil {
		return nil, err
	}
	if job.TaskID == "" {
		job.TaskID = taskID
	}
	return job, nil
}

func (c *Client) do(ctx context.Context, method, endpoint string, body []byte) (*jobResponse, error) {
	var reader io.Reader
	if body != nil {
		reader = bytes.NewReader(body)
	}
	httpReq, err := http.NewRequestWithContext(ctx, method, endpoint, reader)
	if err != nil {
		return nil, fmt.Errorf("nanobanana: build request: %w", err)
	}
	httpReq.Header.Set("Authorization", "Bearer "+c.apiKey)
	httpReq.Header.Set("Accept", "application/json")
	if body != nil {
		httpReq.Header.Set("Content-Type", "application/json")
	}

	resp, err := c.httpClient.Do(httpReq)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", errTransport, err)
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode >= 300 {
		raw, _ := io.ReadAll(io.LimitReader(resp.Body, maxErrorBody))
		msg := strings.TrimSpace(string(raw))
		var detail errorResponse
		if err := json.Unmarshal(raw, &detail); err == nil && detail.Message != "" {
			msg = detail.Message
		}
		return nil, &statusError{StatusCode: resp.StatusCode, Message: msg}
	}

	var job jobResponse
	if err := json.NewDecoder(resp.Body).Decode(&job); err != nil {
		return nil, fmt.Errorf("nanobanana: decode response: %w", err)
	}
	return &job, nil
}

// isRetryable retries transport errors and 429/5xx answers. Context
// cancellation is never retried.
func isRetryable(err error) bool {
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return false
	}
	var se *statusError
	if errors.As(err, &se) {
		return se.transient()
	}
	return errors.Is(err, errTransport)
}
