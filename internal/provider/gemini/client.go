// Package gemini implements provider.Client on Google's Gemini image-editing
// models. Gemini answers synchronously with inline image bytes, which are
// written to a ResultStore whose URL becomes the task result.
package gemini

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/avast/retry-go"
	"github.com/presetlab/enhancer/internal/provider"
	"github.com/presetlab/enhancer/internal/storage"
	"google.golang.org/genai"
)

// Name is the provider name persisted on tasks handled by this client.
const Name = "gemini"

const (
	defaultModel      = "gemini-2.5-flash-image-preview"
	maxInputImageSize = 20 << 20
)

// ErrContentBlocked is returned when Gemini refuses the request on safety grounds.
var ErrContentBlocked = errors.New("content blocked by safety filters")

// contentGenerator is the part of *genai.Models the client uses.
type contentGenerator interface {
	GenerateContent(
		ctx context.Context,
		model string,
		contents []*genai.Content,
		config *genai.GenerateContentConfig,
	) (*genai.GenerateContentResponse, error)
}

// ResultStore persists output images and returns their public URL.
type ResultStore interface {
	Save(ctx context.Context, key string, data []byte) (string, error)
}

// Config holds the settings for NewClient.
type Config struct {
	APIKey string
	Model  string
	// CostPerImageUSD is reported as the result cost. Gemini does not
	// return a price, so zero leaves the reserved cost in place.
	CostPerImageUSD float64
	Retries         uint
}

// Client implements provider.Client using Gemini.
type Client struct {
	models     contentGenerator
	store      ResultStore
	httpClient *http.Client
	model      string
	cost       float64
	retries    uint
	retryDelay time.Duration
	logger     *slog.Logger
}

var _ provider.Client = (*Client)(nil)

// NewClient creates a Gemini-backed client.
func NewClient(ctx context.Context, logger *slog.Logger, cfg Config, store ResultStore) (*Client, error) {
	if logger == nil {
		return nil, errors.New("logger cannot be nil")
	}
	if cfg.APIKey == "" {
		return nil, fmt.Errorf("%w: gemini API key cannot be empty", provider.ErrInvalidConfig)
	}
	if store == nil {
		return nil, fmt.Errorf("%w: gemini needs a result store", provider.ErrInvalidConfig)
	}

	client, err := genai.NewClient(ctx, &genai.ClientConfig{
		APIKey:  cfg.APIKey,
		Backend: genai.BackendGeminiAPI,
	})
	if err != nil {
		return nil, fmt.Errorf("%w: failed to create Gemini client: %v", provider.ErrInvalidConfig, err)
	}

	return newClient(client.Models, store, &http.Client{Timeout: 30 * time.Second}, cfg, logger), nil
}

func newClient(
	models contentGenerator,
	store ResultStore,
	httpClient *http.Client,
	cfg Config,
	logger *slog.Logger,
) *Client {
	model := strings.TrimSpace(cfg.Model)
	if model == "" {
		model = defaultModel
	}
	return &Client{
		models:     models,
		store:      store,
		httpClient: httpClient,
		model:      model,
		cost:       cfg.CostPerImageUSD,
		retries:    cfg.Retries,
		retryDelay: time.Second,
		logger:     logger.With("provider", Name),
	}
}

// Name implements provider.Client.
func (c *Client) Name() string {
	return Name
}

// EnhanceImage implements provider.Client.
func (c *Client) EnhanceImage(ctx context.Context, req provider.Request) (*provider.Result, error) {
	data, mimeType, err := c.download(ctx, req.ImageURL)
	if err != nil {
		return nil, err
	}

	contents := []*genai.Content{
		genai.NewContentFromParts([]*genai.Part{
			genai.NewPartFromBytes(data, mimeType),
			genai.NewPartFromText(buildPrompt(req)),
		}, genai.RoleUser),
	}
	genConfig := &genai.GenerateContentConfig{
		ResponseModalities: []string{"TEXT", "IMAGE"},
	}

	var blob *genai.Blob
	err = retry.Do(
		func() error {
			resp, callErr := c.models.GenerateContent(ctx, c.model, contents, genConfig)
			if callErr != nil {
				return callErr
			}
			var parseErr error
			blob, parseErr = firstImage(resp)
			if parseErr != nil {
				return retry.Unrecoverable(parseErr)
			}
			return nil
		},
		retry.Context(ctx),
		retry.Attempts(c.retries+1),
		retry.Delay(c.retryDelay),
		retry.DelayType(retry.BackOffDelay),
		retry.LastErrorOnly(true),
		retry.OnRetry(func(n uint, err error) {
			c.logger.WarnContext(ctx, "retrying Gemini call",
				"attempt", n+1,
				"task_id", req.TaskID.String(),
				"error", err)
		}),
	)
	if err != nil {
		return nil, fmt.Errorf("gemini: %w", err)
	}

	url, err := c.store.Save(ctx, storage.ResultKey(req.TaskID.String(), blob.MIMEType), blob.Data)
	if err != nil {
		return nil, fmt.Errorf("gemini: store result: %w", err)
	}

	c.logger.InfoContext(ctx, "Gemini enhancement stored",
		"task_id", req.TaskID.String(),
		"model", c.model,
		"bytes", len(blob.Data))

	return &provider.Result{EnhancedURL: url, CostUSD: c.cost}, nil
}

func buildPrompt(req provider.Request) string {
	return fmt.Sprintf("%s Apply the edit at strength %.2f on a scale from 0 to 1. Return only the edited image.",
		provider.PromptFor(req), req.Strength)
}

// firstImage returns the first inline image of the first candidate.
func firstImage(resp *genai.GenerateContentResponse) (*genai.Blob, error) {
	if resp == nil || len(resp.Candidates) == 0 {
		return nil, fmt.Errorf("%w: no candidates", provider.ErrEmptyResult)
	}
	candidate := resp.Candidates[0]
	if candidate.FinishReason == genai.FinishReasonSafety {
		return nil, ErrContentBlocked
	}
	if candidate.Content == nil {
		return nil, fmt.Errorf("%w: empty content", provider.ErrEmptyResult)
	}
	for _, part := range candidate.Content.Parts {
		if part != nil && part.InlineData != nil && len(part.InlineData.Data) > 0 {
			return part.InlineData, nil
		}
	}
	return nil, fmt.Errorf("%w: no image in response", provider.ErrEmptyResult)
}

func (c *Client) download(ctx context.Context, imageURL string) ([]byte, string, error) {
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodGet, strings.TrimSpace(imageURL), nil)
	if err != nil {
		return nil, "", fmt.Errorf("gemini: invalid image url %q: %w", imageURL, err)
	}
	resp, err := c.httpClient.Do(httpReq)
	if err != nil {
		return nil, "", fmt.Errorf("gemini: download image: %w", err)
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode >= 300 {
		return nil, "", fmt.Errorf("gemini: download status %d", resp.StatusCode)
	}
	data, err := io.ReadAll(io.LimitReader(resp.Body, maxInputImageSize+1))
	if err != nil {
		return nil, "", fmt.Errorf("gemini: read image: %w", err)
	}
	if len(data) > maxInputImageSize {
		return nil, "", fmt.Errorf("gemini: input image exceeds %d bytes", maxInputImageSize)
	}

	mimeType := resp.Header.Get("Content-Type")
	if mimeType == "" || !strings.HasPrefix(mimeType, "image/") {
		mimeType = http.DetectContentType(data)
	}
	return data, mimeType, nil
}
