// Package provider defines the contract between the task manager and the
// external image-enhancement services, the mapping from enhancement types
// to provider models, and a registry that selects a client by name.
//
// Implementations live in subpackages. A client call blocks until the
// provider reports a terminal result or ctx ends; callers bound it with a
// deadline.
package provider

import (
	"context"
	"errors"
	"strings"

	"github.com/google/uuid"
	"github.com/presetlab/enhancer/internal/domain"
)

// Errors shared by provider implementations.
var (
	// ErrInvalidConfig is returned when a client is constructed with
	// missing or malformed settings.
	ErrInvalidConfig = errors.New("invalid provider configuration")

	// ErrEmptyResult is returned when a provider reports success without
	// an output image.
	ErrEmptyResult = errors.New("provider returned no result")

	// ErrJobFailed is returned when the provider reports the job as failed.
	ErrJobFailed = errors.New("provider job failed")
)

// Request carries the immutable parameters of one enhancement.
type Request struct {
	TaskID          uuid.UUID
	ImageURL        string
	EnhancementType domain.EnhancementType
	Prompt          string
	Strength        float64
}

// Result is a provider's terminal answer for a request.
type Result struct {
	// ProviderTaskID is the provider's own job reference, if it has one.
	ProviderTaskID string
	EnhancedURL    string
	// CostUSD is the provider-reported cost. Zero means not reported.
	CostUSD float64
}

// Client enhances one image.
type Client interface {
	// Name identifies the provider, as persisted on tasks.
	Name() string

	// EnhanceImage runs the enhancement to completion.
	EnhanceImage(ctx context.Context, req Request) (*Result, error)
}

// Model selects what a provider should run for an enhancement type.
type Model struct {
	// Name is the provider-side model or mode identifier.
	Name string
	// DefaultPrompt is used when a request carries no prompt.
	DefaultPrompt string
}

var models = map[domain.EnhancementType]Model{
	domain.EnhancementTypeEnhance: {
		Name:          "enhance-v2",
		DefaultPrompt: "Improve overall clarity, color balance and detail while keeping the composition unchanged.",
	},
	domain.EnhancementTypeUpscale: {
		Name:          "upscale-4x",
		DefaultPrompt: "Upscale the image, recovering fine detail and sharp edges without adding artifacts.",
	},
	domain.EnhancementTypeStyleTransfer: {
		Name:          "style-transfer-v1",
		DefaultPrompt: "Restyle the image as a cohesive editorial illustration while preserving the subject.",
	},
	domain.EnhancementTypeBackgroundRemoval: {
		Name:          "background-removal-v1",
		DefaultPrompt: "Remove the background cleanly and keep the main subject on a transparent background.",
	},
	domain.EnhancementTypeLighting: {
		Name:          "relight-v1",
		DefaultPrompt: "Rebalance the lighting to soft, even studio light with natural shadows.",
	},
}

// ModelFor returns the model for t. Unknown types get the model of
// domain.DefaultEnhancementType rather than an error.
func ModelFor(t domain.EnhancementType) Model {
	if m, ok := models[t]; ok {
		return m
	}
	return models[domain.DefaultEnhancementType]
}

// PromptFor returns the request prompt, or the model default when empty.
func PromptFor(req Request) string {
	if p := strings.TrimSpace(req.Prompt); p != "" {
		return p
	}
	return ModelFor(req.EnhancementType).DefaultPrompt
}
