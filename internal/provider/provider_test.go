package provider

import (
	"context"
	"testing"

	"github.com/presetlab/enhancer/internal/domain"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type namedClient string

func (n namedClient) Name() string { return string(n) }

func (n namedClient) EnhanceImage(context.Context, Request) (*Result, error) {
	return &Result{EnhancedURL: "https://cdn/" + string(n)}, nil
}

func TestModelForKnownTypes(t *testing.T) {
	for _, et := range []domain.EnhancementType{
		domain.EnhancementTypeEnhance,
		domain.EnhancementTypeUpscale,
		domain.EnhancementTypeStyleTransfer,
		domain.EnhancementTypeBackgroundRemoval,
		domain.EnhancementTypeLighting,
	} {
		m := ModelFor(et)
		assert.NotEmpty(t, m.Name, et)
		assert.NotEmpty(t, m.DefaultPrompt, et)
	}
}

func TestModelForUnknownTypeFallsBack(t *testing.T) {
	assert.Equal(t, ModelFor(domain.DefaultEnhancementType), ModelFor("colorize"))
	assert.Equal(t, ModelFor(domain.DefaultEnhancementType), ModelFor(""))
}

func TestPromptFor(t *testing.T) {
	assert.Equal(t, "sharpen", PromptFor(Request{Prompt: "  sharpen "}))
	assert.Equal(t,
		ModelFor(domain.EnhancementTypeUpscale).DefaultPrompt,
		PromptFor(Request{EnhancementType: domain.EnhancementTypeUpscale}))
}

func TestRegistry(t *testing.T) {
	r, err := NewRegistry("nanobanana", namedClient("nanobanana"), namedClient("gemini"), nil)
	require.NoError(t, err)

	assert.Equal(t, "gemini", r.Get("Gemini").Name())
	assert.Equal(t, "nanobanana", r.Get("unknown").Name())
	assert.Equal(t, "nanobanana", r.Get("").Name())
	assert.Equal(t, "nanobanana", r.Default().Name())
	assert.Equal(t, []string{"gemini", "nanobanana"}, r.Names())
}

func TestRegistryErrors(t *testing.T) {
	_, err := NewRegistry("gemini", namedClient("nanobanana"))
	assert.ErrorIs(t, err, ErrInvalidConfig)

	_, err = NewRegistry("nanobanana", namedClient("nanobanana"), namedClient("NanoBanana"))
	assert.ErrorIs(t, err, ErrInvalidConfig)
}
