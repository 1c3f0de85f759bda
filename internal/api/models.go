package api

import (
	"time"

	"github.com/google/uuid"
	"github.com/presetlab/enhancer/internal/domain"
)

// CreateEnhancementRequest is the body of POST /api/enhancements.
type CreateEnhancementRequest struct {
	InputImageURL   string     `json:"input_image_url"  validate:"required,url,max=2048"`
	EnhancementType string     `json:"enhancement_type" validate:"max=64"`
	Prompt          string     `json:"prompt"           validate:"max=2000"`
	Strength        *float64   `json:"strength"         validate:"omitempty,gt=0,lte=1"`
	MoodboardID     *uuid.UUID `json:"moodboard_id"`
}

// EnhancementAcceptedResponse acknowledges a submission.
type EnhancementAcceptedResponse struct {
	TaskID uuid.UUID `json:"task_id"`
	Status string    `json:"status"`
}

// EnhancementResponse is one task as returned to its owner.
type EnhancementResponse struct {
	ID              uuid.UUID  `json:"id"`
	MoodboardID     *uuid.UUID `json:"moodboard_id,omitempty"`
	InputImageURL   string     `json:"input_image_url"`
	EnhancementType string     `json:"enhancement_type"`
	Prompt          string     `json:"prompt,omitempty"`
	Strength        float64    `json:"strength"`
	Status          string     `json:"status"`
	Provider        string     `json:"provider"`
	ResultURL       string     `json:"result_url,omitempty"`
	CostUSD         float64    `json:"cost_usd"`
	ErrorMessage    string     `json:"error_message,omitempty"`
	CreatedAt       time.Time  `json:"created_at"`
	UpdatedAt       time.Time  `json:"updated_at"`
}

// EnhancementListResponse is the body of GET /api/enhancements.
type EnhancementListResponse struct {
	Tasks []EnhancementResponse `json:"tasks"`
	Count int                   `json:"count"`
}

func enhancementToResponse(t *domain.EnhancementTask) EnhancementResponse {
	return EnhancementResponse{
		ID:              t.ID,
		MoodboardID:     t.MoodboardID,
		InputImageURL:   t.InputImageURL,
		EnhancementType: string(t.EnhancementType),
		Prompt:          t.Prompt,
		Strength:        t.Strength,
		Status:          string(t.Status),
		Provider:        t.Provider,
		ResultURL:       t.ResultURL,
		CostUSD:         t.CostUSD,
		ErrorMessage:    t.ErrorMessage,
		CreatedAt:       t.CreatedAt,
		UpdatedAt:       t.UpdatedAt,
	}
}
