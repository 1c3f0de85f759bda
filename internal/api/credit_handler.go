package api

import (
	"context"
	"log/slog"
	"net/http"
	"time"

	"github.com/google/uuid"
	"github.com/presetlab/enhancer/internal/api/shared"
	"github.com/presetlab/enhancer/internal/domain"
	"github.com/presetlab/enhancer/internal/platform/logger"
)

// BalanceReader reads a user's credit account.
type BalanceReader interface {
	Balance(ctx context.Context, userID uuid.UUID) (*domain.UserCredits, error)
}

// CreditBalanceResponse is the body of GET /api/credits.
type CreditBalanceResponse struct {
	Balance          int       `json:"balance"`
	LifetimeConsumed int       `json:"lifetime_consumed"`
	UpdatedAt        time.Time `json:"updated_at"`
}

// CreditHandler serves the caller's credit balance.
type CreditHandler struct {
	credits BalanceReader
	logger  *slog.Logger
}

// NewCreditHandler creates a new CreditHandler.
func NewCreditHandler(credits BalanceReader, logger *slog.Logger) *CreditHandler {
	return &CreditHandler{
		credits: credits,
		logger:  logger.With(slog.String("component", "credit_handler")),
	}
}

// GetBalance handles GET /api/credits.
func (h *CreditHandler) GetBalance(w http.ResponseWriter, r *http.Request) {
	log := logger.FromContextOr(r.Context(), h.logger)

	userID, ok := requireUserID(w, r, log)
	if !ok {
		return
	}

	credits, err := h.credits.Balance(r.Context(), userID)
	if err != nil {
		HandleAPIError(w, r, err, "Failed to get credit balance")
		return
	}

	shared.RespondWithJSON(w, r, http.StatusOK, CreditBalanceResponse{
		Balance:          credits.Balance,
		LifetimeConsumed: credits.LifetimeConsumed,
		UpdatedAt:        credits.UpdatedAt,
	})
}
