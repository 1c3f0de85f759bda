package api

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"testing"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"github.com/presetlab/enhancer/internal/domain"
	"github.com/presetlab/enhancer/internal/store"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type balanceFunc func(uuid.UUID) (*domain.UserCredits, error)

func (f balanceFunc) Balance(_ context.Context, userID uuid.UUID) (*domain.UserCredits, error) {
	return f(userID)
}

func creditRouter(reader BalanceReader) http.Handler {
	r := chi.NewRouter()
	r.Get("/api/credits", NewCreditHandler(reader, testLogger()).GetBalance)
	return r
}

func TestGetBalance(t *testing.T) {
	userID := uuid.New()
	updated := time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC)

	t.Run("balance", func(t *testing.T) {
		reader := balanceFunc(func(id uuid.UUID) (*domain.UserCredits, error) {
			assert.Equal(t, userID, id)
			return &domain.UserCredits{UserID: id, Balance: 7, LifetimeConsumed: 3, UpdatedAt: updated}, nil
		})

		rec := doRequest(t, creditRouter(reader), http.MethodGet, "/api/credits", "", userID)

		require.Equal(t, http.StatusOK, rec.Code)
		var resp CreditBalanceResponse
		require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
		assert.Equal(t, 7, resp.Balance)
		assert.Equal(t, 3, resp.LifetimeConsumed)
		assert.True(t, updated.Equal(resp.UpdatedAt))
	})

	t.Run("no account", func(t *testing.T) {
		reader := balanceFunc(func(uuid.UUID) (*domain.UserCredits, error) {
			return nil, store.ErrCreditAccountNotFound
		})
		rec := doRequest(t, creditRouter(reader), http.MethodGet, "/api/credits", "", userID)
		assert.Equal(t, http.StatusNotFound, rec.Code)
	})

	t.Run("store error", func(t *testing.T) {
		reader := balanceFunc(func(uuid.UUID) (*domain.UserCredits, error) {
			return nil, errors.New("connection refused")
		})
		rec := doRequest(t, creditRouter(reader), http.MethodGet, "/api/credits", "", userID)

		assert.Equal(t, http.StatusInternalServerError, rec.Code)
		assert.Equal(t, "Failed to get credit balance", decodeError(t, rec))
	})

	t.Run("unauthenticated", func(t *testing.T) {
		rec := doRequest(t, creditRouter(balanceFunc(nil)), http.MethodGet, "/api/credits", "", uuid.Nil)
		assert.Equal(t, http.StatusUnauthorized, rec.Code)
	})
}
