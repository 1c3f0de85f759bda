package api

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"github.com/presetlab/enhancer/internal/api/shared"
	"github.com/presetlab/enhancer/internal/domain"
	"github.com/presetlab/enhancer/internal/platform/metrics"
	"github.com/presetlab/enhancer/internal/provider"
	"github.com/presetlab/enhancer/internal/task"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

// stubService lets each test script the manager's answers.
type stubService struct {
	submitFn   func(task.SubmitRequest) (*task.SubmitResult, error)
	getFn      func(uuid.UUID) (*domain.EnhancementTask, error)
	listFn     func(uuid.UUID, int) ([]*domain.EnhancementTask, error)
	lastSubmit task.SubmitRequest
	lastLimit  int
}

func (s *stubService) Submit(_ context.Context, req task.SubmitRequest) (*task.SubmitResult, error) {
	s.lastSubmit = req
	return s.submitFn(req)
}

func (s *stubService) GetTaskStatus(_ context.Context, id uuid.UUID) (*domain.EnhancementTask, error) {
	return s.getFn(id)
}

func (s *stubService) GetUserTasks(_ context.Context, userID uuid.UUID, limit int) ([]*domain.EnhancementTask, error) {
	s.lastLimit = limit
	return s.listFn(userID, limit)
}

func newRouter(svc EnhancementService) http.Handler {
	h := NewEnhancementHandler(svc, testLogger())
	r := chi.NewRouter()
	r.Post("/api/enhancements", h.CreateEnhancement)
	r.Get("/api/enhancements", h.ListEnhancements)
	r.Get("/api/enhancements/{id}", h.GetEnhancement)
	return r
}

func doRequest(t *testing.T, handler http.Handler, method, target, body string, userID uuid.UUID) *httptest.ResponseRecorder {
	t.Helper()
	var reader io.Reader
	if body != "" {
		reader = strings.NewReader(body)
	}
	req := httptest.NewRequest(method, target, reader)
	if userID != uuid.Nil {
		req = req.WithContext(shared.WithUserID(req.Context(), userID))
	}
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)
	return rec
}

func decodeError(t *testing.T, rec *httptest.ResponseRecorder) string {
	t.Helper()
	var resp shared.ErrorResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	return resp.Error
}

func sampleTask(userID uuid.UUID) *domain.EnhancementTask {
	t, err := domain.NewEnhancementTask(userID, nil, "https://img.example.com/in.png",
		domain.EnhancementTypeEnhance, "", 0, "nanobanana", 0.10)
	if err != nil {
		panic(err)
	}
	return t
}

func TestCreateEnhancement(t *testing.T) {
	userID := uuid.New()
	taskID := uuid.New()

	t.Run("accepted", func(t *testing.T) {
		svc := &stubService{submitFn: func(task.SubmitRequest) (*task.SubmitResult, error) {
			return &task.SubmitResult{TaskID: taskID, Status: domain.TaskStatusPending}, nil
		}}
		body := `{"input_image_url":"https://img.example.com/in.png","enhancement_type":"upscale","prompt":"warmer","strength":0.4}`

		rec := doRequest(t, newRouter(svc), http.MethodPost, "/api/enhancements", body, userID)

		require.Equal(t, http.StatusAccepted, rec.Code)
		var resp EnhancementAcceptedResponse
		require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
		assert.Equal(t, taskID, resp.TaskID)
		assert.Equal(t, "pending", resp.Status)
		assert.Equal(t, "/api/enhancements/"+taskID.String(), rec.Header().Get("Location"))

		assert.Equal(t, userID, svc.lastSubmit.UserID)
		assert.Equal(t, "upscale", svc.lastSubmit.EnhancementType)
		require.NotNil(t, svc.lastSubmit.Strength)
		assert.Equal(t, 0.4, *svc.lastSubmit.Strength)
	})

	tests := []struct {
		name       string
		body       string
		userID     uuid.UUID
		submitErr  error
		wantStatus int
		wantError  string
	}{
		{
			name:       "unauthenticated",
			body:       `{"input_image_url":"https://img.example.com/in.png"}`,
			wantStatus: http.StatusUnauthorized,
		},
		{
			name:       "malformed json",
			body:       `{"input_image_url":`,
			userID:     userID,
			wantStatus: http.StatusBadRequest,
			wantError:  "Invalid request format",
		},
		{
			name:       "missing image",
			body:       `{"prompt":"x"}`,
			userID:     userID,
			wantStatus: http.StatusBadRequest,
			wantError:  "Invalid input_image_url: required field",
		},
		{
			name:       "strength out of range",
			body:       `{"input_image_url":"https://img.example.com/in.png","strength":1.5}`,
			userID:     userID,
			wantStatus: http.StatusBadRequest,
			wantError:  "Invalid strength: out of range",
		},
		{
			name:       "insufficient credits",
			body:       `{"input_image_url":"https://img.example.com/in.png"}`,
			userID:     userID,
			submitErr:  domain.ErrInsufficientCredits,
			wantStatus: http.StatusPaymentRequired,
			wantError:  "Insufficient credits",
		},
		{
			name:       "store failure",
			body:       `{"input_image_url":"https://img.example.com/in.png"}`,
			userID:     userID,
			submitErr:  errors.New("failed to create task: dial postgres://u:p@db/x"),
			wantStatus: http.StatusInternalServerError,
			wantError:  "Failed to submit enhancement",
		},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			svc := &stubService{submitFn: func(task.SubmitRequest) (*task.SubmitResult, error) {
				return nil, tc.submitErr
			}}

			rec := doRequest(t, newRouter(svc), http.MethodPost, "/api/enhancements", tc.body, tc.userID)

			assert.Equal(t, tc.wantStatus, rec.Code)
			if tc.wantError != "" {
				assert.Equal(t, tc.wantError, decodeError(t, rec))
			}
			assert.NotContains(t, rec.Body.String(), "postgres")
		})
	}
}

func TestGetEnhancement(t *testing.T) {
	owner := uuid.New()
	owned := sampleTask(owner)

	svc := &stubService{getFn: func(id uuid.UUID) (*domain.EnhancementTask, error) {
		if id == owned.ID {
			return owned, nil
		}
		return nil, nil
	}}
	router := newRouter(svc)

	t.Run("owner sees the task", func(t *testing.T) {
		rec := doRequest(t, router, http.MethodGet, "/api/enhancements/"+owned.ID.String(), "", owner)

		require.Equal(t, http.StatusOK, rec.Code)
		var resp EnhancementResponse
		require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
		assert.Equal(t, owned.ID, resp.ID)
		assert.Equal(t, "pending", resp.Status)
		assert.Equal(t, "enhance", resp.EnhancementType)
		assert.Equal(t, "2", rec.Header().Get("Retry-After"))
	})

	t.Run("finished task has no retry hint", func(t *testing.T) {
		done := sampleTask(owner)
		done.Status = domain.TaskStatusCompleted
		done.ResultURL = "https://cdn.example.com/out.png"
		finished := &stubService{getFn: func(uuid.UUID) (*domain.EnhancementTask, error) {
			return done, nil
		}}
		rec := doRequest(t, newRouter(finished), http.MethodGet, "/api/enhancements/"+done.ID.String(), "", owner)

		require.Equal(t, http.StatusOK, rec.Code)
		assert.Empty(t, rec.Header().Get("Retry-After"))
	})

	t.Run("other users get not found", func(t *testing.T) {
		rec := doRequest(t, router, http.MethodGet, "/api/enhancements/"+owned.ID.String(), "", uuid.New())

		assert.Equal(t, http.StatusNotFound, rec.Code)
		assert.Equal(t, "Enhancement task not found", decodeError(t, rec))
	})

	t.Run("missing task", func(t *testing.T) {
		rec := doRequest(t, router, http.MethodGet, "/api/enhancements/"+uuid.NewString(), "", owner)
		assert.Equal(t, http.StatusNotFound, rec.Code)
	})

	t.Run("invalid id", func(t *testing.T) {
		rec := doRequest(t, router, http.MethodGet, "/api/enhancements/not-a-uuid", "", owner)

		assert.Equal(t, http.StatusBadRequest, rec.Code)
		assert.Equal(t, "Invalid id: has invalid format", decodeError(t, rec))
	})

	t.Run("store error", func(t *testing.T) {
		failing := &stubService{getFn: func(uuid.UUID) (*domain.EnhancementTask, error) {
			return nil, errors.New("connection reset")
		}}
		rec := doRequest(t, newRouter(failing), http.MethodGet, "/api/enhancements/"+owned.ID.String(), "", owner)

		assert.Equal(t, http.StatusInternalServerError, rec.Code)
		assert.Equal(t, "Failed to get enhancement", decodeError(t, rec))
	})
}

func TestListEnhancements(t *testing.T) {
	owner := uuid.New()

	svc := &stubService{listFn: func(userID uuid.UUID, _ int) ([]*domain.EnhancementTask, error) {
		return []*domain.EnhancementTask{sampleTask(userID), sampleTask(userID)}, nil
	}}
	router := newRouter(svc)

	t.Run("default limit", func(t *testing.T) {
		rec := doRequest(t, router, http.MethodGet, "/api/enhancements", "", owner)

		require.Equal(t, http.StatusOK, rec.Code)
		var resp EnhancementListResponse
		require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
		assert.Equal(t, 2, resp.Count)
		assert.Len(t, resp.Tasks, 2)
		assert.Zero(t, svc.lastLimit, "the manager applies the default")
	})

	t.Run("explicit limit", func(t *testing.T) {
		rec := doRequest(t, router, http.MethodGet, "/api/enhancements?limit=500", "", owner)

		assert.Equal(t, http.StatusOK, rec.Code)
		assert.Equal(t, 500, svc.lastLimit, "the manager caps the limit")
	})

	for _, bad := range []string{"abc", "0", "-3"} {
		t.Run("invalid limit "+bad, func(t *testing.T) {
			rec := doRequest(t, router, http.MethodGet, "/api/enhancements?limit="+bad, "", owner)
			assert.Equal(t, http.StatusBadRequest, rec.Code)
		})
	}

	t.Run("empty list is an array", func(t *testing.T) {
		empty := &stubService{listFn: func(uuid.UUID, int) ([]*domain.EnhancementTask, error) {
			return nil, nil
		}}
		rec := doRequest(t, newRouter(empty), http.MethodGet, "/api/enhancements", "", owner)

		assert.Equal(t, http.StatusOK, rec.Code)
		assert.JSONEq(t, `{"tasks":[],"count":0}`, rec.Body.String())
	})
}

// TestEnhancementFlowWithManager drives the handlers against a real manager
// backed by in-memory collaborators. Workers are not started, so submitted
// tasks stay pending.
func TestEnhancementFlowWithManager(t *testing.T) {
	ledger := task.NewMockLedger()
	client := task.NewMockProvider("nanobanana")
	registry, err := provider.NewRegistry("nanobanana", client)
	require.NoError(t, err)

	manager, err := task.NewManager(task.Dependencies{
		Store:     task.NewMockTaskStore(),
		Ledger:    ledger,
		Providers: registry,
		Metrics:   metrics.New(prometheus.NewRegistry()),
	}, task.DefaultConfig(), testLogger())
	require.NoError(t, err)

	router := newRouter(manager)
	userID := uuid.New()
	ledger.SetBalance(userID, 1)
	body := `{"input_image_url":"https://img.example.com/in.png"}`

	rec := doRequest(t, router, http.MethodPost, "/api/enhancements", body, userID)
	require.Equal(t, http.StatusAccepted, rec.Code)
	var accepted EnhancementAcceptedResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &accepted))
	assert.Equal(t, 0, ledger.Balance(userID))

	rec = doRequest(t, router, http.MethodPost, "/api/enhancements", body, userID)
	assert.Equal(t, http.StatusPaymentRequired, rec.Code)

	rec = doRequest(t, router, http.MethodGet, "/api/enhancements/"+accepted.TaskID.String(), "", userID)
	require.Equal(t, http.StatusOK, rec.Code)
	var got EnhancementResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &got))
	assert.Equal(t, "pending", got.Status)
	assert.Equal(t, "nanobanana", got.Provider)

	rec = doRequest(t, router, http.MethodGet, "/api/enhancements", "", userID)
	require.Equal(t, http.StatusOK, rec.Code)
	var list EnhancementListResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &list))
	assert.Equal(t, 1, list.Count)
}
