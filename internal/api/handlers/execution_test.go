package handlers

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"os"
	"testing"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"github.com/gorax/gorax/internal/workflow"
)

// MockWorkflowService is a mock implementation of ExecutionService for testing.
type MockWorkflowService struct {
	mock.Mock
}

func (m *MockWorkflowService) GetExecution(ctx context.Context, executionID string) (*workflow.Execution, error) {
	args := m.Called(ctx, executionID)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*workflow.Execution), args.Error(1)
}

func (m *MockWorkflowService) GetNodeExecutions(ctx context.Context, executionID string) ([]*workflow.NodeExecution, error) {
	args := m.Called(ctx, executionID)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]*workflow.NodeExecution), args.Error(1)
}

func (m *MockWorkflowService) ListExecutions(ctx context.Context, filter workflow.ExecutionFilter, cursor string, limit int) (*workflow.ExecutionListResult, error) {
	args := m.Called(ctx, filter, cursor, limit)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*workflow.ExecutionListResult), args.Error(1)
}

func newTestExecutionHandler() (*ExecutionHandler, *MockWorkflowService) {
	mockService := new(MockWorkflowService)
	logger := slog.New(slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{Level: slog.LevelError}))
	handler := NewExecutionHandler(mockService, logger)
	return handler, mockService
}

func withExecutionIDParam(req *http.Request, executionID string) *http.Request {
	rctx := chi.NewRouteContext()
	rctx.URLParams.Add("executionID", executionID)
	return req.WithContext(context.WithValue(req.Context(), chi.RouteCtxKey, rctx))
}

func TestListExecutions_Success(t *testing.T) {
	handler, mockService := newTestExecutionHandler()

	now := time.Now()
	executions := []*workflow.Execution{
		{ID: "exec-1", WorkflowID: "workflow-1", Status: workflow.ExecutionStatusSuccess, StartedAt: now},
	}

	expectedResult := &workflow.ExecutionListResult{
		Data:       executions,
		Cursor:     "next-cursor",
		HasMore:    true,
		TotalCount: 10,
	}

	mockService.On("ListExecutions", mock.Anything, workflow.ExecutionFilter{}, "", 0).Return(expectedResult, nil)

	req := httptest.NewRequest(http.MethodGet, "/api/v1/executions", nil)
	w := httptest.NewRecorder()

	handler.ListExecutions(w, req)

	assert.Equal(t, http.StatusOK, w.Code)

	var body map[string]interface{}
	require.NoError(t, json.NewDecoder(w.Body).Decode(&body))
	assert.Contains(t, body, "data")
	assert.Contains(t, body, "cursor")
	assert.Contains(t, body, "has_more")
	assert.Contains(t, body, "total_count")

	mockService.AssertExpectations(t)
}

func TestListExecutions_WithFilters(t *testing.T) {
	handler, mockService := newTestExecutionHandler()

	tests := []struct {
		name           string
		queryParams    string
		expectedFilter workflow.ExecutionFilter
		expectedLimit  int
		expectedCursor string
	}{
		{
			name:           "filter by workflow_id",
			queryParams:    "?workflow_id=workflow-1",
			expectedFilter: workflow.ExecutionFilter{WorkflowID: "workflow-1"},
		},
		{
			name:           "filter by status",
			queryParams:    "?status=SUCCESS",
			expectedFilter: workflow.ExecutionFilter{Status: workflow.ExecutionStatusSuccess},
		},
		{
			name:           "with pagination",
			queryParams:    "?limit=50&cursor=abc123",
			expectedFilter: workflow.ExecutionFilter{},
			expectedLimit:  50,
			expectedCursor: "abc123",
		},
		{
			name:        "combined filters",
			queryParams: "?workflow_id=workflow-1&status=SUCCESS&limit=10",
			expectedFilter: workflow.ExecutionFilter{
				WorkflowID: "workflow-1",
				Status:     workflow.ExecutionStatusSuccess,
			},
			expectedLimit: 10,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			expectedResult := &workflow.ExecutionListResult{Data: []*workflow.Execution{}}

			mockService.On("ListExecutions", mock.Anything, tt.expectedFilter, tt.expectedCursor, tt.expectedLimit).
				Return(expectedResult, nil).Once()

			req := httptest.NewRequest(http.MethodGet, "/api/v1/executions"+tt.queryParams, nil)
			w := httptest.NewRecorder()

			handler.ListExecutions(w, req)

			assert.Equal(t, http.StatusOK, w.Code)
			mockService.AssertExpectations(t)
		})
	}
}

func TestListExecutions_InvalidDateRange(t *testing.T) {
	handler, mockService := newTestExecutionHandler()

	mockService.On("ListExecutions", mock.Anything, mock.Anything, "", 0).
		Return(nil, &workflow.ValidationError{Message: "invalid filter: end_date must be after start_date"})

	req := httptest.NewRequest(http.MethodGet, "/api/v1/executions?start_date=2024-01-10T00:00:00Z&end_date=2024-01-01T00:00:00Z", nil)
	w := httptest.NewRecorder()

	handler.ListExecutions(w, req)

	assert.Equal(t, http.StatusBadRequest, w.Code)

	var body map[string]string
	require.NoError(t, json.NewDecoder(w.Body).Decode(&body))
	assert.Contains(t, body["error"], "invalid filter")
}

func TestGetExecution_Success(t *testing.T) {
	handler, mockService := newTestExecutionHandler()

	now := time.Now()
	expected := &workflow.Execution{ID: "exec-123", WorkflowID: "workflow-1", Status: workflow.ExecutionStatusSuccess, StartedAt: now}

	mockService.On("GetExecution", mock.Anything, "exec-123").Return(expected, nil)

	req := httptest.NewRequest(http.MethodGet, "/api/v1/executions/exec-123", nil)
	req = withExecutionIDParam(req, "exec-123")
	w := httptest.NewRecorder()

	handler.GetExecution(w, req)

	assert.Equal(t, http.StatusOK, w.Code)

	var body workflow.Execution
	require.NoError(t, json.NewDecoder(w.Body).Decode(&body))
	assert.Equal(t, "exec-123", body.ID)

	mockService.AssertExpectations(t)
}

func TestGetExecution_NotFound(t *testing.T) {
	handler, mockService := newTestExecutionHandler()

	mockService.On("GetExecution", mock.Anything, "non-existent").Return(nil, workflow.ErrNotFound)

	req := httptest.NewRequest(http.MethodGet, "/api/v1/executions/non-existent", nil)
	req = withExecutionIDParam(req, "non-existent")
	w := httptest.NewRecorder()

	handler.GetExecution(w, req)

	assert.Equal(t, http.StatusNotFound, w.Code)

	var body map[string]string
	require.NoError(t, json.NewDecoder(w.Body).Decode(&body))
	assert.Contains(t, body["error"], "not found")

	mockService.AssertExpectations(t)
}

func TestGetNodeExecutions_Success(t *testing.T) {
	handler, mockService := newTestExecutionHandler()

	now := time.Now()
	nodes := []*workflow.NodeExecution{
		{ID: "node-exec-1", ExecutionID: "exec-123", NodeID: "node-1", Status: "completed", StartedAt: &now},
	}

	mockService.On("GetNodeExecutions", mock.Anything, "exec-123").Return(nodes, nil)

	req := httptest.NewRequest(http.MethodGet, "/api/v1/executions/exec-123/nodes", nil)
	req = withExecutionIDParam(req, "exec-123")
	w := httptest.NewRecorder()

	handler.GetNodeExecutions(w, req)

	assert.Equal(t, http.StatusOK, w.Code)

	var body map[string]interface{}
	require.NoError(t, json.NewDecoder(w.Body).Decode(&body))
	assert.Contains(t, body, "data")

	mockService.AssertExpectations(t)
}

func TestGetExecution_MissingExecutionID(t *testing.T) {
	handler, _ := newTestExecutionHandler()

	req := httptest.NewRequest(http.MethodGet, "/api/v1/executions/", nil)
	w := httptest.NewRecorder()

	handler.GetExecution(w, req)

	assert.Equal(t, http.StatusBadRequest, w.Code)
}
