package handlers

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
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

	"github.com/gorax/gorax/internal/schedule"
)

// MockScheduleService is a mock implementation of ScheduleService for testing
type MockScheduleService struct {
	mock.Mock
}

func (m *MockScheduleService) GetByJobKey(ctx context.Context, jobKey string) (*schedule.ScheduledJob, error) {
	args := m.Called(ctx, jobKey)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*schedule.ScheduledJob), args.Error(1)
}

func (m *MockScheduleService) List(ctx context.Context, workflowID string) ([]*schedule.ScheduledJob, error) {
	args := m.Called(ctx, workflowID)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]*schedule.ScheduledJob), args.Error(1)
}

func (m *MockScheduleService) ListAll(ctx context.Context, limit, offset int) ([]*schedule.ScheduledJobWithWorkflow, error) {
	args := m.Called(ctx, limit, offset)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]*schedule.ScheduledJobWithWorkflow), args.Error(1)
}

func (m *MockScheduleService) ParseNextRunTime(expression, timezone string) (time.Time, error) {
	args := m.Called(expression, timezone)
	return args.Get(0).(time.Time), args.Error(1)
}

func (m *MockScheduleService) GetNextRunTimes(expression, timezone string, count int) ([]time.Time, error) {
	args := m.Called(expression, timezone, count)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]time.Time), args.Error(1)
}

func (m *MockScheduleService) ListExecutionLogs(ctx context.Context, jobKey string, limit, offset int) ([]*schedule.ExecutionLog, error) {
	args := m.Called(ctx, jobKey, limit, offset)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]*schedule.ExecutionLog), args.Error(1)
}

func (m *MockScheduleService) GetExecutionLog(ctx context.Context, logID string) (*schedule.ExecutionLog, error) {
	args := m.Called(ctx, logID)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*schedule.ExecutionLog), args.Error(1)
}

func (m *MockScheduleService) CountExecutionLogs(ctx context.Context, jobKey string) (int, error) {
	args := m.Called(ctx, jobKey)
	return args.Int(0), args.Error(1)
}

func newTestScheduleHandler() (*ScheduleHandler, *MockScheduleService) {
	mockService := new(MockScheduleService)
	logger := slog.New(slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{Level: slog.LevelError}))
	handler := NewScheduleHandler(mockService, logger)
	return handler, mockService
}

func addScheduleURLParams(req *http.Request, params map[string]string) *http.Request {
	rctx := chi.NewRouteContext()
	for key, value := range params {
		rctx.URLParams.Add(key, value)
	}
	return req.WithContext(context.WithValue(req.Context(), chi.RouteCtxKey, rctx))
}

// Test fixtures
func createTestScheduledJob() *schedule.ScheduledJob {
	now := time.Now()
	return &schedule.ScheduledJob{
		JobKey:         "workflow-123-trigger-123",
		WorkflowID:     "workflow-123",
		TriggerID:      "trigger-123",
		NodeID:         "node-123",
		CronExpression: "0 0 * * *",
		Timezone:       "UTC",
		Active:         true,
		OverlapPolicy:  schedule.OverlapPolicySkip,
		NextRunAt:      &now,
		CreatedAt:      now,
		UpdatedAt:      now,
	}
}

func createTestScheduledJobWithWorkflow() *schedule.ScheduledJobWithWorkflow {
	job := createTestScheduledJob()
	return &schedule.ScheduledJobWithWorkflow{
		ScheduledJob: *job,
		WorkflowName: "Test Workflow",
	}
}

func createTestExecutionLog() *schedule.ExecutionLog {
	now := time.Now()
	execID := "exec-123"
	return &schedule.ExecutionLog{
		ID:          "log-123",
		JobKey:      "workflow-123-trigger-123",
		ExecutionID: &execID,
		Status:      schedule.ExecutionLogStatusCompleted,
		StartedAt:   &now,
		CompletedAt: &now,
		TriggerTime: now,
		CreatedAt:   now,
		UpdatedAt:   now,
	}
}

// ============================================================================
// List Handler Tests
// ============================================================================

func TestScheduleHandler_List(t *testing.T) {
	tests := []struct {
		name           string
		workflowID     string
		setupMock      func(*MockScheduleService)
		expectedStatus int
		expectedBody   string
	}{
		{
			name:       "successful list",
			workflowID: "workflow-123",
			setupMock: func(m *MockScheduleService) {
				jobs := []*schedule.ScheduledJob{createTestScheduledJob()}
				m.On("List", mock.Anything, "workflow-123").Return(jobs, nil)
			},
			expectedStatus: http.StatusOK,
		},
		{
			name:       "empty list",
			workflowID: "workflow-123",
			setupMock: func(m *MockScheduleService) {
				m.On("List", mock.Anything, "workflow-123").Return([]*schedule.ScheduledJob{}, nil)
			},
			expectedStatus: http.StatusOK,
		},
		{
			name:       "service error",
			workflowID: "workflow-123",
			setupMock: func(m *MockScheduleService) {
				m.On("List", mock.Anything, "workflow-123").Return(nil, errors.New("database error"))
			},
			expectedStatus: http.StatusInternalServerError,
			expectedBody:   "failed to list scheduled jobs",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			handler, mockService := newTestScheduleHandler()
			tt.setupMock(mockService)

			req := httptest.NewRequest(http.MethodGet, "/api/v1/workflows/"+tt.workflowID+"/schedules", nil)
			req = addScheduleURLParams(req, map[string]string{"workflowID": tt.workflowID})

			rr := httptest.NewRecorder()
			handler.List(rr, req)

			assert.Equal(t, tt.expectedStatus, rr.Code)
			if tt.expectedBody != "" {
				assert.Contains(t, rr.Body.String(), tt.expectedBody)
			}
			mockService.AssertExpectations(t)
		})
	}
}

// ============================================================================
// ListAll Handler Tests
// ============================================================================

func TestScheduleHandler_ListAll(t *testing.T) {
	tests := []struct {
		name           string
		queryParams    string
		setupMock      func(*MockScheduleService)
		expectedStatus int
		expectedBody   string
	}{
		{
			name:        "successful list all",
			queryParams: "",
			setupMock: func(m *MockScheduleService) {
				jobs := []*schedule.ScheduledJobWithWorkflow{createTestScheduledJobWithWorkflow()}
				m.On("ListAll", mock.Anything, 20, 0).Return(jobs, nil)
			},
			expectedStatus: http.StatusOK,
		},
		{
			name:        "successful list all with pagination",
			queryParams: "?limit=50&offset=10",
			setupMock: func(m *MockScheduleService) {
				jobs := []*schedule.ScheduledJobWithWorkflow{createTestScheduledJobWithWorkflow()}
				m.On("ListAll", mock.Anything, 50, 10).Return(jobs, nil)
			},
			expectedStatus: http.StatusOK,
		},
		{
			name:        "service error",
			queryParams: "",
			setupMock: func(m *MockScheduleService) {
				m.On("ListAll", mock.Anything, 20, 0).Return(nil, errors.New("database error"))
			},
			expectedStatus: http.StatusInternalServerError,
			expectedBody:   "failed to list scheduled jobs",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			handler, mockService := newTestScheduleHandler()
			tt.setupMock(mockService)

			req := httptest.NewRequest(http.MethodGet, "/api/v1/schedules"+tt.queryParams, nil)

			rr := httptest.NewRecorder()
			handler.ListAll(rr, req)

			assert.Equal(t, tt.expectedStatus, rr.Code)
			if tt.expectedBody != "" {
				assert.Contains(t, rr.Body.String(), tt.expectedBody)
			}
			mockService.AssertExpectations(t)
		})
	}
}

// ============================================================================
// Get Handler Tests
// ============================================================================

func TestScheduleHandler_Get(t *testing.T) {
	tests := []struct {
		name           string
		jobKey         string
		setupMock      func(*MockScheduleService)
		expectedStatus int
		expectedBody   string
	}{
		{
			name:   "successful get",
			jobKey: "workflow-123-trigger-123",
			setupMock: func(m *MockScheduleService) {
				m.On("GetByJobKey", mock.Anything, "workflow-123-trigger-123").Return(createTestScheduledJob(), nil)
			},
			expectedStatus: http.StatusOK,
		},
		{
			name:   "scheduled job not found",
			jobKey: "nonexistent",
			setupMock: func(m *MockScheduleService) {
				m.On("GetByJobKey", mock.Anything, "nonexistent").Return(nil, schedule.ErrNotFound)
			},
			expectedStatus: http.StatusNotFound,
			expectedBody:   "scheduled job not found",
		},
		{
			name:   "service error",
			jobKey: "workflow-123-trigger-123",
			setupMock: func(m *MockScheduleService) {
				m.On("GetByJobKey", mock.Anything, "workflow-123-trigger-123").Return(nil, errors.New("database error"))
			},
			expectedStatus: http.StatusInternalServerError,
			expectedBody:   "failed to get scheduled job",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			handler, mockService := newTestScheduleHandler()
			tt.setupMock(mockService)

			req := httptest.NewRequest(http.MethodGet, "/api/v1/schedules/"+tt.jobKey, nil)
			req = addScheduleURLParams(req, map[string]string{"jobKey": tt.jobKey})

			rr := httptest.NewRecorder()
			handler.Get(rr, req)

			assert.Equal(t, tt.expectedStatus, rr.Code)
			if tt.expectedBody != "" {
				assert.Contains(t, rr.Body.String(), tt.expectedBody)
			}
			mockService.AssertExpectations(t)
		})
	}
}

// ============================================================================
// ParseCron Handler Tests
// ============================================================================

func TestScheduleHandler_ParseCron(t *testing.T) {
	fixedTime := time.Date(2024, 1, 15, 12, 0, 0, 0, time.UTC)

	tests := []struct {
		name           string
		body           interface{}
		setupMock      func(*MockScheduleService)
		expectedStatus int
		expectedBody   string
		checkResponse  func(*testing.T, *httptest.ResponseRecorder)
	}{
		{
			name: "successful parse",
			body: map[string]string{
				"cron_expression": "0 0 * * *",
				"timezone":        "UTC",
			},
			setupMock: func(m *MockScheduleService) {
				m.On("ParseNextRunTime", "0 0 * * *", "UTC").Return(fixedTime, nil)
			},
			expectedStatus: http.StatusOK,
			checkResponse: func(t *testing.T, rr *httptest.ResponseRecorder) {
				var resp map[string]interface{}
				err := json.Unmarshal(rr.Body.Bytes(), &resp)
				require.NoError(t, err)
				assert.True(t, resp["valid"].(bool))
				assert.NotEmpty(t, resp["next_run"])
			},
		},
		{
			name: "successful parse with default timezone",
			body: map[string]string{
				"cron_expression": "0 0 * * *",
			},
			setupMock: func(m *MockScheduleService) {
				m.On("ParseNextRunTime", "0 0 * * *", "UTC").Return(fixedTime, nil)
			},
			expectedStatus: http.StatusOK,
		},
		{
			name:           "invalid request body",
			body:           "invalid json",
			setupMock:      func(m *MockScheduleService) {},
			expectedStatus: http.StatusBadRequest,
			expectedBody:   "invalid request body",
		},
		{
			name: "invalid cron expression",
			body: map[string]string{
				"cron_expression": "invalid cron",
				"timezone":        "UTC",
			},
			setupMock: func(m *MockScheduleService) {
				m.On("ParseNextRunTime", "invalid cron", "UTC").Return(time.Time{}, &schedule.ValidationError{Message: "invalid format"})
			},
			expectedStatus: http.StatusBadRequest,
			expectedBody:   "invalid cron expression",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			handler, mockService := newTestScheduleHandler()
			tt.setupMock(mockService)

			var body []byte
			var err error
			switch v := tt.body.(type) {
			case string:
				body = []byte(v)
			default:
				body, err = json.Marshal(tt.body)
				require.NoError(t, err)
			}

			req := httptest.NewRequest(http.MethodPost, "/api/v1/schedules/parse-cron", bytes.NewReader(body))
			req.Header.Set("Content-Type", "application/json")

			rr := httptest.NewRecorder()
			handler.ParseCron(rr, req)

			assert.Equal(t, tt.expectedStatus, rr.Code)
			if tt.expectedBody != "" {
				assert.Contains(t, rr.Body.String(), tt.expectedBody)
			}
			if tt.checkResponse != nil {
				tt.checkResponse(t, rr)
			}
			mockService.AssertExpectations(t)
		})
	}
}

// ============================================================================
// PreviewSchedule Handler Tests
// ============================================================================

func TestScheduleHandler_PreviewSchedule(t *testing.T) {
	fixedTimes := []time.Time{
		time.Date(2024, 1, 15, 12, 0, 0, 0, time.UTC),
		time.Date(2024, 1, 16, 12, 0, 0, 0, time.UTC),
		time.Date(2024, 1, 17, 12, 0, 0, 0, time.UTC),
	}

	tests := []struct {
		name           string
		body           interface{}
		setupMock      func(*MockScheduleService)
		expectedStatus int
		expectedBody   string
		checkResponse  func(*testing.T, *httptest.ResponseRecorder)
	}{
		{
			name: "successful preview",
			body: map[string]interface{}{
				"cron_expression": "0 0 * * *",
				"timezone":        "UTC",
				"count":           3,
			},
			setupMock: func(m *MockScheduleService) {
				m.On("GetNextRunTimes", "0 0 * * *", "UTC", 3).Return(fixedTimes, nil)
			},
			expectedStatus: http.StatusOK,
			checkResponse: func(t *testing.T, rr *httptest.ResponseRecorder) {
				var resp map[string]interface{}
				err := json.Unmarshal(rr.Body.Bytes(), &resp)
				require.NoError(t, err)
				assert.True(t, resp["valid"].(bool))
				assert.Equal(t, float64(3), resp["count"])
				assert.Equal(t, "UTC", resp["timezone"])
			},
		},
		{
			name: "successful preview with defaults",
			body: map[string]string{
				"cron_expression": "0 0 * * *",
			},
			setupMock: func(m *MockScheduleService) {
				// Default count is 10, default timezone is UTC
				m.On("GetNextRunTimes", "0 0 * * *", "UTC", 10).Return(fixedTimes, nil)
			},
			expectedStatus: http.StatusOK,
		},
		{
			name: "count capped at 50",
			body: map[string]interface{}{
				"cron_expression": "0 0 * * *",
				"timezone":        "UTC",
				"count":           100,
			},
			setupMock: func(m *MockScheduleService) {
				// Count should be capped at 50
				m.On("GetNextRunTimes", "0 0 * * *", "UTC", 50).Return(fixedTimes, nil)
			},
			expectedStatus: http.StatusOK,
		},
		{
			name:           "invalid request body",
			body:           "invalid json",
			setupMock:      func(m *MockScheduleService) {},
			expectedStatus: http.StatusBadRequest,
			expectedBody:   "invalid request body",
		},
		{
			name: "invalid cron expression",
			body: map[string]string{
				"cron_expression": "invalid cron",
			},
			setupMock: func(m *MockScheduleService) {
				m.On("GetNextRunTimes", "invalid cron", "UTC", 10).Return(nil, &schedule.ValidationError{Message: "invalid format"})
			},
			expectedStatus: http.StatusBadRequest,
			expectedBody:   "invalid cron expression",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			handler, mockService := newTestScheduleHandler()
			tt.setupMock(mockService)

			var body []byte
			var err error
			switch v := tt.body.(type) {
			case string:
				body = []byte(v)
			default:
				body, err = json.Marshal(tt.body)
				require.NoError(t, err)
			}

			req := httptest.NewRequest(http.MethodPost, "/api/v1/schedules/preview", bytes.NewReader(body))
			req.Header.Set("Content-Type", "application/json")

			rr := httptest.NewRecorder()
			handler.PreviewSchedule(rr, req)

			assert.Equal(t, tt.expectedStatus, rr.Code)
			if tt.expectedBody != "" {
				assert.Contains(t, rr.Body.String(), tt.expectedBody)
			}
			if tt.checkResponse != nil {
				tt.checkResponse(t, rr)
			}
			mockService.AssertExpectations(t)
		})
	}
}

// ============================================================================
// ListExecutionHistory Handler Tests
// ============================================================================

func TestScheduleHandler_ListExecutionHistory(t *testing.T) {
	tests := []struct {
		name           string
		jobKey         string
		queryParams    string
		setupMock      func(*MockScheduleService)
		expectedStatus int
		expectedBody   string
	}{
		{
			name:        "successful list",
			jobKey:      "workflow-123-trigger-123",
			queryParams: "",
			setupMock: func(m *MockScheduleService) {
				logs := []*schedule.ExecutionLog{createTestExecutionLog()}
				m.On("ListExecutionLogs", mock.Anything, "workflow-123-trigger-123", 20, 0).Return(logs, nil)
				m.On("CountExecutionLogs", mock.Anything, "workflow-123-trigger-123").Return(1, nil)
			},
			expectedStatus: http.StatusOK,
		},
		{
			name:        "successful list with pagination",
			jobKey:      "workflow-123-trigger-123",
			queryParams: "?limit=10&offset=5",
			setupMock: func(m *MockScheduleService) {
				logs := []*schedule.ExecutionLog{createTestExecutionLog()}
				m.On("ListExecutionLogs", mock.Anything, "workflow-123-trigger-123", 10, 5).Return(logs, nil)
				m.On("CountExecutionLogs", mock.Anything, "workflow-123-trigger-123").Return(10, nil)
			},
			expectedStatus: http.StatusOK,
		},
		{
			name:        "service error on list",
			jobKey:      "workflow-123-trigger-123",
			queryParams: "",
			setupMock: func(m *MockScheduleService) {
				m.On("ListExecutionLogs", mock.Anything, "workflow-123-trigger-123", 20, 0).Return(nil, errors.New("database error"))
			},
			expectedStatus: http.StatusInternalServerError,
			expectedBody:   "failed to list execution history",
		},
		{
			name:        "count error does not fail request",
			jobKey:      "workflow-123-trigger-123",
			queryParams: "",
			setupMock: func(m *MockScheduleService) {
				logs := []*schedule.ExecutionLog{createTestExecutionLog()}
				m.On("ListExecutionLogs", mock.Anything, "workflow-123-trigger-123", 20, 0).Return(logs, nil)
				m.On("CountExecutionLogs", mock.Anything, "workflow-123-trigger-123").Return(0, errors.New("count error"))
			},
			expectedStatus: http.StatusOK,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			handler, mockService := newTestScheduleHandler()
			tt.setupMock(mockService)

			req := httptest.NewRequest(http.MethodGet, "/api/v1/schedules/"+tt.jobKey+"/executions"+tt.queryParams, nil)
			req = addScheduleURLParams(req, map[string]string{"jobKey": tt.jobKey})

			rr := httptest.NewRecorder()
			handler.ListExecutionHistory(rr, req)

			assert.Equal(t, tt.expectedStatus, rr.Code)
			if tt.expectedBody != "" {
				assert.Contains(t, rr.Body.String(), tt.expectedBody)
			}
			mockService.AssertExpectations(t)
		})
	}
}

// ============================================================================
// GetExecutionLog Handler Tests
// ============================================================================

func TestScheduleHandler_GetExecutionLog(t *testing.T) {
	tests := []struct {
		name           string
		logID          string
		setupMock      func(*MockScheduleService)
		expectedStatus int
		expectedBody   string
	}{
		{
			name:  "successful get",
			logID: "log-123",
			setupMock: func(m *MockScheduleService) {
				m.On("GetExecutionLog", mock.Anything, "log-123").Return(createTestExecutionLog(), nil)
			},
			expectedStatus: http.StatusOK,
		},
		{
			name:  "log not found",
			logID: "nonexistent",
			setupMock: func(m *MockScheduleService) {
				m.On("GetExecutionLog", mock.Anything, "nonexistent").Return(nil, schedule.ErrNotFound)
			},
			expectedStatus: http.StatusNotFound,
			expectedBody:   "execution log not found",
		},
		{
			name:  "service error",
			logID: "log-123",
			setupMock: func(m *MockScheduleService) {
				m.On("GetExecutionLog", mock.Anything, "log-123").Return(nil, errors.New("database error"))
			},
			expectedStatus: http.StatusInternalServerError,
			expectedBody:   "failed to get execution log",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			handler, mockService := newTestScheduleHandler()
			tt.setupMock(mockService)

			req := httptest.NewRequest(http.MethodGet, "/api/v1/schedules/logs/"+tt.logID, nil)
			req = addScheduleURLParams(req, map[string]string{"logID": tt.logID})

			rr := httptest.NewRecorder()
			handler.GetExecutionLog(rr, req)

			assert.Equal(t, tt.expectedStatus, rr.Code)
			if tt.expectedBody != "" {
				assert.Contains(t, rr.Body.String(), tt.expectedBody)
			}
			mockService.AssertExpectations(t)
		})
	}
}
