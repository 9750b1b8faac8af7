package handlers

import (
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/gorax/gorax/internal/api/response"
	"github.com/gorax/gorax/internal/executor"
	"github.com/gorax/gorax/internal/resultcache"
	"github.com/gorax/gorax/internal/trigger"
	"github.com/gorax/gorax/internal/webhook"
	"github.com/gorax/gorax/internal/workflow"
)

// lastNodeWaitTimeout bounds how long a "last-node" response mode
// webhook blocks for the triggered execution to finish, per §4.1.
const lastNodeWaitTimeout = 30 * time.Second

const maxWebhookBodyBytes = 10 << 20 // 10 MiB

// WebhookHandler is the HTTP entry point for the Trigger Registry &
// Webhook Router (§4.1): it matches the request against registered
// webhook triggers, runs the access-control chain, admits the trigger
// through the Trigger Manager, and replies per the trigger's configured
// response mode.
type WebhookHandler struct {
	router      *webhook.Router
	manager     *trigger.Manager
	resultCache *resultcache.Cache
	logger      *slog.Logger
}

// NewWebhookHandler creates a webhook handler.
func NewWebhookHandler(router *webhook.Router, manager *trigger.Manager, resultCache *resultcache.Cache, logger *slog.Logger) *WebhookHandler {
	return &WebhookHandler{router: router, manager: manager, resultCache: resultCache, logger: logger}
}

// Handle processes an incoming webhook request against the full §4.1
// path, handling a request mounted on a chi wildcard route.
func (h *WebhookHandler) Handle(w http.ResponseWriter, r *http.Request) {
	path := "/" + chi.URLParam(r, "*")

	rt, params, err := h.router.Match(r.Method, path)
	if err == webhook.ErrMethodNotAllowed {
		response.Error(w, h.logger, http.StatusMethodNotAllowed, "method not allowed for this webhook path", response.ErrCodeValidation)
		return
	}
	if rt == nil {
		response.NotFound(w, h.logger, "no webhook registered for this path")
		return
	}

	if reason, allowed := h.router.CheckAccess(r.Context(), rt, r); !allowed {
		h.logger.Warn("webhook access denied", "workflow_id", rt.WorkflowID, "path", path, "reason", reason)
		status := http.StatusForbidden
		if strings.Contains(reason, "auth") {
			status = http.StatusUnauthorized
		}
		response.Error(w, h.logger, status, reason, response.ErrCodeUnauthorized)
		return
	}

	ws := rt.Trigger.Webhook
	body, err := io.ReadAll(io.LimitReader(r.Body, maxWebhookBodyBytes))
	if err != nil {
		response.BadRequest(w, h.logger, "failed to read request body")
		return
	}

	triggerData := map[string]interface{}{
		"method":  r.Method,
		"path":    path,
		"params":  params,
		"headers": flattenHeaders(r.Header),
		"query":   flattenQuery(r.URL.Query()),
	}
	if ws.RawBody {
		triggerData["body"] = string(body)
	} else {
		var parsed interface{}
		if len(body) > 0 && json.Unmarshal(body, &parsed) == nil {
			triggerData["body"] = parsed
		} else if len(body) > 0 {
			triggerData["body"] = string(body)
		}
	}

	triggerDataJSON, err := json.Marshal(triggerData)
	if err != nil {
		response.InternalError(w, h.logger, "failed to process trigger data")
		return
	}

	req := trigger.Request{
		WorkflowID:    rt.WorkflowID,
		UserID:        "",
		TriggerNodeID: rt.Trigger.NodeID,
		TriggerData:   triggerDataJSON,
		Source:        trigger.SourceWebhook,
	}

	testMode := r.URL.Query().Get("test") == "true"

	if ws.ResponseMode == workflow.WebhookResponseImmediate && !testMode {
		admission, err := h.manager.SubmitAsync(r.Context(), req)
		if err != nil {
			h.writeSubmitError(w, err)
			return
		}
		response.JSON(w, h.logger, http.StatusAccepted, map[string]any{
			"received":    true,
			"executionId": admission.ExecutionID,
		})
		return
	}

	ctx, cancel := context.WithTimeout(r.Context(), lastNodeWaitTimeout)
	defer cancel()

	execution, err := h.manager.Submit(ctx, req)
	if err != nil {
		h.writeSubmitError(w, err)
		return
	}

	h.writeExecutionResponse(w, ctx, ws, execution)
}

func (h *WebhookHandler) writeSubmitError(w http.ResponseWriter, err error) {
	switch err {
	case trigger.ErrQueueTimeout, context.DeadlineExceeded:
		response.Error(w, h.logger, http.StatusGatewayTimeout, "timed out waiting for workflow execution", response.ErrCodeInternal)
	case trigger.ErrCapacityExceeded, trigger.ErrQueueFull:
		response.TooManyRequests(w, h.logger, "too many concurrent executions")
	case trigger.ErrCancelled:
		response.Error(w, h.logger, http.StatusConflict, "execution was cancelled", response.ErrCodeConflict)
	default:
		response.InternalError(w, h.logger, "failed to execute workflow")
	}
}

// writeExecutionResponse builds the HTTP reply for a "last-node" (or
// test-mode) webhook once its execution has finished, reading the
// terminal node's output from the Result Cache per §4.5.
func (h *WebhookHandler) writeExecutionResponse(w http.ResponseWriter, ctx context.Context, ws *workflow.WebhookSettings, execution *workflow.Execution) {
	if ws.NoResponseBody {
		w.WriteHeader(http.StatusOK)
		return
	}

	for _, hdr := range ws.ResponseHeaders {
		w.Header().Set(hdr.Name, hdr.Value)
	}

	if execution.Status == workflow.ExecutionStatusError {
		response.Error(w, h.logger, http.StatusUnprocessableEntity, "workflow execution failed", response.ErrCodeInternal)
		return
	}

	var data json.RawMessage
	if h.resultCache != nil {
		if result, err := h.resultCache.Get(ctx, execution.ID); err == nil && result != nil {
			data = result.Data
		}
	}

	switch ws.ResponseContentType {
	case workflow.WebhookContentTypeText:
		w.Header().Set("Content-Type", "text/plain")
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write(data)
	case workflow.WebhookContentTypeCustom:
		contentType := ws.CustomContentType
		if contentType == "" {
			contentType = "application/octet-stream"
		}
		w.Header().Set("Content-Type", contentType)
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write(data)
	default:
		var items []executor.Item
		if len(data) > 0 {
			_ = json.Unmarshal(data, &items)
		}

		if resp, ok := executor.ExtractHTTPResponse(items); ok {
			for name, value := range resp.Headers {
				w.Header().Set(name, value)
			}
			for _, cookie := range resp.Cookies {
				http.SetCookie(w, cookie)
			}
			response.JSON(w, h.logger, resp.StatusCode, resp.Body)
			return
		}

		var body any
		if n := len(items); n > 0 {
			body = items[n-1].JSON
		}
		response.JSON(w, h.logger, http.StatusOK, body)
	}
}

func flattenHeaders(headers http.Header) map[string]string {
	result := make(map[string]string)
	for key, values := range headers {
		if len(values) > 0 {
			result[key] = values[0]
		}
	}
	return result
}

func flattenQuery(query map[string][]string) map[string]string {
	result := make(map[string]string)
	for key, values := range query {
		if len(values) > 0 {
			result[key] = values[0]
		}
	}
	return result
}
