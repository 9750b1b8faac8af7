package queue

import (
	"encoding/json"
	"fmt"
	"time"
)

// ExecutionMessage carries an already-admitted execution so any worker
// replica consuming the queue can pick it up and run it. Admission
// (concurrency limits, conflict policy, queueing) happens once, in the
// Trigger Manager, before the message is published; the message only
// identifies the execution row a replica needs to load and run.
type ExecutionMessage struct {
	ExecutionID string `json:"execution_id"`
	WorkflowID  string `json:"workflow_id"`

	// TriggerType labels the originating source (e.g. "webhook", "schedule",
	// "manual") for logging and metrics; it plays no role in dispatch.
	TriggerType string          `json:"trigger_type"`
	TriggerData json.RawMessage `json:"trigger_data,omitempty"`

	EnqueuedAt time.Time `json:"enqueued_at"`
	RetryCount int       `json:"retry_count,omitempty"`

	CorrelationID string `json:"correlation_id,omitempty"`
}

// NewExecutionMessage creates a new execution message.
func NewExecutionMessage(executionID, workflowID, triggerType string, triggerData json.RawMessage) *ExecutionMessage {
	return &ExecutionMessage{
		ExecutionID: executionID,
		WorkflowID:  workflowID,
		TriggerType: triggerType,
		TriggerData: triggerData,
		EnqueuedAt:  time.Now().UTC(),
		RetryCount:  0,
	}
}

// Marshal serializes the execution message to JSON
func (m *ExecutionMessage) Marshal() (string, error) {
	data, err := json.Marshal(m)
	if err != nil {
		return "", fmt.Errorf("failed to marshal execution message: %w", err)
	}
	return string(data), nil
}

// UnmarshalExecutionMessage deserializes an execution message from JSON
func UnmarshalExecutionMessage(data string) (*ExecutionMessage, error) {
	var msg ExecutionMessage
	if err := json.Unmarshal([]byte(data), &msg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal execution message: %w", err)
	}
	return &msg, nil
}

// Validate checks if the execution message is valid
func (m *ExecutionMessage) Validate() error {
	if m.ExecutionID == "" {
		return fmt.Errorf("execution_id is required")
	}
	if m.WorkflowID == "" {
		return fmt.Errorf("workflow_id is required")
	}
	if m.TriggerType == "" {
		return fmt.Errorf("trigger_type is required")
	}
	return nil
}

// GetMessageAttributes returns message attributes for SQS
func (m *ExecutionMessage) GetMessageAttributes() map[string]string {
	attrs := map[string]string{
		"workflow_id":  m.WorkflowID,
		"trigger_type": m.TriggerType,
	}

	if m.CorrelationID != "" {
		attrs["correlation_id"] = m.CorrelationID
	}

	return attrs
}

// IncrementRetryCount increments the retry count
func (m *ExecutionMessage) IncrementRetryCount() {
	m.RetryCount++
}

// ShouldRetry determines if the message should be retried based on retry count
func (m *ExecutionMessage) ShouldRetry(maxRetries int) bool {
	return m.RetryCount < maxRetries
}
