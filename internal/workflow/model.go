package workflow

import (
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"time"
)

// Workflow represents a workflow definition: an owner, an active flag, a
// set of nodes, connections and trigger definitions, and recognized
// settings.
type Workflow struct {
	ID         string          `db:"id" json:"id"`
	OwnerID    string          `db:"owner_id" json:"owner_id"`
	Name       string          `db:"name" json:"name"`
	Active     bool            `db:"active" json:"active"`
	Nodes      json.RawMessage `db:"nodes" json:"nodes"`
	Connections json.RawMessage `db:"connections" json:"connections"`
	Triggers   json.RawMessage `db:"triggers" json:"triggers"`
	Settings   json.RawMessage `db:"settings" json:"settings"`
	Version    int             `db:"version" json:"version"`
	CreatedAt  time.Time       `db:"created_at" json:"created_at"`
	UpdatedAt  time.Time       `db:"updated_at" json:"updated_at"`
}

// Definition is the in-memory, parsed form of a Workflow's nodes,
// connections and triggers, used by validation and the execution engine.
type Definition struct {
	Nodes       []Node              `json:"nodes"`
	Connections []Connection        `json:"connections"`
	Triggers    []TriggerDefinition `json:"triggers"`
	Settings    Settings            `json:"settings"`
}

// ParseDefinition decodes a Workflow's stored JSON columns into a Definition.
func ParseDefinition(wf *Workflow) (*Definition, error) {
	var def Definition
	if len(wf.Nodes) > 0 {
		if err := json.Unmarshal(wf.Nodes, &def.Nodes); err != nil {
			return nil, fmt.Errorf("failed to parse nodes: %w", err)
		}
	}
	if len(wf.Connections) > 0 {
		if err := json.Unmarshal(wf.Connections, &def.Connections); err != nil {
			return nil, fmt.Errorf("failed to parse connections: %w", err)
		}
	}
	if len(wf.Triggers) > 0 {
		if err := json.Unmarshal(wf.Triggers, &def.Triggers); err != nil {
			return nil, fmt.Errorf("failed to parse triggers: %w", err)
		}
	}
	def.Settings = ParseSettings(wf.Settings)
	return &def, nil
}

// Settings holds the recognized workflow-level settings from §3.
type Settings struct {
	SaveExecutionToDatabase bool   `json:"saveExecutionToDatabase"`
	Timezone                string `json:"timezone,omitempty"`
	SaveExecutionProgress   bool   `json:"saveExecutionProgress"`
	SaveDataErrorExecution  string `json:"saveDataErrorExecution,omitempty"`   // "all" | "none"
	SaveDataSuccessExecution string `json:"saveDataSuccessExecution,omitempty"` // "all" | "none"
}

// ParseSettings decodes a Workflow's stored settings JSON, defaulting any
// unset recognized option.
func ParseSettings(raw json.RawMessage) Settings {
	s := Settings{
		SaveExecutionToDatabase: true,
		SaveDataErrorExecution:  "all",
		SaveDataSuccessExecution: "all",
	}
	if len(raw) == 0 {
		return s
	}
	_ = json.Unmarshal(raw, &s)
	return s
}

// NodeSettings holds the recognized per-node settings from §3.
type NodeSettings struct {
	ContinueOnFail    bool     `json:"continueOnFail,omitempty"`
	Compact           bool     `json:"compact,omitempty"`
	CredentialRefs    []string `json:"credentialRefs,omitempty"`
}

// Node is a unit of work in a workflow.
type Node struct {
	ID       string          `json:"id"`
	Type     string          `json:"type"`
	Name     string          `json:"name"`
	Parameters json.RawMessage `json:"parameters,omitempty"`
	Disabled bool            `json:"disabled,omitempty"`
	Settings NodeSettings    `json:"settings,omitempty"`
}

// Connection is a directed edge from a source node's output port to a
// target node's input port.
type Connection struct {
	ID           string `json:"id"`
	SourceNodeID string `json:"sourceNodeId"`
	TargetNodeID string `json:"targetNodeId"`
	SourceOutput string `json:"sourceOutput,omitempty"` // default "main"
	TargetInput  string `json:"targetInput,omitempty"`  // default "main"
}

// MainPort is the default port name for both connection ends.
const MainPort = "main"

// Port returns the connection's source output port, defaulting to "main".
func (c Connection) SourcePort() string {
	if c.SourceOutput == "" {
		return MainPort
	}
	return c.SourceOutput
}

// TargetPort returns the connection's target input port, defaulting to "main".
func (c Connection) TargetPort() string {
	if c.TargetInput == "" {
		return MainPort
	}
	return c.TargetInput
}

// TriggerVariant enumerates the kinds of trigger a TriggerDefinition may be.
type TriggerVariant string

const (
	TriggerVariantWebhook        TriggerVariant = "webhook"
	TriggerVariantSchedule       TriggerVariant = "schedule"
	TriggerVariantManual         TriggerVariant = "manual"
	TriggerVariantWorkflowCalled TriggerVariant = "workflow-called"
)

// WebhookAuthType enumerates webhook authentication modes.
type WebhookAuthType string

const (
	WebhookAuthNone       WebhookAuthType = "none"
	WebhookAuthBasic      WebhookAuthType = "basic"
	WebhookAuthHeader     WebhookAuthType = "header"
	WebhookAuthQuery      WebhookAuthType = "query"
	WebhookAuthCredential WebhookAuthType = "credential"
)

// WebhookResponseMode enumerates webhook response modes.
type WebhookResponseMode string

const (
	WebhookResponseImmediate WebhookResponseMode = "immediate"
	WebhookResponseLastNode  WebhookResponseMode = "last-node"
)

// WebhookResponseContentType enumerates recognized response content types.
type WebhookResponseContentType string

const (
	WebhookContentTypeJSON WebhookResponseContentType = "json"
	WebhookContentTypeText WebhookResponseContentType = "text"
	WebhookContentTypeCustom WebhookResponseContentType = "custom"
)

// WebhookHeader is a single configured response header.
type WebhookHeader struct {
	Name  string `json:"name"`
	Value string `json:"value"`
}

// WebhookSettings is the variant-specific settings of a webhook trigger.
type WebhookSettings struct {
	Method      string          `json:"method"`
	UUIDSegment string          `json:"uuidSegment,omitempty"`
	PathTemplate string         `json:"pathTemplate,omitempty"`
	AuthType    WebhookAuthType `json:"authType,omitempty"`
	AuthUser    string          `json:"authUser,omitempty"`
	AuthPass    string          `json:"authPass,omitempty"`
	AuthHeaderName  string      `json:"authHeaderName,omitempty"`
	AuthHeaderValue string      `json:"authHeaderValue,omitempty"`
	AuthQueryName   string      `json:"authQueryName,omitempty"`
	AuthQueryValue  string      `json:"authQueryValue,omitempty"`
	CredentialID    string      `json:"credentialId,omitempty"`
	ResponseMode WebhookResponseMode `json:"responseMode,omitempty"`

	AllowedOrigins      string                     `json:"allowedOrigins,omitempty"`
	BinaryPropertyName  string                     `json:"binaryProperty,omitempty"`
	IgnoreBots          bool                       `json:"ignoreBots,omitempty"`
	IPWhitelist         string                     `json:"ipWhitelist,omitempty"`
	NoResponseBody      bool                       `json:"noResponseBody,omitempty"`
	RawBody             bool                       `json:"rawBody,omitempty"`
	ResponseContentType WebhookResponseContentType `json:"responseContentType,omitempty"`
	CustomContentType   string                     `json:"customContentType,omitempty"`
	ResponseHeaders     []WebhookHeader            `json:"responseHeaders,omitempty"`
	PropertyName        string                     `json:"propertyName,omitempty"`
}

// ScheduleSettings is the variant-specific settings of a schedule trigger.
type ScheduleSettings struct {
	CronExpression string `json:"cronExpression"`
	Timezone       string `json:"timezone,omitempty"`
	Description    string `json:"description,omitempty"`
	OverlapPolicy  string `json:"overlapPolicy,omitempty"`
}

// TriggerDefinition configures one entry point into a workflow.
type TriggerDefinition struct {
	ID       string         `json:"id"`
	Variant  TriggerVariant `json:"variant"`
	NodeID   string         `json:"nodeId"`
	Active   bool           `json:"active"`
	Webhook  *WebhookSettings  `json:"webhook,omitempty"`
	Schedule *ScheduleSettings `json:"schedule,omitempty"`
}

// PathPattern joins a webhook trigger's optional UUID segment and path
// template into the single pattern the router matches against, per §4.1.
func (t TriggerDefinition) PathPattern() string {
	if t.Webhook == nil {
		return ""
	}
	segments := make([]string, 0, 2)
	if t.Webhook.UUIDSegment != "" {
		segments = append(segments, t.Webhook.UUIDSegment)
	}
	if t.Webhook.PathTemplate != "" {
		segments = append(segments, t.Webhook.PathTemplate)
	}
	pattern := ""
	for i, s := range segments {
		if i > 0 {
			pattern += "/"
		}
		pattern += s
	}
	return pattern
}

// WorkflowStatus represents a workflow's coarse lifecycle status, kept
// alongside the Active flag for administrative listing.
type WorkflowStatus string

const (
	WorkflowStatusDraft    WorkflowStatus = "draft"
	WorkflowStatusActive   WorkflowStatus = "active"
	WorkflowStatusInactive WorkflowStatus = "inactive"
	WorkflowStatusArchived WorkflowStatus = "archived"
)

// CreateWorkflowInput is the payload accepted when creating a workflow.
type CreateWorkflowInput struct {
	Name        string          `json:"name" validate:"required,min=1,max=255"`
	Nodes       json.RawMessage `json:"nodes" validate:"required"`
	Connections json.RawMessage `json:"connections"`
	Triggers    json.RawMessage `json:"triggers"`
	Settings    json.RawMessage `json:"settings"`
}

// UpdateWorkflowInput is the payload accepted when updating a workflow.
type UpdateWorkflowInput struct {
	Name        *string         `json:"name,omitempty"`
	Active      *bool           `json:"active,omitempty"`
	Nodes       json.RawMessage `json:"nodes,omitempty"`
	Connections json.RawMessage `json:"connections,omitempty"`
	Triggers    json.RawMessage `json:"triggers,omitempty"`
	Settings    json.RawMessage `json:"settings,omitempty"`
}

// ExecutionStatus represents an execution's terminal or in-flight status.
type ExecutionStatus string

const (
	ExecutionStatusRunning   ExecutionStatus = "RUNNING"
	ExecutionStatusSuccess   ExecutionStatus = "SUCCESS"
	ExecutionStatusError     ExecutionStatus = "ERROR"
	ExecutionStatusCancelled ExecutionStatus = "CANCELLED"
	ExecutionStatusTimeout   ExecutionStatus = "TIMEOUT"
)

// Execution is the durable record of one run, written only when the
// owning workflow has saveExecutionToDatabase enabled (§4.4.5).
type Execution struct {
	ID          string           `db:"id" json:"id"`
	WorkflowID  string           `db:"workflow_id" json:"workflow_id"`
	UserID      string           `db:"user_id" json:"user_id"`
	TriggerNodeID string         `db:"trigger_node_id" json:"trigger_node_id"`
	Status      ExecutionStatus  `db:"status" json:"status"`
	StartedAt   time.Time        `db:"started_at" json:"started_at"`
	FinishedAt  *time.Time       `db:"finished_at" json:"finished_at,omitempty"`
	TriggerData *json.RawMessage `db:"trigger_data" json:"trigger_data,omitempty"`
	Error       *json.RawMessage `db:"error" json:"error,omitempty"`
}

// NodeExecution is the durable per-node record mirroring NodeExecutionState.
type NodeExecution struct {
	ID          string           `db:"id" json:"id"`
	ExecutionID string           `db:"execution_id" json:"execution_id"`
	NodeID      string           `db:"node_id" json:"node_id"`
	Status      string           `db:"status" json:"status"`
	StartedAt   *time.Time       `db:"started_at" json:"started_at,omitempty"`
	FinishedAt  *time.Time       `db:"finished_at" json:"finished_at,omitempty"`
	InputData   *json.RawMessage `db:"input_data" json:"input_data,omitempty"`
	OutputData  *json.RawMessage `db:"output_data" json:"output_data,omitempty"`
	Error       *json.RawMessage `db:"error" json:"error,omitempty"`
}

// ExecutionFilter narrows a listing of executions.
type ExecutionFilter struct {
	WorkflowID string          `json:"workflow_id,omitempty"`
	Status     ExecutionStatus `json:"status,omitempty"`
	StartDate  *time.Time      `json:"start_date,omitempty"`
	EndDate    *time.Time      `json:"end_date,omitempty"`
}

// Validate checks the filter's internal consistency.
func (f ExecutionFilter) Validate() error {
	if f.StartDate != nil && f.EndDate != nil && f.EndDate.Before(*f.StartDate) {
		return errors.New("end_date must be after start_date")
	}
	return nil
}

// PaginationCursor identifies a position in a time-ordered listing.
type PaginationCursor struct {
	CreatedAt time.Time `json:"created_at"`
	ID        string    `json:"id"`
}

// Encode encodes the cursor to a base64 string.
func (c PaginationCursor) Encode() string {
	data, err := json.Marshal(c)
	if err != nil {
		return ""
	}
	return base64.URLEncoding.EncodeToString(data)
}

// DecodePaginationCursor decodes a base64 cursor string.
func DecodePaginationCursor(encoded string) (PaginationCursor, error) {
	if encoded == "" {
		return PaginationCursor{}, errors.New("empty cursor")
	}
	data, err := base64.URLEncoding.DecodeString(encoded)
	if err != nil {
		return PaginationCursor{}, fmt.Errorf("invalid cursor encoding: %w", err)
	}
	var cursor PaginationCursor
	if err := json.Unmarshal(data, &cursor); err != nil {
		return PaginationCursor{}, fmt.Errorf("invalid cursor format: %w", err)
	}
	return cursor, nil
}

// ExecutionListResult is a paginated listing of executions.
type ExecutionListResult struct {
	Data       []*Execution `json:"data"`
	Cursor     string       `json:"cursor,omitempty"`
	HasMore    bool         `json:"has_more"`
	TotalCount int          `json:"total_count"`
}
