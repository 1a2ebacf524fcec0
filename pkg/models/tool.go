package models

import "encoding/json"

// ToolCall is produced by the planner. CallID is opaque and must be echoed
// back in the matching ToolResult.
type ToolCall struct {
	CallID    string          `json:"call_id"`
	ToolName  string          `json:"tool_name"`
	Arguments json.RawMessage `json:"arguments"`
}

// ToolResult is the shaped output of a tool invocation, fed back to the
// planner as a normal conversation message.
type ToolResult struct {
	CallID     string `json:"call_id"`
	Success    bool   `json:"success"`
	Output     string `json:"output,omitempty"`
	Error      string `json:"error,omitempty"`
	DurationMs int64  `json:"duration_ms,omitempty"`
}

// RiskLevel classifies how dangerous a tool is to invoke, driving sandbox
// selection (C5) and the approval threshold (C4).
type RiskLevel string

const (
	RiskLow    RiskLevel = "low"
	RiskMedium RiskLevel = "medium"
	RiskHigh   RiskLevel = "high"
)

// ToolDefinition describes one registered tool's contract to the planner
// and to the policy layer.
type ToolDefinition struct {
	Name        string          `json:"name"`
	Description string          `json:"description"`
	Parameters  json.RawMessage `json:"parameters"` // JSON Schema
	Category    string          `json:"category,omitempty"`
	Risk        RiskLevel       `json:"risk"`
}

// ToolChoice constrains how the planner may pick a tool on the next call.
type ToolChoice struct {
	Mode ToolChoiceMode `json:"mode"`
	Name string         `json:"name,omitempty"` // only set when Mode == ToolChoiceNamed
}

// ToolChoiceMode is a closed enumeration.
type ToolChoiceMode string

const (
	ToolChoiceAuto     ToolChoiceMode = "auto"
	ToolChoiceNone     ToolChoiceMode = "none"
	ToolChoiceRequired ToolChoiceMode = "required"
	ToolChoiceNamed    ToolChoiceMode = "named"
)
