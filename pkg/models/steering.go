package models

import "time"

// SteerKind is the closed enumeration of steering message variants.
type SteerKind string

const (
	SteerUserText SteerKind = "user_text"
	SteerAbort    SteerKind = "abort"
	SteerSkipTool SteerKind = "skip_tool"
)

// SteerMessage is a control message delivered through an execution's
// steering channel. Exactly one of the kind-specific fields below is
// meaningful for a given Kind — Go has no sum types, so this follows the
// same tagged-struct idiom as Event rather than an interface hierarchy,
// keeping the channel element type a plain value.
type SteerMessage struct {
	Kind      SteerKind `json:"kind"`
	Content   string    `json:"content,omitempty"`    // SteerUserText
	Reason    string    `json:"reason,omitempty"`      // SteerAbort
	ToolCallID string   `json:"tool_call_id,omitempty"` // SteerSkipTool
	Timestamp time.Time `json:"timestamp"`
}

// UserText builds a SteerUserText message.
func UserText(content string, at time.Time) SteerMessage {
	return SteerMessage{Kind: SteerUserText, Content: content, Timestamp: at}
}

// Abort builds a SteerAbort message.
func Abort(reason string, at time.Time) SteerMessage {
	return SteerMessage{Kind: SteerAbort, Reason: reason, Timestamp: at}
}

// SkipTool builds a SteerSkipTool message.
func SkipTool(callID string, at time.Time) SteerMessage {
	return SteerMessage{Kind: SteerSkipTool, ToolCallID: callID, Timestamp: at}
}
