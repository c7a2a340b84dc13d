// Package session provides implementations for running agent execution
// sessions. A session consumes a prompt plus a hook dispatcher and returns a
// transcript of what the agent did, or an error when the invocation itself
// fails.
package session

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/qloopdev/qloop/internal/hooks"
)

// Request is the per-iteration input to a session.
type Request struct {
	Prompt   string
	Model    string
	MaxTurns int
	Timeout  time.Duration
	Hooks    *hooks.Dispatcher
	WorkDir  string
}

// Event is one normalized entry of a session transcript.
type Event struct {
	Type      EventType      `json:"type"`
	Tool      string         `json:"tool,omitempty"`
	ToolUseID string         `json:"tool_use_id,omitempty"`
	Input     map[string]any `json:"input,omitempty"`
	Output    string         `json:"output,omitempty"`
	Text      string         `json:"text,omitempty"`
	SessionID string         `json:"session_id,omitempty"`
}

// EventType classifies transcript entries.
type EventType string

const (
	EventToolUse       EventType = "tool_use"
	EventToolResult    EventType = "tool_result"
	EventText          EventType = "text"
	EventSubagentDone  EventType = "subagent_done"
	EventSessionResult EventType = "result"
)

// Transcript is the ordered record of a completed session.
type Transcript struct {
	Events       []Event
	FinalText    string
	MessageCount int
	SessionID    string
	Duration     time.Duration
}

// Session runs one agent execution with the hook pipeline attached.
type Session interface {
	Run(ctx context.Context, req Request) (*Transcript, error)
	Describe() Info
}

// Info describes how a session is invoked.
type Info struct {
	Type    string
	Cmd     []string
	Model   string
	WorkDir string
}

// ErrDenied reports that a safety hook blocked a tool call. The CLI session
// cannot veto a single in-flight call, so a pre-tool deny aborts the whole
// session and surfaces the reason here.
var ErrDenied = errors.New("tool call denied by safety hook")

// DeniedError wraps ErrDenied with the blocked tool and the deny reason.
type DeniedError struct {
	Tool   string
	Reason string
}

func (e *DeniedError) Error() string {
	return fmt.Sprintf("tool call denied by safety hook: %s: %s", e.Tool, e.Reason)
}

func (e *DeniedError) Unwrap() error { return ErrDenied }
