// Package hooks provides the middleware pipeline around agent tool calls:
// safety validation before a tool runs, evidence collection after it, and
// session lifecycle finalization. Hook configurations compose by simple
// concatenation, preserving registration order.
package hooks

import (
	"context"
	"strings"
)

// Event names a lifecycle point of a tool invocation or session.
type Event string

const (
	EventPreToolUse   Event = "PreToolUse"
	EventPostToolUse  Event = "PostToolUse"
	EventStop         Event = "Stop"
	EventSubagentStop Event = "SubagentStop"
)

// Input carries everything a callback may inspect. ToolOutput is only set for
// post-tool events.
type Input struct {
	Event      Event
	ToolName   string
	ToolInput  map[string]any
	ToolOutput string
	ToolUseID  string
	SessionID  string
	Subagent   bool
}

// Decision is a callback verdict; only meaningful for pre-tool events.
type Decision string

const (
	DecisionAllow Decision = ""
	DecisionDeny  Decision = "deny"
)

// Output is the uniform callback result.
type Output struct {
	Decision Decision
	Reason   string
}

// Allow is the empty, permitting output.
func Allow() Output { return Output{} }

// Deny blocks the tool call with a human-readable reason.
func Deny(reason string) Output {
	return Output{Decision: DecisionDeny, Reason: reason}
}

// Denied reports whether the output blocks the call.
func (o Output) Denied() bool { return o.Decision == DecisionDeny }

// Callback is an asynchronous hook body. Returning an error never fails the
// session; the dispatcher downgrades it to allow-with-warning.
type Callback func(ctx context.Context, in Input) (Output, error)

// Matcher selects which tools a list of callbacks applies to. The pattern is
// a pipe-separated list of tool names ("Write|Edit"); empty matches all.
type Matcher struct {
	Pattern   string
	Callbacks []Callback
}

// NewMatcher builds a matcher for the given pattern.
func NewMatcher(pattern string, callbacks ...Callback) Matcher {
	return Matcher{Pattern: pattern, Callbacks: callbacks}
}

// Matches reports whether the matcher applies to the named tool.
func (m Matcher) Matches(tool string) bool {
	if m.Pattern == "" {
		return true
	}
	for _, candidate := range strings.Split(m.Pattern, "|") {
		if candidate == tool {
			return true
		}
	}
	return false
}

// Config holds the ordered matcher lists for every lifecycle event.
type Config struct {
	PreToolUse   []Matcher
	PostToolUse  []Matcher
	Stop         []Matcher
	SubagentStop []Matcher
}

// Merge concatenates configurations per event, preserving input order:
// callbacks of earlier configs run before those of later configs for any tool
// both match. Merge never re-sorts.
func Merge(configs ...Config) Config {
	var out Config
	for _, c := range configs {
		out.PreToolUse = append(out.PreToolUse, c.PreToolUse...)
		out.PostToolUse = append(out.PostToolUse, c.PostToolUse...)
		out.Stop = append(out.Stop, c.Stop...)
		out.SubagentStop = append(out.SubagentStop, c.SubagentStop...)
	}
	return out
}
