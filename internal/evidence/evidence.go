// Package evidence accumulates the objective trace of what an iteration
// actually did: files touched, commands run, tests executed, and a raw log of
// every tool invocation. Hook callbacks from the execution session populate
// the collector; the loop runner snapshots it after each iteration.
package evidence

import (
	"sync"
	"time"
)

// MaxCapturedOutput bounds every captured command/tool output.
const MaxCapturedOutput = 1000

// FileAction classifies a recorded file change.
type FileAction string

const (
	ActionWrite FileAction = "write"
	ActionEdit  FileAction = "edit"
	ActionRead  FileAction = "read"
)

// FileChange records one file operation.
type FileChange struct {
	Path         string     `json:"path"`
	Action       FileAction `json:"action"`
	LinesChanged int        `json:"lines_changed"`
	Timestamp    time.Time  `json:"timestamp"`
}

// CommandResult records one executed command with truncated output.
type CommandResult struct {
	Command   string    `json:"command"`
	Output    string    `json:"output"`
	ExitCode  int       `json:"exit_code"`
	Timestamp time.Time `json:"timestamp"`
}

// TestResult is a parsed test-runner invocation.
type TestResult struct {
	Framework string  `json:"framework"`
	Passed    int     `json:"passed"`
	Failed    int     `json:"failed"`
	Skipped   int     `json:"skipped"`
	Errors    int     `json:"errors"`
	Coverage  float64 `json:"coverage"`
}

// ToolInvocation is a diagnostic record of any tool call.
type ToolInvocation struct {
	Tool      string    `json:"tool"`
	Input     string    `json:"input"`
	Output    string    `json:"output"`
	Timestamp time.Time `json:"timestamp"`
}

// SubagentResult records a completed sub-session.
type SubagentResult struct {
	ToolUseID string `json:"tool_use_id"`
}

// SecurityFinding records a blocked dangerous operation or other security
// signal surfaced during the iteration. Severity follows the safety scale,
// 1 (informational) through 5 (critical).
type SecurityFinding struct {
	Severity    int    `json:"severity"`
	Description string `json:"description"`
}

// Snapshot is an immutable copy of the collector state. Slices are owned by
// the snapshot; later recording never mutates a snapshot already taken.
type Snapshot struct {
	FilesWritten    []string          `json:"files_written"`
	FilesEdited     []string          `json:"files_edited"`
	FilesRead       []string          `json:"files_read"`
	FileChanges     []FileChange      `json:"file_changes"`
	CommandsRun     []CommandResult   `json:"commands_run"`
	TestsRun        bool              `json:"tests_run"`
	TestResults     []TestResult      `json:"test_results"`
	ToolInvocations []ToolInvocation  `json:"tool_invocations"`
	SubagentsDone   []SubagentResult  `json:"subagents_done"`
	Findings        []SecurityFinding `json:"findings"`
	SessionID       string            `json:"session_id"`
	StartTime       time.Time         `json:"start_time"`
	EndTime         time.Time         `json:"end_time"`
	BuildFailed     bool              `json:"build_failed"`
}

// TotalFilesModified counts unique files written or edited.
func (s Snapshot) TotalFilesModified() int {
	seen := make(map[string]struct{}, len(s.FilesWritten)+len(s.FilesEdited))
	for _, p := range s.FilesWritten {
		seen[p] = struct{}{}
	}
	for _, p := range s.FilesEdited {
		seen[p] = struct{}{}
	}
	return len(seen)
}

// TotalTestsPassed sums passes across all recorded test runs.
func (s Snapshot) TotalTestsPassed() int {
	n := 0
	for _, r := range s.TestResults {
		n += r.Passed
	}
	return n
}

// TotalTestsFailed sums failures across all recorded test runs.
func (s Snapshot) TotalTestsFailed() int {
	n := 0
	for _, r := range s.TestResults {
		n += r.Failed
	}
	return n
}

// AllTestsPassing reports whether tests ran and none failed.
func (s Snapshot) AllTestsPassing() bool {
	return s.TestsRun && s.TotalTestsFailed() == 0 && s.TotalTestsPassed() > 0
}

// Collector is the mutable ledger. Every mutation takes the internal lock, so
// concurrent hook callbacks from the session's own goroutines are safe. Reset
// clears the ledger without changing the collector's identity; hook closures
// captured at pipeline construction stay valid for the whole run.
type Collector struct {
	mu sync.Mutex
	s  Snapshot
}

// NewCollector returns an empty collector with the start time set.
func NewCollector() *Collector {
	return &Collector{s: Snapshot{StartTime: time.Now()}}
}

// Reset clears all recorded evidence for the next iteration.
func (c *Collector) Reset() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.s = Snapshot{StartTime: time.Now()}
}

// RecordFileChange appends a file operation to the ledger.
func (c *Collector) RecordFileChange(path string, action FileAction, linesChanged int) {
	c.mu.Lock()
	defer c.mu.Unlock()
	switch action {
	case ActionWrite:
		c.s.FilesWritten = append(c.s.FilesWritten, path)
	case ActionEdit:
		c.s.FilesEdited = append(c.s.FilesEdited, path)
	case ActionRead:
		c.s.FilesRead = append(c.s.FilesRead, path)
	}
	c.s.FileChanges = append(c.s.FileChanges, FileChange{
		Path:         path,
		Action:       action,
		LinesChanged: linesChanged,
		Timestamp:    time.Now(),
	})
}

// RecordCommand appends a command execution and parses test output from it.
func (c *Collector) RecordCommand(command, output string, exitCode int) {
	truncated := truncate(output, MaxCapturedOutput)
	test, isTest := parseTestOutput(command, output)
	buildFailed := detectBuildFailure(command, output, exitCode)

	c.mu.Lock()
	defer c.mu.Unlock()
	c.s.CommandsRun = append(c.s.CommandsRun, CommandResult{
		Command:   command,
		Output:    truncated,
		ExitCode:  exitCode,
		Timestamp: time.Now(),
	})
	if isTest {
		c.s.TestsRun = true
		c.s.TestResults = append(c.s.TestResults, test)
	}
	if buildFailed {
		c.s.BuildFailed = true
	}
}

// RecordTestResults appends an already parsed test result.
func (c *Collector) RecordTestResults(result TestResult) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.s.TestsRun = true
	c.s.TestResults = append(c.s.TestResults, result)
}

// RecordToolInvocation appends a diagnostic record with truncated payloads.
func (c *Collector) RecordToolInvocation(tool, input, output string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.s.ToolInvocations = append(c.s.ToolInvocations, ToolInvocation{
		Tool:      tool,
		Input:     truncate(input, MaxCapturedOutput),
		Output:    truncate(output, MaxCapturedOutput),
		Timestamp: time.Now(),
	})
}

// RecordSubagentStop notes a completed sub-session.
func (c *Collector) RecordSubagentStop(toolUseID string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.s.SubagentsDone = append(c.s.SubagentsDone, SubagentResult{ToolUseID: toolUseID})
}

// RecordSecurityFinding notes a blocked or suspicious operation.
func (c *Collector) RecordSecurityFinding(severity int, description string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.s.Findings = append(c.s.Findings, SecurityFinding{Severity: severity, Description: description})
}

// Finalize stamps the session id and end time, usually from the stop hook.
func (c *Collector) Finalize(sessionID string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.s.SessionID = sessionID
	c.s.EndTime = time.Now()
}

// Snapshot returns a deep copy of the current ledger.
func (c *Collector) Snapshot() Snapshot {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := c.s
	out.FilesWritten = append([]string(nil), c.s.FilesWritten...)
	out.FilesEdited = append([]string(nil), c.s.FilesEdited...)
	out.FilesRead = append([]string(nil), c.s.FilesRead...)
	out.FileChanges = append([]FileChange(nil), c.s.FileChanges...)
	out.CommandsRun = append([]CommandResult(nil), c.s.CommandsRun...)
	out.TestResults = append([]TestResult(nil), c.s.TestResults...)
	out.ToolInvocations = append([]ToolInvocation(nil), c.s.ToolInvocations...)
	out.SubagentsDone = append([]SubagentResult(nil), c.s.SubagentsDone...)
	out.Findings = append([]SecurityFinding(nil), c.s.Findings...)
	return out
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n]
}
