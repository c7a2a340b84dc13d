package hooks

import (
	"context"
	"errors"
	"sort"
	"strings"

	"github.com/rs/zerolog"

	"github.com/qloopdev/qloop/internal/evidence"
	"github.com/qloopdev/qloop/internal/safety"
)

// FindingRecorder receives security findings for blocked operations. The
// evidence Collector satisfies it.
type FindingRecorder interface {
	RecordSecurityFinding(severity int, description string)
}

// SafetyHooks gates Bash commands and Write/Edit paths on the validator. A
// non-nil recorder gets a security finding for every deny, so the quality
// assessor can apply its security ceilings.
func SafetyHooks(v *safety.Validator, rec FindingRecorder) Config {
	deny := func(err error) Output {
		if rec != nil {
			severity := 3
			var verr *safety.ValidationError
			if errors.As(err, &verr) && verr.Severity > 0 {
				severity = verr.Severity
			}
			rec.RecordSecurityFinding(severity, err.Error())
		}
		return Deny(err.Error())
	}

	blockDangerousCommands := func(_ context.Context, in Input) (Output, error) {
		command, _ := in.ToolInput["command"].(string)
		if command == "" {
			return Allow(), nil
		}
		if err := v.ValidateCommand(command); err != nil {
			return deny(err), nil
		}
		return Allow(), nil
	}

	validateFilePaths := func(_ context.Context, in Input) (Output, error) {
		path, _ := in.ToolInput["file_path"].(string)
		if path == "" {
			return Allow(), nil
		}
		if err := v.ValidatePath(path); err != nil {
			return deny(err), nil
		}
		return Allow(), nil
	}

	return Config{
		PreToolUse: []Matcher{
			NewMatcher("Bash", blockDangerousCommands),
			NewMatcher("Write|Edit", validateFilePaths),
		},
	}
}

// EvidenceHooks records file changes, command results, every tool invocation,
// and session lifecycle into the collector.
func EvidenceHooks(c *evidence.Collector) Config {
	collectFileChanges := func(_ context.Context, in Input) (Output, error) {
		path, _ := in.ToolInput["file_path"].(string)
		switch in.ToolName {
		case "Write":
			content, _ := in.ToolInput["content"].(string)
			lines := 0
			if content != "" {
				lines = strings.Count(content, "\n") + 1
			}
			c.RecordFileChange(path, evidence.ActionWrite, lines)
		case "Edit":
			oldStr, _ := in.ToolInput["old_string"].(string)
			newStr, _ := in.ToolInput["new_string"].(string)
			lines := strings.Count(newStr, "\n") - strings.Count(oldStr, "\n")
			if lines < 0 {
				lines = -lines
			}
			c.RecordFileChange(path, evidence.ActionEdit, lines+1)
		case "Read":
			c.RecordFileChange(path, evidence.ActionRead, 0)
		}
		return Allow(), nil
	}

	collectCommandResults := func(_ context.Context, in Input) (Output, error) {
		command, _ := in.ToolInput["command"].(string)
		exitCode := 0
		switch v := in.ToolInput["exit_code"].(type) {
		case int:
			exitCode = v
		case float64:
			exitCode = int(v)
		}
		c.RecordCommand(command, in.ToolOutput, exitCode)
		return Allow(), nil
	}

	trackAllTools := func(_ context.Context, in Input) (Output, error) {
		c.RecordToolInvocation(in.ToolName, flattenInput(in.ToolInput), in.ToolOutput)
		return Allow(), nil
	}

	onStop := func(_ context.Context, in Input) (Output, error) {
		c.Finalize(in.SessionID)
		return Allow(), nil
	}

	onSubagentStop := func(_ context.Context, in Input) (Output, error) {
		c.RecordSubagentStop(in.ToolUseID)
		return Allow(), nil
	}

	return Config{
		PostToolUse: []Matcher{
			NewMatcher("Write|Edit|Read", collectFileChanges),
			NewMatcher("Bash", collectCommandResults),
			NewMatcher("", trackAllTools),
		},
		Stop:         []Matcher{NewMatcher("", onStop)},
		SubagentStop: []Matcher{NewMatcher("", onSubagentStop)},
	}
}

// LoggingHooks traces every tool invocation through the given logger.
func LoggingHooks(logger zerolog.Logger) Config {
	pre := func(_ context.Context, in Input) (Output, error) {
		logger.Debug().Str("tool", in.ToolName).Msg("tool call starting")
		return Allow(), nil
	}
	post := func(_ context.Context, in Input) (Output, error) {
		logger.Debug().Str("tool", in.ToolName).Int("output_len", len(in.ToolOutput)).Msg("tool call finished")
		return Allow(), nil
	}
	return Config{
		PreToolUse:  []Matcher{NewMatcher("", pre)},
		PostToolUse: []Matcher{NewMatcher("", post)},
	}
}

// SDKHooks is the default pipeline: safety gating ordered ahead of evidence
// collection, plus lifecycle finalization.
func SDKHooks(v *safety.Validator, c *evidence.Collector) Config {
	return Merge(SafetyHooks(v, c), EvidenceHooks(c))
}

func flattenInput(in map[string]any) string {
	if len(in) == 0 {
		return ""
	}
	keys := make([]string, 0, len(in))
	for k := range in {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	var b strings.Builder
	for _, k := range keys {
		v := in[k]
		if b.Len() > 0 {
			b.WriteByte(' ')
		}
		b.WriteString(k)
		b.WriteByte('=')
		if s, ok := v.(string); ok {
			b.WriteString(s)
		} else {
			b.WriteString("<value>")
		}
		if b.Len() > evidence.MaxCapturedOutput {
			break
		}
	}
	return b.String()
}
