package mcpserver

import (
	"context"
	"errors"
	"time"

	"github.com/modelcontextprotocol/go-sdk/mcp"

	"github.com/qloopdev/qloop/internal/safety"
)

type loopRunInput struct {
	Task          string `json:"task" jsonschema:"required,Task description for the agent"`
	MaxIterations int    `json:"max_iterations,omitempty" jsonschema:"Iteration limit, clamped to the hard cap of 5"`
}

type loopRunOutput struct {
	Status          string  `json:"status" jsonschema:"success or terminated"`
	Reason          string  `json:"reason" jsonschema:"Termination reason"`
	FinalScore      float64 `json:"final_score" jsonschema:"Quality score of the last iteration"`
	TotalIterations int     `json:"total_iterations" jsonschema:"Iterations performed"`
	DurationSeconds float64 `json:"duration_seconds" jsonschema:"Total wall time"`
	Error           string  `json:"error,omitempty" jsonschema:"Fatal error, if any"`
}

type validateInput struct {
	Value string `json:"value" jsonschema:"required,Command line or file path to check"`
}

type validateOutput struct {
	Allowed  bool   `json:"allowed" jsonschema:"Whether the value passes the safety rules"`
	Reason   string `json:"reason,omitempty" jsonschema:"Why the value was rejected"`
	Category string `json:"category,omitempty" jsonschema:"Matched pattern category"`
	Severity int    `json:"severity,omitempty" jsonschema:"Severity 1-5 of the matched rule"`
}

type sanitizeInput struct {
	Filename string `json:"filename" jsonschema:"required,Untrusted filename to sanitize"`
}

type sanitizeOutput struct {
	Sanitized string `json:"sanitized" jsonschema:"Safe filename"`
}

type runsListInput struct {
	Limit int `json:"limit,omitempty" jsonschema:"Maximum runs to return (default: 10)"`
}

type runSummary struct {
	RunID      string  `json:"run_id"`
	CreatedAt  string  `json:"created_at"`
	Task       string  `json:"task"`
	Status     string  `json:"status"`
	Reason     string  `json:"reason"`
	FinalScore float64 `json:"final_score"`
	Iterations int     `json:"iterations"`
}

type runsListOutput struct {
	Runs []runSummary `json:"runs"`
}

func (s *Server) registerTools() {
	mcp.AddTool(s.mcp, &mcp.Tool{
		Name:        "loop_run",
		Description: "Run a task through the iterative, safety-gated agent loop. Iterates until the quality threshold is met or a termination condition fires, and returns the final verdict.",
	}, func(ctx context.Context, req *mcp.CallToolRequest, args loopRunInput) (*mcp.CallToolResult, loopRunOutput, error) {
		res, err := s.runFn(ctx, args.Task, args.MaxIterations)
		out := loopRunOutput{
			Status:          res.Status,
			Reason:          string(res.Reason),
			FinalScore:      res.FinalScore,
			TotalIterations: res.TotalIterations,
			DurationSeconds: res.TotalDuration.Seconds(),
			Error:           res.Error,
		}
		if err != nil && res.Status == "" {
			return nil, loopRunOutput{}, err
		}
		// A fatal iteration error still yields a well-formed result.
		return nil, out, nil
	})

	mcp.AddTool(s.mcp, &mcp.Tool{
		Name:        "validate_command",
		Description: "Check a shell command against the destructive-operation rules without running anything.",
	}, func(ctx context.Context, req *mcp.CallToolRequest, args validateInput) (*mcp.CallToolResult, validateOutput, error) {
		return nil, verdict(s.validator.ValidateCommand(args.Value)), nil
	})

	mcp.AddTool(s.mcp, &mcp.Tool{
		Name:        "validate_path",
		Description: "Check a file path against the system-path and sensitive-file rules without touching the filesystem.",
	}, func(ctx context.Context, req *mcp.CallToolRequest, args validateInput) (*mcp.CallToolResult, validateOutput, error) {
		return nil, verdict(s.validator.ValidatePath(args.Value)), nil
	})

	mcp.AddTool(s.mcp, &mcp.Tool{
		Name:        "sanitize_filename",
		Description: "Rewrite an untrusted filename into a safe form: traversal stripped, characters allow-listed, length bounded.",
	}, func(ctx context.Context, req *mcp.CallToolRequest, args sanitizeInput) (*mcp.CallToolResult, sanitizeOutput, error) {
		return nil, sanitizeOutput{Sanitized: safety.SanitizeFilename(args.Filename)}, nil
	})

	if s.store == nil {
		s.logger.Warn().Msg("run store not configured, skipping runs_list tool")
		return
	}
	mcp.AddTool(s.mcp, &mcp.Tool{
		Name:        "runs_list",
		Description: "List recent loop runs with their status, score, and termination reason.",
	}, func(ctx context.Context, req *mcp.CallToolRequest, args runsListInput) (*mcp.CallToolResult, runsListOutput, error) {
		limit := args.Limit
		if limit <= 0 {
			limit = 10
		}
		runs, err := s.store.ListRuns(ctx, limit)
		if err != nil {
			return nil, runsListOutput{}, err
		}
		out := runsListOutput{Runs: make([]runSummary, 0, len(runs))}
		for _, r := range runs {
			out.Runs = append(out.Runs, runSummary{
				RunID:      r.RunID,
				CreatedAt:  r.CreatedAt.Format(time.RFC3339),
				Task:       r.Task,
				Status:     r.Status,
				Reason:     r.Reason,
				FinalScore: r.FinalScore,
				Iterations: r.TotalIterations,
			})
		}
		return nil, out, nil
	})
}

// verdict maps a validation error onto the tool output shape.
func verdict(err error) validateOutput {
	if err == nil {
		return validateOutput{Allowed: true}
	}
	out := validateOutput{Allowed: false, Reason: err.Error()}
	var verr *safety.ValidationError
	if errors.As(err, &verr) {
		out.Category = string(verr.Category)
		out.Severity = verr.Severity
	}
	return out
}
