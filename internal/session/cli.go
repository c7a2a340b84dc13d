package session

import (
	"context"
	"errors"
	"fmt"
	"os/exec"
	"strconv"
	"strings"
	"time"

	"github.com/rs/zerolog"
)

type agentSpec struct {
	defaultSubcommand string
	extraFlags        []string
	maxTurnsFlag      string
}

// agentSpecs lists the agent CLIs whose stream-json output the consumer
// understands: nested assistant/user/result envelopes with content blocks.
// Agents speaking other formats run as type "exec" with the flat protocol.
var agentSpecs = map[string]agentSpec{
	"claude": {
		extraFlags:   []string{"--print", "--output-format", "stream-json", "--verbose", "--dangerously-skip-permissions"},
		maxTurnsFlag: "--max-turns",
	},
	"gemini": {
		extraFlags: []string{"--output-format", "stream-json", "--approval-mode", "yolo"},
	},
}

// Config selects and parameterizes a CLI-backed session.
type Config struct {
	Type    string   `json:"type"    mapstructure:"type"`
	Cmd     []string `json:"cmd"     mapstructure:"cmd"`
	Model   string   `json:"model"   mapstructure:"model"`
	WorkDir string   `json:"workdir" mapstructure:"workdir"`
}

// CLISession runs an agent CLI as a child process and normalizes its JSON
// event stream into a transcript, dispatching hooks along the way.
type CLISession struct {
	cfg    Config
	base   []string
	logger zerolog.Logger
}

// NewCLISession builds a session for a known agent type, or for an arbitrary
// command when cfg.Type is "exec".
func NewCLISession(cfg Config, logger zerolog.Logger) (*CLISession, error) {
	var base []string
	if cfg.Type == "exec" {
		if len(cfg.Cmd) == 0 {
			return nil, fmt.Errorf("exec session requires cmd")
		}
		base = cfg.Cmd
	} else {
		spec, ok := agentSpecs[cfg.Type]
		if !ok {
			return nil, fmt.Errorf("unknown agent type %q", cfg.Type)
		}
		base = prepareCmd(cfg.Type, spec, cfg.Model)
	}
	return &CLISession{
		cfg:    cfg,
		base:   base,
		logger: logger.With().Str("component", "session").Str("agent", cfg.Type).Logger(),
	}, nil
}

func prepareCmd(baseCmd string, spec agentSpec, model string) []string {
	out := []string{baseCmd}
	if spec.defaultSubcommand != "" {
		out = append(out, spec.defaultSubcommand)
	}
	if model != "" {
		out = append(out, "--model", model)
	}
	return append(out, spec.extraFlags...)
}

// Run executes the agent once. The per-request timeout bounds the whole child
// process; a pre-tool deny kills the child and returns a DeniedError.
func (s *CLISession) Run(ctx context.Context, req Request) (*Transcript, error) {
	start := time.Now()

	if req.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, req.Timeout)
		defer cancel()
	}

	args := append([]string(nil), s.base...)
	if req.MaxTurns > 0 {
		if spec, ok := agentSpecs[s.cfg.Type]; ok && spec.maxTurnsFlag != "" {
			args = append(args, spec.maxTurnsFlag, strconv.Itoa(req.MaxTurns))
		}
	}

	cmd := exec.CommandContext(ctx, args[0], args[1:]...)
	cmd.Dir = s.workDir(req)
	cmd.Stdin = strings.NewReader(req.Prompt)

	stdout, err := cmd.StdoutPipe()
	if err != nil {
		return nil, fmt.Errorf("stdout pipe: %w", err)
	}
	if err := cmd.Start(); err != nil {
		return nil, fmt.Errorf("start %s: %w", args[0], err)
	}

	s.logger.Debug().Strs("cmd", args).Msg("session started")

	tr, streamErr := consumeStream(ctx, stdout, req.Hooks)
	if streamErr != nil {
		// The scanner stops pumping on deny; kill the child so Wait returns.
		_ = cmd.Process.Kill()
	}
	waitErr := cmd.Wait()

	tr.Duration = time.Since(start)

	if streamErr != nil {
		return nil, streamErr
	}
	if waitErr != nil {
		switch {
		case errors.Is(ctx.Err(), context.DeadlineExceeded):
			return nil, fmt.Errorf("session timed out: %w", ctx.Err())
		case ctx.Err() != nil:
			return nil, fmt.Errorf("session canceled: %w", ctx.Err())
		}
		return nil, fmt.Errorf("session process: %w", waitErr)
	}

	s.logger.Debug().
		Int("events", len(tr.Events)).
		Dur("duration", tr.Duration).
		Msg("session finished")
	return tr, nil
}

// Describe reports the invocation shape for diagnostics.
func (s *CLISession) Describe() Info {
	return Info{
		Type:    s.cfg.Type,
		Cmd:     append([]string(nil), s.base...),
		Model:   s.cfg.Model,
		WorkDir: s.cfg.WorkDir,
	}
}

func (s *CLISession) workDir(req Request) string {
	if req.WorkDir != "" {
		return req.WorkDir
	}
	return s.cfg.WorkDir
}
