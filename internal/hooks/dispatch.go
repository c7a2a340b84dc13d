package hooks

import (
	"context"
	"fmt"

	"github.com/rs/zerolog"
)

// Dispatcher runs hook callbacks for a session. Callback lists are awaited
// sequentially per event; the dispatcher holds no mutable state and is safe
// for concurrent use from multiple in-flight tool calls.
type Dispatcher struct {
	cfg    Config
	logger zerolog.Logger
}

// NewDispatcher builds a dispatcher over a merged hook configuration.
func NewDispatcher(cfg Config, logger zerolog.Logger) *Dispatcher {
	return &Dispatcher{
		cfg:    cfg,
		logger: logger.With().Str("component", "hooks").Logger(),
	}
}

// PreToolUse runs matching pre-tool callbacks in order. The first deny
// short-circuits the rest; the caller must not execute the tool and must not
// dispatch PostToolUse for that invocation.
func (d *Dispatcher) PreToolUse(ctx context.Context, in Input) Output {
	in.Event = EventPreToolUse
	for _, m := range d.cfg.PreToolUse {
		if !m.Matches(in.ToolName) {
			continue
		}
		for _, cb := range m.Callbacks {
			out := d.invoke(ctx, cb, in)
			if out.Denied() {
				return out
			}
		}
	}
	return Allow()
}

// PostToolUse runs every matching post-tool callback unconditionally; the
// side effect already happened and each collector must get to record it.
func (d *Dispatcher) PostToolUse(ctx context.Context, in Input) {
	in.Event = EventPostToolUse
	for _, m := range d.cfg.PostToolUse {
		if !m.Matches(in.ToolName) {
			continue
		}
		for _, cb := range m.Callbacks {
			d.invoke(ctx, cb, in)
		}
	}
}

// Stop runs end-of-session callbacks sequentially.
func (d *Dispatcher) Stop(ctx context.Context, in Input) {
	in.Event = EventStop
	d.runAll(ctx, d.cfg.Stop, in)
}

// SubagentStop runs end-of-subsession callbacks sequentially.
func (d *Dispatcher) SubagentStop(ctx context.Context, in Input) {
	in.Event = EventSubagentStop
	in.Subagent = true
	d.runAll(ctx, d.cfg.SubagentStop, in)
}

func (d *Dispatcher) runAll(ctx context.Context, matchers []Matcher, in Input) {
	for _, m := range matchers {
		if !m.Matches(in.ToolName) {
			continue
		}
		for _, cb := range m.Callbacks {
			d.invoke(ctx, cb, in)
		}
	}
}

// invoke shields the session from misbehaving callbacks: a panic or error is
// logged and treated as allow, so safety and evidence degrade independently
// instead of crashing the host.
func (d *Dispatcher) invoke(ctx context.Context, cb Callback, in Input) (out Output) {
	defer func() {
		if r := recover(); r != nil {
			d.logger.Warn().
				Str("event", string(in.Event)).
				Str("tool", in.ToolName).
				Str("panic", fmt.Sprint(r)).
				Msg("hook callback panicked, treating as allow")
			out = Allow()
		}
	}()

	out, err := cb(ctx, in)
	if err != nil {
		d.logger.Warn().
			Err(err).
			Str("event", string(in.Event)).
			Str("tool", in.ToolName).
			Msg("hook callback failed, treating as allow")
		return Allow()
	}
	return out
}
