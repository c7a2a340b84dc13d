package session

import (
	"bufio"
	"context"
	"encoding/json"
	"io"

	"github.com/qloopdev/qloop/internal/hooks"
)

// streamBufferSize bounds a single JSON event line from the agent.
const streamBufferSize = 1 << 20

// subagentTool is the tool claude runs sub-sessions through; its results
// double as subagent completions.
const subagentTool = "Task"

// streamLine is the top-level envelope of one JSONL event. Claude-compatible
// CLIs (claude, gemini with stream-json output) emit system/assistant/user/
// result messages whose content blocks carry the tool traffic; exec agents
// speak the flat tool_use/tool_result/text/result protocol. Both shapes share
// this envelope, distinguished by the type field.
type streamLine struct {
	Type      string         `json:"type"`
	SessionID string         `json:"session_id"`
	Message   *streamMessage `json:"message"`
	Result    string         `json:"result"`

	// Flat-protocol fields, used by exec agents only.
	Tool      string         `json:"tool"`
	ToolUseID string         `json:"tool_use_id"`
	Input     map[string]any `json:"input"`
	Output    string         `json:"output"`
	Text      string         `json:"text"`
}

// streamMessage is the nested assistant/user payload. Content is either a
// plain string or an array of content blocks.
type streamMessage struct {
	Role    string `json:"role"`
	Content any    `json:"content"`
}

// pendingCall remembers a dispatched tool_use until its result arrives, so
// post hooks see the original tool name and input.
type pendingCall struct {
	tool  string
	input map[string]any
}

type streamConsumer struct {
	ctx     context.Context
	d       *hooks.Dispatcher
	tr      *Transcript
	pending map[string]pendingCall
}

// consumeStream normalizes the agent's line-delimited JSON events into a
// transcript, dispatching hooks per tool event. Unparseable lines are plain
// agent output and are kept as text. A pre-tool deny stops consumption
// immediately and surfaces as a DeniedError; the caller kills the child.
func consumeStream(ctx context.Context, r io.Reader, d *hooks.Dispatcher) (*Transcript, error) {
	c := &streamConsumer{
		ctx:     ctx,
		d:       d,
		tr:      &Transcript{},
		pending: make(map[string]pendingCall),
	}

	sc := bufio.NewScanner(r)
	sc.Buffer(make([]byte, 0, 64*1024), streamBufferSize)

	for sc.Scan() {
		line := sc.Bytes()
		if len(line) == 0 {
			continue
		}
		if err := c.consumeLine(line); err != nil {
			return c.tr, err
		}
	}
	if err := sc.Err(); err != nil {
		return c.tr, err
	}

	if d != nil {
		d.Stop(ctx, hooks.Input{SessionID: c.tr.SessionID})
	}
	return c.tr, nil
}

func (c *streamConsumer) consumeLine(line []byte) error {
	var ev streamLine
	if err := json.Unmarshal(line, &ev); err != nil {
		c.tr.Events = append(c.tr.Events, Event{Type: EventText, Text: string(line)})
		return nil
	}
	if ev.SessionID != "" {
		c.tr.SessionID = ev.SessionID
	}

	switch ev.Type {
	case "system":
		// Init lines carry session metadata only.
		return nil

	case "assistant":
		return c.consumeAssistant(ev.Message)

	case "user":
		c.consumeUser(ev.Message)
		return nil

	case "result":
		text := ev.Result
		if text == "" {
			text = ev.Text
		}
		if text != "" {
			c.tr.FinalText = text
		}
		c.tr.Events = append(c.tr.Events, Event{Type: EventSessionResult, Text: text, SessionID: ev.SessionID})
		return nil

	case "tool_use":
		return c.toolUse(ev.Tool, ev.ToolUseID, ev.Input)

	case "tool_result":
		input := ev.Input
		if input == nil {
			input = c.pending[ev.ToolUseID].input
		}
		c.toolResult(ev.Tool, ev.ToolUseID, input, ev.Output)
		return nil

	case "subagent_done":
		c.subagentDone(ev.ToolUseID)
		return nil

	case "text":
		c.text(ev.Text)
		return nil

	default:
		// Unknown event kinds are preserved verbatim for diagnostics.
		c.tr.Events = append(c.tr.Events, Event{Type: EventText, Text: string(line)})
		return nil
	}
}

// consumeAssistant walks the assistant message's content blocks: text blocks
// count as messages, tool_use blocks dispatch pre hooks.
func (c *streamConsumer) consumeAssistant(msg *streamMessage) error {
	if msg == nil {
		return nil
	}
	switch content := msg.Content.(type) {
	case string:
		c.text(content)
	case []any:
		for _, raw := range content {
			block, ok := raw.(map[string]any)
			if !ok {
				continue
			}
			switch block["type"] {
			case "text":
				if text, ok := block["text"].(string); ok {
					c.text(text)
				}
			case "tool_use":
				name, _ := block["name"].(string)
				id, _ := block["id"].(string)
				input, _ := block["input"].(map[string]any)
				if err := c.toolUse(name, id, input); err != nil {
					return err
				}
			}
		}
	}
	return nil
}

// consumeUser extracts tool_result blocks, matching each back to its pending
// tool_use so post hooks see the original tool and input. An is_error result
// surfaces as exit_code 1 for the evidence hooks.
func (c *streamConsumer) consumeUser(msg *streamMessage) {
	if msg == nil {
		return
	}
	blocks, ok := msg.Content.([]any)
	if !ok {
		return
	}
	for _, raw := range blocks {
		block, ok := raw.(map[string]any)
		if !ok || block["type"] != "tool_result" {
			continue
		}
		id, _ := block["tool_use_id"].(string)
		call := c.pending[id]

		input := call.input
		if isErr, _ := block["is_error"].(bool); isErr {
			merged := make(map[string]any, len(call.input)+1)
			for k, v := range call.input {
				merged[k] = v
			}
			merged["exit_code"] = 1
			input = merged
		}

		c.toolResult(call.tool, id, input, resultText(block["content"]))
		if call.tool == subagentTool {
			c.subagentDone(id)
		}
	}
}

func (c *streamConsumer) toolUse(tool, id string, input map[string]any) error {
	if c.d != nil {
		out := c.d.PreToolUse(c.ctx, hooks.Input{
			ToolName:  tool,
			ToolInput: input,
			ToolUseID: id,
			SessionID: c.tr.SessionID,
		})
		if out.Denied() {
			return &DeniedError{Tool: tool, Reason: out.Reason}
		}
	}
	c.pending[id] = pendingCall{tool: tool, input: input}
	c.tr.Events = append(c.tr.Events, Event{
		Type: EventToolUse, Tool: tool, ToolUseID: id, Input: input,
	})
	return nil
}

func (c *streamConsumer) toolResult(tool, id string, input map[string]any, output string) {
	delete(c.pending, id)
	if c.d != nil {
		c.d.PostToolUse(c.ctx, hooks.Input{
			ToolName:   tool,
			ToolInput:  input,
			ToolOutput: output,
			ToolUseID:  id,
			SessionID:  c.tr.SessionID,
		})
	}
	c.tr.Events = append(c.tr.Events, Event{
		Type: EventToolResult, Tool: tool, ToolUseID: id, Input: input, Output: output,
	})
}

func (c *streamConsumer) subagentDone(id string) {
	if c.d != nil {
		c.d.SubagentStop(c.ctx, hooks.Input{ToolUseID: id, SessionID: c.tr.SessionID})
	}
	c.tr.Events = append(c.tr.Events, Event{Type: EventSubagentDone, ToolUseID: id})
}

func (c *streamConsumer) text(s string) {
	c.tr.MessageCount++
	c.tr.FinalText = s
	c.tr.Events = append(c.tr.Events, Event{Type: EventText, Text: s})
}

// resultText flattens a tool_result content field, which is either a plain
// string or an array of text blocks.
func resultText(content any) string {
	switch c := content.(type) {
	case string:
		return c
	case []any:
		var out string
		for _, item := range c {
			if block, ok := item.(map[string]any); ok {
				if text, ok := block["text"].(string); ok {
					out += text
				}
			}
		}
		return out
	default:
		return ""
	}
}
