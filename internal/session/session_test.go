package session

import (
	"context"
	"errors"
	"strings"
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/qloopdev/qloop/internal/evidence"
	"github.com/qloopdev/qloop/internal/hooks"
	"github.com/qloopdev/qloop/internal/safety"
)

func TestNewCLISession(t *testing.T) {
	t.Parallel()

	s, err := NewCLISession(Config{Type: "claude", Model: "sonnet"}, zerolog.Nop())
	require.NoError(t, err)
	info := s.Describe()
	assert.Equal(t, "claude", info.Type)
	assert.Contains(t, info.Cmd, "--model")
	assert.Contains(t, info.Cmd, "sonnet")
	assert.Contains(t, info.Cmd, "stream-json")

	_, err = NewCLISession(Config{Type: "mystery"}, zerolog.Nop())
	require.Error(t, err)

	// CLIs without a parseable stream format are not spec'd; they run as exec.
	_, err = NewCLISession(Config{Type: "codex"}, zerolog.Nop())
	require.Error(t, err)

	_, err = NewCLISession(Config{Type: "exec"}, zerolog.Nop())
	require.Error(t, err)

	s, err = NewCLISession(Config{Type: "exec", Cmd: []string{"./agent", "--fast"}}, zerolog.Nop())
	require.NoError(t, err)
	assert.Equal(t, []string{"./agent", "--fast"}, s.Describe().Cmd)
}

func TestConsumeStream_ClaudeStreamDispatchesHooks(t *testing.T) {
	t.Parallel()

	collector := evidence.NewCollector()
	d := hooks.NewDispatcher(hooks.EvidenceHooks(collector), zerolog.Nop())

	stream := strings.Join([]string{
		`{"type":"system","subtype":"init","session_id":"sess-1","tools":["Bash","Write"],"model":"sonnet"}`,
		`{"type":"assistant","message":{"role":"assistant","content":[{"type":"text","text":"Writing the file now."},{"type":"tool_use","id":"toolu_01","name":"Write","input":{"file_path":"main.go","content":"package main"}}]},"session_id":"sess-1"}`,
		`{"type":"user","message":{"role":"user","content":[{"type":"tool_result","tool_use_id":"toolu_01","content":"File created successfully"}]},"session_id":"sess-1"}`,
		`{"type":"assistant","message":{"role":"assistant","content":[{"type":"tool_use","id":"toolu_02","name":"Bash","input":{"command":"go test ./..."}}]},"session_id":"sess-1"}`,
		`{"type":"user","message":{"role":"user","content":[{"type":"tool_result","tool_use_id":"toolu_02","content":[{"type":"text","text":"ok  pkg  0.1s"}]}]},"session_id":"sess-1"}`,
		`{"type":"result","subtype":"success","is_error":false,"num_turns":4,"result":"Implemented and tested.","session_id":"sess-1"}`,
	}, "\n")

	tr, err := consumeStream(context.Background(), strings.NewReader(stream), d)
	require.NoError(t, err)

	assert.Equal(t, "sess-1", tr.SessionID)
	assert.Equal(t, "Implemented and tested.", tr.FinalText)
	assert.Equal(t, 1, tr.MessageCount)

	s := collector.Snapshot()
	assert.Equal(t, []string{"main.go"}, s.FilesWritten)
	assert.True(t, s.TestsRun)
	assert.Equal(t, 1, s.TotalTestsPassed())
	assert.Equal(t, "sess-1", s.SessionID)
}

func TestConsumeStream_ClaudeStreamDenyAborts(t *testing.T) {
	t.Parallel()

	collector := evidence.NewCollector()
	d := hooks.NewDispatcher(hooks.SDKHooks(safety.NewValidator(), collector), zerolog.Nop())

	stream := `{"type":"assistant","message":{"role":"assistant","content":[{"type":"tool_use","id":"toolu_09","name":"Bash","input":{"command":"rm -rf /"}}]},"session_id":"sess-2"}`

	tr, err := consumeStream(context.Background(), strings.NewReader(stream), d)
	require.Error(t, err)
	assert.True(t, errors.Is(err, ErrDenied))

	var denied *DeniedError
	require.True(t, errors.As(err, &denied))
	assert.Equal(t, "Bash", denied.Tool)
	assert.Contains(t, denied.Reason, "dangerous command")
	assert.Empty(t, tr.Events)

	// The deny is on the record for the quality ceilings.
	s := collector.Snapshot()
	require.Len(t, s.Findings, 1)
	assert.Equal(t, 5, s.Findings[0].Severity)
}

func TestConsumeStream_ClaudeStreamTaskResultIsSubagentStop(t *testing.T) {
	t.Parallel()

	collector := evidence.NewCollector()
	d := hooks.NewDispatcher(hooks.EvidenceHooks(collector), zerolog.Nop())

	stream := strings.Join([]string{
		`{"type":"assistant","message":{"role":"assistant","content":[{"type":"tool_use","id":"toolu_11","name":"Task","input":{"prompt":"review the diff"}}]},"session_id":"sess-3"}`,
		`{"type":"user","message":{"role":"user","content":[{"type":"tool_result","tool_use_id":"toolu_11","content":"subtask finished"}]},"session_id":"sess-3"}`,
	}, "\n")

	_, err := consumeStream(context.Background(), strings.NewReader(stream), d)
	require.NoError(t, err)

	s := collector.Snapshot()
	require.Len(t, s.SubagentsDone, 1)
	assert.Equal(t, "toolu_11", s.SubagentsDone[0].ToolUseID)
}

func TestConsumeStream_ClaudeStreamErrorResultRecordsExitCode(t *testing.T) {
	t.Parallel()

	collector := evidence.NewCollector()
	d := hooks.NewDispatcher(hooks.EvidenceHooks(collector), zerolog.Nop())

	stream := strings.Join([]string{
		`{"type":"assistant","message":{"role":"assistant","content":[{"type":"tool_use","id":"toolu_21","name":"Bash","input":{"command":"make build"}}]}}`,
		`{"type":"user","message":{"role":"user","content":[{"type":"tool_result","tool_use_id":"toolu_21","is_error":true,"content":"make: *** [build] Error 2"}]}}`,
	}, "\n")

	_, err := consumeStream(context.Background(), strings.NewReader(stream), d)
	require.NoError(t, err)

	s := collector.Snapshot()
	require.Len(t, s.CommandsRun, 1)
	assert.Equal(t, "make build", s.CommandsRun[0].Command)
	assert.Equal(t, 1, s.CommandsRun[0].ExitCode)
}

func TestConsumeStream_ExecProtocolDispatchesHooks(t *testing.T) {
	t.Parallel()

	collector := evidence.NewCollector()
	d := hooks.NewDispatcher(hooks.EvidenceHooks(collector), zerolog.Nop())

	stream := strings.Join([]string{
		`{"type":"tool_use","tool":"Write","tool_use_id":"t1","input":{"file_path":"main.go","content":"package main"},"session_id":"s-1"}`,
		`{"type":"tool_result","tool":"Write","tool_use_id":"t1","output":"ok"}`,
		`{"type":"text","text":"wrote the file"}`,
		`{"type":"subagent_done","tool_use_id":"sub-1"}`,
		`{"type":"result","text":"done"}`,
	}, "\n")

	tr, err := consumeStream(context.Background(), strings.NewReader(stream), d)
	require.NoError(t, err)

	assert.Equal(t, "s-1", tr.SessionID)
	assert.Equal(t, "done", tr.FinalText)
	assert.Len(t, tr.Events, 5)
	// tool_result reuses the input captured at tool_use time.
	assert.Equal(t, "main.go", tr.Events[1].Input["file_path"])

	s := collector.Snapshot()
	assert.Equal(t, []string{"main.go"}, s.FilesWritten)
	assert.Equal(t, "s-1", s.SessionID)
	require.Len(t, s.SubagentsDone, 1)
}

func TestConsumeStream_ExecProtocolDenyAborts(t *testing.T) {
	t.Parallel()

	d := hooks.NewDispatcher(hooks.SafetyHooks(safety.NewValidator(), nil), zerolog.Nop())

	stream := strings.Join([]string{
		`{"type":"tool_use","tool":"Bash","tool_use_id":"t1","input":{"command":"ls"}}`,
		`{"type":"tool_result","tool":"Bash","tool_use_id":"t1","output":""}`,
		`{"type":"tool_use","tool":"Bash","tool_use_id":"t2","input":{"command":"rm -rf /"}}`,
		`{"type":"text","text":"never reached"}`,
	}, "\n")

	tr, err := consumeStream(context.Background(), strings.NewReader(stream), d)
	require.Error(t, err)
	assert.True(t, errors.Is(err, ErrDenied))

	var denied *DeniedError
	require.True(t, errors.As(err, &denied))
	assert.Equal(t, "Bash", denied.Tool)
	assert.Contains(t, denied.Reason, "dangerous command")
	// Events before the deny survive in the partial transcript.
	assert.Len(t, tr.Events, 2)
}

func TestConsumeStream_PlainLinesKeptAsText(t *testing.T) {
	t.Parallel()

	stream := "starting up\n{\"type\":\"text\",\"text\":\"hi\"}\n"
	tr, err := consumeStream(context.Background(), strings.NewReader(stream), nil)
	require.NoError(t, err)
	require.Len(t, tr.Events, 2)
	assert.Equal(t, "starting up", tr.Events[0].Text)
	assert.Equal(t, "hi", tr.FinalText)
}

func TestCLISession_RunExec(t *testing.T) {
	t.Parallel()

	script := `echo '{"type":"tool_use","tool":"Bash","tool_use_id":"t1","input":{"command":"go test ./..."}}'
echo '{"type":"tool_result","tool":"Bash","tool_use_id":"t1","output":"ok  pkg  0.1s"}'
echo '{"type":"result","text":"all green","session_id":"s-9"}'`

	s, err := NewCLISession(Config{Type: "exec", Cmd: []string{"sh", "-c", script}}, zerolog.Nop())
	require.NoError(t, err)

	collector := evidence.NewCollector()
	d := hooks.NewDispatcher(hooks.SDKHooks(safety.NewValidator(), collector), zerolog.Nop())

	tr, err := s.Run(context.Background(), Request{Prompt: "run the tests", Hooks: d})
	require.NoError(t, err)
	assert.Equal(t, "all green", tr.FinalText)
	assert.Equal(t, "s-9", tr.SessionID)
	assert.True(t, collector.Snapshot().TestsRun)
}
