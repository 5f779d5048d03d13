package subtask

import (
	"context"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/valet-ai/valet/core"
	"github.com/valet-ai/valet/model"
)

// recordingCaller captures dispatched requests and replies with a canned result.
type recordingCaller struct {
	mu       sync.Mutex
	requests []core.CallRequest
	result   func(req core.CallRequest) core.CallResult
}

func (c *recordingCaller) Execute(ctx context.Context, _ string, req core.CallRequest) core.CallResult {
	c.mu.Lock()
	c.requests = append(c.requests, req)
	c.mu.Unlock()
	if c.result != nil {
		return c.result(req)
	}
	return core.OK("ok", req.CapabilityID, time.Millisecond)
}

func (c *recordingCaller) calls() []core.CallRequest {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([]core.CallRequest, len(c.requests))
	copy(out, c.requests)
	return out
}

func TestSpawnRejectsEmptyTask(t *testing.T) {
	r := NewRunner(model.NewMockModel("m"), &recordingCaller{})

	res := r.Spawn(context.Background(), "user-1", SpawnRequest{
		AllowedCapabilities: []string{"todo"},
	})

	assert.False(t, res.Success)
	assert.Contains(t, res.Error, "task must not be empty")
	assert.Zero(t, res.Iterations)
}

func TestSpawnRejectsEmptyAllowedSet(t *testing.T) {
	mock := model.NewMockModel("m")
	r := NewRunner(mock, &recordingCaller{})

	res := r.Spawn(context.Background(), "user-1", SpawnRequest{Task: "do something"})

	assert.False(t, res.Success)
	assert.Contains(t, res.Error, "allowed capability list is empty")
	assert.Empty(t, mock.Requests(), "rejection happens before any iteration")
}

func TestSpawnRejectsRecursiveDelegation(t *testing.T) {
	mock := model.NewMockModel("m")
	r := NewRunner(mock, &recordingCaller{})

	res := r.Spawn(context.Background(), "user-1", SpawnRequest{
		Task:                "do something",
		AllowedCapabilities: []string{"todo", SpawnCapabilityID},
	})

	assert.False(t, res.Success)
	assert.Contains(t, res.Error, "cannot spawn sub-tasks")
	assert.Empty(t, mock.Requests(), "rejection happens before any iteration")
}

func TestSpawnFinalAnswerFirstIteration(t *testing.T) {
	mock := model.NewMockModel("m")
	mock.EnqueueText("the answer is 42")
	r := NewRunner(mock, &recordingCaller{})

	res := r.Spawn(context.Background(), "user-1", SpawnRequest{
		Task:                "compute the answer",
		AllowedCapabilities: []string{"todo"},
	})

	assert.True(t, res.Success)
	assert.Equal(t, "the answer is 42", res.Result)
	assert.Equal(t, 1, res.Iterations)
	assert.Empty(t, res.CapabilitiesUsed)
	assert.NotEmpty(t, res.FlowID)

	status, ok := r.Status(res.FlowID)
	require.True(t, ok)
	assert.Equal(t, StateCompleted, status.State)
}

func TestSpawnToolCallLoop(t *testing.T) {
	mock := model.NewMockModel("m")
	mock.EnqueueToolCalls(model.ToolCall{
		ID:   "call-1",
		Name: "todo",
		Arguments: map[string]any{
			"action": "create",
			"title":  "buy milk",
		},
	})
	mock.EnqueueText("created the todo")
	caller := &recordingCaller{}
	r := NewRunner(mock, caller)

	res := r.Spawn(context.Background(), "user-1", SpawnRequest{
		Task:                "add buy milk to my list",
		AllowedCapabilities: []string{"todo", "notify"},
	})

	require.True(t, res.Success)
	assert.Equal(t, "created the todo", res.Result)
	assert.Equal(t, 2, res.Iterations)
	assert.Equal(t, []string{"todo"}, res.CapabilitiesUsed)

	calls := caller.calls()
	require.Len(t, calls, 1)
	assert.Equal(t, "todo", calls[0].CapabilityID)
	assert.Equal(t, "create", calls[0].Action, "action argument becomes the request action")
	assert.Equal(t, "buy milk", calls[0].Params["title"])
	assert.NotContains(t, calls[0].Params, "action")

	// The second round-trip must carry the tool result back to the model.
	reqs := mock.Requests()
	require.Len(t, reqs, 2)
	last := reqs[1].Messages[len(reqs[1].Messages)-1]
	assert.Equal(t, model.RoleTool, last.Role)
	assert.Equal(t, "call-1", last.ToolCallID)
	assert.Contains(t, last.Text, `"success":true`)
}

func TestSpawnRefusesCapabilityOutsideAllowedSet(t *testing.T) {
	mock := model.NewMockModel("m")
	mock.EnqueueToolCalls(model.ToolCall{ID: "call-1", Name: "secrets"})
	mock.EnqueueText("giving up")
	caller := &recordingCaller{}
	r := NewRunner(mock, caller)

	res := r.Spawn(context.Background(), "user-1", SpawnRequest{
		Task:                "read my secrets",
		AllowedCapabilities: []string{"todo"},
	})

	require.True(t, res.Success)
	assert.Empty(t, caller.calls(), "disallowed capability never reaches the dispatcher")

	reqs := mock.Requests()
	require.Len(t, reqs, 2)
	last := reqs[1].Messages[len(reqs[1].Messages)-1]
	assert.Contains(t, last.Text, "not available to this sub-task")
	assert.Contains(t, last.Text, "todo")
}

func TestSpawnMaxIterations(t *testing.T) {
	mock := model.NewMockModel("m")
	for i := 0; i < 10; i++ {
		mock.EnqueueToolCalls(model.ToolCall{ID: "loop", Name: "todo", Arguments: map[string]any{"action": "list"}})
	}
	r := NewRunner(mock, &recordingCaller{})

	res := r.Spawn(context.Background(), "user-1", SpawnRequest{
		Task:                "never finishes",
		AllowedCapabilities: []string{"todo"},
		MaxIterations:       3,
	})

	assert.False(t, res.Success)
	assert.Contains(t, res.Error, "maximum iterations (3)")
	assert.Equal(t, 3, res.Iterations)
	assert.Len(t, mock.Requests(), 3)

	status, ok := r.Status(res.FlowID)
	require.True(t, ok)
	assert.Equal(t, StateFailed, status.State)
}

func TestSpawnClampsIterationBudget(t *testing.T) {
	mock := model.NewMockModel("m")
	for i := 0; i < 30; i++ {
		mock.EnqueueToolCalls(model.ToolCall{ID: "loop", Name: "todo"})
	}
	r := NewRunner(mock, &recordingCaller{})

	res := r.Spawn(context.Background(), "user-1", SpawnRequest{
		Task:                "never finishes",
		AllowedCapabilities: []string{"todo"},
		MaxIterations:       50,
	})

	assert.False(t, res.Success)
	assert.Contains(t, res.Error, "maximum iterations (15)")
	assert.Equal(t, 15, res.Iterations)
}

func TestSpawnTimeout(t *testing.T) {
	mock := model.NewMockModel("m")
	for i := 0; i < 50; i++ {
		mock.EnqueueToolCalls(model.ToolCall{ID: "loop", Name: "slow"})
	}
	caller := &recordingCaller{result: func(req core.CallRequest) core.CallResult {
		time.Sleep(20 * time.Millisecond)
		return core.OK("ok", req.CapabilityID, 0)
	}}
	r := NewRunner(mock, caller)

	res := r.Spawn(context.Background(), "user-1", SpawnRequest{
		Task:                "slow work",
		AllowedCapabilities: []string{"slow"},
		TimeoutMs:           40,
	})

	assert.False(t, res.Success)
	assert.Contains(t, res.Error, "timeout")

	status, ok := r.Status(res.FlowID)
	require.True(t, ok)
	assert.Equal(t, StateTimedOut, status.State)
}

func TestSpawnModelError(t *testing.T) {
	r := NewRunner(model.ErrModel{}, &recordingCaller{})

	res := r.Spawn(context.Background(), "user-1", SpawnRequest{
		Task:                "anything",
		AllowedCapabilities: []string{"todo"},
	})

	assert.False(t, res.Success)
	assert.Contains(t, res.Error, "model error")
}

func TestSpawnPromptIncludesTaskAndContext(t *testing.T) {
	mock := model.NewMockModel("m")
	mock.EnqueueText("done")
	r := NewRunner(mock, &recordingCaller{})

	r.Spawn(context.Background(), "user-1", SpawnRequest{
		Task:                "summarize the meeting",
		TaskDescription:     "keep it under three sentences",
		ParentContext:       "meeting notes: shipped v2",
		AllowedCapabilities: []string{"todo", "notify"},
	})

	reqs := mock.Requests()
	require.Len(t, reqs, 1)
	assert.Contains(t, reqs[0].Instructions, "summarize the meeting")
	assert.Contains(t, reqs[0].Instructions, "keep it under three sentences")
	assert.Contains(t, reqs[0].Instructions, "shipped v2")
	assert.Contains(t, reqs[0].Instructions, "todo")
	require.Len(t, reqs[0].Tools, 2)
	assert.Equal(t, "todo", reqs[0].Tools[0].Name)
}

func TestStatusesByFlow(t *testing.T) {
	mock := model.NewMockModel("m")
	mock.EnqueueText("one")
	mock.EnqueueText("two")
	r := NewRunner(mock, &recordingCaller{})

	first := r.Spawn(context.Background(), "user-1", SpawnRequest{
		Task:                "first",
		AllowedCapabilities: []string{"todo"},
		ParentFlowID:        "parent-1",
	})
	second := r.Spawn(context.Background(), "user-1", SpawnRequest{
		Task:                "second",
		AllowedCapabilities: []string{"todo"},
		ParentFlowID:        "parent-1",
	})
	r.Spawn(context.Background(), "user-1", SpawnRequest{
		Task:                "other parent",
		AllowedCapabilities: []string{"todo"},
		ParentFlowID:        "parent-2",
	})

	statuses := r.StatusesByFlow("parent-1")
	require.Len(t, statuses, 2)
	assert.Equal(t, first.FlowID, statuses[0].ID)
	assert.Equal(t, second.FlowID, statuses[1].ID)
}

func TestSpawnFromTemplate(t *testing.T) {
	mock := model.NewMockModel("m")
	mock.EnqueueText("researched")
	r := NewRunner(mock, &recordingCaller{}, WithTemplates(Template{
		ID:                  "research",
		Description:         "web research preset",
		AllowedCapabilities: []string{"search", "fetch"},
		MaxIterations:       5,
	}))

	res := r.SpawnFromTemplate(context.Background(), "user-1", "research", "find the population of Lisbon",
		WithParentFlow("parent-9"),
		WithParentContext("user planning a trip"),
	)

	require.True(t, res.Success)
	assert.Equal(t, "researched", res.Result)

	status, ok := r.Status(res.FlowID)
	require.True(t, ok)
	assert.Equal(t, "parent-9", status.ParentFlowID)

	reqs := mock.Requests()
	require.Len(t, reqs, 1)
	assert.Contains(t, reqs[0].Instructions, "planning a trip")
	names := make([]string, 0, len(reqs[0].Tools))
	for _, tool := range reqs[0].Tools {
		names = append(names, tool.Name)
	}
	assert.Equal(t, "search, fetch", strings.Join(names, ", "))
}

func TestSpawnFromUnknownTemplate(t *testing.T) {
	r := NewRunner(model.NewMockModel("m"), &recordingCaller{})

	res := r.SpawnFromTemplate(context.Background(), "user-1", "ghost", "anything")

	assert.False(t, res.Success)
	assert.Contains(t, res.Error, "template 'ghost' not found")
}

func TestRegisterTemplateDuplicate(t *testing.T) {
	r := NewRunner(model.NewMockModel("m"), &recordingCaller{})

	require.NoError(t, r.RegisterTemplate(Template{ID: "research", AllowedCapabilities: []string{"search"}}))
	err := r.RegisterTemplate(Template{ID: "research", AllowedCapabilities: []string{"fetch"}})
	assert.Error(t, err)
}
