package valet

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/valet-ai/valet/core"
	"github.com/valet-ai/valet/dynamic"
	"github.com/valet-ai/valet/model"
	"github.com/valet-ai/valet/subtask"
)

type passthroughSandbox struct{}

func (passthroughSandbox) Run(_ context.Context, _ string, params map[string]any) (any, error) {
	return params, nil
}

func TestDefaultsExecuteTodo(t *testing.T) {
	v, err := New()
	require.NoError(t, err)

	ctx := context.Background()
	res := v.Execute(ctx, "user-1", core.CallRequest{
		CapabilityID: "todo",
		Action:       "create",
		Params:       map[string]any{"title": "write tests"},
	})
	require.True(t, res.Success, res.Error)

	list := v.Execute(ctx, "user-1", core.CallRequest{CapabilityID: "todo", Action: "list"})
	require.True(t, list.Success, list.Error)
}

func TestBatchThroughFacade(t *testing.T) {
	v, err := New()
	require.NoError(t, err)

	results := v.ExecuteBatch(context.Background(), "user-1", []core.CallRequest{
		{CapabilityID: "goals", Action: "create", Params: map[string]any{"title": "ship"}},
		{CapabilityID: "goals", Action: "list"},
	})
	require.Len(t, results, 2)
	assert.True(t, results[0].Success)
	assert.True(t, results[1].Success)
}

func TestDynamicCapabilityLifecycle(t *testing.T) {
	v, err := New(func(o *Options) {
		o.Sandbox = passthroughSandbox{}
	})
	require.NoError(t, err)
	require.NotNil(t, v.Registry())

	ctx := context.Background()
	created, err := v.Registry().Create(ctx, "user-1", dynamic.CreateRequest{
		Name: "Echo Params",
		Code: "def run(params):\n    return params",
	})
	require.NoError(t, err)

	res := v.Execute(ctx, "user-1", core.CallRequest{
		CapabilityID: created.ID,
		Params:       map[string]any{"k": "v"},
	})
	require.True(t, res.Success, res.Error)

	defs, err := v.SchemaDocument(ctx, "user-1")
	require.NoError(t, err)
	names := make([]string, 0, len(defs))
	for _, d := range defs {
		names = append(names, d.Name)
	}
	assert.Contains(t, names, created.ID)
}

func TestSpawnThroughFacade(t *testing.T) {
	mock := model.NewMockModel("scripted").EnqueueText("final answer")
	v, err := New(func(o *Options) {
		o.Model = mock
	})
	require.NoError(t, err)

	res := v.Spawn(context.Background(), "user-1", subtask.SpawnRequest{
		Task:                "do one thing",
		AllowedCapabilities: []string{"todo"},
	})
	require.True(t, res.Success, res.Error)
	assert.Equal(t, "final answer", res.Result)
}

func TestPersistThroughFacade(t *testing.T) {
	v, err := New()
	require.NoError(t, err)

	rec, err := v.PersistResult(context.Background(), "user-1", "flow-1", core.CallResult{
		Success:        true,
		Data:           map[string]any{"contact": "alice@example.com"},
		CapabilityUsed: "search_web",
	})
	require.NoError(t, err)
	assert.NotContains(t, rec.Content, "alice@example.com")
	assert.Contains(t, rec.Content, "[REDACTED]")
}
