package model

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMockModelScript(t *testing.T) {
	ctx := context.Background()
	mock := NewMockModel("scripted").
		EnqueueToolCalls(ToolCall{ID: "c1", Name: "todo", Arguments: map[string]any{"action": "list"}}).
		EnqueueText("all done")

	first, err := mock.Generate(ctx, Request{Instructions: "be brief"})
	require.NoError(t, err)
	require.Len(t, first.ToolCalls, 1)
	assert.Equal(t, FinishToolCalls, first.FinishReason)
	assert.Equal(t, "todo", first.ToolCalls[0].Name)

	second, err := mock.Generate(ctx, Request{})
	require.NoError(t, err)
	assert.Equal(t, "all done", second.Text)
	assert.Equal(t, FinishStop, second.FinishReason)

	// Exhausted script falls back to the canned answer.
	third, err := mock.Generate(ctx, Request{})
	require.NoError(t, err)
	assert.Equal(t, "done", third.Text)

	reqs := mock.Requests()
	require.Len(t, reqs, 3)
	assert.Equal(t, "be brief", reqs[0].Instructions)
}

func TestMockModelFallback(t *testing.T) {
	mock := NewMockModel("scripted")
	mock.SetFallback("nothing left")

	resp, err := mock.Generate(context.Background(), Request{})
	require.NoError(t, err)
	assert.Equal(t, "nothing left", resp.Text)
}

func TestMockModelHonorsCancellation(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := NewMockModel("scripted").Generate(ctx, Request{})
	require.Error(t, err)
	assert.Empty(t, NewMockModel("other").Requests())
}

func TestErrModel(t *testing.T) {
	_, err := ErrModel{}.Generate(context.Background(), Request{})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "model unavailable")

	assert.Equal(t, "mock", ErrModel{}.Info().Provider)
}
