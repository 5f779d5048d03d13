package capability

import (
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/valet-ai/valet/core"
)

type stubHandler struct {
	name     string
	category Category
	actions  []string
}

func (h *stubHandler) Name() string        { return h.name }
func (h *stubHandler) Description() string { return "stub capability" }
func (h *stubHandler) Category() Category {
	if h.category == "" {
		return CategoryBuiltin
	}
	return h.category
}
func (h *stubHandler) Actions() []string { return h.actions }
func (h *stubHandler) Parameters() map[string]any {
	return map[string]any{"type": "object", "properties": map[string]any{}}
}
func (h *stubHandler) Execute(_ *core.InvokeContext, action string, _ map[string]any) (any, error) {
	return map[string]any{"action": action}, nil
}

func TestCatalogRegisterAndGet(t *testing.T) {
	c := NewCatalog()
	h := &stubHandler{name: "todos", actions: []string{"create", "list"}}
	require.NoError(t, c.Register(Config{ID: "todos", Category: CategoryBuiltin, Enabled: true}, h))

	cfg, got, ok := c.Get("todos")
	require.True(t, ok)
	assert.Equal(t, "todos", cfg.ID)
	assert.NotNil(t, cfg.Schema, "schema should be filled from handler")
	assert.Same(t, h, got)

	_, _, ok = c.Get("missing")
	assert.False(t, ok)
}

func TestCatalogRejectsDuplicatesAndMismatches(t *testing.T) {
	c := NewCatalog()
	h := &stubHandler{name: "todos"}
	require.NoError(t, c.Register(Config{ID: "todos", Category: CategoryBuiltin}, h))

	assert.Error(t, c.Register(Config{ID: "todos", Category: CategoryBuiltin}, h))
	assert.Error(t, c.Register(Config{ID: "other", Category: CategoryBuiltin}, h))
	assert.Error(t, c.Register(Config{ID: "bad", Category: Category("nope")}, &stubHandler{name: "bad"}))
	assert.Error(t, c.Register(Config{ID: "nilh", Category: CategoryBuiltin}, nil))
}

func TestCatalogSetEnabled(t *testing.T) {
	c := NewCatalog()
	require.NoError(t, c.Register(Config{ID: "todos", Category: CategoryBuiltin, Enabled: true}, &stubHandler{name: "todos"}))

	require.NoError(t, c.SetEnabled("todos", false))
	cfg, _, _ := c.Get("todos")
	assert.False(t, cfg.Enabled)

	assert.Error(t, c.SetEnabled("missing", true))
}

func TestCatalogDefinitionsOrderAndContent(t *testing.T) {
	c := NewCatalog()
	require.NoError(t, c.Register(Config{ID: "b_cap", Category: CategoryBuiltin, Enabled: true}, &stubHandler{name: "b_cap", actions: []string{"x"}}))
	require.NoError(t, c.Register(Config{ID: "a_cap", Category: CategoryExternalAPI, Enabled: false}, &stubHandler{name: "a_cap"}))

	defs := c.Definitions()
	require.Len(t, defs, 2)
	assert.Equal(t, "b_cap", defs[0].Name, "registration order preserved")
	assert.Equal(t, CategoryExternalAPI, defs[1].Category)
	assert.False(t, defs[1].Enabled)
	assert.Equal(t, []string{"x"}, defs[0].Actions)
}

func TestCatalogMCPToolsSkipsDisabled(t *testing.T) {
	c := NewCatalog()
	require.NoError(t, c.Register(Config{ID: "on", Category: CategoryBuiltin, Enabled: true, DisplayName: "On"}, &stubHandler{name: "on"}))
	require.NoError(t, c.Register(Config{ID: "off", Category: CategoryBuiltin, Enabled: false}, &stubHandler{name: "off"}))

	tools := c.MCPTools()
	require.Len(t, tools, 1)
	assert.Equal(t, "on", tools[0].Name)
	assert.Equal(t, "On", tools[0].Title)
	assert.NotNil(t, tools[0].InputSchema)
}

func TestErrorMessages(t *testing.T) {
	assert.Contains(t, NewNotFound("ghost").Message, "not found")
	assert.Contains(t, NewDisabled("off").Message, "disabled")

	ua := NewUnknownAction("todos", "explode", []string{"create", "list"})
	assert.Contains(t, ua.Message, "explode")
	assert.Contains(t, ua.Message, "create, list")

	to := NewTimeout("todos", "individual", 7*time.Second)
	assert.Equal(t, CodeTimeout, to.Code)
	assert.True(t, strings.Contains(to.Message, "7000ms"), to.Message)
}

func TestClassifyAndCodeOf(t *testing.T) {
	orig := NewDisabled("x")
	assert.Same(t, orig, Classify("x", orig))

	wrapped := Classify("y", assert.AnError)
	assert.Equal(t, CodeExecution, wrapped.Code)
	assert.Equal(t, CodeDisabled, CodeOf(orig))
	assert.Equal(t, CodeExecution, CodeOf(assert.AnError))
}

func TestRateGate(t *testing.T) {
	g := NewRateGate()
	base := time.Now()
	g.now = func() time.Time { return base }

	for i := 0; i < 3; i++ {
		assert.True(t, g.Allow("u1", "fetch", 3), "call %d within budget", i)
	}
	assert.False(t, g.Allow("u1", "fetch", 3), "budget exhausted")
	assert.True(t, g.Allow("u2", "fetch", 3), "budgets are per user")
	assert.True(t, g.Allow("u1", "search", 3), "budgets are per capability")

	// window rollover
	g.now = func() time.Time { return base.Add(61 * time.Second) }
	assert.True(t, g.Allow("u1", "fetch", 3))

	// zero limit means unlimited
	for i := 0; i < 100; i++ {
		assert.True(t, g.Allow("u1", "unlimited", 0))
	}
}
