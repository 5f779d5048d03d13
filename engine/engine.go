package engine

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/modelcontextprotocol/go-sdk/mcp"

	"github.com/valet-ai/valet/batch"
	"github.com/valet-ai/valet/capability"
	"github.com/valet-ai/valet/core"
	"github.com/valet-ai/valet/dispatch"
	"github.com/valet-ai/valet/dynamic"
	"github.com/valet-ai/valet/logging"
	"github.com/valet-ai/valet/memory"
	"github.com/valet-ai/valet/model"
	"github.com/valet-ai/valet/sanitize"
	"github.com/valet-ai/valet/subtask"
)

// Options configures an Engine instance via the functional options pattern.
type Options struct {
	// Logger is handed to every component. Defaults to NoOpLogger.
	Logger logging.Logger

	// Registry enables dynamic (user-generated) capabilities. Optional.
	Registry *dynamic.Registry

	// Model powers the sub-task runner. Without it Spawn is unavailable and
	// the spawn capability is not registered.
	Model model.Model

	// Writer receives sanitized records from PersistResult. Optional.
	Writer memory.Writer

	// Gate enforces per-capability rate budgets. Defaults to a fresh gate.
	Gate *capability.RateGate

	// Hooks extend the dispatch and persistence pipeline.
	Hooks []Hook

	// BatchOptions and SubtaskOptions tune the respective components.
	BatchOptions   []batch.Option
	SubtaskOptions []subtask.Option
}

// WithLogger sets the engine logger.
func WithLogger(l logging.Logger) func(*Options) {
	return func(o *Options) { o.Logger = l }
}

// WithDynamicRegistry attaches a dynamic capability registry.
func WithDynamicRegistry(r *dynamic.Registry) func(*Options) {
	return func(o *Options) { o.Registry = r }
}

// WithModel attaches the model powering sub-task delegation.
func WithModel(m model.Model) func(*Options) {
	return func(o *Options) { o.Model = m }
}

// WithMemoryWriter attaches the persistence backend for PersistResult.
func WithMemoryWriter(w memory.Writer) func(*Options) {
	return func(o *Options) { o.Writer = w }
}

// WithRateGate shares a rate gate across engine instances.
func WithRateGate(g *capability.RateGate) func(*Options) {
	return func(o *Options) { o.Gate = g }
}

// WithHooks registers execution lifecycle hooks.
func WithHooks(hooks ...Hook) func(*Options) {
	return func(o *Options) { o.Hooks = append(o.Hooks, hooks...) }
}

// WithBatchOptions tunes the batch executor.
func WithBatchOptions(opts ...batch.Option) func(*Options) {
	return func(o *Options) { o.BatchOptions = append(o.BatchOptions, opts...) }
}

// WithSubtaskOptions tunes the sub-task runner.
func WithSubtaskOptions(opts ...subtask.Option) func(*Options) {
	return func(o *Options) { o.SubtaskOptions = append(o.SubtaskOptions, opts...) }
}

// Engine wires the capability catalog, dispatcher, batch executor, dynamic
// registry, sub-task runner and sanitizer into one coherent execution
// surface. It is safe for concurrent use; all mutable state lives in the
// wired components, which manage their own synchronization.
type Engine struct {
	catalog    *capability.Catalog
	registry   *dynamic.Registry
	dispatcher *dispatch.Dispatcher
	executor   *batch.Executor
	runner     *subtask.Runner
	writer     memory.Writer
	hooks      *hookManager
	logger     logging.Logger
}

// New assembles an engine around the given catalog. The catalog must be
// fully populated; after construction only enablement may change. When a
// model is attached, the spawn capability is registered so the outer
// function-calling loop can delegate sub-tasks like any other call.
func New(catalog *capability.Catalog, optFns ...func(*Options)) (*Engine, error) {
	opts := Options{Logger: logging.NoOpLogger{}}
	for _, fn := range optFns {
		fn(&opts)
	}

	e := &Engine{
		catalog:  catalog,
		registry: opts.Registry,
		writer:   opts.Writer,
		hooks:    newHookManager(opts.Hooks),
		logger:   opts.Logger,
	}

	dispatchOpts := []dispatch.Option{dispatch.WithLogger(opts.Logger)}
	if opts.Gate != nil {
		dispatchOpts = append(dispatchOpts, dispatch.WithRateGate(opts.Gate))
	}
	if opts.Registry != nil {
		dispatchOpts = append(dispatchOpts, dispatch.WithDynamicRegistry(opts.Registry))
	}
	e.dispatcher = dispatch.New(catalog, dispatchOpts...)

	batchOpts := append([]batch.Option{batch.WithLogger(opts.Logger)}, opts.BatchOptions...)
	e.executor = batch.New(e, batchOpts...)

	if opts.Model != nil {
		subOpts := append([]subtask.Option{
			subtask.WithLogger(opts.Logger),
			subtask.WithDefinitions(catalog),
		}, opts.SubtaskOptions...)
		e.runner = subtask.NewRunner(opts.Model, e, subOpts...)

		cfg := capability.Config{
			ID:          subtask.SpawnCapabilityID,
			DisplayName: "Spawn Sub-Task",
			Category:    capability.CategoryBuiltin,
			Enabled:     true,
		}
		if err := catalog.Register(cfg, &spawnHandler{runner: e.runner}); err != nil {
			return nil, fmt.Errorf("engine: registering %s: %w", subtask.SpawnCapabilityID, err)
		}
	}

	return e, nil
}

// Execute dispatches one call. Before-call hooks may veto the call; the veto
// surfaces as a failed result, never as an error or panic.
func (e *Engine) Execute(ctx context.Context, userID string, req core.CallRequest) core.CallResult {
	start := time.Now()

	hctx := &HookContext{UserID: userID, Request: &req}
	if err := e.hooks.run(ctx, HookBeforeCall, hctx); err != nil {
		e.logger.Warn("engine.call.vetoed", "capability", req.CapabilityID, "error", err.Error())
		return core.CallResult{
			Success:         false,
			Error:           fmt.Sprintf("call rejected: %v", err),
			ExecutionTimeMs: time.Since(start).Milliseconds(),
			CapabilityUsed:  req.CapabilityID,
		}
	}

	res := e.dispatcher.Execute(ctx, userID, req)

	hctx.Result = &res
	if err := e.hooks.run(ctx, HookAfterCall, hctx); err != nil {
		e.logger.Warn("engine.hook.after_call.failed", "capability", req.CapabilityID, "error", err.Error())
	}
	return res
}

// ExecuteBatch runs the requests with bounded parallelism, preserving order.
// Hooks apply to every slot because the batch executor dispatches through
// Execute.
func (e *Engine) ExecuteBatch(ctx context.Context, userID string, reqs []core.CallRequest) []core.CallResult {
	return e.executor.ExecuteBatch(ctx, userID, reqs)
}

// Spawn delegates a task to a bounded sub-task loop.
func (e *Engine) Spawn(ctx context.Context, userID string, req subtask.SpawnRequest) subtask.Result {
	if e.runner == nil {
		return subtask.Result{Success: false, Error: "sub-task runner not configured: engine built without a model"}
	}
	return e.runner.Spawn(ctx, userID, req)
}

// SpawnFromTemplate delegates a task using a registered spawn template.
func (e *Engine) SpawnFromTemplate(ctx context.Context, userID, templateID, task string, opts ...func(*subtask.SpawnRequest)) subtask.Result {
	if e.runner == nil {
		return subtask.Result{Success: false, Error: "sub-task runner not configured: engine built without a model"}
	}
	return e.runner.SpawnFromTemplate(ctx, userID, templateID, task, opts...)
}

// RegisterTemplate adds a spawn template to the runner.
func (e *Engine) RegisterTemplate(t subtask.Template) error {
	if e.runner == nil {
		return fmt.Errorf("engine: sub-task runner not configured")
	}
	return e.runner.RegisterTemplate(t)
}

// SubtaskStatus returns the status of one sub-task by flow id.
func (e *Engine) SubtaskStatus(id string) (subtask.Status, bool) {
	if e.runner == nil {
		return subtask.Status{}, false
	}
	return e.runner.Status(id)
}

// SubtasksByFlow returns the statuses of all sub-tasks spawned under the
// given parent flow.
func (e *Engine) SubtasksByFlow(parentFlowID string) []subtask.Status {
	if e.runner == nil {
		return nil
	}
	return e.runner.StatusesByFlow(parentFlowID)
}

// SchemaDocument exports the capability definitions visible to the given
// user: all static catalog entries plus the user's dynamic capabilities.
func (e *Engine) SchemaDocument(ctx context.Context, userID string) ([]capability.Definition, error) {
	defs := e.catalog.Definitions()
	if e.registry == nil {
		return defs, nil
	}
	dyn, err := e.registry.Definitions(ctx, userID)
	if err != nil {
		return nil, fmt.Errorf("engine: exporting dynamic definitions: %w", err)
	}
	return append(defs, dyn...), nil
}

// MCPTools exports the enabled static capabilities as MCP tool descriptors.
func (e *Engine) MCPTools() []*mcp.Tool {
	return e.catalog.MCPTools()
}

// Catalog returns the static capability catalog.
func (e *Engine) Catalog() *capability.Catalog { return e.catalog }

// Registry returns the dynamic capability registry, or nil when not attached.
func (e *Engine) Registry() *dynamic.Registry { return e.registry }

// PersistResult sanitizes a call result and writes it to the memory backend.
// Raw result data never reaches the writer; this method is the only
// persistence path for capability output.
func (e *Engine) PersistResult(ctx context.Context, userID, flowID string, res core.CallResult) (*memory.Record, error) {
	if e.writer == nil {
		return nil, fmt.Errorf("engine: no memory writer configured")
	}

	payload := map[string]any{"success": res.Success, "data": res.Data}
	if res.Error != "" {
		payload["error"] = res.Error
	}
	sr := sanitize.Sanitize(payload)

	content, err := json.Marshal(sr.Cleaned)
	if err != nil {
		return nil, fmt.Errorf("engine: encoding result for persistence: %w", err)
	}

	rec := memory.Record{
		UserID:     userID,
		FlowID:     flowID,
		Capability: res.CapabilityUsed,
		Content:    string(content),
	}
	if sr.HasSensitiveData {
		rec.Metadata = map[string]any{"redacted_count": sr.RedactedCount}
		e.logger.Info("engine.persist.redacted",
			"capability", res.CapabilityUsed,
			"redacted_count", sr.RedactedCount,
		)
	}

	if err := e.hooks.run(ctx, HookBeforePersist, &HookContext{UserID: userID, FlowID: flowID, Record: &rec}); err != nil {
		return nil, fmt.Errorf("engine: persistence vetoed: %w", err)
	}
	if err := e.writer.Write(ctx, rec); err != nil {
		return nil, fmt.Errorf("engine: writing memory record: %w", err)
	}
	return &rec, nil
}

// spawnHandler exposes sub-task delegation as a regular catalog capability so
// the outer function-calling loop can invoke it like any other tool.
type spawnHandler struct {
	runner *subtask.Runner
}

func (h *spawnHandler) Name() string { return subtask.SpawnCapabilityID }

func (h *spawnHandler) Description() string {
	return "Delegate a focused task to a bounded sub-task that runs its own tool loop with a restricted capability set and returns a final answer."
}

func (h *spawnHandler) Category() capability.Category { return capability.CategoryBuiltin }

func (h *spawnHandler) Actions() []string { return nil }

func (h *spawnHandler) Parameters() map[string]any {
	return map[string]any{
		"type": "object",
		"properties": map[string]any{
			"task": map[string]any{
				"type":        "string",
				"description": "The task the sub-task must accomplish",
			},
			"task_description": map[string]any{
				"type":        "string",
				"description": "Additional detail about the task",
			},
			"allowed_capabilities": map[string]any{
				"type":        "array",
				"items":       map[string]any{"type": "string"},
				"description": "Capability ids the sub-task may use",
			},
			"max_iterations": map[string]any{
				"type":        "integer",
				"description": "Iteration budget, capped at 15",
			},
			"parent_context": map[string]any{
				"type":        "string",
				"description": "Context carried from the parent conversation",
			},
		},
		"required": []string{"task", "allowed_capabilities"},
	}
}

func (h *spawnHandler) Execute(ictx *core.InvokeContext, _ string, params map[string]any) (any, error) {
	task, err := capability.RequireString(subtask.SpawnCapabilityID, params, "task")
	if err != nil {
		return nil, err
	}

	req := subtask.SpawnRequest{
		Task:                task,
		TaskDescription:     capability.OptionalString(params, "task_description", ""),
		AllowedCapabilities: stringSlice(params["allowed_capabilities"]),
		MaxIterations:       capability.OptionalInt(params, "max_iterations", 0),
		PromptMode:          capability.OptionalString(params, "prompt_mode", ""),
		TimeoutMs:           capability.OptionalInt(params, "timeout_ms", 0),
		ParentContext:       capability.OptionalString(params, "parent_context", ""),
		ParentFlowID:        ictx.FlowID(),
	}

	res := h.runner.Spawn(ictx.Context(), ictx.UserID(), req)
	if !res.Success {
		return nil, capability.NewError(subtask.SpawnCapabilityID, res.Error, capability.CodeSpawn)
	}
	return res, nil
}

// stringSlice coerces a JSON-decoded array value into []string, dropping
// non-string elements.
func stringSlice(v any) []string {
	switch vals := v.(type) {
	case []string:
		return vals
	case []any:
		out := make([]string, 0, len(vals))
		for _, item := range vals {
			if s, ok := item.(string); ok {
				out = append(out, s)
			}
		}
		return out
	default:
		return nil
	}
}
