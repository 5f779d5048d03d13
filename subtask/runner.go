package subtask

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/valet-ai/valet/capability"
	"github.com/valet-ai/valet/core"
	"github.com/valet-ai/valet/internal/util"
	"github.com/valet-ai/valet/logging"
	"github.com/valet-ai/valet/model"
)

// Caller executes one call request to completion; the dispatcher satisfies it.
type Caller interface {
	Execute(ctx context.Context, userID string, req core.CallRequest) core.CallResult
}

// DefinitionSource supplies capability definitions for building the tool list
// exposed to the model. The static catalog satisfies it; the engine supplies
// a merged static+dynamic view.
type DefinitionSource interface {
	Definitions() []capability.Definition
}

// Runner spawns and tracks sub-tasks. Each sub-task's loop is strictly
// sequential (one model round-trip at a time); multiple sub-tasks may run
// concurrently. Safe for concurrent use.
type Runner struct {
	caller Caller
	mdl    model.Model
	defs   DefinitionSource
	logger logging.Logger

	mu        sync.RWMutex
	statuses  map[string]*Status
	templates map[string]Template
}

// Option customizes Runner construction.
type Option func(*Runner)

// WithDefinitions attaches a capability definition source for the model's
// tool list. Without it, allowed capabilities are exposed by name only.
func WithDefinitions(src DefinitionSource) Option {
	return func(r *Runner) { r.defs = src }
}

// WithLogger sets the runner logger.
func WithLogger(l logging.Logger) Option {
	return func(r *Runner) { r.logger = l }
}

// WithTemplates pre-registers spawn templates.
func WithTemplates(templates ...Template) Option {
	return func(r *Runner) {
		for _, t := range templates {
			r.templates[t.ID] = t
		}
	}
}

// NewRunner creates a runner that drives mdl and dispatches through caller.
func NewRunner(mdl model.Model, caller Caller, opts ...Option) *Runner {
	r := &Runner{
		caller:    caller,
		mdl:       mdl,
		logger:    logging.NoOpLogger{},
		statuses:  make(map[string]*Status),
		templates: make(map[string]Template),
	}
	for _, o := range opts {
		o(r)
	}
	return r
}

// RegisterTemplate adds a named spawn preset.
func (r *Runner) RegisterTemplate(t Template) error {
	if t.ID == "" {
		return fmt.Errorf("subtask: template id must not be empty")
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, exists := r.templates[t.ID]; exists {
		return fmt.Errorf("subtask: template %q already registered", t.ID)
	}
	r.templates[t.ID] = t
	return nil
}

// Status returns the observable progress of one sub-task.
func (r *Runner) Status(id string) (Status, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	if s, ok := r.statuses[id]; ok {
		return *s, true
	}
	return Status{}, false
}

// StatusesByFlow returns the statuses of all sub-tasks spawned under the
// given parent flow, oldest first.
func (r *Runner) StatusesByFlow(parentFlowID string) []Status {
	r.mu.RLock()
	defer r.mu.RUnlock()
	var out []Status
	for _, s := range r.statuses {
		if s.ParentFlowID == parentFlowID {
			out = append(out, *s)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].StartedAt.Before(out[j].StartedAt) })
	return out
}

// Spawn runs one sub-task to completion. It never returns an error; spawn
// constraint violations and loop failures surface as Result{Success:false}.
func (r *Runner) Spawn(ctx context.Context, userID string, req SpawnRequest) Result {
	start := time.Now()

	if err := validateSpawn(req); err != nil {
		return Result{
			Success:         false,
			Error:           err.Message,
			ExecutionTimeMs: time.Since(start).Milliseconds(),
		}
	}

	maxIter := req.MaxIterations
	if maxIter <= 0 {
		maxIter = DefaultMaxIterations
	}
	if maxIter > MaxIterationsCap {
		maxIter = MaxIterationsCap
	}
	timeout := DefaultTimeout
	if req.TimeoutMs > 0 {
		timeout = time.Duration(req.TimeoutMs) * time.Millisecond
	}

	flowID := uuid.NewString()
	r.track(flowID, req)

	runCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	// The allowed set becomes a private dispatch view: anything outside it,
	// the spawn capability included, is unreachable from inside the loop.
	view := newRestrictedCaller(r.caller, req.AllowedCapabilities)
	tools := r.toolDefinitions(req.AllowedCapabilities)
	instructions, err := buildInstructions(req, tools)
	if err != nil {
		r.setState(flowID, StateFailed, 0)
		return Result{
			Success:         false,
			Error:           fmt.Sprintf("building sub-task prompt: %v", err),
			ExecutionTimeMs: time.Since(start).Milliseconds(),
			FlowID:          flowID,
		}
	}

	r.setState(flowID, StateRunning, 0)
	r.logger.Info("subtask.spawned",
		"flow_id", flowID,
		"parent_flow_id", req.ParentFlowID,
		"allowed", len(req.AllowedCapabilities),
		"max_iterations", maxIter,
	)

	limiter := core.NewIterationLimiter(maxIter)
	messages := []model.Message{{Role: model.RoleUser, Text: req.Task}}
	var used []string
	seen := map[string]bool{}

	finish := func(state State, res Result) Result {
		res.FlowID = flowID
		res.Iterations = limiter.Count()
		res.CapabilitiesUsed = used
		res.ExecutionTimeMs = time.Since(start).Milliseconds()
		if res.Iterations > maxIter {
			res.Iterations = maxIter
		}
		r.setState(flowID, state, res.Iterations)
		r.logger.Info("subtask.finished",
			"flow_id", flowID,
			"state", string(state),
			"iterations", res.Iterations,
			"duration_ms", res.ExecutionTimeMs,
		)
		return res
	}

	for {
		if err := limiter.Increment(); err != nil {
			return finish(StateFailed, Result{
				Success: false,
				Error:   fmt.Sprintf("sub-task reached maximum iterations (%d) without a final answer", maxIter),
			})
		}
		if runCtx.Err() != nil {
			return finish(StateTimedOut, Result{
				Success: false,
				Error:   fmt.Sprintf("sub-task timeout after %dms", timeout.Milliseconds()),
			})
		}
		r.setState(flowID, StateRunning, limiter.Count())

		resp, err := r.mdl.Generate(runCtx, model.Request{
			Instructions: instructions,
			Messages:     messages,
			Tools:        tools,
		})
		if err != nil {
			if runCtx.Err() != nil {
				return finish(StateTimedOut, Result{
					Success: false,
					Error:   fmt.Sprintf("sub-task timeout after %dms", timeout.Milliseconds()),
				})
			}
			return finish(StateFailed, Result{
				Success: false,
				Error:   fmt.Sprintf("model error: %v", err),
			})
		}

		if len(resp.ToolCalls) == 0 {
			return finish(StateCompleted, Result{Success: true, Result: resp.Text})
		}

		messages = append(messages, model.Message{
			Role:      model.RoleAssistant,
			Text:      resp.Text,
			ToolCalls: resp.ToolCalls,
		})
		for _, call := range resp.ToolCalls {
			res := view.Execute(runCtx, userID, toCallRequest(call))
			if !seen[call.Name] {
				seen[call.Name] = true
				used = append(used, call.Name)
			}
			messages = append(messages, model.Message{
				Role:       model.RoleTool,
				ToolCallID: call.ID,
				Text:       encodeResult(res),
			})
		}
	}
}

// SpawnFromTemplate runs a sub-task from a named preset. Unknown template ids
// fail before any iteration.
func (r *Runner) SpawnFromTemplate(ctx context.Context, userID, templateID, task string, opts ...func(*SpawnRequest)) Result {
	r.mu.RLock()
	tpl, ok := r.templates[templateID]
	r.mu.RUnlock()
	if !ok {
		return Result{
			Success: false,
			Error:   fmt.Sprintf("sub-task template '%s' not found", templateID),
		}
	}

	req := SpawnRequest{
		Task:                task,
		TaskDescription:     tpl.Description,
		AllowedCapabilities: tpl.AllowedCapabilities,
		MaxIterations:       tpl.MaxIterations,
		TimeoutMs:           tpl.TimeoutMs,
		PromptMode:          tpl.PromptMode,
	}
	for _, o := range opts {
		o(&req)
	}
	return r.Spawn(ctx, userID, req)
}

// WithParentContext sets the one-shot parent context handed to the sub-task.
func WithParentContext(parentContext string) func(*SpawnRequest) {
	return func(req *SpawnRequest) { req.ParentContext = parentContext }
}

// WithParentFlow tags the sub-task with the spawning conversation's flow id.
func WithParentFlow(parentFlowID string) func(*SpawnRequest) {
	return func(req *SpawnRequest) { req.ParentFlowID = parentFlowID }
}

// validateSpawn enforces the spawn constraints checked before any iteration.
func validateSpawn(req SpawnRequest) *capability.Error {
	if strings.TrimSpace(req.Task) == "" {
		return capability.NewError(SpawnCapabilityID,
			"sub-task task must not be empty", capability.CodeSpawn)
	}
	if len(req.AllowedCapabilities) == 0 {
		return capability.NewError(SpawnCapabilityID,
			"allowed capability list is empty; a sub-task needs at least one capability", capability.CodeSpawn)
	}
	for _, id := range req.AllowedCapabilities {
		if id == SpawnCapabilityID {
			return capability.NewError(SpawnCapabilityID,
				fmt.Sprintf("allowed capability list must not include '%s'; sub-tasks cannot spawn sub-tasks", SpawnCapabilityID),
				capability.CodeSpawn)
		}
	}
	return nil
}

func (r *Runner) track(flowID string, req SpawnRequest) {
	now := time.Now()
	r.mu.Lock()
	defer r.mu.Unlock()
	r.statuses[flowID] = &Status{
		ID:           flowID,
		ParentFlowID: req.ParentFlowID,
		Task:         req.Task,
		State:        StateQueued,
		StartedAt:    now,
		UpdatedAt:    now,
	}
}

func (r *Runner) setState(flowID string, state State, iterations int) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if s, ok := r.statuses[flowID]; ok {
		s.State = state
		s.Iterations = iterations
		s.UpdatedAt = time.Now()
	}
}

// toolDefinitions builds the model-facing tool list for the allowed set.
// Capabilities without a known definition are exposed by name; the dispatcher
// error text teaches the model the rest.
func (r *Runner) toolDefinitions(allowed []string) []model.ToolDefinition {
	known := map[string]capability.Definition{}
	if r.defs != nil {
		for _, def := range r.defs.Definitions() {
			known[def.Name] = def
		}
	}
	out := make([]model.ToolDefinition, 0, len(allowed))
	for _, name := range allowed {
		if def, ok := known[name]; ok {
			out = append(out, model.ToolDefinition{
				Name:        def.Name,
				Description: def.Description,
				Parameters:  def.Parameters,
			})
			continue
		}
		out = append(out, model.ToolDefinition{
			Name:        name,
			Description: "capability " + name,
		})
	}
	return out
}

const promptTemplate = `You are a focused assistant completing one delegated task. Work step by step, use the available capabilities when needed, and reply with a plain-text final answer when the task is done.

Task: {{.Task}}
{{if .Description}}Details: {{.Description}}
{{end}}{{if .ParentContext}}Context from the requesting conversation:
{{.ParentContext}}
{{end}}Available capabilities: {{.Capabilities}}
Pass the operation name in the "action" argument when a capability supports multiple actions.`

// buildInstructions renders the sub-task system prompt.
func buildInstructions(req SpawnRequest, tools []model.ToolDefinition) (string, error) {
	names := make([]string, len(tools))
	for i, t := range tools {
		if req.PromptMode == PromptModeMinimal || t.Description == "" {
			names[i] = t.Name
			continue
		}
		names[i] = fmt.Sprintf("%s (%s)", t.Name, t.Description)
	}
	return util.RenderTemplate(promptTemplate, map[string]any{
		"Task":          req.Task,
		"Description":   req.TaskDescription,
		"ParentContext": req.ParentContext,
		"Capabilities":  strings.Join(names, ", "),
	})
}

// toCallRequest maps a proposed tool call to a call request. The "action"
// argument selects the operation; remaining arguments become params.
func toCallRequest(call model.ToolCall) core.CallRequest {
	req := core.CallRequest{CapabilityID: call.Name}
	if len(call.Arguments) == 0 {
		return req
	}
	params := make(map[string]any, len(call.Arguments))
	for k, v := range call.Arguments {
		if k == "action" {
			if action, ok := v.(string); ok {
				req.Action = action
				continue
			}
		}
		params[k] = v
	}
	req.Params = params
	return req
}

// encodeResult serializes a call result for the model transcript.
func encodeResult(res core.CallResult) string {
	raw, err := json.Marshal(res)
	if err != nil {
		return fmt.Sprintf(`{"success":false,"error":"encoding result: %v"}`, err)
	}
	return string(raw)
}

// restrictedCaller is the private dispatch view handed to a sub-task loop.
type restrictedCaller struct {
	caller  Caller
	allowed map[string]struct{}
	names   string
}

func newRestrictedCaller(caller Caller, allowed []string) restrictedCaller {
	set := make(map[string]struct{}, len(allowed))
	for _, id := range allowed {
		set[id] = struct{}{}
	}
	return restrictedCaller{caller: caller, allowed: set, names: strings.Join(allowed, ", ")}
}

// Execute refuses anything outside the allowed set before touching the
// underlying dispatcher.
func (rc restrictedCaller) Execute(ctx context.Context, userID string, req core.CallRequest) core.CallResult {
	if _, ok := rc.allowed[req.CapabilityID]; !ok {
		return core.CallResult{
			Success:        false,
			Error:          fmt.Sprintf("capability '%s' is not available to this sub-task; available capabilities: %s", req.CapabilityID, rc.names),
			CapabilityUsed: req.CapabilityID,
		}
	}
	return rc.caller.Execute(ctx, userID, req)
}
