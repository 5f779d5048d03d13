// Package dispatch implements the valet dispatcher: the component that
// resolves a single call request to a capability, enforces enablement and
// rate budgets, invokes the handler and wraps the outcome with timing.
//
// The dispatcher never lets a failure escape: unknown capability, disabled
// capability, validation, timeout and handler panic are all converted into a
// CallResult{Success:false}. The one exception is a
// capability category with no matching arm in the dispatch switch, which is a
// configuration defect (catalog and switch drifted apart) and panics.
package dispatch

import (
	"context"
	"errors"
	"fmt"
	"runtime/debug"
	"time"

	"github.com/google/uuid"

	"github.com/valet-ai/valet/capability"
	"github.com/valet-ai/valet/core"
	"github.com/valet-ai/valet/dynamic"
	"github.com/valet-ai/valet/logging"
)

// Dispatcher routes call requests to static catalog handlers or the dynamic
// registry. It is stateless apart from the rate gate; safe for concurrent use.
type Dispatcher struct {
	catalog  *capability.Catalog
	registry *dynamic.Registry
	gate     *capability.RateGate
	logger   logging.Logger
}

// Option customizes Dispatcher construction.
type Option func(*Dispatcher)

// WithDynamicRegistry attaches the generated-capability registry. Without it,
// identifiers following the generated naming convention fail as not found.
func WithDynamicRegistry(r *dynamic.Registry) Option {
	return func(d *Dispatcher) { d.registry = r }
}

// WithLogger sets the dispatcher logger.
func WithLogger(l logging.Logger) Option {
	return func(d *Dispatcher) { d.logger = l }
}

// WithRateGate replaces the default rate gate (useful for tests).
func WithRateGate(g *capability.RateGate) Option {
	return func(d *Dispatcher) { d.gate = g }
}

// New creates a dispatcher over the given static catalog.
func New(catalog *capability.Catalog, opts ...Option) *Dispatcher {
	d := &Dispatcher{
		catalog: catalog,
		gate:    capability.NewRateGate(),
		logger:  logging.NoOpLogger{},
	}
	for _, o := range opts {
		o(d)
	}
	return d
}

// Resolve maps a capability identifier to its tagged resolution. The static
// catalog wins; otherwise identifiers following the generated naming
// convention defer to the dynamic registry. The bool reports whether either
// route exists.
func (d *Dispatcher) Resolve(id string) (capability.Resolution, bool) {
	if cfg, h, ok := d.catalog.Get(id); ok {
		return capability.StaticResolution{Config: cfg, Handler: h}, true
	}
	if d.registry != nil && dynamic.IsGeneratedName(id) {
		return capability.DynamicResolution{Name: id}, true
	}
	return nil, false
}

// Execute runs one call request to completion. It never returns an error and
// never panics for runtime input problems; all failures surface as a failed
// CallResult whose message is written for the calling LLM to self-correct.
func (d *Dispatcher) Execute(ctx context.Context, userID string, req core.CallRequest) core.CallResult {
	start := time.Now()

	resolution, ok := d.Resolve(req.CapabilityID)
	if !ok {
		return d.fail(req, capability.NewNotFound(req.CapabilityID), start)
	}

	switch r := resolution.(type) {
	case capability.StaticResolution:
		if !r.Config.Enabled {
			return d.fail(req, capability.NewDisabled(req.CapabilityID), start)
		}
		if !d.gate.Allow(userID, req.CapabilityID, r.Config.RateLimit) {
			return d.fail(req, capability.NewRateLimited(req.CapabilityID, r.Config.RateLimit), start)
		}
		return d.runStatic(ctx, userID, r, req, start)

	case capability.DynamicResolution:
		return d.runDynamic(ctx, userID, req, start)

	default:
		// Resolution is a closed set; a new variant means this switch was not
		// updated alongside it.
		panic(fmt.Sprintf("dispatch: unhandled resolution type %T", resolution))
	}
}

// runStatic executes a catalog capability with action checks, the
// per-capability deadline and panic containment.
func (d *Dispatcher) runStatic(
	ctx context.Context,
	userID string,
	r capability.StaticResolution,
	req core.CallRequest,
	start time.Time,
) core.CallResult {
	switch r.Config.Category {
	case capability.CategoryBuiltin,
		capability.CategoryExternalAPI,
		capability.CategoryPluginProtocol,
		capability.CategoryDelegatedBrowser:
		// all served by the handler's Execute; delegated categories wrap an
		// external executor behind the same interface
	case capability.CategoryUserGenerated:
		// user-generated capabilities never live in the static catalog
		panic(fmt.Sprintf("dispatch: capability %q registered in static catalog with user-generated category", req.CapabilityID))
	default:
		// Catalog validation and this switch enumerate the same categories; a
		// value reaching here means they drifted apart.
		panic(fmt.Sprintf("dispatch: no handler for capability category %q", r.Config.Category))
	}

	if err := checkAction(r.Handler, req); err != nil {
		return d.fail(req, err, start)
	}

	runCtx := ctx
	var cancel context.CancelFunc
	deadline := time.Duration(r.Config.TimeoutMs) * time.Millisecond
	if deadline > 0 {
		runCtx, cancel = context.WithTimeout(ctx, deadline)
		defer cancel()
	}

	callID := uuid.NewString()
	ictx := core.NewInvokeContext(runCtx, userID, flowIDFrom(ctx), callID, d.logger)

	data, err := d.invoke(ictx, r.Handler, req)
	dur := time.Since(start)
	logging.LogCall(d.logger, req.CapabilityID, req.Action, dur, err == nil, err)

	if err != nil {
		if deadline > 0 && errors.Is(err, context.DeadlineExceeded) && runCtx.Err() != nil {
			return failure(capability.NewTimeout(req.CapabilityID, "individual", deadline), dur)
		}
		return failure(capability.Classify(req.CapabilityID, err), dur)
	}
	return core.OK(data, req.CapabilityID, dur)
}

// invoke calls the handler with panic containment. A recovered panic becomes
// an execution failure carrying the panic value.
func (d *Dispatcher) invoke(ictx *core.InvokeContext, h capability.Handler, req core.CallRequest) (data any, err error) {
	defer func() {
		if r := recover(); r != nil {
			d.logger.Error("dispatch.handler.panic",
				"capability", req.CapabilityID,
				"action", req.Action,
				"recover", fmt.Sprintf("%v", r),
				"stack", string(debug.Stack()),
			)
			err = &capability.Error{
				Capability: req.CapabilityID,
				Message:    fmt.Sprintf("capability panicked: %v", r),
				Code:       capability.CodeExecution,
			}
		}
	}()
	return h.Execute(ictx, req.Action, req.Params)
}

// runDynamic routes a generated-capability call through the registry.
func (d *Dispatcher) runDynamic(ctx context.Context, userID string, req core.CallRequest, start time.Time) core.CallResult {
	res, err := d.registry.Invoke(ctx, userID, req.CapabilityID, req.Params)
	dur := time.Since(start)
	logging.LogCall(d.logger, req.CapabilityID, req.Action, dur, err == nil && res.Success, err)
	if err != nil {
		return failure(capability.Classify(req.CapabilityID, err), dur)
	}
	if !res.Success {
		return failure(&capability.Error{
			Capability: req.CapabilityID,
			Message:    res.Error,
			Code:       capability.CodeRegistry,
		}, dur)
	}
	return core.OK(res.Data, req.CapabilityID, dur)
}

// fail wraps a classified error into a failed CallResult with timing.
func (d *Dispatcher) fail(req core.CallRequest, err error, start time.Time) core.CallResult {
	dur := time.Since(start)
	logging.LogCall(d.logger, req.CapabilityID, req.Action, dur, false, err)
	return failure(capability.Classify(req.CapabilityID, err), dur)
}

// failure builds a failed CallResult carrying the classified error's bare
// message; the wrapper formatting stays out of LLM-visible output.
func failure(capErr *capability.Error, dur time.Duration) core.CallResult {
	return core.CallResult{
		Success:         false,
		Error:           capErr.Message,
		ExecutionTimeMs: dur.Milliseconds(),
		CapabilityUsed:  capErr.Capability,
	}
}

// checkAction verifies the requested action against the handler's declared
// set. Handlers declaring no actions accept any (single-operation
// capabilities).
func checkAction(h capability.Handler, req core.CallRequest) error {
	actions := h.Actions()
	if len(actions) == 0 {
		return nil
	}
	if req.Action == "" {
		return &capability.Error{
			Capability: req.CapabilityID,
			Message:    fmt.Sprintf("action is required for capability '%s'; valid actions: %s", req.CapabilityID, joinActions(actions)),
			Code:       capability.CodeValidation,
		}
	}
	for _, a := range actions {
		if a == req.Action {
			return nil
		}
	}
	return capability.NewUnknownAction(req.CapabilityID, req.Action, actions)
}

func joinActions(actions []string) string {
	out := ""
	for i, a := range actions {
		if i > 0 {
			out += ", "
		}
		out += a
	}
	return out
}

// flowIDKey carries an optional conversation flow id through context.
type flowIDKey struct{}

// WithFlowID tags a context with the conversation flow the calls belong to.
func WithFlowID(ctx context.Context, flowID string) context.Context {
	return context.WithValue(ctx, flowIDKey{}, flowID)
}

func flowIDFrom(ctx context.Context) string {
	if v, ok := ctx.Value(flowIDKey{}).(string); ok {
		return v
	}
	return ""
}
