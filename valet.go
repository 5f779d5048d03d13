// Package valet provides a high-level façade over the execution engine:
// capability catalog, dispatcher, batch executor, dynamic registry, sub-task
// runner and sanitizer. Most applications interact with this package by:
//  1. Creating a Valet via New() (optionally overriding the defaults)
//  2. Registering extra capabilities on the catalog before construction
//  3. Executing calls (Execute / ExecuteBatch) or delegating sub-tasks (Spawn)
//
// The façade delegates orchestration to engine.Engine while keeping setup
// ergonomics concise. All defaults are safe for local development and
// testing; production deployments supply durable stores, a real sandbox and
// a structured logger.
package valet

import (
	"context"

	"github.com/valet-ai/valet/builtin"
	"github.com/valet-ai/valet/capability"
	"github.com/valet-ai/valet/core"
	"github.com/valet-ai/valet/dynamic"
	"github.com/valet-ai/valet/engine"
	"github.com/valet-ai/valet/logging"
	"github.com/valet-ai/valet/memory"
	"github.com/valet-ai/valet/model"
	"github.com/valet-ai/valet/subtask"
)

// Options configures the Valet instance.
type Options struct {
	// Catalog of static capabilities. When nil, a catalog populated with the
	// in-memory builtin defaults is created.
	Catalog *capability.Catalog

	// Collaborators used to populate a default catalog. Ignored when Catalog
	// is provided.
	Collaborators *builtin.Collaborators

	// Sandbox enables the dynamic capability registry. Without it, only
	// static capabilities resolve.
	Sandbox dynamic.Sandbox

	// DynamicStore persists generated capabilities. Defaults to in-memory.
	DynamicStore dynamic.Store

	// Model powers sub-task delegation. Optional.
	Model model.Model

	// MemoryWriter receives sanitized results from PersistResult. Defaults
	// to an in-memory store.
	MemoryWriter memory.Writer

	// Logger defaults to NoOpLogger.
	Logger logging.Logger

	// EngineOptions are passed through to engine.New for fine tuning.
	EngineOptions []func(*engine.Options)
}

// Valet is the high-level façade aggregating the engine and its components.
type Valet struct {
	engine   *engine.Engine
	registry *dynamic.Registry
}

// New creates a Valet instance with optional overrides. Any unset component
// is initialized with an in-memory implementation.
func New(optFns ...func(o *Options)) (*Valet, error) {
	opts := Options{
		Logger:       logging.NoOpLogger{},
		MemoryWriter: memory.NewInMemoryStore(),
	}
	for _, fn := range optFns {
		fn(&opts)
	}

	catalog := opts.Catalog
	if catalog == nil {
		catalog = capability.NewCatalog()
		collabs := builtin.Defaults()
		if opts.Collaborators != nil {
			collabs = *opts.Collaborators
		}
		if err := builtin.RegisterAll(catalog, collabs); err != nil {
			return nil, err
		}
	}

	engOpts := []func(*engine.Options){
		engine.WithLogger(opts.Logger),
		engine.WithMemoryWriter(opts.MemoryWriter),
		engine.WithRateGate(capability.NewRateGate()),
	}

	var registry *dynamic.Registry
	if opts.Sandbox != nil {
		store := opts.DynamicStore
		if store == nil {
			store = dynamic.NewInMemoryStore()
		}
		registry = dynamic.NewRegistry(store, opts.Sandbox, dynamic.WithLogger(opts.Logger))
		engOpts = append(engOpts, engine.WithDynamicRegistry(registry))
	}
	if opts.Model != nil {
		engOpts = append(engOpts, engine.WithModel(opts.Model))
	}
	engOpts = append(engOpts, opts.EngineOptions...)

	eng, err := engine.New(catalog, engOpts...)
	if err != nil {
		return nil, err
	}
	return &Valet{engine: eng, registry: registry}, nil
}

// Execute dispatches one capability call.
func (v *Valet) Execute(ctx context.Context, userID string, req core.CallRequest) core.CallResult {
	return v.engine.Execute(ctx, userID, req)
}

// ExecuteBatch dispatches the requests with bounded parallelism, returning
// one result per request in request order.
func (v *Valet) ExecuteBatch(ctx context.Context, userID string, reqs []core.CallRequest) []core.CallResult {
	return v.engine.ExecuteBatch(ctx, userID, reqs)
}

// Spawn delegates a task to a bounded sub-task loop.
func (v *Valet) Spawn(ctx context.Context, userID string, req subtask.SpawnRequest) subtask.Result {
	return v.engine.Spawn(ctx, userID, req)
}

// PersistResult sanitizes and stores one call result.
func (v *Valet) PersistResult(ctx context.Context, userID, flowID string, res core.CallResult) (*memory.Record, error) {
	return v.engine.PersistResult(ctx, userID, flowID, res)
}

// SchemaDocument exports the capability definitions visible to the user.
func (v *Valet) SchemaDocument(ctx context.Context, userID string) ([]capability.Definition, error) {
	return v.engine.SchemaDocument(ctx, userID)
}

// Engine exposes the underlying engine for advanced use.
func (v *Valet) Engine() *engine.Engine { return v.engine }

// Registry exposes the dynamic capability registry, or nil when no sandbox
// was configured.
func (v *Valet) Registry() *dynamic.Registry { return v.registry }
