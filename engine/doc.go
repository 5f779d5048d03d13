// Package engine assembles the valet execution stack: the static capability
// catalog, the dispatcher, the batch executor, the dynamic capability
// registry, the sub-task runner and the result sanitizer, wired behind one
// Engine value.
//
// # Responsibilities
//
//   - Single and batch call dispatch with per-call and global timeouts
//   - Sub-task delegation, exposed both as a Go API (Spawn) and as the
//     spawn_subtask catalog capability
//   - Schema export: the merged static + dynamic capability definitions the
//     LLM loop advertises as tools, plus MCP tool descriptors
//   - Persistence: PersistResult is the only path by which capability output
//     reaches durable memory, and it always sanitizes first
//   - Hooks: before-call veto, after-call observation and before-persist
//     inspection points for cross-cutting concerns
//
// # Usage
//
//	catalog := capability.NewCatalog()
//	_ = builtin.RegisterAll(catalog, builtin.Defaults())
//
//	eng, err := engine.New(catalog,
//	    engine.WithLogger(logger),
//	    engine.WithDynamicRegistry(registry),
//	    engine.WithModel(mdl),
//	    engine.WithMemoryWriter(memory.NewInMemoryStore()),
//	)
//	if err != nil {
//	    return err
//	}
//
//	res := eng.Execute(ctx, "user-1", core.CallRequest{
//	    CapabilityID: "todo",
//	    Action:       "create",
//	    Params:       map[string]any{"title": "buy milk"},
//	})
//
// The Engine never returns errors or panics for runtime call input; every
// failure surfaces as CallResult{Success: false} with a corrective message.
package engine
