// Package builtin provides the static capability handlers shipped with
// valet and the narrow collaborator interfaces they delegate to: todo,
// notification, scheduling, outbound HTTP, web search, browser automation,
// sandboxed code execution, secret storage, goals and skills.
//
// Each collaborator is a small request/response contract; in-memory reference
// implementations live alongside the interfaces so the engine works out of
// the box and tests need no infrastructure.
package builtin

import (
	"fmt"

	"github.com/valet-ai/valet/capability"
)

// Collaborators bundles the external services the built-in handlers delegate
// to. Nil fields skip registration of the corresponding capability.
type Collaborators struct {
	Todos     TodoStore
	Notifier  Notifier
	Scheduler Scheduler
	Fetcher   Fetcher
	Search    SearchProvider
	Browser   BrowserDriver
	Sandbox   Sandbox
	Vault     SecretVault
	Goals     GoalStore
	Skills    SkillStore
}

// Defaults returns collaborators backed by the in-memory reference
// implementations, with no notifier, browser, search or sandbox attached.
func Defaults() Collaborators {
	return Collaborators{
		Todos:  NewInMemoryTodoStore(),
		Vault:  NewInMemoryVault(),
		Goals:  NewInMemoryGoalStore(),
		Skills: NewInMemorySkillStore(),
	}
}

// RegisterOption customizes registration.
type RegisterOption func(*registerOptions)

type registerOptions struct {
	tune func(cfg *capability.Config)
}

// WithTuner applies fn to every capability config before registration,
// letting deployments override defaults (enablement, rate limits, timeouts)
// while the catalog itself stays fixed after construction.
func WithTuner(fn func(cfg *capability.Config)) RegisterOption {
	return func(o *registerOptions) { o.tune = fn }
}

// RegisterAll registers a capability for every collaborator present in c.
func RegisterAll(catalog *capability.Catalog, c Collaborators, opts ...RegisterOption) error {
	var ro registerOptions
	for _, opt := range opts {
		opt(&ro)
	}

	type entry struct {
		cfg capability.Config
		h   capability.Handler
	}
	var entries []entry

	add := func(h capability.Handler, rateLimit, timeoutMs int) {
		cfg := capability.Config{
			ID:        h.Name(),
			Category:  h.Category(),
			Enabled:   true,
			RateLimit: rateLimit,
			TimeoutMs: timeoutMs,
		}
		if ro.tune != nil {
			ro.tune(&cfg)
		}
		entries = append(entries, entry{cfg: cfg, h: h})
	}

	if c.Todos != nil {
		add(NewTodoHandler(c.Todos), 0, 5000)
	}
	if c.Notifier != nil {
		add(NewNotifyHandler(c.Notifier), 30, 10000)
	}
	if c.Scheduler != nil {
		add(NewScheduleHandler(c.Scheduler), 0, 5000)
	}
	if c.Fetcher != nil {
		add(NewFetchHandler(c.Fetcher), 60, 10000)
	}
	if c.Search != nil {
		add(NewSearchHandler(c.Search), 30, 10000)
	}
	if c.Browser != nil {
		add(NewBrowserHandler(c.Browser), 10, 30000)
	}
	if c.Sandbox != nil {
		add(NewCodeExecuteHandler(c.Sandbox), 10, int(MaxExecutionTime.Milliseconds())+5000)
	}
	if c.Vault != nil {
		add(NewSecretsHandler(c.Vault), 0, 5000)
	}
	if c.Goals != nil {
		add(NewGoalsHandler(c.Goals), 0, 5000)
	}
	if c.Skills != nil {
		add(NewSkillsHandler(c.Skills), 0, 5000)
	}

	for _, e := range entries {
		if err := catalog.Register(e.cfg, e.h); err != nil {
			return fmt.Errorf("builtin: registering %s: %w", e.cfg.ID, err)
		}
	}
	return nil
}
