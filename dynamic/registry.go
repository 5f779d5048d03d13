package dynamic

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/valet-ai/valet/capability"
	"github.com/valet-ai/valet/logging"
)

// Sandbox executes user-authored capability code in isolation. It is an
// external collaborator: the registry hands it code and parameters and gets
// back a result, nothing more. Implementations must honor ctx cancellation.
type Sandbox interface {
	Run(ctx context.Context, code string, params map[string]any) (any, error)
}

// InvokeResult is the outcome of one generated-capability invocation.
type InvokeResult struct {
	Success         bool   `json:"success"`
	Data            any    `json:"data,omitempty"`
	Error           string `json:"error,omitempty"`
	ExecutionTimeMs int64  `json:"execution_time_ms"`
}

// Registry is the per-user cache and lifecycle manager for generated
// capabilities. Reads are served from the cache; every mutation (Create, Fix,
// Rollback, Delete) invalidates the owning user's cache entry before
// returning, so the next Resolve observes the new state. Mutations run under
// the registry write lock, so no reader can observe a capability's new code
// without also observing its incremented version.
type Registry struct {
	store   Store
	sandbox Sandbox
	logger  logging.Logger

	mu    sync.RWMutex
	cache map[string]map[string]*GeneratedCapability // userID -> id -> record
	gen   map[string]uint64                          // userID -> invalidation generation
}

// Option customizes Registry construction.
type Option func(*Registry)

// WithLogger sets the registry logger.
func WithLogger(l logging.Logger) Option {
	return func(r *Registry) { r.logger = l }
}

// NewRegistry creates a registry over the given store and sandbox.
func NewRegistry(store Store, sandbox Sandbox, opts ...Option) *Registry {
	r := &Registry{
		store:   store,
		sandbox: sandbox,
		logger:  logging.NoOpLogger{},
		cache:   make(map[string]map[string]*GeneratedCapability),
		gen:     make(map[string]uint64),
	}
	for _, o := range opts {
		o(r)
	}
	return r
}

// Resolve returns the generated capability addressed by id, or nil when the
// user owns no such capability. The read is cache-first.
func (r *Registry) Resolve(ctx context.Context, userID, id string) (*GeneratedCapability, error) {
	r.mu.RLock()
	if user, ok := r.cache[userID]; ok {
		rec := user[id]
		r.mu.RUnlock()
		if rec != nil {
			return rec.clone(), nil
		}
		return nil, nil
	}
	r.mu.RUnlock()

	if err := r.fill(ctx, userID); err != nil {
		return nil, err
	}

	r.mu.RLock()
	defer r.mu.RUnlock()
	if rec := r.cache[userID][id]; rec != nil {
		return rec.clone(), nil
	}
	return nil, nil
}

// fill loads a user's records from the store into the cache. The store read
// runs outside the lock; a snapshot is installed only if no mutation
// invalidated the user between the read and the write. A stale snapshot is
// discarded and the load retried, so a Resolve that starts before a mutation
// commits can never resurrect the pre-mutation state.
func (r *Registry) fill(ctx context.Context, userID string) error {
	for {
		if err := ctx.Err(); err != nil {
			return err
		}

		r.mu.RLock()
		start := r.gen[userID]
		r.mu.RUnlock()

		recs, err := r.store.List(ctx, userID)
		if err != nil {
			return fmt.Errorf("registry: loading capabilities for %s: %w", userID, err)
		}

		user := make(map[string]*GeneratedCapability, len(recs))
		for _, rec := range recs {
			user[rec.ID] = rec
		}

		r.mu.Lock()
		if r.gen[userID] == start {
			r.cache[userID] = user
			r.mu.Unlock()
			return nil
		}
		r.mu.Unlock()
	}
}

// invalidate drops a user's cache entry and bumps the user's generation so an
// in-flight fill discards its snapshot. Must be called with r.mu held.
func (r *Registry) invalidateLocked(userID string) {
	delete(r.cache, userID)
	r.gen[userID]++
}

// InvalidateCache drops the cache entry for userID so the next Resolve
// re-reads from the store. Exposed for callers that mutate storage out of
// band (e.g. an admin surface).
func (r *Registry) InvalidateCache(userID string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.invalidateLocked(userID)
}

// Invoke executes a generated capability through the sandbox, recording usage
// and last-error metadata. The returned InvokeResult mirrors the dispatcher's
// CallResult shape; invocation failures are reported in-band, never as a Go
// error (those are reserved for registry/storage faults).
func (r *Registry) Invoke(ctx context.Context, userID, id string, params map[string]any) (InvokeResult, error) {
	rec, err := r.Resolve(ctx, userID, id)
	if err != nil {
		return InvokeResult{}, err
	}
	if rec == nil {
		return InvokeResult{}, capability.NewNotFound(id)
	}
	if !rec.Enabled {
		return InvokeResult{}, capability.NewDisabled(id)
	}
	if rec.InputSchema != nil {
		if err := capability.ValidateParams(id, params, rec.InputSchema); err != nil {
			return InvokeResult{}, err
		}
	}

	start := time.Now()
	data, runErr := r.sandbox.Run(ctx, rec.Code, params)
	dur := time.Since(start)

	res := InvokeResult{
		Success:         runErr == nil,
		Data:            data,
		ExecutionTimeMs: dur.Milliseconds(),
	}
	if runErr != nil {
		res.Error = runErr.Error()
	}

	if err := r.recordOutcome(ctx, userID, id, runErr); err != nil {
		r.logger.Warn("dynamic.usage.record_failed", "capability", id, "error", err.Error())
	}

	logging.LogCall(r.logger, id, "invoke", dur, runErr == nil, runErr)
	return res, nil
}

// recordOutcome bumps the usage counter and last-error metadata, invalidating
// the cache so subsequent reads see the update.
func (r *Registry) recordOutcome(ctx context.Context, userID, id string, runErr error) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	rec, err := r.store.Get(ctx, userID, id)
	if err != nil {
		return err
	}
	rec.UsageCount++
	if runErr != nil {
		rec.LastError = runErr.Error()
		rec.LastErrorAt = time.Now()
	}
	rec.UpdatedAt = time.Now()
	if err := r.store.Put(ctx, rec); err != nil {
		return err
	}
	r.invalidateLocked(userID)
	return nil
}

// CreateRequest describes a new generated capability.
type CreateRequest struct {
	Name               string         `json:"name"` // display name; slugified into the id
	Description        string         `json:"description,omitempty"`
	Code               string         `json:"code"`
	RequiredSecretKeys []string       `json:"required_secret_keys,omitempty"`
	InputSchema        map[string]any `json:"input_schema,omitempty"`
}

// Create validates and stores a new capability at version 1.
func (r *Registry) Create(ctx context.Context, userID string, req CreateRequest) (*GeneratedCapability, error) {
	slug := Slugify(req.Name)
	if slug == "" {
		return nil, &capability.Error{
			Capability: req.Name,
			Message:    "capability name must contain letters or digits",
			Code:       capability.CodeValidation,
		}
	}
	if err := ValidateCode(req.Code); err != nil {
		return nil, &capability.Error{
			Capability: NameForSlug(slug),
			Message:    err.Error(),
			Code:       capability.CodeValidation,
		}
	}

	id := NameForSlug(slug)
	now := time.Now()
	rec := &GeneratedCapability{
		ID:                 id,
		UserID:             userID,
		Name:               slug,
		DisplayName:        strings.TrimSpace(req.Name),
		Description:        req.Description,
		Code:               req.Code,
		Version:            1,
		RequiredSecretKeys: req.RequiredSecretKeys,
		InputSchema:        req.InputSchema,
		Enabled:            true,
		CreatedAt:          now,
		UpdatedAt:          now,
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	if existing, err := r.store.Get(ctx, userID, id); err == nil && existing != nil {
		return nil, fmt.Errorf("registry: capability %q already exists; use fix to update its code", id)
	} else if err != nil && !errors.Is(err, ErrNotFound) {
		return nil, err
	}

	if err := r.store.Put(ctx, rec); err != nil {
		return nil, err
	}
	r.invalidateLocked(userID)
	r.logger.Info("dynamic.capability.created", "capability", id, "user_id", userID)
	return rec.clone(), nil
}

// Get returns one record or nil when absent.
func (r *Registry) Get(ctx context.Context, userID, id string) (*GeneratedCapability, error) {
	return r.Resolve(ctx, userID, id)
}

// List returns all of a user's generated capabilities sorted by id.
func (r *Registry) List(ctx context.Context, userID string) ([]*GeneratedCapability, error) {
	return r.store.List(ctx, userID)
}

// Search returns the user's capabilities whose id, display name or
// description contains the query (case-insensitive substring match).
func (r *Registry) Search(ctx context.Context, userID, query string) ([]*GeneratedCapability, error) {
	recs, err := r.store.List(ctx, userID)
	if err != nil {
		return nil, err
	}
	q := strings.ToLower(query)
	out := recs[:0]
	for _, rec := range recs {
		if strings.Contains(strings.ToLower(rec.ID), q) ||
			strings.Contains(strings.ToLower(rec.DisplayName), q) ||
			strings.Contains(strings.ToLower(rec.Description), q) {
			out = append(out, rec)
		}
	}
	return out, nil
}

// Delete removes a capability and invalidates the user's cache.
func (r *Registry) Delete(ctx context.Context, userID, id string) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if err := r.store.Delete(ctx, userID, id); err != nil {
		return err
	}
	r.invalidateLocked(userID)
	r.logger.Info("dynamic.capability.deleted", "capability", id, "user_id", userID)
	return nil
}

// Fix replaces the capability's code, retaining the old code as the one
// undo level. Version increases by exactly 1. Invalid replacement code is
// rejected without mutating state.
func (r *Registry) Fix(ctx context.Context, userID, id, newCode, reason string) (*GeneratedCapability, error) {
	if err := ValidateCode(newCode); err != nil {
		return nil, &capability.Error{Capability: id, Message: err.Error(), Code: capability.CodeValidation}
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	rec, err := r.store.Get(ctx, userID, id)
	if err != nil {
		return nil, err
	}

	rec.PreviousCode = rec.Code
	rec.Code = newCode
	rec.Version++
	rec.LastError = ""
	rec.LastErrorAt = time.Time{}
	rec.UpdatedAt = time.Now()

	if err := r.store.Put(ctx, rec); err != nil {
		return nil, err
	}
	r.invalidateLocked(userID)
	r.logger.Info("dynamic.capability.fixed", "capability", id, "version", rec.Version, "reason", reason)
	return rec.clone(), nil
}

// Rollback swaps the current code with the retained previous version. Version
// still increases by exactly 1: the counter is monotonic, not a pointer into
// history. Rolling back a capability with no prior version is rejected
// without mutating state.
func (r *Registry) Rollback(ctx context.Context, userID, id, reason string) (*GeneratedCapability, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	rec, err := r.store.Get(ctx, userID, id)
	if err != nil {
		return nil, err
	}
	if rec.PreviousCode == "" {
		return nil, fmt.Errorf("registry: capability %q has no previous version to roll back to", id)
	}
	if err := ValidateCode(rec.PreviousCode); err != nil {
		return nil, &capability.Error{Capability: id, Message: err.Error(), Code: capability.CodeValidation}
	}

	rec.Code, rec.PreviousCode = rec.PreviousCode, rec.Code
	rec.Version++
	rec.UpdatedAt = time.Now()

	if err := r.store.Put(ctx, rec); err != nil {
		return nil, err
	}
	r.invalidateLocked(userID)
	r.logger.Info("dynamic.capability.rolled_back", "capability", id, "version", rec.Version, "reason", reason)
	return rec.clone(), nil
}

// SetEnabled toggles a generated capability.
func (r *Registry) SetEnabled(ctx context.Context, userID, id string, enabled bool) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	rec, err := r.store.Get(ctx, userID, id)
	if err != nil {
		return err
	}
	rec.Enabled = enabled
	rec.UpdatedAt = time.Now()
	if err := r.store.Put(ctx, rec); err != nil {
		return err
	}
	r.invalidateLocked(userID)
	return nil
}

// Definitions exports the user's enabled generated capabilities as schema
// document entries, merged by the engine with the static catalog export.
func (r *Registry) Definitions(ctx context.Context, userID string) ([]capability.Definition, error) {
	recs, err := r.store.List(ctx, userID)
	if err != nil {
		return nil, err
	}
	out := make([]capability.Definition, 0, len(recs))
	for _, rec := range recs {
		out = append(out, capability.Definition{
			Name:        rec.ID,
			DisplayName: rec.DisplayName,
			Description: rec.Description,
			Category:    capability.CategoryUserGenerated,
			Enabled:     rec.Enabled,
			Parameters:  rec.InputSchema,
		})
	}
	return out, nil
}
