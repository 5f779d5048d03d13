package builtin

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/robfig/cron/v3"

	"github.com/valet-ai/valet/capability"
	"github.com/valet-ai/valet/core"
)

// ScheduledTask is one recurring task owned by a user.
type ScheduledTask struct {
	ID          string    `json:"id"`
	UserID      string    `json:"user_id"`
	CronSpec    string    `json:"cron_spec"`
	Description string    `json:"description"`
	CreatedAt   time.Time `json:"created_at"`
}

// Scheduler stores and triggers recurring tasks.
type Scheduler interface {
	Create(ctx context.Context, task ScheduledTask) (ScheduledTask, error)
	List(ctx context.Context, userID string) ([]ScheduledTask, error)
	Cancel(ctx context.Context, userID, id string) error
}

// CronScheduler is a Scheduler backed by robfig/cron. The fire callback runs
// on every trigger; the engine typically wires it to the Notifier.
type CronScheduler struct {
	cron *cron.Cron
	fire func(task ScheduledTask)

	mu      sync.Mutex
	entries map[string]cron.EntryID
	tasks   map[string]ScheduledTask
}

// NewCronScheduler creates and starts a scheduler. A nil fire callback makes
// triggers no-ops (useful in tests that only exercise bookkeeping).
func NewCronScheduler(fire func(task ScheduledTask)) *CronScheduler {
	s := &CronScheduler{
		cron:    cron.New(),
		fire:    fire,
		entries: make(map[string]cron.EntryID),
		tasks:   make(map[string]ScheduledTask),
	}
	s.cron.Start()
	return s
}

// Stop halts the underlying cron runner.
func (s *CronScheduler) Stop() { s.cron.Stop() }

// Create implements Scheduler. Invalid cron specs are rejected without
// storing anything.
func (s *CronScheduler) Create(_ context.Context, task ScheduledTask) (ScheduledTask, error) {
	task.ID = uuid.NewString()
	task.CreatedAt = time.Now()

	fired := task // copy captured by the trigger closure
	entryID, err := s.cron.AddFunc(task.CronSpec, func() {
		if s.fire != nil {
			s.fire(fired)
		}
	})
	if err != nil {
		return ScheduledTask{}, fmt.Errorf("invalid cron spec '%s': %w", task.CronSpec, err)
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	s.entries[task.ID] = entryID
	s.tasks[task.ID] = task
	return task, nil
}

// List implements Scheduler.
func (s *CronScheduler) List(_ context.Context, userID string) ([]ScheduledTask, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []ScheduledTask
	for _, t := range s.tasks {
		if t.UserID == userID {
			out = append(out, t)
		}
	}
	return out, nil
}

// Cancel implements Scheduler.
func (s *CronScheduler) Cancel(_ context.Context, userID, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	task, ok := s.tasks[id]
	if !ok || task.UserID != userID {
		return fmt.Errorf("scheduled task '%s' not found", id)
	}
	s.cron.Remove(s.entries[id])
	delete(s.entries, id)
	delete(s.tasks, id)
	return nil
}

// ScheduleHandler exposes the schedule capability.
type ScheduleHandler struct {
	scheduler Scheduler
}

// NewScheduleHandler wraps a Scheduler.
func NewScheduleHandler(s Scheduler) *ScheduleHandler { return &ScheduleHandler{scheduler: s} }

// Name implements capability.Handler.
func (h *ScheduleHandler) Name() string { return "schedule" }

// Description implements capability.Handler.
func (h *ScheduleHandler) Description() string {
	return "Manage recurring tasks: create a cron-scheduled task, list tasks, cancel a task."
}

// Category implements capability.Handler.
func (h *ScheduleHandler) Category() capability.Category { return capability.CategoryBuiltin }

// Actions implements capability.Handler.
func (h *ScheduleHandler) Actions() []string { return []string{"create", "list", "cancel"} }

// Parameters implements capability.Handler.
func (h *ScheduleHandler) Parameters() map[string]any {
	return map[string]any{
		"type": "object",
		"properties": map[string]any{
			"action": map[string]any{
				"type": "string",
				"enum": []string{"create", "list", "cancel"},
			},
			"cron":        map[string]any{"type": "string", "description": "Cron spec, e.g. '0 9 * * *' (create)"},
			"description": map[string]any{"type": "string", "description": "What the task does (create)"},
			"id":          map[string]any{"type": "string", "description": "Task id (cancel)"},
		},
		"required": []string{"action"},
	}
}

// Execute implements capability.Handler.
func (h *ScheduleHandler) Execute(ictx *core.InvokeContext, action string, params map[string]any) (any, error) {
	ctx := ictx.Context()
	switch action {
	case "create":
		spec, err := capability.RequireString(h.Name(), params, "cron")
		if err != nil {
			return nil, err
		}
		description, err := capability.RequireString(h.Name(), params, "description")
		if err != nil {
			return nil, err
		}
		return h.scheduler.Create(ctx, ScheduledTask{
			UserID:      ictx.UserID(),
			CronSpec:    spec,
			Description: description,
		})
	case "list":
		return h.scheduler.List(ctx, ictx.UserID())
	case "cancel":
		id, err := capability.RequireString(h.Name(), params, "id")
		if err != nil {
			return nil, err
		}
		if err := h.scheduler.Cancel(ctx, ictx.UserID(), id); err != nil {
			return nil, err
		}
		return map[string]any{"cancelled": id}, nil
	default:
		return nil, capability.NewUnknownAction(h.Name(), action, h.Actions())
	}
}
