package builtin

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/valet-ai/valet/capability"
	"github.com/valet-ai/valet/core"
)

// Goal is one long-running objective tracked for a user.
type Goal struct {
	ID          string     `json:"id"`
	UserID      string     `json:"user_id"`
	Title       string     `json:"title"`
	Achieved    bool       `json:"achieved"`
	CreatedAt   time.Time  `json:"created_at"`
	AchievedAt  *time.Time `json:"achieved_at,omitempty"`
}

// GoalStore persists goals and achievements.
type GoalStore interface {
	Create(ctx context.Context, goal Goal) (Goal, error)
	List(ctx context.Context, userID string) ([]Goal, error)
	Achieve(ctx context.Context, userID, id string) (Goal, error)
}

// InMemoryGoalStore is the reference GoalStore.
type InMemoryGoalStore struct {
	mu    sync.RWMutex
	goals map[string][]Goal
}

// NewInMemoryGoalStore creates an empty store.
func NewInMemoryGoalStore() *InMemoryGoalStore {
	return &InMemoryGoalStore{goals: make(map[string][]Goal)}
}

// Create implements GoalStore.
func (s *InMemoryGoalStore) Create(_ context.Context, goal Goal) (Goal, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	goal.ID = uuid.NewString()
	goal.CreatedAt = time.Now()
	s.goals[goal.UserID] = append(s.goals[goal.UserID], goal)
	return goal, nil
}

// List implements GoalStore.
func (s *InMemoryGoalStore) List(_ context.Context, userID string) ([]Goal, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]Goal, len(s.goals[userID]))
	copy(out, s.goals[userID])
	return out, nil
}

// Achieve implements GoalStore.
func (s *InMemoryGoalStore) Achieve(_ context.Context, userID, id string) (Goal, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	items := s.goals[userID]
	for i := range items {
		if items[i].ID == id {
			now := time.Now()
			items[i].Achieved = true
			items[i].AchievedAt = &now
			return items[i], nil
		}
	}
	return Goal{}, fmt.Errorf("goal '%s' not found", id)
}

// GoalsHandler exposes the goals capability.
type GoalsHandler struct {
	store GoalStore
}

// NewGoalsHandler wraps a GoalStore.
func NewGoalsHandler(store GoalStore) *GoalsHandler { return &GoalsHandler{store: store} }

// Name implements capability.Handler.
func (h *GoalsHandler) Name() string { return "goals" }

// Description implements capability.Handler.
func (h *GoalsHandler) Description() string {
	return "Track the user's long-term goals: create, list and mark achieved."
}

// Category implements capability.Handler.
func (h *GoalsHandler) Category() capability.Category { return capability.CategoryBuiltin }

// Actions implements capability.Handler.
func (h *GoalsHandler) Actions() []string { return []string{"create", "list", "achieve"} }

// Parameters implements capability.Handler.
func (h *GoalsHandler) Parameters() map[string]any {
	return map[string]any{
		"type": "object",
		"properties": map[string]any{
			"action": map[string]any{
				"type": "string",
				"enum": []string{"create", "list", "achieve"},
			},
			"title": map[string]any{"type": "string", "description": "Goal title (create)"},
			"id":    map[string]any{"type": "string", "description": "Goal id (achieve)"},
		},
		"required": []string{"action"},
	}
}

// Execute implements capability.Handler.
func (h *GoalsHandler) Execute(ictx *core.InvokeContext, action string, params map[string]any) (any, error) {
	ctx := ictx.Context()
	switch action {
	case "create":
		title, err := capability.RequireString(h.Name(), params, "title")
		if err != nil {
			return nil, err
		}
		return h.store.Create(ctx, Goal{UserID: ictx.UserID(), Title: title})
	case "list":
		return h.store.List(ctx, ictx.UserID())
	case "achieve":
		id, err := capability.RequireString(h.Name(), params, "id")
		if err != nil {
			return nil, err
		}
		return h.store.Achieve(ctx, ictx.UserID(), id)
	default:
		return nil, capability.NewUnknownAction(h.Name(), action, h.Actions())
	}
}
