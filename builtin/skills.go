package builtin

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/valet-ai/valet/capability"
	"github.com/valet-ai/valet/core"
)

// Skill is a stored instruction set the assistant can recall by name.
type Skill struct {
	Name         string    `json:"name"`
	UserID       string    `json:"user_id"`
	Instructions string    `json:"instructions"`
	CreatedAt    time.Time `json:"created_at"`
}

// SkillStore persists skill instructions per user.
type SkillStore interface {
	Put(ctx context.Context, skill Skill) error
	Get(ctx context.Context, userID, name string) (Skill, error)
	List(ctx context.Context, userID string) ([]Skill, error)
}

// InMemorySkillStore is the reference SkillStore.
type InMemorySkillStore struct {
	mu     sync.RWMutex
	skills map[string]map[string]Skill // userID -> name -> skill
}

// NewInMemorySkillStore creates an empty store.
func NewInMemorySkillStore() *InMemorySkillStore {
	return &InMemorySkillStore{skills: make(map[string]map[string]Skill)}
}

// Put implements SkillStore. Existing skills are overwritten.
func (s *InMemorySkillStore) Put(_ context.Context, skill Skill) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	user, ok := s.skills[skill.UserID]
	if !ok {
		user = make(map[string]Skill)
		s.skills[skill.UserID] = user
	}
	skill.CreatedAt = time.Now()
	user[skill.Name] = skill
	return nil
}

// Get implements SkillStore.
func (s *InMemorySkillStore) Get(_ context.Context, userID, name string) (Skill, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if skill, ok := s.skills[userID][name]; ok {
		return skill, nil
	}
	return Skill{}, fmt.Errorf("skill '%s' not found", name)
}

// List implements SkillStore.
func (s *InMemorySkillStore) List(_ context.Context, userID string) ([]Skill, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]Skill, 0, len(s.skills[userID]))
	for _, skill := range s.skills[userID] {
		out = append(out, skill)
	}
	return out, nil
}

// SkillsHandler exposes the skills capability.
type SkillsHandler struct {
	store SkillStore
}

// NewSkillsHandler wraps a SkillStore.
func NewSkillsHandler(store SkillStore) *SkillsHandler { return &SkillsHandler{store: store} }

// Name implements capability.Handler.
func (h *SkillsHandler) Name() string { return "skills" }

// Description implements capability.Handler.
func (h *SkillsHandler) Description() string {
	return "Store and recall named instruction sets (skills) for recurring workflows."
}

// Category implements capability.Handler.
func (h *SkillsHandler) Category() capability.Category { return capability.CategoryBuiltin }

// Actions implements capability.Handler.
func (h *SkillsHandler) Actions() []string { return []string{"add", "get", "list"} }

// Parameters implements capability.Handler.
func (h *SkillsHandler) Parameters() map[string]any {
	return map[string]any{
		"type": "object",
		"properties": map[string]any{
			"action": map[string]any{
				"type": "string",
				"enum": []string{"add", "get", "list"},
			},
			"name":         map[string]any{"type": "string", "description": "Skill name"},
			"instructions": map[string]any{"type": "string", "description": "Skill instructions (add)"},
		},
		"required": []string{"action"},
	}
}

// Execute implements capability.Handler.
func (h *SkillsHandler) Execute(ictx *core.InvokeContext, action string, params map[string]any) (any, error) {
	ctx := ictx.Context()
	switch action {
	case "add":
		name, err := capability.RequireString(h.Name(), params, "name")
		if err != nil {
			return nil, err
		}
		instructions, err := capability.RequireString(h.Name(), params, "instructions")
		if err != nil {
			return nil, err
		}
		skill := Skill{
			UserID:       ictx.UserID(),
			Name:         strings.ToLower(name),
			Instructions: instructions,
		}
		if err := h.store.Put(ctx, skill); err != nil {
			return nil, err
		}
		return map[string]any{"added": skill.Name}, nil
	case "get":
		name, err := capability.RequireString(h.Name(), params, "name")
		if err != nil {
			return nil, err
		}
		return h.store.Get(ctx, ictx.UserID(), strings.ToLower(name))
	case "list":
		return h.store.List(ctx, ictx.UserID())
	default:
		return nil, capability.NewUnknownAction(h.Name(), action, h.Actions())
	}
}
