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

// Todo is one task item owned by a user.
type Todo struct {
	ID          string     `json:"id"`
	UserID      string     `json:"user_id"`
	Title       string     `json:"title"`
	Notes       string     `json:"notes,omitempty"`
	Done        bool       `json:"done"`
	CreatedAt   time.Time  `json:"created_at"`
	CompletedAt *time.Time `json:"completed_at,omitempty"`
}

// TodoStore persists task items per user.
type TodoStore interface {
	Create(ctx context.Context, todo Todo) (Todo, error)
	List(ctx context.Context, userID string, includeDone bool) ([]Todo, error)
	Complete(ctx context.Context, userID, id string) (Todo, error)
	Delete(ctx context.Context, userID, id string) error
}

// InMemoryTodoStore is the reference TodoStore.
type InMemoryTodoStore struct {
	mu    sync.RWMutex
	todos map[string][]Todo // userID -> items in creation order
}

// NewInMemoryTodoStore creates an empty store.
func NewInMemoryTodoStore() *InMemoryTodoStore {
	return &InMemoryTodoStore{todos: make(map[string][]Todo)}
}

// Create implements TodoStore.
func (s *InMemoryTodoStore) Create(_ context.Context, todo Todo) (Todo, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	todo.ID = uuid.NewString()
	todo.CreatedAt = time.Now()
	s.todos[todo.UserID] = append(s.todos[todo.UserID], todo)
	return todo, nil
}

// List implements TodoStore.
func (s *InMemoryTodoStore) List(_ context.Context, userID string, includeDone bool) ([]Todo, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []Todo
	for _, t := range s.todos[userID] {
		if !includeDone && t.Done {
			continue
		}
		out = append(out, t)
	}
	return out, nil
}

// Complete implements TodoStore.
func (s *InMemoryTodoStore) Complete(_ context.Context, userID, id string) (Todo, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	items := s.todos[userID]
	for i := range items {
		if items[i].ID == id {
			now := time.Now()
			items[i].Done = true
			items[i].CompletedAt = &now
			return items[i], nil
		}
	}
	return Todo{}, fmt.Errorf("todo '%s' not found", id)
}

// Delete implements TodoStore.
func (s *InMemoryTodoStore) Delete(_ context.Context, userID, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	items := s.todos[userID]
	for i := range items {
		if items[i].ID == id {
			s.todos[userID] = append(items[:i], items[i+1:]...)
			return nil
		}
	}
	return fmt.Errorf("todo '%s' not found", id)
}

// TodoHandler exposes the todo capability.
type TodoHandler struct {
	store TodoStore
}

// NewTodoHandler wraps a TodoStore.
func NewTodoHandler(store TodoStore) *TodoHandler { return &TodoHandler{store: store} }

// Name implements capability.Handler.
func (h *TodoHandler) Name() string { return "todo" }

// Description implements capability.Handler.
func (h *TodoHandler) Description() string {
	return "Manage the user's todo list: create, list, complete and delete task items."
}

// Category implements capability.Handler.
func (h *TodoHandler) Category() capability.Category { return capability.CategoryBuiltin }

// Actions implements capability.Handler.
func (h *TodoHandler) Actions() []string { return []string{"create", "list", "complete", "delete"} }

// Parameters implements capability.Handler.
func (h *TodoHandler) Parameters() map[string]any {
	return map[string]any{
		"type": "object",
		"properties": map[string]any{
			"action": map[string]any{
				"type":        "string",
				"enum":        []string{"create", "list", "complete", "delete"},
				"description": "Operation to perform",
			},
			"title":        map[string]any{"type": "string", "description": "Todo title (create)"},
			"notes":        map[string]any{"type": "string", "description": "Optional notes (create)"},
			"id":           map[string]any{"type": "string", "description": "Todo id (complete, delete)"},
			"include_done": map[string]any{"type": "boolean", "description": "Include completed items (list)"},
		},
		"required": []string{"action"},
	}
}

// Execute implements capability.Handler.
func (h *TodoHandler) Execute(ictx *core.InvokeContext, action string, params map[string]any) (any, error) {
	ctx := ictx.Context()
	switch action {
	case "create":
		title, err := capability.RequireString(h.Name(), params, "title")
		if err != nil {
			return nil, err
		}
		return h.store.Create(ctx, Todo{
			UserID: ictx.UserID(),
			Title:  title,
			Notes:  capability.OptionalString(params, "notes", ""),
		})
	case "list":
		return h.store.List(ctx, ictx.UserID(), capability.OptionalBool(params, "include_done", false))
	case "complete":
		id, err := capability.RequireString(h.Name(), params, "id")
		if err != nil {
			return nil, err
		}
		return h.store.Complete(ctx, ictx.UserID(), id)
	case "delete":
		id, err := capability.RequireString(h.Name(), params, "id")
		if err != nil {
			return nil, err
		}
		if err := h.store.Delete(ctx, ictx.UserID(), id); err != nil {
			return nil, err
		}
		return map[string]any{"deleted": id}, nil
	default:
		return nil, capability.NewUnknownAction(h.Name(), action, h.Actions())
	}
}
