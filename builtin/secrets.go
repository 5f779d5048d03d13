package builtin

import (
	"context"
	"fmt"
	"sort"
	"sync"

	"github.com/valet-ai/valet/capability"
	"github.com/valet-ai/valet/core"
)

// SecretVault stores user secrets. The contract is deliberately one-way:
// create, list key names and check existence. Plaintext values are never
// read back through this interface.
type SecretVault interface {
	Create(ctx context.Context, userID, key, value string) error
	List(ctx context.Context, userID string) ([]string, error)
	Exists(ctx context.Context, userID, key string) (bool, error)
}

// InMemoryVault is the reference SecretVault.
type InMemoryVault struct {
	mu      sync.RWMutex
	secrets map[string]map[string]string // userID -> key -> value
}

// NewInMemoryVault creates an empty vault.
func NewInMemoryVault() *InMemoryVault {
	return &InMemoryVault{secrets: make(map[string]map[string]string)}
}

// Create implements SecretVault. Keys are write-once; overwriting requires
// deleting out of band.
func (v *InMemoryVault) Create(_ context.Context, userID, key, value string) error {
	v.mu.Lock()
	defer v.mu.Unlock()
	user, ok := v.secrets[userID]
	if !ok {
		user = make(map[string]string)
		v.secrets[userID] = user
	}
	if _, exists := user[key]; exists {
		return fmt.Errorf("secret '%s' already exists", key)
	}
	user[key] = value
	return nil
}

// List implements SecretVault. Key names only, sorted.
func (v *InMemoryVault) List(_ context.Context, userID string) ([]string, error) {
	v.mu.RLock()
	defer v.mu.RUnlock()
	keys := make([]string, 0, len(v.secrets[userID]))
	for k := range v.secrets[userID] {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys, nil
}

// Exists implements SecretVault.
func (v *InMemoryVault) Exists(_ context.Context, userID, key string) (bool, error) {
	v.mu.RLock()
	defer v.mu.RUnlock()
	_, ok := v.secrets[userID][key]
	return ok, nil
}

// Value returns a stored plaintext for trusted internal consumers (e.g. the
// sandbox injecting required secrets). Not reachable through the capability.
func (v *InMemoryVault) Value(userID, key string) (string, bool) {
	v.mu.RLock()
	defer v.mu.RUnlock()
	val, ok := v.secrets[userID][key]
	return val, ok
}

// SecretsHandler exposes the secrets capability.
type SecretsHandler struct {
	vault SecretVault
}

// NewSecretsHandler wraps a SecretVault.
func NewSecretsHandler(v SecretVault) *SecretsHandler { return &SecretsHandler{vault: v} }

// Name implements capability.Handler.
func (h *SecretsHandler) Name() string { return "secrets" }

// Description implements capability.Handler.
func (h *SecretsHandler) Description() string {
	return "Store secrets and check which keys exist. Secret values can never be read back."
}

// Category implements capability.Handler.
func (h *SecretsHandler) Category() capability.Category { return capability.CategoryBuiltin }

// Actions implements capability.Handler.
func (h *SecretsHandler) Actions() []string { return []string{"create", "list", "exists"} }

// Parameters implements capability.Handler.
func (h *SecretsHandler) Parameters() map[string]any {
	return map[string]any{
		"type": "object",
		"properties": map[string]any{
			"action": map[string]any{
				"type": "string",
				"enum": []string{"create", "list", "exists"},
			},
			"key":   map[string]any{"type": "string", "description": "Secret key name"},
			"value": map[string]any{"type": "string", "description": "Secret value (create only)"},
		},
		"required": []string{"action"},
	}
}

// Execute implements capability.Handler. No branch ever returns a secret value.
func (h *SecretsHandler) Execute(ictx *core.InvokeContext, action string, params map[string]any) (any, error) {
	ctx := ictx.Context()
	switch action {
	case "create":
		key, err := capability.RequireString(h.Name(), params, "key")
		if err != nil {
			return nil, err
		}
		value, err := capability.RequireString(h.Name(), params, "value")
		if err != nil {
			return nil, err
		}
		if err := h.vault.Create(ctx, ictx.UserID(), key, value); err != nil {
			return nil, err
		}
		return map[string]any{"created": key}, nil
	case "list":
		keys, err := h.vault.List(ctx, ictx.UserID())
		if err != nil {
			return nil, err
		}
		return map[string]any{"keys": keys}, nil
	case "exists":
		key, err := capability.RequireString(h.Name(), params, "key")
		if err != nil {
			return nil, err
		}
		exists, err := h.vault.Exists(ctx, ictx.UserID(), key)
		if err != nil {
			return nil, err
		}
		return map[string]any{"key": key, "exists": exists}, nil
	default:
		return nil, capability.NewUnknownAction(h.Name(), action, h.Actions())
	}
}
