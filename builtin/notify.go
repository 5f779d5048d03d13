package builtin

import (
	"context"

	"github.com/valet-ai/valet/capability"
	"github.com/valet-ai/valet/core"
)

// Notification is one outbound message to the user.
type Notification struct {
	UserID  string `json:"user_id"`
	Title   string `json:"title,omitempty"`
	Message string `json:"message"`
}

// Notifier delivers notifications to the user on some channel (Telegram,
// email, push). Implementations decide how UserID maps to a recipient.
type Notifier interface {
	Send(ctx context.Context, n Notification) error
}

// NotifyHandler exposes the notify capability.
type NotifyHandler struct {
	notifier Notifier
}

// NewNotifyHandler wraps a Notifier.
func NewNotifyHandler(n Notifier) *NotifyHandler { return &NotifyHandler{notifier: n} }

// Name implements capability.Handler.
func (h *NotifyHandler) Name() string { return "notify" }

// Description implements capability.Handler.
func (h *NotifyHandler) Description() string {
	return "Send a notification message to the user."
}

// Category implements capability.Handler.
func (h *NotifyHandler) Category() capability.Category { return capability.CategoryBuiltin }

// Actions implements capability.Handler.
func (h *NotifyHandler) Actions() []string { return []string{"send"} }

// Parameters implements capability.Handler.
func (h *NotifyHandler) Parameters() map[string]any {
	return map[string]any{
		"type": "object",
		"properties": map[string]any{
			"action":  map[string]any{"type": "string", "enum": []string{"send"}},
			"title":   map[string]any{"type": "string", "description": "Optional notification title"},
			"message": map[string]any{"type": "string", "description": "Notification body"},
		},
		"required": []string{"action", "message"},
	}
}

// Execute implements capability.Handler.
func (h *NotifyHandler) Execute(ictx *core.InvokeContext, action string, params map[string]any) (any, error) {
	switch action {
	case "send":
		message, err := capability.RequireString(h.Name(), params, "message")
		if err != nil {
			return nil, err
		}
		n := Notification{
			UserID:  ictx.UserID(),
			Title:   capability.OptionalString(params, "title", ""),
			Message: message,
		}
		if err := h.notifier.Send(ictx.Context(), n); err != nil {
			return nil, err
		}
		return map[string]any{"sent": true}, nil
	default:
		return nil, capability.NewUnknownAction(h.Name(), action, h.Actions())
	}
}
