package ai

import "context"

const (
	RoleSystem    = "system"
	RoleUser      = "user"
	RoleAssistant = "assistant"
)

// Message is one chat turn sent to or received from a provider.
type Message struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

// Provider performs a single, non-streaming chat completion.
type Provider interface {
	Chat(ctx context.Context, messages []Message) (string, error)
}
