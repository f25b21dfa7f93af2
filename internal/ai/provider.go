// Package ai wraps the language-model and embedding backends used to answer questions.
package ai

import "context"

const (
	RoleSystem    = "system"
	RoleUser      = "user"
	RoleAssistant = "assistant"
)

type Message struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

// Provider produces a single completion for messages. The system prompt, if any, is messages[0].
type Provider interface {
	Chat(ctx context.Context, messages []Message) (string, error)
}

// Embedder maps text to a fixed-dimension vector.
type Embedder interface {
	Embed(ctx context.Context, text string) ([]float32, error)
	Name() string
}
