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

// ChatOptions are per-call hints; zero values mean provider defaults.
type ChatOptions struct {
	Temperature *float64
	MaxTokens   int
	JSON        bool
}

// Provider performs one synchronous completion and returns the reply text.
type Provider interface {
	Chat(ctx context.Context, messages []Message, opts ChatOptions) (string, error)
}

func Float(v float64) *float64 { return &v }
