package providers

import "context"

// Message is one turn of conversation context handed to the provider.
type Message struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

// LLMProvider generates replies. Chat takes the full assembled context;
// Complete is the convenience form the wake evaluator's canned-reply path
// uses (prompt plus optional system persona and history).
type LLMProvider interface {
	Chat(ctx context.Context, messages []Message, model string) (string, error)
}
