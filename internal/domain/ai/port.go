package ai

import "context"

// ChatRole of a message in a conversation.
type ChatRole string

const (
	RoleSystem    ChatRole = "system"
	RoleUser      ChatRole = "user"
	RoleAssistant ChatRole = "assistant"
)

type ChatMessage struct {
	Role    ChatRole `json:"role"`
	Content string   `json:"content"`
}

// ChatStreamer streams an assistant reply chunk by chunk.
// onChunk is called in order; the full reply is returned at the end.
type ChatStreamer interface {
	StreamChat(ctx context.Context, messages []ChatMessage, onChunk func(string) error) (string, error)
}
