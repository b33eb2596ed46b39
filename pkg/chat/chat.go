package chat

const (
	ChatRoleUser   = "user"
	ChatRoleAgent  = "assistant"
	ChatRoleSystem = "system"
)

// ChatMessage is a single message in a chat-completion exchange.
type ChatMessage struct {
	Role    string `json:"role"` // "user", "assistant", "system"
	Content string `json:"content"`
}

// Prompt builds the two-message exchange sent to a text oracle: the system
// instructions followed by the user's request.
func Prompt(system, user string) []ChatMessage {
	return []ChatMessage{
		{Role: ChatRoleSystem, Content: system},
		{Role: ChatRoleUser, Content: user},
	}
}

// Split separates system messages from the rest, joining all system
// content into one prompt.
func Split(messages []ChatMessage) (string, []ChatMessage) {
	var system string
	rest := make([]ChatMessage, 0, len(messages))
	for _, msg := range messages {
		if msg.Role == ChatRoleSystem {
			if system != "" {
				system += "\n\n"
			}
			system += msg.Content
			continue
		}
		rest = append(rest, msg)
	}
	return system, rest
}
