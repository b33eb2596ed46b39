package chat

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestPrompt(t *testing.T) {
	msgs := Prompt("be terse", "make an NPC")
	assert.Equal(t, []ChatMessage{
		{Role: ChatRoleSystem, Content: "be terse"},
		{Role: ChatRoleUser, Content: "make an NPC"},
	}, msgs)
}

func TestSplit(t *testing.T) {
	tests := []struct {
		name         string
		messages     []ChatMessage
		expectSystem string
		expectRest   int
	}{
		{
			name:         "single system message",
			messages:     Prompt("You are a game master.", "Hello"),
			expectSystem: "You are a game master.",
			expectRest:   1,
		},
		{
			name: "multiple system messages",
			messages: []ChatMessage{
				{Role: ChatRoleSystem, Content: "You are a game master."},
				{Role: ChatRoleUser, Content: "Hello"},
				{Role: ChatRoleSystem, Content: "Be concise."},
			},
			expectSystem: "You are a game master.\n\nBe concise.",
			expectRest:   1,
		},
		{
			name:         "no system messages",
			messages:     []ChatMessage{{Role: ChatRoleUser, Content: "Hello"}},
			expectSystem: "",
			expectRest:   1,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			system, rest := Split(tt.messages)
			assert.Equal(t, tt.expectSystem, system)
			assert.Len(t, rest, tt.expectRest)
		})
	}
}
