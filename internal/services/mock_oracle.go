package services

import (
	"context"
	"encoding/json"
	"sync"

	"github.com/jwebster45206/vtt-forge/pkg/content"
)

// MockTextOracle is a TextOracle for tests. Without GenerateFunc it
// replies with Reply.
type MockTextOracle struct {
	GenerateFunc func(ctx context.Context, systemPrompt, userPrompt string) (json.RawMessage, error)
	Reply        json.RawMessage

	// Track calls for testing
	GenerateCalls []GenerateCall

	mu sync.Mutex // protects GenerateCalls
}

type GenerateCall struct {
	SystemPrompt string
	UserPrompt   string
}

var _ TextOracle = (*MockTextOracle)(nil)

func NewMockTextOracle(reply string) *MockTextOracle {
	return &MockTextOracle{Reply: json.RawMessage(reply)}
}

func (m *MockTextOracle) Generate(ctx context.Context, systemPrompt, userPrompt string) (json.RawMessage, error) {
	m.mu.Lock()
	m.GenerateCalls = append(m.GenerateCalls, GenerateCall{SystemPrompt: systemPrompt, UserPrompt: userPrompt})
	m.mu.Unlock()

	if m.GenerateFunc != nil {
		return m.GenerateFunc(ctx, systemPrompt, userPrompt)
	}
	return parseReply(string(m.Reply))
}

func (m *MockTextOracle) Calls() []GenerateCall {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]GenerateCall(nil), m.GenerateCalls...)
}

// MockImageOracle is an ImageOracle for tests. Without RenderFunc it
// returns a one-pixel PNG.
type MockImageOracle struct {
	RenderFunc func(ctx context.Context, prompt string, removeBackground bool) (*content.GeneratedAsset, error)

	RenderCalls []RenderCall

	mu sync.Mutex
}

type RenderCall struct {
	Prompt           string
	RemoveBackground bool
}

var _ ImageOracle = (*MockImageOracle)(nil)

func NewMockImageOracle() *MockImageOracle {
	return &MockImageOracle{}
}

func (m *MockImageOracle) Render(ctx context.Context, prompt string, removeBackground bool) (*content.GeneratedAsset, error) {
	m.mu.Lock()
	m.RenderCalls = append(m.RenderCalls, RenderCall{Prompt: prompt, RemoveBackground: removeBackground})
	m.mu.Unlock()

	if m.RenderFunc != nil {
		return m.RenderFunc(ctx, prompt, removeBackground)
	}
	return &content.GeneratedAsset{
		Data:              TinyPNG(),
		MimeType:          "image/png",
		BackgroundRemoved: removeBackground,
	}, nil
}

func (m *MockImageOracle) Calls() []RenderCall {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]RenderCall(nil), m.RenderCalls...)
}

// TinyPNG returns a valid 1x1 transparent PNG.
func TinyPNG() []byte {
	return []byte{
		0x89, 0x50, 0x4e, 0x47, 0x0d, 0x0a, 0x1a, 0x0a, 0x00, 0x00, 0x00, 0x0d,
		0x49, 0x48, 0x44, 0x52, 0x00, 0x00, 0x00, 0x01, 0x00, 0x00, 0x00, 0x01,
		0x08, 0x06, 0x00, 0x00, 0x00, 0x1f, 0x15, 0xc4, 0x89, 0x00, 0x00, 0x00,
		0x0d, 0x49, 0x44, 0x41, 0x54, 0x78, 0x9c, 0x63, 0x00, 0x01, 0x00, 0x00,
		0x05, 0x00, 0x01, 0x0d, 0x0a, 0x2d, 0xb4, 0x00, 0x00, 0x00, 0x00, 0x49,
		0x45, 0x4e, 0x44, 0xae, 0x42, 0x60, 0x82,
	}
}
