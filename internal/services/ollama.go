package services

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/jwebster45206/vtt-forge/pkg/chat"
	"github.com/jwebster45206/vtt-forge/pkg/errs"
)

const DefaultOllamaBaseURL = "http://localhost:11434"

// OllamaService implements TextOracle against a local Ollama server.
type OllamaService struct {
	baseURL    string
	modelName  string
	httpClient *http.Client
	logger     *slog.Logger
}

// OllamaChatRequest is the request body for /api/chat
type OllamaChatRequest struct {
	Model    string             `json:"model"`
	Messages []chat.ChatMessage `json:"messages"`
	Stream   bool               `json:"stream"`
	Format   string             `json:"format,omitempty"`
}

// OllamaChatResponse is the non-streaming response body for /api/chat
type OllamaChatResponse struct {
	Model   string `json:"model"`
	Message struct {
		Role    string `json:"role"`
		Content string `json:"content"`
	} `json:"message"`
	Done       bool   `json:"done"`
	DoneReason string `json:"done_reason,omitempty"`
	EvalCount  int    `json:"eval_count,omitempty"`
	Error      string `json:"error,omitempty"`
}

// NewOllamaService creates an Ollama client. An empty baseURL means the
// local default.
func NewOllamaService(baseURL, modelName string, timeout time.Duration, logger *slog.Logger) *OllamaService {
	if baseURL == "" {
		baseURL = DefaultOllamaBaseURL
	}
	return &OllamaService{
		baseURL:   strings.TrimRight(baseURL, "/"),
		modelName: modelName,
		httpClient: &http.Client{
			Timeout: timeout,
		},
		logger: logger,
	}
}

// Generate sends the prompts with JSON output mode and returns the reply.
func (s *OllamaService) Generate(ctx context.Context, systemPrompt, userPrompt string) (json.RawMessage, error) {
	reqBody, err := json.Marshal(OllamaChatRequest{
		Model:    s.modelName,
		Messages: chat.Prompt(systemPrompt, userPrompt),
		Stream:   false,
		Format:   "json",
	})
	if err != nil {
		return nil, fmt.Errorf("failed to marshal request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, s.baseURL+"/api/chat", bytes.NewBuffer(reqBody))
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	start := time.Now()
	resp, err := s.httpClient.Do(req)
	if err != nil {
		return nil, errs.NewTransportError(errs.StageText, fmt.Errorf("failed to send request: %w", err))
	}
	defer func() { _ = resp.Body.Close() }()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, errs.NewTransportError(errs.StageText, fmt.Errorf("failed to read response body: %w", err))
	}

	if resp.StatusCode != http.StatusOK {
		s.logger.Error("Ollama API returned error",
			"status_code", resp.StatusCode,
			"response_body", string(body))
		return nil, &errs.TransportError{
			Stage:      errs.StageText,
			StatusCode: resp.StatusCode,
			Err:        fmt.Errorf("API request failed: %s", strings.TrimSpace(string(body))),
		}
	}

	var ollamaResp OllamaChatResponse
	if err := json.Unmarshal(body, &ollamaResp); err != nil {
		return nil, errs.NewTransportError(errs.StageText, fmt.Errorf("failed to decode response: %w", err))
	}
	if ollamaResp.Error != "" {
		return nil, errs.NewTransportError(errs.StageText, fmt.Errorf("API error: %s", ollamaResp.Error))
	}

	s.logger.Debug("text oracle replied",
		"model", s.modelName,
		"done_reason", ollamaResp.DoneReason,
		"eval_count", ollamaResp.EvalCount,
		"duration", time.Since(start))

	return parseReply(ollamaResp.Message.Content)
}
