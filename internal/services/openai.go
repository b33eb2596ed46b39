package services

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/jwebster45206/vtt-forge/pkg/chat"
	"github.com/jwebster45206/vtt-forge/pkg/errs"
)

const (
	DefaultOpenAIBaseURL = "https://api.openai.com/v1"
	DefaultOpenAIModel   = "gpt-3.5-turbo"
)

// OpenAIService implements TextOracle over the chat-completion API. Any
// OpenAI-compatible endpoint works through the base URL.
type OpenAIService struct {
	apiKey     string
	modelName  string
	baseURL    string
	httpClient *http.Client
	logger     *slog.Logger
}

// OpenAIChatRequest is the request body for /chat/completions
type OpenAIChatRequest struct {
	Model    string             `json:"model"`
	Messages []chat.ChatMessage `json:"messages"`
}

type OpenAIChatChoice struct {
	Index   int `json:"index"`
	Message struct {
		Role    string `json:"role"`
		Content string `json:"content"`
		Refusal string `json:"refusal,omitempty"`
	} `json:"message"`
	FinishReason string `json:"finish_reason"`
}

// OpenAIChatResponse is the response body for /chat/completions
type OpenAIChatResponse struct {
	ID      string             `json:"id"`
	Model   string             `json:"model"`
	Choices []OpenAIChatChoice `json:"choices"`
	Usage   struct {
		PromptTokens     int `json:"prompt_tokens"`
		CompletionTokens int `json:"completion_tokens"`
		TotalTokens      int `json:"total_tokens"`
	} `json:"usage,omitempty"`
	Error *struct {
		Message string `json:"message"`
		Type    string `json:"type"`
		Code    string `json:"code"`
	} `json:"error,omitempty"`
}

// NewOpenAIService creates a chat-completion client. Empty modelName and
// baseURL fall back to the defaults.
func NewOpenAIService(apiKey, modelName, baseURL string, timeout time.Duration, logger *slog.Logger) *OpenAIService {
	if modelName == "" {
		modelName = DefaultOpenAIModel
	}
	if baseURL == "" {
		baseURL = DefaultOpenAIBaseURL
	}
	return &OpenAIService{
		apiKey:    apiKey,
		modelName: modelName,
		baseURL:   strings.TrimRight(baseURL, "/"),
		httpClient: &http.Client{
			Timeout: timeout,
		},
		logger: logger,
	}
}

// Generate sends the system and user prompts and returns the reply's
// JSON body.
func (o *OpenAIService) Generate(ctx context.Context, systemPrompt, userPrompt string) (json.RawMessage, error) {
	request := OpenAIChatRequest{
		Model:    o.modelName,
		Messages: chat.Prompt(systemPrompt, userPrompt),
	}

	reqBody, err := json.Marshal(request)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, o.baseURL+"/chat/completions", bytes.NewBuffer(reqBody))
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}

	req.Header.Set("Authorization", "Bearer "+o.apiKey)
	req.Header.Set("Content-Type", "application/json")

	start := time.Now()
	resp, err := o.httpClient.Do(req)
	if err != nil {
		return nil, errs.NewTransportError(errs.StageText, fmt.Errorf("request failed: %w", err))
	}
	defer func() { _ = resp.Body.Close() }()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, errs.NewTransportError(errs.StageText, fmt.Errorf("failed to read response: %w", err))
	}

	if resp.StatusCode != http.StatusOK {
		return nil, &errs.TransportError{
			Stage:      errs.StageText,
			StatusCode: resp.StatusCode,
			Err:        fmt.Errorf("API request failed: %s", strings.TrimSpace(string(body))),
		}
	}

	var chatResp OpenAIChatResponse
	if err := json.Unmarshal(body, &chatResp); err != nil {
		return nil, errs.NewTransportError(errs.StageText, fmt.Errorf("failed to unmarshal response: %w", err))
	}

	if chatResp.Error != nil {
		return nil, errs.NewTransportError(errs.StageText, fmt.Errorf("API error: %s", chatResp.Error.Message))
	}

	if len(chatResp.Choices) == 0 {
		return nil, errs.NewTransportError(errs.StageText, errors.New("no choices returned from API"))
	}

	choice := chatResp.Choices[0]
	if choice.Message.Refusal != "" {
		return nil, &errs.SchemaViolation{Problems: []string{"model refused to respond: " + choice.Message.Refusal}}
	}

	o.logger.Debug("text oracle replied",
		"model", o.modelName,
		"finish_reason", choice.FinishReason,
		"total_tokens", chatResp.Usage.TotalTokens,
		"duration", time.Since(start))

	return parseReply(choice.Message.Content)
}

// parseReply cleans an oracle reply and requires it to be JSON.
func parseReply(text string) (json.RawMessage, error) {
	cleaned := extractJSON(text)
	if !json.Valid([]byte(cleaned)) {
		snippet := cleaned
		if len(snippet) > 80 {
			snippet = snippet[:80] + "..."
		}
		return nil, &errs.SchemaViolation{
			Problems: []string{fmt.Sprintf("reply is not valid JSON: %q", snippet)},
		}
	}
	return json.RawMessage(cleaned), nil
}
