package intent

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"strings"

	openai "github.com/sashabaranov/go-openai"
)

const systemPrompt = `You are an intent-extraction assistant for a Malaysian government portal automation system.
The user will send a natural-language message about updating their **income (pendapatan)** on the idMe portal.

Your ONLY job is to extract the numeric income value.

Reply with a JSON object - no markdown, no explanation:
{
  "intent": "update_income",
  "new_income": <number or null>
}

Rules:
- If the message clearly contains an income value, set new_income to that number.
- Accept values in Malay ("tetapkan pendapatan saya kepada 5000") or English ("set my income to 12000").
- If the user says something unrelated or you cannot extract a number, set new_income to null.
- Always return valid JSON, nothing else.`

// chatClient is the slice of the OpenAI client the extractor uses.
type chatClient interface {
	CreateChatCompletion(ctx context.Context, req openai.ChatCompletionRequest) (openai.ChatCompletionResponse, error)
}

// OpenAIExtractor extracts income values with a chat completion model.
// Safe for concurrent use.
type OpenAIExtractor struct {
	client chatClient
	model  string
	logger *slog.Logger
}

// NewOpenAIExtractor creates an extractor talking to the OpenAI API.
func NewOpenAIExtractor(apiKey, model string, logger *slog.Logger) *OpenAIExtractor {
	return newOpenAIExtractor(openai.NewClient(apiKey), model, logger)
}

func newOpenAIExtractor(client chatClient, model string, logger *slog.Logger) *OpenAIExtractor {
	if logger == nil {
		logger = slog.Default()
	}
	return &OpenAIExtractor{
		client: client,
		model:  model,
		logger: logger.With("component", "intent"),
	}
}

// wireResult mirrors the JSON contract in the system prompt.
type wireResult struct {
	Intent    string   `json:"intent"`
	NewIncome *float64 `json:"new_income"`
}

// Extract parses one message. A model reply that is not valid JSON is
// treated as no intent rather than an error, so a flaky completion
// never blocks the operator.
func (e *OpenAIExtractor) Extract(ctx context.Context, message string) (*Result, error) {
	resp, err := e.client.CreateChatCompletion(ctx, openai.ChatCompletionRequest{
		Model:       e.model,
		Temperature: 0,
		MaxTokens:   120,
		Messages: []openai.ChatCompletionMessage{
			{Role: openai.ChatMessageRoleSystem, Content: systemPrompt},
			{Role: openai.ChatMessageRoleUser, Content: message},
		},
	})
	if err != nil {
		return nil, fmt.Errorf("intent extraction failed: %w", err)
	}
	if len(resp.Choices) == 0 {
		return &Result{Intent: IntentUnknown}, nil
	}

	raw := strings.TrimSpace(resp.Choices[0].Message.Content)
	raw = stripCodeFence(raw)

	var wire wireResult
	if err := json.Unmarshal([]byte(raw), &wire); err != nil {
		e.logger.Warn("unparseable model reply", "raw", raw, "error", err)
		return &Result{Intent: IntentUnknown}, nil
	}

	result := &Result{Intent: wire.Intent}
	if result.Intent == "" {
		result.Intent = IntentUnknown
	}
	if wire.NewIncome != nil {
		value := int64(*wire.NewIncome)
		result.Value = &value
	}
	return result, nil
}

// stripCodeFence removes a surrounding markdown fence some models wrap
// around JSON despite instructions.
func stripCodeFence(s string) string {
	if !strings.HasPrefix(s, "```") {
		return s
	}
	s = strings.TrimPrefix(s, "```json")
	s = strings.TrimPrefix(s, "```")
	s = strings.TrimSuffix(strings.TrimSpace(s), "```")
	return strings.TrimSpace(s)
}
