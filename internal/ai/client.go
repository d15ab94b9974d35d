package ai

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/sashabaranov/go-openai"

	"github.com/meridianhq/meridian/internal/model"
)

const maxTokens = 1024

const systemPrompt = "You are an analyst summarizing the findings of an automated data analysis. " +
	"Respond with a JSON object of the form {\"summary\": \"...\"} where summary is a short, " +
	"factual paragraph. Do not invent findings that are not in the input."

// Client produces report summaries via the OpenAI chat API
type Client struct {
	*openai.Client
	Model string
}

// NewClient creates a summarization client
func NewClient(apiKey, model string) *Client {
	return &Client{Client: openai.NewClient(apiKey), Model: model}
}

// Summarize asks the model for a one-paragraph summary of the findings
func (c *Client) Summarize(ctx context.Context, topic string, findings []model.Finding) (string, error) {
	input, err := json.Marshal(findings)
	if err != nil {
		return "", fmt.Errorf("failed to encode findings: %w", err)
	}

	chatModel := c.Model
	if chatModel == "" {
		chatModel = "gpt-4o-mini"
	}

	req := openai.ChatCompletionRequest{
		Model: chatModel,
		ResponseFormat: &openai.ChatCompletionResponseFormat{
			Type: openai.ChatCompletionResponseFormatTypeJSONObject,
		},
		Messages: []openai.ChatCompletionMessage{
			{Role: openai.ChatMessageRoleSystem, Content: systemPrompt},
			{
				Role:    openai.ChatMessageRoleUser,
				Content: fmt.Sprintf("Topic: %s\n\nFindings:\n%s", topic, string(input)),
			},
		},
	}
	// Reasoning models (o1/o3/o4/gpt-5*) take MaxCompletionTokens instead of MaxTokens
	if strings.HasPrefix(chatModel, "o1") || strings.HasPrefix(chatModel, "o3") ||
		strings.HasPrefix(chatModel, "o4") || strings.HasPrefix(chatModel, "gpt-5") {
		req.MaxCompletionTokens = maxTokens
	} else {
		req.MaxTokens = maxTokens
	}

	resp, err := c.CreateChatCompletion(ctx, req)
	if err != nil {
		return "", fmt.Errorf("failed to create chat completion: %w", err)
	}
	if len(resp.Choices) == 0 {
		return "", fmt.Errorf("chat completion returned no choices")
	}

	var out struct {
		Summary string `json:"summary"`
	}
	if err := json.Unmarshal([]byte(resp.Choices[0].Message.Content), &out); err != nil {
		return "", fmt.Errorf("failed to decode summary response: %w", err)
	}

	return out.Summary, nil
}
