package engine

import (
	"context"
	"fmt"
	"strings"

	"github.com/sashabaranov/go-openai"
)

// Generator issues one text-generation request against a model endpoint.
// Images are base64-encoded JPEGs. Implementations must honor ctx deadlines;
// callers bound every call with a timeout and never retry.
type Generator interface {
	Generate(ctx context.Context, model, prompt string, imagesB64 []string) (string, error)
}

// ModelClient talks to Ollama through its OpenAI-compatible surface. The same
// client serves both the vision and the reasoning model; the model id is
// chosen per call.
type ModelClient struct {
	client *openai.Client
}

func NewModelClient(baseURL, apiKey string) *ModelClient {
	config := openai.DefaultConfig(apiKey)
	config.BaseURL = strings.TrimRight(baseURL, "/") + "/v1"
	return &ModelClient{client: openai.NewClientWithConfig(config)}
}

// Generate sends a single chat completion request and returns the trimmed
// response text.
func (c *ModelClient) Generate(ctx context.Context, model, prompt string, imagesB64 []string) (string, error) {
	msg := openai.ChatCompletionMessage{Role: openai.ChatMessageRoleUser}
	if len(imagesB64) == 0 {
		msg.Content = prompt
	} else {
		parts := []openai.ChatMessagePart{
			{Type: openai.ChatMessagePartTypeText, Text: prompt},
		}
		for _, b64 := range imagesB64 {
			parts = append(parts, openai.ChatMessagePart{
				Type: openai.ChatMessagePartTypeImageURL,
				ImageURL: &openai.ChatMessageImageURL{
					URL: "data:image/jpeg;base64," + b64,
				},
			})
		}
		msg.MultiContent = parts
	}

	resp, err := c.client.CreateChatCompletion(ctx, openai.ChatCompletionRequest{
		Model:    model,
		Messages: []openai.ChatCompletionMessage{msg},
	})
	if err != nil {
		return "", fmt.Errorf("model %s request failed: %w", model, err)
	}
	if len(resp.Choices) == 0 {
		return "", fmt.Errorf("model %s returned no choices", model)
	}
	return strings.TrimSpace(resp.Choices[0].Message.Content), nil
}
