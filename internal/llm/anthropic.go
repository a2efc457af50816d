package llm

import (
	"context"
	"fmt"

	"github.com/anthropics/anthropic-sdk-go"
	"github.com/anthropics/anthropic-sdk-go/option"
)

// anthropicBackend serves Claude models through the Anthropic SDK.
type anthropicBackend struct {
	client *anthropic.Client
}

func newAnthropicBackend(apiKey string) *anthropicBackend {
	var opts []option.RequestOption
	if apiKey != "" {
		opts = append(opts, option.WithAPIKey(apiKey))
	}
	// With no explicit key the SDK reads ANTHROPIC_API_KEY itself.
	client := anthropic.NewClient(opts...)
	return &anthropicBackend{client: &client}
}

func (b *anthropicBackend) complete(ctx context.Context, retry RetryPolicy, systemPrompt, userMessage, model string, maxOutputTokens int) (string, error) {
	params := anthropic.MessageNewParams{
		Model:     anthropic.Model(model),
		MaxTokens: int64(maxOutputTokens),
		Messages: []anthropic.MessageParam{
			anthropic.NewUserMessage(anthropic.NewTextBlock(userMessage)),
		},
	}
	if systemPrompt != "" {
		params.System = []anthropic.TextBlockParam{{Text: systemPrompt}}
	}

	var response *anthropic.Message
	err := retryWithBackoff(ctx, retry, "anthropic completion", func(attemptCtx context.Context) error {
		resp, apiErr := b.client.Messages.New(attemptCtx, params)
		if apiErr != nil {
			return apiErr
		}
		response = resp
		return nil
	})
	if err != nil {
		return "", fmt.Errorf("anthropic API call failed: %w", err)
	}

	var text string
	for _, block := range response.Content {
		if block.Type == "text" {
			text += block.Text
		}
	}
	return text, nil
}
