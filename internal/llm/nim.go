package llm

import (
	"context"
	"errors"
	"fmt"

	"github.com/openai/openai-go"
	"github.com/openai/openai-go/option"
)

// ErrMissingNvidiaKey is returned when a NIM completion is requested
// without an API key configured.
var ErrMissingNvidiaKey = errors.New("NVIDIA_API_KEY not set")

// nimBackend serves NVIDIA NIM models (Nemotron, Llama, etc.) through the
// OpenAI-compatible chat completions API.
type nimBackend struct {
	client openai.Client
	apiKey string
}

func newNIMBackend(apiKey, baseURL string) *nimBackend {
	client := openai.NewClient(
		option.WithAPIKey(apiKey),
		option.WithBaseURL(baseURL),
	)
	return &nimBackend{client: client, apiKey: apiKey}
}

func (b *nimBackend) complete(ctx context.Context, retry RetryPolicy, systemPrompt, userMessage, model string, maxOutputTokens int) (string, error) {
	if b.apiKey == "" {
		return "", ErrMissingNvidiaKey
	}

	params := openai.ChatCompletionNewParams{
		Model:     openai.ChatModel(model),
		MaxTokens: openai.Int(int64(maxOutputTokens)),
		// Lower temperature for structured output.
		Temperature: openai.Float(0.2),
		Messages: []openai.ChatCompletionMessageParamUnion{
			openai.SystemMessage(systemPrompt),
			openai.UserMessage(userMessage),
		},
	}

	var response *openai.ChatCompletion
	err := retryWithBackoff(ctx, retry, "nim completion", func(attemptCtx context.Context) error {
		resp, apiErr := b.client.Chat.Completions.New(attemptCtx, params)
		if apiErr != nil {
			return apiErr
		}
		response = resp
		return nil
	})
	if err != nil {
		return "", fmt.Errorf("nvidia NIM API call failed: %w", err)
	}

	if len(response.Choices) == 0 {
		return "", fmt.Errorf("nvidia NIM returned no choices for model %s", model)
	}
	return response.Choices[0].Message.Content, nil
}
