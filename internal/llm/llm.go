// Package llm abstracts the generative text transport behind the patch
// core. It routes completion requests to Anthropic (Claude) or NVIDIA NIM
// (OpenAI-compatible) backends based on the model name, with bounded retry
// and client-side rate limiting.
package llm

import (
	"context"
	"fmt"
	"strings"
	"time"

	"golang.org/x/time/rate"

	"github.com/bugpilot/bugpilot/internal/jsonrepair"
)

// Provider identifiers.
const (
	ProviderAnthropic = "anthropic"
	ProviderNvidia    = "nvidia"
)

// Default models per provider.
const (
	DefaultAnthropicModel = "claude-opus-4-5"
	DefaultNvidiaModel    = "nvidia/llama-3.3-nemotron-super-49b-v1"

	// DefaultNvidiaBaseURL is the NVIDIA NIM OpenAI-compatible endpoint.
	DefaultNvidiaBaseURL = "https://integrate.api.nvidia.com/v1"
)

// Completer is the generative text interface the patch core depends on.
// The response is raw text that may contain a JSON object; Markdown code
// fences are stripped before the text is returned.
type Completer interface {
	Complete(ctx context.Context, systemPrompt, userMessage, model string, maxOutputTokens int) (string, error)
}

// Config holds router configuration.
type Config struct {
	// Provider selects the backend for models whose name does not imply
	// one: "anthropic" or "nvidia". Defaults to "nvidia".
	Provider string

	AnthropicAPIKey string
	NvidiaAPIKey    string

	// NvidiaBaseURL overrides the NIM endpoint (tests point this at a
	// local server). Defaults to DefaultNvidiaBaseURL.
	NvidiaBaseURL string

	Retry RetryPolicy

	// RequestsPerMinute caps outbound completion calls across both
	// backends. 0 disables the limiter.
	RequestsPerMinute int
}

// Router routes completion requests to the backend implied by the model
// name, falling back to the configured provider.
type Router struct {
	provider  string
	anthropic *anthropicBackend
	nvidia    *nimBackend
	retry     RetryPolicy
	limiter   *rate.Limiter
}

// NewRouter creates a Router from configuration. Backends are constructed
// lazily enough that a missing key only fails when that backend is used.
func NewRouter(cfg Config) *Router {
	provider := strings.ToLower(strings.TrimSpace(cfg.Provider))
	if provider == "" {
		provider = ProviderNvidia
	}

	retry := cfg.Retry
	if retry.MaxRetries == 0 && retry.InitialBackoff == 0 {
		retry = DefaultRetryPolicy()
	}

	baseURL := cfg.NvidiaBaseURL
	if baseURL == "" {
		baseURL = DefaultNvidiaBaseURL
	}

	var limiter *rate.Limiter
	if cfg.RequestsPerMinute > 0 {
		limiter = rate.NewLimiter(rate.Every(time.Minute/time.Duration(cfg.RequestsPerMinute)), 1)
	}

	return &Router{
		provider:  provider,
		anthropic: newAnthropicBackend(cfg.AnthropicAPIKey),
		nvidia:    newNIMBackend(cfg.NvidiaAPIKey, baseURL),
		retry:     retry,
		limiter:   limiter,
	}
}

// DefaultModel returns the default model for the configured provider.
func (r *Router) DefaultModel() string {
	if r.provider == ProviderAnthropic {
		return DefaultAnthropicModel
	}
	return DefaultNvidiaModel
}

// Complete implements Completer.
func (r *Router) Complete(ctx context.Context, systemPrompt, userMessage, model string, maxOutputTokens int) (string, error) {
	if model == "" {
		model = r.DefaultModel()
	}
	if maxOutputTokens <= 0 {
		maxOutputTokens = 4096
	}

	// Shorthand model names like "llama-3.1-405b-instruct" are NIM models
	// under the meta/ namespace.
	if r.provider == ProviderNvidia && !strings.Contains(model, "/") && !strings.HasPrefix(model, "claude") {
		model = "meta/" + model
	}

	if r.limiter != nil {
		if err := r.limiter.Wait(ctx); err != nil {
			return "", fmt.Errorf("rate limiter wait: %w", err)
		}
	}

	var raw string
	var err error
	switch {
	case strings.HasPrefix(model, "claude") || strings.HasPrefix(model, "anthropic"):
		raw, err = r.anthropic.complete(ctx, r.retry, systemPrompt, userMessage, model, maxOutputTokens)
	case strings.HasPrefix(model, "nvidia/") || strings.HasPrefix(model, "meta/") || strings.HasPrefix(model, "mistralai/"):
		raw, err = r.nvidia.complete(ctx, r.retry, systemPrompt, userMessage, model, maxOutputTokens)
	case r.provider == ProviderAnthropic:
		raw, err = r.anthropic.complete(ctx, r.retry, systemPrompt, userMessage, model, maxOutputTokens)
	default:
		raw, err = r.nvidia.complete(ctx, r.retry, systemPrompt, userMessage, model, maxOutputTokens)
	}
	if err != nil {
		return "", err
	}

	return strings.TrimSpace(jsonrepair.StripFences(raw)), nil
}
