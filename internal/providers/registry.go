package providers

import (
	"fmt"
	"os"
)

// New constructs a provider by name. model overrides the provider's
// default when non-empty. API keys come from the conventional env vars.
func New(name, model string) (Provider, error) {
	switch name {
	case "", "anthropic":
		key := os.Getenv("ANTHROPIC_API_KEY")
		if key == "" {
			return nil, fmt.Errorf("ANTHROPIC_API_KEY not set")
		}
		opts := []AnthropicOption{}
		if model != "" {
			opts = append(opts, WithAnthropicModel(model))
		}
		if base := os.Getenv("ANTHROPIC_BASE_URL"); base != "" {
			opts = append(opts, WithAnthropicBaseURL(base))
		}
		return NewAnthropicProvider(key, opts...), nil

	case "openai":
		key := os.Getenv("OPENAI_API_KEY")
		if key == "" {
			return nil, fmt.Errorf("OPENAI_API_KEY not set")
		}
		if model == "" {
			model = "gpt-4o"
		}
		return NewOpenAIProvider("openai", key, os.Getenv("OPENAI_BASE_URL"), model), nil

	case "openrouter":
		key := os.Getenv("OPENROUTER_API_KEY")
		if key == "" {
			return nil, fmt.Errorf("OPENROUTER_API_KEY not set")
		}
		return NewOpenAIProvider("openrouter", key, "https://openrouter.ai/api/v1", model), nil

	default:
		return nil, fmt.Errorf("unknown provider %q", name)
	}
}
