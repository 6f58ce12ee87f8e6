// Provider selection from settings.
//
// Information Hiding:
// - Provider aliases and per-provider constructors hidden
// - API key lookup delegated to config

package llm

import (
	"fmt"
	"strings"

	"github.com/richinex/agentdock/config"
)

// ProviderType identifies a chat backend.
type ProviderType int

const (
	ProviderOpenAI ProviderType = iota
	ProviderAnthropic
	ProviderDeepSeek
	ProviderGemini
)

func (p ProviderType) String() string {
	switch p {
	case ProviderOpenAI:
		return "openai"
	case ProviderAnthropic:
		return "anthropic"
	case ProviderDeepSeek:
		return "deepseek"
	case ProviderGemini:
		return "gemini"
	default:
		return "unknown"
	}
}

// ParseProviderType parses a provider name or alias, case-insensitively.
func ParseProviderType(s string) (ProviderType, error) {
	switch strings.ToLower(s) {
	case "openai", "gpt":
		return ProviderOpenAI, nil
	case "anthropic", "claude":
		return ProviderAnthropic, nil
	case "deepseek":
		return ProviderDeepSeek, nil
	case "gemini", "google":
		return ProviderGemini, nil
	default:
		return 0, fmt.Errorf("unknown provider: %s", s)
	}
}

// FromConfig builds the provider cfg selects, reading its API key from the
// environment.
func FromConfig(cfg config.LLMConfig) (Provider, error) {
	key, err := config.APIKeyFor(cfg.Provider)
	if err != nil {
		return nil, err
	}
	return NewProvider(cfg, key)
}

// NewProvider builds the provider cfg selects with an explicit API key.
// A zero MaxTokens means 4096. BaseURL only applies to OpenAI.
func NewProvider(cfg config.LLMConfig, apiKey string) (Provider, error) {
	providerType, err := ParseProviderType(cfg.Provider)
	if err != nil {
		return nil, err
	}
	if cfg.Model == "" {
		return nil, fmt.Errorf("%s: no model configured", providerType)
	}

	maxTokens := cfg.MaxTokens
	if maxTokens == 0 {
		maxTokens = 4096
	}
	temperature := float32(cfg.Temperature)

	switch providerType {
	case ProviderOpenAI:
		return NewOpenAIProviderWithBaseURL(apiKey, cfg.BaseURL, cfg.Model, maxTokens, temperature), nil
	case ProviderAnthropic:
		return NewAnthropicProvider(apiKey, cfg.Model, maxTokens, temperature), nil
	case ProviderDeepSeek:
		return NewDeepSeekProvider(apiKey, cfg.Model, maxTokens, temperature), nil
	default:
		return NewGeminiProvider(apiKey, cfg.Model, maxTokens, temperature), nil
	}
}
