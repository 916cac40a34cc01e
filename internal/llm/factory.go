package llm

import "fmt"

// NewProvider creates a provider client for kind.
func NewProvider(kind string, cfg ClientConfig) (Provider, error) {
	switch kind {
	case ProviderGemini:
		return NewGeminiProvider(cfg)
	case ProviderOpenAI, ProviderDeepSeek:
		return NewOpenAIProvider(kind, cfg)
	case ProviderAnthropic:
		return NewAnthropicProvider(cfg)
	case ProviderXAI:
		return NewXAIProvider(cfg)
	default:
		return nil, fmt.Errorf("unknown provider kind: %s", kind)
	}
}
