package factory

import (
	"fmt"

	"business-copilot-be/pkg/llm"
	"business-copilot-be/pkg/llm/gemini"
	"business-copilot-be/pkg/llm/openai"
)

// NewProvider builds the configured provider adapter. Provider selection and
// credentials come from per-request settings, so this is called per exchange.
func NewProvider(providerType, apiKey, model, baseURL string) (llm.Provider, error) {
	switch providerType {
	case "openai":
		return openai.NewOpenAIProvider(apiKey, baseURL, model), nil
	case "gemini":
		return gemini.NewGeminiProvider(apiKey, baseURL, model), nil
	default:
		return nil, fmt.Errorf("unsupported LLM provider: %s", providerType)
	}
}
