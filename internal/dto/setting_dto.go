package dto

// CopilotSettings is the ai.copilot app_settings document, read once per
// request. The feature is usable only when Enabled and a provider plus
// credential are configured.
type CopilotSettings struct {
	Enabled  bool   `json:"enabled"`
	Provider string `json:"provider"` // "openai" or "gemini"
	APIKey   string `json:"apiKey"`
	Model    string `json:"model"`
	BaseURL  string `json:"baseUrl,omitempty"`
	Currency string `json:"currency,omitempty"`
	Language string `json:"language,omitempty"`
}

func (s *CopilotSettings) Usable() bool {
	return s != nil && s.Enabled && s.Provider != "" && s.APIKey != "" && s.Model != ""
}
