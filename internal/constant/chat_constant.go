package constant

const (
	RoleUser      = "user"
	RoleAssistant = "assistant"

	// RetryMarker prefixes a resubmitted question. The marked turn is replayed
	// in-memory only and never persisted as a new user message.
	RetryMarker = "[retry]"

	// PlaceholderTitle is assigned to sessions created implicitly on the first
	// message. Auto-titling only fires while the title still equals this.
	PlaceholderTitle = "New conversation"

	MaxTitleLength   = 80
	MaxQuestionChars = 4000

	// HistoryTurns is how many prior messages are replayed to the provider.
	HistoryTurns = 10

	DefaultSessionPageSize = 50
	DefaultMessagePageSize = 50
	MaxPageSize            = 200
)

const (
	// SettingKeyCopilot is the app_settings row holding the feature document:
	// {enabled, provider, apiKey, model, baseUrl, currency, language}.
	SettingKeyCopilot = "ai.copilot"
)

const (
	// ExchangeCompletedTopic carries telemetry events after a persisted exchange.
	ExchangeCompletedTopic = "COPILOT_EXCHANGE_COMPLETED"
)
