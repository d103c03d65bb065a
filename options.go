package madoguchi

import "log/slog"

// Option configures an App.
type Option func(*resolvedOptions)

// resolvedOptions holds all overrides after applying defaults.
// Unexported — callers use the With* functions.
type resolvedOptions struct {
	port        int
	databaseURL string
	logger      *slog.Logger
	version     string

	llmBaseURL string
	llmAPIKey  string
	llmModel   string
}

// WithPort overrides the TCP port from config (MADOGUCHI_PORT env var).
func WithPort(port int) Option {
	return func(o *resolvedOptions) { o.port = port }
}

// WithDatabaseURL overrides the database connection string from config (DATABASE_URL env var).
func WithDatabaseURL(url string) Option {
	return func(o *resolvedOptions) { o.databaseURL = url }
}

// WithLogger sets the structured logger for the App.
// If not set, the default slog logger is used.
func WithLogger(logger *slog.Logger) Option {
	return func(o *resolvedOptions) { o.logger = logger }
}

// WithVersion sets the version string reported in the health endpoint and logs.
func WithVersion(version string) Option {
	return func(o *resolvedOptions) { o.version = version }
}

// WithChatModel overrides the chat completions endpoint used by the intent
// classifier and response generator. Any empty field keeps the config value.
func WithChatModel(baseURL, apiKey, model string) Option {
	return func(o *resolvedOptions) {
		o.llmBaseURL = baseURL
		o.llmAPIKey = apiKey
		o.llmModel = model
	}
}
