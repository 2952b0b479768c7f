//nolint:lll // struct tags can't be split
package avalon

import (
	"crypto/tls"
	"log/slog"
	"net/http"
	"time"
)

const (
	EnvvarSetEnvPrefix = "AVALON_ENV_PREFIX"
	DefaultEnvPrefix   = "AVALON"

	DefaultDatabaseType          = "sqlite"
	DefaultDatabase              = "avalon.sqlite3"
	DefaultDatabaseSlowThreshold = 200 * time.Millisecond

	DefaultLogLevel         = slog.LevelInfo
	DefaultDatabaseLogLevel = slog.LevelInfo
	DefaultDiscordLogLevel  = slog.LevelWarn
	DefaultWebhookLogLevel  = slog.LevelInfo
	DefaultLLMLogLevel      = slog.LevelInfo

	DefaultShutdownTimeout = 30 * time.Second

	DefaultWebhookServerListen        = "127.0.0.1:5001"
	DefaultWebhookServerTLSminVersion = tls.VersionTLS12
	DefaultReadTimeout                = 5 * time.Second
	DefaultReadHeaderTimeout          = 5 * time.Second
	DefaultWriteTimeout               = 10 * time.Second
	DefaultIdleTimeout                = 30 * time.Second
	defaultListenNetwork              = "tcp"

	// DiscordSlashCommandChat is the name of the slash command used to
	// send a query to the model.
	DiscordSlashCommandChat = "chat"

	// DiscordSlashCommandSetModel is the name of the owner-only slash
	// command used to change the active model.
	DiscordSlashCommandSetModel = "setmodel"

	DefaultChatCommandDescription           = "Chat with Avalon."
	DefaultChatCommandOptionDescription     = "Your question or message"
	DefaultSetModelCommandDescription       = "OWNER ONLY"
	DefaultSetModelCommandOptionDescription = "The model to set"
	chatCommandQueryOption                  = "query"
	setModelCommandModelOption              = "model_name"
	chatCommandQueryMaxLength               = 1000
	setModelCommandModelMaxLength           = 100
	discordMaxMessageLength                 = 2000
	// Chunks are sent slightly under the hard limit to leave headroom
	// for Discord-side markdown normalization.
	discordMessageChunkSize         = discordMaxMessageLength - 10
	discordEmptyResponsePlaceholder = "..."

	DefaultFollowupInterval               = time.Second
	DefaultOpenRouterBaseURL              = "https://openrouter.ai/api/v1"
	DefaultOpenRouterReferer              = "https://github.com/yehezkieldio/avalon"
	DefaultOpenRouterTitle                = "Avalon"
	DefaultModel                          = "meta-llama/llama-3.2-3b-instruct:free"
	DefaultGroqBaseURL                    = "https://api.groq.com/openai/v1"
	DefaultGroqModel                      = "llama-3.3-70b-versatile"
	DefaultTavilyBaseURL                  = "https://api.tavily.com"
	DefaultAgentMaxIterations             = 5
	DefaultAgentSearchMaxResults          = 5
	DefaultDiscordErrorMessage            = "An unexpected error occurred while processing your request."
	DefaultDiscordPermissionDeniedMessage = "You do not have permission to use this command."
	DefaultDiscordNoOptionsMessage        = "No options provided."
	DefaultDiscordAgentInitFailedMessage  = "Failed to initialize the AI agent. Please contact the owner."
	agentFallbackMessage                  = "Sorry, I couldn't process that."
)

// Config is the top-level Avalon configuration, loaded via viper from
// a config file and/or environment variables.
type Config struct {
	// Database connection string
	Database string `yaml:"database" mapstructure:"database" json:"database"`

	// DatabaseType specifies the type of database, either 'sqlite' or 'postgres'
	DatabaseType string `yaml:"database_type" mapstructure:"database_type" json:"database_type" binding:"oneof=sqlite postgres"`

	// DatabaseLogLevel sets the log level for database operations
	DatabaseLogLevel *slog.LevelVar `yaml:"database_log_level" mapstructure:"database_log_level" json:"database_log_level"`

	// DatabaseSlowThreshold is the duration threshold for identifying slow database queries
	DatabaseSlowThreshold time.Duration `yaml:"database_slow_threshold" mapstructure:"database_slow_threshold" json:"database_slow_threshold"`

	// Discord configures the Discord integration and webhook server
	Discord *DiscordConfig `yaml:"discord" mapstructure:"discord" json:"discord"`

	// LLM configures the completion providers and the optional
	// search-augmented agent
	LLM *LLMConfig `yaml:"llm" mapstructure:"llm" json:"llm"`

	// LogLevel is the base log level, for the default logger
	LogLevel *slog.LevelVar `yaml:"log_level" mapstructure:"log_level" json:"log_level"`

	// ShutdownTimeout is the time to allow in-flight chat commands to
	// finish after the webhook server stops accepting requests. After
	// this elapses, the process exits regardless.
	ShutdownTimeout time.Duration `yaml:"shutdown_timeout" mapstructure:"shutdown_timeout" json:"shutdown_timeout"`

	// Development enables gin debug mode
	Development bool `yaml:"development" mapstructure:"development" json:"development"`

	HTTPClient *http.Client `log:"[redacted]"`
}

func (c Config) LogValue() slog.Value {
	return structToSlogValue(c)
}

// DiscordConfig configures the discord bot itself.
//
//nolint:lll // can't break tags
type DiscordConfig struct {
	// Discord bot token (from the 'Bot' tab in the discord dev portal)
	Token string `yaml:"token" mapstructure:"token" json:"token" log:"[redacted]" binding:"required"`

	// Discord application ID (from the 'General Information' tab in the discord dev portal)
	ApplicationID string `yaml:"application_id" mapstructure:"application_id" json:"application_id" binding:"required"`

	// OwnerUserID is the Discord user ID allowed to use /setmodel
	OwnerUserID string `yaml:"owner_user_id" mapstructure:"owner_user_id" json:"owner_user_id" binding:"required"`

	// GuildID specifies the guild ID used when registering slash commands.
	// Leave empty for commands to be registered as global.
	GuildID string `yaml:"guild_id" mapstructure:"guild_id" json:"guild_id"`

	// WebhookServer receives interaction POSTs from Discord
	WebhookServer WebhookServerConfig `yaml:"webhook_server" mapstructure:"webhook_server" json:"webhook_server"`

	// Base discord logging level
	LogLevel *slog.LevelVar `yaml:"log_level" mapstructure:"log_level" json:"log_level"`

	httpClient *http.Client
}

// WebhookServerConfig represents the configuration for the Discord
// interaction webhook server.
type WebhookServerConfig struct {
	// The address and port on which the server should listen (e.g., "127.0.0.1:5001").
	Listen string `yaml:"listen" mapstructure:"listen" json:"listen" binding:"required,hostname|filepath"`

	// The network type for listening (e.g., "tcp", "tcp4", "tcp6", "unix").
	ListenNetwork string `yaml:"listen_network" mapstructure:"listen_network" json:"listen_network" binding:"required,oneof=tcp tcp4 tcp6 unix"`

	// Configuration for SSL/TLS.
	SSL SSLConfig `yaml:"ssl" mapstructure:"ssl" json:"ssl"`

	// The public key used for verifying Discord interaction POST requests.
	// In the Discord dev portal for your bot, this is under 'General Information'
	PublicKey string `yaml:"public_key" mapstructure:"public_key" json:"public_key" binding:"required"`

	// The logging level for the webhook server.
	LogLevel *slog.LevelVar `yaml:"log_level" mapstructure:"log_level" json:"log_level"`

	// Maximum duration for reading the entire request, including the body.
	ReadTimeout time.Duration `yaml:"read_timeout" mapstructure:"read_timeout" json:"read_timeout" binding:"min=1s"`

	// Amount of time allowed to read request headers.
	ReadHeaderTimeout time.Duration `yaml:"read_header_timeout" mapstructure:"read_header_timeout" json:"read_header_timeout" binding:"min=1s"`

	// Maximum duration before timing out writes of the response.
	WriteTimeout time.Duration `yaml:"write_timeout" mapstructure:"write_timeout" json:"write_timeout" binding:"min=1s"`

	// Maximum amount of time to wait for the next request when keep-alives are enabled.
	IdleTimeout time.Duration `yaml:"idle_timeout" mapstructure:"idle_timeout" json:"idle_timeout" binding:"min=1s"`
}

// LLMConfig configures completion providers and the agent.
type LLMConfig struct {
	// OpenRouter API key (primary provider)
	OpenRouterAPIKey string `yaml:"openrouter_api_key" mapstructure:"openrouter_api_key" json:"openrouter_api_key" log:"[redacted]" binding:"required"`

	// OpenRouter API base URL
	OpenRouterBaseURL string `yaml:"openrouter_base_url" mapstructure:"openrouter_base_url" json:"openrouter_base_url"`

	// Referer/title headers sent to OpenRouter for attribution
	OpenRouterReferer string `yaml:"openrouter_referer" mapstructure:"openrouter_referer" json:"openrouter_referer"`
	OpenRouterTitle   string `yaml:"openrouter_title" mapstructure:"openrouter_title" json:"openrouter_title"`

	// Groq API key. If set, a failed OpenRouter completion is retried
	// once against Groq with the same prompt.
	GroqAPIKey string `yaml:"groq_api_key" mapstructure:"groq_api_key" json:"groq_api_key" log:"[redacted]"`

	// Groq API base URL
	GroqBaseURL string `yaml:"groq_base_url" mapstructure:"groq_base_url" json:"groq_base_url"`

	// GroqModel is the model used for the fallback attempt
	GroqModel string `yaml:"groq_model" mapstructure:"groq_model" json:"groq_model"`

	// DefaultModel is used when no model has been stored via /setmodel,
	// or when the settings store can't be read
	DefaultModel string `yaml:"default_model" mapstructure:"default_model" json:"default_model"`

	// Agent configures the tool-augmented completion strategy
	Agent AgentConfig `yaml:"agent" mapstructure:"agent" json:"agent"`

	// LLM log level
	LogLevel *slog.LevelVar `yaml:"log_level" mapstructure:"log_level" json:"log_level"`
}

// AgentConfig configures the search-augmented agent loop. When Enabled
// is false, /chat uses the direct completion strategy instead.
type AgentConfig struct {
	Enabled bool `yaml:"enabled" mapstructure:"enabled" json:"enabled"`

	// Tavily API key for the web_search tool
	TavilyAPIKey string `yaml:"tavily_api_key" mapstructure:"tavily_api_key" json:"tavily_api_key" log:"[redacted]" binding:"required_if=Enabled true"`

	// Tavily API base URL
	TavilyBaseURL string `yaml:"tavily_base_url" mapstructure:"tavily_base_url" json:"tavily_base_url"`

	// MaxIterations caps the reasoning loop
	MaxIterations int `yaml:"max_iterations" mapstructure:"max_iterations" json:"max_iterations" binding:"min=1"`

	// SearchMaxResults caps results returned by the web_search tool
	SearchMaxResults int `yaml:"search_max_results" mapstructure:"search_max_results" json:"search_max_results" binding:"min=1"`
}

// SSLConfig specifies cert paths and the TLS version to use
type SSLConfig struct {
	// Path to an SSL certificate
	Cert string `yaml:"cert" mapstructure:"cert" json:"cert"`

	// Path to an SSL cert key
	Key string `yaml:"key" mapstructure:"key" json:"key"`

	// Minimum TLS version
	TLSMinVersion uint16 `yaml:"tls_min_version" mapstructure:"tls_min_version" json:"tls_min_version"`
}

// DefaultConfig returns a Config with all default settings populated
func DefaultConfig() *Config {
	mainLogLevel := &slog.LevelVar{}
	discordLogLevel := &slog.LevelVar{}
	webhookLogLevel := &slog.LevelVar{}
	llmLogLevel := &slog.LevelVar{}
	dbLogLevel := &slog.LevelVar{}

	mainLogLevel.Set(DefaultLogLevel)
	discordLogLevel.Set(DefaultDiscordLogLevel)
	webhookLogLevel.Set(DefaultWebhookLogLevel)
	llmLogLevel.Set(DefaultLLMLogLevel)
	dbLogLevel.Set(DefaultDatabaseLogLevel)

	return &Config{
		DatabaseType:          DefaultDatabaseType,
		Database:              DefaultDatabase,
		DatabaseLogLevel:      dbLogLevel,
		DatabaseSlowThreshold: DefaultDatabaseSlowThreshold,
		LogLevel:              mainLogLevel,
		ShutdownTimeout:       DefaultShutdownTimeout,
		Discord: &DiscordConfig{
			WebhookServer: WebhookServerConfig{
				Listen:        DefaultWebhookServerListen,
				ListenNetwork: defaultListenNetwork,
				SSL: SSLConfig{
					TLSMinVersion: DefaultWebhookServerTLSminVersion,
				},
				LogLevel:          webhookLogLevel,
				ReadHeaderTimeout: DefaultReadHeaderTimeout,
				ReadTimeout:       DefaultReadTimeout,
				WriteTimeout:      DefaultWriteTimeout,
				IdleTimeout:       DefaultIdleTimeout,
			},
			LogLevel: discordLogLevel,
		},
		LLM: &LLMConfig{
			OpenRouterBaseURL: DefaultOpenRouterBaseURL,
			OpenRouterReferer: DefaultOpenRouterReferer,
			OpenRouterTitle:   DefaultOpenRouterTitle,
			GroqBaseURL:       DefaultGroqBaseURL,
			GroqModel:         DefaultGroqModel,
			DefaultModel:      DefaultModel,
			Agent: AgentConfig{
				TavilyBaseURL:    DefaultTavilyBaseURL,
				MaxIterations:    DefaultAgentMaxIterations,
				SearchMaxResults: DefaultAgentSearchMaxResults,
			},
			LogLevel: llmLogLevel,
		},
	}
}
