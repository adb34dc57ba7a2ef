package config

import "time"

// Config is the whole configuration of the app
var Config = struct {

	// LogrusLevel sets the logrus logging level
	LogrusLevel string `env:"TEAMSYNC_LOGRUS_LEVEL" envDefault:"info"`
	// LogrusFormat sets the logrus logging formatter
	// Possible values: text, json
	LogrusFormat string `env:"TEAMSYNC_LOGRUS_FORMAT" envDefault:"text"`

	GithubServer            string `env:"TEAMSYNC_GITHUB_SERVER" envDefault:"https://api.github.com"`
	GithubAppID             int64  `env:"TEAMSYNC_GITHUB_APP_ID" envDefault:"0"`
	GithubAppPrivateKeyFile string `env:"TEAMSYNC_GITHUB_APP_PRIVATE_KEY_FILE" envDefault:""`

	MailgunServer string `env:"TEAMSYNC_MAILGUN_SERVER" envDefault:"https://api.mailgun.net/v3"`
	MailgunAPIKey string `env:"MAILGUN_API_KEY" envDefault:""`

	ZulipSite   string `env:"ZULIP_SITE" envDefault:""`
	ZulipEmail  string `env:"ZULIP_EMAIL" envDefault:""`
	ZulipAPIKey string `env:"ZULIP_API_KEY" envDefault:""`

	DiscordServer  string `env:"TEAMSYNC_DISCORD_SERVER" envDefault:"https://discord.com/api/v10"`
	DiscordToken   string `env:"DISCORD_TOKEN" envDefault:""`
	DiscordGuildID string `env:"DISCORD_GUILD_ID" envDefault:""`

	// RunTimeout is the hard ceiling for a whole sync run
	RunTimeout time.Duration `env:"TEAMSYNC_RUN_TIMEOUT" envDefault:"1h"`
	// MaxOpAttempts bounds retries of a single operation on transient errors
	MaxOpAttempts int `env:"TEAMSYNC_MAX_OP_ATTEMPTS" envDefault:"5"`
	// RetryBaseDelay is the first backoff delay, doubled on each retry
	RetryBaseDelay time.Duration `env:"TEAMSYNC_RETRY_BASE_DELAY" envDefault:"1s"`
	// RetryMaxDelay caps the backoff delay
	RetryMaxDelay time.Duration `env:"TEAMSYNC_RETRY_MAX_DELAY" envDefault:"30s"`

	OpenTelemetryEnabled      bool   `env:"TEAMSYNC_OPENTELEMETRY_ENABLED" envDefault:"false"`
	OpenTelemetryGrpcEndpoint string `env:"TEAMSYNC_OPENTELEMETRY_GRPC_ENDPOINT" envDefault:"localhost:4317"`
}{}
