// Package config defines service configuration structures and loading hooks.
//
// Conventions:
// - Keys are flat and match the koanf tags below.
// - New returns defaults; Load layers files and environment on top.
// - Secrets have no defaults; Validate reports which are missing.
package config

import (
	"time"
)

// Ledger drivers.
const (
	LedgerMemory   = "memory"
	LedgerSQLite   = "sqlite"
	LedgerPostgres = "postgres"
	LedgerValkey   = "valkey"
)

// Config contains process configuration.
type Config struct {
	// LogLevel controls verbosity: debug, info, warn, error.
	LogLevel string `koanf:"log_level"`
	// LogFile mirrors log output to a file when set.
	LogFile string `koanf:"log_file"`
	LogJSON bool   `koanf:"log_json"`

	// Addr configures the HTTP listen address, e.g. ":3000".
	Addr string `koanf:"addr"`

	// QueueSize bounds the in-memory job queue.
	QueueSize int `koanf:"queue_size"`
	// WorkerCount sets the number of job workers.
	WorkerCount int `koanf:"worker_count"`
	// DedupeSize bounds the delivery deduplication cache.
	DedupeSize int `koanf:"dedupe_size"`
	// JobTimeout bounds one queued job end to end.
	JobTimeout time.Duration `koanf:"job_timeout"`
	// CallTimeout bounds each outbound call attempt.
	CallTimeout time.Duration `koanf:"call_timeout"`

	// PayloadSecret signs button payloads. Falls back to the Slack signing secret.
	PayloadSecret string `koanf:"payload_secret"`

	SlackBotToken      string        `koanf:"slack_bot_token"`
	SlackSigningSecret string        `koanf:"slack_signing_secret"`
	SlackCommand       string        `koanf:"slack_command"`
	SlackAPIURL        string        `koanf:"slack_api_url"`
	SlackDirectoryTTL  time.Duration `koanf:"slack_directory_ttl"`
	SlackMaxAttempts   int           `koanf:"slack_max_attempts"`

	OpenAIAPIKey      string  `koanf:"openai_api_key"`
	OpenAIModel       string  `koanf:"openai_model"`
	OpenAIBaseURL     string  `koanf:"openai_base_url"`
	OpenAITemperature float32 `koanf:"openai_temperature"`

	SheetsSpreadsheetID   string `koanf:"sheets_spreadsheet_id"`
	SheetsCredentialsJSON string `koanf:"sheets_credentials_json"`
	SheetsCredentialsFile string `koanf:"sheets_credentials_file"`
	SheetsSheetName       string `koanf:"sheets_sheet_name"`
	SheetsEndpoint        string `koanf:"sheets_endpoint"`
	SheetsMaxAttempts     int    `koanf:"sheets_max_attempts"`

	DeelClientID          string        `koanf:"deel_client_id"`
	DeelClientSecret      string        `koanf:"deel_client_secret"`
	DeelAPIBase           string        `koanf:"deel_api_base"`
	DeelAuthBase          string        `koanf:"deel_auth_base"`
	DeelMaxAttempts       int           `koanf:"deel_max_attempts"`
	DeelBaseDelay         time.Duration `koanf:"deel_base_delay"`
	DeelTokenMargin       time.Duration `koanf:"deel_token_margin"`
	DeelCountry           string        `koanf:"deel_country"`
	DeelCandidateLinkBase string        `koanf:"deel_candidate_link_base"`

	// LedgerDriver selects the workflow ledger: memory, sqlite, postgres or valkey.
	LedgerDriver     string `koanf:"ledger_driver"`
	LedgerDSN        string `koanf:"ledger_dsn"`
	LedgerValkeyAddr string `koanf:"ledger_valkey_addr"`

	// TotalShares is the share count equity percentages are measured against.
	TotalShares int64 `koanf:"total_shares"`
	// AllowFutureYears keeps an explicit start year at or after the current one.
	AllowFutureYears bool `koanf:"allow_future_years"`
}

// New creates a Config populated with defaults.
func New() *Config {
	return &Config{
		LogLevel:              "info",
		Addr:                  ":3000",
		QueueSize:             1024,
		WorkerCount:           8,
		DedupeSize:            10_000,
		JobTimeout:            2 * time.Minute,
		CallTimeout:           10 * time.Second,
		SlackCommand:          "/hire",
		SlackDirectoryTTL:     5 * time.Minute,
		SlackMaxAttempts:      3,
		OpenAIModel:           "gpt-3.5-turbo",
		SheetsSheetName:       "Sheet1",
		SheetsMaxAttempts:     1,
		DeelAPIBase:           "https://api.letsdeel.com/rest/v2",
		DeelAuthBase:          "https://app.deel.com/oauth2",
		DeelMaxAttempts:       3,
		DeelBaseDelay:         time.Second,
		DeelTokenMargin:       time.Minute,
		DeelCountry:           "US",
		DeelCandidateLinkBase: "https://hirebot.internal/candidates",
		LedgerDriver:          LedgerSQLite,
		LedgerDSN:             "hirebot.db",
		TotalShares:           10_000_000,
	}
}

// SealingSecret returns the key used to sign button payloads.
func (c *Config) SealingSecret() string {
	if c.PayloadSecret != "" {
		return c.PayloadSecret
	}
	return c.SlackSigningSecret
}

// Missing lists required keys that are empty.
func (c *Config) Missing() []string {
	var missing []string
	req := []struct {
		key string
		val string
	}{
		{"slack_bot_token", c.SlackBotToken},
		{"slack_signing_secret", c.SlackSigningSecret},
		{"openai_api_key", c.OpenAIAPIKey},
		{"sheets_spreadsheet_id", c.SheetsSpreadsheetID},
		{"sheets_credentials_json|sheets_credentials_file", c.SheetsCredentialsJSON + c.SheetsCredentialsFile},
		{"deel_client_id", c.DeelClientID},
		{"deel_client_secret", c.DeelClientSecret},
	}
	for _, r := range req {
		if r.val == "" {
			missing = append(missing, r.key)
		}
	}
	if c.LedgerDriver == LedgerValkey && c.LedgerValkeyAddr == "" {
		missing = append(missing, "ledger_valkey_addr")
	}
	if c.LedgerDriver == LedgerPostgres && c.LedgerDSN == "" {
		missing = append(missing, "ledger_dsn")
	}
	return missing
}
