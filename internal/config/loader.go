package config

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"strings"

	"github.com/joho/godotenv"
	"github.com/knadh/koanf/parsers/yaml"
	"github.com/knadh/koanf/providers/env"
	"github.com/knadh/koanf/providers/file"
	"github.com/knadh/koanf/v2"
)

const envPrefix = "HIREBOT_"

// legacyEnv maps the variable names the bot has always been deployed with.
var legacyEnv = map[string]string{
	"SLACK_BOT_TOKEN":                "slack_bot_token",
	"SLACK_SIGNING_SECRET":           "slack_signing_secret",
	"OPENAI_API_KEY":                 "openai_api_key",
	"GOOGLE_SHEETS_ID":               "sheets_spreadsheet_id",
	"GOOGLE_SHEETS_CREDENTIALS":      "sheets_credentials_json",
	"GOOGLE_SHEETS_CREDENTIALS_PATH": "sheets_credentials_file",
	"DEEL_CLIENT_ID":                 "deel_client_id",
	"DEEL_CLIENT_SECRET":             "deel_client_secret",
	"PORT":                           "addr",
}

// Load builds a Config by layering defaults, optional files, and env vars.
// Order of precedence (low -> high):
//  1. defaults (New())
//  2. .env file (HIREBOT_ENV_FILE, default ".env"), exported into the process env
//  3. YAML file if HIREBOT_CONFIG is set
//  4. legacy variable names (SLACK_BOT_TOKEN, PORT, ...)
//  5. env (prefix HIREBOT_)
func Load(ctx context.Context) (*Config, error) {
	base := New()

	envFile := os.Getenv(envPrefix + "ENV_FILE")
	if envFile == "" {
		envFile = ".env"
	}
	if err := godotenv.Load(envFile); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return nil, fmt.Errorf("%w: %s: %v", ErrLoadConfig, envFile, err)
	}

	k := koanf.New(".")

	if path := os.Getenv(envPrefix + "CONFIG"); path != "" {
		if err := k.Load(file.Provider(path), yaml.Parser()); err != nil {
			return nil, fmt.Errorf("%w: %s: %v", ErrLoadConfig, path, err)
		}
	}

	legacy := env.ProviderWithValue("", ".", func(key, value string) (string, interface{}) {
		name, ok := legacyEnv[key]
		if !ok || value == "" {
			return "", nil
		}
		if key == "PORT" && !strings.Contains(value, ":") {
			value = ":" + value
		}
		return name, value
	})
	if err := k.Load(legacy, nil); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrLoadConfig, err)
	}

	// HIREBOT_QUEUE_SIZE -> queue_size (flat keys, underscores preserved).
	envProvider := env.Provider(envPrefix, ".", func(s string) string {
		return strings.TrimPrefix(strings.ToLower(s), strings.ToLower(envPrefix))
	})
	if err := k.Load(envProvider, nil); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrLoadConfig, err)
	}

	cfg := *base
	if err := k.UnmarshalWithConf("", &cfg, koanf.UnmarshalConf{Tag: "koanf"}); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrLoadConfig, err)
	}

	if err := cfg.check(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// check rejects values no component can run with.
func (c *Config) check() error {
	switch {
	case c.Addr == "":
		return fmt.Errorf("%w: addr must not be empty", ErrInvalidConfig)
	case c.TotalShares <= 0:
		return fmt.Errorf("%w: total_shares must be positive", ErrInvalidConfig)
	case c.CallTimeout <= 0:
		return fmt.Errorf("%w: call_timeout must be positive", ErrInvalidConfig)
	}
	switch c.LedgerDriver {
	case LedgerMemory, LedgerSQLite, LedgerPostgres, LedgerValkey:
	default:
		return fmt.Errorf("%w: unknown ledger_driver %q", ErrInvalidConfig, c.LedgerDriver)
	}
	return nil
}

// Validate reports every missing required key. A non-nil result is fatal at startup.
func (c *Config) Validate() error {
	if missing := c.Missing(); len(missing) > 0 {
		return fmt.Errorf("%w: missing %s", ErrInvalidConfig, strings.Join(missing, ", "))
	}
	return nil
}
