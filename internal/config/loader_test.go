package config_test

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/Dan-Hightower/hirebot/internal/config"
	"github.com/smartystreets/goconvey/convey"
)

func TestConfigLoader(t *testing.T) {
	convey.Convey("Given a config loader", t, func() {
		ctx := context.Background()
		clearConfigEnvVars(t)

		convey.Convey("When loading config with defaults only", func() {
			cfg, err := config.Load(ctx)

			convey.Convey("Then it should load successfully with defaults", func() {
				convey.So(err, convey.ShouldBeNil)
				convey.So(cfg.Addr, convey.ShouldEqual, ":3000")
				convey.So(cfg.QueueSize, convey.ShouldEqual, 1024)
			})
		})

		convey.Convey("When loading config with prefixed environment variables", func() {
			t.Setenv("HIREBOT_ADDR", ":8080")
			t.Setenv("HIREBOT_QUEUE_SIZE", "64")
			t.Setenv("HIREBOT_CALL_TIMEOUT", "3s")
			t.Setenv("HIREBOT_ALLOW_FUTURE_YEARS", "true")
			t.Setenv("HIREBOT_LEDGER_DRIVER", "memory")

			cfg, err := config.Load(ctx)

			convey.Convey("Then it should override defaults", func() {
				convey.So(err, convey.ShouldBeNil)
				convey.So(cfg.Addr, convey.ShouldEqual, ":8080")
				convey.So(cfg.QueueSize, convey.ShouldEqual, 64)
				convey.So(cfg.CallTimeout, convey.ShouldEqual, 3*time.Second)
				convey.So(cfg.AllowFutureYears, convey.ShouldBeTrue)
				convey.So(cfg.LedgerDriver, convey.ShouldEqual, config.LedgerMemory)
			})
		})

		convey.Convey("When loading config with legacy variable names", func() {
			t.Setenv("SLACK_BOT_TOKEN", "xoxb-legacy")
			t.Setenv("GOOGLE_SHEETS_ID", "sheet-1")
			t.Setenv("GOOGLE_SHEETS_CREDENTIALS", `{"type":"service_account"}`)
			t.Setenv("PORT", "4000")

			cfg, err := config.Load(ctx)

			convey.Convey("Then they are mapped onto the flat keys", func() {
				convey.So(err, convey.ShouldBeNil)
				convey.So(cfg.SlackBotToken, convey.ShouldEqual, "xoxb-legacy")
				convey.So(cfg.SheetsSpreadsheetID, convey.ShouldEqual, "sheet-1")
				convey.So(cfg.SheetsCredentialsJSON, convey.ShouldEqual, `{"type":"service_account"}`)
				convey.So(cfg.Addr, convey.ShouldEqual, ":4000")
			})

			convey.Convey("And prefixed variables win over legacy ones", func() {
				t.Setenv("HIREBOT_SLACK_BOT_TOKEN", "xoxb-new")
				cfg, err := config.Load(ctx)
				convey.So(err, convey.ShouldBeNil)
				convey.So(cfg.SlackBotToken, convey.ShouldEqual, "xoxb-new")
			})
		})

		convey.Convey("When loading config with a YAML file", func() {
			path := writeTemp(t, "config.yaml", `
addr: ":9090"
worker_count: 2
deel_max_attempts: 5
deel_base_delay: 250ms
openai_model: gpt-4o-mini
`)
			t.Setenv("HIREBOT_CONFIG", path)
			t.Setenv("HIREBOT_WORKER_COUNT", "4")

			cfg, err := config.Load(ctx)

			convey.Convey("Then file values apply and env still wins", func() {
				convey.So(err, convey.ShouldBeNil)
				convey.So(cfg.Addr, convey.ShouldEqual, ":9090")
				convey.So(cfg.WorkerCount, convey.ShouldEqual, 4)
				convey.So(cfg.DeelMaxAttempts, convey.ShouldEqual, 5)
				convey.So(cfg.DeelBaseDelay, convey.ShouldEqual, 250*time.Millisecond)
				convey.So(cfg.OpenAIModel, convey.ShouldEqual, "gpt-4o-mini")
				convey.So(cfg.QueueSize, convey.ShouldEqual, 1024)
			})
		})

		convey.Convey("When loading config with a .env file", func() {
			path := writeTemp(t, "bot.env", "OPENAI_API_KEY=sk-from-dotenv\n")
			t.Setenv("HIREBOT_ENV_FILE", path)
			t.Cleanup(func() { _ = os.Unsetenv("OPENAI_API_KEY") })

			cfg, err := config.Load(ctx)

			convey.Convey("Then its variables are picked up", func() {
				convey.So(err, convey.ShouldBeNil)
				convey.So(cfg.OpenAIAPIKey, convey.ShouldEqual, "sk-from-dotenv")
			})
		})

		convey.Convey("When loading config with invalid YAML file", func() {
			t.Setenv("HIREBOT_CONFIG", writeTemp(t, "bad.yaml", `invalid: yaml: content: [`))

			cfg, err := config.Load(ctx)

			convey.Convey("Then it should return a load error", func() {
				convey.So(errors.Is(err, config.ErrLoadConfig), convey.ShouldBeTrue)
				convey.So(cfg, convey.ShouldBeNil)
			})
		})

		convey.Convey("When loading config with non-existent file", func() {
			t.Setenv("HIREBOT_CONFIG", "/non/existent/file.yaml")

			cfg, err := config.Load(ctx)

			convey.So(err, convey.ShouldNotBeNil)
			convey.So(cfg, convey.ShouldBeNil)
		})

		convey.Convey("When loading config with invalid numbers", func() {
			t.Setenv("HIREBOT_QUEUE_SIZE", "invalid")

			cfg, err := config.Load(ctx)

			convey.So(err, convey.ShouldNotBeNil)
			convey.So(cfg, convey.ShouldBeNil)
		})

		convey.Convey("When loading config with an unknown ledger driver", func() {
			t.Setenv("HIREBOT_LEDGER_DRIVER", "cassandra")

			_, err := config.Load(ctx)

			convey.So(errors.Is(err, config.ErrInvalidConfig), convey.ShouldBeTrue)
		})

		convey.Convey("When loading config with empty addr", func() {
			t.Setenv("HIREBOT_CONFIG", writeTemp(t, "empty.yaml", `addr: ""`))

			cfg, err := config.Load(ctx)

			convey.So(err, convey.ShouldNotBeNil)
			convey.So(err.Error(), convey.ShouldContainSubstring, "addr must not be empty")
			convey.So(cfg, convey.ShouldBeNil)
		})
	})
}

// Helper functions.

func clearConfigEnvVars(t *testing.T) {
	t.Helper()
	for _, name := range []string{
		"HIREBOT_CONFIG", "HIREBOT_ENV_FILE", "HIREBOT_ADDR", "HIREBOT_QUEUE_SIZE",
		"HIREBOT_WORKER_COUNT", "HIREBOT_SLACK_BOT_TOKEN", "HIREBOT_LEDGER_DRIVER",
		"HIREBOT_CALL_TIMEOUT", "HIREBOT_ALLOW_FUTURE_YEARS",
		"SLACK_BOT_TOKEN", "SLACK_SIGNING_SECRET", "OPENAI_API_KEY", "GOOGLE_SHEETS_ID",
		"GOOGLE_SHEETS_CREDENTIALS", "GOOGLE_SHEETS_CREDENTIALS_PATH", "DEEL_CLIENT_ID",
		"DEEL_CLIENT_SECRET", "PORT",
	} {
		t.Setenv(name, "")
		_ = os.Unsetenv(name)
	}
}

func writeTemp(t *testing.T, name, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), name)
	if err := os.WriteFile(path, []byte(content), 0o600); err != nil {
		t.Fatal(err)
	}
	return path
}
