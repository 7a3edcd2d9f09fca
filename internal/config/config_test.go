package config_test

import (
	"errors"
	"testing"
	"time"

	"github.com/Dan-Hightower/hirebot/internal/config"
	"github.com/smartystreets/goconvey/convey"
)

func TestConfig_New(t *testing.T) {
	convey.Convey("Given a new config with default options", t, func() {
		cfg := config.New()

		convey.Convey("Then it should have sensible defaults", func() {
			convey.So(cfg.Addr, convey.ShouldEqual, ":3000")
			convey.So(cfg.SlackCommand, convey.ShouldEqual, "/hire")
			convey.So(cfg.OpenAIModel, convey.ShouldEqual, "gpt-3.5-turbo")
			convey.So(cfg.SheetsSheetName, convey.ShouldEqual, "Sheet1")
			convey.So(cfg.DeelMaxAttempts, convey.ShouldEqual, 3)
			convey.So(cfg.DeelTokenMargin, convey.ShouldEqual, time.Minute)
			convey.So(cfg.TotalShares, convey.ShouldEqual, 10_000_000)
			convey.So(cfg.LedgerDriver, convey.ShouldEqual, config.LedgerSQLite)
			convey.So(cfg.CallTimeout, convey.ShouldEqual, 10*time.Second)
		})
	})
}

func TestConfig_Validate(t *testing.T) {
	convey.Convey("Given a config without secrets", t, func() {
		cfg := config.New()

		convey.Convey("Then every missing secret is reported", func() {
			err := cfg.Validate()
			convey.So(errors.Is(err, config.ErrInvalidConfig), convey.ShouldBeTrue)
			for _, key := range []string{"slack_bot_token", "slack_signing_secret", "openai_api_key", "sheets_spreadsheet_id", "deel_client_id", "deel_client_secret"} {
				convey.So(err.Error(), convey.ShouldContainSubstring, key)
			}
		})

		convey.Convey("When every secret is present", func() {
			cfg.SlackBotToken = "xoxb-1"
			cfg.SlackSigningSecret = "sign"
			cfg.OpenAIAPIKey = "sk-1"
			cfg.SheetsSpreadsheetID = "sheet"
			cfg.SheetsCredentialsFile = "/tmp/creds.json"
			cfg.DeelClientID = "id"
			cfg.DeelClientSecret = "secret"

			convey.So(cfg.Validate(), convey.ShouldBeNil)
			convey.So(cfg.SealingSecret(), convey.ShouldEqual, "sign")

			convey.Convey("And the valkey ledger lacks an address", func() {
				cfg.LedgerDriver = config.LedgerValkey
				convey.So(cfg.Missing(), convey.ShouldResemble, []string{"ledger_valkey_addr"})
			})
		})
	})
}
