// Command hirebot runs the Slack hiring bot and its operator tools.
package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/Dan-Hightower/hirebot/internal/config"
	"github.com/Dan-Hightower/hirebot/pkg/logger"
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	err := newRootCmd().ExecuteContext(ctx)
	stop()
	if err != nil {
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	root := &cobra.Command{
		Use:   "hirebot",
		Short: "Slack bot that turns /hire commands into logged, onboarded hires",
		Long: `hirebot listens for /hire slash commands, asks the hiring manager to
confirm what it understood, logs confirmed hires to a spreadsheet, DMs the
new hire an onboarding form and creates their payroll candidate profile.

Configuration comes from defaults, .env, the YAML file named by
HIREBOT_CONFIG, the legacy variable names (SLACK_BOT_TOKEN, PORT, ...) and
HIREBOT_* variables, in that order.`,
		SilenceUsage: true,
		RunE:         runServe,
	}
	root.AddCommand(newServeCmd(), newParseCmd(), newCheckCmd(), newSmokeCmd())
	return root
}

// setup loads configuration and initializes the global logger from it.
func setup(ctx context.Context) (*config.Config, error) {
	cfg, err := config.Load(ctx)
	if err != nil {
		fmt.Fprintln(os.Stderr, "failed to load config:", err)
		return nil, err
	}
	if err := logger.Init(logger.WithJSON(cfg.LogJSON), logger.WithFile(cfg.LogFile)); err != nil {
		fmt.Fprintln(os.Stderr, "failed to initialize logging:", err)
		return nil, err
	}
	if err := logger.SetLevelString(cfg.LogLevel); err != nil {
		logger.Get().Warn(ctx, "invalid log_level; falling back to info", logger.String("log_level", cfg.LogLevel), logger.Error(err))
		_ = logger.SetLevelString("info")
	}
	return cfg, nil
}
