package main

import (
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"github.com/Dan-Hightower/hirebot/internal/smoke"
	"github.com/Dan-Hightower/hirebot/pkg/logger"
)

// errCheckFailed is returned when any dependency check fails.
var errCheckFailed = errors.New("dependency check failed")

func newParseCmd() *cobra.Command {
	return &cobra.Command{
		Use:   `parse "<hire text>"`,
		Short: "Parse hire text with the configured model and print the record",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			cfg, err := setup(ctx)
			if err != nil {
				return err
			}
			if cfg.OpenAIAPIKey == "" {
				return fmt.Errorf("openai_api_key is not set")
			}
			rec, err := newParser(cfg).Parse(ctx, strings.Join(args, " "))
			if err != nil {
				return err
			}
			enc := json.NewEncoder(cmd.OutOrStdout())
			enc.SetIndent("", "  ")
			return enc.Encode(rec)
		},
	}
}

func newCheckCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "check",
		Short: "Verify Slack, spreadsheet and payroll credentials",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			ctx := cmd.Context()
			cfg, err := setup(ctx)
			if err != nil {
				return err
			}
			if err := cfg.Validate(); err != nil {
				return err
			}
			deps, err := buildAdapters(ctx, cfg)
			if err != nil {
				return err
			}

			out := cmd.OutOrStdout()
			failed := false
			report := func(name, detail string, err error) {
				if err != nil {
					failed = true
					fmt.Fprintf(out, "FAIL %-7s %v\n", name, err)
					return
				}
				fmt.Fprintf(out, "ok   %-7s %s\n", name, detail)
			}

			user, err := deps.messenger.Check(ctx)
			report("slack", "authenticated as "+user, err)
			title, err := deps.records.Check(ctx)
			report("sheets", "spreadsheet "+title+", header ok", err)
			report("deel", "token issued", deps.provisioner.Check(ctx))

			if failed {
				return errCheckFailed
			}
			return nil
		},
	}
}

func newSmokeCmd() *cobra.Command {
	var sc smoke.Config
	cmd := &cobra.Command{
		Use:   "smoke",
		Short: "Send signed synthetic /hire commands to a running bot",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			ctx := cmd.Context()
			cfg, err := setup(ctx)
			if err != nil {
				return err
			}
			if sc.SigningSecret == "" {
				sc.SigningSecret = cfg.SlackSigningSecret
			}
			if sc.Command == "" {
				sc.Command = cfg.SlackCommand
			}
			rep, err := smoke.Run(ctx, sc, logger.Named("smoke"))
			fmt.Fprintln(cmd.OutOrStdout(), rep.String())
			if err != nil {
				return err
			}
			if !rep.OK() {
				return fmt.Errorf("smoke run incomplete: %s", rep.String())
			}
			return nil
		},
	}
	f := cmd.Flags()
	f.StringVar(&sc.BaseURL, "url", "http://localhost:3000", "base URL of the running bot")
	f.StringVar(&sc.SigningSecret, "secret", "", "signing secret (defaults to slack_signing_secret)")
	f.StringVar(&sc.Text, "text", "", "hire text to send")
	f.StringVar(&sc.ChannelID, "channel", "", "channel id placed in the command")
	f.StringVar(&sc.UserID, "user", "", "user id placed in the command")
	f.StringVar(&sc.ResponseURL, "response-url", "", "response_url placed in the command")
	f.IntVar(&sc.Requests, "requests", 1, "number of commands to send")
	f.IntVar(&sc.Workers, "workers", 4, "concurrent senders")
	f.DurationVar(&sc.Timeout, "timeout", 10*time.Second, "per request timeout")
	return cmd
}
