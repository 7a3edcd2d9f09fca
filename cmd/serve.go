package main

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"github.com/Dan-Hightower/hirebot/internal/adapters/chat"
	"github.com/Dan-Hightower/hirebot/internal/adapters/deel"
	"github.com/Dan-Hightower/hirebot/internal/adapters/http/api"
	"github.com/Dan-Hightower/hirebot/internal/adapters/http/swagger"
	"github.com/Dan-Hightower/hirebot/internal/adapters/llm"
	"github.com/Dan-Hightower/hirebot/internal/adapters/repository"
	"github.com/Dan-Hightower/hirebot/internal/adapters/sheets"
	service "github.com/Dan-Hightower/hirebot/internal/app"
	"github.com/Dan-Hightower/hirebot/internal/config"
	"github.com/Dan-Hightower/hirebot/internal/domain/resume"
	"github.com/Dan-Hightower/hirebot/pkg/logger"
	"github.com/Dan-Hightower/hirebot/pkg/retry"
)

// HTTP server timeout constants.
const (
	readTimeout       = 10 * time.Second
	writeTimeout      = 10 * time.Second
	idleTimeout       = 60 * time.Second
	readHeaderTimeout = 5 * time.Second
	shutdownTimeout   = 30 * time.Second
)

func newServeCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Run the bot's HTTP server (default)",
		Args:  cobra.NoArgs,
		RunE:  runServe,
	}
}

func runServe(cmd *cobra.Command, _ []string) error {
	ctx := cmd.Context()
	cfg, err := setup(ctx)
	if err != nil {
		return err
	}
	defer func() { _ = logger.Sync() }()
	log := logger.Get()

	if err := cfg.Validate(); err != nil {
		log.Error(ctx, "configuration incomplete", logger.Error(err))
		return err
	}

	ledger, err := repository.Open(ctx, repository.Config{
		Driver:     cfg.LedgerDriver,
		DSN:        cfg.LedgerDSN,
		ValkeyAddr: cfg.LedgerValkeyAddr,
	})
	if err != nil {
		log.Error(ctx, "failed to open ledger", logger.String("driver", cfg.LedgerDriver), logger.Error(err))
		return err
	}
	defer func() {
		if err := ledger.Close(); err != nil {
			log.Warn(ctx, "ledger close failed", logger.Error(err))
		}
	}()

	deps, err := buildAdapters(ctx, cfg)
	if err != nil {
		log.Error(ctx, "failed to build adapters", logger.Error(err))
		return err
	}

	svc := service.New(
		service.WithLogger(logger.Named("workflow")),
		service.WithWorkerCount(cfg.WorkerCount),
		service.WithQueueSize(cfg.QueueSize),
		service.WithDedupeSize(cfg.DedupeSize),
		service.WithJobTimeout(cfg.JobTimeout),
		service.WithTotalShares(cfg.TotalShares),
		service.WithParser(deps.parser),
		service.WithRecordStore(deps.records),
		service.WithProvisioner(deps.provisioner),
		service.WithMessenger(deps.messenger),
		service.WithLedger(ledger),
		service.WithSealer(resume.NewSealer(cfg.SealingSecret())),
	)
	if err := svc.Start(ctx); err != nil {
		log.Error(ctx, "failed to start service", logger.Error(err))
		return err
	}

	mux := http.NewServeMux()
	swagger.Register(ctx, mux, "")
	api.NewServer(api.Config{SigningSecret: cfg.SlackSigningSecret, Command: cfg.SlackCommand}, svc, svc, logger.Named("http")).
		Register(ctx, mux)

	srv := &http.Server{
		Addr:              cfg.Addr,
		Handler:           mux,
		ReadTimeout:       readTimeout,
		WriteTimeout:      writeTimeout,
		IdleTimeout:       idleTimeout,
		ReadHeaderTimeout: readHeaderTimeout,
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		log.Info(gctx, "starting HTTP server", logger.String("addr", cfg.Addr), logger.String("ledger", cfg.LedgerDriver))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})
	g.Go(func() error {
		<-gctx.Done()
		log.Info(context.WithoutCancel(gctx), "shutting down server...")
		shutdownCtx, cancel := context.WithTimeout(context.WithoutCancel(gctx), shutdownTimeout)
		defer cancel()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			log.Error(shutdownCtx, "server shutdown failed", logger.Error(err))
		}
		if err := svc.Stop(shutdownCtx); err != nil {
			log.Error(shutdownCtx, "service stop failed", logger.Error(err))
		}
		return nil
	})
	g.Go(func() error {
		runMetricsUpdaters(gctx, svc)
		return nil
	})

	err = g.Wait()
	log.Info(context.WithoutCancel(ctx), "server stopped")
	return err
}

// adapters bundles the workflow's collaborators.
type adapters struct {
	parser      *llm.Client
	records     *sheets.Store
	provisioner *deel.Client
	messenger   *chat.Client
}

func buildAdapters(ctx context.Context, cfg *config.Config) (*adapters, error) {
	records, err := sheets.New(ctx, sheets.Config{
		SpreadsheetID:   cfg.SheetsSpreadsheetID,
		SheetName:       cfg.SheetsSheetName,
		CredentialsJSON: cfg.SheetsCredentialsJSON,
		CredentialsFile: cfg.SheetsCredentialsFile,
		Endpoint:        cfg.SheetsEndpoint,
		CallTimeout:     cfg.CallTimeout,
		Retry:           retry.Policy{MaxAttempts: cfg.SheetsMaxAttempts, BaseDelay: time.Second, MaxDelay: 10 * time.Second},
	}, logger.Named("sheets"))
	if err != nil {
		return nil, err
	}

	provisioner, err := deel.New(deel.Config{
		ClientID:     cfg.DeelClientID,
		ClientSecret: cfg.DeelClientSecret,
		APIBase:      cfg.DeelAPIBase,
		AuthBase:     cfg.DeelAuthBase,
		TokenMargin:  cfg.DeelTokenMargin,
		CallTimeout:  cfg.CallTimeout,
		Country:      cfg.DeelCountry,
		LinkBase:     cfg.DeelCandidateLinkBase,
		Retry:        retry.Policy{MaxAttempts: cfg.DeelMaxAttempts, BaseDelay: cfg.DeelBaseDelay, MaxDelay: 30 * time.Second},
	}, logger.Named("deel"))
	if err != nil {
		return nil, err
	}

	return &adapters{
		parser:      newParser(cfg),
		records:     records,
		provisioner: provisioner,
		messenger: chat.New(chat.Config{
			Token:        cfg.SlackBotToken,
			APIURL:       cfg.SlackAPIURL,
			DirectoryTTL: cfg.SlackDirectoryTTL,
			CallTimeout:  cfg.CallTimeout,
			Retry:        retry.Policy{MaxAttempts: cfg.SlackMaxAttempts, BaseDelay: time.Second, MaxDelay: 10 * time.Second},
		}, logger.Named("slack")),
	}, nil
}

func newParser(cfg *config.Config) *llm.Client {
	return llm.New(llm.Config{
		APIKey:      cfg.OpenAIAPIKey,
		Model:       cfg.OpenAIModel,
		BaseURL:     cfg.OpenAIBaseURL,
		Temperature: cfg.OpenAITemperature,
		CallTimeout: cfg.CallTimeout,
		Rules:       llm.Rules{TotalShares: cfg.TotalShares, AllowFutureYears: cfg.AllowFutureYears},
	}, logger.Named("llm"))
}
