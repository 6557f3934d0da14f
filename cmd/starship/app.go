package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/slack-go/slack"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/ghabxph/starship/internal/auth"
	"github.com/ghabxph/starship/internal/bot"
	"github.com/ghabxph/starship/internal/config"
	"github.com/ghabxph/starship/internal/database"
	"github.com/ghabxph/starship/internal/dispatch"
	"github.com/ghabxph/starship/internal/logging"
	"github.com/ghabxph/starship/internal/metrics"
	"github.com/ghabxph/starship/internal/notifications"
	"github.com/ghabxph/starship/internal/oauth"
	"github.com/ghabxph/starship/internal/repository"
	"github.com/ghabxph/starship/internal/slackapi"
	"github.com/ghabxph/starship/internal/summarize"
	"github.com/ghabxph/starship/internal/ticket"
	"github.com/ghabxph/starship/internal/version"
	"github.com/ghabxph/starship/internal/webhook"
)

const (
	transportHTTP   = "http"
	transportSocket = "socket"

	drainTimeout = 30 * time.Second
)

func run(parent context.Context, transport string) error {
	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("failed to load configuration: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return fmt.Errorf("invalid configuration: %w", err)
	}
	if transport == transportSocket && cfg.SlackAppToken == "" {
		return errors.New("SLACK_APP_TOKEN is required for socket mode")
	}

	logger, err := logging.New(cfg.LogLevel, cfg.LogFormat, cfg.EnableDebug)
	if err != nil {
		return fmt.Errorf("failed to create logger: %w", err)
	}
	defer logger.Sync()

	logger.Info("Starting Starship",
		zap.String("version", version.GetVersion()),
		zap.String("transport", transport),
		zap.String("store", cfg.StoreBackend))

	ctx, stop := signal.NotifyContext(parent, syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	store, health, err := openStore(ctx, cfg, logger)
	if err != nil {
		return err
	}
	defer store.Close()

	if cfg.WorkspacesFile != "" {
		n, err := repository.Seed(ctx, store, cfg.WorkspacesFile)
		if err != nil {
			return err
		}
		logger.Info("Seeded workspaces", zap.String("file", cfg.WorkspacesFile), zap.Int("count", n))
	}
	workspaces := repository.WithDefault(store, defaultWorkspace(cfg))

	httpClient := &http.Client{Timeout: cfg.HTTPClientTimeout}
	opts := []slack.Option{slack.OptionHTTPClient(httpClient), slack.OptionDebug(cfg.EnableDebug)}
	if cfg.SlackAppToken != "" {
		opts = append(opts, slack.OptionAppLevelToken(cfg.SlackAppToken))
	}
	api := slack.New(cfg.SlackBotToken, opts...)
	chat := slackapi.New(api, httpClient, cfg.RetryBackoff, logger)

	oauthManager := oauth.NewManager(oauth.Options{
		ClientID:          cfg.JiraClientID,
		ClientSecret:      cfg.JiraClientSecret,
		RedirectURI:       cfg.JiraRedirectURI,
		StateSecret:       cfg.OAuthStateSecret,
		DefaultProjectKey: cfg.JiraProjectKey,
		DefaultIssueType:  cfg.JiraIssueType,
	}, store, httpClient, cfg.RetryBackoff, logger)

	m := metrics.New()
	policy := auth.NewService(cfg, logger)

	// Deferred work outlives the request that triggered it
	runner := dispatch.NewRunner(context.Background(), cfg.DeferredTaskTimeout, logger, m)

	dispatcher := dispatch.New(dispatch.Deps{
		Chat:       chat,
		Summarizer: summarize.NewOpenAI(cfg.OpenAIAPIKey, cfg.OpenAIModel, cfg.OpenAIBaseURL, httpClient),
		Tickets:    ticket.NewFactory(oauthManager, httpClient, cfg.MondayAPIURL, cfg.RetryBackoff),
		Workspaces: workspaces,
		Onboarding: store,
		Policy:     policy,
		Metrics:    m,
		Logger:     logger,
	}, dispatch.Options{
		DefaultProjectKey: cfg.JiraProjectKey,
		DefaultIssueType:  cfg.JiraIssueType,
		AuthURL:           cfg.AuthStartURL,
	})

	service := bot.NewService(cfg, bot.Deps{
		Dispatcher: dispatcher,
		Runner:     runner,
		Verifier:   webhook.NewVerifier(cfg.SlackSigningSecret, cfg.SignatureTolerance),
		OAuth:      oauthManager,
		Metrics:    m,
		Health:     health,
		Identity:   chat,
		Cleaner:    policy,
		Stats:      policy,
	}, logger)

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		return service.Start(gctx)
	})
	if transport == transportSocket {
		socket := bot.NewSocketMode(api, cfg.EnableDebug, dispatcher, runner, logger)
		g.Go(func() error {
			if err := socket.Run(gctx); err != nil && !errors.Is(err, context.Canceled) {
				return fmt.Errorf("socket mode: %w", err)
			}
			return nil
		})
	}

	notifier := notifications.NewDeploymentNotifier(chat, cfg.NotificationChannels, logger)
	g.Go(func() error {
		if err := notifier.NotifyDeployment(gctx, transport, cfg.StoreBackend); err != nil {
			logger.Warn("Failed to send deployment notification", zap.Error(err))
		}
		return nil
	})

	err = g.Wait()

	drainCtx, cancel := context.WithTimeout(context.Background(), drainTimeout)
	defer cancel()
	if werr := runner.Wait(drainCtx); werr != nil {
		logger.Warn("Deferred tasks still running at shutdown", zap.Error(werr))
	}
	logger.Info("Starship stopped")
	return err
}

// openStore returns the configured backend and, when it has one, its
// health check
func openStore(ctx context.Context, cfg *config.Config, logger *zap.Logger) (repository.Store, bot.HealthChecker, error) {
	switch cfg.StoreBackend {
	case config.StorePostgres:
		db, err := database.NewDatabase(&cfg.Database, logger)
		if err != nil {
			return nil, nil, fmt.Errorf("failed to connect to database: %w", err)
		}
		if err := db.RunMigrations(ctx); err != nil {
			db.Close()
			return nil, nil, fmt.Errorf("failed to run migrations: %w", err)
		}
		return repository.NewPostgresStore(db, logger), db, nil

	case config.StoreSQLite:
		db, err := database.OpenSQLite(ctx, cfg.SQLitePath, logger)
		if err != nil {
			return nil, nil, err
		}
		if err := db.RunMigrations(ctx); err != nil {
			db.Close()
			return nil, nil, fmt.Errorf("failed to run migrations: %w", err)
		}
		return repository.NewSQLiteStore(db, logger), db, nil

	case config.StoreRedis:
		store, err := repository.OpenRedis(ctx, cfg.RedisURL, logger)
		if err != nil {
			return nil, nil, err
		}
		return store, store, nil

	default:
		logger.Warn("Using in-memory store; workspaces are lost on restart")
		return repository.NewMemoryStore(), nil, nil
	}
}

// defaultWorkspace builds the fallback workspace from environment
// credentials. Jira wins when both are set.
func defaultWorkspace(cfg *config.Config) *repository.Workspace {
	switch {
	case cfg.HasDefaultJira():
		return &repository.Workspace{
			Provider:          repository.ProviderJira,
			JiraSiteURL:       cfg.JiraBaseURL,
			JiraEmail:         cfg.JiraEmail,
			JiraAPIToken:      cfg.JiraAPIToken,
			DefaultProjectKey: cfg.JiraProjectKey,
			DefaultIssueType:  cfg.JiraIssueType,
		}
	case cfg.HasDefaultMonday():
		return &repository.Workspace{
			Provider:           repository.ProviderMonday,
			MondayAPIToken:     cfg.MondayAPIToken,
			MondayBoardID:      cfg.MondayBoardID,
			MondayPeopleColumn: cfg.MondayColumn,
		}
	default:
		return nil
	}
}
