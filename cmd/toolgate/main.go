package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/toolgate-io/toolgate/internal/audit"
	"github.com/toolgate-io/toolgate/internal/auth"
	"github.com/toolgate-io/toolgate/internal/config"
	"github.com/toolgate-io/toolgate/internal/gateway"
	"github.com/toolgate-io/toolgate/internal/policy"
	"github.com/toolgate-io/toolgate/internal/redact"
	"github.com/toolgate-io/toolgate/internal/reliability"
	"github.com/toolgate-io/toolgate/internal/server"
)

func main() {
	settings := config.FromEnv()
	setupLogger(settings.LogLevel)

	log.Info().Msg("starting toolgate")

	ctx, cancel := setupSignalHandler()
	defer cancel()

	if err := run(ctx, settings); err != nil {
		log.Fatal().Err(err).Msg("application error")
	}

	log.Info().Msg("toolgate stopped successfully")
}

func run(ctx context.Context, settings config.Settings) error {
	auditStore, err := initAuditStore(settings.DBPath)
	if err != nil {
		return err
	}
	defer func() {
		if err := auditStore.Close(); err != nil {
			log.Warn().Err(err).Msg("failed to close audit store")
		}
	}()

	pf, err := config.LoadPolicyFile(settings.PolicyPath)
	if err != nil {
		return err
	}
	log.Info().
		Str("path", settings.PolicyPath).
		Int("servers", len(pf.Servers)).
		Msg("policy file loaded")

	checker := policy.NewChecker(pf.SandboxRoot, pf.Policies(), policy.NewConsentStore())

	watcher, err := config.NewPolicyWatcher(settings.PolicyPath, func(updated *config.PolicyFile) {
		checker.ReplacePolicies(updated.Policies())
	})
	if err != nil {
		return err
	}
	defer func() {
		if err := watcher.Close(); err != nil {
			log.Warn().Err(err).Msg("failed to close policy watcher")
		}
	}()

	manager := gateway.NewSecureManager(
		checker,
		gateway.NewHTTPExecutor(pf.Upstreams()),
		redact.New(pf.Redaction),
		&gateway.Registries{
			Breakers: reliability.NewBreakerRegistry(pf.BreakerConfig()),
			Gates:    reliability.NewGateRegistry(pf.GateConfig(), pf.GateOverrides()),
			Caches:   reliability.NewCacheRegistry(pf.CacheConfig()),
		},
		gateway.ManagerConfig{
			CallTimeout: pf.CallTimeout(),
			Retry:       pf.RetryPolicy(),
		},
	)

	authManager := auth.NewManager(auth.Config{
		JWTSecret:       settings.JWTSecret,
		TokenExpiration: 24 * time.Hour,
		RequireAuth:     settings.RequireAuth,
	})

	srv := server.New(server.ConfigFromSettings(settings), manager, auditStore, authManager)

	return runServer(ctx, srv)
}

func setupLogger(levelName string) {
	zerolog.TimeFieldFormat = zerolog.TimeFormatUnix
	log.Logger = log.Output(zerolog.ConsoleWriter{Out: os.Stderr, TimeFormat: time.RFC3339})

	level, err := zerolog.ParseLevel(levelName)
	if err != nil {
		level = zerolog.InfoLevel
	}
	zerolog.SetGlobalLevel(level)
}

func setupSignalHandler() (context.Context, context.CancelFunc) {
	ctx, cancel := context.WithCancel(context.Background())

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM, syscall.SIGQUIT)

	go func() {
		sig := <-sigChan
		log.Info().Str("signal", sig.String()).Msg("shutdown signal received")
		cancel()
	}()

	return ctx, cancel
}

func initAuditStore(dbPath string) (audit.Store, error) {
	log.Info().Str("path", dbPath).Msg("initializing audit store")

	store, err := audit.NewSQLiteStore(dbPath)
	if err != nil {
		return nil, err
	}

	log.Info().Msg("audit store initialized")
	return store, nil
}

func runServer(ctx context.Context, srv *server.Server) error {
	errChan := make(chan error, 1)

	go func() {
		if err := srv.Start(); err != nil {
			errChan <- err
		}
	}()

	select {
	case err := <-errChan:
		return err
	case <-ctx.Done():
		return srv.Shutdown(context.Background())
	}
}
