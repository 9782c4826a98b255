// sessiond runs the session reconciler against the local password provider and logs every
// reconciled identity, plus the route guard's decision for each -routes entry. SIGHUP re-reads
// the current session from the provider.
package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"go.uber.org/zap"

	"tutorhub/backend/internal/config"
	"tutorhub/backend/internal/platform/logging"
	policydomain "tutorhub/backend/internal/policy/domain"
	"tutorhub/backend/internal/policy/engine"
	"tutorhub/backend/internal/session/reconciler"
	"tutorhub/backend/internal/telemetry"
	teleotel "tutorhub/backend/internal/telemetry/otel"
)

func main() {
	email := flag.String("email", "", "sign in with this email after initialization")
	password := flag.String("password", "", "password for -email")
	policyFile := flag.String("policy", "", "Rego module replacing the built-in route guard rules")
	routes := flag.String("routes", "", `routes to guard, separated by ";" (e.g. "/admin?roles=admin;/groups?types=teacher,center")`)
	flag.Parse()

	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintln(os.Stderr, "config:", err)
		os.Exit(1)
	}
	logger, err := logging.New(logging.Config{
		ServiceName: cfg.OTelServiceName,
		Environment: cfg.Env,
		Level:       cfg.LogLevel,
	})
	if err != nil {
		fmt.Fprintln(os.Stderr, "logger:", err)
		os.Exit(1)
	}
	defer func() { _ = logger.Sync() }()

	guarded, err := parseRoutes(*routes)
	if err != nil {
		logger.Fatal("invalid -routes", zap.Error(err))
	}

	policy, err := loadPolicy(*policyFile)
	if err != nil {
		logger.Fatal("invalid -policy", zap.Error(err))
	}

	if err := run(cfg, logger, *email, *password, policy, guarded); err != nil {
		logger.Fatal("sessiond exited", zap.Error(err))
	}
}

func run(cfg *config.Config, logger *zap.Logger, email, password string, policy *policydomain.Policy, guarded []guardedRoute) error {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	providers, err := teleotel.NewProviders(ctx, teleotel.Options{
		Endpoint:    cfg.OTLPEndpoint,
		ServiceName: cfg.OTelServiceName,
		Insecure:    cfg.OTLPInsecure,
	}, logger)
	if err != nil {
		return fmt.Errorf("otel: %w", err)
	}
	providers.SetGlobal()
	defer func() {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		if err := providers.Shutdown(shutdownCtx); err != nil {
			logger.Warn("otel shutdown", zap.Error(err))
		}
	}()

	deps, err := newDependencies(ctx, cfg, logger, providers)
	if err != nil {
		return err
	}
	defer deps.Close()

	rec, err := reconciler.New(deps.provider, deps.lookup, reconciler.Options{
		ProviderTimeout:      cfg.ProviderTimeout(),
		ProfileLookupTimeout: cfg.ProfileLookupTimeout(),
		Logger:               logger,
		Emitter:              deps.emitter,
		MeterProvider:        providers.MeterProvider,
		TracerProvider:       providers.TracerProvider,
	})
	if err != nil {
		return fmt.Errorf("reconciler: %w", err)
	}

	guard, err := engine.NewOPAEvaluator(ctx, policy, logger)
	if err != nil {
		return fmt.Errorf("route guard: %w", err)
	}
	if err := guard.HealthCheck(ctx); err != nil {
		return fmt.Errorf("route guard health check: %w", err)
	}

	watchCtx, cancelWatch := context.WithCancel(ctx)
	watchDone := make(chan struct{})
	go func() {
		defer close(watchDone)
		for id := range rec.Watch(watchCtx) {
			logSnapshot(watchCtx, logger, guard, guarded, id)
		}
	}()

	initCtx, cancelInit := context.WithTimeout(ctx, cfg.ProviderTimeout()+cfg.ProfileLookupTimeout())
	err = rec.Initialize(initCtx)
	cancelInit()
	if err != nil {
		cancelWatch()
		rec.Dispose()
		<-watchDone
		return fmt.Errorf("initialize: %w", err)
	}
	logger.Info("session reconciler initialized", zap.String("state", rec.Snapshot().State().String()))

	hup := make(chan os.Signal, 1)
	signal.Notify(hup, syscall.SIGHUP)
	defer signal.Stop(hup)
	refreshDone := make(chan struct{})
	go func() {
		defer close(refreshDone)
		refreshOnSignal(ctx, hup, rec, logger)
	}()

	if email != "" {
		if _, err := deps.provider.SignInWithPassword(ctx, email, password); err != nil {
			logger.Warn("sign in failed", zap.String("email", email), zap.Error(err))
		}
	}

	<-ctx.Done()
	<-refreshDone
	logger.Info("shutting down session reconciler")
	cancelWatch()
	rec.Dispose()
	<-watchDone
	for _, issue := range rec.Issues() {
		logger.Debug("recorded issue", zap.Error(issue))
	}
	// Let in-flight async emits finish before the providers shut down.
	time.Sleep(telemetry.ShutdownDrainDuration)
	logger.Info("session reconciler stopped")
	return nil
}
