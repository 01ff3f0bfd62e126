package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"golang.org/x/sync/errgroup"

	"github.com/nexuscrm/approvals/internal/application/services"
	"github.com/nexuscrm/approvals/internal/config"
	"github.com/nexuscrm/approvals/internal/domain/events"
	"github.com/nexuscrm/approvals/internal/domain/ports"
	"github.com/nexuscrm/approvals/internal/infrastructure/database"
	"github.com/nexuscrm/approvals/internal/infrastructure/directory"
	"github.com/nexuscrm/approvals/internal/infrastructure/memory"
	"github.com/nexuscrm/approvals/internal/infrastructure/messaging"
	"github.com/nexuscrm/approvals/internal/infrastructure/metrics"
	"github.com/nexuscrm/approvals/internal/infrastructure/persistence"
	"github.com/nexuscrm/approvals/internal/interfaces/rest"
	"github.com/nexuscrm/approvals/pkg/auth"
	"github.com/nexuscrm/approvals/pkg/constants"
	"github.com/nexuscrm/approvals/pkg/logger"
)

// version is set at build time with -ldflags "-X main.version=..."
var version = "dev"

func main() {
	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintf(os.Stderr, "invalid configuration: %v\n", err)
		os.Exit(1)
	}

	logg := logger.New(logger.Config{
		Level:       cfg.LogLevel,
		Environment: cfg.Environment,
		ServiceName: constants.DefaultServiceName,
		Version:     version,
	})
	log.Logger = logg

	if err := run(cfg, logg); err != nil {
		logg.Fatal().Err(err).Msg("server exited with error")
	}
	logg.Info().Msg("server exiting")
}

func run(cfg *config.Config, logg zerolog.Logger) error {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	repos, closeStorage, err := openStorage(ctx, cfg, logg)
	if err != nil {
		return err
	}
	defer closeStorage()

	dir, err := loadDirectory(cfg)
	if err != nil {
		return err
	}

	var rules []services.PolicyRule
	if cfg.PolicyFile != "" {
		if rules, err = services.LoadPolicy(cfg.PolicyFile); err != nil {
			return err
		}
		logg.Info().Int("rules", len(rules)).Str("file", cfg.PolicyFile).Msg("validation policy loaded")
	}

	m := metrics.New()
	svcMgr, err := services.NewServiceManager(repos, dir, m, services.Options{
		DefaultTenant:      cfg.DefaultTenant,
		RejectPolicy:       cfg.RejectPolicy,
		AtRiskFraction:     cfg.SLAAtRiskFraction,
		ValidationDebounce: cfg.ValidationDebounce,
		SLAScanSchedule:    cfg.SLAScanSchedule,
		PolicyRules:        rules,
	}, logg)
	if err != nil {
		return err
	}
	logg.Info().Msg("service manager initialized")

	if cfg.NATSURL != "" {
		nc, err := messaging.Connect(cfg.NATSURL, logg)
		if err != nil {
			return err
		}
		defer nc.Drain()
		publisher := messaging.NewPublisher(nc, cfg.NATSSubjectPrefix, logg)
		detach := publisher.Attach(svcMgr.EventBus, events.Published()...)
		defer detach()
		logg.Info().Str("url", cfg.NATSURL).Str("prefix", cfg.NATSSubjectPrefix).Msg("forwarding events to NATS")
	}

	if cfg.IsProduction() {
		gin.SetMode(gin.ReleaseMode)
	}
	router := rest.NewRouter(rest.RouterConfig{
		Services: svcMgr,
		Tokens:   auth.NewTokenService(cfg.JWTSecret, cfg.JWTTTL),
		Logger:   logg,
	})

	srv := &http.Server{
		Addr:              "0.0.0.0:" + cfg.Port,
		Handler:           router,
		ReadHeaderTimeout: 10 * time.Second,
	}

	svcMgr.Start(cfg.OutboxInterval)
	logg.Info().Dur("outbox_interval", cfg.OutboxInterval).Str("sla_schedule", cfg.SLAScanSchedule).Msg("background workers started")

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		logg.Info().Str("addr", srv.Addr).Str("storage", cfg.Storage).Msg("approvals API listening")
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("failed to start server: %w", err)
		}
		return nil
	})
	g.Go(func() error {
		<-gctx.Done()
		logg.Info().Msg("shutting down server")

		svcMgr.Stop()
		logg.Info().Msg("background workers stopped")

		shutdownCtx, cancel := context.WithTimeout(context.Background(), constants.DefaultShutdownTimeout)
		defer cancel()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			return fmt.Errorf("server forced to shutdown: %w", err)
		}
		return nil
	})
	return g.Wait()
}

// openStorage returns the repositories of the configured backend and a closer.
func openStorage(ctx context.Context, cfg *config.Config, logg zerolog.Logger) (services.Repositories, func(), error) {
	if cfg.Storage == config.StorageMemory {
		logg.Warn().Msg("using in-memory storage, data is lost on restart")
		return services.Repositories{
			Definitions: memory.NewDefinitionRepository(),
			Instances:   memory.NewInstanceRepository(),
			Delegations: memory.NewDelegationRepository(),
			Audit:       memory.NewAuditRepository(),
			Outbox:      memory.NewOutboxRepository(),
			TxManager:   memory.NewTransactionManager(),
		}, func() {}, nil
	}

	conn, err := database.Connect(ctx, cfg.Database)
	if err != nil {
		return services.Repositories{}, nil, fmt.Errorf("failed to connect to database: %w", err)
	}
	logg.Info().Str("host", cfg.Database.Host).Str("database", cfg.Database.Database).Msg("database connection established")

	db := conn.DB()
	if err := persistence.EnsureSchema(ctx, db); err != nil {
		_ = conn.Close()
		return services.Repositories{}, nil, fmt.Errorf("failed to initialize schema: %w", err)
	}

	closer := func() {
		if err := conn.Close(); err != nil {
			logg.Warn().Err(err).Msg("failed to close database")
		}
	}
	return services.Repositories{
		Definitions: persistence.NewDefinitionRepository(db),
		Instances:   persistence.NewInstanceRepository(db),
		Delegations: persistence.NewDelegationRepository(db),
		Audit:       persistence.NewAuditRepository(db),
		Outbox:      persistence.NewOutboxRepository(db),
		TxManager:   persistence.NewTransactionManager(db),
	}, closer, nil
}

func loadDirectory(cfg *config.Config) (ports.Directory, error) {
	if cfg.DirectoryFile == "" {
		return directory.NewStatic(), nil
	}
	dir, err := directory.Load(cfg.DirectoryFile)
	if err != nil {
		return nil, fmt.Errorf("failed to load directory: %w", err)
	}
	return dir, nil
}
