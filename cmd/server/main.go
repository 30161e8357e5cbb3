package main

import (
	"context"
	"encoding/hex"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/rs/zerolog"

	httpapi "github.com/rolewarden/rolewarden/internal/api/http"
	"github.com/rolewarden/rolewarden/internal/application/audit"
	"github.com/rolewarden/rolewarden/internal/application/vote"
	"github.com/rolewarden/rolewarden/internal/config"
	"github.com/rolewarden/rolewarden/internal/infrastructure/notify"
	"github.com/rolewarden/rolewarden/internal/infrastructure/postgres"
	"github.com/rolewarden/rolewarden/internal/infrastructure/roster"
	"github.com/rolewarden/rolewarden/internal/infrastructure/sse"
	"github.com/rolewarden/rolewarden/internal/infrastructure/timer"
)

func main() {
	logger := zerolog.New(os.Stdout).With().Timestamp().Logger()

	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("config error: %v", err)
	}

	ctx := context.Background()
	pool, err := postgres.NewPool(ctx, cfg.DatabaseURL, cfg.DBMaxConns)
	if err != nil {
		log.Fatalf("db error: %v", err)
	}
	defer pool.Close()

	if err := postgres.RunMigrations(ctx, pool, cfg.MigrationsDir); err != nil {
		log.Fatalf("migration error: %v", err)
	}

	// repositories
	sessionRepo := postgres.NewSessionRepository(pool)
	ballotRepo := postgres.NewBallotRepository(pool)
	auditRepo := postgres.NewAuditRepository(pool)
	grantRepo := postgres.NewGrantRepository(pool)

	// infrastructure
	sseHub := sse.NewHub()
	sched := timer.NewScheduler(logger)
	renderer := notify.NewSSERenderer(sseHub, logger)
	privilege := roster.NewStatic(cfg.PrivilegedActors)

	// services
	auditSvc := audit.NewService(auditRepo, logger, loadHexKey(cfg.AuditSigningKey))
	voteSvc := vote.NewService(sessionRepo, ballotRepo, sched, renderer, grantRepo, privilege, auditSvc, logger)

	// rebuild timers for sessions that were open before the restart;
	// past deadlines resolve immediately
	if err := voteSvc.Recover(ctx); err != nil {
		log.Fatalf("recovery error: %v", err)
	}

	// API server
	apiServer := httpapi.NewServer(voteSvc, auditSvc, sseHub, cfg.APITokenHash, cfg.DefaultPolicy, cfg.VoteDuration)

	httpServer := &http.Server{
		Addr:         cfg.ServerAddr,
		Handler:      apiServer.Router(),
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 30 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	// background loops
	go func() {
		ticker := time.NewTicker(cfg.ReconcileInterval)
		defer ticker.Stop()
		for range ticker.C {
			if n, err := voteSvc.ReconcileConsequences(context.Background()); err != nil {
				logger.Warn().Err(err).Msg("consequence reconciliation failed")
			} else if n > 0 {
				logger.Info().Int("retried", n).Msg("consequences reconciled")
			}
		}
	}()

	// start server
	go func() {
		logger.Info().Str("addr", cfg.ServerAddr).Msg("http server started")
		if err := httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Fatal().Err(err).Msg("http server failed")
		}
	}()

	// graceful shutdown
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit
	voteSvc.Shutdown()
	sseHub.Shutdown()
	ctxShutdown, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	_ = httpServer.Shutdown(ctxShutdown)
}

func loadHexKey(hexStr string) []byte {
	if hexStr == "" {
		return nil
	}
	b, err := hex.DecodeString(hexStr)
	if err != nil {
		return nil
	}
	return b
}
