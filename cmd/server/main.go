package main

import (
	"context"
	"net"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/rs/zerolog"

	"github.com/stemsi/gradedesk/internal/config"
	"github.com/stemsi/gradedesk/internal/database"
	"github.com/stemsi/gradedesk/internal/handler"
	"github.com/stemsi/gradedesk/internal/logger"
	"github.com/stemsi/gradedesk/internal/middleware"
	"github.com/stemsi/gradedesk/internal/router"
	"github.com/stemsi/gradedesk/internal/validator"
)

func main() {
	// ─── Load Configuration ────────────────────────────────────────────
	cfg := config.Load()

	// ─── Initialize Logger ─────────────────────────────────────────────
	log := logger.Setup(cfg.LogLevel, cfg.LogFormat)
	log.Info().
		Str("port", cfg.ServerPort).
		Str("mode", cfg.GinMode).
		Str("log_level", cfg.LogLevel).
		Str("grades_api", cfg.GradesAPIURL).
		Msg("Starting Gradedesk")

	// ─── Initialize Validator ──────────────────────────────────────────
	validator.Setup()

	policy, err := validator.NewGradePolicy(cfg.GradeMin, cfg.GradeMax, cfg.GradeDecimals, cfg.GradeTokens)
	if err != nil {
		log.Fatal().Err(err).Msg("Invalid grade policy")
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// ─── Connect to Redis (optional) ───────────────────────────────────
	rdb, err := database.NewRedisClient(ctx, cfg, log)
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to connect to Redis")
	}
	if rdb != nil {
		defer rdb.Close()
	}

	// ─── Initialize Handlers ──────────────────────────────────────────
	wsHandler := handler.NewWSHandler(rdb, cfg, policy, log)
	handlers := &router.Handlers{
		WS:     wsHandler,
		Grade:  handler.NewGradeHandler(policy, log),
		System: handler.NewSystemHandler(rdb, wsHandler, log),
	}

	// ─── Start Background Workers ─────────────────────────────────────
	connectLimiter := middleware.NewRateLimiter(cfg.WSConnectRPS, cfg.WSConnectBurst)
	go connectLimiter.Start(ctx)

	// ─── Setup Router ──────────────────────────────────────────────────
	r := router.SetupRouter(handlers, connectLimiter, cfg)

	// ─── Create HTTP Server ────────────────────────────────────────────
	// Every request context derives from ctx, so cancelling it closes the
	// gradebook sockets.
	srv := &http.Server{
		Addr:              ":" + cfg.ServerPort,
		Handler:           r,
		ReadHeaderTimeout: 10 * time.Second,
		BaseContext:       func(net.Listener) context.Context { return ctx },
	}

	// ─── Start Server in Goroutine ─────────────────────────────────────
	go func() {
		log.Info().Str("addr", ":"+cfg.ServerPort).Msg("Server listening")
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatal().Err(err).Msg("Server error")
		}
	}()

	// ─── Graceful Shutdown ─────────────────────────────────────────────
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	sig := <-quit

	log.Info().Str("signal", sig.String()).Msg("Shutting down gracefully...")

	// 1. Stop accepting new HTTP requests (5s timeout).
	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer shutdownCancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Error().Err(err).Msg("HTTP server shutdown error")
	}

	// 2. Close open gradebooks; in-flight saves are abandoned.
	cancel()
	deadline := time.Now().Add(2 * time.Second)
	for wsHandler.Stats().ActiveConnections > 0 && time.Now().Before(deadline) {
		time.Sleep(50 * time.Millisecond)
	}

	log.Info().Msg("Shutdown complete")
}

// init sets zerolog global defaults before main runs.
func init() {
	zerolog.TimeFieldFormat = time.RFC3339
}
