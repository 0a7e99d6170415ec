package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/joho/godotenv"

	"github.com/intermernet/runtracker/internal/api"
	"github.com/intermernet/runtracker/internal/config"
	"github.com/intermernet/runtracker/internal/database"
	"github.com/intermernet/runtracker/internal/email"
	"github.com/intermernet/runtracker/internal/logging"
	"github.com/intermernet/runtracker/internal/tracking"
)

func main() {
	// --- 1. Load Configuration ---
	// A .env file is optional; real environment variables win over it.
	envErr := godotenv.Load()

	cfg, err := config.New()
	if err != nil {
		logging.Fatal().Err(err).Msg("failed to load configuration")
	}

	logging.Init(logging.Config{
		Level:     cfg.Logging.Level,
		Format:    cfg.Logging.Format,
		Caller:    cfg.Logging.Caller,
		Timestamp: true,
		Output:    os.Stderr,
	})
	if envErr != nil {
		logging.Info().Msg("no .env file found, using system environment")
	}

	// --- 2. Database ---
	if err := os.MkdirAll(filepath.Dir(cfg.Database.Path), 0o755); err != nil {
		logging.Fatal().Err(err).Str("path", cfg.Database.Path).Msg("failed to create database directory")
	}
	dbService, err := database.NewService(cfg.Database.Path)
	if err != nil {
		logging.Fatal().Err(err).Msg("failed to open database")
	}
	defer dbService.Close()

	if err := dbService.InitMainDB(); err != nil {
		logging.Fatal().Err(err).Msg("failed to initialize database schema")
	}
	logging.Info().Str("path", cfg.Database.Path).Msg("database ready")

	// --- 3. Domain services ---
	// A nil interface, not a nil *EmailService, disables notifications.
	var notifier tracking.Notifier
	if cfg.SMTPEnabled() {
		notifier = email.NewEmailService(email.SMTPServerConfig{
			Host:     cfg.SMTP.Host,
			Port:     cfg.SMTP.Port,
			Username: cfg.SMTP.User,
			Password: cfg.SMTP.Pass,
			Sender:   cfg.SMTP.Sender,
		})
		logging.Info().Str("host", cfg.SMTP.Host).Msg("challenge notifications enabled")
	}
	tracker := tracking.NewService(dbService, notifier)

	// --- 4. HTTP ---
	serverAPI := api.NewServer(cfg, dbService, tracker)
	router := chi.NewRouter()
	serverAPI.RegisterRoutes(router)

	srv := &http.Server{
		Addr:              cfg.Server.Addr,
		Handler:           router,
		ReadHeaderTimeout: 10 * time.Second,
		ReadTimeout:       60 * time.Second,
		WriteTimeout:      60 * time.Second,
		IdleTimeout:       120 * time.Second,
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	go func() {
		logging.Info().Str("addr", cfg.Server.Addr).Bool("google_login", cfg.GoogleEnabled()).Msg("runtracker server starting")
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logging.Fatal().Err(err).Msg("server failed")
		}
	}()

	<-ctx.Done()
	logging.Info().Msg("shutting down")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		logging.Error().Err(err).Msg("graceful shutdown failed")
	}
}
