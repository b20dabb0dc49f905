package main

import (
	"context"
	"errors"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/shopspring/decimal"

	"github.com/savegress/bankrecon/internal/api"
	"github.com/savegress/bankrecon/internal/config"
	"github.com/savegress/bankrecon/internal/matching"
	"github.com/savegress/bankrecon/internal/store"
	"github.com/savegress/bankrecon/pkg/models"
)

func main() {
	log.Println("Starting BankRecon...")

	// Load configuration
	cfg := loadConfig()

	// Open storage
	st, err := store.Open(cfg.Storage.DataPath)
	if err != nil {
		log.Fatalf("Failed to open store: %v", err)
	}
	defer st.Close()

	// Seed the initial match config on first start
	if err := seedMatchConfig(context.Background(), st, cfg); err != nil {
		log.Fatalf("Failed to seed match config: %v", err)
	}

	// Initialize matching service
	matcher := matching.NewService(st, matching.Options{
		GraceDays:   cfg.Matching.GraceDays,
		Materialize: cfg.Matching.Materialize,
	})

	// Create API server
	server := api.NewServer(cfg, st, matcher)

	// Start HTTP server
	httpServer := &http.Server{
		Addr:         fmt.Sprintf(":%d", cfg.Server.Port),
		Handler:      server.Router(),
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	// Start server in goroutine
	go func() {
		log.Printf("BankRecon API listening on port %d", cfg.Server.Port)
		if err := httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatalf("HTTP server error: %v", err)
		}
	}()

	// Wait for shutdown signal
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	log.Println("Shutting down BankRecon...")

	// Graceful shutdown
	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer shutdownCancel()

	if err := httpServer.Shutdown(shutdownCtx); err != nil {
		log.Printf("HTTP server shutdown error: %v", err)
	}

	log.Println("BankRecon stopped")
}

func loadConfig() *config.Config {
	configPath := os.Getenv("BANKRECON_CONFIG")
	if configPath != "" {
		cfg, err := config.Load(configPath)
		if err != nil {
			log.Printf("Failed to load config from %s: %v, using defaults", configPath, err)
			return config.LoadFromEnv()
		}
		return cfg
	}
	return config.LoadFromEnv()
}

// seedMatchConfig makes sure matching can run on a fresh database by
// creating and activating a config built from the configured defaults.
func seedMatchConfig(ctx context.Context, st *store.Store, cfg *config.Config) error {
	_, err := st.ActiveMatchConfig(ctx)
	if err == nil {
		return nil
	}
	if !errors.Is(err, store.ErrNoActiveConfig) {
		return err
	}

	tolerance, err := decimal.NewFromString(cfg.Matching.DefaultValueTolerance)
	if err != nil {
		return fmt.Errorf("invalid default value tolerance %q: %w", cfg.Matching.DefaultValueTolerance, err)
	}

	seed := &models.MatchConfig{
		Name:                     "default",
		DateWeight:               cfg.Matching.DefaultDateWeight,
		ValueWeight:              cfg.Matching.DefaultValueWeight,
		DescriptionWeight:        cfg.Matching.DefaultDescriptionWeight,
		ValueTolerance:           tolerance,
		MinDescriptionSimilarity: cfg.Matching.DefaultMinDescriptionSimilarity,
		ExactThreshold:           cfg.Matching.DefaultExactThreshold,
		ProbableThreshold:        cfg.Matching.DefaultProbableThreshold,
	}
	if err := st.CreateMatchConfig(ctx, seed); err != nil {
		return err
	}
	if err := st.ActivateMatchConfig(ctx, seed.ID); err != nil {
		return err
	}
	log.Printf("Seeded default match config (id=%d)", seed.ID)
	return nil
}
