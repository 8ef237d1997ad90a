package main

import (
	"context"
	"os"
	"os/signal"
	"strings"
	"sync"
	"syscall"
	"time"

	"github.com/liamashdown/insiderlens/internal/alerts"
	"github.com/liamashdown/insiderlens/internal/api"
	"github.com/liamashdown/insiderlens/internal/baseline"
	"github.com/liamashdown/insiderlens/internal/config"
	"github.com/liamashdown/insiderlens/internal/feedback"
	"github.com/liamashdown/insiderlens/internal/investigation"
	"github.com/liamashdown/insiderlens/internal/patterns"
	"github.com/liamashdown/insiderlens/internal/ratelimit"
	"github.com/liamashdown/insiderlens/internal/rings"
	"github.com/liamashdown/insiderlens/internal/scoring"
	"github.com/liamashdown/insiderlens/internal/secrets"
	"github.com/liamashdown/insiderlens/internal/storage"
	"github.com/liamashdown/insiderlens/internal/wallets"
	"github.com/sirupsen/logrus"
)

func main() {
	// Initialize logger
	log := logrus.New()
	log.SetFormatter(&logrus.JSONFormatter{})
	log.SetOutput(os.Stdout)
	log.SetLevel(logrus.InfoLevel)

	log.Info("Starting insiderlens service...")

	// Load configuration
	cfg, err := config.Load()
	if err != nil {
		log.WithError(err).Fatal("Failed to load configuration")
	}
	if level, err := logrus.ParseLevel(cfg.LogLevel); err == nil {
		log.SetLevel(level)
	} else {
		log.WithField("log_level", cfg.LogLevel).Warn("Unknown log level, using info")
	}

	log.WithFields(logrus.Fields{
		"environment":           cfg.Environment,
		"anomaly_threshold":     cfg.DiscoveryAnomalyThreshold,
		"probability_threshold": cfg.DiscoveryProbabilityThreshold,
		"scoring_workers":       cfg.ScoringWorkers,
		"alert_mode":            cfg.AlertMode,
		"discord_webhooks":      len(cfg.DiscordWebhookURLs),
		"database":              secrets.Mask(cfg.DatabaseDSN),
	}).Info("Configuration loaded")

	// Initialize database
	db, err := storage.New(cfg, log)
	if err != nil {
		log.WithError(err).Fatal("Failed to connect to database")
	}
	defer db.Close()

	log.Info("Database connected")

	if cfg.AutoMigrate {
		if err := db.AutoMigrate(); err != nil {
			log.WithError(err).Fatal("Failed to run database migrations")
		}
		log.Info("Database migrations complete")
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// Engines
	baselines := baseline.New(cfg, db, log)
	patternEngine := patterns.New(cfg, db, log)
	scorer := scoring.New(cfg, db, patternEngine, log)
	investigations := investigation.New(cfg, db, createAlertSender(cfg, log), log)
	loop := feedback.New(cfg, db, baselines, patternEngine, scorer, investigations, log)
	ringDetector := rings.New(db, log)
	recomputer := wallets.New(cfg, db, log)

	if cfg.SeedPatterns {
		if _, err := patternEngine.SeedPatterns(ctx); err != nil {
			log.WithError(err).Fatal("Failed to seed patterns")
		}
	}

	handler := api.NewHandler(api.Services{
		Baselines:     baselines,
		Scoring:       scorer,
		Patterns:      patternEngine,
		Investigation: investigations,
		Feedback:      loop,
		Rings:         ringDetector,
		Wallets:       recomputer,
	}, db, log)
	server := api.NewServer(handler, log, api.WithPort(cfg.HTTPPort))

	go func() {
		if err := server.Start(); err != nil {
			log.WithError(err).Error("HTTP server failed")
			cancel()
		}
	}()

	// Scheduled jobs
	var wg sync.WaitGroup
	schedule := func(name string, every time.Duration, job func(context.Context) error) {
		if every <= 0 {
			log.WithField("job", name).Info("Scheduled job disabled")
			return
		}
		wg.Add(1)
		go func() {
			defer wg.Done()
			ticker := time.NewTicker(every)
			defer ticker.Stop()
			for {
				select {
				case <-ticker.C:
					if err := job(ctx); err != nil {
						log.WithError(err).WithField("job", name).Error("Scheduled job failed")
					}
				case <-ctx.Done():
					return
				}
			}
		}()
	}

	schedule("baseline_update", time.Duration(cfg.BaselineUpdateIntervalMins)*time.Minute, func(ctx context.Context) error {
		_, err := baselines.UpdateBaselinesIncremental(ctx, nil, false)
		return err
	})
	schedule("feedback_loop", time.Duration(cfg.FeedbackIntervalHours)*time.Hour, func(ctx context.Context) error {
		_, err := loop.RunFeedbackLoop(ctx, feedback.Options{})
		return err
	})
	schedule("wallet_recompute", time.Duration(cfg.WalletRecomputeHours)*time.Hour, func(ctx context.Context) error {
		_, err := recomputer.Recompute(ctx)
		return err
	})

	// Wait for shutdown
	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)

	select {
	case sig := <-sigChan:
		log.WithField("signal", sig).Info("Received shutdown signal")
	case <-ctx.Done():
		log.Info("Context cancelled, shutting down")
	}
	cancel()

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer shutdownCancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		log.WithError(err).Error("HTTP server shutdown failed")
	}
	wg.Wait()

	log.Info("Graceful shutdown complete")
}

func createAlertSender(cfg *config.Config, log *logrus.Logger) alerts.Sender {
	// One limiter shared by every webhook keeps the process under the configured rate
	limiter := ratelimit.New(cfg.DiscordRPS)

	var senders []alerts.Sender
	for _, mode := range strings.Split(cfg.AlertMode, ",") {
		switch strings.TrimSpace(mode) {
		case "log":
			senders = append(senders, alerts.NewLogSender(log))
		case "discord":
			if len(cfg.DiscordWebhookURLs) == 0 {
				log.Warn("Discord mode specified but DISCORD_WEBHOOK_URLS not set")
				continue
			}
			for _, url := range cfg.DiscordWebhookURLs {
				senders = append(senders, alerts.NewDiscordSender(url, limiter))
			}
		default:
			log.WithField("mode", mode).Warn("Unknown alert mode, skipping")
		}
	}

	switch len(senders) {
	case 0:
		log.Warn("No valid alert senders configured, using log")
		return alerts.NewLogSender(log)
	case 1:
		return senders[0]
	default:
		return alerts.NewMultiSender(senders...)
	}
}
