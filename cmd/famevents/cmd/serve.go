package cmd

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/robfig/cron/v3"
	"github.com/spf13/cobra"

	"github.com/dukerupert/famevents/internal/auth"
	"github.com/dukerupert/famevents/internal/backup"
	"github.com/dukerupert/famevents/internal/config"
	"github.com/dukerupert/famevents/internal/database"
	"github.com/dukerupert/famevents/internal/notify"
	"github.com/dukerupert/famevents/internal/server"
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the HTTP API",
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, logger, err := loadConfig()
		if err != nil {
			return err
		}
		return serve(cfg, logger)
	},
}

func serve(cfg config.Config, logger *slog.Logger) error {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	db, err := database.Open(cfg.DBPath)
	if err != nil {
		return fmt.Errorf("open database: %w", err)
	}
	defer db.Close()

	publishers, closers, err := externalPublishers(ctx, cfg, logger)
	if err != nil {
		return err
	}
	defer func() {
		for _, c := range closers {
			if err := c(); err != nil {
				logger.Warn("close publisher", "error", err)
			}
		}
	}()

	srv := server.New(db, server.Config{
		Policy:         cfg.Events.Policy(),
		Tokens:         auth.NewTokens(cfg.JWTSecret, cfg.TokenTTL, cfg.JWTIssuer),
		WriteRateLimit: cfg.WriteRateLimit,
		Publishers:     publishers,
	}, logger)

	go srv.RateLimiter().RunCleanup(ctx, time.Minute)

	c := cron.New()
	if cfg.SyncSchedule != "" {
		_, err := c.AddFunc(cfg.SyncSchedule, func() {
			if err := srv.Events().SyncExternalCalendars(ctx); err != nil {
				logger.Error("calendar sync", "error", err)
			}
		})
		if err != nil {
			return fmt.Errorf("schedule calendar sync: %w", err)
		}
		logger.Info("calendar sync scheduled", "schedule", cfg.SyncSchedule)
	}
	if cfg.Backup.Schedule != "" {
		backups := backup.NewManager(db, cfg.Backup.Manager(), logger.With("component", "backup"))
		_, err := c.AddFunc(cfg.Backup.Schedule, func() {
			if _, err := backups.Run(ctx); err != nil {
				logger.Error("scheduled backup", "error", err)
			}
		})
		if err != nil {
			return fmt.Errorf("schedule backup: %w", err)
		}
		logger.Info("backups scheduled", "schedule", cfg.Backup.Schedule, "s3", cfg.Backup.S3.Enabled())
	}
	c.Start()
	defer c.Stop()

	httpServer := &http.Server{
		Addr:         ":" + cfg.Port,
		Handler:      srv.Router(),
		ReadTimeout:  5 * time.Second,
		WriteTimeout: 10 * time.Second,
		IdleTimeout:  120 * time.Second,
	}

	errc := make(chan error, 1)
	go func() {
		logger.Info("famevents listening", "addr", httpServer.Addr,
			"max_events_per_family", cfg.Events.MaxEventsPerFamily,
			"recurrence", cfg.Events.EnableRecurrence,
			"cross_user_events", cfg.Events.AllowCrossUserEvents)
		if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errc <- err
		}
		close(errc)
	}()

	select {
	case err := <-errc:
		if err != nil {
			return fmt.Errorf("server error: %w", err)
		}
	case <-ctx.Done():
	}

	logger.Info("shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := httpServer.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("shutdown: %w", err)
	}
	return nil
}

// externalPublishers connects the configured Redis and Kafka sinks.
func externalPublishers(ctx context.Context, cfg config.Config, logger *slog.Logger) ([]notify.Publisher, []func() error, error) {
	var pubs []notify.Publisher
	var closers []func() error

	if cfg.RedisURL != "" {
		rp, err := notify.NewRedisPublisher(ctx, cfg.RedisURL, cfg.RedisChannel)
		if err != nil {
			return nil, nil, fmt.Errorf("connect redis: %w", err)
		}
		pubs = append(pubs, rp)
		closers = append(closers, rp.Close)
		logger.Info("publishing notifications to redis", "channel", cfg.RedisChannel)
	}

	if len(cfg.KafkaBrokers) > 0 {
		kp := notify.NewKafkaPublisher(cfg.KafkaBrokers, cfg.KafkaTopic, logger.With("component", "kafka"))
		pubs = append(pubs, kp)
		closers = append(closers, kp.Close)
		logger.Info("publishing notifications to kafka", "brokers", cfg.KafkaBrokers, "topic", cfg.KafkaTopic)
	}

	if len(pubs) == 0 {
		logger.Debug("no external notification sinks configured")
	}
	return pubs, closers, nil
}
