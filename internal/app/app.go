// Package app wires configuration, storage, and the HTTP server into a
// runnable service. All services are constructed here once and passed
// down explicitly.
package app

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/redis/go-redis/v9"
	log "github.com/sirupsen/logrus"
	"golang.org/x/sync/errgroup"

	"github.com/amirhdaghestani/openai-api/internal/config"
	"github.com/amirhdaghestani/openai-api/internal/db"
	relayhttp "github.com/amirhdaghestani/openai-api/internal/http"
	"github.com/amirhdaghestani/openai-api/internal/logging"
	"github.com/amirhdaghestani/openai-api/internal/provider"
	"github.com/amirhdaghestani/openai-api/internal/usage"
)

// Migrate opens the database and applies schema migrations.
func Migrate(cfg config.Config) error {
	conn, errOpen := db.Open(cfg.Database.DSN)
	if errOpen != nil {
		return errOpen
	}
	return db.Migrate(conn)
}

// RunServer boots the relay and serves until ctx is cancelled.
func RunServer(ctx context.Context, cfg config.Config) error {
	logging.Setup(logging.Options{
		Level:      cfg.Log.Level,
		File:       cfg.Log.File,
		MaxSizeMB:  cfg.Log.MaxSizeMB,
		MaxBackups: cfg.Log.MaxBackups,
		MaxAgeDays: cfg.Log.MaxAgeDays,
	})

	conn, errOpen := db.Open(cfg.Database.DSN)
	if errOpen != nil {
		return errOpen
	}
	if errMigrate := db.Migrate(conn); errMigrate != nil {
		return errMigrate
	}

	var redisClient *redis.Client
	if cfg.Redis.Addr != "" {
		redisClient = redis.NewClient(&redis.Options{
			Addr:     cfg.Redis.Addr,
			Password: cfg.Redis.Password,
			DB:       cfg.Redis.DB,
		})
		pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
		if errPing := redisClient.Ping(pingCtx).Err(); errPing != nil {
			log.WithError(errPing).Warn("redis unreachable, rate limiting disabled")
			redisClient = nil
		}
		cancel()
	}

	providerClient := provider.NewClient(cfg.OpenAI.BaseURL, cfg.OpenAI.APIKey, cfg.OpenAI.Timeout())

	engine := relayhttp.NewRouter(relayhttp.RouterDeps{
		DB:       conn,
		Config:   cfg,
		Provider: providerClient,
		Redis:    redisClient,
	})

	usage.NewRetentionCleaner(conn, cfg.Usage.RetentionDays).Start(ctx)

	server := &http.Server{
		Addr:    fmt.Sprintf("%s:%d", cfg.Server.Host, cfg.Server.Port),
		Handler: engine,
	}

	group, groupCtx := errgroup.WithContext(ctx)
	group.Go(func() error {
		log.Infof("listening on %s", server.Addr)
		if errServe := server.ListenAndServe(); !errors.Is(errServe, http.ErrServerClosed) {
			return errServe
		}
		return nil
	})
	group.Go(func() error {
		<-groupCtx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		log.Info("shutting down")
		return server.Shutdown(shutdownCtx)
	})
	return group.Wait()
}
