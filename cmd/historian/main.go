// cmd/historian/main.go drains the room action queue into Postgres.
package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"
	"time"

	_ "github.com/joho/godotenv/autoload"
	"github.com/rag2504/tambola/internal/cache"
	"github.com/rag2504/tambola/internal/config"
	"github.com/rag2504/tambola/internal/database"
	"github.com/rag2504/tambola/internal/historian"
	"github.com/sirupsen/logrus"
)

func main() {
	cfg, err := config.LoadHistorian()
	if err != nil {
		logrus.Fatalf("config: %v", err)
	}
	logger, err := config.NewLogger(cfg.Log)
	if err != nil {
		logrus.Fatal(err)
	}
	if cfg.Redis.Disabled {
		logger.Fatal("the historian reads from Redis; unset REDIS_DISABLED")
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	pool, err := database.ConnectDB(ctx, cfg.PostgresDSN)
	if err != nil {
		logger.Fatal(err)
	}
	db := database.New(pool)
	defer db.Close()
	if err := db.Migrate(ctx); err != nil {
		logger.Fatal(err)
	}

	rdb, err := cache.ConnectRedis(ctx, cfg.Redis.Addr, cfg.Redis.DB)
	if err != nil {
		logger.Fatal(err)
	}
	defer rdb.Close()

	svc := historian.New(
		&cache.ActionQueue{Rdb: rdb, Queue: cfg.Redis.Queue},
		db,
		historian.Config{
			BatchSize:  cfg.BatchSize,
			FlushDelay: time.Duration(cfg.FlushMs) * time.Millisecond,
			Inactivity: cfg.RoomInactivity,
		},
		logger,
	)
	svc.Run(ctx)
}
