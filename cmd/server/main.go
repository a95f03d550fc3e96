// cmd/server/main.go
package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	_ "github.com/joho/godotenv/autoload"
	"github.com/rag2504/tambola/internal/auth"
	"github.com/rag2504/tambola/internal/cache"
	"github.com/rag2504/tambola/internal/config"
	"github.com/rag2504/tambola/internal/database"
	"github.com/rag2504/tambola/internal/handlers"
	"github.com/rag2504/tambola/internal/memstore"
	"github.com/rag2504/tambola/internal/room"
	"github.com/sirupsen/logrus"
)

// backend is the persistence surface shared by Postgres and the in-memory store.
type backend interface {
	room.Store
	room.Wallet
	room.Ledger
	room.PlayerStore
	handlers.Accounts
}

func main() {
	cfg, err := config.LoadServer()
	if err != nil {
		logrus.Fatalf("config: %v", err)
	}
	logger, err := config.NewLogger(cfg.Log)
	if err != nil {
		logrus.Fatal(err)
	}

	ttl, _ := cfg.Auth.TokenTTL()
	if cfg.Auth.PrivateKeyPath != "" {
		err = auth.InitFromPath(cfg.Auth.PrivateKeyPath, cfg.Auth.PublicKeyPath, ttl)
	} else {
		logger.Warn("no JWT keys configured, generating an ephemeral pair")
		err = auth.Init(ttl)
	}
	if err != nil {
		logger.Fatalf("auth init: %v", err)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	var (
		store   backend
		actions room.ActionLog
	)
	if cfg.PostgresDSN != "" {
		pool, err := database.ConnectDB(ctx, cfg.PostgresDSN)
		if err != nil {
			logger.Fatal(err)
		}
		db := database.New(pool)
		defer db.Close()
		if err := db.Migrate(ctx); err != nil {
			logger.Fatal(err)
		}
		store = db
	} else {
		logger.Warn("POSTGRES_DSN not set, keeping state in memory")
		mem := memstore.New()
		store, actions = mem, mem
	}

	hub := handlers.NewHub(logger)
	bus := room.FanOut{hub}
	if !cfg.Redis.Disabled {
		rdb, err := cache.ConnectRedis(ctx, cfg.Redis.Addr, cfg.Redis.DB)
		if err != nil {
			logger.Fatal(err)
		}
		defer rdb.Close()
		bus = append(bus, &cache.Bus{Rdb: rdb})
		actions = &cache.ActionQueue{Rdb: rdb, Queue: cfg.Redis.Queue}
	}

	reg := room.NewRegistry(room.Deps{
		Store:                 store,
		Wallet:                store,
		Ledger:                store,
		Players:               store,
		Bus:                   bus,
		Actions:               actions,
		Log:                   logger,
		PrizePoolShare:        cfg.Game.PrizePoolShare,
		MaxTicketsPerPurchase: cfg.Game.MaxTicketsPerPurchase,
		StoreTimeout:          cfg.Game.StoreTimeout,
	})
	n, err := reg.Restore(ctx)
	if err != nil {
		logger.Fatalf("restore rooms: %v", err)
	}
	logger.Infof("restored %d rooms", n)

	api := &handlers.API{
		Registry:       reg,
		Accounts:       store,
		Hub:            hub,
		Log:            logger,
		AllowedOrigins: cfg.AllowedOrigins,
	}
	srv := &http.Server{
		Addr:              cfg.HTTPAddr,
		Handler:           api.NewRouter(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	go func() {
		logger.Infof("Running on %s", cfg.HTTPAddr)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Fatalf("server exited: %v", err)
		}
	}()

	<-ctx.Done()
	logger.Info("shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.WithError(err).Warn("http shutdown")
	}
	reg.Close()
}
