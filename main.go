package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/sirupsen/logrus"

	"go-aftershock/config"
	"go-aftershock/cronjobs"
	"go-aftershock/db"
	"go-aftershock/enrichment"
	"go-aftershock/feed"
	"go-aftershock/geocode"
	"go-aftershock/handlers"
	"go-aftershock/logger"
	"go-aftershock/notify"
	"go-aftershock/processor"
	"go-aftershock/routes"
)

const shutdownTimeout = 15 * time.Second

func main() {
	cfg, err := config.Load("")
	if err != nil {
		logrus.Fatalf("Error loading configuration: %v", err)
	}
	logger.Init(cfg.LogLevel)
	log := logger.For("main")
	if cfg.LogLevel != "debug" {
		gin.SetMode(gin.ReleaseMode)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	store, directory, closeStore, err := setupStore(ctx, cfg)
	if err != nil {
		log.WithError(err).Fatal("Failed to initialize store")
	}
	defer closeStore()

	enricher := setupEnricher(cfg)

	pool := processor.NewPool(cfg.Workers.PoolSize, cfg.Workers.QueueSize, logger.For("pool"))

	hub := notify.NewHub(logger.For("hub"))
	notifier, closeNotifier, err := setupNotifier(ctx, cfg, hub)
	if err != nil {
		log.WithError(err).Fatal("Failed to initialize notifier")
	}
	defer closeNotifier()

	var labeler processor.LocationLabeler
	if cfg.Maps.APIKey != "" {
		l, err := geocode.NewLabeler(cfg.Maps.APIKey)
		if err != nil {
			log.WithError(err).Warn("Reverse geocoding disabled")
		} else {
			labeler = l
		}
	}

	contexts := enrichment.NewContextBuilder(store, cfg.AI.RecentWindow, cfg.AI.RecentLimit)
	dispatcher := processor.NewDispatcher(pool, enricher, directory, contexts, notifier, cfg.AI.Timeout, logger.For("dispatcher"))
	ondemand := processor.NewOnDemandHandler(pool, enricher, directory, contexts, labeler,
		cfg.OnDemand.Deadline, cfg.AI.Timeout, logger.For("ondemand"))

	poller := cronjobs.NewPoller(
		feed.NewClient(cfg.Feed.URL, cfg.Feed.Timeout),
		store, directory, dispatcher,
		cfg.Feed.MinMagnitude, cfg.Feed.PollInterval, cfg.Feed.Lookback,
		logger.For("poller"),
	)
	poller.Start(ctx)

	r := routes.SetupRouter(
		handlers.NewDisasterHandler(ondemand, store, logger.For("http")),
		handlers.NewSubscribeHandler(hub, logger.For("ws")),
		handlers.Authenticate(cfg.Auth.JWTSecret, directory, logger.For("auth")),
		logger.For("http"),
	)
	srv := &http.Server{Addr: cfg.Server.Addr, Handler: r}

	go func() {
		log.WithField("addr", cfg.Server.Addr).Info("Starting server")
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.WithError(err).Fatal("Failed to start server")
		}
	}()

	<-ctx.Done()
	log.Info("Shutting down")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.WithError(err).Warn("HTTP server did not shut down cleanly")
	}
	select {
	case <-poller.Stop().Done():
	case <-shutdownCtx.Done():
		log.Warn("Feed tick still running at shutdown")
	}
	pool.Close()
}

func setupStore(ctx context.Context, cfg *config.Config) (db.EventStore, db.UserDirectory, func(), error) {
	switch cfg.Store.Backend {
	case config.StoreFirestore:
		client, err := db.InitFirestore(ctx, cfg.Store.FirebaseCredentials)
		if err != nil {
			return nil, nil, nil, err
		}
		closeFn := func() {
			if err := client.Close(); err != nil {
				logger.For("db").WithError(err).Warn("Error closing Firestore client")
			}
		}
		return db.NewFirestoreEventStore(client), db.NewFirestoreDirectory(client, logger.For("db")), closeFn, nil
	default:
		dir := db.NewMemoryDirectory()
		for _, u := range cfg.Users {
			dir.Put(u.UserProfile, u.Medical)
		}
		logger.For("db").WithField("users", len(cfg.Users)).Info("Using in-memory store")
		return db.NewMemoryEventStore(), dir, func() {}, nil
	}
}

func setupEnricher(cfg *config.Config) enrichment.Enricher {
	if cfg.AI.Provider == config.ProviderOpenAI {
		return enrichment.NewOpenAIClient(cfg.AI.OpenAIKey, cfg.AI.OpenAIModel, logger.For("openai"))
	}
	return enrichment.NewClient(cfg.AI.BaseURL, cfg.AI.Timeout, logger.For("enrichment"))
}

// setupNotifier returns the hub itself for the websocket backend. With Redis,
// notifications are published there and relayed back into the local hub.
func setupNotifier(ctx context.Context, cfg *config.Config, hub *notify.Hub) (notify.Notifier, func(), error) {
	if cfg.Notifier.Backend != config.NotifierRedis {
		return hub, func() {}, nil
	}

	redisCfg := cfg.Notifier.Redis
	rn, err := notify.NewRedisNotifier(ctx, redisCfg.Address, redisCfg.Password, redisCfg.DB, logger.For("redis"))
	if err != nil {
		return nil, nil, err
	}
	go func() {
		if err := rn.Relay(ctx, hub); err != nil {
			logger.For("redis").WithError(err).Error("Relay stopped")
		}
	}()
	return rn, func() {
		if err := rn.Close(); err != nil {
			logrus.WithError(err).Warn("Error closing redis client")
		}
	}, nil
}
