package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/fjod/go_cart/cart-store/internal/catalog"
	"github.com/fjod/go_cart/cart-store/internal/config"
	h "github.com/fjod/go_cart/cart-store/internal/http"
	"github.com/fjod/go_cart/cart-store/internal/logger"
	"github.com/fjod/go_cart/cart-store/internal/poller"
	"github.com/fjod/go_cart/cart-store/internal/session"
	"github.com/fjod/go_cart/cart-store/internal/storage"
	"github.com/fjod/go_cart/cart-store/internal/store"
	"github.com/joho/godotenv"
	"github.com/redis/go-redis/v9"
	"github.com/sirupsen/logrus"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"
	"golang.org/x/sync/errgroup"
)

func main() {
	// .env is optional; real environment variables take precedence.
	_ = godotenv.Load()

	cfg, err := config.Load()
	if err != nil {
		logrus.WithError(err).Fatal("failed to load config")
	}

	log := logger.New(cfg.LogLevel)
	entry := logrus.NewEntry(log).WithField("service", "cart-store")

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	slot, closeSlot, err := openStorage(ctx, cfg, entry)
	if err != nil {
		entry.WithError(err).Fatal("failed to open storage")
	}
	defer closeSlot()

	carts := store.NewManager(slot, entry.WithField("component", "store"), cfg.CartKeyPrefix,
		store.WithTimeout(cfg.PersistTimeout),
	)
	sessions := session.NewManager(slot, entry.WithField("component", "session"))
	sessions.OnLogout(carts.Clear)

	catalogClient := catalog.NewClient(cfg.CatalogBaseURL, cfg.CatalogTimeout)

	router := h.NewRouter(h.RouterConfig{
		Carts:          h.NewCartHandler(carts, catalogClient, cfg.RequestTimeout),
		Products:       h.NewProductHandler(catalogClient, cfg.RequestTimeout),
		Sessions:       h.NewSessionHandler(catalogClient, sessions, cfg.RequestTimeout),
		Auth:           sessions,
		Log:            entry.WithField("component", "http"),
		RequestTimeout: cfg.RequestTimeout,
	})

	srv := &http.Server{
		Addr:         ":" + cfg.HTTPPort,
		Handler:      otelhttp.NewHandler(router, "cart-store"),
		ReadTimeout:  10 * time.Second,
		WriteTimeout: cfg.RequestTimeout + 5*time.Second,
		IdleTimeout:  60 * time.Second,
	}

	g, gctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		entry.WithField("port", cfg.HTTPPort).Info("cart store starting")
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("http server: %w", err)
		}
		return nil
	})

	if brokers := cfg.Brokers(); len(brokers) > 0 {
		pub := poller.NewPublisher(cfg.KafkaSessionTopic, brokers...)
		defer pub.Close()
		sessions.OnLogout(pub.PublishLogout)

		p := poller.NewPoller(carts, entry.WithField("component", "poller"),
			cfg.KafkaSessionTopic, cfg.KafkaGroupID, brokers...)
		g.Go(func() error {
			defer p.Close()
			entry.WithField("topic", cfg.KafkaSessionTopic).Info("session event poller started")
			p.Run(gctx)
			return nil
		})
	} else {
		entry.Info("KAFKA_BROKERS not set, session event poller disabled")
	}

	g.Go(func() error {
		<-gctx.Done()
		entry.Info("shutting down server...")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.ShutdownTimeout)
		defer cancel()
		return srv.Shutdown(shutdownCtx)
	})

	if err := g.Wait(); err != nil {
		entry.WithError(err).Error("server exited with error")
		os.Exit(1)
	}
	entry.Info("server exited")
}

// openStorage connects the configured backend. The returned func releases it.
func openStorage(ctx context.Context, cfg *config.Config, log *logrus.Entry) (storage.Slot, func(), error) {
	switch cfg.StorageBackend {
	case config.BackendRedis:
		client := redis.NewClient(&redis.Options{
			Addr:     cfg.RedisAddr,
			Password: cfg.RedisPassword,
			DB:       cfg.RedisDB,
		})
		if err := client.Ping(ctx).Err(); err != nil {
			client.Close()
			return nil, nil, fmt.Errorf("redis ping failed: %w", err)
		}
		log.WithField("addr", cfg.RedisAddr).Info("redis ping succeeded")
		return storage.NewRedisSlot(client, cfg.RedisTTL), func() { client.Close() }, nil

	case config.BackendMongo:
		db, err := storage.ConnectMongoDB(ctx, cfg.MongoURI, cfg.MongoDBName)
		if err != nil {
			return nil, nil, err
		}
		slot := storage.NewMongoSlot(db)
		if err := slot.CreateIndexes(ctx); err != nil {
			log.WithError(err).Warn("failed to create mongo indexes")
		}
		log.WithField("db", cfg.MongoDBName).Info("connected to mongodb")
		return slot, func() { db.Client().Disconnect(context.Background()) }, nil

	case config.BackendSQLite:
		slot, err := storage.NewSQLiteSlot(cfg.SQLitePath)
		if err != nil {
			return nil, nil, err
		}
		if err := slot.RunMigrations(); err != nil {
			slot.Close()
			return nil, nil, err
		}
		log.WithField("path", cfg.SQLitePath).Info("sqlite storage ready")
		return slot, func() { slot.Close() }, nil

	case config.BackendPostgres:
		slot, err := storage.NewPostgresSlot(cfg.PostgresDSN)
		if err != nil {
			return nil, nil, err
		}
		if err := slot.RunMigrations(); err != nil {
			slot.Close()
			return nil, nil, err
		}
		log.Info("postgres storage ready")
		return slot, func() { slot.Close() }, nil

	default:
		log.Warn("using in-memory storage, carts are lost on restart")
		return storage.NewMemorySlot(), func() {}, nil
	}
}
