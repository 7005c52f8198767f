package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/segmentio/kafka-go"
	"go.uber.org/zap"

	"github.com/gauravprwl14/trade-watch-chrome-extension/cmd/background/internal/fetcher"
	"github.com/gauravprwl14/trade-watch-chrome-extension/cmd/background/internal/gateway"
	"github.com/gauravprwl14/trade-watch-chrome-extension/cmd/background/internal/hub"
	"github.com/gauravprwl14/trade-watch-chrome-extension/cmd/background/internal/publisher"
	"github.com/gauravprwl14/trade-watch-chrome-extension/cmd/background/internal/scheduler"
	"github.com/gauravprwl14/trade-watch-chrome-extension/cmd/background/internal/store"
	"github.com/gauravprwl14/trade-watch-chrome-extension/pkg/bridge"
	"github.com/gauravprwl14/trade-watch-chrome-extension/pkg/config"
)

func main() {
	cfg, err := config.LoadConfig()
	if err != nil {
		panic(fmt.Sprintf("Failed to load config: %v", err))
	}

	logger, err := config.NewLogger(cfg.Logger)
	if err != nil {
		panic(fmt.Sprintf("Failed to initialize logger: %v", err))
	}
	defer logger.Sync()

	ctx := context.Background()

	st, err := store.Open(ctx, cfg.Store.Path, logger)
	if err != nil {
		logger.Fatal("Failed to open store", zap.String("path", cfg.Store.Path), zap.Error(err))
	}
	defer st.Close()

	if len(cfg.Seed.Symbols) > 0 {
		n, err := st.Seed(ctx, cfg.Seed.Symbols)
		if err != nil {
			logger.Fatal("Failed to seed watchlist", zap.Error(err))
		}
		logger.Info("Watchlist seeded", zap.Int("inserted", n))
	}

	var rdb *redis.Client
	if cfg.Redis.Enabled || cfg.Fetcher.Kind == "redis" {
		rdb = redis.NewClient(&redis.Options{
			Addr:     cfg.Redis.Addr,
			Password: cfg.Redis.Password,
			DB:       cfg.Redis.DB,
		})
		defer rdb.Close()
		if err := rdb.Ping(ctx).Err(); err != nil {
			logger.Fatal("Failed to connect to Redis", zap.Error(err))
		}
	}

	var prices scheduler.PriceClient
	switch cfg.Fetcher.Kind {
	case "redis":
		prices = fetcher.NewRedisSnapshotClient(rdb)
	default:
		prices = fetcher.NewHTTPClient(cfg.Fetcher.BaseURL, cfg.Fetcher.Timeout)
	}

	wsHub := hub.NewHub(st, logger)

	// Connected content contexts always hear about new prices
	notifiers := publisher.Multi{wsHub}
	if cfg.Redis.Enabled {
		notifiers = append(notifiers, publisher.NewRedisPublisher(rdb))
	}
	if cfg.Kafka.Enabled {
		creator := publisher.NewTopicCreator(logger, &publisher.RealKafkaDialer{Dialer: &kafka.Dialer{Timeout: 5 * time.Second}}, publisher.RealSleeper{})
		if err := creator.Ensure(ctx, cfg.Kafka.Brokers, cfg.Kafka.Topic, cfg.Kafka.Partitions); err != nil {
			// The writer reports a missing topic on its own
			logger.Warn("Kafka topic not confirmed", zap.String("topic", cfg.Kafka.Topic), zap.Error(err))
		}

		kp := publisher.NewKafkaPublisher(publisher.NewKafkaWriter(cfg.Kafka.Brokers, cfg.Kafka.Topic))
		defer kp.Close()
		notifiers = append(notifiers, kp)
	}

	sched := scheduler.NewScheduler(cfg.Scheduler, logger, st, prices, notifiers, scheduler.RealClock{})
	if err := sched.Start(ctx); err != nil {
		logger.Fatal("Failed to start scheduler", zap.Error(err))
	}

	// Every connection feeds one queue, so the store sees one command at a time
	commands := bridge.NewChannel(cfg.Bridge.Buffer, cfg.Bridge.AckTimeout)
	serveCtx, stopServing := context.WithCancel(ctx)
	defer stopServing()
	go commands.Serve(serveCtx, wsHub)

	srv := &http.Server{Addr: cfg.App.Port, Handler: gateway.NewHandler(wsHub, commands, sched, logger)}

	go func() {
		logger.Info("Server Started", zap.String("port", cfg.App.Port), zap.String("store", st.Path()))
		if err := srv.ListenAndServe(); err != http.ErrServerClosed {
			logger.Fatal("HTTP Error", zap.Error(err))
		}
	}()

	stop := make(chan os.Signal, 1)
	signal.Notify(stop, os.Interrupt, syscall.SIGTERM)
	<-stop

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	srv.Shutdown(shutdownCtx)
	stopServing()
	if err := sched.Stop(shutdownCtx); err != nil {
		logger.Warn("Scheduler did not drain", zap.Error(err))
	}
	logger.Info("Shutdown Complete")
}
