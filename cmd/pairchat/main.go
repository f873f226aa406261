package main

import (
	"context"
	"flag"
	"log"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"github.com/redis/go-redis/v9"

	"github.com/yourorg/pairchat/internal/api"
	"github.com/yourorg/pairchat/internal/config"
	"github.com/yourorg/pairchat/internal/delivery"
	"github.com/yourorg/pairchat/internal/events"
	"github.com/yourorg/pairchat/internal/hub"
	"github.com/yourorg/pairchat/internal/logger"
	"github.com/yourorg/pairchat/internal/media"
	"github.com/yourorg/pairchat/internal/presence"
	"github.com/yourorg/pairchat/internal/probe"
	"github.com/yourorg/pairchat/internal/repository"
	"github.com/yourorg/pairchat/internal/service"
	"github.com/yourorg/pairchat/internal/storage"
)

func main() {
	_ = godotenv.Load()

	configPath := flag.String("config", "config.yaml", "path to config file")
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		log.Fatalf("config load: %v", err)
	}

	zlog, err := logger.New(logger.Config{Development: cfg.Server.Development})
	if err != nil {
		log.Fatalf("logger init: %v", err)
	}
	defer zlog.Sync()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	mc, err := repository.NewMongoClient(ctx, cfg.Mongo.URI)
	if err != nil {
		zlog.Fatalw("mongo init failed", "err", err)
	}
	defer func() { _ = mc.Disconnect(context.Background()) }()

	db := mc.Database(cfg.Mongo.Database)
	if err := repository.EnsureIndexes(ctx, db); err != nil {
		zlog.Fatalw("index creation failed", "err", err)
	}

	rdb := redis.NewClient(&redis.Options{
		Addr:     cfg.Redis.Addr,
		Password: cfg.Redis.Password,
		DB:       cfg.Redis.DB,
	})
	defer rdb.Close()
	if err := rdb.Ping(ctx).Err(); err != nil {
		zlog.Fatalw("redis ping failed", "addr", cfg.Redis.Addr, "err", err)
	}

	var sink delivery.Sink
	var producer *events.Producer
	if len(cfg.Kafka.Brokers) > 0 {
		producer = events.NewProducer(cfg.Kafka.Brokers, cfg.Kafka.Topic)
		defer producer.Close()
		sink = producer
	}

	h := hub.NewHub()
	tracker := presence.NewTracker()
	mirror := presence.NewMirror(rdb, cfg.Redis.Prefix, 0)

	bridge := delivery.NewRedisBridge(rdb, cfg.Redis.Prefix, h, zlog)
	go bridge.Run(ctx)

	notifier := delivery.NewNotifier(h, sink, bridge, zlog)

	convStore := repository.NewMongoConversationStore(db)
	msgStore := repository.NewMongoMessageStore(db)
	userStore := repository.NewMongoUserStore(db)

	convSvc := service.NewConversationService(convStore, msgStore, userStore, tracker, notifier, zlog)
	msgSvc := service.NewMessageService(convStore, msgStore, notifier, service.Policy{
		EditWindow:   cfg.EditWindow,
		RecallWindow: cfg.RecallWindow,
		LocationTTL:  cfg.LocationTTL,
		PageSize:     int64(cfg.Chat.PageSize),
	}, zlog)

	var mediaSvc *media.Service
	if cfg.S3.Bucket != "" {
		blobs, err := storage.NewS3Store(ctx, cfg.S3.Region, cfg.S3.Bucket, cfg.S3.PublicRead)
		if err != nil {
			zlog.Fatalw("s3 init failed", "bucket", cfg.S3.Bucket, "err", err)
		}
		prober := probe.NewClient(probe.Config{
			URL:     cfg.Probe.URL,
			Timeout: time.Duration(cfg.Probe.TimeoutSeconds) * time.Second,
		}, zlog)
		mediaSvc = media.NewService(blobs, prober, notifier, 0, zlog)
	} else {
		zlog.Infow("no s3 bucket configured, media uploads disabled")
	}

	limiter := api.NewRateLimiter(rdb, cfg.Redis.Prefix+":ratelimit", cfg.RateLimit.Limit, cfg.RateLimitWindow)

	srv := api.NewServer(api.Deps{
		Conversations: convSvc,
		Messages:      msgSvc,
		Media:         mediaSvc,
		Hub:           h,
		Tracker:       tracker,
		Mirror:        mirror,
		Notifier:      notifier,
		Users:         userStore,
		ConvStore:     convStore,
		Limiter:       limiter,
		JWTSecret:     cfg.JWT.Secret,
		Log:           zlog,
	})

	go func() {
		if err := srv.Listen(":" + cfg.Server.Port); err != nil {
			zlog.Fatalw("server listen failed", "err", err)
		}
	}()
	zlog.Infow("pairchat started", "port", cfg.Server.Port)

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, os.Interrupt, syscall.SIGTERM)
	<-quit

	zlog.Infow("shutting down")
	cancel()
	if err := srv.Shutdown(); err != nil {
		zlog.Warnw("server shutdown", "err", err)
	}
}
