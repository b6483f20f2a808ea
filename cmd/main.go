package main

import (
	"context"
	"log"
	"strconv"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/roomline/roomline/config"
	"github.com/roomline/roomline/internal/backend"
	"github.com/roomline/roomline/internal/bridge"
	"github.com/roomline/roomline/internal/handlers"
	"github.com/roomline/roomline/internal/reconcile"
	"github.com/roomline/roomline/internal/routers"
	"github.com/roomline/roomline/internal/session"
	"github.com/roomline/roomline/internal/storage"
	"github.com/roomline/roomline/internal/utils"
	"github.com/roomline/roomline/internal/ws"
	logger "github.com/roomline/roomline/middleware/log"
	"github.com/roomline/roomline/utils/snowflake"
)

func main() {
	cfg, err := config.LoadConfig("./config.toml")
	if err != nil {
		log.Fatalf("failed to load config: %v", err)
	}

	zlog, err := logger.NewLogger(&cfg.Logging)
	if err != nil {
		log.Fatalf("failed to init logger: %v", err)
	}
	defer zlog.Close()

	dsn := storage.BuildDSN(cfg.Postgres.Host, cfg.Postgres.Port, cfg.Postgres.User, cfg.Postgres.Password, cfg.Postgres.DBName)
	db, err := storage.InitPostgres(dsn, cfg.Postgres.MaxIdleConns, cfg.Postgres.MaxOpenConns)
	if err != nil {
		zlog.Fatal("failed to init postgres", zap.Error(err))
	}

	redisClient, err := storage.InitRedis(cfg.Redis.Host, cfg.Redis.Port, cfg.Redis.Password, cfg.Redis.DB, cfg.Redis.PoolSize, cfg.Redis.MinIdleConns)
	if err != nil {
		zlog.Fatal("failed to init redis", zap.Error(err))
	}

	idGen, err := snowflake.NewGenerator(snowflake.Config{WorkerID: 0})
	if err != nil {
		zlog.Fatal("failed to init id generator", zap.Error(err))
	}

	channel := backend.NewRedisChannel(redisClient, cfg.Platform.ChannelPrefix, cfg.Platform.EventName, zlog)
	querier := backend.NewGormQuerier(db)
	committer := backend.NewCommitter(db, redisClient, channel, idGen)

	identity, err := backend.NewTokenIdentity(cfg.Platform.SessionToken, cfg.Platform.JWTSecret)
	if err != nil {
		zlog.Fatal("invalid platform session token", zap.Error(err))
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// Sends go through Kafka when brokers are configured, otherwise
	// they commit straight to the store.
	var writer backend.DurableWriter
	if len(cfg.Kafka.Brokers) > 0 {
		ingest, err := backend.NewIngestWriter(cfg.Kafka.Brokers, cfg.Kafka.IngestTopic)
		if err != nil {
			zlog.Fatal("failed to init kafka producer", zap.Error(err))
		}
		defer ingest.Close()
		writer = ingest

		consumer := bridge.NewIngestConsumer(committer, zlog)
		group, err := bridge.StartConsumer(ctx, cfg.Kafka.Brokers, cfg.Kafka.GroupID, cfg.Kafka.IngestTopic, consumer, zlog)
		if err != nil {
			zlog.Fatal("failed to init kafka consumer", zap.Error(err))
		}
		defer group.Close()
	} else {
		writer = backend.NewCommitWriter(committer, zlog)
	}

	hub := ws.NewHub(zlog)
	go hub.Run()

	manager := session.NewManager(querier, channel, writer, identity, hub, zlog, reconcile.Options{
		MergeWindow: cfg.Reconcile.MergeWindow,
		SweepGrace:  cfg.Reconcile.SweepGrace,
		SeqWindow:   cfg.Reconcile.SeqWindow,
		EventName:   cfg.Platform.EventName,
	})
	defer manager.CloseAll()

	pool := utils.NewWorkerPool(cfg.WorkerPool.Size, cfg.WorkerPool.QueueSize, zlog.Logger)
	pool.Start()
	defer pool.Stop()

	limiter := utils.NewLimiter(redisClient, zlog.Logger, true)

	roomHandler := handlers.NewRoomHandler(querier, manager, zlog)

	gin.SetMode(cfg.Server.Mode)
	r := gin.Default()
	routers.SetupRoutes(r, cfg, roomHandler, hub, pool, limiter, zlog)

	zlog.Info("server starting", zap.Int("port", cfg.Server.Port))
	if err := r.Run(":" + strconv.Itoa(cfg.Server.Port)); err != nil {
		zlog.Fatal("server exited", zap.Error(err))
	}
}
