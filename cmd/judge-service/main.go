package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"net"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"simoj/internal/common/cache"
	"simoj/internal/common/db"
	"simoj/internal/common/mq"
	"simoj/internal/common/storage"
	"simoj/internal/judge/checker"
	"simoj/internal/judge/controller"
	"simoj/internal/judge/model"
	"simoj/internal/judge/queue"
	"simoj/internal/judge/repository"
	"simoj/internal/judge/service"
	"simoj/pkg/utils/logger"

	"go.uber.org/zap"
)

const defaultConfigPath = "configs/judge_service.yaml"

func main() {
	configPath := flag.String("config", defaultConfigPath, "Path to config file")
	flag.Parse()

	appCfg, err := loadAppConfig(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "load app config failed: %v\n", err)
		return
	}

	if err := logger.Init(appCfg.Logger); err != nil {
		fmt.Fprintf(os.Stderr, "init logger failed: %v\n", err)
		return
	}
	defer func() {
		_ = logger.Sync()
	}()

	mysqlDB, err := db.NewMySQLWithConfig(&appCfg.Database)
	if err != nil {
		logger.Error(context.Background(), "init database failed", zap.Error(err))
		return
	}
	defer func() {
		_ = mysqlDB.Close()
	}()
	store := repository.NewMySQLStore(mysqlDB)

	var rankCache cache.Cache
	var locker cache.Locker = cache.NewKeyedMutex()
	if appCfg.Redis.Addr != "" {
		redisCache, err := cache.NewRedisCacheWithConfig(&appCfg.Redis)
		if err != nil {
			logger.Error(context.Background(), "init redis failed", zap.Error(err))
			return
		}
		defer func() {
			_ = redisCache.Close()
		}()
		rankCache = redisCache
		locker = cache.ChainLocker{locker, cache.NewRedisLocker(redisCache.Client(), appCfg.Ranking.Lock)}
	}

	var events repository.EventPublisher = repository.NopEventPublisher{}
	if len(appCfg.Kafka.Brokers) > 0 {
		producer, err := mq.NewKafkaProducer(appCfg.Kafka)
		if err != nil {
			logger.Error(context.Background(), "init kafka failed", zap.Error(err))
			return
		}
		defer func() {
			_ = producer.Close()
		}()
		events = repository.NewMQEventPublisher(producer, appCfg.Events.VerdictTopic, appCfg.Events.RankTopic)
	}

	var objStorage storage.ObjectStorage
	if appCfg.MinIO.Endpoint != "" {
		minioStorage, err := storage.NewMinIOStorage(appCfg.MinIO)
		if err != nil {
			logger.Error(context.Background(), "init minio failed", zap.Error(err))
			return
		}
		objStorage = minioStorage
	}

	registry, err := checker.BuildRegistry(appCfg.Checkers, builtinCheckers(), appCfg.DefaultChecker)
	if err != nil {
		logger.Error(context.Background(), "init checkers failed", zap.Error(err))
		return
	}
	logger.Info(context.Background(), "checkers registered", zap.Strings("names", registry.Names()))

	aggregator, err := service.NewAggregator(service.AggregatorConfig{
		Store:       store,
		Locker:      locker,
		Cache:       rankCache,
		Events:      events,
		Retry:       appCfg.Ranking.Retry,
		LockTimeout: appCfg.Ranking.LockTimeout,
	})
	if err != nil {
		logger.Error(context.Background(), "init aggregator failed", zap.Error(err))
		return
	}

	rankingSvc, err := service.NewRankingService(service.RankingConfig{
		Store:    store,
		Cache:    rankCache,
		TTL:      appCfg.Ranking.CacheTTL,
		EmptyTTL: appCfg.Ranking.EmptyCacheTTL,
	})
	if err != nil {
		logger.Error(context.Background(), "init ranking service failed", zap.Error(err))
		return
	}

	submitSvc, err := service.NewSubmitService(service.SubmitConfig{
		Store:           store,
		Storage:         objStorage,
		SourceBucket:    appCfg.MinIO.Bucket,
		SourceKeyPrefix: appCfg.MinIO.Prefix,
		MaxSourceBytes:  appCfg.Submit.MaxSourceBytes,
		MaxRoundDepth:   appCfg.Submit.MaxRoundDepth,
		OnTerminal:      aggregator,
		Timeouts: service.SubmitTimeouts{
			DB:      appCfg.Submit.DBTimeout,
			Storage: appCfg.Submit.StorageTimeout,
		},
	})
	if err != nil {
		logger.Error(context.Background(), "init submit service failed", zap.Error(err))
		return
	}

	judgeQueue := queue.New(store, appCfg.Queue.Lease)
	runner := checker.NewRunner(registry, objStorage, checker.RunnerConfig{
		Bucket:  appCfg.MinIO.Bucket,
		WorkDir: appCfg.Worker.WorkDir,
	})
	judgeSvc, err := service.NewJudgeService(service.JudgeConfig{
		Queue:         judgeQueue,
		Runner:        runner,
		Tasks:         store,
		OnTerminal:    aggregator,
		Events:        events,
		Name:          appCfg.Worker.Name,
		PoolSize:      appCfg.Worker.PoolSize,
		PollInterval:  appCfg.Queue.PollInterval,
		SweepInterval: appCfg.Queue.SweepInterval,
		MaxAttempts:   appCfg.Worker.MaxAttempts,
		TaskTTL:       appCfg.Worker.TaskTTL,
	})
	if err != nil {
		logger.Error(context.Background(), "init judge service failed", zap.Error(err))
		return
	}

	judgeController := controller.NewJudgeController(submitSvc, rankingSvc, aggregator, judgeQueue, store)
	httpServer := &http.Server{
		Addr:         appCfg.Server.Addr,
		Handler:      controller.NewRouter(judgeController),
		ReadTimeout:  appCfg.Server.ReadTimeout,
		WriteTimeout: appCfg.Server.WriteTimeout,
		IdleTimeout:  appCfg.Server.IdleTimeout,
	}
	listener, err := net.Listen("tcp", appCfg.Server.Addr)
	if err != nil {
		logger.Error(context.Background(), "init http listener failed", zap.Error(err))
		return
	}

	errCh := make(chan error, 1)
	go func() {
		logger.Info(context.Background(), "judge http server started", zap.String("addr", appCfg.Server.Addr))
		errCh <- httpServer.Serve(listener)
	}()

	runCtx, stopWorkers := context.WithCancel(context.Background())
	defer stopWorkers()
	workersDone := make(chan struct{})
	if *appCfg.Worker.Enabled {
		go func() {
			defer close(workersDone)
			if err := judgeSvc.Run(runCtx); err != nil && !errors.Is(err, context.Canceled) {
				logger.Error(context.Background(), "judge workers stopped", zap.Error(err))
			}
		}()
	} else {
		close(workersDone)
		logger.Info(context.Background(), "judge workers disabled")
	}

	shutdownCtx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	select {
	case err := <-errCh:
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error(context.Background(), "http server stopped", zap.Error(err))
		}
	case <-shutdownCtx.Done():
		logger.Info(context.Background(), "shutdown signal received")
	}

	ctx, cancel := context.WithTimeout(context.Background(), defaultShutdownTimeout)
	defer cancel()
	if err := httpServer.Shutdown(ctx); err != nil {
		logger.Error(context.Background(), "http server shutdown failed", zap.Error(err))
	}
	// Claims held by stopped workers are not committed; their leases expire and the sweeper requeues them.
	stopWorkers()
	select {
	case <-workersDone:
	case <-ctx.Done():
		logger.Warn(context.Background(), "judge workers did not stop before shutdown timeout")
	}
}

// builtinCheckers are in-process checkers tasks can name without any config.
func builtinCheckers() map[string]checker.FuncChecker {
	return map[string]checker.FuncChecker{
		"accept_all": checker.FixedPoints(100),
		"reject_all": func(context.Context, checker.Input) (model.Verdict, error) {
			return model.Rejected("rejected by reject_all"), nil
		},
	}
}
