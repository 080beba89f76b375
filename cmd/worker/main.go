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

	"dealflow/internal/api"
	"dealflow/internal/classifier"
	"dealflow/internal/config"
	"dealflow/internal/extractor"
	"dealflow/internal/humanize"
	"dealflow/internal/mail"
	"dealflow/internal/metrics"
	"dealflow/internal/model"
	"dealflow/internal/queue"
	"dealflow/internal/ratelimit"
	"dealflow/internal/repository"
	"dealflow/internal/service"
	"dealflow/pkg/logger"

	"github.com/redis/go-redis/v9"
	clientv3 "go.etcd.io/etcd/client/v3"
	"go.uber.org/zap"
	"gorm.io/driver/mysql"
	"gorm.io/gorm"
)

func main() {
	cfg := config.Load()

	logger.InitLogger(cfg.Server.Environment)
	defer logger.Sync()

	if err := run(cfg); err != nil {
		logger.Error("worker startup failed", zap.Error(err))
		os.Exit(1)
	}
}

func run(cfg *config.Config) error {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// Infrastructure. Failing to reach persistent storage here is the one
	// failure class that terminates the process.
	rdb, err := initRedis(cfg.Redis)
	if err != nil {
		return err
	}
	defer rdb.Close()

	etcdCli, err := initEtcd(cfg.Etcd)
	if err != nil {
		return err
	}
	defer etcdCli.Close()

	db, err := initDB(cfg.MySQL)
	if err != nil {
		return err
	}

	// Repositories.
	queueRepo := repository.NewQueueRepository(db)
	messageRepo := repository.NewMessageRepository(db)
	campaignRepo := repository.NewCampaignRepository(db)
	contactRepo := repository.NewContactRepository(db)
	companyRepo := repository.NewCompanyRepository(db)
	settingsRepo := repository.NewSettingsRepository(db)
	statusRepo := repository.NewStatusRepository(db)

	// Services.
	observer := metrics.NewPrometheusObserver()
	settings := service.NewSettingsStore(settingsRepo)
	limiter := ratelimit.New(rdb)
	humanizer := humanize.New(nil)
	deliverer := mail.NewSMTPDeliverer(cfg.SMTP)
	classifierClient := classifier.NewClient(cfg.Classifier)
	extractorClient := extractor.NewClient(cfg.Extractor)

	runner := queue.NewRunner(settings.Paused, observer)
	dispatcher := service.NewDispatcher(queueRepo, campaignRepo, limiter, humanizer, deliverer, settings, observer)
	pipeline := service.NewPipeline(messageRepo, contactRepo, companyRepo, classifierClient, settings, observer)
	scheduler := service.NewScheduler(runner, queueRepo, messageRepo, dispatcher, pipeline,
		extractorClient, limiter, settings, observer, cfg.Worker.ClaimBatchSize)
	scheduler.Register(cfg.Worker)
	heartbeat := service.NewHeartbeat(statusRepo, runner, settings)

	// Only one scheduler instance may run against the queue at a time.
	lock := service.NewLeaderLock(etcdCli)
	if err := lock.Acquire(ctx); err != nil {
		return fmt.Errorf("failed to acquire scheduler lock: %w", err)
	}
	defer func() {
		releaseCtx, releaseCancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer releaseCancel()
		lock.Release(releaseCtx)
	}()

	// Background loops.
	go func() {
		logger.Info("starting settings reload loop")
		settings.Run(ctx, cfg.Worker.SettingsInterval)
	}()
	go func() {
		logger.Info("starting heartbeat")
		heartbeat.Run(ctx, cfg.Worker.HeartbeatInterval)
	}()

	runnerDone := make(chan struct{})
	go func() {
		defer close(runnerDone)
		logger.Info("starting queue runner", zap.String("instance", heartbeat.InstanceID()))
		runner.Run(ctx)
	}()

	// Ops HTTP surface.
	r := api.RegisterRoutes(api.NewOpsHandler(db, queueRepo, messageRepo, statusRepo, settingsRepo, settings, pipeline, extractorClient))
	srv := &http.Server{
		Addr:    cfg.Server.Port,
		Handler: r,
	}
	go func() {
		logger.Info("ops server starting",
			zap.String("addr", cfg.Server.Port),
			zap.String("env", cfg.Server.Environment))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error("ops server listen failed", zap.Error(err))
		}
	}()

	// Graceful shutdown: let in-flight jobs finish or release their rows
	// for redelivery.
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit
	logger.Info("shutting down worker...")

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer shutdownCancel()

	cancel()
	select {
	case <-runnerDone:
	case <-shutdownCtx.Done():
		logger.Warn("queue runner did not stop in time, abandoning in-flight jobs for redelivery")
	}

	if err := srv.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("ops server forced to shutdown: %w", err)
	}

	logger.Info("worker exited properly")
	return nil
}

// -- Infrastructure Initializers --

func initRedis(cfg config.RedisConfig) (*redis.Client, error) {
	rdb := redis.NewClient(&redis.Options{
		Addr:     cfg.Addr,
		Password: cfg.Password,
		DB:       cfg.DB,
	})
	if err := rdb.Ping(context.Background()).Err(); err != nil {
		return nil, fmt.Errorf("failed to connect to redis: %w", err)
	}
	return rdb, nil
}

func initEtcd(cfg config.EtcdConfig) (*clientv3.Client, error) {
	client, err := clientv3.New(clientv3.Config{
		Endpoints:   cfg.Endpoints,
		DialTimeout: cfg.DialTimeout,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to connect to etcd: %w", err)
	}
	return client, nil
}

func initDB(cfg config.MySQLConfig) (*gorm.DB, error) {
	db, err := gorm.Open(mysql.Open(cfg.DSN), &gorm.Config{})
	if err != nil {
		return nil, fmt.Errorf("failed to connect to mysql: %w", err)
	}

	err = db.AutoMigrate(
		&model.QueueEntry{},
		&model.Campaign{},
		&model.Contact{},
		&model.Company{},
		&model.InboundMessage{},
		&model.WorkerStatus{},
		&model.Setting{},
	)
	if err != nil {
		return nil, fmt.Errorf("failed to migrate database: %w", err)
	}

	return db, nil
}
