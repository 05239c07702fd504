// Package app 服务装配与生命周期
package app

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"os"
	"os/signal"
	"strconv"
	"syscall"
	"time"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
	"google.golang.org/grpc"
	"google.golang.org/grpc/health"
	"google.golang.org/grpc/health/grpc_health_v1"
	"gorm.io/gorm"

	"github.com/eidos-exchange/eidos-p2p/internal/config"
	"github.com/eidos-exchange/eidos-p2p/internal/discovery"
	"github.com/eidos-exchange/eidos-p2p/internal/infra"
	"github.com/eidos-exchange/eidos-p2p/internal/kafka"
	"github.com/eidos-exchange/eidos-p2p/internal/scheduler"
	"github.com/eidos-exchange/eidos-p2p/internal/worker"
	"github.com/eidos-exchange/eidos-p2p/migrations"
	"github.com/eidos-exchange/eidos-p2p/pkg/logger"
	"github.com/eidos-exchange/eidos-p2p/pkg/migrate"
)

const serviceName = "eidos-p2p"

// ErrKafkaDisabled 结算依赖引擎回报，Kafka 不可关闭
var ErrKafkaDisabled = errors.New("kafka is required by the settlement core")

// App 应用
type App struct {
	cfg *config.Config

	db  *gorm.DB
	rdb *redis.Client

	producer   *kafka.Producer
	subscriber *kafka.SaramaSubscriber

	components *Components

	consumerManager *worker.ConsumerManager
	outboxRelay     *worker.OutboxRelay
	scheduler       *scheduler.Scheduler

	grpcServer   *grpc.Server
	healthServer *health.Server
	httpServer   *http.Server
	registrar    discovery.Registrar

	ctx    context.Context
	cancel context.CancelFunc
}

// New 创建应用
func New(cfg *config.Config) *App {
	ctx, cancel := context.WithCancel(context.Background())
	return &App{
		cfg:    cfg,
		ctx:    ctx,
		cancel: cancel,
	}
}

// Run 启动并阻塞到收到退出信号
func (a *App) Run() error {
	logger.Info("starting service", zap.String("service", serviceName))

	// 1. 数据库、迁移、Redis
	if err := a.initInfra(); err != nil {
		a.shutdown()
		return fmt.Errorf("init infra: %w", err)
	}

	// 2. Kafka 生产者与订阅
	if err := a.initKafka(); err != nil {
		a.shutdown()
		return fmt.Errorf("init kafka: %w", err)
	}

	// 3. 仓储、服务、handler 注册表
	components, err := BuildComponents(a.cfg, a.db, a.rdb, a.producer)
	if err != nil {
		a.shutdown()
		return fmt.Errorf("build components: %w", err)
	}
	a.components = components

	// 4. 后台任务
	if err := a.initWorkers(); err != nil {
		a.shutdown()
		return fmt.Errorf("init workers: %w", err)
	}

	// 5. gRPC 健康检查
	if err := a.startGRPCServer(); err != nil {
		a.shutdown()
		return fmt.Errorf("start grpc: %w", err)
	}

	// 6. metrics / health
	a.startHTTPServer()

	// 7. outbox relay、定时任务
	a.startWorkers()

	// 8. 消费入站事件
	if err := a.consumerManager.Start(a.ctx); err != nil {
		a.shutdown()
		return fmt.Errorf("start consumers: %w", err)
	}

	// 9. 就绪后登记到注册中心
	if err := a.register(); err != nil {
		a.shutdown()
		return fmt.Errorf("register service: %w", err)
	}

	a.waitForShutdown()
	return nil
}

func (a *App) initInfra() error {
	var err error

	a.db, err = infra.NewDatabase(&a.cfg.Database)
	if err != nil {
		return err
	}

	if a.cfg.Database.AutoMigrate {
		sqlDB, err := a.db.DB()
		if err != nil {
			return fmt.Errorf("get sql.DB: %w", err)
		}
		if err := migrate.NewMigrator(sqlDB, serviceName, migrations.FS, ".", logger.L()).Up(); err != nil {
			return fmt.Errorf("migrate: %w", err)
		}
	}

	a.rdb = infra.NewRedisClient(&a.cfg.Redis)
	ctx, cancel := context.WithTimeout(a.ctx, 5*time.Second)
	defer cancel()
	if err := a.rdb.Ping(ctx).Err(); err != nil {
		return fmt.Errorf("ping redis: %w", err)
	}
	return nil
}

func (a *App) initKafka() error {
	if !a.cfg.Kafka.Enabled {
		return ErrKafkaDisabled
	}

	var err error
	a.producer, err = kafka.NewProducer(kafka.ProducerConfigFrom(a.cfg.Kafka))
	if err != nil {
		return fmt.Errorf("create producer: %w", err)
	}
	a.subscriber, err = kafka.NewSaramaSubscriber(kafka.ConsumerConfigFrom(a.cfg.Kafka))
	if err != nil {
		return fmt.Errorf("create subscriber: %w", err)
	}
	logger.Info("kafka initialized",
		zap.Strings("brokers", a.cfg.Kafka.Brokers),
		zap.String("group_id", a.cfg.Kafka.GroupID))
	return nil
}

func (a *App) initWorkers() error {
	c := a.components

	a.consumerManager = worker.NewConsumerManager(
		&worker.ConsumerManagerConfig{
			Topics:            a.cfg.Kafka.Topics,
			DeadLetterEnabled: a.cfg.Kafka.DeadLetterEnabled,
		},
		a.subscriber,
		c.Registry,
		c.EventRepo,
		c.TxManager,
		kafka.NewRetryCoordinator(kafka.RetryConfigFrom(a.cfg.Retry)),
		kafka.NewDeadLetterPublisher(a.producer),
	)

	a.outboxRelay = worker.NewOutboxRelay(worker.OutboxRelayConfigFrom(a.cfg.Outbox), c.OutboxRepo, a.producer)

	a.scheduler = scheduler.NewScheduler(c.Locker, 2)
	lockTTL := time.Duration(a.cfg.Sweeper.LockTTLSec) * time.Second
	if err := a.scheduler.RegisterJob(
		scheduler.NewSweepTimeoutsJob(c.Trades, 30*time.Second, lockTTL),
		scheduler.JobConfig{Cron: a.cfg.Sweeper.Cron, Enabled: a.cfg.Sweeper.Enabled},
	); err != nil {
		return err
	}
	if err := a.scheduler.RegisterJob(
		scheduler.NewOutboxMaintenanceJob(a.outboxRelay, time.Minute, time.Minute),
		scheduler.JobConfig{Cron: a.cfg.Outbox.MaintenanceCron, Enabled: a.cfg.Outbox.MaintenanceCron != ""},
	); err != nil {
		return err
	}
	return nil
}

func (a *App) startGRPCServer() error {
	a.grpcServer = grpc.NewServer()
	a.healthServer = health.NewServer()
	grpc_health_v1.RegisterHealthServer(a.grpcServer, a.healthServer)
	a.healthServer.SetServingStatus(serviceName, grpc_health_v1.HealthCheckResponse_SERVING)

	lis, err := net.Listen("tcp", fmt.Sprintf(":%d", a.cfg.Service.GRPCPort))
	if err != nil {
		return fmt.Errorf("listen: %w", err)
	}

	go func() {
		logger.Info("gRPC server listening", zap.Int("port", a.cfg.Service.GRPCPort))
		if err := a.grpcServer.Serve(lis); err != nil {
			logger.Error("grpc serve error", zap.Error(err))
		}
	}()
	return nil
}

func (a *App) startHTTPServer() {
	a.httpServer = infra.NewHTTPServer(a.cfg.Service.HTTPPort, infra.NewHealthCheckHandler(a.db, a.rdb))
	infra.StartHTTPServer(a.httpServer)
}

func (a *App) register() error {
	registrar, err := discovery.New(a.cfg.Nacos, serviceName, a.cfg.Service.GRPCPort, map[string]string{
		"env":       a.cfg.Service.Env,
		"http_port": strconv.Itoa(a.cfg.Service.HTTPPort),
	})
	if err != nil {
		return err
	}
	a.registrar = registrar
	return a.registrar.Register()
}

func (a *App) startWorkers() {
	a.outboxRelay.Start(a.ctx)
	a.scheduler.Start()
}

func (a *App) waitForShutdown() {
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	<-sigCh

	logger.Info("shutting down...")
	a.shutdown()
}

// shutdown 逆序释放；消费者先于数据库关闭，处理中的消息完成提交
func (a *App) shutdown() {
	a.cancel()

	// 先摘除实例，避免新流量进入
	if a.registrar != nil {
		if err := a.registrar.Deregister(); err != nil {
			logger.Error("deregister service failed", zap.Error(err))
		}
	}

	if a.healthServer != nil {
		a.healthServer.SetServingStatus(serviceName, grpc_health_v1.HealthCheckResponse_NOT_SERVING)
	}

	if a.consumerManager != nil && a.consumerManager.State() == worker.ConsumerRunning {
		a.consumerManager.Stop()
	} else if a.subscriber != nil {
		_ = a.subscriber.Close()
	}

	if a.scheduler != nil {
		a.scheduler.Stop()
	}

	if a.outboxRelay != nil {
		a.outboxRelay.Stop()
	}

	if a.producer != nil {
		if err := a.producer.Close(); err != nil {
			logger.Error("close producer failed", zap.Error(err))
		}
	}

	if a.grpcServer != nil {
		a.grpcServer.GracefulStop()
	}

	if err := infra.ShutdownHTTPServer(a.httpServer, 5*time.Second); err != nil {
		logger.Error("http server shutdown error", zap.Error(err))
	}

	if a.rdb != nil {
		_ = a.rdb.Close()
	}

	if a.db != nil {
		if sqlDB, err := a.db.DB(); err == nil {
			_ = sqlDB.Close()
		}
	}

	logger.Info("service stopped")
}
