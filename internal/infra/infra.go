// Package infra 基础设施: 数据库、Redis、metrics/health HTTP 服务
package infra

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"
	gormlogger "gorm.io/gorm/logger"

	"github.com/eidos-exchange/eidos-p2p/internal/config"
	"github.com/eidos-exchange/eidos-p2p/pkg/logger"
)

// NewDatabase 打开 postgres 连接池
func NewDatabase(cfg *config.DatabaseConfig) (*gorm.DB, error) {
	if cfg == nil {
		return nil, fmt.Errorf("database config is required")
	}

	db, err := gorm.Open(postgres.Open(cfg.DSN()), &gorm.Config{
		Logger: gormlogger.Default.LogMode(gormlogger.Warn),
	})
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}
	if err := ConfigurePool(db, cfg); err != nil {
		return nil, err
	}

	logger.Info("database connected",
		zap.String("host", cfg.Host),
		zap.Int("port", cfg.Port),
		zap.String("database", cfg.Database))
	return db, nil
}

// ConfigurePool 设置连接池参数，未配置的项取默认值
func ConfigurePool(db *gorm.DB, cfg *config.DatabaseConfig) error {
	sqlDB, err := db.DB()
	if err != nil {
		return fmt.Errorf("get sql.DB: %w", err)
	}

	maxIdleConns := cfg.MaxIdleConns
	if maxIdleConns <= 0 {
		maxIdleConns = 10
	}
	maxOpenConns := cfg.MaxOpenConns
	if maxOpenConns <= 0 {
		maxOpenConns = 50
	}
	connMaxLifetime := time.Duration(cfg.ConnMaxLifetimeMinutes) * time.Minute
	if connMaxLifetime <= 0 {
		connMaxLifetime = 30 * time.Minute
	}

	sqlDB.SetMaxIdleConns(maxIdleConns)
	sqlDB.SetMaxOpenConns(maxOpenConns)
	sqlDB.SetConnMaxLifetime(connMaxLifetime)
	return nil
}

// NewRedisClient 创建 Redis 客户端
func NewRedisClient(cfg *config.RedisConfig) *redis.Client {
	poolSize := cfg.PoolSize
	if poolSize <= 0 {
		poolSize = 50
	}

	client := redis.NewClient(&redis.Options{
		Addr:            cfg.Addr(),
		Password:        cfg.Password,
		DB:              cfg.DB,
		PoolSize:        poolSize,
		DialTimeout:     5 * time.Second,
		ReadTimeout:     3 * time.Second,
		WriteTimeout:    3 * time.Second,
		MaxRetries:      3,
		MinRetryBackoff: 8 * time.Millisecond,
		MaxRetryBackoff: 512 * time.Millisecond,
	})

	logger.Info("redis client initialized",
		zap.String("addr", cfg.Addr()),
		zap.Int("pool_size", poolSize))
	return client
}

// HealthCheckHandler 存活与就绪检查
type HealthCheckHandler struct {
	db  *gorm.DB
	rdb redis.UniversalClient
}

// NewHealthCheckHandler 创建健康检查，db/rdb 为 nil 时跳过对应检查
func NewHealthCheckHandler(db *gorm.DB, rdb redis.UniversalClient) *HealthCheckHandler {
	return &HealthCheckHandler{db: db, rdb: rdb}
}

// Check 依赖探活
func (h *HealthCheckHandler) Check(ctx context.Context) error {
	if h.db != nil {
		sqlDB, err := h.db.DB()
		if err != nil {
			return fmt.Errorf("db error: %w", err)
		}
		if err := sqlDB.PingContext(ctx); err != nil {
			return fmt.Errorf("db not ready: %w", err)
		}
	}
	if h.rdb != nil {
		if err := h.rdb.Ping(ctx).Err(); err != nil {
			return fmt.Errorf("redis not ready: %w", err)
		}
	}
	return nil
}

// LivenessHandler 进程存活
func (h *HealthCheckHandler) LivenessHandler(w http.ResponseWriter, r *http.Request) {
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte("OK"))
}

// ReadinessHandler 依赖就绪
func (h *HealthCheckHandler) ReadinessHandler(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
	defer cancel()

	if err := h.Check(ctx); err != nil {
		w.WriteHeader(http.StatusServiceUnavailable)
		_, _ = w.Write([]byte(err.Error()))
		return
	}
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte("OK"))
}

// NewHTTPServer /metrics 与 /health
func NewHTTPServer(port int, health *HealthCheckHandler) *http.Server {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.Handler())
	mux.HandleFunc("/health", health.ReadinessHandler)
	mux.HandleFunc("/health/live", health.LivenessHandler)
	mux.HandleFunc("/health/ready", health.ReadinessHandler)

	return &http.Server{
		Addr:              fmt.Sprintf(":%d", port),
		Handler:           mux,
		ReadHeaderTimeout: 5 * time.Second,
	}
}

// StartHTTPServer 后台启动
func StartHTTPServer(server *http.Server) {
	go func() {
		logger.Info("HTTP server listening", zap.String("addr", server.Addr))
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Error("http server error", zap.Error(err))
		}
	}()
}

// ShutdownHTTPServer 优雅关闭
func ShutdownHTTPServer(server *http.Server, timeout time.Duration) error {
	if server == nil {
		return nil
	}
	ctx, cancel := context.WithTimeout(context.Background(), timeout)
	defer cancel()
	return server.Shutdown(ctx)
}
