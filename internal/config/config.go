package config

import (
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/shopspring/decimal"
	"gopkg.in/yaml.v3"
)

// Config 服务配置
type Config struct {
	Service     ServiceConfig  `yaml:"service" json:"service"`
	Database    DatabaseConfig `yaml:"database" json:"database"`
	Redis       RedisConfig    `yaml:"redis" json:"redis"`
	Kafka       KafkaConfig    `yaml:"kafka" json:"kafka"`
	Retry       RetryConfig    `yaml:"retry" json:"retry"`
	Lock        LockConfig     `yaml:"lock" json:"lock"`
	Trade       TradeConfig    `yaml:"trade" json:"trade"`
	Sweeper     SweeperConfig  `yaml:"sweeper" json:"sweeper"`
	Outbox      OutboxConfig   `yaml:"outbox" json:"outbox"`
	Log         LogConfig      `yaml:"log" json:"log"`
	TradingFees FeeConfig      `yaml:"trading_fees" json:"trading_fees"`
	Nacos       NacosConfig    `yaml:"nacos" json:"nacos"`
}

// ServiceConfig 服务配置
type ServiceConfig struct {
	Name     string `yaml:"name" json:"name"`
	GRPCPort int    `yaml:"grpc_port" json:"grpc_port"`
	HTTPPort int    `yaml:"http_port" json:"http_port"`
	Env      string `yaml:"env" json:"env"`
}

// DatabaseConfig 数据库配置
type DatabaseConfig struct {
	Host                   string `yaml:"host" json:"host"`
	Port                   int    `yaml:"port" json:"port"`
	User                   string `yaml:"user" json:"user"`
	Password               string `yaml:"password" json:"password"`
	Database               string `yaml:"database" json:"database"`
	MaxIdleConns           int    `yaml:"max_idle_conns" json:"max_idle_conns"`
	MaxOpenConns           int    `yaml:"max_open_conns" json:"max_open_conns"`
	ConnMaxLifetimeMinutes int    `yaml:"conn_max_lifetime_minutes" json:"conn_max_lifetime_minutes"`
	AutoMigrate            bool   `yaml:"auto_migrate" json:"auto_migrate"`
}

// DSN postgres 连接串
func (c DatabaseConfig) DSN() string {
	return fmt.Sprintf("host=%s port=%d user=%s password=%s dbname=%s sslmode=disable TimeZone=UTC",
		c.Host, c.Port, c.User, c.Password, c.Database)
}

// RedisConfig Redis 配置
type RedisConfig struct {
	Host     string `yaml:"host" json:"host"`
	Port     int    `yaml:"port" json:"port"`
	Password string `yaml:"password" json:"password"`
	DB       int    `yaml:"db" json:"db"`
	PoolSize int    `yaml:"pool_size" json:"pool_size"`
}

// Addr host:port
func (c RedisConfig) Addr() string {
	return fmt.Sprintf("%s:%d", c.Host, c.Port)
}

// KafkaConfig Kafka 配置
type KafkaConfig struct {
	Enabled  bool           `yaml:"enabled" json:"enabled"`
	Brokers  []string       `yaml:"brokers" json:"brokers"`
	GroupID  string         `yaml:"group_id" json:"group_id"`
	ClientID string         `yaml:"client_id" json:"client_id"`
	Producer ProducerConfig `yaml:"producer" json:"producer"`
	Consumer ConsumerConfig `yaml:"consumer" json:"consumer"`
	// Topics 订阅的入站 topic，为空时订阅全部已注册 topic
	Topics []string `yaml:"topics" json:"topics"`
	// DeadLetterEnabled 重试耗尽后除记录 failed 外同时投递 <topic>.dlq
	DeadLetterEnabled bool `yaml:"dead_letter_enabled" json:"dead_letter_enabled"`

	SASL KafkaSASLConfig `yaml:"sasl" json:"sasl"`
	TLS  KafkaTLSConfig  `yaml:"tls" json:"tls"`
}

// Kafka SASL 认证机制
const (
	SASLMechanismPlain       = "PLAIN"
	SASLMechanismScramSHA256 = "SCRAM-SHA-256"
	SASLMechanismScramSHA512 = "SCRAM-SHA-512"
)

// KafkaSASLConfig SASL 认证
type KafkaSASLConfig struct {
	Enabled   bool   `yaml:"enabled" json:"enabled"`
	Mechanism string `yaml:"mechanism" json:"mechanism"` // PLAIN, SCRAM-SHA-256, SCRAM-SHA-512
	Username  string `yaml:"username" json:"username"`
	Password  string `yaml:"password" json:"-"`
}

// KafkaTLSConfig broker 连接 TLS
type KafkaTLSConfig struct {
	Enabled            bool   `yaml:"enabled" json:"enabled"`
	CertFile           string `yaml:"cert_file" json:"cert_file"`
	KeyFile            string `yaml:"key_file" json:"key_file"`
	CAFile             string `yaml:"ca_file" json:"ca_file"`
	InsecureSkipVerify bool   `yaml:"insecure_skip_verify" json:"insecure_skip_verify"`
}

// ProducerConfig Kafka 生产者配置
type ProducerConfig struct {
	RequiredAcks int `yaml:"required_acks" json:"required_acks"` // 0=NoResponse, 1=WaitForLocal, -1=WaitForAll
	MaxRetry     int `yaml:"max_retry" json:"max_retry"`
	TimeoutMs    int `yaml:"timeout_ms" json:"timeout_ms"`
}

// ConsumerConfig Kafka 消费者配置
type ConsumerConfig struct {
	InitialOffset    string `yaml:"initial_offset" json:"initial_offset"` // newest, oldest
	SessionTimeoutMs int    `yaml:"session_timeout_ms" json:"session_timeout_ms"`
}

// RetryConfig 消息处理重试策略
type RetryConfig struct {
	MaxAttempts      int     `yaml:"max_attempts" json:"max_attempts"`
	InitialBackoffMs int     `yaml:"initial_backoff_ms" json:"initial_backoff_ms"`
	Multiplier       float64 `yaml:"multiplier" json:"multiplier"`
	MaxBackoffMs     int     `yaml:"max_backoff_ms" json:"max_backoff_ms"`
	Jitter           float64 `yaml:"jitter" json:"jitter"`                 // 0 ~ 1
	MaxElapsedMs     int     `yaml:"max_elapsed_ms" json:"max_elapsed_ms"` // 单条消息重试总时长上限
}

// LockConfig 余额锁
type LockConfig struct {
	ConfirmTimeoutMs int `yaml:"confirm_timeout_ms" json:"confirm_timeout_ms"` // 等待引擎确认上限
	PollIntervalMs   int `yaml:"poll_interval_ms" json:"poll_interval_ms"`
	SettleLockTTLMs  int `yaml:"settle_lock_ttl_ms" json:"settle_lock_ttl_ms"` // 单笔交易结算互斥锁 TTL
}

// TradeConfig 交易时间窗口
type TradeConfig struct {
	PaymentWindowSec int `yaml:"payment_window_sec" json:"payment_window_sec"` // unpaid 超时自动取消
	ReleaseWindowSec int `yaml:"release_window_sec" json:"release_window_sec"` // paid 超时自动申诉
}

// SweeperConfig 超时扫描任务
type SweeperConfig struct {
	Enabled    bool   `yaml:"enabled" json:"enabled"`
	Cron       string `yaml:"cron" json:"cron"`
	BatchSize  int    `yaml:"batch_size" json:"batch_size"`
	LockTTLSec int    `yaml:"lock_ttl_sec" json:"lock_ttl_sec"`
}

// OutboxConfig Outbox 配置
type OutboxConfig struct {
	RelayIntervalMs  int    `yaml:"relay_interval_ms" json:"relay_interval_ms"`
	BatchSize        int    `yaml:"batch_size" json:"batch_size"`
	MaxRetries       int    `yaml:"max_retries" json:"max_retries"`
	MaintenanceCron  string `yaml:"maintenance_cron" json:"maintenance_cron"`
	RetentionMs      int64  `yaml:"retention_ms" json:"retention_ms"`             // 已发送消息保留时间
	StaleThresholdMs int64  `yaml:"stale_threshold_ms" json:"stale_threshold_ms"` // processing 超过该时长视为实例崩溃
}

// NacosConfig 服务注册，关闭时不向注册中心登记
type NacosConfig struct {
	Enabled    bool   `yaml:"enabled" json:"enabled"`
	ServerAddr string `yaml:"server_addr" json:"server_addr"` // host:port，多个用逗号分隔
	Namespace  string `yaml:"namespace" json:"namespace"`
	Group      string `yaml:"group" json:"group"`
	Username   string `yaml:"username" json:"username"`
	Password   string `yaml:"password" json:"-"`
	LogDir     string `yaml:"log_dir" json:"log_dir"`
	CacheDir   string `yaml:"cache_dir" json:"cache_dir"`
	TimeoutMs  uint64 `yaml:"timeout_ms" json:"timeout_ms"`
}

// LogConfig 日志配置
type LogConfig struct {
	Level  string `yaml:"level" json:"level"`
	Format string `yaml:"format" json:"format"`
}

// FeeConfig 各币种交易手续费率，启动时加载一次
type FeeConfig struct {
	Default decimal.Decimal            `yaml:"default" json:"default"`
	Coins   map[string]decimal.Decimal `yaml:"coins" json:"coins"`
}

// RatioFor 查询币种费率，未配置时使用默认值
func (f FeeConfig) RatioFor(coin string) decimal.Decimal {
	if r, ok := f.Coins[strings.ToUpper(coin)]; ok {
		return r
	}
	return f.Default
}

// Load 加载配置
func Load() (*Config, error) {
	cfg := defaultConfig()

	configPath := os.Getenv("CONFIG_PATH")
	if configPath == "" {
		configPath = "config/config.yaml"
	}

	data, err := os.ReadFile(configPath)
	if err == nil {
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("parse %s: %w", configPath, err)
		}
	} else if !os.IsNotExist(err) {
		return nil, fmt.Errorf("read %s: %w", configPath, err)
	}

	loadFromEnv(cfg)
	cfg.TradingFees.normalize()

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// defaultConfig 返回默认配置
func defaultConfig() *Config {
	return &Config{
		Service: ServiceConfig{
			Name:     "eidos-p2p",
			GRPCPort: 50061,
			HTTPPort: 8086,
			Env:      "dev",
		},
		Database: DatabaseConfig{
			Host:                   "localhost",
			Port:                   5432,
			User:                   "postgres",
			Password:               "postgres",
			Database:               "eidos_p2p",
			MaxIdleConns:           10,
			MaxOpenConns:           50,
			ConnMaxLifetimeMinutes: 30,
			AutoMigrate:            true,
		},
		Redis: RedisConfig{
			Host:     "localhost",
			Port:     6379,
			PoolSize: 50,
		},
		Kafka: KafkaConfig{
			Enabled:  false,
			Brokers:  []string{"localhost:9092"},
			GroupID:  "eidos-p2p",
			ClientID: "eidos-p2p",
			Producer: ProducerConfig{
				RequiredAcks: -1,
				MaxRetry:     3,
				TimeoutMs:    5000,
			},
			Consumer: ConsumerConfig{
				InitialOffset:    "oldest",
				SessionTimeoutMs: 10000,
			},
			DeadLetterEnabled: true,
		},
		Retry: RetryConfig{
			MaxAttempts:      5,
			InitialBackoffMs: 100,
			Multiplier:       2.0,
			MaxBackoffMs:     5000,
			Jitter:           0.2,
			MaxElapsedMs:     30000,
		},
		Lock: LockConfig{
			ConfirmTimeoutMs: 10000,
			PollIntervalMs:   200,
			SettleLockTTLMs:  60000,
		},
		Trade: TradeConfig{
			PaymentWindowSec: 15 * 60,
			ReleaseWindowSec: 30 * 60,
		},
		Sweeper: SweeperConfig{
			Enabled:    true,
			Cron:       "*/10 * * * * *",
			BatchSize:  200,
			LockTTLSec: 60,
		},
		Outbox: OutboxConfig{
			RelayIntervalMs:  100,
			BatchSize:        100,
			MaxRetries:       5,
			MaintenanceCron:  "0 */5 * * * *",
			RetentionMs:      7 * 24 * 3600 * 1000,
			StaleThresholdMs: 5 * 60 * 1000,
		},
		Log: LogConfig{
			Level:  "info",
			Format: "json",
		},
		TradingFees: FeeConfig{
			Default: decimal.RequireFromString("0.005"),
			Coins: map[string]decimal.Decimal{
				"BTC":  decimal.RequireFromString("0.005"),
				"ETH":  decimal.RequireFromString("0.005"),
				"USDT": decimal.RequireFromString("0.002"),
			},
		},
		Nacos: NacosConfig{
			Enabled:    false,
			ServerAddr: "127.0.0.1:8848",
			Namespace:  "public",
			Group:      "EIDOS_GROUP",
			LogDir:     "/tmp/nacos/log",
			CacheDir:   "/tmp/nacos/cache",
			TimeoutMs:  5000,
		},
	}
}

// loadFromEnv 从环境变量加载配置
func loadFromEnv(cfg *Config) {
	if host := os.Getenv("DB_HOST"); host != "" {
		cfg.Database.Host = host
	}
	if user := os.Getenv("DB_USER"); user != "" {
		cfg.Database.User = user
	}
	if password := os.Getenv("DB_PASSWORD"); password != "" {
		cfg.Database.Password = password
	}
	if database := os.Getenv("DB_DATABASE"); database != "" {
		cfg.Database.Database = database
	}

	if host := os.Getenv("REDIS_HOST"); host != "" {
		cfg.Redis.Host = host
	}
	if password := os.Getenv("REDIS_PASSWORD"); password != "" {
		cfg.Redis.Password = password
	}

	if enabled := os.Getenv("KAFKA_ENABLED"); enabled != "" {
		cfg.Kafka.Enabled = enabled == "true"
	}
	if brokers := os.Getenv("KAFKA_BROKERS"); brokers != "" {
		cfg.Kafka.Brokers = strings.Split(brokers, ",")
	}
	if groupID := os.Getenv("KAFKA_GROUP_ID"); groupID != "" {
		cfg.Kafka.GroupID = groupID
	}
	if username := os.Getenv("KAFKA_SASL_USERNAME"); username != "" {
		cfg.Kafka.SASL.Username = username
	}
	if password := os.Getenv("KAFKA_SASL_PASSWORD"); password != "" {
		cfg.Kafka.SASL.Password = password
	}

	if enabled := os.Getenv("NACOS_ENABLED"); enabled != "" {
		cfg.Nacos.Enabled = enabled == "true"
	}
	if addr := os.Getenv("NACOS_SERVER_ADDR"); addr != "" {
		cfg.Nacos.ServerAddr = addr
	}
	if ns := os.Getenv("NACOS_NAMESPACE"); ns != "" {
		cfg.Nacos.Namespace = ns
	}
	if username := os.Getenv("NACOS_USERNAME"); username != "" {
		cfg.Nacos.Username = username
	}
	if password := os.Getenv("NACOS_PASSWORD"); password != "" {
		cfg.Nacos.Password = password
	}

	if level := os.Getenv("LOG_LEVEL"); level != "" {
		cfg.Log.Level = level
	}
}

// normalize 币种统一大写
func (f *FeeConfig) normalize() {
	coins := make(map[string]decimal.Decimal, len(f.Coins))
	for k, v := range f.Coins {
		coins[strings.ToUpper(k)] = v
	}
	f.Coins = coins
}

// Validate 校验配置
func (c *Config) Validate() error {
	switch {
	case c.Retry.MaxAttempts < 1:
		return fmt.Errorf("retry.max_attempts must be >= 1")
	case c.Retry.Multiplier < 1:
		return fmt.Errorf("retry.multiplier must be >= 1")
	case c.Retry.Jitter < 0 || c.Retry.Jitter > 1:
		return fmt.Errorf("retry.jitter must be within [0, 1]")
	case c.Lock.ConfirmTimeoutMs <= 0 || c.Lock.PollIntervalMs <= 0:
		return fmt.Errorf("lock timeouts must be positive")
	case c.Lock.SettleLockTTLMs <= c.Lock.ConfirmTimeoutMs:
		// 结算锁须覆盖整个确认等待
		return fmt.Errorf("lock.settle_lock_ttl_ms (%d) must exceed lock.confirm_timeout_ms (%d)",
			c.Lock.SettleLockTTLMs, c.Lock.ConfirmTimeoutMs)
	case c.Trade.PaymentWindowSec <= 0 || c.Trade.ReleaseWindowSec <= 0:
		return fmt.Errorf("trade windows must be positive")
	case c.Kafka.SASL.Enabled && !validSASLMechanism(c.Kafka.SASL.Mechanism):
		return fmt.Errorf("kafka.sasl.mechanism %q not supported", c.Kafka.SASL.Mechanism)
	case c.Kafka.SASL.Enabled && c.Kafka.SASL.Username == "":
		return fmt.Errorf("kafka.sasl.username required when sasl enabled")
	case c.Nacos.Enabled && strings.TrimSpace(c.Nacos.ServerAddr) == "":
		return fmt.Errorf("nacos.server_addr required when nacos enabled")
	case c.TradingFees.Default.IsNegative() || c.TradingFees.Default.GreaterThanOrEqual(decimal.NewFromInt(1)):
		return fmt.Errorf("trading_fees.default must be within [0, 1)")
	}
	for coin, ratio := range c.TradingFees.Coins {
		if ratio.IsNegative() || ratio.GreaterThanOrEqual(decimal.NewFromInt(1)) {
			return fmt.Errorf("trading_fees.coins.%s must be within [0, 1)", coin)
		}
	}
	return nil
}

func validSASLMechanism(m string) bool {
	switch m {
	case "", SASLMechanismPlain, SASLMechanismScramSHA256, SASLMechanismScramSHA512:
		return true
	}
	return false
}

// ConfirmTimeout 等待余额锁确认的上限
func (c LockConfig) ConfirmTimeout() time.Duration {
	return time.Duration(c.ConfirmTimeoutMs) * time.Millisecond
}

// PollInterval 轮询间隔
func (c LockConfig) PollInterval() time.Duration {
	return time.Duration(c.PollIntervalMs) * time.Millisecond
}

// SettleLockTTL 结算互斥锁 TTL
func (c LockConfig) SettleLockTTL() time.Duration {
	return time.Duration(c.SettleLockTTLMs) * time.Millisecond
}

// PaymentWindow 付款时限
func (c TradeConfig) PaymentWindow() time.Duration {
	return time.Duration(c.PaymentWindowSec) * time.Second
}

// ReleaseWindow 放币时限
func (c TradeConfig) ReleaseWindow() time.Duration {
	return time.Duration(c.ReleaseWindowSec) * time.Second
}
