package main

import (
	"flag"
	"os"

	"go.uber.org/zap"

	"github.com/eidos-exchange/eidos-p2p/internal/app"
	"github.com/eidos-exchange/eidos-p2p/internal/config"
	"github.com/eidos-exchange/eidos-p2p/pkg/logger"
)

const serviceName = "eidos-p2p"

func main() {
	// 命令行参数
	configPath := flag.String("config", "", "config file path (overrides CONFIG_PATH)")
	flag.Parse()
	if *configPath != "" {
		_ = os.Setenv("CONFIG_PATH", *configPath)
	}

	// 加载配置
	cfg, err := config.Load()
	if err != nil {
		panic("failed to load config: " + err.Error())
	}

	// 初始化日志
	if err := logger.Init(&logger.Config{
		Level:       cfg.Log.Level,
		Format:      cfg.Log.Format,
		ServiceName: serviceName,
	}); err != nil {
		panic("failed to init logger: " + err.Error())
	}
	defer logger.Sync()

	logger.Info("config loaded",
		zap.String("env", cfg.Service.Env),
		zap.Int("grpc_port", cfg.Service.GRPCPort),
		zap.Int("http_port", cfg.Service.HTTPPort))

	if err := app.New(cfg).Run(); err != nil {
		logger.Fatal("application error", zap.Error(err))
	}
}
