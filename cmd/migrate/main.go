// Package main 数据库迁移命令行工具
package main

import (
	"flag"
	"fmt"
	"os"

	"go.uber.org/zap"

	"github.com/eidos-exchange/eidos-p2p/internal/config"
	"github.com/eidos-exchange/eidos-p2p/internal/infra"
	"github.com/eidos-exchange/eidos-p2p/migrations"
	"github.com/eidos-exchange/eidos-p2p/pkg/logger"
	"github.com/eidos-exchange/eidos-p2p/pkg/migrate"
)

func main() {
	var command string
	flag.StringVar(&command, "cmd", "up", "Command: up, down, status")
	flag.Parse()

	if err := logger.Init(&logger.Config{
		Level:       "info",
		Format:      "console",
		ServiceName: "migrate",
	}); err != nil {
		fmt.Printf("init logger failed: %v\n", err)
		os.Exit(1)
	}
	defer logger.Sync()

	cfg, err := config.Load()
	if err != nil {
		logger.Fatal("load config failed", zap.Error(err))
	}

	db, err := infra.NewDatabase(&cfg.Database)
	if err != nil {
		logger.Fatal("connect database failed", zap.Error(err))
	}
	sqlDB, err := db.DB()
	if err != nil {
		logger.Fatal("get sql.DB failed", zap.Error(err))
	}
	defer sqlDB.Close()

	migrator := migrate.NewMigrator(sqlDB, "eidos-p2p", migrations.FS, ".", logger.L())

	switch command {
	case "up":
		err = migrator.Up()
	case "down":
		err = migrator.Rollback()
	case "status":
		var (
			version uint
			dirty   bool
		)
		version, dirty, err = migrator.Version()
		if err == nil {
			fmt.Printf("version=%d dirty=%t\n", version, dirty)
		}
	default:
		logger.Fatal("unknown command", zap.String("command", command))
	}
	if err != nil {
		logger.Fatal("migration failed", zap.String("command", command), zap.Error(err))
	}
}
