// Package main 手动重放事件账本中的失败事件
//
//	reprocess -id 42
//	reprocess -topic trade_update -limit 50
package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"go.uber.org/zap"

	"github.com/eidos-exchange/eidos-p2p/internal/app"
	"github.com/eidos-exchange/eidos-p2p/internal/config"
	"github.com/eidos-exchange/eidos-p2p/internal/infra"
	"github.com/eidos-exchange/eidos-p2p/internal/kafka"
	"github.com/eidos-exchange/eidos-p2p/pkg/logger"
)

func main() {
	var (
		id    int64
		topic string
		limit int
	)
	flag.Int64Var(&id, "id", 0, "replay a single stored event by id")
	flag.StringVar(&topic, "topic", "", "only replay failed events of this topic")
	flag.IntVar(&limit, "limit", 100, "max failed events to replay")
	flag.Parse()

	if err := logger.Init(&logger.Config{
		Level:       "info",
		Format:      "console",
		ServiceName: "reprocess",
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
	rdb := infra.NewRedisClient(&cfg.Redis)
	defer rdb.Close()

	// handler 可能发出解锁意图，需要真实的生产者
	producer, err := kafka.NewProducer(kafka.ProducerConfigFrom(cfg.Kafka))
	if err != nil {
		logger.Fatal("create producer failed", zap.Error(err))
	}
	defer producer.Close()

	components, err := app.BuildComponents(cfg, db, rdb, producer)
	if err != nil {
		logger.Fatal("build components failed", zap.Error(err))
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if id > 0 {
		ok, err := components.Reprocess.ReprocessByID(ctx, id)
		if err != nil {
			logger.Fatal("reprocess failed", zap.Int64("id", id), zap.Error(err))
		}
		logger.Info("reprocess finished", zap.Int64("id", id), zap.Bool("ok", ok))
		if !ok {
			os.Exit(2)
		}
		return
	}

	ok, failed, err := components.Reprocess.ReprocessFailed(ctx, topic, limit)
	logger.Info("reprocess finished",
		zap.String("topic", topic),
		zap.Int("ok", ok),
		zap.Int("failed", failed),
		zap.Error(err))
	if err != nil || failed > 0 {
		os.Exit(2)
	}
}
