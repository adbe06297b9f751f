package cmd

import (
	"context"
	"log"

	"github.com/joho/godotenv"
	"github.com/spf13/viper"
	"go.uber.org/zap"

	feat "shen/internal/features"
	"shen/internal/handler"
	repo "shen/internal/repo"
	sv "shen/internal/service"
	rcache "shen/internal/utils/redis"
	logging "shen/pkg/logger/pkg"
	rabbit "shen/pkg/rabbit/pkg"
)

func Execute() {
	if err := godotenv.Load(); err != nil {
		log.Printf("No .env file loaded: %v", err)
	}

	viper.SetConfigFile("./config/config.yaml")
	if err := viper.ReadInConfig(); err != nil {
		log.Fatalf("Error reading config file: %v", err)
	}
	viper.AutomaticEnv()

	if err := logging.InitLogger(logging.Config{
		Level:  viper.GetString("log.level"),
		Pretty: viper.GetBool("log.pretty"),
	}); err != nil {
		log.Fatalf("Failed to initialize logger: %v", err)
	}
	logger := logging.Logger(nil)
	defer logger.Sync()

	repository, err := repo.Open(viper.GetString("db.path"))
	if err != nil {
		logger.Fatal("Failed to open database", zap.Error(err))
	}
	defer func() {
		if err := repository.Close(); err != nil {
			logger.Error("Failed to close database", zap.Error(err))
		}
	}()

	rb := rabbit.New(rabbit.ReadConfig())
	cache := rcache.New(viper.GetBool("redis.enable"))
	upstream := sv.NewIreliaClient(logger)

	pool := feat.NewChunkWorkerPool(
		viper.GetInt("workers.count"),
		viper.GetInt("workers.max_tasks_per_worker"),
		viper.GetInt("workers.max_idle_time"),
	)
	pool.Start(upstream, logger)
	defer pool.Stop()

	chunkInterval := viper.GetDuration("media.chunk_interval")
	shen := feat.New(upstream, repository, rb, cache, pool, logger, chunkInterval)
	defer shen.Shutdown()

	go func() {
		if err := rb.Consume(context.Background(), shen.HandleCommand); err != nil {
			logger.Error("Command consumer stopped", zap.Error(err))
		}
	}()

	h := handler.NewShenHandler(shen, logger)

	startSSE(logger)
	startHTTP(logger, h)
}
