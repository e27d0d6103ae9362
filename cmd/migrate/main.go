package main

import (
	"context"
	"time"

	"github.com/joho/godotenv"
	"go.uber.org/zap"

	"github.com/arrow3/storefront/internal/config"
	"github.com/arrow3/storefront/internal/postgres"
)

func main() {
	_ = godotenv.Load()

	cfg := config.Load()
	log, _ := zap.NewProduction()
	defer log.Sync()

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	db, err := postgres.Connect(ctx, cfg.PostgresDSN)
	if err != nil {
		log.Fatal("db connect", zap.Error(err))
	}
	defer db.Close()

	if err := postgres.Migrate(ctx, db); err != nil {
		log.Fatal("migrate", zap.Error(err))
	}
	log.Info("schema up to date")
}
