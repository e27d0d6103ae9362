package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"go.uber.org/zap"

	"github.com/arrow3/storefront/internal/config"
	kafkax "github.com/arrow3/storefront/internal/kafka"
	"github.com/arrow3/storefront/internal/notifier"
	"github.com/arrow3/storefront/internal/orders"
	"github.com/arrow3/storefront/internal/redisx"
)

func main() {
	_ = godotenv.Load()

	cfg := config.Load()
	log, _ := zap.NewProduction()
	defer log.Sync()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	rdb := redisx.New(cfg.RedisAddr)
	defer rdb.Close()

	svc := &notifier.Service{
		Redis:  rdb,
		Sender: notifier.NewEmailSender(cfg.SMTP),
		Log:    log,
	}

	cons := kafkax.NewConsumer(cfg.KafkaBrokers, cfg.NotifierGroup,
		orders.TopicStatusChanged, cfg.NotifierWorkers, log)

	go func() {
		log.Info("notifier consumer started",
			zap.String("group", cfg.NotifierGroup),
			zap.String("topic", orders.TopicStatusChanged),
			zap.Int("workers", cfg.NotifierWorkers))
		if err := cons.Start(ctx, svc.HandleStatusChanged); err != nil {
			log.Error("consumer exit", zap.Error(err))
			cancel()
		}
	}()

	sig := make(chan os.Signal, 1)
	signal.Notify(sig, syscall.SIGINT, syscall.SIGTERM)
	select {
	case <-sig:
	case <-ctx.Done():
	}
	log.Info("shutting down consumer")
	cancel()
	time.Sleep(500 * time.Millisecond)
}
