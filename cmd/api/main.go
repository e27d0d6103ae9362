package main

import (
	"context"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"go.uber.org/zap"

	"github.com/arrow3/storefront/internal/config"
	"github.com/arrow3/storefront/internal/httpx"
	kafkax "github.com/arrow3/storefront/internal/kafka"
	"github.com/arrow3/storefront/internal/orders"
	"github.com/arrow3/storefront/internal/payments"
	"github.com/arrow3/storefront/internal/postgres"
	"github.com/arrow3/storefront/internal/redisx"
)

func main() {
	_ = godotenv.Load()

	cfg := config.Load()
	log, _ := zap.NewProduction()
	defer log.Sync()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// DB
	db, err := postgres.Connect(ctx, cfg.PostgresDSN)
	if err != nil {
		log.Fatal("db connect", zap.Error(err))
	}
	defer db.Close()

	// Redis
	rdb := redisx.New(cfg.RedisAddr)
	defer rdb.Close()

	// Kafka producers, one per topic
	pCreated := kafkax.NewProducer(cfg.KafkaBrokers, orders.TopicOrderCreated, 1024, log)
	pStatus := kafkax.NewProducer(cfg.KafkaBrokers, orders.TopicStatusChanged, 1024, log)
	pCancelled := kafkax.NewProducer(cfg.KafkaBrokers, orders.TopicOrderCancelled, 1024, log)
	pPayment := kafkax.NewProducer(cfg.KafkaBrokers, orders.TopicPaymentReconciled, 1024, log)
	producers := []*kafkax.Producer{pCreated, pStatus, pCancelled, pPayment}
	for _, p := range producers {
		p.Start(ctx)
	}

	// Service & handler
	store := &orders.PGStore{DB: db}
	bus := &orders.KafkaBus{
		Created:     pCreated,
		Status:      pStatus,
		Cancelled:   pCancelled,
		Payment:     pPayment,
		ServiceName: cfg.ServiceName,
	}
	svc := orders.NewService(store, bus, log)

	router := httpx.NewRouter(rdb, cfg.RateLimitPerMin)
	oh := &httpx.OrdersHandler{
		API:     svc,
		Gateway: payments.NewMockGateway(),
		Redis:   rdb,
		Log:     log,
	}
	oh.Register(router)

	srv := &http.Server{Addr: cfg.HTTPAddr, Handler: router}

	go func() {
		log.Info("HTTP listening", zap.String("addr", cfg.HTTPAddr))
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatal("listen", zap.Error(err))
		}
	}()

	// wait signal
	sig := make(chan os.Signal, 1)
	signal.Notify(sig, syscall.SIGINT, syscall.SIGTERM)
	<-sig
	log.Info("shutting down")

	ctx2, cancel2 := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel2()
	_ = srv.Shutdown(ctx2)

	for _, p := range producers {
		p.Close() // stop intake, flush remaining
	}
	cancel()
	for _, p := range producers {
		p.WaitClosed()
	}
}
