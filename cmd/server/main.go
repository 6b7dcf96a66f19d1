package main

import (
	"context"
	"errors"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/qs3c/ledger_go_server/config"
	"github.com/qs3c/ledger_go_server/internal/api"
	"github.com/qs3c/ledger_go_server/internal/api/handler"
	"github.com/qs3c/ledger_go_server/internal/billing"
	"github.com/qs3c/ledger_go_server/internal/database"
	"github.com/qs3c/ledger_go_server/internal/pkg/alert"
	"github.com/qs3c/ledger_go_server/internal/pkg/email"
	"github.com/qs3c/ledger_go_server/internal/pkg/pubsub"
	"github.com/qs3c/ledger_go_server/internal/pkg/queue"
	"github.com/qs3c/ledger_go_server/internal/pkg/ws"
	"github.com/qs3c/ledger_go_server/internal/repository"
	"github.com/qs3c/ledger_go_server/internal/service"
)

func main() {
	// 加载配置
	configPath := os.Getenv("CONFIG_PATH")
	if configPath == "" {
		configPath = "config.yaml"
	}
	cfg, err := config.Load(configPath)
	if err != nil {
		log.Fatalf("Failed to load config: %v", err)
	}

	// 初始化数据库
	db, err := database.NewMySQL(&cfg.Database, cfg.Server.Mode)
	if err != nil {
		log.Fatalf("Failed to connect database: %v", err)
	}
	log.Println("Database connected")

	// 初始化 Redis
	rdb, err := database.NewRedis(&cfg.Redis)
	if err != nil {
		log.Fatalf("Failed to connect redis: %v", err)
	}
	log.Println("Redis connected")

	publisher := pubsub.NewPublisher(rdb)
	notifier := alert.NewNotifier(
		email.NewService(&cfg.Email),
		queue.NewQueue(rdb, cfg.Alert.DeadLetterQueue),
		cfg.Alert.OperatorEmail,
	)
	stripeClient := billing.NewStripe(&cfg.Stripe)

	// 初始化 Repository
	userRepo := repository.NewUserRepository(db)
	creditRepo := repository.NewCreditRepository(db)
	referralRepo := repository.NewReferralRepository(db)
	usageRepo := repository.NewUsageRepository(db)

	// 初始化 Service
	userService := service.NewUserService(userRepo, referralRepo, cfg)
	creditService := service.NewCreditService(creditRepo, usageRepo, cfg)
	creditService.SetPublisher(publisher)
	referralService := service.NewReferralService(userRepo, referralRepo, cfg)
	referralService.SetPublisher(publisher)
	subscriptionService := service.NewSubscriptionService(userRepo, stripeClient, cfg)
	subscriptionService.SetPublisher(publisher)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// 账户事件经 Redis 转发到本实例的 WebSocket 连接
	wsHub := ws.NewHub()
	go func() {
		err := pubsub.NewSubscriber(rdb).Subscribe(ctx, wsHub.HandleAccountEvent)
		if err != nil && !errors.Is(err, context.Canceled) {
			log.Printf("Account event subscription stopped: %v", err)
		}
	}()
	log.Println("WebSocket hub started")

	// 初始化 Handler
	router := api.NewRouter(
		handler.NewUserHandler(userService),
		handler.NewCreditHandler(creditService),
		handler.NewReferralHandler(referralService),
		handler.NewWebhookHandler(stripeClient, subscriptionService, notifier),
		handler.NewWebSocketHandler(wsHub, cfg.JWT.Secret, cfg.CORS.AllowedOrigins),
		userService,
		creditService,
		cfg,
	)

	addr := fmt.Sprintf("%s:%d", cfg.Server.Host, cfg.Server.Port)
	srv := &http.Server{
		Addr:    addr,
		Handler: router.Setup(),
	}

	go func() {
		log.Printf("Server starting on %s", addr)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Fatalf("Failed to start server: %v", err)
		}
	}()

	// 监听退出信号
	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)
	<-sigChan
	log.Println("Received shutdown signal")
	cancel()

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer shutdownCancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Printf("Server shutdown error: %v", err)
	}
	log.Println("Server shutdown complete")
}
