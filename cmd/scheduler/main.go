package main

import (
	"flag"
	"log"
	"os"
	"os/signal"
	"syscall"

	"github.com/qs3c/ledger_go_server/config"
	"github.com/qs3c/ledger_go_server/internal/database"
	"github.com/qs3c/ledger_go_server/internal/pkg/cron"
	"github.com/qs3c/ledger_go_server/internal/pkg/lock"
	"github.com/qs3c/ledger_go_server/internal/pkg/pubsub"
	"github.com/qs3c/ledger_go_server/internal/repository"
	"github.com/qs3c/ledger_go_server/internal/service"
)

var runOnce = flag.String("run", "", "Run a single job and exit (downgrade_expired_pro, refresh_referral_codes, reset_monthly_credits)")

func main() {
	flag.Parse()

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

	// 初始化 Repository 和 Service
	userRepo := repository.NewUserRepository(db)
	subscriptionService := service.NewSubscriptionService(userRepo, nil, cfg)
	subscriptionService.SetPublisher(publisher)
	referralService := service.NewReferralService(userRepo, repository.NewReferralRepository(db), cfg)
	creditService := service.NewCreditService(repository.NewCreditRepository(db), nil, cfg)

	cronService := cron.NewService(
		subscriptionService,
		referralService,
		creditService,
		lock.NewLocker(rdb, cfg.Scheduler.LockPrefix),
		cfg.Scheduler,
	)

	if *runOnce != "" {
		if err := cronService.RunNow(*runOnce); err != nil {
			log.Fatalf("Job %s failed: %v", *runOnce, err)
		}
		return
	}

	cronService.Start()

	// 监听退出信号
	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)
	<-sigChan
	log.Println("Received shutdown signal")

	cronService.Stop()
	log.Println("Scheduler shutdown complete")
}
