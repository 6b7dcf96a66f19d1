package main

import (
	"context"
	"flag"
	"log"
	"os"
	"strings"
	"time"

	"github.com/qs3c/ledger_go_server/config"
	"github.com/qs3c/ledger_go_server/internal/database"
	"github.com/qs3c/ledger_go_server/internal/pkg/queue"
	"github.com/qs3c/ledger_go_server/internal/repository"
	"github.com/qs3c/ledger_go_server/internal/service"
)

var (
	dryRun       = flag.Bool("dry-run", true, "Dry run mode, only report what would change")
	downgrade    = flag.Bool("downgrade", true, "Downgrade pro accounts expired beyond the grace period")
	refreshCodes = flag.Bool("refresh-codes", false, "Refresh missing or expiring referral codes")
	showFailures = flag.Int64("failed-events", 0, "Show the oldest N failed webhook events")
)

func main() {
	flag.Parse()

	log.Println("Starting account sweep...")
	log.Printf("Mode: dry-run=%v", *dryRun)

	// 加载配置
	configPath := os.Getenv("CONFIG_PATH")
	if configPath == "" {
		configPath = "config.yaml"
	}
	cfg, err := config.Load(configPath)
	if err != nil {
		log.Fatalf("Failed to load config: %v", err)
	}

	db, err := database.NewMySQL(&cfg.Database, "release")
	if err != nil {
		log.Fatalf("Failed to connect to database: %v", err)
	}

	userRepo := repository.NewUserRepository(db)
	subscriptionService := service.NewSubscriptionService(userRepo, nil, cfg)
	referralService := service.NewReferralService(userRepo, repository.NewReferralRepository(db), cfg)

	// 1. 过期 pro 降级
	if *downgrade {
		sweepExpiredPro(subscriptionService, cfg.Subscription.GracePeriod(), *dryRun)
	}

	// 2. 推荐码刷新
	if *refreshCodes {
		if *dryRun {
			log.Println("Referral code refresh skipped in dry run")
		} else {
			n, err := referralService.BatchRefreshReferralCodes()
			if err != nil {
				log.Fatalf("Failed to refresh referral codes: %v", err)
			}
			log.Printf("Refreshed %d referral codes", n)
		}
	}

	// 3. 查看失败的 webhook 事件
	if *showFailures > 0 {
		printFailedEvents(cfg, *showFailures)
	}

	log.Println(strings.Repeat("=", 60))
	if *dryRun {
		log.Println("DRY RUN MODE - nothing was changed")
		log.Println("Run with -dry-run=false to apply")
	} else {
		log.Println("Sweep completed")
	}
}

func sweepExpiredPro(s *service.SubscriptionService, grace time.Duration, dryRun bool) {
	log.Printf("Checking pro accounts expired more than %s ago...", grace)

	users, err := s.ListExpiredProAccounts()
	if err != nil {
		log.Fatalf("Failed to list expired accounts: %v", err)
	}

	for _, u := range users {
		log.Printf("  - %s %s (expired %s)", u.ID, u.Email, u.ProPlanExpirationDate.Format(time.RFC3339))
	}
	log.Printf("Found %d expired pro accounts", len(users))

	if dryRun || len(users) == 0 {
		return
	}

	n, err := s.DowngradeExpiredProAccounts()
	if err != nil {
		log.Fatalf("Failed to downgrade: %v", err)
	}
	log.Printf("Downgraded %d accounts", n)
}

func printFailedEvents(cfg *config.Config, n int64) {
	rdb, err := database.NewRedis(&cfg.Redis)
	if err != nil {
		log.Fatalf("Failed to connect redis: %v", err)
	}
	defer rdb.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	dlq := queue.NewQueue(rdb, cfg.Alert.DeadLetterQueue)
	total, err := dlq.Length(ctx)
	if err != nil {
		log.Fatalf("Failed to read failed events: %v", err)
	}

	events, err := dlq.Peek(ctx, n)
	if err != nil {
		log.Fatalf("Failed to read failed events: %v", err)
	}

	log.Printf("Failed webhook events: %d total", total)
	for _, e := range events {
		log.Printf("  - %s %s at %s: %s", e.EventID, e.Type, e.FailedAt.Format(time.RFC3339), e.Error)
	}
}
