package cron

import (
	"context"
	"errors"
	"fmt"
	"log"
	"sync"
	"time"

	"github.com/qs3c/ledger_go_server/config"
	"github.com/qs3c/ledger_go_server/internal/pkg/lock"
)

// 任务名，同时用作分布式锁的 key
const (
	JobDowngradeExpiredPro  = "downgrade_expired_pro"
	JobRefreshReferralCodes = "refresh_referral_codes"
	JobResetMonthlyCredits  = "reset_monthly_credits"
)

var ErrUnknownJob = errors.New("未知的定时任务")

const lockTTL = 10 * time.Minute

type Downgrader interface {
	DowngradeExpiredProAccounts() (int64, error)
}

type ReferralRefresher interface {
	BatchRefreshReferralCodes() (int, error)
}

type CreditResetter interface {
	ResetAllCapabilities() (int64, error)
}

type Locker interface {
	Acquire(ctx context.Context, name string, ttl time.Duration) (*lock.Lock, error)
}

type Service struct {
	downgrader Downgrader
	refresher  ReferralRefresher
	resetter   CreditResetter
	locker     Locker
	cfg        config.SchedulerConfig
	stopChan   chan struct{}
	stopOnce   sync.Once
	wg         sync.WaitGroup
}

func NewService(
	downgrader Downgrader,
	refresher ReferralRefresher,
	resetter CreditResetter,
	locker Locker,
	cfg config.SchedulerConfig,
) *Service {
	return &Service{
		downgrader: downgrader,
		refresher:  refresher,
		resetter:   resetter,
		locker:     locker,
		cfg:        cfg,
		stopChan:   make(chan struct{}),
	}
}

// Start 启动定时任务。按间隔执行的任务启动时先跑一次，
// 频繁重启的进程也不会错过降级扫描
func (s *Service) Start() {
	s.loop(JobDowngradeExpiredPro, true, func(time.Time) time.Duration { return s.cfg.DowngradeInterval() })
	s.loop(JobRefreshReferralCodes, true, func(time.Time) time.Duration { return s.cfg.ReferralRefreshInterval() })
	if s.cfg.CreditResetEnabled {
		// 月度重置只在每月 1 号执行
		s.loop(JobResetMonthlyCredits, false, untilNextMonth)
	}
	log.Printf("Cron service started (downgrade every %s, referral refresh every %s, monthly credit reset=%v)",
		s.cfg.DowngradeInterval(), s.cfg.ReferralRefreshInterval(), s.cfg.CreditResetEnabled)
}

// Stop 停止定时任务，等待正在执行的任务结束
func (s *Service) Stop() {
	s.stopOnce.Do(func() { close(s.stopChan) })
	s.wg.Wait()
	log.Println("Cron service stopped")
}

// loop next 返回距离下一次执行的时间
func (s *Service) loop(job string, runAtStart bool, next func(now time.Time) time.Duration) {
	s.wg.Add(1)
	go func() {
		defer s.wg.Done()

		if runAtStart {
			select {
			case <-s.stopChan:
				return
			default:
			}
			if err := s.run(job); err != nil {
				log.Printf("Cron job %s failed: %v", job, err)
			}
		}

		timer := time.NewTimer(next(time.Now().UTC()))
		defer timer.Stop()

		for {
			select {
			case <-s.stopChan:
				return
			case <-timer.C:
				if err := s.run(job); err != nil {
					log.Printf("Cron job %s failed: %v", job, err)
				}
				timer.Reset(next(time.Now().UTC()))
			}
		}
	}()
}

// RunNow 立即执行一个任务（用于测试或手动触发）
func (s *Service) RunNow(job string) error {
	log.Printf("Manual run of %s triggered...", job)
	return s.run(job)
}

func (s *Service) run(job string) error {
	task, err := s.task(job)
	if err != nil {
		return err
	}

	if s.locker != nil {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		lk, err := s.locker.Acquire(ctx, job, lockTTL)
		cancel()
		if errors.Is(err, lock.ErrNotAcquired) {
			log.Printf("Cron job %s is running elsewhere, skipped", job)
			return nil
		}
		if err != nil {
			return fmt.Errorf("acquire lock: %w", err)
		}
		defer func() {
			ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			if err := lk.Release(ctx); err != nil {
				log.Printf("Failed to release lock for %s: %v", job, err)
			}
		}()
	}

	start := time.Now()
	n, err := task()
	if err != nil {
		return err
	}
	log.Printf("Cron job %s completed: affected=%d, took=%s", job, n, time.Since(start).Round(time.Millisecond))
	return nil
}

func (s *Service) task(job string) (func() (int64, error), error) {
	switch job {
	case JobDowngradeExpiredPro:
		if s.downgrader != nil {
			return s.downgrader.DowngradeExpiredProAccounts, nil
		}
	case JobRefreshReferralCodes:
		if s.refresher != nil {
			return func() (int64, error) {
				n, err := s.refresher.BatchRefreshReferralCodes()
				return int64(n), err
			}, nil
		}
	case JobResetMonthlyCredits:
		if s.resetter != nil {
			return s.resetter.ResetAllCapabilities, nil
		}
	}
	return nil, fmt.Errorf("%w: %s", ErrUnknownJob, job)
}

// untilNextMonth 距离下个月 1 号 00:00 UTC 的时间
func untilNextMonth(now time.Time) time.Duration {
	now = now.UTC()
	next := time.Date(now.Year(), now.Month()+1, 1, 0, 0, 0, 0, time.UTC)
	return next.Sub(now)
}
