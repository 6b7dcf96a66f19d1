package service

import (
	"context"
	"errors"
	"sync"
	"time"

	"gorm.io/gorm"

	"github.com/qs3c/ledger_go_server/config"
	"github.com/qs3c/ledger_go_server/internal/model"
	"github.com/qs3c/ledger_go_server/internal/pkg/pubsub"
)

func testConfig() *config.Config {
	return &config.Config{
		Credits: config.CreditsConfig{
			Defaults: map[string]int{
				"gpt-4":     50,
				"image-gen": 30,
			},
		},
		Referral: config.ReferralConfig{
			TrialDays:          3,
			CodeTTLHours:       24,
			CodeLength:         8,
			RefreshWindowHours: 2,
		},
		Subscription: config.SubscriptionConfig{
			GracePeriodHours: 24,
		},
	}
}

func fixedClock(t time.Time) func() time.Time {
	return func() time.Time { return t }
}

// memoryCreditStore 没有原子操作的内存存储，readDelay 用来放大并发窗口
type memoryCreditStore struct {
	mu        sync.Mutex
	rows      map[string]*model.CreditBalance
	readDelay time.Duration
}

func newMemoryCreditStore() *memoryCreditStore {
	return &memoryCreditStore{rows: make(map[string]*model.CreditBalance)}
}

func (m *memoryCreditStore) Get(userID string, capability model.Capability) (*model.CreditBalance, error) {
	if m.readDelay > 0 {
		time.Sleep(m.readDelay)
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	row, ok := m.rows[lockKey(userID, capability)]
	if !ok {
		return nil, gorm.ErrRecordNotFound
	}
	copied := *row
	return &copied, nil
}

func (m *memoryCreditStore) CreateIfAbsent(userID string, capability model.Capability, balance int) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	key := lockKey(userID, capability)
	if _, ok := m.rows[key]; !ok {
		m.rows[key] = &model.CreditBalance{
			UserID:      userID,
			Capability:  capability,
			Balance:     balance,
			LastUpdated: time.Now().UTC(),
		}
	}
	return nil
}

func (m *memoryCreditStore) SetBalance(userID string, capability model.Capability, balance int) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	row, ok := m.rows[lockKey(userID, capability)]
	if !ok {
		return gorm.ErrRecordNotFound
	}
	row.Balance = balance
	row.LastUpdated = time.Now().UTC()
	return nil
}

func (m *memoryCreditStore) ResetAll(capability model.Capability, balance int) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	var n int64
	for _, row := range m.rows {
		if row.Capability == capability {
			row.Balance = balance
			n++
		}
	}
	return n, nil
}

type failingCreditStore struct {
	memoryCreditStore
	err error
}

func (f *failingCreditStore) Get(string, model.Capability) (*model.CreditBalance, error) {
	return nil, f.err
}

// recordingPublisher 记录发布的事件
type recordingPublisher struct {
	mu     sync.Mutex
	events []*pubsub.AccountEvent
	err    error
}

func (p *recordingPublisher) Publish(_ context.Context, event *pubsub.AccountEvent) error {
	p.mu.Lock()
	defer p.mu.Unlock()

	p.events = append(p.events, event)
	return p.err
}

func (p *recordingPublisher) Events() []*pubsub.AccountEvent {
	p.mu.Lock()
	defer p.mu.Unlock()

	return append([]*pubsub.AccountEvent(nil), p.events...)
}

// fakeCustomerDirectory 客户 ID 到邮箱的映射
type fakeCustomerDirectory struct {
	emails map[string]string
	err    error
	calls  int
}

func (f *fakeCustomerDirectory) CustomerEmail(_ context.Context, customerID string) (string, error) {
	f.calls++
	if f.err != nil {
		return "", f.err
	}
	return f.emails[customerID], nil
}

var errStoreDown = errors.New("store unavailable")
