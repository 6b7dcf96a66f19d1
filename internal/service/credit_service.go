package service

import (
	"errors"
	"sync"
	"time"

	"gorm.io/gorm"

	"github.com/qs3c/ledger_go_server/config"
	"github.com/qs3c/ledger_go_server/internal/model"
	"github.com/qs3c/ledger_go_server/internal/model/dto"
	"github.com/qs3c/ledger_go_server/internal/pkg/pubsub"
)

var (
	ErrUnknownCapability = errors.New("未知的计费能力")
	ErrCreditsExhausted  = errors.New("额度已用完")
)

// CreditStore 额度持久化端口，记录不存在时返回 gorm.ErrRecordNotFound
type CreditStore interface {
	Get(userID string, capability model.Capability) (*model.CreditBalance, error)
	CreateIfAbsent(userID string, capability model.Capability, balance int) error
	SetBalance(userID string, capability model.Capability, balance int) error
	ResetAll(capability model.Capability, balance int) (int64, error)
}

// AtomicCreditStore 能在存储层原子加减余额的实现
type AtomicCreditStore interface {
	CreditStore
	Increment(userID string, capability model.Capability, delta int) (int, error)
}

// UsageRecorder 记录并统计计费调用
type UsageRecorder interface {
	Add(userID string, capability model.Capability) error
	CountSince(userID string, capability model.Capability, since time.Time) (int64, error)
}

type CreditService struct {
	store     CreditStore
	usage     UsageRecorder
	publisher EventPublisher
	cfg       *config.Config
	locks     *keyedMutex
}

// NewCreditService usage 可以为 nil
func NewCreditService(store CreditStore, usage UsageRecorder, cfg *config.Config) *CreditService {
	return &CreditService{
		store: store,
		usage: usage,
		cfg:   cfg,
		locks: newKeyedMutex(),
	}
}

// SetPublisher 设置账户事件发布者
func (s *CreditService) SetPublisher(p EventPublisher) {
	s.publisher = p
}

func (s *CreditService) defaultFor(capability model.Capability) (int, error) {
	balance, ok := s.cfg.Credits.Defaults[string(capability)]
	if !ok {
		return 0, ErrUnknownCapability
	}
	return balance, nil
}

// GetBalance 获取余额，没有记录时按默认值创建
func (s *CreditService) GetBalance(userID string, capability model.Capability) (*model.CreditBalance, error) {
	def, err := s.defaultFor(capability)
	if err != nil {
		return nil, err
	}

	credit, err := s.store.Get(userID, capability)
	if err == nil {
		return credit, nil
	}
	if !errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, err
	}

	// 并发创建时只有一个会真正插入
	if err := s.store.CreateIfAbsent(userID, capability, def); err != nil {
		return nil, err
	}
	return s.store.Get(userID, capability)
}

// Debit 扣减一次额度
func (s *CreditService) Debit(userID string, capability model.Capability) error {
	_, err := s.adjust(userID, capability, -1)
	return err
}

// Credit 增加额度，amount 可以为负数用于冲正
func (s *CreditService) Credit(userID string, capability model.Capability, amount int) error {
	_, err := s.adjust(userID, capability, amount)
	return err
}

// ConsumeCredit 扣减一次额度并记录调用，返回剩余额度
func (s *CreditService) ConsumeCredit(userID string, capability model.Capability) (int, error) {
	balance, err := s.adjust(userID, capability, -1)
	if err != nil {
		return 0, err
	}
	if s.usage != nil {
		if err := s.usage.Add(userID, capability); err != nil {
			return 0, err
		}
	}
	return balance, nil
}

// ResetToDefault 余额恢复为默认值，与当前值无关
func (s *CreditService) ResetToDefault(userID string, capability model.Capability) error {
	def, err := s.defaultFor(capability)
	if err != nil {
		return err
	}

	if _, ok := s.store.(AtomicCreditStore); !ok {
		unlock := s.locks.Lock(lockKey(userID, capability))
		defer unlock()
	}

	err = s.store.SetBalance(userID, capability, def)
	if errors.Is(err, gorm.ErrRecordNotFound) {
		if err := s.store.CreateIfAbsent(userID, capability, def); err != nil {
			return err
		}
		err = s.store.SetBalance(userID, capability, def)
	}
	if err != nil {
		return err
	}

	s.publishBalance(userID, capability, def)
	return nil
}

// HasRunOutOfCredits 余额 <= 0
func (s *CreditService) HasRunOutOfCredits(userID string, capability model.Capability) (bool, error) {
	credit, err := s.GetBalance(userID, capability)
	if err != nil {
		return false, err
	}
	return credit.Balance <= 0, nil
}

// ResetAllToDefault 把某能力所有已有记录重置为默认值
func (s *CreditService) ResetAllToDefault(capability model.Capability) (int64, error) {
	def, err := s.defaultFor(capability)
	if err != nil {
		return 0, err
	}
	return s.store.ResetAll(capability, def)
}

// ResetAllCapabilities 定时任务使用，重置所有已配置的能力
func (s *CreditService) ResetAllCapabilities() (int64, error) {
	var total int64
	for _, capability := range model.Capabilities {
		if _, ok := s.cfg.Credits.Defaults[string(capability)]; !ok {
			continue
		}
		n, err := s.ResetAllToDefault(capability)
		if err != nil {
			return total, err
		}
		total += n
	}
	return total, nil
}

// GetCreditUsage 用户每个已配置能力的剩余额度，以及本月（UTC）调用次数
func (s *CreditService) GetCreditUsage(userID string) (*dto.CreditUsage, error) {
	now := time.Now().UTC()
	monthStart := time.Date(now.Year(), now.Month(), 1, 0, 0, 0, 0, time.UTC)

	usage := &dto.CreditUsage{Credits: []dto.CreditInfo{}}
	for _, capability := range model.Capabilities {
		if _, ok := s.cfg.Credits.Defaults[string(capability)]; !ok {
			continue
		}
		credit, err := s.GetBalance(userID, capability)
		if err != nil {
			return nil, err
		}
		info := toCreditInfo(credit)
		if s.usage != nil {
			used, err := s.usage.CountSince(userID, capability, monthStart)
			if err != nil {
				return nil, err
			}
			info.UsedThisMonth = used
		}
		usage.Credits = append(usage.Credits, info)
	}
	return usage, nil
}

func (s *CreditService) adjust(userID string, capability model.Capability, delta int) (int, error) {
	def, err := s.defaultFor(capability)
	if err != nil {
		return 0, err
	}

	var balance int
	if atomic, ok := s.store.(AtomicCreditStore); ok {
		balance, err = atomic.Increment(userID, capability, delta)
		if errors.Is(err, gorm.ErrRecordNotFound) {
			if err := s.store.CreateIfAbsent(userID, capability, def); err != nil {
				return 0, err
			}
			balance, err = atomic.Increment(userID, capability, delta)
		}
		if err != nil {
			return 0, err
		}
	} else {
		balance, err = s.adjustLocked(userID, capability, delta)
		if err != nil {
			return 0, err
		}
	}

	s.publishBalance(userID, capability, balance)
	return balance, nil
}

// adjustLocked 存储不支持原子操作时，按 (用户, 能力) 串行化读改写
func (s *CreditService) adjustLocked(userID string, capability model.Capability, delta int) (int, error) {
	unlock := s.locks.Lock(lockKey(userID, capability))
	defer unlock()

	credit, err := s.GetBalance(userID, capability)
	if err != nil {
		return 0, err
	}

	balance := credit.Balance + delta
	if err := s.store.SetBalance(userID, capability, balance); err != nil {
		return 0, err
	}
	return balance, nil
}

func (s *CreditService) publishBalance(userID string, capability model.Capability, balance int) {
	publishEvent(s.publisher, &pubsub.AccountEvent{
		Type:       pubsub.EventCreditsChanged,
		UserID:     userID,
		Capability: string(capability),
		Balance:    &balance,
	})
}

func toCreditInfo(credit *model.CreditBalance) dto.CreditInfo {
	info := dto.CreditInfo{
		Capability: string(credit.Capability),
		Balance:    credit.Balance,
	}
	if !credit.LastUpdated.IsZero() {
		info.LastUpdated = credit.LastUpdated.Format(time.RFC3339)
	}
	return info
}

func lockKey(userID string, capability model.Capability) string {
	return userID + "|" + string(capability)
}

// keyedMutex 每个 key 一把锁，无人持有时回收
type keyedMutex struct {
	mu    sync.Mutex
	locks map[string]*keyedLock
}

type keyedLock struct {
	mu   sync.Mutex
	refs int
}

func newKeyedMutex() *keyedMutex {
	return &keyedMutex{locks: make(map[string]*keyedLock)}
}

func (k *keyedMutex) Lock(key string) func() {
	k.mu.Lock()
	l, ok := k.locks[key]
	if !ok {
		l = &keyedLock{}
		k.locks[key] = l
	}
	l.refs++
	k.mu.Unlock()

	l.mu.Lock()

	return func() {
		l.mu.Unlock()

		k.mu.Lock()
		l.refs--
		if l.refs == 0 {
			delete(k.locks, key)
		}
		k.mu.Unlock()
	}
}
