package service

import (
	"crypto/rand"
	"errors"
	"fmt"
	"log"
	"math/big"
	"time"

	"gorm.io/gorm"

	"github.com/qs3c/ledger_go_server/config"
	"github.com/qs3c/ledger_go_server/internal/model"
	"github.com/qs3c/ledger_go_server/internal/model/dto"
	"github.com/qs3c/ledger_go_server/internal/pkg/pubsub"
	"github.com/qs3c/ledger_go_server/internal/repository"
)

var (
	ErrInvalidReferral      = errors.New("推荐码无效")
	ErrSelfReferral         = fmt.Errorf("%w: 不能使用自己的推荐码", ErrInvalidReferral)
	ErrReferralCodeNotFound = fmt.Errorf("%w: 推荐码不存在", ErrInvalidReferral)
	ErrReferralCodeExpired  = fmt.Errorf("%w: 推荐码已过期", ErrInvalidReferral)
	ErrDuplicateReferral    = errors.New("已兑换过该推荐")
	ErrAlreadySubscribed    = errors.New("已是付费用户，无需试用")
	ErrNotEduUser           = errors.New("仅教育版用户可以使用推荐码")
	ErrCodeGeneration       = errors.New("推荐码生成失败，请重试")
)

const (
	referralAlphabet = "ABCDEFGHIJKLMNOPQRSTUVWXYZ0123456789"
	maxCodeAttempts  = 5
)

// ReferralUserStore 推荐码相关的用户持久化端口
type ReferralUserStore interface {
	GetByID(id string) (*model.User, error)
	GetByReferralCode(code string) (*model.User, error)
	SetReferralCode(id, code string, expiresAt time.Time) error
	ListEduUsers() ([]*model.User, error)
	RefreshReferralCodes(updates []repository.ReferralCodeUpdate) error
}

// ReferralStore 推荐记录持久化端口，Redeem 必须是原子的
type ReferralStore interface {
	Redeem(referrerID, refereeID string, redeemedAt, trialEnds time.Time) (*model.User, error)
	ListReferees(referrerID string) ([]*repository.RefereeRow, error)
}

type ReferralService struct {
	users     ReferralUserStore
	referrals ReferralStore
	publisher EventPublisher
	cfg       *config.Config
	now       func() time.Time
	newCode   func() (string, error)
}

func NewReferralService(users ReferralUserStore, referrals ReferralStore, cfg *config.Config) *ReferralService {
	s := &ReferralService{
		users:     users,
		referrals: referrals,
		cfg:       cfg,
		now:       func() time.Time { return time.Now().UTC() },
	}
	s.newCode = func() (string, error) {
		return generateReferralCode(cfg.Referral.CodeLen())
	}
	return s
}

// SetPublisher 设置账户事件发布者
func (s *ReferralService) SetPublisher(p EventPublisher) {
	s.publisher = p
}

// GetOrCreateReferralCode 已有未过期的推荐码原样返回，否则生成新码
func (s *ReferralService) GetOrCreateReferralCode(userID string) (*dto.ReferralCodeInfo, error) {
	user, err := s.getEduUser(userID)
	if err != nil {
		return nil, err
	}

	if user.ReferralCode != nil && user.ReferralCodeExpirationDate != nil &&
		s.now().Before(*user.ReferralCodeExpirationDate) {
		return toReferralCodeInfo(*user.ReferralCode, *user.ReferralCodeExpirationDate), nil
	}

	return s.issueCode(user.ID)
}

// RegenerateReferralCode 总是生成新码
func (s *ReferralService) RegenerateReferralCode(userID string) (*dto.ReferralCodeInfo, error) {
	user, err := s.getEduUser(userID)
	if err != nil {
		return nil, err
	}
	return s.issueCode(user.ID)
}

// ValidateCode 精确匹配且未过期才算有效
func (s *ReferralService) ValidateCode(code string) (*dto.ReferralValidation, error) {
	referrer, err := s.lookupCode(code)
	if err != nil {
		if errors.Is(err, ErrInvalidReferral) {
			return &dto.ReferralValidation{IsValid: false}, nil
		}
		return nil, err
	}
	return &dto.ReferralValidation{IsValid: true, ReferrerID: referrer.ID}, nil
}

// Redeem 写入推荐记录并给被推荐人开通试用，两步在同一事务中完成
func (s *ReferralService) Redeem(referrerID, refereeID string) (*model.User, error) {
	if referrerID == refereeID {
		return nil, ErrSelfReferral
	}

	now := s.now()
	referee, err := s.referrals.Redeem(referrerID, refereeID, now, now.Add(s.cfg.Referral.TrialDuration()))
	if err != nil {
		switch {
		case errors.Is(err, repository.ErrReferralExists):
			return nil, ErrDuplicateReferral
		case errors.Is(err, repository.ErrRefereeHasSubscription):
			return nil, ErrAlreadySubscribed
		case errors.Is(err, gorm.ErrRecordNotFound):
			return nil, ErrUserNotFound
		}
		return nil, err
	}

	log.Printf("Referral redeemed: referrer=%s referee=%s", referrerID, refereeID)

	event := &pubsub.AccountEvent{
		Type:   pubsub.EventPlanChanged,
		UserID: referee.ID,
		Plan:   referee.Plan,
	}
	if referee.ProPlanExpirationDate != nil {
		event.ProPlanExpirationDate = referee.ProPlanExpirationDate.Format(time.RFC3339)
	}
	publishEvent(s.publisher, event)

	return referee, nil
}

// RedeemCode 校验推荐码后兑换
func (s *ReferralService) RedeemCode(code, refereeID string) (*dto.RedeemResponse, error) {
	referrer, err := s.lookupCode(code)
	if err != nil {
		return nil, err
	}

	referee, err := s.Redeem(referrer.ID, refereeID)
	if err != nil {
		return nil, err
	}

	resp := &dto.RedeemResponse{Plan: referee.Plan}
	if referee.ProPlanExpirationDate != nil {
		resp.ProPlanExpirationDate = referee.ProPlanExpirationDate.Format(time.RFC3339)
	}
	return resp, nil
}

// BatchRefreshReferralCodes 为没有推荐码或即将过期的 edu 用户换新码，返回更新数量
func (s *ReferralService) BatchRefreshReferralCodes() (int, error) {
	users, err := s.users.ListEduUsers()
	if err != nil {
		return 0, err
	}

	now := s.now()
	windowEnd := now.Add(s.cfg.Referral.RefreshWindow())
	expiresAt := now.Add(s.cfg.Referral.CodeTTL())

	var due []*model.User
	for _, user := range users {
		if user.ReferralCode == nil || user.ReferralCodeExpirationDate == nil ||
			user.ReferralCodeExpirationDate.Before(windowEnd) {
			due = append(due, user)
		}
	}
	if len(due) == 0 {
		return 0, nil
	}

	for attempt := 0; attempt < maxCodeAttempts; attempt++ {
		updates, err := s.buildUpdates(due, expiresAt)
		if err != nil {
			return 0, err
		}

		err = s.users.RefreshReferralCodes(updates)
		if err == nil {
			log.Printf("Refreshed %d referral codes", len(updates))
			return len(updates), nil
		}
		if !errors.Is(err, gorm.ErrDuplicatedKey) {
			return 0, err
		}
	}
	return 0, ErrCodeGeneration
}

// GetReferees 推荐人名下的被推荐人
func (s *ReferralService) GetReferees(referrerID string) ([]dto.RefereeProfile, error) {
	rows, err := s.referrals.ListReferees(referrerID)
	if err != nil {
		return nil, err
	}

	profiles := make([]dto.RefereeProfile, 0, len(rows))
	for _, row := range rows {
		profiles = append(profiles, dto.RefereeProfile{
			ID:           row.UserID,
			Email:        row.Email,
			Plan:         row.Plan,
			ReferralDate: row.ReferralDate.UTC().Format(time.RFC3339),
		})
	}
	return profiles, nil
}

func (s *ReferralService) buildUpdates(users []*model.User, expiresAt time.Time) ([]repository.ReferralCodeUpdate, error) {
	seen := make(map[string]struct{}, len(users))
	updates := make([]repository.ReferralCodeUpdate, 0, len(users))

	for _, user := range users {
		var code string
		for {
			c, err := s.newCode()
			if err != nil {
				return nil, err
			}
			if _, dup := seen[c]; !dup {
				code = c
				break
			}
		}
		seen[code] = struct{}{}

		updates = append(updates, repository.ReferralCodeUpdate{
			UserID:    user.ID,
			Code:      code,
			ExpiresAt: expiresAt,
		})
	}
	return updates, nil
}

func (s *ReferralService) getEduUser(userID string) (*model.User, error) {
	user, err := s.users.GetByID(userID)
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrUserNotFound
		}
		return nil, err
	}
	if user.Plan != model.PlanEdu {
		return nil, ErrNotEduUser
	}
	return user, nil
}

// issueCode 与已有推荐码冲突时重试
func (s *ReferralService) issueCode(userID string) (*dto.ReferralCodeInfo, error) {
	expiresAt := s.now().Add(s.cfg.Referral.CodeTTL())

	for attempt := 0; attempt < maxCodeAttempts; attempt++ {
		code, err := s.newCode()
		if err != nil {
			return nil, err
		}

		err = s.users.SetReferralCode(userID, code, expiresAt)
		switch {
		case err == nil:
			return toReferralCodeInfo(code, expiresAt), nil
		case errors.Is(err, gorm.ErrDuplicatedKey):
			continue
		case errors.Is(err, gorm.ErrRecordNotFound):
			// 生成过程中套餐已变
			return nil, ErrNotEduUser
		default:
			return nil, err
		}
	}
	return nil, ErrCodeGeneration
}

func (s *ReferralService) lookupCode(code string) (*model.User, error) {
	if code == "" {
		return nil, ErrReferralCodeNotFound
	}

	user, err := s.users.GetByReferralCode(code)
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrReferralCodeNotFound
		}
		return nil, err
	}

	if user.Plan != model.PlanEdu || user.ReferralCodeExpirationDate == nil {
		return nil, ErrReferralCodeNotFound
	}
	if !s.now().Before(*user.ReferralCodeExpirationDate) {
		return nil, ErrReferralCodeExpired
	}
	return user, nil
}

func toReferralCodeInfo(code string, expiresAt time.Time) *dto.ReferralCodeInfo {
	return &dto.ReferralCodeInfo{
		Code:      code,
		ExpiresAt: expiresAt.UTC().Format(time.RFC3339),
	}
}

func generateReferralCode(length int) (string, error) {
	max := big.NewInt(int64(len(referralAlphabet)))
	b := make([]byte, length)
	for i := range b {
		n, err := rand.Int(rand.Reader, max)
		if err != nil {
			return "", err
		}
		b[i] = referralAlphabet[n.Int64()]
	}
	return string(b), nil
}
