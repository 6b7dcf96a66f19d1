package service

import (
	"errors"
	"time"

	"gorm.io/gorm"

	"github.com/qs3c/ledger_go_server/config"
	"github.com/qs3c/ledger_go_server/internal/model"
	"github.com/qs3c/ledger_go_server/internal/model/dto"
	"github.com/qs3c/ledger_go_server/internal/repository"
)

var ErrUserNotFound = errors.New("用户不存在")

type UserService struct {
	userRepo     *repository.UserRepository
	referralRepo *repository.ReferralRepository
	cfg          *config.Config
	now          func() time.Time
}

func NewUserService(userRepo *repository.UserRepository, referralRepo *repository.ReferralRepository, cfg *config.Config) *UserService {
	return &UserService{
		userRepo:     userRepo,
		referralRepo: referralRepo,
		cfg:          cfg,
		now:          func() time.Time { return time.Now().UTC() },
	}
}

// GetProfile 获取用户账户信息及推荐关系
func (s *UserService) GetProfile(userID string) (*dto.UserProfile, error) {
	user, err := s.getUser(userID)
	if err != nil {
		return nil, err
	}

	profile := buildUserProfile(user)

	profile.HasReferrer, err = s.referralRepo.HasReferrer(user.ID)
	if err != nil {
		return nil, err
	}
	profile.HasReferee, err = s.referralRepo.HasReferee(user.ID)
	if err != nil {
		return nil, err
	}

	if profile.HasReferrer {
		latest, err := s.referralRepo.GetLatestByReferee(user.ID)
		if err != nil && !errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, err
		}
		if latest != nil {
			trialEnds := latest.ReferralDate.Add(s.cfg.Referral.TrialDuration())
			profile.IsInReferralTrial = s.now().Before(trialEnds)
		}
	}

	return profile, nil
}

// IsPaidUser free 以外的套餐
func (s *UserService) IsPaidUser(userID string) (bool, error) {
	user, err := s.getUser(userID)
	if err != nil {
		return false, err
	}
	return user.IsPaid(), nil
}

func (s *UserService) getUser(userID string) (*model.User, error) {
	user, err := s.userRepo.GetByID(userID)
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrUserNotFound
		}
		return nil, err
	}
	return user, nil
}

func buildUserProfile(user *model.User) *dto.UserProfile {
	profile := &dto.UserProfile{
		ID:    user.ID,
		Email: user.Email,
		Plan:  user.Plan,
	}

	if user.ReferralCode != nil {
		profile.ReferralCode = *user.ReferralCode
	}
	if user.ReferralCodeExpirationDate != nil {
		profile.ReferralCodeExpirationDate = user.ReferralCodeExpirationDate.UTC().Format(time.RFC3339)
	}
	if user.ProPlanExpirationDate != nil {
		profile.ProPlanExpirationDate = user.ProPlanExpirationDate.UTC().Format(time.RFC3339)
	}

	return profile
}
