package repository

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/gorm"

	"github.com/qs3c/ledger_go_server/internal/model"
	"github.com/qs3c/ledger_go_server/internal/testutil"
)

func countReferrals(t *testing.T, db *gorm.DB) int64 {
	t.Helper()

	var count int64
	require.NoError(t, db.Model(&model.Referral{}).Count(&count).Error)
	return count
}

func TestReferralRepository_Redeem(t *testing.T) {
	db := testutil.SetupTestDB(t)
	defer testutil.CleanupTestDB(t, db)

	repo := NewReferralRepository(db)
	referrer := testutil.TestUser(t, db, testutil.WithReferralCode("EDUCODE1", time.Now().Add(time.Hour)))
	referee := testutil.TestUser(t, db)

	now := time.Now()
	trialEnds := now.Add(72 * time.Hour)

	upgraded, err := repo.Redeem(referrer.ID, referee.ID, now, trialEnds)
	require.NoError(t, err)
	assert.Equal(t, model.PlanPro, upgraded.Plan)
	require.NotNil(t, upgraded.ProPlanExpirationDate)
	assert.WithinDuration(t, trialEnds, *upgraded.ProPlanExpirationDate, time.Second)

	var stored model.User
	require.NoError(t, db.Where("id = ?", referee.ID).First(&stored).Error)
	assert.Equal(t, model.PlanPro, stored.Plan)

	hasReferrer, err := repo.HasReferrer(referee.ID)
	require.NoError(t, err)
	assert.True(t, hasReferrer)
}

func TestReferralRepository_Redeem_Duplicate(t *testing.T) {
	db := testutil.SetupTestDB(t)
	defer testutil.CleanupTestDB(t, db)

	repo := NewReferralRepository(db)
	referrer := testutil.TestUser(t, db, testutil.WithPlan(model.PlanEdu))
	referee := testutil.TestUser(t, db)

	now := time.Now()
	_, err := repo.Redeem(referrer.ID, referee.ID, now, now.Add(72*time.Hour))
	require.NoError(t, err)

	_, err = repo.Redeem(referrer.ID, referee.ID, now, now.Add(72*time.Hour))
	assert.ErrorIs(t, err, ErrReferralExists)
	assert.Equal(t, int64(1), countReferrals(t, db))
}

func TestReferralRepository_Redeem_PayingRefereeRollsBack(t *testing.T) {
	db := testutil.SetupTestDB(t)
	defer testutil.CleanupTestDB(t, db)

	repo := NewReferralRepository(db)
	referrer := testutil.TestUser(t, db, testutil.WithPlan(model.PlanEdu))
	referee := testutil.TestUser(t, db, testutil.WithPlan(model.PlanPro))

	now := time.Now()
	_, err := repo.Redeem(referrer.ID, referee.ID, now, now.Add(72*time.Hour))
	assert.ErrorIs(t, err, ErrRefereeHasSubscription)

	// 推荐记录随事务回滚
	assert.Zero(t, countReferrals(t, db))

	var stored model.User
	require.NoError(t, db.Where("id = ?", referee.ID).First(&stored).Error)
	assert.Equal(t, model.PlanPro, stored.Plan)
	assert.Nil(t, stored.ProPlanExpirationDate)
}

func TestReferralRepository_Redeem_EduRefereeKeepsPlan(t *testing.T) {
	db := testutil.SetupTestDB(t)
	defer testutil.CleanupTestDB(t, db)

	repo := NewReferralRepository(db)
	referrer := testutil.TestUser(t, db, testutil.WithReferralCode("EDUCODE1", time.Now().Add(time.Hour)))
	referee := testutil.TestUser(t, db, testutil.WithReferralCode("EDUCODE2", time.Now().Add(time.Hour)))

	now := time.Now()
	_, err := repo.Redeem(referrer.ID, referee.ID, now, now.Add(72*time.Hour))
	assert.ErrorIs(t, err, ErrRefereeHasSubscription)
	assert.Zero(t, countReferrals(t, db))

	var stored model.User
	require.NoError(t, db.Where("id = ?", referee.ID).First(&stored).Error)
	assert.Equal(t, model.PlanEdu, stored.Plan)
	assert.Nil(t, stored.ProPlanExpirationDate)
	require.NotNil(t, stored.ReferralCode)
	assert.Equal(t, "EDUCODE2", *stored.ReferralCode)
}

func TestReferralRepository_Redeem_TrialRefereeExtended(t *testing.T) {
	db := testutil.SetupTestDB(t)
	defer testutil.CleanupTestDB(t, db)

	repo := NewReferralRepository(db)
	referrer := testutil.TestUser(t, db, testutil.WithPlan(model.PlanEdu))
	referee := testutil.TestUser(t, db, testutil.WithProExpiration(time.Now().Add(time.Hour)))

	now := time.Now()
	trialEnds := now.Add(72 * time.Hour)
	upgraded, err := repo.Redeem(referrer.ID, referee.ID, now, trialEnds)
	require.NoError(t, err)
	require.NotNil(t, upgraded.ProPlanExpirationDate)
	assert.WithinDuration(t, trialEnds, *upgraded.ProPlanExpirationDate, time.Second)
}

func TestReferralRepository_Redeem_UnknownReferee(t *testing.T) {
	db := testutil.SetupTestDB(t)
	defer testutil.CleanupTestDB(t, db)

	repo := NewReferralRepository(db)
	referrer := testutil.TestUser(t, db, testutil.WithPlan(model.PlanEdu))

	now := time.Now()
	_, err := repo.Redeem(referrer.ID, "missing", now, now.Add(time.Hour))
	assert.ErrorIs(t, err, gorm.ErrRecordNotFound)
	assert.Zero(t, countReferrals(t, db))
}

func TestReferralRepository_HasReferrerAndReferee(t *testing.T) {
	db := testutil.SetupTestDB(t)
	defer testutil.CleanupTestDB(t, db)

	repo := NewReferralRepository(db)
	referrer := testutil.TestUser(t, db, testutil.WithPlan(model.PlanEdu))
	referee := testutil.TestUser(t, db)
	testutil.TestReferral(t, db, referrer.ID, referee.ID, time.Now())

	has, err := repo.HasReferee(referrer.ID)
	require.NoError(t, err)
	assert.True(t, has)

	has, err = repo.HasReferrer(referrer.ID)
	require.NoError(t, err)
	assert.False(t, has)

	has, err = repo.HasReferrer(referee.ID)
	require.NoError(t, err)
	assert.True(t, has)
}

func TestReferralRepository_GetLatestByReferee(t *testing.T) {
	db := testutil.SetupTestDB(t)
	defer testutil.CleanupTestDB(t, db)

	repo := NewReferralRepository(db)
	first := testutil.TestUser(t, db, testutil.WithPlan(model.PlanEdu))
	second := testutil.TestUser(t, db, testutil.WithPlan(model.PlanEdu))
	referee := testutil.TestUser(t, db)

	testutil.TestReferral(t, db, first.ID, referee.ID, time.Now().Add(-48*time.Hour))
	testutil.TestReferral(t, db, second.ID, referee.ID, time.Now().Add(-time.Hour))

	latest, err := repo.GetLatestByReferee(referee.ID)
	require.NoError(t, err)
	assert.Equal(t, second.ID, latest.ReferrerID)

	_, err = repo.GetLatestByReferee(first.ID)
	assert.ErrorIs(t, err, gorm.ErrRecordNotFound)
}

func TestReferralRepository_ListReferees(t *testing.T) {
	db := testutil.SetupTestDB(t)
	defer testutil.CleanupTestDB(t, db)

	repo := NewReferralRepository(db)
	referrer := testutil.TestUser(t, db, testutil.WithPlan(model.PlanEdu))
	older := testutil.TestUser(t, db, testutil.WithEmail("older@example.com"))
	newer := testutil.TestUser(t, db, testutil.WithEmail("newer@example.com"), testutil.WithPlan(model.PlanPro))

	testutil.TestReferral(t, db, referrer.ID, older.ID, time.Now().Add(-48*time.Hour))
	testutil.TestReferral(t, db, referrer.ID, newer.ID, time.Now().Add(-time.Hour))

	rows, err := repo.ListReferees(referrer.ID)
	require.NoError(t, err)
	require.Len(t, rows, 2)
	assert.Equal(t, newer.ID, rows[0].UserID)
	assert.Equal(t, "newer@example.com", rows[0].Email)
	assert.Equal(t, model.PlanPro, rows[0].Plan)
	assert.Equal(t, older.ID, rows[1].UserID)

	empty, err := repo.ListReferees(older.ID)
	require.NoError(t, err)
	assert.Empty(t, empty)
}
