package handler

import (
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/gorm"

	"github.com/qs3c/ledger_go_server/internal/model"
	"github.com/qs3c/ledger_go_server/internal/model/dto"
	"github.com/qs3c/ledger_go_server/internal/pkg/response"
	"github.com/qs3c/ledger_go_server/internal/repository"
	"github.com/qs3c/ledger_go_server/internal/service"
	"github.com/qs3c/ledger_go_server/internal/testutil"
)

func setupReferralRouter(t *testing.T, userID string, db *gorm.DB) *gin.Engine {
	t.Helper()

	referralService := service.NewReferralService(repository.NewUserRepository(db), repository.NewReferralRepository(db), testConfig())
	handler := NewReferralHandler(referralService)

	router := gin.New()
	router.Use(mockAuth(userID))
	router.GET("/referral/code", handler.GetCode)
	router.POST("/referral/code/regenerate", handler.Regenerate)
	router.GET("/referral/validate", handler.Validate)
	router.POST("/referral/redeem", handler.Redeem)
	router.GET("/referral/referees", handler.Referees)
	return router
}

func TestReferralHandler_GetCode_Stable(t *testing.T) {
	db := testutil.SetupTestDB(t)
	defer testutil.CleanupTestDB(t, db)

	edu := testutil.TestUser(t, db, testutil.WithPlan(model.PlanEdu))
	router := setupReferralRouter(t, edu.ID, db)

	w := performRequest(router, "GET", "/referral/code", nil)
	resp := parseResponse(t, w)
	require.Equal(t, response.CodeSuccess, resp.Code)
	first := dataMap(t, resp)["code"]
	assert.Len(t, first, 8)

	w = performRequest(router, "GET", "/referral/code", nil)
	resp = parseResponse(t, w)
	require.Equal(t, response.CodeSuccess, resp.Code)
	assert.Equal(t, first, dataMap(t, resp)["code"])

	w = performRequest(router, "POST", "/referral/code/regenerate", nil)
	resp = parseResponse(t, w)
	require.Equal(t, response.CodeSuccess, resp.Code)
	assert.NotEqual(t, first, dataMap(t, resp)["code"])
}

func TestReferralHandler_GetCode_NotEdu(t *testing.T) {
	db := testutil.SetupTestDB(t)
	defer testutil.CleanupTestDB(t, db)

	user := testutil.TestUser(t, db)
	router := setupReferralRouter(t, user.ID, db)

	w := performRequest(router, "GET", "/referral/code", nil)
	resp := parseResponse(t, w)
	assert.Equal(t, response.CodePermissionDenied, resp.Code)
}

func TestReferralHandler_Validate(t *testing.T) {
	db := testutil.SetupTestDB(t)
	defer testutil.CleanupTestDB(t, db)

	edu := testutil.TestUser(t, db, testutil.WithReferralCode("VALID123", time.Now().Add(time.Hour)))
	testutil.TestUser(t, db, testutil.WithReferralCode("STALE123", time.Now().Add(-time.Hour)))
	router := setupReferralRouter(t, "u-1", db)

	w := performRequest(router, "GET", "/referral/validate?code=VALID123", nil)
	resp := parseResponse(t, w)
	require.Equal(t, response.CodeSuccess, resp.Code)
	assert.Equal(t, true, dataMap(t, resp)["is_valid"])
	assert.Equal(t, edu.ID, dataMap(t, resp)["referrer_id"])

	// 大小写敏感
	w = performRequest(router, "GET", "/referral/validate?code=valid123", nil)
	resp = parseResponse(t, w)
	assert.Equal(t, false, dataMap(t, resp)["is_valid"])

	w = performRequest(router, "GET", "/referral/validate?code=STALE123", nil)
	resp = parseResponse(t, w)
	assert.Equal(t, false, dataMap(t, resp)["is_valid"])

	w = performRequest(router, "GET", "/referral/validate", nil)
	resp = parseResponse(t, w)
	assert.Equal(t, response.CodeParamError, resp.Code)
}

func TestReferralHandler_Redeem(t *testing.T) {
	db := testutil.SetupTestDB(t)
	defer testutil.CleanupTestDB(t, db)

	edu := testutil.TestUser(t, db, testutil.WithReferralCode("REDEEM12", time.Now().Add(time.Hour)))
	referee := testutil.TestUser(t, db)
	router := setupReferralRouter(t, referee.ID, db)

	w := performRequest(router, "POST", "/referral/redeem", dto.RedeemRequest{Code: "REDEEM12"})
	resp := parseResponse(t, w)
	require.Equal(t, response.CodeSuccess, resp.Code)
	assert.Equal(t, "pro", dataMap(t, resp)["plan"])
	assert.NotEmpty(t, dataMap(t, resp)["pro_plan_expiration_date"])

	// 第二次兑换
	w = performRequest(router, "POST", "/referral/redeem", dto.RedeemRequest{Code: "REDEEM12"})
	resp = parseResponse(t, w)
	assert.Equal(t, response.CodeDuplicateAction, resp.Code)

	// 推荐人能看到被推荐人
	w = performRequest(setupReferralRouter(t, edu.ID, db), "GET", "/referral/referees", nil)
	resp = parseResponse(t, w)
	require.Equal(t, response.CodeSuccess, resp.Code)
	referees, ok := resp.Data.([]interface{})
	require.True(t, ok)
	require.Len(t, referees, 1)
	assert.Equal(t, referee.ID, referees[0].(map[string]interface{})["id"])
}

func TestReferralHandler_Redeem_Self(t *testing.T) {
	db := testutil.SetupTestDB(t)
	defer testutil.CleanupTestDB(t, db)

	edu := testutil.TestUser(t, db, testutil.WithReferralCode("SELFCODE", time.Now().Add(time.Hour)))
	router := setupReferralRouter(t, edu.ID, db)

	w := performRequest(router, "POST", "/referral/redeem", dto.RedeemRequest{Code: "SELFCODE"})
	resp := parseResponse(t, w)
	assert.Equal(t, response.CodeInvalidReferral, resp.Code)

	var count int64
	db.Model(&model.Referral{}).Count(&count)
	assert.Zero(t, count)
}

func TestReferralHandler_Redeem_BadRequest(t *testing.T) {
	db := testutil.SetupTestDB(t)
	defer testutil.CleanupTestDB(t, db)

	router := setupReferralRouter(t, "u-1", db)

	w := performRequest(router, "POST", "/referral/redeem", map[string]string{})
	resp := parseResponse(t, w)
	assert.Equal(t, response.CodeParamError, resp.Code)

	w = performRequest(router, "POST", "/referral/redeem", dto.RedeemRequest{Code: "NOPE1234"})
	resp = parseResponse(t, w)
	assert.Equal(t, response.CodeInvalidReferral, resp.Code)
}
