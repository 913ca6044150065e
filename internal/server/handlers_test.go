package server

import (
	"encoding/json"
	"net/http"
	"testing"

	"rwa/internal/server/respond"
	"rwa/types"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func decodeBody(t *testing.T, body []byte, dst interface{}) {
	t.Helper()
	require.NoError(t, json.Unmarshal(body, dst), string(body))
}

func TestLendingFlowOverHTTP(t *testing.T) {
	ts := newTestServer(t, nil)

	resp, body := do(t, ts, http.MethodPost, "/assets", RegisterAssetRequest{
		AssetID:   "bldg-1",
		AssetType: "real_estate",
		Valuation: 50_000_000,
		Owner:     "alice",
	})
	require.Equal(t, http.StatusCreated, resp.StatusCode, string(body))
	var asset types.Asset
	decodeBody(t, body, &asset)
	assert.Equal(t, uint8(50), asset.RiskScore)

	resp, body = do(t, ts, http.MethodPost, "/assets", RegisterAssetRequest{AssetID: "bldg-1", Valuation: 1, Owner: "alice"})
	assert.Equal(t, http.StatusConflict, resp.StatusCode)
	var errBody respond.ErrorBody
	decodeBody(t, body, &errBody)
	assert.Equal(t, "DuplicateAsset", errBody.Code)

	score := 35
	resp, body = do(t, ts, http.MethodPost, "/assets/bldg-1/risk", UpdateRiskRequest{RiskScore: &score, Authority: "alice"})
	require.Equal(t, http.StatusOK, resp.StatusCode, string(body))

	resp, body = do(t, ts, http.MethodPost, "/loans", CreateLoanRequest{
		AssetID: "bldg-1", Borrower: "B1", Principal: 17_500_000, InterestRate: 500, DurationSeconds: 86400,
	})
	require.Equal(t, http.StatusCreated, resp.StatusCode, string(body))
	var loan types.Loan
	decodeBody(t, body, &loan)
	assert.Equal(t, uint8(35), loan.RiskScoreAtCreation)

	resp, body = do(t, ts, http.MethodPost, "/loans", CreateLoanRequest{
		AssetID: "bldg-1", Borrower: "B2", Principal: 30_000_000, DurationSeconds: 86400,
	})
	assert.Equal(t, http.StatusUnprocessableEntity, resp.StatusCode)
	decodeBody(t, body, &errBody)
	assert.Equal(t, "ExceedsMaxLTV", errBody.Code)

	resp, body = do(t, ts, http.MethodPost, "/loans/bldg-1/B1/liquidate", LiquidateRequest{Liquidator: "keeper"})
	assert.Equal(t, http.StatusUnprocessableEntity, resp.StatusCode)
	decodeBody(t, body, &errBody)
	assert.Equal(t, "NotLiquidationEligible", errBody.Code)

	score = 85
	resp, _ = do(t, ts, http.MethodPost, "/assets/bldg-1/risk", UpdateRiskRequest{RiskScore: &score, Authority: "risk-desk"})
	require.Equal(t, http.StatusOK, resp.StatusCode)

	resp, body = do(t, ts, http.MethodGet, "/assets/bldg-1/loans/liquidatable", nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	var candidates []types.Loan
	decodeBody(t, body, &candidates)
	require.Len(t, candidates, 1)

	resp, body = do(t, ts, http.MethodPost, "/loans/bldg-1/B1/liquidate", LiquidateRequest{Liquidator: "keeper"})
	require.Equal(t, http.StatusOK, resp.StatusCode, string(body))
	decodeBody(t, body, &loan)
	assert.Equal(t, types.LoanLiquidated, loan.Status)

	resp, body = do(t, ts, http.MethodPost, "/loans/bldg-1/B1/liquidate", LiquidateRequest{Liquidator: "keeper"})
	assert.Equal(t, http.StatusConflict, resp.StatusCode)
	decodeBody(t, body, &errBody)
	assert.Equal(t, "LoanNotActive", errBody.Code)

	resp, body = do(t, ts, http.MethodGet, "/loans/bldg-1/B1/history", nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	var history []types.Loan
	decodeBody(t, body, &history)
	assert.Len(t, history, 1)

	resp, body = do(t, ts, http.MethodGet, "/assets/bldg-1/risk/history", nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	var observations []types.RiskObservation
	decodeBody(t, body, &observations)
	assert.Len(t, observations, 2)
}

func TestRepayOverHTTP(t *testing.T) {
	ts := newTestServer(t, nil)
	resp, _ := do(t, ts, http.MethodPost, "/assets", RegisterAssetRequest{AssetID: "farm-2", Valuation: 8_000_000, Owner: "bob"})
	require.Equal(t, http.StatusCreated, resp.StatusCode)
	resp, _ = do(t, ts, http.MethodPost, "/loans", CreateLoanRequest{AssetID: "farm-2", Borrower: "B3", Principal: 1_000_000, DurationSeconds: 3600})
	require.Equal(t, http.StatusCreated, resp.StatusCode)

	resp, _ = do(t, ts, http.MethodPost, "/loans/farm-2/B3/repay", RepayRequest{Authority: "bob"})
	assert.Equal(t, http.StatusForbidden, resp.StatusCode)

	resp, body := do(t, ts, http.MethodPost, "/loans/farm-2/B3/repay", RepayRequest{Authority: "B3"})
	require.Equal(t, http.StatusOK, resp.StatusCode, string(body))
	var loan types.Loan
	decodeBody(t, body, &loan)
	assert.Equal(t, types.LoanRepaid, loan.Status)

	resp, _ = do(t, ts, http.MethodPost, "/loans/farm-2/B3/repay", RepayRequest{Authority: "B3"})
	assert.Equal(t, http.StatusConflict, resp.StatusCode)

	resp, _ = do(t, ts, http.MethodGet, "/loans/farm-2/nobody", nil)
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
}

func TestOracleWebhookReplay(t *testing.T) {
	ts := newTestServer(t, nil)
	resp, _ := do(t, ts, http.MethodPost, "/assets", RegisterAssetRequest{AssetID: "bldg-1", Valuation: 50_000_000, Owner: "alice"})
	require.Equal(t, http.StatusCreated, resp.StatusCode)

	score, confidence := 42, 0.95
	payload := WebhookRequest{
		WorkflowID: "wf-1",
		AssetID:    "bldg-1",
		RiskScore:  &score,
		Confidence: &confidence,
		Sources:    []string{"chainlink"},
	}

	resp, body := do(t, ts, http.MethodPost, "/oracle/webhook", payload)
	require.Equal(t, http.StatusOK, resp.StatusCode, string(body))
	var res WebhookResponse
	decodeBody(t, body, &res)
	assert.Equal(t, "accepted", res.Status)
	require.NotNil(t, res.Observation)
	assert.Equal(t, "oracle", res.Observation.Source)

	resp, body = do(t, ts, http.MethodPost, "/oracle/webhook", payload)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	decodeBody(t, body, &res)
	assert.Equal(t, "duplicate", res.Status)

	resp, body = do(t, ts, http.MethodGet, "/assets/bldg-1/risk/latest", nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	var latest types.RiskObservation
	decodeBody(t, body, &latest)
	assert.Equal(t, uint8(42), latest.RiskScore)

	resp, body = do(t, ts, http.MethodGet, "/assets/bldg-1/risk/history", nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	var history []types.RiskObservation
	decodeBody(t, body, &history)
	assert.Len(t, history, 1)
}

func TestRequestValidation(t *testing.T) {
	ts := newTestServer(t, nil)

	resp, body := do(t, ts, http.MethodPost, "/assets", map[string]interface{}{"assetId": "a", "valuation": 10})
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
	var errBody respond.ErrorBody
	decodeBody(t, body, &errBody)
	assert.Equal(t, "InvalidRequest", errBody.Code)

	resp, body = do(t, ts, http.MethodPost, "/assets", RegisterAssetRequest{AssetID: "a", Owner: "o"})
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
	decodeBody(t, body, &errBody)
	assert.Equal(t, "InvalidValuation", errBody.Code)

	resp, _ = do(t, ts, http.MethodPost, "/assets", map[string]interface{}{"assetId": "a", "owner": "o", "valuation": 1, "extra": true})
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)

	resp, _ = do(t, ts, http.MethodPost, "/assets", RegisterAssetRequest{AssetID: "a", Owner: "o", Valuation: 100})
	require.Equal(t, http.StatusCreated, resp.StatusCode)

	resp, body = do(t, ts, http.MethodPost, "/assets/a/risk", map[string]interface{}{"authority": "o"})
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
	decodeBody(t, body, &errBody)
	assert.Equal(t, "InvalidRequest", errBody.Code)

	score := 120
	resp, body = do(t, ts, http.MethodPost, "/assets/a/risk", UpdateRiskRequest{RiskScore: &score, Authority: "o"})
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
	decodeBody(t, body, &errBody)
	assert.Equal(t, "RiskScoreOutOfRange", errBody.Code)

	score = 10
	resp, _ = do(t, ts, http.MethodPost, "/assets/a/risk", UpdateRiskRequest{RiskScore: &score, Authority: "mallory"})
	assert.Equal(t, http.StatusForbidden, resp.StatusCode)

	confidence := 1.5
	resp, body = do(t, ts, http.MethodPost, "/oracle/webhook", WebhookRequest{AssetID: "a", RiskScore: &score, Confidence: &confidence})
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
	decodeBody(t, body, &errBody)
	assert.Equal(t, "InvalidConfidence", errBody.Code)

	resp, body = do(t, ts, http.MethodPost, "/loans", CreateLoanRequest{AssetID: "a", Borrower: "B1", Principal: 1, DurationSeconds: 9_300_000_000})
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
	decodeBody(t, body, &errBody)
	assert.Equal(t, "InvalidRequest", errBody.Code)

	resp, body = do(t, ts, http.MethodPost, "/loans", CreateLoanRequest{AssetID: "a", Borrower: "B1", Principal: 1, DurationSeconds: -60})
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
	decodeBody(t, body, &errBody)
	assert.Equal(t, "InvalidLoanTerms", errBody.Code)

	resp, _ = do(t, ts, http.MethodGet, "/assets/missing", nil)
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)

	resp, body = do(t, ts, http.MethodGet, "/assets/a/risk/latest", nil)
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
	decodeBody(t, body, &errBody)
	assert.Equal(t, "NotFound", errBody.Code)
}

func TestDeactivateAndExposure(t *testing.T) {
	ts := newTestServer(t, nil)
	resp, _ := do(t, ts, http.MethodPost, "/assets", RegisterAssetRequest{AssetID: "a", Owner: "o", Valuation: 1000})
	require.Equal(t, http.StatusCreated, resp.StatusCode)
	resp, _ = do(t, ts, http.MethodPost, "/loans", CreateLoanRequest{AssetID: "a", Borrower: "B1", Principal: 350, DurationSeconds: 60})
	require.Equal(t, http.StatusCreated, resp.StatusCode)

	resp, body := do(t, ts, http.MethodGet, "/assets/a/exposure", nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	var exp map[string]interface{}
	decodeBody(t, body, &exp)
	assert.Equal(t, float64(500), exp["maxPrincipal"])
	assert.Equal(t, float64(150), exp["headroom"])
	assert.Equal(t, "0.35", exp["utilization"])

	resp, body = do(t, ts, http.MethodPost, "/assets/a/deactivate", AuthorityRequest{Authority: "o"})
	require.Equal(t, http.StatusOK, resp.StatusCode, string(body))
	var asset types.Asset
	decodeBody(t, body, &asset)
	assert.False(t, asset.IsActive)

	resp, body = do(t, ts, http.MethodPost, "/loans", CreateLoanRequest{AssetID: "a", Borrower: "B2", Principal: 1, DurationSeconds: 60})
	assert.Equal(t, http.StatusConflict, resp.StatusCode)
	var errBody respond.ErrorBody
	decodeBody(t, body, &errBody)
	assert.Equal(t, "AssetInactive", errBody.Code)
}

func TestMutatingRoutesRequireSignature(t *testing.T) {
	ts := newTestServer(t, nil)

	resp, err := http.Post(ts.URL+"/assets", "application/json", nil)
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)
}

func TestStaticAuthoritiesRouter(t *testing.T) {
	ts := newTestServer(t, nil)

	resp, body := do(t, ts, http.MethodGet, "/configuration/authorities", nil)
	require.Equal(t, http.StatusOK, resp.StatusCode, string(body))
	var list struct {
		Principals []string `json:"principals"`
		Dynamic    bool     `json:"dynamic"`
	}
	decodeBody(t, body, &list)
	assert.Equal(t, []string{"risk-desk"}, list.Principals)
	assert.False(t, list.Dynamic)

	unsigned, err := http.Get(ts.URL + "/configuration/authorities")
	require.NoError(t, err)
	unsigned.Body.Close()
	assert.Equal(t, http.StatusUnauthorized, unsigned.StatusCode)

	resp, body = do(t, ts, http.MethodPut, "/configuration/authorities", map[string]string{"principal": "new-desk"})
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
	var errBody respond.ErrorBody
	decodeBody(t, body, &errBody)
	assert.Equal(t, "StaticAuthorities", errBody.Code)

	resp, _ = do(t, ts, http.MethodDelete, "/configuration/authorities/risk-desk", nil)
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
}
