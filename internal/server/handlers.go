package server

import (
	"encoding/json"
	"errors"
	"net/http"
	"net/url"
	"strings"
	"time"

	"rwa/engine"
	"rwa/internal/server/respond"
	"rwa/types"
	"rwa/util"

	"github.com/go-chi/chi/v5"
	"github.com/go-playground/validator/v10"
)

type RegisterAssetRequest struct {
	AssetID     string `json:"assetId" validate:"required,max=128"`
	AssetType   string `json:"assetType" validate:"max=64"`
	Valuation   uint64 `json:"valuation"`
	MetadataURI string `json:"metadataUri" validate:"omitempty,max=512"`
	Owner       string `json:"owner" validate:"required,max=128"`
}

type AuthorityRequest struct {
	Authority string `json:"authority" validate:"max=128"`
}

type UpdateRiskRequest struct {
	RiskScore *int   `json:"riskScore" validate:"required"`
	Authority string `json:"authority" validate:"max=128"`
}

type CreateLoanRequest struct {
	AssetID  string `json:"assetId" validate:"required,max=128"`
	Borrower string `json:"borrower" validate:"max=128"`
	// Principal and a non-positive duration are rejected by the engine.
	Principal    uint64 `json:"principal"`
	InterestRate uint64 `json:"interestRate" validate:"lte=100000"`
	// At most 100 years, which keeps the conversion to time.Duration in range.
	DurationSeconds int64 `json:"durationSeconds" validate:"lte=3153600000"`
}

type RepayRequest struct {
	Authority string `json:"authority" validate:"max=128"`
}

type LiquidateRequest struct {
	Liquidator string `json:"liquidator" validate:"required,max=128"`
}

// WebhookRequest is the payload pushed by the external risk oracle.
type WebhookRequest struct {
	WorkflowID string   `json:"workflow_id" validate:"omitempty,max=256"`
	AssetID    string   `json:"asset_id" validate:"required,max=128"`
	RiskScore  *int     `json:"risk_score" validate:"required"`
	Confidence *float64 `json:"confidence" validate:"required"`
	Sources    []string `json:"sources" validate:"omitempty,max=32,dive,max=128"`
	Source     string   `json:"source" validate:"omitempty,max=64"`
}

type WebhookResponse struct {
	Status      string                 `json:"status"`
	Observation *types.RiskObservation `json:"observation,omitempty"`
}

type RiskChangeResponse struct {
	Asset               types.Asset           `json:"asset"`
	PreviousScore       uint8                 `json:"previousScore"`
	Observation         types.RiskObservation `json:"observation"`
	LiquidationEligible bool                  `json:"liquidationEligible"`
}

// decode reads a JSON body into dst and runs its validation tags.
func (s *Server) decode(w http.ResponseWriter, r *http.Request, dst interface{}) bool {
	defer r.Body.Close()
	dec := json.NewDecoder(r.Body)
	dec.DisallowUnknownFields()
	if err := dec.Decode(dst); err != nil {
		respond.BadRequest(w, "invalid JSON payload")
		return false
	}
	if err := s.validate.Struct(dst); err != nil {
		var verrs validator.ValidationErrors
		if errors.As(err, &verrs) {
			fields := make([]string, 0, len(verrs))
			for _, fe := range verrs {
				fields = append(fields, fe.Field()+" failed "+fe.Tag())
			}
			respond.BadRequest(w, strings.Join(fields, "; "))
			return false
		}
		respond.BadRequest(w, err.Error())
		return false
	}
	return true
}

func pathParam(r *http.Request, name string) string {
	raw := chi.URLParam(r, name)
	if v, err := url.PathUnescape(raw); err == nil {
		return v
	}
	return raw
}

func (s *Server) RegisterAssetHandler(w http.ResponseWriter, r *http.Request) {
	var req RegisterAssetRequest
	if !s.decode(w, r, &req) {
		return
	}
	asset, err := s.engine.RegisterAsset(r.Context(), engine.RegisterAssetInput{
		AssetID:     req.AssetID,
		AssetType:   req.AssetType,
		Valuation:   req.Valuation,
		MetadataURI: req.MetadataURI,
		Owner:       req.Owner,
	})
	if err != nil {
		respond.Error(w, err)
		return
	}
	respond.JSON(w, http.StatusCreated, asset)
}

func (s *Server) GetAssetHandler(w http.ResponseWriter, r *http.Request) {
	asset, err := s.engine.GetAsset(r.Context(), pathParam(r, "assetID"))
	if err != nil {
		respond.Error(w, err)
		return
	}
	respond.JSON(w, http.StatusOK, asset)
}

func (s *Server) DeactivateAssetHandler(w http.ResponseWriter, r *http.Request) {
	var req AuthorityRequest
	if !s.decode(w, r, &req) {
		return
	}
	asset, err := s.engine.DeactivateAsset(r.Context(), pathParam(r, "assetID"), req.Authority)
	if err != nil {
		respond.Error(w, err)
		return
	}
	respond.JSON(w, http.StatusOK, asset)
}

func (s *Server) ExposureHandler(w http.ResponseWriter, r *http.Request) {
	exp, err := s.engine.Exposure(r.Context(), pathParam(r, "assetID"))
	if err != nil {
		respond.Error(w, err)
		return
	}
	respond.JSON(w, http.StatusOK, exp)
}

func (s *Server) UpdateRiskHandler(w http.ResponseWriter, r *http.Request) {
	var req UpdateRiskRequest
	if !s.decode(w, r, &req) {
		return
	}
	change, err := s.engine.UpdateRisk(r.Context(), pathParam(r, "assetID"), *req.RiskScore, req.Authority)
	if err != nil {
		respond.Error(w, err)
		return
	}
	respond.JSON(w, http.StatusOK, RiskChangeResponse{
		Asset:               change.Asset,
		PreviousScore:       change.PreviousScore,
		Observation:         change.Observation,
		LiquidationEligible: change.LiquidationEligible,
	})
}

func (s *Server) LatestRiskHandler(w http.ResponseWriter, r *http.Request) {
	obs, err := s.engine.LatestRisk(r.Context(), pathParam(r, "assetID"))
	if err != nil {
		respond.Error(w, err)
		return
	}
	respond.JSON(w, http.StatusOK, obs)
}

func (s *Server) RiskHistoryHandler(w http.ResponseWriter, r *http.Request) {
	history, err := s.engine.RiskHistory(r.Context(), pathParam(r, "assetID"))
	if err != nil {
		respond.Error(w, err)
		return
	}
	respond.JSON(w, http.StatusOK, history)
}

func (s *Server) LiquidationCandidatesHandler(w http.ResponseWriter, r *http.Request) {
	loans, err := s.engine.LiquidationCandidates(r.Context(), pathParam(r, "assetID"))
	if err != nil {
		respond.Error(w, err)
		return
	}
	respond.JSON(w, http.StatusOK, loans)
}

func (s *Server) CreateLoanHandler(w http.ResponseWriter, r *http.Request) {
	var req CreateLoanRequest
	if !s.decode(w, r, &req) {
		return
	}
	loan, err := s.engine.CreateLoan(r.Context(), engine.CreateLoanInput{
		AssetID:      req.AssetID,
		Borrower:     req.Borrower,
		Principal:    req.Principal,
		InterestRate: req.InterestRate,
		Duration:     time.Duration(req.DurationSeconds) * time.Second,
	})
	if err != nil {
		respond.Error(w, err)
		return
	}
	respond.JSON(w, http.StatusCreated, loan)
}

func (s *Server) GetLoanHandler(w http.ResponseWriter, r *http.Request) {
	loan, err := s.engine.GetLoan(r.Context(), pathParam(r, "assetID"), pathParam(r, "borrower"))
	if err != nil {
		respond.Error(w, err)
		return
	}
	respond.JSON(w, http.StatusOK, loan)
}

func (s *Server) LoanHistoryHandler(w http.ResponseWriter, r *http.Request) {
	history, err := s.engine.LoanHistory(r.Context(), pathParam(r, "assetID"), pathParam(r, "borrower"))
	if err != nil {
		respond.Error(w, err)
		return
	}
	respond.JSON(w, http.StatusOK, history)
}

func (s *Server) RepayLoanHandler(w http.ResponseWriter, r *http.Request) {
	var req RepayRequest
	if !s.decode(w, r, &req) {
		return
	}
	loan, err := s.engine.RepayLoan(r.Context(), pathParam(r, "assetID"), pathParam(r, "borrower"), req.Authority)
	if err != nil {
		respond.Error(w, err)
		return
	}
	respond.JSON(w, http.StatusOK, loan)
}

func (s *Server) LiquidateLoanHandler(w http.ResponseWriter, r *http.Request) {
	var req LiquidateRequest
	if !s.decode(w, r, &req) {
		return
	}
	loan, err := s.engine.LiquidateLoan(r.Context(), pathParam(r, "assetID"), pathParam(r, "borrower"), req.Liquidator)
	if err != nil {
		respond.Error(w, err)
		return
	}
	respond.JSON(w, http.StatusOK, loan)
}

// OracleWebhookHandler ingests an oracle callback. Redelivery of a known
// workflow id is acknowledged with status "duplicate".
func (s *Server) OracleWebhookHandler(w http.ResponseWriter, r *http.Request) {
	var req WebhookRequest
	if !s.decode(w, r, &req) {
		return
	}
	source := req.Source
	if source == "" {
		source = util.Sources.Oracle
	}

	res, err := s.engine.SubmitObservation(r.Context(), engine.Submission{
		AssetID:    req.AssetID,
		RiskScore:  *req.RiskScore,
		Source:     source,
		Sources:    req.Sources,
		Confidence: *req.Confidence,
		WorkflowID: req.WorkflowID,
	})
	if err != nil {
		s.logger.Warn("oracle webhook rejected",
			"asset_id", req.AssetID,
			"workflow_id", req.WorkflowID,
			"key_id", KeyID(r.Context()),
			"code", engine.CodeOf(err),
		)
		respond.Error(w, err)
		return
	}
	if res.Duplicate {
		respond.JSON(w, http.StatusOK, WebhookResponse{Status: "duplicate"})
		return
	}
	respond.JSON(w, http.StatusOK, WebhookResponse{Status: "accepted", Observation: &res.Observation})
}
