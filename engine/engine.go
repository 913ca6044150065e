// Package engine admits collateralized loans against tokenized real-world
// assets and keeps each asset's risk score current. Every state change of an
// asset, its loans or its risk history runs inside that asset's exclusive
// section, so operations on one asset are linearizable while different
// assets proceed in parallel.
package engine

import (
	"context"
	"errors"
	"time"

	"rwa/internal/keylock"
	"rwa/internal/logger"
	"rwa/internal/metrics"
	"rwa/policy"
	"rwa/store"
	"rwa/types"
	"rwa/util"

	"github.com/shopspring/decimal"
)

const DefaultLockTimeout = 2 * time.Second

type Options struct {
	Store       store.Store
	Policy      *policy.Policy
	Authorities AuthoritySet
	// Velocity is optional; nil disables throttling of submissions.
	Velocity  VelocityGuard
	Publisher Publisher
	Logger    *logger.Logger
	// LockTimeout bounds how long an operation waits for its asset's section.
	LockTimeout time.Duration
	Clock       func() time.Time
}

type Engine struct {
	registry    *AssetRegistry
	log         *ObservationLog
	loans       *LoanLedger
	gateway     *Gateway
	policy      *policy.Policy
	authorities AuthoritySet
	publisher   Publisher
	logger      *logger.Logger
	locker      *keylock.Locker
}

func New(opts Options) (*Engine, error) {
	if opts.Store == nil {
		return nil, errors.New("engine: store is required")
	}
	if opts.Policy == nil {
		opts.Policy = policy.Default()
	}
	if opts.Authorities == nil {
		opts.Authorities = NewStaticAuthorities(nil)
	}
	if opts.Publisher == nil {
		opts.Publisher = nopPublisher{}
	}
	if opts.Logger == nil {
		opts.Logger = logger.Nop()
	}
	if opts.LockTimeout <= 0 {
		opts.LockTimeout = DefaultLockTimeout
	}
	if opts.Clock == nil {
		opts.Clock = func() time.Time { return time.Now().UTC() }
	}

	locker := keylock.New(opts.LockTimeout, keylock.WithWaitObserver(metrics.ObserveLockWait))
	sec := sections{locker: locker}
	obsLog := NewObservationLog(opts.Store)
	registry := &AssetRegistry{
		store:       opts.Store,
		log:         obsLog,
		policy:      opts.Policy,
		authorities: opts.Authorities,
		sections:    sec,
		now:         opts.Clock,
	}

	return &Engine{
		registry: registry,
		log:      obsLog,
		loans: &LoanLedger{
			store:    opts.Store,
			assets:   registry,
			policy:   opts.Policy,
			sections: sec,
			now:      opts.Clock,
		},
		gateway: &Gateway{
			store:    opts.Store,
			registry: registry,
			velocity: opts.Velocity,
			sections: sec,
		},
		policy:      opts.Policy,
		authorities: opts.Authorities,
		publisher:   opts.Publisher,
		logger:      opts.Logger,
		locker:      locker,
	}, nil
}

func (e *Engine) Policy() *policy.Policy { return e.policy }

func (e *Engine) Authorities() AuthoritySet { return e.authorities }

func (e *Engine) RegisterAsset(ctx context.Context, in RegisterAssetInput) (types.Asset, error) {
	asset, err := e.registry.Register(ctx, in)
	if err != nil {
		return types.Asset{}, e.reject("register_asset", err)
	}
	e.logger.Info("asset registered", "asset_id", asset.AssetID, "owner", asset.Owner, "valuation", asset.Valuation)
	return asset, nil
}

func (e *Engine) GetAsset(ctx context.Context, assetID string) (types.Asset, error) {
	return e.registry.Get(ctx, assetID)
}

func (e *Engine) DeactivateAsset(ctx context.Context, assetID, authority string) (types.Asset, error) {
	asset, err := e.registry.Deactivate(ctx, assetID, authority)
	if err != nil {
		return types.Asset{}, e.reject("deactivate_asset", err)
	}
	e.logger.Info("asset deactivated", "asset_id", assetID, "authority", authority)
	return asset, nil
}

// UpdateRisk sets an asset's score directly on behalf of its owner or a risk
// authority.
func (e *Engine) UpdateRisk(ctx context.Context, assetID string, score int, authority string) (RiskChange, error) {
	change, err := e.registry.UpdateRisk(ctx, assetID, score, authority)
	if err != nil {
		return RiskChange{}, e.reject("update_risk", err)
	}
	e.afterRiskChange(ctx, change)
	return change, nil
}

func (e *Engine) LatestRisk(ctx context.Context, assetID string) (types.RiskObservation, error) {
	if _, err := e.registry.Get(ctx, assetID); err != nil {
		return types.RiskObservation{}, err
	}
	return e.log.Latest(ctx, assetID)
}

func (e *Engine) RiskHistory(ctx context.Context, assetID string) ([]types.RiskObservation, error) {
	if _, err := e.registry.Get(ctx, assetID); err != nil {
		return nil, err
	}
	return e.log.History(ctx, assetID)
}

// SubmitObservation ingests a risk report from an external source. A replayed
// workflow id returns Duplicate and changes nothing.
func (e *Engine) SubmitObservation(ctx context.Context, sub Submission) (SubmitResult, error) {
	result, err := e.gateway.Submit(ctx, sub)
	if err != nil {
		return SubmitResult{}, e.reject("submit_observation", err)
	}
	if result.Duplicate {
		metrics.DuplicateDeliveries.Inc()
		e.logger.Debug("duplicate risk submission", "asset_id", sub.AssetID, "workflow_id", sub.WorkflowID)
		return result, nil
	}
	e.afterRiskChange(ctx, *result.Change)
	return result, nil
}

func (e *Engine) CreateLoan(ctx context.Context, in CreateLoanInput) (types.Loan, error) {
	loan, err := e.loans.Create(ctx, in)
	if err != nil {
		return types.Loan{}, e.reject("create_loan", err)
	}
	metrics.LoansIssued.Inc()
	e.logger.Info("loan issued",
		"loan_id", loan.ID,
		"asset_id", loan.AssetID,
		"borrower", loan.Borrower,
		"principal", loan.Principal,
		"risk_score", loan.RiskScoreAtCreation,
	)
	return loan, nil
}

func (e *Engine) GetLoan(ctx context.Context, assetID, borrower string) (types.Loan, error) {
	return e.loans.Get(ctx, assetID, borrower)
}

func (e *Engine) LoanHistory(ctx context.Context, assetID, borrower string) ([]types.Loan, error) {
	return e.loans.History(ctx, assetID, borrower)
}

func (e *Engine) RepayLoan(ctx context.Context, assetID, borrower, authority string) (types.Loan, error) {
	loan, err := e.loans.Repay(ctx, assetID, borrower, authority)
	if err != nil {
		return types.Loan{}, e.reject("repay_loan", err)
	}
	metrics.LoanTransitions.WithLabelValues(string(loan.Status)).Inc()
	e.logger.Info("loan repaid", "loan_id", loan.ID, "asset_id", assetID, "borrower", borrower)
	return loan, nil
}

func (e *Engine) LiquidateLoan(ctx context.Context, assetID, borrower, liquidator string) (types.Loan, error) {
	loan, err := e.loans.Liquidate(ctx, assetID, borrower, liquidator)
	if err != nil {
		return types.Loan{}, e.reject("liquidate_loan", err)
	}
	metrics.LoanTransitions.WithLabelValues(string(loan.Status)).Inc()
	e.logger.Info("loan liquidated",
		"loan_id", loan.ID,
		"asset_id", assetID,
		"borrower", borrower,
		"liquidator", liquidator,
	)
	return loan, nil
}

// LiquidationCandidates lists the asset's active loans when its current risk
// makes them eligible for liquidation, and nothing otherwise.
func (e *Engine) LiquidationCandidates(ctx context.Context, assetID string) ([]types.Loan, error) {
	asset, err := e.registry.Get(ctx, assetID)
	if err != nil {
		return nil, err
	}
	if !e.policy.IsLiquidationEligible(asset.RiskScore) {
		return []types.Loan{}, nil
	}
	return e.loans.ActiveByAsset(ctx, assetID)
}

// Exposure summarizes how much of an asset's borrowing capacity is in use.
type Exposure struct {
	AssetID             string          `json:"assetId"`
	Valuation           uint64          `json:"valuation"`
	RiskScore           uint8           `json:"riskScore"`
	LtvBps              uint64          `json:"ltvBps"`
	MaxPrincipal        uint64          `json:"maxPrincipal"`
	Outstanding         uint64          `json:"outstanding"`
	Headroom            uint64          `json:"headroom"`
	Utilization         decimal.Decimal `json:"utilization"`
	ActiveLoans         int             `json:"activeLoans"`
	LiquidationEligible bool            `json:"liquidationEligible"`
}

// Exposure reads the asset and its active loans inside the asset's section so
// the figures are consistent with each other.
func (e *Engine) Exposure(ctx context.Context, assetID string) (Exposure, error) {
	var exp Exposure
	err := e.registry.sections.run(ctx, assetID, func(ctx context.Context) error {
		asset, err := e.registry.Get(ctx, assetID)
		if err != nil {
			return err
		}
		active, err := e.loans.ActiveByAsset(ctx, assetID)
		if err != nil {
			return err
		}
		var outstanding uint64
		for _, loan := range active {
			outstanding += loan.Principal
		}
		exp = Exposure{
			AssetID:             asset.AssetID,
			Valuation:           asset.Valuation,
			RiskScore:           asset.RiskScore,
			LtvBps:              e.policy.LtvBps(asset.RiskScore),
			MaxPrincipal:        e.policy.MaxAggregatePrincipal(asset.Valuation, asset.RiskScore),
			Outstanding:         outstanding,
			Headroom:            e.policy.Headroom(asset.Valuation, asset.RiskScore, outstanding),
			Utilization:         e.policy.Utilization(asset.Valuation, outstanding),
			ActiveLoans:         len(active),
			LiquidationEligible: e.policy.IsLiquidationEligible(asset.RiskScore),
		}
		return nil
	})
	if err != nil {
		return Exposure{}, err
	}
	return exp, nil
}

// afterRiskChange runs once the asset's section is released. Publishing
// failures are logged and never undo the change.
func (e *Engine) afterRiskChange(ctx context.Context, change RiskChange) {
	obs := change.Observation
	metrics.RiskObservations.WithLabelValues(obs.Source).Inc()
	e.logger.Info("risk updated",
		"asset_id", obs.AssetID,
		"previous", change.PreviousScore,
		"risk_score", obs.RiskScore,
		"source", obs.Source,
		"sequence", obs.Sequence,
	)

	err := e.publisher.Publish(util.Subjects.RiskUpdated, RiskUpdatedEvent{
		AssetID:       obs.AssetID,
		PreviousScore: change.PreviousScore,
		RiskScore:     obs.RiskScore,
		Source:        obs.Source,
		Sequence:      obs.Sequence,
		ObservedAt:    obs.ObservedAt,
	})
	if err != nil {
		e.logger.Warn("publish risk update failed", "asset_id", obs.AssetID, "error", err)
	}

	if !change.LiquidationEligible {
		return
	}
	active, err := e.loans.ActiveByAsset(context.WithoutCancel(ctx), obs.AssetID)
	if err != nil {
		e.logger.Warn("list liquidatable loans failed", "asset_id", obs.AssetID, "error", err)
		return
	}
	if len(active) == 0 {
		return
	}
	keys := make([]types.LoanKey, len(active))
	for i, loan := range active {
		keys[i] = loan.Key()
	}
	e.logger.Warn("asset loans eligible for liquidation",
		"asset_id", obs.AssetID,
		"risk_score", obs.RiskScore,
		"loans", len(keys),
	)
	err = e.publisher.Publish(util.Subjects.Liquidatable, LiquidatableEvent{
		AssetID:   obs.AssetID,
		RiskScore: obs.RiskScore,
		Threshold: e.policy.LiquidationThreshold(),
		Loans:     keys,
	})
	if err != nil {
		e.logger.Warn("publish liquidatable alert failed", "asset_id", obs.AssetID, "error", err)
	}
}

// reject counts a refused operation by its error code and returns err.
func (e *Engine) reject(op string, err error) error {
	metrics.OperationRejections.WithLabelValues(op, CodeOf(err)).Inc()
	if KindOf(err) == KindInternal {
		e.logger.Error("operation failed", "operation", op, "error", err)
	}
	return err
}
