package engine

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"rwa/policy"
	"rwa/store"
	"rwa/types"
	"rwa/util"

	"github.com/google/uuid"
)

type RegisterAssetInput struct {
	AssetID     string
	AssetType   string
	Valuation   uint64
	MetadataURI string
	Owner       string
}

// RiskChange describes an accepted risk update.
type RiskChange struct {
	Asset               types.Asset
	PreviousScore       uint8
	Observation         types.RiskObservation
	LiquidationEligible bool
}

// riskReport is what gets recorded alongside a score: where it came from.
type riskReport struct {
	source     string
	sources    []string
	confidence float64
	workflowID string
}

// AssetRegistry owns asset records and their current risk score.
type AssetRegistry struct {
	store       store.Store
	log         *ObservationLog
	policy      *policy.Policy
	authorities AuthoritySet
	sections    sections
	now         func() time.Time
}

func (r *AssetRegistry) Register(ctx context.Context, in RegisterAssetInput) (types.Asset, error) {
	in.AssetID = strings.TrimSpace(in.AssetID)
	in.Owner = strings.TrimSpace(in.Owner)
	if in.AssetID == "" || in.Owner == "" {
		return types.Asset{}, ErrInvalidAsset
	}
	if in.Valuation == 0 {
		return types.Asset{}, ErrInvalidValuation
	}

	var asset types.Asset
	err := r.sections.run(ctx, in.AssetID, func(ctx context.Context) error {
		now := r.now()
		asset = types.Asset{
			AssetID:     in.AssetID,
			AssetType:   in.AssetType,
			Valuation:   in.Valuation,
			MetadataURI: in.MetadataURI,
			Owner:       in.Owner,
			RiskScore:   util.DefaultRiskScore,
			IsActive:    true,
			CreatedAt:   now,
			UpdatedAt:   now,
		}
		err := r.store.CreateAsset(ctx, asset)
		if errors.Is(err, store.ErrExists) {
			return fmt.Errorf("%w: %q", ErrDuplicateAsset, in.AssetID)
		}
		if err != nil {
			return fmt.Errorf("create asset %s: %w", in.AssetID, err)
		}
		return nil
	})
	if err != nil {
		return types.Asset{}, err
	}
	return asset, nil
}

func (r *AssetRegistry) Get(ctx context.Context, assetID string) (types.Asset, error) {
	asset, err := r.store.GetAsset(ctx, assetID)
	if errors.Is(err, store.ErrNotFound) {
		return types.Asset{}, fmt.Errorf("%w: %q", ErrAssetNotFound, assetID)
	}
	if err != nil {
		return types.Asset{}, fmt.Errorf("get asset %s: %w", assetID, err)
	}
	return asset, nil
}

// UpdateRisk sets the asset's score on behalf of authority, which must be the
// asset's owner or a configured risk authority. The observation is recorded
// with source "internal". Failures are reported in the order: unknown asset,
// inactive asset, unauthorized caller, score out of range.
func (r *AssetRegistry) UpdateRisk(ctx context.Context, assetID string, score int, authority string) (RiskChange, error) {
	var change RiskChange
	err := r.sections.run(ctx, assetID, func(ctx context.Context) error {
		asset, err := r.Get(ctx, assetID)
		if err != nil {
			return err
		}
		if !asset.IsActive {
			return fmt.Errorf("%w: %q", ErrAssetInactive, assetID)
		}
		if err := r.authorize(ctx, asset, authority); err != nil {
			return err
		}
		if err := validateScore(score); err != nil {
			return err
		}
		change, err = r.applyRisk(ctx, asset, uint8(score), riskReport{
			source:     util.Sources.Internal,
			confidence: 1,
		})
		return err
	})
	return change, err
}

// Deactivate stops the asset from taking new loans or risk updates. Existing
// loans can still be repaid or liquidated. Deactivating an inactive asset is
// a no-op.
func (r *AssetRegistry) Deactivate(ctx context.Context, assetID, authority string) (types.Asset, error) {
	var asset types.Asset
	err := r.sections.run(ctx, assetID, func(ctx context.Context) error {
		var err error
		asset, err = r.Get(ctx, assetID)
		if err != nil {
			return err
		}
		if err := r.authorize(ctx, asset, authority); err != nil {
			return err
		}
		if !asset.IsActive {
			return nil
		}
		asset.IsActive = false
		asset.UpdatedAt = r.now()
		if err := r.store.UpdateAsset(ctx, asset); err != nil {
			return fmt.Errorf("deactivate asset %s: %w", assetID, err)
		}
		return nil
	})
	return asset, err
}

// authorize accepts the asset's owner and any configured risk authority.
func (r *AssetRegistry) authorize(ctx context.Context, asset types.Asset, authority string) error {
	if authority == "" {
		return ErrUnauthorized
	}
	if authority == asset.Owner {
		return nil
	}
	ok, err := r.authorities.Contains(ctx, authority)
	if err != nil {
		return fmt.Errorf("check risk authority: %w", err)
	}
	if !ok {
		return fmt.Errorf("%w: %q may not update asset %q", ErrUnauthorized, authority, asset.AssetID)
	}
	return nil
}

// applyRisk must run inside the asset's section. It checks the asset is
// active, then overwrites its score, appends the observation and records the
// report's workflow id in one store write. ObservedAt never goes backwards
// relative to the asset's previous observation.
func (r *AssetRegistry) applyRisk(ctx context.Context, asset types.Asset, score uint8, report riskReport) (RiskChange, error) {
	if !asset.IsActive {
		return RiskChange{}, fmt.Errorf("%w: %q", ErrAssetInactive, asset.AssetID)
	}

	observedAt := r.now()
	prev, err := r.log.Latest(ctx, asset.AssetID)
	switch {
	case err == nil:
		if observedAt.Before(prev.ObservedAt) {
			observedAt = prev.ObservedAt
		}
	case !errors.Is(err, ErrNoObservations):
		return RiskChange{}, err
	}

	previous := asset.RiskScore
	asset.RiskScore = score
	asset.UpdatedAt = observedAt
	obs, err := r.log.Append(ctx, asset, types.RiskObservation{
		ID:         uuid.NewString(),
		AssetID:    asset.AssetID,
		RiskScore:  score,
		Source:     report.source,
		Sources:    report.sources,
		Confidence: report.confidence,
		ObservedAt: observedAt,
		WorkflowID: report.workflowID,
	}, report.workflowID)
	if err != nil {
		return RiskChange{}, err
	}

	return RiskChange{
		Asset:               asset,
		PreviousScore:       previous,
		Observation:         obs,
		LiquidationEligible: r.policy.IsLiquidationEligible(score),
	}, nil
}

func validateScore(score int) error {
	if score < 0 || score > policy.MaxRiskScore {
		return fmt.Errorf("%w: got %d", ErrRiskScoreOutOfRange, score)
	}
	return nil
}
