package engine

import (
	"context"
	"errors"
	"fmt"

	"rwa/store"
	"rwa/types"
)

// ObservationLog is the append-only risk history of every asset. It does not
// validate what it is given; the registry and gateway do that before
// appending.
type ObservationLog struct {
	store store.Store
}

func NewObservationLog(s store.Store) *ObservationLog {
	return &ObservationLog{store: s}
}

// Append stores obs as the asset's newest entry and returns it with its
// sequence set. The asset record carrying the new score and the workflow id,
// if any, are committed in the same write: either all of them land or none.
func (l *ObservationLog) Append(ctx context.Context, asset types.Asset, obs types.RiskObservation, workflowID string) (types.RiskObservation, error) {
	stored, err := l.store.ApplyRisk(ctx, asset, obs, workflowID)
	if err != nil {
		return types.RiskObservation{}, fmt.Errorf("append risk observation for %s: %w", asset.AssetID, err)
	}
	return stored, nil
}

func (l *ObservationLog) Latest(ctx context.Context, assetID string) (types.RiskObservation, error) {
	obs, err := l.store.LatestObservation(ctx, assetID)
	if errors.Is(err, store.ErrNotFound) {
		return types.RiskObservation{}, ErrNoObservations
	}
	if err != nil {
		return types.RiskObservation{}, fmt.Errorf("latest risk observation for %s: %w", assetID, err)
	}
	return obs, nil
}

// History returns every observation of the asset, oldest first.
func (l *ObservationLog) History(ctx context.Context, assetID string) ([]types.RiskObservation, error) {
	history, err := l.store.Observations(ctx, assetID)
	if err != nil {
		return nil, fmt.Errorf("risk history for %s: %w", assetID, err)
	}
	return history, nil
}
