package engine

import (
	"context"
	"fmt"
	"math"
	"strings"

	"rwa/store"
	"rwa/types"
	"rwa/util"
)

// Submission is a risk score reported by an external source.
type Submission struct {
	AssetID    string
	RiskScore  int
	Source     string
	Sources    []string
	Confidence float64
	// WorkflowID makes redelivery safe: a second submission with the same id
	// for the same asset changes nothing.
	WorkflowID string
}

type SubmitResult struct {
	Duplicate   bool
	Observation types.RiskObservation
	// Change is nil for duplicates.
	Change *RiskChange
}

// Gateway is where external risk reports enter the engine.
type Gateway struct {
	store    store.Store
	registry *AssetRegistry
	velocity VelocityGuard
	sections sections
}

func (g *Gateway) Submit(ctx context.Context, sub Submission) (SubmitResult, error) {
	if err := validateScore(sub.RiskScore); err != nil {
		return SubmitResult{}, err
	}
	if math.IsNaN(sub.Confidence) || sub.Confidence < 0 || sub.Confidence > 1 {
		return SubmitResult{}, fmt.Errorf("%w: got %v", ErrInvalidConfidence, sub.Confidence)
	}
	sub.Source = strings.TrimSpace(sub.Source)
	if sub.Source == "" {
		sub.Source = util.Sources.Oracle
	}
	sub.WorkflowID = strings.TrimSpace(sub.WorkflowID)

	var result SubmitResult
	err := g.sections.run(ctx, sub.AssetID, func(ctx context.Context) error {
		asset, err := g.registry.Get(ctx, sub.AssetID)
		if err != nil {
			return err
		}

		if sub.WorkflowID != "" {
			seen, err := g.store.HasWorkflow(ctx, sub.AssetID, sub.WorkflowID)
			if err != nil {
				return fmt.Errorf("check workflow %s: %w", sub.WorkflowID, err)
			}
			if seen {
				result.Duplicate = true
				return nil
			}
		}

		if g.velocity != nil {
			ok, err := g.velocity.Allow(ctx, sub.AssetID, sub.Source)
			if err != nil {
				return fmt.Errorf("velocity check: %w", err)
			}
			if !ok {
				return fmt.Errorf("%w: asset %q source %q", ErrRateLimited, sub.AssetID, sub.Source)
			}
		}

		change, err := g.registry.applyRisk(ctx, asset, uint8(sub.RiskScore), riskReport{
			source:     sub.Source,
			sources:    util.Dedupe(sub.Sources),
			confidence: sub.Confidence,
			workflowID: sub.WorkflowID,
		})
		if err != nil {
			return err
		}

		result.Observation = change.Observation
		result.Change = &change
		return nil
	})
	if err != nil {
		return SubmitResult{}, err
	}
	return result, nil
}
