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

	"github.com/google/uuid"
)

type CreateLoanInput struct {
	AssetID      string
	Borrower     string
	Principal    uint64
	InterestRate uint64 // basis points
	Duration     time.Duration
}

// LoanLedger owns loans and moves them through active -> repaid|liquidated.
// Admission and liquidation read the asset's live record every time.
type LoanLedger struct {
	store    store.Store
	assets   *AssetRegistry
	policy   *policy.Policy
	sections sections
	now      func() time.Time
}

// Create issues a loan if the asset is active, the terms are valid, the
// borrower has no active loan on the asset and the asset's total active
// principal stays within the policy cap at its current risk.
func (l *LoanLedger) Create(ctx context.Context, in CreateLoanInput) (types.Loan, error) {
	in.Borrower = strings.TrimSpace(in.Borrower)

	var loan types.Loan
	err := l.sections.run(ctx, in.AssetID, func(ctx context.Context) error {
		asset, err := l.assets.Get(ctx, in.AssetID)
		if err != nil {
			return err
		}
		if !asset.IsActive {
			return fmt.Errorf("%w: %q", ErrAssetInactive, in.AssetID)
		}
		if in.Principal == 0 || in.Duration <= 0 || in.Borrower == "" {
			return ErrInvalidLoanTerms
		}

		key := types.LoanKey{AssetID: in.AssetID, Borrower: in.Borrower}
		current, err := l.store.GetLoan(ctx, key)
		switch {
		case err == nil && current.Status == types.LoanActive:
			return fmt.Errorf("%w: %s", ErrLoanAlreadyExists, key)
		case err != nil && !errors.Is(err, store.ErrNotFound):
			return fmt.Errorf("get loan %s: %w", key, err)
		}

		outstanding, err := l.outstanding(ctx, in.AssetID)
		if err != nil {
			return err
		}
		if !l.policy.Admits(asset.Valuation, asset.RiskScore, outstanding, in.Principal) {
			return fmt.Errorf("%w: requested %d with %d outstanding, cap %d at risk %d",
				ErrExceedsMaxLTV, in.Principal, outstanding,
				l.policy.MaxAggregatePrincipal(asset.Valuation, asset.RiskScore), asset.RiskScore)
		}

		start := l.now()
		loan = types.Loan{
			ID:                  uuid.NewString(),
			AssetID:             in.AssetID,
			Borrower:            in.Borrower,
			Principal:           in.Principal,
			InterestRate:        in.InterestRate,
			StartTime:           start,
			EndTime:             start.Add(in.Duration),
			RiskScoreAtCreation: asset.RiskScore,
			Status:              types.LoanActive,
		}
		if err := l.store.PutLoan(ctx, loan); err != nil {
			return fmt.Errorf("store loan %s: %w", key, err)
		}
		return nil
	})
	if err != nil {
		return types.Loan{}, err
	}
	return loan, nil
}

// Repay settles the loan in full. Only the borrower may repay.
func (l *LoanLedger) Repay(ctx context.Context, assetID, borrower, authority string) (types.Loan, error) {
	return l.close(ctx, assetID, borrower, authority, types.LoanRepaid, func(ctx context.Context, loan types.Loan) error {
		if authority != loan.Borrower {
			return fmt.Errorf("%w: only the borrower may repay %s", ErrUnauthorized, loan.Key())
		}
		return nil
	})
}

// Liquidate closes the loan if its asset's current risk makes it eligible.
// Anyone may liquidate.
func (l *LoanLedger) Liquidate(ctx context.Context, assetID, borrower, liquidator string) (types.Loan, error) {
	return l.close(ctx, assetID, borrower, liquidator, types.LoanLiquidated, func(ctx context.Context, loan types.Loan) error {
		asset, err := l.assets.Get(ctx, loan.AssetID)
		if err != nil {
			return err
		}
		if !l.policy.IsLiquidationEligible(asset.RiskScore) {
			return fmt.Errorf("%w: risk %d is below threshold %d",
				ErrNotLiquidationEligible, asset.RiskScore, l.policy.LiquidationThreshold())
		}
		return nil
	})
}

func (l *LoanLedger) close(ctx context.Context, assetID, borrower, actor string, to types.LoanStatus, check func(context.Context, types.Loan) error) (types.Loan, error) {
	var loan types.Loan
	err := l.sections.run(ctx, assetID, func(ctx context.Context) error {
		var err error
		loan, err = l.Get(ctx, assetID, borrower)
		if err != nil {
			return err
		}
		if loan.Status != types.LoanActive {
			return fmt.Errorf("%w: %s is %s", ErrLoanNotActive, loan.Key(), loan.Status)
		}
		if err := check(ctx, loan); err != nil {
			return err
		}

		closedAt := l.now()
		loan.Status = to
		loan.ClosedAt = &closedAt
		loan.ClosedBy = actor
		if err := l.store.PutLoan(ctx, loan); err != nil {
			return fmt.Errorf("store loan %s: %w", loan.Key(), err)
		}
		return nil
	})
	if err != nil {
		return types.Loan{}, err
	}
	return loan, nil
}

// Get returns the loan currently addressed by (assetID, borrower).
func (l *LoanLedger) Get(ctx context.Context, assetID, borrower string) (types.Loan, error) {
	key := types.LoanKey{AssetID: assetID, Borrower: borrower}
	loan, err := l.store.GetLoan(ctx, key)
	if errors.Is(err, store.ErrNotFound) {
		return types.Loan{}, fmt.Errorf("%w: %s", ErrLoanNotFound, key)
	}
	if err != nil {
		return types.Loan{}, fmt.Errorf("get loan %s: %w", key, err)
	}
	return loan, nil
}

// History returns every loan issued for the key, oldest first, ending with the
// current one.
func (l *LoanLedger) History(ctx context.Context, assetID, borrower string) ([]types.Loan, error) {
	current, err := l.Get(ctx, assetID, borrower)
	if err != nil {
		return nil, err
	}
	past, err := l.store.LoanHistory(ctx, current.Key())
	if err != nil {
		return nil, fmt.Errorf("loan history %s: %w", current.Key(), err)
	}
	return append(past, current), nil
}

func (l *LoanLedger) ActiveByAsset(ctx context.Context, assetID string) ([]types.Loan, error) {
	loans, err := l.store.LoansByAsset(ctx, assetID)
	if err != nil {
		return nil, fmt.Errorf("loans of %s: %w", assetID, err)
	}
	active := loans[:0]
	for _, loan := range loans {
		if loan.Status == types.LoanActive {
			active = append(active, loan)
		}
	}
	return active, nil
}

// outstanding sums the principal of the asset's active loans. Every active
// loan was admitted under a cap no larger than the valuation, so the sum
// fits in a uint64.
func (l *LoanLedger) outstanding(ctx context.Context, assetID string) (uint64, error) {
	active, err := l.ActiveByAsset(ctx, assetID)
	if err != nil {
		return 0, err
	}
	var sum uint64
	for _, loan := range active {
		sum += loan.Principal
	}
	return sum, nil
}
