// Package store persists assets, loans and the risk observation history.
//
// Implementations are safe for concurrent use but do not serialize
// read-modify-write sequences across calls; the engine holds the asset's
// exclusive section around every mutation.
package store

import (
	"context"
	"errors"
	"sort"

	"rwa/types"
)

var (
	ErrNotFound = errors.New("store: not found")
	ErrExists   = errors.New("store: already exists")
)

type Store interface {
	// CreateAsset inserts a new asset. ErrExists if the id is taken.
	CreateAsset(ctx context.Context, asset types.Asset) error
	// GetAsset returns ErrNotFound for unknown ids.
	GetAsset(ctx context.Context, assetID string) (types.Asset, error)
	// UpdateAsset overwrites an existing asset. ErrNotFound if absent.
	UpdateAsset(ctx context.Context, asset types.Asset) error

	// GetLoan returns the loan currently addressed by key.
	GetLoan(ctx context.Context, key types.LoanKey) (types.Loan, error)
	// PutLoan makes loan the current loan of its key. A different loan
	// already at the key is appended to the key's history first.
	PutLoan(ctx context.Context, loan types.Loan) error
	// LoansByAsset returns the current loan of every borrower on the asset,
	// ordered by borrower.
	LoansByAsset(ctx context.Context, assetID string) ([]types.Loan, error)
	// LoanHistory returns the loans previously addressed by key, oldest first.
	LoanHistory(ctx context.Context, key types.LoanKey) ([]types.Loan, error)

	// ApplyRisk commits a risk update in one write: it overwrites the existing
	// asset, appends obs with the next per-asset sequence and, when workflowID
	// is set, records it. ErrNotFound if the asset is absent, and then nothing
	// is written.
	ApplyRisk(ctx context.Context, asset types.Asset, obs types.RiskObservation, workflowID string) (types.RiskObservation, error)
	// Observations returns the asset's history, oldest first.
	Observations(ctx context.Context, assetID string) ([]types.RiskObservation, error)
	// LatestObservation returns ErrNotFound when the asset has no history.
	LatestObservation(ctx context.Context, assetID string) (types.RiskObservation, error)

	// HasWorkflow reports whether ApplyRisk recorded workflowID for the asset.
	HasWorkflow(ctx context.Context, assetID, workflowID string) (bool, error)

	Close() error
}

func sortLoans(loans []types.Loan) {
	sort.Slice(loans, func(i, j int) bool { return loans[i].Borrower < loans[j].Borrower })
}
