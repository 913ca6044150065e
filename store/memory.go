package store

import (
	"context"
	"sync"

	"rwa/types"
)

type Memory struct {
	mu           sync.RWMutex
	assets       map[string]types.Asset
	loans        map[types.LoanKey]types.Loan
	loanHistory  map[types.LoanKey][]types.Loan
	observations map[string][]types.RiskObservation
	workflows    map[string]map[string]struct{}
}

func NewMemory() *Memory {
	return &Memory{
		assets:       make(map[string]types.Asset),
		loans:        make(map[types.LoanKey]types.Loan),
		loanHistory:  make(map[types.LoanKey][]types.Loan),
		observations: make(map[string][]types.RiskObservation),
		workflows:    make(map[string]map[string]struct{}),
	}
}

func (m *Memory) CreateAsset(_ context.Context, asset types.Asset) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.assets[asset.AssetID]; ok {
		return ErrExists
	}
	m.assets[asset.AssetID] = asset
	return nil
}

func (m *Memory) GetAsset(_ context.Context, assetID string) (types.Asset, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	a, ok := m.assets[assetID]
	if !ok {
		return types.Asset{}, ErrNotFound
	}
	return a, nil
}

func (m *Memory) UpdateAsset(_ context.Context, asset types.Asset) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.assets[asset.AssetID]; !ok {
		return ErrNotFound
	}
	m.assets[asset.AssetID] = asset
	return nil
}

func (m *Memory) GetLoan(_ context.Context, key types.LoanKey) (types.Loan, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	l, ok := m.loans[key]
	if !ok {
		return types.Loan{}, ErrNotFound
	}
	return l, nil
}

func (m *Memory) PutLoan(_ context.Context, loan types.Loan) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	key := loan.Key()
	if prev, ok := m.loans[key]; ok && prev.ID != loan.ID {
		m.loanHistory[key] = append(m.loanHistory[key], prev)
	}
	m.loans[key] = loan
	return nil
}

func (m *Memory) LoansByAsset(_ context.Context, assetID string) ([]types.Loan, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := []types.Loan{}
	for key, l := range m.loans {
		if key.AssetID == assetID {
			out = append(out, l)
		}
	}
	sortLoans(out)
	return out, nil
}

func (m *Memory) LoanHistory(_ context.Context, key types.LoanKey) ([]types.Loan, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]types.Loan, len(m.loanHistory[key]))
	copy(out, m.loanHistory[key])
	return out, nil
}

func (m *Memory) ApplyRisk(_ context.Context, asset types.Asset, obs types.RiskObservation, workflowID string) (types.RiskObservation, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.assets[asset.AssetID]; !ok {
		return types.RiskObservation{}, ErrNotFound
	}
	m.assets[asset.AssetID] = asset

	obs.AssetID = asset.AssetID
	obs.Sequence = uint64(len(m.observations[asset.AssetID]) + 1)
	m.observations[asset.AssetID] = append(m.observations[asset.AssetID], obs)

	if workflowID != "" {
		seen, ok := m.workflows[asset.AssetID]
		if !ok {
			seen = make(map[string]struct{})
			m.workflows[asset.AssetID] = seen
		}
		seen[workflowID] = struct{}{}
	}
	return obs, nil
}

func (m *Memory) Observations(_ context.Context, assetID string) ([]types.RiskObservation, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]types.RiskObservation, len(m.observations[assetID]))
	copy(out, m.observations[assetID])
	return out, nil
}

func (m *Memory) LatestObservation(_ context.Context, assetID string) (types.RiskObservation, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	history := m.observations[assetID]
	if len(history) == 0 {
		return types.RiskObservation{}, ErrNotFound
	}
	return history[len(history)-1], nil
}

func (m *Memory) HasWorkflow(_ context.Context, assetID, workflowID string) (bool, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	_, ok := m.workflows[assetID][workflowID]
	return ok, nil
}

func (m *Memory) Close() error { return nil }
