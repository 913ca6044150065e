package types

import "time"

// Asset is a tokenized real-world collateral record.
type Asset struct {
	AssetID     string    `json:"assetId"`
	AssetType   string    `json:"assetType"`
	Valuation   uint64    `json:"valuation"`
	MetadataURI string    `json:"metadataUri"`
	Owner       string    `json:"owner"`
	RiskScore   uint8     `json:"riskScore"`
	IsActive    bool      `json:"isActive"`
	CreatedAt   time.Time `json:"createdAt"`
	UpdatedAt   time.Time `json:"updatedAt"`
}

// RiskObservation is one report of an asset's risk from a named source.
// Sequence is assigned on append and orders observations per asset.
type RiskObservation struct {
	ID         string    `json:"id"`
	AssetID    string    `json:"assetId"`
	Sequence   uint64    `json:"sequence"`
	RiskScore  uint8     `json:"riskScore"`
	Source     string    `json:"source"`
	Sources    []string  `json:"sources,omitempty"`
	Confidence float64   `json:"confidence"`
	ObservedAt time.Time `json:"observedAt"`
	WorkflowID string    `json:"workflowId,omitempty"`
}

type LoanStatus string

const (
	LoanActive     LoanStatus = "active"
	LoanRepaid     LoanStatus = "repaid"
	LoanLiquidated LoanStatus = "liquidated"
)

// Terminal reports whether no further transition is allowed out of s.
func (s LoanStatus) Terminal() bool {
	return s == LoanRepaid || s == LoanLiquidated
}

// LoanKey addresses the current loan of a borrower against an asset.
type LoanKey struct {
	AssetID  string `json:"assetId"`
	Borrower string `json:"borrower"`
}

func (k LoanKey) String() string {
	return k.AssetID + ":" + k.Borrower
}

type Loan struct {
	ID                  string     `json:"id"`
	AssetID             string     `json:"assetId"`
	Borrower            string     `json:"borrower"`
	Principal           uint64     `json:"principal"`
	InterestRate        uint64     `json:"interestRate"`
	StartTime           time.Time  `json:"startTime"`
	EndTime             time.Time  `json:"endTime"`
	RiskScoreAtCreation uint8      `json:"riskScoreAtCreation"`
	Status              LoanStatus `json:"status"`
	ClosedAt            *time.Time `json:"closedAt,omitempty"`
	ClosedBy            string     `json:"closedBy,omitempty"`
}

func (l Loan) Key() LoanKey {
	return LoanKey{AssetID: l.AssetID, Borrower: l.Borrower}
}
