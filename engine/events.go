package engine

import (
	"encoding/json"
	"time"

	"rwa/types"

	"github.com/nats-io/nats.go"
)

// Publisher delivers engine events. Failures are logged by the engine and
// never undo the operation that produced the event.
type Publisher interface {
	Publish(subject string, payload interface{}) error
}

type RiskUpdatedEvent struct {
	AssetID       string    `json:"assetId"`
	PreviousScore uint8     `json:"previousScore"`
	RiskScore     uint8     `json:"riskScore"`
	Source        string    `json:"source"`
	Sequence      uint64    `json:"sequence"`
	ObservedAt    time.Time `json:"observedAt"`
}

// LiquidatableEvent lists the active loans of an asset whose risk reached the
// liquidation threshold.
type LiquidatableEvent struct {
	AssetID   string          `json:"assetId"`
	RiskScore uint8           `json:"riskScore"`
	Threshold uint8           `json:"threshold"`
	Loans     []types.LoanKey `json:"loans"`
}

type NatsPublisher struct {
	conn *nats.Conn
}

func NewNatsPublisher(conn *nats.Conn) *NatsPublisher {
	return &NatsPublisher{conn: conn}
}

func (p *NatsPublisher) Publish(subject string, payload interface{}) error {
	data, err := json.Marshal(payload)
	if err != nil {
		return err
	}
	return p.conn.Publish(subject, data)
}

type nopPublisher struct{}

func (nopPublisher) Publish(string, interface{}) error { return nil }
