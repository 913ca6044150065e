// Package oracle feeds risk observations published on NATS into the engine.
package oracle

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"rwa/engine"
	"rwa/internal/logger"
	"rwa/util"

	"github.com/nats-io/nats.go"
)

// Observation is the message body on the oracle subject. It matches the
// webhook payload.
type Observation struct {
	WorkflowID string   `json:"workflow_id"`
	AssetID    string   `json:"asset_id"`
	RiskScore  *int     `json:"risk_score"`
	Confidence *float64 `json:"confidence"`
	Sources    []string `json:"sources"`
	Source     string   `json:"source"`
}

// Reply is sent back when the publisher used request/reply.
type Reply struct {
	Status string `json:"status"`
	Code   string `json:"code,omitempty"`
	Error  string `json:"error,omitempty"`
}

type Submitter interface {
	SubmitObservation(ctx context.Context, sub engine.Submission) (engine.SubmitResult, error)
}

type Subscriber struct {
	conn    *nats.Conn
	subject string
	queue   string
	engine  Submitter
	logger  *logger.Logger
	timeout time.Duration
}

func NewSubscriber(conn *nats.Conn, subject, queue string, e Submitter, log *logger.Logger) *Subscriber {
	if subject == "" {
		subject = util.Subjects.OracleFeed
	}
	if queue == "" {
		queue = util.Subjects.OracleQueueName
	}
	if log == nil {
		log = logger.Nop()
	}
	return &Subscriber{
		conn:    conn,
		subject: subject,
		queue:   queue,
		engine:  e,
		logger:  log,
		timeout: 5 * time.Second,
	}
}

// Run subscribes in the queue group and processes messages until ctx ends,
// then drains the subscription.
func (s *Subscriber) Run(ctx context.Context) error {
	sub, err := s.conn.QueueSubscribe(s.subject, s.queue, func(msg *nats.Msg) {
		reply := s.Handle(ctx, msg.Data)
		if msg.Reply == "" {
			return
		}
		data, err := json.Marshal(reply)
		if err != nil {
			return
		}
		if err := msg.Respond(data); err != nil {
			s.logger.Warn("oracle reply failed", "error", err)
		}
	})
	if err != nil {
		return fmt.Errorf("subscribe %s: %w", s.subject, err)
	}
	s.logger.Info("oracle subscriber started", "subject", s.subject, "queue", s.queue)

	<-ctx.Done()
	if err := sub.Drain(); err != nil && !errors.Is(err, nats.ErrConnectionClosed) {
		return fmt.Errorf("drain %s: %w", s.subject, err)
	}
	return nil
}

// Handle decodes one message and submits it. Each message gets its own
// deadline so one slow asset cannot stall the feed.
func (s *Subscriber) Handle(ctx context.Context, data []byte) Reply {
	obs, err := Decode(data)
	if err != nil {
		s.logger.Warn("oracle message rejected", "error", err)
		return Reply{Status: "rejected", Code: "InvalidRequest", Error: err.Error()}
	}

	ctx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()

	res, err := s.engine.SubmitObservation(ctx, obs)
	if err != nil {
		s.logger.Warn("oracle observation rejected",
			"asset_id", obs.AssetID,
			"workflow_id", obs.WorkflowID,
			"code", engine.CodeOf(err),
			"error", err,
		)
		status := "rejected"
		if engine.KindOf(err) == engine.KindTransient {
			status = "retry"
		}
		return Reply{Status: status, Code: engine.CodeOf(err), Error: err.Error()}
	}
	if res.Duplicate {
		return Reply{Status: "duplicate"}
	}
	return Reply{Status: "accepted"}
}

// Decode parses a message into a submission. Score and confidence must be
// present; their ranges are checked by the engine.
func Decode(data []byte) (engine.Submission, error) {
	var obs Observation
	if err := json.Unmarshal(data, &obs); err != nil {
		return engine.Submission{}, fmt.Errorf("decode observation: %w", err)
	}
	switch {
	case obs.AssetID == "":
		return engine.Submission{}, errors.New("asset_id is required")
	case obs.RiskScore == nil:
		return engine.Submission{}, errors.New("risk_score is required")
	case obs.Confidence == nil:
		return engine.Submission{}, errors.New("confidence is required")
	}
	source := obs.Source
	if source == "" {
		source = util.Sources.Oracle
	}
	return engine.Submission{
		AssetID:    obs.AssetID,
		RiskScore:  *obs.RiskScore,
		Source:     source,
		Sources:    obs.Sources,
		Confidence: *obs.Confidence,
		WorkflowID: obs.WorkflowID,
	}, nil
}
