package oracle

import (
	"context"
	"fmt"
	"testing"

	"rwa/engine"
	"rwa/util"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeSubmitter struct {
	got []engine.Submission
	res engine.SubmitResult
	err error
}

func (f *fakeSubmitter) SubmitObservation(_ context.Context, sub engine.Submission) (engine.SubmitResult, error) {
	f.got = append(f.got, sub)
	return f.res, f.err
}

func TestDecode(t *testing.T) {
	sub, err := Decode([]byte(`{"workflow_id":"wf-1","asset_id":"bldg-1","risk_score":42,"confidence":0.95,"sources":["chainlink"]}`))
	require.NoError(t, err)
	assert.Equal(t, engine.Submission{
		AssetID:    "bldg-1",
		RiskScore:  42,
		Source:     util.Sources.Oracle,
		Sources:    []string{"chainlink"},
		Confidence: 0.95,
		WorkflowID: "wf-1",
	}, sub)

	sub, err = Decode([]byte(`{"asset_id":"a","risk_score":0,"confidence":0,"source":"ai"}`))
	require.NoError(t, err)
	assert.Equal(t, util.Sources.AI, sub.Source)
	assert.Equal(t, 0, sub.RiskScore)

	for _, raw := range []string{
		`not json`,
		`{"risk_score":1,"confidence":1}`,
		`{"asset_id":"a","confidence":1}`,
		`{"asset_id":"a","risk_score":1}`,
	} {
		_, err := Decode([]byte(raw))
		assert.Error(t, err, raw)
	}
}

func TestHandle(t *testing.T) {
	msg := []byte(`{"workflow_id":"wf-1","asset_id":"a","risk_score":10,"confidence":1}`)

	f := &fakeSubmitter{}
	s := NewSubscriber(nil, "", "", f, nil)
	assert.Equal(t, Reply{Status: "accepted"}, s.Handle(context.Background(), msg))
	require.Len(t, f.got, 1)
	assert.Equal(t, "wf-1", f.got[0].WorkflowID)

	f.res = engine.SubmitResult{Duplicate: true}
	assert.Equal(t, Reply{Status: "duplicate"}, s.Handle(context.Background(), msg))

	f.err = fmt.Errorf("%w: asset %q", engine.ErrLockTimeout, "a")
	reply := s.Handle(context.Background(), msg)
	assert.Equal(t, "retry", reply.Status)
	assert.Equal(t, "LockTimeout", reply.Code)

	f.err = engine.ErrAssetNotFound
	reply = s.Handle(context.Background(), msg)
	assert.Equal(t, "rejected", reply.Status)
	assert.Equal(t, "AssetNotFound", reply.Code)

	reply = s.Handle(context.Background(), []byte(`{}`))
	assert.Equal(t, "rejected", reply.Status)
	assert.Equal(t, "InvalidRequest", reply.Code)
	assert.Len(t, f.got, 4)
}

func TestSubscriberDefaults(t *testing.T) {
	s := NewSubscriber(nil, "", "", &fakeSubmitter{}, nil)
	assert.Equal(t, util.Subjects.OracleFeed, s.subject)
	assert.Equal(t, util.Subjects.OracleQueueName, s.queue)
}
