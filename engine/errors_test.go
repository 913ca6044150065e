package engine

import (
	"context"
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestErrorClassification(t *testing.T) {
	tests := []struct {
		err  error
		kind Kind
		code string
	}{
		{fmt.Errorf("%w: got 101", ErrRiskScoreOutOfRange), KindValidation, "RiskScoreOutOfRange"},
		{fmt.Errorf("%w: \"x\"", ErrAssetNotFound), KindNotFound, "AssetNotFound"},
		{ErrNoObservations, KindNotFound, "NotFound"},
		{ErrLoanNotActive, KindConflict, "LoanNotActive"},
		{ErrUnauthorized, KindUnauthorized, "Unauthorized"},
		{fmt.Errorf("%w: cap", ErrExceedsMaxLTV), KindPolicy, "ExceedsMaxLTV"},
		{ErrRateLimited, KindTransient, "RateLimited"},
		{context.DeadlineExceeded, KindTransient, "Cancelled"},
		{fmt.Errorf("store: %w", context.Canceled), KindTransient, "Cancelled"},
		{errors.New("disk full"), KindInternal, "Internal"},
		{nil, "", ""},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.kind, KindOf(tt.err), "%v", tt.err)
		assert.Equal(t, tt.code, CodeOf(tt.err), "%v", tt.err)
	}
}
