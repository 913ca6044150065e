package engine

import (
	"context"
	"errors"
	"fmt"

	"rwa/internal/keylock"
	"rwa/internal/metrics"
)

// sections runs state changes inside the asset's exclusive section. Every
// mutation of an asset, its loans or its risk history goes through run.
type sections struct {
	locker *keylock.Locker
}

// run acquires assetID's section and calls fn. If ctx ends before the section
// is acquired fn never runs. Once acquired, fn gets a context that is not
// cancelled with ctx, so an operation always completes or fails as a whole.
func (s sections) run(ctx context.Context, assetID string, fn func(ctx context.Context) error) error {
	unlock, err := s.locker.Lock(ctx, assetID)
	if errors.Is(err, keylock.ErrTimeout) {
		metrics.LockTimeouts.Inc()
		return fmt.Errorf("%w: asset %q", ErrLockTimeout, assetID)
	}
	if err != nil {
		return err
	}
	defer unlock()
	return fn(context.WithoutCancel(ctx))
}
