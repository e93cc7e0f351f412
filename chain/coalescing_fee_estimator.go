package chain

import (
	"context"

	"golang.org/x/sync/singleflight"
)

// CoalescingFeeEstimator lets concurrent requests for the same strategy share
// a single call to the inner estimator. Results are not kept once the call
// completes.
type CoalescingFeeEstimator struct {
	inner FeeEstimator
	group singleflight.Group
}

func NewCoalescingFeeEstimator(inner FeeEstimator) *CoalescingFeeEstimator {
	return &CoalescingFeeEstimator{
		inner: inner,
	}
}

func (e *CoalescingFeeEstimator) EstimateFeeRate(
	ctx context.Context,
	strategy FeeStrategy,
) (*FeeEstimation, error) {
	v, err, _ := e.group.Do(strategy.String(), func() (interface{}, error) {
		return e.inner.EstimateFeeRate(ctx, strategy)
	})
	if err != nil {
		return nil, err
	}

	return v.(*FeeEstimation), nil
}
