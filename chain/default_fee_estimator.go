package chain

import (
	"context"
	"log"

	"github.com/lightningnetwork/lnd/fn/v2"
)

// DefaultFeeEstimator substitutes a fixed feerate for every strategy the inner
// estimator has no estimate for. Errors of the inner estimator are returned
// as is.
type DefaultFeeEstimator struct {
	inner   FeeEstimator
	feeRate uint64
}

func NewDefaultFeeEstimator(inner FeeEstimator, feeRate uint64) *DefaultFeeEstimator {
	return &DefaultFeeEstimator{
		inner:   inner,
		feeRate: feeRate,
	}
}

func (e *DefaultFeeEstimator) EstimateFeeRate(
	ctx context.Context,
	strategy FeeStrategy,
) (*FeeEstimation, error) {
	estimation, err := e.inner.EstimateFeeRate(ctx, strategy)
	if err != nil {
		return nil, err
	}

	if estimation.SatPerKVByte.IsNone() {
		log.Printf(
			"DEBUG: No %s feerate estimate (target %d), using default %d sat/kvB.",
			strategy,
			strategy.ConfTarget(),
			e.feeRate,
		)
		return &FeeEstimation{
			SatPerKVByte: fn.Some(e.feeRate),
		}, nil
	}

	return estimation, nil
}
