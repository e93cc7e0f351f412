package chain

import (
	"context"

	"golang.org/x/sync/errgroup"
)

// FeeRates holds the feerate of every strategy, in satoshi per kvbyte.
type FeeRates struct {
	Highest uint64
	Urgent  uint64
	Normal  uint64
	Slow    uint64
}

// EstimateFeeRates queries all strategies concurrently. The estimator is
// expected to substitute defaults, a missing estimate counts as zero.
func EstimateFeeRates(
	ctx context.Context,
	estimator FeeEstimator,
) (*FeeRates, error) {
	rates := make([]uint64, len(FeeStrategies))
	g, ctx := errgroup.WithContext(ctx)
	for i, strategy := range FeeStrategies {
		i, strategy := i, strategy
		g.Go(func() error {
			estimation, err := estimator.EstimateFeeRate(ctx, strategy)
			if err != nil {
				return err
			}

			rates[i] = estimation.SatPerKVByte.UnwrapOr(0)
			return nil
		})
	}

	if err := g.Wait(); err != nil {
		return nil, err
	}

	return &FeeRates{
		Highest: rates[FeeStrategyHighest],
		Urgent:  rates[FeeStrategyUrgent],
		Normal:  rates[FeeStrategyNormal],
		Slow:    rates[FeeStrategySlow],
	}, nil
}
