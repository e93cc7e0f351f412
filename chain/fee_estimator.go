package chain

import (
	"context"
	"fmt"

	"github.com/btcsuite/btcd/btcjson"
	"github.com/lightningnetwork/lnd/fn/v2"
)

// DefaultFeeRate is used for every strategy bitcoind has no estimate for, in
// satoshi per kvbyte.
const DefaultFeeRate uint64 = 1000

type FeeStrategy int

const (
	FeeStrategyHighest FeeStrategy = 0
	FeeStrategyUrgent  FeeStrategy = 1
	FeeStrategyNormal  FeeStrategy = 2
	FeeStrategySlow    FeeStrategy = 3
)

var FeeStrategies = []FeeStrategy{
	FeeStrategyHighest,
	FeeStrategyUrgent,
	FeeStrategyNormal,
	FeeStrategySlow,
}

// ConfTarget is the confirmation target in blocks passed to estimatesmartfee.
func (s FeeStrategy) ConfTarget() int64 {
	switch s {
	case FeeStrategyHighest:
		return 2
	case FeeStrategyUrgent:
		return 6
	case FeeStrategyNormal:
		return 12
	default:
		return 100
	}
}

func (s FeeStrategy) Mode() btcjson.EstimateSmartFeeMode {
	if s == FeeStrategyHighest {
		return btcjson.EstimateModeConservative
	}

	return btcjson.EstimateModeEconomical
}

func (s FeeStrategy) String() string {
	switch s {
	case FeeStrategyHighest:
		return "highest"
	case FeeStrategyUrgent:
		return "urgent"
	case FeeStrategyNormal:
		return "normal"
	case FeeStrategySlow:
		return "slow"
	default:
		return fmt.Sprintf("FeeStrategy(%d)", int(s))
	}
}

type FeeEstimation struct {
	// None if the estimator has no usable estimate.
	SatPerKVByte fn.Option[uint64]
}

type FeeEstimator interface {
	EstimateFeeRate(context.Context, FeeStrategy) (*FeeEstimation, error)
}
