package chain

import (
	"context"
	"fmt"
	"log"

	"github.com/breez/bcli/backend"
	"github.com/btcsuite/btcd/btcutil"
	"github.com/lightningnetwork/lnd/fn/v2"
)

// BitcoindFeeEstimator asks bitcoind's estimatesmartfee for the confirmation
// target and mode of the strategy.
type BitcoindFeeEstimator struct {
	handle *backend.Handle
}

func NewBitcoindFeeEstimator(handle *backend.Handle) *BitcoindFeeEstimator {
	return &BitcoindFeeEstimator{
		handle: handle,
	}
}

func (e *BitcoindFeeEstimator) EstimateFeeRate(
	_ context.Context,
	strategy FeeStrategy,
) (*FeeEstimation, error) {
	client, err := e.handle.Client()
	if err != nil {
		return nil, err
	}

	mode := strategy.Mode()
	result, err := client.EstimateSmartFee(strategy.ConfTarget(), &mode)
	if err != nil {
		return nil, fmt.Errorf(
			"estimatesmartfee %d %s: %w",
			strategy.ConfTarget(),
			mode,
			err,
		)
	}

	// bitcoind omits the feerate and reports errors when it does not have
	// enough data yet.
	if result == nil || result.FeeRate == nil || *result.FeeRate <= 0 ||
		len(result.Errors) > 0 {
		if result != nil && len(result.Errors) > 0 {
			log.Printf(
				"DEBUG: estimatesmartfee %d %s: %v",
				strategy.ConfTarget(),
				mode,
				result.Errors,
			)
		}
		return &FeeEstimation{SatPerKVByte: fn.None[uint64]()}, nil
	}

	// The feerate is returned in BTC/kvB.
	amount, err := btcutil.NewAmount(*result.FeeRate)
	if err != nil {
		return nil, fmt.Errorf("invalid feerate %v: %w", *result.FeeRate, err)
	}

	return &FeeEstimation{
		SatPerKVByte: fn.Some(uint64(amount)),
	}, nil
}
