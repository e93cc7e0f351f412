package backend

import (
	"encoding/json"
	"errors"

	"github.com/btcsuite/btcd/btcjson"
	"github.com/btcsuite/btcd/chaincfg/chainhash"
	"github.com/btcsuite/btcd/rpcclient"
)

// ChainClient is the subset of the bitcoind rpc api used by the plugin.
// rpcclient calls are not cancelable, so none of these take a context.
type ChainClient interface {
	RawRequest(method string, params []json.RawMessage) (json.RawMessage, error)
	EstimateSmartFee(
		confTarget int64,
		mode *btcjson.EstimateSmartFeeMode,
	) (*btcjson.EstimateSmartFeeResult, error)
	GetBlockHash(blockHeight int64) (*chainhash.Hash, error)
	GetTxOut(
		txHash *chainhash.Hash,
		index uint32,
		mempool bool,
	) (*btcjson.GetTxOutResult, error)
	Shutdown()
}

var _ ChainClient = (*rpcclient.Client)(nil)

// Error codes returned by bitcoind that get special treatment.
const (
	// Parameter out of range, e.g. a block height above the tip.
	CodeInvalidParameter btcjson.RPCErrorCode = -8

	// Transaction already in the chain or the mempool.
	CodeAlreadyInChain btcjson.RPCErrorCode = -27

	// bitcoind is still loading its chain state.
	CodeInWarmup btcjson.RPCErrorCode = -28
)

// ErrorCode returns the code of the bitcoind rpc error wrapped in err. ok is
// false if err is not an rpc error, for example a transport failure.
func ErrorCode(err error) (code btcjson.RPCErrorCode, ok bool) {
	rpcErr := new(btcjson.RPCError)
	if !errors.As(err, &rpcErr) {
		return 0, false
	}

	return rpcErr.Code, true
}

// IsWarmup reports whether bitcoind rejected the call because it is still
// warming up. Some clients surface the warm-up code without its sign, so both
// are accepted.
func IsWarmup(err error) bool {
	code, ok := ErrorCode(err)
	return ok && (code == CodeInWarmup || code == -CodeInWarmup)
}

func IsCode(err error, code btcjson.RPCErrorCode) bool {
	c, ok := ErrorCode(err)
	return ok && c == code
}
