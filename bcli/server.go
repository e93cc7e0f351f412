package bcli

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"math"
	"math/bits"

	"github.com/breez/bcli/backend"
	"github.com/breez/bcli/chain"
	"github.com/breez/bcli/cln_plugin"
	"github.com/breez/bcli/config"
	"github.com/btcsuite/btcd/btcjson"
	"github.com/btcsuite/btcd/btcutil"
	"github.com/btcsuite/btcd/chaincfg/chainhash"
)

// BcliServer implements the methods lightningd calls on its bitcoin backend.
type BcliServer interface {
	GetChainInfo(
		ctx context.Context,
		req *GetChainInfoRequest,
	) (*GetChainInfoResponse, error)
	EstimateFees(
		ctx context.Context,
		req *EstimateFeesRequest,
	) (*EstimateFeesResponse, error)
	GetRawBlockByHeight(
		ctx context.Context,
		req *GetRawBlockByHeightRequest,
	) (*GetRawBlockByHeightResponse, error)
	GetUtxOut(
		ctx context.Context,
		req *GetUtxOutRequest,
	) (*GetUtxOutResponse, error)
	SendRawTransaction(
		ctx context.Context,
		req *SendRawTransactionRequest,
	) (*SendRawTransactionResponse, error)
}

type server struct {
	handle    *backend.Handle
	estimator chain.FeeEstimator
	fees      *config.FeePolicy
}

// NewServer returns the method implementations. The fee policy is read on
// every estimatefees call. It is only known once lightningd sent the init
// message, so the caller may fill it in until methods are routed.
func NewServer(
	handle *backend.Handle,
	estimator chain.FeeEstimator,
	fees *config.FeePolicy,
) BcliServer {
	return &server{
		handle:    handle,
		estimator: estimator,
		fees:      fees,
	}
}

// NewFeeEstimator returns the estimator used for estimatefees: bitcoind
// estimates with the default feerate substituted for missing estimates, with
// concurrent requests for the same strategy sharing one call to bitcoind.
func NewFeeEstimator(handle *backend.Handle) chain.FeeEstimator {
	return chain.NewCoalescingFeeEstimator(
		chain.NewDefaultFeeEstimator(
			chain.NewBitcoindFeeEstimator(handle),
			chain.DefaultFeeRate,
		),
	)
}

type blockchainInfo struct {
	Chain                string `json:"chain"`
	Blocks               int64  `json:"blocks"`
	Headers              int64  `json:"headers"`
	InitialBlockDownload bool   `json:"initialblockdownload"`
}

func (s *server) GetChainInfo(
	ctx context.Context,
	req *GetChainInfoRequest,
) (*GetChainInfoResponse, error) {
	client, err := s.handle.Client()
	if err != nil {
		return nil, err
	}

	resp, err := client.RawRequest("getblockchaininfo", nil)
	if err != nil {
		return nil, fmt.Errorf("getblockchaininfo: %w", err)
	}

	info := new(blockchainInfo)
	if err := json.Unmarshal(resp, info); err != nil {
		return nil, fmt.Errorf("failed to parse getblockchaininfo response: %w", err)
	}

	return &GetChainInfoResponse{
		Chain:       info.Chain,
		HeaderCount: info.Headers,
		BlockCount:  info.Blocks,
		Ibd:         info.InitialBlockDownload,
	}, nil
}

func (s *server) EstimateFees(
	ctx context.Context,
	req *EstimateFeesRequest,
) (*EstimateFeesResponse, error) {
	rates, err := chain.EstimateFeeRates(ctx, s.estimator)
	if err != nil {
		return nil, fmt.Errorf("estimatesmartfee: %w", err)
	}

	return deriveFees(rates, *s.fees), nil
}

// deriveFees maps the feerates per strategy onto the feerates lightningd uses
// for its transactions. Integer arithmetic, results are truncated. Products
// saturate instead of wrapping around.
func deriveFees(rates *chain.FeeRates, policy config.FeePolicy) *EstimateFeesResponse {
	return &EstimateFeesResponse{
		Opening:         rates.Normal,
		MutualClose:     rates.Slow,
		UnilateralClose: mulSaturating(rates.Urgent, policy.CommitFeePercent) / 100,
		DelayedToUs:     rates.Normal,
		HtlcResolution:  rates.Urgent,
		Penalty:         rates.Normal,
		MinAcceptable:   rates.Slow / 2,
		MaxAcceptable:   mulSaturating(rates.Highest, policy.MaxFeeMultiplier),
	}
}

func mulSaturating(a, b uint64) uint64 {
	hi, lo := bits.Mul64(a, b)
	if hi != 0 {
		return math.MaxUint64
	}

	return lo
}

func (s *server) GetRawBlockByHeight(
	ctx context.Context,
	req *GetRawBlockByHeightRequest,
) (*GetRawBlockByHeightResponse, error) {
	if req.Height == nil {
		return nil, cln_plugin.InvalidParamsErrorf("%s: missing height", config.MethodGetRawBlockByHeight)
	}
	if *req.Height < 0 {
		return nil, cln_plugin.InvalidParamsErrorf(
			"%s: height must not be negative, got %d",
			config.MethodGetRawBlockByHeight,
			*req.Height,
		)
	}

	client, err := s.handle.Client()
	if err != nil {
		return nil, err
	}

	hash, err := client.GetBlockHash(*req.Height)
	if err != nil {
		// Heights above the tip are out of range.
		if backend.IsCode(err, backend.CodeInvalidParameter) {
			return &GetRawBlockByHeightResponse{}, nil
		}

		return nil, fmt.Errorf("getblockhash %d: %w", *req.Height, err)
	}

	// Verbosity 0 returns the serialized block as hex, passed on unchanged.
	params, err := marshalParams(hash.String(), 0)
	if err != nil {
		return nil, err
	}
	resp, err := client.RawRequest("getblock", params)
	if err != nil {
		return nil, fmt.Errorf("getblock %s: %w", hash, err)
	}

	var blockHex string
	if err := json.Unmarshal(resp, &blockHex); err != nil {
		return nil, fmt.Errorf("failed to parse getblock response: %w", err)
	}

	blockHash := hash.String()
	return &GetRawBlockByHeightResponse{
		BlockHash: &blockHash,
		Block:     &blockHex,
	}, nil
}

func (s *server) GetUtxOut(
	ctx context.Context,
	req *GetUtxOutRequest,
) (*GetUtxOutResponse, error) {
	if req.Txid == nil {
		return nil, cln_plugin.InvalidParamsErrorf("%s: missing txid", config.MethodGetUtxOut)
	}
	if len(*req.Txid) != chainhash.MaxHashStringSize {
		return nil, cln_plugin.InvalidParamsErrorf(
			"%s: txid must be %d hex characters, got '%s'",
			config.MethodGetUtxOut,
			chainhash.MaxHashStringSize,
			*req.Txid,
		)
	}
	txid, err := chainhash.NewHashFromStr(*req.Txid)
	if err != nil {
		return nil, cln_plugin.InvalidParamsErrorf(
			"%s: invalid txid '%s': %v",
			config.MethodGetUtxOut,
			*req.Txid,
			err,
		)
	}
	if req.Vout == nil {
		return nil, cln_plugin.InvalidParamsErrorf("%s: missing vout", config.MethodGetUtxOut)
	}
	if *req.Vout < 0 || *req.Vout > math.MaxUint32 {
		return nil, cln_plugin.InvalidParamsErrorf(
			"%s: invalid vout %d",
			config.MethodGetUtxOut,
			*req.Vout,
		)
	}

	client, err := s.handle.Client()
	if err != nil {
		return nil, err
	}

	result, err := client.GetTxOut(txid, uint32(*req.Vout), true)
	if err != nil {
		return nil, fmt.Errorf("gettxout %s:%d: %w", txid, *req.Vout, err)
	}

	// Spent or nonexistent.
	if result == nil {
		return &GetUtxOutResponse{}, nil
	}

	amount, err := btcutil.NewAmount(result.Value)
	if err != nil {
		return nil, fmt.Errorf(
			"invalid amount %v for output %s:%d: %w",
			result.Value,
			txid,
			*req.Vout,
			err,
		)
	}

	sats := int64(amount)
	script := result.ScriptPubKey.Hex
	return &GetUtxOutResponse{
		Amount: &sats,
		Script: &script,
	}, nil
}

func (s *server) SendRawTransaction(
	ctx context.Context,
	req *SendRawTransactionRequest,
) (*SendRawTransactionResponse, error) {
	if req.Tx == nil {
		return nil, cln_plugin.InvalidParamsErrorf("%s: missing tx", config.MethodSendRawTransaction)
	}

	client, err := s.handle.Client()
	if err != nil {
		return nil, err
	}

	args := []interface{}{*req.Tx}
	if req.AllowHighFees != nil && *req.AllowHighFees {
		// A maxfeerate of zero disables the feerate check.
		args = append(args, 0)
	}
	params, err := marshalParams(args...)
	if err != nil {
		return nil, err
	}

	_, err = client.RawRequest("sendrawtransaction", params)
	if err == nil {
		return &SendRawTransactionResponse{Success: true}, nil
	}

	// Already known counts as a successful broadcast.
	if backend.IsCode(err, backend.CodeAlreadyInChain) {
		log.Printf("DEBUG: Transaction already known to bitcoind: %v", err)
		return &SendRawTransactionResponse{Success: true}, nil
	}

	rpcErr := new(btcjson.RPCError)
	if errors.As(err, &rpcErr) {
		log.Printf("UNUSUAL: bitcoind rejected transaction: %v", rpcErr)
		return &SendRawTransactionResponse{
			Success: false,
			ErrMsg:  rpcErr.Message,
		}, nil
	}

	return nil, fmt.Errorf("sendrawtransaction: %w", err)
}

func marshalParams(args ...interface{}) ([]json.RawMessage, error) {
	params := make([]json.RawMessage, 0, len(args))
	for _, arg := range args {
		b, err := json.Marshal(arg)
		if err != nil {
			return nil, fmt.Errorf("failed to marshal rpc param %v: %w", arg, err)
		}
		params = append(params, b)
	}

	return params, nil
}
