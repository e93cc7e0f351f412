package backend

import (
	"encoding/json"
	"errors"
	"sync"

	"github.com/btcsuite/btcd/btcjson"
	"github.com/btcsuite/btcd/chaincfg/chainhash"
)

var ErrNotImplemented = errors.New("not implemented")

// MockClient is a ChainClient for tests. Every method delegates to the
// corresponding func field, or returns ErrNotImplemented if it is unset.
type MockClient struct {
	RawRequestFunc       func(method string, params []json.RawMessage) (json.RawMessage, error)
	EstimateSmartFeeFunc func(confTarget int64, mode *btcjson.EstimateSmartFeeMode) (*btcjson.EstimateSmartFeeResult, error)
	GetBlockHashFunc     func(blockHeight int64) (*chainhash.Hash, error)
	GetTxOutFunc         func(txHash *chainhash.Hash, index uint32, mempool bool) (*btcjson.GetTxOutResult, error)

	mtx      sync.Mutex
	calls    []string
	shutdown bool
}

// NewRpcError builds the error rpcclient returns when bitcoind rejects a call.
func NewRpcError(code btcjson.RPCErrorCode, message string) error {
	return btcjson.NewRPCError(code, message)
}

func (m *MockClient) record(method string) {
	m.mtx.Lock()
	defer m.mtx.Unlock()
	m.calls = append(m.calls, method)
}

// Calls returns the rpc methods called so far, in order.
func (m *MockClient) Calls() []string {
	m.mtx.Lock()
	defer m.mtx.Unlock()
	return append([]string(nil), m.calls...)
}

func (m *MockClient) IsShutdown() bool {
	m.mtx.Lock()
	defer m.mtx.Unlock()
	return m.shutdown
}

func (m *MockClient) RawRequest(
	method string,
	params []json.RawMessage,
) (json.RawMessage, error) {
	m.record(method)
	if m.RawRequestFunc == nil {
		return nil, ErrNotImplemented
	}
	return m.RawRequestFunc(method, params)
}

func (m *MockClient) EstimateSmartFee(
	confTarget int64,
	mode *btcjson.EstimateSmartFeeMode,
) (*btcjson.EstimateSmartFeeResult, error) {
	m.record("estimatesmartfee")
	if m.EstimateSmartFeeFunc == nil {
		return nil, ErrNotImplemented
	}
	return m.EstimateSmartFeeFunc(confTarget, mode)
}

func (m *MockClient) GetBlockHash(blockHeight int64) (*chainhash.Hash, error) {
	m.record("getblockhash")
	if m.GetBlockHashFunc == nil {
		return nil, ErrNotImplemented
	}
	return m.GetBlockHashFunc(blockHeight)
}

func (m *MockClient) GetTxOut(
	txHash *chainhash.Hash,
	index uint32,
	mempool bool,
) (*btcjson.GetTxOutResult, error) {
	m.record("gettxout")
	if m.GetTxOutFunc == nil {
		return nil, ErrNotImplemented
	}
	return m.GetTxOutFunc(txHash, index, mempool)
}

func (m *MockClient) Shutdown() {
	m.mtx.Lock()
	defer m.mtx.Unlock()
	m.shutdown = true
}
