package bcli

type GetChainInfoRequest struct {
	// Height lightningd already knows about. Not used.
	LastHeight *int64 `json:"last_height,omitempty"`
}

type GetChainInfoResponse struct {
	Chain       string `json:"chain"`
	HeaderCount int64  `json:"headercount"`
	BlockCount  int64  `json:"blockcount"`
	Ibd         bool   `json:"ibd"`
}

type EstimateFeesRequest struct{}

// EstimateFeesResponse holds feerates in satoshi per kvbyte.
type EstimateFeesResponse struct {
	Opening         uint64 `json:"opening"`
	MutualClose     uint64 `json:"mutual_close"`
	UnilateralClose uint64 `json:"unilateral_close"`
	DelayedToUs     uint64 `json:"delayed_to_us"`
	HtlcResolution  uint64 `json:"htlc_resolution"`
	Penalty         uint64 `json:"penalty"`
	MinAcceptable   uint64 `json:"min_acceptable"`
	MaxAcceptable   uint64 `json:"max_acceptable"`
}

type GetRawBlockByHeightRequest struct {
	Height *int64 `json:"height"`
}

// Both fields are null if the height is above the tip.
type GetRawBlockByHeightResponse struct {
	BlockHash *string `json:"blockhash"`
	Block     *string `json:"block"`
}

type GetUtxOutRequest struct {
	Txid *string `json:"txid"`
	Vout *int64  `json:"vout"`
}

// Both fields are omitted if the output is spent or does not exist.
type GetUtxOutResponse struct {
	Amount *int64  `json:"amount,omitempty"`
	Script *string `json:"script,omitempty"`
}

type SendRawTransactionRequest struct {
	Tx            *string `json:"tx"`
	AllowHighFees *bool   `json:"allowhighfees,omitempty"`
}

type SendRawTransactionResponse struct {
	Success bool   `json:"success"`
	ErrMsg  string `json:"errmsg"`
}
