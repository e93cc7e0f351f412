package bcli

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/breez/bcli/cln_plugin"
	"github.com/breez/bcli/config"
	"golang.org/x/exp/slices"
)

// MethodRegistrar is implemented by the plugin host.
type MethodRegistrar interface {
	RegisterMethod(m *cln_plugin.Method) error
}

type methodDesc struct {
	name        string
	usage       string
	description string
	handler     func(srv BcliServer, ctx context.Context, dec func(interface{}) error) (interface{}, error)
}

var methods = []methodDesc{
	{
		name:        config.MethodGetChainInfo,
		usage:       "[last_height]",
		description: "Get the chain id, the header count, the block count and whether this is IBD.",
		handler: func(srv BcliServer, ctx context.Context, dec func(interface{}) error) (interface{}, error) {
			in := new(GetChainInfoRequest)
			if err := dec(in); err != nil {
				return nil, err
			}
			return srv.GetChainInfo(ctx, in)
		},
	},
	{
		name:        config.MethodEstimateFees,
		usage:       "",
		description: "Get the urgent, normal and slow Bitcoin feerates as sat/kVB.",
		handler: func(srv BcliServer, ctx context.Context, dec func(interface{}) error) (interface{}, error) {
			in := new(EstimateFeesRequest)
			if err := dec(in); err != nil {
				return nil, err
			}
			return srv.EstimateFees(ctx, in)
		},
	},
	{
		name:        config.MethodGetRawBlockByHeight,
		usage:       "height",
		description: "Get the bitcoin block at a given height",
		handler: func(srv BcliServer, ctx context.Context, dec func(interface{}) error) (interface{}, error) {
			in := new(GetRawBlockByHeightRequest)
			if err := dec(in); err != nil {
				return nil, err
			}
			return srv.GetRawBlockByHeight(ctx, in)
		},
	},
	{
		name:        config.MethodGetUtxOut,
		usage:       "txid vout",
		description: "Get information about an output, identified by a {txid} an a {vout}",
		handler: func(srv BcliServer, ctx context.Context, dec func(interface{}) error) (interface{}, error) {
			in := new(GetUtxOutRequest)
			if err := dec(in); err != nil {
				return nil, err
			}
			return srv.GetUtxOut(ctx, in)
		},
	},
	{
		name:        config.MethodSendRawTransaction,
		usage:       "tx [allowhighfees]",
		description: "Send a raw transaction to the Bitcoin network.",
		handler: func(srv BcliServer, ctx context.Context, dec func(interface{}) error) (interface{}, error) {
			in := new(SendRawTransactionRequest)
			if err := dec(in); err != nil {
				return nil, err
			}
			return srv.SendRawTransaction(ctx, in)
		},
	},
}

// Register registers the enabled methods of srv with the plugin host, in the
// order lightningd documents them.
func Register(r MethodRegistrar, srv BcliServer, enabled []string) error {
	for _, d := range enabled {
		if !slices.ContainsFunc(methods, func(m methodDesc) bool {
			return m.name == d
		}) {
			return fmt.Errorf("unknown method '%s'", d)
		}
	}

	for _, m := range methods {
		if !slices.Contains(enabled, m.name) {
			continue
		}

		m := m
		err := r.RegisterMethod(&cln_plugin.Method{
			Name:        m.name,
			Usage:       m.usage,
			Description: m.description,
			Handler: func(ctx context.Context, params json.RawMessage) (interface{}, error) {
				dec := func(in interface{}) error {
					if err := json.Unmarshal(params, in); err != nil {
						return cln_plugin.InvalidParamsErrorf(
							"%s: invalid params: %v",
							m.name,
							err,
						)
					}
					return nil
				}
				return m.handler(srv, ctx, dec)
			},
		})
		if err != nil {
			return fmt.Errorf("failed to register %s: %w", m.name, err)
		}
	}

	return nil
}
