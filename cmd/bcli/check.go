package main

import (
	"context"
	"encoding/json"
	"os"
	"os/signal"

	"github.com/breez/bcli/backend"
	"github.com/breez/bcli/bcli"
	"github.com/breez/bcli/config"
	"github.com/urfave/cli"
)

var checkCommand = cli.Command{
	Name:  "check",
	Usage: "Connect to bitcoind the way the plugin does and print the chain info and fee estimates.",
	Flags: []cli.Flag{
		cli.StringFlag{
			Name:  "datadir",
			Value: config.DefaultDataDir(),
			Usage: "bitcoind data directory, containing the rpc cookie.",
		},
		cli.StringFlag{
			Name:  "rpcconnect",
			Value: config.DefaultRpcHost,
			Usage: "bitcoind rpc server host.",
		},
		cli.IntFlag{
			Name:  "rpcport",
			Value: config.DefaultRpcPort,
			Usage: "bitcoind rpc server port.",
		},
		cli.StringFlag{
			Name:  "rpcuser",
			Value: config.DefaultRpcUser,
			Usage: "bitcoind rpc username, used if the cookie is unusable.",
		},
		cli.StringFlag{
			Name:  "rpcpassword",
			Value: config.DefaultRpcPassword,
			Usage: "bitcoind rpc password, used if the cookie is unusable.",
		},
	},
	Action: check,
}

type checkOutput struct {
	ChainInfo    *bcli.GetChainInfoResponse `json:"getchaininfo"`
	EstimateFees *bcli.EstimateFeesResponse `json:"estimatefees"`
}

func check(ctx *cli.Context) error {
	cfg := config.Default()
	cfg.Backend = config.NewBackendConfig(
		ctx.String("datadir"),
		ctx.String("rpcconnect"),
		ctx.Int("rpcport"),
		ctx.String("rpcuser"),
		ctx.String("rpcpassword"),
	)

	c, cancel := signal.NotifyContext(context.Background(), os.Interrupt)
	defer cancel()

	client, err := backend.Connect(c, cfg.Backend, cfg.Retry)
	if err != nil {
		return err
	}

	handle := backend.NewHandle()
	defer handle.Close()
	if err := handle.Set(client); err != nil {
		return err
	}

	srv := bcli.NewServer(handle, bcli.NewFeeEstimator(handle), &cfg.Fees)
	info, err := srv.GetChainInfo(c, &bcli.GetChainInfoRequest{})
	if err != nil {
		return err
	}

	fees, err := srv.EstimateFees(c, &bcli.EstimateFeesRequest{})
	if err != nil {
		return err
	}

	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	return enc.Encode(&checkOutput{
		ChainInfo:    info,
		EstimateFees: fees,
	})
}
