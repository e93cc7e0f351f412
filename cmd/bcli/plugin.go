package main

import (
	"context"
	"fmt"
	"log"
	"os"

	"github.com/breez/bcli/backend"
	"github.com/breez/bcli/bcli"
	"github.com/breez/bcli/build"
	"github.com/breez/bcli/cln_plugin"
	"github.com/breez/bcli/config"
	"github.com/urfave/cli"
)

func pluginOptions() []cln_plugin.Option {
	return []cln_plugin.Option{
		{
			Name:        config.DataDirOption,
			Type:        "string",
			Description: "bitcoind data directory, containing the rpc cookie",
			Default:     config.DefaultDataDir(),
		},
		{
			Name:        config.RpcPortOption,
			Type:        "int",
			Description: "bitcoind rpc server port",
			Default:     config.DefaultRpcPort,
		},
		{
			Name:        config.RpcConnectOption,
			Type:        "string",
			Description: "bitcoind rpc server host",
			Default:     config.DefaultRpcHost,
		},
		{
			Name:        config.RpcUserOption,
			Type:        "string",
			Description: "bitcoind rpc username, used if the cookie is unusable",
			Default:     config.DefaultRpcUser,
		},
		{
			Name:        config.RpcPasswordOption,
			Type:        "string",
			Description: "bitcoind rpc password, used if the cookie is unusable",
			Default:     config.DefaultRpcPassword,
		},
		{
			Name:        config.CommitFeePercentOption,
			Type:        "int",
			Description: "Percentage of the urgent feerate used for unilateral closes",
			Default:     config.DefaultCommitFeePercent,
		},
		{
			Name:        config.MaxFeeMultiplierOption,
			Type:        "int",
			Description: "Multiplier on the highest feerate giving the maximum acceptable feerate",
			Default:     config.DefaultMaxFeeMultiplier,
		},
		{
			Name:        config.WarmupIntervalOption,
			Type:        "string",
			Description: "Time between connection attempts while bitcoind is warming up",
			Default:     config.DefaultWarmupInterval.String(),
		},
	}
}

func runPlugin(ctx *cli.Context) error {
	enabled, err := config.EnabledMethods(ctx.StringSlice("disable-method"))
	if err != nil {
		return err
	}

	handle := backend.NewHandle()
	defer handle.Close()

	// Filled in on init, before lightningd routes any method call.
	fees := config.Default().Fees
	srv := bcli.NewServer(handle, bcli.NewFeeEstimator(handle), &fees)

	plugin := cln_plugin.NewClnPlugin(os.Stdin, os.Stdout)
	for _, o := range pluginOptions() {
		plugin.AddOption(o)
	}
	err = bcli.Register(plugin, srv, enabled)
	if err != nil {
		return err
	}

	plugin.OnInit(func(ctx context.Context, init *cln_plugin.InitMessage) error {
		log.Printf("bcli %s initializing.", build.Version())
		cfg, err := config.FromOptions(init.Options)
		if err != nil {
			return fmt.Errorf("invalid configuration: %w", err)
		}
		fees = cfg.Fees

		client, err := backend.Connect(ctx, cfg.Backend, cfg.Retry)
		if err != nil {
			return err
		}

		return handle.Set(client)
	})

	err = plugin.Start()
	if err != nil {
		return fmt.Errorf("plugin stopped: %w", err)
	}

	log.Printf("bcli stopped.")
	return nil
}
