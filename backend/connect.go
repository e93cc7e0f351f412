package backend

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"net"
	"time"

	"github.com/breez/bcli/config"
	"github.com/btcsuite/btcd/rpcclient"
	"github.com/lightningnetwork/lnd/clock"
)

var ErrBackendUnreachable = errors.New(
	"could not connect to bitcoind, is bitcoind running?",
)

// NewClientFunc constructs a client for the given rpc config. It does not
// contact bitcoind.
type NewClientFunc func(cfg *rpcclient.ConnConfig) (ChainClient, error)

func newRpcClient(cfg *rpcclient.ConnConfig) (ChainClient, error) {
	client, err := rpcclient.New(cfg, nil)
	if err != nil {
		return nil, err
	}

	return client, nil
}

// Timeout of the connection check before every probe.
var DialTimeout = 5 * time.Second

// CheckReachableFunc returns an error if nothing accepts connections at the
// bitcoind rpc address.
type CheckReachableFunc func(ctx context.Context, address string) error

// rpcclient retries failed http posts internally with a growing backoff, so a
// plain tcp dial is used to detect a bitcoind that is not running at all.
func checkReachable(ctx context.Context, address string) error {
	dialer := &net.Dialer{Timeout: DialTimeout}
	conn, err := dialer.DialContext(ctx, "tcp", address)
	if err != nil {
		return err
	}

	return conn.Close()
}

type networkInfo struct {
	Version    int64  `json:"version"`
	SubVersion string `json:"subversion"`
}

// Bootstrapper establishes the single connection to bitcoind.
type Bootstrapper struct {
	cfg       config.BackendConfig
	retry     config.RetryPolicy
	clock     clock.Clock
	newClient NewClientFunc
	reachable CheckReachableFunc
}

func NewBootstrapper(
	cfg config.BackendConfig,
	retry config.RetryPolicy,
	clk clock.Clock,
) *Bootstrapper {
	return &Bootstrapper{
		cfg:       cfg,
		retry:     retry,
		clock:     clk,
		newClient: newRpcClient,
		reachable: checkReachable,
	}
}

// Connect constructs a client and probes bitcoind until it answers. While
// bitcoind reports it is warming up the probe is repeated every
// WarmupInterval, without limit. Any other probe failure is fatal, as is a
// refused connection before a probe. Connect only returns early on a warm-up
// wait when ctx is done.
func (b *Bootstrapper) Connect(ctx context.Context) (ChainClient, error) {
	client, err := b.construct()
	if err != nil {
		return nil, err
	}

	for {
		err := b.reachable(ctx, b.cfg.RpcAddress())
		if err != nil {
			client.Shutdown()
			if ctx.Err() != nil {
				return nil, ctx.Err()
			}
			return nil, fmt.Errorf("%w: %v", ErrBackendUnreachable, err)
		}

		info, err := probe(client)
		if err == nil {
			log.Printf(
				"Connected to bitcoind %s (version %d) at %s.",
				info.SubVersion,
				info.Version,
				b.cfg.RpcAddress(),
			)
			return client, nil
		}

		if !IsWarmup(err) {
			client.Shutdown()
			return nil, fmt.Errorf("%w: %v", ErrBackendUnreachable, err)
		}

		log.Printf("DEBUG: Waiting for bitcoind to warm up: %v", err)
		select {
		case <-ctx.Done():
			client.Shutdown()
			return nil, ctx.Err()
		case <-b.clock.TickAfter(b.retry.WarmupInterval):
		}
	}
}

// construct builds a client with the first usable credential. Only a failure
// on the last credential is returned.
func (b *Bootstrapper) construct() (ChainClient, error) {
	credentials := Credentials(b.cfg)
	for i, credential := range credentials {
		last := i == len(credentials)-1
		connCfg, err := credential.connConfig(b.cfg)
		if err == nil {
			var client ChainClient
			client, err = b.newClient(connCfg)
			if err == nil {
				log.Printf(
					"Using %s to authenticate to bitcoind at %s.",
					credential,
					b.cfg.RpcAddress(),
				)
				return client, nil
			}
		}

		if last {
			return nil, fmt.Errorf(
				"failed to create bitcoind client with %s: %w",
				credential,
				err,
			)
		}

		log.Printf(
			"DEBUG: Cannot use %s, trying next credential: %v",
			credential,
			err,
		)
	}

	return nil, fmt.Errorf("no bitcoind credentials configured")
}

func probe(client ChainClient) (*networkInfo, error) {
	resp, err := client.RawRequest("getnetworkinfo", nil)
	if err != nil {
		return nil, err
	}

	info := new(networkInfo)
	if err := json.Unmarshal(resp, info); err != nil {
		// bitcoind answered, the version is only informational.
		log.Printf("UNUSUAL: Failed to parse getnetworkinfo response: %v", err)
	}

	return info, nil
}

// Connect is a convenience for bootstrapping with the wall clock.
func Connect(
	ctx context.Context,
	cfg config.BackendConfig,
	retry config.RetryPolicy,
) (ChainClient, error) {
	return NewBootstrapper(cfg, retry, clock.NewDefaultClock()).Connect(ctx)
}
