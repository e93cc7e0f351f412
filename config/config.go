package config

import (
	"fmt"
	"math"
	"net"
	"os"
	"path/filepath"
	"strconv"
	"time"

	"golang.org/x/exp/slices"
)

const (
	DataDirOption          = "bitcoin-datadir"
	RpcPortOption          = "bitcoin-rpcport"
	RpcConnectOption       = "bitcoin-rpcconnect"
	RpcUserOption          = "bitcoin-rpcuser"
	RpcPasswordOption      = "bitcoin-rpcpassword"
	CommitFeePercentOption = "bcli-commit-fee-percent"
	MaxFeeMultiplierOption = "bcli-max-fee-multiplier"
	WarmupIntervalOption   = "bcli-warmup-interval"
)

const (
	DefaultRpcPort          = 8332
	DefaultRpcHost          = "127.0.0.1"
	DefaultRpcUser          = "user"
	DefaultRpcPassword      = "password"
	DefaultCommitFeePercent = 100
	DefaultMaxFeeMultiplier = 10
	DefaultWarmupInterval   = time.Second
)

// Names of the methods lightningd expects from a bitcoin backend plugin.
const (
	MethodGetChainInfo        = "getchaininfo"
	MethodEstimateFees        = "estimatefees"
	MethodGetRawBlockByHeight = "getrawblockbyheight"
	MethodGetUtxOut           = "getutxout"
	MethodSendRawTransaction  = "sendrawtransaction"
)

var AllMethods = []string{
	MethodGetChainInfo,
	MethodEstimateFees,
	MethodGetRawBlockByHeight,
	MethodGetUtxOut,
	MethodSendRawTransaction,
}

// BackendConfig describes how to reach bitcoind. It is passed by value and
// never modified after construction.
type BackendConfig struct {
	// The bitcoind data directory. The rpc cookie file is expected in its
	// root.
	DataDir string

	// Host of the bitcoind rpc server.
	Host string

	// Port of the bitcoind rpc server.
	Port int

	// Static rpc credentials, used when the cookie file is unusable.
	User     string
	Password string
}

func NewBackendConfig(
	dataDir string,
	host string,
	port int,
	user string,
	password string,
) BackendConfig {
	return BackendConfig{
		DataDir:  dataDir,
		Host:     host,
		Port:     port,
		User:     user,
		Password: password,
	}
}

// RpcAddress is the host:port of the bitcoind rpc server.
func (c BackendConfig) RpcAddress() string {
	return net.JoinHostPort(c.Host, strconv.Itoa(c.Port))
}

// CookiePath is the location of the cookie bitcoind writes on startup.
func (c BackendConfig) CookiePath() string {
	return filepath.Join(c.DataDir, ".cookie")
}

// FeePolicy holds the multipliers applied to the raw feerates when answering
// estimatefees.
type FeePolicy struct {
	// Percentage of the urgent feerate used for unilateral closes.
	CommitFeePercent uint64

	// Multiplier on the highest feerate giving the maximum acceptable feerate.
	MaxFeeMultiplier uint64
}

type RetryPolicy struct {
	// Time to wait between probes while bitcoind is warming up. There is no
	// limit on the number of probes.
	WarmupInterval time.Duration
}

type Config struct {
	Backend BackendConfig
	Fees    FeePolicy
	Retry   RetryPolicy
}

func DefaultDataDir() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return ""
	}

	return home
}

func Default() *Config {
	return &Config{
		Backend: NewBackendConfig(
			DefaultDataDir(),
			DefaultRpcHost,
			DefaultRpcPort,
			DefaultRpcUser,
			DefaultRpcPassword,
		),
		Fees: FeePolicy{
			CommitFeePercent: DefaultCommitFeePercent,
			MaxFeeMultiplier: DefaultMaxFeeMultiplier,
		},
		Retry: RetryPolicy{
			WarmupInterval: DefaultWarmupInterval,
		},
	}
}

// FromOptions builds the config from the option values lightningd passes in
// the init message. Missing options take their defaults.
func FromOptions(options map[string]interface{}) (*Config, error) {
	cfg := Default()

	dataDir, err := stringOption(options, DataDirOption, cfg.Backend.DataDir)
	if err != nil {
		return nil, err
	}
	host, err := stringOption(options, RpcConnectOption, cfg.Backend.Host)
	if err != nil {
		return nil, err
	}
	port, err := intOption(options, RpcPortOption, int64(cfg.Backend.Port))
	if err != nil {
		return nil, err
	}
	if port <= 0 || port > 65535 {
		return nil, fmt.Errorf("%s is not a valid port: %d", RpcPortOption, port)
	}
	user, err := stringOption(options, RpcUserOption, cfg.Backend.User)
	if err != nil {
		return nil, err
	}
	password, err := stringOption(options, RpcPasswordOption, cfg.Backend.Password)
	if err != nil {
		return nil, err
	}
	cfg.Backend = NewBackendConfig(dataDir, host, int(port), user, password)

	commitFeePercent, err := intOption(
		options,
		CommitFeePercentOption,
		int64(cfg.Fees.CommitFeePercent),
	)
	if err != nil {
		return nil, err
	}
	if commitFeePercent < 0 || commitFeePercent > math.MaxUint32 {
		return nil, fmt.Errorf(
			"%s must be between 0 and %d",
			CommitFeePercentOption,
			uint64(math.MaxUint32),
		)
	}
	maxFeeMultiplier, err := intOption(
		options,
		MaxFeeMultiplierOption,
		int64(cfg.Fees.MaxFeeMultiplier),
	)
	if err != nil {
		return nil, err
	}
	if maxFeeMultiplier < 0 || maxFeeMultiplier > math.MaxUint32 {
		return nil, fmt.Errorf(
			"%s must be between 0 and %d",
			MaxFeeMultiplierOption,
			uint64(math.MaxUint32),
		)
	}
	cfg.Fees = FeePolicy{
		CommitFeePercent: uint64(commitFeePercent),
		MaxFeeMultiplier: uint64(maxFeeMultiplier),
	}

	interval, err := stringOption(
		options,
		WarmupIntervalOption,
		DefaultWarmupInterval.String(),
	)
	if err != nil {
		return nil, err
	}
	cfg.Retry.WarmupInterval, err = time.ParseDuration(interval)
	if err != nil || cfg.Retry.WarmupInterval < 0 {
		return nil, fmt.Errorf(
			"%s is not a valid duration: '%s'",
			WarmupIntervalOption,
			interval,
		)
	}

	return cfg, nil
}

// EnabledMethods returns the methods to register, in registration order. The
// manifest is sent before lightningd passes option values, so the disabled
// methods come from the command line rather than from plugin options.
func EnabledMethods(disabled []string) ([]string, error) {
	for _, d := range disabled {
		if !slices.Contains(AllMethods, d) {
			return nil, fmt.Errorf("cannot disable unknown method '%s'", d)
		}
	}

	var enabled []string
	for _, m := range AllMethods {
		if !slices.Contains(disabled, m) {
			enabled = append(enabled, m)
		}
	}

	return enabled, nil
}

func stringOption(
	options map[string]interface{},
	name string,
	def string,
) (string, error) {
	v, ok := options[name]
	if !ok || v == nil {
		return def, nil
	}

	s, ok := v.(string)
	if !ok {
		return "", fmt.Errorf("%s is not a valid string: %v", name, v)
	}

	return s, nil
}

// lightningd sends int options as json numbers, older versions as strings.
func intOption(
	options map[string]interface{},
	name string,
	def int64,
) (int64, error) {
	v, ok := options[name]
	if !ok || v == nil {
		return def, nil
	}

	switch n := v.(type) {
	case float64:
		if n != float64(int64(n)) {
			return 0, fmt.Errorf("%s is not a valid integer: %v", name, v)
		}
		return int64(n), nil
	case int64:
		return n, nil
	case int:
		return int64(n), nil
	case string:
		i, err := strconv.ParseInt(n, 10, 64)
		if err != nil {
			return 0, fmt.Errorf("%s is not a valid integer: %v", name, v)
		}
		return i, nil
	default:
		return 0, fmt.Errorf("%s is not a valid integer: %v", name, v)
	}
}
