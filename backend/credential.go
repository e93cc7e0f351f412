package backend

import (
	"fmt"
	"os"
	"strings"

	"github.com/breez/bcli/config"
	"github.com/btcsuite/btcd/rpcclient"
)

// Credential is the way the plugin authenticates to bitcoind. It is either a
// CookieCredential or a UserPassCredential.
type Credential interface {
	// connConfig returns the rpcclient config for this credential, or an
	// error if the credential cannot be used at all.
	connConfig(cfg config.BackendConfig) (*rpcclient.ConnConfig, error)
	String() string
}

type CookieCredential struct {
	Path string
}

type UserPassCredential struct {
	User     string
	Password string
}

func (c CookieCredential) String() string {
	return fmt.Sprintf("cookie file '%s'", c.Path)
}

// The cookie is checked up front so an unusable cookie falls back to the
// static credentials. rpcclient itself re-reads the file when bitcoind
// rotates it on restart.
func (c CookieCredential) connConfig(
	cfg config.BackendConfig,
) (*rpcclient.ConnConfig, error) {
	if c.Path == "" {
		return nil, fmt.Errorf("empty cookie path")
	}

	b, err := os.ReadFile(c.Path)
	if err != nil {
		return nil, fmt.Errorf("failed to read cookie file: %w", err)
	}

	parts := strings.SplitN(strings.TrimSpace(string(b)), ":", 2)
	if len(parts) != 2 || parts[0] == "" {
		return nil, fmt.Errorf("malformed cookie file '%s'", c.Path)
	}

	connCfg := baseConnConfig(cfg)
	connCfg.CookiePath = c.Path
	return connCfg, nil
}

func (c UserPassCredential) String() string {
	return fmt.Sprintf("rpc user '%s'", c.User)
}

func (c UserPassCredential) connConfig(
	cfg config.BackendConfig,
) (*rpcclient.ConnConfig, error) {
	connCfg := baseConnConfig(cfg)
	connCfg.User = c.User
	connCfg.Pass = c.Password
	return connCfg, nil
}

// bitcoind only speaks http post, without tls.
func baseConnConfig(cfg config.BackendConfig) *rpcclient.ConnConfig {
	return &rpcclient.ConnConfig{
		Host:                 cfg.RpcAddress(),
		DisableTLS:           true,
		HTTPPostMode:         true,
		DisableConnectOnNew:  true,
		DisableAutoReconnect: false,
	}
}

// Credentials returns the credentials to try, in order of preference.
func Credentials(cfg config.BackendConfig) []Credential {
	return []Credential{
		CookieCredential{Path: cfg.CookiePath()},
		UserPassCredential{User: cfg.User, Password: cfg.Password},
	}
}
