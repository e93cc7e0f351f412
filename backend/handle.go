package backend

import (
	"errors"
	"sync"
)

var (
	ErrBackendNotReady  = errors.New("bitcoind connection is not established yet")
	ErrHandleAlreadySet = errors.New("bitcoind connection is already established")
)

// Handle holds the bitcoind client once the connection is bootstrapped. It is
// written once at startup and read by every method handler. The lock only
// guards the presence of the client, calls on the client are made outside of
// it.
type Handle struct {
	mtx    sync.RWMutex
	client ChainClient
}

func NewHandle() *Handle {
	return &Handle{}
}

func (h *Handle) Set(client ChainClient) error {
	h.mtx.Lock()
	defer h.mtx.Unlock()

	if h.client != nil {
		return ErrHandleAlreadySet
	}

	h.client = client
	return nil
}

// Client returns the connected client. Handlers are only reachable after the
// handle is populated, so ErrBackendNotReady indicates an ordering bug.
func (h *Handle) Client() (ChainClient, error) {
	h.mtx.RLock()
	defer h.mtx.RUnlock()

	if h.client == nil {
		return nil, ErrBackendNotReady
	}

	return h.client, nil
}

// Close shuts down the client, if any.
func (h *Handle) Close() {
	h.mtx.RLock()
	client := h.client
	h.mtx.RUnlock()

	if client != nil {
		client.Shutdown()
	}
}
