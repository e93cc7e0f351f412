package bcli

import (
	"context"
	"encoding/json"
	"testing"

	"github.com/breez/bcli/backend"
	"github.com/breez/bcli/cln_plugin"
	"github.com/breez/bcli/config"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type mockRegistrar struct {
	methods []*cln_plugin.Method
}

func (r *mockRegistrar) RegisterMethod(m *cln_plugin.Method) error {
	r.methods = append(r.methods, m)
	return nil
}

func (r *mockRegistrar) names() []string {
	var names []string
	for _, m := range r.methods {
		names = append(names, m.Name)
	}
	return names
}

func (r *mockRegistrar) get(name string) *cln_plugin.Method {
	for _, m := range r.methods {
		if m.Name == name {
			return m
		}
	}
	return nil
}

func TestRegisterAll(t *testing.T) {
	r := &mockRegistrar{}
	err := Register(r, newTestServer(t, &backend.MockClient{}), config.AllMethods)
	require.NoError(t, err)
	assert.Equal(t, config.AllMethods, r.names())

	assert.Equal(t, "txid vout", r.get(config.MethodGetUtxOut).Usage)
	assert.Equal(t, "tx [allowhighfees]", r.get(config.MethodSendRawTransaction).Usage)
}

func TestRegisterEnabledOnly(t *testing.T) {
	r := &mockRegistrar{}
	err := Register(
		r,
		newTestServer(t, &backend.MockClient{}),
		[]string{config.MethodSendRawTransaction, config.MethodGetChainInfo},
	)
	require.NoError(t, err)
	assert.Equal(
		t,
		[]string{config.MethodGetChainInfo, config.MethodSendRawTransaction},
		r.names(),
	)
}

func TestRegisterUnknownMethod(t *testing.T) {
	r := &mockRegistrar{}
	err := Register(r, newTestServer(t, &backend.MockClient{}), []string{"getinfo"})
	assert.Error(t, err)
	assert.Empty(t, r.methods)
}

func TestRegisteredHandlerDecodesParams(t *testing.T) {
	client := &backend.MockClient{}
	r := &mockRegistrar{}
	require.NoError(t, Register(r, newTestServer(t, client), config.AllMethods))

	handler := r.get(config.MethodGetRawBlockByHeight).Handler
	_, err := handler(context.Background(), json.RawMessage(`{"height":"tip"}`))
	requireInvalidParams(t, err)

	_, err = handler(context.Background(), json.RawMessage(`{"height":1.5}`))
	requireInvalidParams(t, err)

	_, err = handler(context.Background(), json.RawMessage(`{}`))
	requireInvalidParams(t, err)

	assert.Empty(t, client.Calls())
}
