package cln_plugin

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type testMessage struct {
	Id     json.RawMessage `json:"id"`
	Method string          `json:"method"`
	Params json.RawMessage `json:"params"`
	Result json.RawMessage `json:"result"`
	Error  *RpcError       `json:"error"`
}

type testHarness struct {
	t         *testing.T
	plugin    *ClnPlugin
	in        *io.PipeWriter
	responses chan *testMessage
	logs      chan *LogNotification
	done      chan error
}

func newTestHarness(t *testing.T, setup func(p *ClnPlugin)) *testHarness {
	inReader, inWriter := io.Pipe()
	outReader, outWriter := io.Pipe()
	p := NewClnPlugin(inReader, outWriter)
	if setup != nil {
		setup(p)
	}

	h := &testHarness{
		t:         t,
		plugin:    p,
		in:        inWriter,
		responses: make(chan *testMessage, 100),
		logs:      make(chan *LogNotification, 100),
		done:      make(chan error, 1),
	}

	go func() {
		scanner := bufio.NewScanner(outReader)
		scanner.Split(scanDoubleNewline)
		for scanner.Scan() {
			var msg testMessage
			if err := json.Unmarshal(scanner.Bytes(), &msg); err != nil {
				t.Errorf("plugin wrote invalid json %q: %v", scanner.Text(), err)
				continue
			}

			if msg.Method == "log" {
				var l LogNotification
				if err := json.Unmarshal(msg.Params, &l); err == nil {
					h.logs <- &l
				}
				continue
			}

			h.responses <- &msg
		}
	}()

	go func() {
		h.done <- p.Start()
		outWriter.Close()
	}()

	t.Cleanup(func() {
		inWriter.Close()
		select {
		case <-h.done:
		case <-time.After(5 * time.Second):
			t.Errorf("plugin did not stop")
		}
	})

	return h
}

func (h *testHarness) send(raw string) {
	_, err := h.in.Write([]byte(raw + "\n\n"))
	require.NoError(h.t, err)
}

func (h *testHarness) call(id interface{}, method string, params interface{}) {
	idJson, err := json.Marshal(id)
	require.NoError(h.t, err)
	paramsJson, err := json.Marshal(params)
	require.NoError(h.t, err)
	h.send(fmt.Sprintf(
		`{"jsonrpc":"2.0","id":%s,"method":"%s","params":%s}`,
		idJson,
		method,
		paramsJson,
	))
}

func (h *testHarness) next() *testMessage {
	select {
	case msg := <-h.responses:
		return msg
	case <-time.After(5 * time.Second):
		h.t.Fatalf("timed out waiting for response")
		return nil
	}
}

func (h *testHarness) init(options map[string]interface{}) {
	h.call("init-1", "init", map[string]interface{}{
		"options": options,
		"configuration": map[string]interface{}{
			"lightning-dir": "/tmp/lightning",
			"rpc-file":      "lightning-rpc",
			"network":       "regtest",
		},
	})
	resp := h.next()
	require.Nil(h.t, resp.Error)
	require.JSONEq(h.t, `{}`, string(resp.Result))
}

func echoMethod(name string, usage string) *Method {
	return &Method{
		Name:        name,
		Usage:       usage,
		Description: "echoes " + name,
		Handler: func(ctx context.Context, params json.RawMessage) (interface{}, error) {
			return params, nil
		},
	}
}

func TestGetManifest(t *testing.T) {
	h := newTestHarness(t, func(p *ClnPlugin) {
		p.AddOption(Option{
			Name:        "some-option",
			Type:        "string",
			Description: "an option",
			Default:     "default",
		})
		require.NoError(t, p.RegisterMethod(echoMethod("second", "")))
		require.NoError(t, p.RegisterMethod(echoMethod("first", "a [b]")))
	})

	h.call(1, "getmanifest", map[string]interface{}{"allow-deprecated-apis": false})
	resp := h.next()
	require.Nil(t, resp.Error)
	assert.Equal(t, "1", string(resp.Id))

	var manifest Manifest
	require.NoError(t, json.Unmarshal(resp.Result, &manifest))
	assert.False(t, manifest.Dynamic)
	assert.True(t, manifest.NonNumericIds)
	assert.Equal(t, []string{"shutdown"}, manifest.Subscriptions)
	require.Len(t, manifest.Options, 1)
	assert.Equal(t, "some-option", manifest.Options[0].Name)
	assert.Equal(t, "default", manifest.Options[0].Default)
	require.Len(t, manifest.RpcMethods, 2)
	assert.Equal(t, "second", manifest.RpcMethods[0].Name)
	assert.Equal(t, "first", manifest.RpcMethods[1].Name)
	assert.Equal(t, "a [b]", manifest.RpcMethods[1].Usage)
}

func TestRegisterMethod(t *testing.T) {
	p := NewClnPlugin(io.NopCloser(nil), io.Discard)
	require.NoError(t, p.RegisterMethod(echoMethod("method", "")))
	assert.Error(t, p.RegisterMethod(echoMethod("method", "")))
	assert.Error(t, p.RegisterMethod(echoMethod("init", "")))
	assert.Error(t, p.RegisterMethod(&Method{Name: "nohandler"}))
}

func TestMethodCallBeforeInit(t *testing.T) {
	h := newTestHarness(t, func(p *ClnPlugin) {
		require.NoError(t, p.RegisterMethod(echoMethod("echo", "")))
	})

	h.call(1, "echo", map[string]interface{}{})
	resp := h.next()
	require.NotNil(t, resp.Error)
	assert.Equal(t, InternalErr, resp.Error.Code)
}

func TestInitAndDispatch(t *testing.T) {
	var initOptions map[string]interface{}
	h := newTestHarness(t, func(p *ClnPlugin) {
		require.NoError(t, p.RegisterMethod(echoMethod("echo", "first [second]")))
		p.OnInit(func(ctx context.Context, init *InitMessage) error {
			initOptions = init.Options
			assert.Equal(t, "regtest", init.Configuration.Network)
			return nil
		})
	})

	h.init(map[string]interface{}{"some-option": "value"})
	assert.Equal(t, "value", initOptions["some-option"])

	h.call("obj", "echo", map[string]interface{}{"first": 1, "second": "two"})
	resp := h.next()
	require.Nil(t, resp.Error)
	assert.Equal(t, `"obj"`, string(resp.Id))
	assert.JSONEq(t, `{"first":1,"second":"two"}`, string(resp.Result))

	h.call("array", "echo", []interface{}{1, "two"})
	resp = h.next()
	require.Nil(t, resp.Error)
	assert.JSONEq(t, `{"first":1,"second":"two"}`, string(resp.Result))

	h.call("partial", "echo", []interface{}{1})
	resp = h.next()
	require.Nil(t, resp.Error)
	assert.JSONEq(t, `{"first":1}`, string(resp.Result))

	h.call("toomany", "echo", []interface{}{1, 2, 3})
	resp = h.next()
	require.NotNil(t, resp.Error)
	assert.Equal(t, InvalidParams, resp.Error.Code)

	h.send(`{"jsonrpc":"2.0","id":"null","method":"echo","params":null}`)
	resp = h.next()
	require.Nil(t, resp.Error)
	assert.JSONEq(t, `{}`, string(resp.Result))

	h.call("second-init", "init", map[string]interface{}{})
	resp = h.next()
	require.NotNil(t, resp.Error)
	assert.Equal(t, InvalidRequest, resp.Error.Code)
}

func TestInitFailureStopsPlugin(t *testing.T) {
	initErr := errors.New("could not connect to bitcoind")
	h := newTestHarness(t, func(p *ClnPlugin) {
		p.OnInit(func(ctx context.Context, init *InitMessage) error {
			return initErr
		})
	})

	h.call("init-1", "init", map[string]interface{}{})
	resp := h.next()
	require.NotNil(t, resp.Error)
	assert.Contains(t, resp.Error.Message, "could not connect to bitcoind")

	select {
	case err := <-h.done:
		assert.ErrorIs(t, err, initErr)
		h.done <- err
	case <-time.After(5 * time.Second):
		t.Fatalf("plugin did not stop")
	}
}

func TestHandlerErrors(t *testing.T) {
	h := newTestHarness(t, func(p *ClnPlugin) {
		require.NoError(t, p.RegisterMethod(&Method{
			Name: "invalid",
			Handler: func(ctx context.Context, params json.RawMessage) (interface{}, error) {
				return nil, InvalidParamsErrorf("height must be a number")
			},
		}))
		require.NoError(t, p.RegisterMethod(&Method{
			Name: "failing",
			Handler: func(ctx context.Context, params json.RawMessage) (interface{}, error) {
				return nil, fmt.Errorf("getblockhash: %w", errors.New("connection refused"))
			},
		}))
	})
	h.init(nil)

	h.call(1, "invalid", map[string]interface{}{})
	resp := h.next()
	require.NotNil(t, resp.Error)
	assert.Equal(t, InvalidParams, resp.Error.Code)
	assert.Equal(t, "height must be a number", resp.Error.Message)

	h.call(2, "failing", map[string]interface{}{})
	resp = h.next()
	require.NotNil(t, resp.Error)
	assert.Equal(t, InternalErr, resp.Error.Code)
	assert.Equal(t, "getblockhash: connection refused", resp.Error.Message)
}

func TestProtocolErrors(t *testing.T) {
	h := newTestHarness(t, nil)

	h.call(1, "unknown", map[string]interface{}{})
	resp := h.next()
	require.NotNil(t, resp.Error)
	assert.Equal(t, MethodNotFound, resp.Error.Code)

	// Unknown notifications get no response.
	h.send(`{"jsonrpc":"2.0","method":"unknown","params":{}}`)

	h.send(`{"jsonrpc":"1.0","id":2,"method":"getmanifest","params":{}}`)
	resp = h.next()
	require.NotNil(t, resp.Error)
	assert.Equal(t, InvalidRequest, resp.Error.Code)
	assert.Equal(t, "2", string(resp.Id))

	h.send(`this is not json`)
	resp = h.next()
	require.NotNil(t, resp.Error)
	assert.Equal(t, ParseError, resp.Error.Code)

	// The plugin keeps reading after a parse error.
	h.call(3, "getmanifest", map[string]interface{}{})
	resp = h.next()
	require.Nil(t, resp.Error)
	assert.Equal(t, "3", string(resp.Id))
}

func TestBatchRequests(t *testing.T) {
	h := newTestHarness(t, nil)

	h.send(`[{"jsonrpc":"2.0","id":1,"method":"getmanifest"},{"jsonrpc":"2.0","id":2,"method":"getmanifest"}]`)
	assert.Equal(t, "1", string(h.next().Id))
	assert.Equal(t, "2", string(h.next().Id))
}

func TestShutdownStopsPlugin(t *testing.T) {
	canceled := make(chan struct{})
	h := newTestHarness(t, func(p *ClnPlugin) {
		require.NoError(t, p.RegisterMethod(&Method{
			Name: "block",
			Handler: func(ctx context.Context, params json.RawMessage) (interface{}, error) {
				<-ctx.Done()
				close(canceled)
				return nil, ctx.Err()
			},
		}))
	})
	h.init(nil)

	h.call(1, "block", map[string]interface{}{})
	h.send(`{"jsonrpc":"2.0","method":"shutdown","params":{}}`)

	select {
	case err := <-h.done:
		assert.NoError(t, err)
		h.done <- err
	case <-time.After(5 * time.Second):
		t.Fatalf("plugin did not stop")
	}

	select {
	case <-canceled:
	default:
		t.Fatalf("handler context was not canceled")
	}
}

func TestLogNotifications(t *testing.T) {
	h := newTestHarness(t, func(p *ClnPlugin) {
		require.NoError(t, p.RegisterMethod(&Method{
			Name: "logging",
			Handler: func(ctx context.Context, params json.RawMessage) (interface{}, error) {
				log.Printf("DEBUG: waiting for bitcoind")
				return struct{}{}, nil
			},
		}))
	})
	h.init(nil)

	h.call(1, "logging", map[string]interface{}{})
	require.Nil(t, h.next().Error)

	for {
		select {
		case l := <-h.logs:
			if l.Level != "debug" {
				continue
			}
			assert.Contains(t, l.Message, "waiting for bitcoind")
			assert.NotContains(t, l.Message, "DEBUG:")
			return
		case <-time.After(5 * time.Second):
			t.Fatalf("timed out waiting for log notification")
		}
	}
}

func TestNormalizeParams(t *testing.T) {
	tests := []struct {
		name     string
		params   string
		usage    string
		expected string
		err      bool
	}{
		{name: "missing", params: "", expected: `{}`},
		{name: "null", params: "null", expected: `{}`},
		{name: "object", params: `{"height":1}`, expected: `{"height":1}`},
		{name: "array", params: `["ab",1]`, usage: "txid vout", expected: `{"txid":"ab","vout":1}`},
		{name: "optional", params: `["00",true]`, usage: "tx [allowhighfees]", expected: `{"tx":"00","allowhighfees":true}`},
		{name: "too many", params: `[1,2]`, usage: "height", err: true},
		{name: "scalar", params: `1`, usage: "height", err: true},
	}

	for _, tst := range tests {
		t.Run(tst.name, func(t *testing.T) {
			params, err := normalizeParams(json.RawMessage(tst.params), tst.usage)
			if tst.err {
				assert.Error(t, err)
				return
			}

			require.NoError(t, err)
			assert.JSONEq(t, tst.expected, string(params))
		})
	}
}

func TestLogLevel(t *testing.T) {
	tests := []struct {
		line    string
		level   string
		message string
	}{
		{"connect.go:12: DEBUG: waiting", "debug", "connect.go:12: waiting"},
		{"UNUSUAL: strange", "unusual", "strange"},
		{"BROKEN: broken", "broken", "broken"},
		{"plain", "info", "plain"},
	}

	for _, tst := range tests {
		level, message := logLevel(tst.line)
		assert.Equal(t, tst.level, level)
		assert.Equal(t, tst.message, message)
	}
}
