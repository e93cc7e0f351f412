package cln_plugin

import (
	"encoding/json"
)

type Request struct {
	Id      json.RawMessage `json:"id,omitempty"`
	Method  string          `json:"method"`
	JsonRpc string          `json:"jsonrpc"`
	Params  json.RawMessage `json:"params,omitempty"`
}

// IsNotification reports whether the request expects no response.
func (r *Request) IsNotification() bool {
	return len(r.Id) == 0
}

type Response struct {
	Id      json.RawMessage `json:"id"`
	JsonRpc string          `json:"jsonrpc"`
	Result  Result          `json:"result,omitempty"`
	Error   *RpcError       `json:"error,omitempty"`
}

type Result interface{}

type RpcError struct {
	Code    int             `json:"code"`
	Message string          `json:"message"`
	Data    json.RawMessage `json:"data,omitempty"`
}

type Manifest struct {
	Options       []Option     `json:"options"`
	RpcMethods    []*RpcMethod `json:"rpcmethods"`
	Dynamic       bool         `json:"dynamic"`
	Subscriptions []string     `json:"subscriptions,omitempty"`
	NonNumericIds bool         `json:"nonnumericids"`
}

type Option struct {
	Name        string      `json:"name"`
	Type        string      `json:"type"`
	Description string      `json:"description"`
	Default     interface{} `json:"default,omitempty"`
	Multi       *bool       `json:"multi,omitempty"`
	Deprecated  *bool       `json:"deprecated,omitempty"`
}

type RpcMethod struct {
	Name            string  `json:"name"`
	Usage           string  `json:"usage"`
	Description     string  `json:"description"`
	LongDescription *string `json:"long_description,omitempty"`
	Deprecated      *bool   `json:"deprecated,omitempty"`
}

type InitMessage struct {
	Options       map[string]interface{} `json:"options,omitempty"`
	Configuration *InitConfiguration     `json:"configuration,omitempty"`
}

type InitConfiguration struct {
	LightningDir   string `json:"lightning-dir"`
	RpcFile        string `json:"rpc-file"`
	Startup        bool   `json:"startup"`
	Network        string `json:"network"`
	Proxy          *Proxy `json:"proxy"`
	TorV3Enabled   bool   `json:"torv3-enabled"`
	AlwaysUseProxy bool   `json:"always_use_proxy"`
}

type Proxy struct {
	Type    string `json:"type"`
	Address string `json:"address"`
	Port    int    `json:"port"`
}

type LogNotification struct {
	Level   string `json:"level"`
	Message string `json:"message"`
}

func mustMarshal(v interface{}) json.RawMessage {
	b, err := json.Marshal(v)
	if err != nil {
		panic(err)
	}

	return b
}
