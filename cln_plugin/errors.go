package cln_plugin

import (
	"errors"
	"fmt"
)

const (
	ParseError     = -32700
	InvalidRequest = -32600
	MethodNotFound = -32601
	InvalidParams  = -32602
	InternalErr    = -32603
)

func NewError(code int, message string) *RpcError {
	return &RpcError{Code: code, Message: message}
}

func NewErrorf(code int, format string, a ...interface{}) *RpcError {
	return NewError(code, fmt.Sprintf(format, a...))
}

// InvalidParamsErrorf returns the error for a request with missing or
// malformed parameters.
func InvalidParamsErrorf(format string, a ...interface{}) error {
	return NewErrorf(InvalidParams, format, a...)
}

func (e *RpcError) Error() string {
	return fmt.Sprintf("cln rpc error: code = %d desc = %s", e.Code, e.Message)
}

// toRpcError converts a handler error to the error sent to lightningd. Errors
// that do not carry a code are internal errors, their message is kept.
func toRpcError(err error) *RpcError {
	rpcErr := new(RpcError)
	if errors.As(err, &rpcErr) {
		return rpcErr
	}

	return NewError(InternalErr, err.Error())
}
