// Package rpc implements the JSON-RPC 2.0 transport surface from §6:
// memory.create, memory.get, memory.update, memory.delete,
// memory.search, memory.migrate, memory.statistics, and health.
// Requests carry a correlation id which responses preserve; errors map
// the errs taxonomy to numeric JSON-RPC codes.
package rpc

import (
	"context"

	"github.com/goccy/go-json"

	"github.com/engramhq/engram/errs"
)

// Request is one JSON-RPC 2.0 call.
type Request struct {
	JSONRPC string          `json:"jsonrpc"`
	ID      json.RawMessage `json:"id,omitempty"`
	Method  string          `json:"method"`
	Params  json.RawMessage `json:"params,omitempty"`
}

// Response is one JSON-RPC 2.0 reply, preserving the request's id.
type Response struct {
	JSONRPC string          `json:"jsonrpc"`
	ID      json.RawMessage `json:"id,omitempty"`
	Result  any             `json:"result,omitempty"`
	Error   *ResponseError  `json:"error,omitempty"`
}

// ResponseError is the JSON-RPC 2.0 error object.
type ResponseError struct {
	Code    int    `json:"code"`
	Message string `json:"message"`
	Data    string `json:"data,omitempty"`
}

// Standard JSON-RPC 2.0 codes for transport-level failures; method
// results use the errorCode table below for domain errors.
const (
	codeParseError     = -32700
	codeInvalidRequest = -32600
	codeMethodNotFound = -32601
	codeInvalidParams  = -32602
	codeInternalError  = -32603
)

// errorCode maps the errs taxonomy (§7) onto the JSON-RPC error space,
// reserving -32000 and below for application errors.
var errorCode = map[errs.Kind]int{
	errs.InvalidInput:       -32000,
	errs.InvalidParameter:   -32000,
	errs.NotFound:           -32001,
	errs.DuplicateContent:   -32002,
	errs.RateLimit:          -32003,
	errs.ProviderUnavailable: -32004,
	errs.AllProvidersFailed: -32005,
	errs.QueueFull:          -32006,
	errs.CircuitOpen:        -32007,
	errs.MigrationInProgress: -32008,
	errs.MigrationNotFound:  -32009,
	errs.Deadlock:           -32010,
	errs.RollbackFailed:     -32011,
	errs.Configuration:      -32012,
	errs.TooLarge:           -32013,
	errs.Full:               -32014,
	errs.Cancelled:          -32015,
	errs.Internal:           -32016,
}

func toResponseError(err error) *ResponseError {
	kind := errs.KindOf(err)
	code, ok := errorCode[kind]
	if !ok {
		code = codeInternalError
	}
	return &ResponseError{Code: code, Message: err.Error()}
}

// HandlerFunc handles one method's params and returns a JSON-
// marshalable result.
type HandlerFunc func(ctx context.Context, params json.RawMessage) (any, error)

// Dispatcher routes JSON-RPC method names to HandlerFuncs.
type Dispatcher struct {
	handlers map[string]HandlerFunc
}

// NewDispatcher builds an empty Dispatcher.
func NewDispatcher() *Dispatcher {
	return &Dispatcher{handlers: make(map[string]HandlerFunc)}
}

// Register binds method to handler. Registering the same method twice
// replaces the previous handler.
func (d *Dispatcher) Register(method string, handler HandlerFunc) {
	d.handlers[method] = handler
}

// Handle executes req against the registered handlers and always
// returns a Response (never an error) so callers can serialize it
// directly, per JSON-RPC 2.0's "always reply" contract.
func (d *Dispatcher) Handle(ctx context.Context, req Request) Response {
	resp := Response{JSONRPC: "2.0", ID: req.ID}

	if req.JSONRPC != "2.0" {
		resp.Error = &ResponseError{Code: codeInvalidRequest, Message: "jsonrpc version must be \"2.0\""}
		return resp
	}

	handler, ok := d.handlers[req.Method]
	if !ok {
		resp.Error = &ResponseError{Code: codeMethodNotFound, Message: "method not found: " + req.Method}
		return resp
	}

	result, err := handler(ctx, req.Params)
	if err != nil {
		if errs.KindOf(err) == "" {
			resp.Error = &ResponseError{Code: codeInvalidParams, Message: err.Error()}
		} else {
			resp.Error = toResponseError(err)
		}
		return resp
	}

	resp.Result = result
	return resp
}
