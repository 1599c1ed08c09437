// Package protocol defines the wire format for a subset of JSON-RPC 2.0 where IDs are always strings and
// parameters are always a single value.
package protocol

import (
	"encoding/json"
)

// Version is the value of the "jsonrpc" member.
const Version = `2.0`

// Error codes reserved by JSON-RPC 2.0.
const (
	InvalidParams  = -32602
	MethodNotFound = -32601
	InternalError  = -32603
)

// A Request is a message sent from a client to a service.  Requests without an ID are notifications.
type Request struct {
	Version string          `json:"jsonrpc,omitempty"`
	ID      string          `json:"id,omitempty"`
	Method  string          `json:"method"`
	Params  json.RawMessage `json:"params,omitempty"`
}

// A Response answers a request that had an ID.
type Response struct {
	Version string `json:"jsonrpc"`
	ID      string `json:"id"`
	Result  any    `json:"result,omitempty"`
	Error   *Error `json:"error,omitempty"`
}

// A Notification is sent to a client outside of any response, which plain JSON-RPC 2.0 clients may not tolerate.
type Notification struct {
	Version string `json:"jsonrpc"`
	Method  string `json:"method"`
	Params  any    `json:"params"`
}

type Error struct {
	Code    int    `json:"code"`
	Message string `json:"message"`
	Data    any    `json:"data,omitempty"`
}
