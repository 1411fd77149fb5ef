package jsonrpc

import (
	"errors"
	"fmt"
)

// ErrMalformedMessage reports a frame that failed structural validation
// before any routing or business logic saw it.
var ErrMalformedMessage = errors.New("malformed message")

// ErrorCode is a JSON-RPC 2.0 error code.
type ErrorCode int

const (
	// ErrorCodeParseError indicates invalid JSON was received.
	ErrorCodeParseError ErrorCode = -32700
	// ErrorCodeInvalidRequest indicates the JSON is not a valid Request object.
	ErrorCodeInvalidRequest ErrorCode = -32600
	// ErrorCodeMethodNotFound indicates the method does not exist / is not available.
	ErrorCodeMethodNotFound ErrorCode = -32601
	// ErrorCodeInvalidParams indicates invalid method parameters.
	ErrorCodeInvalidParams ErrorCode = -32602
	// ErrorCodeInternal indicates an internal JSON-RPC error.
	ErrorCodeInternal ErrorCode = -32603
)

// Implementation-defined codes in the JSON-RPC reserved range
// (-32000..-32099), covering protocol lifecycle and capability lookup.
const (
	// ErrorCodeProtocol is a generic protocol violation.
	ErrorCodeProtocol ErrorCode = -32000
	// ErrorCodeNotInitialized rejects capability requests before the handshake completes.
	ErrorCodeNotInitialized ErrorCode = -32001
	// ErrorCodeAlreadyInitialized rejects a second initialize on one connection.
	ErrorCodeAlreadyInitialized ErrorCode = -32002
	// ErrorCodeUnsupportedProtocolVersion rejects an incompatible handshake.
	ErrorCodeUnsupportedProtocolVersion ErrorCode = -32003
	// ErrorCodeResourceNotFound means no resource is registered at the URI.
	ErrorCodeResourceNotFound ErrorCode = -32004
	// ErrorCodePromptNotFound means no prompt is registered under the name.
	ErrorCodePromptNotFound ErrorCode = -32006
	// ErrorCodeToolNotFound means no tool is registered under the name.
	ErrorCodeToolNotFound ErrorCode = -32007
	// ErrorCodeRequestTimeout means the peer did not answer within the window.
	ErrorCodeRequestTimeout ErrorCode = -32008
)

// IsCapabilityNotFound reports whether the code is one of the
// capability-lookup failures (tool, resource, or prompt absent).
func IsCapabilityNotFound(code ErrorCode) bool {
	switch code {
	case ErrorCodeResourceNotFound, ErrorCodePromptNotFound, ErrorCodeToolNotFound:
		return true
	default:
		return false
	}
}

// Error is a JSON-RPC error object. It implements the error interface
// so peer-reported failures can flow through normal error returns.
type Error struct {
	Code    ErrorCode `json:"code"`
	Message string    `json:"message"`
	Data    any       `json:"data,omitempty"`
}

func (e *Error) Error() string {
	return fmt.Sprintf("jsonrpc error %d: %s", e.Code, e.Message)
}
