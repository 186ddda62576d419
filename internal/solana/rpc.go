package solana

import (
	"context"
	"encoding/json"
	"fmt"
)

// RPCClient defines the JSON-RPC 2.0 HTTP interface.
type RPCClient interface {
	// Call invokes method with params and decodes the result into result.
	Call(ctx context.Context, method string, params []interface{}, result interface{}) error

	// GetSlot retrieves the current slot.
	GetSlot(ctx context.Context) (uint64, error)
}

// RPCError is a JSON-RPC 2.0 error object returned by the server.
type RPCError struct {
	Code    int             `json:"code"`
	Message string          `json:"message"`
	Data    json.RawMessage `json:"data,omitempty"`
}

func (e *RPCError) Error() string {
	return fmt.Sprintf("RPC error %d: %s", e.Code, e.Message)
}
