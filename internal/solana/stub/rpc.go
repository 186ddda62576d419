package stub

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"

	"solana-lending-lab/internal/solana"
)

// ErrUnavailable is returned while the stub is set to fail.
var ErrUnavailable = errors.New("rpc unavailable")

// RPCClient implements solana.RPCClient for testing.
type RPCClient struct {
	mu   sync.Mutex
	slot uint64
	fail bool

	Calls atomic.Int64
}

var _ solana.RPCClient = (*RPCClient)(nil)

// NewRPCClient creates a new stub RPC client reporting slot.
func NewRPCClient(slot uint64) *RPCClient {
	return &RPCClient{slot: slot}
}

// SetSlot changes the reported slot.
func (c *RPCClient) SetSlot(slot uint64) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.slot = slot
}

// SetFailing makes every call fail with ErrUnavailable.
func (c *RPCClient) SetFailing(fail bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.fail = fail
}

// Call answers getSlot; every other method is unknown.
func (c *RPCClient) Call(_ context.Context, method string, _ []interface{}, result interface{}) error {
	c.Calls.Add(1)
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.fail {
		return ErrUnavailable
	}
	if method != "getSlot" {
		return &solana.RPCError{Code: -32601, Message: "method not found"}
	}
	if p, ok := result.(*uint64); ok {
		*p = c.slot
	}
	return nil
}

// GetSlot returns the configured slot.
func (c *RPCClient) GetSlot(ctx context.Context) (uint64, error) {
	var slot uint64
	if err := c.Call(ctx, "getSlot", nil, &slot); err != nil {
		return 0, err
	}
	return slot, nil
}
