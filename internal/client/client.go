// Package client talks to a lending API server: it signs and submits
// instructions, reads records and streams events.
package client

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"sync/atomic"
	"time"

	"solana-lending-lab/internal/api"
	"solana-lending-lab/internal/audit"
	"solana-lending-lab/internal/domain"
	"solana-lending-lab/internal/keypair"
	"solana-lending-lab/internal/program"
	"solana-lending-lab/internal/pubkey"
	"solana-lending-lab/internal/solana"
)

// ErrNoSigner is returned by Send without keypairs.
var ErrNoSigner = errors.New("at least one signer is required")

// Client is a lending API client.
type Client struct {
	rpc      *solana.HTTPClient
	endpoint string
	nonce    atomic.Uint64
}

// New creates a client for the JSON-RPC endpoint, e.g. http://localhost:8899.
func New(endpoint string, opts ...solana.ClientOption) *Client {
	c := &Client{
		rpc:      solana.NewHTTPClient(endpoint, opts...),
		endpoint: strings.TrimRight(endpoint, "/"),
	}
	c.nonce.Store(uint64(time.Now().UnixNano()))
	return c
}

// Send signs ix with signers, the first of which is the caller, and submits it.
func (c *Client) Send(ctx context.Context, ix program.Instruction, signers ...*keypair.Keypair) (*program.Result, error) {
	if len(signers) == 0 {
		return nil, ErrNoSigner
	}
	req := &program.Request{Nonce: c.nonce.Add(1), Instruction: ix}
	for _, s := range signers {
		if err := program.Sign(req, s.PrivateKey()); err != nil {
			return nil, err
		}
	}
	return c.Submit(ctx, req)
}

// Submit sends an already signed request.
func (c *Client) Submit(ctx context.Context, req *program.Request) (*program.Result, error) {
	var res program.Result
	if err := c.rpc.Call(ctx, "sendTransaction", []interface{}{req}, &res); err != nil {
		return nil, err
	}
	return &res, nil
}

// Slot returns the server's current slot.
func (c *Client) Slot(ctx context.Context) (uint64, error) {
	return c.rpc.GetSlot(ctx)
}

// AccountInfo returns the raw account at address, or nil if none exists.
func (c *Client) AccountInfo(ctx context.Context, address pubkey.PublicKey) (*api.AccountInfo, error) {
	var info *api.AccountInfo
	if err := c.rpc.Call(ctx, "getAccountInfo", []interface{}{address}, &info); err != nil {
		return nil, err
	}
	return info, nil
}

// Config returns the deployment config.
func (c *Client) Config(ctx context.Context) (*api.Config, error) {
	return call[api.Config](ctx, c, "getConfig", nil)
}

// Oracle returns a price feed.
func (c *Client) Oracle(ctx context.Context, address pubkey.PublicKey) (*api.Oracle, error) {
	return call[api.Oracle](ctx, c, "getOracle", []interface{}{address})
}

// Market returns a market.
func (c *Client) Market(ctx context.Context, address pubkey.PublicKey) (*api.Market, error) {
	return call[api.Market](ctx, c, "getMarket", []interface{}{address})
}

// UserSupply returns the position of user in market.
func (c *Client) UserSupply(ctx context.Context, market, user pubkey.PublicKey) (*api.UserSupply, error) {
	return call[api.UserSupply](ctx, c, "getUserSupply", []interface{}{market, user})
}

// Mint returns a mint.
func (c *Client) Mint(ctx context.Context, address pubkey.PublicKey) (*api.Mint, error) {
	return call[api.Mint](ctx, c, "getMint", []interface{}{address})
}

// TokenAccount returns a token account.
func (c *Client) TokenAccount(ctx context.Context, address pubkey.PublicKey) (*api.TokenAccount, error) {
	return call[api.TokenAccount](ctx, c, "getTokenAccount", []interface{}{address})
}

// Events returns the most recent events touching address, newest first.
func (c *Client) Events(ctx context.Context, address pubkey.PublicKey, limit int) ([]*domain.Event, error) {
	var events []*domain.Event
	if err := c.rpc.Call(ctx, "getEvents", []interface{}{address, limit}, &events); err != nil {
		return nil, err
	}
	return events, nil
}

// AuditMarket runs the server-side consistency check of market.
func (c *Client) AuditMarket(ctx context.Context, market pubkey.PublicKey) (*audit.Report, error) {
	return call[audit.Report](ctx, c, "auditMarket", []interface{}{market})
}

func call[T any](ctx context.Context, c *Client, method string, params []interface{}) (*T, error) {
	var v T
	if err := c.rpc.Call(ctx, method, params, &v); err != nil {
		return nil, err
	}
	return &v, nil
}

// Watch streams events touching account; an empty account streams every
// event. The channel closes when ctx is done or the connection is lost for
// good.
func (c *Client) Watch(ctx context.Context, account string) (<-chan *domain.Event, error) {
	ws, err := solana.NewWSClient(ctx, c.WebsocketURL(), nil)
	if err != nil {
		return nil, err
	}

	params := []interface{}{}
	if account != "" {
		params = append(params, api.EventFilter{Account: account})
	}
	msgs, err := ws.Subscribe(ctx, solana.Subscription{
		Method:             api.MethodEventSubscribe,
		Params:             params,
		NotificationMethod: api.MethodEventNotification,
	})
	if err != nil {
		ws.Close()
		return nil, fmt.Errorf("subscribe: %w", err)
	}

	out := make(chan *domain.Event, 64)
	go func() {
		defer close(out)
		defer ws.Close()
		for {
			select {
			case <-ctx.Done():
				return
			case msg, ok := <-msgs:
				if !ok {
					return
				}
				var e domain.Event
				if err := json.Unmarshal(msg.Value, &e); err != nil {
					continue
				}
				select {
				case out <- &e:
				case <-ctx.Done():
					return
				}
			}
		}
	}()
	return out, nil
}

// WebsocketURL is the event stream URL of the endpoint.
func (c *Client) WebsocketURL() string {
	u := c.endpoint
	switch {
	case strings.HasPrefix(u, "https://"):
		u = "wss://" + strings.TrimPrefix(u, "https://")
	case strings.HasPrefix(u, "http://"):
		u = "ws://" + strings.TrimPrefix(u, "http://")
	}
	u = strings.TrimSuffix(u, "/rpc")
	return u + "/ws"
}
