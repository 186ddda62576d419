package solana

import "encoding/json"

// WebSocket wire messages. The server side of the lending API speaks the same
// shapes, so they are exported.

// WSRequest is a subscribe or unsubscribe request.
type WSRequest struct {
	JSONRPC string            `json:"jsonrpc"`
	ID      uint64            `json:"id"`
	Method  string            `json:"method"`
	Params  []json.RawMessage `json:"params,omitempty"`
}

// SubscribeResponse confirms a subscription (Result is its id) or rejects it.
type SubscribeResponse struct {
	JSONRPC string    `json:"jsonrpc"`
	ID      uint64    `json:"id"`
	Result  int64     `json:"result,omitempty"`
	Error   *RPCError `json:"error,omitempty"`
}

// Notification carries one subscription message.
type Notification struct {
	JSONRPC string              `json:"jsonrpc"`
	Method  string              `json:"method"`
	Params  *NotificationParams `json:"params"`
}

// NotificationParams identifies the subscription a notification belongs to.
type NotificationParams struct {
	Subscription int64              `json:"subscription"`
	Result       NotificationResult `json:"result"`
}

// NotificationResult is the payload with its slot context.
type NotificationResult struct {
	Context *NotificationContext `json:"context,omitempty"`
	Value   json.RawMessage      `json:"value"`
}

// NotificationContext is the slot at which the notification was produced.
type NotificationContext struct {
	Slot uint64 `json:"slot"`
}

// wsRequest is the outgoing form of WSRequest with unencoded params.
type wsRequest struct {
	JSONRPC string        `json:"jsonrpc"`
	ID      uint64        `json:"id"`
	Method  string        `json:"method"`
	Params  []interface{} `json:"params,omitempty"`
}
