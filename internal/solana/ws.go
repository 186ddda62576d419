package solana

import (
	"context"
	"encoding/json"
)

// WSClient defines the JSON-RPC WebSocket subscription interface.
type WSClient interface {
	// Subscribe sends a subscription request and streams its notifications.
	Subscribe(ctx context.Context, sub Subscription) (<-chan Message, error)

	// Close closes the WebSocket connection.
	Close() error
}

// Subscription describes a subscribe call, e.g. logsSubscribe/logsNotification
// on a Solana node or eventSubscribe/eventNotification on the lending API.
type Subscription struct {
	Method             string
	Params             []interface{}
	NotificationMethod string
}

// Message is one notification of a subscription.
type Message struct {
	Subscription int64
	Slot         uint64
	Value        json.RawMessage
}
