package api

import (
	"encoding/json"
	"io"
	"log"
	"net/http"
	"sort"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gorilla/websocket"

	"solana-lending-lab/internal/domain"
	"solana-lending-lab/internal/observability"
	"solana-lending-lab/internal/program"
	"solana-lending-lab/internal/pubkey"
	"solana-lending-lab/internal/solana"
)

// Subscription methods of the event stream.
const (
	MethodEventSubscribe    = "eventSubscribe"
	MethodEventUnsubscribe  = "eventUnsubscribe"
	MethodEventNotification = "eventNotification"
)

const (
	writeWait      = 10 * time.Second
	pongWait       = 60 * time.Second
	pingPeriod     = pongWait * 9 / 10
	maxMessageSize = 4096
)

// DefaultSendBuffer is the number of notifications queued per client before
// the client is considered too slow and disconnected.
const DefaultSendBuffer = 256

// EventFilter selects the events of one subscription. An empty Account
// matches every event.
type EventFilter struct {
	Account string `json:"account,omitempty"`
}

// Hub streams committed events to websocket subscribers.
type Hub struct {
	upgrader   websocket.Upgrader
	logger     *log.Logger
	sendBuffer int
	nextSub    atomic.Int64

	mu      sync.Mutex
	clients map[*wsConn]struct{}
	closed  bool
}

var _ program.EventSink = (*Hub)(nil)

// NewHub creates a Hub.
func NewHub(logger *log.Logger) *Hub {
	if logger == nil {
		logger = log.New(io.Discard, "", 0)
	}
	return &Hub{
		upgrader:   websocket.Upgrader{CheckOrigin: func(r *http.Request) bool { return true }},
		logger:     logger,
		sendBuffer: DefaultSendBuffer,
		clients:    make(map[*wsConn]struct{}),
	}
}

type wsConn struct {
	hub    *Hub
	conn   *websocket.Conn
	remote string
	send   chan []byte
	once   sync.Once

	mu     sync.Mutex
	subs   map[int64]EventFilter
	closed bool
}

// ServeHTTP upgrades the connection and serves subscriptions on it.
func (h *Hub) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.logger.Printf("websocket upgrade: %v", err)
		return
	}

	c := &wsConn{
		hub:    h,
		conn:   conn,
		remote: conn.RemoteAddr().String(),
		send:   make(chan []byte, h.sendBuffer),
		subs:   make(map[int64]EventFilter),
	}

	h.mu.Lock()
	if h.closed {
		h.mu.Unlock()
		conn.Close()
		return
	}
	h.clients[c] = struct{}{}
	h.mu.Unlock()
	observability.AddWebsocketClients(1)

	go c.writePump()
	go c.readPump()
}

// Publish queues every event for each subscription it matches. A client
// whose queue is full is disconnected.
func (h *Hub) Publish(events []*domain.Event) {
	h.mu.Lock()
	clients := make([]*wsConn, 0, len(h.clients))
	for c := range h.clients {
		clients = append(clients, c)
	}
	h.mu.Unlock()

	for _, c := range clients {
	deliver:
		for _, e := range events {
			for _, subID := range c.matching(e) {
				msg, err := notification(subID, e)
				if err != nil {
					h.logger.Printf("encode notification: %v", err)
					continue
				}
				if !c.enqueue(msg) {
					h.logger.Printf("dropping slow websocket client %s", c.remote)
					c.close()
					break deliver
				}
			}
		}
	}
}

// Clients returns the number of connected clients.
func (h *Hub) Clients() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.clients)
}

// Close disconnects every client and rejects new ones.
func (h *Hub) Close() {
	h.mu.Lock()
	h.closed = true
	clients := make([]*wsConn, 0, len(h.clients))
	for c := range h.clients {
		clients = append(clients, c)
	}
	h.mu.Unlock()

	for _, c := range clients {
		c.close()
	}
}

func notification(subID int64, e *domain.Event) ([]byte, error) {
	value, err := json.Marshal(e)
	if err != nil {
		return nil, err
	}
	return json.Marshal(&solana.Notification{
		JSONRPC: "2.0",
		Method:  MethodEventNotification,
		Params: &solana.NotificationParams{
			Subscription: subID,
			Result: solana.NotificationResult{
				Context: &solana.NotificationContext{Slot: e.Slot},
				Value:   value,
			},
		},
	})
}

// matching returns the subscription ids whose filter selects e, in
// subscription order.
func (c *wsConn) matching(e *domain.Event) []int64 {
	c.mu.Lock()
	defer c.mu.Unlock()
	var out []int64
	for id, f := range c.subs {
		if f.Account == "" || e.Touches(f.Account) {
			out = append(out, id)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out
}

// enqueue queues msg without blocking. It reports false when the queue is
// full or the connection is closed.
func (c *wsConn) enqueue(msg []byte) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return false
	}
	select {
	case c.send <- msg:
		return true
	default:
		return false
	}
}

func (c *wsConn) close() {
	c.once.Do(func() {
		c.hub.mu.Lock()
		delete(c.hub.clients, c)
		c.hub.mu.Unlock()
		observability.AddWebsocketClients(-1)

		c.mu.Lock()
		c.closed = true
		close(c.send)
		c.mu.Unlock()
	})
}

func (c *wsConn) readPump() {
	defer func() {
		c.close()
		c.conn.Close()
	}()

	c.conn.SetReadLimit(maxMessageSize)
	extend := func() { c.conn.SetReadDeadline(time.Now().Add(pongWait)) }
	extend()
	c.conn.SetPongHandler(func(string) error { extend(); return nil })
	c.conn.SetPingHandler(func(data string) error {
		extend()
		err := c.conn.WriteControl(websocket.PongMessage, []byte(data), time.Now().Add(writeWait))
		if err == websocket.ErrCloseSent {
			return nil
		}
		return err
	})

	for {
		_, message, err := c.conn.ReadMessage()
		if err != nil {
			return
		}
		extend()
		if reply := c.handle(message); !c.enqueue(reply) {
			return
		}
	}
}

type wsReply struct {
	JSONRPC string           `json:"jsonrpc"`
	ID      uint64           `json:"id"`
	Result  json.RawMessage  `json:"result,omitempty"`
	Error   *solana.RPCError `json:"error,omitempty"`
}

func (c *wsConn) handle(message []byte) []byte {
	var req solana.WSRequest
	if err := json.Unmarshal(message, &req); err != nil {
		return mustJSON(&wsReply{JSONRPC: "2.0", Error: newRPCError(CodeParseError, "parse error", ErrorData{Name: "ParseError"})})
	}

	switch req.Method {
	case MethodEventSubscribe:
		var filter EventFilter
		if len(req.Params) > 0 {
			if err := json.Unmarshal(req.Params[0], &filter); err != nil {
				return mustJSON(&wsReply{JSONRPC: "2.0", ID: req.ID, Error: invalidParams("invalid filter")})
			}
		}
		if filter.Account != "" {
			if _, err := pubkey.Parse(filter.Account); err != nil {
				return mustJSON(&wsReply{JSONRPC: "2.0", ID: req.ID, Error: invalidParams("invalid account: " + err.Error())})
			}
		}
		id := c.hub.nextSub.Add(1)
		c.mu.Lock()
		c.subs[id] = filter
		c.mu.Unlock()
		return mustJSON(&solana.SubscribeResponse{JSONRPC: "2.0", ID: req.ID, Result: id})

	case MethodEventUnsubscribe:
		var id int64
		if len(req.Params) == 0 || json.Unmarshal(req.Params[0], &id) != nil {
			return mustJSON(&wsReply{JSONRPC: "2.0", ID: req.ID, Error: invalidParams("missing subscription id")})
		}
		c.mu.Lock()
		_, ok := c.subs[id]
		delete(c.subs, id)
		c.mu.Unlock()
		return mustJSON(&wsReply{JSONRPC: "2.0", ID: req.ID, Result: mustJSON(ok)})

	default:
		return mustJSON(&wsReply{JSONRPC: "2.0", ID: req.ID,
			Error: newRPCError(CodeMethodNotFound, "method not found: "+req.Method, ErrorData{Name: "MethodNotFound"})})
	}
}

func (c *wsConn) writePump() {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		c.conn.Close()
	}()

	for {
		select {
		case msg, ok := <-c.send:
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if !ok {
				c.conn.WriteMessage(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))
				return
			}
			if err := c.conn.WriteMessage(websocket.TextMessage, msg); err != nil {
				c.close()
				return
			}
		case <-ticker.C:
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				c.close()
				return
			}
		}
	}
}
