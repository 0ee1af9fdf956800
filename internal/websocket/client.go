// Package websocket is a Solana JSON-RPC subscription client: it subscribes
// to accountSubscribe/signatureSubscribe notifications over a single
// persistent connection rather than polling. Its callers are the address-set
// monitor behind the Webhook Sync Controller (AddressSetMonitor) and the
// balance/transaction-confirmation monitor (WalletMonitor); the Price
// Monitor does not take prices from it.
package websocket

import (
	"encoding/json"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gorilla/websocket"
	"github.com/rs/zerolog/log"
)

type subRequest struct {
	JSONRPC string        `json:"jsonrpc"`
	ID      uint64        `json:"id"`
	Method  string        `json:"method"`
	Params  []interface{} `json:"params"`
}

type subResponse struct {
	ID     uint64 `json:"id"`
	Result uint64 `json:"result"`
}

type notification struct {
	Method string `json:"method"`
	Params struct {
		Subscription uint64          `json:"subscription"`
		Result       json.RawMessage `json:"result"`
	} `json:"params"`
}

// Client is a single websocket connection to a Solana RPC node's
// subscription endpoint. It does not reconnect: after a read failure the
// read loop exits and no further notifications are delivered.
type Client struct {
	url string

	mu   sync.Mutex
	conn *websocket.Conn

	nextID      atomic.Uint64
	pendingMu   sync.Mutex
	pendingSubs map[uint64]chan uint64 // request id -> subscription id channel

	handlersMu sync.RWMutex
	handlers   map[uint64]func(json.RawMessage) // subscription id -> callback
}

// NewClient dials url (a wss:// endpoint) and starts the read loop.
func NewClient(url string) (*Client, error) {
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	if err != nil {
		return nil, fmt.Errorf("dial websocket rpc: %w", err)
	}
	c := &Client{
		url:         url,
		conn:        conn,
		pendingSubs: make(map[uint64]chan uint64),
		handlers:    make(map[uint64]func(json.RawMessage)),
	}
	go c.readLoop()
	return c, nil
}

func (c *Client) readLoop() {
	for {
		c.mu.Lock()
		conn := c.conn
		c.mu.Unlock()
		if conn == nil {
			return
		}

		_, msg, err := conn.ReadMessage()
		if err != nil {
			log.Warn().Err(err).Msg("websocket rpc: read failed, connection closed")
			return
		}

		var resp subResponse
		if err := json.Unmarshal(msg, &resp); err == nil && resp.ID != 0 {
			c.pendingMu.Lock()
			if ch, ok := c.pendingSubs[resp.ID]; ok {
				ch <- resp.Result
				delete(c.pendingSubs, resp.ID)
			}
			c.pendingMu.Unlock()
			continue
		}

		var note notification
		if err := json.Unmarshal(msg, &note); err != nil || note.Params.Subscription == 0 {
			continue
		}
		c.handlersMu.RLock()
		handler := c.handlers[note.Params.Subscription]
		c.handlersMu.RUnlock()
		if handler != nil {
			handler(note.Params.Result)
		}
	}
}

func (c *Client) subscribe(method string, params []interface{}, handler func(json.RawMessage)) (uint64, error) {
	id := c.nextID.Add(1)
	ch := make(chan uint64, 1)
	c.pendingMu.Lock()
	c.pendingSubs[id] = ch
	c.pendingMu.Unlock()

	req := subRequest{JSONRPC: "2.0", ID: id, Method: method, Params: params}
	body, err := json.Marshal(req)
	if err != nil {
		return 0, err
	}

	c.mu.Lock()
	err = c.conn.WriteMessage(websocket.TextMessage, body)
	c.mu.Unlock()
	if err != nil {
		return 0, fmt.Errorf("websocket rpc: write subscribe: %w", err)
	}

	select {
	case subID := <-ch:
		c.handlersMu.Lock()
		c.handlers[subID] = handler
		c.handlersMu.Unlock()
		return subID, nil
	case <-time.After(10 * time.Second):
		return 0, fmt.Errorf("websocket rpc: subscribe %s timed out", method)
	}
}

// AccountSubscribe subscribes to account data changes for address.
func (c *Client) AccountSubscribe(address string, handler func(json.RawMessage)) (uint64, error) {
	return c.subscribe("accountSubscribe", []interface{}{address, map[string]string{"encoding": "jsonParsed", "commitment": "confirmed"}}, handler)
}

// SignatureSubscribe subscribes to confirmation of a single transaction signature.
func (c *Client) SignatureSubscribe(signature string, handler func(json.RawMessage)) (uint64, error) {
	return c.subscribe("signatureSubscribe", []interface{}{signature, map[string]string{"commitment": "confirmed"}}, handler)
}

// Unsubscribe tears down a subscription. method is the *Unsubscribe RPC name
// (e.g. "accountUnsubscribe").
func (c *Client) Unsubscribe(method string, subID uint64) {
	c.handlersMu.Lock()
	delete(c.handlers, subID)
	c.handlersMu.Unlock()

	id := c.nextID.Add(1)
	req := subRequest{JSONRPC: "2.0", ID: id, Method: method, Params: []interface{}{subID}}
	body, err := json.Marshal(req)
	if err != nil {
		return
	}
	c.mu.Lock()
	_ = c.conn.WriteMessage(websocket.TextMessage, body)
	c.mu.Unlock()
}

// Close terminates the connection.
func (c *Client) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.conn == nil {
		return nil
	}
	err := c.conn.Close()
	c.conn = nil
	return err
}
