// Package electrum implements the Chain Adapter: a persistent
// connection to an Electrum-protocol endpoint speaking newline-
// delimited JSON-RPC 2.0 over TCP or TLS.
//
// Grounded on src/chainadapter/rpc/websocket.go's reconnect/dispatch
// architecture (atomic request-id counter, pendingCalls map,
// per-scripthash subscription channels) rebuilt
// over net.Conn/bufio.Scanner since Electrum servers speak raw
// newline-delimited JSON, not WebSocket framing, and
// other_examples/1de3360a_square-beancounter's real Electrum method
// surface (blockchain.transaction.get, blockchain.scripthash.listunspent,
// blockchain.headers.subscribe, blockchain.transaction.broadcast).
// There is no reconnect backoff: a dropped connection is dialled again
// on the next call.
package electrum

import (
	"bufio"
	"context"
	"crypto/tls"
	"encoding/json"
	"fmt"
	"log/slog"
	"net"
	"sync"
	"sync/atomic"
	"time"

	"github.com/cashflow402/gateway/internal/gwerrors"
)

// Config describes how to reach the Electrum endpoint, per spec §6.
type Config struct {
	Host     string
	Port     int
	Protocol string // "ssl" | "tcp"
	Timeout  time.Duration
}

type rpcRequest struct {
	ID     int64       `json:"id"`
	Method string      `json:"method"`
	Params interface{} `json:"params"`
}

type rpcResponse struct {
	ID     int64           `json:"id"`
	Result json.RawMessage `json:"result"`
	Error  *rpcError       `json:"error"`
}

type rpcError struct {
	Code    int    `json:"code"`
	Message string `json:"message"`
}

type rpcNotification struct {
	Method string            `json:"method"`
	Params []json.RawMessage `json:"params"`
}

// Client is a persistent Electrum-protocol connection. The first call
// after a disconnection lazily reopens the socket, per spec §4.1.
type Client struct {
	cfg Config
	log *slog.Logger

	connMu sync.RWMutex
	conn   net.Conn
	writer *bufio.Writer

	requestID atomic.Int64

	pendingMu sync.Mutex
	pending   map[int64]chan *rpcResponse

	subsMu        sync.Mutex
	subscriptions map[string][]func(json.RawMessage)

	closed atomic.Bool
}

// New builds an Electrum client. It does not connect until the first
// Call, matching the spec's lazy-reconnect requirement.
func New(cfg Config, log *slog.Logger) *Client {
	if cfg.Timeout == 0 {
		cfg.Timeout = 30 * time.Second
	}
	if log == nil {
		log = slog.Default()
	}
	return &Client{
		cfg:           cfg,
		log:           log,
		pending:       make(map[int64]chan *rpcResponse),
		subscriptions: make(map[string][]func(json.RawMessage)),
	}
}

// Close releases the underlying connection.
func (c *Client) Close() error {
	c.closed.Store(true)
	c.connMu.Lock()
	defer c.connMu.Unlock()
	if c.conn != nil {
		return c.conn.Close()
	}
	return nil
}

func (c *Client) ensureConnected() error {
	c.connMu.RLock()
	connected := c.conn != nil
	c.connMu.RUnlock()
	if connected {
		return nil
	}

	c.connMu.Lock()
	defer c.connMu.Unlock()
	if c.conn != nil {
		return nil
	}

	addr := fmt.Sprintf("%s:%d", c.cfg.Host, c.cfg.Port)
	dialer := &net.Dialer{Timeout: c.cfg.Timeout}

	var conn net.Conn
	var err error
	if c.cfg.Protocol == "tcp" {
		conn, err = dialer.Dial("tcp", addr)
	} else {
		conn, err = tls.DialWithDialer(dialer, "tcp", addr, &tls.Config{})
	}
	if err != nil {
		return gwerrors.Wrap(gwerrors.ServerError, "connect to electrum endpoint", err).WithHint("ChainUnavailable")
	}

	c.conn = conn
	c.writer = bufio.NewWriter(conn)
	go c.readLoop(conn)
	return nil
}

// Call issues a JSON-RPC request and waits for its matching response.
func (c *Client) Call(ctx context.Context, method string, params interface{}) (json.RawMessage, error) {
	if c.closed.Load() {
		return nil, gwerrors.New(gwerrors.ServerError, "electrum client closed").WithHint("ChainUnavailable")
	}
	if err := c.ensureConnected(); err != nil {
		return nil, err
	}

	id := c.requestID.Add(1)
	respChan := make(chan *rpcResponse, 1)
	c.pendingMu.Lock()
	c.pending[id] = respChan
	c.pendingMu.Unlock()
	defer func() {
		c.pendingMu.Lock()
		delete(c.pending, id)
		c.pendingMu.Unlock()
	}()

	req := rpcRequest{ID: id, Method: method, Params: params}
	line, err := json.Marshal(req)
	if err != nil {
		return nil, gwerrors.Wrap(gwerrors.ServerError, "marshal electrum request", err)
	}

	c.connMu.RLock()
	writer := c.writer
	c.connMu.RUnlock()
	if writer == nil {
		return nil, gwerrors.New(gwerrors.ServerError, "electrum connection not established").WithHint("ChainUnavailable")
	}

	if _, err := writer.Write(append(line, '\n')); err != nil {
		c.dropConn()
		return nil, gwerrors.Wrap(gwerrors.ServerError, "write electrum request", err).WithHint("ChainUnavailable")
	}
	if err := writer.Flush(); err != nil {
		c.dropConn()
		return nil, gwerrors.Wrap(gwerrors.ServerError, "flush electrum request", err).WithHint("ChainUnavailable")
	}

	select {
	case resp := <-respChan:
		if resp.Error != nil {
			if isNotFoundMessage(resp.Error.Message) {
				return nil, gwerrors.New(gwerrors.NotFound, resp.Error.Message)
			}
			return nil, gwerrors.Newf(gwerrors.ServerError, "electrum error: %s", resp.Error.Message)
		}
		return resp.Result, nil
	case <-ctx.Done():
		return nil, ctx.Err()
	case <-time.After(c.cfg.Timeout):
		return nil, gwerrors.New(gwerrors.ServerError, "electrum request timed out").WithHint("ChainUnavailable")
	}
}

func isNotFoundMessage(msg string) bool {
	return msg == "missing transaction" || msg == "No such mempool or blockchain transaction." ||
		len(msg) > 0 && (msg[0] == 'm' || msg[0] == 'M') && contains(msg, "missing")
}

func contains(s, substr string) bool {
	for i := 0; i+len(substr) <= len(s); i++ {
		if s[i:i+len(substr)] == substr {
			return true
		}
	}
	return false
}

func (c *Client) dropConn() {
	c.connMu.Lock()
	defer c.connMu.Unlock()
	if c.conn != nil {
		_ = c.conn.Close()
	}
	c.conn = nil
	c.writer = nil
}

func (c *Client) readLoop(conn net.Conn) {
	scanner := bufio.NewScanner(conn)
	scanner.Buffer(make([]byte, 0, 64*1024), 10*1024*1024)
	for scanner.Scan() {
		line := scanner.Bytes()
		var peek struct {
			ID     *int64 `json:"id"`
			Method string `json:"method"`
		}
		if err := json.Unmarshal(line, &peek); err != nil {
			continue
		}
		if peek.ID != nil {
			var resp rpcResponse
			if err := json.Unmarshal(line, &resp); err != nil {
				continue
			}
			c.pendingMu.Lock()
			ch, ok := c.pending[resp.ID]
			c.pendingMu.Unlock()
			if ok {
				ch <- &resp
			}
			continue
		}
		if peek.Method != "" {
			var notif rpcNotification
			if err := json.Unmarshal(line, &notif); err != nil {
				continue
			}
			c.dispatchNotification(notif)
		}
	}
	c.log.Warn("electrum connection closed", "err", scanner.Err())
	c.dropConn()
}

// dispatchNotification hands subscription updates to the registered
// scripthash callback set. It never blocks: callbacks run inline but
// MUST themselves hand off to the caller's own scheduler (see spec §5
// "Scripthash callback ownership").
func (c *Client) dispatchNotification(notif rpcNotification) {
	if len(notif.Params) == 0 {
		return
	}
	var scripthash string
	if err := json.Unmarshal(notif.Params[0], &scripthash); err != nil {
		return
	}
	c.subsMu.Lock()
	callbacks := append([]func(json.RawMessage){}, c.subscriptions[scripthash]...)
	c.subsMu.Unlock()

	var status json.RawMessage
	if len(notif.Params) > 1 {
		status = notif.Params[1]
	}
	for _, cb := range callbacks {
		cb(status)
	}
}
