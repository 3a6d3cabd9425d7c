// Package obs is the WebSocket client for the scene renderer's RPC
// (obs-websocket protocol v5). It owns the single renderer connection:
// every RPC in the process goes through Client.Call, which serializes
// writes through one FIFO so per-connection ordering is guaranteed.
// Connection loss schedules reconnection with exponential backoff; calls
// made while disconnected fail fast and the caller moves on.
package obs

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	json "github.com/goccy/go-json"
	"github.com/google/uuid"
	"github.com/gorilla/websocket"

	"github.com/onnwee/streamfx/config"
	"github.com/onnwee/streamfx/telemetry"
)

// State is the connection lifecycle state.
type State int32

const (
	StateDisconnected State = iota
	StateConnecting
	StateIdentified
	StateReconnecting
)

func (s State) String() string {
	switch s {
	case StateDisconnected:
		return "disconnected"
	case StateConnecting:
		return "connecting"
	case StateIdentified:
		return "identified"
	case StateReconnecting:
		return "reconnecting"
	default:
		return "unknown"
	}
}

// Reconnect backoff: base 2000ms, multiplier 1.3, capped at 60s.
const (
	backoffBase       = 2 * time.Second
	backoffMax        = 60 * time.Second
	backoffMultiplier = 1.3
)

var (
	// ErrNotConnected is returned by Call when no identified connection
	// exists; callers treat it as a transient renderer error.
	ErrNotConnected = errors.New("renderer not connected")
	// ErrDisabled is returned when the renderer is disabled by config.
	ErrDisabled = errors.New("renderer disabled")
)

// Options is the client configuration, extracted field-by-field from the
// obs config section. Extraction is explicit on purpose: the config may
// expose deferred getters, and a shallow copy would lose them.
type Options struct {
	Enabled        bool
	Address        string
	Password       string
	ConnectTimeout time.Duration
	Dialer         *websocket.Dialer
}

// OptionsFromConfig copies the relevant obs fields one by one.
func OptionsFromConfig(c *config.OBSConfig) Options {
	return Options{
		Enabled:        c.Enabled,
		Address:        c.Address,
		Password:       c.Password,
		ConnectTimeout: c.ConnectTimeout,
	}
}

type pendingCall struct {
	ch chan responseData
}

// Client maintains the renderer connection.
type Client struct {
	opts Options

	mu      sync.Mutex
	state   State
	conn    *websocket.Conn
	sendCh  chan []byte
	pending map[string]*pendingCall
	identCh chan struct{} // closed when identified; replaced per attempt

	reconnectN int
	closed     bool
	done       chan struct{}
	wg         sync.WaitGroup
}

// NewClient builds a client; call Start to begin connecting.
func NewClient(opts Options) *Client {
	if opts.ConnectTimeout <= 0 {
		opts.ConnectTimeout = 10 * time.Second
	}
	if opts.Dialer == nil {
		opts.Dialer = websocket.DefaultDialer
	}
	return &Client{
		opts:    opts,
		pending: make(map[string]*pendingCall),
		identCh: make(chan struct{}),
		done:    make(chan struct{}),
	}
}

// Start launches the connection manager. It returns immediately; the
// queue keeps running even when the renderer never comes up.
func (c *Client) Start(ctx context.Context) {
	if !c.opts.Enabled {
		slog.Info("renderer disabled; RPC calls will no-op")
		return
	}
	c.wg.Add(1)
	go c.run(ctx)
}

// Close tears down the connection and stops reconnecting.
func (c *Client) Close() {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return
	}
	c.closed = true
	close(c.done)
	conn := c.conn
	c.mu.Unlock()
	if conn != nil {
		_ = conn.Close()
	}
	c.wg.Wait()
}

// State returns the current lifecycle state.
func (c *Client) State() State {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state
}

// EnsureConnected blocks until the connection is identified, or fails
// when ctx (bounded by the configured connect timeout) expires.
func (c *Client) EnsureConnected(ctx context.Context) error {
	if !c.opts.Enabled {
		return ErrDisabled
	}
	ctx, cancel := context.WithTimeout(ctx, c.opts.ConnectTimeout)
	defer cancel()

	for {
		c.mu.Lock()
		if c.state == StateIdentified {
			c.mu.Unlock()
			return nil
		}
		ch := c.identCh
		c.mu.Unlock()
		select {
		case <-ch:
			// re-check; the attempt may have failed
		case <-ctx.Done():
			return fmt.Errorf("renderer connect: %w", ctx.Err())
		case <-c.done:
			return ErrNotConnected
		}
	}
}

// Call issues one RPC and waits for its response. Calls fail fast when
// the connection is down; ordering across concurrent callers follows the
// send FIFO.
func (c *Client) Call(ctx context.Context, requestType string, reqData any) (json.RawMessage, error) {
	if !c.opts.Enabled {
		return nil, ErrDisabled
	}
	c.mu.Lock()
	if c.state != StateIdentified || c.conn == nil {
		c.mu.Unlock()
		return nil, ErrNotConnected
	}
	id := uuid.New().String()
	pc := &pendingCall{ch: make(chan responseData, 1)}
	c.pending[id] = pc
	sendCh := c.sendCh
	c.mu.Unlock()

	frame, err := marshalEnvelope(opRequest, requestData{RequestType: requestType, RequestID: id, RequestData: reqData})
	if err != nil {
		c.dropPending(id)
		return nil, fmt.Errorf("marshal %s: %w", requestType, err)
	}

	select {
	case sendCh <- frame:
	case <-ctx.Done():
		c.dropPending(id)
		return nil, ctx.Err()
	case <-c.done:
		c.dropPending(id)
		return nil, ErrNotConnected
	}

	select {
	case resp := <-pc.ch:
		if !resp.RequestStatus.Result {
			return nil, fmt.Errorf("%s failed: code %d: %s", requestType, resp.RequestStatus.Code, resp.RequestStatus.Comment)
		}
		return resp.ResponseData, nil
	case <-ctx.Done():
		c.dropPending(id)
		return nil, ctx.Err()
	case <-c.done:
		return nil, ErrNotConnected
	}
}

func (c *Client) dropPending(id string) {
	c.mu.Lock()
	delete(c.pending, id)
	c.mu.Unlock()
}

// run is the connection manager: connect, serve until the connection
// dies, back off, repeat.
func (c *Client) run(ctx context.Context) {
	defer c.wg.Done()
	for {
		select {
		case <-ctx.Done():
			return
		case <-c.done:
			return
		default:
		}

		err := c.connectOnce(ctx)
		if err == nil {
			// connection served and eventually dropped
			c.setState(StateReconnecting)
		} else {
			slog.Warn("renderer connect failed", slog.Any("err", err), slog.String("addr", c.opts.Address))
			c.setState(StateReconnecting)
		}

		delay := backoffDelay(c.reconnectN)
		c.reconnectN++
		telemetry.IncRendererReconnect()
		slog.Info("renderer reconnect scheduled", slog.Duration("in", delay), slog.Int("attempt", c.reconnectN))
		select {
		case <-time.After(delay):
		case <-ctx.Done():
			return
		case <-c.done:
			return
		}
	}
}

func backoffDelay(attempt int) time.Duration {
	d := float64(backoffBase)
	for i := 0; i < attempt; i++ {
		d *= backoffMultiplier
		if time.Duration(d) >= backoffMax {
			return backoffMax
		}
	}
	return time.Duration(d)
}

// connectOnce dials, performs the Hello/Identify/Identified handshake and
// serves the connection until it drops. A nil return means the handshake
// succeeded and the connection later died; an error means the attempt
// itself failed.
func (c *Client) connectOnce(ctx context.Context) error {
	c.setState(StateConnecting)

	dialCtx, cancel := context.WithTimeout(ctx, c.opts.ConnectTimeout)
	conn, _, err := c.opts.Dialer.DialContext(dialCtx, c.opts.Address, nil)
	cancel()
	if err != nil {
		c.notifyIdentWaiters()
		return fmt.Errorf("dial: %w", err)
	}

	// Hello
	var hello helloData
	if err := readMessage(conn, opHello, &hello); err != nil {
		_ = conn.Close()
		c.notifyIdentWaiters()
		return fmt.Errorf("hello: %w", err)
	}

	// Identify
	ident := identifyData{RPCVersion: rpcVersion}
	if hello.Authentication != nil {
		ident.Authentication = authToken(c.opts.Password, hello.Authentication.Salt, hello.Authentication.Challenge)
	}
	frame, err := marshalEnvelope(opIdentify, ident)
	if err != nil {
		_ = conn.Close()
		c.notifyIdentWaiters()
		return err
	}
	if err := conn.WriteMessage(websocket.TextMessage, frame); err != nil {
		_ = conn.Close()
		c.notifyIdentWaiters()
		return fmt.Errorf("identify: %w", err)
	}

	// Identified
	var identified struct {
		NegotiatedRPCVersion int `json:"negotiatedRpcVersion"`
	}
	if err := readMessage(conn, opIdentified, &identified); err != nil {
		_ = conn.Close()
		c.notifyIdentWaiters()
		return fmt.Errorf("identified: %w", err)
	}

	sendCh := make(chan []byte, 64)
	c.mu.Lock()
	c.conn = conn
	c.sendCh = sendCh
	c.state = StateIdentified
	c.reconnectN = 0
	close(c.identCh)
	c.mu.Unlock()

	slog.Info("renderer connected", slog.String("addr", c.opts.Address), slog.Int("rpc_version", identified.NegotiatedRPCVersion))

	// writer: the FIFO that guarantees per-connection ordering
	writeDone := make(chan struct{})
	go func() {
		defer close(writeDone)
		for {
			select {
			case frame := <-sendCh:
				_ = conn.SetWriteDeadline(time.Now().Add(10 * time.Second))
				if err := conn.WriteMessage(websocket.TextMessage, frame); err != nil {
					slog.Warn("renderer write failed", slog.Any("err", err))
					return
				}
			case <-c.done:
				return
			}
		}
	}()

	// reader until the connection drops
	readErr := c.readLoop(conn)
	_ = conn.Close()
	<-writeDone

	c.mu.Lock()
	c.conn = nil
	c.sendCh = nil
	c.identCh = make(chan struct{})
	// fail pending callers instead of leaving them hanging
	for id, pc := range c.pending {
		close(pc.ch)
		delete(c.pending, id)
	}
	c.mu.Unlock()

	if readErr != nil && !errors.Is(readErr, context.Canceled) {
		slog.Warn("renderer connection lost", slog.Any("err", readErr))
	}
	return nil
}

func (c *Client) readLoop(conn *websocket.Conn) error {
	for {
		_, data, err := conn.ReadMessage()
		if err != nil {
			return err
		}
		var env envelope
		if err := json.Unmarshal(data, &env); err != nil {
			slog.Warn("renderer sent malformed frame", slog.Any("err", err))
			continue
		}
		switch env.Op {
		case opResponse:
			var resp responseData
			if err := json.Unmarshal(env.D, &resp); err != nil {
				slog.Warn("renderer sent malformed response", slog.Any("err", err))
				continue
			}
			c.mu.Lock()
			pc := c.pending[resp.RequestID]
			delete(c.pending, resp.RequestID)
			c.mu.Unlock()
			if pc != nil {
				pc.ch <- resp
			}
		case opEvent:
			// renderer events are not consumed; the display queue drives
			// all state transitions itself
		}
	}
}

func (c *Client) setState(s State) {
	c.mu.Lock()
	c.state = s
	c.mu.Unlock()
}

// notifyIdentWaiters wakes EnsureConnected callers after a failed attempt
// so they re-evaluate instead of blocking the full timeout.
func (c *Client) notifyIdentWaiters() {
	c.mu.Lock()
	close(c.identCh)
	c.identCh = make(chan struct{})
	c.state = StateDisconnected
	c.mu.Unlock()
}

// readMessage reads one frame and requires the given opcode.
func readMessage(conn *websocket.Conn, wantOp int, into any) error {
	_ = conn.SetReadDeadline(time.Now().Add(15 * time.Second))
	defer conn.SetReadDeadline(time.Time{}) //nolint:errcheck
	_, data, err := conn.ReadMessage()
	if err != nil {
		return err
	}
	var env envelope
	if err := json.Unmarshal(data, &env); err != nil {
		return err
	}
	if env.Op != wantOp {
		return fmt.Errorf("expected op %d, got %d", wantOp, env.Op)
	}
	return json.Unmarshal(env.D, into)
}
