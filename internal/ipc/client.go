package ipc

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net"
	"os"
	"sync"
	"sync/atomic"
	"time"

	"github.com/cenkalti/backoff"
	"github.com/google/uuid"

	"linkcleaner/internal/reconcile"
)

// ClientConfig configures the IPC client.
type ClientConfig struct {
	SocketPath     string
	ClientName     string
	ClientVersion  string
	ConnectTimeout time.Duration
	RequestTimeout time.Duration

	// AutoReconnect redials with exponential backoff after the connection
	// drops, until Close.
	AutoReconnect    bool
	MaxReconnectWait time.Duration

	Logger *slog.Logger
}

// DefaultClientConfig returns defaults for socketPath.
func DefaultClientConfig(socketPath string) ClientConfig {
	return ClientConfig{
		SocketPath:       socketPath,
		ClientName:       "linkcleanerctl",
		ClientVersion:    "dev",
		ConnectTimeout:   5 * time.Second,
		RequestTimeout:   10 * time.Second,
		AutoReconnect:    true,
		MaxReconnectWait: 5 * time.Second,
	}
}

// EventHandler is called on the read goroutine for every streamed event.
// It must not block.
type EventHandler func(event *Event)

// conn is one established connection.
type conn struct {
	net.Conn
	ready      atomic.Bool
	subscribed atomic.Bool
	writeMu    sync.Mutex
}

// Client talks to the daemon. It implements sequencer.Sanitizer and
// reconcile.Monitor, so a front end can drive its coordinator from a
// remote daemon directly.
type Client struct {
	cfg    ClientConfig
	id     string
	logger *slog.Logger

	mu        sync.RWMutex
	cur       *conn
	sessionID string
	server    string

	pendingMu sync.Mutex
	pending   map[uint32]chan *Message
	nextReqID atomic.Uint32

	subsMu   sync.Mutex
	subs     map[uint64]chan reconcile.Event
	nextSub  uint64
	handlers []EventHandler

	reconnecting atomic.Bool
	ctx          context.Context
	cancel       context.CancelFunc
	wg           sync.WaitGroup
}

// NewClient creates a client. Call Connect before issuing requests.
func NewClient(cfg ClientConfig) *Client {
	def := DefaultClientConfig(cfg.SocketPath)
	if cfg.ConnectTimeout <= 0 {
		cfg.ConnectTimeout = def.ConnectTimeout
	}
	if cfg.RequestTimeout <= 0 {
		cfg.RequestTimeout = def.RequestTimeout
	}
	if cfg.MaxReconnectWait <= 0 {
		cfg.MaxReconnectWait = def.MaxReconnectWait
	}
	if cfg.ClientName == "" {
		cfg.ClientName = def.ClientName
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.New(slog.DiscardHandler)
	}

	ctx, cancel := context.WithCancel(context.Background())
	return &Client{
		cfg:     cfg,
		id:      uuid.NewString(),
		logger:  cfg.Logger,
		pending: make(map[uint32]chan *Message),
		subs:    make(map[uint64]chan reconcile.Event),
		ctx:     ctx,
		cancel:  cancel,
	}
}

// ID returns the client's id, sent in the handshake.
func (c *Client) ID() string { return c.id }

// Connect dials the daemon and performs the handshake.
func (c *Client) Connect(ctx context.Context) error {
	if c.IsConnected() {
		return nil
	}
	return c.connectOnce(ctx)
}

func (c *Client) connectOnce(ctx context.Context) error {
	if err := c.ctx.Err(); err != nil {
		return err
	}

	dialer := net.Dialer{Timeout: c.cfg.ConnectTimeout}
	nc, err := dialer.DialContext(ctx, "unix", c.cfg.SocketPath)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) || errors.Is(err, syscallECONNREFUSED) {
			return ErrDaemonNotRunning
		}
		return fmt.Errorf("connect: %w", err)
	}

	cn := &conn{Conn: nc}
	c.mu.Lock()
	c.cur = cn
	c.mu.Unlock()

	c.wg.Add(1)
	go c.readLoop(cn)

	var ack HandshakeResponse
	err = c.call(ctx, MsgHandshake, &HandshakeRequest{
		ClientID:        c.id,
		ClientName:      c.cfg.ClientName,
		ClientVersion:   c.cfg.ClientVersion,
		ProtocolVersion: ProtocolVersion,
	}, MsgHandshakeAck, &ack)
	if err != nil {
		nc.Close()
		return fmt.Errorf("handshake: %w", err)
	}

	c.mu.Lock()
	c.sessionID = ack.SessionID
	c.server = ack.ServerVersion
	c.mu.Unlock()
	cn.ready.Store(true)

	c.subsMu.Lock()
	wantEvents := len(c.handlers) > 0
	c.subsMu.Unlock()
	if wantEvents {
		if err := c.ensureSubscribed(ctx); err != nil {
			c.logger.Warn("event subscription failed", "error", err)
		}
	}
	return nil
}

// IsConnected reports whether a handshaken connection is up.
func (c *Client) IsConnected() bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.cur != nil && c.cur.ready.Load()
}

// SessionID returns the id the daemon assigned to this connection.
func (c *Client) SessionID() string {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.sessionID
}

// ServerVersion returns the daemon's version from the handshake.
func (c *Client) ServerVersion() string {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.server
}

// SetEventHandler adds a handler for streamed events. Events are
// subscribed to on the current and every future connection.
func (c *Client) SetEventHandler(h EventHandler) {
	c.subsMu.Lock()
	c.handlers = append(c.handlers, h)
	c.subsMu.Unlock()

	if c.IsConnected() {
		ctx, cancel := context.WithTimeout(c.ctx, c.cfg.RequestTimeout)
		defer cancel()
		if err := c.ensureSubscribed(ctx); err != nil {
			c.logger.Warn("event subscription failed", "error", err)
		}
	}
}

// Close shuts the client down and waits for the reader to exit.
func (c *Client) Close() error {
	c.cancel()

	c.mu.Lock()
	cur := c.cur
	c.mu.Unlock()
	if cur != nil {
		cur.Close()
	}

	done := make(chan struct{})
	go func() {
		c.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(2 * time.Second):
	}
	return nil
}

func (c *Client) readLoop(cn *conn) {
	defer c.wg.Done()

	for {
		msg, err := ReadMessage(cn)
		if err != nil {
			if c.ctx.Err() == nil && !errors.Is(err, io.EOF) && !errors.Is(err, net.ErrClosed) {
				c.logger.Debug("read failed", "error", err)
			}
			c.drop(cn)
			return
		}

		switch msg.Header.Type {
		case MsgPing:
			c.write(cn, NewMessage(MsgPong, msg.Header.RequestID, nil))
		case MsgEvent:
			c.dispatchEvent(msg)
		default:
			c.pendingMu.Lock()
			ch, ok := c.pending[msg.Header.RequestID]
			delete(c.pending, msg.Header.RequestID)
			c.pendingMu.Unlock()
			if ok {
				ch <- msg
			}
		}
	}
}

// drop forgets a failed connection: pending requests fail, push channels
// close, and a reconnect starts if configured.
func (c *Client) drop(cn *conn) {
	cn.Close()

	c.mu.Lock()
	if c.cur != cn {
		c.mu.Unlock()
		return
	}
	c.cur = nil
	c.mu.Unlock()

	c.pendingMu.Lock()
	for id, ch := range c.pending {
		close(ch)
		delete(c.pending, id)
	}
	c.pendingMu.Unlock()

	c.subsMu.Lock()
	for id, ch := range c.subs {
		close(ch)
		delete(c.subs, id)
	}
	c.subsMu.Unlock()

	if cn.ready.Load() && c.cfg.AutoReconnect && c.ctx.Err() == nil {
		c.logger.Info("connection to daemon lost, reconnecting")
		go c.reconnect()
	}
}

func (c *Client) reconnect() {
	if !c.reconnecting.CompareAndSwap(false, true) {
		return
	}
	defer c.reconnecting.Store(false)

	b := backoff.NewExponentialBackOff()
	b.InitialInterval = 100 * time.Millisecond
	b.MaxInterval = c.cfg.MaxReconnectWait
	b.MaxElapsedTime = 0

	err := backoff.RetryNotify(func() error {
		ctx, cancel := context.WithTimeout(c.ctx, c.cfg.ConnectTimeout)
		defer cancel()
		return c.connectOnce(ctx)
	}, backoff.WithContext(b, c.ctx), func(err error, wait time.Duration) {
		c.logger.Debug("reconnect failed", "error", err, "retry_in", wait)
	})
	if err == nil {
		c.logger.Info("reconnected to daemon")
	}
}

func (c *Client) dispatchEvent(msg *Message) {
	var ev Event
	if err := Decode(msg.Payload, &ev); err != nil {
		c.logger.Warn("invalid event payload", "error", err)
		return
	}

	c.subsMu.Lock()
	handlers := append([]EventHandler(nil), c.handlers...)
	if ev.Type == EventClipboardCleaned && len(c.subs) > 0 {
		var cleaned reconcile.Event
		if err := Decode(ev.Data, &cleaned); err != nil {
			c.logger.Warn("invalid clipboard event", "error", err)
		} else {
			for _, ch := range c.subs {
				select {
				case ch <- cleaned:
				default:
				}
			}
		}
	}
	c.subsMu.Unlock()

	for _, h := range handlers {
		h(&ev)
	}
}

func (c *Client) current() (*conn, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	if c.cur == nil {
		return nil, ErrNotConnected
	}
	return c.cur, nil
}

func (c *Client) write(cn *conn, msg *Message) error {
	cn.writeMu.Lock()
	defer cn.writeMu.Unlock()
	cn.SetWriteDeadline(time.Now().Add(c.cfg.RequestTimeout))
	return msg.Write(cn)
}

// call sends a request and decodes a response of type want into out.
func (c *Client) call(ctx context.Context, msgType MessageType, payload any, want MessageType, out any) error {
	cn, err := c.current()
	if err != nil {
		return err
	}

	var data []byte
	if payload != nil {
		if data, err = Encode(payload); err != nil {
			return fmt.Errorf("encode payload: %w", err)
		}
	}

	reqID := c.nextReqID.Add(1)
	respCh := make(chan *Message, 1)
	c.pendingMu.Lock()
	c.pending[reqID] = respCh
	c.pendingMu.Unlock()
	defer func() {
		c.pendingMu.Lock()
		delete(c.pending, reqID)
		c.pendingMu.Unlock()
	}()

	if err := c.write(cn, NewMessage(msgType, reqID, data)); err != nil {
		cn.Close()
		return fmt.Errorf("write %s: %w", msgType, err)
	}

	timer := time.NewTimer(c.cfg.RequestTimeout)
	defer timer.Stop()

	select {
	case resp, ok := <-respCh:
		if !ok {
			return ErrConnectionLost
		}
		if resp.Header.Type == MsgError {
			var e ErrorResponse
			if err := Decode(resp.Payload, &e); err != nil {
				return fmt.Errorf("decode error response: %w", err)
			}
			return &RemoteError{Code: e.Code, Message: e.Message}
		}
		if resp.Header.Type != want {
			return fmt.Errorf("unexpected response type %s to %s", resp.Header.Type, msgType)
		}
		if out != nil {
			return Decode(resp.Payload, out)
		}
		return nil
	case <-timer.C:
		return ErrTimeout
	case <-ctx.Done():
		return ctx.Err()
	case <-c.ctx.Done():
		return c.ctx.Err()
	}
}

// Ping checks the connection.
func (c *Client) Ping(ctx context.Context) error {
	return c.call(ctx, MsgPing, nil, MsgPong, nil)
}

// Status returns the daemon status.
func (c *Client) Status(ctx context.Context) (*StatusResponse, error) {
	var resp StatusResponse
	if err := c.call(ctx, MsgStatusRequest, nil, MsgStatusResponse, &resp); err != nil {
		return nil, err
	}
	return &resp, nil
}

// Clean asks the daemon to clean text and report what it removed.
func (c *Client) Clean(ctx context.Context, text string) (*SanitizeResponse, error) {
	var resp SanitizeResponse
	if err := c.call(ctx, MsgSanitize, &SanitizeRequest{Text: text}, MsgSanitizeResp, &resp); err != nil {
		return nil, err
	}
	return &resp, nil
}

// Sanitize implements sequencer.Sanitizer.
func (c *Client) Sanitize(ctx context.Context, text string) (string, error) {
	resp, err := c.Clean(ctx, text)
	if err != nil {
		return "", err
	}
	return resp.Output, nil
}

// MonitorEnabled implements reconcile.Monitor.
func (c *Client) MonitorEnabled(ctx context.Context) (bool, error) {
	var resp MonitorState
	if err := c.call(ctx, MsgMonitorStatus, nil, MsgMonitorStatusResp, &resp); err != nil {
		return false, err
	}
	return resp.Enabled, nil
}

// SetMonitorEnabled implements reconcile.Monitor.
func (c *Client) SetMonitorEnabled(ctx context.Context, enabled bool) (bool, error) {
	var resp MonitorState
	if err := c.call(ctx, MsgSetMonitor, &MonitorState{Enabled: enabled}, MsgSetMonitorResp, &resp); err != nil {
		return false, err
	}
	return resp.Enabled, nil
}

// LatestCleaned implements reconcile.Monitor.
func (c *Client) LatestCleaned(ctx context.Context) (reconcile.Event, bool, error) {
	var resp LatestCleanedResponse
	if err := c.call(ctx, MsgLatestCleaned, nil, MsgLatestCleanedResp, &resp); err != nil {
		return reconcile.Event{}, false, err
	}
	return resp.Event, resp.Found, nil
}

// History returns up to limit stored events, newest first.
func (c *Client) History(ctx context.Context, limit int) ([]reconcile.Event, error) {
	var resp HistoryResponse
	if err := c.call(ctx, MsgHistory, &HistoryRequest{Limit: limit}, MsgHistoryResp, &resp); err != nil {
		return nil, err
	}
	return resp.Events, nil
}

func (c *Client) ensureSubscribed(ctx context.Context) error {
	cn, err := c.current()
	if err != nil {
		return err
	}
	if cn.subscribed.Load() {
		return nil
	}
	var resp SubscribeResponse
	if err := c.call(ctx, MsgSubscribe, &SubscribeRequest{}, MsgSubscribeResp, &resp); err != nil {
		return err
	}
	cn.subscribed.Store(true)
	return nil
}

// Subscribe implements reconcile.Monitor. The channel closes when ctx is
// done or the connection drops.
func (c *Client) Subscribe(ctx context.Context) (<-chan reconcile.Event, error) {
	if err := c.ensureSubscribed(ctx); err != nil {
		return nil, err
	}
	cn, err := c.current()
	if err != nil {
		return nil, err
	}

	ch := make(chan reconcile.Event, 16)
	c.subsMu.Lock()
	c.nextSub++
	id := c.nextSub
	c.subs[id] = ch
	c.subsMu.Unlock()

	// The connection may have dropped before ch was registered.
	if now, _ := c.current(); now != cn {
		c.subsMu.Lock()
		if _, ok := c.subs[id]; ok {
			delete(c.subs, id)
			close(ch)
		}
		c.subsMu.Unlock()
		return nil, ErrConnectionLost
	}

	go func() {
		select {
		case <-ctx.Done():
		case <-c.ctx.Done():
		}
		c.subsMu.Lock()
		if _, ok := c.subs[id]; ok {
			delete(c.subs, id)
			close(ch)
		}
		c.subsMu.Unlock()
	}()
	return ch, nil
}
