package ipc

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net"
	"os"
	"path/filepath"
	"strconv"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"

	"linkcleaner/internal/metrics"
)

// ErrAlreadyRunning is returned by Start when another daemon owns the socket.
var ErrAlreadyRunning = errors.New("daemon already running")

// Handler processes IPC messages.
type Handler interface {
	HandleMessage(ctx context.Context, peer *Peer, msg *Message) (*Message, error)
}

// HandlerFunc is a function that implements Handler.
type HandlerFunc func(ctx context.Context, peer *Peer, msg *Message) (*Message, error)

func (f HandlerFunc) HandleMessage(ctx context.Context, peer *Peer, msg *Message) (*Message, error) {
	return f(ctx, peer, msg)
}

// Peer is a connected client as seen by the server.
type Peer struct {
	ID          string
	Name        string
	Version     string
	ConnectedAt time.Time
	Creds       *PeerCredentials

	conn    net.Conn
	mu      sync.Mutex
	lastAct time.Time
	writeMu sync.Mutex
}

// LastActivity returns when the peer last sent a message.
func (p *Peer) LastActivity() time.Time {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.lastAct
}

// PeerCredentials holds the credentials of a peer process.
type PeerCredentials struct {
	PID int
	UID int
	GID int
}

type subscription struct {
	events map[EventType]bool
}

func (s *subscription) wants(t EventType) bool {
	return len(s.events) == 0 || s.events[t]
}

// ServerConfig configures the IPC server.
type ServerConfig struct {
	SocketPath     string
	Version        string
	Permissions    os.FileMode
	IdleTimeout    time.Duration
	WriteTimeout   time.Duration
	MaxConnections int

	// AllowOtherUsers skips the peer uid check.
	AllowOtherUsers bool

	Logger  *slog.Logger
	Metrics *metrics.SyncMetrics
}

// DefaultServerConfig returns defaults for socketPath.
func DefaultServerConfig(socketPath string) ServerConfig {
	return ServerConfig{
		SocketPath:     socketPath,
		Version:        "dev",
		Permissions:    0600,
		IdleTimeout:    60 * time.Second,
		WriteTimeout:   10 * time.Second,
		MaxConnections: 16,
	}
}

// ParsePermissions parses an octal mode such as "0600".
func ParsePermissions(s string) (os.FileMode, error) {
	if s == "" {
		return 0600, nil
	}
	v, err := strconv.ParseUint(s, 8, 32)
	if err != nil {
		return 0, fmt.Errorf("parse permissions %q: %w", s, err)
	}
	return os.FileMode(v), nil
}

// Server accepts client connections and dispatches their requests.
type Server struct {
	cfg     ServerConfig
	handler Handler
	logger  *slog.Logger

	mu          sync.RWMutex
	listener    net.Listener
	peers       map[string]*Peer
	subscribers map[string]*subscription
	startedAt   time.Time

	ctx     context.Context
	cancel  context.CancelFunc
	wg      sync.WaitGroup
	running atomic.Bool

	nextEventID atomic.Uint32
}

// NewServer creates a server. Call Start to listen.
func NewServer(cfg ServerConfig, handler Handler) *Server {
	def := DefaultServerConfig(cfg.SocketPath)
	if cfg.Permissions == 0 {
		cfg.Permissions = def.Permissions
	}
	if cfg.IdleTimeout <= 0 {
		cfg.IdleTimeout = def.IdleTimeout
	}
	if cfg.WriteTimeout <= 0 {
		cfg.WriteTimeout = def.WriteTimeout
	}
	if cfg.MaxConnections <= 0 {
		cfg.MaxConnections = def.MaxConnections
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.New(slog.DiscardHandler)
	}

	ctx, cancel := context.WithCancel(context.Background())
	return &Server{
		cfg:         cfg,
		handler:     handler,
		logger:      cfg.Logger,
		peers:       make(map[string]*Peer),
		subscribers: make(map[string]*subscription),
		ctx:         ctx,
		cancel:      cancel,
	}
}

// Start listens on the socket. A stale socket file is removed; a live
// one means another daemon is running.
func (s *Server) Start() error {
	if err := os.MkdirAll(filepath.Dir(s.cfg.SocketPath), 0700); err != nil {
		return fmt.Errorf("create socket directory: %w", err)
	}
	if IsSocketListening(s.cfg.SocketPath) {
		return ErrAlreadyRunning
	}
	if err := CleanupSocket(s.cfg.SocketPath); err != nil {
		return fmt.Errorf("remove stale socket: %w", err)
	}

	listener, err := net.Listen("unix", s.cfg.SocketPath)
	if err != nil {
		return fmt.Errorf("listen on socket: %w", err)
	}
	if err := os.Chmod(s.cfg.SocketPath, s.cfg.Permissions); err != nil {
		listener.Close()
		return fmt.Errorf("set socket permissions: %w", err)
	}

	s.mu.Lock()
	s.listener = listener
	s.startedAt = time.Now()
	s.mu.Unlock()
	s.running.Store(true)

	s.wg.Add(1)
	go s.acceptLoop()

	s.logger.Info("ipc listening", "socket", s.cfg.SocketPath)
	return nil
}

// Stop closes the listener and every connection, then removes the socket.
func (s *Server) Stop() error {
	if !s.running.CompareAndSwap(true, false) {
		return nil
	}

	if ev, err := NewEvent(EventDaemonShutdown, nil); err == nil {
		s.Broadcast(ev)
	}
	s.cancel()
	s.listener.Close()

	s.mu.Lock()
	for _, p := range s.peers {
		p.conn.Close()
	}
	s.mu.Unlock()

	done := make(chan struct{})
	go func() {
		s.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(5 * time.Second):
		s.logger.Warn("ipc shutdown timed out")
	}

	os.Remove(s.cfg.SocketPath)
	return nil
}

// SocketPath returns the socket path.
func (s *Server) SocketPath() string { return s.cfg.SocketPath }

// StartedAt returns when Start succeeded.
func (s *Server) StartedAt() time.Time {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.startedAt
}

// ClientCount returns the number of connected clients.
func (s *Server) ClientCount() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.peers)
}

// SubscriberCount returns the number of subscribed clients.
func (s *Server) SubscriberCount() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.subscribers)
}

// Broadcast sends event to every subscriber that wants it. Writes happen
// on their own goroutines so one slow client cannot stall the others.
func (s *Server) Broadcast(event *Event) {
	payload, err := Encode(event)
	if err != nil {
		s.logger.Error("encode event", "error", err)
		return
	}

	s.mu.RLock()
	defer s.mu.RUnlock()
	for id, sub := range s.subscribers {
		if !sub.wants(event.Type) {
			continue
		}
		peer, ok := s.peers[id]
		if !ok {
			continue
		}
		msg := NewMessage(MsgEvent, s.nextEventID.Add(1), payload)
		go func() {
			if err := s.send(peer, msg); err != nil {
				s.logger.Debug("event delivery failed", "peer", peer.ID, "error", err)
			}
		}()
	}
}

func (s *Server) acceptLoop() {
	defer s.wg.Done()

	for {
		conn, err := s.listener.Accept()
		if err != nil {
			if s.ctx.Err() != nil || errors.Is(err, net.ErrClosed) {
				return
			}
			s.logger.Warn("accept failed", "error", err)
			continue
		}

		creds, err := GetPeerCredentials(conn)
		switch {
		case errors.Is(err, errPeerCredsUnsupported):
		case err != nil:
			s.logger.Warn("reading peer credentials failed", "error", err)
			conn.Close()
			continue
		case !s.cfg.AllowOtherUsers && creds.UID != os.Getuid():
			s.logger.Warn("rejected connection from another user", "uid", creds.UID, "pid", creds.PID)
			conn.Close()
			continue
		}

		s.mu.Lock()
		if len(s.peers) >= s.cfg.MaxConnections {
			s.mu.Unlock()
			s.logger.Warn("connection limit reached", "max", s.cfg.MaxConnections)
			conn.Close()
			continue
		}
		now := time.Now()
		peer := &Peer{
			ID:          uuid.NewString(),
			ConnectedAt: now,
			Creds:       creds,
			conn:        conn,
			lastAct:     now,
		}
		s.peers[peer.ID] = peer
		count := len(s.peers)
		s.mu.Unlock()

		s.cfg.Metrics.SetIPCConnections(count)
		s.wg.Add(1)
		go s.handleConnection(peer)
	}
}

func (s *Server) handleConnection(peer *Peer) {
	defer s.wg.Done()
	defer func() {
		s.mu.Lock()
		delete(s.peers, peer.ID)
		delete(s.subscribers, peer.ID)
		count := len(s.peers)
		s.mu.Unlock()
		s.cfg.Metrics.SetIPCConnections(count)
		peer.conn.Close()
	}()

	for {
		if s.ctx.Err() != nil {
			return
		}

		peer.conn.SetReadDeadline(time.Now().Add(s.cfg.IdleTimeout))
		msg, err := ReadMessage(peer.conn)
		if err != nil {
			var ne net.Error
			if errors.As(err, &ne) && ne.Timeout() {
				// Keep idle subscribers alive; a dead peer fails the write.
				if err := s.send(peer, NewMessage(MsgPing, s.nextEventID.Add(1), nil)); err != nil {
					return
				}
				continue
			}
			if !errors.Is(err, io.EOF) && !errors.Is(err, net.ErrClosed) {
				s.logger.Debug("read failed", "peer", peer.ID, "error", err)
			}
			return
		}

		peer.mu.Lock()
		peer.lastAct = time.Now()
		peer.mu.Unlock()

		resp, err := s.process(peer, msg)
		if err != nil {
			s.logger.Warn("request failed", "peer", peer.ID, "type", msg.Header.Type, "error", err)
			resp = NewErrorMessage(msg.Header.RequestID, ErrInternalError, err.Error())
		}
		if resp != nil {
			if err := s.send(peer, resp); err != nil {
				return
			}
		}
	}
}

func (s *Server) process(peer *Peer, msg *Message) (*Message, error) {
	switch msg.Header.Type {
	case MsgPing:
		return NewMessage(MsgPong, msg.Header.RequestID, nil), nil
	case MsgPong:
		return nil, nil
	case MsgHandshake:
		return s.handleHandshake(peer, msg)
	case MsgSubscribe:
		return s.handleSubscribe(peer, msg)
	case MsgUnsubscribe:
		s.mu.Lock()
		delete(s.subscribers, peer.ID)
		s.mu.Unlock()
		return NewMessage(MsgUnsubscribeResp, msg.Header.RequestID, nil), nil
	}

	if s.handler == nil {
		return NewErrorMessage(msg.Header.RequestID, ErrInvalidRequest, "no handler"), nil
	}
	return s.handler.HandleMessage(s.ctx, peer, msg)
}

func (s *Server) handleHandshake(peer *Peer, msg *Message) (*Message, error) {
	var req HandshakeRequest
	if err := Decode(msg.Payload, &req); err != nil {
		return NewErrorMessage(msg.Header.RequestID, ErrInvalidRequest, "invalid handshake"), nil
	}
	if req.ProtocolVersion > ProtocolVersion {
		return NewErrorMessage(msg.Header.RequestID, ErrInvalidRequest,
			fmt.Sprintf("unsupported protocol version %d", req.ProtocolVersion)), nil
	}

	peer.mu.Lock()
	peer.Name = req.ClientName
	peer.Version = req.ClientVersion
	peer.mu.Unlock()

	s.logger.Debug("client connected", "peer", peer.ID, "name", req.ClientName, "client_id", req.ClientID)

	return NewResponse(MsgHandshakeAck, msg.Header.RequestID, &HandshakeResponse{
		ServerVersion:   s.cfg.Version,
		ProtocolVersion: ProtocolVersion,
		SessionID:       peer.ID,
	})
}

func (s *Server) handleSubscribe(peer *Peer, msg *Message) (*Message, error) {
	var req SubscribeRequest
	if err := Decode(msg.Payload, &req); err != nil {
		return NewErrorMessage(msg.Header.RequestID, ErrInvalidRequest, "invalid subscribe request"), nil
	}

	sub := &subscription{events: make(map[EventType]bool, len(req.Events))}
	for _, et := range req.Events {
		sub.events[et] = true
	}

	s.mu.Lock()
	s.subscribers[peer.ID] = sub
	s.mu.Unlock()

	return NewResponse(MsgSubscribeResp, msg.Header.RequestID, &SubscribeResponse{
		Success:        true,
		SubscriptionID: peer.ID,
	})
}

func (s *Server) send(peer *Peer, msg *Message) error {
	peer.writeMu.Lock()
	defer peer.writeMu.Unlock()

	peer.conn.SetWriteDeadline(time.Now().Add(s.cfg.WriteTimeout))
	return msg.Write(peer.conn)
}

// CleanupSocket removes a stale socket file. Anything other than a socket
// at path is left alone and reported.
func CleanupSocket(path string) error {
	info, err := os.Lstat(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		return err
	}
	if info.Mode()&os.ModeSocket != 0 {
		return os.Remove(path)
	}
	return fmt.Errorf("path exists but is not a socket: %s", path)
}

// IsSocketListening reports whether something accepts connections at path.
func IsSocketListening(path string) bool {
	conn, err := net.DialTimeout("unix", path, time.Second)
	if err != nil {
		return false
	}
	conn.Close()
	return true
}
