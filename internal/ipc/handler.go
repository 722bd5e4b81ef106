package ipc

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"linkcleaner/internal/cleaner"
	"linkcleaner/internal/reconcile"
	"linkcleaner/internal/store"
)

// MonitorService is the clipboard monitor as the daemon exposes it.
type MonitorService interface {
	reconcile.Monitor
	LastID() uint64
	ReadOnly() bool
}

// History lists persisted clipboard events.
type History interface {
	List(limit int) ([]store.CleanedEvent, error)
	Stats() (store.Stats, error)
}

// Cleaner cleans text and reports what it removed.
type Cleaner interface {
	CleanWithReport(text string) cleaner.Report
}

// DaemonHandlerConfig configures the daemon handler. Monitor and History
// are optional; requests needing them fail with ErrUnavailable.
type DaemonHandlerConfig struct {
	Version string
	Cleaner Cleaner
	Monitor MonitorService
	History History
	Logger  *slog.Logger

	// OnToggle is called after a client toggles the monitor.
	OnToggle func(enabled bool)
}

// DefaultHistoryLimit applies when a history request names no limit.
const DefaultHistoryLimit = 20

// DaemonHandler answers client requests from the daemon's cleaner,
// monitor and history.
type DaemonHandler struct {
	version   string
	startedAt time.Time
	cleaner   Cleaner
	monitor   MonitorService
	history   History
	logger    *slog.Logger
	onToggle  func(enabled bool)

	mu     sync.RWMutex
	server *Server
}

// NewDaemonHandler creates a handler.
func NewDaemonHandler(cfg DaemonHandlerConfig) *DaemonHandler {
	if cfg.Cleaner == nil {
		cfg.Cleaner = cleaner.New()
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.New(slog.DiscardHandler)
	}
	return &DaemonHandler{
		version:   cfg.Version,
		startedAt: time.Now(),
		cleaner:   cfg.Cleaner,
		monitor:   cfg.Monitor,
		history:   cfg.History,
		logger:    cfg.Logger,
		onToggle:  cfg.OnToggle,
	}
}

// Bind attaches the server used for broadcasts and client counts.
func (h *DaemonHandler) Bind(s *Server) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.server = s
}

func (h *DaemonHandler) broadcast(t EventType, data any) {
	h.mu.RLock()
	srv := h.server
	h.mu.RUnlock()
	if srv == nil {
		return
	}

	ev, err := NewEvent(t, data)
	if err != nil {
		h.logger.Error("encode event", "type", t, "error", err)
		return
	}
	srv.Broadcast(ev)
}

// Forward pushes every event the monitor emits to subscribed clients until
// ctx is done.
func (h *DaemonHandler) Forward(ctx context.Context) error {
	if h.monitor == nil {
		return nil
	}
	events, err := h.monitor.Subscribe(ctx)
	if err != nil {
		return fmt.Errorf("subscribe to monitor: %w", err)
	}
	for ev := range events {
		h.broadcast(EventClipboardCleaned, ev)
	}
	return nil
}

// NotifyMonitorToggled tells subscribers the monitor state changed.
func (h *DaemonHandler) NotifyMonitorToggled(enabled bool) {
	h.broadcast(EventMonitorToggled, MonitorState{Enabled: enabled})
}

// HandleMessage implements Handler.
func (h *DaemonHandler) HandleMessage(ctx context.Context, peer *Peer, msg *Message) (*Message, error) {
	switch msg.Header.Type {
	case MsgStatusRequest:
		return h.handleStatus(ctx, msg)
	case MsgSanitize:
		return h.handleSanitize(msg)
	case MsgMonitorStatus:
		return h.handleMonitorStatus(ctx, msg)
	case MsgSetMonitor:
		return h.handleSetMonitor(ctx, peer, msg)
	case MsgLatestCleaned:
		return h.handleLatest(ctx, msg)
	case MsgHistory:
		return h.handleHistory(msg)
	default:
		return NewErrorMessage(msg.Header.RequestID, ErrInvalidRequest,
			fmt.Sprintf("unknown message type: %s", msg.Header.Type)), nil
	}
}

func (h *DaemonHandler) handleStatus(ctx context.Context, msg *Message) (*Message, error) {
	resp := &StatusResponse{
		Version:   h.version,
		StartedAt: h.startedAt,
		Uptime:    time.Since(h.startedAt),
	}

	h.mu.RLock()
	srv := h.server
	h.mu.RUnlock()
	if srv != nil {
		resp.Clients = srv.ClientCount()
		resp.Subscribers = srv.SubscriberCount()
	}

	if h.monitor != nil {
		enabled, err := h.monitor.MonitorEnabled(ctx)
		if err != nil {
			return nil, err
		}
		resp.MonitorEnabled = enabled
		resp.ReadOnly = h.monitor.ReadOnly()
		resp.LastEventID = h.monitor.LastID()
	}
	if h.history != nil {
		stats, err := h.history.Stats()
		if err != nil {
			h.logger.Warn("reading history stats failed", "error", err)
		} else {
			resp.StoredEvents = stats.Events
			resp.ParamsRemoved = stats.ParamsRemoved
		}
	}

	return NewResponse(MsgStatusResponse, msg.Header.RequestID, resp)
}

func (h *DaemonHandler) handleSanitize(msg *Message) (*Message, error) {
	var req SanitizeRequest
	if err := Decode(msg.Payload, &req); err != nil {
		return NewErrorMessage(msg.Header.RequestID, ErrInvalidRequest, "invalid sanitize request"), nil
	}

	rep := h.cleaner.CleanWithReport(req.Text)
	return NewResponse(MsgSanitizeResp, msg.Header.RequestID, &SanitizeResponse{
		Output:        rep.Output,
		URLsFound:     rep.URLsFound,
		URLsModified:  rep.URLsModified,
		ParamsRemoved: rep.ParamsRemoved,
	})
}

func (h *DaemonHandler) unavailable(msg *Message, what string) *Message {
	return NewErrorMessage(msg.Header.RequestID, ErrUnavailable, what+" not available")
}

func (h *DaemonHandler) handleMonitorStatus(ctx context.Context, msg *Message) (*Message, error) {
	if h.monitor == nil {
		return h.unavailable(msg, "clipboard monitor"), nil
	}
	enabled, err := h.monitor.MonitorEnabled(ctx)
	if err != nil {
		return nil, err
	}
	return NewResponse(MsgMonitorStatusResp, msg.Header.RequestID, &MonitorState{Enabled: enabled})
}

func (h *DaemonHandler) handleSetMonitor(ctx context.Context, peer *Peer, msg *Message) (*Message, error) {
	if h.monitor == nil {
		return h.unavailable(msg, "clipboard monitor"), nil
	}
	var req MonitorState
	if err := Decode(msg.Payload, &req); err != nil {
		return NewErrorMessage(msg.Header.RequestID, ErrInvalidRequest, "invalid monitor request"), nil
	}

	applied, err := h.monitor.SetMonitorEnabled(ctx, req.Enabled)
	if err != nil {
		return nil, err
	}
	h.logger.Info("monitor toggled", "enabled", applied, "by", peer.Name)
	h.NotifyMonitorToggled(applied)
	if h.onToggle != nil {
		h.onToggle(applied)
	}

	return NewResponse(MsgSetMonitorResp, msg.Header.RequestID, &MonitorState{Enabled: applied})
}

func (h *DaemonHandler) handleLatest(ctx context.Context, msg *Message) (*Message, error) {
	if h.monitor == nil {
		return h.unavailable(msg, "clipboard monitor"), nil
	}
	ev, ok, err := h.monitor.LatestCleaned(ctx)
	if err != nil {
		return nil, err
	}
	return NewResponse(MsgLatestCleanedResp, msg.Header.RequestID, &LatestCleanedResponse{Found: ok, Event: ev})
}

func (h *DaemonHandler) handleHistory(msg *Message) (*Message, error) {
	if h.history == nil {
		return h.unavailable(msg, "history"), nil
	}
	var req HistoryRequest
	if err := Decode(msg.Payload, &req); err != nil {
		return NewErrorMessage(msg.Header.RequestID, ErrInvalidRequest, "invalid history request"), nil
	}
	if req.Limit <= 0 {
		req.Limit = DefaultHistoryLimit
	}

	rows, err := h.history.List(req.Limit)
	if err != nil {
		return nil, err
	}
	resp := &HistoryResponse{Events: make([]reconcile.Event, 0, len(rows))}
	for _, r := range rows {
		resp.Events = append(resp.Events, reconcile.Event{
			ID:            r.ID,
			Original:      r.Original,
			Cleaned:       r.Cleaned,
			ParamsRemoved: r.ParamsRemoved,
			At:            r.CreatedAt,
		})
	}
	return NewResponse(MsgHistoryResp, msg.Header.RequestID, resp)
}
