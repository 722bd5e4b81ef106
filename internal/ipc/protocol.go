// Package ipc connects the link cleaner daemon to its clients (CLI, GUI,
// web bridge) over a local socket.
//
// Every message is a fixed 16-byte header followed by a JSON payload.
// Requests and responses are correlated by the header's request id;
// server-initiated events use MsgEvent and request ids from a separate
// counter.
package ipc

import (
	"encoding/binary"
	"encoding/json"
	"fmt"
	"io"
	"time"

	"linkcleaner/internal/reconcile"
)

const (
	ProtocolVersion = 1
	ProtocolMagic   = 0x4C434C4E // "LCLN"
)

// MaxPayload bounds a single message payload.
const MaxPayload = 16 * 1024 * 1024

// MessageType identifies the type of IPC message.
type MessageType uint16

const (
	// Control messages (0x00xx)
	MsgPing         MessageType = 0x0001
	MsgPong         MessageType = 0x0002
	MsgHandshake    MessageType = 0x0003
	MsgHandshakeAck MessageType = 0x0004
	MsgError        MessageType = 0x0005

	// Status (0x01xx)
	MsgStatusRequest  MessageType = 0x0100
	MsgStatusResponse MessageType = 0x0101

	// Cleaning (0x02xx)
	MsgSanitize     MessageType = 0x0200
	MsgSanitizeResp MessageType = 0x0201

	// Clipboard monitor (0x03xx)
	MsgMonitorStatus     MessageType = 0x0300
	MsgMonitorStatusResp MessageType = 0x0301
	MsgSetMonitor        MessageType = 0x0302
	MsgSetMonitorResp    MessageType = 0x0303
	MsgLatestCleaned     MessageType = 0x0304
	MsgLatestCleanedResp MessageType = 0x0305
	MsgHistory           MessageType = 0x0306
	MsgHistoryResp       MessageType = 0x0307

	// Event streaming (0x05xx)
	MsgSubscribe       MessageType = 0x0500
	MsgSubscribeResp   MessageType = 0x0501
	MsgUnsubscribe     MessageType = 0x0502
	MsgUnsubscribeResp MessageType = 0x0503
	MsgEvent           MessageType = 0x0504
)

func (t MessageType) String() string {
	switch t {
	case MsgPing:
		return "ping"
	case MsgPong:
		return "pong"
	case MsgHandshake:
		return "handshake"
	case MsgHandshakeAck:
		return "handshake_ack"
	case MsgError:
		return "error"
	case MsgStatusRequest:
		return "status"
	case MsgSanitize:
		return "sanitize"
	case MsgMonitorStatus:
		return "monitor_status"
	case MsgSetMonitor:
		return "set_monitor"
	case MsgLatestCleaned:
		return "latest_cleaned"
	case MsgHistory:
		return "history"
	case MsgSubscribe:
		return "subscribe"
	case MsgUnsubscribe:
		return "unsubscribe"
	case MsgEvent:
		return "event"
	default:
		return fmt.Sprintf("0x%04x", uint16(t))
	}
}

// EventType identifies the type of streamed event.
type EventType uint16

const (
	EventClipboardCleaned EventType = 0x0001
	EventMonitorToggled   EventType = 0x0002
	EventDaemonShutdown   EventType = 0x0003
)

// Header is the fixed-size message header.
type Header struct {
	Magic     uint32
	Version   uint8
	Flags     uint8
	Type      MessageType
	RequestID uint32
	Length    uint32
}

// HeaderSize is the size of the header in bytes.
const HeaderSize = 16

// FlagJSON marks a JSON payload. It is the only encoding in use.
const FlagJSON uint8 = 0x04

// Message wraps a header and payload.
type Message struct {
	Header  Header
	Payload []byte
}

// NewMessage creates a new message with the given type and payload.
func NewMessage(msgType MessageType, requestID uint32, payload []byte) *Message {
	return &Message{
		Header: Header{
			Magic:     ProtocolMagic,
			Version:   ProtocolVersion,
			Flags:     FlagJSON,
			Type:      msgType,
			RequestID: requestID,
			Length:    uint32(len(payload)),
		},
		Payload: payload,
	}
}

func (h *Header) encode(buf []byte) {
	binary.BigEndian.PutUint32(buf[0:4], h.Magic)
	buf[4] = h.Version
	buf[5] = h.Flags
	binary.BigEndian.PutUint16(buf[6:8], uint16(h.Type))
	binary.BigEndian.PutUint32(buf[8:12], h.RequestID)
	binary.BigEndian.PutUint32(buf[12:16], h.Length)
}

// ReadHeader reads and checks a header.
func ReadHeader(r io.Reader) (*Header, error) {
	buf := make([]byte, HeaderSize)
	if _, err := io.ReadFull(r, buf); err != nil {
		return nil, err
	}

	h := &Header{
		Magic:     binary.BigEndian.Uint32(buf[0:4]),
		Version:   buf[4],
		Flags:     buf[5],
		Type:      MessageType(binary.BigEndian.Uint16(buf[6:8])),
		RequestID: binary.BigEndian.Uint32(buf[8:12]),
		Length:    binary.BigEndian.Uint32(buf[12:16]),
	}
	if h.Magic != ProtocolMagic {
		return nil, fmt.Errorf("invalid magic number: %x", h.Magic)
	}
	if h.Version > ProtocolVersion {
		return nil, fmt.Errorf("unsupported protocol version: %d", h.Version)
	}
	return h, nil
}

// Write writes header and payload in a single call.
func (m *Message) Write(w io.Writer) error {
	buf := make([]byte, HeaderSize+len(m.Payload))
	m.Header.encode(buf)
	copy(buf[HeaderSize:], m.Payload)
	_, err := w.Write(buf)
	return err
}

// ReadMessage reads a complete message.
func ReadMessage(r io.Reader) (*Message, error) {
	h, err := ReadHeader(r)
	if err != nil {
		return nil, err
	}

	m := &Message{Header: *h}
	if h.Length > 0 {
		if h.Length > MaxPayload {
			return nil, fmt.Errorf("payload too large: %d bytes", h.Length)
		}
		m.Payload = make([]byte, h.Length)
		if _, err := io.ReadFull(r, m.Payload); err != nil {
			return nil, err
		}
	}
	return m, nil
}

// HandshakeRequest is sent by the client after connecting.
type HandshakeRequest struct {
	ClientID        string `json:"client_id"`
	ClientName      string `json:"client_name"`
	ClientVersion   string `json:"client_version"`
	ProtocolVersion uint8  `json:"protocol_version"`
}

// HandshakeResponse acknowledges the handshake.
type HandshakeResponse struct {
	ServerVersion   string `json:"server_version"`
	ProtocolVersion uint8  `json:"protocol_version"`
	SessionID       string `json:"session_id"`
}

// ErrorResponse is sent when an operation fails.
type ErrorResponse struct {
	Code    int    `json:"code"`
	Message string `json:"message"`
}

// Error codes.
const (
	ErrUnknown          = 1
	ErrInvalidRequest   = 2
	ErrNotFound         = 3
	ErrPermissionDenied = 4
	ErrInternalError    = 5
	ErrUnavailable      = 6
)

// StatusResponse describes the daemon.
type StatusResponse struct {
	Version        string        `json:"version"`
	StartedAt      time.Time     `json:"started_at"`
	Uptime         time.Duration `json:"uptime"`
	MonitorEnabled bool          `json:"monitor_enabled"`
	ReadOnly       bool          `json:"read_only"`
	LastEventID    uint64        `json:"last_event_id"`
	Clients        int           `json:"clients"`
	Subscribers    int           `json:"subscribers"`
	StoredEvents   int64         `json:"stored_events"`
	ParamsRemoved  int64         `json:"params_removed"`
}

// SanitizeRequest asks the daemon to clean text.
type SanitizeRequest struct {
	Text string `json:"text"`
}

// SanitizeResponse is the cleaned text and what was removed.
type SanitizeResponse struct {
	Output        string `json:"output"`
	URLsFound     int    `json:"urls_found"`
	URLsModified  int    `json:"urls_modified"`
	ParamsRemoved int    `json:"params_removed"`
}

// MonitorState carries the monitor's enabled flag.
type MonitorState struct {
	Enabled bool `json:"enabled"`
}

// LatestCleanedResponse is the most recent clipboard event.
type LatestCleanedResponse struct {
	Found bool            `json:"found"`
	Event reconcile.Event `json:"event"`
}

// HistoryRequest asks for recent events, newest first.
type HistoryRequest struct {
	Limit int `json:"limit,omitempty"`
}

// HistoryResponse lists stored events.
type HistoryResponse struct {
	Events []reconcile.Event `json:"events"`
}

// SubscribeRequest requests event subscription.
type SubscribeRequest struct {
	Events []EventType `json:"events"` // empty means all
}

// SubscribeResponse acknowledges subscription.
type SubscribeResponse struct {
	Success        bool   `json:"success"`
	SubscriptionID string `json:"subscription_id"`
}

// Event is a streamed event. Data is decoded by type on the client.
type Event struct {
	Type      EventType       `json:"type"`
	Timestamp time.Time       `json:"timestamp"`
	Data      json.RawMessage `json:"data,omitempty"`
}

// NewEvent encodes data into an Event.
func NewEvent(t EventType, data any) (*Event, error) {
	ev := &Event{Type: t, Timestamp: time.Now()}
	if data != nil {
		raw, err := json.Marshal(data)
		if err != nil {
			return nil, err
		}
		ev.Data = raw
	}
	return ev, nil
}

// Encode encodes a payload to JSON bytes.
func Encode(v any) ([]byte, error) {
	return json.Marshal(v)
}

// Decode decodes JSON bytes to a payload. An empty payload leaves v
// untouched.
func Decode(data []byte, v any) error {
	if len(data) == 0 {
		return nil
	}
	return json.Unmarshal(data, v)
}

// NewErrorMessage creates an error message.
func NewErrorMessage(requestID uint32, code int, message string) *Message {
	payload, _ := Encode(&ErrorResponse{Code: code, Message: message})
	return NewMessage(MsgError, requestID, payload)
}

// NewResponse creates a response message.
func NewResponse(msgType MessageType, requestID uint32, v any) (*Message, error) {
	payload, err := Encode(v)
	if err != nil {
		return nil, err
	}
	return NewMessage(msgType, requestID, payload), nil
}

// RemoteError is an error reported by the daemon.
type RemoteError struct {
	Code    int
	Message string
}

func (e *RemoteError) Error() string {
	return fmt.Sprintf("daemon error %d: %s", e.Code, e.Message)
}
