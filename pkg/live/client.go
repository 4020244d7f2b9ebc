// Package live maintains the persistent bidirectional websocket channel to
// the coaching service: outbound media chunks and tool acknowledgements,
// inbound audio, interruption signals, and structured tool calls.
package live

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gorilla/websocket"

	"github.com/repcoach/repcoach/pkg/coach"
	"github.com/repcoach/repcoach/pkg/pcm"
	"github.com/repcoach/repcoach/pkg/protocol"
)

const defaultConnectTimeout = 15 * time.Second

// Event is an inbound session event. Events of the same kind are delivered
// in arrival order; no global order is guaranteed across audio and tool-call
// events.
type Event interface {
	eventType() string
}

// AudioEvent carries one decoded speech chunk (raw pcm_s16le bytes).
type AudioEvent struct {
	Data []byte
}

func (AudioEvent) eventType() string { return protocol.TypeAudio }

// InterruptedEvent signals that playback must flush immediately.
type InterruptedEvent struct {
	Reason string
}

func (InterruptedEvent) eventType() string { return protocol.TypeInterrupted }

// ToolCallEvent is a structured tool invocation awaiting acknowledgement.
type ToolCallEvent struct {
	ID   string
	Name string
	Args map[string]any
}

func (ToolCallEvent) eventType() string { return protocol.TypeToolCall }

// ErrorEvent surfaces a channel error reported by the service.
type ErrorEvent struct {
	Err *coach.Error
}

func (ErrorEvent) eventType() string { return protocol.TypeError }

// UnknownEvent is an unrecognized frame, kept opaque for forward
// compatibility.
type UnknownEvent struct {
	Type string
	Raw  json.RawMessage
}

func (e UnknownEvent) eventType() string { return e.Type }

// ConnectRequest configures a live coaching session.
type ConnectRequest struct {
	URL               string
	APIKey            string
	Model             string
	SystemInstruction string
	Voice             string
	AudioIn           protocol.AudioFormat
	AudioOut          protocol.AudioFormat
	Tools             []protocol.ToolDeclaration
	Logger            *slog.Logger
}

// Session is one live duplex channel. There is at most one per client.
type Session struct {
	conn   *websocket.Conn
	logger *slog.Logger

	events chan Event
	done   chan struct{}

	writeMu   sync.Mutex
	closeOnce sync.Once
	closed    atomic.Bool

	errMu sync.Mutex
	err   error
}

// Connect dials the service, performs the setup handshake and starts the
// read loop. It does not retry: a failed session is re-created by the user,
// never automatically.
func Connect(ctx context.Context, req *ConnectRequest) (*Session, error) {
	if req == nil {
		return nil, coach.NewChannelError("connect request must not be nil", nil)
	}
	wsURL, err := websocketURL(req.URL)
	if err != nil {
		return nil, err
	}
	logger := req.Logger
	if logger == nil {
		logger = slog.Default()
	}

	headers := make(http.Header)
	if req.APIKey != "" {
		headers.Set("Authorization", "Bearer "+req.APIKey)
	}

	dialCtx := ctx
	var cancel context.CancelFunc
	if _, hasDeadline := ctx.Deadline(); !hasDeadline {
		dialCtx, cancel = context.WithTimeout(ctx, defaultConnectTimeout)
		defer cancel()
	}

	conn, resp, err := websocket.DefaultDialer.DialContext(dialCtx, wsURL, headers)
	if err != nil {
		if resp != nil {
			return nil, coach.NewChannelError(fmt.Sprintf("websocket dial failed (status %d)", resp.StatusCode), err)
		}
		return nil, coach.NewChannelError("websocket dial failed", err)
	}

	setup := protocol.ClientSetup{
		Type:              protocol.TypeSetup,
		ProtocolVersion:   protocol.ProtocolVersion1,
		Model:             req.Model,
		SystemInstruction: req.SystemInstruction,
		ResponseModality:  protocol.ModalityAudio,
		Voice:             req.Voice,
		AudioIn:           req.AudioIn,
		AudioOut:          req.AudioOut,
		Tools:             req.Tools,
	}
	if err := conn.WriteJSON(setup); err != nil {
		_ = conn.Close()
		return nil, coach.NewChannelError("send setup", err)
	}

	_ = conn.SetReadDeadline(time.Now().Add(defaultConnectTimeout))
	messageType, payload, err := conn.ReadMessage()
	if err != nil {
		_ = conn.Close()
		return nil, coach.NewChannelError("read setup_ack", err)
	}
	_ = conn.SetReadDeadline(time.Time{})
	if messageType != websocket.TextMessage {
		_ = conn.Close()
		return nil, coach.NewChannelError(fmt.Sprintf("unexpected first frame type %d", messageType), nil)
	}

	first, err := decodeServerFrame(payload)
	if err != nil {
		_ = conn.Close()
		return nil, err
	}
	switch e := first.(type) {
	case setupAckEvent:
		session := &Session{
			conn:   conn,
			logger: logger,
			events: make(chan Event, 256),
			done:   make(chan struct{}),
		}
		logger.Debug("live session established", "session_id", e.sessionID)
		go session.readLoop()
		return session, nil
	case ErrorEvent:
		_ = conn.Close()
		return nil, e.Err
	default:
		_ = conn.Close()
		return nil, coach.NewChannelError(fmt.Sprintf("unexpected first frame %q", first.eventType()), nil)
	}
}

// Events yields inbound session events.
func (s *Session) Events() <-chan Event {
	if s == nil {
		return nil
	}
	return s.events
}

// SendChunk sends one captured media chunk. Fire-and-forget: chunks of the
// same kind are written in call order, no per-chunk acknowledgement.
func (s *Session) SendChunk(chunk coach.MediaChunk) error {
	if s == nil {
		return coach.NewChannelError("session must not be nil", nil)
	}
	frame := protocol.ClientMediaChunk{
		Type:     protocol.TypeMediaChunk,
		Kind:     string(chunk.Kind),
		MimeType: chunk.MIMEType,
		Data:     pcm.ToTransportText(chunk.Data),
	}
	return s.sendJSON(frame)
}

// AcknowledgeToolCall confirms a tool call once its report has been folded
// into local state. Callers must fold first, then acknowledge.
func (s *Session) AcknowledgeToolCall(id, name string) error {
	if s == nil {
		return coach.NewChannelError("session must not be nil", nil)
	}
	return s.sendJSON(protocol.ClientToolResponse{
		Type:   protocol.TypeToolResponse,
		ID:     strings.TrimSpace(id),
		Name:   strings.TrimSpace(name),
		Result: "ok",
	})
}

func (s *Session) sendJSON(v any) error {
	if s.closed.Load() {
		return coach.NewChannelError("live session is closed", nil)
	}
	s.writeMu.Lock()
	defer s.writeMu.Unlock()
	return s.conn.WriteJSON(v)
}

// Close closes the websocket session. Idempotent: closing twice neither
// fails nor sends duplicate close frames.
func (s *Session) Close() error {
	if s == nil {
		return nil
	}
	s.closeOnce.Do(func() {
		s.closed.Store(true)
		s.writeMu.Lock()
		_ = s.conn.WriteControl(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""), time.Now().Add(2*time.Second))
		s.writeMu.Unlock()
		_ = s.conn.Close()
	})
	<-s.done
	return nil
}

// Closed reports whether Close has been called or the channel has ended.
func (s *Session) Closed() bool {
	if s == nil {
		return true
	}
	return s.closed.Load()
}

// Err returns the terminal session error, if any, once the session ends.
func (s *Session) Err() error {
	if s == nil {
		return nil
	}
	<-s.done
	s.errMu.Lock()
	defer s.errMu.Unlock()
	return s.err
}

func (s *Session) setErr(err error) {
	if err == nil {
		return
	}
	s.errMu.Lock()
	defer s.errMu.Unlock()
	if s.err == nil {
		s.err = err
	}
}

func (s *Session) readLoop() {
	defer close(s.done)
	defer close(s.events)
	defer s.closed.Store(true)

	for {
		messageType, data, err := s.conn.ReadMessage()
		if err != nil {
			if websocket.IsCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) || s.closed.Load() {
				return
			}
			s.setErr(coach.NewChannelError("read frame", err))
			return
		}
		if messageType != websocket.TextMessage {
			continue
		}

		event, err := decodeServerFrame(data)
		if err != nil {
			s.setErr(err)
			return
		}
		switch e := event.(type) {
		case setupAckEvent:
			// Duplicate ack mid-stream; nothing to do.
		case ErrorEvent:
			s.setErr(e.Err)
			s.emit(e)
		case UnknownEvent:
			s.logger.Debug("ignoring unknown live frame", "type", e.Type)
			s.emit(e)
		default:
			s.emit(event)
		}
	}
}

func (s *Session) emit(event Event) {
	if event == nil {
		return
	}
	select {
	case s.events <- event:
	default:
		// Avoid deadlocking the read loop if the consumer stops draining.
	}
}

// setupAckEvent never leaves this package; the handshake consumes it.
type setupAckEvent struct {
	sessionID string
}

func (setupAckEvent) eventType() string { return protocol.TypeSetupAck }

func decodeServerFrame(data []byte) (Event, error) {
	var envelope struct {
		Type string `json:"type"`
	}
	if err := json.Unmarshal(data, &envelope); err != nil {
		return nil, coach.NewChannelError("decode frame envelope", err)
	}
	typ := strings.TrimSpace(envelope.Type)
	if typ == "" {
		return nil, coach.NewChannelError("frame missing type", nil)
	}

	switch typ {
	case protocol.TypeSetupAck:
		var ack protocol.ServerSetupAck
		if err := json.Unmarshal(data, &ack); err != nil {
			return nil, coach.NewChannelError("decode setup_ack", err)
		}
		return setupAckEvent{sessionID: ack.SessionID}, nil
	case protocol.TypeAudio:
		var frame protocol.ServerAudio
		if err := json.Unmarshal(data, &frame); err != nil {
			return nil, coach.NewChannelError("decode audio frame", err)
		}
		audio, err := pcm.FromTransportText(frame.Data)
		if err != nil {
			return nil, coach.NewChannelError("decode audio payload", err)
		}
		return AudioEvent{Data: audio}, nil
	case protocol.TypeInterrupted:
		var frame protocol.ServerInterrupted
		if err := json.Unmarshal(data, &frame); err != nil {
			return nil, coach.NewChannelError("decode interrupted frame", err)
		}
		return InterruptedEvent{Reason: frame.Reason}, nil
	case protocol.TypeToolCall:
		var call protocol.ServerToolCall
		if err := json.Unmarshal(data, &call); err != nil {
			return nil, coach.NewChannelError("decode tool_call frame", err)
		}
		return ToolCallEvent{ID: call.ID, Name: call.Name, Args: call.Args}, nil
	case protocol.TypeError:
		var frame protocol.ServerError
		if err := json.Unmarshal(data, &frame); err != nil {
			return nil, coach.NewChannelError("decode error frame", err)
		}
		return ErrorEvent{Err: &coach.Error{
			Type:    coach.ErrChannel,
			Message: strings.TrimSpace(frame.Message),
			Code:    strings.TrimSpace(frame.Code),
		}}, nil
	default:
		return UnknownEvent{Type: typ, Raw: append(json.RawMessage(nil), data...)}, nil
	}
}

func websocketURL(raw string) (string, error) {
	u, err := url.Parse(strings.TrimSpace(raw))
	if err != nil {
		return "", coach.NewChannelError("invalid service URL", err)
	}
	switch strings.ToLower(u.Scheme) {
	case "http":
		u.Scheme = "ws"
	case "https":
		u.Scheme = "wss"
	case "ws", "wss":
		// already a websocket scheme.
	default:
		return "", coach.NewChannelError("service URL must use http(s) or ws(s)", nil)
	}
	return u.String(), nil
}
