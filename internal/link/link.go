// File: internal/link/link.go

// Package link owns the control socket to the browser agent: a single
// websocket carrying JSON text frames. Outbound envelopes are correlated to
// inbound results by id; everything else on the wire is a control frame.
package link

import (
	"context"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	jsoniter "github.com/json-iterator/go"
	"go.uber.org/zap"

	"github.com/nulltrace0/webagentd/api/schemas"
	"github.com/nulltrace0/webagentd/internal/config"
)

var json = jsoniter.ConfigCompatibleWithStandardLibrary

const (
	// Maximum message size allowed from the agent. DOM dumps and screenshots
	// are large.
	maxMessageSize = 8 * 1024 * 1024
	// Buffered outbound frames per connection.
	sendBuffer = 256
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  4096,
	WriteBufferSize: 4096,
	CheckOrigin: func(r *http.Request) bool {
		// The agent extension connects from an extension origin; the daemon
		// binds to loopback so origin checking adds nothing here.
		return true
	},
}

// State describes the agent connection lifecycle.
type State string

const (
	StateDisconnected State = "disconnected"
	StateConnecting   State = "connecting"
	StateReady        State = "ready"
)

// callResult is what a waiting caller receives: either the agent's result
// frame or a transport-level error.
type callResult struct {
	res schemas.Result
	err error
}

// Link manages the single agent connection and correlates calls to results.
type Link struct {
	cfg    config.LinkConfig
	logger *zap.Logger

	mu         sync.Mutex
	sess       *session
	state      State
	pending    map[string]chan callResult
	waitCancel context.CancelFunc
}

// New creates a Link in the disconnected state. The agent attaches later via
// HandleWS.
func New(cfg config.LinkConfig, logger *zap.Logger) *Link {
	return &Link{
		cfg:     cfg,
		logger:  logger.Named("link"),
		state:   StateDisconnected,
		pending: make(map[string]chan callResult),
	}
}

// State returns the current connection state.
func (l *Link) State() State {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.state
}

// Connected reports whether the agent has completed its handshake.
func (l *Link) Connected() bool {
	return l.State() == StateReady
}

// InFlight returns the number of calls currently awaiting a result.
func (l *Link) InFlight() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.pending)
}

// session is one accepted websocket connection with its pumps.
type session struct {
	link *Link
	conn *websocket.Conn
	send chan []byte
	once sync.Once
	done chan struct{}
}

// HandleWS upgrades the request and attaches the agent. A new connection
// replaces any existing one; the old socket is torn down first.
func (l *Link) HandleWS(w http.ResponseWriter, r *http.Request) {
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		l.logger.Error("Failed to upgrade agent websocket", zap.Error(err))
		return
	}

	s := &session{
		link: l,
		conn: conn,
		send: make(chan []byte, sendBuffer),
		done: make(chan struct{}),
	}

	l.mu.Lock()
	old := l.sess
	l.sess = s
	l.state = StateConnecting
	l.mu.Unlock()

	if old != nil {
		l.logger.Warn("Agent reconnected over a live session, replacing it",
			zap.String("remote", conn.RemoteAddr().String()))
		old.close()
	} else {
		l.logger.Info("Agent socket accepted, awaiting handshake",
			zap.String("remote", conn.RemoteAddr().String()))
	}

	go s.writePump()
	go s.readPump()
}

// Call sends one action envelope to the agent and waits for the correlated
// result. timeout <= 0 falls back to the configured call timeout. The returned
// bytes are the result's data payload; action failures, timeouts and transport
// loss all surface as *schemas.Error values.
func (l *Link) Call(ctx context.Context, action schemas.ActionKind, payload map[string]any, timeout time.Duration) ([]byte, error) {
	if timeout <= 0 {
		timeout = l.cfg.CallTimeout
	}

	l.mu.Lock()
	if l.state != StateReady || l.sess == nil {
		l.mu.Unlock()
		return nil, &schemas.Error{Code: schemas.ErrCodeNotConnected, Message: "no browser agent connected"}
	}
	if len(l.pending) >= l.cfg.MaxInFlight {
		l.mu.Unlock()
		return nil, &schemas.Error{Code: schemas.ErrCodeBusy, Message: fmt.Sprintf("%d actions already in flight", l.cfg.MaxInFlight)}
	}

	id := uuid.NewString()
	ch := make(chan callResult, 1)
	l.pending[id] = ch
	s := l.sess
	l.mu.Unlock()

	defer func() {
		l.mu.Lock()
		delete(l.pending, id)
		l.mu.Unlock()
	}()

	frame, err := json.Marshal(schemas.Envelope{ID: id, Action: action, Payload: payload})
	if err != nil {
		return nil, &schemas.Error{Code: schemas.ErrCodeTransport, Message: fmt.Sprintf("marshal envelope: %v", err)}
	}

	select {
	case s.send <- frame:
	case <-s.done:
		return nil, &schemas.Error{Code: schemas.ErrCodeTransport, Message: "agent connection lost"}
	case <-ctx.Done():
		return nil, ctx.Err()
	}

	timer := time.NewTimer(timeout)
	defer timer.Stop()

	select {
	case cr := <-ch:
		if cr.err != nil {
			return nil, cr.err
		}
		if cr.res.Status != schemas.ResultSuccess {
			return nil, &schemas.Error{Code: schemas.ErrCodeAction, Message: cr.res.Error}
		}
		return cr.res.Data, nil
	case <-timer.C:
		l.logger.Warn("Action timed out waiting for agent result",
			zap.String("action_id", id),
			zap.String("action", string(action)),
			zap.Duration("timeout", timeout))
		return nil, &schemas.Error{Code: schemas.ErrCodeActionTimeout, Message: fmt.Sprintf("%s did not complete within %s", action, timeout)}
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

// Close tears down the current session, if any.
func (l *Link) Close() {
	l.mu.Lock()
	s := l.sess
	if l.waitCancel != nil {
		l.waitCancel()
		l.waitCancel = nil
	}
	l.mu.Unlock()
	if s != nil {
		s.close()
	}
}

// markReady transitions to ready after the agent handshake and cancels any
// reconnect wait loop.
func (l *Link) markReady() {
	l.mu.Lock()
	l.state = StateReady
	if l.waitCancel != nil {
		l.waitCancel()
		l.waitCancel = nil
	}
	l.mu.Unlock()
	l.logger.Info("Agent handshake complete, link ready")
}

// detach removes s as the active session, fails every in-flight call and
// starts the reconnect wait loop. No-op if s was already replaced.
func (l *Link) detach(s *session) {
	l.mu.Lock()
	if l.sess != s {
		l.mu.Unlock()
		return
	}
	l.sess = nil
	l.state = StateDisconnected

	orphaned := l.pending
	l.pending = make(map[string]chan callResult)

	var waitCtx context.Context
	waitCtx, l.waitCancel = context.WithCancel(context.Background())
	l.mu.Unlock()

	if n := len(orphaned); n > 0 {
		l.logger.Warn("Agent disconnected with actions in flight", zap.Int("orphaned", n))
	} else {
		l.logger.Info("Agent disconnected")
	}
	for id, ch := range orphaned {
		ch <- callResult{err: &schemas.Error{
			Code:    schemas.ErrCodeTransport,
			Message: fmt.Sprintf("agent disconnected while action %s was in flight", id),
		}}
	}

	go l.awaitReconnect(waitCtx)
}

// awaitReconnect waits through exponentially growing windows for the agent to
// come back. Each window that elapses without a handshake is logged; after the
// last one the link settles into a persistent disconnected warning.
func (l *Link) awaitReconnect(ctx context.Context) {
	for attempt, delay := range l.reconnectDelays() {
		timer := time.NewTimer(delay)
		select {
		case <-ctx.Done():
			timer.Stop()
			return
		case <-timer.C:
		}
		l.logger.Warn("Agent has not reconnected",
			zap.Int("attempt", attempt+1),
			zap.Int("max_attempts", l.cfg.ReconnectMaxAttempts),
			zap.Duration("waited", delay))
	}
	l.logger.Warn("Agent still disconnected after all reconnect windows; tasks will fail until it returns")
}

// reconnectDelays returns the wait windows: base, 2*base, 4*base, ... for the
// configured number of attempts.
func (l *Link) reconnectDelays() []time.Duration {
	delays := make([]time.Duration, l.cfg.ReconnectMaxAttempts)
	for i := range delays {
		delays[i] = l.cfg.ReconnectBase << i
	}
	return delays
}

// dispatchFrame routes one inbound frame: control frames drive the handshake
// and heartbeat, everything else is a correlated action result.
func (l *Link) dispatchFrame(s *session, raw []byte) {
	var frame schemas.Frame
	if err := json.Unmarshal(raw, &frame); err != nil {
		l.logger.Error("Discarding unparseable agent frame", zap.Error(err), zap.Int("bytes", len(raw)))
		return
	}

	if frame.IsControl() {
		switch frame.Type {
		case schemas.FrameConnected:
			l.markReady()
		case schemas.FramePing:
			s.enqueueControl(schemas.FramePong)
		case schemas.FramePong:
			// Heartbeat reply, nothing to do.
		default:
			l.logger.Debug("Ignoring unknown control frame", zap.String("type", frame.Type))
		}
		return
	}

	if frame.ID == "" {
		l.logger.Warn("Discarding agent frame with no id or type")
		return
	}

	l.mu.Lock()
	ch, ok := l.pending[frame.ID]
	if ok {
		delete(l.pending, frame.ID)
	}
	l.mu.Unlock()

	if !ok {
		// Late result for a call that already timed out, or an id we never
		// issued. Either way it has no waiter.
		l.logger.Debug("Dropping result with no pending call", zap.String("action_id", frame.ID))
		return
	}

	ch <- callResult{res: schemas.Result{
		ID:     frame.ID,
		Status: frame.Status,
		Data:   frame.Data,
		Error:  frame.Error,
	}}
}

// enqueueControl queues a control frame without blocking the read pump.
func (s *session) enqueueControl(frameType string) {
	raw, err := json.Marshal(schemas.ControlFrame{Type: frameType})
	if err != nil {
		return
	}
	select {
	case s.send <- raw:
	default:
		s.link.logger.Warn("Send buffer full, dropping control frame", zap.String("type", frameType))
	}
}

// close shuts the connection down exactly once.
func (s *session) close() {
	s.once.Do(func() {
		close(s.done)
		s.conn.Close()
	})
}

// readPump pumps frames from the websocket into the link until the connection
// dies, then detaches the session.
func (s *session) readPump() {
	defer func() {
		s.close()
		s.link.detach(s)
	}()

	s.conn.SetReadLimit(maxMessageSize)
	for {
		_, raw, err := s.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				s.link.logger.Warn("Agent socket read error", zap.Error(err))
			}
			return
		}
		s.link.dispatchFrame(s, raw)
	}
}

// writePump drains the send channel onto the wire and emits the application
// heartbeat ping. The agent answers with a pong control frame.
func (s *session) writePump() {
	ticker := time.NewTicker(s.link.cfg.PingInterval)
	defer func() {
		ticker.Stop()
		s.close()
	}()

	ping, _ := json.Marshal(schemas.ControlFrame{Type: schemas.FramePing})
	for {
		select {
		case <-s.done:
			return
		case raw := <-s.send:
			s.conn.SetWriteDeadline(time.Now().Add(s.link.cfg.WriteTimeout))
			if err := s.conn.WriteMessage(websocket.TextMessage, raw); err != nil {
				s.link.logger.Warn("Agent socket write error", zap.Error(err))
				return
			}
		case <-ticker.C:
			s.conn.SetWriteDeadline(time.Now().Add(s.link.cfg.WriteTimeout))
			if err := s.conn.WriteMessage(websocket.TextMessage, ping); err != nil {
				return
			}
		}
	}
}
