// ABOUTME: One connected WebSocket client and its request loop
// ABOUTME: A reader goroutine feeds a worker that handles requests in order

package server

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"
	"golang.org/x/net/websocket"

	"github.com/haushaltbuch/moneypilot/internal/metrics"
	"github.com/haushaltbuch/moneypilot/internal/replay"
	"github.com/haushaltbuch/moneypilot/internal/storage"
)

// SessionState tracks a session through its lifetime.
type SessionState int32

// Session states
const (
	StateConnected SessionState = iota
	StateActive
	StateClosing
	StateClosed
)

func (s SessionState) String() string {
	switch s {
	case StateConnected:
		return "connected"
	case StateActive:
		return "active"
	case StateClosing:
		return "closing"
	case StateClosed:
		return "closed"
	default:
		return "unknown"
	}
}

// requestQueueSize bounds how many decoded frames may wait for the worker.
const requestQueueSize = 32

// Session is one client connection.
type Session struct {
	ID    string
	Token string

	conn   *websocket.Conn
	server *Server
	logger *slog.Logger

	ctx    context.Context
	cancel context.CancelFunc

	writeMu sync.Mutex
	stateMu sync.Mutex
	state   SessionState

	closeOnce sync.Once
	done      chan struct{}
}

func newSession(conn *websocket.Conn, srv *Server) *Session {
	ctx, cancel := context.WithCancel(context.Background())
	id := uuid.New().String()
	return &Session{
		ID:     id,
		Token:  uuid.New().String(),
		conn:   conn,
		server: srv,
		logger: srv.logger.With("session_id", id),
		ctx:    ctx,
		cancel: cancel,
		state:  StateConnected,
		done:   make(chan struct{}),
	}
}

// State returns the current state.
func (s *Session) State() SessionState {
	s.stateMu.Lock()
	defer s.stateMu.Unlock()
	return s.state
}

func (s *Session) setState(state SessionState) {
	s.stateMu.Lock()
	defer s.stateMu.Unlock()
	if state > s.state {
		s.state = state
	}
}

// Done is closed when the session has fully ended.
func (s *Session) Done() <-chan struct{} {
	return s.done
}

// run serves the connection until the client goes away or the session is closed.
func (s *Session) run() {
	defer close(s.done)
	defer s.setState(StateClosed)
	defer s.server.replay.Forget(s.Token)
	defer s.cancel()

	s.conn.MaxPayloadBytes = MaxFrameBytes

	hello := HelloPayload{
		Token:   s.Token,
		Status:  s.backendStatus(),
		Backend: string(s.server.backend.Kind()),
	}
	if err := s.writeFrame(Frame{Type: TypeHello, Token: s.Token, Payload: mustJSON(hello)}); err != nil {
		s.logger.Warn("failed to send hello", "error", err)
		return
	}
	s.setState(StateActive)
	s.logger.Debug("session active", "remote", s.remoteAddr())

	queue := make(chan Frame, requestQueueSize)
	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		s.work(queue)
	}()

	s.read(queue)
	close(queue)
	s.setState(StateClosing)
	// Cancel whatever the worker is running; the client is gone.
	s.cancel()
	wg.Wait()
}

// backendStatus pings the backend for the Hello frame.
func (s *Session) backendStatus() string {
	ctx, cancel := context.WithTimeout(s.ctx, readyTimeout)
	defer cancel()
	if err := s.server.backend.Ping(ctx); err != nil {
		s.logger.Warn("backend did not answer ping", "error", err)
		return HelloStatusNoDB
	}
	return HelloStatusReady
}

// read decodes frames until the connection fails. Oversized and malformed
// frames are answered here and never reach the worker.
func (s *Session) read(queue chan<- Frame) {
	for {
		var data []byte
		err := websocket.Message.Receive(s.conn, &data)
		if errors.Is(err, websocket.ErrFrameTooLarge) {
			s.writeError("", &WireError{Code: CodeInvalidRequest, Message: "frame too large"})
			continue
		}
		if err != nil {
			if !errors.Is(err, io.EOF) && s.ctx.Err() == nil && s.State() < StateClosing {
				s.logger.Debug("session read ended", "error", err)
			}
			return
		}

		var frame Frame
		if err := json.Unmarshal(data, &frame); err != nil {
			s.writeError("", &WireError{Code: CodeInvalidRequest, Message: "invalid frame: " + err.Error()})
			continue
		}

		select {
		case queue <- frame:
		case <-s.ctx.Done():
			return
		}
	}
}

// work handles queued requests one at a time.
func (s *Session) work(queue <-chan Frame) {
	for frame := range queue {
		if s.ctx.Err() != nil {
			continue
		}
		s.handle(frame)
	}
}

func (s *Session) handle(frame Frame) {
	msgType := frame.Type
	if msgType == "" {
		s.writeError(frame.RequestID, &WireError{Code: CodeInvalidRequest, Message: "type is required"})
		metrics.Record().Request("", metrics.OutcomeError)
		return
	}
	if frame.Token != "" && frame.Token != s.Token {
		s.writeError(frame.RequestID, &WireError{Code: CodeInvalidToken, Message: "token does not match this connection"})
		metrics.Record().Request(msgType, metrics.OutcomeError)
		return
	}

	replayKey := ""
	if frame.RequestID != "" && isWrite(msgType) {
		replayKey = replay.Key(s.Token, frame.RequestID)
		if payload, ok := s.server.replay.Lookup(replayKey); ok {
			s.logger.Debug("replaying result", "type", msgType, "request_id", frame.RequestID)
			if err := s.writeFrame(Frame{Type: TypeResult, RequestID: frame.RequestID, Payload: payload}); err != nil {
				s.logger.Debug("failed to send result", "error", err)
			}
			metrics.Record().Request(msgType, metrics.OutcomeReplayed)
			return
		}
	}

	ctx, cancel := context.WithTimeout(s.ctx, s.server.requestTimeout)
	defer cancel()

	start := time.Now()
	result, err := s.server.router.Dispatch(ctx, msgType, frame.Payload)
	if err != nil {
		wireErr := toWireError(err)
		s.logger.Debug("request failed",
			"type", msgType,
			"request_id", frame.RequestID,
			"code", wireErr.Code,
			"error", err,
		)
		s.writeError(frame.RequestID, wireErr)
		metrics.Record().Request(msgType, metrics.OutcomeError)
		if storage.CodeOf(err) == storage.CodeConnectionFailed {
			s.server.reportFatal(err)
		}
		return
	}

	s.logger.Debug("request served", "type", msgType, "request_id", frame.RequestID, "duration", time.Since(start))
	payload := mustJSON(result)
	if replayKey != "" {
		s.server.replay.Remember(replayKey, payload)
	}
	if err := s.writeFrame(Frame{Type: TypeResult, RequestID: frame.RequestID, Payload: payload}); err != nil {
		s.logger.Debug("failed to send result", "error", err)
	}
	metrics.Record().Request(msgType, metrics.OutcomeOK)
}

// isWrite reports whether msgType changes stored data.
func isWrite(msgType string) bool {
	switch msgType {
	case TypeStore, TypeStoreMany, TypeDelete, TypeExecute, TypeTransaction:
		return true
	}
	return false
}

func (s *Session) writeFrame(frame Frame) error {
	data, err := json.Marshal(frame)
	if err != nil {
		return err
	}
	s.writeMu.Lock()
	defer s.writeMu.Unlock()
	_ = s.conn.SetWriteDeadline(time.Now().Add(writeTimeout))
	return websocket.Message.Send(s.conn, string(data))
}

func (s *Session) writeError(requestID string, wireErr *WireError) {
	if err := s.writeFrame(Frame{Type: TypeError, RequestID: requestID, Error: wireErr}); err != nil {
		s.logger.Debug("failed to send error", "error", err)
	}
}

// close sends Bye and closes the connection. Safe to call more than once.
func (s *Session) close(reason string) {
	s.closeOnce.Do(func() {
		s.setState(StateClosing)
		if err := s.writeFrame(Frame{Type: TypeBye, Payload: mustJSON(ByePayload{Reason: reason})}); err != nil {
			s.logger.Debug("failed to send bye", "error", err)
		}
		s.cancel()
		_ = s.conn.Close()
	})
}

func (s *Session) remoteAddr() string {
	if req := s.conn.Request(); req != nil {
		return req.RemoteAddr
	}
	return ""
}
