package switcheo

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/gorilla/websocket"
)

const (
	// writeWait is the time allowed to write a message to the peer.
	writeWait = 10 * time.Second

	// pongWait is the time allowed to read the next pong message from the peer.
	pongWait = 60 * time.Second

	// pingPeriod sends pings to the peer at this interval. Must be less than pongWait.
	pingPeriod = (pongWait * 9) / 10

	// reconnectDelay is the base delay before attempting to reconnect.
	reconnectDelay = 2 * time.Second

	// maxReconnectDelay caps the exponential backoff for reconnection.
	maxReconnectDelay = 60 * time.Second

	handshakeTimeout = 15 * time.Second
)

// Lifecycle events dispatched alongside server events.
const (
	EventConnect    = "connect"
	EventDisconnect = "disconnect"
	EventReconnect  = "reconnect"
	EventError      = "error"
)

// ReasonClientDisconnect is the disconnect reason when Disconnect was called
// locally.
const ReasonClientDisconnect = "io client disconnect"

// StreamClient is an event-stream connection to one channel ("orders",
// "books" or "trades"). Handlers for all events, lifecycle included, run on a
// single goroutine in arrival order.
type StreamClient struct {
	url    string
	logger *slog.Logger

	handlerMu sync.RWMutex
	handlers  map[string][]func([]byte)

	mu     sync.Mutex
	conn   *websocket.Conn
	cancel context.CancelFunc
	done   chan struct{}

	writeMu sync.Mutex
}

// NewStreamClient creates a client for channel under the stream base URL,
// e.g. "wss://ws.switcheo.io/v2".
func NewStreamClient(baseURL, channel string, logger *slog.Logger) *StreamClient {
	return &StreamClient{
		url:      strings.TrimRight(baseURL, "/") + "/" + channel,
		logger:   logger.With(slog.String("component", "stream"), slog.String("channel", channel)),
		handlers: make(map[string][]func([]byte)),
	}
}

// On registers a handler for an event.
func (s *StreamClient) On(event string, handler func(payload []byte)) {
	s.handlerMu.Lock()
	defer s.handlerMu.Unlock()
	s.handlers[event] = append(s.handlers[event], handler)
}

// Emit sends an event with a JSON payload to the server.
func (s *StreamClient) Emit(event string, payload any) error {
	data, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("switcheo/ws: marshal %s: %w", event, err)
	}
	frame, err := json.Marshal(Envelope{Event: event, Data: data})
	if err != nil {
		return fmt.Errorf("switcheo/ws: marshal envelope: %w", err)
	}

	s.mu.Lock()
	conn := s.conn
	s.mu.Unlock()
	if conn == nil {
		return fmt.Errorf("switcheo/ws: emit %s: not connected", event)
	}

	s.writeMu.Lock()
	defer s.writeMu.Unlock()
	conn.SetWriteDeadline(time.Now().Add(writeWait))
	if err := conn.WriteMessage(websocket.TextMessage, frame); err != nil {
		return fmt.Errorf("switcheo/ws: emit %s: %w", event, err)
	}
	return nil
}

// Connect starts the connection loop. It returns immediately; the "connect"
// event fires once the socket is up, and dropped connections are redialed
// with exponential backoff until Disconnect.
func (s *StreamClient) Connect() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.cancel != nil {
		return
	}
	ctx, cancel := context.WithCancel(context.Background())
	s.cancel = cancel
	s.done = make(chan struct{})
	go s.run(ctx, s.done)
}

// Disconnect closes the connection and stops reconnecting. It waits for the
// loop to dispatch its final "disconnect" event, so it must not be called
// from a handler.
func (s *StreamClient) Disconnect() {
	s.mu.Lock()
	cancel, done, conn := s.cancel, s.done, s.conn
	s.cancel = nil
	s.mu.Unlock()

	if cancel == nil {
		return
	}
	cancel()
	if conn != nil {
		s.writeMu.Lock()
		_ = conn.WriteControl(
			websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""),
			time.Now().Add(writeWait),
		)
		s.writeMu.Unlock()
		conn.Close()
	}
	<-done
}

// --------------------------------------------------------------------------
// Internal methods
// --------------------------------------------------------------------------

// run dials, reads until the connection drops, and redials until ctx ends.
func (s *StreamClient) run(ctx context.Context, done chan struct{}) {
	defer close(done)

	delay := reconnectDelay
	attempts := 0
	for {
		conn, err := s.dial(ctx)
		if err != nil {
			if ctx.Err() != nil {
				return
			}
			s.dispatchString(EventError, err.Error())
		} else {
			if attempts > 0 {
				s.dispatch(EventReconnect, nil)
			}
			delay = reconnectDelay
			attempts = 0

			reason := s.readLoop(ctx, conn)
			s.mu.Lock()
			if s.conn == conn {
				s.conn = nil
			}
			s.mu.Unlock()
			conn.Close()

			s.dispatchString(EventDisconnect, reason)
			if ctx.Err() != nil {
				return
			}
		}

		attempts++
		select {
		case <-ctx.Done():
			return
		case <-time.After(delay):
		}
		delay *= 2
		if delay > maxReconnectDelay {
			delay = maxReconnectDelay
		}
	}
}

func (s *StreamClient) dial(ctx context.Context) (*websocket.Conn, error) {
	dialer := websocket.Dialer{HandshakeTimeout: handshakeTimeout}
	conn, _, err := dialer.DialContext(ctx, s.url, nil)
	if err != nil {
		return nil, fmt.Errorf("switcheo/ws: connect %s: %w", s.url, err)
	}

	conn.SetReadDeadline(time.Now().Add(pongWait))
	conn.SetPongHandler(func(string) error {
		conn.SetReadDeadline(time.Now().Add(pongWait))
		return nil
	})

	s.mu.Lock()
	s.conn = conn
	s.mu.Unlock()

	s.logger.Info("stream connected")
	return conn, nil
}

// readLoop dispatches "connect" and then every frame read from conn. It
// returns the disconnect reason.
func (s *StreamClient) readLoop(ctx context.Context, conn *websocket.Conn) string {
	// Disconnect may run between dial and here, before it can see conn;
	// closing on cancel unblocks the read instead of waiting out pongWait.
	stop := context.AfterFunc(ctx, func() { conn.Close() })
	defer stop()
	if ctx.Err() != nil {
		return ReasonClientDisconnect
	}

	pingDone := make(chan struct{})
	defer close(pingDone)
	go s.pingLoop(conn, pingDone)

	s.dispatch(EventConnect, nil)

	for {
		_, message, err := conn.ReadMessage()
		if err != nil {
			if ctx.Err() != nil {
				return ReasonClientDisconnect
			}
			var closeErr *websocket.CloseError
			if errors.As(err, &closeErr) {
				return "io server disconnect"
			}
			s.logger.Warn("stream read failed", slog.String("error", err.Error()))
			return "transport close"
		}
		s.handleMessage(message)
	}
}

// pingLoop sends periodic ping messages to keep the connection alive.
func (s *StreamClient) pingLoop(conn *websocket.Conn, done <-chan struct{}) {
	ticker := time.NewTicker(pingPeriod)
	defer ticker.Stop()

	for {
		select {
		case <-done:
			return
		case <-ticker.C:
			s.writeMu.Lock()
			err := conn.WriteControl(websocket.PingMessage, nil, time.Now().Add(writeWait))
			s.writeMu.Unlock()
			if err != nil {
				return
			}
		}
	}
}

// handleMessage parses an envelope and routes its data to the handlers.
func (s *StreamClient) handleMessage(raw []byte) {
	var env Envelope
	if err := json.Unmarshal(raw, &env); err != nil || env.Event == "" {
		s.logger.Debug("dropping unparseable frame", slog.Int("bytes", len(raw)))
		return
	}
	s.dispatch(env.Event, env.Data)
}

func (s *StreamClient) dispatchString(event, msg string) {
	data, _ := json.Marshal(msg)
	s.dispatch(event, data)
}

func (s *StreamClient) dispatch(event string, payload []byte) {
	s.handlerMu.RLock()
	handlers := s.handlers[event]
	s.handlerMu.RUnlock()

	for _, h := range handlers {
		h(payload)
	}
}
