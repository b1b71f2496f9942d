package groupcli

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"github.com/dgnsrekt/titlebot/internal/state"
)

const (
	writeWait = 10 * time.Second

	pongWait   = 60 * time.Second
	pingPeriod = (pongWait * 9) / 10

	// Maximum frame size from the daemon; member pages stay well under
	// this.
	maxMessageSize = 1024 * 1024

	eventBufferSize = 256
)

// Client speaks JSON frames to the telegram-cli bridge daemon over one
// websocket: correlated request/reply for commands, plus an unsolicited
// push stream of live group events fanned out on Events().
type Client struct {
	conn   *websocket.Conn
	logger *zap.Logger

	timeout time.Duration

	writeMu sync.Mutex

	mu      sync.Mutex
	pending map[string]chan frame
	closed  bool

	events chan Event
	done   chan struct{}
}

func Dial(ctx context.Context, addr string, timeout time.Duration, logger *zap.Logger) (*Client, error) {
	conn, _, err := websocket.DefaultDialer.DialContext(ctx, addr, nil)
	if err != nil {
		return nil, fmt.Errorf("dialing cli bridge: %w", err)
	}

	c := &Client{
		conn:    conn,
		logger:  logger,
		timeout: timeout,
		pending: make(map[string]chan frame),
		events:  make(chan Event, eventBufferSize),
		done:    make(chan struct{}),
	}

	go c.readPump()
	go c.pingLoop()

	return c, nil
}

// Events returns the live event stream. The channel closes when the
// connection goes away.
func (c *Client) Events() <-chan Event {
	return c.events
}

// Close tears down the connection and fails all in-flight calls.
func (c *Client) Close() error {
	c.writeMu.Lock()
	_ = c.conn.WriteControl(websocket.CloseMessage,
		websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""),
		time.Now().Add(writeWait))
	c.writeMu.Unlock()
	return c.conn.Close()
}

// call issues one command and waits for its correlated reply.
func (c *Client) call(ctx context.Context, method string, params any, result any) error {
	rawParams, err := json.Marshal(params)
	if err != nil {
		return fmt.Errorf("encoding params: %w", err)
	}

	id := uuid.New().String()
	replyCh := make(chan frame, 1)

	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return ErrClosed
	}
	c.pending[id] = replyCh
	c.mu.Unlock()

	defer func() {
		c.mu.Lock()
		delete(c.pending, id)
		c.mu.Unlock()
	}()

	req := frame{ID: id, Method: method, Params: rawParams}

	c.writeMu.Lock()
	_ = c.conn.SetWriteDeadline(time.Now().Add(writeWait))
	err = c.conn.WriteJSON(&req)
	c.writeMu.Unlock()
	if err != nil {
		return fmt.Errorf("%w: writing %s: %v", ErrTransport, method, err)
	}

	timer := time.NewTimer(c.timeout)
	defer timer.Stop()

	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-c.done:
		return ErrClosed
	case <-timer.C:
		return fmt.Errorf("%w: %s timed out", ErrTransport, method)
	case reply := <-replyCh:
		if reply.Error != "" {
			return fmt.Errorf("cli bridge %s: %s", method, reply.Error)
		}
		if result != nil {
			if err := json.Unmarshal(reply.Result, result); err != nil {
				return fmt.Errorf("decoding %s result: %w", method, err)
			}
		}
		return nil
	}
}

// readPump dispatches inbound frames: replies to their waiting caller,
// events to the event stream. A malformed frame is logged and skipped,
// never fatal.
func (c *Client) readPump() {
	defer c.shutdown()

	c.conn.SetReadLimit(maxMessageSize)
	_ = c.conn.SetReadDeadline(time.Now().Add(pongWait))
	c.conn.SetPongHandler(func(string) error {
		return c.conn.SetReadDeadline(time.Now().Add(pongWait))
	})

	for {
		var f frame
		if err := c.conn.ReadJSON(&f); err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				c.logger.Warn("cli bridge read error", zap.Error(err))
			}
			return
		}

		switch {
		case f.Event != "":
			c.dispatchEvent(f)
		case f.ID != "":
			c.mu.Lock()
			replyCh, ok := c.pending[f.ID]
			c.mu.Unlock()
			if ok {
				replyCh <- f
			} else {
				c.logger.Debug("reply for unknown call", zap.String("id", f.ID))
			}
		default:
			c.logger.Debug("discarding frame without id or event")
		}
	}
}

func (c *Client) dispatchEvent(f frame) {
	ev := Event{Kind: f.Event}

	if len(f.From) > 0 {
		var from state.Member
		if err := json.Unmarshal(f.From, &from); err != nil {
			c.logger.Warn("malformed event sender", zap.Error(err))
			return
		}
		ev.From = &from
	}
	if len(f.To) > 0 {
		var to EventTarget
		if err := json.Unmarshal(f.To, &to); err != nil {
			c.logger.Warn("malformed event target", zap.Error(err))
			return
		}
		ev.To = &to
	}

	select {
	case c.events <- ev:
	default:
		// Listener fell behind; losing a merge event is recoverable,
		// blocking the read pump is not.
		c.logger.Warn("event buffer full, dropping event", zap.String("kind", ev.Kind))
	}
}

func (c *Client) pingLoop() {
	ticker := time.NewTicker(pingPeriod)
	defer ticker.Stop()

	for {
		select {
		case <-c.done:
			return
		case <-ticker.C:
			c.writeMu.Lock()
			err := c.conn.WriteControl(websocket.PingMessage, nil, time.Now().Add(writeWait))
			c.writeMu.Unlock()
			if err != nil {
				c.logger.Debug("ping failed", zap.Error(err))
				return
			}
		}
	}
}

func (c *Client) shutdown() {
	c.mu.Lock()
	c.closed = true
	c.mu.Unlock()

	close(c.done)
	close(c.events)
	_ = c.conn.Close()
}
