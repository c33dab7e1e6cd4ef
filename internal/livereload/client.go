package livereload

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"

	ws "github.com/gorilla/websocket"
)

// Errors returned by Send.
var (
	ErrClientClosed   = errors.New("client is closed")
	ErrSendBufferFull = errors.New("send buffer full")
)

// ClientOptions configures a connected page.
type ClientOptions struct {
	WriteTimeout   time.Duration
	PingInterval   time.Duration
	ReadTimeout    time.Duration
	MaxMessageSize int64
	BufferSize     int
}

// DefaultClientOptions returns sensible defaults for a page connection.
func DefaultClientOptions() ClientOptions {
	return ClientOptions{
		WriteTimeout:   10 * time.Second,
		PingInterval:   15 * time.Second,
		ReadTimeout:    60 * time.Second,
		MaxMessageSize: 64 * 1024,
		BufferSize:     16,
	}
}

// Client is one websocket connection from a page. Only the write pump writes
// data frames; everything else goes through Send.
type Client struct {
	ctx      context.Context
	cancel   context.CancelFunc
	conn     *ws.Conn
	options  ClientOptions
	sendChan chan []byte
	logger   *slog.Logger
	mutex    sync.RWMutex
	closed   bool
}

func newClient(ctx context.Context, conn *ws.Conn, options ClientOptions, logger *slog.Logger) *Client {
	ctx, cancel := context.WithCancel(ctx)

	return &Client{
		ctx:      ctx,
		cancel:   cancel,
		conn:     conn,
		options:  options,
		sendChan: make(chan []byte, options.BufferSize),
		logger:   logger,
	}
}

// Send queues message without blocking.
func (c *Client) Send(ctx context.Context, message []byte) error {
	c.mutex.RLock()
	defer c.mutex.RUnlock()

	if c.closed {
		return ErrClientClosed
	}

	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-c.ctx.Done():
		return ErrClientClosed
	case c.sendChan <- message:
		return nil
	default:
		return ErrSendBufferFull
	}
}

// Close sends a going-away close frame and closes the connection. It is safe
// to call more than once.
func (c *Client) Close() error {
	c.mutex.Lock()
	if c.closed {
		c.mutex.Unlock()
		return nil
	}
	c.closed = true
	c.mutex.Unlock()

	c.cancel()

	deadline := time.Now().Add(c.options.WriteTimeout)
	_ = c.conn.WriteControl(ws.CloseMessage, ws.FormatCloseMessage(ws.CloseGoingAway, ""), deadline)

	return c.conn.Close()
}

// IsClosed returns true if the client has been closed.
func (c *Client) IsClosed() bool {
	c.mutex.RLock()
	defer c.mutex.RUnlock()
	return c.closed
}

// run blocks until the connection ends.
func (c *Client) run() {
	go c.writePump()
	c.readPump()
}

func (c *Client) readPump() {
	defer c.Close()

	c.conn.SetReadLimit(c.options.MaxMessageSize)
	c.conn.SetReadDeadline(time.Now().Add(c.options.ReadTimeout))
	c.conn.SetPongHandler(func(string) error {
		c.conn.SetReadDeadline(time.Now().Add(c.options.ReadTimeout))
		return nil
	})

	for {
		messageType, message, err := c.conn.ReadMessage()
		if err != nil {
			if ws.IsUnexpectedCloseError(err, ws.CloseGoingAway, ws.CloseNormalClosure) {
				c.logger.Debug("live reload client closed", slog.String("error", err.Error()))
			}
			return
		}

		if messageType != ws.TextMessage {
			continue
		}

		response, err := handleMessage(message)
		if err != nil {
			c.logger.Warn("failed to encode live reload response", slog.String("error", err.Error()))
			continue
		}
		if response == nil {
			continue
		}

		if err := c.Send(c.ctx, response); err != nil {
			return
		}
	}
}

func (c *Client) writePump() {
	ticker := time.NewTicker(c.options.PingInterval)
	defer ticker.Stop()

	for {
		select {
		case <-c.ctx.Done():
			return
		case message := <-c.sendChan:
			c.conn.SetWriteDeadline(time.Now().Add(c.options.WriteTimeout))
			if err := c.conn.WriteMessage(ws.TextMessage, message); err != nil {
				c.Close()
				return
			}
		case <-ticker.C:
			c.conn.SetWriteDeadline(time.Now().Add(c.options.WriteTimeout))
			if err := c.conn.WriteMessage(ws.PingMessage, nil); err != nil {
				c.Close()
				return
			}
		}
	}
}
