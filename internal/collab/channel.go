package collab

import (
	"context"
	"fmt"
	"sync"

	"github.com/coder/websocket"
)

// CloseInfo describes how a channel ended. WasClean is true only for a
// normal closure (code 1000) completed without transport error.
type CloseInfo struct {
	Code     int
	Reason   string
	WasClean bool
}

// Channel is the duplex wire under the CollaborationHub. Exactly one
// OnMessage/OnClose callback pair is registered before Dial; OnClose fires
// exactly once per successful Dial, regardless of which side closed.
type Channel interface {
	OnMessage(fn func(data []byte))
	OnClose(fn func(info CloseInfo))
	Dial(ctx context.Context, url string) error
	Send(ctx context.Context, data []byte) error
	// Close performs a clean close with the given status code.
	Close(code int, reason string) error
	// Abort drops the connection without a close handshake, surfacing an
	// unclean close to the peer and to OnClose.
	Abort()
}

// ChannelFactory produces a fresh Channel per connection attempt.
type ChannelFactory func() Channel

// WSChannel is the production Channel over a WebSocket.
type WSChannel struct {
	mu        sync.Mutex
	conn      *websocket.Conn
	onMessage func([]byte)
	onClose   func(CloseInfo)
	closed    bool
	sentClean bool
	readCtx   context.Context
	readStop  context.CancelFunc
}

// NewWSChannel returns a Channel speaking WebSocket. Matches the
// ChannelFactory signature.
func NewWSChannel() Channel { return &WSChannel{} }

func (c *WSChannel) OnMessage(fn func(data []byte)) {
	c.mu.Lock()
	c.onMessage = fn
	c.mu.Unlock()
}

func (c *WSChannel) OnClose(fn func(info CloseInfo)) {
	c.mu.Lock()
	c.onClose = fn
	c.mu.Unlock()
}

// Dial connects to the relay and starts the read loop.
func (c *WSChannel) Dial(ctx context.Context, url string) error {
	conn, _, err := websocket.Dial(ctx, url, nil)
	if err != nil {
		return fmt.Errorf("websocket dial %s: %w", url, err)
	}
	conn.SetReadLimit(1024 * 1024)

	readCtx, readStop := context.WithCancel(context.Background())

	c.mu.Lock()
	c.conn = conn
	c.readCtx = readCtx
	c.readStop = readStop
	c.mu.Unlock()

	go c.readLoop(readCtx, conn)
	return nil
}

func (c *WSChannel) readLoop(ctx context.Context, conn *websocket.Conn) {
	for {
		_, data, err := conn.Read(ctx)
		if err != nil {
			c.finish(err)
			return
		}
		c.mu.Lock()
		fn := c.onMessage
		c.mu.Unlock()
		if fn != nil {
			fn(data)
		}
	}
}

// finish reports the close exactly once.
func (c *WSChannel) finish(err error) {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return
	}
	c.closed = true
	fn := c.onClose
	sentClean := c.sentClean
	c.conn = nil
	c.mu.Unlock()

	info := CloseInfo{Code: 1006, Reason: "abnormal closure"}
	if status := websocket.CloseStatus(err); status != -1 {
		info.Code = int(status)
		info.WasClean = status == websocket.StatusNormalClosure
	}
	if sentClean {
		info.Code = int(websocket.StatusNormalClosure)
		info.Reason = "local close"
		info.WasClean = true
	}
	if fn != nil {
		fn(info)
	}
}

// Send writes one text frame.
func (c *WSChannel) Send(ctx context.Context, data []byte) error {
	c.mu.Lock()
	conn := c.conn
	c.mu.Unlock()
	if conn == nil {
		return fmt.Errorf("channel not connected")
	}
	return conn.Write(ctx, websocket.MessageText, data)
}

// Close performs a clean close handshake.
func (c *WSChannel) Close(code int, reason string) error {
	c.mu.Lock()
	conn := c.conn
	stop := c.readStop
	if code == int(websocket.StatusNormalClosure) {
		c.sentClean = true
	}
	c.mu.Unlock()
	if conn == nil {
		return nil
	}
	err := conn.Close(websocket.StatusCode(code), reason)
	if stop != nil {
		stop()
	}
	return err
}

// Abort drops the connection without a handshake.
func (c *WSChannel) Abort() {
	c.mu.Lock()
	conn := c.conn
	stop := c.readStop
	c.mu.Unlock()
	if conn != nil {
		conn.CloseNow()
	}
	if stop != nil {
		stop()
	}
}
