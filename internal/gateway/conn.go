package gateway

import (
	"context"
	"encoding/json"
	"sync"
	"sync/atomic"
	"time"

	"go.uber.org/zap"
	ws "nhooyr.io/websocket"

	"uppy/chat/internal/auth"
	"uppy/chat/internal/chat"
	"uppy/chat/internal/rooms"
)

const (
	writeTimeout = 10 * time.Second
	// flushTimeout bounds how long a going-away close waits for queued frames.
	flushTimeout = 2 * time.Second
)

// Conn is one authenticated websocket. It satisfies chat.Conn.
type Conn struct {
	id       string
	identity auth.Identity
	ws       *ws.Conn
	logger   *zap.Logger

	ctx    context.Context
	cancel context.CancelFunc
	outbox chan []byte

	closeOnce sync.Once
	closed    atomic.Bool

	// busy is held by the read loop while an event is dispatched.
	busy sync.Mutex
	// stopping refuses further events; guarded by busy
	stopping bool

	// rooms joined through this connection; touched only by the read loop
	joined map[string]struct{}
	state  lifecycle
}

func (c *Conn) ID() string              { return c.id }
func (c *Conn) Identity() auth.Identity { return c.identity }
func (c *Conn) State() State            { return c.state.Current() }

// Send enqueues ev without blocking. A full outbox drops the connection.
func (c *Conn) Send(ev rooms.Event) {
	b, err := json.Marshal(ev)
	if err != nil {
		c.logger.Error("encode event", zap.String("event", ev.Name), zap.Error(err))
		return
	}
	if c.closed.Load() {
		return
	}
	select {
	case c.outbox <- b:
	default:
		slowConsumers.Inc()
		c.logger.Warn("outbox full, dropping slow consumer", zap.String("event", ev.Name))
		c.close(ws.StatusPolicyViolation, "slow consumer", 0)
	}
}

func (c *Conn) sendError(message string) {
	c.Send(rooms.Event{Name: chat.EventError, Data: errorPayload{Message: message}})
}

// writePump drains the outbox until the connection context ends.
func (c *Conn) writePump() {
	for {
		select {
		case <-c.ctx.Done():
			return
		case b := <-c.outbox:
			ctx, cancel := context.WithTimeout(c.ctx, writeTimeout)
			err := c.ws.Write(ctx, ws.MessageText, b)
			cancel()
			if err != nil {
				c.logger.Debug("write failed", zap.Error(err))
				c.close(ws.StatusInternalError, "write failed", 0)
				return
			}
		}
	}
}

// beginDispatch reports whether an event may run now. On true the caller
// must call endDispatch once the event has been handled.
func (c *Conn) beginDispatch() bool {
	c.busy.Lock()
	if c.stopping {
		c.busy.Unlock()
		return false
	}
	return true
}

func (c *Conn) endDispatch() { c.busy.Unlock() }

// stopDispatch waits for the event in flight, if any, and refuses new ones.
func (c *Conn) stopDispatch() {
	c.busy.Lock()
	c.stopping = true
	c.busy.Unlock()
}

// close starts the close handshake once without blocking the caller. Frames
// already queued get up to flush to reach the peer first. The connection
// context is left alone; the read loop's exit path cancels it.
func (c *Conn) close(code ws.StatusCode, reason string, flush time.Duration) {
	c.closeOnce.Do(func() {
		c.closed.Store(true)
		go func() {
			c.waitFlushed(flush)
			if c.ws != nil {
				_ = c.ws.Close(code, reason)
			}
		}()
	})
}

func (c *Conn) waitFlushed(limit time.Duration) {
	if limit <= 0 {
		return
	}
	deadline := time.NewTimer(limit)
	defer deadline.Stop()
	tick := time.NewTicker(10 * time.Millisecond)
	defer tick.Stop()
	for len(c.outbox) > 0 {
		select {
		case <-deadline.C:
			return
		case <-c.ctx.Done():
			return
		case <-tick.C:
		}
	}
}
