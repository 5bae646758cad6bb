package clipboard

import (
	"fmt"
	"log/slog"
	"runtime/debug"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
)

const (
	writeWait  = 10 * time.Second
	pongWait   = 60 * time.Second
	pingPeriod = (pongWait * 9) / 10
)

type connState int32

const (
	stateConnecting connState = iota
	stateOpen
	stateClosed
)

func (s connState) String() string {
	switch s {
	case stateConnecting:
		return "connecting"
	case stateOpen:
		return "open"
	case stateClosed:
		return "closed"
	}
	return fmt.Sprintf("connState(%d)", int32(s))
}

// outFrame is an encoded event waiting to be written. Every frame of a kind carries the complete
// state for that kind, so a later frame of the same kind makes an earlier one redundant.
type outFrame struct {
	kind string
	data []byte
}

// Conn is one client channel. Outbound frames go through a bounded queue drained by a single
// writer goroutine, so queueing never waits on the network.
type Conn struct {
	id        string
	ws        *websocket.Conn
	mu        sync.Mutex
	queue     []outFrame
	queueSize int
	wake      chan struct{}
	state     atomic.Int32
	done      chan struct{}
	closeOnce sync.Once
}

func newConn(ws *websocket.Conn, queueSize int) *Conn {
	return &Conn{
		id:        uuid.NewString(),
		ws:        ws,
		queueSize: queueSize,
		wake:      make(chan struct{}, 1),
		done:      make(chan struct{}),
	}
}

func (c *Conn) ID() string {
	return c.id
}

func (c *Conn) State() string {
	return connState(c.state.Load()).String()
}

// Open reports whether frames may be queued for this connection.
func (c *Conn) Open() bool {
	return connState(c.state.Load()) == stateOpen
}

func (c *Conn) markOpen() bool {
	return c.state.CompareAndSwap(int32(stateConnecting), int32(stateOpen))
}

// enqueue queues a frame without blocking. It returns false when the connection is not open.
// When the queue is full the oldest frame that a newer one supersedes is discarded to make room,
// and displaced reports that it happened; the newest state of each kind is never dropped.
func (c *Conn) enqueue(kind string, data []byte) (queued bool, displaced bool) {
	if !c.Open() {
		return false, false
	}
	c.mu.Lock()
	select {
	case <-c.done:
		c.mu.Unlock()
		return false, false
	default:
	}
	if len(c.queue) >= c.queueSize {
		if i := c.supersededIndex(kind); i >= 0 {
			c.queue = append(c.queue[:i], c.queue[i+1:]...)
			displaced = true
		}
	}
	// with no superseded frame the queue holds at most one frame per kind, so it may exceed
	// queueSize by the number of event kinds
	c.queue = append(c.queue, outFrame{kind: kind, data: data})
	c.mu.Unlock()

	select {
	case c.wake <- struct{}{}:
	default:
	}
	return true, displaced
}

// supersededIndex returns the oldest queued frame that is followed by a frame of the same kind,
// counting an incoming frame of the given kind, or -1.
func (c *Conn) supersededIndex(incoming string) int {
	for i, f := range c.queue {
		if f.kind == incoming {
			return i
		}
		for _, later := range c.queue[i+1:] {
			if later.kind == f.kind {
				return i
			}
		}
	}
	return -1
}

// takeQueued removes and returns everything queued so far, oldest first.
func (c *Conn) takeQueued() []outFrame {
	c.mu.Lock()
	defer c.mu.Unlock()
	q := c.queue
	c.queue = nil
	return q
}

// close moves the connection to its terminal state and stops the writer. Safe to call many times.
func (c *Conn) close() {
	c.closeOnce.Do(func() {
		c.state.Store(int32(stateClosed))
		close(c.done)
	})
}

// run serves the connection until either side goes away or close is called; Server.Close relies
// on the latter at shutdown. onMessage is called for every inbound frame from the reading
// goroutine; an error it returns is logged and the frame dropped.
func (c *Conn) run(onMessage func(*Conn, []byte) error) {
	wg := new(sync.WaitGroup)

	wg.Add(1)
	go func() {
		defer wg.Done()
		defer c.close()
		c.readLoop(onMessage)
	}()

	wg.Add(1)
	go func() {
		defer wg.Done()
		defer c.ws.Close()
		c.writeLoop()
	}()

	wg.Wait()
}

func (c *Conn) readLoop(onMessage func(*Conn, []byte) error) {
	_ = c.ws.SetReadDeadline(time.Now().Add(pongWait))
	c.ws.SetPongHandler(func(string) error {
		return c.ws.SetReadDeadline(time.Now().Add(pongWait))
	})
	for {
		_, raw, err := c.ws.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway, websocket.CloseNoStatusReceived) {
				slog.Warn("channel read failed", "conn", c.id, "err", err)
			} else {
				slog.Debug("channel closed", "conn", c.id, "err", err)
			}
			return
		}
		if err := c.dispatch(onMessage, raw); err != nil {
			slog.Warn("dropped channel message", "conn", c.id, "err", err)
		}
	}
}

func (c *Conn) dispatch(onMessage func(*Conn, []byte) error, raw []byte) (err error) {
	defer func() {
		if v := recover(); v != nil {
			slog.Error("recovered from panic in message handler", "conn", c.id, "panic", v, "stack", string(debug.Stack()))
			err = fmt.Errorf("message handler panicked: %v", v)
		}
	}()
	return onMessage(c, raw)
}

func (c *Conn) writeLoop() {
	t := time.NewTicker(pingPeriod)
	defer t.Stop()
	for {
		select {
		case <-c.wake:
			for _, f := range c.takeQueued() {
				_ = c.ws.SetWriteDeadline(time.Now().Add(writeWait))
				if err := c.ws.WriteMessage(websocket.TextMessage, f.data); err != nil {
					slog.Debug("channel write failed", "conn", c.id, "err", err)
					c.close()
					return
				}
			}
		case <-t.C:
			_ = c.ws.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.ws.WriteMessage(websocket.PingMessage, nil); err != nil {
				slog.Debug("channel ping failed", "conn", c.id, "err", err)
				c.close()
				return
			}
		case <-c.done:
			_ = c.ws.WriteControl(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.CloseGoingAway, ""), time.Now().Add(writeWait))
			return
		}
	}
}
