package websocket

import (
	"sync"
	"time"

	"github.com/gorilla/websocket"
)

const (
	writeWait = 10 * time.Second
	readWait  = 5 * time.Minute
)

// WriteTyped sends a strongly-typed response payload over the WebSocket.
func WriteTyped(conn *websocket.Conn, v interface{}) error {
	conn.SetWriteDeadline(time.Now().Add(writeWait))
	return conn.WriteJSON(v)
}

// ReadMessage reads one raw message. It sets a read deadline.
func ReadMessage(conn *websocket.Conn) ([]byte, error) {
	conn.SetReadDeadline(time.Now().Add(readWait))
	_, raw, err := conn.ReadMessage()
	return raw, err
}

// Outbox serializes writes to one connection. Events come from the read
// loop, the grading controller and notification timers, while a gorilla
// connection allows one concurrent writer.
type Outbox struct {
	conn  *websocket.Conn
	queue chan interface{}
	quit  chan struct{}
	done  chan struct{}
	once  sync.Once
	err   error
}

// NewOutbox creates an Outbox holding up to size pending events.
func NewOutbox(conn *websocket.Conn, size int) *Outbox {
	return &Outbox{
		conn:  conn,
		queue: make(chan interface{}, size),
		quit:  make(chan struct{}),
		done:  make(chan struct{}),
	}
}

// Start writes queued events until Close is called or a write fails.
func (o *Outbox) Start() {
	defer close(o.done)
	for {
		select {
		case <-o.quit:
			o.drain()
			return
		case v := <-o.queue:
			if err := WriteTyped(o.conn, v); err != nil {
				o.err = err
				return
			}
		}
	}
}

// drain flushes events queued before Close.
func (o *Outbox) drain() {
	for {
		select {
		case v := <-o.queue:
			if err := WriteTyped(o.conn, v); err != nil {
				o.err = err
				return
			}
		default:
			return
		}
	}
}

// Send queues v. It reports false when the outbox is closed, the writer has
// failed, or the queue is full.
func (o *Outbox) Send(v interface{}) bool {
	select {
	case <-o.quit:
		return false
	case <-o.done:
		return false
	default:
	}
	select {
	case o.queue <- v:
		return true
	default:
		return false
	}
}

// Close stops the writer after flushing and waits for it. Safe to call more
// than once.
func (o *Outbox) Close() error {
	o.once.Do(func() { close(o.quit) })
	<-o.done
	return o.err
}

// Done is closed when the writer has stopped.
func (o *Outbox) Done() <-chan struct{} { return o.done }
