package ws

import (
	"errors"
	"sync"
	"time"

	"github.com/gorilla/websocket"
)

const (
	writeWait = 10 * time.Second
)

var errTransportClosed = errors.New("transport closed")

// Transport is the outbound half of a client connection.
type Transport interface {
	// Send queues data without blocking. It returns false when the frame
	// was dropped because the connection is not writable.
	Send(data []byte) bool

	// Ping requests a liveness probe without blocking.
	Ping() error

	// Close starts closing the connection. It is safe to call repeatedly.
	Close() error
}

// connTransport writes to a gorilla websocket from a single write pump.
type connTransport struct {
	conn      *websocket.Conn
	send      chan []byte
	ping      chan struct{}
	done      chan struct{}
	closeOnce sync.Once
}

func newConnTransport(conn *websocket.Conn, buffer int) *connTransport {
	return &connTransport{
		conn: conn,
		send: make(chan []byte, buffer),
		ping: make(chan struct{}, 1),
		done: make(chan struct{}),
	}
}

func (t *connTransport) Send(data []byte) bool {
	select {
	case <-t.done:
		return false
	default:
	}

	select {
	case t.send <- data:
		return true
	default:
		return false
	}
}

// Ping hands a probe to the write pump. A probe still waiting to be
// written absorbs the new one.
func (t *connTransport) Ping() error {
	select {
	case <-t.done:
		return errTransportClosed
	default:
	}

	select {
	case t.ping <- struct{}{}:
	default:
	}
	return nil
}

func (t *connTransport) Close() error {
	t.closeOnce.Do(func() { close(t.done) })
	return nil
}

func (t *connTransport) writePump() {
	defer t.conn.Close()

	for {
		select {
		case <-t.done:
			t.conn.SetWriteDeadline(time.Now().Add(writeWait))
			t.conn.WriteMessage(websocket.CloseMessage,
				websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))
			return

		case <-t.ping:
			t.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := t.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				t.Close()
				return
			}

		case message := <-t.send:
			t.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := t.conn.WriteMessage(websocket.TextMessage, message); err != nil {
				t.Close()
				return
			}
		}
	}
}
