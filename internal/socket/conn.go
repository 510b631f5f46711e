package socket

import (
	"sync"
	"time"

	"github.com/gorilla/websocket"
)

// conn is one websocket peer. It implements room.Sink: Send never blocks and
// frames are written by a single writer goroutine.
type conn struct {
	id   string
	user string
	ws   *websocket.Conn
	send chan []byte

	done      chan struct{}
	closeOnce sync.Once
}

func newConn(id, user string, ws *websocket.Conn, buffer int) *conn {
	return &conn{
		id:   id,
		user: user,
		ws:   ws,
		send: make(chan []byte, buffer),
		done: make(chan struct{}),
	}
}

func (c *conn) Send(msg []byte) bool {
	select {
	case <-c.done:
		return false
	default:
	}
	select {
	case c.send <- msg:
		return true
	default:
		return false
	}
}

// Close asks the writer to send a close frame and stop.
func (c *conn) Close() error {
	c.closeOnce.Do(func() { close(c.done) })
	return nil
}

func (c *conn) writePump(writeTimeout, pingInterval time.Duration) {
	ticker := time.NewTicker(pingInterval)
	defer func() {
		ticker.Stop()
		_ = c.ws.Close()
	}()

	for {
		select {
		case msg := <-c.send:
			_ = c.ws.SetWriteDeadline(time.Now().Add(writeTimeout))
			if err := c.ws.WriteMessage(websocket.TextMessage, msg); err != nil {
				_ = c.Close()
				return
			}
		case <-ticker.C:
			if err := c.ws.WriteControl(websocket.PingMessage, nil, time.Now().Add(writeTimeout)); err != nil {
				_ = c.Close()
				return
			}
		case <-c.done:
			_ = c.ws.WriteControl(websocket.CloseMessage,
				websocket.FormatCloseMessage(websocket.CloseGoingAway, "bye"),
				time.Now().Add(writeTimeout))
			return
		}
	}
}
