package reconcile

import (
	"errors"
	"fmt"
	"log"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"realtime-service/internal/event"
	"realtime-service/internal/wire"
)

var ErrNotConnected = errors.New("room socket not connected")

type LinkState int

const (
	LinkDown LinkState = iota
	LinkUp
)

func (s LinkState) String() string {
	if s == LinkUp {
		return "up"
	}
	return "down"
}

// Rooms is the client side of the room socket.
type Rooms interface {
	Join(postID string) error
	Leave(postID string) error
	Relay(postID string, ev event.FanOutEvent) error
	Events() <-chan event.FanOutEvent
	Status() <-chan LinkState
	Close() error
}

// SocketClient keeps one room socket open, redialing with backoff after a
// drop. Memberships are not restored here; the server forgets them on
// disconnect and the owner rejoins on LinkUp.
type SocketClient struct {
	url    string
	header http.Header
	dialer websocket.Dialer

	events chan event.FanOutEvent
	status chan LinkState

	mu     sync.RWMutex
	conn   *websocket.Conn
	connID string

	writeMu sync.Mutex

	stop      chan struct{}
	done      chan struct{}
	closeOnce sync.Once
}

func DialSocket(url, token string) *SocketClient {
	h := http.Header{}
	if token != "" {
		h.Set("Authorization", "Bearer "+token)
	}
	c := &SocketClient{
		url:    url,
		header: h,
		dialer: websocket.Dialer{HandshakeTimeout: 5 * time.Second},
		events: make(chan event.FanOutEvent, 64),
		status: make(chan LinkState, 8),
		stop:   make(chan struct{}),
		done:   make(chan struct{}),
	}
	go c.run()
	return c
}

func (c *SocketClient) Events() <-chan event.FanOutEvent { return c.events }

func (c *SocketClient) Status() <-chan LinkState { return c.status }

// ConnectionID is the id the server assigned in its hello frame.
func (c *SocketClient) ConnectionID() string {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.connID
}

func (c *SocketClient) Join(postID string) error  { return c.write(wire.Join(postID)) }
func (c *SocketClient) Leave(postID string) error { return c.write(wire.Leave(postID)) }

func (c *SocketClient) Relay(postID string, ev event.FanOutEvent) error {
	return c.write(wire.Relay(postID, ev))
}

func (c *SocketClient) write(f wire.Frame) error {
	c.mu.RLock()
	conn := c.conn
	c.mu.RUnlock()
	if conn == nil {
		return ErrNotConnected
	}
	b, err := wire.Encode(f)
	if err != nil {
		return err
	}
	c.writeMu.Lock()
	defer c.writeMu.Unlock()
	_ = conn.SetWriteDeadline(time.Now().Add(5 * time.Second))
	if err := conn.WriteMessage(websocket.TextMessage, b); err != nil {
		return fmt.Errorf("%s %s: %w", f.Op, f.PostID, err)
	}
	return nil
}

// Disconnect drops the current socket; the run loop redials.
func (c *SocketClient) Disconnect() {
	c.mu.Lock()
	conn := c.conn
	c.conn = nil
	c.mu.Unlock()
	if conn != nil {
		_ = conn.Close()
	}
}

func (c *SocketClient) Close() error {
	c.closeOnce.Do(func() {
		close(c.stop)
		c.Disconnect()
		<-c.done
	})
	return nil
}

func (c *SocketClient) run() {
	defer close(c.done)
	defer close(c.events)

	backoff := 200 * time.Millisecond
	for {
		select {
		case <-c.stop:
			return
		default:
		}

		up, err := c.connectAndReadLoop()
		if up {
			c.notify(LinkDown)
			backoff = 200 * time.Millisecond
		}
		if err != nil {
			log.Printf("[Socket] %s: %v", c.url, err)
		}
		select {
		case <-c.stop:
			return
		case <-time.After(backoff):
		}
		if backoff < 5*time.Second {
			backoff *= 2
			if backoff > 5*time.Second {
				backoff = 5 * time.Second
			}
		}
	}
}

// connectAndReadLoop reports whether the link came up before it failed.
func (c *SocketClient) connectAndReadLoop() (bool, error) {
	conn, resp, err := c.dialer.Dial(c.url, c.header)
	if err != nil {
		return false, err
	}
	if resp != nil && resp.Body != nil {
		_ = resp.Body.Close()
	}
	defer conn.Close()

	_ = conn.SetReadDeadline(time.Now().Add(10 * time.Second))
	_, msg, err := conn.ReadMessage()
	if err != nil {
		return false, err
	}
	hello, err := wire.DecodeServer(msg)
	if err != nil || hello.Op != wire.OpHello {
		return false, fmt.Errorf("expected hello frame: %v", err)
	}

	c.mu.Lock()
	c.conn = conn
	c.connID = hello.ConnectionID
	c.mu.Unlock()
	defer c.Disconnect()
	c.notify(LinkUp)

	const idle = 60 * time.Second
	conn.SetPingHandler(func(data string) error {
		_ = conn.SetReadDeadline(time.Now().Add(idle))
		return conn.WriteControl(websocket.PongMessage, []byte(data), time.Now().Add(5*time.Second))
	})
	for {
		_ = conn.SetReadDeadline(time.Now().Add(idle))
		_, msg, err := conn.ReadMessage()
		if err != nil {
			select {
			case <-c.stop:
				return true, nil
			default:
				return true, err
			}
		}
		f, err := wire.DecodeServer(msg)
		if err != nil || f.Op != wire.OpEvent {
			continue
		}
		select {
		case c.events <- *f.Event:
		case <-c.stop:
			return true, nil
		}
	}
}

func (c *SocketClient) notify(s LinkState) {
	select {
	case c.status <- s:
	case <-c.stop:
	}
}
