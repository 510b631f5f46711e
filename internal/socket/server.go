package socket

import (
	"log"
	"net/http"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"

	"realtime-service/internal/metrics"
	"realtime-service/internal/room"
	"realtime-service/internal/shared/httpx"
	"realtime-service/internal/wire"
)

type Config struct {
	SendBuffer     int
	PingInterval   time.Duration
	WriteTimeout   time.Duration
	ReadLimit      int64
	AllowedOrigins []string
}

func (c Config) withDefaults() Config {
	if c.SendBuffer <= 0 {
		c.SendBuffer = 32
	}
	if c.PingInterval <= 0 {
		c.PingInterval = 25 * time.Second
	}
	if c.WriteTimeout <= 0 {
		c.WriteTimeout = 5 * time.Second
	}
	if c.ReadLimit <= 0 {
		c.ReadLimit = 64 << 10
	}
	return c
}

// Server is the room broadcast service. Each websocket connection gets an id,
// may join any number of post rooms, and relays comment events to the other
// members of a room.
type Server struct {
	rooms     *room.Manager
	validator *wire.Validator
	upgrader  websocket.Upgrader
	cfg       Config
	newID     func() string
}

func NewServer(rooms *room.Manager, validator *wire.Validator, cfg Config) *Server {
	cfg = cfg.withDefaults()
	s := &Server{
		rooms:     rooms,
		validator: validator,
		cfg:       cfg,
		newID:     uuid.NewString,
	}
	s.upgrader = websocket.Upgrader{
		ReadBufferSize:  4 << 10,
		WriteBufferSize: 4 << 10,
		CheckOrigin:     s.checkOrigin,
	}
	return s
}

func (s *Server) checkOrigin(r *http.Request) bool {
	if len(s.cfg.AllowedOrigins) == 0 {
		return true
	}
	origin := r.Header.Get("Origin")
	if origin == "" {
		return true
	}
	for _, o := range s.cfg.AllowedOrigins {
		if o == origin {
			return true
		}
	}
	return false
}

func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	user, _ := httpx.UserFromCtx(r)
	ws, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		log.Printf("[WS] upgrade failed from %s: %v", r.RemoteAddr, err)
		return
	}

	c := newConn(s.newID(), user, ws, s.cfg.SendBuffer)
	if err := s.rooms.Connect(c.id, c); err != nil {
		log.Printf("[WS] refuse connection: %v", err)
		_ = ws.Close()
		return
	}
	defer func() {
		n := s.rooms.Disconnect(c.id)
		_ = c.Close()
		log.Printf("[WS] disconnected conn=%s user=%s rooms=%d", c.id, c.user, n)
	}()
	log.Printf("[WS] connected conn=%s user=%s", c.id, c.user)

	if hello, err := wire.Encode(wire.Hello(c.id)); err == nil {
		c.Send(hello)
	}
	go c.writePump(s.cfg.WriteTimeout, s.cfg.PingInterval)

	s.readLoop(c)
}

func (s *Server) readLoop(c *conn) {
	pongWait := 2 * s.cfg.PingInterval
	c.ws.SetReadLimit(s.cfg.ReadLimit)
	_ = c.ws.SetReadDeadline(time.Now().Add(pongWait))
	c.ws.SetPongHandler(func(string) error {
		return c.ws.SetReadDeadline(time.Now().Add(pongWait))
	})

	for {
		_, msg, err := c.ws.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				log.Printf("[WS] read conn=%s: %v", c.id, err)
			}
			return
		}
		_ = c.ws.SetReadDeadline(time.Now().Add(pongWait))

		f, err := s.validator.DecodeClient(msg)
		if err != nil {
			metrics.Malformed.WithLabelValues("socket").Inc()
			log.Printf("[WS] drop frame conn=%s: %v", c.id, err)
			continue
		}
		s.handle(c, f)
	}
}

func (s *Server) handle(c *conn, f wire.Frame) {
	switch f.Op {
	case wire.OpJoin:
		if err := s.rooms.Join(c.id, f.PostID); err != nil {
			log.Printf("[WS] join conn=%s post=%s: %v", c.id, f.PostID, err)
		}
	case wire.OpLeave:
		if err := s.rooms.Leave(c.id, f.PostID); err != nil {
			log.Printf("[WS] leave conn=%s post=%s: %v", c.id, f.PostID, err)
		}
	case wire.OpRelay:
		out, err := wire.Encode(wire.Deliver(*f.Event))
		if err != nil {
			log.Printf("[WS] encode relay conn=%s: %v", c.id, err)
			return
		}
		s.rooms.Relay(f.PostID, out, c.id)
	}
}
