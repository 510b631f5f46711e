package socket

import (
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/go-playground/assert/v2"
	"github.com/gorilla/websocket"

	"realtime-service/internal/event"
	"realtime-service/internal/room"
	"realtime-service/internal/wire"
)

func startServer(t *testing.T) (*room.Manager, string) {
	t.Helper()
	rooms := room.NewManager()
	v, err := wire.NewValidator()
	if err != nil {
		t.Fatal(err)
	}
	srv := httptest.NewServer(NewServer(rooms, v, Config{PingInterval: time.Second}))
	t.Cleanup(func() {
		srv.Close()
		rooms.Close()
	})
	return rooms, "ws" + strings.TrimPrefix(srv.URL, "http")
}

func dial(t *testing.T, url string) (*websocket.Conn, string) {
	t.Helper()
	ws, _, err := websocket.DefaultDialer.Dial(url, nil)
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { _ = ws.Close() })
	f := read(t, ws)
	assert.Equal(t, f.Op, wire.OpHello)
	return ws, f.ConnectionID
}

func read(t *testing.T, ws *websocket.Conn) wire.Frame {
	t.Helper()
	_ = ws.SetReadDeadline(time.Now().Add(2 * time.Second))
	_, b, err := ws.ReadMessage()
	if err != nil {
		t.Fatal(err)
	}
	f, err := wire.DecodeServer(b)
	if err != nil {
		t.Fatal(err)
	}
	return f
}

func send(t *testing.T, ws *websocket.Conn, f wire.Frame) {
	t.Helper()
	b, _ := wire.Encode(f)
	if err := ws.WriteMessage(websocket.TextMessage, b); err != nil {
		t.Fatal(err)
	}
}

func eventually(t *testing.T, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatal("condition not met")
}

func TestRelayReachesOnlyOtherRoomMembers(t *testing.T) {
	rooms, url := startServer(t)

	c1, id1 := dial(t, url)
	c2, id2 := dial(t, url)
	c3, id3 := dial(t, url)
	send(t, c1, wire.Join("p1"))
	send(t, c2, wire.Join("p1"))
	send(t, c3, wire.Join("p2"))
	eventually(t, func() bool { return len(rooms.Members("p1")) == 2 && len(rooms.Members("p2")) == 1 })
	assert.Equal(t, rooms.Rooms(id3), []string{"p2"})
	assert.NotEqual(t, id1, id2)

	nc, _ := event.NewComment("p1", "c9", map[string]string{"text": "first"})
	send(t, c1, wire.Relay("p1", nc))

	f := read(t, c2)
	assert.Equal(t, f.Op, wire.OpEvent)
	assert.Equal(t, f.Event.Kind, event.KindNewComment)
	assert.Equal(t, f.Event.CommentID, "c9")

	// A second relay from C2 proves C1 and C3 saw nothing from the first one.
	dc := event.DeleteComment("p1", "c9")
	send(t, c2, wire.Relay("p1", dc))
	f = read(t, c1)
	assert.Equal(t, f.Event.Kind, event.KindDeleteComment)

	_ = c3.SetReadDeadline(time.Now().Add(100 * time.Millisecond))
	_, _, err := c3.ReadMessage()
	assert.NotEqual(t, err, nil)
}

func TestMalformedFramesAreDropped(t *testing.T) {
	rooms, url := startServer(t)
	c1, id1 := dial(t, url)
	c2, _ := dial(t, url)

	_ = c1.WriteMessage(websocket.TextMessage, []byte(`{"op":"join"}`))
	_ = c1.WriteMessage(websocket.TextMessage, []byte(`not json`))
	send(t, c1, wire.Join("p1"))
	send(t, c2, wire.Join("p1"))
	eventually(t, func() bool { return len(rooms.Members("p1")) == 2 })
	assert.Equal(t, rooms.Rooms(id1), []string{"p1"})

	// likes never travel over rooms
	send(t, c2, wire.Relay("p1", event.LikeCount("p1", 3)))
	nc, _ := event.NewComment("p1", "c1", nil)
	send(t, c2, wire.Relay("p1", nc))
	f := read(t, c1)
	assert.Equal(t, f.Event.Kind, event.KindNewComment)
}

func TestLeaveAndDisconnectCleanUp(t *testing.T) {
	rooms, url := startServer(t)
	c1, id1 := dial(t, url)

	send(t, c1, wire.Join("p1"))
	send(t, c1, wire.Join("p2"))
	eventually(t, func() bool { return len(rooms.Rooms(id1)) == 2 })

	send(t, c1, wire.Leave("p1"))
	eventually(t, func() bool { return len(rooms.Rooms(id1)) == 1 })

	_ = c1.Close()
	eventually(t, func() bool { return rooms.Stats().Connections == 0 })
	assert.Equal(t, rooms.Stats().Rooms, 0)
	assert.Equal(t, len(rooms.Members("p2")), 0)
}

func TestCheckOrigin(t *testing.T) {
	s := NewServer(room.NewManager(), nil, Config{AllowedOrigins: []string{"https://app.example"}})
	r := httptest.NewRequest("GET", "/ws", nil)
	assert.Equal(t, s.checkOrigin(r), true)
	r.Header.Set("Origin", "https://app.example")
	assert.Equal(t, s.checkOrigin(r), true)
	r.Header.Set("Origin", "https://evil.example")
	assert.Equal(t, s.checkOrigin(r), false)
}
