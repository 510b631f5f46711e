package emitter

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/go-playground/assert/v2"

	"realtime-service/internal/event"
	"realtime-service/internal/room"
	"realtime-service/internal/shared/httpx"
	"realtime-service/internal/shared/jwt"
	"realtime-service/internal/wire"
)

type published struct {
	channel string
	name    string
	ev      event.FanOutEvent
}

type fakePublisher struct {
	mu   sync.Mutex
	got  []published
	fail error
}

func (p *fakePublisher) Publish(ctx context.Context, channel, eventName string, payload any) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.fail != nil {
		return p.fail
	}
	p.got = append(p.got, published{channel: channel, name: eventName, ev: payload.(event.FanOutEvent)})
	return nil
}

type fakeVersions struct{ n map[string]uint64 }

func (v *fakeVersions) Next(ctx context.Context, postID string) (uint64, error) {
	v.n[postID]++
	return v.n[postID], nil
}

type chanSink struct{ ch chan []byte }

func (s chanSink) Send(msg []byte) bool {
	select {
	case s.ch <- msg:
		return true
	default:
		return false
	}
}

func (s chanSink) Close() error { return nil }

func TestEmitRoutesFeedAndLikesToBroadcast(t *testing.T) {
	pub := &fakePublisher{}
	em := New(pub, room.NewManager())

	np, _ := event.NewPost("p1", map[string]string{"content": "hello"})
	assert.Equal(t, em.Emit(context.Background(), SourceHTTP, Request{Event: np}), nil)
	assert.Equal(t, em.Emit(context.Background(), SourceHTTP, Request{Event: event.LikeCount("p1", 3)}), nil)

	assert.Equal(t, len(pub.got), 2)
	assert.Equal(t, pub.got[0].channel, event.FeedChannel)
	assert.Equal(t, pub.got[0].name, "new-post")
	assert.Equal(t, pub.got[1].channel, "post-p1")
	assert.Equal(t, pub.got[1].ev.Version, uint64(0))
}

func TestEmitStampsLikeVersions(t *testing.T) {
	pub := &fakePublisher{}
	em := New(pub, room.NewManager(), WithLikeVersions(&fakeVersions{n: map[string]uint64{}}))

	_ = em.Emit(context.Background(), SourceKafka, Request{Event: event.LikeCount("p1", 3)})
	_ = em.Emit(context.Background(), SourceKafka, Request{Event: event.LikeCount("p1", 5)})
	_ = em.Emit(context.Background(), SourceKafka, Request{Event: event.LikeCount("p2", 1)})

	assert.Equal(t, pub.got[0].ev.Version, uint64(1))
	assert.Equal(t, pub.got[1].ev.Version, uint64(2))
	assert.Equal(t, pub.got[2].ev.Version, uint64(1))
}

func TestEmitSwallowsPublishFailure(t *testing.T) {
	pub := &fakePublisher{fail: errors.New("quota exceeded")}
	em := New(pub, room.NewManager())
	err := em.Emit(context.Background(), SourceHTTP, Request{Event: event.DeletePost("p1")})
	assert.Equal(t, err, nil)
}

func TestEmitPublishIgnoresCallerCancellation(t *testing.T) {
	pub := &fakePublisher{}
	em := New(pub, room.NewManager())
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	assert.Equal(t, em.Emit(ctx, SourceHTTP, Request{Event: event.DeletePost("p1")}), nil)
	assert.Equal(t, len(pub.got), 1)
}

func TestEmitRejectsMalformed(t *testing.T) {
	pub := &fakePublisher{}
	em := New(pub, room.NewManager())
	err := em.Emit(context.Background(), SourceHTTP, Request{Event: event.FanOutEvent{Kind: event.KindNewComment, PostID: "p1"}})
	assert.Equal(t, errors.Is(err, event.ErrMalformed), true)
	assert.Equal(t, len(pub.got), 0)
}

func TestEmitRelaysCommentsExcludingOrigin(t *testing.T) {
	rooms := room.NewManager()
	author := chanSink{ch: make(chan []byte, 1)}
	viewer := chanSink{ch: make(chan []byte, 1)}
	outsider := chanSink{ch: make(chan []byte, 1)}
	_ = rooms.Connect("c1", author)
	_ = rooms.Connect("c2", viewer)
	_ = rooms.Connect("c3", outsider)
	_ = rooms.Join("c1", "p1")
	_ = rooms.Join("c2", "p1")

	pub := &fakePublisher{}
	em := New(pub, rooms)
	nc, _ := event.NewComment("p1", "c9", map[string]string{"text": "hi"})
	assert.Equal(t, em.Emit(context.Background(), SourceHTTP, Request{Event: nc, Origin: "c1"}), nil)

	select {
	case b := <-viewer.ch:
		f, err := wire.DecodeServer(b)
		assert.Equal(t, err, nil)
		assert.Equal(t, f.Event.CommentID, "c9")
	case <-time.After(time.Second):
		t.Fatal("viewer got nothing")
	}
	assert.Equal(t, len(author.ch), 0)
	assert.Equal(t, len(outsider.ch), 0)
	assert.Equal(t, len(pub.got), 0)
}

func TestHandlerEmit(t *testing.T) {
	pub := &fakePublisher{}
	h := NewHandler(New(pub, room.NewManager()))
	v := jwt.NewVerifier("secret")
	srv := httpx.AuthMiddleware(v, httpx.Wrap(h.Emit))

	tok, _ := jwt.Sign("secret", "post-service", time.Minute)

	req := httptest.NewRequest(http.MethodPost, "/events", strings.NewReader(`{"event":{"kind":"delete-post","postId":"p1"}}`))
	req.Header.Set("Authorization", "Bearer "+tok)
	rec := httptest.NewRecorder()
	srv.ServeHTTP(rec, req)
	assert.Equal(t, rec.Code, http.StatusAccepted)
	assert.Equal(t, len(pub.got), 1)

	req = httptest.NewRequest(http.MethodPost, "/events", strings.NewReader(`{"event":{"kind":"like-count","postId":"p1"}}`))
	req.Header.Set("Authorization", "Bearer "+tok)
	rec = httptest.NewRecorder()
	srv.ServeHTTP(rec, req)
	assert.Equal(t, rec.Code, http.StatusBadRequest)
	assert.Equal(t, strings.Contains(rec.Body.String(), "malformed_event"), true)

	req = httptest.NewRequest(http.MethodPost, "/events", strings.NewReader(`{}`))
	rec = httptest.NewRecorder()
	srv.ServeHTTP(rec, req)
	assert.Equal(t, rec.Code, http.StatusUnauthorized)
}

func TestHandleMessage(t *testing.T) {
	pub := &fakePublisher{}
	h := NewHandler(New(pub, room.NewManager()))

	err := h.HandleMessage(context.Background(), "fanout.events", nil, []byte(`{"event":{"kind":"like-count","postId":"p1","likesCount":4}}`))
	assert.Equal(t, err, nil)
	assert.Equal(t, pub.got[0].ev.Count(), int64(4))

	err = h.HandleMessage(context.Background(), "fanout.events", nil, []byte(`{"event":`))
	assert.Equal(t, errors.Is(err, event.ErrMalformed), true)
}
