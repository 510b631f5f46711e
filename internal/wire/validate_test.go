package wire

import (
	"errors"
	"testing"

	"github.com/go-playground/assert/v2"

	"realtime-service/internal/event"
)

func TestDecodeClient(t *testing.T) {
	v, err := NewValidator()
	assert.Equal(t, err, nil)

	f, err := v.DecodeClient([]byte(`{"op":"join","postId":"p1"}`))
	assert.Equal(t, err, nil)
	assert.Equal(t, f.Op, OpJoin)
	assert.Equal(t, f.PostID, "p1")

	f, err = v.DecodeClient([]byte(`{"op":"relay","postId":"p1","event":{"kind":"new-comment","commentId":"c9","payload":{"text":"hi"}}}`))
	assert.Equal(t, err, nil)
	assert.Equal(t, f.Event.PostID, "p1")
	assert.Equal(t, f.Event.CommentID, "c9")

	badFrames := []string{
		`not json`,
		`{"postId":"p1"}`,
		`{"op":"join"}`,
		`{"op":"join","postId":""}`,
		`{"op":"shout","postId":"p1"}`,
		`{"op":"relay","postId":"p1"}`,
		`{"op":"relay","postId":"p1","event":{"kind":"new-comment","postId":"p2","commentId":"c1"}}`,
	}
	for _, b := range badFrames {
		_, err := v.DecodeClient([]byte(b))
		assert.Equal(t, errors.Is(err, ErrBadFrame), true)
	}

	malformed := []string{
		`{"op":"relay","postId":"p1","event":{"kind":"new-comment"}}`,
		`{"op":"relay","postId":"p1","event":{"kind":"like-count","likesCount":3}}`,
	}
	for _, b := range malformed {
		_, err := v.DecodeClient([]byte(b))
		assert.Equal(t, errors.Is(err, event.ErrMalformed), true)
	}
}

func TestDecodeServer(t *testing.T) {
	b, err := Encode(Hello("conn-1"))
	assert.Equal(t, err, nil)
	f, err := DecodeServer(b)
	assert.Equal(t, err, nil)
	assert.Equal(t, f.ConnectionID, "conn-1")

	b, err = Encode(Deliver(event.DeleteComment("p1", "c1")))
	assert.Equal(t, err, nil)
	f, err = DecodeServer(b)
	assert.Equal(t, err, nil)
	assert.Equal(t, f.Event.CommentID, "c1")

	_, err = DecodeServer([]byte(`{"op":"event"}`))
	assert.Equal(t, errors.Is(err, event.ErrMalformed), true)
	_, err = DecodeServer([]byte(`{"op":"join","postId":"p1"}`))
	assert.Equal(t, errors.Is(err, ErrBadFrame), true)
}
