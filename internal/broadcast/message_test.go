package broadcast

import (
	"errors"
	"testing"

	"github.com/go-playground/assert/v2"

	"realtime-service/internal/event"
)

func TestMessageRoundTrip(t *testing.T) {
	ev := event.LikeCount("p1", 7)
	b, err := EncodeMessage(string(ev.Kind), ev)
	assert.Equal(t, err, nil)

	got, err := DecodeMessage(b)
	assert.Equal(t, err, nil)
	assert.Equal(t, got.PostID, "p1")
	assert.Equal(t, got.Count(), int64(7))
}

func TestDecodeMessageRejects(t *testing.T) {
	bodies := []string{
		`garbage`,
		`{"event":"like-count","data":{"kind":"like-count","postId":"p1"}}`,
		`{"event":"new-post","data":{"kind":"delete-post","postId":"p1"}}`,
	}
	for _, b := range bodies {
		_, err := DecodeMessage([]byte(b))
		assert.Equal(t, errors.Is(err, event.ErrMalformed), true)
	}
}
