package event

import (
	"encoding/json"
	"errors"
	"fmt"
	"strings"
)

type Kind string

const (
	KindNewPost       Kind = "new-post"
	KindDeletePost    Kind = "delete-post"
	KindLikeCount     Kind = "like-count"
	KindNewComment    Kind = "new-comment"
	KindDeleteComment Kind = "delete-comment"
)

// FeedChannel is the well-known global channel carrying feed-level events.
const FeedChannel = "posts"

var ErrMalformed = errors.New("malformed event")

// FanOutEvent is the single envelope for every realtime notification. Which
// fields are required depends on Kind; see Validate.
type FanOutEvent struct {
	Kind       Kind            `json:"kind"`
	PostID     string          `json:"postId"`
	CommentID  string          `json:"commentId,omitempty"`
	LikesCount *int64          `json:"likesCount,omitempty"`
	Version    uint64          `json:"version,omitempty"`
	Payload    json.RawMessage `json:"payload,omitempty"`
}

func NewPost(postID string, payload any) (FanOutEvent, error) {
	raw, err := marshalPayload(payload)
	if err != nil {
		return FanOutEvent{}, err
	}
	return FanOutEvent{Kind: KindNewPost, PostID: postID, Payload: raw}, nil
}

func DeletePost(postID string) FanOutEvent {
	return FanOutEvent{Kind: KindDeletePost, PostID: postID}
}

func LikeCount(postID string, count int64) FanOutEvent {
	return FanOutEvent{Kind: KindLikeCount, PostID: postID, LikesCount: &count}
}

func NewComment(postID, commentID string, payload any) (FanOutEvent, error) {
	raw, err := marshalPayload(payload)
	if err != nil {
		return FanOutEvent{}, err
	}
	return FanOutEvent{Kind: KindNewComment, PostID: postID, CommentID: commentID, Payload: raw}, nil
}

func DeleteComment(postID, commentID string) FanOutEvent {
	return FanOutEvent{Kind: KindDeleteComment, PostID: postID, CommentID: commentID}
}

func marshalPayload(payload any) (json.RawMessage, error) {
	switch p := payload.(type) {
	case nil:
		return nil, nil
	case json.RawMessage:
		return p, nil
	case []byte:
		return json.RawMessage(p), nil
	}
	b, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("encode payload: %w", err)
	}
	return b, nil
}

// Validate reports ErrMalformed when a field required by the kind is missing.
func (e FanOutEvent) Validate() error {
	if strings.TrimSpace(e.PostID) == "" {
		return fmt.Errorf("%w: missing postId", ErrMalformed)
	}
	switch e.Kind {
	case KindNewPost, KindDeletePost:
	case KindLikeCount:
		if e.LikesCount == nil {
			return fmt.Errorf("%w: missing likesCount", ErrMalformed)
		}
		if *e.LikesCount < 0 {
			return fmt.Errorf("%w: negative likesCount %d", ErrMalformed, *e.LikesCount)
		}
	case KindNewComment, KindDeleteComment:
		if strings.TrimSpace(e.CommentID) == "" {
			return fmt.Errorf("%w: missing commentId", ErrMalformed)
		}
	default:
		return fmt.Errorf("%w: unknown kind %q", ErrMalformed, e.Kind)
	}
	if len(e.Payload) > 0 && !json.Valid(e.Payload) {
		return fmt.Errorf("%w: payload is not json", ErrMalformed)
	}
	return nil
}

// Count returns the like count carried by a like-count event.
func (e FanOutEvent) Count() int64 {
	if e.LikesCount == nil {
		return 0
	}
	return *e.LikesCount
}

// Decode parses and validates a single event.
func Decode(b []byte) (FanOutEvent, error) {
	var e FanOutEvent
	if err := json.Unmarshal(b, &e); err != nil {
		return FanOutEvent{}, fmt.Errorf("%w: %v", ErrMalformed, err)
	}
	if err := e.Validate(); err != nil {
		return FanOutEvent{}, err
	}
	return e, nil
}
