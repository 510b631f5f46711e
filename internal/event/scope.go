package event

import "strings"

type Transport int

const (
	TransportBroadcast Transport = iota + 1
	TransportRoom
)

func (t Transport) String() string {
	switch t {
	case TransportBroadcast:
		return "broadcast"
	case TransportRoom:
		return "room"
	}
	return "unknown"
}

// Scope says where an event is delivered: a named broadcast channel or the
// room of one post.
type Scope struct {
	Transport Transport
	Name      string
}

func Global(channel string) Scope { return Scope{Transport: TransportBroadcast, Name: channel} }

func Room(postID string) Scope { return Scope{Transport: TransportRoom, Name: postID} }

const likesChannelPrefix = "post-"

// LikesChannel names the per-post channel carrying like-count events.
func LikesChannel(postID string) string { return likesChannelPrefix + postID }

// PostFromLikesChannel is the inverse of LikesChannel.
func PostFromLikesChannel(channel string) (string, bool) {
	if !strings.HasPrefix(channel, likesChannelPrefix) {
		return "", false
	}
	id := strings.TrimPrefix(channel, likesChannelPrefix)
	return id, id != ""
}

// Scope routes the event by kind. Feed events go to FeedChannel, like counts
// to the post's likes channel, comment events to the post's room.
func (e FanOutEvent) Scope() Scope {
	switch e.Kind {
	case KindNewPost, KindDeletePost:
		return Global(FeedChannel)
	case KindLikeCount:
		return Global(LikesChannel(e.PostID))
	default:
		return Room(e.PostID)
	}
}

func (e FanOutEvent) IsComment() bool {
	return e.Kind == KindNewComment || e.Kind == KindDeleteComment
}
