package reconcile

import (
	"encoding/json"
	"testing"

	"github.com/go-playground/assert/v2"
)

func TestFeedNewPostIsIdempotent(t *testing.T) {
	f := NewFeedList()
	assert.Equal(t, f.ApplyNewPost(Post{ID: "p1"}), true)
	assert.Equal(t, f.ApplyNewPost(Post{ID: "p2"}), true)
	assert.Equal(t, f.ApplyNewPost(Post{ID: "p1"}), false)
	assert.Equal(t, f.IDs(), []string{"p2", "p1"})
}

func TestFeedDeleteBeforeArrival(t *testing.T) {
	f := NewFeedList()
	f.MergeSnapshot([]Post{{ID: "p1"}})
	assert.Equal(t, f.ApplyDelete("p9"), false)
	assert.Equal(t, f.IDs(), []string{"p1"})
}

func TestFeedTombstoneBeatsStaleSnapshot(t *testing.T) {
	f := NewFeedList()
	f.ApplyDelete("p2")
	f.MergeSnapshot([]Post{{ID: "p1"}, {ID: "p2"}, {ID: "p3"}})
	assert.Equal(t, f.IDs(), []string{"p1", "p3"})

	// tombstones only guard the first snapshot
	f.ApplyDelete("p1")
	f.MergeSnapshot([]Post{{ID: "p1"}})
	assert.Equal(t, f.IDs(), []string{"p3", "p1"})
}

func TestFeedSnapshotKeepsLivePostsFirst(t *testing.T) {
	f := NewFeedList()
	f.ApplyNewPost(Post{ID: "p3", LikesCount: 7})
	added := f.MergeSnapshot([]Post{{ID: "p3", LikesCount: 0}, {ID: "p2"}, {ID: "p1"}})
	assert.Equal(t, added, 2)
	assert.Equal(t, f.IDs(), []string{"p3", "p2", "p1"})
	assert.Equal(t, f.Posts()[0].LikesCount, int64(7))
}

func TestLikeOverwrite(t *testing.T) {
	f := NewFeedList()
	f.MergeSnapshot([]Post{{ID: "p1"}})

	f.ApplyLikes("p1", 3, 0)
	f.ApplyLikes("p1", 5, 0)
	assert.Equal(t, f.Posts()[0].LikesCount, int64(5))

	f.ApplyLikes("p1", 5, 0)
	f.ApplyLikes("p1", 3, 0)
	assert.Equal(t, f.Posts()[0].LikesCount, int64(3))

	assert.Equal(t, f.ApplyLikes("p404", 1, 0), false)
}

func TestVersionedLikesIgnoreStale(t *testing.T) {
	f := NewFeedList()
	f.MergeSnapshot([]Post{{ID: "p1"}})

	assert.Equal(t, f.ApplyLikes("p1", 5, 2), true)
	assert.Equal(t, f.ApplyLikes("p1", 3, 1), false)
	assert.Equal(t, f.ApplyLikes("p1", 5, 2), false)
	assert.Equal(t, f.Posts()[0].LikesCount, int64(5))
	assert.Equal(t, f.ApplyLikes("p1", 6, 3), true)
	assert.Equal(t, f.Posts()[0].LikesCount, int64(6))
}

func TestCommentSnapshotEventRace(t *testing.T) {
	c := NewCommentList()
	c.ApplyNewComment(Comment{ID: "A"})
	c.MergeSnapshot([]Comment{{ID: "A"}, {ID: "B"}})
	assert.Equal(t, c.IDs(), []string{"A", "B"})

	c = NewCommentList()
	c.MergeSnapshot([]Comment{{ID: "A"}, {ID: "B"}})
	assert.Equal(t, c.ApplyNewComment(Comment{ID: "A"}), false)
	assert.Equal(t, c.IDs(), []string{"A", "B"})
}

func TestCommentsKeepFirstObservationOrder(t *testing.T) {
	c := NewCommentList()
	c.ApplyNewComment(Comment{ID: "c3"})
	c.MergeSnapshot([]Comment{{ID: "c1"}, {ID: "c2"}, {ID: "c3"}})
	c.ApplyNewComment(Comment{ID: "c4"})
	assert.Equal(t, c.IDs(), []string{"c3", "c1", "c2", "c4"})

	assert.Equal(t, c.ApplyDelete("c1"), true)
	assert.Equal(t, c.ApplyDelete("c1"), false)
	assert.Equal(t, c.IDs(), []string{"c3", "c2", "c4"})
}

func TestPostUnmarshalKeepsPayload(t *testing.T) {
	var p Post
	err := json.Unmarshal([]byte(`{"id":"p1","likesCount":4,"content":"hi"}`), &p)
	assert.Equal(t, err, nil)
	assert.Equal(t, p.ID, "p1")
	assert.Equal(t, p.LikesCount, int64(4))
	assert.Equal(t, string(p.Payload), `{"id":"p1","likesCount":4,"content":"hi"}`)
}
