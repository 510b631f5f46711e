package reconcile

import "encoding/json"

// Post is one feed entry. Payload keeps the full JSON the post arrived with.
type Post struct {
	ID         string          `json:"id"`
	LikesCount int64           `json:"likesCount"`
	Payload    json.RawMessage `json:"-"`
}

func (p *Post) UnmarshalJSON(b []byte) error {
	var head struct {
		ID         string `json:"id"`
		LikesCount int64  `json:"likesCount"`
	}
	if err := json.Unmarshal(b, &head); err != nil {
		return err
	}
	p.ID, p.LikesCount = head.ID, head.LikesCount
	p.Payload = append(json.RawMessage(nil), b...)
	return nil
}

func (p Post) key() string { return p.ID }

type Comment struct {
	ID      string          `json:"id"`
	PostID  string          `json:"postId"`
	Payload json.RawMessage `json:"-"`
}

func (c *Comment) UnmarshalJSON(b []byte) error {
	var head struct {
		ID     string `json:"id"`
		PostID string `json:"postId"`
	}
	if err := json.Unmarshal(b, &head); err != nil {
		return err
	}
	c.ID, c.PostID = head.ID, head.PostID
	c.Payload = append(json.RawMessage(nil), b...)
	return nil
}

func (c Comment) key() string { return c.ID }

type keyed interface{ key() string }

// list is an ordered set keyed by id. Until the first snapshot is merged it
// remembers deleted ids so a stale snapshot cannot bring them back.
type list[T keyed] struct {
	items  []T
	ids    map[string]struct{}
	tombs  map[string]struct{}
	synced bool
}

func newList[T keyed]() *list[T] {
	return &list[T]{ids: make(map[string]struct{}), tombs: make(map[string]struct{})}
}

func (l *list[T]) has(id string) bool {
	_, ok := l.ids[id]
	return ok
}

func (l *list[T]) insert(item T, front bool) bool {
	id := item.key()
	if l.has(id) {
		return false
	}
	if _, dead := l.tombs[id]; dead {
		return false
	}
	l.ids[id] = struct{}{}
	if front {
		l.items = append([]T{item}, l.items...)
	} else {
		l.items = append(l.items, item)
	}
	return true
}

func (l *list[T]) remove(id string) bool {
	if !l.synced {
		l.tombs[id] = struct{}{}
	}
	if !l.has(id) {
		return false
	}
	delete(l.ids, id)
	for i, it := range l.items {
		if it.key() == id {
			l.items = append(l.items[:i], l.items[i+1:]...)
			break
		}
	}
	return true
}

func (l *list[T]) update(id string, fn func(*T)) bool {
	if !l.has(id) {
		return false
	}
	for i := range l.items {
		if l.items[i].key() == id {
			fn(&l.items[i])
			return true
		}
	}
	return false
}

// merge appends snapshot items that were not already observed live, keeping
// snapshot order among them.
func (l *list[T]) merge(snapshot []T) int {
	added := 0
	for _, it := range snapshot {
		if it.key() == "" {
			continue
		}
		if l.insert(it, false) {
			added++
		}
	}
	l.synced = true
	l.tombs = make(map[string]struct{})
	return added
}

func (l *list[T]) snapshot() []T {
	return append([]T(nil), l.items...)
}

// FeedList is a viewer's newest-first feed.
type FeedList struct {
	posts    *list[Post]
	versions map[string]uint64
}

func NewFeedList() *FeedList {
	return &FeedList{posts: newList[Post](), versions: make(map[string]uint64)}
}

// ApplyNewPost prepends p unless its id is already present.
func (f *FeedList) ApplyNewPost(p Post) bool { return f.posts.insert(p, true) }

func (f *FeedList) ApplyDelete(postID string) bool {
	delete(f.versions, postID)
	return f.posts.remove(postID)
}

// ApplyLikes overwrites the stored count of a present post. A non-zero
// version lower than or equal to the last applied one is ignored; version 0
// means the event is unversioned and always wins by arrival.
func (f *FeedList) ApplyLikes(postID string, count int64, version uint64) bool {
	if !f.posts.has(postID) {
		return false
	}
	if version > 0 {
		if version <= f.versions[postID] {
			return false
		}
		f.versions[postID] = version
	}
	return f.posts.update(postID, func(p *Post) { p.LikesCount = count })
}

func (f *FeedList) MergeSnapshot(posts []Post) int { return f.posts.merge(posts) }

func (f *FeedList) Has(postID string) bool { return f.posts.has(postID) }

func (f *FeedList) Len() int { return len(f.posts.items) }

func (f *FeedList) Posts() []Post { return f.posts.snapshot() }

// IDs returns post ids in display order.
func (f *FeedList) IDs() []string {
	out := make([]string, 0, len(f.posts.items))
	for _, p := range f.posts.items {
		out = append(out, p.ID)
	}
	return out
}

// CommentList is one open thread, in order of first observation.
type CommentList struct {
	comments *list[Comment]
}

func NewCommentList() *CommentList { return &CommentList{comments: newList[Comment]()} }

func (c *CommentList) ApplyNewComment(cm Comment) bool { return c.comments.insert(cm, false) }

func (c *CommentList) ApplyDelete(commentID string) bool { return c.comments.remove(commentID) }

func (c *CommentList) MergeSnapshot(comments []Comment) int { return c.comments.merge(comments) }

func (c *CommentList) Has(commentID string) bool { return c.comments.has(commentID) }

func (c *CommentList) Len() int { return len(c.comments.items) }

func (c *CommentList) Comments() []Comment { return c.comments.snapshot() }

func (c *CommentList) IDs() []string {
	out := make([]string, 0, len(c.comments.items))
	for _, cm := range c.comments.items {
		out = append(out, cm.ID)
	}
	return out
}
