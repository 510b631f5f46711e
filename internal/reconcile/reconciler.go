package reconcile

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"sort"
	"sync"

	"realtime-service/internal/event"
	"realtime-service/internal/metrics"
)

var ErrClosed = errors.New("reconciler unmounted")

type State int

const (
	StateUnsubscribed State = iota
	StateSubscribing
	StateSubscribed
	StateReconnecting
)

func (s State) String() string {
	switch s {
	case StateSubscribing:
		return "subscribing"
	case StateSubscribed:
		return "subscribed"
	case StateReconnecting:
		return "reconnecting"
	default:
		return "unsubscribed"
	}
}

// Channels is the subscriber side of the hosted broadcast service.
type Channels interface {
	Subscribe(ctx context.Context, channels ...string) error
	Unsubscribe(ctx context.Context, channels ...string) error
	Events() <-chan event.FanOutEvent
	Close() error
}

type Option func(*Reconciler)

// WithOnApply is called after every event that changed local state.
func WithOnApply(fn func(event.FanOutEvent)) Option {
	return func(r *Reconciler) { r.onApply = fn }
}

// Reconciler keeps one viewer's feed and open comment threads in sync with
// live events. Every merge is idempotent, so snapshot and event order do
// not matter.
type Reconciler struct {
	snaps    Snapshots
	channels Channels
	rooms    Rooms
	onApply  func(event.FanOutEvent)

	mu       sync.Mutex
	state    State
	closed   bool
	feed     *FeedList
	threads  map[string]*CommentList
	likeSubs map[string]struct{}

	ctx    context.Context
	cancel context.CancelFunc
	done   chan struct{}
}

func New(snaps Snapshots, channels Channels, rooms Rooms, opts ...Option) *Reconciler {
	r := &Reconciler{
		snaps:    snaps,
		channels: channels,
		rooms:    rooms,
		feed:     NewFeedList(),
		threads:  make(map[string]*CommentList),
		likeSubs: make(map[string]struct{}),
	}
	for _, o := range opts {
		o(r)
	}
	return r
}

func (r *Reconciler) State() State {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.state
}

func (r *Reconciler) setState(s State) {
	r.mu.Lock()
	r.state = s
	r.mu.Unlock()
}

// Mount subscribes to the feed channel, starts merging live events and then
// merges the feed snapshot. A failed snapshot is returned but leaves the
// live subscription in place.
func (r *Reconciler) Mount(ctx context.Context) error {
	r.mu.Lock()
	if r.closed {
		r.mu.Unlock()
		return ErrClosed
	}
	if r.state != StateUnsubscribed {
		r.mu.Unlock()
		return nil
	}
	r.state = StateSubscribing
	r.ctx, r.cancel = context.WithCancel(context.WithoutCancel(ctx))
	r.done = make(chan struct{})
	r.mu.Unlock()

	if err := r.channels.Subscribe(ctx, event.FeedChannel); err != nil {
		r.cancel()
		close(r.done)
		r.setState(StateUnsubscribed)
		return fmt.Errorf("subscribe %s: %w", event.FeedChannel, err)
	}
	r.setState(StateSubscribed)
	go r.loop(r.ctx)

	posts, err := r.snaps.Posts(ctx)
	if err != nil {
		return fmt.Errorf("feed snapshot: %w", err)
	}
	r.mu.Lock()
	added := r.feed.MergeSnapshot(posts)
	ids := r.feed.IDs()
	r.mu.Unlock()
	log.Printf("[Reconcile] feed snapshot merged posts=%d added=%d", len(posts), added)

	r.followLikes(ids, nil)
	return nil
}

func (r *Reconciler) loop(ctx context.Context) {
	defer close(r.done)
	feedEvents := r.channels.Events()
	roomEvents := r.rooms.Events()
	status := r.rooms.Status()
	for {
		select {
		case <-ctx.Done():
			return
		case ev, ok := <-feedEvents:
			if !ok {
				feedEvents = nil
				continue
			}
			r.Apply(ev)
		case ev, ok := <-roomEvents:
			if !ok {
				roomEvents = nil
				continue
			}
			r.Apply(ev)
		case st, ok := <-status:
			if !ok {
				status = nil
				continue
			}
			r.onLink(st)
		}
	}
}

func (r *Reconciler) onLink(st LinkState) {
	if st == LinkDown {
		r.setState(StateReconnecting)
		log.Printf("[Reconcile] room socket down")
		return
	}
	r.mu.Lock()
	open := r.openThreadsLocked()
	r.state = StateSubscribed
	r.mu.Unlock()
	for _, postID := range open {
		if err := r.rooms.Join(postID); err != nil {
			log.Printf("[Reconcile] rejoin %s: %v", postID, err)
		}
	}
	log.Printf("[Reconcile] room socket up, rejoined=%d", len(open))
}

func (r *Reconciler) openThreadsLocked() []string {
	out := make([]string, 0, len(r.threads))
	for id := range r.threads {
		out = append(out, id)
	}
	sort.Strings(out)
	return out
}

// Apply merges one event into local state and reports whether anything
// changed. Malformed events are dropped.
func (r *Reconciler) Apply(ev event.FanOutEvent) bool {
	if err := ev.Validate(); err != nil {
		metrics.Malformed.WithLabelValues("reconciler").Inc()
		log.Printf("[Reconcile] drop event: %v", err)
		return false
	}

	var follow, unfollow []string
	r.mu.Lock()
	changed := false
	switch ev.Kind {
	case event.KindNewPost:
		if changed = r.feed.ApplyNewPost(postFromEvent(ev)); changed {
			follow = []string{ev.PostID}
		}
	case event.KindDeletePost:
		changed = r.feed.ApplyDelete(ev.PostID)
		unfollow = []string{ev.PostID}
	case event.KindLikeCount:
		changed = r.feed.ApplyLikes(ev.PostID, ev.Count(), ev.Version)
	case event.KindNewComment:
		if t, ok := r.threads[ev.PostID]; ok {
			changed = t.ApplyNewComment(Comment{ID: ev.CommentID, PostID: ev.PostID, Payload: ev.Payload})
		}
	case event.KindDeleteComment:
		if t, ok := r.threads[ev.PostID]; ok {
			changed = t.ApplyDelete(ev.CommentID)
		}
	}
	r.mu.Unlock()

	r.followLikes(follow, unfollow)
	if changed && r.onApply != nil {
		r.onApply(ev)
	}
	return changed
}

func postFromEvent(ev event.FanOutEvent) Post {
	p := Post{ID: ev.PostID, Payload: ev.Payload}
	if len(ev.Payload) > 0 {
		var head struct {
			LikesCount int64 `json:"likesCount"`
		}
		if json.Unmarshal(ev.Payload, &head) == nil {
			p.LikesCount = head.LikesCount
		}
	}
	return p
}

// followLikes keeps one like-count channel subscription per post in the feed.
func (r *Reconciler) followLikes(follow, unfollow []string) {
	r.mu.Lock()
	ctx := r.ctx
	if ctx == nil {
		r.mu.Unlock()
		return
	}
	var sub, unsub []string
	for _, id := range follow {
		if _, ok := r.likeSubs[id]; !ok {
			r.likeSubs[id] = struct{}{}
			sub = append(sub, event.LikesChannel(id))
		}
	}
	for _, id := range unfollow {
		if _, ok := r.likeSubs[id]; ok {
			delete(r.likeSubs, id)
			unsub = append(unsub, event.LikesChannel(id))
		}
	}
	r.mu.Unlock()

	if len(sub) > 0 {
		if err := r.channels.Subscribe(ctx, sub...); err != nil {
			log.Printf("[Reconcile] subscribe likes: %v", err)
		}
	}
	if len(unsub) > 0 {
		if err := r.channels.Unsubscribe(ctx, unsub...); err != nil {
			log.Printf("[Reconcile] unsubscribe likes: %v", err)
		}
	}
}

// OpenThread joins the room for postID and merges its comment snapshot.
// Opening an already open thread is a no-op. If the snapshot fails the
// thread is closed again and the call may be retried.
func (r *Reconciler) OpenThread(ctx context.Context, postID string) error {
	r.mu.Lock()
	if r.closed {
		r.mu.Unlock()
		return ErrClosed
	}
	if _, ok := r.threads[postID]; ok {
		r.mu.Unlock()
		return nil
	}
	thread := NewCommentList()
	r.threads[postID] = thread
	r.mu.Unlock()

	if err := r.rooms.Join(postID); err != nil {
		// rejoined when the link comes back
		log.Printf("[Reconcile] join %s: %v", postID, err)
	}

	comments, err := r.snaps.Comments(ctx, postID)
	if err != nil {
		// drop the half-open thread so the next OpenThread starts over
		r.mu.Lock()
		owned := r.threads[postID] == thread
		if owned {
			delete(r.threads, postID)
		}
		r.mu.Unlock()
		if owned {
			if lerr := r.rooms.Leave(postID); lerr != nil {
				log.Printf("[Reconcile] leave %s: %v", postID, lerr)
			}
		}
		return fmt.Errorf("comments snapshot %s: %w", postID, err)
	}
	r.mu.Lock()
	if r.threads[postID] == thread {
		thread.MergeSnapshot(comments)
	}
	r.mu.Unlock()
	return nil
}

func (r *Reconciler) CloseThread(postID string) error {
	r.mu.Lock()
	_, ok := r.threads[postID]
	delete(r.threads, postID)
	r.mu.Unlock()
	if !ok {
		return nil
	}
	return r.rooms.Leave(postID)
}

// PublishComment applies the author's own comment locally and relays it to
// the other viewers of the thread. The relay never echoes back to us.
func (r *Reconciler) PublishComment(postID, commentID string, payload any) error {
	ev, err := event.NewComment(postID, commentID, payload)
	if err != nil {
		return err
	}
	return r.publishLocal(ev)
}

func (r *Reconciler) RetractComment(postID, commentID string) error {
	return r.publishLocal(event.DeleteComment(postID, commentID))
}

func (r *Reconciler) publishLocal(ev event.FanOutEvent) error {
	r.mu.Lock()
	_, open := r.threads[ev.PostID]
	r.mu.Unlock()
	if !open {
		return fmt.Errorf("thread %s not open", ev.PostID)
	}
	r.Apply(ev)
	return r.rooms.Relay(ev.PostID, ev)
}

func (r *Reconciler) Feed() []Post {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.feed.Posts()
}

func (r *Reconciler) FeedIDs() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.feed.IDs()
}

func (r *Reconciler) Thread(postID string) ([]Comment, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	t, ok := r.threads[postID]
	if !ok {
		return nil, false
	}
	return t.Comments(), true
}

func (r *Reconciler) ThreadIDs(postID string) []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	if t, ok := r.threads[postID]; ok {
		return t.IDs()
	}
	return nil
}

// Unmount leaves every room, drops every channel and releases both
// transports. The reconciler cannot be mounted again.
func (r *Reconciler) Unmount(ctx context.Context) error {
	r.mu.Lock()
	if r.closed {
		r.mu.Unlock()
		return nil
	}
	r.closed = true
	open := r.openThreadsLocked()
	r.threads = make(map[string]*CommentList)
	channels := []string{event.FeedChannel}
	for id := range r.likeSubs {
		channels = append(channels, event.LikesChannel(id))
	}
	r.likeSubs = make(map[string]struct{})
	mounted := r.state != StateUnsubscribed
	r.state = StateUnsubscribed
	cancel, done := r.cancel, r.done
	r.mu.Unlock()

	var errs []error
	for _, postID := range open {
		if err := r.rooms.Leave(postID); err != nil && !errors.Is(err, ErrNotConnected) {
			errs = append(errs, err)
		}
	}
	if mounted {
		if err := r.channels.Unsubscribe(ctx, channels...); err != nil {
			errs = append(errs, err)
		}
		cancel()
		<-done
	}
	errs = append(errs, r.rooms.Close(), r.channels.Close())
	return errors.Join(errs...)
}
