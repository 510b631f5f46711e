package emitter

import (
	"context"
	"log"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"realtime-service/internal/broadcast"
	"realtime-service/internal/event"
	"realtime-service/internal/metrics"
	"realtime-service/internal/room"
	"realtime-service/internal/wire"
)

const (
	SourceHTTP  = "http"
	SourceKafka = "kafka"
)

// Request is one "mutation committed, now fan out" call. Origin is the room
// connection of the author, excluded from the room relay.
type Request struct {
	Event  event.FanOutEvent `json:"event"`
	Origin string            `json:"origin,omitempty"`
}

type Relayer interface {
	Relay(postID string, msg []byte, except string) room.Delivery
}

type Versioner interface {
	Next(ctx context.Context, postID string) (uint64, error)
}

type Emitter struct {
	pub            broadcast.Publisher
	rooms          Relayer
	versions       Versioner
	publishTimeout time.Duration
	tracer         trace.Tracer
}

type Option func(*Emitter)

// WithLikeVersions stamps unversioned like-count events with a per-post
// increasing version before publishing.
func WithLikeVersions(v Versioner) Option { return func(e *Emitter) { e.versions = v } }

func WithPublishTimeout(d time.Duration) Option {
	return func(e *Emitter) {
		if d > 0 {
			e.publishTimeout = d
		}
	}
}

func New(pub broadcast.Publisher, rooms Relayer, opts ...Option) *Emitter {
	e := &Emitter{
		pub:            pub,
		rooms:          rooms,
		publishTimeout: 3 * time.Second,
		tracer:         otel.Tracer("realtime-service/emitter"),
	}
	for _, o := range opts {
		o(e)
	}
	return e
}

// Emit routes the event to the transport its scope names. Only a malformed
// event is reported back; transport failures are logged and swallowed since
// the mutation has already been committed.
func (e *Emitter) Emit(ctx context.Context, source string, req Request) error {
	ev := req.Event
	ctx, span := e.tracer.Start(ctx, "fanout.emit", trace.WithAttributes(
		attribute.String("fanout.kind", string(ev.Kind)),
		attribute.String("fanout.post_id", ev.PostID),
		attribute.String("fanout.source", source),
	))
	defer span.End()

	if err := ev.Validate(); err != nil {
		metrics.Malformed.WithLabelValues(source).Inc()
		span.SetStatus(codes.Error, err.Error())
		return err
	}

	scope := ev.Scope()
	metrics.Emits.WithLabelValues(source, scope.Transport.String()).Inc()

	switch scope.Transport {
	case event.TransportRoom:
		e.relay(scope.Name, ev, req.Origin)
	default:
		e.publish(ctx, span, scope.Name, ev)
	}
	return nil
}

func (e *Emitter) publish(ctx context.Context, span trace.Span, channel string, ev event.FanOutEvent) {
	// the caller's cancellation must not abort an in-flight publish
	ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), e.publishTimeout)
	defer cancel()

	if ev.Kind == event.KindLikeCount && ev.Version == 0 && e.versions != nil {
		v, err := e.versions.Next(ctx, ev.PostID)
		if err != nil {
			log.Printf("[Emit] like version for post=%s: %v (publishing unversioned)", ev.PostID, err)
		} else {
			ev.Version = v
		}
	}

	if err := e.pub.Publish(ctx, channel, string(ev.Kind), ev); err != nil {
		metrics.Publishes.WithLabelValues(string(ev.Kind), "failed").Inc()
		span.RecordError(err)
		log.Printf("[Emit] publish failed kind=%s channel=%s: %v", ev.Kind, channel, err)
		return
	}
	metrics.Publishes.WithLabelValues(string(ev.Kind), "ok").Inc()
}

func (e *Emitter) relay(postID string, ev event.FanOutEvent, origin string) {
	msg, err := wire.Encode(wire.Deliver(ev))
	if err != nil {
		log.Printf("[Emit] encode relay frame post=%s: %v", postID, err)
		return
	}
	d := e.rooms.Relay(postID, msg, origin)
	if d.Dropped > 0 {
		log.Printf("[Emit] relay post=%s delivered=%d dropped=%d", postID, d.Delivered, d.Dropped)
	}
}
