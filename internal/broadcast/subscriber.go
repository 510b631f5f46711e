package broadcast

import (
	"context"
	"log"
	"sync"

	"github.com/redis/go-redis/v9"

	"realtime-service/internal/event"
	"realtime-service/internal/metrics"
)

// pubSub is the part of *redis.PubSub the subscriber drives.
type pubSub interface {
	Subscribe(ctx context.Context, channels ...string) error
	Unsubscribe(ctx context.Context, channels ...string) error
	Channel(opts ...redis.ChannelOption) <-chan *redis.Message
	Close() error
}

// Subscriber listens on a changing set of broadcast channels and yields
// decoded events. Malformed messages are logged and dropped.
type Subscriber struct {
	ps   pubSub
	out  chan event.FanOutEvent
	done chan struct{}
	once sync.Once
}

func NewSubscriber(ctx context.Context, rdb *redis.Client, buffer int) *Subscriber {
	return newSubscriber(rdb.Subscribe(ctx), buffer)
}

func newSubscriber(ps pubSub, buffer int) *Subscriber {
	if buffer <= 0 {
		buffer = 64
	}
	s := &Subscriber{
		ps:   ps,
		out:  make(chan event.FanOutEvent, buffer),
		done: make(chan struct{}),
	}
	go s.run()
	return s
}

func (s *Subscriber) run() {
	defer close(s.out)
	for msg := range s.ps.Channel() {
		ev, err := DecodeMessage([]byte(msg.Payload))
		if err != nil {
			metrics.Malformed.WithLabelValues("broadcast").Inc()
			log.Printf("[Broadcast] drop message on %s: %v", msg.Channel, err)
			continue
		}
		select {
		case s.out <- ev:
		case <-s.done:
			return
		}
	}
}

func (s *Subscriber) Subscribe(ctx context.Context, channels ...string) error {
	if len(channels) == 0 {
		return nil
	}
	return s.ps.Subscribe(ctx, channels...)
}

func (s *Subscriber) Unsubscribe(ctx context.Context, channels ...string) error {
	if len(channels) == 0 {
		return nil
	}
	return s.ps.Unsubscribe(ctx, channels...)
}

func (s *Subscriber) Events() <-chan event.FanOutEvent { return s.out }

func (s *Subscriber) Close() error {
	var err error
	s.once.Do(func() {
		close(s.done)
		err = s.ps.Close()
	})
	return err
}
