package notify

import (
	"context"
	"fmt"
	"sync"

	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
)

const redisPrefix = "news-unpacked:"

// Redis relays pulses through Redis pub/sub so that every server instance
// sharing one database wakes its own watchers.
type Redis struct {
	client *redis.Client
	pubsub *redis.PubSub
	local  *Local
	log    zerolog.Logger

	mu     sync.Mutex
	closed bool
	done   chan struct{}
}

func NewRedis(ctx context.Context, redisURL string, log zerolog.Logger) (*Redis, error) {
	opts, err := redis.ParseURL(redisURL)
	if err != nil {
		return nil, fmt.Errorf("parse redis url: %w", err)
	}
	client := redis.NewClient(opts)
	if err := client.Ping(ctx).Err(); err != nil {
		client.Close()
		return nil, fmt.Errorf("ping redis: %w", err)
	}

	n := &Redis{
		client: client,
		pubsub: client.Subscribe(ctx),
		local:  NewLocal(),
		log:    log.With().Str("component", "notify.redis").Logger(),
		done:   make(chan struct{}),
	}
	go n.receive()
	return n, nil
}

func (n *Redis) receive() {
	defer close(n.done)
	for msg := range n.pubsub.Channel() {
		n.local.dispatch(msg.Channel[len(redisPrefix):])
	}
}

func (n *Redis) Publish(ctx context.Context, channel string) error {
	return n.client.Publish(ctx, redisPrefix+channel, "changed").Err()
}

func (n *Redis) Subscribe(channel string, fn func()) func() {
	n.mu.Lock()
	defer n.mu.Unlock()

	first := n.local.count(channel) == 0
	cancelLocal := n.local.Subscribe(channel, fn)
	if first && !n.closed {
		if err := n.pubsub.Subscribe(context.Background(), redisPrefix+channel); err != nil {
			n.log.Error().Err(err).Str("channel", channel).Msg("redis subscribe failed")
		}
	}

	var once sync.Once
	return func() {
		once.Do(func() {
			cancelLocal()
			n.mu.Lock()
			defer n.mu.Unlock()
			if n.local.count(channel) == 0 && !n.closed {
				if err := n.pubsub.Unsubscribe(context.Background(), redisPrefix+channel); err != nil {
					n.log.Warn().Err(err).Str("channel", channel).Msg("redis unsubscribe failed")
				}
			}
		})
	}
}

func (n *Redis) Close() error {
	n.mu.Lock()
	if n.closed {
		n.mu.Unlock()
		return nil
	}
	n.closed = true
	n.mu.Unlock()

	err := n.pubsub.Close()
	<-n.done
	if cerr := n.client.Close(); err == nil {
		err = cerr
	}
	return err
}
