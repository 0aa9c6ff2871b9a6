package bus

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	redis "github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

// Redis carries messages between server processes over a pub/sub channel.
// Messages received from the channel, including this process's own, are
// fanned out to local subscribers through a Local bus.
type Redis struct {
	client  *redis.Client
	pubsub  *redis.PubSub
	channel string
	local   *Local
	log     *zap.Logger

	closeOnce sync.Once
	done      chan struct{}
}

func NewRedis(ctx context.Context, url, channel string, buffer int, log *zap.Logger) (*Redis, error) {
	if url == "" {
		return nil, errors.New("redis bus: url is not set")
	}
	if channel == "" {
		return nil, errors.New("redis bus: channel is not set")
	}
	opt, err := redis.ParseURL(url)
	if err != nil {
		return nil, fmt.Errorf("redis bus: parse url: %w", err)
	}
	if log == nil {
		log = zap.NewNop()
	}
	client := redis.NewClient(opt)

	pingCtx, cancel := context.WithTimeout(ctx, 3*time.Second)
	defer cancel()
	if err := client.Ping(pingCtx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("redis bus: ping: %w", err)
	}

	b := &Redis{
		client:  client,
		pubsub:  client.Subscribe(ctx, channel),
		channel: channel,
		local:   NewLocal(buffer, log),
		log:     log,
		done:    make(chan struct{}),
	}
	go b.listen()
	return b, nil
}

func (b *Redis) Publish(ctx context.Context, m Message) error {
	payload, err := Encode(m)
	if err != nil {
		return err
	}
	if err := b.client.Publish(ctx, b.channel, payload).Err(); err != nil {
		return fmt.Errorf("redis bus: publish: %w", err)
	}
	return nil
}

func (b *Redis) Subscribe(h Handler) func() {
	return b.local.Subscribe(h)
}

func (b *Redis) Enabled() bool { return true }

func (b *Redis) Close() error {
	var err error
	b.closeOnce.Do(func() {
		close(b.done)
		_ = b.pubsub.Close()
		_ = b.local.Close()
		err = b.client.Close()
	})
	return err
}

func (b *Redis) listen() {
	ch := b.pubsub.Channel()
	for {
		select {
		case <-b.done:
			return
		case msg, ok := <-ch:
			if !ok {
				return
			}
			m, err := Decode([]byte(msg.Payload))
			if err != nil {
				b.log.Debug("ignoring bus payload", zap.Error(err))
				continue
			}
			b.local.dispatch(m)
		}
	}
}
