package store

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	redis "github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

const (
	redisKeyPrefix     = "livedesk:record:"
	redisChangeChannel = "livedesk:record-changes"
	redisUpdateRetries = 16
)

// Redis shares records between server processes. Writes publish the changed
// key on a pub/sub channel so subscribers in every process see them.
type Redis struct {
	client   *redis.Client
	pubsub   *redis.PubSub
	watchers *watchers
	log      *zap.Logger

	closeOnce sync.Once
	done      chan struct{}
}

func NewRedis(ctx context.Context, url string, log *zap.Logger) (*Redis, error) {
	if url == "" {
		return nil, errors.New("redis store: url is not set")
	}
	opt, err := redis.ParseURL(url)
	if err != nil {
		return nil, fmt.Errorf("redis store: parse url: %w", err)
	}
	if log == nil {
		log = zap.NewNop()
	}
	client := redis.NewClient(opt)

	pingCtx, cancel := context.WithTimeout(ctx, 3*time.Second)
	defer cancel()
	if err := client.Ping(pingCtx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("redis store: ping: %w", err)
	}

	r := &Redis{
		client:   client,
		pubsub:   client.Subscribe(ctx, redisChangeChannel),
		watchers: newWatchers(),
		log:      log,
		done:     make(chan struct{}),
	}
	go r.listen()
	return r, nil
}

func (r *Redis) Get(ctx context.Context, key string) ([]byte, error) {
	value, err := r.client.Get(ctx, redisKeyPrefix+key).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, ErrMiss
	}
	if err != nil {
		return nil, fmt.Errorf("redis store: get %q: %w", key, err)
	}
	return value, nil
}

func (r *Redis) Set(ctx context.Context, key string, value []byte) error {
	if err := r.client.Set(ctx, redisKeyPrefix+key, value, 0).Err(); err != nil {
		return fmt.Errorf("redis store: set %q: %w", key, err)
	}
	r.announce(ctx, key)
	return nil
}

func (r *Redis) Delete(ctx context.Context, key string) error {
	n, err := r.client.Del(ctx, redisKeyPrefix+key).Result()
	if err != nil {
		return fmt.Errorf("redis store: delete %q: %w", key, err)
	}
	if n > 0 {
		r.announce(ctx, key)
	}
	return nil
}

// Update uses WATCH/MULTI and retries when another writer touched the key.
func (r *Redis) Update(ctx context.Context, key string, fn UpdateFunc) error {
	fullKey := redisKeyPrefix + key
	changed := false

	txf := func(tx *redis.Tx) error {
		current, err := tx.Get(ctx, fullKey).Bytes()
		existed := true
		if errors.Is(err, redis.Nil) {
			current, existed = nil, false
		} else if err != nil {
			return err
		}

		next, err := fn(current)
		if err != nil {
			return err
		}
		if next == nil && !existed {
			changed = false
			return nil
		}

		_, err = tx.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
			if next == nil {
				pipe.Del(ctx, fullKey)
			} else {
				pipe.Set(ctx, fullKey, next, 0)
			}
			return nil
		})
		changed = err == nil
		return err
	}

	for i := 0; i < redisUpdateRetries; i++ {
		err := r.client.Watch(ctx, txf, fullKey)
		if errors.Is(err, redis.TxFailedErr) {
			continue
		}
		if err != nil {
			return fmt.Errorf("redis store: update %q: %w", key, err)
		}
		if changed {
			r.announce(ctx, key)
		}
		return nil
	}
	return fmt.Errorf("redis store: update %q: too much contention", key)
}

func (r *Redis) Subscribe(key string, fn func([]byte)) func() {
	return r.watchers.add(key, fn)
}

func (r *Redis) Close() error {
	var err error
	r.closeOnce.Do(func() {
		close(r.done)
		_ = r.pubsub.Close()
		err = r.client.Close()
	})
	return err
}

func (r *Redis) announce(ctx context.Context, key string) {
	if err := r.client.Publish(ctx, redisChangeChannel, key).Err(); err != nil {
		r.log.Warn("failed to announce record change", zap.String("key", key), zap.Error(err))
	}
}

func (r *Redis) listen() {
	ch := r.pubsub.Channel()
	for {
		select {
		case <-r.done:
			return
		case msg, ok := <-ch:
			if !ok {
				return
			}
			r.deliver(msg.Payload)
		}
	}
}

func (r *Redis) deliver(key string) {
	ctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
	defer cancel()

	value, err := r.Get(ctx, key)
	if errors.Is(err, ErrMiss) {
		value = nil
	} else if err != nil {
		r.log.Warn("failed to read changed record", zap.String("key", key), zap.Error(err))
		return
	}
	r.watchers.notify(key, value)
}
