package store

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net"
	"strings"
	"sync"

	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
)

// RedisStore keeps documents as Redis strings.  Transactions use
// WATCH/MULTI/EXEC and every committed write publishes a change message
// on a per-path channel in the same MULTI block.
//
// Key patterns:
//  {ns}doc:{path}  STRING  document body
//  {ns}chg:{path}  CHANNEL change notifications for path
type RedisStore struct {
	client *redis.Client
	ns     string
	log    zerolog.Logger
}

// NewRedisStore wraps client.  namespace prefixes every key and channel so
// several deployments can share one Redis.
func NewRedisStore(client *redis.Client, namespace string, log zerolog.Logger) *RedisStore {
	return &RedisStore{client: client, ns: namespace, log: log}
}

func (s *RedisStore) docKey(path string) string { return s.ns + "doc:" + path }

func (s *RedisStore) changeChannel(path string) string { return s.ns + "chg:" + path }

func (s *RedisStore) Read(ctx context.Context, path string) ([]byte, error) {
	v, err := s.client.Get(ctx, s.docKey(path)).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, classifyRedis(err)
	}
	return v, nil
}

func (s *RedisStore) List(ctx context.Context, prefix string) (map[string][]byte, error) {
	docs := make(map[string][]byte)
	match := s.docKey(escapeGlob(prefix)) + "*"
	var cursor uint64
	for {
		keys, next, err := s.client.Scan(ctx, cursor, match, 200).Result()
		if err != nil {
			return nil, classifyRedis(err)
		}
		if len(keys) > 0 {
			vals, err := s.client.MGet(ctx, keys...).Result()
			if err != nil {
				return nil, classifyRedis(err)
			}
			for i, v := range vals {
				str, ok := v.(string)
				if !ok {
					continue // deleted between SCAN and MGET
				}
				docs[strings.TrimPrefix(keys[i], s.docKey(""))] = []byte(str)
			}
		}
		cursor = next
		if cursor == 0 {
			return docs, nil
		}
	}
}

func (s *RedisStore) TransactionalUpdate(ctx context.Context, path string, fn UpdateFunc) (TxResult, error) {
	key := s.docKey(path)
	for {
		if err := ctx.Err(); err != nil {
			return TxResult{}, unavailable(err)
		}
		var (
			res   TxResult
			fnErr error
		)
		err := s.client.Watch(ctx, func(tx *redis.Tx) error {
			current, err := tx.Get(ctx, key).Bytes()
			if errors.Is(err, redis.Nil) {
				current = nil
			} else if err != nil {
				return err
			}
			next, err := fn(current)
			if errors.Is(err, ErrAborted) {
				res = TxResult{Value: current}
				return nil
			}
			if err != nil {
				fnErr = err
				return err
			}
			msg, err := encodeChange(path, next)
			if err != nil {
				return err
			}
			_, err = tx.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
				pipe.Set(ctx, key, next, 0)
				pipe.Publish(ctx, s.changeChannel(path), msg)
				return nil
			})
			if err != nil {
				return err
			}
			res = TxResult{Committed: true, Value: next}
			return nil
		}, key)
		if errors.Is(err, redis.TxFailedErr) {
			continue
		}
		if fnErr != nil {
			return TxResult{}, fnErr
		}
		if err != nil {
			return TxResult{}, classifyRedis(err)
		}
		return res, nil
	}
}

func (s *RedisStore) AtomicMultiWrite(ctx context.Context, writes map[string][]byte) error {
	msgs := make(map[string][]byte, len(writes))
	for path, v := range writes {
		msg, err := encodeChange(path, v)
		if err != nil {
			return err
		}
		msgs[path] = msg
	}
	_, err := s.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		for path, v := range writes {
			pipe.Set(ctx, s.docKey(path), v, 0)
		}
		for path, msg := range msgs {
			pipe.Publish(ctx, s.changeChannel(path), msg)
		}
		return nil
	})
	if err != nil {
		return classifyRedis(err)
	}
	return nil
}

// Subscribe pattern-subscribes to the change channels under prefix.  The
// call returns once Redis has confirmed the subscription.
func (s *RedisStore) Subscribe(ctx context.Context, prefix string, onChange func(Change)) (Unsubscribe, error) {
	ps := s.client.PSubscribe(ctx, s.changeChannel(escapeGlob(prefix))+"*")
	if _, err := ps.Receive(ctx); err != nil {
		_ = ps.Close()
		return nil, classifyRedis(err)
	}
	done := make(chan struct{})
	go func() {
		defer close(done)
		for msg := range ps.Channel() {
			var ch Change
			if err := json.Unmarshal([]byte(msg.Payload), &ch); err != nil {
				s.log.Warn().Err(err).Str("channel", msg.Channel).Msg("dropping malformed change message")
				continue
			}
			onChange(ch)
		}
	}()
	var once sync.Once
	return func() {
		once.Do(func() {
			_ = ps.Close()
			<-done
		})
	}, nil
}

// Close is a no-op: the Redis client is shared with the rate limiter and
// response cache and is closed by its owner.
func (s *RedisStore) Close() error { return nil }

func encodeChange(path string, v []byte) ([]byte, error) {
	return json.Marshal(Change{Path: path, Value: v})
}

func classifyRedis(err error) error {
	if strings.HasPrefix(err.Error(), "NOPERM") {
		return denied(err)
	}
	var netErr net.Error
	if errors.As(err, &netErr) || errors.Is(err, io.EOF) || errors.Is(err, redis.ErrClosed) ||
		errors.Is(err, context.DeadlineExceeded) || errors.Is(err, context.Canceled) {
		return unavailable(err)
	}
	return err
}

// escapeGlob quotes the characters Redis treats specially in MATCH and
// PSUBSCRIBE patterns.
func escapeGlob(s string) string {
	var b strings.Builder
	for _, r := range s {
		switch r {
		case '*', '?', '[', ']', '\\':
			b.WriteByte('\\')
		}
		b.WriteRune(r)
	}
	return b.String()
}
