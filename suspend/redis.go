package suspend

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
)

// Redis keys of the RQ layout
const (
	SuspendedKey    = "rq:suspended"
	WorkersKey      = "rq:workers"
	WorkerKeyPrefix = "rq:worker:"
	QueuesKey       = "rq:queues"
	QueueKeyPrefix  = "rq:queue:"
	JobKeyPrefix    = "rq:job:"
)

// DefaultNoopFunc is the dotted path of the job enqueued to wake idle
// workers. It must be importable by the workers and take no arguments.
// frappe.ping is only importable when the workers run a Frappe bench; queues
// served by anything else need WithNoopFunc (config key noop_func) naming a
// function their workers can import. A nudge job the worker cannot import
// still wakes it, but lands in the failed job registry.
const DefaultNoopFunc = "frappe.ping"

// DefaultJobTimeout is the timeout in seconds stored on nudge jobs
const DefaultJobTimeout = 180

// rqTimeFormat is RQ's UTC timestamp layout
const rqTimeFormat = "2006-01-02T15:04:05.000000Z"

// RedisStore implements Store against RQ's Redis layout
type RedisStore struct {
	client     redis.UniversalClient
	noopFunc   string
	jobTimeout int
	now        func() time.Time
}

// StoreOption configures a RedisStore
type StoreOption func(*RedisStore)

// WithNoopFunc sets the function nudge jobs call
func WithNoopFunc(name string) StoreOption {
	return func(s *RedisStore) {
		if name != "" {
			s.noopFunc = name
		}
	}
}

// WithJobTimeout sets the timeout in seconds stored on nudge jobs
func WithJobTimeout(seconds int) StoreOption {
	return func(s *RedisStore) {
		s.jobTimeout = seconds
	}
}

// NewRedisStore wraps an existing client
func NewRedisStore(client redis.UniversalClient, opts ...StoreOption) *RedisStore {
	s := &RedisStore{
		client:     client,
		noopFunc:   DefaultNoopFunc,
		jobTimeout: DefaultJobTimeout,
		now:        time.Now,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Dial connects to the Redis server at url (redis://host:port/db) and
// verifies it answers
func Dial(ctx context.Context, url string, opts ...StoreOption) (*RedisStore, error) {
	if url == "" {
		return nil, ErrNoRedisURL
	}
	o, err := redis.ParseURL(url)
	if err != nil {
		return nil, fmt.Errorf("parse redis url: %w", err)
	}
	client := redis.NewClient(o)
	if err := client.Ping(ctx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("connect to redis %s: %w", o.Addr, err)
	}
	return NewRedisStore(client, opts...), nil
}

// Close closes the underlying client
func (s *RedisStore) Close() error {
	return s.client.Close()
}

func (s *RedisStore) SetSuspended(ctx context.Context) error {
	return s.client.Set(ctx, SuspendedKey, "1", 0).Err()
}

func (s *RedisStore) ClearSuspended(ctx context.Context) (bool, error) {
	n, err := s.client.Del(ctx, SuspendedKey).Result()
	return n > 0, err
}

func (s *RedisStore) IsSuspended(ctx context.Context) (bool, error) {
	n, err := s.client.Exists(ctx, SuspendedKey).Result()
	return n > 0, err
}

// Workers lists the registered workers sorted by name. Registrations whose
// hash has expired are skipped.
func (s *RedisStore) Workers(ctx context.Context) ([]Worker, error) {
	keys, err := s.client.SMembers(ctx, WorkersKey).Result()
	if err != nil {
		return nil, fmt.Errorf("list workers: %w", err)
	}
	if len(keys) == 0 {
		return []Worker{}, nil
	}

	pipe := s.client.Pipeline()
	cmds := make([]*redis.SliceCmd, len(keys))
	for i, key := range keys {
		cmds[i] = pipe.HMGet(ctx, key, "state", "queues")
	}
	if _, err := pipe.Exec(ctx); err != nil && err != redis.Nil {
		return nil, fmt.Errorf("read workers: %w", err)
	}

	workers := make([]Worker, 0, len(keys))
	for i, key := range keys {
		vals := cmds[i].Val()
		if len(vals) != 2 || (vals[0] == nil && vals[1] == nil) {
			continue
		}
		w := Worker{Name: strings.TrimPrefix(key, WorkerKeyPrefix)}
		if state, ok := vals[0].(string); ok {
			w.State = WorkerState(state)
		}
		if queues, ok := vals[1].(string); ok && queues != "" {
			w.Queues = strings.Split(queues, ",")
		}
		workers = append(workers, w)
	}
	sort.Slice(workers, func(i, j int) bool { return workers[i].Name < workers[j].Name })
	return workers, nil
}

// EnqueueNoop pushes a no-op job to the front of queue and returns its id
func (s *RedisStore) EnqueueNoop(ctx context.Context, queue string) (string, error) {
	data, err := jobPayload(s.noopFunc)
	if err != nil {
		return "", err
	}
	id := uuid.NewString()
	now := s.now().UTC().Format(rqTimeFormat)
	queueKey := QueueKeyPrefix + queue

	pipe := s.client.TxPipeline()
	pipe.HSet(ctx, JobKeyPrefix+id, map[string]interface{}{
		"data":        data,
		"origin":      queue,
		"status":      "queued",
		"description": s.noopFunc + "()",
		"created_at":  now,
		"enqueued_at": now,
		"timeout":     s.jobTimeout,
	})
	pipe.SAdd(ctx, QueuesKey, queueKey)
	pipe.LPush(ctx, queueKey, id)
	if _, err := pipe.Exec(ctx); err != nil {
		return "", fmt.Errorf("enqueue noop to %s: %w", queue, err)
	}
	return id, nil
}
